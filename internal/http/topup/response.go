package topup

import (
	"fmt"
	"net/http"
	"time"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"

	"github.com/xstbot/topup/internal/topup"
)

type errorResponse struct {
	Error       string `json:"error"`
	Status      string `json:"status,omitempty"`
	WaitSeconds int64  `json:"wait_seconds,omitempty"`
	RetryAfter  int64  `json:"retry_after,omitempty"`
}

type createResponse struct {
	ID           string    `json:"id"`
	QRIS         string    `json:"qris"`
	ExpiresAt    time.Time `json:"expires_at"`
	ExpiresIn    int64     `json:"expires_in"`
	Amount       int64     `json:"amount"`
	Suffix       int64     `json:"suffix"`
	Total        int64     `json:"total"`
	Note         string    `json:"note"`
	Status       string    `json:"status"`
	ExpiryStatus string    `json:"expiry_status"`
}

type statusResponse struct {
	Status         string           `json:"status"`
	ExpiresIn      int64            `json:"expires_in"`
	ExpiryStatus   string           `json:"expiry_status,omitempty"`
	PaymentDetails *paymentResponse `json:"payment_details,omitempty"`
}

type paymentResponse struct {
	PaymentID     string    `json:"payment_id"`
	PaymentTime   time.Time `json:"payment_time"`
	PaymentMethod string    `json:"payment_method"`
	Amount        int64     `json:"amount"`
	Total         int64     `json:"total"`
	Suffix        int64     `json:"suffix"`
}

var notePrinter = message.NewPrinter(language.Indonesian)

func toCreateResponse(tx topup.Transaction, r *http.Request, expireSoonWithin time.Duration) createResponse {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}

	remaining := time.Until(tx.ExpiresAt)

	expiryStatus := "active"
	if remaining <= expireSoonWithin {
		expiryStatus = "expires_soon"
	}

	return createResponse{
		ID:           tx.ID,
		QRIS:         fmt.Sprintf("%s://%s/qris/%s.png", scheme, r.Host, tx.ArtifactID),
		ExpiresAt:    tx.ExpiresAt,
		ExpiresIn:    int64(remaining / time.Second),
		Amount:       tx.OriginalAmount,
		Suffix:       tx.Suffix,
		Total:        tx.TotalAmount,
		Note:         notePrinter.Sprintf("Please transfer exactly %v for automatic verification", number.Decimal(tx.TotalAmount)),
		Status:       string(tx.Status),
		ExpiryStatus: expiryStatus,
	}
}

func toStatusResponse(res topup.StatusResult) statusResponse {
	out := statusResponse{
		Status:    string(res.Transaction.Status),
		ExpiresIn: res.RemainingSeconds,
	}

	switch res.Transaction.Status {
	case topup.StatusPending:
		out.ExpiryStatus = "active"
		if res.ExpiresSoon {
			out.ExpiryStatus = "expires_soon"
		}
	case topup.StatusPaid:
		p := res.Transaction.Payment
		out.PaymentDetails = &paymentResponse{
			PaymentID:     p.ExternalID,
			PaymentTime:   p.PaidAt,
			PaymentMethod: p.Method,
			Amount:        res.Transaction.OriginalAmount,
			Total:         res.Transaction.TotalAmount,
			Suffix:        res.Transaction.Suffix,
		}
	case topup.StatusExpired:
	}

	return out
}
