package topup

import (
	"fmt"
	"time"
)

// Status represents the lifecycle state of a top-up transaction.
// Transitions are monotonic: pending goes to paid or expired and
// never changes again.
type Status string

const (
	StatusPending Status = "pending"
	StatusPaid    Status = "paid"
	StatusExpired Status = "expired"
)

// PaymentDetails describes the settlement record that satisfied a
// transaction.
type PaymentDetails struct {
	ExternalID string
	PaidAt     time.Time
	Method     string
}

// Transaction represents one incoming payment request. The requested
// amount is perturbed by a small random suffix so concurrent requests
// against the shared channel can be told apart by amount alone.
type Transaction struct {
	ID             string
	OwnerID        string
	OriginalAmount int64
	Suffix         int64
	TotalAmount    int64
	ArtifactID     string
	CreatedAt      time.Time
	ExpiresAt      time.Time
	Status         Status
	Payment        *PaymentDetails
}

// dayBucket returns the UTC-midnight-aligned window containing t.
// Suffix uniqueness and id sequences are scoped to this window so the
// small suffix space can be reused daily.
func dayBucket(t time.Time) time.Time {
	return t.UTC().Truncate(24 * time.Hour)
}

// dayKey formats the bucket as YYYYMMDD for use as an id prefix and
// counter key.
func dayKey(t time.Time) string {
	return t.UTC().Format("20060102")
}

func formatID(bucket time.Time, seq int) string {
	return fmt.Sprintf("%s%04d", dayKey(bucket), seq)
}
