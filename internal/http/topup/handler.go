package topup

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/xstbot/topup/internal/topup"
)

// Artifacts resolves artifact ids to files on disk.
type Artifacts interface {
	Path(id string) (string, error)
}

type Handler struct {
	svc              *topup.Service
	artifacts        Artifacts
	expireSoonWithin time.Duration
}

func NewHandler(svc *topup.Service, artifacts Artifacts, expireSoonWithin time.Duration) *Handler {
	return &Handler{svc: svc, artifacts: artifacts, expireSoonWithin: expireSoonWithin}
}

func (h *Handler) Routes(r chi.Router) {
	r.Post("/api/topup", h.create)
	r.Get("/api/check-payment/{id}", h.check)
	r.Get("/qris/{artifact}", h.artifact)
}

type createRequest struct {
	Amount  int64  `json:"amount"`
	OwnerID string `json:"owner_id"`
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}

	tx, err := h.svc.Create(r.Context(), req.Amount, req.OwnerID)
	if err != nil {
		h.writeCreateError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toCreateResponse(tx, r, h.expireSoonWithin))
}

func (h *Handler) writeCreateError(w http.ResponseWriter, err error) {
	var (
		validation *topup.ValidationError
		capacity   *topup.CapacityError
		exhausted  *topup.SuffixExhaustedError
	)

	switch {
	case errors.As(err, &validation):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: validation.Error()})
	case errors.As(err, &capacity):
		writeJSON(w, http.StatusTooManyRequests, errorResponse{
			Error:       capacity.Error(),
			WaitSeconds: capacity.WaitSeconds,
		})
	case errors.As(err, &exhausted):
		writeJSON(w, http.StatusTooManyRequests, errorResponse{
			Error:      "system busy, no unique amount available",
			RetryAfter: 30,
		})
	default:
		slog.Error("failed to create transaction", "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "failed to generate QRIS"})
	}
}

func (h *Handler) check(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.CheckStatus(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		var upstream *topup.UpstreamError

		switch {
		case errors.Is(err, topup.ErrNotFound):
			writeJSON(w, http.StatusNotFound, errorResponse{
				Error:  "transaction not found or already processed",
				Status: "invalid",
			})
		case errors.As(err, &upstream):
			slog.Error("failed to check payment", "error", err)
			writeJSON(w, http.StatusBadGateway, errorResponse{Error: "failed to check payment status"})
		default:
			slog.Error("failed to check payment", "error", err)
			writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "failed to check payment status"})
		}

		return
	}

	writeJSON(w, http.StatusOK, toStatusResponse(res))
}

func (h *Handler) artifact(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimSuffix(chi.URLParam(r, "artifact"), ".png")

	path, err := h.artifacts.Path(name)
	if err != nil {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "QR code not found"})
		return
	}

	http.ServeFile(w, r, path)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(payload); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}
