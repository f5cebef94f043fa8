package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"expedients/internal/payment/models"
	"expedients/pkg/platform/httputil"
	"expedients/pkg/requestcontext"
)

// Service defines the payment operations exposed over HTTP.
type Service interface {
	Pay(ctx context.Context, in models.PayInput) (models.Result, error)
}

// Handler wires payment endpoints to the payment service.
type Handler struct {
	service Service
	logger  *slog.Logger
}

func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{
		service: service,
		logger:  logger,
	}
}

// Register mounts payment endpoints on the router.
func (h *Handler) Register(r chi.Router) {
	r.Post("/payments/expedients/{expedientId}", h.HandlePay)
}

// HandlePay handles POST /payments/expedients/{expedientId}. A declined
// payment is still a 200; the body carries success=false.
func (h *Handler) HandlePay(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	req, ok := httputil.DecodeAndPrepare[PayRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	in, err := models.NewPayInput(chi.URLParam(r, "expedientId"), req.Amount, req.Currency, req.PaymentMethod)
	if err != nil {
		h.logger.WarnContext(ctx, "invalid payment request",
			"request_id", requestID,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}

	result, err := h.service.Pay(ctx, in)
	if err != nil {
		h.logger.ErrorContext(ctx, "payment failed",
			"request_id", requestID,
			"expedient_id", in.ExpedientID,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, result)
}
