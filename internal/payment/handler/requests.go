package handler

import (
	"strings"

	"expedients/internal/payment/models"
)

// PayRequest is the HTTP body for POST /payments/expedients/{expedientId}.
// Field checks live in models.NewPayInput since they need the path id too.
type PayRequest struct {
	Amount        float64        `json:"amount"`
	Currency      string         `json:"currency"`
	PaymentMethod *models.Method `json:"paymentMethod"`
}

// Normalize implements httputil.Normalizer.
func (r *PayRequest) Normalize() {
	r.Currency = strings.TrimSpace(r.Currency)
	if r.PaymentMethod != nil {
		r.PaymentMethod.Type = models.MethodType(strings.TrimSpace(string(r.PaymentMethod.Type)))
	}
}
