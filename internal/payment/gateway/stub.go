// Package gateway holds payment gateway adapters.
package gateway

import (
	"context"

	"github.com/google/uuid"

	"expedients/internal/payment/models"
)

const declinedMessage = "Payment declined. Insufficient funds."

// Stub approves every payment up to a threshold and declines the rest. It
// is deterministic so local runs and tests can choose the outcome by amount.
type Stub struct {
	declineAbove float64
}

// NewStub returns a stub that declines amounts strictly greater than
// declineAbove. Zero or negative approves everything.
func NewStub(declineAbove float64) *Stub {
	return &Stub{declineAbove: declineAbove}
}

func (s *Stub) ProcessPayment(_ context.Context, amount float64, _ string, _ models.Method) (models.Result, error) {
	if s.declineAbove > 0 && amount > s.declineAbove {
		return models.Result{Success: false, ErrorMessage: declinedMessage}, nil
	}
	return models.Result{Success: true, TransactionID: "txn_" + uuid.NewString()}, nil
}
