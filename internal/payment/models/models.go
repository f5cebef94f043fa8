package models

import (
	"strings"

	dErrors "expedients/pkg/domain-errors"
)

// MethodType identifies how a payment is made.
type MethodType string

const (
	MethodCreditCard   MethodType = "credit_card"
	MethodDebitCard    MethodType = "debit_card"
	MethodBankTransfer MethodType = "bank_transfer"
)

func (t MethodType) IsValid() bool {
	switch t {
	case MethodCreditCard, MethodDebitCard, MethodBankTransfer:
		return true
	}
	return false
}

// Method carries the payment instrument. Card or account fields are passed
// through to the gateway untouched.
type Method struct {
	Type          MethodType `json:"type"`
	CardNumber    string     `json:"cardNumber,omitempty"`
	ExpiryDate    string     `json:"expiryDate,omitempty"`
	CVV           string     `json:"cvv,omitempty"`
	AccountNumber string     `json:"accountNumber,omitempty"`
}

// PayInput is a validated payment request for one expedient.
type PayInput struct {
	ExpedientID string
	Amount      float64
	Currency    string
	Method      Method
}

// NewPayInput validates presence and ranges before any use case runs.
func NewPayInput(expedientID string, amount float64, currency string, method *Method) (PayInput, error) {
	if strings.TrimSpace(expedientID) == "" {
		return PayInput{}, dErrors.New(dErrors.CodeValidation, "Expedient ID is required")
	}
	if amount <= 0 {
		return PayInput{}, dErrors.New(dErrors.CodeValidation, "Amount must be greater than 0")
	}
	currency = strings.TrimSpace(currency)
	if currency == "" {
		return PayInput{}, dErrors.New(dErrors.CodeValidation, "Currency is required")
	}
	if method == nil || method.Type == "" {
		return PayInput{}, dErrors.New(dErrors.CodeValidation, "Payment method is required")
	}
	if !method.Type.IsValid() {
		return PayInput{}, dErrors.New(dErrors.CodeValidation,
			"Payment method type must be one of credit_card, debit_card, bank_transfer")
	}
	return PayInput{
		ExpedientID: expedientID,
		Amount:      amount,
		Currency:    strings.ToUpper(currency),
		Method:      *method,
	}, nil
}

// Result is the gateway outcome returned to the caller.
type Result struct {
	Success       bool   `json:"success"`
	TransactionID string `json:"transactionId,omitempty"`
	ErrorMessage  string `json:"errorMessage,omitempty"`
}

// PaymentSucceeded is the payload of payment.success.
type PaymentSucceeded struct {
	ExpedientID   string  `json:"expedientId"`
	Amount        float64 `json:"amount"`
	Currency      string  `json:"currency"`
	TransactionID string  `json:"transactionId"`
}

// PaymentFailed is the payload of payment.failure.
type PaymentFailed struct {
	ExpedientID  string  `json:"expedientId"`
	Amount       float64 `json:"amount"`
	Currency     string  `json:"currency"`
	ErrorMessage string  `json:"errorMessage"`
}
