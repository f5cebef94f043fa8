package eventbus

// Event names published inside the process.
const (
	ExpedientCreated = "expedient.created"
	ExpedientUpdated = "expedient.updated"
	ExpedientDeleted = "expedient.deleted"

	PaymentSucceeded = "payment.success"
	PaymentFailed    = "payment.failure"

	// Published after the payment outcome is applied. No subscriber yet.
	ExpedientPaymentSucceeded = "expedient.payment.success"
	ExpedientPaymentFailed    = "expedient.payment.failure"
)

// ExpedientLifecycle lists the events carrying an expedient snapshot that
// notification channels care about.
var ExpedientLifecycle = []string{ExpedientCreated, ExpedientUpdated, ExpedientDeleted}
