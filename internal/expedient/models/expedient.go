package models

import (
	"time"

	dErrors "expedients/pkg/domain-errors"
)

// Expedient is the aggregate root for a case record.
//
// Invariants:
//   - ID is non-empty and never changes
//   - Title and Description are non-empty for the record's lifetime
//   - CreatedAt is set once at construction
//   - UpdatedAt strictly increases on every mutation
//   - Status follows the transitions documented on Status
//
// Completed is orthogonal to Status.
type Expedient struct {
	ID          string
	Title       string
	Description string
	Completed   bool
	Status      Status
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Changes carries the optional fields of an update. Nil fields are left as-is.
type Changes struct {
	Title       *string
	Description *string
	Completed   *bool
}

// IsEmpty reports whether no field was supplied.
func (c Changes) IsEmpty() bool {
	return c.Title == nil && c.Description == nil && c.Completed == nil
}

// NewExpedient builds a fresh expedient in the CREATED state.
func NewExpedient(id, title, description string, now time.Time) (*Expedient, error) {
	if id == "" {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "expedient id cannot be empty")
	}
	if title == "" || description == "" {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "title and description are required")
	}
	return &Expedient{
		ID:          id,
		Title:       title,
		Description: description,
		Status:      StatusCreated,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// Rehydrate reconstructs an expedient from storage, checking the same
// invariants as NewExpedient.
func Rehydrate(id, title, description string, completed bool, status Status, createdAt, updatedAt time.Time) (*Expedient, error) {
	e, err := NewExpedient(id, title, description, createdAt)
	if err != nil {
		return nil, err
	}
	if !status.IsValid() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "invalid status: "+string(status))
	}
	if updatedAt.Before(createdAt) {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "updatedAt precedes createdAt")
	}
	e.Completed = completed
	e.Status = status
	e.UpdatedAt = updatedAt
	return e, nil
}

// Clone returns an independent copy.
func (e *Expedient) Clone() *Expedient {
	c := *e
	return &c
}

// Update applies the supplied fields. Empty title or description is rejected
// and leaves the expedient untouched.
func (e *Expedient) Update(c Changes, now time.Time) error {
	if c.Title != nil && *c.Title == "" {
		return dErrors.New(dErrors.CodeInvariantViolation, "title cannot be empty")
	}
	if c.Description != nil && *c.Description == "" {
		return dErrors.New(dErrors.CodeInvariantViolation, "description cannot be empty")
	}
	if c.Title != nil {
		e.Title = *c.Title
	}
	if c.Description != nil {
		e.Description = *c.Description
	}
	if c.Completed != nil {
		e.Completed = *c.Completed
	}
	e.touch(now)
	return nil
}

// Complete marks the expedient completed. Completing twice is allowed.
func (e *Expedient) Complete(now time.Time) {
	e.Completed = true
	e.touch(now)
}

// Uncomplete reverts Complete.
func (e *Expedient) Uncomplete(now time.Time) error {
	if !e.Completed {
		return dErrors.New(dErrors.CodeInvariantViolation, "expedient is not completed")
	}
	e.Completed = false
	e.touch(now)
	return nil
}

// CanTransitionTo checks the status machine without mutating.
func (e *Expedient) CanTransitionTo(next Status) error {
	if !e.Status.CanTransitionTo(next) {
		return dErrors.New(dErrors.CodeInvariantViolation,
			"cannot transition expedient from "+e.Status.String()+" to "+next.String())
	}
	return nil
}

// Pay records a successful payment.
func (e *Expedient) Pay(now time.Time) error {
	return e.transition(StatusPaymentSuccess, now)
}

// FailPayment records a declined payment.
func (e *Expedient) FailPayment(now time.Time) error {
	return e.transition(StatusPaymentFailed, now)
}

func (e *Expedient) transition(next Status, now time.Time) error {
	if err := e.CanTransitionTo(next); err != nil {
		return err
	}
	e.Status = next
	e.touch(now)
	return nil
}

// touch advances UpdatedAt, nudging it forward by 1ns when the clock has not
// moved past the previous value.
func (e *Expedient) touch(now time.Time) {
	if !now.After(e.UpdatedAt) {
		now = e.UpdatedAt.Add(time.Nanosecond)
	}
	e.UpdatedAt = now
}

// Snapshot projects the expedient into its serialisable form.
func (e *Expedient) Snapshot() Snapshot {
	return Snapshot{
		ID:          e.ID,
		Title:       e.Title,
		Description: e.Description,
		Completed:   e.Completed,
		Status:      e.Status,
		CreatedAt:   e.CreatedAt,
		UpdatedAt:   e.UpdatedAt,
	}
}

// Snapshot is the read model returned by use cases and carried by events.
type Snapshot struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Completed   bool      `json:"completed"`
	Status      Status    `json:"status"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}
