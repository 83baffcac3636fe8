package payment

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Status represents payment intent status.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusConfirmed Status = "CONFIRMED"
	StatusFailed    Status = "FAILED"
)

var (
	ErrInvalidTransition      = errors.New("invalid payment intent transition")
	ErrInitiationFailed       = errors.New("payment initiation failed")
	ErrIntentNotFound         = errors.New("payment intent not found")
	ErrDuplicatePendingIntent = errors.New("submission already has a pending payment intent")
	ErrInvalidAmount          = errors.New("payment amount must be positive")
)

// Intent is a tracked request to the external payment processor.
type Intent struct {
	ID                   uuid.UUID  `json:"id"`
	SubmissionID         uuid.UUID  `json:"submissionId"`
	ExternalID           string     `json:"externalId"`
	Amount               int64      `json:"amount"`
	Currency             string     `json:"currency"`
	Status               Status     `json:"status"`
	AwaitingConfirmation bool       `json:"awaitingConfirmation"`
	FailureReason        *string    `json:"failureReason,omitempty"`
	CreatedAt            time.Time  `json:"createdAt"`
	UpdatedAt            time.Time  `json:"updatedAt"`
	ConfirmedAt          *time.Time `json:"confirmedAt,omitempty"`
}

// NewIntent creates a pending intent for a submission.
func NewIntent(submissionID uuid.UUID, externalID string, amount int64, currency string) *Intent {
	now := time.Now().UTC()
	return &Intent{
		ID:           uuid.New(),
		SubmissionID: submissionID,
		ExternalID:   externalID,
		Amount:       amount,
		Currency:     currency,
		Status:       StatusPending,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// CanTransitionTo validates intent status transition.
func (i *Intent) CanTransitionTo(target Status) bool {
	transitions := map[Status][]Status{
		StatusPending:   {StatusConfirmed, StatusFailed},
		StatusConfirmed: {},
		StatusFailed:    {},
	}
	for _, s := range transitions[i.Status] {
		if s == target {
			return true
		}
	}
	return false
}

// MarkAwaitingConfirmation flags a pending intent as being in checkout.
func (i *Intent) MarkAwaitingConfirmation() error {
	if i.Status != StatusPending {
		return ErrInvalidTransition
	}
	i.AwaitingConfirmation = true
	i.UpdatedAt = time.Now().UTC()
	return nil
}

// Confirm marks the intent as paid.
func (i *Intent) Confirm() error {
	if !i.CanTransitionTo(StatusConfirmed) {
		return ErrInvalidTransition
	}
	now := time.Now().UTC()
	i.Status = StatusConfirmed
	i.AwaitingConfirmation = false
	i.ConfirmedAt = &now
	i.UpdatedAt = now
	return nil
}

// Fail marks the intent as failed at the processor.
func (i *Intent) Fail(reason string) error {
	if !i.CanTransitionTo(StatusFailed) {
		return ErrInvalidTransition
	}
	i.Status = StatusFailed
	i.AwaitingConfirmation = false
	i.FailureReason = &reason
	i.UpdatedAt = time.Now().UTC()
	return nil
}
