package payment

//go:generate go run go.uber.org/mock/mockgen -destination=mocks/mock_payment.go -package=mocks . Repository,Processor

import (
	"context"

	"github.com/google/uuid"
)

// Repository defines persistence for payment intents.
// Create must reject a second PENDING intent for the same submission with ErrDuplicatePendingIntent.
// Lookups return nil, nil when nothing matches.
type Repository interface {
	Create(ctx context.Context, intent *Intent) error
	Update(ctx context.Context, intent *Intent) error
	GetByID(ctx context.Context, intentID uuid.UUID) (*Intent, error)
	GetByExternalID(ctx context.Context, externalID string) (*Intent, error)
	GetPendingBySubmission(ctx context.Context, submissionID uuid.UUID) (*Intent, error)
	ListBySubmission(ctx context.Context, submissionID uuid.UUID) ([]*Intent, error)
}

// Processor is the external payment processor.
type Processor interface {
	// CreateIntent registers an intent and returns the processor's identifier.
	// idempotencyKey must make repeated calls for the same submission return the same intent.
	CreateIntent(ctx context.Context, amount int64, currency, idempotencyKey string, metadata map[string]string) (string, error)
}
