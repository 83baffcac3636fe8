package submission

import (
	"context"

	"github.com/google/uuid"

	"github.com/brandmarket/submission-hub/internal/domain/revision"
)

// Repository defines persistence for submissions and their review history.
// Conditional writes must be atomic with respect to Version.
type Repository interface {
	Create(ctx context.Context, s *Submission) error
	Get(ctx context.Context, id uuid.UUID) (*Submission, error)
	ListByStatus(ctx context.Context, status Status, limit int) ([]*Submission, error)

	// PutIfVersion stores s when the stored version equals expectedVersion and
	// sets s.Version to expectedVersion+1. A mismatch yields ErrConcurrentModification.
	PutIfVersion(ctx context.Context, s *Submission, expectedVersion int64) error
	// PutWithReview is PutIfVersion plus AppendReview in one atomic write.
	PutWithReview(ctx context.Context, s *Submission, expectedVersion int64, record *revision.ReviewRecord) error

	AppendReview(ctx context.Context, record *revision.ReviewRecord) error
	ListReviews(ctx context.Context, submissionID uuid.UUID) ([]*revision.ReviewRecord, error)
}
