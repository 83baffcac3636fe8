package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/brandmarket/submission-hub/internal/domain/payment"
	"github.com/brandmarket/submission-hub/internal/domain/revision"
	"github.com/brandmarket/submission-hub/internal/domain/submission"
)

// SubmissionStore is an in-process submission.Repository.
// Records are copied on the way in and out so callers never share state with the store.
type SubmissionStore struct {
	mu sync.RWMutex

	submissions map[uuid.UUID]*submission.Submission
	reviews     map[uuid.UUID][]*revision.ReviewRecord
}

func NewSubmissionStore() *SubmissionStore {
	return &SubmissionStore{
		submissions: make(map[uuid.UUID]*submission.Submission),
		reviews:     make(map[uuid.UUID][]*revision.ReviewRecord),
	}
}

func (s *SubmissionStore) Create(_ context.Context, sub *submission.Submission) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.submissions[sub.ID]; exists {
		return submission.Validationf("submission %s already exists", sub.ID)
	}
	sub.Version = 1
	s.submissions[sub.ID] = sub.Clone()
	return nil
}

func (s *SubmissionStore) Get(_ context.Context, id uuid.UUID) (*submission.Submission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	item, ok := s.submissions[id]
	if !ok {
		return nil, nil
	}
	return item.Clone(), nil
}

func (s *SubmissionStore) ListByStatus(_ context.Context, status submission.Status, limit int) ([]*submission.Submission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	items := make([]*submission.Submission, 0)
	for _, item := range s.submissions {
		if item.Status == status {
			items = append(items, item.Clone())
		}
	}
	sort.Slice(items, func(i, j int) bool {
		return items[i].UpdatedAt.Before(items[j].UpdatedAt)
	})
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

func (s *SubmissionStore) PutIfVersion(_ context.Context, sub *submission.Submission, expectedVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkVersion(sub.ID, expectedVersion); err != nil {
		return err
	}
	sub.Version = expectedVersion + 1
	s.submissions[sub.ID] = sub.Clone()
	return nil
}

func (s *SubmissionStore) PutWithReview(_ context.Context, sub *submission.Submission, expectedVersion int64, record *revision.ReviewRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkVersion(sub.ID, expectedVersion); err != nil {
		return err
	}
	sub.Version = expectedVersion + 1
	s.submissions[sub.ID] = sub.Clone()
	if record != nil {
		s.reviews[sub.ID] = append(s.reviews[sub.ID], copyReview(record))
	}
	return nil
}

func (s *SubmissionStore) AppendReview(_ context.Context, record *revision.ReviewRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.submissions[record.SubmissionID]; !ok {
		return submission.ErrNotFound
	}
	s.reviews[record.SubmissionID] = append(s.reviews[record.SubmissionID], copyReview(record))
	return nil
}

func (s *SubmissionStore) ListReviews(_ context.Context, submissionID uuid.UUID) ([]*revision.ReviewRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stored := s.reviews[submissionID]
	out := make([]*revision.ReviewRecord, 0, len(stored))
	for _, r := range stored {
		out = append(out, copyReview(r))
	}
	return out, nil
}

func (s *SubmissionStore) checkVersion(id uuid.UUID, expected int64) error {
	current, ok := s.submissions[id]
	if !ok {
		return submission.ErrNotFound
	}
	if current.Version != expected {
		return submission.ErrConcurrentModification
	}
	return nil
}

func copyReview(r *revision.ReviewRecord) *revision.ReviewRecord {
	c := *r
	c.Issues = append([]string(nil), r.Issues...)
	return &c
}

// PaymentStore is an in-process payment.Repository.
type PaymentStore struct {
	mu      sync.RWMutex
	intents map[uuid.UUID]*payment.Intent
}

func NewPaymentStore() *PaymentStore {
	return &PaymentStore{intents: make(map[uuid.UUID]*payment.Intent)}
}

func (s *PaymentStore) Create(_ context.Context, intent *payment.Intent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if intent.Status == payment.StatusPending {
		for _, existing := range s.intents {
			if existing.SubmissionID == intent.SubmissionID && existing.Status == payment.StatusPending {
				return payment.ErrDuplicatePendingIntent
			}
		}
	}
	s.intents[intent.ID] = copyIntent(intent)
	return nil
}

func (s *PaymentStore) Update(_ context.Context, intent *payment.Intent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.intents[intent.ID]; !ok {
		return payment.ErrIntentNotFound
	}
	s.intents[intent.ID] = copyIntent(intent)
	return nil
}

func (s *PaymentStore) GetByID(_ context.Context, intentID uuid.UUID) (*payment.Intent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if item, ok := s.intents[intentID]; ok {
		return copyIntent(item), nil
	}
	return nil, nil
}

func (s *PaymentStore) GetByExternalID(_ context.Context, externalID string) (*payment.Intent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, item := range s.intents {
		if item.ExternalID == externalID {
			return copyIntent(item), nil
		}
	}
	return nil, nil
}

func (s *PaymentStore) GetPendingBySubmission(_ context.Context, submissionID uuid.UUID) (*payment.Intent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, item := range s.intents {
		if item.SubmissionID == submissionID && item.Status == payment.StatusPending {
			return copyIntent(item), nil
		}
	}
	return nil, nil
}

func (s *PaymentStore) ListBySubmission(_ context.Context, submissionID uuid.UUID) ([]*payment.Intent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	items := make([]*payment.Intent, 0)
	for _, item := range s.intents {
		if item.SubmissionID == submissionID {
			items = append(items, copyIntent(item))
		}
	}
	sort.Slice(items, func(i, j int) bool {
		return items[i].CreatedAt.Before(items[j].CreatedAt)
	})
	return items, nil
}

func copyIntent(i *payment.Intent) *payment.Intent {
	c := *i
	if i.FailureReason != nil {
		v := *i.FailureReason
		c.FailureReason = &v
	}
	if i.ConfirmedAt != nil {
		v := *i.ConfirmedAt
		c.ConfirmedAt = &v
	}
	return &c
}
