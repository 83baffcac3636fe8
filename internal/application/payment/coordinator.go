package payment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	domainPayment "github.com/brandmarket/submission-hub/internal/domain/payment"
	"github.com/brandmarket/submission-hub/internal/domain/submission"
)

// Listener receives payment outcomes for the owning submission.
// The lifecycle engine implements it.
type Listener interface {
	MarkAwaitingPayment(ctx context.Context, submissionID, intentID uuid.UUID) (*submission.Submission, error)
	ConfirmPayment(ctx context.Context, submissionID, intentID uuid.UUID) (*submission.Submission, error)
	PaymentFailed(ctx context.Context, submissionID, intentID uuid.UUID) (*submission.Submission, error)
}

// Config tunes the coordinator.
type Config struct {
	Currency string
	Timeout  time.Duration
}

// Coordinator owns payment intents and their processor round trips.
type Coordinator struct {
	repo      domainPayment.Repository
	processor domainPayment.Processor
	listener  Listener
	currency  string
	timeout   time.Duration
	logger    zerolog.Logger
}

// NewCoordinator creates a payment coordinator.
func NewCoordinator(repo domainPayment.Repository, processor domainPayment.Processor, cfg Config, logger zerolog.Logger) *Coordinator {
	if cfg.Currency == "" {
		cfg.Currency = "usd"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	return &Coordinator{
		repo:      repo,
		processor: processor,
		currency:  strings.ToLower(cfg.Currency),
		timeout:   cfg.Timeout,
		logger:    logger.With().Str("service", "payment").Logger(),
	}
}

// SetListener registers the receiver of payment outcomes. It must be called before
// webhooks are served.
func (c *Coordinator) SetListener(l Listener) {
	c.listener = l
}

// Initiate creates the submission's payment intent, or returns the pending or
// confirmed one. A paid submission is never charged again. The submission ID is the processor idempotency key. Processor failures are
// reported as ErrInitiationFailed and nothing is stored.
func (c *Coordinator) Initiate(ctx context.Context, submissionID uuid.UUID, amount int64) (*domainPayment.Intent, error) {
	if amount <= 0 {
		return nil, domainPayment.ErrInvalidAmount
	}
	existing, err := c.repo.GetPendingBySubmission(ctx, submissionID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}
	previous, err := c.repo.ListBySubmission(ctx, submissionID)
	if err != nil {
		return nil, err
	}
	for _, intent := range previous {
		if intent.Status == domainPayment.StatusConfirmed {
			return intent, nil
		}
	}

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	externalID, err := c.processor.CreateIntent(callCtx, amount, c.currency, submissionID.String(), map[string]string{
		"submission_id": submissionID.String(),
	})
	if err != nil {
		c.logger.Error().Err(err).Str("submission_id", submissionID.String()).Msg("payment processor rejected intent")
		return nil, fmt.Errorf("%w: %v", domainPayment.ErrInitiationFailed, err)
	}

	intent := domainPayment.NewIntent(submissionID, externalID, amount, c.currency)
	if err := c.repo.Create(ctx, intent); err != nil {
		if errors.Is(err, domainPayment.ErrDuplicatePendingIntent) {
			return c.repo.GetPendingBySubmission(ctx, submissionID)
		}
		return nil, err
	}
	c.logger.Info().
		Str("submission_id", submissionID.String()).
		Str("intent_id", intent.ID.String()).
		Int64("amount", amount).
		Msg("payment intent created")
	return intent, nil
}

// Get loads an intent.
func (c *Coordinator) Get(ctx context.Context, intentID uuid.UUID) (*domainPayment.Intent, error) {
	intent, err := c.repo.GetByID(ctx, intentID)
	if err != nil {
		return nil, err
	}
	if intent == nil {
		return nil, domainPayment.ErrIntentNotFound
	}
	return intent, nil
}

// Resolve finds an intent by our ID or the processor's ID.
func (c *Coordinator) Resolve(ctx context.Context, ref string) (*domainPayment.Intent, error) {
	if id, err := uuid.Parse(ref); err == nil {
		if intent, err := c.repo.GetByID(ctx, id); err != nil || intent != nil {
			return intent, err
		}
	}
	intent, err := c.repo.GetByExternalID(ctx, ref)
	if err != nil {
		return nil, err
	}
	if intent == nil {
		return nil, domainPayment.ErrIntentNotFound
	}
	return intent, nil
}

// ListForSubmission returns every intent of a submission, oldest first.
func (c *Coordinator) ListForSubmission(ctx context.Context, submissionID uuid.UUID) ([]*domainPayment.Intent, error) {
	return c.repo.ListBySubmission(ctx, submissionID)
}

// MarkAwaitingExternalConfirmation records that the payer entered checkout.
func (c *Coordinator) MarkAwaitingExternalConfirmation(ctx context.Context, intentID uuid.UUID) (*domainPayment.Intent, error) {
	intent, err := c.Get(ctx, intentID)
	if err != nil {
		return nil, err
	}
	if !intent.AwaitingConfirmation {
		if err := intent.MarkAwaitingConfirmation(); err != nil {
			return nil, err
		}
		if err := c.repo.Update(ctx, intent); err != nil {
			return nil, err
		}
	}
	if c.listener != nil {
		if _, err := c.listener.MarkAwaitingPayment(ctx, intent.SubmissionID, intent.ID); err != nil {
			return intent, err
		}
	}
	return intent, nil
}

// Confirm records a successful payment. Redelivered confirmations are accepted.
func (c *Coordinator) Confirm(ctx context.Context, intentID uuid.UUID) (*domainPayment.Intent, error) {
	intent, err := c.Get(ctx, intentID)
	if err != nil {
		return nil, err
	}
	if intent.Status != domainPayment.StatusConfirmed {
		if err := intent.Confirm(); err != nil {
			return nil, err
		}
		if err := c.repo.Update(ctx, intent); err != nil {
			return nil, err
		}
		c.logger.Info().Str("intent_id", intent.ID.String()).Msg("payment confirmed")
	}
	if c.listener != nil {
		if _, err := c.listener.ConfirmPayment(ctx, intent.SubmissionID, intent.ID); err != nil {
			return intent, err
		}
	}
	return intent, nil
}

// Fail records a failed payment so a new intent may be initiated.
func (c *Coordinator) Fail(ctx context.Context, intentID uuid.UUID, reason string) (*domainPayment.Intent, error) {
	intent, err := c.Get(ctx, intentID)
	if err != nil {
		return nil, err
	}
	if intent.Status == domainPayment.StatusFailed {
		return intent, nil
	}
	if err := intent.Fail(reason); err != nil {
		return nil, err
	}
	if err := c.repo.Update(ctx, intent); err != nil {
		return nil, err
	}
	c.logger.Warn().Str("intent_id", intent.ID.String()).Str("reason", reason).Msg("payment failed")
	if c.listener != nil {
		if _, err := c.listener.PaymentFailed(ctx, intent.SubmissionID, intent.ID); err != nil {
			return intent, err
		}
	}
	return intent, nil
}
