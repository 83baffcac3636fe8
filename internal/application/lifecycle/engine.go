package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/brandmarket/submission-hub/internal/domain/notification"
	"github.com/brandmarket/submission-hub/internal/domain/payment"
	"github.com/brandmarket/submission-hub/internal/domain/proof"
	"github.com/brandmarket/submission-hub/internal/domain/revision"
	"github.com/brandmarket/submission-hub/internal/domain/submission"
)

// attachRetries bounds reload-and-retry for writes that only attach side values.
const attachRetries = 3

// ProofCoordinator fetches and checks distribution proofs.
type ProofCoordinator interface {
	RequestAndTryFetch(ctx context.Context, sub *submission.Submission) (proof.FetchResult, error)
	Fetch(ctx context.Context, sub *submission.Submission) (string, error)
	Verify(ctx context.Context, sub *submission.Submission) error
	AffiliateLink(sub *submission.Submission) (string, bool)
}

// PaymentCoordinator creates and looks up payment intents.
type PaymentCoordinator interface {
	Initiate(ctx context.Context, submissionID uuid.UUID, amount int64) (*payment.Intent, error)
	Get(ctx context.Context, intentID uuid.UUID) (*payment.Intent, error)
}

// Engine drives submissions through review, proof and payment.
type Engine struct {
	repo          submission.Repository
	proofs        ProofCoordinator
	payments      PaymentCoordinator
	notifier      notification.Notifier
	maxRevisions  int
	notifyTimeout time.Duration
	now           func() time.Time
	logger        zerolog.Logger
}

// Option customizes an Engine.
type Option func(*Engine)

// WithDefaultMaxRevisions sets the cap used when a submission does not carry its own.
func WithDefaultMaxRevisions(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxRevisions = n
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// NewEngine creates a lifecycle engine. notifier may be nil.
func NewEngine(
	repo submission.Repository,
	proofs ProofCoordinator,
	payments PaymentCoordinator,
	notifier notification.Notifier,
	logger zerolog.Logger,
	opts ...Option,
) *Engine {
	e := &Engine{
		repo:          repo,
		proofs:        proofs,
		payments:      payments,
		notifier:      notifier,
		maxRevisions:  submission.DefaultMaxRevisions,
		notifyTimeout: 5 * time.Second,
		now:           func() time.Time { return time.Now().UTC() },
		logger:        logger.With().Str("service", "lifecycle").Logger(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// SubmitInput creates a submission.
type SubmitInput struct {
	ProjectID    string
	CreatorID    string
	ContentModel submission.ContentModel
	AssetRef     string
	MaxRevisions int
}

// Submit stores a new submission in SUBMITTED state.
func (e *Engine) Submit(ctx context.Context, in SubmitInput) (*submission.Submission, error) {
	maxRevisions := in.MaxRevisions
	if maxRevisions <= 0 {
		maxRevisions = e.maxRevisions
	}
	sub, err := submission.NewSubmission(in.ProjectID, in.CreatorID, in.ContentModel, in.AssetRef, maxRevisions)
	if err != nil {
		return nil, err
	}
	if err := e.repo.Create(ctx, sub); err != nil {
		return nil, err
	}
	e.logger.Info().
		Str("submission_id", sub.ID.String()).
		Str("model", string(sub.ContentModel)).
		Msg("submission created")
	e.notify(sub, notification.EventSubmitted, "Your submission was received.")
	return sub, nil
}

// Resubmit replaces the asset of a submission awaiting revision.
func (e *Engine) Resubmit(ctx context.Context, id uuid.UUID, assetRef string, expectedVersion int64) (*submission.Submission, error) {
	changed := false
	sub, err := e.mutate(ctx, id, expectedVersion, func(next *submission.Submission) error {
		var err error
		changed, err = next.Resubmit(assetRef)
		if err != nil {
			return err
		}
		if !changed {
			return errNoChange
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if changed {
		e.notify(sub, notification.EventResubmitted, "Your revised submission was received.")
	}
	return sub, nil
}

// ReviewInput is one brand decision.
type ReviewInput struct {
	SubmissionID    uuid.UUID
	Approved        bool
	Feedback        string
	Issues          []string
	Amount          int64
	ExpectedVersion int64
}

// Review approves or rejects a submission. Approval starts payment with the
// caller-supplied amount. A processor failure leaves the submission APPROVED and is
// reported with the stored submission.
func (e *Engine) Review(ctx context.Context, in ReviewInput) (*submission.Submission, error) {
	cur, err := e.load(ctx, in.SubmissionID)
	if err != nil {
		return nil, err
	}
	if in.ExpectedVersion > 0 && cur.Version != in.ExpectedVersion {
		return nil, submission.ErrConcurrentModification
	}
	records, err := e.repo.ListReviews(ctx, cur.ID)
	if err != nil {
		return nil, err
	}
	ledger := revision.NewLedger(records)

	if in.Approved {
		return e.approve(ctx, cur, ledger, in)
	}
	return e.reject(ctx, cur, ledger, in)
}

func (e *Engine) approve(ctx context.Context, cur *submission.Submission, ledger *revision.Ledger, in ReviewInput) (*submission.Submission, error) {
	if in.Amount <= 0 {
		return nil, submission.Validationf("approval requires a positive payment amount")
	}
	next := cur.Clone()
	if err := next.Approve(e.now()); err != nil {
		return nil, err
	}
	if link, ok := e.proofs.AffiliateLink(next); ok {
		next.AttachAffiliateLink(link)
	}
	next.UpdatedAt = e.now()
	record := revision.NewReviewRecord(next.ID, true, in.Feedback, in.Issues, ledger.Count())
	if err := e.repo.PutWithReview(ctx, next, cur.Version, record); err != nil {
		return nil, err
	}
	e.logger.Info().Str("submission_id", next.ID.String()).Msg("submission approved")
	e.notify(next, notification.EventApproved, "Your submission was approved.")

	return e.startPayment(ctx, next, in.Amount)
}

func (e *Engine) reject(ctx context.Context, cur *submission.Submission, ledger *revision.Ledger, in ReviewInput) (*submission.Submission, error) {
	if !ledger.CanReject(cur.MaxRevisions) || cur.RevisionsUsed >= cur.MaxRevisions {
		return nil, submission.ErrRevisionLimitExceeded
	}
	used := max(ledger.Count(), cur.RevisionsUsed)
	issues := revision.NormalizeIssues(in.Issues)
	if strings.TrimSpace(in.Feedback) == "" && len(issues) == 0 {
		return nil, submission.Validationf("a rejection needs feedback or at least one issue")
	}
	next := cur.Clone()
	next.RevisionsUsed = used
	if err := next.RequestRevision(); err != nil {
		return nil, err
	}
	next.UpdatedAt = e.now()
	record := revision.NewReviewRecord(next.ID, false, in.Feedback, issues, next.RevisionsUsed)
	if err := e.repo.PutWithReview(ctx, next, cur.Version, record); err != nil {
		return nil, err
	}
	e.logger.Info().
		Str("submission_id", next.ID.String()).
		Int("revisions_used", next.RevisionsUsed).
		Int("max_revisions", next.MaxRevisions).
		Msg("revision requested")
	e.notify(next, notification.EventRevisionRequested, record.Feedback)
	return next, nil
}

// InitiatePayment starts, or retries, payment for an approved submission. A submission
// whose attached intent is already confirmed is never charged again.
func (e *Engine) InitiatePayment(ctx context.Context, id uuid.UUID, amount int64) (*submission.Submission, error) {
	sub, err := e.load(ctx, id)
	if err != nil {
		return nil, err
	}
	switch sub.Status {
	case submission.StatusSubmitted, submission.StatusRevisionRequested, submission.StatusPaymentConfirmed:
		return nil, &submission.StateConflictError{Operation: "initiate_payment", From: sub.Status, Model: sub.ContentModel}
	}
	attached, err := e.activeIntent(ctx, sub)
	if err != nil {
		return nil, err
	}
	if attached != nil && attached.Status == payment.StatusConfirmed {
		return nil, &submission.StateConflictError{Operation: "initiate_payment", From: sub.Status, Model: sub.ContentModel}
	}
	if amount <= 0 {
		return nil, submission.Validationf("payment amount must be positive")
	}
	return e.startPayment(ctx, sub, amount)
}

func (e *Engine) startPayment(ctx context.Context, sub *submission.Submission, amount int64) (*submission.Submission, error) {
	intent, err := e.payments.Initiate(ctx, sub.ID, amount)
	if err != nil {
		e.logger.Warn().Err(err).Str("submission_id", sub.ID.String()).Msg("payment initiation failed")
		return sub, err
	}
	if sub.PaymentIntentID != nil && *sub.PaymentIntentID == intent.ID {
		return sub, nil
	}
	before := sub.Status
	attached, err := e.mutateWithRetry(ctx, sub.ID, func(next *submission.Submission) error {
		if attachedTo(next, intent.ID) {
			return errNoChange
		}
		next.AttachPaymentIntent(intent.ID)
		// Outcomes delivered before the attach landed are only on the intent.
		latest, err := e.payments.Get(ctx, intent.ID)
		if err != nil {
			return err
		}
		if latest.Status == payment.StatusConfirmed || next.Status != submission.StatusAwaitingPayment {
			return settle(next, latest)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if attached.Status != before {
		e.notifyPaymentState(attached)
	}
	return attached, nil
}

// RequestProof asks the creator's platform for the distribution proof and tries one
// immediate fetch.
func (e *Engine) RequestProof(ctx context.Context, id uuid.UUID, expectedVersion int64) (*submission.Submission, proof.FetchResult, error) {
	sub, err := e.mutate(ctx, id, expectedVersion, func(next *submission.Submission) error {
		return next.RequestProof()
	})
	if err != nil {
		return nil, proof.FetchResult{}, err
	}
	e.notify(sub, notification.EventProofRequested, proofRequestBody(sub.ContentModel))

	result, err := e.proofs.RequestAndTryFetch(ctx, sub)
	if err != nil {
		return sub, proof.Requested(sub.FetchEpoch), nil
	}
	if result.Kind != proof.ResultReceived {
		return sub, result, nil
	}
	return e.applyProof(ctx, id, result.Epoch, result.Proof)
}

// PollProof makes one fetch attempt for a submission in PROOF_REQUESTED.
func (e *Engine) PollProof(ctx context.Context, id uuid.UUID) (*submission.Submission, proof.FetchResult, error) {
	sub, err := e.load(ctx, id)
	if err != nil {
		return nil, proof.FetchResult{}, err
	}
	if sub.Status != submission.StatusProofRequested {
		return nil, proof.FetchResult{}, &submission.StateConflictError{Operation: "poll_proof", From: sub.Status, Model: sub.ContentModel}
	}
	epoch := sub.FetchEpoch
	value, err := e.proofs.Fetch(ctx, sub)
	if errors.Is(err, proof.ErrProofNotFoundYet) {
		return sub, proof.Requested(epoch), nil
	}
	if err != nil {
		return nil, proof.FetchResult{}, err
	}
	return e.applyProof(ctx, id, epoch, value)
}

// ReceiveProof applies a proof pushed by the upstream for the given fetch epoch.
func (e *Engine) ReceiveProof(ctx context.Context, id uuid.UUID, epoch int64, value string) (*submission.Submission, proof.FetchResult, error) {
	if strings.TrimSpace(value) == "" {
		return nil, proof.FetchResult{}, submission.Validationf("proof is required")
	}
	return e.applyProof(ctx, id, epoch, value)
}

// applyProof records a fetched proof unless its epoch has been superseded.
// Superseded results are discarded and reported as STALE.
func (e *Engine) applyProof(ctx context.Context, id uuid.UUID, epoch int64, value string) (*submission.Submission, proof.FetchResult, error) {
	for attempt := 0; ; attempt++ {
		cur, err := e.load(ctx, id)
		if err != nil {
			return nil, proof.FetchResult{}, err
		}
		if cur.FetchEpoch != epoch || cur.Status != submission.StatusProofRequested {
			e.logger.Info().
				Str("submission_id", id.String()).
				Int64("result_epoch", epoch).
				Int64("current_epoch", cur.FetchEpoch).
				Str("status", string(cur.Status)).
				Msg("discarding stale proof result")
			return cur, proof.FetchResult{Kind: proof.ResultStale, Epoch: epoch}, nil
		}
		next := cur.Clone()
		if err := next.ReceiveProof(epoch, value); err != nil {
			return nil, proof.FetchResult{}, err
		}
		next.UpdatedAt = e.now()
		err = e.repo.PutIfVersion(ctx, next, cur.Version)
		if errors.Is(err, submission.ErrConcurrentModification) && attempt < attachRetries-1 {
			continue
		}
		if err != nil {
			return nil, proof.FetchResult{}, err
		}
		e.notify(next, notification.EventProofReceived, "Your distribution proof was received.")
		return next, proof.Received(epoch, *next.Proof), nil
	}
}

// VerifyProof accepts the held proof. Payment outcomes recorded while the proof track was
// open are applied in the same write.
func (e *Engine) VerifyProof(ctx context.Context, id uuid.UUID, expectedVersion int64) (*submission.Submission, error) {
	var intent *payment.Intent
	sub, err := e.mutate(ctx, id, expectedVersion, func(next *submission.Submission) error {
		if err := e.proofs.Verify(ctx, next); err != nil {
			return err
		}
		if err := next.VerifyProof(e.now()); err != nil {
			return err
		}
		var err error
		intent, err = e.activeIntent(ctx, next)
		if err != nil {
			return err
		}
		return settle(next, intent)
	})
	if err != nil {
		return nil, err
	}
	e.notify(sub, notification.EventProofVerified, "Your distribution proof was verified.")
	e.notifyPaymentState(sub)
	return sub, nil
}

// RequestNewProof discards the held proof and asks again. Any fetch in flight is
// superseded. No immediate fetch is made since the upstream would return the rejected proof.
func (e *Engine) RequestNewProof(ctx context.Context, id uuid.UUID, expectedVersion int64) (*submission.Submission, proof.FetchResult, error) {
	sub, err := e.mutate(ctx, id, expectedVersion, func(next *submission.Submission) error {
		return next.RequestNewProof()
	})
	if err != nil {
		return nil, proof.FetchResult{}, err
	}
	e.notify(sub, notification.EventProofRequested, "The brand asked for a new distribution proof.")
	return sub, proof.Requested(sub.FetchEpoch), nil
}

// MarkAwaitingPayment moves the submission to AWAITING_PAYMENT once the proof track is
// complete. Until then the outcome stays on the intent.
func (e *Engine) MarkAwaitingPayment(ctx context.Context, id, intentID uuid.UUID) (*submission.Submission, error) {
	sub, err := e.mutateWithRetry(ctx, id, func(next *submission.Submission) error {
		if !attachedTo(next, intentID) {
			return errNoChange
		}
		if next.Status == submission.StatusAwaitingPayment || next.Status == submission.StatusPaymentConfirmed {
			return errNoChange
		}
		if !next.ProofTrackComplete() {
			return errNoChange
		}
		return next.AwaitPayment()
	})
	if err != nil {
		return nil, err
	}
	if sub.Status == submission.StatusAwaitingPayment {
		e.notify(sub, notification.EventAwaitingPayment, "Payment is in progress.")
	}
	return sub, nil
}

// ConfirmPayment moves the submission to PAYMENT_CONFIRMED once the proof track is
// complete. Until then the outcome stays on the intent. Confirmations for an intent
// other than the attached one are ignored.
func (e *Engine) ConfirmPayment(ctx context.Context, id, intentID uuid.UUID) (*submission.Submission, error) {
	already := false
	sub, err := e.mutateWithRetry(ctx, id, func(next *submission.Submission) error {
		if next.Status == submission.StatusPaymentConfirmed {
			already = true
			return errNoChange
		}
		if !attachedTo(next, intentID) {
			e.logger.Warn().
				Str("submission_id", next.ID.String()).
				Str("intent_id", intentID.String()).
				Msg("confirmation for an intent that is not attached")
			return errNoChange
		}
		if !next.ProofTrackComplete() {
			return errNoChange
		}
		return next.ConfirmPayment()
	})
	if err != nil {
		return nil, err
	}
	if !already && sub.Status == submission.StatusPaymentConfirmed {
		e.logger.Info().Str("submission_id", sub.ID.String()).Msg("payment confirmed")
		e.notify(sub, notification.EventPaymentConfirmed, "Your payment was confirmed.")
	}
	return sub, nil
}

// PaymentFailed detaches the failed intent so payment can be initiated again.
func (e *Engine) PaymentFailed(ctx context.Context, id, intentID uuid.UUID) (*submission.Submission, error) {
	sub, err := e.mutateWithRetry(ctx, id, func(next *submission.Submission) error {
		if !attachedTo(next, intentID) {
			return errNoChange
		}
		next.DetachPaymentIntent()
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.notify(sub, notification.EventPaymentFailed, "Payment failed and will be retried.")
	return sub, nil
}

// Get loads a submission.
func (e *Engine) Get(ctx context.Context, id uuid.UUID) (*submission.Submission, error) {
	return e.load(ctx, id)
}

// StatusView is the externally visible state of a submission.
type StatusView struct {
	ID                 uuid.UUID               `json:"id"`
	Status             submission.Status       `json:"status"`
	WireStatus         submission.WireStatus   `json:"wireStatus"`
	ContentModel       submission.ContentModel `json:"contentDistributionModel"`
	RevisionsUsed      int                     `json:"revisionsUsed"`
	MaxRevisions       int                     `json:"maxRevisions"`
	RevisionsRemaining int                     `json:"revisionsRemaining"`
	Downloadable       bool                    `json:"downloadable"`
	AffiliateLink      *string                 `json:"affiliateLink,omitempty"`
	PaymentIntentID    *uuid.UUID              `json:"paymentIntentId,omitempty"`
	Version            int64                   `json:"version"`
}

// GetStatus returns the status view of a submission.
func (e *Engine) GetStatus(ctx context.Context, id uuid.UUID) (*StatusView, error) {
	sub, err := e.load(ctx, id)
	if err != nil {
		return nil, err
	}
	records, err := e.repo.ListReviews(ctx, id)
	if err != nil {
		return nil, err
	}
	remaining := min(revision.NewLedger(records).Remaining(sub.MaxRevisions), max(sub.MaxRevisions-sub.RevisionsUsed, 0))
	return &StatusView{
		ID:                 sub.ID,
		Status:             sub.Status,
		WireStatus:         sub.WireStatus(),
		ContentModel:       sub.ContentModel,
		RevisionsUsed:      sub.RevisionsUsed,
		MaxRevisions:       sub.MaxRevisions,
		RevisionsRemaining: remaining,
		Downloadable:       sub.AssetDownloadable(),
		AffiliateLink:      sub.AffiliateLink,
		PaymentIntentID:    sub.PaymentIntentID,
		Version:            sub.Version,
	}, nil
}

// GetHistory returns the review history, oldest first.
func (e *Engine) GetHistory(ctx context.Context, id uuid.UUID) ([]*revision.ReviewRecord, error) {
	if _, err := e.load(ctx, id); err != nil {
		return nil, err
	}
	records, err := e.repo.ListReviews(ctx, id)
	if err != nil {
		return nil, err
	}
	return revision.NewLedger(records).History(), nil
}

var errNoChange = errors.New("no change")

func attachedTo(sub *submission.Submission, intentID uuid.UUID) bool {
	return sub.PaymentIntentID != nil && *sub.PaymentIntentID == intentID
}

func (e *Engine) load(ctx context.Context, id uuid.UUID) (*submission.Submission, error) {
	sub, err := e.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if sub == nil {
		return nil, fmt.Errorf("%w: %s", submission.ErrNotFound, id)
	}
	return sub, nil
}

// mutate applies fn to a copy of the stored submission and writes it conditionally.
// fn returning errNoChange skips the write and yields the stored submission.
func (e *Engine) mutate(ctx context.Context, id uuid.UUID, expectedVersion int64, fn func(next *submission.Submission) error) (*submission.Submission, error) {
	cur, err := e.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if expectedVersion > 0 && cur.Version != expectedVersion {
		return nil, submission.ErrConcurrentModification
	}
	next := cur.Clone()
	if err := fn(next); err != nil {
		if errors.Is(err, errNoChange) {
			return cur, nil
		}
		return nil, err
	}
	next.UpdatedAt = e.now()
	if err := e.repo.PutIfVersion(ctx, next, cur.Version); err != nil {
		return nil, err
	}
	if next.Status != cur.Status {
		e.logger.Info().
			Str("submission_id", id.String()).
			Str("from", string(cur.Status)).
			Str("to", string(next.Status)).
			Msg("submission transitioned")
	}
	return next, nil
}

// mutateWithRetry reloads and reapplies fn when a concurrent write wins.
func (e *Engine) mutateWithRetry(ctx context.Context, id uuid.UUID, fn func(next *submission.Submission) error) (*submission.Submission, error) {
	var lastErr error
	for attempt := 0; attempt < attachRetries; attempt++ {
		sub, err := e.mutate(ctx, id, 0, fn)
		if err == nil {
			return sub, nil
		}
		if !errors.Is(err, submission.ErrConcurrentModification) {
			return nil, err
		}
		lastErr = err
	}
	return nil, lastErr
}

func (e *Engine) activeIntent(ctx context.Context, sub *submission.Submission) (*payment.Intent, error) {
	if sub.PaymentIntentID == nil {
		return nil, nil
	}
	intent, err := e.payments.Get(ctx, *sub.PaymentIntentID)
	if errors.Is(err, payment.ErrIntentNotFound) {
		return nil, nil
	}
	return intent, err
}

// settle applies a payment outcome recorded on the intent to a submission whose proof
// track has just completed.
func settle(sub *submission.Submission, intent *payment.Intent) error {
	if intent == nil || !sub.ProofTrackComplete() {
		return nil
	}
	switch {
	case intent.Status == payment.StatusConfirmed:
		return sub.ConfirmPayment()
	case intent.Status == payment.StatusPending && intent.AwaitingConfirmation:
		return sub.AwaitPayment()
	}
	return nil
}

func (e *Engine) notifyPaymentState(sub *submission.Submission) {
	switch sub.Status {
	case submission.StatusAwaitingPayment:
		e.notify(sub, notification.EventAwaitingPayment, "Payment is in progress.")
	case submission.StatusPaymentConfirmed:
		e.notify(sub, notification.EventPaymentConfirmed, "Your payment was confirmed.")
	}
}

// notify delivers a creator notification in the background. Failures are logged only.
func (e *Engine) notify(sub *submission.Submission, event notification.Event, body string) {
	if e.notifier == nil {
		return
	}
	msg := notification.NewMessage(sub.CreatorID, sub.ID, event, string(sub.WireStatus()), body)
	creatorID := sub.CreatorID
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), e.notifyTimeout)
		defer cancel()
		if err := e.notifier.Notify(ctx, creatorID, msg); err != nil {
			e.logger.Warn().
				Err(err).
				Str("submission_id", msg.SubmissionID.String()).
				Str("event", string(event)).
				Msg("failed to notify creator")
		}
	}()
}

func proofRequestBody(model submission.ContentModel) string {
	switch model {
	case submission.ModelSparkAds:
		return "Please share your Spark Ads authorization code."
	case submission.ModelCreatorPostedLink:
		return "Please publish the video and share the post link."
	}
	return "Please provide your distribution proof."
}
