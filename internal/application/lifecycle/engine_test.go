package lifecycle

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appPayment "github.com/brandmarket/submission-hub/internal/application/payment"
	appProof "github.com/brandmarket/submission-hub/internal/application/proof"
	"github.com/brandmarket/submission-hub/internal/domain/notification"
	"github.com/brandmarket/submission-hub/internal/domain/payment"
	"github.com/brandmarket/submission-hub/internal/domain/proof"
	"github.com/brandmarket/submission-hub/internal/domain/submission"
	"github.com/brandmarket/submission-hub/internal/infrastructure/memory"
)

type stubSource struct {
	mu    sync.Mutex
	spark string
	link  string
}

func (s *stubSource) set(spark, link string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.spark, s.link = spark, link
}

func (s *stubSource) FetchSparkCode(context.Context, uuid.UUID) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.spark, s.spark != "", nil
}

func (s *stubSource) FetchTikTokLink(context.Context, uuid.UUID) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.link, s.link != "", nil
}

type stubProcessor struct {
	mu    sync.Mutex
	fail  bool
	calls int
}

func (p *stubProcessor) CreateIntent(_ context.Context, _ int64, _, key string, _ map[string]string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.fail {
		return "", errors.New("processor unavailable")
	}
	return "pi_" + key, nil
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []notification.Event
	err    error
}

func (n *recordingNotifier) Notify(_ context.Context, _ string, msg *notification.Message) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, msg.Event)
	return n.err
}

func (n *recordingNotifier) has(event notification.Event) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, e := range n.events {
		if e == event {
			return true
		}
	}
	return false
}

type harness struct {
	engine    *Engine
	subs      *memory.SubmissionStore
	intents   *memory.PaymentStore
	payments  *appPayment.Coordinator
	source    *stubSource
	processor *stubProcessor
	notifier  *recordingNotifier
}

func newHarness(t *testing.T, repo submission.Repository) *harness {
	t.Helper()
	subs := memory.NewSubmissionStore()
	if repo == nil {
		repo = subs
	}
	intents := memory.NewPaymentStore()
	source := &stubSource{}
	processor := &stubProcessor{}
	notifier := &recordingNotifier{}
	proofs := appProof.NewCoordinator(source, nil, appProof.Config{AffiliateBaseURL: "https://aff.example.com"}, zerolog.Nop())
	payments := appPayment.NewCoordinator(intents, processor, appPayment.Config{}, zerolog.Nop())
	engine := NewEngine(repo, proofs, payments, notifier, zerolog.Nop())
	payments.SetListener(engine)
	return &harness{
		engine:    engine,
		subs:      subs,
		intents:   intents,
		payments:  payments,
		source:    source,
		processor: processor,
		notifier:  notifier,
	}
}

func (h *harness) submit(t *testing.T, model submission.ContentModel) *submission.Submission {
	t.Helper()
	sub, err := h.engine.Submit(context.Background(), SubmitInput{
		ProjectID:    "project-1",
		CreatorID:    "creator-1",
		ContentModel: model,
		AssetRef:     "s3://assets/v1.mp4",
	})
	require.NoError(t, err)
	return sub
}

func (h *harness) approve(t *testing.T, id uuid.UUID) *submission.Submission {
	t.Helper()
	sub, err := h.engine.Review(context.Background(), ReviewInput{SubmissionID: id, Approved: true, Amount: 25000})
	require.NoError(t, err)
	return sub
}

func TestScenarioA_RevisionLimit(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)
	sub := h.submit(t, submission.ModelDirectHandoff)

	for i := 1; i <= 3; i++ {
		got, err := h.engine.Review(ctx, ReviewInput{SubmissionID: sub.ID, Feedback: "blurry"})
		require.NoError(t, err)
		assert.Equal(t, i, got.RevisionsUsed)
		assert.Equal(t, submission.StatusRevisionRequested, got.Status)

		_, err = h.engine.Resubmit(ctx, sub.ID, "s3://assets/v"+string(rune('1'+i))+".mp4", 0)
		require.NoError(t, err)
	}

	_, err := h.engine.Review(ctx, ReviewInput{SubmissionID: sub.ID, Feedback: "still blurry"})
	assert.ErrorIs(t, err, submission.ErrRevisionLimitExceeded)
	view, err := h.engine.GetStatus(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, view.RevisionsRemaining)

	approved := h.approve(t, sub.ID)
	assert.Equal(t, submission.StatusApproved, approved.Status)
	assert.Equal(t, 3, approved.RevisionsUsed)

	history, err := h.engine.GetHistory(ctx, sub.ID)
	require.NoError(t, err)
	require.Len(t, history, 4)
	assert.False(t, history[0].Approved)
	assert.True(t, history[3].Approved)
}

func TestScenarioB_SparkAdsProofFlow(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)
	sub := h.submit(t, submission.ModelSparkAds)

	approved := h.approve(t, sub.ID)
	assert.Equal(t, submission.StatusApproved, approved.Status)
	require.NotNil(t, approved.PaymentIntentID)
	intent, err := h.payments.Get(ctx, *approved.PaymentIntentID)
	require.NoError(t, err)
	assert.Equal(t, payment.StatusPending, intent.Status)

	requested, result, err := h.engine.RequestProof(ctx, sub.ID, 0)
	require.NoError(t, err)
	assert.Equal(t, proof.ResultRequested, result.Kind)
	assert.Equal(t, submission.StatusProofRequested, requested.Status)
	assert.False(t, requested.AssetDownloadable())

	h.source.set("SPARK123", "")
	received, result, err := h.engine.PollProof(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, proof.ResultReceived, result.Kind)
	assert.Equal(t, submission.StatusProofReceived, received.Status)
	require.NotNil(t, received.Proof)
	assert.Equal(t, "SPARK123", *received.Proof)

	verified, err := h.engine.VerifyProof(ctx, sub.ID, 0)
	require.NoError(t, err)
	assert.Equal(t, submission.StatusProofVerified, verified.Status)
	assert.True(t, verified.AssetDownloadable())

	view, err := h.engine.GetStatus(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, submission.WireSparkVerified, view.WireStatus)
	assert.True(t, view.Downloadable)
}

type barrierRepo struct {
	submission.Repository
	wg *sync.WaitGroup
}

func (r *barrierRepo) Get(ctx context.Context, id uuid.UUID) (*submission.Submission, error) {
	sub, err := r.Repository.Get(ctx, id)
	r.wg.Done()
	r.wg.Wait()
	return sub, err
}

func TestScenarioC_ConcurrentReviews(t *testing.T) {
	ctx := context.Background()
	store := memory.NewSubmissionStore()
	setup := newHarness(t, store)
	sub := setup.submit(t, submission.ModelDirectHandoff)

	wg := &sync.WaitGroup{}
	wg.Add(2)
	h := newHarness(t, &barrierRepo{Repository: store, wg: wg})

	errs := make(chan error, 2)
	for i := 0; i < 2; i++ {
		go func() {
			_, err := h.engine.Review(ctx, ReviewInput{SubmissionID: sub.ID, Feedback: "audio", ExpectedVersion: sub.Version})
			errs <- err
		}()
	}

	var succeeded, conflicted int
	for i := 0; i < 2; i++ {
		err := <-errs
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, submission.ErrConcurrentModification):
			conflicted++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 1, conflicted)

	stored, err := store.Get(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, stored.RevisionsUsed)
	reviews, err := store.ListReviews(ctx, sub.ID)
	require.NoError(t, err)
	assert.Len(t, reviews, 1)
}

func TestScenarioD_PaymentInitiationFailureIsRetryable(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)
	sub := h.submit(t, submission.ModelDirectHandoff)

	h.processor.fail = true
	got, err := h.engine.Review(ctx, ReviewInput{SubmissionID: sub.ID, Approved: true, Amount: 25000})
	assert.ErrorIs(t, err, payment.ErrInitiationFailed)
	require.NotNil(t, got)
	assert.Equal(t, submission.StatusApproved, got.Status)
	assert.Nil(t, got.PaymentIntentID)

	stored, err := h.engine.Get(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, submission.StatusApproved, stored.Status)
	assert.Nil(t, stored.PaymentIntentID)
	intents, err := h.intents.ListBySubmission(ctx, sub.ID)
	require.NoError(t, err)
	assert.Empty(t, intents)

	h.processor.fail = false
	retried, err := h.engine.InitiatePayment(ctx, sub.ID, 25000)
	require.NoError(t, err)
	require.NotNil(t, retried.PaymentIntentID)

	again, err := h.engine.InitiatePayment(ctx, sub.ID, 25000)
	require.NoError(t, err)
	assert.Equal(t, *retried.PaymentIntentID, *again.PaymentIntentID)

	intents, err = h.intents.ListBySubmission(ctx, sub.ID)
	require.NoError(t, err)
	assert.Len(t, intents, 1)
}

func TestConfirmedIntentIsNeverReplaced(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)
	sub := h.submit(t, submission.ModelSparkAds)
	approved := h.approve(t, sub.ID)
	paid := *approved.PaymentIntentID

	_, err := h.payments.Confirm(ctx, paid)
	require.NoError(t, err)

	_, err = h.engine.InitiatePayment(ctx, sub.ID, 25000)
	assert.ErrorIs(t, err, submission.ErrStateConflict)
	assert.Equal(t, 1, h.processor.calls)
	intents, err := h.intents.ListBySubmission(ctx, sub.ID)
	require.NoError(t, err)
	assert.Len(t, intents, 1)

	h.source.set("SPARK123", "")
	_, result, err := h.engine.RequestProof(ctx, sub.ID, 0)
	require.NoError(t, err)
	assert.Equal(t, proof.ResultReceived, result.Kind)

	verified, err := h.engine.VerifyProof(ctx, sub.ID, 0)
	require.NoError(t, err)
	assert.Equal(t, submission.StatusPaymentConfirmed, verified.Status)
	assert.Equal(t, paid, *verified.PaymentIntentID)
}

func TestConfirmationSettlesOnlyTheAttachedIntent(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)
	sub := h.submit(t, submission.ModelDirectHandoff)
	approved := h.approve(t, sub.ID)

	_, err := h.payments.Fail(ctx, *approved.PaymentIntentID, "declined")
	require.NoError(t, err)
	detached, err := h.engine.Get(ctx, sub.ID)
	require.NoError(t, err)
	assert.Nil(t, detached.PaymentIntentID)

	stray := payment.NewIntent(sub.ID, "pi_stray", 25000, "usd")
	require.NoError(t, h.intents.Create(ctx, stray))
	_, err = h.payments.Confirm(ctx, stray.ID)
	require.NoError(t, err)

	got, err := h.engine.Get(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, submission.StatusApproved, got.Status)
	assert.Nil(t, got.PaymentIntentID)
	assert.False(t, h.notifier.has(notification.EventPaymentConfirmed))

	// Retrying picks up the paid intent instead of charging again.
	settled, err := h.engine.InitiatePayment(ctx, sub.ID, 25000)
	require.NoError(t, err)
	assert.Equal(t, submission.StatusPaymentConfirmed, settled.Status)
	assert.Equal(t, stray.ID, *settled.PaymentIntentID)
	assert.Equal(t, 1, h.processor.calls)
}

func TestUngatedModelsSettleOnPaymentConfirmation(t *testing.T) {
	ctx := context.Background()
	for _, model := range []submission.ContentModel{submission.ModelDirectHandoff, submission.ModelAffiliateLinked} {
		h := newHarness(t, nil)
		sub := h.submit(t, model)
		approved := h.approve(t, sub.ID)
		assert.True(t, approved.AssetDownloadable())

		_, _, err := h.engine.RequestProof(ctx, sub.ID, 0)
		assert.ErrorIs(t, err, submission.ErrStateConflict, model)

		_, err = h.payments.MarkAwaitingExternalConfirmation(ctx, *approved.PaymentIntentID)
		require.NoError(t, err)
		got, err := h.engine.Get(ctx, sub.ID)
		require.NoError(t, err)
		assert.Equal(t, submission.StatusAwaitingPayment, got.Status)

		_, err = h.payments.Confirm(ctx, *approved.PaymentIntentID)
		require.NoError(t, err)
		got, err = h.engine.Get(ctx, sub.ID)
		require.NoError(t, err)
		assert.Equal(t, submission.StatusPaymentConfirmed, got.Status)
	}
}

func TestAffiliateLinkAttachedOnApproval(t *testing.T) {
	h := newHarness(t, nil)
	sub := h.submit(t, submission.ModelAffiliateLinked)
	approved := h.approve(t, sub.ID)
	require.NotNil(t, approved.AffiliateLink)
	assert.Contains(t, *approved.AffiliateLink, "https://aff.example.com/")
	assert.Equal(t, submission.StatusApproved, approved.Status)
}

func TestEarlyPaymentConfirmationSettlesAtVerification(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)
	sub := h.submit(t, submission.ModelCreatorPostedLink)
	approved := h.approve(t, sub.ID)

	_, err := h.payments.Confirm(ctx, *approved.PaymentIntentID)
	require.NoError(t, err)
	got, err := h.engine.Get(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, submission.StatusApproved, got.Status)

	h.source.set("", "https://www.tiktok.com/@creator/video/1")
	_, result, err := h.engine.RequestProof(ctx, sub.ID, 0)
	require.NoError(t, err)
	assert.Equal(t, proof.ResultReceived, result.Kind)

	verified, err := h.engine.VerifyProof(ctx, sub.ID, 0)
	require.NoError(t, err)
	assert.Equal(t, submission.StatusPaymentConfirmed, verified.Status)
	assert.NotNil(t, verified.ProofVerifiedAt)
	assert.True(t, verified.AssetDownloadable())
}

func TestRequestNewProofIsIdempotentAndSupersedesFetches(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)
	sub := h.submit(t, submission.ModelSparkAds)
	h.approve(t, sub.ID)

	requested, _, err := h.engine.RequestProof(ctx, sub.ID, 0)
	require.NoError(t, err)
	oldEpoch := requested.FetchEpoch

	first, _, err := h.engine.RequestNewProof(ctx, sub.ID, 0)
	require.NoError(t, err)
	second, _, err := h.engine.RequestNewProof(ctx, sub.ID, 0)
	require.NoError(t, err)
	assert.Equal(t, submission.StatusProofRequested, second.Status)
	assert.Nil(t, second.Proof)
	assert.Greater(t, second.FetchEpoch, first.FetchEpoch)

	stale, result, err := h.engine.ReceiveProof(ctx, sub.ID, oldEpoch, "OLDCODE")
	require.NoError(t, err)
	assert.Equal(t, proof.ResultStale, result.Kind)
	assert.Equal(t, submission.StatusProofRequested, stale.Status)
	assert.Nil(t, stale.Proof)

	_, result, err = h.engine.ReceiveProof(ctx, sub.ID, second.FetchEpoch, "NEWCODE")
	require.NoError(t, err)
	assert.Equal(t, proof.ResultReceived, result.Kind)
}

func TestRequestNewProofAfterReceiptDiscardsProof(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)
	sub := h.submit(t, submission.ModelSparkAds)
	h.approve(t, sub.ID)
	h.source.set("WRONG", "")

	received, _, err := h.engine.RequestProof(ctx, sub.ID, 0)
	require.NoError(t, err)
	require.Equal(t, submission.StatusProofReceived, received.Status)

	again, _, err := h.engine.RequestNewProof(ctx, sub.ID, 0)
	require.NoError(t, err)
	assert.Equal(t, submission.StatusProofRequested, again.Status)
	assert.Nil(t, again.Proof)

	_, err = h.engine.VerifyProof(ctx, sub.ID, 0)
	assert.ErrorIs(t, err, submission.ErrValidation)
}

func TestRejectionRequiresFeedbackOrIssues(t *testing.T) {
	h := newHarness(t, nil)
	sub := h.submit(t, submission.ModelDirectHandoff)

	_, err := h.engine.Review(context.Background(), ReviewInput{SubmissionID: sub.ID, Issues: []string{" ", ""}})
	assert.ErrorIs(t, err, submission.ErrValidation)

	got, err := h.engine.Review(context.Background(), ReviewInput{SubmissionID: sub.ID, Issues: []string{"logo", "logo"}})
	require.NoError(t, err)
	assert.Equal(t, 1, got.RevisionsUsed)
}

func TestResubmitIsIdempotentForSameAsset(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)
	sub := h.submit(t, submission.ModelDirectHandoff)
	_, err := h.engine.Review(ctx, ReviewInput{SubmissionID: sub.ID, Feedback: "crop"})
	require.NoError(t, err)

	first, err := h.engine.Resubmit(ctx, sub.ID, "s3://assets/v2.mp4", 0)
	require.NoError(t, err)
	second, err := h.engine.Resubmit(ctx, sub.ID, "s3://assets/v2.mp4", 0)
	require.NoError(t, err)
	assert.Equal(t, first.Version, second.Version)

	_, err = h.engine.Resubmit(ctx, sub.ID, "s3://assets/v3.mp4", 0)
	assert.ErrorIs(t, err, submission.ErrStateConflict)
}

func TestExpectedVersionMismatch(t *testing.T) {
	h := newHarness(t, nil)
	sub := h.submit(t, submission.ModelDirectHandoff)

	_, err := h.engine.Review(context.Background(), ReviewInput{SubmissionID: sub.ID, Feedback: "x", ExpectedVersion: sub.Version + 5})
	assert.ErrorIs(t, err, submission.ErrConcurrentModification)
}

func TestSinglePendingIntentPerSubmission(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)
	sub := h.submit(t, submission.ModelSparkAds)
	approved := h.approve(t, sub.ID)

	for i := 0; i < 3; i++ {
		got, err := h.engine.InitiatePayment(ctx, sub.ID, 25000)
		require.NoError(t, err)
		assert.Equal(t, *approved.PaymentIntentID, *got.PaymentIntentID)
	}

	_, err := h.payments.Fail(ctx, *approved.PaymentIntentID, "declined")
	require.NoError(t, err)
	detached, err := h.engine.Get(ctx, sub.ID)
	require.NoError(t, err)
	assert.Nil(t, detached.PaymentIntentID)

	retried, err := h.engine.InitiatePayment(ctx, sub.ID, 25000)
	require.NoError(t, err)
	assert.NotEqual(t, *approved.PaymentIntentID, *retried.PaymentIntentID)

	pending, err := h.intents.GetPendingBySubmission(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, *retried.PaymentIntentID, pending.ID)
}

func TestPollProofRequiresProofRequested(t *testing.T) {
	h := newHarness(t, nil)
	sub := h.submit(t, submission.ModelSparkAds)

	_, _, err := h.engine.PollProof(context.Background(), sub.ID)
	assert.ErrorIs(t, err, submission.ErrStateConflict)
}

func TestNotifierFailureDoesNotFailOperation(t *testing.T) {
	h := newHarness(t, nil)
	h.notifier.err = errors.New("smtp down")

	sub := h.submit(t, submission.ModelDirectHandoff)
	approved := h.approve(t, sub.ID)
	assert.Equal(t, submission.StatusApproved, approved.Status)

	assert.Eventually(t, func() bool {
		return h.notifier.has(notification.EventApproved)
	}, time.Second, 10*time.Millisecond)
}

func TestGetUnknownSubmission(t *testing.T) {
	h := newHarness(t, nil)
	_, err := h.engine.Get(context.Background(), uuid.New())
	assert.ErrorIs(t, err, submission.ErrNotFound)
	_, err = h.engine.GetHistory(context.Background(), uuid.New())
	assert.ErrorIs(t, err, submission.ErrNotFound)
}
