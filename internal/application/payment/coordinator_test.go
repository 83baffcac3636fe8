package payment

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	domainPayment "github.com/brandmarket/submission-hub/internal/domain/payment"
	"github.com/brandmarket/submission-hub/internal/domain/payment/mocks"
	"github.com/brandmarket/submission-hub/internal/domain/submission"
)

type recordingListener struct {
	awaiting  []uuid.UUID
	confirmed []uuid.UUID
	failed    []uuid.UUID
	intents   []uuid.UUID
}

func (l *recordingListener) MarkAwaitingPayment(_ context.Context, id, intentID uuid.UUID) (*submission.Submission, error) {
	l.awaiting = append(l.awaiting, id)
	l.intents = append(l.intents, intentID)
	return nil, nil
}

func (l *recordingListener) ConfirmPayment(_ context.Context, id, intentID uuid.UUID) (*submission.Submission, error) {
	l.confirmed = append(l.confirmed, id)
	l.intents = append(l.intents, intentID)
	return nil, nil
}

func (l *recordingListener) PaymentFailed(_ context.Context, id, intentID uuid.UUID) (*submission.Submission, error) {
	l.failed = append(l.failed, id)
	l.intents = append(l.intents, intentID)
	return nil, nil
}

func newCoordinator(t *testing.T) (*Coordinator, *mocks.MockRepository, *mocks.MockProcessor) {
	ctrl := gomock.NewController(t)
	repo := mocks.NewMockRepository(ctrl)
	processor := mocks.NewMockProcessor(ctrl)
	return NewCoordinator(repo, processor, Config{Currency: "USD"}, zerolog.Nop()), repo, processor
}

func TestInitiate_CreatesIntentWithSubmissionAsIdempotencyKey(t *testing.T) {
	c, repo, processor := newCoordinator(t)
	subID := uuid.New()

	repo.EXPECT().GetPendingBySubmission(gomock.Any(), subID).Return(nil, nil)
	repo.EXPECT().ListBySubmission(gomock.Any(), subID).Return(nil, nil)
	processor.EXPECT().
		CreateIntent(gomock.Any(), int64(5000), "usd", subID.String(), gomock.Any()).
		Return("pi_123", nil)
	repo.EXPECT().Create(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, i *domainPayment.Intent) error {
		assert.Equal(t, subID, i.SubmissionID)
		assert.Equal(t, domainPayment.StatusPending, i.Status)
		return nil
	})

	intent, err := c.Initiate(context.Background(), subID, 5000)
	require.NoError(t, err)
	assert.Equal(t, "pi_123", intent.ExternalID)
	assert.Equal(t, "usd", intent.Currency)
}

func TestInitiate_ReturnsExistingPendingIntent(t *testing.T) {
	c, repo, _ := newCoordinator(t)
	subID := uuid.New()
	existing := domainPayment.NewIntent(subID, "pi_1", 5000, "usd")

	repo.EXPECT().GetPendingBySubmission(gomock.Any(), subID).Return(existing, nil)

	intent, err := c.Initiate(context.Background(), subID, 5000)
	require.NoError(t, err)
	assert.Equal(t, existing.ID, intent.ID)
}

func TestInitiate_ReturnsConfirmedIntentWithoutCharging(t *testing.T) {
	c, repo, _ := newCoordinator(t)
	subID := uuid.New()
	failed := domainPayment.NewIntent(subID, "pi_0", 5000, "usd")
	require.NoError(t, failed.Fail("declined"))
	paid := domainPayment.NewIntent(subID, "pi_1", 5000, "usd")
	require.NoError(t, paid.Confirm())

	repo.EXPECT().GetPendingBySubmission(gomock.Any(), subID).Return(nil, nil)
	repo.EXPECT().ListBySubmission(gomock.Any(), subID).Return([]*domainPayment.Intent{failed, paid}, nil)

	intent, err := c.Initiate(context.Background(), subID, 5000)
	require.NoError(t, err)
	assert.Equal(t, paid.ID, intent.ID)
	assert.Equal(t, domainPayment.StatusConfirmed, intent.Status)
}

func TestInitiate_RetriesAfterFailedIntent(t *testing.T) {
	c, repo, processor := newCoordinator(t)
	subID := uuid.New()
	failed := domainPayment.NewIntent(subID, "pi_0", 5000, "usd")
	require.NoError(t, failed.Fail("declined"))

	repo.EXPECT().GetPendingBySubmission(gomock.Any(), subID).Return(nil, nil)
	repo.EXPECT().ListBySubmission(gomock.Any(), subID).Return([]*domainPayment.Intent{failed}, nil)
	processor.EXPECT().CreateIntent(gomock.Any(), int64(5000), "usd", subID.String(), gomock.Any()).Return("pi_1", nil)
	repo.EXPECT().Create(gomock.Any(), gomock.Any()).Return(nil)

	intent, err := c.Initiate(context.Background(), subID, 5000)
	require.NoError(t, err)
	assert.Equal(t, "pi_1", intent.ExternalID)
}

func TestInitiate_ProcessorFailurePersistsNothing(t *testing.T) {
	c, repo, processor := newCoordinator(t)
	subID := uuid.New()

	repo.EXPECT().GetPendingBySubmission(gomock.Any(), subID).Return(nil, nil)
	repo.EXPECT().ListBySubmission(gomock.Any(), subID).Return(nil, nil)
	processor.EXPECT().CreateIntent(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
		Return("", errors.New("card network down"))

	_, err := c.Initiate(context.Background(), subID, 5000)
	assert.ErrorIs(t, err, domainPayment.ErrInitiationFailed)
}

func TestInitiate_RejectsNonPositiveAmount(t *testing.T) {
	c, _, _ := newCoordinator(t)
	_, err := c.Initiate(context.Background(), uuid.New(), 0)
	assert.ErrorIs(t, err, domainPayment.ErrInvalidAmount)
}

func TestInitiate_LostRaceReturnsWinner(t *testing.T) {
	c, repo, processor := newCoordinator(t)
	subID := uuid.New()
	winner := domainPayment.NewIntent(subID, "pi_w", 5000, "usd")

	gomock.InOrder(
		repo.EXPECT().GetPendingBySubmission(gomock.Any(), subID).Return(nil, nil),
		repo.EXPECT().ListBySubmission(gomock.Any(), subID).Return(nil, nil),
		processor.EXPECT().CreateIntent(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Return("pi_w", nil),
		repo.EXPECT().Create(gomock.Any(), gomock.Any()).Return(domainPayment.ErrDuplicatePendingIntent),
		repo.EXPECT().GetPendingBySubmission(gomock.Any(), subID).Return(winner, nil),
	)

	intent, err := c.Initiate(context.Background(), subID, 5000)
	require.NoError(t, err)
	assert.Equal(t, winner.ID, intent.ID)
}

func TestConfirm_SignalsListenerAndToleratesRedelivery(t *testing.T) {
	c, repo, _ := newCoordinator(t)
	listener := &recordingListener{}
	c.SetListener(listener)
	intent := domainPayment.NewIntent(uuid.New(), "pi_1", 5000, "usd")

	repo.EXPECT().GetByID(gomock.Any(), intent.ID).Return(intent, nil).Times(2)
	repo.EXPECT().Update(gomock.Any(), gomock.Any()).Return(nil).Times(1)

	got, err := c.Confirm(context.Background(), intent.ID)
	require.NoError(t, err)
	assert.Equal(t, domainPayment.StatusConfirmed, got.Status)

	_, err = c.Confirm(context.Background(), intent.ID)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{intent.SubmissionID, intent.SubmissionID}, listener.confirmed)
	assert.Equal(t, []uuid.UUID{intent.ID, intent.ID}, listener.intents)
}

func TestMarkAwaitingAndFail(t *testing.T) {
	c, repo, _ := newCoordinator(t)
	listener := &recordingListener{}
	c.SetListener(listener)
	intent := domainPayment.NewIntent(uuid.New(), "pi_1", 5000, "usd")

	repo.EXPECT().GetByID(gomock.Any(), intent.ID).Return(intent, nil).AnyTimes()
	repo.EXPECT().Update(gomock.Any(), gomock.Any()).Return(nil).Times(2)

	got, err := c.MarkAwaitingExternalConfirmation(context.Background(), intent.ID)
	require.NoError(t, err)
	assert.True(t, got.AwaitingConfirmation)
	assert.Equal(t, []uuid.UUID{intent.SubmissionID}, listener.awaiting)

	got, err = c.Fail(context.Background(), intent.ID, "declined")
	require.NoError(t, err)
	assert.Equal(t, domainPayment.StatusFailed, got.Status)
	assert.Equal(t, []uuid.UUID{intent.SubmissionID}, listener.failed)
	assert.Equal(t, []uuid.UUID{intent.ID, intent.ID}, listener.intents)
}

func TestResolveByExternalID(t *testing.T) {
	c, repo, _ := newCoordinator(t)
	intent := domainPayment.NewIntent(uuid.New(), "pi_ext", 5000, "usd")

	repo.EXPECT().GetByExternalID(gomock.Any(), "pi_ext").Return(intent, nil)
	got, err := c.Resolve(context.Background(), "pi_ext")
	require.NoError(t, err)
	assert.Equal(t, intent.ID, got.ID)

	repo.EXPECT().GetByID(gomock.Any(), gomock.Any()).Return(nil, nil)
	repo.EXPECT().GetByExternalID(gomock.Any(), gomock.Any()).Return(nil, nil)
	_, err = c.Resolve(context.Background(), uuid.NewString())
	assert.ErrorIs(t, err, domainPayment.ErrIntentNotFound)
}
