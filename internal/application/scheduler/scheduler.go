package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/brandmarket/submission-hub/internal/domain/proof"
	"github.com/brandmarket/submission-hub/internal/domain/submission"
)

// Lister finds submissions waiting on a proof.
type Lister interface {
	ListByStatus(ctx context.Context, status submission.Status, limit int) ([]*submission.Submission, error)
}

// Poller makes one fetch attempt for a submission.
type Poller interface {
	PollProof(ctx context.Context, id uuid.UUID) (*submission.Submission, proof.FetchResult, error)
}

// PollSummary counts the outcomes of one poll pass.
type PollSummary struct {
	Checked  int
	Received int
	Pending  int
	Failed   int
}

// ProofPoller polls the proof source for every submission in PROOF_REQUESTED.
type ProofPoller struct {
	lister  Lister
	poller  Poller
	batch   int
	timeout time.Duration
	logger  zerolog.Logger
}

// NewProofPoller creates a poller that checks at most batch submissions per pass.
func NewProofPoller(lister Lister, poller Poller, batch int, timeout time.Duration, logger zerolog.Logger) *ProofPoller {
	if batch <= 0 {
		batch = 50
	}
	if timeout <= 0 {
		timeout = time.Minute
	}
	return &ProofPoller{
		lister:  lister,
		poller:  poller,
		batch:   batch,
		timeout: timeout,
		logger:  logger.With().Str("job", "proof_poll").Logger(),
	}
}

// PollOnce runs one pass. Failures for one submission do not stop the pass.
func (p *ProofPoller) PollOnce(ctx context.Context) (PollSummary, error) {
	var summary PollSummary
	subs, err := p.lister.ListByStatus(ctx, submission.StatusProofRequested, p.batch)
	if err != nil {
		return summary, err
	}
	for _, sub := range subs {
		if ctx.Err() != nil {
			return summary, ctx.Err()
		}
		summary.Checked++
		_, result, err := p.poller.PollProof(ctx, sub.ID)
		switch {
		case err != nil && errors.Is(err, submission.ErrStateConflict):
			// Moved on since it was listed.
			summary.Pending++
		case err != nil:
			summary.Failed++
			p.logger.Warn().Err(err).Str("submission_id", sub.ID.String()).Msg("proof poll failed")
		case result.Kind == proof.ResultReceived:
			summary.Received++
		default:
			summary.Pending++
		}
	}
	return summary, nil
}

// Run is the cron entry point.
func (p *ProofPoller) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()

	summary, err := p.PollOnce(ctx)
	if err != nil {
		p.logger.Error().Err(err).Msg("proof poll pass aborted")
		return
	}
	p.logger.Info().
		Int("checked", summary.Checked).
		Int("received", summary.Received).
		Int("pending", summary.Pending).
		Int("failed", summary.Failed).
		Msg("proof poll pass finished")
}

// Scheduler manages the cron jobs.
type Scheduler struct {
	cron     *cron.Cron
	poller   *ProofPoller
	schedule string
	logger   zerolog.Logger
}

// NewScheduler creates a new scheduler instance.
func NewScheduler(poller *ProofPoller, schedule string, logger zerolog.Logger) *Scheduler {
	l := logger.With().Str("component", "scheduler").Logger()
	c := cron.New(cron.WithChain(cron.Recover(cron.PrintfLogger(&l))))
	return &Scheduler{
		cron:     c,
		poller:   poller,
		schedule: schedule,
		logger:   l,
	}
}

// Start registers the jobs and starts the cron scheduler.
func (s *Scheduler) Start() error {
	if _, err := s.cron.AddFunc(s.schedule, s.poller.Run); err != nil {
		return err
	}
	s.logger.Info().Str("schedule", s.schedule).Msg("scheduled proof poll job")
	s.cron.Start()
	return nil
}

// Stop stops the scheduler; the returned context is done once running jobs finish.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}
