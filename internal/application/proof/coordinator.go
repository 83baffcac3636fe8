package proof

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	domainProof "github.com/brandmarket/submission-hub/internal/domain/proof"
	"github.com/brandmarket/submission-hub/internal/domain/submission"
)

// Strategy fetches the distribution proof for one content model.
type Strategy interface {
	RequiresProof() bool
	// Fetch returns domainProof.ErrProofNotFoundYet while the upstream has nothing.
	Fetch(ctx context.Context, sub *submission.Submission) (string, error)
}

// SparkCodeStrategy fetches a Spark Ads authorization code.
type SparkCodeStrategy struct {
	source domainProof.Source
}

func (SparkCodeStrategy) RequiresProof() bool { return true }

func (s SparkCodeStrategy) Fetch(ctx context.Context, sub *submission.Submission) (string, error) {
	return fromSource(s.source.FetchSparkCode(ctx, sub.ID))
}

// TikTokLinkStrategy fetches the link of the creator's published post.
type TikTokLinkStrategy struct {
	source domainProof.Source
}

func (TikTokLinkStrategy) RequiresProof() bool { return true }

func (s TikTokLinkStrategy) Fetch(ctx context.Context, sub *submission.Submission) (string, error) {
	return fromSource(s.source.FetchTikTokLink(ctx, sub.ID))
}

// NoOpStrategy serves models whose asset is released on approval.
type NoOpStrategy struct{}

func (NoOpStrategy) RequiresProof() bool { return false }

func (NoOpStrategy) Fetch(context.Context, *submission.Submission) (string, error) {
	return "", domainProof.ErrNotRequired
}

// AffiliateLinkStrategy needs no proof but hands out a tracking link on approval.
type AffiliateLinkStrategy struct {
	NoOpStrategy
	baseURL string
}

// Link derives the submission's affiliate link.
func (s AffiliateLinkStrategy) Link(sub *submission.Submission) string {
	return domainProof.AffiliateLink(s.baseURL, sub.ID)
}

func fromSource(value string, ok bool, err error) (string, error) {
	if err != nil {
		return "", err
	}
	if !ok || value == "" {
		return "", domainProof.ErrProofNotFoundYet
	}
	return value, nil
}

// Config tunes the coordinator.
type Config struct {
	FetchTimeout     time.Duration
	AffiliateBaseURL string
}

// Coordinator runs proof fetching per content model.
type Coordinator struct {
	strategies   map[submission.ContentModel]Strategy
	affiliate    AffiliateLinkStrategy
	limiter      domainProof.Limiter
	fetchTimeout time.Duration
	logger       zerolog.Logger
}

// NewCoordinator creates a proof coordinator. limiter may be nil.
func NewCoordinator(source domainProof.Source, limiter domainProof.Limiter, cfg Config, logger zerolog.Logger) *Coordinator {
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = 10 * time.Second
	}
	affiliate := AffiliateLinkStrategy{baseURL: cfg.AffiliateBaseURL}
	return &Coordinator{
		strategies: map[submission.ContentModel]Strategy{
			submission.ModelDirectHandoff:     NoOpStrategy{},
			submission.ModelSparkAds:          SparkCodeStrategy{source: source},
			submission.ModelCreatorPostedLink: TikTokLinkStrategy{source: source},
			submission.ModelAffiliateLinked:   affiliate,
		},
		affiliate:    affiliate,
		limiter:      limiter,
		fetchTimeout: cfg.FetchTimeout,
		logger:       logger.With().Str("service", "proof").Logger(),
	}
}

// StrategyFor returns the strategy serving model.
func (c *Coordinator) StrategyFor(model submission.ContentModel) (Strategy, error) {
	st, ok := c.strategies[model]
	if !ok {
		return nil, submission.Validationf("unknown content distribution model %q", model)
	}
	return st, nil
}

// RequestAndTryFetch makes one immediate fetch attempt for a submission that just entered
// PROOF_REQUESTED. Upstream failures degrade to a REQUESTED result.
func (c *Coordinator) RequestAndTryFetch(ctx context.Context, sub *submission.Submission) (domainProof.FetchResult, error) {
	st, err := c.StrategyFor(sub.ContentModel)
	if err != nil {
		return domainProof.FetchResult{}, err
	}
	if !st.RequiresProof() {
		return domainProof.FetchResult{}, domainProof.ErrNotRequired
	}

	value, err := c.Fetch(ctx, sub)
	switch {
	case err == nil:
		return domainProof.Received(sub.FetchEpoch, value), nil
	case errors.Is(err, domainProof.ErrProofNotFoundYet):
		return domainProof.Requested(sub.FetchEpoch), nil
	default:
		c.logger.Warn().Err(err).Str("submission_id", sub.ID.String()).Msg("immediate proof fetch failed")
		return domainProof.Requested(sub.FetchEpoch), nil
	}
}

// Fetch asks the upstream for the submission's proof within the fetch timeout.
// A timeout or a throttled call reports ErrProofNotFoundYet.
func (c *Coordinator) Fetch(ctx context.Context, sub *submission.Submission) (string, error) {
	st, err := c.StrategyFor(sub.ContentModel)
	if err != nil {
		return "", err
	}
	if !st.RequiresProof() {
		return "", domainProof.ErrNotRequired
	}

	if c.limiter != nil {
		allowed, err := c.limiter.Allow(ctx, sub.ID.String())
		if err != nil {
			c.logger.Warn().Err(err).Msg("proof fetch limiter unavailable")
		} else if !allowed {
			c.logger.Debug().Str("submission_id", sub.ID.String()).Msg("proof fetch throttled")
			return "", domainProof.ErrProofNotFoundYet
		}
	}

	fetchCtx, cancel := context.WithTimeout(ctx, c.fetchTimeout)
	defer cancel()

	value, err := st.Fetch(fetchCtx, sub)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			c.logger.Warn().Str("submission_id", sub.ID.String()).Dur("timeout", c.fetchTimeout).Msg("proof fetch timed out")
			return "", domainProof.ErrProofNotFoundYet
		}
		if errors.Is(err, domainProof.ErrProofNotFoundYet) {
			return "", err
		}
		return "", fmt.Errorf("fetch proof: %w", err)
	}
	return value, nil
}

// Verify checks that the submission holds a proof the brand can accept.
func (c *Coordinator) Verify(_ context.Context, sub *submission.Submission) error {
	st, err := c.StrategyFor(sub.ContentModel)
	if err != nil {
		return err
	}
	if !st.RequiresProof() {
		return &submission.StateConflictError{Operation: "verify_proof", From: sub.Status, Model: sub.ContentModel}
	}
	if sub.Proof == nil || *sub.Proof == "" {
		return submission.Validationf("no proof has been received")
	}
	c.logger.Info().Str("submission_id", sub.ID.String()).Int64("epoch", sub.FetchEpoch).Msg("proof verified")
	return nil
}

// AffiliateLink returns the link to attach on approval, if the model uses one.
func (c *Coordinator) AffiliateLink(sub *submission.Submission) (string, bool) {
	if sub.ContentModel != submission.ModelAffiliateLinked {
		return "", false
	}
	if c.affiliate.baseURL == "" {
		c.logger.Warn().Str("submission_id", sub.ID.String()).Msg("no affiliate base URL configured; approving without a link")
		return "", false
	}
	return c.affiliate.Link(sub), true
}
