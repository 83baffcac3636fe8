package proof

//go:generate go run go.uber.org/mock/mockgen -destination=mocks/mock_source.go -package=mocks . Source

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
)

var (
	// ErrProofNotFoundYet means the upstream has no proof for the submission yet.
	// It is an outcome, not a failure.
	ErrProofNotFoundYet = errors.New("proof not available yet")
	ErrNotRequired      = errors.New("content model does not use a distribution proof")
)

// ResultKind distinguishes fetch outcomes.
type ResultKind string

const (
	ResultRequested ResultKind = "REQUESTED"
	ResultReceived  ResultKind = "RECEIVED"
	ResultStale     ResultKind = "STALE"
)

// FetchResult is the outcome of requesting or polling a proof.
type FetchResult struct {
	Kind  ResultKind `json:"kind"`
	Proof string     `json:"proof,omitempty"`
	Epoch int64      `json:"epoch"`
}

// Requested builds a result meaning "still pending upstream".
func Requested(epoch int64) FetchResult {
	return FetchResult{Kind: ResultRequested, Epoch: epoch}
}

// Received builds a result carrying a proof.
func Received(epoch int64, value string) FetchResult {
	return FetchResult{Kind: ResultReceived, Proof: value, Epoch: epoch}
}

// Source is the external provider of distribution proofs.
// A missing proof is reported as ok=false with a nil error.
type Source interface {
	FetchSparkCode(ctx context.Context, submissionID uuid.UUID) (code string, ok bool, err error)
	FetchTikTokLink(ctx context.Context, submissionID uuid.UUID) (link string, ok bool, err error)
}

// Limiter throttles calls to the proof source per key.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

var affiliateNamespace = uuid.MustParse("6f1d7a52-3c0e-4f7b-9a41-2d8e5b0c9f17")

// AffiliateLink derives a stable affiliate link for a submission.
func AffiliateLink(baseURL string, submissionID uuid.UUID) string {
	token := uuid.NewSHA1(affiliateNamespace, submissionID[:])
	return strings.TrimRight(baseURL, "/") + "/" + strings.ReplaceAll(token.String(), "-", "")
}
