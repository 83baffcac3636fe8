package submission

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Status represents submission lifecycle status.
type Status string

const (
	StatusSubmitted         Status = "SUBMITTED"
	StatusRevisionRequested Status = "REVISION_REQUESTED"
	StatusApproved          Status = "APPROVED"
	StatusProofRequested    Status = "PROOF_REQUESTED"
	StatusProofReceived     Status = "PROOF_RECEIVED"
	StatusProofVerified     Status = "PROOF_VERIFIED"
	StatusAwaitingPayment   Status = "AWAITING_PAYMENT"
	StatusPaymentConfirmed  Status = "PAYMENT_CONFIRMED"
)

// ContentModel is the project's content distribution model.
type ContentModel string

const (
	ModelDirectHandoff     ContentModel = "DIRECT_HANDOFF"
	ModelSparkAds          ContentModel = "SPARK_ADS"
	ModelCreatorPostedLink ContentModel = "CREATOR_POSTED_LINK"
	ModelAffiliateLinked   ContentModel = "AFFILIATE_LINKED"
)

// DefaultMaxRevisions applies when a project does not set its own cap.
const DefaultMaxRevisions = 3

// Valid reports whether m is a known content model.
func (m ContentModel) Valid() bool {
	switch m {
	case ModelDirectHandoff, ModelSparkAds, ModelCreatorPostedLink, ModelAffiliateLinked:
		return true
	}
	return false
}

// RequiresProof reports whether release of the asset is gated on a distribution proof.
func (m ContentModel) RequiresProof() bool {
	return m == ModelSparkAds || m == ModelCreatorPostedLink
}

// Submission is a creator's content submission for a project.
type Submission struct {
	ID              uuid.UUID    `json:"id"`
	ProjectID       string       `json:"projectId"`
	CreatorID       string       `json:"creatorId"`
	ContentModel    ContentModel `json:"contentDistributionModel"`
	Status          Status       `json:"status"`
	RevisionsUsed   int          `json:"revisionsUsed"`
	MaxRevisions    int          `json:"maxRevisions"`
	AssetRef        string       `json:"assetRef"`
	Proof           *string      `json:"proof,omitempty"`
	FetchEpoch      int64        `json:"fetchEpoch"`
	AffiliateLink   *string      `json:"affiliateLink,omitempty"`
	PaymentIntentID *uuid.UUID   `json:"paymentIntentId,omitempty"`
	Version         int64        `json:"version"`
	CreatedAt       time.Time    `json:"createdAt"`
	UpdatedAt       time.Time    `json:"updatedAt"`
	ApprovedAt      *time.Time   `json:"approvedAt,omitempty"`
	ProofVerifiedAt *time.Time   `json:"proofVerifiedAt,omitempty"`
}

// NewSubmission creates a submission in SUBMITTED state.
func NewSubmission(projectID, creatorID string, model ContentModel, assetRef string, maxRevisions int) (*Submission, error) {
	if strings.TrimSpace(projectID) == "" || strings.TrimSpace(creatorID) == "" {
		return nil, Validationf("project and creator are required")
	}
	if strings.TrimSpace(assetRef) == "" {
		return nil, Validationf("asset reference is required")
	}
	if !model.Valid() {
		return nil, Validationf("unknown content distribution model %q", model)
	}
	if maxRevisions <= 0 {
		maxRevisions = DefaultMaxRevisions
	}
	now := time.Now().UTC()
	return &Submission{
		ID:           uuid.New(),
		ProjectID:    strings.TrimSpace(projectID),
		CreatorID:    strings.TrimSpace(creatorID),
		ContentModel: model,
		Status:       StatusSubmitted,
		MaxRevisions: maxRevisions,
		AssetRef:     strings.TrimSpace(assetRef),
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

// Clone returns a deep copy, so a computed next state never aliases the loaded one.
func (s *Submission) Clone() *Submission {
	c := *s
	if s.Proof != nil {
		v := *s.Proof
		c.Proof = &v
	}
	if s.AffiliateLink != nil {
		v := *s.AffiliateLink
		c.AffiliateLink = &v
	}
	if s.PaymentIntentID != nil {
		v := *s.PaymentIntentID
		c.PaymentIntentID = &v
	}
	if s.ApprovedAt != nil {
		v := *s.ApprovedAt
		c.ApprovedAt = &v
	}
	if s.ProofVerifiedAt != nil {
		v := *s.ProofVerifiedAt
		c.ProofVerifiedAt = &v
	}
	return &c
}

// Resubmit moves a submission back to SUBMITTED with a new asset.
// It returns false when the submission already holds newAssetRef in SUBMITTED state.
func (s *Submission) Resubmit(newAssetRef string) (bool, error) {
	ref := strings.TrimSpace(newAssetRef)
	if ref == "" {
		return false, Validationf("asset reference is required")
	}
	if s.Status == StatusSubmitted && s.AssetRef == ref {
		return false, nil
	}
	if err := s.transition(StatusSubmitted, "resubmit"); err != nil {
		return false, err
	}
	s.AssetRef = ref
	return true, nil
}

// Approve accepts the submission.
func (s *Submission) Approve(now time.Time) error {
	if err := s.transition(StatusApproved, "approve"); err != nil {
		return err
	}
	s.ApprovedAt = &now
	return nil
}

// RequestRevision rejects the submission and consumes one revision.
func (s *Submission) RequestRevision() error {
	if s.RevisionsUsed >= s.MaxRevisions {
		return ErrRevisionLimitExceeded
	}
	if err := s.transition(StatusRevisionRequested, "reject"); err != nil {
		return err
	}
	s.RevisionsUsed++
	return nil
}

// RequestProof enters PROOF_REQUESTED and opens a new fetch epoch.
func (s *Submission) RequestProof() error {
	if !s.ContentModel.RequiresProof() {
		return &StateConflictError{Operation: "request_proof", From: s.Status, Model: s.ContentModel}
	}
	if err := s.transition(StatusProofRequested, "request_proof"); err != nil {
		return err
	}
	s.FetchEpoch++
	return nil
}

// ReceiveProof records a fetched proof for the given epoch.
func (s *Submission) ReceiveProof(epoch int64, proof string) error {
	if strings.TrimSpace(proof) == "" {
		return Validationf("proof is required")
	}
	if epoch != s.FetchEpoch {
		return ErrStaleFetch
	}
	if err := s.transition(StatusProofReceived, "receive_proof"); err != nil {
		return err
	}
	p := strings.TrimSpace(proof)
	s.Proof = &p
	return nil
}

// VerifyProof marks the held proof as checked by the brand.
func (s *Submission) VerifyProof(now time.Time) error {
	if err := s.transition(StatusProofVerified, "verify_proof"); err != nil {
		return err
	}
	s.ProofVerifiedAt = &now
	return nil
}

// RequestNewProof discards any held proof and re-enters PROOF_REQUESTED.
func (s *Submission) RequestNewProof() error {
	if s.Status != StatusProofRequested && s.Status != StatusProofReceived {
		return &StateConflictError{Operation: "request_new_proof", From: s.Status, Model: s.ContentModel}
	}
	s.Status = StatusProofRequested
	s.Proof = nil
	s.FetchEpoch++
	return nil
}

// AwaitPayment enters AWAITING_PAYMENT.
func (s *Submission) AwaitPayment() error {
	return s.transition(StatusAwaitingPayment, "await_payment")
}

// ConfirmPayment enters PAYMENT_CONFIRMED.
func (s *Submission) ConfirmPayment() error {
	return s.transition(StatusPaymentConfirmed, "confirm_payment")
}

// AttachPaymentIntent links the active payment intent.
func (s *Submission) AttachPaymentIntent(intentID uuid.UUID) {
	s.PaymentIntentID = &intentID
}

// DetachPaymentIntent clears the active payment intent.
func (s *Submission) DetachPaymentIntent() {
	s.PaymentIntentID = nil
}

// AttachAffiliateLink sets the generated affiliate link. It never changes status.
func (s *Submission) AttachAffiliateLink(link string) {
	s.AffiliateLink = &link
}

// ProofTrackComplete reports whether the distribution proof track no longer gates payment settlement.
func (s *Submission) ProofTrackComplete() bool {
	if s.ContentModel.RequiresProof() {
		return s.Status == StatusProofVerified || s.Status == StatusAwaitingPayment || s.Status == StatusPaymentConfirmed
	}
	return s.Status == StatusApproved || s.Status == StatusAwaitingPayment || s.Status == StatusPaymentConfirmed
}

// AssetDownloadable reports whether the brand may download the asset.
// Payment state never blocks download.
func (s *Submission) AssetDownloadable() bool {
	return s.ProofTrackComplete()
}

func (s *Submission) transition(target Status, op string) error {
	if !CanTransition(s.ContentModel, s.Status, target) {
		return &StateConflictError{Operation: op, From: s.Status, To: target, Model: s.ContentModel}
	}
	s.Status = target
	return nil
}
