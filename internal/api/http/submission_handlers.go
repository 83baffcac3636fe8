package httpapi

import (
	"context"
	"errors"
	"net/http"

	"github.com/google/uuid"

	"github.com/brandmarket/submission-hub/internal/application/lifecycle"
	"github.com/brandmarket/submission-hub/internal/application/pricing"
	"github.com/brandmarket/submission-hub/internal/domain/payment"
	"github.com/brandmarket/submission-hub/internal/domain/proof"
	"github.com/brandmarket/submission-hub/internal/domain/submission"
)

type submitRequest struct {
	ProjectID    string `json:"projectId"`
	CreatorID    string `json:"creatorId"`
	ContentModel string `json:"contentDistributionModel"`
	AssetRef     string `json:"assetRef"`
	MaxRevisions int    `json:"maxRevisions"`
}

type resubmitRequest struct {
	AssetRef string `json:"assetRef"`
}

type pricingTerms struct {
	PerVideoRate int64 `json:"perVideoRate"`
	BulkRate     int64 `json:"bulkRate"`
	VideoCount   int   `json:"videoCount"`
}

type reviewRequest struct {
	Approved bool          `json:"approved"`
	Feedback string        `json:"feedback"`
	Issues   []string      `json:"issues"`
	Amount   int64         `json:"amount"`
	Pricing  *pricingTerms `json:"pricing"`
}

type paymentRequest struct {
	Amount  int64         `json:"amount"`
	Pricing *pricingTerms `json:"pricing"`
}

type proofResponse struct {
	Submission *submission.Submission `json:"submission"`
	Result     proof.FetchResult      `json:"result"`
}

func (s *Server) submit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", "invalid body")
		return
	}
	sub, err := s.engine.Submit(r.Context(), lifecycle.SubmitInput{
		ProjectID:    req.ProjectID,
		CreatorID:    req.CreatorID,
		ContentModel: submission.ContentModel(req.ContentModel),
		AssetRef:     req.AssetRef,
		MaxRevisions: req.MaxRevisions,
	})
	if err != nil {
		s.respondDomainError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, sub)
}

func (s *Server) getSubmission(w http.ResponseWriter, r *http.Request) {
	id, err := parseUUIDParam(r, "submissionId")
	if err != nil {
		respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", "invalid submission id")
		return
	}
	sub, err := s.engine.Get(r.Context(), id)
	if err != nil {
		s.respondDomainError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, sub)
}

func (s *Server) getStatus(w http.ResponseWriter, r *http.Request) {
	id, err := parseUUIDParam(r, "submissionId")
	if err != nil {
		respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", "invalid submission id")
		return
	}
	view, err := s.engine.GetStatus(r.Context(), id)
	if err != nil {
		s.respondDomainError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, view)
}

func (s *Server) getHistory(w http.ResponseWriter, r *http.Request) {
	id, err := parseUUIDParam(r, "submissionId")
	if err != nil {
		respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", "invalid submission id")
		return
	}
	records, err := s.engine.GetHistory(r.Context(), id)
	if err != nil {
		s.respondDomainError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"reviews": records})
}

func (s *Server) listPayments(w http.ResponseWriter, r *http.Request) {
	id, err := parseUUIDParam(r, "submissionId")
	if err != nil {
		respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", "invalid submission id")
		return
	}
	if _, err := s.engine.Get(r.Context(), id); err != nil {
		s.respondDomainError(w, r, err)
		return
	}
	intents, err := s.payments.ListForSubmission(r.Context(), id)
	if err != nil {
		s.respondDomainError(w, r, err)
		return
	}
	if intents == nil {
		intents = []*payment.Intent{}
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"intents": intents})
}

func (s *Server) resubmit(w http.ResponseWriter, r *http.Request) {
	id, err := parseUUIDParam(r, "submissionId")
	if err != nil {
		respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", "invalid submission id")
		return
	}
	version, err := expectedVersion(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", "invalid If-Match")
		return
	}
	var req resubmitRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", "invalid body")
		return
	}
	sub, err := s.engine.Resubmit(r.Context(), id, req.AssetRef, version)
	if err != nil {
		s.respondDomainError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, sub)
}

func (s *Server) review(w http.ResponseWriter, r *http.Request) {
	id, err := parseUUIDParam(r, "submissionId")
	if err != nil {
		respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", "invalid submission id")
		return
	}
	version, err := expectedVersion(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", "invalid If-Match")
		return
	}
	var req reviewRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", "invalid body")
		return
	}
	amount := req.Amount
	if req.Approved {
		if amount, err = s.resolveAmount(req.Amount, req.Pricing); err != nil {
			s.respondDomainError(w, r, err)
			return
		}
	}
	sub, err := s.engine.Review(r.Context(), lifecycle.ReviewInput{
		SubmissionID:    id,
		Approved:        req.Approved,
		Feedback:        req.Feedback,
		Issues:          req.Issues,
		Amount:          amount,
		ExpectedVersion: version,
	})
	if err != nil {
		s.respondPaymentAware(w, r, sub, err)
		return
	}
	respondJSON(w, http.StatusOK, sub)
}

func (s *Server) initiatePayment(w http.ResponseWriter, r *http.Request) {
	id, err := parseUUIDParam(r, "submissionId")
	if err != nil {
		respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", "invalid submission id")
		return
	}
	var req paymentRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", "invalid body")
		return
	}
	amount, err := s.resolveAmount(req.Amount, req.Pricing)
	if err != nil {
		s.respondDomainError(w, r, err)
		return
	}
	sub, err := s.engine.InitiatePayment(r.Context(), id, amount)
	if err != nil {
		s.respondPaymentAware(w, r, sub, err)
		return
	}
	respondJSON(w, http.StatusOK, sub)
}

func (s *Server) requestProof(w http.ResponseWriter, r *http.Request) {
	s.proofOperation(w, r, s.engine.RequestProof)
}

func (s *Server) requestNewProof(w http.ResponseWriter, r *http.Request) {
	s.proofOperation(w, r, s.engine.RequestNewProof)
}

func (s *Server) pollProof(w http.ResponseWriter, r *http.Request) {
	id, err := parseUUIDParam(r, "submissionId")
	if err != nil {
		respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", "invalid submission id")
		return
	}
	sub, result, err := s.engine.PollProof(r.Context(), id)
	if err != nil {
		s.respondDomainError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, proofResponse{Submission: sub, Result: result})
}

func (s *Server) verifyProof(w http.ResponseWriter, r *http.Request) {
	id, err := parseUUIDParam(r, "submissionId")
	if err != nil {
		respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", "invalid submission id")
		return
	}
	version, err := expectedVersion(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", "invalid If-Match")
		return
	}
	sub, err := s.engine.VerifyProof(r.Context(), id, version)
	if err != nil {
		s.respondDomainError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, sub)
}

type proofOp func(ctx context.Context, id uuid.UUID, expectedVersion int64) (*submission.Submission, proof.FetchResult, error)

func (s *Server) proofOperation(w http.ResponseWriter, r *http.Request, op proofOp) {
	id, err := parseUUIDParam(r, "submissionId")
	if err != nil {
		respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", "invalid submission id")
		return
	}
	version, err := expectedVersion(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", "invalid If-Match")
		return
	}
	sub, result, err := op(r.Context(), id, version)
	if err != nil {
		s.respondDomainError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, proofResponse{Submission: sub, Result: result})
}

// resolveAmount prefers an explicit amount and falls back to the pricing expression.
func (s *Server) resolveAmount(amount int64, terms *pricingTerms) (int64, error) {
	if amount != 0 || terms == nil {
		return amount, nil
	}
	if s.pricing == nil {
		return 0, submission.Validationf("amount is required")
	}
	computed, err := s.pricing.Amount(pricing.Terms{
		PerVideoRate: terms.PerVideoRate,
		BulkRate:     terms.BulkRate,
		VideoCount:   terms.VideoCount,
	})
	if err != nil {
		return 0, submission.Validationf("pricing: %v", err)
	}
	return computed, nil
}

// respondPaymentAware reports an initiation failure together with the approved submission.
func (s *Server) respondPaymentAware(w http.ResponseWriter, r *http.Request, sub *submission.Submission, err error) {
	if sub != nil && errors.Is(err, payment.ErrInitiationFailed) {
		s.logger.Warn().Err(err).Str("submission_id", sub.ID.String()).Msg("payment initiation failed")
		respondJSON(w, http.StatusBadGateway, map[string]interface{}{
			"error":      "PAYMENT_INITIATION_FAILED",
			"message":    err.Error(),
			"submission": sub,
		})
		return
	}
	s.respondDomainError(w, r, err)
}
