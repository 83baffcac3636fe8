package httpapi

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"

	"github.com/google/uuid"
)

const (
	signatureHeader = "X-Signature"
	maxWebhookBody  = 1 << 20
)

const (
	paymentCheckoutStarted = "checkout_started"
	paymentSucceeded       = "payment_succeeded"
	paymentFailed          = "payment_failed"
)

type paymentEvent struct {
	Type     string `json:"type"`
	IntentID string `json:"intentId"`
	Reason   string `json:"reason,omitempty"`
}

type proofEvent struct {
	SubmissionID uuid.UUID `json:"submissionId"`
	Epoch        int64     `json:"epoch"`
	Proof        string    `json:"proof"`
}

// verifySignature checks a hex HMAC-SHA256 of the raw body. An empty secret disables the check.
func (s *Server) verifySignature(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
		if err != nil {
			respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", "unreadable body")
			return
		}
		if len(s.webhookSecret) > 0 && !validSignature(s.webhookSecret, body, r.Header.Get(signatureHeader)) {
			respondError(w, http.StatusUnauthorized, "UNAUTHORIZED", "invalid signature")
			return
		}
		r.Body = io.NopCloser(bytes.NewReader(body))
		next.ServeHTTP(w, r)
	})
}

func validSignature(secret, body []byte, signature string) bool {
	got, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return hmac.Equal(got, mac.Sum(nil))
}

// paymentWebhook applies a processor callback. Unknown event types are acknowledged and ignored.
func (s *Server) paymentWebhook(w http.ResponseWriter, r *http.Request) {
	var evt paymentEvent
	if err := decodeBody(r, &evt); err != nil {
		respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", "invalid body")
		return
	}
	ctx := r.Context()
	intent, err := s.payments.Resolve(ctx, evt.IntentID)
	if err != nil {
		s.respondDomainError(w, r, err)
		return
	}

	log := s.logger.With().Str("intent_id", intent.ID.String()).Str("type", evt.Type).Logger()
	switch evt.Type {
	case paymentCheckoutStarted:
		intent, err = s.payments.MarkAwaitingExternalConfirmation(ctx, intent.ID)
	case paymentSucceeded:
		intent, err = s.payments.Confirm(ctx, intent.ID)
	case paymentFailed:
		intent, err = s.payments.Fail(ctx, intent.ID, evt.Reason)
	default:
		log.Warn().Msg("ignoring payment event")
		respondJSON(w, http.StatusAccepted, map[string]string{"status": "ignored"})
		return
	}
	if err != nil {
		log.Error().Err(err).Msg("apply payment event")
		s.respondDomainError(w, r, err)
		return
	}
	log.Info().Str("status", string(intent.Status)).Msg("payment event applied")
	respondJSON(w, http.StatusOK, intent)
}

// proofWebhook delivers a proof pushed by the upstream source.
func (s *Server) proofWebhook(w http.ResponseWriter, r *http.Request) {
	var evt proofEvent
	if err := decodeBody(r, &evt); err != nil {
		respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", "invalid body")
		return
	}
	if evt.SubmissionID == uuid.Nil || evt.Proof == "" {
		respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", "submissionId and proof are required")
		return
	}
	sub, result, err := s.engine.ReceiveProof(r.Context(), evt.SubmissionID, evt.Epoch, evt.Proof)
	if err != nil {
		s.respondDomainError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, proofResponse{Submission: sub, Result: result})
}
