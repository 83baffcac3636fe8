package httpapi

import (
	"errors"
	"net/http"

	"github.com/brandmarket/submission-hub/internal/domain/payment"
	"github.com/brandmarket/submission-hub/internal/domain/submission"
)

// statusFor maps a domain error to an HTTP status and error code.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, submission.ErrValidation), errors.Is(err, payment.ErrInvalidAmount):
		return http.StatusBadRequest, "VALIDATION_ERROR"
	case errors.Is(err, submission.ErrNotFound), errors.Is(err, payment.ErrIntentNotFound):
		return http.StatusNotFound, "NOT_FOUND"
	case errors.Is(err, submission.ErrRevisionLimitExceeded):
		return http.StatusConflict, "REVISION_LIMIT_EXCEEDED"
	case errors.Is(err, submission.ErrConcurrentModification):
		return http.StatusConflict, "CONCURRENT_MODIFICATION"
	case errors.Is(err, submission.ErrStateConflict), errors.Is(err, payment.ErrInvalidTransition):
		return http.StatusConflict, "STATE_CONFLICT"
	case errors.Is(err, payment.ErrInitiationFailed):
		return http.StatusBadGateway, "PAYMENT_INITIATION_FAILED"
	}
	return http.StatusInternalServerError, "INTERNAL_ERROR"
}

func (s *Server) respondDomainError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := statusFor(err)
	if status == http.StatusInternalServerError {
		s.logger.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
		respondError(w, status, code, "internal error")
		return
	}
	respondError(w, status, code, err.Error())
}
