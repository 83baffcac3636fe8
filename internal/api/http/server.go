package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/brandmarket/submission-hub/internal/application/lifecycle"
	appPayment "github.com/brandmarket/submission-hub/internal/application/payment"
	"github.com/brandmarket/submission-hub/internal/application/pricing"
	"github.com/brandmarket/submission-hub/internal/domain/notification"
	"github.com/brandmarket/submission-hub/internal/infrastructure/sse"
)

// Server holds dependencies for HTTP handlers.
type Server struct {
	engine        *lifecycle.Engine
	payments      *appPayment.Coordinator
	pricing       *pricing.Calculator
	sseHub        *sse.Hub
	webhookSecret []byte
	logger        zerolog.Logger
}

// NewServer creates the API server. calculator may be nil, in which case approvals must carry an amount.
func NewServer(
	engine *lifecycle.Engine,
	payments *appPayment.Coordinator,
	calculator *pricing.Calculator,
	sseHub *sse.Hub,
	webhookSecret string,
	logger zerolog.Logger,
) *Server {
	return &Server{
		engine:        engine,
		payments:      payments,
		pricing:       calculator,
		sseHub:        sseHub,
		webhookSecret: []byte(webhookSecret),
		logger:        logger.With().Str("component", "http").Logger(),
	}
}

// Router builds the HTTP router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/v1", func(r chi.Router) {
		// Streams must outlive the request timeout.
		r.Get("/creators/{creatorId}/events", s.sseEndpoint)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(30 * time.Second))

			r.Route("/submissions", func(r chi.Router) {
				r.Post("/", s.submit)
				r.Get("/{submissionId}", s.getSubmission)
				r.Get("/{submissionId}/status", s.getStatus)
				r.Get("/{submissionId}/history", s.getHistory)
				r.Get("/{submissionId}/payments", s.listPayments)
				r.Post("/{submissionId}/resubmit", s.resubmit)
				r.Post("/{submissionId}/review", s.review)
				r.Post("/{submissionId}/proof/request", s.requestProof)
				r.Post("/{submissionId}/proof/poll", s.pollProof)
				r.Post("/{submissionId}/proof/new", s.requestNewProof)
				r.Post("/{submissionId}/proof/verify", s.verifyProof)
				r.Post("/{submissionId}/payment", s.initiatePayment)
			})

			r.Route("/webhooks", func(r chi.Router) {
				r.Use(s.verifySignature)
				r.Post("/payments", s.paymentWebhook)
				r.Post("/proofs", s.proofWebhook)
			})
		})
	})

	return r
}

// Helpers
func respondJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, map[string]interface{}{
		"error":   code,
		"message": message,
	})
}

func parseUUIDParam(r *http.Request, key string) (uuid.UUID, error) {
	val := chi.URLParam(r, key)
	return uuid.Parse(val)
}

func decodeBody(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// expectedVersion reads an optional If-Match precondition. Quotes are tolerated.
func expectedVersion(r *http.Request) (int64, error) {
	raw := strings.Trim(strings.TrimSpace(r.Header.Get("If-Match")), `"`)
	if raw == "" {
		return 0, nil
	}
	return strconv.ParseInt(raw, 10, 64)
}

// SSE
func (s *Server) sseEndpoint(w http.ResponseWriter, r *http.Request) {
	creatorID := strings.TrimSpace(chi.URLParam(r, "creatorId"))
	if creatorID == "" {
		respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", "creatorId required")
		return
	}
	clientID := r.URL.Query().Get("client_id")
	if clientID == "" {
		clientID = uuid.NewString()
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "streaming not supported")
		return
	}

	client := notification.NewSSEClient(clientID, &creatorID)
	s.sseHub.Register(client)
	defer s.sseHub.Unregister(clientID)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(": connected\n\n"))
	flusher.Flush()

	ctx := r.Context()
	for {
		select {
		case msg, open := <-client.MessageChan:
			if !open || msg == nil {
				return
			}
			payload, _ := json.Marshal(msg)
			_, _ = w.Write([]byte("event: " + msg.Event + "\n"))
			_, _ = w.Write([]byte("data: "))
			_, _ = w.Write(payload)
			_, _ = w.Write([]byte("\n\n"))
			flusher.Flush()
		case <-ctx.Done():
			return
		}
	}
}
