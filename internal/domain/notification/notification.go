package notification

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Event names a lifecycle event delivered to a creator.
type Event string

const (
	EventSubmitted         Event = "submission.submitted"
	EventResubmitted       Event = "submission.resubmitted"
	EventRevisionRequested Event = "submission.revision_requested"
	EventApproved          Event = "submission.approved"
	EventProofRequested    Event = "proof.requested"
	EventProofReceived     Event = "proof.received"
	EventProofVerified     Event = "proof.verified"
	EventAwaitingPayment   Event = "payment.awaiting"
	EventPaymentConfirmed  Event = "payment.confirmed"
	EventPaymentFailed     Event = "payment.failed"
)

// ErrChannelFull reports that a stream dropped a message because its buffer was full.
var ErrChannelFull = errors.New("SSE message channel full")

// Message is a lifecycle notification for one creator.
type Message struct {
	ID           uuid.UUID `json:"id"`
	CreatorID    string    `json:"creatorId"`
	SubmissionID uuid.UUID `json:"submissionId"`
	Event        Event     `json:"event"`
	Status       string    `json:"status"`
	Body         string    `json:"body"`
	CreatedAt    time.Time `json:"createdAt"`
}

// NewMessage creates a message.
func NewMessage(creatorID string, submissionID uuid.UUID, event Event, status, body string) *Message {
	return &Message{
		ID:           uuid.New(),
		CreatorID:    creatorID,
		SubmissionID: submissionID,
		Event:        event,
		Status:       status,
		Body:         body,
		CreatedAt:    time.Now().UTC(),
	}
}

// Notifier delivers messages to creators. Delivery is best effort.
type Notifier interface {
	Notify(ctx context.Context, creatorID string, msg *Message) error
}

// Fanout delivers to every notifier and joins their errors.
type Fanout []Notifier

func (f Fanout) Notify(ctx context.Context, creatorID string, msg *Message) error {
	var errs []error
	for _, n := range f {
		if n == nil {
			continue
		}
		if err := n.Notify(ctx, creatorID, msg); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// SSEClient represents an active SSE connection
type SSEClient struct {
	ClientID    string
	UserID      *string
	ConnectedAt time.Time
	MessageChan chan *SSEMessage
}

// NewSSEClient creates a new SSE client
func NewSSEClient(clientID string, userID *string) *SSEClient {
	return &SSEClient{
		ClientID:    clientID,
		UserID:      userID,
		ConnectedAt: time.Now().UTC(),
		MessageChan: make(chan *SSEMessage, 100),
	}
}

// Close closes the client's message channel
func (c *SSEClient) Close() {
	close(c.MessageChan)
}

// SSEMessage represents a message to be sent via SSE
type SSEMessage struct {
	ID        string          `json:"id"`
	Event     string          `json:"event"`
	Data      json.RawMessage `json:"data"`
	Timestamp time.Time       `json:"timestamp"`
}

// NewSSEMessage creates a new SSE message
func NewSSEMessage(event string, data json.RawMessage) *SSEMessage {
	return &SSEMessage{
		ID:        uuid.New().String(),
		Event:     event,
		Data:      data,
		Timestamp: time.Now().UTC(),
	}
}
