package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"net/url"
	"strings"

	"github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"

	"github.com/brandmarket/submission-hub/internal/domain/notification"
)

type channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp091.Publishing) error
	Close() error
}

// Publisher sends creator notifications to a topic exchange, routed by event name.
type Publisher struct {
	conn     *amqp091.Connection
	channel  channel
	exchange string
	logger   zerolog.Logger
}

func sanitizeAMQPURL(raw string) (string, error) {
	clean := strings.TrimSpace(raw)
	clean = strings.Trim(clean, "\"'")
	if !strings.HasSuffix(clean, "/") {
		clean += "/"
	}
	u, err := url.Parse(clean)
	if err != nil {
		return "", err
	}
	if u.Scheme != "amqp" && u.Scheme != "amqps" {
		return "", errors.New("AMQP scheme must be either 'amqp://' or 'amqps://'")
	}
	return clean, nil
}

// NewPublisher dials the broker and declares the exchange.
func NewPublisher(amqpURL, exchange string, logger zerolog.Logger) (*Publisher, error) {
	cleanURL, err := sanitizeAMQPURL(amqpURL)
	if err != nil {
		return nil, err
	}
	conn, err := amqp091.Dial(cleanURL)
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, err
	}
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, err
	}
	return &Publisher{
		conn:     conn,
		channel:  ch,
		exchange: exchange,
		logger:   logger.With().Str("component", "rabbitmq").Logger(),
	}, nil
}

// Notify implements notification.Notifier.
func (p *Publisher) Notify(ctx context.Context, creatorID string, msg *notification.Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	err = p.channel.PublishWithContext(ctx, p.exchange, string(msg.Event), false, false, amqp091.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp091.Persistent,
		MessageId:    msg.ID.String(),
		Timestamp:    msg.CreatedAt,
		Headers:      amqp091.Table{"creator_id": creatorID},
		Body:         body,
	})
	if err != nil {
		return err
	}
	p.logger.Debug().Str("routing_key", string(msg.Event)).Str("creator_id", creatorID).Msg("published notification")
	return nil
}

// Close closes the channel and connection.
func (p *Publisher) Close() {
	if p.channel != nil {
		p.channel.Close()
	}
	if p.conn != nil {
		p.conn.Close()
	}
}
