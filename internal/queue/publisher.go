package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// RabbitMQPublisher sends modem requests on the default exchange, one
// short-lived channel per request.
type RabbitMQPublisher struct {
	client *RabbitMQ
}

func NewRabbitMQPublisher(client *RabbitMQ) *RabbitMQPublisher {
	return &RabbitMQPublisher{client: client}
}

func (p *RabbitMQPublisher) Publish(ctx context.Context, queue string, replyTo string, msg ModemRequest) error {
	switch {
	case p == nil || p.client == nil:
		return fmt.Errorf("publisher is not initialized")
	case queue == "":
		return fmt.Errorf("queue name is required")
	}

	publishing, err := newRequestPublishing(msg, replyTo)
	if err != nil {
		return err
	}

	ch, err := p.client.channel(ctx)
	if err != nil {
		return err
	}
	defer ch.Close() //nolint:errcheck // channel is per-request

	if err := ch.PublishWithContext(ctx, "", queue, false, false, publishing); err != nil {
		return fmt.Errorf("publish modem request %s to %q: %w", msg.Token, queue, err)
	}
	return nil
}

// newRequestPublishing encodes msg. The token doubles as message and
// correlation id so replies can be matched without parsing their bodies.
func newRequestPublishing(msg ModemRequest, replyTo string) (amqp.Publishing, error) {
	if err := msg.Validate(); err != nil {
		return amqp.Publishing{}, fmt.Errorf("invalid modem request: %w", err)
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return amqp.Publishing{}, fmt.Errorf("encode modem request: %w", err)
	}

	return amqp.Publishing{
		ContentType:   "application/json",
		DeliveryMode:  amqp.Transient,
		Timestamp:     time.Now().UTC(),
		MessageId:     msg.Token,
		CorrelationId: msg.Token,
		ReplyTo:       replyTo,
		Body:          body,
	}, nil
}

func (p *RabbitMQPublisher) Close() error {
	if p == nil || p.client == nil {
		return nil
	}
	return p.client.Close()
}
