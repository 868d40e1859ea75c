package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

const replyConsumerTag = "satellite-dispatch-replies"

var errDeliveriesClosed = errors.New("delivery channel closed")

// RabbitMQConsumer feeds modem replies to a handler, resubscribing with
// exponential backoff whenever the channel or connection drops.
type RabbitMQConsumer struct {
	client   *RabbitMQ
	prefetch int
	logger   *zap.Logger
}

func NewRabbitMQConsumer(client *RabbitMQ, prefetch int, logger *zap.Logger) *RabbitMQConsumer {
	if prefetch < 1 {
		prefetch = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &RabbitMQConsumer{
		client:   client,
		prefetch: prefetch,
		logger:   logger,
	}
}

// Consume blocks until ctx is canceled.
func (c *RabbitMQConsumer) Consume(ctx context.Context, queue string, handler MessageHandler) error {
	switch {
	case c == nil || c.client == nil:
		return fmt.Errorf("consumer is not initialized")
	case queue == "":
		return fmt.Errorf("queue name is required")
	case handler == nil:
		return fmt.Errorf("message handler is required")
	}

	logger := c.logger.With(zap.String("queue", queue))
	wait := reconnectBackoff

	for ctx.Err() == nil {
		err := c.subscribe(ctx, queue, handler)
		if ctx.Err() != nil {
			break
		}
		if err == nil {
			wait = reconnectBackoff
			continue
		}

		logger.Warn("reply subscription lost, resubscribing",
			zap.Error(err),
			zap.Duration("backoff", wait),
		)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
		wait = min(wait*2, maxBackoff)
	}

	return nil
}

func (c *RabbitMQConsumer) subscribe(ctx context.Context, queue string, handler MessageHandler) error {
	ch, err := c.client.channel(ctx)
	if err != nil {
		return err
	}
	defer ch.Close() //nolint:errcheck // channel is discarded either way

	if err := ch.Qos(c.prefetch, 0, false); err != nil {
		return fmt.Errorf("failed to set qos: %w", err)
	}

	deliveries, err := ch.ConsumeWithContext(ctx, queue, replyConsumerTag, false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("failed to consume queue %q: %w", queue, err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return errDeliveriesClosed
			}
			if err := c.handleDelivery(ctx, d, handler); err != nil {
				return err
			}
		}
	}
}

// handleDelivery settles d. Undecodable or invalid replies are rejected to the
// dead-letter queue; handler failures are requeued.
func (c *RabbitMQConsumer) handleDelivery(ctx context.Context, d amqp.Delivery, handler MessageHandler) error {
	reply, err := decodeReply(d)
	if err != nil {
		c.logger.Warn("rejecting modem reply",
			zap.Error(err),
			zap.String("correlationId", d.CorrelationId),
		)
		if rejectErr := d.Reject(false); rejectErr != nil {
			return fmt.Errorf("failed to reject modem reply: %w", rejectErr)
		}
		return nil
	}

	if err := handler(ctx, reply); err != nil {
		c.logger.Warn("requeueing modem reply: handler failed",
			zap.Error(err),
			zap.String("token", reply.Token),
		)
		if nackErr := d.Nack(false, true); nackErr != nil {
			return fmt.Errorf("handler failed and nack failed: %w", nackErr)
		}
		return nil
	}

	if err := d.Ack(false); err != nil {
		return fmt.Errorf("failed to ack modem reply: %w", err)
	}
	return nil
}

func decodeReply(d amqp.Delivery) (ModemReply, error) {
	var reply ModemReply
	if err := json.Unmarshal(d.Body, &reply); err != nil {
		return ModemReply{}, fmt.Errorf("invalid JSON: %w", err)
	}
	if reply.Token == "" {
		reply.Token = d.CorrelationId
	}
	if err := reply.Validate(); err != nil {
		return ModemReply{}, err
	}
	return reply, nil
}

func (c *RabbitMQConsumer) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}
