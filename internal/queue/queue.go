package queue

import (
	"context"
)

// Publisher publishes modem requests to a queue.
type Publisher interface {
	Publish(ctx context.Context, queue string, replyTo string, msg ModemRequest) error
	Close() error
}

// MessageHandler handles a consumed modem reply.
type MessageHandler func(ctx context.Context, msg ModemReply) error

// Consumer consumes modem replies from a queue.
type Consumer interface {
	Consume(ctx context.Context, queue string, handler MessageHandler) error
	Close() error
}

const (
	// DefaultRequestQueue carries datagrams to the modem bridge.
	DefaultRequestQueue = "satellite.modem.send"
	// DefaultReplyQueue carries send outcomes back from the modem bridge.
	DefaultReplyQueue = "satellite.modem.replies"
)

// DLQName returns the dead-letter queue name for a work queue, e.g. dlq.satellite.modem.send.
func DLQName(queue string) string {
	return "dlq." + queue
}
