package phone

import (
	"context"

	"github.com/kursadbilgin/satellite-dispatch/internal/domain"
)

// Phone is the secondary transport: a per-line interface able to relay a datagram.
type Phone interface {
	// SendDatagram starts an asynchronous send and must not block on I/O.
	// The outcome is reported through done; a returned error means the send
	// was not started.
	SendDatagram(ctx context.Context, done domain.Completion, datagram domain.Datagram, isLast bool) error
}

// Resolver finds the line serving a subscription.
type Resolver interface {
	Phone(subscriptionID int) (Phone, bool)
}
