package modem

import (
	"context"

	"github.com/kursadbilgin/satellite-dispatch/internal/domain"
)

// Modem is the primary transport: a direct interface to the satellite modem.
type Modem interface {
	// IsSupported reports whether the modem can currently take a send.
	IsSupported() bool

	// SendDatagram starts an asynchronous send and must not block on I/O.
	// The outcome is reported through done; a returned error means the send
	// was not started.
	SendDatagram(ctx context.Context, datagram domain.Datagram, isRoaming bool, isLast bool, done domain.Completion) error
}
