package domain

import (
	"fmt"
	"strings"
)

// DatagramType identifies what a datagram carries.
type DatagramType int

const (
	DatagramTypeUnknown         DatagramType = 0
	DatagramTypeSOSMessage      DatagramType = 1
	DatagramTypeLocationSharing DatagramType = 2
)

func (t DatagramType) String() string {
	switch t {
	case DatagramTypeSOSMessage:
		return "SOS_MESSAGE"
	case DatagramTypeLocationSharing:
		return "LOCATION_SHARING"
	case DatagramTypeUnknown:
		return "UNKNOWN"
	}
	return fmt.Sprintf("DatagramType(%d)", int(t))
}

func (t DatagramType) IsValid() bool {
	switch t {
	case DatagramTypeSOSMessage, DatagramTypeLocationSharing:
		return true
	}
	return false
}

func ParseDatagramType(s string) (DatagramType, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "SOS", "SOS_MESSAGE":
		return DatagramTypeSOSMessage, nil
	case "LOCATION_SHARING":
		return DatagramTypeLocationSharing, nil
	}
	return DatagramTypeUnknown, fmt.Errorf("%w: invalid datagram type %q", ErrValidation, s)
}

// MaxDatagramSize is the largest payload accepted for a single send.
const MaxDatagramSize = 1024

// Datagram is an opaque, already encoded payload. It is owned by the caller.
type Datagram struct {
	Data []byte
}

func (d Datagram) Validate() error {
	if len(d.Data) == 0 {
		return fmt.Errorf("%w: datagram is empty", ErrValidation)
	}
	if len(d.Data) > MaxDatagramSize {
		return fmt.Errorf("%w: datagram exceeds %d bytes (got %d)", ErrValidation, MaxDatagramSize, len(d.Data))
	}
	return nil
}

// SendRequest is a single send attempt. It is not reused once OnComplete fired.
type SendRequest struct {
	SubscriptionID        int
	DatagramType          DatagramType
	Datagram              Datagram
	IsLastSendToSatellite bool
	OnComplete            func(ErrorCode)
}

func (r SendRequest) Validate() error {
	if r.OnComplete == nil {
		return fmt.Errorf("%w: completion callback is required", ErrValidation)
	}
	if !r.DatagramType.IsValid() {
		return fmt.Errorf("%w: invalid datagram type %s", ErrValidation, r.DatagramType)
	}
	return nil
}

// Completion is the token a transport uses to report the outcome of an
// asynchronous send. A nil error means success.
type Completion interface {
	Token() string
	Complete(err error)
}
