package domain

import (
	"fmt"
	"time"
)

// TransferState is the caller-visible lifecycle stage of a datagram transfer.
type TransferState int

const (
	TransferStateUnknown        TransferState = -1
	TransferStateIdle           TransferState = 0
	TransferStateSending        TransferState = 1
	TransferStateSendSuccess    TransferState = 2
	TransferStateSendFailed     TransferState = 3
	TransferStateReceiving      TransferState = 4
	TransferStateReceiveSuccess TransferState = 5
	TransferStateReceiveNone    TransferState = 6
	TransferStateReceiveFailed  TransferState = 7
)

func (s TransferState) String() string {
	switch s {
	case TransferStateUnknown:
		return "UNKNOWN"
	case TransferStateIdle:
		return "IDLE"
	case TransferStateSending:
		return "SENDING"
	case TransferStateSendSuccess:
		return "SEND_SUCCESS"
	case TransferStateSendFailed:
		return "SEND_FAILED"
	case TransferStateReceiving:
		return "RECEIVING"
	case TransferStateReceiveSuccess:
		return "RECEIVE_SUCCESS"
	case TransferStateReceiveNone:
		return "RECEIVE_NONE"
	case TransferStateReceiveFailed:
		return "RECEIVE_FAILED"
	}
	return fmt.Sprintf("TransferState(%d)", int(s))
}

// IsTerminal reports whether s ends a send attempt.
func (s TransferState) IsTerminal() bool {
	return s == TransferStateSendSuccess || s == TransferStateSendFailed
}

// TransferStatus is the latest send status reported for a subscription.
type TransferStatus struct {
	SubscriptionID int
	State          TransferState
	PendingCount   int
	ErrorCode      ErrorCode
	UpdatedAt      time.Time
}

// TransferEvent records a single state transition.
type TransferEvent struct {
	ID             string
	SubscriptionID int
	State          TransferState
	PendingCount   int
	ErrorCode      ErrorCode
	CreatedAt      time.Time
}
