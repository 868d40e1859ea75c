package queue

import (
	"fmt"
	"strings"

	"github.com/kursadbilgin/satellite-dispatch/internal/domain"
)

// ModemRequest is the broker payload asking the modem bridge to send a datagram.
type ModemRequest struct {
	Token                 string `json:"token"`
	Datagram              []byte `json:"datagram"`
	IsRoaming             bool   `json:"isRoaming"`
	IsLastSendToSatellite bool   `json:"isLastSendToSatellite"`
}

func (m ModemRequest) Validate() error {
	if strings.TrimSpace(m.Token) == "" {
		return fmt.Errorf("token is required")
	}
	if len(m.Datagram) == 0 {
		return fmt.Errorf("datagram is required")
	}
	return nil
}

// ModemReply is the broker payload reporting the outcome of a modem send.
type ModemReply struct {
	Token     string `json:"token"`
	ErrorCode int    `json:"errorCode"`
	Message   string `json:"message,omitempty"`
}

func (m ModemReply) Validate() error {
	if strings.TrimSpace(m.Token) == "" {
		return fmt.Errorf("token is required")
	}
	if _, err := domain.ParseErrorCode(m.ErrorCode); err != nil {
		return err
	}
	return nil
}

// Err converts the reply into a send outcome; nil means the datagram was sent.
func (m ModemReply) Err() error {
	code := domain.ErrorCode(m.ErrorCode)
	if code == domain.ErrorCodeNone {
		return nil
	}
	return domain.NewSatelliteError(code, m.Message)
}
