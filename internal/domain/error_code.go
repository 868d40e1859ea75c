package domain

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

// ErrorCode is the result code shared with the transfer state tracker and the
// transports. Numeric values are a wire contract and must not change.
type ErrorCode int

const (
	ErrorCodeNone                       ErrorCode = 0
	ErrorCodeError                      ErrorCode = 1
	ErrorCodeServerError                ErrorCode = 2
	ErrorCodeServiceError               ErrorCode = 3
	ErrorCodeModemError                 ErrorCode = 4
	ErrorCodeNetworkError               ErrorCode = 5
	ErrorCodeInvalidTelephonyState      ErrorCode = 6
	ErrorCodeInvalidModemState          ErrorCode = 7
	ErrorCodeInvalidArguments           ErrorCode = 8
	ErrorCodeRequestFailed              ErrorCode = 9
	ErrorCodeRadioNotAvailable          ErrorCode = 10
	ErrorCodeRequestNotSupported        ErrorCode = 11
	ErrorCodeNoResources                ErrorCode = 12
	ErrorCodeServiceNotProvisioned      ErrorCode = 13
	ErrorCodeServiceProvisionInProgress ErrorCode = 14
	ErrorCodeRequestAborted             ErrorCode = 15
	ErrorCodeAccessBarred               ErrorCode = 16
	ErrorCodeNetworkTimeout             ErrorCode = 17
	ErrorCodeNotReachable               ErrorCode = 18
	ErrorCodeNotAuthorized              ErrorCode = 19
	ErrorCodeNotSupported               ErrorCode = 20
)

var errorCodeNames = map[ErrorCode]string{
	ErrorCodeNone:                       "NONE",
	ErrorCodeError:                      "ERROR",
	ErrorCodeServerError:                "SERVER_ERROR",
	ErrorCodeServiceError:               "SERVICE_ERROR",
	ErrorCodeModemError:                 "MODEM_ERROR",
	ErrorCodeNetworkError:               "NETWORK_ERROR",
	ErrorCodeInvalidTelephonyState:      "INVALID_TELEPHONY_STATE",
	ErrorCodeInvalidModemState:          "INVALID_MODEM_STATE",
	ErrorCodeInvalidArguments:           "INVALID_ARGUMENTS",
	ErrorCodeRequestFailed:              "REQUEST_FAILED",
	ErrorCodeRadioNotAvailable:          "RADIO_NOT_AVAILABLE",
	ErrorCodeRequestNotSupported:        "REQUEST_NOT_SUPPORTED",
	ErrorCodeNoResources:                "NO_RESOURCES",
	ErrorCodeServiceNotProvisioned:      "SERVICE_NOT_PROVISIONED",
	ErrorCodeServiceProvisionInProgress: "SERVICE_PROVISION_IN_PROGRESS",
	ErrorCodeRequestAborted:             "REQUEST_ABORTED",
	ErrorCodeAccessBarred:               "ACCESS_BARRED",
	ErrorCodeNetworkTimeout:             "NETWORK_TIMEOUT",
	ErrorCodeNotReachable:               "NOT_REACHABLE",
	ErrorCodeNotAuthorized:              "NOT_AUTHORIZED",
	ErrorCodeNotSupported:               "NOT_SUPPORTED",
}

func (c ErrorCode) String() string {
	if name, ok := errorCodeNames[c]; ok {
		return name
	}
	return fmt.Sprintf("UNKNOWN(%d)", int(c))
}

func (c ErrorCode) IsValid() bool {
	_, ok := errorCodeNames[c]
	return ok
}

func ParseErrorCode(value int) (ErrorCode, error) {
	code := ErrorCode(value)
	if !code.IsValid() {
		return 0, fmt.Errorf("%w: invalid error code %d", ErrValidation, value)
	}
	return code, nil
}

// SatelliteError is a transport failure carrying a result code.
type SatelliteError struct {
	Code    ErrorCode
	Message string
	Cause   error
}

func NewSatelliteError(code ErrorCode, message string) *SatelliteError {
	return &SatelliteError{Code: code, Message: message}
}

func (e *SatelliteError) Error() string {
	if e == nil {
		return "<nil>"
	}

	parts := make([]string, 0, 3)
	parts = append(parts, "satellite error "+e.Code.String())
	if msg := strings.TrimSpace(e.Message); msg != "" {
		parts = append(parts, msg)
	}
	if e.Cause != nil {
		parts = append(parts, e.Cause.Error())
	}

	return strings.Join(parts, ": ")
}

func (e *SatelliteError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// CodeFromError translates a send outcome into the code reported to the
// tracker and the caller. A non-nil error never maps to ErrorCodeNone.
func CodeFromError(err error) ErrorCode {
	if err == nil {
		return ErrorCodeNone
	}

	var satErr *SatelliteError
	if errors.As(err, &satErr) && satErr != nil {
		if satErr.Code == ErrorCodeNone {
			return ErrorCodeError
		}
		return satErr.Code
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return ErrorCodeNetworkTimeout
	}
	if errors.Is(err, context.Canceled) {
		return ErrorCodeRequestAborted
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return ErrorCodeNetworkTimeout
		}
		return ErrorCodeNetworkError
	}

	return ErrorCodeError
}
