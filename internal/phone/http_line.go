package phone

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/kursadbilgin/satellite-dispatch/internal/domain"
	"go.uber.org/zap"
)

const defaultLineTimeout = 10 * time.Second

type lineRequest struct {
	SubscriptionID        int    `json:"subscriptionId"`
	Token                 string `json:"token"`
	Datagram              []byte `json:"datagram"`
	IsLastSendToSatellite bool   `json:"isLastSendToSatellite"`
}

type lineResponse struct {
	ErrorCode *int   `json:"errorCode,omitempty"`
	Message   string `json:"message,omitempty"`
}

var _ Phone = (*HTTPLine)(nil)

// HTTPLine relays datagrams to a line gateway over HTTP.
type HTTPLine struct {
	subscriptionID int
	client         *resty.Client
	endpoint       string
	logger         *zap.Logger
}

func NewHTTPLine(subscriptionID int, endpoint string, timeout time.Duration, logger *zap.Logger) (*HTTPLine, error) {
	if timeout <= 0 {
		timeout = defaultLineTimeout
	}

	client := resty.New()
	client.SetTimeout(timeout)
	client.SetRetryCount(0)

	return NewHTTPLineWithClient(subscriptionID, endpoint, client, logger)
}

func NewHTTPLineWithClient(subscriptionID int, endpoint string, client *resty.Client, logger *zap.Logger) (*HTTPLine, error) {
	trimmedEndpoint := strings.TrimSpace(endpoint)
	if trimmedEndpoint == "" {
		return nil, fmt.Errorf("line endpoint is required")
	}
	if _, err := url.ParseRequestURI(trimmedEndpoint); err != nil {
		return nil, fmt.Errorf("invalid line endpoint: %w", err)
	}
	if client == nil {
		return nil, fmt.Errorf("resty client is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	if client.GetClient().Timeout == 0 {
		client.SetTimeout(defaultLineTimeout)
	}
	client.SetRetryCount(0)

	return &HTTPLine{
		subscriptionID: subscriptionID,
		client:         client,
		endpoint:       trimmedEndpoint,
		logger:         logger,
	}, nil
}

// SendDatagram posts the datagram in the background and reports the outcome through done.
func (l *HTTPLine) SendDatagram(ctx context.Context, done domain.Completion, datagram domain.Datagram, isLast bool) error {
	if l == nil || l.client == nil {
		return domain.NewSatelliteError(domain.ErrorCodeInvalidTelephonyState, "line is not initialized")
	}
	if done == nil {
		return fmt.Errorf("completion is required")
	}

	body := lineRequest{
		SubscriptionID:        l.subscriptionID,
		Token:                 done.Token(),
		Datagram:              datagram.Data,
		IsLastSendToSatellite: isLast,
	}

	go func() {
		err := l.post(ctx, body)
		if err != nil {
			l.logger.Debug("line send failed",
				zap.Int("subscriptionId", l.subscriptionID),
				zap.String("token", body.Token),
				zap.Error(err),
			)
		}
		done.Complete(err)
	}()

	return nil
}

func (l *HTTPLine) post(ctx context.Context, body lineRequest) error {
	var result lineResponse
	response, err := l.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetHeader("X-Request-ID", body.Token).
		SetBody(body).
		SetResult(&result).
		SetError(&result).
		Post(l.endpoint)
	if err != nil {
		return &domain.SatelliteError{
			Code:    requestErrorCode(err),
			Message: "line request failed",
			Cause:   err,
		}
	}
	if response == nil {
		return domain.NewSatelliteError(domain.ErrorCodeNetworkError, "line returned empty response")
	}

	statusCode := response.StatusCode()
	if statusCode >= http.StatusOK && statusCode < http.StatusMultipleChoices {
		if result.ErrorCode == nil || *result.ErrorCode == int(domain.ErrorCodeNone) {
			return nil
		}
		code, err := domain.ParseErrorCode(*result.ErrorCode)
		if err != nil {
			code = domain.ErrorCodeError
		}
		return domain.NewSatelliteError(code, strings.TrimSpace(result.Message))
	}

	return domain.NewSatelliteError(statusErrorCode(statusCode), lineErrorMessage(statusCode, strings.TrimSpace(response.String())))
}

func requestErrorCode(err error) domain.ErrorCode {
	if errors.Is(err, context.Canceled) {
		return domain.ErrorCodeRequestAborted
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return domain.ErrorCodeNetworkTimeout
	}
	if code := domain.CodeFromError(err); code == domain.ErrorCodeNetworkTimeout {
		return code
	}
	return domain.ErrorCodeNetworkError
}

func statusErrorCode(statusCode int) domain.ErrorCode {
	switch {
	case statusCode == http.StatusTooManyRequests:
		return domain.ErrorCodeNoResources
	case statusCode >= http.StatusInternalServerError:
		return domain.ErrorCodeServiceError
	default:
		return domain.ErrorCodeInvalidArguments
	}
}

func lineErrorMessage(statusCode int, body string) string {
	base := fmt.Sprintf("line returned status %d", statusCode)
	if body == "" {
		return base
	}
	return fmt.Sprintf("%s: %s", base, body)
}
