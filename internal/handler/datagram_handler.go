package handler

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/satellite-dispatch/internal/domain"
	"github.com/kursadbilgin/satellite-dispatch/internal/observability"
	"github.com/kursadbilgin/satellite-dispatch/internal/ratelimit"
	"go.uber.org/zap"
)

const (
	defaultWaitTimeout = 65 * time.Second
	defaultEventsLimit = 50
)

// Dispatcher submits a datagram and reports its outcome exactly once.
type Dispatcher interface {
	SendDatagram(
		subscriptionID int,
		datagramType domain.DatagramType,
		datagram domain.Datagram,
		isLastSendToSatellite bool,
		onComplete func(domain.ErrorCode),
	) error
}

// StatusReader serves the in-process view of transfer states.
type StatusReader interface {
	Status(subscriptionID int) (domain.TransferStatus, bool)
}

// StatusStore serves statuses mirrored by other replicas.
type StatusStore interface {
	Load(ctx context.Context, subscriptionID int) (domain.TransferStatus, error)
}

type EventLister interface {
	ListBySubscription(ctx context.Context, subscriptionID int, limit int) ([]domain.TransferEvent, error)
}

type DatagramDeps struct {
	Dispatcher Dispatcher
	Statuses   StatusReader
	// Optional.
	Store   StatusStore
	Events  EventLister
	Limiter ratelimit.RateLimiter
	// WaitTimeout bounds how long a request waits for the send outcome.
	WaitTimeout time.Duration
	Logger      *zap.Logger
}

type DatagramHandler struct {
	dispatcher  Dispatcher
	statuses    StatusReader
	store       StatusStore
	events      EventLister
	limiter     ratelimit.RateLimiter
	waitTimeout time.Duration
	logger      *zap.Logger
}

func NewDatagramHandler(deps DatagramDeps) (*DatagramHandler, error) {
	if deps.Dispatcher == nil {
		return nil, fmt.Errorf("dispatcher is required")
	}
	if deps.Statuses == nil {
		return nil, fmt.Errorf("status reader is required")
	}
	if deps.WaitTimeout <= 0 {
		deps.WaitTimeout = defaultWaitTimeout
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}

	return &DatagramHandler{
		dispatcher:  deps.Dispatcher,
		statuses:    deps.Statuses,
		store:       deps.Store,
		events:      deps.Events,
		limiter:     deps.Limiter,
		waitTimeout: deps.WaitTimeout,
		logger:      deps.Logger,
	}, nil
}

func RegisterDatagramRoutes(router fiber.Router, deps DatagramDeps) error {
	h, err := NewDatagramHandler(deps)
	if err != nil {
		return err
	}

	v1 := router.Group("/v1")
	v1.Post("/datagrams", h.SendDatagram)
	v1.Get("/subscriptions/:subId/transfer-state", h.GetTransferState)
	if h.events != nil {
		v1.Get("/subscriptions/:subId/transfer-events", h.ListTransferEvents)
	}

	return nil
}

type sendDatagramRequest struct {
	SubscriptionID        *int   `json:"subscriptionId"`
	DatagramType          string `json:"datagramType"`
	Datagram              []byte `json:"datagram"`
	IsLastSendToSatellite bool   `json:"isLastSendToSatellite"`
}

type sendDatagramResponse struct {
	SubscriptionID int    `json:"subscriptionId"`
	ErrorCode      int    `json:"errorCode"`
	Error          string `json:"error"`
}

type transferStatusResponse struct {
	SubscriptionID int       `json:"subscriptionId"`
	State          string    `json:"state"`
	StateCode      int       `json:"stateCode"`
	PendingCount   int       `json:"pendingCount"`
	ErrorCode      int       `json:"errorCode"`
	Error          string    `json:"error"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

type transferEventResponse struct {
	ID           string    `json:"id"`
	State        string    `json:"state"`
	PendingCount int       `json:"pendingCount"`
	ErrorCode    int       `json:"errorCode"`
	Error        string    `json:"error"`
	CreatedAt    time.Time `json:"createdAt"`
}

type listTransferEventsResponse struct {
	SubscriptionID int                     `json:"subscriptionId"`
	Data           []transferEventResponse `json:"data"`
}

// SendDatagram submits a datagram and holds the request open until the
// dispatcher reports the outcome or the wait timeout elapses.
func (h *DatagramHandler) SendDatagram(c *fiber.Ctx) error {
	var req sendDatagramRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	subscriptionID, datagramType, datagram, err := requestToSend(req)
	if err != nil {
		return toHTTPError(err)
	}

	ctx := observability.WithRequestID(c.UserContext(), requestID(c))
	logger := observability.WithContextLogger(h.logger, ctx).With(zap.Int("subscriptionId", subscriptionID))

	if h.limiter != nil {
		allowed, err := h.limiter.Allow(ctx, subscriptionID)
		switch {
		case err != nil:
			logger.Warn("rate limiter unavailable, admitting request", zap.Error(err))
		case !allowed:
			return fiber.NewError(fiber.StatusTooManyRequests, "send rate exceeded for subscription "+strconv.Itoa(subscriptionID))
		}
	}

	result := make(chan domain.ErrorCode, 1)
	err = h.dispatcher.SendDatagram(subscriptionID, datagramType, datagram, req.IsLastSendToSatellite, func(code domain.ErrorCode) {
		result <- code
	})
	if err != nil {
		return toHTTPError(err)
	}

	timer := time.NewTimer(h.waitTimeout)
	defer timer.Stop()

	select {
	case code := <-result:
		status := statusForCode(code)
		if status != fiber.StatusOK {
			logger.Info("datagram send failed", zap.Stringer("errorCode", code))
		}
		return c.Status(status).JSON(sendDatagramResponse{
			SubscriptionID: subscriptionID,
			ErrorCode:      int(code),
			Error:          code.String(),
		})
	case <-timer.C:
		logger.Warn("gave up waiting for datagram send outcome", zap.Duration("waitTimeout", h.waitTimeout))
		return fiber.NewError(fiber.StatusGatewayTimeout, "timed out waiting for send outcome")
	}
}

func (h *DatagramHandler) GetTransferState(c *fiber.Ctx) error {
	subscriptionID, err := parseSubscriptionID(c.Params("subId"))
	if err != nil {
		return toHTTPError(err)
	}

	status, ok := h.statuses.Status(subscriptionID)
	if !ok {
		if h.store == nil {
			return toHTTPError(notFound(subscriptionID))
		}

		status, err = h.store.Load(c.UserContext(), subscriptionID)
		if errors.Is(err, domain.ErrNotFound) {
			return toHTTPError(notFound(subscriptionID))
		}
		if err != nil {
			return err
		}
	}

	return c.Status(fiber.StatusOK).JSON(toTransferStatusResponse(status))
}

func (h *DatagramHandler) ListTransferEvents(c *fiber.Ctx) error {
	subscriptionID, err := parseSubscriptionID(c.Params("subId"))
	if err != nil {
		return toHTTPError(err)
	}

	limit := c.QueryInt("limit", defaultEventsLimit)
	if limit < 1 {
		return toHTTPError(fmt.Errorf("%w: limit must be >= 1", domain.ErrValidation))
	}

	events, err := h.events.ListBySubscription(c.UserContext(), subscriptionID, limit)
	if err != nil {
		return err
	}

	data := make([]transferEventResponse, 0, len(events))
	for _, e := range events {
		data = append(data, transferEventResponse{
			ID:           e.ID,
			State:        e.State.String(),
			PendingCount: e.PendingCount,
			ErrorCode:    int(e.ErrorCode),
			Error:        e.ErrorCode.String(),
			CreatedAt:    e.CreatedAt,
		})
	}

	return c.Status(fiber.StatusOK).JSON(listTransferEventsResponse{
		SubscriptionID: subscriptionID,
		Data:           data,
	})
}

func requestToSend(req sendDatagramRequest) (int, domain.DatagramType, domain.Datagram, error) {
	if req.SubscriptionID == nil {
		return 0, 0, domain.Datagram{}, fmt.Errorf("%w: subscriptionId is required", domain.ErrValidation)
	}
	if *req.SubscriptionID < 0 {
		return 0, 0, domain.Datagram{}, fmt.Errorf("%w: subscriptionId must be >= 0", domain.ErrValidation)
	}

	datagramType, err := domain.ParseDatagramType(req.DatagramType)
	if err != nil {
		return 0, 0, domain.Datagram{}, err
	}

	datagram := domain.Datagram{Data: req.Datagram}
	if err := datagram.Validate(); err != nil {
		return 0, 0, domain.Datagram{}, err
	}

	return *req.SubscriptionID, datagramType, datagram, nil
}

func parseSubscriptionID(raw string) (int, error) {
	id, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || id < 0 {
		return 0, fmt.Errorf("%w: invalid subscription id %q", domain.ErrValidation, raw)
	}
	return id, nil
}

func notFound(subscriptionID int) error {
	return fmt.Errorf("%w: no transfer state for subscription %d", domain.ErrNotFound, subscriptionID)
}

// statusForCode maps a send outcome to the HTTP status returned to the caller.
func statusForCode(code domain.ErrorCode) int {
	switch code {
	case domain.ErrorCodeNone:
		return fiber.StatusOK
	case domain.ErrorCodeInvalidTelephonyState, domain.ErrorCodeRequestAborted:
		return fiber.StatusServiceUnavailable
	case domain.ErrorCodeNetworkTimeout:
		return fiber.StatusGatewayTimeout
	default:
		return fiber.StatusBadGateway
	}
}

func toTransferStatusResponse(s domain.TransferStatus) transferStatusResponse {
	return transferStatusResponse{
		SubscriptionID: s.SubscriptionID,
		State:          s.State.String(),
		StateCode:      int(s.State),
		PendingCount:   s.PendingCount,
		ErrorCode:      int(s.ErrorCode),
		Error:          s.ErrorCode.String(),
		UpdatedAt:      s.UpdatedAt,
	}
}

func requestID(c *fiber.Ctx) string {
	if value := strings.TrimSpace(c.Get(fiber.HeaderXRequestID)); value != "" {
		return value
	}
	if value, ok := c.Locals("requestid").(string); ok {
		return strings.TrimSpace(value)
	}
	return ""
}

func toHTTPError(err error) error {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrDispatcherClosed):
		return fiber.NewError(fiber.StatusServiceUnavailable, err.Error())
	default:
		return err
	}
}
