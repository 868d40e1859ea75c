// Package tracker receives ordered transfer state notifications from the
// dispatcher and exposes the latest status per subscription.
package tracker

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/satellite-dispatch/internal/domain"
	"github.com/kursadbilgin/satellite-dispatch/internal/observability"
	"go.uber.org/zap"
)

const (
	defaultSinkTimeout = 2 * time.Second
	defaultQueueSize   = 1024
)

// Tracker is notified of every send status transition, in order.
type Tracker interface {
	UpdateSendStatus(subscriptionID int, state domain.TransferState, pendingCount int, code domain.ErrorCode)
}

// Recorder persists transfer events.
type Recorder interface {
	Create(ctx context.Context, event *domain.TransferEvent) error
}

// StateStore mirrors the latest status of a subscription.
type StateStore interface {
	Save(ctx context.Context, status domain.TransferStatus) error
}

var _ Tracker = (*Controller)(nil)

// Controller is the production Tracker. UpdateSendStatus only touches memory;
// a single writer goroutine persists updates to the sinks in arrival order.
type Controller struct {
	recorder    Recorder
	store       StateStore
	metrics     *observability.Metrics
	logger      *zap.Logger
	sinkTimeout time.Duration
	now         func() time.Time
	newID       func() string

	mu       sync.RWMutex
	statuses map[int]domain.TransferStatus
	closed   bool

	writes  chan domain.TransferStatus
	written chan struct{}
}

// Option configures a Controller.
type Option func(*Controller)

// WithQueueSize bounds how many updates may wait for persistence. Updates
// beyond it are dropped and counted.
func WithQueueSize(size int) Option {
	return func(c *Controller) {
		if size > 0 {
			c.writes = make(chan domain.TransferStatus, size)
		}
	}
}

func WithSinkTimeout(timeout time.Duration) Option {
	return func(c *Controller) {
		if timeout > 0 {
			c.sinkTimeout = timeout
		}
	}
}

func NewController(recorder Recorder, store StateStore, logger *zap.Logger, opts ...Option) *Controller {
	if logger == nil {
		logger = zap.NewNop()
	}

	c := &Controller{
		recorder:    recorder,
		store:       store,
		logger:      logger,
		sinkTimeout: defaultSinkTimeout,
		now:         time.Now,
		newID:       uuid.NewString,
		statuses:    make(map[int]domain.TransferStatus),
		writes:      make(chan domain.TransferStatus, defaultQueueSize),
		written:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}

	go c.writeLoop()

	return c
}

func (c *Controller) SetMetrics(metrics *observability.Metrics) {
	if c == nil {
		return
	}
	c.metrics = metrics
}

func (c *Controller) UpdateSendStatus(subscriptionID int, state domain.TransferState, pendingCount int, code domain.ErrorCode) {
	status := domain.TransferStatus{
		SubscriptionID: subscriptionID,
		State:          state,
		PendingCount:   pendingCount,
		ErrorCode:      code,
		UpdatedAt:      c.now().UTC(),
	}

	c.mu.Lock()
	c.statuses[subscriptionID] = status
	queued := c.enqueueLocked(status)
	c.mu.Unlock()

	c.logger.Debug("transfer state updated",
		zap.Int("subscriptionId", subscriptionID),
		zap.Stringer("state", state),
		zap.Int("pendingCount", pendingCount),
		zap.Stringer("errorCode", code),
	)
	c.metrics.IncTransferState(state.String())

	if !queued {
		c.metrics.IncTransferPersistDropped()
		c.logger.Warn("transfer status not persisted: write queue full or closed",
			zap.Int("subscriptionId", subscriptionID),
			zap.Stringer("state", state),
		)
	}
}

// enqueueLocked hands status to the writer without blocking. c.mu must be held.
func (c *Controller) enqueueLocked(status domain.TransferStatus) bool {
	if c.recorder == nil && c.store == nil {
		return true
	}
	if c.closed {
		return false
	}
	select {
	case c.writes <- status:
		return true
	default:
		return false
	}
}

func (c *Controller) writeLoop() {
	defer close(c.written)

	for status := range c.writes {
		c.persist(status)
	}
}

// persist is best-effort: sink failures are logged and never reach the dispatcher.
func (c *Controller) persist(status domain.TransferStatus) {
	ctx, cancel := context.WithTimeout(context.Background(), c.sinkTimeout)
	defer cancel()

	if c.recorder != nil {
		event := &domain.TransferEvent{
			ID:             c.newID(),
			SubscriptionID: status.SubscriptionID,
			State:          status.State,
			PendingCount:   status.PendingCount,
			ErrorCode:      status.ErrorCode,
			CreatedAt:      status.UpdatedAt,
		}
		if err := c.recorder.Create(ctx, event); err != nil {
			c.logger.Warn("failed to record transfer event",
				zap.Int("subscriptionId", status.SubscriptionID),
				zap.Stringer("state", status.State),
				zap.Error(err),
			)
		}
	}

	if c.store != nil {
		if err := c.store.Save(ctx, status); err != nil {
			c.logger.Warn("failed to store transfer status",
				zap.Int("subscriptionId", status.SubscriptionID),
				zap.Stringer("state", status.State),
				zap.Error(err),
			)
		}
	}
}

// Status returns the latest status reported for a subscription.
func (c *Controller) Status(subscriptionID int) (domain.TransferStatus, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	status, ok := c.statuses[subscriptionID]
	return status, ok
}

// Close persists every queued update and stops the writer. Later updates are
// kept in memory only. Close is safe to call more than once.
func (c *Controller) Close() {
	c.mu.Lock()
	if !c.closed {
		c.closed = true
		close(c.writes)
	}
	c.mu.Unlock()

	<-c.written
}
