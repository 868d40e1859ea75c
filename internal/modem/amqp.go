package modem

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/kursadbilgin/satellite-dispatch/internal/domain"
	"github.com/kursadbilgin/satellite-dispatch/internal/observability"
	"github.com/kursadbilgin/satellite-dispatch/internal/queue"
	"go.uber.org/zap"
)

var _ Modem = (*AMQPModem)(nil)

// AMQPModem reaches the modem bridge over RabbitMQ. Requests are published
// to the request queue and replies are matched back by token.
type AMQPModem struct {
	publisher    queue.Publisher
	consumer     queue.Consumer
	requestQueue string
	replyQueue   string
	enabled      bool
	connected    func() bool
	metrics      *observability.Metrics
	logger       *zap.Logger

	mu      sync.Mutex
	pending map[string]domain.Completion
}

type AMQPConfig struct {
	RequestQueue string
	ReplyQueue   string
	Enabled      bool
	// Connected reports broker health. Nil means always connected.
	Connected func() bool
}

func NewAMQPModem(publisher queue.Publisher, consumer queue.Consumer, cfg AMQPConfig, logger *zap.Logger) (*AMQPModem, error) {
	if publisher == nil {
		return nil, fmt.Errorf("modem publisher is required")
	}
	if consumer == nil {
		return nil, fmt.Errorf("modem consumer is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.RequestQueue == "" {
		cfg.RequestQueue = queue.DefaultRequestQueue
	}
	if cfg.ReplyQueue == "" {
		cfg.ReplyQueue = queue.DefaultReplyQueue
	}
	if cfg.Connected == nil {
		cfg.Connected = func() bool { return true }
	}

	return &AMQPModem{
		publisher:    publisher,
		consumer:     consumer,
		requestQueue: cfg.RequestQueue,
		replyQueue:   cfg.ReplyQueue,
		enabled:      cfg.Enabled,
		connected:    cfg.Connected,
		logger:       logger,
		pending:      make(map[string]domain.Completion),
	}, nil
}

// SetMetrics attaches metrics and exports the pending reply count.
func (m *AMQPModem) SetMetrics(metrics *observability.Metrics) error {
	if m == nil {
		return nil
	}
	m.metrics = metrics
	return metrics.ObserveModemPending(m.Pending)
}

func (m *AMQPModem) IsSupported() bool {
	if m == nil || !m.enabled {
		return false
	}
	return m.connected()
}

func (m *AMQPModem) SendDatagram(ctx context.Context, datagram domain.Datagram, isRoaming bool, isLast bool, done domain.Completion) error {
	if done == nil {
		return domain.NewSatelliteError(domain.ErrorCodeInvalidArguments, "completion is required")
	}

	token := done.Token()

	m.mu.Lock()
	if _, exists := m.pending[token]; exists {
		m.mu.Unlock()
		return domain.NewSatelliteError(domain.ErrorCodeInvalidArguments, "duplicate token "+token)
	}
	m.pending[token] = done
	m.mu.Unlock()

	// The dispatcher cancels ctx once the send is resolved elsewhere
	// (timeout or shutdown); a reply arriving after that is dropped.
	stop := context.AfterFunc(ctx, func() { m.forget(token) })

	msg := queue.ModemRequest{
		Token:                 token,
		Datagram:              datagram.Data,
		IsRoaming:             isRoaming,
		IsLastSendToSatellite: isLast,
	}

	// Publish may wait out a broker reconnect.
	go m.publish(ctx, msg, done, stop)
	return nil
}

func (m *AMQPModem) publish(ctx context.Context, msg queue.ModemRequest, done domain.Completion, stop func() bool) {
	if err := m.publisher.Publish(ctx, m.requestQueue, m.replyQueue, msg); err != nil {
		stop()
		m.forget(msg.Token)
		m.logger.Warn("modem request not published",
			zap.String("token", msg.Token),
			zap.Error(err),
		)
		done.Complete(&domain.SatelliteError{
			Code:    domain.ErrorCodeModemError,
			Message: "publish modem request",
			Cause:   err,
		})
		return
	}

	m.logger.Debug("modem request published",
		zap.String("token", msg.Token),
		zap.Bool("isRoaming", msg.IsRoaming),
		zap.Bool("isLastSendToSatellite", msg.IsLastSendToSatellite),
	)
}

// HandleReply completes the send matching reply.Token. Replies for unknown
// tokens are acknowledged and dropped.
func (m *AMQPModem) HandleReply(ctx context.Context, reply queue.ModemReply) error {
	m.mu.Lock()
	done, ok := m.pending[reply.Token]
	delete(m.pending, reply.Token)
	m.mu.Unlock()

	if !ok {
		m.metrics.IncModemReplyDropped()
		m.logger.Warn("dropping modem reply for unknown token",
			zap.String("token", reply.Token),
			zap.Int("errorCode", reply.ErrorCode),
		)
		return nil
	}

	done.Complete(reply.Err())
	return nil
}

// Run consumes modem replies until ctx is canceled.
func (m *AMQPModem) Run(ctx context.Context) error {
	if err := m.consumer.Consume(ctx, m.replyQueue, m.HandleReply); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("consume modem replies: %w", err)
	}
	return nil
}

// Pending returns the number of sends awaiting a reply.
func (m *AMQPModem) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}

func (m *AMQPModem) forget(token string) {
	m.mu.Lock()
	delete(m.pending, token)
	m.mu.Unlock()
}
