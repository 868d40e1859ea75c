// Package dispatcher drives satellite datagram sends to completion.
//
// All dispatcher state is owned by a single worker goroutine. SendDatagram only
// enqueues work; transport completions and send timeouts are delivered as
// further events on the same queue, so every tracker notification is emitted
// from that goroutine and a request's SENDING, terminal and IDLE updates
// always arrive in that order. Events are processed FIFO by arrival.
package dispatcher

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/satellite-dispatch/internal/domain"
	"github.com/kursadbilgin/satellite-dispatch/internal/modem"
	"github.com/kursadbilgin/satellite-dispatch/internal/observability"
	"github.com/kursadbilgin/satellite-dispatch/internal/phone"
	"github.com/kursadbilgin/satellite-dispatch/internal/tracker"
	"go.uber.org/zap"
)

const (
	defaultSendTimeout = 60 * time.Second

	transportModem = "modem"
	transportPhone = "phone"
	transportNone  = "none"
)

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithSendTimeout bounds how long a transport may take to complete a send.
// Zero disables the timeout.
func WithSendTimeout(timeout time.Duration) Option {
	return func(d *Dispatcher) {
		if timeout < 0 {
			timeout = 0
		}
		d.sendTimeout = timeout
	}
}

// WithRoaming sets the source of the roaming flag passed to the modem.
func WithRoaming(fn func(subscriptionID int) bool) Option {
	return func(d *Dispatcher) {
		if fn != nil {
			d.roaming = fn
		}
	}
}

func WithMetrics(metrics *observability.Metrics) Option {
	return func(d *Dispatcher) {
		d.metrics = metrics
	}
}

type Dispatcher struct {
	tracker     tracker.Tracker
	modem       modem.Modem
	phones      phone.Resolver
	logger      *zap.Logger
	metrics     *observability.Metrics
	sendTimeout time.Duration
	roaming     func(subscriptionID int) bool
	newToken    func() string
	now         func() time.Time

	ctx       context.Context
	cancel    context.CancelFunc
	mailbox   *mailbox
	done      chan struct{}
	closeOnce sync.Once

	// Owned by the worker goroutine.
	pending map[string]*pendingSend
	seq     uint64
}

type pendingSend struct {
	seq       uint64
	token     string
	request   domain.SendRequest
	transport string
	startedAt time.Time
	ctx       context.Context
	cancel    context.CancelFunc
	timer     *time.Timer
}

// NewDispatcher starts a dispatcher. A nil modem is treated as never supported
// and a nil resolver as having no lines.
func NewDispatcher(
	t tracker.Tracker,
	m modem.Modem,
	phones phone.Resolver,
	logger *zap.Logger,
	opts ...Option,
) (*Dispatcher, error) {
	if t == nil {
		return nil, fmt.Errorf("transfer state tracker is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	ctx, cancel := context.WithCancel(context.Background())
	d := &Dispatcher{
		tracker:     t,
		modem:       m,
		phones:      phones,
		logger:      logger,
		sendTimeout: defaultSendTimeout,
		roaming:     func(int) bool { return false },
		newToken:    uuid.NewString,
		now:         time.Now,
		ctx:         ctx,
		cancel:      cancel,
		mailbox:     newMailbox(),
		done:        make(chan struct{}),
		pending:     make(map[string]*pendingSend),
	}
	for _, opt := range opts {
		opt(d)
	}

	go d.run()

	return d, nil
}

// SendDatagram accepts a datagram for transmission and returns immediately.
// onComplete is invoked exactly once, on the dispatcher goroutine, after the
// IDLE notification for this request. It must not call Close.
func (d *Dispatcher) SendDatagram(
	subscriptionID int,
	datagramType domain.DatagramType,
	datagram domain.Datagram,
	isLastSendToSatellite bool,
	onComplete func(domain.ErrorCode),
) error {
	return d.Send(domain.SendRequest{
		SubscriptionID:        subscriptionID,
		DatagramType:          datagramType,
		Datagram:              datagram,
		IsLastSendToSatellite: isLastSendToSatellite,
		OnComplete:            onComplete,
	})
}

// Send enqueues req. An error means the request was not accepted and its
// callback will never fire.
func (d *Dispatcher) Send(req domain.SendRequest) error {
	if err := req.Validate(); err != nil {
		return err
	}
	if !d.mailbox.post(sendEvent{request: req}) {
		return domain.ErrDispatcherClosed
	}
	return nil
}

// Close stops the dispatcher. Sends still waiting for their transport are
// resolved with ErrorCodeRequestAborted. Close is safe to call more than once.
func (d *Dispatcher) Close() error {
	d.closeOnce.Do(func() {
		d.mailbox.closeWith(stopEvent{})
		// Unblocks a transport call the worker may be stuck in.
		d.cancel()
	})
	<-d.done
	return nil
}

func (d *Dispatcher) handleSend(req domain.SendRequest) {
	modemSupported := d.modem != nil && d.modem.IsSupported()

	d.tracker.UpdateSendStatus(req.SubscriptionID, domain.TransferStateSending, 1, domain.ErrorCodeNone)

	if modemSupported {
		p := d.begin(req, transportModem)
		isRoaming := d.roaming(req.SubscriptionID)
		if err := d.modem.SendDatagram(p.ctx, req.Datagram, isRoaming, req.IsLastSendToSatellite, d.completionFor(p.token)); err != nil {
			d.resolve(p.token, err)
		}
		return
	}

	var line phone.Phone
	found := false
	if d.phones != nil {
		line, found = d.phones.Phone(req.SubscriptionID)
	}
	if !found || line == nil {
		d.logger.Warn("no phone available for datagram send",
			observability.SendFields(req.SubscriptionID, "", transportNone)...,
		)
		d.finish(req, transportNone, "", domain.ErrorCodeInvalidTelephonyState, d.now())
		return
	}

	p := d.begin(req, transportPhone)
	if err := line.SendDatagram(p.ctx, d.completionFor(p.token), req.Datagram, req.IsLastSendToSatellite); err != nil {
		d.resolve(p.token, err)
	}
}

func (d *Dispatcher) begin(req domain.SendRequest, transport string) *pendingSend {
	d.seq++
	ctx, cancel := context.WithCancel(d.ctx)

	p := &pendingSend{
		seq:       d.seq,
		token:     d.newToken(),
		request:   req,
		transport: transport,
		startedAt: d.now(),
		ctx:       ctx,
		cancel:    cancel,
	}
	if d.sendTimeout > 0 {
		token := p.token
		p.timer = time.AfterFunc(d.sendTimeout, func() {
			d.mailbox.post(timeoutEvent{token: token})
		})
	}

	d.pending[p.token] = p
	d.metrics.IncInFlight()

	fields := observability.SendFields(req.SubscriptionID, p.token, transport)
	d.logger.Debug("datagram send started", append(fields,
		zap.Stringer("datagramType", req.DatagramType),
		zap.Int("size", len(req.Datagram.Data)),
		zap.Bool("isLast", req.IsLastSendToSatellite),
	)...)

	return p
}

func (d *Dispatcher) handleCompletion(token string, err error) {
	if _, ok := d.pending[token]; !ok {
		d.logger.Warn("dropping completion for unknown send",
			zap.String("token", token),
			zap.Error(err),
		)
		return
	}
	d.resolve(token, err)
}

func (d *Dispatcher) handleTimeout(token string) {
	// The send may have completed after the timer fired.
	if _, ok := d.pending[token]; !ok {
		return
	}
	d.resolve(token, domain.NewSatelliteError(
		domain.ErrorCodeNetworkTimeout,
		fmt.Sprintf("no completion within %s", d.sendTimeout),
	))
}

func (d *Dispatcher) resolve(token string, err error) {
	p, ok := d.pending[token]
	if !ok {
		return
	}
	delete(d.pending, token)
	if p.timer != nil {
		p.timer.Stop()
	}
	p.cancel()
	d.metrics.DecInFlight()

	d.finish(p.request, p.transport, p.token, domain.CodeFromError(err), p.startedAt)
}

func (d *Dispatcher) finish(req domain.SendRequest, transport string, token string, code domain.ErrorCode, startedAt time.Time) {
	fields := append(observability.SendFields(req.SubscriptionID, token, transport),
		zap.Stringer("datagramType", req.DatagramType),
		zap.Stringer("errorCode", code),
	)

	if code == domain.ErrorCodeNone {
		d.tracker.UpdateSendStatus(req.SubscriptionID, domain.TransferStateSendSuccess, 0, domain.ErrorCodeNone)
		d.metrics.IncDatagramSent(transport)
		d.logger.Info("datagram sent", fields...)
	} else {
		d.tracker.UpdateSendStatus(req.SubscriptionID, domain.TransferStateSendFailed, 0, code)
		d.metrics.IncDatagramFailed(transport, code.String())
		d.logger.Warn("datagram send failed", fields...)
	}
	if transport != transportNone {
		d.metrics.ObserveDatagramSendDuration(transport, d.now().Sub(startedAt))
	}

	d.tracker.UpdateSendStatus(req.SubscriptionID, domain.TransferStateIdle, 0, domain.ErrorCodeNone)

	req.OnComplete(code)
}

func (d *Dispatcher) abortPending() {
	inflight := make([]*pendingSend, 0, len(d.pending))
	for _, p := range d.pending {
		inflight = append(inflight, p)
	}
	sort.Slice(inflight, func(i, j int) bool { return inflight[i].seq < inflight[j].seq })

	for _, p := range inflight {
		d.resolve(p.token, domain.NewSatelliteError(domain.ErrorCodeRequestAborted, "dispatcher closed"))
	}
	d.cancel()
}
