package dispatcher

import (
	"sync"

	"github.com/kursadbilgin/satellite-dispatch/internal/domain"
)

type event interface {
	isEvent()
}

type sendEvent struct {
	request domain.SendRequest
}

type completionEvent struct {
	token string
	err   error
}

type timeoutEvent struct {
	token string
}

type stopEvent struct{}

func (sendEvent) isEvent()       {}
func (completionEvent) isEvent() {}
func (timeoutEvent) isEvent()    {}
func (stopEvent) isEvent()       {}

// mailbox is an unbounded FIFO feeding the worker goroutine. Posting never blocks.
type mailbox struct {
	mu     sync.Mutex
	items  []event
	closed bool
	signal chan struct{}
}

func newMailbox() *mailbox {
	return &mailbox{signal: make(chan struct{}, 1)}
}

func (m *mailbox) post(ev event) bool {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return false
	}
	m.items = append(m.items, ev)
	m.mu.Unlock()

	m.notify()
	return true
}

// closeWith enqueues a final event and rejects every later post.
func (m *mailbox) closeWith(ev event) bool {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return false
	}
	m.items = append(m.items, ev)
	m.closed = true
	m.mu.Unlock()

	m.notify()
	return true
}

func (m *mailbox) drain() []event {
	m.mu.Lock()
	defer m.mu.Unlock()

	items := m.items
	m.items = nil
	return items
}

func (m *mailbox) notify() {
	select {
	case m.signal <- struct{}{}:
	default:
	}
}

func (d *Dispatcher) run() {
	defer close(d.done)

	for range d.mailbox.signal {
		for _, ev := range d.mailbox.drain() {
			if stop := d.handle(ev); stop {
				return
			}
		}
	}
}

func (d *Dispatcher) handle(ev event) bool {
	switch ev := ev.(type) {
	case sendEvent:
		d.handleSend(ev.request)
	case completionEvent:
		d.handleCompletion(ev.token, ev.err)
	case timeoutEvent:
		d.handleTimeout(ev.token)
	case stopEvent:
		d.abortPending()
		return true
	}
	return false
}

// completion is the token handed to a transport for one send.
type completion struct {
	token   string
	mailbox *mailbox
}

var _ domain.Completion = completion{}

func (d *Dispatcher) completionFor(token string) completion {
	return completion{token: token, mailbox: d.mailbox}
}

func (c completion) Token() string {
	return c.token
}

// Complete reports the outcome of the send. It may be called from any
// goroutine; outcomes arriving after the dispatcher closed are dropped.
func (c completion) Complete(err error) {
	c.mailbox.post(completionEvent{token: c.token, err: err})
}
