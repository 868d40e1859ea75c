package handler

import (
	"bytes"
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/satellite-dispatch/internal/domain"
	"github.com/kursadbilgin/satellite-dispatch/internal/observability"
	"github.com/kursadbilgin/satellite-dispatch/internal/transport"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func TestDatagramIntegration_SendSuccess(t *testing.T) {
	t.Parallel()

	var (
		mu      sync.Mutex
		gotSub  int
		gotType domain.DatagramType
		gotData string
		gotLast bool
	)
	disp := &stubDispatcher{
		sendFn: func(subID int, dt domain.DatagramType, d domain.Datagram, isLast bool, onComplete func(domain.ErrorCode)) error {
			mu.Lock()
			gotSub, gotType, gotData, gotLast = subID, dt, string(d.Data), isLast
			mu.Unlock()
			go onComplete(domain.ErrorCodeNone)
			return nil
		},
	}

	app := newDatagramTestApp(t, DatagramDeps{Dispatcher: disp, Statuses: &stubStatusReader{}})

	body := `{"subscriptionId":3,"datagramType":"sos","datagram":"aGVsbG8=","isLastSendToSatellite":true}`
	resp, respBody := performRequest(t, app, http.MethodPost, "/v1/datagrams", body)
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", resp.StatusCode, string(respBody))
	}

	var got sendDatagramResponse
	if err := json.Unmarshal(respBody, &got); err != nil {
		t.Fatalf("json unmarshal error = %v", err)
	}
	if got.SubscriptionID != 3 || got.ErrorCode != 0 || got.Error != "NONE" {
		t.Fatalf("unexpected response: %+v", got)
	}

	mu.Lock()
	defer mu.Unlock()
	if gotSub != 3 || gotType != domain.DatagramTypeSOSMessage || gotData != "hello" || !gotLast {
		t.Fatalf("dispatcher got sub=%d type=%s data=%q last=%v", gotSub, gotType, gotData, gotLast)
	}
}

func TestDatagramIntegration_SendOutcomeStatus(t *testing.T) {
	t.Parallel()

	tests := []struct {
		code       domain.ErrorCode
		wantStatus int
	}{
		{code: domain.ErrorCodeInvalidTelephonyState, wantStatus: fiber.StatusServiceUnavailable},
		{code: domain.ErrorCodeRequestAborted, wantStatus: fiber.StatusServiceUnavailable},
		{code: domain.ErrorCodeNetworkTimeout, wantStatus: fiber.StatusGatewayTimeout},
		{code: domain.ErrorCodeModemError, wantStatus: fiber.StatusBadGateway},
		{code: domain.ErrorCodeNoResources, wantStatus: fiber.StatusBadGateway},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.code.String(), func(t *testing.T) {
			t.Parallel()

			disp := &stubDispatcher{
				sendFn: func(_ int, _ domain.DatagramType, _ domain.Datagram, _ bool, onComplete func(domain.ErrorCode)) error {
					go onComplete(tt.code)
					return nil
				},
			}
			app := newDatagramTestApp(t, DatagramDeps{Dispatcher: disp, Statuses: &stubStatusReader{}})

			resp, respBody := performRequest(t, app, http.MethodPost, "/v1/datagrams", validSendBody)
			if resp.StatusCode != tt.wantStatus {
				t.Fatalf("status = %d, want %d, body=%s", resp.StatusCode, tt.wantStatus, string(respBody))
			}

			var got sendDatagramResponse
			if err := json.Unmarshal(respBody, &got); err != nil {
				t.Fatalf("json unmarshal error = %v", err)
			}
			if got.ErrorCode != int(tt.code) || got.Error != tt.code.String() {
				t.Fatalf("unexpected response: %+v", got)
			}
		})
	}
}

func TestDatagramIntegration_SendValidation(t *testing.T) {
	t.Parallel()

	disp := &stubDispatcher{}
	app := newDatagramTestApp(t, DatagramDeps{Dispatcher: disp, Statuses: &stubStatusReader{}})

	bodies := map[string]string{
		"invalid json":          `{`,
		"missing subscription":  `{"datagramType":"sos","datagram":"aGk="}`,
		"negative subscription": `{"subscriptionId":-1,"datagramType":"sos","datagram":"aGk="}`,
		"unknown type":          `{"subscriptionId":1,"datagramType":"chat","datagram":"aGk="}`,
		"empty datagram":        `{"subscriptionId":1,"datagramType":"sos","datagram":""}`,
		"invalid base64":        `{"subscriptionId":1,"datagramType":"sos","datagram":"***"}`,
	}

	for name, body := range bodies {
		resp, respBody := performRequest(t, app, http.MethodPost, "/v1/datagrams", body)
		if resp.StatusCode != fiber.StatusBadRequest {
			t.Fatalf("%s: status = %d, want 400, body=%s", name, resp.StatusCode, string(respBody))
		}
	}

	if disp.calls() != 0 {
		t.Fatalf("dispatcher calls = %d, want 0", disp.calls())
	}
}

func TestDatagramIntegration_SendDispatcherClosed(t *testing.T) {
	t.Parallel()

	disp := &stubDispatcher{
		sendFn: func(int, domain.DatagramType, domain.Datagram, bool, func(domain.ErrorCode)) error {
			return domain.ErrDispatcherClosed
		},
	}
	app := newDatagramTestApp(t, DatagramDeps{Dispatcher: disp, Statuses: &stubStatusReader{}})

	resp, respBody := performRequest(t, app, http.MethodPost, "/v1/datagrams", validSendBody)
	if resp.StatusCode != fiber.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503, body=%s", resp.StatusCode, string(respBody))
	}
}

func TestDatagramIntegration_SendRateLimited(t *testing.T) {
	t.Parallel()

	disp := &stubDispatcher{
		sendFn: func(_ int, _ domain.DatagramType, _ domain.Datagram, _ bool, onComplete func(domain.ErrorCode)) error {
			go onComplete(domain.ErrorCodeNone)
			return nil
		},
	}

	t.Run("rejected when limit exceeded", func(t *testing.T) {
		limiter := &stubLimiter{allowFn: func(ctx context.Context, subID int) (bool, error) { return false, nil }}
		app := newDatagramTestApp(t, DatagramDeps{Dispatcher: disp, Statuses: &stubStatusReader{}, Limiter: limiter})

		resp, respBody := performRequest(t, app, http.MethodPost, "/v1/datagrams", validSendBody)
		if resp.StatusCode != fiber.StatusTooManyRequests {
			t.Fatalf("status = %d, want 429, body=%s", resp.StatusCode, string(respBody))
		}
		if disp.calls() != 0 {
			t.Fatalf("dispatcher calls = %d, want 0", disp.calls())
		}
	})

	t.Run("admitted when limiter fails", func(t *testing.T) {
		limiter := &stubLimiter{allowFn: func(ctx context.Context, subID int) (bool, error) { return false, errors.New("redis down") }}
		app := newDatagramTestApp(t, DatagramDeps{Dispatcher: disp, Statuses: &stubStatusReader{}, Limiter: limiter})

		resp, respBody := performRequest(t, app, http.MethodPost, "/v1/datagrams", validSendBody)
		if resp.StatusCode != fiber.StatusOK {
			t.Fatalf("status = %d, want 200, body=%s", resp.StatusCode, string(respBody))
		}
	})
}

func TestDatagramIntegration_SendWaitTimeout(t *testing.T) {
	t.Parallel()

	disp := &stubDispatcher{
		sendFn: func(int, domain.DatagramType, domain.Datagram, bool, func(domain.ErrorCode)) error {
			return nil
		},
	}
	app := newDatagramTestApp(t, DatagramDeps{
		Dispatcher:  disp,
		Statuses:    &stubStatusReader{},
		WaitTimeout: 20 * time.Millisecond,
	})

	resp, respBody := performRequest(t, app, http.MethodPost, "/v1/datagrams", validSendBody)
	if resp.StatusCode != fiber.StatusGatewayTimeout {
		t.Fatalf("status = %d, want 504, body=%s", resp.StatusCode, string(respBody))
	}
}

func TestDatagramIntegration_GetTransferState(t *testing.T) {
	t.Parallel()

	updatedAt := time.Date(2025, 2, 3, 4, 5, 6, 0, time.UTC)
	statuses := &stubStatusReader{statuses: map[int]domain.TransferStatus{
		1: {SubscriptionID: 1, State: domain.TransferStateSending, PendingCount: 1, UpdatedAt: updatedAt},
	}}
	store := &stubStatusStore{loadFn: func(ctx context.Context, subID int) (domain.TransferStatus, error) {
		switch subID {
		case 2:
			return domain.TransferStatus{SubscriptionID: 2, State: domain.TransferStateIdle, UpdatedAt: updatedAt}, nil
		case 4:
			return domain.TransferStatus{}, errors.New("redis down")
		}
		return domain.TransferStatus{}, domain.ErrNotFound
	}}
	app := newDatagramTestApp(t, DatagramDeps{Dispatcher: &stubDispatcher{}, Statuses: statuses, Store: store})

	resp, body := performRequest(t, app, http.MethodGet, "/v1/subscriptions/1/transfer-state", "")
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", resp.StatusCode, string(body))
	}
	var got transferStatusResponse
	if err := json.Unmarshal(body, &got); err != nil {
		t.Fatalf("json unmarshal error = %v", err)
	}
	if got.State != "SENDING" || got.StateCode != 1 || got.PendingCount != 1 || got.Error != "NONE" {
		t.Fatalf("unexpected response: %+v", got)
	}

	resp, body = performRequest(t, app, http.MethodGet, "/v1/subscriptions/2/transfer-state", "")
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want 200 from store, body=%s", resp.StatusCode, string(body))
	}

	resp, _ = performRequest(t, app, http.MethodGet, "/v1/subscriptions/3/transfer-state", "")
	if resp.StatusCode != fiber.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}

	resp, _ = performRequest(t, app, http.MethodGet, "/v1/subscriptions/4/transfer-state", "")
	if resp.StatusCode != fiber.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", resp.StatusCode)
	}

	resp, _ = performRequest(t, app, http.MethodGet, "/v1/subscriptions/abc/transfer-state", "")
	if resp.StatusCode != fiber.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestDatagramIntegration_GetTransferStateWithoutStore(t *testing.T) {
	t.Parallel()

	app := newDatagramTestApp(t, DatagramDeps{Dispatcher: &stubDispatcher{}, Statuses: &stubStatusReader{}})

	resp, _ := performRequest(t, app, http.MethodGet, "/v1/subscriptions/9/transfer-state", "")
	if resp.StatusCode != fiber.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}

	resp, _ = performRequest(t, app, http.MethodGet, "/v1/subscriptions/9/transfer-events", "")
	if resp.StatusCode != fiber.StatusNotFound {
		t.Fatalf("status = %d, want 404 when events are not wired", resp.StatusCode)
	}
}

func TestDatagramIntegration_ListTransferEvents(t *testing.T) {
	t.Parallel()

	var gotLimit int
	events := &stubEventLister{listFn: func(ctx context.Context, subID int, limit int) ([]domain.TransferEvent, error) {
		gotLimit = limit
		return []domain.TransferEvent{
			{ID: "e2", SubscriptionID: subID, State: domain.TransferStateSendFailed, ErrorCode: domain.ErrorCodeModemError},
			{ID: "e1", SubscriptionID: subID, State: domain.TransferStateSending, PendingCount: 1},
		}, nil
	}}
	app := newDatagramTestApp(t, DatagramDeps{Dispatcher: &stubDispatcher{}, Statuses: &stubStatusReader{}, Events: events})

	resp, body := performRequest(t, app, http.MethodGet, "/v1/subscriptions/5/transfer-events?limit=10", "")
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", resp.StatusCode, string(body))
	}
	if gotLimit != 10 {
		t.Fatalf("limit = %d, want 10", gotLimit)
	}

	var got listTransferEventsResponse
	if err := json.Unmarshal(body, &got); err != nil {
		t.Fatalf("json unmarshal error = %v", err)
	}
	if got.SubscriptionID != 5 || len(got.Data) != 2 || got.Data[0].Error != "MODEM_ERROR" || got.Data[1].State != "SENDING" {
		t.Fatalf("unexpected response: %+v", got)
	}

	resp, _ = performRequest(t, app, http.MethodGet, "/v1/subscriptions/5/transfer-events?limit=0", "")
	if resp.StatusCode != fiber.StatusBadRequest {
		t.Fatalf("status = %d, want 400 for limit=0", resp.StatusCode)
	}
}

func TestNewDatagramHandlerValidation(t *testing.T) {
	t.Parallel()

	if _, err := NewDatagramHandler(DatagramDeps{Statuses: &stubStatusReader{}}); err == nil {
		t.Fatal("expected error for missing dispatcher")
	}
	if _, err := NewDatagramHandler(DatagramDeps{Dispatcher: &stubDispatcher{}}); err == nil {
		t.Fatal("expected error for missing status reader")
	}
}

func TestHealthIntegration_LivezAndReadyz(t *testing.T) {
	t.Parallel()

	t.Run("livez returns 200", func(t *testing.T) {
		t.Parallel()

		app := fiber.New(fiber.Config{ErrorHandler: transport.ErrorHandler(zap.NewNop())})
		RegisterHealthRoutes(app, sql.OpenDB(stubConnector{}), newStubRedisClient(nil), nil)

		resp, body := performRequest(t, app, http.MethodGet, "/livez", "")
		if resp.StatusCode != fiber.StatusOK {
			t.Fatalf("status = %d, want 200, body=%s", resp.StatusCode, string(body))
		}
	})

	t.Run("readyz returns 200 when dependencies healthy", func(t *testing.T) {
		t.Parallel()

		sqlDB := sql.OpenDB(stubConnector{})
		t.Cleanup(func() { _ = sqlDB.Close() })

		rdb := newStubRedisClient(nil)
		t.Cleanup(func() { _ = rdb.Close() })

		app := fiber.New(fiber.Config{ErrorHandler: transport.ErrorHandler(zap.NewNop())})
		RegisterHealthRoutes(app, sqlDB, rdb, func() bool { return false })

		resp, body := performRequest(t, app, http.MethodGet, "/readyz", "")
		if resp.StatusCode != fiber.StatusOK {
			t.Fatalf("status = %d, want 200, body=%s", resp.StatusCode, string(body))
		}
		if !strings.Contains(string(body), `"rabbitmq":"down"`) {
			t.Fatalf("expected broker check in body, got %s", string(body))
		}
	})

	t.Run("readyz returns 503 when dependencies down", func(t *testing.T) {
		t.Parallel()

		sqlDB := sql.OpenDB(stubConnector{pingErr: errors.New("postgres down")})
		t.Cleanup(func() { _ = sqlDB.Close() })

		rdb := newStubRedisClient(errors.New("redis down"))
		t.Cleanup(func() { _ = rdb.Close() })

		app := fiber.New(fiber.Config{ErrorHandler: transport.ErrorHandler(zap.NewNop())})
		RegisterHealthRoutes(app, sqlDB, rdb, func() bool { return true })

		resp, body := performRequest(t, app, http.MethodGet, "/readyz", "")
		if resp.StatusCode != fiber.StatusServiceUnavailable {
			t.Fatalf("status = %d, want 503, body=%s", resp.StatusCode, string(body))
		}
	})
}

func TestMetricsRoute(t *testing.T) {
	t.Parallel()

	metrics := observability.NewMetrics()
	metrics.IncDatagramSent("modem")

	app := fiber.New()
	RegisterMetricsRoute(app, metrics)

	resp, body := performRequest(t, app, http.MethodGet, "/metrics", "")
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if !strings.Contains(string(body), "satellite_dispatch_datagrams_sent_total") {
		t.Fatalf("expected datagram counter in metrics output")
	}
}

const validSendBody = `{"subscriptionId":1,"datagramType":"LOCATION_SHARING","datagram":"aGk="}`

type stubDispatcher struct {
	mu     sync.Mutex
	n      int
	sendFn func(subID int, dt domain.DatagramType, d domain.Datagram, isLast bool, onComplete func(domain.ErrorCode)) error
}

func (s *stubDispatcher) SendDatagram(subID int, dt domain.DatagramType, d domain.Datagram, isLast bool, onComplete func(domain.ErrorCode)) error {
	s.mu.Lock()
	s.n++
	s.mu.Unlock()

	if s.sendFn != nil {
		return s.sendFn(subID, dt, d, isLast, onComplete)
	}
	return errors.New("not implemented")
}

func (s *stubDispatcher) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.n
}

type stubStatusReader struct {
	statuses map[int]domain.TransferStatus
}

func (s *stubStatusReader) Status(subID int) (domain.TransferStatus, bool) {
	status, ok := s.statuses[subID]
	return status, ok
}

type stubStatusStore struct {
	loadFn func(ctx context.Context, subID int) (domain.TransferStatus, error)
}

func (s *stubStatusStore) Load(ctx context.Context, subID int) (domain.TransferStatus, error) {
	if s.loadFn != nil {
		return s.loadFn(ctx, subID)
	}
	return domain.TransferStatus{}, domain.ErrNotFound
}

type stubEventLister struct {
	listFn func(ctx context.Context, subID int, limit int) ([]domain.TransferEvent, error)
}

func (s *stubEventLister) ListBySubscription(ctx context.Context, subID int, limit int) ([]domain.TransferEvent, error) {
	if s.listFn != nil {
		return s.listFn(ctx, subID, limit)
	}
	return nil, nil
}

type stubLimiter struct {
	allowFn func(ctx context.Context, subID int) (bool, error)
}

func (s *stubLimiter) Allow(ctx context.Context, subID int) (bool, error) {
	if s.allowFn != nil {
		return s.allowFn(ctx, subID)
	}
	return true, nil
}

func newDatagramTestApp(t *testing.T, deps DatagramDeps) *fiber.App {
	t.Helper()

	app := fiber.New(fiber.Config{
		ErrorHandler: transport.ErrorHandler(zap.NewNop()),
	})

	if err := RegisterDatagramRoutes(app, deps); err != nil {
		t.Fatalf("RegisterDatagramRoutes() error = %v", err)
	}

	return app
}

func performRequest(t *testing.T, app *fiber.App, method string, path string, body string) (*http.Response, []byte) {
	t.Helper()

	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)

	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read response body: %v", err)
	}
	_ = resp.Body.Close()

	return resp, respBody
}

type stubConnector struct {
	pingErr error
}

func (c stubConnector) Connect(context.Context) (driver.Conn, error) {
	return stubConn(c), nil
}

func (c stubConnector) Driver() driver.Driver {
	return stubDriver(c)
}

type stubDriver struct {
	pingErr error
}

func (d stubDriver) Open(string) (driver.Conn, error) {
	return stubConn(d), nil
}

type stubConn struct {
	pingErr error
}

func (c stubConn) Prepare(string) (driver.Stmt, error) { return nil, errors.New("not implemented") }
func (c stubConn) Close() error                        { return nil }
func (c stubConn) Begin() (driver.Tx, error)           { return nil, errors.New("not implemented") }
func (c stubConn) Ping(context.Context) error          { return c.pingErr }

type stubRedisHook struct {
	pingErr error
}

func (h stubRedisHook) DialHook(next redis.DialHook) redis.DialHook {
	return next
}

func (h stubRedisHook) ProcessHook(next redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error {
		if strings.EqualFold(cmd.Name(), "ping") {
			if h.pingErr != nil {
				cmd.SetErr(h.pingErr)
				return h.pingErr
			}
			cmd.SetErr(nil)
			return nil
		}
		cmd.SetErr(nil)
		return nil
	}
}

func (h stubRedisHook) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return func(ctx context.Context, cmds []redis.Cmder) error {
		for _, cmd := range cmds {
			cmd.SetErr(nil)
		}
		return nil
	}
}

func newStubRedisClient(pingErr error) *redis.Client {
	rdb := redis.NewClient(&redis.Options{
		Addr:         "127.0.0.1:6379",
		DialTimeout:  time.Millisecond,
		ReadTimeout:  time.Millisecond,
		WriteTimeout: time.Millisecond,
	})
	rdb.AddHook(stubRedisHook{pingErr: pingErr})
	return rdb
}
