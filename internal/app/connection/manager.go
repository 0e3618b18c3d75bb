// Package connection owns the protocol connection and session: connect with
// retry and backoff, session creation, and best-effort teardown.
package connection

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ghalamif/uabridge/internal/ports"
)

var (
	ErrConnection    = errors.New("connection failed")
	ErrSession       = errors.New("session rejected")
	ErrManagerClosed = errors.New("connection manager closed")
)

// Config bounds the connect loop. MaxRetries counts retries after the first
// attempt; zero retries until the context is cancelled.
type Config struct {
	MaxRetries int
	Backoff    BackoffConfig
}

type EventKind uint8

const (
	EventConnecting EventKind = iota
	EventRetrying
	EventConnected
	EventSessionCreated
	EventSessionClosed
	EventDisconnected
)

func (k EventKind) String() string {
	switch k {
	case EventConnecting:
		return "connecting"
	case EventRetrying:
		return "retrying"
	case EventConnected:
		return "connected"
	case EventSessionCreated:
		return "session_created"
	case EventSessionClosed:
		return "session_closed"
	default:
		return "disconnected"
	}
}

// Event is emitted on every connection state change. Attempt, Delay and Err
// are set for EventRetrying.
type Event struct {
	Kind     EventKind
	Endpoint string
	Attempt  int
	Delay    time.Duration
	Err      error
}

type Option func(*Manager)

// WithEventHook registers fn to observe connection events. fn runs on the
// connecting goroutine and must not block.
func WithEventHook(fn func(Event)) Option {
	return func(m *Manager) { m.hook = fn }
}

// WithSleep replaces the retry wait; tests use it to skip real delays.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(m *Manager) { m.sleep = fn }
}

// Manager holds at most one connection and one session. Handles are only
// reachable through the Manager, whose owner is the lifecycle controller.
type Manager struct {
	dialer ports.Dialer
	cfg    Config
	obs    ports.Observability
	hook   func(Event)
	sleep  func(ctx context.Context, d time.Duration) error

	mu       sync.Mutex
	endpoint string
	conn     ports.Conn
	session  ports.Session
	closed   bool
}

func NewManager(dialer ports.Dialer, cfg Config, obs ports.Observability, opts ...Option) *Manager {
	cfg.Backoff.ApplyDefaults()
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	m := &Manager{
		dialer: dialer,
		cfg:    cfg,
		obs:    obs,
		sleep:  sleepCtx,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	return m
}

// Connect dials endpoint until it succeeds, the retry bound is exhausted,
// the dialer reports a permanent failure or ctx is cancelled. A connection
// left over from an earlier Connect is closed first.
func (m *Manager) Connect(ctx context.Context, endpoint string) (ports.Conn, error) {
	var conn ports.Conn
	err := m.retry(ctx, endpoint, func(attempt int) error {
		c, err := m.dial(ctx, endpoint, attempt)
		conn = c
		return err
	})
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// Establish connects and opens a session under one retry loop. Some stacks
// only bring the transport up while activating the session, so a session
// failure not marked ports.ErrPermanent drops the connection and backs off
// like a failed dial. A permanent one is returned at once.
func (m *Manager) Establish(ctx context.Context, endpoint string) (ports.Session, error) {
	var sess ports.Session
	err := m.retry(ctx, endpoint, func(attempt int) error {
		conn, err := m.dial(ctx, endpoint, attempt)
		if err != nil {
			return err
		}
		s, err := m.CreateSession(ctx, conn)
		if err != nil {
			if !errors.Is(err, ports.ErrPermanent) {
				_ = m.Disconnect(context.WithoutCancel(ctx))
			}
			return err
		}
		sess = s
		return nil
	})
	if err != nil {
		return nil, err
	}
	return sess, nil
}

// retry runs op until it succeeds, fails permanently, exhausts MaxRetries or
// ctx ends, sleeping the backoff delay in between.
func (m *Manager) retry(ctx context.Context, endpoint string, op func(attempt int) error) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrManagerClosed
	}
	m.endpoint = endpoint
	m.mu.Unlock()

	_ = m.Disconnect(ctx)

	backoff := NewBackoff(m.cfg.Backoff)
	start := time.Now()
	for attempt := 1; ; attempt++ {
		if attempt == 1 {
			m.obs.LogInfo("opcua_connecting", ports.Field{Key: "endpoint", Value: endpoint})
			m.emit(Event{Kind: EventConnecting, Endpoint: endpoint})
		}
		m.obs.IncCounter(ports.MetricConnectAttempts, 1)

		err := op(attempt)
		if err == nil {
			m.obs.ObserveLatency(ports.MetricConnectDuration, time.Since(start).Seconds())
			return nil
		}
		if errors.Is(err, ErrManagerClosed) {
			return err
		}

		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("%w: %s: %w", ErrConnection, endpoint, ctxErr)
		}
		if errors.Is(err, ports.ErrPermanent) {
			m.obs.LogError("opcua_connect_failed", err, ports.Field{Key: "endpoint", Value: endpoint})
			return fmt.Errorf("%w: %s: %w", ErrConnection, endpoint, err)
		}
		if m.cfg.MaxRetries > 0 && attempt > m.cfg.MaxRetries {
			m.obs.LogError("opcua_connect_failed", err,
				ports.Field{Key: "endpoint", Value: endpoint},
				ports.Field{Key: "attempts", Value: attempt},
			)
			return fmt.Errorf("%w: %s: gave up after %d attempts: %w", ErrConnection, endpoint, attempt, err)
		}

		delay := backoff.Next()
		m.obs.IncCounter(ports.MetricConnectRetries, 1)
		m.obs.LogWarn("opcua_connect_retry",
			ports.Field{Key: "endpoint", Value: endpoint},
			ports.Field{Key: "attempt", Value: attempt},
			ports.Field{Key: "delay", Value: delay.String()},
			ports.Field{Key: "error", Value: err.Error()},
		)
		m.emit(Event{Kind: EventRetrying, Endpoint: endpoint, Attempt: attempt, Delay: delay, Err: err})

		if err := m.sleep(ctx, delay); err != nil {
			return fmt.Errorf("%w: %s: %w", ErrConnection, endpoint, err)
		}
	}
}

func (m *Manager) dial(ctx context.Context, endpoint string, attempt int) (ports.Conn, error) {
	conn, err := m.dialer.Dial(ctx, endpoint)
	if err != nil {
		return nil, err
	}
	if !m.adopt(conn) {
		_ = conn.Close(context.WithoutCancel(ctx))
		return nil, ErrManagerClosed
	}
	m.obs.LogInfo("opcua_connected",
		ports.Field{Key: "endpoint", Value: endpoint},
		ports.Field{Key: "attempts", Value: attempt},
	)
	m.emit(Event{Kind: EventConnected, Endpoint: endpoint, Attempt: attempt})
	return conn, nil
}

// CreateSession opens a session on conn. It does not retry; Establish does.
func (m *Manager) CreateSession(ctx context.Context, conn ports.Conn) (ports.Session, error) {
	if conn == nil {
		return nil, fmt.Errorf("%w: no connection", ErrSession)
	}
	sess, err := conn.CreateSession(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSession, err)
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		_ = sess.Close(context.WithoutCancel(ctx))
		return nil, ErrManagerClosed
	}
	prev := m.session
	m.session = sess
	endpoint := m.endpoint
	m.mu.Unlock()

	if prev != nil {
		if err := prev.Close(ctx); err != nil {
			m.obs.LogWarn("opcua_session_close_failed", ports.Field{Key: "error", Value: err.Error()})
		}
	}
	m.obs.LogInfo("opcua_session_created", ports.Field{Key: "endpoint", Value: endpoint})
	m.emit(Event{Kind: EventSessionCreated, Endpoint: endpoint})
	return sess, nil
}

// Session returns the current session or nil.
func (m *Manager) Session() ports.Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session
}

// CloseSession closes the current session if there is one. Errors are logged
// and returned; the handle is dropped either way.
func (m *Manager) CloseSession(ctx context.Context) error {
	m.mu.Lock()
	sess := m.session
	m.session = nil
	m.mu.Unlock()
	if sess == nil {
		return nil
	}

	if err := sess.Close(ctx); err != nil {
		m.obs.LogError("opcua_session_close_failed", err)
		return err
	}
	m.obs.LogInfo("opcua_session_closed")
	m.emit(Event{Kind: EventSessionClosed})
	return nil
}

// Disconnect closes the current connection if there is one.
func (m *Manager) Disconnect(ctx context.Context) error {
	m.mu.Lock()
	conn := m.conn
	m.conn = nil
	endpoint := m.endpoint
	m.mu.Unlock()
	if conn == nil {
		return nil
	}

	if err := conn.Close(ctx); err != nil {
		m.obs.LogError("opcua_disconnect_failed", err, ports.Field{Key: "endpoint", Value: endpoint})
		return err
	}
	m.obs.LogInfo("opcua_disconnected", ports.Field{Key: "endpoint", Value: endpoint})
	m.emit(Event{Kind: EventDisconnected, Endpoint: endpoint})
	return nil
}

// Release closes the session then the connection. The connection is closed
// even when closing the session fails; both errors are returned joined.
func (m *Manager) Release(ctx context.Context) error {
	return errors.Join(m.CloseSession(ctx), m.Disconnect(ctx))
}

// Close releases everything and refuses further connects. It is safe to call
// any number of times and on a manager that never connected.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return m.Release(ctx)
}

func (m *Manager) adopt(conn ports.Conn) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return false
	}
	m.conn = conn
	return true
}

func (m *Manager) emit(ev Event) {
	if m.hook != nil {
		m.hook(ev)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
