// Package simulator is an in-memory stand-in for an OPC UA server. It backs
// `uabridge run --simulate` and scripts failure scenarios in tests.
package simulator

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/ghalamif/uabridge/internal/ports"
)

var (
	ErrUnreachable  = errors.New("simulator: endpoint unreachable")
	ErrNotConnected = errors.New("simulator: connection closed")
	ErrSessionLost  = errors.New("simulator: secure channel lost while activating session")
)

type Option func(*Server)

// WithInterval makes every live subscription emit a random-walk value for
// each monitored node on the given period. Zero disables generation.
func WithInterval(d time.Duration) Option {
	return func(s *Server) { s.interval = d }
}

func WithSensor(nodeID string, p SensorParams) Option {
	return func(s *Server) { s.sensors[nodeID] = p }
}

func WithSeed(seed int64) Option {
	return func(s *Server) { s.rng = rand.New(rand.NewSource(seed)) }
}

// FailDials makes the next n dials fail with ErrUnreachable.
func FailDials(n int) Option {
	return func(s *Server) { s.failDials = n }
}

// FailSessions makes the next n CreateSession calls fail with ErrSessionLost,
// the way a server that restarts mid-handshake does.
func FailSessions(n int) Option {
	return func(s *Server) { s.failSessions = n }
}

// RejectSessions makes every CreateSession fail with err. Wrap
// ports.ErrPermanent for a rejection that must not be retried.
func RejectSessions(err error) Option {
	return func(s *Server) { s.sessionErr = err }
}

// RejectSubscriptions makes Subscribe fail with err.
func RejectSubscriptions(err error) Option {
	return func(s *Server) { s.subscribeErr = err }
}

// RejectNode makes Monitor fail for nodeID with err.
func RejectNode(nodeID string, err error) Option {
	return func(s *Server) { s.monitorErrs[nodeID] = err }
}

// Server implements ports.Dialer.
type Server struct {
	mu           sync.Mutex
	interval     time.Duration
	sensors      map[string]SensorParams
	rng          *rand.Rand
	failDials    int
	sessionErr   error
	failSessions int
	subscribeErr error
	monitorErrs  map[string]error

	dials    int
	sessions int
	conns    []*conn
	subs     []*subscription
	nextID   uint32
}

func New(opts ...Option) *Server {
	s := &Server{
		sensors:     make(map[string]SensorParams),
		monitorErrs: make(map[string]error),
		rng:         rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

func (s *Server) Dial(ctx context.Context, endpoint string) (ports.Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dials++
	if s.failDials > 0 {
		s.failDials--
		return nil, fmt.Errorf("dial %s: %w", endpoint, ErrUnreachable)
	}
	c := &conn{srv: s, endpoint: endpoint}
	s.conns = append(s.conns, c)
	return c, nil
}

// Emit delivers a data change for nodeID to every live subscription that
// monitors it and reports how many received it.
func (s *Server) Emit(nodeID string, value any, serverTS time.Time) int {
	delivered := 0
	for _, sub := range s.liveSubscriptions() {
		if sub.deliver(nodeID, value, serverTS) {
			delivered++
		}
	}
	return delivered
}

// FailNextDials makes the next n dials fail with ErrUnreachable.
func (s *Server) FailNextDials(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failDials = n
}

// KeepAlive sends a keep-alive on every live subscription.
func (s *Server) KeepAlive() {
	for _, sub := range s.liveSubscriptions() {
		sub.push(ports.Notification{Kind: ports.NotificationKeepAlive})
	}
}

// TerminateSubscriptions ends every live subscription server-side, the way a
// lifetime timeout would.
func (s *Server) TerminateSubscriptions() {
	for _, sub := range s.liveSubscriptions() {
		sub.terminate(errors.New("simulator: subscription lifetime expired"))
	}
}

type Stats struct {
	Dials             int
	Sessions          int
	OpenConns         int
	Subscriptions     int
	LiveSubscriptions int
	MonitoredItems    int
}

func (s *Server) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := Stats{Dials: s.dials, Sessions: s.sessions, Subscriptions: len(s.subs)}
	for _, c := range s.conns {
		if !c.isClosed() {
			st.OpenConns++
		}
	}
	for _, sub := range s.subs {
		if n, live := sub.itemCount(); live {
			st.LiveSubscriptions++
			st.MonitoredItems += n
		}
	}
	return st
}

func (s *Server) newSensor(nodeID string) *sensor {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.sensors[nodeID]
	if !ok {
		p = SensorParams{Mean: 50, StandardDeviation: 5}
	}
	return newSensor(p, rand.New(rand.NewSource(s.rng.Int63())))
}

func (s *Server) liveSubscriptions() []*subscription {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*subscription, 0, len(s.subs))
	for _, sub := range s.subs {
		if _, live := sub.itemCount(); live {
			out = append(out, sub)
		}
	}
	return out
}

type conn struct {
	srv      *Server
	endpoint string

	mu     sync.Mutex
	closed bool
}

func (c *conn) CreateSession(ctx context.Context) (ports.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if c.isClosed() {
		return nil, ErrNotConnected
	}
	c.srv.mu.Lock()
	defer c.srv.mu.Unlock()
	if c.srv.sessionErr != nil {
		return nil, c.srv.sessionErr
	}
	if c.srv.failSessions > 0 {
		c.srv.failSessions--
		return nil, ErrSessionLost
	}
	c.srv.sessions++
	return &session{conn: c}, nil
}

func (c *conn) Close(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrNotConnected
	}
	c.closed = true
	return nil
}

func (c *conn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

type session struct {
	conn *conn

	mu     sync.Mutex
	closed bool
}

func (s *session) Subscribe(ctx context.Context, params ports.SubscriptionParams) (ports.Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed || s.conn.isClosed() {
		return nil, ErrNotConnected
	}

	srv := s.conn.srv
	srv.mu.Lock()
	if srv.subscribeErr != nil {
		err := srv.subscribeErr
		srv.mu.Unlock()
		return nil, err
	}
	srv.nextID++
	rejects := make(map[string]error, len(srv.monitorErrs))
	for node, err := range srv.monitorErrs {
		rejects[node] = err
	}
	sub := newSubscription(srv.nextID, params, rejects)
	srv.subs = append(srv.subs, sub)
	interval := srv.interval
	srv.mu.Unlock()

	if interval > 0 {
		go sub.generate(srv, interval)
	}
	return sub, nil
}

func (s *session) Close(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrNotConnected
	}
	s.closed = true
	return nil
}

var _ ports.Dialer = (*Server)(nil)
