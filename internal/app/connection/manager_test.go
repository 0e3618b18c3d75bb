package connection

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ghalamif/uabridge/internal/adapters/simulator"
	"github.com/ghalamif/uabridge/internal/ports"
	"github.com/ghalamif/uabridge/internal/testutil"
)

const endpoint = "opc.tcp://plant:53530/OPC/iot/"

// noSleep records the requested delays without waiting.
type noSleep struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (s *noSleep) sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.delays = append(s.delays, d)
	s.mu.Unlock()
	return ctx.Err()
}

type events struct {
	mu  sync.Mutex
	got []Event
}

func (e *events) hook(ev Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.got = append(e.got, ev)
}

func (e *events) kinds() []EventKind {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]EventKind, 0, len(e.got))
	for _, ev := range e.got {
		out = append(out, ev.Kind)
	}
	return out
}

func TestConnectRetriesThenRecovers(t *testing.T) {
	srv := simulator.New(simulator.FailDials(3))
	obs := testutil.NewObs()
	ns := &noSleep{}
	ev := &events{}
	m := NewManager(srv, Config{Backoff: BackoffConfig{Initial: time.Second, Max: 3 * time.Second}}, obs,
		WithSleep(ns.sleep), WithEventHook(ev.hook))

	conn, err := m.Connect(context.Background(), endpoint)
	require.NoError(t, err)
	require.NotNil(t, conn)

	assert.Equal(t, 4, srv.Stats().Dials)
	assert.Equal(t, 1, srv.Stats().OpenConns)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 3 * time.Second}, ns.delays)

	assert.Equal(t, []EventKind{EventConnecting, EventRetrying, EventRetrying, EventRetrying, EventConnected}, ev.kinds())
	retries := obs.Find("opcua_connect_retry")
	require.Len(t, retries, 3)
	for i, r := range retries {
		assert.Equal(t, i+1, r.Field("attempt"))
		assert.NotEmpty(t, r.Field("error"))
	}
	assert.Len(t, obs.Find("opcua_connected"), 1)
	assert.Equal(t, 4.0, obs.Counter(ports.MetricConnectAttempts))
	assert.Equal(t, 3.0, obs.Counter(ports.MetricConnectRetries))
	assert.Equal(t, 1, obs.Observations(ports.MetricConnectDuration))
}

func TestConnectGivesUpAfterMaxRetries(t *testing.T) {
	srv := simulator.New(simulator.FailDials(10))
	obs := testutil.NewObs()
	ns := &noSleep{}
	m := NewManager(srv, Config{MaxRetries: 2}, obs, WithSleep(ns.sleep))

	_, err := m.Connect(context.Background(), endpoint)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConnection)
	assert.ErrorIs(t, err, simulator.ErrUnreachable)
	assert.Equal(t, 3, srv.Stats().Dials, "first attempt plus two retries")
	assert.Len(t, ns.delays, 2)
	assert.Len(t, obs.Find("opcua_connect_failed"), 1)
}

func TestConnectAbortsOnCancel(t *testing.T) {
	srv := simulator.New(simulator.FailDials(1000))
	m := NewManager(srv, Config{Backoff: BackoffConfig{Initial: time.Hour}}, testutil.NewObs())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := m.Connect(ctx, endpoint)
		done <- err
	}()

	require.Eventually(t, func() bool { return srv.Stats().Dials >= 1 }, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrConnection)
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Connect kept waiting after cancellation")
	}
	assert.Equal(t, 1, srv.Stats().Dials)
}

type permanentDialer struct{ dials int }

func (d *permanentDialer) Dial(context.Context, string) (ports.Conn, error) {
	d.dials++
	return nil, fmt.Errorf("endpoint not advertised: %w", ports.ErrPermanent)
}

func TestConnectDoesNotRetryPermanentFailures(t *testing.T) {
	d := &permanentDialer{}
	ns := &noSleep{}
	m := NewManager(d, Config{}, testutil.NewObs(), WithSleep(ns.sleep))

	_, err := m.Connect(context.Background(), endpoint)
	assert.ErrorIs(t, err, ErrConnection)
	assert.ErrorIs(t, err, ports.ErrPermanent)
	assert.Equal(t, 1, d.dials)
	assert.Empty(t, ns.delays)
}

func TestCreateSessionRejected(t *testing.T) {
	denied := errors.New("BadUserAccessDenied")
	srv := simulator.New(simulator.RejectSessions(denied))
	m := NewManager(srv, Config{}, testutil.NewObs())

	conn, err := m.Connect(context.Background(), endpoint)
	require.NoError(t, err)

	_, err = m.CreateSession(context.Background(), conn)
	assert.ErrorIs(t, err, ErrSession)
	assert.ErrorIs(t, err, denied)
	assert.Nil(t, m.Session())

	_, err = m.CreateSession(context.Background(), nil)
	assert.ErrorIs(t, err, ErrSession)
}

func TestEstablishRetriesTransientSessionFailure(t *testing.T) {
	srv := simulator.New(simulator.FailSessions(2))
	obs := testutil.NewObs()
	ns := &noSleep{}
	ev := &events{}
	m := NewManager(srv, Config{MaxRetries: 5}, obs, WithSleep(ns.sleep), WithEventHook(ev.hook))

	sess, err := m.Establish(context.Background(), endpoint)
	require.NoError(t, err)
	require.NotNil(t, sess)
	assert.Same(t, sess, m.Session())

	st := srv.Stats()
	assert.Equal(t, 3, st.Dials, "every session failure goes back through a fresh dial")
	assert.Equal(t, 1, st.Sessions)
	assert.Equal(t, 1, st.OpenConns, "connections of failed attempts are closed")
	assert.Len(t, ns.delays, 2)

	retries := obs.Find("opcua_connect_retry")
	require.Len(t, retries, 2)
	assert.Contains(t, retries[0].Field("error"), simulator.ErrSessionLost.Error())
	assert.Equal(t, []EventKind{
		EventConnecting,
		EventConnected, EventDisconnected, EventRetrying,
		EventConnected, EventDisconnected, EventRetrying,
		EventConnected, EventSessionCreated,
	}, ev.kinds())
}

func TestEstablishGivesUpOnTransientSessionFailures(t *testing.T) {
	srv := simulator.New(simulator.FailSessions(10))
	m := NewManager(srv, Config{MaxRetries: 1}, testutil.NewObs(), WithSleep((&noSleep{}).sleep))

	_, err := m.Establish(context.Background(), endpoint)
	assert.ErrorIs(t, err, ErrConnection)
	assert.ErrorIs(t, err, ErrSession)
	assert.ErrorIs(t, err, simulator.ErrSessionLost)
	assert.Equal(t, 2, srv.Stats().Dials)
	assert.Zero(t, srv.Stats().OpenConns)
}

func TestEstablishDoesNotRetryPermanentSessionRejection(t *testing.T) {
	denied := fmt.Errorf("BadIdentityTokenRejected: %w", ports.ErrPermanent)
	srv := simulator.New(simulator.RejectSessions(denied))
	ns := &noSleep{}
	m := NewManager(srv, Config{}, testutil.NewObs(), WithSleep(ns.sleep))

	_, err := m.Establish(context.Background(), endpoint)
	assert.ErrorIs(t, err, ErrSession)
	assert.ErrorIs(t, err, ports.ErrPermanent)
	assert.Equal(t, 1, srv.Stats().Dials)
	assert.Empty(t, ns.delays)
	assert.Nil(t, m.Session())
}

func TestCloseIsIdempotent(t *testing.T) {
	srv := simulator.New()
	obs := testutil.NewObs()
	ev := &events{}
	m := NewManager(srv, Config{}, obs, WithEventHook(ev.hook))
	ctx := context.Background()

	conn, err := m.Connect(ctx, endpoint)
	require.NoError(t, err)
	sess, err := m.CreateSession(ctx, conn)
	require.NoError(t, err)
	assert.Same(t, sess, m.Session())
	assert.Len(t, obs.Find("opcua_session_created"), 1)

	require.NoError(t, m.Close(ctx))
	require.NoError(t, m.Close(ctx))
	assert.Nil(t, m.Session())
	assert.Zero(t, srv.Stats().OpenConns)
	assert.Equal(t,
		[]EventKind{EventConnecting, EventConnected, EventSessionCreated, EventSessionClosed, EventDisconnected},
		ev.kinds())

	_, err = m.Connect(ctx, endpoint)
	assert.ErrorIs(t, err, ErrManagerClosed)
}

func TestCloseNeverConnected(t *testing.T) {
	m := NewManager(simulator.New(), Config{}, testutil.NewObs())
	assert.NoError(t, m.Close(context.Background()))
}

type failingSession struct{ ports.Session }

func (failingSession) Close(context.Context) error { return errors.New("BadSessionIdInvalid") }

type trackingConn struct {
	closed bool
}

func (c *trackingConn) CreateSession(context.Context) (ports.Session, error) {
	return failingSession{}, nil
}

func (c *trackingConn) Close(context.Context) error {
	c.closed = true
	return nil
}

type fixedDialer struct{ conn ports.Conn }

func (d fixedDialer) Dial(context.Context, string) (ports.Conn, error) { return d.conn, nil }

func TestReleaseDisconnectsWhenSessionCloseFails(t *testing.T) {
	tc := &trackingConn{}
	obs := testutil.NewObs()
	m := NewManager(fixedDialer{conn: tc}, Config{}, obs)
	ctx := context.Background()

	conn, err := m.Connect(ctx, endpoint)
	require.NoError(t, err)
	_, err = m.CreateSession(ctx, conn)
	require.NoError(t, err)

	err = m.Close(ctx)
	assert.Error(t, err)
	assert.True(t, tc.closed, "connection must be closed even when session close fails")
	assert.Len(t, obs.Find("opcua_session_close_failed"), 1)
}

func TestReconnectReplacesStaleConnection(t *testing.T) {
	srv := simulator.New()
	m := NewManager(srv, Config{}, testutil.NewObs())
	ctx := context.Background()

	_, err := m.Connect(ctx, endpoint)
	require.NoError(t, err)
	_, err = m.Connect(ctx, endpoint)
	require.NoError(t, err)

	assert.Equal(t, 2, srv.Stats().Dials)
	assert.Equal(t, 1, srv.Stats().OpenConns)
}
