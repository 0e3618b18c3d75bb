package simulator

import (
	"context"
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ghalamif/uabridge/internal/ports"
)

func subscribe(t *testing.T, srv *Server) ports.Subscription {
	t.Helper()
	ctx := context.Background()
	conn, err := srv.Dial(ctx, "opc.tcp://sim:4840")
	require.NoError(t, err)
	sess, err := conn.CreateSession(ctx)
	require.NoError(t, err)
	sub, err := sess.Subscribe(ctx, ports.SubscriptionParams{PublishingEnabled: true})
	require.NoError(t, err)
	return sub
}

func TestFailDialsThenRecover(t *testing.T) {
	srv := New(FailDials(2))
	ctx := context.Background()

	_, err := srv.Dial(ctx, "opc.tcp://sim:4840")
	assert.ErrorIs(t, err, ErrUnreachable)
	_, err = srv.Dial(ctx, "opc.tcp://sim:4840")
	assert.ErrorIs(t, err, ErrUnreachable)

	conn, err := srv.Dial(ctx, "opc.tcp://sim:4840")
	require.NoError(t, err)
	require.NotNil(t, conn)
	assert.Equal(t, 3, srv.Stats().Dials)
	assert.Equal(t, 1, srv.Stats().OpenConns)

	require.NoError(t, conn.Close(ctx))
	assert.ErrorIs(t, conn.Close(ctx), ErrNotConnected)
	assert.Zero(t, srv.Stats().OpenConns)
}

func TestRejections(t *testing.T) {
	denied := errors.New("access denied")
	ctx := context.Background()

	conn, err := New(RejectSessions(denied)).Dial(ctx, "opc.tcp://sim:4840")
	require.NoError(t, err)
	_, err = conn.CreateSession(ctx)
	assert.ErrorIs(t, err, denied)

	srv := New(FailSessions(1))
	conn, err = srv.Dial(ctx, "opc.tcp://sim:4840")
	require.NoError(t, err)
	_, err = conn.CreateSession(ctx)
	assert.ErrorIs(t, err, ErrSessionLost)
	_, err = conn.CreateSession(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, srv.Stats().Sessions)

	conn, err = New(RejectSubscriptions(denied)).Dial(ctx, "opc.tcp://sim:4840")
	require.NoError(t, err)
	sess, err := conn.CreateSession(ctx)
	require.NoError(t, err)
	_, err = sess.Subscribe(ctx, ports.SubscriptionParams{})
	assert.ErrorIs(t, err, denied)
}

func TestMonitorAndEmit(t *testing.T) {
	bad := errors.New("BadNodeIdUnknown")
	srv := New(RejectNode("ns=3;i=9999", bad))
	sub := subscribe(t, srv)
	ctx := context.Background()

	require.NoError(t, sub.Monitor(ctx, ports.MonitorRequest{Handle: 1, NodeID: "ns=3;i=1001"}))
	assert.ErrorIs(t, sub.Monitor(ctx, ports.MonitorRequest{Handle: 2, NodeID: "ns=3;i=9999"}), bad)
	assert.Equal(t, 1, srv.Stats().MonitoredItems)

	ts := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	assert.Equal(t, 1, srv.Emit("ns=3;i=1001", 72.5, ts))
	assert.Zero(t, srv.Emit("ns=3;i=1002", 1.0, ts), "unmonitored node")

	n := <-sub.Notifications()
	assert.Equal(t, ports.NotificationDataChange, n.Kind)
	assert.Equal(t, uint32(1), n.Change.Handle)
	assert.Equal(t, 72.5, n.Change.Value)
	assert.Equal(t, ts, n.Change.ServerTimestamp)

	srv.KeepAlive()
	assert.Equal(t, ports.NotificationKeepAlive, (<-sub.Notifications()).Kind)
}

func TestTerminateClosesStream(t *testing.T) {
	srv := New()
	sub := subscribe(t, srv)
	require.NoError(t, sub.Monitor(context.Background(), ports.MonitorRequest{Handle: 1, NodeID: "ns=3;i=1001"}))

	srv.TerminateSubscriptions()

	n, ok := <-sub.Notifications()
	require.True(t, ok)
	assert.Equal(t, ports.NotificationTerminated, n.Kind)
	_, ok = <-sub.Notifications()
	assert.False(t, ok)

	assert.Zero(t, srv.Stats().LiveSubscriptions)
	assert.ErrorIs(t, sub.Cancel(context.Background()), ErrSubscriptionClosed)
	assert.Zero(t, srv.Emit("ns=3;i=1001", 1.0, time.Now()))
}

func TestGeneratedValues(t *testing.T) {
	srv := New(
		WithInterval(5*time.Millisecond),
		WithSeed(7),
		WithSensor("ns=3;i=1002", SensorParams{Mean: 1200, StandardDeviation: 30}),
	)
	sub := subscribe(t, srv)
	require.NoError(t, sub.Monitor(context.Background(), ports.MonitorRequest{Handle: 4, NodeID: "ns=3;i=1002"}))

	select {
	case n := <-sub.Notifications():
		require.Equal(t, ports.NotificationDataChange, n.Kind)
		assert.Equal(t, uint32(4), n.Change.Handle)
		assert.InDelta(t, 1200, n.Change.Value, 10)
		assert.False(t, n.Change.ServerTimestamp.IsZero())
	case <-time.After(2 * time.Second):
		t.Fatal("no generated value")
	}
	require.NoError(t, sub.Cancel(context.Background()))
}

func TestSensorStaysNearMean(t *testing.T) {
	s := newSensor(SensorParams{Mean: 20, StandardDeviation: 2}, rand.New(rand.NewSource(1)))
	for i := 0; i < 10000; i++ {
		v := s.next()
		require.InDelta(t, 20, v, 20, "step %d drifted to %f", i, v)
	}
}
