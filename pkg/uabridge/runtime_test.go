package uabridge

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/ghalamif/uabridge/internal/adapters/simulator"
	"github.com/ghalamif/uabridge/internal/app/connection"
	"github.com/ghalamif/uabridge/internal/domain"
	"github.com/ghalamif/uabridge/internal/ports"
	"github.com/ghalamif/uabridge/internal/testutil"
)

func testConfig() *Config {
	cfg := DefaultConfig()
	cfg.Server.Addr = "127.0.0.1:0"
	cfg.Connect.MaxRetries = 2
	cfg.Connect.InitialDelay = time.Millisecond
	cfg.Connect.MaxDelay = 5 * time.Millisecond
	cfg.FanOut.IdleSleep = time.Millisecond
	cfg.Lifecycle.ShutdownTimeout = 2 * time.Second
	return cfg
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func TestNewRuntimeWithCustomAdapters(t *testing.T) {
	dialer := simulator.New()
	obs := testutil.NewObs()
	pub := testutil.NewPublisher()

	rt, err := NewRuntime(testConfig(),
		WithDialer(dialer),
		WithObservability(obs),
		WithPublisher(pub),
		WithPublisher(nil),
	)
	if err != nil {
		t.Fatalf("NewRuntime returned error: %v", err)
	}
	if rt.dialer != dialer {
		t.Fatalf("expected custom dialer to be used")
	}
	if rt.obs != obs {
		t.Fatalf("expected custom observability to be used")
	}
	if len(rt.extra) != 1 || rt.extra[0] != pub {
		t.Fatalf("expected exactly the custom publisher, got %v", rt.extra)
	}
	if rt.State() != StateIdle {
		t.Fatalf("expected idle before Run, got %s", rt.State())
	}
	if len(rt.Points()) != 4 {
		t.Fatalf("expected the four built-in points, got %d", len(rt.Points()))
	}
}

func TestNewRuntimeSimulation(t *testing.T) {
	rt, err := NewRuntime(testConfig(), WithSimulation(10*time.Millisecond), WithLogger(quietLogger()))
	if err != nil {
		t.Fatalf("NewRuntime returned error: %v", err)
	}
	if _, ok := rt.dialer.(*simulator.Server); !ok {
		t.Fatalf("expected simulator dialer, got %T", rt.dialer)
	}
}

func TestNewRuntimeRequiresConfig(t *testing.T) {
	if _, err := NewRuntime(nil); err == nil {
		t.Fatalf("expected error for nil config")
	}
}

func startRuntime(t *testing.T, rt *Runtime) (context.CancelFunc, <-chan error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- rt.Run(ctx) }()

	select {
	case <-rt.Ready():
	case err := <-done:
		cancel()
		t.Fatalf("Run returned before listening: %v", err)
	case <-time.After(2 * time.Second):
		cancel()
		t.Fatal("timed out waiting for listener")
	}
	return cancel, done
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func httpStatus(t *testing.T, url string) (int, string) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, string(body)
}

func TestRuntimeBridgesChangesToSubscribers(t *testing.T) {
	sim := simulator.New()
	channelPub, batches, closeBatches := NewChannelPublisher("test", 64)
	defer closeBatches()

	rt, err := NewRuntime(testConfig(),
		WithDialer(sim),
		WithLogger(quietLogger()),
		WithRegistry(prometheus.NewRegistry()),
		WithPublisher(channelPub),
	)
	if err != nil {
		t.Fatalf("NewRuntime returned error: %v", err)
	}
	cancel, done := startRuntime(t, rt)
	defer cancel()

	base := "http://" + rt.Addr()
	waitFor(t, "running", func() bool { return rt.State() == StateRunning })
	if code, body := httpStatus(t, base+"/readyz"); code != http.StatusOK || body != "running" {
		t.Fatalf("readyz = %d %q", code, body)
	}
	if code, _ := httpStatus(t, base+"/healthz"); code != http.StatusOK {
		t.Fatalf("healthz = %d", code)
	}

	conn, resp, err := websocket.DefaultDialer.Dial("ws://"+rt.Addr()+"/ws", nil)
	if err != nil {
		t.Fatalf("websocket dial: %v", err)
	}
	resp.Body.Close()
	defer conn.Close()
	waitFor(t, "subscriber", func() bool { return rt.Subscribers() == 1 })

	ts := time.Date(2024, 5, 1, 8, 30, 0, 0, time.UTC)
	if n := sim.Emit("ns=3;i=1001", 21.5, ts); n != 1 {
		t.Fatalf("expected one subscription to receive the change, got %d", n)
	}

	got := map[string]string{}
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for len(got) < 2 {
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		var env struct {
			Topic string          `json:"topic"`
			Data  json.RawMessage `json:"data"`
		}
		if err := json.Unmarshal(data, &env); err != nil {
			t.Fatalf("decode envelope: %v", err)
		}
		got[env.Topic] = string(env.Data)
	}
	if got["temperature"] != "21.5" {
		t.Fatalf("temperature payload = %q", got["temperature"])
	}
	if got["time"] != `"2024-05-01T08:30:00Z"` {
		t.Fatalf("time payload = %q", got["time"])
	}

	select {
	case batch := <-batches:
		if len(batch) == 0 || batch[0].Topic != "temperature" {
			t.Fatalf("unexpected channel batch %+v", batch)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for channel publisher")
	}

	if _, body := httpStatus(t, base+"/metrics"); !strings.Contains(body, ports.MetricChangeEvents) {
		t.Fatalf("expected %s in metrics output", ports.MetricChangeEvents)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("expected clean shutdown, got %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for Run to return")
	}
	if rt.State() != StateStopped {
		t.Fatalf("expected stopped, got %s", rt.State())
	}
	if stats := sim.Stats(); stats.OpenConns != 0 || stats.LiveSubscriptions != 0 {
		t.Fatalf("expected everything released, got %+v", stats)
	}
}

func TestRuntimeStartupFailureIsFatal(t *testing.T) {
	sim := simulator.New(simulator.RejectSessions(ports.ErrPermanent))
	rt, err := NewRuntime(testConfig(),
		WithDialer(sim),
		WithObservability(testutil.NewObs()),
		WithRegistry(prometheus.NewRegistry()),
	)
	if err != nil {
		t.Fatalf("NewRuntime returned error: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	err = rt.Run(ctx)
	if !errors.Is(err, connection.ErrSession) {
		t.Fatalf("expected session error, got %v", err)
	}
	if rt.State() != domain.StateStopped {
		t.Fatalf("expected stopped after fatal startup, got %s", rt.State())
	}
	if err := rt.Run(ctx); !errors.Is(err, ErrRuntimeStarted) {
		t.Fatalf("expected ErrRuntimeStarted, got %v", err)
	}
}

func TestRuntimeShutdownBeforeRun(t *testing.T) {
	rt, err := NewRuntime(testConfig(), WithDialer(simulator.New()), WithObservability(testutil.NewObs()))
	if err != nil {
		t.Fatalf("NewRuntime returned error: %v", err)
	}
	if err := rt.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown returned error: %v", err)
	}
	if err := rt.Shutdown(context.Background()); err != nil {
		t.Fatalf("second Shutdown returned error: %v", err)
	}
}
