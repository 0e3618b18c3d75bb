package uabridge

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/ghalamif/uabridge/internal/adapters/observability"
	"github.com/ghalamif/uabridge/internal/adapters/opcua"
	"github.com/ghalamif/uabridge/internal/adapters/publisher"
	"github.com/ghalamif/uabridge/internal/adapters/publisher/mqttpub"
	"github.com/ghalamif/uabridge/internal/adapters/publisher/natspub"
	"github.com/ghalamif/uabridge/internal/adapters/publisher/websocket"
	"github.com/ghalamif/uabridge/internal/adapters/simulator"
	"github.com/ghalamif/uabridge/internal/app/connection"
	"github.com/ghalamif/uabridge/internal/app/fanout"
	"github.com/ghalamif/uabridge/internal/app/lifecycle"
	"github.com/ghalamif/uabridge/internal/app/subscription"
	"github.com/ghalamif/uabridge/internal/domain"
	ilog "github.com/ghalamif/uabridge/internal/log"
	"github.com/ghalamif/uabridge/internal/ports"
)

// ErrRuntimeStarted is returned by Run when the runtime already ran.
var ErrRuntimeStarted = errors.New("uabridge: runtime already started")

// RuntimeOption customizes the dependencies used by Runtime.
type RuntimeOption func(*runtimeOverrides)

type runtimeOverrides struct {
	dialer        Dialer
	publishers    []Publisher
	observability Observability
	logger        *logrus.Logger
	registry      *prometheus.Registry
	simulate      time.Duration
}

// WithDialer injects a custom connection source instead of the gopcua client.
func WithDialer(d Dialer) RuntimeOption {
	return func(o *runtimeOverrides) {
		o.dialer = d
	}
}

// WithPublisher adds a publisher next to the websocket hub and any configured brokers.
func WithPublisher(p Publisher) RuntimeOption {
	return func(o *runtimeOverrides) {
		if p != nil {
			o.publishers = append(o.publishers, p)
		}
	}
}

// WithObservability plugs in a custom observability backend.
func WithObservability(obs Observability) RuntimeOption {
	return func(o *runtimeOverrides) {
		o.observability = obs
	}
}

// WithLogger replaces the logger built from the log section of the config.
func WithLogger(l *logrus.Logger) RuntimeOption {
	return func(o *runtimeOverrides) {
		o.logger = l
	}
}

// WithRegistry makes the runtime register its metrics on reg and serve reg on /metrics.
func WithRegistry(reg *prometheus.Registry) RuntimeOption {
	return func(o *runtimeOverrides) {
		o.registry = reg
	}
}

// WithSimulation replaces the OPC UA server with an in-process simulator that
// produces a random-walk value for every point each interval.
func WithSimulation(interval time.Duration) RuntimeOption {
	return func(o *runtimeOverrides) {
		if interval <= 0 {
			interval = time.Second
		}
		o.simulate = interval
	}
}

// Runtime wires the connection manager, subscription engine, fan-out and
// publishers together and serves the websocket, metrics and health endpoints.
type Runtime struct {
	cfg      *Config
	obs      ports.Observability
	logger   *logrus.Logger
	registry *prometheus.Registry
	dialer   ports.Dialer
	points   *domain.Registry
	hub      *websocket.Hub
	extra    []ports.Publisher

	mu       sync.Mutex
	started  bool
	addr     string
	ln       net.Listener
	ready    chan struct{}
	srv      *http.Server
	brokers  []func() error
	fan      *fanout.FanOut
	ctrl     *lifecycle.Controller
	shutOnce sync.Once
	shutErr  error
}

// NewRuntime bootstraps the default adapters (gopcua dialer, websocket hub,
// Prometheus observability). Options override any of them.
func NewRuntime(cfg *Config, opts ...RuntimeOption) (*Runtime, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}

	var overrides runtimeOverrides
	for _, opt := range opts {
		if opt != nil {
			opt(&overrides)
		}
	}

	points, err := cfg.Registry()
	if err != nil {
		return nil, fmt.Errorf("points: %w", err)
	}

	logger := overrides.logger
	if logger == nil {
		logger, err = ilog.NewLogger(cfg.Log, os.Stderr)
		if err != nil {
			return nil, err
		}
	}

	reg := overrides.registry
	if reg == nil {
		reg = prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	}

	obs := overrides.observability
	if obs == nil {
		obs = observability.NewPromObs(reg, logger)
	}

	dialer := overrides.dialer
	switch {
	case dialer != nil:
	case overrides.simulate > 0:
		dialer = newSimulator(points, overrides.simulate)
		obs.LogInfo("simulation_enabled", ports.Field{Key: "interval", Value: overrides.simulate.String()})
	default:
		dialer, err = opcua.NewDialer(cfg.OPCUA, obs)
		if err != nil {
			return nil, err
		}
	}

	return &Runtime{
		cfg:      cfg,
		obs:      obs,
		logger:   logger,
		registry: reg,
		dialer:   dialer,
		points:   points,
		hub:      websocket.NewHub(cfg.HubConfig(), obs),
		extra:    overrides.publishers,
		ready:    make(chan struct{}),
	}, nil
}

// Run starts the bridge and blocks until ctx is cancelled or startup fails.
// Cancellation triggers a graceful shutdown and Run returns nil; a startup
// failure or a failed reconnect is returned as an error.
func (r *Runtime) Run(ctx context.Context) error {
	r.mu.Lock()
	if r.started {
		r.mu.Unlock()
		return ErrRuntimeStarted
	}
	r.started = true
	r.mu.Unlock()

	if err := r.start(ctx); err != nil {
		r.obs.LogCritical("runtime_start_failed", err)
		_ = r.Shutdown(context.Background())
		return err
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := r.srv.Serve(r.listener()); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		// Close, not ctx, ends the worker so queued messages are flushed.
		return r.fan.Run(context.WithoutCancel(gctx))
	})

	g.Go(func() error {
		if err := r.ctrl.Start(gctx); err != nil {
			if errors.Is(err, lifecycle.ErrStopped) || ctx.Err() != nil {
				return nil
			}
			return err
		}
		return r.ctrl.Wait(gctx)
	})

	g.Go(func() error {
		select {
		case <-gctx.Done():
		case <-r.ctrl.Stopped():
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), r.cfg.Lifecycle.ShutdownTimeout)
		defer cancel()
		if err := r.Shutdown(shutdownCtx); err != nil {
			r.obs.LogWarn("runtime_shutdown_incomplete", ports.Field{Key: "error", Value: err.Error()})
		}
		return nil
	})

	return g.Wait()
}

func (r *Runtime) start(ctx context.Context) error {
	ln, err := net.Listen("tcp", r.cfg.Server.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", r.cfg.Server.Addr, err)
	}

	pubs := []ports.Publisher{r.hub}
	var brokers []func() error
	if r.cfg.NATS.Enabled() {
		np, err := natspub.Dial(r.cfg.NATS, r.obs)
		if err != nil {
			_ = ln.Close()
			return err
		}
		pubs = append(pubs, np)
		brokers = append(brokers, np.Close)
	}
	if r.cfg.MQTT.Enabled() {
		mp, err := mqttpub.Dial(ctx, r.cfg.MQTT, r.obs)
		if err != nil {
			_ = ln.Close()
			for _, closeFn := range brokers {
				_ = closeFn()
			}
			return err
		}
		pubs = append(pubs, mp)
		brokers = append(brokers, mp.Close)
	}
	pubs = append(pubs, r.extra...)

	fan := fanout.New(r.cfg.FanOutConfig(), publisher.NewMulti(pubs...), r.obs)
	ctrl := lifecycle.New(
		r.cfg.LifecycleConfig(),
		connection.NewManager(r.dialer, r.cfg.ConnectionConfig(), r.obs),
		subscription.NewEngine(r.obs),
		r.points,
		fan.OnChange,
		r.obs,
	)

	r.mu.Lock()
	r.addr = ln.Addr().String()
	r.srv = &http.Server{
		Handler:           r.routes(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return context.WithoutCancel(ctx) },
	}
	r.ln = ln
	r.brokers = brokers
	r.fan = fan
	r.ctrl = ctrl
	r.mu.Unlock()
	close(r.ready)

	r.obs.LogInfo("runtime_listening",
		ports.Field{Key: "addr", Value: r.addr},
		ports.Field{Key: "ws_path", Value: r.cfg.Server.WSPath},
		ports.Field{Key: "publishers", Value: publisher.NewMulti(pubs...).Name()})
	return nil
}

func (r *Runtime) routes() http.Handler {
	mux := http.NewServeMux()
	mux.Handle(r.cfg.Server.WSPath, r.hub)
	mux.Handle("/metrics", promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, _ *http.Request) {
		state := r.State()
		if state != domain.StateRunning {
			w.WriteHeader(http.StatusServiceUnavailable)
		} else {
			w.WriteHeader(http.StatusOK)
		}
		_, _ = w.Write([]byte(state.String()))
	})
	return mux
}

// Shutdown stops the controller, flushes the fan-out, then closes the HTTP
// server, websocket subscribers and broker connections. Later calls return
// the result of the first.
func (r *Runtime) Shutdown(ctx context.Context) error {
	r.shutOnce.Do(func() {
		r.mu.Lock()
		ctrl, fan, srv, brokers := r.ctrl, r.fan, r.srv, r.brokers
		ln := r.ln
		r.mu.Unlock()

		var errs []error
		if ctrl != nil {
			if err := ctrl.Stop(ctx); err != nil {
				errs = append(errs, err)
			}
		}
		if fan != nil {
			if err := fan.Close(ctx); err != nil {
				errs = append(errs, fmt.Errorf("flush: %w", err))
			}
		}
		if srv != nil {
			if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errs = append(errs, err)
			}
		} else if ln != nil {
			_ = ln.Close()
		}
		if err := r.hub.Close(); err != nil {
			errs = append(errs, err)
		}
		for _, closeFn := range brokers {
			if err := closeFn(); err != nil {
				errs = append(errs, err)
			}
		}
		r.shutErr = errors.Join(errs...)
		r.obs.LogInfo("runtime_stopped")
	})
	return r.shutErr
}

// State reports the lifecycle state; Idle until Run has started.
func (r *Runtime) State() State {
	r.mu.Lock()
	ctrl := r.ctrl
	r.mu.Unlock()
	if ctrl == nil {
		return domain.StateIdle
	}
	return ctrl.State()
}

// Ready is closed once the HTTP listener is bound.
func (r *Runtime) Ready() <-chan struct{} { return r.ready }

// Addr is the bound listener address, empty before Ready.
func (r *Runtime) Addr() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.addr
}

// Subscribers reports the number of connected websocket clients.
func (r *Runtime) Subscribers() int { return r.hub.Count() }

// Points lists the monitored points in configuration order.
func (r *Runtime) Points() []MonitoredPoint { return r.points.Points() }

func (r *Runtime) listener() net.Listener {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ln
}

var simulatedSensors = map[string]simulator.SensorParams{
	"temperature": {Mean: 22, StandardDeviation: 1.5},
	"speed":       {Mean: 1450, StandardDeviation: 25},
	"flow":        {Mean: 12, StandardDeviation: 0.8},
	"losses":      {Mean: 3, StandardDeviation: 0.4},
}

func newSimulator(points *domain.Registry, interval time.Duration) *simulator.Server {
	opts := []simulator.Option{simulator.WithInterval(interval)}
	for _, p := range points.Points() {
		if params, ok := simulatedSensors[p.Name]; ok {
			opts = append(opts, simulator.WithSensor(p.NodeID, params))
		}
	}
	return simulator.New(opts...)
}
