// Package lifecycle orders startup and shutdown of the bridge: connect,
// session, subscription, monitored items, and the reverse on stop.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ghalamif/uabridge/internal/app/connection"
	"github.com/ghalamif/uabridge/internal/app/subscription"
	"github.com/ghalamif/uabridge/internal/domain"
	"github.com/ghalamif/uabridge/internal/ports"
)

var (
	ErrAlreadyStarted = errors.New("controller already started")
	ErrStopped        = errors.New("controller stopped")
)

type Config struct {
	Endpoint     string
	Subscription ports.SubscriptionParams
	// ReconnectOnTerminated re-runs the whole connect sequence after the
	// server ends the subscription. Without it the bridge stays Idle.
	ReconnectOnTerminated bool
	// TeardownTimeout bounds the cleanup that follows a server termination.
	TeardownTimeout time.Duration
}

type Controller struct {
	cfg      Config
	conn     *connection.Manager
	engine   *subscription.Engine
	registry *domain.Registry
	handler  subscription.ChangeHandler
	obs      ports.Observability

	mu       sync.Mutex
	state    domain.State
	sub      *subscription.Subscription
	cancel   context.CancelFunc
	started  bool
	stopping bool
	inflight sync.WaitGroup

	stopOnce sync.Once
	stopped  chan struct{}
	fatal    chan error
}

func New(cfg Config, conn *connection.Manager, engine *subscription.Engine, registry *domain.Registry, handler subscription.ChangeHandler, obs ports.Observability) *Controller {
	if cfg.TeardownTimeout <= 0 {
		cfg.TeardownTimeout = 5 * time.Second
	}
	c := &Controller{
		cfg:      cfg,
		conn:     conn,
		engine:   engine,
		registry: registry,
		handler:  handler,
		obs:      obs,
		state:    domain.StateIdle,
		stopped:  make(chan struct{}),
		fatal:    make(chan error, 1),
	}
	obs.SetGauge(ports.MetricLifecycleState, float64(domain.StateIdle))
	return c
}

func (c *Controller) State() domain.State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Start runs the startup sequence and returns once the bridge is Running.
// Failing to connect within the retry bound, a rejected session and a
// rejected subscription are returned as errors; monitored items that fail to
// register are logged and skipped. Start may only be called once.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	switch {
	case c.stopping:
		c.mu.Unlock()
		return ErrStopped
	case c.started:
		c.mu.Unlock()
		return ErrAlreadyStarted
	}
	c.started = true
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	c.cancel = cancel
	c.inflight.Add(1)
	c.mu.Unlock()
	defer c.inflight.Done()

	// Start's own ctx only bounds the startup sequence.
	stopWatch := context.AfterFunc(ctx, cancel)
	defer stopWatch()

	if err := c.establish(runCtx); err != nil {
		if runCtx.Err() != nil && c.isStopping() {
			return ErrStopped
		}
		c.obs.LogCritical("lifecycle_start_failed", err, ports.Field{Key: "endpoint", Value: c.cfg.Endpoint})
		return err
	}
	return nil
}

// Wait blocks until the controller stops, fails fatally after a server
// termination, or ctx ends. Only the fatal case returns an error.
func (c *Controller) Wait(ctx context.Context) error {
	select {
	case err := <-c.fatal:
		return err
	case <-c.stopped:
		return nil
	case <-ctx.Done():
		return nil
	}
}

// Stop tears everything down in order: subscription, session, connection.
// Every step runs even if an earlier one failed; failures are only logged.
// Stop is safe to call in any state and any number of times, and always
// returns nil.
func (c *Controller) Stop(ctx context.Context) error {
	c.stopOnce.Do(func() {
		c.mu.Lock()
		c.stopping = true
		cancel := c.cancel
		c.mu.Unlock()

		c.setState(domain.StateShuttingDown)
		c.obs.LogInfo("lifecycle_stopping")
		if cancel != nil {
			cancel()
		}
		c.waitInflight(ctx)

		c.mu.Lock()
		sub := c.sub
		c.sub = nil
		c.mu.Unlock()

		if err := sub.Terminate(ctx); err != nil {
			c.obs.LogError("subscription_terminate_failed", err)
		}
		// the manager logs its own close errors
		_ = c.conn.Close(ctx)

		c.setState(domain.StateStopped)
		c.obs.LogInfo("lifecycle_stopped")
		close(c.stopped)
	})
	return nil
}

// Stopped is closed when Stop has finished.
func (c *Controller) Stopped() <-chan struct{} { return c.stopped }

func (c *Controller) establish(ctx context.Context) error {
	c.setState(domain.StateConnecting)
	sess, err := c.conn.Establish(ctx, c.cfg.Endpoint)
	if err != nil {
		c.teardown(ctx, nil)
		return err
	}
	c.setState(domain.StateSessionEstablished)

	sub, err := c.engine.CreateSubscription(ctx, sess, c.cfg.Subscription)
	if err != nil {
		c.teardown(ctx, nil)
		return err
	}
	if !c.adopt(sub) {
		c.teardown(ctx, sub)
		return ErrStopped
	}
	c.setState(domain.StateSubscribed)

	points := c.registry.Points()
	items, err := c.engine.RegisterAll(ctx, sub, points, c.handler)
	if err != nil {
		c.obs.LogWarn("monitored_items_partial",
			ports.Field{Key: "registered", Value: len(items)},
			ports.Field{Key: "failed", Value: len(points) - len(items)},
			ports.Field{Key: "error", Value: err.Error()},
		)
	}

	c.setState(domain.StateRunning)
	c.obs.LogInfo("lifecycle_running",
		ports.Field{Key: "endpoint", Value: c.cfg.Endpoint},
		ports.Field{Key: "subscription_id", Value: sub.ID()},
		ports.Field{Key: "monitored_items", Value: len(items)},
	)

	c.mu.Lock()
	if c.stopping {
		c.mu.Unlock()
		return nil
	}
	c.inflight.Add(1)
	c.mu.Unlock()
	go c.watch(ctx, sub)
	return nil
}

// watch reacts to the server ending the subscription.
func (c *Controller) watch(ctx context.Context, sub *subscription.Subscription) {
	defer c.inflight.Done()

	select {
	case <-ctx.Done():
		return
	case <-sub.Terminated():
	}

	_, reason := sub.TerminatedByServer()
	c.obs.LogWarn("lifecycle_subscription_lost",
		ports.Field{Key: "subscription_id", Value: sub.ID()},
		ports.Field{Key: "reconnect", Value: c.cfg.ReconnectOnTerminated},
		ports.Field{Key: "reason", Value: fmt.Sprint(reason)},
	)

	c.teardown(ctx, sub)

	if !c.cfg.ReconnectOnTerminated {
		c.setState(domain.StateIdle)
		return
	}
	if err := c.establish(ctx); err != nil {
		if ctx.Err() != nil {
			return
		}
		c.obs.LogCritical("lifecycle_reconnect_failed", err, ports.Field{Key: "endpoint", Value: c.cfg.Endpoint})
		select {
		case c.fatal <- err:
		default:
		}
	}
}

// teardown releases on a context that survives cancellation of ctx, so the
// close requests still reach the server after Stop, bounded by
// TeardownTimeout.
func (c *Controller) teardown(ctx context.Context, sub *subscription.Subscription) {
	tctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.cfg.TeardownTimeout)
	defer cancel()
	c.release(tctx, sub)
}

// release drops sub (if any), then the session and connection.
func (c *Controller) release(ctx context.Context, sub *subscription.Subscription) {
	c.mu.Lock()
	if c.sub == sub {
		c.sub = nil
	}
	c.mu.Unlock()

	if err := sub.Terminate(ctx); err != nil {
		c.obs.LogError("subscription_terminate_failed", err)
	}
	_ = c.conn.Release(ctx)
	c.setState(domain.StateIdle)
}

func (c *Controller) adopt(sub *subscription.Subscription) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopping {
		return false
	}
	c.sub = sub
	return true
}

func (c *Controller) setState(s domain.State) {
	c.mu.Lock()
	if (c.state == domain.StateShuttingDown && s != domain.StateStopped) || c.state == domain.StateStopped {
		c.mu.Unlock()
		return
	}
	prev := c.state
	c.state = s
	c.mu.Unlock()

	if prev == s {
		return
	}
	c.obs.SetGauge(ports.MetricLifecycleState, float64(s))
	c.obs.LogInfo("lifecycle_state",
		ports.Field{Key: "from", Value: prev.String()},
		ports.Field{Key: "to", Value: s.String()},
	)
}

func (c *Controller) isStopping() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stopping
}

func (c *Controller) waitInflight(ctx context.Context) {
	done := make(chan struct{})
	go func() {
		c.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		c.obs.LogWarn("lifecycle_stop_timeout", ports.Field{Key: "error", Value: ctx.Err().Error()})
	}
}
