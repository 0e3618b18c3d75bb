// Package subscription creates subscriptions on a session, registers the
// monitored points and dispatches their change notifications.
package subscription

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/ghalamif/uabridge/internal/domain"
	"github.com/ghalamif/uabridge/internal/ports"
)

var (
	ErrSubscription           = errors.New("subscription rejected")
	ErrRegistration           = errors.New("monitored item registration failed")
	ErrSubscriptionTerminated = errors.New("subscription terminated")
)

// RegistrationError reports the failure of a single point.
type RegistrationError struct {
	Point string
	Err   error
}

func (e *RegistrationError) Error() string {
	return fmt.Sprintf("register %q: %v", e.Point, e.Err)
}

func (e *RegistrationError) Unwrap() error { return e.Err }

func (e *RegistrationError) Is(target error) bool { return target == ErrRegistration }

// ChangeHandler receives the changes of one point in arrival order. It is
// called from that point's own goroutine.
type ChangeHandler func(point domain.MonitoredPoint, change ports.DataChange)

type Engine struct {
	obs        ports.Observability
	nextHandle atomic.Uint32
}

func NewEngine(obs ports.Observability) *Engine {
	return &Engine{obs: obs}
}

// CreateSubscription asks the session for a subscription and starts
// dispatching its notifications.
func (e *Engine) CreateSubscription(ctx context.Context, session ports.Session, params ports.SubscriptionParams) (*Subscription, error) {
	if session == nil {
		return nil, fmt.Errorf("%w: no session", ErrSubscription)
	}
	remote, err := session.Subscribe(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSubscription, err)
	}

	s := newSubscription(remote, params, e.obs)
	e.obs.LogInfo("subscription_created",
		ports.Field{Key: "subscription_id", Value: remote.ID()},
		ports.Field{Key: "publishing_interval", Value: params.PublishingInterval.String()},
		ports.Field{Key: "max_keep_alive_count", Value: params.MaxKeepAliveCount},
		ports.Field{Key: "lifetime_count", Value: params.LifetimeCount},
	)
	go s.dispatch()
	return s, nil
}

// RegisterMonitoredItem monitors point on sub and routes its changes to
// handler. A failure affects only this point.
func (e *Engine) RegisterMonitoredItem(ctx context.Context, sub *Subscription, point domain.MonitoredPoint, handler ChangeHandler) (*MonitoredItem, error) {
	if sub == nil {
		return nil, &RegistrationError{Point: point.Name, Err: ErrSubscriptionTerminated}
	}
	if handler == nil {
		return nil, &RegistrationError{Point: point.Name, Err: errors.New("nil change handler")}
	}

	item := newMonitoredItem(e.nextHandle.Add(1), point, handler, sub.obs)
	if err := sub.add(item); err != nil {
		return nil, e.registrationFailed(point, err)
	}

	err := sub.remote.Monitor(ctx, ports.MonitorRequest{
		Handle:           item.handle,
		NodeID:           point.NodeID,
		SamplingInterval: point.SamplingInterval,
		QueueSize:        point.QueueDepth,
		DiscardOldest:    point.Discard == domain.DiscardOldest,
	})
	if err != nil {
		sub.remove(item)
		return nil, e.registrationFailed(point, err)
	}

	e.obs.LogInfo("monitored_item_registered",
		ports.Field{Key: "point", Value: point.Name},
		ports.Field{Key: "node_id", Value: point.NodeID},
		ports.Field{Key: "handle", Value: item.handle},
	)
	return item, nil
}

// RegisterAll registers every point. It returns the items that succeeded
// and the joined RegistrationErrors of those that did not.
func (e *Engine) RegisterAll(ctx context.Context, sub *Subscription, points []domain.MonitoredPoint, handler ChangeHandler) ([]*MonitoredItem, error) {
	items := make([]*MonitoredItem, 0, len(points))
	var errs []error
	for _, p := range points {
		item, err := e.RegisterMonitoredItem(ctx, sub, p, handler)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		items = append(items, item)
	}
	e.obs.SetGauge(ports.MetricMonitoredItems, float64(len(items)))
	return items, errors.Join(errs...)
}

func (e *Engine) registrationFailed(point domain.MonitoredPoint, err error) error {
	e.obs.IncCounter(ports.MetricRegistrationFailures, 1)
	e.obs.LogError("monitored_item_failed", err,
		ports.Field{Key: "point", Value: point.Name},
		ports.Field{Key: "node_id", Value: point.NodeID},
	)
	return &RegistrationError{Point: point.Name, Err: err}
}
