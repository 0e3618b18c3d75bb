package subscription

import (
	"context"
	"errors"
	"sync"

	"github.com/ghalamif/uabridge/internal/ports"
)

// Subscription wraps a protocol subscription with its registered items.
type Subscription struct {
	remote ports.Subscription
	params ports.SubscriptionParams
	obs    ports.Observability

	mu    sync.Mutex
	items map[uint32]*MonitoredItem
	ended bool

	terminated   chan struct{}
	byServer     bool
	remoteGone   bool
	termErr      error
	terminateOne sync.Once
	localCancel  bool
	done         chan struct{}
}

func newSubscription(remote ports.Subscription, params ports.SubscriptionParams, obs ports.Observability) *Subscription {
	return &Subscription{
		remote:     remote,
		params:     params,
		obs:        obs,
		items:      make(map[uint32]*MonitoredItem),
		terminated: make(chan struct{}),
		done:       make(chan struct{}),
	}
}

func (s *Subscription) ID() uint32 { return s.remote.ID() }

func (s *Subscription) Params() ports.SubscriptionParams { return s.params }

// Items returns the live monitored items.
func (s *Subscription) Items() []*MonitoredItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*MonitoredItem, 0, len(s.items))
	for _, it := range s.items {
		out = append(out, it)
	}
	return out
}

// Terminated is closed once the server ended the subscription.
func (s *Subscription) Terminated() <-chan struct{} { return s.terminated }

// TerminatedByServer reports whether the subscription ended without a local
// Terminate, and the reason the server gave.
func (s *Subscription) TerminatedByServer() (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.byServer, s.termErr
}

// Terminate cancels the subscription and waits for every queued change to be
// handled. Safe to call more than once and on a nil Subscription.
func (s *Subscription) Terminate(ctx context.Context) error {
	if s == nil {
		return nil
	}
	var err error
	s.terminateOne.Do(func() {
		s.mu.Lock()
		s.localCancel = true
		serverEnded := s.byServer
		s.mu.Unlock()

		if !serverEnded {
			if cerr := s.remote.Cancel(ctx); cerr != nil && !s.endedRemotely(ctx) {
				err = cerr
				s.obs.LogError("subscription_cancel_failed", cerr,
					ports.Field{Key: "subscription_id", Value: s.remote.ID()})
			}
		}
	})

	select {
	case <-s.done:
	case <-ctx.Done():
		return errors.Join(err, ctx.Err())
	}
	return err
}

func (s *Subscription) add(item *MonitoredItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return ErrSubscriptionTerminated
	}
	s.items[item.handle] = item
	go item.run()
	return nil
}

func (s *Subscription) remove(item *MonitoredItem) {
	s.mu.Lock()
	delete(s.items, item.handle)
	s.mu.Unlock()
	item.close()
}

func (s *Subscription) lookup(handle uint32) *MonitoredItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.items[handle]
}

func (s *Subscription) dispatch() {
	defer close(s.done)
	defer s.shutdownItems()

	for n := range s.remote.Notifications() {
		switch n.Kind {
		case ports.NotificationDataChange:
			item := s.lookup(n.Change.Handle)
			if item == nil {
				s.obs.LogWarn("notification_unknown_handle",
					ports.Field{Key: "handle", Value: n.Change.Handle})
				continue
			}
			item.offer(n.Change)
		case ports.NotificationKeepAlive:
			s.obs.IncCounter(ports.MetricKeepAlives, 1)
			s.obs.LogInfo("subscription_keepalive",
				ports.Field{Key: "subscription_id", Value: s.remote.ID()})
		case ports.NotificationTerminated:
			s.mu.Lock()
			s.remoteGone = true
			s.mu.Unlock()
			s.serverEnded(n.Err)
		case ports.NotificationError:
			s.obs.LogError("subscription_notification_error", n.Err,
				ports.Field{Key: "subscription_id", Value: s.remote.ID()})
		}
	}
	s.serverEnded(ErrSubscriptionTerminated)
}

// endedRemotely reports whether the server had already ended the
// subscription, once the notification stream has drained. A Cancel racing
// that termination fails on the server and is not an error.
func (s *Subscription) endedRemotely(ctx context.Context) bool {
	select {
	case <-s.done:
	case <-ctx.Done():
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.remoteGone
}

// serverEnded records a termination that was not asked for locally.
func (s *Subscription) serverEnded(reason error) {
	s.mu.Lock()
	if s.localCancel || s.byServer {
		s.mu.Unlock()
		return
	}
	s.byServer = true
	s.termErr = reason
	s.mu.Unlock()

	s.obs.IncCounter(ports.MetricTerminations, 1)
	s.obs.LogWarn("subscription_terminated",
		ports.Field{Key: "subscription_id", Value: s.remote.ID()},
		ports.Field{Key: "reason", Value: errString(reason)},
	)
	close(s.terminated)
}

func (s *Subscription) shutdownItems() {
	s.mu.Lock()
	s.ended = true
	items := make([]*MonitoredItem, 0, len(s.items))
	for _, it := range s.items {
		items = append(items, it)
	}
	s.mu.Unlock()

	for _, it := range items {
		it.close()
	}
	for _, it := range items {
		<-it.done
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
