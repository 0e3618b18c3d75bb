package simulator

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ghalamif/uabridge/internal/ports"
)

var ErrSubscriptionClosed = errors.New("simulator: subscription closed")

type subscription struct {
	id      uint32
	params  ports.SubscriptionParams
	rejects map[string]error

	mu     sync.Mutex
	items  map[string]uint32 // node id -> client handle
	out    chan ports.Notification
	closed bool
	stop   chan struct{}
}

func newSubscription(id uint32, params ports.SubscriptionParams, rejects map[string]error) *subscription {
	return &subscription{
		id:      id,
		params:  params,
		rejects: rejects,
		items:   make(map[string]uint32),
		out:     make(chan ports.Notification, 256),
		stop:    make(chan struct{}),
	}
}

func (s *subscription) ID() uint32 { return s.id }

func (s *subscription) Notifications() <-chan ports.Notification { return s.out }

func (s *subscription) Monitor(ctx context.Context, req ports.MonitorRequest) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSubscriptionClosed
	}
	if err, ok := s.rejects[req.NodeID]; ok {
		return err
	}
	s.items[req.NodeID] = req.Handle
	return nil
}

func (s *subscription) Cancel(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSubscriptionClosed
	}
	s.closeLocked()
	return nil
}

func (s *subscription) deliver(nodeID string, value any, ts time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	handle, ok := s.items[nodeID]
	if !ok || s.closed {
		return false
	}
	return s.offerLocked(ports.Notification{
		Kind: ports.NotificationDataChange,
		Change: ports.DataChange{
			Handle:          handle,
			Value:           value,
			ServerTimestamp: ts,
			SourceTimestamp: ts,
		},
	})
}

// offerLocked never blocks; a client that stops reading loses notifications
// the same way a real server's publish queue overflows.
func (s *subscription) offerLocked(n ports.Notification) bool {
	select {
	case s.out <- n:
		return true
	default:
		return false
	}
}

func (s *subscription) push(n ports.Notification) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.offerLocked(n)
	}
}

func (s *subscription) terminate(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.offerLocked(ports.Notification{Kind: ports.NotificationTerminated, Err: err})
	s.closeLocked()
}

func (s *subscription) closeLocked() {
	s.closed = true
	close(s.stop)
	close(s.out)
}

func (s *subscription) itemCount() (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items), !s.closed
}

func (s *subscription) nodes() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.items))
	for node := range s.items {
		out = append(out, node)
	}
	return out
}

func (s *subscription) generate(srv *Server, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	walkers := make(map[string]*sensor)

	for {
		select {
		case <-s.stop:
			return
		case now := <-ticker.C:
			for _, node := range s.nodes() {
				w, ok := walkers[node]
				if !ok {
					w = srv.newSensor(node)
					walkers[node] = w
				}
				s.deliver(node, w.next(), now.UTC())
			}
		}
	}
}
