package subscription

import (
	"sync"

	"github.com/ghalamif/uabridge/internal/domain"
	"github.com/ghalamif/uabridge/internal/ports"
)

// MonitoredItem delivers the changes of one point to its handler, one at a
// time. Its buffer holds QueueDepth changes; on overflow the point's discard
// policy picks the victim.
type MonitoredItem struct {
	handle  uint32
	point   domain.MonitoredPoint
	handler ChangeHandler
	obs     ports.Observability

	mu     sync.Mutex
	queue  chan ports.DataChange
	closed bool
	done   chan struct{}
}

func newMonitoredItem(handle uint32, point domain.MonitoredPoint, handler ChangeHandler, obs ports.Observability) *MonitoredItem {
	depth := point.QueueDepth
	if depth == 0 {
		depth = domain.DefaultQueueDepth
	}
	return &MonitoredItem{
		handle:  handle,
		point:   point,
		handler: handler,
		obs:     obs,
		queue:   make(chan ports.DataChange, depth),
		done:    make(chan struct{}),
	}
}

func (m *MonitoredItem) Handle() uint32 { return m.handle }

func (m *MonitoredItem) Point() domain.MonitoredPoint { return m.point }

func (m *MonitoredItem) run() {
	defer close(m.done)
	for change := range m.queue {
		m.handler(m.point, change)
	}
}

// offer never blocks the dispatcher.
func (m *MonitoredItem) offer(change ports.DataChange) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}

	select {
	case m.queue <- change:
		return
	default:
	}

	if m.point.Discard == domain.DiscardOldest {
		select {
		case <-m.queue:
		default:
		}
		select {
		case m.queue <- change:
		default:
		}
	}
	m.obs.IncCounter(ports.MetricNotificationsDropped, 1)
	m.obs.LogWarn("notification_dropped",
		ports.Field{Key: "point", Value: m.point.Name},
		ports.Field{Key: "discard", Value: m.point.Discard.String()},
	)
}

// close stops accepting changes; queued ones are still delivered.
func (m *MonitoredItem) close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.closed = true
	close(m.queue)
}

// Done is closed after the last queued change has been handled.
func (m *MonitoredItem) Done() <-chan struct{} { return m.done }
