// Package fanout turns change notifications into topic messages and hands
// them to a publisher without ever blocking the notification path.
package fanout

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ghalamif/uabridge/internal/adapters/queue"
	"github.com/ghalamif/uabridge/internal/domain"
	"github.com/ghalamif/uabridge/internal/ports"
)

// Shape selects the payload layout of outward messages.
type Shape uint8

const (
	// ShapeLegacy keeps the per-point layouts consumers already rely on:
	// bare values, a separate timestamp topic, or a {value,timestamp} object.
	ShapeLegacy Shape = iota
	// ShapeUniform publishes a {point,value,timestamp} object on every
	// point's topic.
	ShapeUniform
)

func (s Shape) String() string {
	if s == ShapeUniform {
		return "uniform"
	}
	return "legacy"
}

func ParseShape(s string) (Shape, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "legacy":
		return ShapeLegacy, nil
	case "uniform":
		return ShapeUniform, nil
	default:
		return ShapeLegacy, fmt.Errorf("unknown fanout shape %q", s)
	}
}

var (
	errMissingValue    = errors.New("change carries no value")
	errNonNumericValue = errors.New("change value is not numeric")
)

type Config struct {
	Shape     Shape
	QueueLen  int
	MaxBatch  int
	IdleSleep time.Duration
}

func (c *Config) ApplyDefaults() {
	if c.QueueLen <= 0 {
		c.QueueLen = 1024
	}
	if c.MaxBatch <= 0 {
		c.MaxBatch = 64
	}
	if c.IdleSleep <= 0 {
		c.IdleSleep = 5 * time.Millisecond
	}
}

type FanOut struct {
	cfg Config
	pub ports.Publisher
	q   ports.MessageQueue
	obs ports.Observability
	now func() time.Time

	// gate orders enqueues against Close: once closed is set under the write
	// lock no message can reach the queue behind the final flush.
	gate    sync.RWMutex
	closed  bool
	started atomic.Bool
	stop    chan struct{}
	done    chan struct{}
	once    sync.Once
}

func New(cfg Config, pub ports.Publisher, obs ports.Observability) *FanOut {
	cfg.ApplyDefaults()
	return &FanOut{
		cfg:  cfg,
		pub:  pub,
		q:    queue.NewMemQueue(cfg.QueueLen),
		obs:  obs,
		now:  time.Now,
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
}

// OnChange converts one change into its topic messages and queues them. It
// returns immediately whatever the state of the publisher; a change that
// cannot be converted is logged and dropped.
func (f *FanOut) OnChange(point domain.MonitoredPoint, change ports.DataChange) {
	value, err := numeric(change)
	if err != nil {
		f.obs.IncCounter(ports.MetricNotificationsInvalid, 1)
		f.obs.LogWarn("change_dropped",
			ports.Field{Key: "point", Value: point.Name},
			ports.Field{Key: "error", Value: err.Error()},
		)
		return
	}
	f.obs.IncCounter(ports.MetricChangeEvents, 1)

	ev := domain.ChangeEvent{
		PointName:       point.Name,
		Value:           value,
		ServerTimestamp: f.timestamp(change),
	}
	msgs := Messages(f.cfg.Shape, point, ev)
	f.gate.RLock()
	defer f.gate.RUnlock()
	for _, msg := range msgs {
		f.enqueueLocked(msg)
	}
}

// Messages lays out ev for point in the given shape.
func Messages(shape Shape, point domain.MonitoredPoint, ev domain.ChangeEvent) []*domain.Message {
	if shape == ShapeUniform {
		return []*domain.Message{{Topic: point.Topic, Payload: ev}}
	}

	if point.Composite {
		return []*domain.Message{{
			Topic:   point.Topic,
			Payload: domain.ValueWithTimestamp{Value: ev.Value, Timestamp: ev.ServerTimestamp},
		}}
	}
	out := []*domain.Message{{Topic: point.Topic, Payload: ev.Value}}
	if point.TimestampTopic != "" {
		out = append(out, &domain.Message{Topic: point.TimestampTopic, Payload: ev.ServerTimestamp})
	}
	return out
}

// enqueueLocked needs gate held for reading.
func (f *FanOut) enqueueLocked(msg *domain.Message) {
	if f.closed || !f.q.Enqueue(msg) {
		f.obs.IncCounter(ports.MetricPublishDropped, 1)
	}
}

// Run publishes queued messages in batches until ctx is cancelled or Close
// is called, then flushes what is left.
func (f *FanOut) Run(ctx context.Context) error {
	if !f.started.CompareAndSwap(false, true) {
		return errors.New("fanout already running")
	}
	defer close(f.done)

	idle := time.NewTimer(f.cfg.IdleSleep)
	idle.Stop()
	defer idle.Stop()

	for {
		select {
		case <-ctx.Done():
			f.markClosed()
			f.flush()
			return nil
		case <-f.stop:
			f.flush()
			return nil
		default:
		}

		if f.publishOnce() == 0 {
			idle.Reset(f.cfg.IdleSleep)
			select {
			case <-idle.C:
			case <-ctx.Done():
			case <-f.stop:
			}
		}
	}
}

// Close stops accepting changes and waits until the queue is flushed.
func (f *FanOut) Close(ctx context.Context) error {
	f.markClosed()
	f.once.Do(func() { close(f.stop) })

	if !f.started.Load() {
		f.flush()
		return nil
	}
	select {
	case <-f.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (f *FanOut) markClosed() {
	f.gate.Lock()
	f.closed = true
	f.gate.Unlock()
}

// QueueLen reports how many messages wait for the publisher.
func (f *FanOut) QueueLen() int { return f.q.Len() }

func (f *FanOut) flush() {
	for f.publishOnce() > 0 {
	}
}

func (f *FanOut) publishOnce() int {
	batch := f.q.DequeueBatch(f.cfg.MaxBatch)
	f.obs.SetGauge(ports.MetricPublishQueueLength, float64(f.q.Len()))
	if len(batch) == 0 {
		return 0
	}

	start := time.Now()
	if err := f.pub.PublishBatch(batch); err != nil {
		f.obs.IncCounter(ports.MetricPublishFailures, float64(len(batch)))
		f.obs.LogError("publish_failed", err,
			ports.Field{Key: "publisher", Value: f.pub.Name()},
			ports.Field{Key: "messages", Value: len(batch)},
		)
		return len(batch)
	}
	f.obs.ObserveLatency(ports.MetricPublishLatency, time.Since(start).Seconds())
	f.obs.IncCounter(ports.MetricPublishedMessages, float64(len(batch)))
	return len(batch)
}

func (f *FanOut) timestamp(c ports.DataChange) time.Time {
	switch {
	case !c.ServerTimestamp.IsZero():
		return c.ServerTimestamp
	case !c.SourceTimestamp.IsZero():
		return c.SourceTimestamp
	default:
		return f.now().UTC()
	}
}

func numeric(c ports.DataChange) (float64, error) {
	if c.Status != nil {
		return 0, c.Status
	}
	v, err := toFloat(c.Value)
	if err != nil {
		return 0, err
	}
	// JSON has no representation for these
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("%w: %v", errNonNumericValue, v)
	}
	return v, nil
}

func toFloat(value any) (float64, error) {
	switch val := value.(type) {
	case nil:
		return 0, errMissingValue
	case float32:
		return float64(val), nil
	case float64:
		return val, nil
	case int:
		return float64(val), nil
	case int8:
		return float64(val), nil
	case uint8:
		return float64(val), nil
	case int16:
		return float64(val), nil
	case uint16:
		return float64(val), nil
	case int32:
		return float64(val), nil
	case uint32:
		return float64(val), nil
	case int64:
		return float64(val), nil
	case uint64:
		return float64(val), nil
	default:
		return 0, fmt.Errorf("%w: %T", errNonNumericValue, value)
	}
}
