package uabridge

import (
	"errors"
	"fmt"
	"sync"

	"github.com/ghalamif/uabridge/internal/domain"
)

var (
	// ErrChannelPublisherClosed is returned when a channel publisher is written to after being closed.
	ErrChannelPublisherClosed = errors.New("uabridge: channel publisher closed")
	// ErrChannelPublisherFull is returned when the reader falls behind; the batch is dropped.
	ErrChannelPublisherFull = errors.New("uabridge: channel publisher full")
)

// MessageBatchFunc receives every published batch.
type MessageBatchFunc func(batch []Message) error

// NewCallbackPublisher adapts a MessageBatchFunc into a Publisher so callers
// can plug arbitrary functions without defining structs. The function runs on
// the publish worker and should return quickly.
func NewCallbackPublisher(name string, fn MessageBatchFunc) Publisher {
	if name == "" {
		name = "callback"
	}
	return &callbackPublisher{name: name, fn: fn}
}

// NewChannelPublisher exposes batches via a channel; it returns the publisher,
// the read-only channel, and a close function that the caller should invoke
// during shutdown. Batches are dropped, not queued, once buffer is full.
func NewChannelPublisher(name string, buffer int) (Publisher, <-chan []Message, func()) {
	if name == "" {
		name = "channel"
	}
	if buffer < 0 {
		buffer = 0
	}
	ch := make(chan []Message, buffer)
	p := &channelPublisher{
		name:   name,
		ch:     ch,
		closed: make(chan struct{}),
	}
	return p, ch, func() { p.close() }
}

type callbackPublisher struct {
	name string
	fn   MessageBatchFunc
}

func (p *callbackPublisher) PublishBatch(msgs []*domain.Message) error {
	if p.fn == nil {
		return fmt.Errorf("callback publisher %q: nil handler", p.name)
	}
	if len(msgs) == 0 {
		return nil
	}
	return p.fn(copyBatch(msgs))
}

func (p *callbackPublisher) Name() string { return p.name }

type channelPublisher struct {
	name   string
	mu     sync.RWMutex
	ch     chan []Message
	closed chan struct{}
	once   sync.Once
}

func (p *channelPublisher) PublishBatch(msgs []*domain.Message) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	select {
	case <-p.closed:
		return ErrChannelPublisherClosed
	default:
	}
	if len(msgs) == 0 {
		return nil
	}

	select {
	case p.ch <- copyBatch(msgs):
		return nil
	default:
		return ErrChannelPublisherFull
	}
}

func (p *channelPublisher) Name() string { return p.name }

func (p *channelPublisher) close() {
	p.once.Do(func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		close(p.closed)
		close(p.ch)
	})
}

func copyBatch(msgs []*domain.Message) []Message {
	out := make([]Message, 0, len(msgs))
	for _, m := range msgs {
		if m != nil {
			out = append(out, *m)
		}
	}
	return out
}
