package testutil

import (
	"sync"

	"github.com/ghalamif/uabridge/internal/domain"
	"github.com/ghalamif/uabridge/internal/ports"
)

// Publisher records published messages. When Gate is non-nil every batch
// waits for a receive on it, which lets tests stall the publish worker.
type Publisher struct {
	Err  error
	Gate chan struct{}

	mu   sync.Mutex
	msgs []*domain.Message
	sent chan struct{}
}

func NewPublisher() *Publisher {
	return &Publisher{sent: make(chan struct{}, 1024)}
}

func (p *Publisher) PublishBatch(msgs []*domain.Message) error {
	if p.Gate != nil {
		<-p.Gate
	}
	if p.Err != nil {
		return p.Err
	}
	p.mu.Lock()
	p.msgs = append(p.msgs, msgs...)
	p.mu.Unlock()
	for range msgs {
		select {
		case p.sent <- struct{}{}:
		default:
		}
	}
	return nil
}

func (p *Publisher) Name() string { return "recording" }

func (p *Publisher) Messages() []*domain.Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*domain.Message, len(p.msgs))
	copy(out, p.msgs)
	return out
}

// Topics returns the topic of every recorded message in publish order.
func (p *Publisher) Topics() []string {
	var out []string
	for _, m := range p.Messages() {
		out = append(out, m.Topic)
	}
	return out
}

// Sent signals once per recorded message.
func (p *Publisher) Sent() <-chan struct{} { return p.sent }

var _ ports.Publisher = (*Publisher)(nil)
