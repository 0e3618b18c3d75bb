// Package publisher combines the outward publishers.
package publisher

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ghalamif/uabridge/internal/domain"
	"github.com/ghalamif/uabridge/internal/ports"
)

// Multi hands every batch to each of its publishers. One failing publisher
// does not keep the batch from the others.
type Multi struct {
	pubs []ports.Publisher
}

func NewMulti(pubs ...ports.Publisher) *Multi {
	out := make([]ports.Publisher, 0, len(pubs))
	for _, p := range pubs {
		if p != nil {
			out = append(out, p)
		}
	}
	return &Multi{pubs: out}
}

func (m *Multi) Name() string {
	names := make([]string, 0, len(m.pubs))
	for _, p := range m.pubs {
		names = append(names, p.Name())
	}
	return strings.Join(names, "+")
}

func (m *Multi) PublishBatch(msgs []*domain.Message) error {
	var errs []error
	for _, p := range m.pubs {
		if err := p.PublishBatch(msgs); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", p.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// Len returns the number of publishers.
func (m *Multi) Len() int { return len(m.pubs) }

var _ ports.Publisher = (*Multi)(nil)
