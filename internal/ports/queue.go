package ports

import "github.com/ghalamif/uabridge/internal/domain"

// MessageQueue is the bounded buffer between change processing and the
// publish worker. Enqueue never blocks; it reports false when full.
type MessageQueue interface {
	Enqueue(m *domain.Message) bool
	DequeueBatch(max int) []*domain.Message
	Len() int
}
