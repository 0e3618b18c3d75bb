package ports

import "github.com/ghalamif/uabridge/internal/domain"

// Publisher delivers batches of messages to an outward channel. Delivery is
// best effort: a publisher with no listeners succeeds and drops the batch.
type Publisher interface {
	PublishBatch(msgs []*domain.Message) error
	Name() string
}
