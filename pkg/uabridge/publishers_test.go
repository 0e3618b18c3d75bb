package uabridge

import (
	"errors"
	"testing"

	"github.com/ghalamif/uabridge/internal/domain"
)

func TestNewCallbackPublisher(t *testing.T) {
	var received []Message
	pub := NewCallbackPublisher("cb", func(batch []Message) error {
		received = append(received, batch...)
		return nil
	})

	input := &domain.Message{Topic: "speed", Payload: 1450.5}
	if err := pub.PublishBatch([]*domain.Message{input}); err != nil {
		t.Fatalf("PublishBatch returned error: %v", err)
	}
	if len(received) != 1 {
		t.Fatalf("expected 1 message, got %d", len(received))
	}
	if received[0].Topic != "speed" || received[0].Payload != 1450.5 {
		t.Fatalf("mismatched message: %+v", received[0])
	}
	if pub.Name() != "cb" {
		t.Fatalf("unexpected name %q", pub.Name())
	}
}

func TestNewCallbackPublisherNilHandler(t *testing.T) {
	pub := NewCallbackPublisher("", nil)
	if pub.Name() != "callback" {
		t.Fatalf("expected default name, got %q", pub.Name())
	}
	if err := pub.PublishBatch([]*domain.Message{{Topic: "losses", Payload: 1.0}}); err == nil {
		t.Fatalf("expected error when callback is nil")
	}
}

func TestNewChannelPublisher(t *testing.T) {
	pub, ch, closeFn := NewChannelPublisher("chan", 1)
	defer closeFn()

	msg := &domain.Message{Topic: "flow", Payload: 12.0}
	if err := pub.PublishBatch([]*domain.Message{msg}); err != nil {
		t.Fatalf("PublishBatch returned error: %v", err)
	}
	if err := pub.PublishBatch([]*domain.Message{msg}); !errors.Is(err, ErrChannelPublisherFull) {
		t.Fatalf("expected ErrChannelPublisherFull, got %v", err)
	}

	batch := <-ch
	if len(batch) != 1 || batch[0].Topic != "flow" {
		t.Fatalf("unexpected batch data: %+v", batch)
	}

	closeFn()
	if err := pub.PublishBatch([]*domain.Message{msg}); !errors.Is(err, ErrChannelPublisherClosed) {
		t.Fatalf("expected ErrChannelPublisherClosed, got %v", err)
	}
	if _, ok := <-ch; ok {
		t.Fatalf("expected channel to be closed")
	}
}
