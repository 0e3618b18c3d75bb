package queue

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ghalamif/uabridge/internal/domain"
)

func TestMemQueueEnqueueDequeueOrder(t *testing.T) {
	q := NewMemQueue(4)

	m1 := &domain.Message{Topic: "temperature", Payload: 72.5}
	m2 := &domain.Message{Topic: "time", Payload: "t"}

	require.True(t, q.Enqueue(m1))
	require.True(t, q.Enqueue(m2))

	batch := q.DequeueBatch(1)
	require.Len(t, batch, 1)
	assert.Same(t, m1, batch[0])

	remaining := q.DequeueBatch(10)
	require.Len(t, remaining, 1)
	assert.Same(t, m2, remaining[0])

	assert.Zero(t, q.Len())
	assert.Nil(t, q.DequeueBatch(10))
}

func TestMemQueueCapacity(t *testing.T) {
	q := NewMemQueue(2)
	msg := &domain.Message{Topic: "speed", Payload: 1.0}

	require.True(t, q.Enqueue(msg))
	require.True(t, q.Enqueue(msg))
	assert.False(t, q.Enqueue(msg), "enqueue should fail when capacity exceeded")

	q.DequeueBatch(1)
	assert.True(t, q.Enqueue(msg), "enqueue should succeed after dequeue")
	assert.Equal(t, 2, q.Len())
}

func TestMemQueueDequeueAllWithNonPositiveMax(t *testing.T) {
	q := NewMemQueue(3)
	for i := 0; i < 3; i++ {
		require.True(t, q.Enqueue(&domain.Message{Topic: "flow", Payload: i}))
	}

	batch := q.DequeueBatch(0)
	require.Len(t, batch, 3)
	for i, m := range batch {
		assert.Equal(t, i, m.Payload)
	}
}
