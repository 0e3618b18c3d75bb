package publisher

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ghalamif/uabridge/internal/domain"
	"github.com/ghalamif/uabridge/internal/testutil"
)

func TestMultiDeliversToAll(t *testing.T) {
	a, b := testutil.NewPublisher(), testutil.NewPublisher()
	m := NewMulti(a, nil, b)
	assert.Equal(t, 2, m.Len())
	assert.Equal(t, "recording+recording", m.Name())

	msgs := []*domain.Message{{Topic: "speed", Payload: 1.0}}
	require.NoError(t, m.PublishBatch(msgs))
	assert.Equal(t, []string{"speed"}, a.Topics())
	assert.Equal(t, []string{"speed"}, b.Topics())
}

func TestMultiKeepsGoingAfterFailure(t *testing.T) {
	down := errors.New("broker down")
	bad, good := testutil.NewPublisher(), testutil.NewPublisher()
	bad.Err = down
	m := NewMulti(bad, good)

	err := m.PublishBatch([]*domain.Message{{Topic: "flow", Payload: 2.0}})
	assert.ErrorIs(t, err, down)
	assert.Equal(t, []string{"flow"}, good.Topics())
}
