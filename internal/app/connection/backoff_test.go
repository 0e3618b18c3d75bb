package connection

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoffSequenceWithoutJitter(t *testing.T) {
	b := NewBackoff(BackoffConfig{Initial: time.Second, Max: 20 * time.Second, Multiplier: 2})

	want := []time.Duration{1, 2, 4, 8, 16, 20, 20}
	for i, w := range want {
		assert.Equal(t, w*time.Second, b.Next(), "step %d", i)
	}
	assert.Equal(t, len(want), b.Attempts())

	b.Reset()
	assert.Zero(t, b.Attempts())
	assert.Equal(t, time.Second, b.Current())
}

func TestBackoffJitterBounds(t *testing.T) {
	b := NewBackoff(BackoffConfig{Initial: 100 * time.Millisecond, Max: time.Second, Multiplier: 2, Jitter: 0.5})
	for i := 0; i < 50; i++ {
		base := b.Current()
		d := b.Next()
		assert.GreaterOrEqual(t, d, base)
		assert.LessOrEqual(t, d, base+base/2)
	}
}

func TestBackoffConfigDefaults(t *testing.T) {
	var cfg BackoffConfig
	cfg.ApplyDefaults()
	assert.Equal(t, DefaultInitialDelay, cfg.Initial)
	assert.Equal(t, DefaultMaxDelay, cfg.Max)
	assert.Equal(t, DefaultMultiplier, cfg.Multiplier)
	assert.Zero(t, cfg.Jitter, "zero jitter is a valid choice")

	cfg = BackoffConfig{Initial: 30 * time.Second, Max: time.Second, Multiplier: 0.5, Jitter: -1}
	cfg.ApplyDefaults()
	assert.Equal(t, 30*time.Second, cfg.Max)
	assert.Equal(t, DefaultMultiplier, cfg.Multiplier)
	assert.Zero(t, cfg.Jitter)
}
