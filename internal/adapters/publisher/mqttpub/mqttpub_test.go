package mqttpub

import (
	"context"
	"errors"
	"testing"

	"github.com/eclipse/paho.golang/paho"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ghalamif/uabridge/internal/domain"
	"github.com/ghalamif/uabridge/internal/testutil"
)

type fakeClient struct {
	sent         []*paho.Publish
	err          error
	disconnected bool
}

func (c *fakeClient) Publish(_ context.Context, p *paho.Publish) (*paho.PublishResponse, error) {
	if c.err != nil {
		return nil, c.err
	}
	c.sent = append(c.sent, p)
	return &paho.PublishResponse{}, nil
}

func (c *fakeClient) Disconnect(context.Context) error {
	c.disconnected = true
	return nil
}

func TestPublishBatchTopics(t *testing.T) {
	client := &fakeClient{}
	p := New(client, Config{TopicPrefix: "/plant/line1/", QoS: 1}, testutil.NewObs())

	require.NoError(t, p.PublishBatch([]*domain.Message{
		{Topic: "temperature", Payload: 72.5},
		{Topic: "losses", Payload: 0.25},
	}))

	require.Len(t, client.sent, 2)
	assert.Equal(t, "plant/line1/temperature", client.sent[0].Topic)
	assert.Equal(t, "72.5", string(client.sent[0].Payload))
	assert.Equal(t, byte(1), client.sent[0].QoS)
	assert.Equal(t, "plant/line1/losses", client.sent[1].Topic)

	require.NoError(t, p.Close())
	assert.True(t, client.disconnected)
}

func TestPublishErrors(t *testing.T) {
	offline := errors.New("connection not up")
	p := New(&fakeClient{err: offline}, Config{}, testutil.NewObs())

	err := p.PublishBatch([]*domain.Message{{Topic: "speed", Payload: 1.0}})
	assert.ErrorIs(t, err, offline)
	assert.Contains(t, err.Error(), "uabridge/speed")
}

func TestConfig(t *testing.T) {
	var cfg Config
	assert.False(t, cfg.Enabled())
	assert.NoError(t, cfg.Validate())

	cfg.ApplyDefaults()
	assert.Equal(t, "uabridge", cfg.TopicPrefix)
	assert.Contains(t, cfg.ClientID, "uabridge-")

	cfg.URL = "mqtt://broker:1883"
	assert.NoError(t, cfg.Validate())
	cfg.URL = "http://broker"
	assert.Error(t, cfg.Validate())
	cfg.URL = "tcp://broker:1883"
	cfg.QoS = 3
	assert.Error(t, cfg.Validate())
}
