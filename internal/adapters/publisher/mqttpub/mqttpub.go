// Package mqttpub mirrors topic messages onto an MQTT v5 broker.
package mqttpub

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"
	"github.com/google/uuid"

	"github.com/ghalamif/uabridge/internal/domain"
	"github.com/ghalamif/uabridge/internal/ports"
)

type Config struct {
	URL            string        `yaml:"url"`
	TopicPrefix    string        `yaml:"topic_prefix"`
	ClientID       string        `yaml:"client_id"`
	Username       string        `yaml:"username"`
	Password       string        `yaml:"password"`
	QoS            byte          `yaml:"qos"`
	Retain         bool          `yaml:"retain"`
	KeepAlive      time.Duration `yaml:"keep_alive"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	RetryDelay     time.Duration `yaml:"retry_delay"`
	PublishTimeout time.Duration `yaml:"publish_timeout"`
}

func (c *Config) ApplyDefaults() {
	if c.TopicPrefix == "" {
		c.TopicPrefix = "uabridge"
	}
	if c.ClientID == "" {
		c.ClientID = "uabridge-" + uuid.NewString()
	}
	if c.KeepAlive <= 0 {
		c.KeepAlive = 30 * time.Second
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = 10 * time.Second
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = 5 * time.Second
	}
	if c.PublishTimeout <= 0 {
		c.PublishTimeout = 5 * time.Second
	}
}

func (c Config) Enabled() bool { return c.URL != "" }

func (c Config) Validate() error {
	if !c.Enabled() {
		return nil
	}
	u, err := url.Parse(c.URL)
	if err != nil {
		return fmt.Errorf("mqtt url: %w", err)
	}
	switch u.Scheme {
	case "mqtt", "tcp", "ssl", "tls", "ws", "wss":
	default:
		return fmt.Errorf("mqtt url %q: unsupported scheme %q", c.URL, u.Scheme)
	}
	if c.QoS > 2 {
		return fmt.Errorf("mqtt qos %d out of range", c.QoS)
	}
	return nil
}

// Client is the part of *autopaho.ConnectionManager the publisher needs.
type Client interface {
	Publish(ctx context.Context, p *paho.Publish) (*paho.PublishResponse, error)
	Disconnect(ctx context.Context) error
}

type Publisher struct {
	client  Client
	cfg     Config
	obs     ports.Observability
	timeout time.Duration
}

// Dial starts an autopaho connection manager. It returns without waiting for
// the broker: autopaho keeps retrying in the background and publishes fail
// until the connection is up.
func Dial(ctx context.Context, cfg Config, obs ports.Observability) (*Publisher, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	srvURL, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("mqtt url: %w", err)
	}

	cliCfg := autopaho.ClientConfig{
		BrokerUrls:        []*url.URL{srvURL},
		KeepAlive:         uint16(cfg.KeepAlive / time.Second),
		ConnectRetryDelay: cfg.RetryDelay,
		ConnectTimeout:    cfg.ConnectTimeout,
		OnConnectionUp: func(*autopaho.ConnectionManager, *paho.Connack) {
			obs.LogInfo("mqtt_connected", ports.Field{Key: "broker", Value: srvURL.Host})
		},
		OnConnectError: func(err error) {
			obs.LogWarn("mqtt_connect_failed",
				ports.Field{Key: "broker", Value: srvURL.Host},
				ports.Field{Key: "error", Value: err.Error()},
			)
		},
		ClientConfig: paho.ClientConfig{
			ClientID: cfg.ClientID,
			OnClientError: func(err error) {
				obs.LogError("mqtt_client_error", err)
			},
			OnServerDisconnect: func(d *paho.Disconnect) {
				reason := fmt.Sprintf("reason code %d", d.ReasonCode)
				if d.Properties != nil && d.Properties.ReasonString != "" {
					reason = d.Properties.ReasonString
				}
				obs.LogWarn("mqtt_server_disconnect", ports.Field{Key: "reason", Value: reason})
			},
		},
	}
	if cfg.Username != "" {
		cliCfg.SetUsernamePassword(cfg.Username, []byte(cfg.Password))
	}

	cm, err := autopaho.NewConnection(ctx, cliCfg)
	if err != nil {
		return nil, fmt.Errorf("mqtt connect %s: %w", cfg.URL, err)
	}
	return New(cm, cfg, obs), nil
}

func New(client Client, cfg Config, obs ports.Observability) *Publisher {
	cfg.ApplyDefaults()
	return &Publisher{client: client, cfg: cfg, obs: obs, timeout: cfg.PublishTimeout}
}

func (p *Publisher) Name() string { return "mqtt" }

// Topic maps a bridge topic to its MQTT topic.
func (p *Publisher) Topic(topic string) string {
	prefix := strings.Trim(p.cfg.TopicPrefix, "/")
	if prefix == "" {
		return topic
	}
	return prefix + "/" + topic
}

func (p *Publisher) PublishBatch(msgs []*domain.Message) error {
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()

	var errs []error
	for _, m := range msgs {
		data, err := m.EncodePayload()
		if err != nil {
			errs = append(errs, fmt.Errorf("encode %s: %w", m.Topic, err))
			continue
		}
		_, err = p.client.Publish(ctx, &paho.Publish{
			QoS:     p.cfg.QoS,
			Retain:  p.cfg.Retain,
			Topic:   p.Topic(m.Topic),
			Payload: data,
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("publish %s: %w", p.Topic(m.Topic), err))
			if ctx.Err() != nil {
				break
			}
		}
	}
	return errors.Join(errs...)
}

func (p *Publisher) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()
	return p.client.Disconnect(ctx)
}

var _ ports.Publisher = (*Publisher)(nil)
