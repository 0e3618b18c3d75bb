// Package natspub mirrors topic messages onto NATS subjects.
package natspub

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/ghalamif/uabridge/internal/domain"
	"github.com/ghalamif/uabridge/internal/ports"
)

type Config struct {
	URL           string        `yaml:"url"`
	SubjectPrefix string        `yaml:"subject_prefix"`
	ClientName    string        `yaml:"client_name"`
	Username      string        `yaml:"username"`
	Password      string        `yaml:"password"`
	Token         string        `yaml:"token"`
	MaxReconnects int           `yaml:"max_reconnects"`
	ReconnectWait time.Duration `yaml:"reconnect_wait"`
}

func (c *Config) ApplyDefaults() {
	if c.SubjectPrefix == "" {
		c.SubjectPrefix = "uabridge"
	}
	if c.ClientName == "" {
		c.ClientName = "uabridge"
	}
	if c.MaxReconnects == 0 {
		c.MaxReconnects = -1
	}
	if c.ReconnectWait <= 0 {
		c.ReconnectWait = 2 * time.Second
	}
}

// Enabled reports whether a NATS server is configured.
func (c Config) Enabled() bool { return c.URL != "" }

// Conn is the part of *nats.Conn the publisher needs.
type Conn interface {
	Publish(subject string, data []byte) error
	Drain() error
}

type Publisher struct {
	conn   Conn
	prefix string
	obs    ports.Observability
}

// Dial connects to the configured server. The client reconnects on its own;
// publishes during an outage are buffered by nats.go up to its limit.
func Dial(cfg Config, obs ports.Observability) (*Publisher, error) {
	cfg.ApplyDefaults()
	opts := []nats.Option{
		nats.Name(cfg.ClientName),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				obs.LogWarn("nats_disconnected", ports.Field{Key: "error", Value: err.Error()})
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			obs.LogInfo("nats_reconnected", ports.Field{Key: "url", Value: nc.ConnectedUrlRedacted()})
		}),
	}
	if cfg.Username != "" {
		opts = append(opts, nats.UserInfo(cfg.Username, cfg.Password))
	}
	if cfg.Token != "" {
		opts = append(opts, nats.Token(cfg.Token))
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect %s: %w", cfg.URL, err)
	}
	obs.LogInfo("nats_connected", ports.Field{Key: "url", Value: nc.ConnectedUrlRedacted()})
	return New(nc, cfg.SubjectPrefix, obs), nil
}

func New(conn Conn, prefix string, obs ports.Observability) *Publisher {
	return &Publisher{conn: conn, prefix: strings.Trim(prefix, "."), obs: obs}
}

func (p *Publisher) Name() string { return "nats" }

// Subject maps a topic to its NATS subject.
func (p *Publisher) Subject(topic string) string {
	if p.prefix == "" {
		return topic
	}
	return p.prefix + "." + topic
}

func (p *Publisher) PublishBatch(msgs []*domain.Message) error {
	var errs []error
	for _, m := range msgs {
		data, err := m.EncodePayload()
		if err != nil {
			errs = append(errs, fmt.Errorf("encode %s: %w", m.Topic, err))
			continue
		}
		if err := p.conn.Publish(p.Subject(m.Topic), data); err != nil {
			errs = append(errs, fmt.Errorf("publish %s: %w", p.Subject(m.Topic), err))
		}
	}
	return errors.Join(errs...)
}

// Close flushes pending messages and closes the connection.
func (p *Publisher) Close() error {
	return p.conn.Drain()
}

var _ ports.Publisher = (*Publisher)(nil)
