package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ghalamif/uabridge/internal/adapters/opcua"
	"github.com/ghalamif/uabridge/internal/adapters/publisher/mqttpub"
	"github.com/ghalamif/uabridge/internal/adapters/publisher/natspub"
	"github.com/ghalamif/uabridge/internal/adapters/publisher/websocket"
	"github.com/ghalamif/uabridge/internal/app/connection"
	"github.com/ghalamif/uabridge/internal/app/fanout"
	"github.com/ghalamif/uabridge/internal/app/lifecycle"
	"github.com/ghalamif/uabridge/internal/domain"
	"github.com/ghalamif/uabridge/internal/log"
	"github.com/ghalamif/uabridge/internal/ports"
)

// DefaultEndpoint is used when no configuration file is given.
const DefaultEndpoint = "opc.tcp://localhost:53530/OPC/iot/"

type Config struct {
	OPCUA        opcua.Config       `yaml:"opcua"`
	Connect      ConnectConfig      `yaml:"connect"`
	Subscription SubscriptionConfig `yaml:"subscription"`
	Monitoring   MonitoringConfig   `yaml:"monitoring"`
	Points       []PointConfig      `yaml:"points"`
	FanOut       FanOutConfig       `yaml:"fanout"`
	Lifecycle    LifecycleConfig    `yaml:"lifecycle"`
	Server       ServerConfig       `yaml:"server"`
	NATS         natspub.Config     `yaml:"nats"`
	MQTT         mqttpub.Config     `yaml:"mqtt"`
	Log          log.Config         `yaml:"log"`
}

type ConnectConfig struct {
	MaxRetries   int           `yaml:"max_retries"`
	InitialDelay time.Duration `yaml:"initial_delay"`
	MaxDelay     time.Duration `yaml:"max_delay"`
	Multiplier   float64       `yaml:"multiplier"`
	Jitter       *float64      `yaml:"jitter"`
}

type SubscriptionConfig struct {
	PublishingInterval         time.Duration `yaml:"publishing_interval"`
	MaxKeepAliveCount          uint32        `yaml:"max_keep_alive_count"`
	LifetimeCount              uint32        `yaml:"lifetime_count"`
	MaxNotificationsPerPublish uint32        `yaml:"max_notifications_per_publish"`
	PublishingEnabled          *bool         `yaml:"publishing_enabled"`
	Priority                   uint8         `yaml:"priority"`
}

type MonitoringConfig struct {
	SamplingInterval time.Duration `yaml:"sampling_interval"`
	QueueDepth       uint32        `yaml:"queue_depth"`
	DiscardPolicy    string        `yaml:"discard_policy"`
}

// PointConfig overrides the built-in points. Zero monitoring fields inherit
// the monitoring section.
type PointConfig struct {
	Name             string        `yaml:"name"`
	NodeID           string        `yaml:"node_id"`
	Topic            string        `yaml:"topic"`
	TimestampTopic   string        `yaml:"timestamp_topic"`
	Composite        bool          `yaml:"composite"`
	SamplingInterval time.Duration `yaml:"sampling_interval"`
	QueueDepth       uint32        `yaml:"queue_depth"`
	DiscardPolicy    string        `yaml:"discard_policy"`
}

type FanOutConfig struct {
	Shape     string        `yaml:"shape"`
	QueueLen  int           `yaml:"queue_len"`
	MaxBatch  int           `yaml:"max_batch"`
	IdleSleep time.Duration `yaml:"idle_sleep"`
}

type LifecycleConfig struct {
	ReconnectOnTerminated bool          `yaml:"reconnect_on_terminated"`
	ShutdownTimeout       time.Duration `yaml:"shutdown_timeout"`
}

type ServerConfig struct {
	Addr           string   `yaml:"addr"`
	WSPath         string   `yaml:"ws_path"`
	AllowedOrigins []string `yaml:"allowed_origins"`
	ClientBuffer   int      `yaml:"client_buffer"`
}

func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg, err := Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes a YAML document, applies defaults and validates the result.
func Parse(raw []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, err
	}

	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns a valid configuration pointing at DefaultEndpoint.
func Default() *Config {
	cfg := &Config{OPCUA: opcua.Config{Endpoint: DefaultEndpoint}}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	c.OPCUA.ApplyDefaults()

	if c.Connect.InitialDelay <= 0 {
		c.Connect.InitialDelay = connection.DefaultInitialDelay
	}
	if c.Connect.MaxDelay <= 0 {
		c.Connect.MaxDelay = connection.DefaultMaxDelay
	}
	if c.Connect.Multiplier == 0 {
		c.Connect.Multiplier = connection.DefaultMultiplier
	}
	if c.Connect.Jitter == nil {
		j := connection.DefaultJitter
		c.Connect.Jitter = &j
	}

	if c.Subscription.PublishingInterval <= 0 {
		c.Subscription.PublishingInterval = 250 * time.Millisecond
	}
	if c.Subscription.MaxKeepAliveCount == 0 {
		c.Subscription.MaxKeepAliveCount = 50
	}
	if c.Subscription.LifetimeCount == 0 {
		c.Subscription.LifetimeCount = 6000
	}
	if c.Subscription.MaxNotificationsPerPublish == 0 {
		c.Subscription.MaxNotificationsPerPublish = 1000
	}
	if c.Subscription.PublishingEnabled == nil {
		on := true
		c.Subscription.PublishingEnabled = &on
	}
	if c.Subscription.Priority == 0 {
		c.Subscription.Priority = 10
	}

	if c.Monitoring.SamplingInterval <= 0 {
		c.Monitoring.SamplingInterval = domain.DefaultSamplingInterval
	}
	if c.Monitoring.QueueDepth == 0 {
		c.Monitoring.QueueDepth = domain.DefaultQueueDepth
	}
	if c.Monitoring.DiscardPolicy == "" {
		c.Monitoring.DiscardPolicy = domain.DiscardOldest.String()
	}

	if c.FanOut.Shape == "" {
		c.FanOut.Shape = fanout.ShapeLegacy.String()
	}
	if c.FanOut.QueueLen <= 0 {
		c.FanOut.QueueLen = 1024
	}
	if c.FanOut.MaxBatch <= 0 {
		c.FanOut.MaxBatch = 64
	}
	if c.FanOut.IdleSleep <= 0 {
		c.FanOut.IdleSleep = 5 * time.Millisecond
	}

	if c.Lifecycle.ShutdownTimeout <= 0 {
		c.Lifecycle.ShutdownTimeout = 5 * time.Second
	}

	if c.Server.Addr == "" {
		c.Server.Addr = ":3000"
	}
	if c.Server.WSPath == "" {
		c.Server.WSPath = "/ws"
	}
	if len(c.Server.AllowedOrigins) == 0 {
		c.Server.AllowedOrigins = []string{"*"}
	}
	if c.Server.ClientBuffer <= 0 {
		c.Server.ClientBuffer = 256
	}

	c.NATS.ApplyDefaults()
	if c.MQTT.Enabled() {
		c.MQTT.ApplyDefaults()
	}
	c.Log.ApplyDefaults()
}

func (c *Config) validate() error {
	if err := c.OPCUA.Validate(); err != nil {
		return fmt.Errorf("opcua config: %w", err)
	}
	if c.Connect.MaxRetries < 0 {
		return errors.New("connect.max_retries must not be negative")
	}
	if c.Connect.Multiplier < 1 {
		return fmt.Errorf("connect.multiplier %.2f must be at least 1", c.Connect.Multiplier)
	}
	if *c.Connect.Jitter < 0 || *c.Connect.Jitter > 1 {
		return fmt.Errorf("connect.jitter %.2f must be within [0,1]", *c.Connect.Jitter)
	}
	if c.Connect.MaxDelay < c.Connect.InitialDelay {
		return errors.New("connect.max_delay must not be below connect.initial_delay")
	}
	// servers reject a lifetime shorter than three keep-alive periods
	if c.Subscription.LifetimeCount < 3*c.Subscription.MaxKeepAliveCount {
		return fmt.Errorf("subscription.lifetime_count %d must be at least 3x max_keep_alive_count %d",
			c.Subscription.LifetimeCount, c.Subscription.MaxKeepAliveCount)
	}
	if _, err := domain.ParseDiscardPolicy(c.Monitoring.DiscardPolicy); err != nil {
		return fmt.Errorf("monitoring: %w", err)
	}
	if _, err := c.Registry(); err != nil {
		return fmt.Errorf("points: %w", err)
	}
	if _, err := fanout.ParseShape(c.FanOut.Shape); err != nil {
		return fmt.Errorf("fanout: %w", err)
	}
	if !strings.HasPrefix(c.Server.WSPath, "/") {
		return fmt.Errorf("server.ws_path %q must start with /", c.Server.WSPath)
	}
	if c.Server.WSPath == "/metrics" || c.Server.WSPath == "/healthz" || c.Server.WSPath == "/readyz" {
		return fmt.Errorf("server.ws_path %q collides with a built-in route", c.Server.WSPath)
	}
	if err := c.MQTT.Validate(); err != nil {
		return err
	}
	return nil
}

// Registry builds the monitored point set: the configured points, or the
// built-in four when none are configured.
func (c *Config) Registry() (*domain.Registry, error) {
	base, err := domain.ParseDiscardPolicy(c.Monitoring.DiscardPolicy)
	if err != nil {
		return nil, err
	}

	if len(c.Points) == 0 {
		points := domain.DefaultPoints()
		for i := range points {
			points[i].SamplingInterval = c.Monitoring.SamplingInterval
			points[i].QueueDepth = c.Monitoring.QueueDepth
			points[i].Discard = base
		}
		return domain.NewRegistry(points)
	}

	points := make([]domain.MonitoredPoint, 0, len(c.Points))
	for _, pc := range c.Points {
		discard := base
		if pc.DiscardPolicy != "" {
			if discard, err = domain.ParseDiscardPolicy(pc.DiscardPolicy); err != nil {
				return nil, fmt.Errorf("point %q: %w", pc.Name, err)
			}
		}
		p := domain.MonitoredPoint{
			Name:             pc.Name,
			NodeID:           pc.NodeID,
			Topic:            pc.Topic,
			TimestampTopic:   pc.TimestampTopic,
			Composite:        pc.Composite,
			SamplingInterval: pc.SamplingInterval,
			QueueDepth:       pc.QueueDepth,
			Discard:          discard,
		}
		if p.SamplingInterval <= 0 {
			p.SamplingInterval = c.Monitoring.SamplingInterval
		}
		if p.QueueDepth == 0 {
			p.QueueDepth = c.Monitoring.QueueDepth
		}
		points = append(points, p)
	}
	return domain.NewRegistry(points)
}

func (c *Config) SubscriptionParams() ports.SubscriptionParams {
	return ports.SubscriptionParams{
		PublishingInterval:         c.Subscription.PublishingInterval,
		MaxKeepAliveCount:          c.Subscription.MaxKeepAliveCount,
		LifetimeCount:              c.Subscription.LifetimeCount,
		MaxNotificationsPerPublish: c.Subscription.MaxNotificationsPerPublish,
		PublishingEnabled:          c.Subscription.PublishingEnabled == nil || *c.Subscription.PublishingEnabled,
		Priority:                   c.Subscription.Priority,
	}
}

func (c *Config) ConnectionConfig() connection.Config {
	jitter := connection.DefaultJitter
	if c.Connect.Jitter != nil {
		jitter = *c.Connect.Jitter
	}
	return connection.Config{
		MaxRetries: c.Connect.MaxRetries,
		Backoff: connection.BackoffConfig{
			Initial:    c.Connect.InitialDelay,
			Max:        c.Connect.MaxDelay,
			Multiplier: c.Connect.Multiplier,
			Jitter:     jitter,
		},
	}
}

func (c *Config) FanOutConfig() fanout.Config {
	shape, _ := fanout.ParseShape(c.FanOut.Shape)
	return fanout.Config{
		Shape:     shape,
		QueueLen:  c.FanOut.QueueLen,
		MaxBatch:  c.FanOut.MaxBatch,
		IdleSleep: c.FanOut.IdleSleep,
	}
}

func (c *Config) LifecycleConfig() lifecycle.Config {
	return lifecycle.Config{
		Endpoint:              c.OPCUA.Endpoint,
		Subscription:          c.SubscriptionParams(),
		ReconnectOnTerminated: c.Lifecycle.ReconnectOnTerminated,
		TeardownTimeout:       c.Lifecycle.ShutdownTimeout,
	}
}

func (c *Config) HubConfig() websocket.Config {
	return websocket.Config{
		AllowedOrigins: c.Server.AllowedOrigins,
		ClientBuffer:   c.Server.ClientBuffer,
	}
}
