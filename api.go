package uabridge

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	base "github.com/ghalamif/uabridge/pkg/uabridge"
)

// Re-exported errors for convenience.
var (
	ErrRuntimeStarted         = base.ErrRuntimeStarted
	ErrChannelPublisherClosed = base.ErrChannelPublisherClosed
	ErrChannelPublisherFull   = base.ErrChannelPublisherFull
)

// Type aliases so consumers can import github.com/ghalamif/uabridge directly.
type (
	Config             = base.Config
	OPCUAConfig        = base.OPCUAConfig
	ConnectConfig      = base.ConnectConfig
	SubscriptionConfig = base.SubscriptionConfig
	MonitoringConfig   = base.MonitoringConfig
	PointConfig        = base.PointConfig
	FanOutConfig       = base.FanOutConfig
	LifecycleConfig    = base.LifecycleConfig
	ServerConfig       = base.ServerConfig
	NATSConfig         = base.NATSConfig
	MQTTConfig         = base.MQTTConfig
	LogConfig          = base.LogConfig
	Runtime            = base.Runtime
	RuntimeOption      = base.RuntimeOption
	Message            = base.Message
	ChangeEvent        = base.ChangeEvent
	ValueWithTimestamp = base.ValueWithTimestamp
	MonitoredPoint     = base.MonitoredPoint
	State              = base.State
	Publisher          = base.Publisher
	Dialer             = base.Dialer
	Observability      = base.Observability
	Field              = base.Field
	MessageBatchFunc   = base.MessageBatchFunc
)

const DefaultEndpoint = base.DefaultEndpoint

// Config helpers.
func LoadConfig(path string) (*Config, error) {
	return base.LoadConfig(path)
}

func ParseConfig(raw []byte) (*Config, error) {
	return base.ParseConfig(raw)
}

func DefaultConfig() *Config {
	return base.DefaultConfig()
}

// Runtime and options.
func NewRuntime(cfg *Config, opts ...RuntimeOption) (*Runtime, error) {
	return base.NewRuntime(cfg, opts...)
}

func WithDialer(d Dialer) RuntimeOption {
	return base.WithDialer(d)
}

func WithPublisher(p Publisher) RuntimeOption {
	return base.WithPublisher(p)
}

func WithObservability(obs Observability) RuntimeOption {
	return base.WithObservability(obs)
}

func WithLogger(l *logrus.Logger) RuntimeOption {
	return base.WithLogger(l)
}

func WithRegistry(reg *prometheus.Registry) RuntimeOption {
	return base.WithRegistry(reg)
}

func WithSimulation(interval time.Duration) RuntimeOption {
	return base.WithSimulation(interval)
}

// Publisher adapters.
func NewCallbackPublisher(name string, fn MessageBatchFunc) Publisher {
	return base.NewCallbackPublisher(name, fn)
}

func NewChannelPublisher(name string, buffer int) (Publisher, <-chan []Message, func()) {
	return base.NewChannelPublisher(name, buffer)
}
