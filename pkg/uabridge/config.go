package uabridge

import (
	"github.com/ghalamif/uabridge/internal/adapters/opcua"
	"github.com/ghalamif/uabridge/internal/adapters/publisher/mqttpub"
	"github.com/ghalamif/uabridge/internal/adapters/publisher/natspub"
	"github.com/ghalamif/uabridge/internal/app/config"
	"github.com/ghalamif/uabridge/internal/log"
)

// Config re-exports the root configuration struct so downstream projects can
// construct or modify it programmatically.
type Config = config.Config

type (
	// OPCUAConfig holds endpoint and security details.
	OPCUAConfig = opcua.Config
	// ConnectConfig bounds the connect retry loop.
	ConnectConfig = config.ConnectConfig
	// SubscriptionConfig carries the requested subscription parameters.
	SubscriptionConfig = config.SubscriptionConfig
	// MonitoringConfig holds the per-item defaults.
	MonitoringConfig = config.MonitoringConfig
	// PointConfig describes one monitored point.
	PointConfig     = config.PointConfig
	FanOutConfig    = config.FanOutConfig
	LifecycleConfig = config.LifecycleConfig
	// ServerConfig configures the HTTP listener (websocket, metrics, health checks).
	ServerConfig = config.ServerConfig
	NATSConfig   = natspub.Config
	MQTTConfig   = mqttpub.Config
	LogConfig    = log.Config
)

// DefaultEndpoint is the OPC UA endpoint used when no config file is given.
const DefaultEndpoint = config.DefaultEndpoint

// LoadConfig loads YAML from disk, applies defaults and validates it.
func LoadConfig(path string) (*Config, error) {
	return config.Load(path)
}

// ParseConfig is LoadConfig for an in-memory document.
func ParseConfig(raw []byte) (*Config, error) {
	return config.Parse(raw)
}

// DefaultConfig returns a ready-to-run configuration for DefaultEndpoint
// with the four built-in points.
func DefaultConfig() *Config {
	return config.Default()
}
