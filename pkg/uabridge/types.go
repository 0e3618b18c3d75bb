package uabridge

import (
	"github.com/ghalamif/uabridge/internal/domain"
	"github.com/ghalamif/uabridge/internal/ports"
)

// Message is one outward publication: a JSON-encodable payload on a topic.
type Message = domain.Message

// ChangeEvent is the uniform payload shape.
type ChangeEvent = domain.ChangeEvent

// ValueWithTimestamp is the payload of composite points.
type ValueWithTimestamp = domain.ValueWithTimestamp

// MonitoredPoint describes one OPC UA node and how its changes are published.
type MonitoredPoint = domain.MonitoredPoint

// State is a lifecycle state of the bridge.
type State = domain.State

const (
	StateIdle               = domain.StateIdle
	StateConnecting         = domain.StateConnecting
	StateSessionEstablished = domain.StateSessionEstablished
	StateSubscribed         = domain.StateSubscribed
	StateRunning            = domain.StateRunning
	StateShuttingDown       = domain.StateShuttingDown
	StateStopped            = domain.StateStopped
)

// Publisher delivers batches of messages to any outward channel.
type Publisher = ports.Publisher

// Dialer opens connections to an OPC UA server. Swap it to bridge a
// different data source or a simulator.
type Dialer = ports.Dialer

// Observability emits metrics and structured logs.
type Observability = ports.Observability

// Field is a structured log field used by Observability implementations.
type Field = ports.Field
