package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// DiscardPolicy selects which value is dropped when a monitored item's
// queue overflows.
type DiscardPolicy uint8

const (
	DiscardOldest DiscardPolicy = iota
	DiscardNewest
)

func (p DiscardPolicy) String() string {
	switch p {
	case DiscardNewest:
		return "newest"
	default:
		return "oldest"
	}
}

// ParseDiscardPolicy accepts "oldest"/"newest" (and the discard_ prefixed forms).
func ParseDiscardPolicy(s string) (DiscardPolicy, error) {
	switch strings.TrimPrefix(strings.ToLower(strings.TrimSpace(s)), "discard_") {
	case "", "oldest":
		return DiscardOldest, nil
	case "newest":
		return DiscardNewest, nil
	default:
		return DiscardOldest, fmt.Errorf("unknown discard policy %q", s)
	}
}

// MonitoredPoint is a named remote measurement registered for change
// notification. Topic is the outward channel name; TimestampTopic, when set,
// additionally receives the server timestamp of every change. Composite points
// publish value and timestamp as one message.
type MonitoredPoint struct {
	Name             string
	NodeID           string
	Topic            string
	TimestampTopic   string
	Composite        bool
	SamplingInterval time.Duration
	QueueDepth       uint32
	Discard          DiscardPolicy
}

const (
	DefaultSamplingInterval = 100 * time.Millisecond
	DefaultQueueDepth       = 100
)

// DefaultPoints returns the four points of the reference plant.
func DefaultPoints() []MonitoredPoint {
	base := MonitoredPoint{
		SamplingInterval: DefaultSamplingInterval,
		QueueDepth:       DefaultQueueDepth,
		Discard:          DiscardOldest,
	}

	temperature := base
	temperature.Name, temperature.NodeID, temperature.Topic = "temperature", "ns=3;i=1001", "temperature"
	temperature.TimestampTopic = "time"

	speed := base
	speed.Name, speed.NodeID, speed.Topic = "speed", "ns=3;i=1002", "speed"

	flow := base
	flow.Name, flow.NodeID, flow.Topic = "flow", "ns=3;i=1008", "flow"
	flow.Composite = true

	losses := base
	losses.Name, losses.NodeID, losses.Topic = "losses", "ns=3;i=1003", "losses"

	return []MonitoredPoint{temperature, speed, flow, losses}
}

// Registry is the immutable set of points monitored for the lifetime of the
// process.
type Registry struct {
	points []MonitoredPoint
	byName map[string]int
}

// NewRegistry validates the points and freezes them. Topic defaults to the
// point name, zero sampling/queue values fall back to the package defaults.
func NewRegistry(points []MonitoredPoint) (*Registry, error) {
	if len(points) == 0 {
		return nil, errors.New("at least one monitored point is required")
	}
	r := &Registry{
		points: make([]MonitoredPoint, 0, len(points)),
		byName: make(map[string]int, len(points)),
	}
	topics := make(map[string]string, len(points)*2)
	for _, p := range points {
		if p.Name == "" {
			return nil, errors.New("monitored point name is required")
		}
		if p.NodeID == "" {
			return nil, fmt.Errorf("point %q: node id is required", p.Name)
		}
		if _, dup := r.byName[p.Name]; dup {
			return nil, fmt.Errorf("point %q defined twice", p.Name)
		}
		if p.Topic == "" {
			p.Topic = p.Name
		}
		if p.SamplingInterval <= 0 {
			p.SamplingInterval = DefaultSamplingInterval
		}
		if p.QueueDepth == 0 {
			p.QueueDepth = DefaultQueueDepth
		}
		for _, topic := range []string{p.Topic, p.TimestampTopic} {
			if topic == "" {
				continue
			}
			if owner, taken := topics[topic]; taken {
				return nil, fmt.Errorf("point %q: topic %q already used by %q", p.Name, topic, owner)
			}
			topics[topic] = p.Name
		}
		r.byName[p.Name] = len(r.points)
		r.points = append(r.points, p)
	}
	return r, nil
}

// Points returns a copy of the registered points in definition order.
func (r *Registry) Points() []MonitoredPoint {
	out := make([]MonitoredPoint, len(r.points))
	copy(out, r.points)
	return out
}

func (r *Registry) Lookup(name string) (MonitoredPoint, bool) {
	i, ok := r.byName[name]
	if !ok {
		return MonitoredPoint{}, false
	}
	return r.points[i], true
}

func (r *Registry) Len() int { return len(r.points) }
