package ports

import (
	"context"
	"errors"
	"time"
)

// ErrPermanent marks protocol failures that retrying cannot fix
// (misconfiguration, rejected endpoint, unsupported option).
var ErrPermanent = errors.New("permanent failure")

// Dialer opens a transport-level connection to a data source.
type Dialer interface {
	Dial(ctx context.Context, endpoint string) (Conn, error)
}

// Conn is an open connection that can host one session.
type Conn interface {
	CreateSession(ctx context.Context) (Session, error)
	Close(ctx context.Context) error
}

// Session is an authenticated logical channel, parent of all subscriptions.
type Session interface {
	Subscribe(ctx context.Context, params SubscriptionParams) (Subscription, error)
	Close(ctx context.Context) error
}

// Subscription groups monitored items under one publishing cadence.
// Notifications is closed once the subscription has ended, whether by Cancel
// or by the server.
type Subscription interface {
	ID() uint32
	Monitor(ctx context.Context, req MonitorRequest) error
	Notifications() <-chan Notification
	Cancel(ctx context.Context) error
}

type SubscriptionParams struct {
	PublishingInterval         time.Duration
	MaxKeepAliveCount          uint32
	LifetimeCount              uint32
	MaxNotificationsPerPublish uint32
	PublishingEnabled          bool
	Priority                   uint8
}

type MonitorRequest struct {
	Handle           uint32
	NodeID           string
	SamplingInterval time.Duration
	QueueSize        uint32
	DiscardOldest    bool
}

type NotificationKind uint8

const (
	NotificationDataChange NotificationKind = iota
	NotificationKeepAlive
	NotificationTerminated
	NotificationError
)

func (k NotificationKind) String() string {
	switch k {
	case NotificationDataChange:
		return "data_change"
	case NotificationKeepAlive:
		return "keepalive"
	case NotificationTerminated:
		return "terminated"
	default:
		return "error"
	}
}

// Notification is one item of a subscription's event stream. Change is set
// for data changes, Err for terminations and stream errors.
type Notification struct {
	Kind   NotificationKind
	Change DataChange
	Err    error
}

// DataChange carries the raw value of a monitored item as decoded by the
// protocol adapter. Status is non-nil when the server flagged the value bad.
type DataChange struct {
	Handle          uint32
	Value           any
	Status          error
	ServerTimestamp time.Time
	SourceTimestamp time.Time
}
