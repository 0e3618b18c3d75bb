package opcua

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gopcua/opcua"
	"github.com/gopcua/opcua/ua"

	"github.com/ghalamif/uabridge/internal/ports"
)

// subscription adapts a gopcua subscription to the ports stream contract.
// gopcua consumes keep-alive publish responses itself, so liveness is
// reported here whenever a keep-alive window passes without data while the
// client is still connected.
type subscription struct {
	client *opcua.Client
	sub    *opcua.Subscription
	raw    chan *opcua.PublishNotificationData
	out    chan ports.Notification

	keepAlive time.Duration
	cancel    context.CancelFunc
	done      chan struct{}
	once      sync.Once
}

func newSubscription(client *opcua.Client, sub *opcua.Subscription, raw chan *opcua.PublishNotificationData, keepAlive time.Duration) *subscription {
	ctx, cancel := context.WithCancel(context.Background())
	s := &subscription{
		client:    client,
		sub:       sub,
		raw:       raw,
		out:       make(chan ports.Notification, cap(raw)),
		keepAlive: keepAlive,
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	go s.consume(ctx)
	return s
}

func (s *subscription) ID() uint32 { return s.sub.SubscriptionID }

func (s *subscription) Notifications() <-chan ports.Notification { return s.out }

func (s *subscription) Monitor(ctx context.Context, req ports.MonitorRequest) error {
	nodeID, err := ua.ParseNodeID(req.NodeID)
	if err != nil {
		return fmt.Errorf("parse node id %q: %w", req.NodeID, err)
	}

	create := opcua.NewMonitoredItemCreateRequestWithDefaults(nodeID, ua.AttributeIDValue, req.Handle)
	create.RequestedParameters.SamplingInterval = float64(req.SamplingInterval / time.Millisecond)
	create.RequestedParameters.QueueSize = req.QueueSize
	create.RequestedParameters.DiscardOldest = req.DiscardOldest

	res, err := s.sub.Monitor(ctx, ua.TimestampsToReturnBoth, create)
	if err != nil {
		return fmt.Errorf("monitor node %q: %w", req.NodeID, err)
	}
	if len(res.Results) == 0 {
		return fmt.Errorf("monitor node %q failed: empty result", req.NodeID)
	}
	if res.Results[0].StatusCode != ua.StatusOK {
		return fmt.Errorf("monitor node %q failed: %w", req.NodeID, res.Results[0].StatusCode)
	}
	return nil
}

func (s *subscription) Cancel(ctx context.Context) error {
	var err error
	s.once.Do(func() {
		err = s.sub.Cancel(ctx)
		s.cancel()
		select {
		case <-s.done:
		case <-ctx.Done():
		}
	})
	return err
}

func (s *subscription) consume(ctx context.Context) {
	defer close(s.done)
	defer close(s.out)

	var tick <-chan time.Time
	if s.keepAlive > 0 {
		ticker := time.NewTicker(s.keepAlive / 2)
		defer ticker.Stop()
		tick = ticker.C
	}
	last := time.Now()

	for {
		select {
		case <-ctx.Done():
			return
		case data := <-s.raw:
			last = time.Now()
			for _, n := range decodeNotification(data) {
				select {
				case <-ctx.Done():
					return
				case s.out <- n:
				}
				if n.Kind == ports.NotificationTerminated {
					return
				}
			}
		case now := <-tick:
			if now.Sub(last) < s.keepAlive || s.client.State() != opcua.Connected {
				continue
			}
			last = now
			select {
			case <-ctx.Done():
				return
			case s.out <- ports.Notification{Kind: ports.NotificationKeepAlive}:
			}
		}
	}
}

func keepAliveWindow(p ports.SubscriptionParams) time.Duration {
	if p.PublishingInterval <= 0 || p.MaxKeepAliveCount == 0 {
		return 0
	}
	return p.PublishingInterval * time.Duration(p.MaxKeepAliveCount)
}

var _ ports.Subscription = (*subscription)(nil)
