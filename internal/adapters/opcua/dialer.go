package opcua

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/gopcua/opcua"
	"github.com/gopcua/opcua/ua"

	"github.com/ghalamif/uabridge/internal/ports"
)

// Dialer reaches an OPC UA server through gopcua. Dial queries the endpoint
// with GetEndpoints; the session is opened by Conn.CreateSession.
type Dialer struct {
	cfg Config
	obs ports.Observability
}

func NewDialer(cfg Config, obs ports.Observability) (*Dialer, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.ApplicationURI == "" {
		cfg.ApplicationURI = "urn:uabridge:" + uuid.NewString()
	}
	return &Dialer{cfg: cfg, obs: obs}, nil
}

func (d *Dialer) Dial(ctx context.Context, endpoint string) (ports.Conn, error) {
	if endpoint == "" {
		endpoint = d.cfg.Endpoint
	}

	discoverCtx, cancel := context.WithTimeout(ctx, d.cfg.DialTimeout)
	defer cancel()

	endpoints, err := opcua.GetEndpoints(discoverCtx, endpoint)
	if err != nil {
		return nil, fmt.Errorf("get endpoints %s: %w", endpoint, err)
	}
	if !endpointAdvertised(endpoints, endpoint) {
		if d.cfg.EndpointMustExist {
			return nil, fmt.Errorf("%w: endpoint %s is not advertised by the server", ports.ErrPermanent, endpoint)
		}
		d.obs.LogWarn("opcua_endpoint_not_advertised", ports.Field{Key: "endpoint", Value: endpoint})
	}

	client, err := opcua.NewClient(endpoint, d.buildClientOptions()...)
	if err != nil {
		return nil, fmt.Errorf("%w: opcua new client: %v", ports.ErrPermanent, err)
	}
	return &conn{client: client}, nil
}

func (d *Dialer) buildClientOptions() []opcua.Option {
	opts := []opcua.Option{
		opcua.SecurityModeString(normalizeSecurityMode(d.cfg.SecurityMode)),
		opcua.SecurityPolicy(normalizeSecurityPolicy(d.cfg.SecurityPolicy)),
		opcua.ApplicationName(d.cfg.ApplicationName),
		opcua.ApplicationURI(d.cfg.ApplicationURI),
		opcua.AutoReconnect(*d.cfg.AutoReconnect),
		opcua.DialTimeout(d.cfg.DialTimeout),
		opcua.SessionTimeout(d.cfg.SessionTimeout),
	}

	if d.cfg.CertificateFile != "" && d.cfg.PrivateKeyFile != "" {
		opts = append(opts,
			opcua.CertificateFile(d.cfg.CertificateFile),
			opcua.PrivateKeyFile(d.cfg.PrivateKeyFile),
		)
	}

	if d.cfg.Username != "" {
		opts = append(opts, opcua.AuthUsername(d.cfg.Username, d.cfg.Password))
	} else {
		opts = append(opts, opcua.AuthAnonymous())
	}
	return opts
}

func endpointAdvertised(endpoints []*ua.EndpointDescription, endpoint string) bool {
	want := strings.TrimSuffix(strings.ToLower(endpoint), "/")
	for _, ep := range endpoints {
		if ep == nil {
			continue
		}
		if strings.TrimSuffix(strings.ToLower(ep.EndpointURL), "/") == want {
			return true
		}
	}
	return false
}

type conn struct {
	client *opcua.Client
}

// CreateSession opens and activates the session. gopcua's Connect also
// brings up the TCP connection and secure channel, so network failures
// surface here and are left transient for the connection manager to retry.
func (c *conn) CreateSession(ctx context.Context) (ports.Session, error) {
	if err := c.client.Connect(ctx); err != nil {
		return nil, classifySessionError(err)
	}
	return &session{client: c.client}, nil
}

func (c *conn) Close(ctx context.Context) error {
	return c.client.Close(ctx)
}

// classifySessionError marks authorization and security rejections as
// permanent; anything else (timeouts, resets, a restarting server) is
// retried.
func classifySessionError(err error) error {
	var code ua.StatusCode
	if errors.As(err, &code) {
		switch code {
		case ua.StatusBadUserAccessDenied,
			ua.StatusBadIdentityTokenInvalid,
			ua.StatusBadIdentityTokenRejected,
			ua.StatusBadSecurityPolicyRejected,
			ua.StatusBadSecurityModeRejected,
			ua.StatusBadCertificateInvalid,
			ua.StatusBadCertificateUntrusted,
			ua.StatusBadTooManySessions:
			return fmt.Errorf("%w: %w", ports.ErrPermanent, err)
		}
	}
	return err
}

type session struct {
	client *opcua.Client
}

func (s *session) Subscribe(ctx context.Context, params ports.SubscriptionParams) (ports.Subscription, error) {
	if !params.PublishingEnabled {
		return nil, fmt.Errorf("%w: gopcua subscriptions are always created with publishing enabled", ports.ErrPermanent)
	}

	raw := make(chan *opcua.PublishNotificationData, 64)
	sub, err := s.client.Subscribe(ctx, &opcua.SubscriptionParameters{
		Interval:                   params.PublishingInterval,
		LifetimeCount:              params.LifetimeCount,
		MaxKeepAliveCount:          params.MaxKeepAliveCount,
		MaxNotificationsPerPublish: params.MaxNotificationsPerPublish,
		Priority:                   params.Priority,
	}, raw)
	if err != nil {
		return nil, fmt.Errorf("opcua subscribe: %w", err)
	}
	return newSubscription(s.client, sub, raw, keepAliveWindow(params)), nil
}

func (s *session) Close(ctx context.Context) error {
	return s.client.CloseSession(ctx)
}

var _ ports.Dialer = (*Dialer)(nil)
