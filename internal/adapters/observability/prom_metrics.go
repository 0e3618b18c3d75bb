package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/ghalamif/uabridge/internal/ports"
)

type PromObs struct {
	log      *logrus.Logger
	counters map[string]prometheus.Counter
	gauges   map[string]prometheus.Gauge
	histos   map[string]prometheus.Observer
}

// NewPromObs registers the bridge collectors on reg and routes log calls to
// log. A nil reg falls back to the default registerer.
func NewPromObs(reg prometheus.Registerer, log *logrus.Logger) *PromObs {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if log == nil {
		log = logrus.StandardLogger()
	}

	counter := func(name, help string) prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{Name: name, Help: help})
	}
	gauge := func(name, help string) prometheus.Gauge {
		return prometheus.NewGauge(prometheus.GaugeOpts{Name: name, Help: help})
	}

	counters := map[string]prometheus.Counter{
		ports.MetricConnectAttempts:      counter(ports.MetricConnectAttempts, "Dial attempts against the OPC UA endpoint."),
		ports.MetricConnectRetries:       counter(ports.MetricConnectRetries, "Dial attempts that failed and were retried."),
		ports.MetricChangeEvents:         counter(ports.MetricChangeEvents, "Change notifications turned into change events."),
		ports.MetricNotificationsInvalid: counter(ports.MetricNotificationsInvalid, "Change notifications dropped because the value was missing or not numeric."),
		ports.MetricNotificationsDropped: counter(ports.MetricNotificationsDropped, "Change notifications discarded by a full monitored item queue."),
		ports.MetricKeepAlives:           counter(ports.MetricKeepAlives, "Subscription keep-alives observed."),
		ports.MetricTerminations:         counter(ports.MetricTerminations, "Subscriptions terminated by the server."),
		ports.MetricRegistrationFailures: counter(ports.MetricRegistrationFailures, "Monitored item registrations rejected."),
		ports.MetricPublishedMessages:    counter(ports.MetricPublishedMessages, "Messages handed to the outward publishers."),
		ports.MetricPublishFailures:      counter(ports.MetricPublishFailures, "Publish batches that returned an error."),
		ports.MetricPublishDropped:       counter(ports.MetricPublishDropped, "Messages dropped because the publish queue was full."),
		ports.MetricSubscriberDropped:    counter(ports.MetricSubscriberDropped, "Messages skipped for a slow real-time subscriber."),
	}
	gauges := map[string]prometheus.Gauge{
		ports.MetricMonitoredItems:       gauge(ports.MetricMonitoredItems, "Live monitored items."),
		ports.MetricSubscribersConnected: gauge(ports.MetricSubscribersConnected, "Connected real-time subscribers."),
		ports.MetricPublishQueueLength:   gauge(ports.MetricPublishQueueLength, "Messages waiting in the publish queue."),
		ports.MetricLifecycleState:       gauge(ports.MetricLifecycleState, "Lifecycle state (0 idle .. 6 stopped)."),
	}
	connectLatency := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    ports.MetricConnectDuration,
		Help:    "Time from first dial attempt to established connection.",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 14),
	})
	publishLatency := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    ports.MetricPublishLatency,
		Help:    "Time spent handing one batch to the publishers.",
		Buckets: prometheus.ExponentialBuckets(0.0001, 2, 14),
	})

	for _, c := range counters {
		reg.MustRegister(c)
	}
	for _, g := range gauges {
		reg.MustRegister(g)
	}
	reg.MustRegister(connectLatency, publishLatency)

	return &PromObs{
		log:      log,
		counters: counters,
		gauges:   gauges,
		histos: map[string]prometheus.Observer{
			ports.MetricConnectDuration: connectLatency,
			ports.MetricPublishLatency:  publishLatency,
		},
	}
}

func (p *PromObs) LogInfo(msg string, fields ...ports.Field) {
	p.entry(fields).Info(msg)
}

func (p *PromObs) LogWarn(msg string, fields ...ports.Field) {
	p.entry(fields).Warn(msg)
}

func (p *PromObs) LogError(msg string, err error, fields ...ports.Field) {
	p.entry(fields).WithError(err).Error(msg)
}

func (p *PromObs) LogCritical(msg string, err error, fields ...ports.Field) {
	p.entry(fields).WithError(err).WithField("critical", true).Error(msg)
}

func (p *PromObs) IncCounter(name string, v float64) {
	if c, ok := p.counters[name]; ok {
		c.Add(v)
	}
}

func (p *PromObs) ObserveLatency(name string, seconds float64) {
	if h, ok := p.histos[name]; ok {
		h.Observe(seconds)
	}
}

func (p *PromObs) SetGauge(name string, v float64) {
	if g, ok := p.gauges[name]; ok {
		g.Set(v)
	}
}

func (p *PromObs) entry(fields []ports.Field) *logrus.Entry {
	lf := make(logrus.Fields, len(fields))
	for _, f := range fields {
		lf[f.Key] = f.Value
	}
	return p.log.WithFields(lf)
}

var _ ports.Observability = (*PromObs)(nil)
