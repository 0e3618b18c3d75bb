package ports

type Observability interface {
	LogInfo(msg string, fields ...Field)
	LogWarn(msg string, fields ...Field)
	LogError(msg string, err error, fields ...Field)
	LogCritical(msg string, err error, fields ...Field)

	IncCounter(name string, v float64)
	ObserveLatency(name string, seconds float64)

	SetGauge(name string, v float64)
}

type Field struct {
	Key   string
	Value any
}

// Metric names understood by the Prometheus adapter.
const (
	MetricConnectAttempts      = "uabridge_connect_attempts_total"
	MetricConnectRetries       = "uabridge_connect_retries_total"
	MetricConnectDuration      = "uabridge_connect_duration_seconds"
	MetricChangeEvents         = "uabridge_change_events_total"
	MetricNotificationsInvalid = "uabridge_notifications_invalid_total"
	MetricNotificationsDropped = "uabridge_notifications_dropped_total"
	MetricKeepAlives           = "uabridge_keepalives_total"
	MetricTerminations         = "uabridge_subscription_terminations_total"
	MetricRegistrationFailures = "uabridge_registration_failures_total"
	MetricPublishedMessages    = "uabridge_published_messages_total"
	MetricPublishFailures      = "uabridge_publish_failures_total"
	MetricPublishDropped       = "uabridge_publish_dropped_total"
	MetricPublishLatency       = "uabridge_publish_latency_seconds"
	MetricSubscriberDropped    = "uabridge_subscriber_dropped_total"
	MetricMonitoredItems       = "uabridge_monitored_items"
	MetricSubscribersConnected = "uabridge_subscribers_connected"
	MetricPublishQueueLength   = "uabridge_publish_queue_length"
	MetricLifecycleState       = "uabridge_lifecycle_state"
)
