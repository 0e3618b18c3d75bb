package observability

import (
	"bytes"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ghalamif/uabridge/internal/ports"
)

func newTestObs(t *testing.T) (*PromObs, *bytes.Buffer) {
	t.Helper()
	var buf bytes.Buffer
	log := logrus.New()
	log.Out = &buf
	log.Formatter = &logrus.JSONFormatter{}
	return NewPromObs(prometheus.NewRegistry(), log), &buf
}

func TestPromObsMetrics(t *testing.T) {
	obs, _ := newTestObs(t)

	obs.IncCounter(ports.MetricChangeEvents, 5)
	assert.Equal(t, 5.0, testutil.ToFloat64(obs.counters[ports.MetricChangeEvents]))

	obs.IncCounter(ports.MetricPublishDropped, 2)
	assert.Equal(t, 2.0, testutil.ToFloat64(obs.counters[ports.MetricPublishDropped]))

	obs.SetGauge(ports.MetricMonitoredItems, 4)
	assert.Equal(t, 4.0, testutil.ToFloat64(obs.gauges[ports.MetricMonitoredItems]))

	obs.ObserveLatency(ports.MetricPublishLatency, 0.5)
	h := obs.histos[ports.MetricPublishLatency].(prometheus.Collector)
	assert.Equal(t, 1, testutil.CollectAndCount(h))

	// unknown names are ignored
	obs.IncCounter("nope_total", 1)
	obs.SetGauge("nope", 1)
	obs.ObserveLatency("nope_seconds", 1)
}

func TestPromObsLogsFields(t *testing.T) {
	obs, buf := newTestObs(t)

	obs.LogError("opcua_connect_retry", errors.New("connection refused"),
		ports.Field{Key: "attempt", Value: 2})

	out := buf.String()
	require.NotEmpty(t, out)
	assert.Contains(t, out, `"msg":"opcua_connect_retry"`)
	assert.Contains(t, out, `"attempt":2`)
	assert.Contains(t, out, "connection refused")
}

func TestPromObsRegistersOnce(t *testing.T) {
	reg := prometheus.NewRegistry()
	NewPromObs(reg, logrus.New())
	assert.Panics(t, func() { NewPromObs(reg, logrus.New()) }, "second registration on the same registry must panic")
}
