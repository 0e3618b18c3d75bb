package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
	flag "github.com/spf13/pflag"

	"github.com/ghalamif/uabridge"
	"github.com/ghalamif/uabridge/internal/ports"
)

// statsSnapshot is one scrape of the bridge's own metrics.
type statsSnapshot struct {
	State       uabridge.State
	Changes     float64
	Published   float64
	Dropped     float64
	Retries     float64
	QueueLength float64
	Subscribers float64
}

func (s statsSnapshot) String() string {
	return fmt.Sprintf("state=%s changes=%.0f published=%.0f dropped=%.0f retries=%.0f queue=%.0f subscribers=%.0f",
		s.State, s.Changes, s.Published, s.Dropped, s.Retries, s.QueueLength, s.Subscribers)
}

func statsCommand(args []string) error {
	fset := flag.NewFlagSet("stats", flag.ExitOnError)
	url := fset.String("url", "http://localhost:3000/metrics", "Prometheus metrics endpoint")
	interval := fset.Duration("interval", 2*time.Second, "Refresh interval")
	if err := fset.Parse(args); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client := &http.Client{Timeout: *interval}
	ticker := time.NewTicker(*interval)
	defer ticker.Stop()

	fmt.Printf("Streaming metrics from %s (Ctrl+C to stop)\n", *url)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			snap, err := scrape(ctx, client, *url)
			if err != nil {
				fmt.Fprintf(os.Stderr, "stats error: %v\n", err)
				continue
			}
			fmt.Printf("[%s] %s\n", time.Now().Format(time.RFC3339), snap)
		}
	}
}

func scrape(ctx context.Context, client *http.Client, url string) (statsSnapshot, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return statsSnapshot{}, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return statsSnapshot{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return statsSnapshot{}, fmt.Errorf("unexpected status %s", resp.Status)
	}
	return parseSnapshot(resp.Body)
}

// parseSnapshot reads a text exposition. Series of one family are summed
// across labels; families the bridge has not exported yet read as zero.
func parseSnapshot(r io.Reader) (statsSnapshot, error) {
	var parser expfmt.TextParser
	families, err := parser.TextToMetricFamilies(r)
	if err != nil {
		return statsSnapshot{}, fmt.Errorf("parse metrics: %w", err)
	}

	value := func(name string) float64 {
		return familyValue(families[name])
	}
	return statsSnapshot{
		State:       uabridge.State(value(ports.MetricLifecycleState)),
		Changes:     value(ports.MetricChangeEvents),
		Published:   value(ports.MetricPublishedMessages),
		Dropped:     value(ports.MetricPublishDropped),
		Retries:     value(ports.MetricConnectRetries),
		QueueLength: value(ports.MetricPublishQueueLength),
		Subscribers: value(ports.MetricSubscribersConnected),
	}, nil
}

func familyValue(mf *dto.MetricFamily) float64 {
	var sum float64
	for _, m := range mf.GetMetric() {
		switch mf.GetType() {
		case dto.MetricType_COUNTER:
			sum += m.GetCounter().GetValue()
		case dto.MetricType_GAUGE:
			sum += m.GetGauge().GetValue()
		case dto.MetricType_UNTYPED:
			sum += m.GetUntyped().GetValue()
		}
	}
	return sum
}
