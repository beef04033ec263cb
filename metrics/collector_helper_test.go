package metrics

import (
	"testing"

	dto "github.com/prometheus/client_model/go"

	"github.com/prometheus/client_golang/prometheus"
)

type collectedMetric struct {
	labels map[string]string
	value  float64
}

// collectInto drains a prometheus.Collector into plain (labels, value)
// pairs so tests can assert on gauge values without standing up a full
// registry.
func collectInto(t *testing.T, c prometheus.Collector, out chan<- collectedMetric) {
	t.Helper()
	raw := make(chan prometheus.Metric, 16)
	go func() {
		c.Collect(raw)
		close(raw)
	}()
	for m := range raw {
		var pb dto.Metric
		if err := m.Write(&pb); err != nil {
			t.Fatalf("writing metric: %v", err)
		}
		labels := make(map[string]string, len(pb.GetLabel()))
		for _, l := range pb.GetLabel() {
			labels[l.GetName()] = l.GetValue()
		}
		var v float64
		switch {
		case pb.Gauge != nil:
			v = pb.Gauge.GetValue()
		case pb.Counter != nil:
			v = pb.Counter.GetValue()
		}
		out <- collectedMetric{labels: labels, value: v}
	}
	close(out)
}
