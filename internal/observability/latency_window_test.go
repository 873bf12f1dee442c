package observability

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func TestLatencyWindowSnapshot(t *testing.T) {
	w := newLatencyWindow(8)
	w.Observe("triage", 500)
	w.Observe("triage", 700)
	w.Observe("triage", 900)
	w.ObserveIndicator("emergency_bypass")
	w.ObserveIndicator("emergency_bypass")

	snap := w.Snapshot()
	if snap.WindowSize != 8 {
		t.Fatalf("WindowSize = %d, want 8", snap.WindowSize)
	}
	if len(snap.Flows) != 1 {
		t.Fatalf("len(Flows) = %d, want 1", len(snap.Flows))
	}
	s := snap.Flows[0]
	if s.Flow != "triage" {
		t.Fatalf("Flow = %q, want %q", s.Flow, "triage")
	}
	if s.Samples != 3 {
		t.Fatalf("Samples = %d, want 3", s.Samples)
	}
	if s.LastMS != 900 {
		t.Fatalf("LastMS = %.2f, want 900", s.LastMS)
	}
	if s.P50MS != 700 {
		t.Fatalf("P50MS = %.2f, want 700", s.P50MS)
	}
	if s.P95MS <= 700 || s.P95MS > 900 {
		t.Fatalf("P95MS = %.2f, want (700,900]", s.P95MS)
	}
	if s.TargetP95MS != 6000 {
		t.Fatalf("TargetP95MS = %.2f, want 6000", s.TargetP95MS)
	}
	if len(snap.Indicators) != 1 || snap.Indicators[0].Count != 2 {
		t.Fatalf("Indicators = %+v, want emergency_bypass x2", snap.Indicators)
	}
}

func TestLatencyWindowWrapsAround(t *testing.T) {
	w := newLatencyWindow(2)
	w.Observe("intake", 100)
	w.Observe("intake", 200)
	w.Observe("intake", 300)

	snap := w.Snapshot()
	if got := snap.Flows[0].Samples; got != 2 {
		t.Fatalf("Samples = %d, want 2", got)
	}
	if got := snap.Flows[0].AvgMS; got != 250 {
		t.Fatalf("AvgMS = %.2f, want 250", got)
	}
}

func TestMetricsRecordAndNilSafe(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics("careflow_test", reg)
	m.IncEscalation("immediate")
	m.IncEscalation("immediate")
	m.IncTriageLevel(3)
	m.ObserveModelLatency("general_chat", 1200*time.Millisecond)
	m.SetActiveSessions(2)
	m.DecActiveSessions()

	if got := counterValue(t, m.Escalations.WithLabelValues("immediate")); got != 2 {
		t.Fatalf("escalations = %v, want 2", got)
	}
	if got := counterValue(t, m.TriageLevels.WithLabelValues("3")); got != 1 {
		t.Fatalf("triage level 3 = %v, want 1", got)
	}
	var gauge dto.Metric
	if err := m.ActiveSessions.Write(&gauge); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if got := gauge.GetGauge().GetValue(); got != 1 {
		t.Fatalf("active sessions = %v, want 1", got)
	}
	if snap := m.LatencySnapshot(); len(snap.Flows) != 1 || snap.Flows[0].LastMS != 1200 {
		t.Fatalf("LatencySnapshot() = %+v", snap)
	}

	var nilMetrics *Metrics
	nilMetrics.IncFlowMessage("intake")
	nilMetrics.DecActiveSessions()
	nilMetrics.ObserveModelLatency("intake", time.Second)
	if snap := nilMetrics.LatencySnapshot(); len(snap.Flows) != 0 {
		t.Fatalf("nil LatencySnapshot() = %+v, want empty", snap)
	}
}

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var out dto.Metric
	if err := c.Write(&out); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	return out.GetCounter().GetValue()
}
