package tail

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNewMetrics_Registration(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	// labelled metrics only appear once a series exists
	m.ParseFailures.WithLabelValues("MALFORMED_SHAPE")
	m.AlertsFired.WithLabelValues("error")

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}

	expected := map[string]bool{
		"loglens_tail_lines_total":            false,
		"loglens_tail_bytes_total":            false,
		"loglens_tail_records_total":          false,
		"loglens_tail_parse_failures_total":   false,
		"loglens_tail_alerts_total":           false,
		"loglens_tail_callback_errors_total":  false,
		"loglens_tail_webhooks_dropped_total": false,
		"loglens_tail_poll_duration_seconds":  false,
	}
	for _, f := range families {
		if _, ok := expected[f.GetName()]; ok {
			expected[f.GetName()] = true
		}
	}
	for name, found := range expected {
		if !found {
			t.Errorf("metric %q not registered", name)
		}
	}
}

func TestNewMetrics_DoubleRegisterPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	NewMetrics(reg)
	defer func() {
		if recover() == nil {
			t.Error("expected panic on duplicate registration")
		}
	}()
	NewMetrics(reg)
}

func TestTailer_PollUpdatesMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	tl, path := newTestTailer(t, "", WithMetrics(m))

	appendTo(t, path, infoLine+errLine)
	if _, err := tl.Poll(); err != nil {
		t.Fatal(err)
	}

	if v := testutil.ToFloat64(m.LinesRead); v != 2 {
		t.Errorf("lines = %v, want 2", v)
	}
	if v := testutil.ToFloat64(m.BytesRead); v != float64(len(infoLine)+len(errLine)) {
		t.Errorf("bytes = %v, want %d", v, len(infoLine)+len(errLine))
	}
	if v := testutil.ToFloat64(m.AlertsFired.WithLabelValues("error")); v != 1 {
		t.Errorf("alerts = %v, want 1", v)
	}
	if n := testutil.CollectAndCount(m.PollDuration); n != 1 {
		t.Errorf("poll duration series = %d, want 1", n)
	}
}
