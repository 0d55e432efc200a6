package observability

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNilMetricsAreNoop(t *testing.T) {
	var m *Metrics
	m.RecordRequest("/x", "GET", 200, time.Millisecond)
	m.RecordScan("ok", time.Second, 3)
	m.RecordEscalationFired("investigation", "level_1")
	m.RecordNotification("email", false)
	m.RecordTimelineFailure("closed")
	if m.Registry() != nil {
		t.Errorf("expected nil registry for nil metrics")
	}
}

func TestRecordScanAndEscalations(t *testing.T) {
	m := NewMetrics()
	m.RecordScan("ok", 2*time.Second, 5)
	m.RecordScan("locked_out", 0, 0)
	m.RecordEscalationFired("investigation", "level_2")
	m.RecordEscalationSkipped("already_open")
	m.RecordNotification("user", true)
	m.RecordNotification("email", false)

	expected := `
# HELP escalation_scan_runs_total Escalation scanner runs by outcome
# TYPE escalation_scan_runs_total counter
escalation_scan_runs_total{outcome="locked_out"} 1
escalation_scan_runs_total{outcome="ok"} 1
# HELP escalation_cases_evaluated_total Open cases evaluated by the scanner
# TYPE escalation_cases_evaluated_total counter
escalation_cases_evaluated_total 5
# HELP escalation_notifications_total Escalation notifications dispatched by channel and outcome
# TYPE escalation_notifications_total counter
escalation_notifications_total{channel="email",outcome="failed"} 1
escalation_notifications_total{channel="user",outcome="sent"} 1
`
	if err := testutil.GatherAndCompare(m.Registry(), strings.NewReader(expected),
		"escalation_scan_runs_total", "escalation_cases_evaluated_total", "escalation_notifications_total"); err != nil {
		t.Fatalf("unexpected metrics: %v", err)
	}
	if n := testutil.CollectAndCount(m.escalationsFired); n != 1 {
		t.Errorf("expected 1 fired series, got %d", n)
	}
}

func TestHandlerServesRegistry(t *testing.T) {
	m := NewMetrics()
	m.RecordTimelineFailure("assigned")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	if rec.Code != 200 {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `timeline_write_failures_total{event_type="assigned"} 1`) {
		t.Errorf("expected timeline failure series in output")
	}
}
