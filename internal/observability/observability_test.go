package observability

import (
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestStageWindowSnapshot(t *testing.T) {
	w := newStageWindow(8)
	w.Observe(StageOracle, 500)
	w.Observe(StageOracle, 700)
	w.Observe(StageOracle, 900)
	w.Observe("", 10)
	w.Observe(StageRoute, -1)
	w.ObserveIndicator("classification_degraded")
	w.ObserveIndicator("classification_degraded")

	snap := w.Snapshot()
	if snap.WindowSize != 8 {
		t.Fatalf("WindowSize = %d, want 8", snap.WindowSize)
	}
	if len(snap.Stages) != 1 {
		t.Fatalf("len(Stages) = %d, want 1", len(snap.Stages))
	}
	s := snap.Stages[0]
	if s.Stage != StageOracle || s.Samples != 3 {
		t.Fatalf("unexpected stage: %+v", s)
	}
	if s.LastMS != 900 || s.P50MS != 700 {
		t.Fatalf("LastMS/P50MS = %.2f/%.2f, want 900/700", s.LastMS, s.P50MS)
	}
	if s.P95MS <= 700 || s.P95MS > 900 {
		t.Fatalf("P95MS = %.2f, want (700,900]", s.P95MS)
	}
	if s.TargetP95MS != 4000 {
		t.Fatalf("TargetP95MS = %.2f, want 4000", s.TargetP95MS)
	}
	if len(snap.Indicators) != 1 || snap.Indicators[0].Count != 2 {
		t.Fatalf("Indicators = %+v, want one with count 2", snap.Indicators)
	}
}

func TestStageWindowWrapsAround(t *testing.T) {
	w := newStageWindow(2)
	for _, v := range []float64{10, 20, 30} {
		w.Observe(StageCheckout, v)
	}
	s := w.Snapshot().Stages[0]
	if s.Samples != 2 {
		t.Fatalf("Samples = %d, want 2", s.Samples)
	}
	if s.AvgMS != 25 {
		t.Fatalf("AvgMS = %.2f, want 25", s.AvgMS)
	}
}

func TestNilMetricsAreNoops(t *testing.T) {
	var m *Metrics
	m.SessionOpened()
	m.ObserveTranscript("echo")
	m.ObserveIntent("cart", "oracle")
	m.ObserveHandler("cart", true)
	m.ObserveCheckout("name", "accepted")
	m.ObserveOrder(nil)
	m.ObserveReconnect("ended")
	m.MoveSupervisor("", "active")
	m.ObserveOracleLatency(time.Second)
	m.ObserveStage(StageTurn, time.Second)
	if snap := m.Latency(); len(snap.Stages) != 0 {
		t.Fatalf("nil metrics latency = %+v, want empty", snap)
	}
}

func TestMetricsHandlerExposesInstruments(t *testing.T) {
	m := NewMetrics("voicecart_test")
	// A second instance must not collide with the first.
	_ = NewMetrics("voicecart_test")

	m.ObserveTranscript("accepted")
	m.ObserveIntent("order_completion", "override")
	m.ObserveOrder(errors.New("declined"))
	m.MoveSupervisor("", "connecting")
	m.MoveSupervisor("connecting", "active")
	m.ObserveOracleLatency(120 * time.Millisecond)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	text := string(body)

	for _, want := range []string{
		`voicecart_test_transcript_decisions_total{reason="accepted"} 1`,
		`voicecart_test_intents_total{label="order_completion",source="override"} 1`,
		`voicecart_test_orders_total{result="failed"} 1`,
		`voicecart_test_speech_sessions{state="active"} 1`,
		`voicecart_test_speech_sessions{state="connecting"} 0`,
		`voicecart_test_oracle_latency_ms_count 1`,
	} {
		if !strings.Contains(text, want) {
			t.Fatalf("metrics output missing %q", want)
		}
	}

	if got := m.Latency().Stages; len(got) != 1 || got[0].Stage != StageOracle {
		t.Fatalf("Latency stages = %+v, want oracle only", got)
	}
}
