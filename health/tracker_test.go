package health

import (
	"testing"
	"time"

	"adampoller/model"
)

func TestUpdateTransitionsWarningThenError(t *testing.T) {
	tr := NewTracker(3)
	now := time.Now()

	tr.Register("D1", now)

	h := tr.Update("D1", Outcome{Success: false, ErrorMessage: "boom"}, now.Add(time.Second))
	if h.Status != model.StatusWarning {
		t.Fatalf("expected Warning after 1 failure, got %s", h.Status)
	}

	h = tr.Update("D1", Outcome{Success: false, ErrorMessage: "boom"}, now.Add(2*time.Second))
	if h.Status != model.StatusWarning {
		t.Fatalf("expected Warning after 2 failures, got %s", h.Status)
	}

	h = tr.Update("D1", Outcome{Success: false, ErrorMessage: "boom"}, now.Add(3*time.Second))
	if h.Status != model.StatusError {
		t.Fatalf("expected Error after 3 consecutive failures, got %s", h.Status)
	}
	if h.ConsecutiveFailures != 3 {
		t.Fatalf("expected consecutive_failures=3, got %d", h.ConsecutiveFailures)
	}

	h = tr.Update("D1", Outcome{Success: true, HasLatency: true, Latency: 10 * time.Millisecond}, now.Add(4*time.Second))
	if h.Status != model.StatusOnline {
		t.Fatalf("expected Online after success, got %s", h.Status)
	}
	if h.ConsecutiveFailures != 0 {
		t.Fatalf("expected consecutive_failures reset to 0, got %d", h.ConsecutiveFailures)
	}
	if rate, ok := h.SuccessRate(); !ok || rate <= 0 {
		t.Fatalf("expected positive success rate, got %v ok=%v", rate, ok)
	}
}

func TestTransientDisconnectScenario(t *testing.T) {
	tr := NewTracker(2)
	now := time.Now()
	tr.Register("D1", now)

	tr.Update("D1", Outcome{Success: false, ErrorMessage: "timeout"}, now.Add(100*time.Millisecond))
	tr.Update("D1", Outcome{Success: false, ErrorMessage: "timeout"}, now.Add(200*time.Millisecond))
	h := tr.Update("D1", Outcome{Success: true, HasLatency: true, Latency: 5 * time.Millisecond}, now.Add(300*time.Millisecond))

	if h.ConsecutiveFailures != 0 {
		t.Fatalf("expected consecutive_failures=0 after success, got %d", h.ConsecutiveFailures)
	}
	if h.TotalReads != 3 {
		t.Fatalf("expected total_reads=3, got %d", h.TotalReads)
	}
}

func TestEWMALatencySmoothing(t *testing.T) {
	tr := NewTracker(3)
	now := time.Now()
	tr.Register("D1", now)

	h := tr.Update("D1", Outcome{Success: true, HasLatency: true, Latency: 100 * time.Millisecond}, now)
	if h.AvgLatencyMs != 100 {
		t.Fatalf("expected first latency to seed the average, got %v", h.AvgLatencyMs)
	}

	h = tr.Update("D1", Outcome{Success: true, HasLatency: true, Latency: 200 * time.Millisecond}, now.Add(time.Second))
	want := 0.2*200 + 0.8*100
	if h.AvgLatencyMs < want-0.001 || h.AvgLatencyMs > want+0.001 {
		t.Fatalf("expected EWMA avg ~%v, got %v", want, h.AvgLatencyMs)
	}
}

func TestOfflineOnTransportNotConnected(t *testing.T) {
	tr := NewTracker(3)
	now := time.Now()
	tr.Register("D1", now)

	h := tr.Update("D1", Outcome{Success: false, ErrorMessage: "connection refused", NotConnected: true}, now.Add(time.Second))
	if h.Status != model.StatusOffline {
		t.Fatalf("expected Offline on a transport-level not-connected fault, got %s", h.Status)
	}
	if h.IsConnected {
		t.Fatalf("expected is_connected=false")
	}
}

func TestUnknownUntilFirstOutcome(t *testing.T) {
	tr := NewTracker(3)
	h := tr.Register("D1", time.Now())
	if h.Status != model.StatusUnknown {
		t.Fatalf("expected Unknown on registration, got %s", h.Status)
	}
}
