package monitoring

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"adampoller/model"
	"adampoller/sink"
)

type fakeHealthSource struct {
	records []model.Health
}

func (f fakeHealthSource) GetAllHealth() []model.Health { return f.records }

type fakeSinkSource struct {
	stats sink.Stats
}

func (f fakeSinkSource) SinkStats() sink.Stats { return f.stats }

func TestCollectorCollectEmitsPerDeviceMetrics(t *testing.T) {
	health := fakeHealthSource{records: []model.Health{
		{
			DeviceID:            "D1",
			Status:              model.StatusOnline,
			ConsecutiveFailures: 0,
			TotalReads:          10,
			SuccessfulReads:     9,
			HasAvgLatencyMs:     true,
			AvgLatencyMs:        12.5,
		},
	}}
	sinkSrc := fakeSinkSource{stats: sink.Stats{QueueDepth: 3, DroppedCount: 1, LastFlushAt: time.Now()}}

	c := NewCollector(health, sinkSrc)

	registry := prometheus.NewRegistry()
	if err := registry.Register(c); err != nil {
		t.Fatalf("register: %v", err)
	}

	families, err := registry.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}

	byName := map[string]*dto.MetricFamily{}
	for _, fam := range families {
		byName[fam.GetName()] = fam
	}

	successRate, ok := byName["adampoller_device_success_rate"]
	if !ok || len(successRate.Metric) != 1 {
		t.Fatalf("expected one adampoller_device_success_rate sample, got %+v", successRate)
	}
	if got := successRate.Metric[0].GetGauge().GetValue(); got != 90 {
		t.Fatalf("expected success rate 90, got %v", got)
	}

	depth, ok := byName["adampoller_sink_queue_depth"]
	if !ok || len(depth.Metric) != 1 || depth.Metric[0].GetGauge().GetValue() != 3 {
		t.Fatalf("expected sink queue depth 3, got %+v", depth)
	}
}

func TestCollectorSkipsSuccessRateWhenNoReads(t *testing.T) {
	health := fakeHealthSource{records: []model.Health{{DeviceID: "D2", Status: model.StatusUnknown}}}
	sinkSrc := fakeSinkSource{}

	c := NewCollector(health, sinkSrc)
	registry := prometheus.NewRegistry()
	if err := registry.Register(c); err != nil {
		t.Fatalf("register: %v", err)
	}

	families, err := registry.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	for _, fam := range families {
		if fam.GetName() == "adampoller_device_success_rate" && len(fam.Metric) != 0 {
			t.Fatalf("expected no success rate sample for a device with zero reads")
		}
	}
}
