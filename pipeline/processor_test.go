package pipeline

import (
	"errors"
	"testing"
	"time"

	"adampoller/config"
	"adampoller/modbusdev"
	"adampoller/model"
)

func testDevice() config.DeviceConfig {
	return config.DeviceConfig{
		ID:                "D1",
		RateWindowSec:     300,
		OverflowThreshold: 4294967295,
	}
}

func testChannel() config.ChannelConfig {
	return config.ChannelConfig{
		Number:        0,
		Name:          "prod_counter",
		StartRegister: 0,
		RegisterCount: 2,
		Scale:         1,
		Min:           0,
		Max:           4294967295,
	}
}

func TestSingleCounterIncrement(t *testing.T) {
	p := NewProcessor()
	dev := testDevice()
	ch := testChannel()

	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	r1 := p.Process(dev, ch, []uint16{100, 0}, 10*time.Millisecond, t0)
	if r1.RawValue != 100 || r1.Quality != model.QualityGood {
		t.Fatalf("first reading: got raw=%d quality=%s", r1.RawValue, r1.Quality)
	}
	if r1.HasRate {
		t.Fatalf("first reading should have no rate, got %v", r1.Rate)
	}

	t1 := t0.Add(time.Second)
	r2 := p.Process(dev, ch, []uint16{200, 0}, 10*time.Millisecond, t1)
	if r2.RawValue != 200 || r2.Quality != model.QualityGood {
		t.Fatalf("second reading: got raw=%d quality=%s", r2.RawValue, r2.Quality)
	}
	if !r2.HasRate || r2.Rate < 99.9 || r2.Rate > 100.1 {
		t.Fatalf("expected rate ~100.0, got %v (hasRate=%v)", r2.Rate, r2.HasRate)
	}
}

func TestCounterWrap(t *testing.T) {
	p := NewProcessor()
	dev := testDevice()
	ch := testChannel()

	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	// First reading sits exactly at overflow_threshold: flagged Overflow by
	// rule 4, independent of the wrap that follows.
	r1 := p.Process(dev, ch, []uint16{0xFFFF, 0xFFFF}, 0, t0)
	if r1.RawValue != 4294967295 || r1.Quality != model.QualityOverflow {
		t.Fatalf("pre-wrap reading: raw=%d quality=%s", r1.RawValue, r1.Quality)
	}

	t1 := t0.Add(time.Second)
	r2 := p.Process(dev, ch, []uint16{5, 0}, 0, t1)
	if !r2.HasRate || r2.Rate < 5.9 || r2.Rate > 6.1 {
		t.Fatalf("expected wrap rate ~6.0, got %v", r2.Rate)
	}
	if r2.Quality != model.QualityGood {
		t.Fatalf("expected Good quality on post-wrap raw=5, got %s", r2.Quality)
	}
}

func TestOutOfRange(t *testing.T) {
	p := NewProcessor()
	dev := testDevice()
	ch := testChannel()
	ch.Max = 1000

	r := p.Process(dev, ch, []uint16{2000, 0}, 0, time.Now())
	if r.Quality != model.QualityBad {
		t.Fatalf("expected Bad quality, got %s", r.Quality)
	}
	if !r.HasProcessedValue {
		t.Fatalf("expected processed_value to still be emitted for out-of-range")
	}
}

func TestConfigurationErrorOnZeroScale(t *testing.T) {
	p := NewProcessor()
	dev := testDevice()
	ch := testChannel()
	ch.Scale = 0

	r := p.Process(dev, ch, []uint16{100, 0}, 0, time.Now())
	if r.Quality != model.QualityConfigurationError {
		t.Fatalf("expected ConfigurationError, got %s", r.Quality)
	}
	if r.HasProcessedValue {
		t.Fatalf("expected no processed_value when scale is zero")
	}
}

func TestProcessFailureMapsTimeout(t *testing.T) {
	p := NewProcessor()
	dev := testDevice()
	ch := testChannel()

	err := &modbusdev.Failure{Kind: modbusdev.FailureTimeout, Err: errors.New("i/o timeout")}
	r := p.ProcessFailure(dev, ch, err, 0, time.Now())
	if r.Quality != model.QualityTimeout {
		t.Fatalf("expected Timeout quality, got %s", r.Quality)
	}
	if !r.Valid() {
		t.Fatalf("reading with non-Good quality and error message should be Valid()")
	}
}
