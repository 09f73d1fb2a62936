// Package sink buffers processed readings and flushes them in batches to
// an external time-series collaborator, with bounded retry and a hard
// queue cap.
package sink

import (
	"time"

	"adampoller/model"
)

// Record is one row destined for the time-series store: measurement name,
// tags, fields, and a millisecond-precision timestamp.
type Record struct {
	Measurement    string
	Tags           map[string]model.TagValue
	RawValue       int64
	ProcessedValue float64
	HasRate        bool
	Rate           float64
	Timestamp      time.Time
}

const defaultMeasurement = "adam_counters"

// FromReading builds a sink Record from a processed Reading, folding in
// device_id, channel, and quality as additional tags and falling back to
// the raw value when no processed value was produced.
func FromReading(r model.Reading) Record {
	tags := make(map[string]model.TagValue, len(r.Tags)+3)
	for k, v := range r.Tags {
		tags[k] = v
	}
	tags["device_id"] = model.StringTag(r.DeviceID)
	tags["channel"] = model.NumberTag(float64(r.Channel))
	tags["quality"] = model.StringTag(r.Quality.String())

	processed := float64(r.RawValue)
	if r.HasProcessedValue {
		processed = r.ProcessedValue
	}

	rec := Record{
		Measurement:    defaultMeasurement,
		Tags:           tags,
		RawValue:       r.RawValue,
		ProcessedValue: processed,
		Timestamp:      r.Timestamp,
	}
	if r.HasRate {
		rec.HasRate = true
		rec.Rate = r.Rate
	}
	return rec
}

// Backend is the external time-series collaborator the sink flushes to.
type Backend interface {
	WriteBatch(records []Record) error
	Ping() error
}
