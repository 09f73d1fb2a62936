package pipeline

import (
	"time"

	"adampoller/config"
	"adampoller/modbusdev"
	"adampoller/model"
)

// Processor decodes raw register reads into Reading records. It owns the
// rate-history state per (device, channel); callers get one Processor per
// service instance and share it across devices.
type Processor struct {
	history *rateHistory
}

// NewProcessor creates a Processor with empty rate history.
func NewProcessor() *Processor {
	return &Processor{history: newRateHistory()}
}

// Process turns a successful register read into a Reading.
func (p *Processor) Process(dev config.DeviceConfig, ch config.ChannelConfig, regs []uint16, duration time.Duration, now time.Time) model.Reading {
	raw := decodeRegisters(regs)

	processed, transformOK := transform(raw, ch.Scale, ch.Offset, ch.DecimalPlaces)
	rate, hasRate := p.history.observe(dev.ID, ch.Number, now, raw, dev.RateWindow())

	quality, errMsg := assignQuality(transformOK, raw, ch, rate, hasRate, dev.OverflowThreshold)

	reading := model.Reading{
		DeviceID:            dev.ID,
		Channel:             ch.Number,
		Timestamp:           now,
		AcquisitionDuration: duration,
		RawValue:            raw,
		Quality:             quality,
		Unit:                ch.Unit,
		Tags:                enrichTags(dev, ch, now),
		ErrorMessage:        errMsg,
	}

	if transformOK {
		reading.HasProcessedValue = true
		reading.ProcessedValue = processed
	}
	if hasRate {
		reading.HasRate = true
		reading.Rate = rate
	}

	return reading
}

// ProcessFailure turns a failed read into a Reading carrying no processed
// value. The caller must not invoke this for a cancellation failure; a
// cancelled acquisition produces no reading at all.
func (p *Processor) ProcessFailure(dev config.DeviceConfig, ch config.ChannelConfig, err error, duration time.Duration, now time.Time) model.Reading {
	quality := model.QualityDeviceFailure
	if modbusdev.IsTimeout(err) {
		quality = model.QualityTimeout
	}

	return model.Reading{
		DeviceID:            dev.ID,
		Channel:             ch.Number,
		Timestamp:           now,
		AcquisitionDuration: duration,
		Quality:             quality,
		Unit:                ch.Unit,
		Tags:                enrichTags(dev, ch, now),
		ErrorMessage:        err.Error(),
	}
}

// ResetChannel drops the rate history for one channel, used by the
// registry on a hot config update that changes register layout or scale.
func (p *Processor) ResetChannel(deviceID string, channel int) {
	p.history.reset(deviceID, channel)
}

// RemoveDevice drops all rate history for a removed device.
func (p *Processor) RemoveDevice(deviceID string) {
	p.history.removeDevice(deviceID)
}
