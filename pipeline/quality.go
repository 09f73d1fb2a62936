package pipeline

import (
	"math"

	"adampoller/config"
	"adampoller/model"
)

// assignQuality applies the ordered validation rules; the first
// matching rule wins. transformOK is false when scale=0, which always
// wins regardless of the other checks.
func assignQuality(transformOK bool, raw int64, ch config.ChannelConfig, rate float64, hasRate bool, overflowThreshold int64) (model.Quality, string) {
	if !transformOK {
		return model.QualityConfigurationError, "scale is zero"
	}

	rawF := float64(raw)
	if rawF < ch.Min || rawF > ch.Max {
		return model.QualityBad, "raw value out of configured range"
	}

	if hasRate && ch.MaxRateOfChange > 0 && math.Abs(rate) > ch.MaxRateOfChange {
		return model.QualityUncertain, "rate of change exceeds configured maximum"
	}

	if overflowThreshold > 0 && raw >= overflowThreshold {
		return model.QualityOverflow, ""
	}

	return model.QualityGood, ""
}
