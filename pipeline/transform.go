package pipeline

import "math"

// transform applies scale/offset and rounds to decimal_places. ok is false
// when scale is zero, which the caller maps to ConfigurationError.
func transform(raw int64, scale, offset float64, decimalPlaces int) (float64, bool) {
	if scale == 0 {
		return 0, false
	}

	value := float64(raw)*scale + offset
	return roundTo(value, decimalPlaces), true
}

func roundTo(value float64, decimalPlaces int) float64 {
	if decimalPlaces <= 0 {
		return math.Round(value)
	}
	factor := math.Pow(10, float64(decimalPlaces))
	return math.Round(value*factor) / factor
}
