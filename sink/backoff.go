package sink

import (
	"math"
	"math/rand"
	"time"
)

// backoffDelay returns an exponential delay with jitter for retry attempt
// n (0-indexed), capped at maxDelay, with +/-25% jitter to avoid
// synchronized retries across sinks.
func backoffDelay(base, maxDelay time.Duration, attempt int) time.Duration {
	exponent := math.Min(float64(attempt), 30)
	delay := time.Duration(float64(base) * math.Pow(2, exponent))
	if delay > maxDelay || delay <= 0 {
		delay = maxDelay
	}

	jitterFrac := 0.75 + rand.Float64()*0.5 // 0.75x..1.25x
	return time.Duration(float64(delay) * jitterFrac)
}
