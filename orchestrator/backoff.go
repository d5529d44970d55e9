package orchestrator

import (
	"time"

	"github.com/zaugust4891/ad-image-generator/clockrand"
)

const (
	maxProviderAttempts = 5
	maxBackoff          = 60 * time.Second
)

// backoffDelay computes min(base*factor^attempt + U(0,jitterMs), 60s),
// the retry formula from spec §4.7, attempt being zero-indexed (the
// delay before the *second* call).
func backoffDelay(rng *clockrand.Source, baseMs int, factor float64, jitterMs, attempt int) time.Duration {
	base := float64(baseMs) * pow(factor, attempt)
	delay := time.Duration(base) * time.Millisecond
	delay += rng.DurationJitter(time.Duration(jitterMs) * time.Millisecond)
	if delay > maxBackoff {
		delay = maxBackoff
	}
	return delay
}

func pow(base float64, exp int) float64 {
	result := 1.0
	for i := 0; i < exp; i++ {
		result *= base
	}
	return result
}
