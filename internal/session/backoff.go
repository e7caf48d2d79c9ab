package session

import (
	"math/rand/v2"
	"time"
)

// backoff returns min(base * 2^attempt + jitter, ceiling), with jitter drawn
// uniformly from [0, maxJitter).
func backoff(attempt int, base, maxJitter, ceiling time.Duration) time.Duration {
	attempt = min(max(attempt, 0), 30)

	d := base << attempt
	if d < base || d > ceiling {
		return ceiling
	}
	if maxJitter > 0 {
		d += rand.N(maxJitter)
	}
	return min(d, ceiling)
}
