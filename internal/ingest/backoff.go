package ingest

import (
	"math/rand/v2"
	"time"
)

// calcBackoff returns the delay before retry n: initial doubled per
// consecutive error, capped at max, plus up to 25% jitter.
func calcBackoff(n int, initial, max time.Duration) time.Duration {
	if n <= 0 || initial <= 0 {
		return 0
	}
	d := initial
	for i := 1; i < n && d < max; i++ {
		d *= 2
	}
	if d > max {
		d = max
	}
	if jitter := int64(d / 4); jitter > 0 {
		d += time.Duration(rand.Int64N(jitter + 1))
	}
	if d > max {
		d = max
	}
	return d
}
