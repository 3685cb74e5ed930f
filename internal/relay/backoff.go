package relay

import "time"

// Backoff returns the wait after the attempts-th consecutive relay failure:
// min(base * 2^(attempts-1), max). It is zero for attempts < 1.
func Backoff(attempts int, base, max time.Duration) time.Duration {
	if attempts < 1 || base <= 0 {
		return 0
	}
	d := base
	for i := 1; i < attempts; i++ {
		if d >= max/2 {
			return max
		}
		d *= 2
	}
	if d > max {
		return max
	}
	return d
}
