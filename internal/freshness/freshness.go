// Package freshness decides when cached inventory must be refetched.
package freshness

import "time"

// DefaultTTL is how long a successful refresh is trusted.
const DefaultTTL = 24 * time.Hour

// IsStale reports whether data last refreshed at last must be refreshed
// before being served at now. The zero time means no refresh has ever
// succeeded and is always stale.
func IsStale(last, now time.Time, ttl time.Duration) bool {
	if last.IsZero() {
		return true
	}
	return last.Add(ttl).Before(now)
}
