package alerts

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// alertRateWindow is the fixed window used by every rate-limited sender:
// at most one delivery per fingerprint per 600 seconds (spec.md §4.4, §8).
const alertRateWindow = 600 * time.Second

// fingerprintLimiter hands out one token-bucket limiter per fingerprint,
// each allowing a single event per alertRateWindow and never accumulating
// a burst beyond 1 — exactly "at most once per 600s window" rather than a
// smoothed rate.
type fingerprintLimiter struct {
	limiters sync.Map // string -> *rate.Limiter
}

func newFingerprintLimiter() *fingerprintLimiter {
	return &fingerprintLimiter{}
}

// allow reports whether a delivery for key is permitted right now. Callers
// that get false must return ErrRateLimited rather than performing I/O.
func (f *fingerprintLimiter) allow(key string) bool {
	v, _ := f.limiters.LoadOrStore(key, rate.NewLimiter(rate.Every(alertRateWindow), 1))
	return v.(*rate.Limiter).Allow()
}
