package application

import (
	"time"

	"github.com/puzpuzpuz/xsync/v4"
	"golang.org/x/time/rate"
)

// VoterLimiter paces votes per voter token with one token bucket each.
type VoterLimiter struct {
	limit    rate.Limit
	burst    int
	limiters *xsync.Map[string, *rate.Limiter]
}

// NewVoterLimiter allows perMinute votes per voter with the given burst.
// A non-positive perMinute returns nil, which allows everything.
func NewVoterLimiter(perMinute float64, burst int) *VoterLimiter {
	if perMinute <= 0 {
		return nil
	}
	if burst < 1 {
		burst = 1
	}
	return &VoterLimiter{
		limit:    rate.Limit(perMinute / time.Minute.Seconds()),
		burst:    burst,
		limiters: xsync.NewMap[string, *rate.Limiter](),
	}
}

// Allow reports whether token may vote now. Anonymous votes (empty token)
// are not paced.
func (l *VoterLimiter) Allow(token string) bool {
	if l == nil || token == "" {
		return true
	}
	lim, ok := l.limiters.Load(token)
	if !ok {
		lim, _ = l.limiters.LoadOrStore(token, rate.NewLimiter(l.limit, l.burst))
	}
	return lim.Allow()
}

// Forget drops a voter's bucket, e.g. when its session ends.
func (l *VoterLimiter) Forget(token string) {
	if l == nil {
		return
	}
	l.limiters.Delete(token)
}
