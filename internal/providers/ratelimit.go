package providers

import (
	"context"
	"sync"
	"time"
)

// DefaultRequestsPerMinute applies when a provider has no rate_limit set.
const DefaultRequestsPerMinute = 60

// RateLimiter is a token bucket refilled continuously at requestsPerMinute.
// A 429 from the backend pauses the bucket for the advertised retry window.
type RateLimiter struct {
	mu sync.Mutex

	requestsPerMinute float64
	tokens            float64
	lastUpdate        time.Time
	pausedUntil       time.Time

	totalConsumed int64
	totalWaited   time.Duration
	now           func() time.Time
}

// RateLimiterStatus reports current limiter state.
type RateLimiterStatus struct {
	TokensAvailable int           `json:"tokens_available"`
	TokensLimit     int           `json:"tokens_limit"`
	TimeUntilToken  time.Duration `json:"time_until_token"`
	TotalConsumed   int64         `json:"total_consumed"`
	TotalWaited     time.Duration `json:"total_waited"`
	PausedUntil     time.Time     `json:"paused_until,omitempty"`
}

// NewRateLimiter creates a full bucket.
func NewRateLimiter(requestsPerMinute float64) *RateLimiter {
	if requestsPerMinute <= 0 {
		requestsPerMinute = DefaultRequestsPerMinute
	}
	return &RateLimiter{
		requestsPerMinute: requestsPerMinute,
		tokens:            requestsPerMinute,
		lastUpdate:        time.Now(),
		now:               time.Now,
	}
}

// Wait blocks until a token is available or ctx is done.
func (r *RateLimiter) Wait(ctx context.Context) error {
	for {
		wait, ok := r.reserve()
		if ok {
			return nil
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
			r.mu.Lock()
			r.totalWaited += wait
			r.mu.Unlock()
		}
	}
}

// TryConsume takes a token without blocking.
func (r *RateLimiter) TryConsume() bool {
	_, ok := r.reserve()
	return ok
}

// reserve takes a token if one is available; otherwise it returns how long
// until one will be.
func (r *RateLimiter) reserve() (time.Duration, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	if now.Before(r.pausedUntil) {
		return r.pausedUntil.Sub(now), false
	}
	r.refill(now)
	if r.tokens >= 1 {
		r.tokens--
		r.totalConsumed++
		return 0, true
	}
	return r.untilToken(), false
}

// Record429 drains the bucket and, when the backend sent a Retry-After,
// pauses it for that long.
func (r *RateLimiter) Record429(retryAfter time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	r.refill(now)
	r.tokens = 0
	if retryAfter > 0 {
		r.pausedUntil = now.Add(retryAfter)
	}
}

// Status returns current limiter state.
func (r *RateLimiter) Status() RateLimiterStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	r.refill(now)

	st := RateLimiterStatus{
		TokensAvailable: int(r.tokens),
		TokensLimit:     int(r.requestsPerMinute),
		TotalConsumed:   r.totalConsumed,
		TotalWaited:     r.totalWaited,
	}
	if r.tokens < 1 {
		st.TimeUntilToken = r.untilToken()
	}
	if now.Before(r.pausedUntil) {
		st.PausedUntil = r.pausedUntil
	}
	return st
}

// refill must be called with the lock held.
func (r *RateLimiter) refill(now time.Time) {
	elapsed := now.Sub(r.lastUpdate).Minutes()
	r.lastUpdate = now
	if elapsed <= 0 {
		return
	}
	r.tokens += elapsed * r.requestsPerMinute
	if r.tokens > r.requestsPerMinute {
		r.tokens = r.requestsPerMinute
	}
}

func (r *RateLimiter) untilToken() time.Duration {
	need := 1 - r.tokens
	return time.Duration(need / r.requestsPerMinute * float64(time.Minute))
}
