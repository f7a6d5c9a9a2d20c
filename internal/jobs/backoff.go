package jobs

import (
	"fmt"
	"time"
)

// BackoffType selects how the retry delay grows.
type BackoffType string

const (
	BackoffFixed       BackoffType = "fixed"
	BackoffExponential BackoffType = "exponential"
)

// MaxBackoff caps any computed retry delay.
const MaxBackoff = 10 * time.Minute

// Backoff computes the delay before a failed job runs again.
type Backoff struct {
	Type BackoffType   `json:"type"`
	Base time.Duration `json:"base"`
}

// ParseBackoffType validates a backoff name. Empty means fixed.
func ParseBackoffType(s string) (BackoffType, error) {
	switch BackoffType(s) {
	case "", BackoffFixed:
		return BackoffFixed, nil
	case BackoffExponential:
		return BackoffExponential, nil
	}
	return "", fmt.Errorf("unknown backoff type %q", s)
}

// Delay returns the wait after the given 1-based failed attempt.
func (b Backoff) Delay(attempt int) time.Duration {
	if b.Base <= 0 {
		return 0
	}
	if attempt < 1 {
		attempt = 1
	}
	d := b.Base
	if b.Type == BackoffExponential {
		for i := 1; i < attempt; i++ {
			d *= 2
			if d >= MaxBackoff {
				return MaxBackoff
			}
		}
	}
	if d > MaxBackoff {
		return MaxBackoff
	}
	return d
}
