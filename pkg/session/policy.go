package session

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// ReconnectPolicy decides how long to wait before the next reconnect attempt.
type ReconnectPolicy interface {
	Delay(retryCount int) time.Duration
}

// FixedDelayPolicy waits the same interval before every attempt.
type FixedDelayPolicy struct {
	Interval time.Duration
}

func (p FixedDelayPolicy) Delay(int) time.Duration {
	return p.Interval
}

// ExponentialPolicy doubles the delay on every attempt up to Max.
type ExponentialPolicy struct {
	Base time.Duration
	Max  time.Duration
}

func (p ExponentialPolicy) Delay(retryCount int) time.Duration {
	if retryCount < 0 {
		retryCount = 0
	}
	if retryCount > 30 {
		retryCount = 30
	}
	delay := float64(p.Base) * math.Pow(2, float64(retryCount))
	if p.Max > 0 && delay > float64(p.Max) {
		return p.Max
	}
	return time.Duration(delay)
}

// Policy names accepted by NewReconnectPolicy.
const (
	PolicyFixed       = "fixed"
	PolicyExponential = "exponential"
)

// NewReconnectPolicy builds a policy by name.
func NewReconnectPolicy(name string, base, max time.Duration) (ReconnectPolicy, error) {
	if base <= 0 {
		return nil, fmt.Errorf("reconnect delay must be positive, got %s", base)
	}
	switch name {
	case "", PolicyFixed:
		return FixedDelayPolicy{Interval: base}, nil
	case PolicyExponential:
		if max > 0 && max < base {
			return nil, fmt.Errorf("max reconnect delay %s is below base %s", max, base)
		}
		return ExponentialPolicy{Base: base, Max: max}, nil
	default:
		return nil, fmt.Errorf("unknown reconnect policy %q", name)
	}
}

// CrashClassifier matches engine errors that indicate a transient browser
// crash worth an immediate retry.
type CrashClassifier struct {
	patterns []string
}

// NewCrashClassifier returns a classifier with the known crash signatures.
func NewCrashClassifier() *CrashClassifier {
	return &CrashClassifier{
		patterns: []string{
			"target closed",
			"session closed",
			"protocol error",
			"browser has disconnected",
			"websocket: close",
			"connection reset",
			"econnreset",
			"execution context was destroyed",
			"navigation failed because browser has disconnected",
			"crash",
		},
	}
}

// IsTransient reports whether err looks like a transient crash.
func (c *CrashClassifier) IsTransient(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, p := range c.patterns {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}
