package session

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFixedDelayPolicy(t *testing.T) {
	p := FixedDelayPolicy{Interval: 5 * time.Second}
	for _, n := range []int{0, 1, 7, 100} {
		assert.Equal(t, 5*time.Second, p.Delay(n))
	}
}

func TestExponentialPolicy(t *testing.T) {
	p := ExponentialPolicy{Base: time.Second, Max: 10 * time.Second}

	assert.Equal(t, time.Second, p.Delay(0))
	assert.Equal(t, 2*time.Second, p.Delay(1))
	assert.Equal(t, 8*time.Second, p.Delay(3))
	assert.Equal(t, 10*time.Second, p.Delay(4))
	assert.Equal(t, 10*time.Second, p.Delay(1000))
	assert.Equal(t, time.Second, p.Delay(-3))
}

func TestNewReconnectPolicy(t *testing.T) {
	tests := []struct {
		name    string
		policy  string
		base    time.Duration
		max     time.Duration
		want    ReconnectPolicy
		wantErr bool
	}{
		{"default is fixed", "", time.Second, 0, FixedDelayPolicy{Interval: time.Second}, false},
		{"fixed", PolicyFixed, 3 * time.Second, 0, FixedDelayPolicy{Interval: 3 * time.Second}, false},
		{"exponential", PolicyExponential, time.Second, time.Minute, ExponentialPolicy{Base: time.Second, Max: time.Minute}, false},
		{"max below base", PolicyExponential, time.Minute, time.Second, nil, true},
		{"zero delay", PolicyFixed, 0, 0, nil, true},
		{"unknown", "linear", time.Second, 0, nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NewReconnectPolicy(tt.policy, tt.base, tt.max)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCrashClassifier(t *testing.T) {
	c := NewCrashClassifier()

	assert.True(t, c.IsTransient(errors.New("Protocol error (Runtime.callFunctionOn): Target closed.")))
	assert.True(t, c.IsTransient(errors.New("read tcp: ECONNRESET")))
	assert.True(t, c.IsTransient(errors.New("page crashed")))
	assert.False(t, c.IsTransient(errors.New("invalid profile directory")))
	assert.False(t, c.IsTransient(nil))
}
