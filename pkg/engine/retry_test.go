package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNextDelayFixed(t *testing.T) {
	cfg := &RetryConfig{Strategy: RetryFixed, InitialDelay: 10 * time.Millisecond, MaxDelay: time.Second}
	assert.Equal(t, 10*time.Millisecond, nextDelay(cfg, 1))
	assert.Equal(t, 10*time.Millisecond, nextDelay(cfg, 5))
}

func TestNextDelayLinear(t *testing.T) {
	cfg := &RetryConfig{Strategy: RetryLinear, InitialDelay: 10 * time.Millisecond, MaxDelay: time.Second}
	assert.Equal(t, 10*time.Millisecond, nextDelay(cfg, 1))
	assert.Equal(t, 30*time.Millisecond, nextDelay(cfg, 3))
}

func TestNextDelayLinearCapsAtMaxDelay(t *testing.T) {
	cfg := &RetryConfig{Strategy: RetryLinear, InitialDelay: 100 * time.Millisecond, MaxDelay: 250 * time.Millisecond}
	assert.Equal(t, 250*time.Millisecond, nextDelay(cfg, 10))
}

func TestNextDelayExponential(t *testing.T) {
	cfg := &RetryConfig{Strategy: RetryExponential, InitialDelay: 10 * time.Millisecond, MaxDelay: time.Second, Multiplier: 2}
	assert.Equal(t, 10*time.Millisecond, nextDelay(cfg, 1))
	assert.Equal(t, 20*time.Millisecond, nextDelay(cfg, 2))
	assert.Equal(t, 40*time.Millisecond, nextDelay(cfg, 3))
}

func TestNextDelayExponentialCapsAtMaxDelay(t *testing.T) {
	cfg := &RetryConfig{Strategy: RetryExponential, InitialDelay: 10 * time.Millisecond, MaxDelay: 50 * time.Millisecond, Multiplier: 2}
	assert.Equal(t, 50*time.Millisecond, nextDelay(cfg, 10))
}
