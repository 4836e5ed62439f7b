// Package resilience is an optional circuit-breaker seam around state
// invocation, adapted from the teacher's pkg/resilience circuit breaker
// (sony/gobreaker wrapped in a keyed registry).
package resilience

import (
	"sync"
	"time"

	"github.com/sony/gobreaker"
)

// Config configures every breaker a Gate lazily creates.
type Config struct {
	MaxRequests  uint32
	Interval     time.Duration
	Timeout      time.Duration
	FailureRatio float64
	MinRequests  uint32
}

// DefaultConfig mirrors the teacher's DefaultCircuitBreakerConfig.
func DefaultConfig() Config {
	return Config{
		MaxRequests:  3,
		Interval:     30 * time.Second,
		Timeout:      30 * time.Second,
		FailureRatio: 0.5,
		MinRequests:  5,
	}
}

// Gate is a registry of per-key circuit breakers, satisfying
// engine.BreakerGate. Keys are "workflowName:stateName".
type Gate struct {
	mu       sync.RWMutex
	breakers map[string]*gobreaker.CircuitBreaker
	cfg      Config
}

// NewGate creates a Gate whose breakers all share cfg.
func NewGate(cfg Config) *Gate {
	return &Gate{breakers: make(map[string]*gobreaker.CircuitBreaker), cfg: cfg}
}

func (g *Gate) breaker(key string) *gobreaker.CircuitBreaker {
	g.mu.RLock()
	b, ok := g.breakers[key]
	g.mu.RUnlock()
	if ok {
		return b
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if b, ok = g.breakers[key]; ok {
		return b
	}
	b = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        key,
		MaxRequests: g.cfg.MaxRequests,
		Interval:    g.cfg.Interval,
		Timeout:     g.cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < g.cfg.MinRequests {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= g.cfg.FailureRatio
		},
	})
	g.breakers[key] = b
	return b
}

// Execute runs fn through the breaker registered for key.
func (g *Gate) Execute(key string, fn func() error) error {
	_, err := g.breaker(key).Execute(func() (interface{}, error) {
		return nil, fn()
	})
	return err
}

// State returns the current state of the breaker for key, for diagnostics.
func (g *Gate) State(key string) gobreaker.State {
	return g.breaker(key).State()
}
