package resilience

import (
	"errors"
	"fmt"
	"log/slog"
)

// ErrExhausted is returned when every backend in a [FallbackGroup] failed
// or had an open breaker.
var ErrExhausted = errors.New("resilience: all backends failed")

type member[T any] struct {
	name    string
	value   T
	breaker *CircuitBreaker
}

// FallbackGroup orders backends of one provider kind by preference. Each
// backend gets its own breaker; calls go to the first backend whose breaker
// admits them and that succeeds.
type FallbackGroup[T any] struct {
	members []member[T]
	breaker BreakerConfig
}

// NewFallbackGroup creates a group with primary as the preferred backend.
// breaker is the per-backend breaker template; its Name is overwritten.
func NewFallbackGroup[T any](primary T, name string, breaker BreakerConfig) *FallbackGroup[T] {
	g := &FallbackGroup[T]{breaker: breaker}
	g.Add(name, primary)
	return g
}

// Add appends a backend. Backends are tried in the order added.
func (g *FallbackGroup[T]) Add(name string, value T) {
	cfg := g.breaker
	cfg.Name = name
	g.members = append(g.members, member[T]{
		name:    name,
		value:   value,
		breaker: NewBreaker(cfg),
	})
}

// Do tries fn against each backend in order until one succeeds. Backends
// with open breakers are skipped without a call.
func (g *FallbackGroup[T]) Do(fn func(T) error) error {
	_, err := Call(g, func(v T) (struct{}, error) {
		return struct{}{}, fn(v)
	})
	return err
}

// Call is [FallbackGroup.Do] for functions that return a value. It is a
// package function because methods cannot introduce type parameters.
func Call[T, R any](g *FallbackGroup[T], fn func(T) (R, error)) (R, error) {
	var lastErr error
	for i := range g.members {
		m := &g.members[i]
		var out R
		err := m.breaker.Do(func() error {
			var err error
			out, err = fn(m.value)
			return err
		})
		if err == nil {
			return out, nil
		}
		lastErr = err
		if errors.Is(err, ErrOpen) {
			slog.Debug("backend skipped", "backend", m.name)
			continue
		}
		slog.Warn("backend failed", "backend", m.name, "err", err)
	}
	var zero R
	return zero, fmt.Errorf("%w: %v", ErrExhausted, lastErr)
}
