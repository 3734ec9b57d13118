package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hireloop-ai/hireloop/internal/clock"
)

// defaultReapGrace is how long a handle outlives its access window before
// the reaper collects it, terminal or not.
const defaultReapGrace = 30 * time.Minute

// RegistryOption configures a [Registry].
type RegistryOption func(*Registry)

// WithReapGrace overrides how long handles are kept past valid_until.
func WithReapGrace(d time.Duration) RegistryOption {
	return func(r *Registry) { r.grace = d }
}

// Registry is the in-memory index of live session handles. Reads are
// lock-free; inserts are compare-and-swap, so two concurrent redemptions of
// the same token converge on one handle.
type Registry struct {
	clk     clock.Clock
	grace   time.Duration
	handles sync.Map // uuid.UUID -> *Handle
}

// NewRegistry creates an empty registry.
func NewRegistry(clk clock.Clock, opts ...RegistryOption) *Registry {
	r := &Registry{clk: clk, grace: defaultReapGrace}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Get returns the handle for id when present.
func (r *Registry) Get(id uuid.UUID) (*Handle, bool) {
	v, ok := r.handles.Load(id)
	if !ok {
		return nil, false
	}
	return v.(*Handle), true
}

// LoadOrStore inserts h unless a handle for its id already exists, in which
// case the existing one is returned, loaded=true, and h is closed.
func (r *Registry) LoadOrStore(h *Handle) (*Handle, bool) {
	v, loaded := r.handles.LoadOrStore(h.ID(), h)
	if loaded {
		h.Close()
	}
	return v.(*Handle), loaded
}

// ByInterview scans for the handle bound to interviewID. Redemption uses it
// to resume a session when the interview row's session id is already set
// but the caller raced the insert.
func (r *Registry) ByInterview(interviewID uuid.UUID) (*Handle, bool) {
	var found *Handle
	r.handles.Range(func(_, v any) bool {
		h := v.(*Handle)
		if h.InterviewID() == interviewID {
			found = h
			return false
		}
		return true
	})
	return found, found != nil
}

// Remove closes and drops the handle for id.
func (r *Registry) Remove(id uuid.UUID) {
	if v, ok := r.handles.LoadAndDelete(id); ok {
		v.(*Handle).Close()
	}
}

// Len counts registered handles.
func (r *Registry) Len() int {
	n := 0
	r.handles.Range(func(_, _ any) bool { n++; return true })
	return n
}

// Start runs the reaper until ctx is done, sweeping at interval.
func (r *Registry) Start(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				r.Reap(ctx)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Reap removes handles whose sessions are terminal, and any handle that
// outlived its access window by the grace period.
func (r *Registry) Reap(ctx context.Context) {
	now := r.clk.Now()
	r.handles.Range(func(k, v any) bool {
		h := v.(*Handle)

		expired := !h.ValidUntil().IsZero() && now.After(h.ValidUntil().Add(r.grace))
		terminal := false
		if !expired {
			snap, err := h.Snapshot(ctx)
			terminal = err == nil && snap.Terminal()
			if err != nil {
				// Mailbox already gone; collect it.
				terminal = true
			}
		}
		if !expired && !terminal {
			return true
		}

		r.handles.Delete(k)
		h.Close()
		slog.Debug("session reaped",
			"session_id", h.ID(), "expired", expired, "terminal", terminal)
		return true
	})
}
