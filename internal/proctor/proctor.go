// Package proctor runs the per-session integrity loop: it classifies
// detector output into verdicts, debounces them into rate-limited
// warnings, snapshots the offending frame, and feeds the session's warning
// count. The loop is single-threaded per session; frames arriving faster
// than it can process are skipped by staleness.
package proctor

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"log/slog"
	"path"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hireloop-ai/hireloop/internal/clock"
	"github.com/hireloop-ai/hireloop/internal/session"
	"github.com/hireloop-ai/hireloop/internal/storage"
	"github.com/hireloop-ai/hireloop/pkg/provider/vision"
)

const (
	defaultHold  = 2 * time.Second
	defaultDedup = 10 * time.Second

	// defaultStaleAfter is how far behind a frame may be before the loop
	// skips it instead of running detection.
	defaultStaleAfter = 500 * time.Millisecond

	// failureLimit is how many consecutive detector failures degrade the
	// loop.
	failureLimit = 3

	snapshotDir = "snapshots"
)

// WarningEvent is one emitted integrity warning.
type WarningEvent struct {
	ID          uuid.UUID
	SessionID   uuid.UUID
	Kind        Kind
	At          time.Time
	SnapshotRef string
}

// Sink receives emitted warnings for persistence. May be nil.
type Sink interface {
	Record(ctx context.Context, w WarningEvent) error
}

// Frame is one camera frame entering the loop. JPEG may carry the already
// encoded bytes; when nil the snapshot is encoded from Image on demand.
type Frame struct {
	Image image.Image
	JPEG  []byte
	At    time.Time
}

// Config wires a Loop.
type Config struct {
	Detector vision.Detector

	// Fallback is tried when the primary detector fails on a frame. May be
	// nil.
	Fallback vision.Detector

	Store   *storage.Store
	Session *session.Handle
	Clock   clock.Clock
	Sink    Sink

	Hold       time.Duration
	Dedup      time.Duration
	StaleAfter time.Duration
}

// Loop is the per-session proctoring pipeline.
type Loop struct {
	cfg Config

	mu         sync.Mutex
	classifier classifier
	debounce   *debouncer
	failures   int
	degraded   bool
	warnings   []WarningEvent
}

// NewLoop builds a Loop with the contract defaults.
func NewLoop(cfg Config) *Loop {
	if cfg.Clock == nil {
		cfg.Clock = clock.System{}
	}
	if cfg.Hold == 0 {
		cfg.Hold = defaultHold
	}
	if cfg.Dedup == 0 {
		cfg.Dedup = defaultDedup
	}
	if cfg.StaleAfter == 0 {
		cfg.StaleAfter = defaultStaleAfter
	}
	return &Loop{cfg: cfg, debounce: newDebouncer(cfg.Hold, cfg.Dedup)}
}

// Run consumes frames until the channel closes or ctx is done. The
// producer paces the stream; the loop only ever drops by staleness.
func (l *Loop) Run(ctx context.Context, frames <-chan Frame) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case f, ok := <-frames:
			if !ok {
				return nil
			}
			l.Process(ctx, f)
		}
	}
}

// Process runs one frame through detect, classify, debounce, snapshot.
// Detector errors drop the frame; they never surface to the caller.
func (l *Loop) Process(ctx context.Context, f Frame) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.cfg.Clock.Now()
	if !f.At.IsZero() && now.Sub(f.At) > l.cfg.StaleAfter {
		return
	}

	dets, err := l.detect(ctx, f.Image)
	if err != nil {
		l.failures++
		slog.Warn("detector failed, frame dropped",
			"session_id", l.cfg.Session.ID(), "failures", l.failures, "err", err)
		if l.failures >= failureLimit && !l.degraded {
			l.degraded = true
			slog.Error("proctoring degraded",
				"session_id", l.cfg.Session.ID(), "consecutive_failures", l.failures)
		}
		return
	}
	l.failures = 0

	bounds := image.Rectangle{}
	if f.Image != nil {
		bounds = f.Image.Bounds()
	}
	verdict := l.classifier.classify(dets, bounds, now)
	if !l.debounce.observe(verdict, now) {
		return
	}
	l.emit(ctx, verdict, now, &f)
}

// Signal injects a browser- or relay-originated warning (tab switch, noise
// burst, multiple speakers) into the same rate-limited stream. No frame is
// attached.
func (l *Loop) Signal(ctx context.Context, kind Kind) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.cfg.Clock.Now()
	if !l.debounce.allow(kind, now) {
		return
	}
	l.emit(ctx, kind, now, nil)
}

// Degraded reports whether the detector failure budget was spent.
func (l *Loop) Degraded() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.degraded
}

// Warnings returns the warnings emitted so far, in emission order.
func (l *Loop) Warnings() []WarningEvent {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]WarningEvent(nil), l.warnings...)
}

// detect runs the primary detector and falls back when configured.
func (l *Loop) detect(ctx context.Context, frame image.Image) ([]vision.Detection, error) {
	dets, err := l.cfg.Detector.Detect(ctx, frame)
	if err == nil {
		return dets, nil
	}
	if l.cfg.Fallback == nil {
		return nil, err
	}
	dets, ferr := l.cfg.Fallback.Detect(ctx, frame)
	if ferr != nil {
		return nil, fmt.Errorf("primary: %w (fallback: %v)", err, ferr)
	}
	return dets, nil
}

// emit writes the snapshot, records the warning, and bumps the session's
// warning count. Persistence failures are logged, never fatal.
func (l *Loop) emit(ctx context.Context, kind Kind, now time.Time, f *Frame) {
	w := WarningEvent{
		ID:        uuid.New(),
		SessionID: l.cfg.Session.ID(),
		Kind:      kind,
		At:        now,
	}

	if f != nil && l.cfg.Store != nil {
		if ref, err := l.snapshot(f, w.ID); err != nil {
			slog.Warn("snapshot failed", "session_id", w.SessionID, "kind", kind, "err", err)
		} else {
			w.SnapshotRef = ref
		}
	}

	l.warnings = append(l.warnings, w)
	if err := l.cfg.Session.Do(ctx, func(s *session.Session) { s.WarningCount++ }); err != nil {
		slog.Warn("warning count update failed", "session_id", w.SessionID, "err", err)
	}
	if l.cfg.Sink != nil {
		if err := l.cfg.Sink.Record(ctx, w); err != nil {
			slog.Warn("warning persistence failed", "session_id", w.SessionID, "err", err)
		}
	}
	slog.Info("proctoring warning",
		"session_id", w.SessionID, "kind", kind, "snapshot", w.SnapshotRef)
}

// snapshot stores the offending frame as a JPEG keyed by warning id.
func (l *Loop) snapshot(f *Frame, warningID uuid.UUID) (string, error) {
	data := f.JPEG
	if data == nil {
		if f.Image == nil {
			return "", nil
		}
		var buf bytes.Buffer
		if err := jpeg.Encode(&buf, f.Image, &jpeg.Options{Quality: 80}); err != nil {
			return "", fmt.Errorf("proctor: encode snapshot: %w", err)
		}
		data = buf.Bytes()
	}
	ref := path.Join(snapshotDir, l.cfg.Session.ID().String(), warningID.String()+".jpg")
	if _, err := l.cfg.Store.Write(ref, data); err != nil {
		return "", fmt.Errorf("proctor: store snapshot: %w", err)
	}
	return ref, nil
}
