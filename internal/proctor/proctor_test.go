package proctor

import (
	"context"
	"errors"
	"image"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/hireloop-ai/hireloop/internal/clock"
	"github.com/hireloop-ai/hireloop/internal/session"
	"github.com/hireloop-ai/hireloop/internal/storage"
	"github.com/hireloop-ai/hireloop/pkg/provider/vision"
	"github.com/hireloop-ai/hireloop/pkg/provider/vision/mock"
)

func person(conf float64, box image.Rectangle) vision.Detection {
	return vision.Detection{Label: "person", Confidence: conf, Box: box}
}

func phone(conf float64) vision.Detection {
	return vision.Detection{Label: "cell phone", Confidence: conf, Box: image.Rect(10, 10, 60, 80)}
}

// centered is a person box around the middle of a 640-wide frame.
var centered = person(0.9, image.Rect(280, 100, 360, 300))

func newTestLoop(t *testing.T, det vision.Detector, fallback vision.Detector) (*Loop, *clock.Fake, *session.Handle) {
	t.Helper()
	st, err := storage.New(t.TempDir())
	if err != nil {
		t.Fatalf("storage.New: %v", err)
	}
	clk := clock.NewFake(time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC))
	h := session.NewHandle(session.HandleConfig{
		ID:          uuid.New(),
		InterviewID: uuid.New(),
		ValidUntil:  time.Now().Add(time.Hour),
	})
	t.Cleanup(h.Close)
	return NewLoop(Config{
		Detector: det,
		Fallback: fallback,
		Store:    st,
		Session:  h,
		Clock:    clk,
	}), clk, h
}

// feed pushes one fresh frame through the loop.
func feed(l *Loop, clk *clock.Fake) {
	l.Process(context.Background(), Frame{
		Image: image.NewRGBA(image.Rect(0, 0, 640, 480)),
		JPEG:  []byte{0xff, 0xd8, 0xff},
		At:    clk.Now(),
	})
}

func TestWarningRequiresHold(t *testing.T) {
	det := &mock.Detector{Detections: []vision.Detection{centered, phone(0.8)}}
	l, clk, h := newTestLoop(t, det, nil)

	// Verdict present but not yet held for two seconds.
	feed(l, clk)
	clk.Advance(time.Second)
	feed(l, clk)
	if n := len(l.Warnings()); n != 0 {
		t.Fatalf("warned %d times before the hold window", n)
	}

	clk.Advance(time.Second)
	feed(l, clk)
	warnings := l.Warnings()
	if len(warnings) != 1 {
		t.Fatalf("got %d warnings, want 1", len(warnings))
	}
	w := warnings[0]
	if w.Kind != KindPhoneDetected {
		t.Errorf("kind = %q", w.Kind)
	}
	if w.SnapshotRef == "" {
		t.Error("no snapshot ref")
	}

	snap, _ := h.Snapshot(context.Background())
	if snap.WarningCount != 1 {
		t.Errorf("session warning count = %d, want 1", snap.WarningCount)
	}
}

func TestDedupWithinTenSeconds(t *testing.T) {
	det := &mock.Detector{Detections: []vision.Detection{centered, phone(0.8)}}
	l, clk, _ := newTestLoop(t, det, nil)

	// Reach the first warning at +2s.
	for i := 0; i < 3; i++ {
		feed(l, clk)
		clk.Advance(time.Second)
	}
	if n := len(l.Warnings()); n != 1 {
		t.Fatalf("after hold: %d warnings, want 1", n)
	}

	// The verdict persists; the dedup window suppresses repeats until ten
	// seconds after the first warning.
	for i := 0; i < 10; i++ {
		feed(l, clk)
		clk.Advance(time.Second)
	}
	if n := len(l.Warnings()); n != 2 {
		t.Errorf("after dedup window: %d warnings, want 2", n)
	}
}

func TestVerdictChangeResetsHold(t *testing.T) {
	withPhone := []vision.Detection{centered, phone(0.8)}
	clean := []vision.Detection{centered}
	det := &mock.Detector{Results: [][]vision.Detection{withPhone, clean, withPhone, withPhone, withPhone}}
	l, clk, _ := newTestLoop(t, det, nil)

	for i := 0; i < 5; i++ {
		feed(l, clk)
		clk.Advance(time.Second)
	}
	// The clean frame at +1s reset the streak; the second streak starts at
	// +2s and satisfies the hold at +4s.
	warnings := l.Warnings()
	if len(warnings) != 1 {
		t.Fatalf("got %d warnings, want 1", len(warnings))
	}
	if got := warnings[0].At.Sub(time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)); got != 4*time.Second {
		t.Errorf("warning fired at +%v, want +4s", got)
	}
}

func TestClassifierVerdicts(t *testing.T) {
	bounds := image.Rect(0, 0, 640, 480)
	now := time.Now()
	tests := []struct {
		name string
		dets []vision.Detection
		want Kind
	}{
		{"clean", []vision.Detection{centered}, ""},
		{"no person", nil, KindNoPerson},
		{"low-confidence person ignored", []vision.Detection{person(0.4, centered.Box)}, KindNoPerson},
		{"two people", []vision.Detection{centered, person(0.7, image.Rect(400, 100, 500, 300))}, KindMultiplePeople},
		{"phone", []vision.Detection{centered, phone(0.5)}, KindPhoneDetected},
		{"low-confidence phone ignored", []vision.Detection{centered, phone(0.3)}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var c classifier
			if got := c.classify(tt.dets, bounds, now); got != tt.want {
				t.Errorf("classify() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestLowAttentionNeedsSustainedDrift(t *testing.T) {
	bounds := image.Rect(0, 0, 640, 480)
	// Face center at x=590: 270 px from the 320 center, beyond 35% of 640.
	offCenter := []vision.Detection{person(0.9, image.Rect(540, 100, 640, 300))}

	var c classifier
	start := time.Now()
	if got := c.classify(offCenter, bounds, start); got != "" {
		t.Fatalf("immediate drift classified as %q", got)
	}
	if got := c.classify(offCenter, bounds, start.Add(2*time.Second)); got != "" {
		t.Fatalf("2s drift classified as %q", got)
	}
	if got := c.classify(offCenter, bounds, start.Add(3100*time.Millisecond)); got != KindLowAttention {
		t.Fatalf("sustained drift classified as %q", got)
	}

	// Returning to center resets the timer.
	if got := c.classify([]vision.Detection{centered}, bounds, start.Add(4*time.Second)); got != "" {
		t.Fatalf("recentered frame classified as %q", got)
	}
	if got := c.classify(offCenter, bounds, start.Add(5*time.Second)); got != "" {
		t.Fatal("drift timer was not reset")
	}
}

func TestDegradedAfterThreeFailures(t *testing.T) {
	boom := errors.New("inference failed")
	det := &mock.Detector{DetectErr: boom}
	l, clk, _ := newTestLoop(t, det, nil)

	for i := 0; i < 3; i++ {
		feed(l, clk)
		clk.Advance(250 * time.Millisecond)
	}
	if !l.Degraded() {
		t.Error("loop not degraded after three consecutive failures")
	}
	if len(l.Warnings()) != 0 {
		t.Error("failed frames produced warnings")
	}
}

func TestSuccessResetsFailureStreak(t *testing.T) {
	boom := errors.New("inference failed")
	det := &mock.Detector{DetectErrs: []error{boom, boom, nil, boom, boom}}
	l, clk, _ := newTestLoop(t, det, nil)

	for i := 0; i < 5; i++ {
		feed(l, clk)
		clk.Advance(250 * time.Millisecond)
	}
	if l.Degraded() {
		t.Error("interrupted failure streak degraded the loop")
	}
}

func TestFallbackDetectorKeepsLoopHealthy(t *testing.T) {
	primary := &mock.Detector{DetectErr: errors.New("primary down")}
	fallback := &mock.Detector{Detections: []vision.Detection{centered}}
	l, clk, _ := newTestLoop(t, primary, fallback)

	for i := 0; i < 5; i++ {
		feed(l, clk)
		clk.Advance(250 * time.Millisecond)
	}
	if l.Degraded() {
		t.Error("loop degraded despite a working fallback")
	}
	if len(fallback.DetectCalls) != 5 {
		t.Errorf("fallback called %d times, want 5", len(fallback.DetectCalls))
	}
}

func TestSignalDedup(t *testing.T) {
	det := &mock.Detector{Detections: []vision.Detection{centered}}
	l, clk, _ := newTestLoop(t, det, nil)
	ctx := context.Background()

	l.Signal(ctx, KindTabSwitch)
	clk.Advance(3 * time.Second)
	l.Signal(ctx, KindTabSwitch)
	if n := len(l.Warnings()); n != 1 {
		t.Fatalf("got %d tab-switch warnings within dedup, want 1", n)
	}

	clk.Advance(8 * time.Second)
	l.Signal(ctx, KindTabSwitch)
	if n := len(l.Warnings()); n != 2 {
		t.Errorf("got %d warnings after dedup window, want 2", n)
	}

	// A different kind has its own dedup bucket.
	l.Signal(ctx, KindMultipleSpeakers)
	if n := len(l.Warnings()); n != 3 {
		t.Errorf("got %d warnings, want 3", n)
	}
}

func TestStaleFramesSkipped(t *testing.T) {
	det := &mock.Detector{Detections: []vision.Detection{centered}}
	l, clk, _ := newTestLoop(t, det, nil)

	l.Process(context.Background(), Frame{
		Image: image.NewRGBA(image.Rect(0, 0, 640, 480)),
		At:    clk.Now().Add(-time.Second),
	})
	if len(det.DetectCalls) != 0 {
		t.Error("stale frame reached the detector")
	}
}
