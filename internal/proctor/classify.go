package proctor

import (
	"image"
	"strings"
	"time"

	"github.com/hireloop-ai/hireloop/pkg/provider/vision"
)

const (
	// personConfidence is the minimum confidence for a person box to count.
	personConfidence = 0.5

	// phoneConfidence is the minimum confidence for a phone box to count.
	phoneConfidence = 0.4

	// attentionDeviation is the fraction of frame width the face center may
	// drift from frame center before attention tracking starts.
	attentionDeviation = 0.35

	// attentionHold is how long the drift must persist before the frame
	// verdict becomes LowAttention.
	attentionHold = 3 * time.Second
)

// Kind names a proctoring warning.
type Kind string

const (
	KindNoPerson         Kind = "no_person"
	KindMultiplePeople   Kind = "multiple_people"
	KindPhoneDetected    Kind = "phone_detected"
	KindLowAttention     Kind = "low_attention"
	KindTabSwitch        Kind = "tab_switch"
	KindNoiseBurst       Kind = "noise_burst"
	KindMultipleSpeakers Kind = "multiple_speakers"
)

// classifier turns per-frame detections into a verdict. It keeps the
// attention-drift timer between frames and is not safe for concurrent use;
// the loop is single-threaded per session.
type classifier struct {
	offCenterSince time.Time
}

// classify returns the frame verdict, or "" when the frame is clean.
func (c *classifier) classify(dets []vision.Detection, bounds image.Rectangle, now time.Time) Kind {
	var persons []vision.Detection
	phone := false
	for _, d := range dets {
		label := strings.ToLower(d.Label)
		switch {
		case label == "person" && d.Confidence >= personConfidence:
			persons = append(persons, d)
		case strings.Contains(label, "phone") && d.Confidence >= phoneConfidence:
			phone = true
		}
	}

	switch {
	case len(persons) == 0:
		c.offCenterSince = time.Time{}
		return KindNoPerson
	case len(persons) >= 2:
		c.offCenterSince = time.Time{}
		return KindMultiplePeople
	case phone:
		return KindPhoneDetected
	}

	// Single person: track attention drift against the frame center.
	width := bounds.Dx()
	if width == 0 {
		return ""
	}
	faceCenter := persons[0].Box.Min.X + persons[0].Box.Dx()/2
	frameCenter := bounds.Min.X + width/2
	deviation := faceCenter - frameCenter
	if deviation < 0 {
		deviation = -deviation
	}
	if float64(deviation) > attentionDeviation*float64(width) {
		if c.offCenterSince.IsZero() {
			c.offCenterSince = now
		} else if now.Sub(c.offCenterSince) > attentionHold {
			return KindLowAttention
		}
	} else {
		c.offCenterSince = time.Time{}
	}
	return ""
}

// debouncer applies the warning rate limits: a verdict must hold for the
// hold window before it may emit, and a kind may not repeat within the
// dedup window.
type debouncer struct {
	hold  time.Duration
	dedup time.Duration

	current     Kind
	since       time.Time
	lastEmitted map[Kind]time.Time
}

func newDebouncer(hold, dedup time.Duration) *debouncer {
	return &debouncer{hold: hold, dedup: dedup, lastEmitted: map[Kind]time.Time{}}
}

// observe feeds one frame verdict and reports whether a warning fires.
func (d *debouncer) observe(kind Kind, now time.Time) bool {
	if kind != d.current {
		d.current = kind
		d.since = now
	}
	if kind == "" {
		return false
	}
	if now.Sub(d.since) < d.hold {
		return false
	}
	return d.allow(kind, now)
}

// allow applies only the dedup window. Browser and relay signals enter
// here directly: they are discrete events, so the hold window does not
// apply.
func (d *debouncer) allow(kind Kind, now time.Time) bool {
	if last, ok := d.lastEmitted[kind]; ok && now.Sub(last) < d.dedup {
		return false
	}
	d.lastEmitted[kind] = now
	return true
}
