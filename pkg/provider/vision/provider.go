// Package vision defines the Detector interface for frame-level object
// detection backends.
//
// A vision detector takes a single decoded camera frame and returns the
// objects it found with confidence scores. The proctoring loop classifies
// these detections into integrity verdicts (no person, multiple people,
// phone visible).
//
// Implementations must be safe for concurrent use.
package vision

import (
	"context"
	"image"
)

// Detection is a single detected object within a frame.
type Detection struct {
	// Label is the detector's class name for the object (e.g. "person",
	// "cell phone").
	Label string

	// Confidence is the detector's confidence in [0, 1].
	Confidence float64

	// Box is the object's bounding box in frame pixel coordinates.
	Box image.Rectangle
}

// Detector is the abstraction over any object detection backend.
type Detector interface {
	// Detect runs object detection on a single frame. The returned slice may
	// be empty when nothing was detected. Returns an error if inference
	// fails or ctx is cancelled.
	Detect(ctx context.Context, frame image.Image) ([]Detection, error)

	// Close releases model resources. The Detector must not be used after
	// Close returns.
	Close() error
}
