// Package mock provides a test double for the vision.Detector interface.
//
// Use Detector to script per-frame detections for the proctoring loop
// without a model file or the ONNX runtime.
package mock

import (
	"context"
	"image"
	"sync"

	"github.com/hireloop-ai/hireloop/pkg/provider/vision"
)

// DetectCall records a single invocation of Detect.
type DetectCall struct {
	// Ctx is the context passed to Detect.
	Ctx context.Context
	// Frame is the image passed to Detect.
	Frame image.Image
}

// Detector is a mock implementation of vision.Detector.
type Detector struct {
	mu sync.Mutex

	// --- Configurable responses ---

	// Detections is returned by Detect when Results is exhausted or empty.
	Detections []vision.Detection

	// Results, if non-empty, supplies per-call results in order: call N
	// returns Results[N]. Calls beyond the slice fall back to Detections.
	// Useful for scripting a sequence of frames (person, person, empty...).
	Results [][]vision.Detection

	// DetectErr, if non-nil, is returned as the error from Detect.
	DetectErr error

	// DetectErrs, if non-empty, supplies per-call errors: call N returns
	// DetectErrs[N] (nil meaning success). Calls beyond the slice fall back
	// to DetectErr. Useful for degraded-detector tests.
	DetectErrs []error

	// CloseErr, if non-nil, is returned by Close.
	CloseErr error

	// --- Call records ---

	// DetectCalls records every call to Detect in order.
	DetectCalls []DetectCall

	// CloseCallCount is the number of times Close was called.
	CloseCallCount int
}

// Detect records the call and returns the next scripted result.
func (d *Detector) Detect(ctx context.Context, frame image.Image) ([]vision.Detection, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := len(d.DetectCalls)
	d.DetectCalls = append(d.DetectCalls, DetectCall{Ctx: ctx, Frame: frame})

	if n < len(d.DetectErrs) {
		if err := d.DetectErrs[n]; err != nil {
			return nil, err
		}
	} else if d.DetectErr != nil {
		return nil, d.DetectErr
	}

	if n < len(d.Results) {
		return d.Results[n], nil
	}
	return d.Detections, nil
}

// Close records the call and returns CloseErr.
func (d *Detector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.CloseCallCount++
	return d.CloseErr
}

// Reset clears all recorded calls. Thread-safe.
func (d *Detector) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.DetectCalls = nil
	d.CloseCallCount = 0
}

// Ensure Detector implements vision.Detector at compile time.
var _ vision.Detector = (*Detector)(nil)
