// Package onnx provides a vision.Detector backed by a YOLO-family object
// detection model running on ONNX Runtime.
//
// The ONNX Runtime shared library is located via the ONNXRUNTIME_LIB
// environment variable; without it the platform default library search path
// is used. The runtime environment is initialized once per process.
package onnx

import (
	"context"
	"fmt"
	"image"
	"math"
	"os"
	"runtime"
	"sort"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/hireloop-ai/hireloop/pkg/provider/vision"
)

const (
	inputSize  = 640
	numClasses = 80
	numAnchors = 8400
)

// cocoLabels are the 80 COCO class names in model output order.
var cocoLabels = [numClasses]string{
	"person", "bicycle", "car", "motorcycle", "airplane", "bus", "train",
	"truck", "boat", "traffic light", "fire hydrant", "stop sign",
	"parking meter", "bench", "bird", "cat", "dog", "horse", "sheep", "cow",
	"elephant", "bear", "zebra", "giraffe", "backpack", "umbrella", "handbag",
	"tie", "suitcase", "frisbee", "skis", "snowboard", "sports ball", "kite",
	"baseball bat", "baseball glove", "skateboard", "surfboard",
	"tennis racket", "bottle", "wine glass", "cup", "fork", "knife", "spoon",
	"bowl", "banana", "apple", "sandwich", "orange", "broccoli", "carrot",
	"hot dog", "pizza", "donut", "cake", "chair", "couch", "potted plant",
	"bed", "dining table", "toilet", "tv", "laptop", "mouse", "remote",
	"keyboard", "cell phone", "microwave", "oven", "toaster", "sink",
	"refrigerator", "book", "clock", "vase", "scissors", "teddy bear",
	"hair drier", "toothbrush",
}

var (
	ortOnce    sync.Once
	ortInitErr error
)

// ensureOrtEnv initializes the ONNX runtime environment exactly once per
// process to avoid duplicate schema registration when several detectors are
// created concurrently.
func ensureOrtEnv() error {
	ortOnce.Do(func() {
		if libPath := os.Getenv("ONNXRUNTIME_LIB"); libPath != "" {
			ort.SetSharedLibraryPath(libPath)
		} else if runtime.GOOS == "darwin" {
			// Default to Homebrew path on macOS as fallback.
			ort.SetSharedLibraryPath("/opt/homebrew/lib/libonnxruntime.dylib")
		}
		ortInitErr = ort.InitializeEnvironment()
	})
	return ortInitErr
}

// Option is a functional option for configuring the Detector.
type Option func(*Detector)

// WithScoreThreshold sets the minimum class confidence for a detection to be
// reported. Default 0.25.
func WithScoreThreshold(t float64) Option {
	return func(d *Detector) {
		d.scoreThreshold = t
	}
}

// WithIoUThreshold sets the IoU threshold for non-maximum suppression.
// Default 0.45.
func WithIoUThreshold(t float64) Option {
	return func(d *Detector) {
		d.iouThreshold = t
	}
}

// Detector implements vision.Detector using an ONNX YOLO model.
//
// The underlying session binds fixed input and output tensors, so inference
// calls are serialized with a mutex. One Detector serves all proctoring loops
// in the process; at 4 frames per second per session this is well within a
// single CPU session's budget.
type Detector struct {
	modelPath      string
	scoreThreshold float64
	iouThreshold   float64

	mu      sync.Mutex
	session *ort.Session[float32]
	input   *ort.Tensor[float32]
	output  *ort.Tensor[float32]
	closed  bool
}

// New creates a Detector for the ONNX model at modelPath and loads the
// session eagerly so that a bad model path fails at startup rather than on
// the first frame.
func New(modelPath string, opts ...Option) (*Detector, error) {
	if modelPath == "" {
		return nil, fmt.Errorf("onnx: modelPath must not be empty")
	}
	if _, err := os.Stat(modelPath); err != nil {
		return nil, fmt.Errorf("onnx: model file: %w", err)
	}
	if err := ensureOrtEnv(); err != nil {
		return nil, fmt.Errorf("onnx: initialize runtime: %w", err)
	}

	d := &Detector{
		modelPath:      modelPath,
		scoreThreshold: 0.25,
		iouThreshold:   0.45,
	}
	for _, o := range opts {
		o(d)
	}

	input, err := ort.NewTensor(ort.NewShape(1, 3, inputSize, inputSize),
		make([]float32, 3*inputSize*inputSize))
	if err != nil {
		return nil, fmt.Errorf("onnx: create input tensor: %w", err)
	}
	output, err := ort.NewEmptyTensor[float32](ort.NewShape(1, 4+numClasses, numAnchors))
	if err != nil {
		input.Destroy()
		return nil, fmt.Errorf("onnx: create output tensor: %w", err)
	}

	session, err := ort.NewSession[float32](
		modelPath,
		[]string{"images"},
		[]string{"output0"},
		[]*ort.Tensor[float32]{input},
		[]*ort.Tensor[float32]{output},
	)
	if err != nil {
		input.Destroy()
		output.Destroy()
		return nil, fmt.Errorf("onnx: create session: %w", err)
	}

	d.session = session
	d.input = input
	d.output = output
	return d, nil
}

// Detect implements vision.Detector.
func (d *Detector) Detect(ctx context.Context, frame image.Image) ([]vision.Detection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if frame == nil {
		return nil, fmt.Errorf("onnx: frame must not be nil")
	}

	bounds := frame.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if w == 0 || h == 0 {
		return nil, fmt.Errorf("onnx: empty frame")
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, fmt.Errorf("onnx: detector is closed")
	}

	scale, padX, padY := letterbox(frame, d.input.GetData())

	if err := d.session.Run(); err != nil {
		return nil, fmt.Errorf("onnx: inference: %w", err)
	}

	raw := decodeOutput(d.output.GetData(), d.scoreThreshold)
	kept := nonMaxSuppression(raw, d.iouThreshold)

	dets := make([]vision.Detection, 0, len(kept))
	for _, c := range kept {
		// Map from letterbox coordinates back into frame pixels.
		x0 := int((c.x - c.w/2 - padX) / scale)
		y0 := int((c.y - c.h/2 - padY) / scale)
		x1 := int((c.x + c.w/2 - padX) / scale)
		y1 := int((c.y + c.h/2 - padY) / scale)
		box := image.Rect(x0, y0, x1, y1).Intersect(image.Rect(0, 0, w, h))

		dets = append(dets, vision.Detection{
			Label:      cocoLabels[c.class],
			Confidence: float64(c.score),
			Box:        box.Add(bounds.Min),
		})
	}
	return dets, nil
}

// Close releases the session and its tensors.
func (d *Detector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	err := d.session.Destroy()
	d.input.Destroy()
	d.output.Destroy()
	if err != nil {
		return fmt.Errorf("onnx: destroy session: %w", err)
	}
	return nil
}

// candidate is a decoded detection in letterbox coordinates.
type candidate struct {
	x, y, w, h float32
	score      float32
	class      int
}

// letterbox scales frame into a 640x640 canvas preserving aspect ratio, pads
// the remainder with grey, and writes normalized CHW float32 pixels into dst.
// Returns the applied scale and the pad offsets.
func letterbox(frame image.Image, dst []float32) (scale, padX, padY float32) {
	bounds := frame.Bounds()
	w, h := bounds.Dx(), bounds.Dy()

	scale = float32(math.Min(float64(inputSize)/float64(w), float64(inputSize)/float64(h)))
	scaledW := int(float32(w) * scale)
	scaledH := int(float32(h) * scale)
	padX = float32(inputSize-scaledW) / 2
	padY = float32(inputSize-scaledH) / 2

	const grey = float32(114.0 / 255.0)
	for i := range dst {
		dst[i] = grey
	}

	plane := inputSize * inputSize
	for y := 0; y < scaledH; y++ {
		srcY := bounds.Min.Y + int(float32(y)/scale)
		dy := y + int(padY)
		for x := 0; x < scaledW; x++ {
			srcX := bounds.Min.X + int(float32(x)/scale)
			r, g, b, _ := frame.At(srcX, srcY).RGBA()
			idx := dy*inputSize + x + int(padX)
			dst[idx] = float32(r>>8) / 255.0
			dst[plane+idx] = float32(g>>8) / 255.0
			dst[2*plane+idx] = float32(b>>8) / 255.0
		}
	}
	return scale, padX, padY
}

// decodeOutput converts the raw [1, 84, 8400] model output into candidates
// above the score threshold. The first four rows hold the box center and
// size; the remaining rows hold per-class scores.
func decodeOutput(out []float32, scoreThreshold float64) []candidate {
	var cands []candidate
	for a := 0; a < numAnchors; a++ {
		bestScore := float32(0)
		bestClass := -1
		for c := 0; c < numClasses; c++ {
			s := out[(4+c)*numAnchors+a]
			if s > bestScore {
				bestScore = s
				bestClass = c
			}
		}
		if bestClass < 0 || float64(bestScore) < scoreThreshold {
			continue
		}
		cands = append(cands, candidate{
			x:     out[0*numAnchors+a],
			y:     out[1*numAnchors+a],
			w:     out[2*numAnchors+a],
			h:     out[3*numAnchors+a],
			score: bestScore,
			class: bestClass,
		})
	}
	return cands
}

// nonMaxSuppression drops lower-scored candidates that overlap a kept
// candidate of the same class by more than the IoU threshold.
func nonMaxSuppression(cands []candidate, iouThreshold float64) []candidate {
	sort.Slice(cands, func(i, j int) bool { return cands[i].score > cands[j].score })

	var kept []candidate
	for _, c := range cands {
		suppressed := false
		for _, k := range kept {
			if k.class == c.class && iou(k, c) > iouThreshold {
				suppressed = true
				break
			}
		}
		if !suppressed {
			kept = append(kept, c)
		}
	}
	return kept
}

// iou computes intersection-over-union of two center-format boxes.
func iou(a, b candidate) float64 {
	ax0, ay0, ax1, ay1 := a.x-a.w/2, a.y-a.h/2, a.x+a.w/2, a.y+a.h/2
	bx0, by0, bx1, by1 := b.x-b.w/2, b.y-b.h/2, b.x+b.w/2, b.y+b.h/2

	ix0 := math.Max(float64(ax0), float64(bx0))
	iy0 := math.Max(float64(ay0), float64(by0))
	ix1 := math.Min(float64(ax1), float64(bx1))
	iy1 := math.Min(float64(ay1), float64(by1))

	iw := math.Max(0, ix1-ix0)
	ih := math.Max(0, iy1-iy0)
	inter := iw * ih

	areaA := float64(a.w) * float64(a.h)
	areaB := float64(b.w) * float64(b.h)
	union := areaA + areaB - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}

// Ensure Detector implements vision.Detector at compile time.
var _ vision.Detector = (*Detector)(nil)
