package resilience

import (
	"context"
	"image"

	"github.com/hireloop-ai/hireloop/pkg/provider/llm"
	"github.com/hireloop-ai/hireloop/pkg/provider/stt"
	"github.com/hireloop-ai/hireloop/pkg/provider/tts"
	"github.com/hireloop-ai/hireloop/pkg/provider/vision"
	"github.com/hireloop-ai/hireloop/pkg/types"
)

// LLMFailover is an [llm.Provider] that routes around failing backends.
type LLMFailover struct {
	group *FallbackGroup[llm.Provider]
}

var _ llm.Provider = (*LLMFailover)(nil)

// NewLLMFailover wraps primary with per-backend breakers.
func NewLLMFailover(primary llm.Provider, name string, breaker BreakerConfig) *LLMFailover {
	return &LLMFailover{group: NewFallbackGroup(primary, name, breaker)}
}

// Add registers an additional backend, tried after those already present.
func (f *LLMFailover) Add(name string, p llm.Provider) { f.group.Add(name, p) }

func (f *LLMFailover) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	return Call(f.group, func(p llm.Provider) (*llm.CompletionResponse, error) {
		return p.Complete(ctx, req)
	})
}

// StreamCompletion fails over on connection setup only. A stream that dies
// after it was handed out is the caller's problem.
func (f *LLMFailover) StreamCompletion(ctx context.Context, req llm.CompletionRequest) (<-chan llm.Chunk, error) {
	return Call(f.group, func(p llm.Provider) (<-chan llm.Chunk, error) {
		return p.StreamCompletion(ctx, req)
	})
}

func (f *LLMFailover) CountTokens(messages []llm.Message) (int, error) {
	return Call(f.group, func(p llm.Provider) (int, error) {
		return p.CountTokens(messages)
	})
}

// TTSFailover is a [tts.Provider] that routes around failing backends.
type TTSFailover struct {
	group *FallbackGroup[tts.Provider]
}

var _ tts.Provider = (*TTSFailover)(nil)

// NewTTSFailover wraps primary with per-backend breakers.
func NewTTSFailover(primary tts.Provider, name string, breaker BreakerConfig) *TTSFailover {
	return &TTSFailover{group: NewFallbackGroup(primary, name, breaker)}
}

// Add registers an additional backend.
func (f *TTSFailover) Add(name string, p tts.Provider) { f.group.Add(name, p) }

func (f *TTSFailover) Synthesize(ctx context.Context, text string, voice types.VoiceProfile) ([]byte, error) {
	return Call(f.group, func(p tts.Provider) ([]byte, error) {
		return p.Synthesize(ctx, text, voice)
	})
}

func (f *TTSFailover) ListVoices(ctx context.Context) ([]types.VoiceProfile, error) {
	return Call(f.group, func(p tts.Provider) ([]types.VoiceProfile, error) {
		return p.ListVoices(ctx)
	})
}

// STTFailover is an [stt.Provider] that fails over on session setup. Once a
// session is live the relay owns reconnects; this wrapper only picks which
// backend each (re)connect goes to.
type STTFailover struct {
	group *FallbackGroup[stt.Provider]
}

var _ stt.Provider = (*STTFailover)(nil)

// NewSTTFailover wraps primary with per-backend breakers.
func NewSTTFailover(primary stt.Provider, name string, breaker BreakerConfig) *STTFailover {
	return &STTFailover{group: NewFallbackGroup(primary, name, breaker)}
}

// Add registers an additional backend.
func (f *STTFailover) Add(name string, p stt.Provider) { f.group.Add(name, p) }

func (f *STTFailover) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	return Call(f.group, func(p stt.Provider) (stt.SessionHandle, error) {
		return p.StartStream(ctx, cfg)
	})
}

// DetectorFailover is a [vision.Detector] that routes frames to the first
// healthy detector, letting the proctoring loop degrade from the accurate
// model to the fast one without noticing.
type DetectorFailover struct {
	group *FallbackGroup[vision.Detector]
}

var _ vision.Detector = (*DetectorFailover)(nil)

// NewDetectorFailover wraps primary with per-backend breakers.
func NewDetectorFailover(primary vision.Detector, name string, breaker BreakerConfig) *DetectorFailover {
	return &DetectorFailover{group: NewFallbackGroup(primary, name, breaker)}
}

// Add registers an additional detector.
func (f *DetectorFailover) Add(name string, d vision.Detector) { f.group.Add(name, d) }

func (f *DetectorFailover) Detect(ctx context.Context, frame image.Image) ([]vision.Detection, error) {
	return Call(f.group, func(d vision.Detector) ([]vision.Detection, error) {
		return d.Detect(ctx, frame)
	})
}

// Close releases every wrapped detector, returning the first error.
func (f *DetectorFailover) Close() error {
	var first error
	for i := range f.group.members {
		if err := f.group.members[i].value.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
