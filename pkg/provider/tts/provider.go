// Package tts defines the Provider interface for Text-to-Speech backends.
//
// A TTS provider wraps a speech synthesis service (e.g. ElevenLabs) and
// presents a uniform interface. Synthesis is whole-utterance: the dialogue
// controller hands over a complete question or closing line and receives the
// full PCM audio back, which the synthesis cache stores keyed by
// (text, voice, language).
//
// All providers emit 16 kHz 16-bit mono little-endian PCM so that synthesized
// audio can be mixed with the candidate's microphone track without resampling.
//
// Implementations must be safe for concurrent use.
package tts

import (
	"context"

	"github.com/hireloop-ai/hireloop/pkg/types"
)

// Provider is the abstraction over any TTS backend.
//
// Implementations must be safe for concurrent use. Multiple synthesis
// requests may run in parallel (one per live interview session).
type Provider interface {
	// Synthesize converts text into raw PCM audio (16 kHz 16-bit mono LE)
	// using the given voice. Returns an error for empty text, an unknown
	// voice, or a backend failure.
	Synthesize(ctx context.Context, text string, voice types.VoiceProfile) ([]byte, error)

	// ListVoices returns all voice profiles available from this provider.
	// The list reflects the provider's current catalogue and may change
	// between calls if the underlying service adds or removes voices.
	ListVoices(ctx context.Context) ([]types.VoiceProfile, error)
}
