// Package stt defines the Provider interface for streaming Speech-to-Text
// backends.
//
// An STT provider wraps a live transcription service (e.g. Deepgram) and
// exposes a uniform streaming session: the caller pushes PCM audio chunks in
// and receives interleaved interim and final transcripts out, in provider
// arrival order. The interview runtime's STT relay sits between the
// candidate's browser and a Provider session.
//
// Implementations must be safe for concurrent use.
package stt

import (
	"context"

	"github.com/hireloop-ai/hireloop/pkg/types"
)

// StreamConfig parameterises a streaming transcription session.
type StreamConfig struct {
	// Language is the BCP-47 language code for recognition (e.g. "en", "hi").
	Language string

	// Model overrides the provider's default model for this session.
	Model string

	// SampleRate is the PCM sample rate in Hz. The interview runtime always
	// streams 16 kHz 16-bit mono little-endian.
	SampleRate int

	// Channels is the channel count. Zero means provider default (mono).
	Channels int

	// EndpointingMs is the minimum silence in milliseconds after which the
	// provider finalises the current utterance.
	EndpointingMs int

	// UtteranceEndMs bounds utterance-boundary detection in milliseconds.
	UtteranceEndMs int

	// InterimResults requests partial hypotheses while speech is ongoing.
	InterimResults bool

	// Diarize requests per-word speaker labels when the provider supports
	// them. Used to detect multiple speakers on the candidate's microphone.
	Diarize bool

	// Keywords boosts recognition of domain vocabulary (company name,
	// job-specific terms). Providers without keyword support ignore this.
	Keywords []KeywordBoost
}

// KeywordBoost is a recognition hint for a single domain term.
type KeywordBoost struct {
	// Keyword is the term to boost.
	Keyword string

	// Boost is the provider-specific boost weight.
	Boost float64
}

// SessionHandle is a live streaming transcription session.
//
// Results are delivered on a single channel in provider arrival order so
// that consumers observe interim and final transcripts exactly as the
// provider emitted them. The channel is closed when the session ends.
type SessionHandle interface {
	// SendAudio queues a PCM audio chunk for delivery to the provider.
	// Returns an error if the session is closed.
	SendAudio(chunk []byte) error

	// Results returns the channel of transcripts, interim and final
	// interleaved in arrival order. Closed when the session ends.
	Results() <-chan types.Transcript

	// Close terminates the session, flushing any pending audio first.
	// Safe to call multiple times.
	Close() error
}

// Provider is the abstraction over any streaming STT backend.
type Provider interface {
	// StartStream opens a streaming transcription session with the given
	// configuration. The session remains usable until Close is called or
	// ctx is cancelled.
	StartStream(ctx context.Context, cfg StreamConfig) (SessionHandle, error)
}
