// Package types holds the small set of value types shared between the
// provider packages and the interview runtime: speech transcripts and TTS
// voice profiles. Larger domain types (slots, sessions, turns) live with
// their owning packages under internal/.
package types

import "time"

// Transcript is a single recognition result emitted by an STT provider.
// A stream typically interleaves several interim transcripts (IsFinal=false)
// with the finalised text for the same audio span (IsFinal=true).
type Transcript struct {
	// Text is the recognised text. May be empty when the provider detected
	// only silence for the current audio span.
	Text string

	// IsFinal reports whether the provider has committed to this text.
	// Interim transcripts are display-only and may be revised.
	IsFinal bool

	// Confidence is the provider's confidence in Text, in [0, 1].
	Confidence float64

	// Words carries optional per-word detail (timing, confidence, speaker).
	// Nil when the provider does not supply word-level output.
	Words []WordDetail
}

// WordDetail is per-word recognition detail within a [Transcript].
type WordDetail struct {
	// Word is the recognised word.
	Word string

	// Start and End are offsets from the beginning of the audio stream.
	Start time.Duration
	End   time.Duration

	// Confidence is the provider's per-word confidence, in [0, 1].
	Confidence float64

	// Speaker is the diarisation speaker index (0-based). -1 when the
	// provider did not diarise this stream.
	Speaker int
}

// SpeakerCount returns the number of distinct speaker indices present in t.
// Returns 0 when no diarisation data is available.
func (t Transcript) SpeakerCount() int {
	seen := map[int]struct{}{}
	for _, w := range t.Words {
		if w.Speaker >= 0 {
			seen[w.Speaker] = struct{}{}
		}
	}
	return len(seen)
}

// VoiceProfile identifies a TTS voice.
type VoiceProfile struct {
	// ID is the provider-specific voice identifier.
	ID string

	// Name is the human-readable voice name.
	Name string

	// Language is the BCP-47 language code the voice speaks (e.g. "en", "hi").
	Language string
}
