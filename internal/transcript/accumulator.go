// Package transcript merges the interim and final recognition events of one
// candidate turn into a stable utterance, and corrects mis-heard domain
// terms in finalized text.
package transcript

import (
	"strings"
	"sync"
	"time"
)

// Event is a single recognition result observed by the accumulator.
type Event struct {
	Text      string
	IsFinal   bool
	ArrivedAt time.Time
}

// Accumulator maintains the finalized text of the current turn.
//
// The accumulated text never shrinks between BeginNewTurn calls: providers
// habitually resend finals, resend longer forms of earlier finals, and
// interleave interim hypotheses, and the merge rules absorb all three.
// Safe for concurrent use.
type Accumulator struct {
	mu           sync.Mutex
	accumulated  string
	interim      string
	turnIndex    int
	lastSeenAt   time.Time
	firstVoiceAt time.Time
	hasVoiceEver bool
}

// NewAccumulator returns an empty accumulator at turn index 0.
func NewAccumulator() *Accumulator {
	return &Accumulator{}
}

// Observe applies one recognition event.
func (a *Accumulator) Observe(e Event) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.lastSeenAt = e.ArrivedAt
	if strings.TrimSpace(e.Text) == "" {
		return
	}
	if !a.hasVoiceEver {
		a.hasVoiceEver = true
		a.firstVoiceAt = e.ArrivedAt
	}

	if e.IsFinal {
		a.observeFinal(e.Text)
		return
	}
	a.observeInterim(e.Text)
}

func (a *Accumulator) observeFinal(text string) {
	defer func() { a.interim = "" }()

	normNew := normalize(text)
	normAcc := normalize(a.accumulated)

	switch {
	case normAcc == "":
		a.accumulated = strings.TrimSpace(text)
	case strings.Contains(normAcc, normNew):
		// Provider resent a fragment we already hold.
	case strings.Contains(normNew, normAcc):
		// Provider resent the longer form.
		a.accumulated = strings.TrimSpace(text)
	default:
		a.accumulated = a.accumulated + " " + strings.TrimSpace(text)
	}
}

func (a *Accumulator) observeInterim(text string) {
	normNew := normalize(text)
	normAcc := normalize(a.accumulated)

	if normAcc != "" {
		if idx := strings.Index(normNew, normAcc); idx >= 0 {
			a.interim = strings.TrimSpace(normNew[idx+len(normAcc):])
			return
		}
	}
	a.interim = strings.TrimSpace(text)
}

// Snapshot returns the finalized text of the current turn, trimmed.
func (a *Accumulator) Snapshot() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return strings.TrimSpace(a.accumulated)
}

// FullForDisplay returns the finalized text plus the trailing interim
// hypothesis, for live captioning only.
func (a *Accumulator) FullForDisplay() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.interim == "" {
		return strings.TrimSpace(a.accumulated)
	}
	if a.accumulated == "" {
		return a.interim
	}
	return strings.TrimSpace(a.accumulated) + " " + a.interim
}

// BeginNewTurn atomically clears both texts and returns the new turn index.
func (a *Accumulator) BeginNewTurn() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.accumulated = ""
	a.interim = ""
	a.hasVoiceEver = false
	a.firstVoiceAt = time.Time{}
	a.turnIndex++
	return a.turnIndex
}

// TurnIndex returns the current turn index.
func (a *Accumulator) TurnIndex() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.turnIndex
}

// HasVoiceEver reports whether any non-empty event arrived this turn.
func (a *Accumulator) HasVoiceEver() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.hasVoiceEver
}

// FirstVoiceAt returns when the first non-empty event of this turn arrived,
// or the zero time when none has.
func (a *Accumulator) FirstVoiceAt() time.Time {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.firstVoiceAt
}

// LastSeenAt returns the arrival time of the most recent event, empty or not.
func (a *Accumulator) LastSeenAt() time.Time {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lastSeenAt
}

// normalize lowercases s and collapses runs of whitespace to single spaces,
// so substring checks ignore formatting differences between provider sends.
func normalize(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}
