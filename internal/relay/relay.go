// Package relay bridges the candidate's microphone stream to the speech
// provider: binary PCM frames flow upstream, recognition events flow back
// into the transcript accumulator and out to the browser. A dropped
// provider connection is retried with short backoff; when the retries are
// spent the relay ends the stream and the interview continues in text-only
// mode.
package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hireloop-ai/hireloop/internal/clock"
	"github.com/hireloop-ai/hireloop/internal/transcript"
	"github.com/hireloop-ai/hireloop/pkg/provider/stt"
	"github.com/hireloop-ai/hireloop/pkg/types"
)

// reconnectBackoff is the wait before each provider reconnect attempt.
// len(reconnectBackoff) is the attempt budget.
var reconnectBackoff = []time.Duration{250 * time.Millisecond, 500 * time.Millisecond, time.Second}

// closeDrainTimeout bounds how long the relay waits for trailing finals
// after the browser side closes.
const closeDrainTimeout = 500 * time.Millisecond

// EventType labels relay events. The wire values match the browser
// protocol.
type EventType string

const (
	EventInterim EventType = "interim"
	EventFinal   EventType = "final"
	EventEnded   EventType = "ended"
)

// Event is one recognition event, or the end-of-stream marker.
type Event struct {
	Type EventType
	Text string
	At   time.Time

	// Speakers is the distinct diarized speaker count on final events,
	// 0 when the provider does not diarize. The proctoring loop turns
	// counts above one into MultipleSpeakers warnings.
	Speakers int

	// Err is set on an Ended event produced by provider failure.
	Err error
}

// Option configures a [Relay].
type Option func(*Relay)

// WithClock overrides the clock used for event timestamps.
func WithClock(clk clock.Clock) Option {
	return func(r *Relay) { r.clk = clk }
}

// WithCorrector rewrites finalized text against the interview's domain
// vocabulary before it reaches the accumulator.
func WithCorrector(c *transcript.Corrector) Option {
	return func(r *Relay) { r.corrector = c }
}

// WithStreamConfig replaces the provider stream parameters entirely.
func WithStreamConfig(cfg stt.StreamConfig) Option {
	return func(r *Relay) { r.streamCfg = cfg }
}

// Relay pumps one session's audio to the speech provider and recognition
// events back. Create one per STT connection; Run may only be called once.
type Relay struct {
	provider  stt.Provider
	acc       *transcript.Accumulator
	corrector *transcript.Corrector
	clk       clock.Clock
	streamCfg stt.StreamConfig

	events chan Event
}

// New builds a Relay feeding acc. The default stream parameters follow the
// dialogue contract: 16 kHz mono, 500 ms endpointing, 2 s utterance end,
// interim results on.
func New(provider stt.Provider, acc *transcript.Accumulator, language, model string, opts ...Option) *Relay {
	r := &Relay{
		provider: provider,
		acc:      acc,
		clk:      clock.System{},
		events:   make(chan Event, 64),
		streamCfg: stt.StreamConfig{
			Language:       language,
			Model:          model,
			SampleRate:     16000,
			Channels:       1,
			EndpointingMs:  500,
			UtteranceEndMs: 2000,
			InterimResults: true,
			Diarize:        true,
		},
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Events returns the relay's event stream. It is closed after the Ended
// event when Run returns.
func (r *Relay) Events() <-chan Event { return r.events }

// Run pumps until audio closes, ctx is canceled, or the provider fails
// permanently. audio carries raw PCM16LE frames from the browser.
func (r *Relay) Run(ctx context.Context, audio <-chan []byte) error {
	defer close(r.events)

	sess, err := r.provider.StartStream(ctx, r.streamCfg)
	if err != nil {
		sess, err = r.reconnect(ctx, err)
		if err != nil {
			r.emit(ctx, Event{Type: EventEnded, At: r.clk.Now(), Err: err})
			return err
		}
	}

	for {
		select {
		case <-ctx.Done():
			_ = sess.Close()
			r.emit(context.Background(), Event{Type: EventEnded, At: r.clk.Now()})
			return ctx.Err()

		case chunk, ok := <-audio:
			if !ok {
				// Browser closed. Stop sending, collect trailing finals,
				// then end the stream.
				r.drainOnClose(ctx, sess)
				r.emit(ctx, Event{Type: EventEnded, At: r.clk.Now()})
				return nil
			}
			if err := sess.SendAudio(chunk); err != nil {
				slog.Warn("stt send failed, reconnecting", "err", err)
				_ = sess.Close()
				sess, err = r.reconnect(ctx, err)
				if err != nil {
					r.emit(ctx, Event{Type: EventEnded, At: r.clk.Now(), Err: err})
					return err
				}
			}

		case t, ok := <-sess.Results():
			if !ok {
				slog.Warn("stt result stream dropped, reconnecting")
				err := errors.New("relay: provider closed the stream")
				sess, err = r.reconnect(ctx, err)
				if err != nil {
					r.emit(ctx, Event{Type: EventEnded, At: r.clk.Now(), Err: err})
					return err
				}
				continue
			}
			r.observe(ctx, t)
		}
	}
}

// reconnect retries StartStream over the backoff schedule. cause is the
// error that triggered it, returned wrapped when the budget runs out.
func (r *Relay) reconnect(ctx context.Context, cause error) (stt.SessionHandle, error) {
	for attempt, wait := range reconnectBackoff {
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return nil, ctx.Err()
		}

		sess, err := r.provider.StartStream(ctx, r.streamCfg)
		if err == nil {
			slog.Info("stt reconnected", "attempt", attempt+1)
			return sess, nil
		}
		cause = err
		slog.Warn("stt reconnect failed", "attempt", attempt+1, "err", err)
	}
	return nil, fmt.Errorf("relay: provider unavailable after %d attempts: %w", len(reconnectBackoff), cause)
}

// drainOnClose closes the provider session and consumes trailing results
// for a short bounded window.
func (r *Relay) drainOnClose(ctx context.Context, sess stt.SessionHandle) {
	_ = sess.Close()
	deadline := time.NewTimer(closeDrainTimeout)
	defer deadline.Stop()
	for {
		select {
		case t, ok := <-sess.Results():
			if !ok {
				return
			}
			r.observe(ctx, t)
		case <-deadline.C:
			return
		case <-ctx.Done():
			return
		}
	}
}

// observe applies one provider transcript to the accumulator and emits the
// browser-facing event.
func (r *Relay) observe(ctx context.Context, t types.Transcript) {
	now := r.clk.Now()
	text := t.Text
	if t.IsFinal && r.corrector != nil {
		text, _ = r.corrector.Correct(text)
	}
	r.acc.Observe(transcript.Event{Text: text, IsFinal: t.IsFinal, ArrivedAt: now})

	ev := Event{At: now}
	if t.IsFinal {
		ev.Type = EventFinal
		ev.Text = r.acc.Snapshot()
		ev.Speakers = t.SpeakerCount()
	} else {
		ev.Type = EventInterim
		ev.Text = r.acc.FullForDisplay()
	}
	r.emit(ctx, ev)
}

// emit delivers ev, dropping interims (never finals or ended) when the
// consumer is behind.
func (r *Relay) emit(ctx context.Context, ev Event) {
	if ev.Type == EventInterim {
		select {
		case r.events <- ev:
		default:
		}
		return
	}
	select {
	case r.events <- ev:
	case <-ctx.Done():
	}
}
