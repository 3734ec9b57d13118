package httpapi

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hireloop-ai/hireloop/internal/coding"
	"github.com/hireloop-ai/hireloop/internal/dialogue"
	"github.com/hireloop-ai/hireloop/internal/evaluation"
	"github.com/hireloop-ai/hireloop/internal/interview"
	"github.com/hireloop-ai/hireloop/internal/proctor"
	"github.com/hireloop-ai/hireloop/internal/recording"
	"github.com/hireloop-ai/hireloop/internal/relay"
	"github.com/hireloop-ai/hireloop/internal/session"
	"github.com/hireloop-ai/hireloop/internal/storage"
	"github.com/hireloop-ai/hireloop/internal/transcript"
	"github.com/hireloop-ai/hireloop/pkg/types"
)

// frameBuffer bounds queued camera frames per session. The proctoring loop
// targets 4 fps and drops stale frames itself; a small buffer is enough.
const frameBuffer = 4

// finalizeTimeout bounds post-session work (mux + evaluation). The mux of
// a long recording dominates it.
const finalizeTimeout = 5 * time.Minute

// wavHeaderSize is the byte length of the RIFF header pcm.EncodeWAV
// writes; stripping it recovers the raw samples.
const wavHeaderSize = 44

// runtime is the server-side live state of one candidate session: the
// transcript accumulator fed by the relay, the dialogue controller
// goroutine, the proctoring loop, and the prompt log the browser polls.
type runtime struct {
	srv    *Server
	handle *session.Handle

	acc  *transcript.Accumulator
	corr *transcript.Corrector
	ctrl *dialogue.Controller
	loop *proctor.Loop

	frames chan proctor.Frame
	submit chan struct{}

	codingOnce sync.Once
	codingDone chan struct{}

	mu      sync.Mutex
	prompts []dialogue.Prompt
	coding  *coding.Result
}

// runtimeFor returns the runtime of h, creating and starting it on the
// first call. The boolean reports whether this call created it.
func (s *Server) runtimeFor(ctx context.Context, h *session.Handle) (*runtime, bool, error) {
	if v, ok := s.runtimes.Load(h.ID()); ok {
		return v.(*runtime), false, nil
	}

	rt := &runtime{
		srv:        s,
		handle:     h,
		acc:        transcript.NewAccumulator(),
		frames:     make(chan proctor.Frame, frameBuffer),
		submit:     make(chan struct{}, 1),
		codingDone: make(chan struct{}),
	}
	actual, loaded := s.runtimes.LoadOrStore(h.ID(), rt)
	if loaded {
		return actual.(*runtime), false, nil
	}
	if err := rt.start(ctx); err != nil {
		s.runtimes.Delete(h.ID())
		return nil, false, err
	}
	return rt, true, nil
}

// start wires the controller and the proctoring loop and launches the
// dialogue goroutine. Called exactly once per runtime.
func (rt *runtime) start(ctx context.Context) error {
	s := rt.srv
	snap, err := rt.handle.Snapshot(ctx)
	if err != nil {
		return err
	}

	// The slot carries the interview's company and role; both feed the
	// prompts and the vocabulary corrector.
	var company, role string
	if booking, err := s.cfg.Slots.ActiveBooking(ctx, rt.handle.InterviewID()); err == nil {
		if slot, err := s.cfg.Slots.GetSlot(ctx, booking.SlotID); err == nil {
			company, role = slot.Company, slot.Job
		}
	}
	var vocab []string
	if company != "" {
		vocab = append(vocab, company)
	}
	if role != "" {
		vocab = append(vocab, role)
	}
	if len(vocab) > 0 {
		rt.corr = transcript.NewCorrector(vocab)
	}

	var synth dialogue.Synthesizer
	if s.cfg.Synth != nil {
		synth = &recordingSynth{
			inner:     s.cfg.Synth,
			artifacts: s.cfg.Artifacts,
			rec:       s.cfg.Recorder,
			sessionID: rt.handle.ID(),
		}
	}

	rt.ctrl = dialogue.NewController(dialogue.Config{
		LLM:             s.cfg.LLM,
		TTS:             synth,
		Voice:           voiceFor(s.cfg.Voice, snap.Language),
		Bank:            s.cfg.Bank,
		Transcript:      rt.acc,
		Session:         rt.handle,
		Clock:           s.clk,
		Company:         company,
		Role:            role,
		JobDescription:  snap.JobContext,
		CandidateResume: snap.CandidateContext,
		Language:        snap.Language,
		Difficulty:      snap.Difficulty,
		AIType:          snap.AIType,
		MaxQuestions:    snap.MaxQuestions,
		LLMTimeout:      s.cfg.LLMTimeout,
		TTSTimeout:      s.cfg.TTSTimeout,
		AnswerTimeout:   s.cfg.AnswerTimeout,
		NoVoiceGrace:    s.cfg.NoVoiceGrace,
	})

	// The loop exists even without a camera detector so browser and relay
	// signals (tab switch, noise, speakers) share the same dedup stream.
	rt.loop = proctor.NewLoop(proctor.Config{
		Detector: s.cfg.Detector,
		Fallback: s.cfg.FallbackDet,
		Store:    s.cfg.Artifacts,
		Session:  rt.handle,
		Clock:    s.clk,
		Sink:     metricsSink{srv: s},
	})
	if s.cfg.Detector != nil {
		go func() {
			if err := rt.loop.Run(rt.handle.Context(), rt.frames); err != nil &&
				!errors.Is(err, context.Canceled) {
				slog.Warn("proctoring loop ended", "session_id", rt.handle.ID(), "err", err)
			}
		}()
	}

	// A session that went terminal between redemption and here gets a
	// read-only runtime; the dialogue never restarts.
	if snap.Terminal() {
		return nil
	}

	if s.cfg.Metrics != nil {
		s.cfg.Metrics.ActiveSessions.Add(ctx, 1)
	}
	go rt.runDialogue(rt.handle.Context())
	return nil
}

// runDialogue drives the interviewer loop for the whole session: preamble
// and first question, then one Advance per candidate turn until the
// closing statement. For coding interviews the completion waits for the
// coding round before the session is finished.
func (rt *runtime) runDialogue(ctx context.Context) {
	prompts, err := rt.ctrl.Begin(ctx)
	if err != nil {
		if ctx.Err() == nil {
			slog.Error("dialogue failed to start", "session_id", rt.handle.ID(), "err", err)
			_ = rt.handle.Fail(context.Background(), "dialogue start: "+err.Error())
		}
		return
	}
	rt.appendPrompts(prompts...)

	for {
		p, err := rt.ctrl.Advance(ctx, rt.submit)
		if err != nil {
			if errors.Is(err, dialogue.ErrDialogueOver) {
				break
			}
			if ctx.Err() != nil {
				// Hard window expiry or finalize; the handle already holds
				// the terminal status.
				return
			}
			slog.Error("dialogue turn failed", "session_id", rt.handle.ID(), "err", err)
			_ = rt.handle.Fail(context.Background(), "dialogue: "+err.Error())
			return
		}
		rt.appendPrompts(p)
		if p.Kind == dialogue.PromptClosing {
			break
		}
	}

	snap, err := rt.handle.Snapshot(context.Background())
	if err == nil && snap.AIType == interview.TypeCoding && rt.codingResult() == nil {
		slog.Info("dialogue closed, waiting for coding round", "session_id", rt.handle.ID())
		select {
		case <-rt.codingDone:
		case <-ctx.Done():
		}
	}
	if err := rt.ctrl.Finish(context.Background()); err != nil &&
		!errors.Is(err, session.ErrAlreadyTerminal) && !errors.Is(err, session.ErrClosed) {
		slog.Warn("dialogue finish", "session_id", rt.handle.ID(), "err", err)
	}
}

func (rt *runtime) appendPrompts(ps ...dialogue.Prompt) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.prompts = append(rt.prompts, ps...)
}

// promptsAfter returns the prompts past index after, for state polling.
func (rt *runtime) promptsAfter(after int) []dialogue.Prompt {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if after < 0 {
		after = 0
	}
	if after >= len(rt.prompts) {
		return nil
	}
	return append([]dialogue.Prompt(nil), rt.prompts[after:]...)
}

func (rt *runtime) setCodingResult(res coding.Result) {
	rt.mu.Lock()
	rt.coding = &res
	rt.mu.Unlock()
	rt.codingOnce.Do(func() { close(rt.codingDone) })
}

func (rt *runtime) codingResult() *coding.Result {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return rt.coding
}

// onRelayEvent feeds relay side effects into the session: diarized
// multi-speaker finals become proctoring signals, a permanent stream
// failure flips the dialogue to text-only mode.
func (rt *runtime) onRelayEvent(ev relay.Event) {
	ctx := rt.handle.Context()
	switch {
	case ev.Type == relay.EventFinal && ev.Speakers > 1:
		rt.loop.Signal(ctx, proctor.KindMultipleSpeakers)
	case ev.Type == relay.EventEnded && ev.Err != nil:
		rt.ctrl.StreamEnded(context.Background(), ev.Err)
	}
}

// OnTerminal is the redeemer hook: it snapshots the runtime, finalizes
// the recording, assembles the evaluation, and persists the interview's
// terminal status. Runs detached so the session mailbox is never blocked.
func (s *Server) OnTerminal(sess session.Session) {
	go s.finalizeSession(sess)
}

func (s *Server) finalizeSession(sess session.Session) {
	ctx, cancel := context.WithTimeout(context.Background(), finalizeTimeout)
	defer cancel()

	in := evaluation.Input{Session: sess}
	if v, ok := s.runtimes.Load(sess.ID); ok {
		rt := v.(*runtime)
		in.TurnScores = rt.ctrl.TurnScores()
		in.Coding = rt.codingResult()
		in.Warnings = rt.loop.Warnings()
		s.runtimes.Delete(sess.ID)
		if s.cfg.Metrics != nil {
			s.cfg.Metrics.ActiveSessions.Add(ctx, -1)
		}
	}

	if err := s.cfg.Records.SetStatus(ctx, sess.InterviewID, sess.Status); err != nil {
		slog.Warn("interview status not persisted",
			"interview_id", sess.InterviewID, "status", sess.Status, "err", err)
	}

	if s.cfg.Recorder != nil && s.cfg.Recorder.HasUpload(sess.ID) {
		started := s.clk.Now()
		if _, err := s.cfg.Recorder.Finalize(ctx, sess.ID); err != nil {
			slog.Warn("recording finalize failed", "session_id", sess.ID, "err", err)
		}
		if s.cfg.Metrics != nil {
			s.cfg.Metrics.MuxDuration.Record(ctx, s.clk.Since(started).Seconds())
		}
	}

	if s.cfg.Assembler != nil {
		if _, err := s.cfg.Assembler.Assemble(ctx, in); err != nil {
			slog.Error("evaluation assembly failed",
				"session_id", sess.ID, "interview_id", sess.InterviewID, "err", err)
		}
	}
}

// recordingSynth layers the session's TTS audio track onto the synthesis
// path: every clip delivered to the candidate is also appended, as raw
// PCM, to the recording's interviewer track.
type recordingSynth struct {
	inner     dialogue.Synthesizer
	artifacts *storage.Store
	rec       *recording.Recorder
	sessionID uuid.UUID
}

func (rs *recordingSynth) Synthesize(ctx context.Context, text string, voice types.VoiceProfile) (string, error) {
	ref, err := rs.inner.Synthesize(ctx, text, voice)
	if err != nil {
		return "", err
	}
	if rs.rec != nil && rs.artifacts != nil {
		if f, openErr := rs.artifacts.Open(ref); openErr == nil {
			data, readErr := io.ReadAll(f)
			f.Close()
			if readErr == nil && len(data) > wavHeaderSize {
				if appendErr := rs.rec.AppendTTS(rs.sessionID, data[wavHeaderSize:]); appendErr != nil {
					slog.Warn("tts track append failed", "session_id", rs.sessionID, "err", appendErr)
				}
			}
		}
	}
	return ref, nil
}

// metricsSink counts emitted warnings.
type metricsSink struct{ srv *Server }

func (ms metricsSink) Record(ctx context.Context, w proctor.WarningEvent) error {
	if ms.srv.cfg.Metrics != nil {
		ms.srv.cfg.Metrics.RecordWarning(ctx, string(w.Kind))
	}
	return nil
}

// voiceFor defaults the voice's language to the session's.
func voiceFor(v types.VoiceProfile, language string) types.VoiceProfile {
	if v.Language == "" {
		v.Language = language
	}
	return v
}
