package httpapi

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/hireloop-ai/hireloop/internal/coding"
	"github.com/hireloop-ai/hireloop/internal/dialogue"
	"github.com/hireloop-ai/hireloop/internal/interview"
	"github.com/hireloop-ai/hireloop/internal/proctor"
	"github.com/hireloop-ai/hireloop/internal/questionbank"
	"github.com/hireloop-ai/hireloop/internal/relay"
	"github.com/hireloop-ai/hireloop/internal/session"
	"github.com/hireloop-ai/hireloop/internal/token"
	"github.com/hireloop-ai/hireloop/internal/transcript"
)

// maxUploadBytes bounds a single media upload request body.
const maxUploadBytes = 8 << 20

// promptView is the wire form of an interviewer prompt.
type promptView struct {
	Seq           int    `json:"seq"`
	Kind          string `json:"kind"`
	Text          string `json:"text"`
	AudioRef      string `json:"audio_ref,omitempty"`
	QuestionIndex int    `json:"question_index,omitempty"`
}

func promptViews(ps []dialogue.Prompt) []promptView {
	out := make([]promptView, 0, len(ps))
	for _, p := range ps {
		out = append(out, promptView{
			Seq:           p.Seq,
			Kind:          string(p.Kind),
			Text:          p.Text,
			AudioRef:      p.AudioRef,
			QuestionIndex: p.QuestionIndex,
		})
	}
	return out
}

// handlePortal is the candidate's entry point. The token decides the view:
// a valid one inside its window joins (or resumes) the session, one ahead
// of its window gets a countdown, one past it a closed page. Token
// tampering is a plain 401; the candidate-facing views are reserved for
// well-signed tokens.
func (s *Server) handlePortal(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("token")
	if raw == "" {
		writeError(w, http.StatusUnauthorized, "Unauthorized", "token required")
		return
	}

	h, err := s.cfg.Redeemer.Redeem(r.Context(), raw)
	if err != nil {
		s.recordRedemption(r.Context(), "rejected")
		var early *token.TooEarlyError
		switch {
		case errors.As(err, &early):
			writeJSON(w, http.StatusOK, map[string]any{
				"view":              "too_early",
				"seconds_remaining": early.SecondsUntilValid,
			})
		case errors.Is(err, token.ErrExpired):
			writeJSON(w, http.StatusOK, map[string]any{"view": "expired"})
		case errors.Is(err, session.ErrAlreadyTerminal):
			writeJSON(w, http.StatusOK, map[string]any{"view": "complete"})
		case errors.Is(err, session.ErrCanceled):
			writeError(w, http.StatusConflict, "Canceled", "the booking for this interview was canceled")
		case errors.Is(err, interview.ErrInterviewNotFound):
			writeError(w, http.StatusNotFound, "NotFound", err.Error())
		case errors.Is(err, token.ErrMalformed),
			errors.Is(err, token.ErrInvalidSignature),
			errors.Is(err, token.ErrUnknownKey):
			writeError(w, http.StatusUnauthorized, "Unauthorized", "invalid token")
		default:
			writeStoreError(w, err)
		}
		return
	}

	rt, created, err := s.runtimeFor(r.Context(), h)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if created {
		s.recordRedemption(r.Context(), "created")
	} else {
		s.recordRedemption(r.Context(), "resumed")
	}

	snap, err := h.Snapshot(r.Context())
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"view":         "interview",
		"session_id":   h.ID(),
		"interview_id": h.InterviewID(),
		"language":     snap.Language,
		"ai_type":      snap.AIType,
		"difficulty":   snap.Difficulty,
		"status":       snap.Status,
		"state":        snap.DialogueState,
		"valid_until":  h.ValidUntil().Format(time.RFC3339),
		"prompts":      promptViews(rt.promptsAfter(0)),
	})
}

// sessionFromToken authenticates a candidate request and returns its live
// runtime. On failure it has already written the response.
func (s *Server) sessionFromToken(w http.ResponseWriter, r *http.Request) (*runtime, bool) {
	raw := r.URL.Query().Get("token")
	if raw == "" {
		writeError(w, http.StatusUnauthorized, "Unauthorized", "token required")
		return nil, false
	}
	h, err := s.cfg.Redeemer.Redeem(r.Context(), raw)
	if err != nil {
		var early *token.TooEarlyError
		switch {
		case errors.Is(err, session.ErrAlreadyTerminal):
			writeError(w, http.StatusConflict, "Conflict", "session already finished")
		case errors.Is(err, session.ErrCanceled):
			writeError(w, http.StatusConflict, "Canceled", "booking canceled")
		case errors.Is(err, interview.ErrInterviewNotFound):
			writeError(w, http.StatusNotFound, "NotFound", err.Error())
		case errors.As(err, &early), errors.Is(err, token.ErrExpired),
			errors.Is(err, token.ErrMalformed),
			errors.Is(err, token.ErrInvalidSignature),
			errors.Is(err, token.ErrUnknownKey):
			writeError(w, http.StatusUnauthorized, "Unauthorized", "invalid token")
		default:
			writeStoreError(w, err)
		}
		return nil, false
	}
	rt, _, err := s.runtimeFor(r.Context(), h)
	if err != nil {
		writeStoreError(w, err)
		return nil, false
	}
	return rt, true
}

// handleSessionState is the portal's poll endpoint: lifecycle, dialogue
// position, the live caption, and any prompts past the ?after= sequence.
func (s *Server) handleSessionState(w http.ResponseWriter, r *http.Request) {
	rt, ok := s.sessionFromToken(w, r)
	if !ok {
		return
	}
	after := 0
	if v := r.URL.Query().Get("after"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Validation", "after must be an integer")
			return
		}
		after = n
	}
	snap, err := rt.handle.Snapshot(r.Context())
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":          snap.Status,
		"state":           snap.DialogueState,
		"question_index":  snap.QuestionIndex,
		"awaiting_answer": snap.AwaitingAnswer,
		"coding_active":   snap.CodingActive,
		"warning_count":   snap.WarningCount,
		"caption":         rt.acc.FullForDisplay(),
		"prompts":         promptViews(rt.promptsAfter(after)),
		"valid_until":     rt.handle.ValidUntil().Format(time.RFC3339),
	})
}

// handleSTT upgrades to a websocket and relays the candidate's microphone
// stream to the speech provider for the rest of the session.
func (s *Server) handleSTT(w http.ResponseWriter, r *http.Request) {
	if s.cfg.STT == nil {
		writeError(w, http.StatusServiceUnavailable, "Unavailable", "speech recognition is not configured")
		return
	}
	rt, ok := s.sessionFromToken(w, r)
	if !ok {
		return
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		slog.Warn("stt accept failed", "session_id", rt.handle.ID(), "err", err)
		return
	}
	defer conn.Close(websocket.StatusInternalError, "relay ended")

	ctx := rt.handle.Context()
	clientCfg, err := relay.ReadClientConfig(ctx, conn)
	if err != nil {
		conn.Close(websocket.StatusUnsupportedData, "bad config frame")
		return
	}

	opts := []relay.Option{
		relay.WithClock(s.clk),
		relay.WithStreamConfig(relay.StreamConfigFor(clientCfg, s.cfg.STTEndpointing, s.cfg.STTUtteranceEnd)),
	}
	if rt.corr != nil {
		opts = append(opts, relay.WithCorrector(rt.corr))
	}
	rl := relay.New(s.cfg.STT, rt.acc, clientCfg.Language, clientCfg.Model, opts...)

	if s.cfg.Metrics != nil {
		s.cfg.Metrics.ActiveRelays.Add(ctx, 1)
		defer s.cfg.Metrics.ActiveRelays.Add(context.Background(), -1)
	}

	if err := relay.ServeConn(ctx, conn, rl, rt.onRelayEvent); err != nil {
		slog.Warn("stt relay ended", "session_id", rt.handle.ID(), "err", err)
		return
	}
	conn.Close(websocket.StatusNormalClosure, "")
}

// handleAudioChunk appends one container chunk of the browser's combined
// recording upload.
func (s *Server) handleAudioChunk(w http.ResponseWriter, r *http.Request) {
	s.appendMedia(w, r, func(rt *runtime, data []byte) error {
		return s.cfg.Recorder.AppendChunk(rt.handle.ID(), data)
	})
}

// handleMicAudio appends raw microphone PCM to the candidate track.
func (s *Server) handleMicAudio(w http.ResponseWriter, r *http.Request) {
	s.appendMedia(w, r, func(rt *runtime, data []byte) error {
		return s.cfg.Recorder.AppendMic(rt.handle.ID(), data)
	})
}

func (s *Server) appendMedia(w http.ResponseWriter, r *http.Request, appendFn func(*runtime, []byte) error) {
	if s.cfg.Recorder == nil {
		writeError(w, http.StatusServiceUnavailable, "Unavailable", "recording is not configured")
		return
	}
	rt, ok := s.sessionFromToken(w, r)
	if !ok {
		return
	}
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxUploadBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Validation", "body too large or unreadable")
		return
	}
	if len(data) == 0 {
		writeError(w, http.StatusBadRequest, "Validation", "empty body")
		return
	}
	if err := appendFn(rt, data); err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"accepted": true, "bytes": len(data)})
}

// handleSubmit ends the candidate's current answer turn. Duplicate submits
// while one is pending collapse into the buffered signal.
func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	rt, ok := s.sessionFromToken(w, r)
	if !ok {
		return
	}
	select {
	case rt.submit <- struct{}{}:
	default:
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"accepted": true})
}

// handleTypedAnswer is the text fallback: the typed answer enters the
// transcript as a final utterance and the turn is submitted.
func (s *Server) handleTypedAnswer(w http.ResponseWriter, r *http.Request) {
	rt, ok := s.sessionFromToken(w, r)
	if !ok {
		return
	}
	var req struct {
		Text string `json:"text"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Validation", err.Error())
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		writeError(w, http.StatusBadRequest, "Validation", "text is required")
		return
	}
	rt.acc.Observe(transcript.Event{Text: req.Text, IsFinal: true, ArrivedAt: s.clk.Now()})
	select {
	case rt.submit <- struct{}{}:
	default:
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"accepted": true})
}

// browserSignals maps the signals the client may raise to warning kinds.
// Camera-derived kinds come only from the detector.
var browserSignals = map[string]proctor.Kind{
	"tab_switch":        proctor.KindTabSwitch,
	"noise_burst":       proctor.KindNoiseBurst,
	"multiple_speakers": proctor.KindMultipleSpeakers,
}

// handleSignal raises a browser-side proctoring signal.
func (s *Server) handleSignal(w http.ResponseWriter, r *http.Request) {
	rt, ok := s.sessionFromToken(w, r)
	if !ok {
		return
	}
	var req struct {
		Kind string `json:"kind"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Validation", err.Error())
		return
	}
	kind, known := browserSignals[req.Kind]
	if !known {
		writeError(w, http.StatusBadRequest, "Validation", "unknown signal kind")
		return
	}
	rt.loop.Signal(r.Context(), kind)
	writeJSON(w, http.StatusAccepted, map[string]any{"accepted": true})
}

// handleFrame ingests one webcam frame for visual proctoring. Frames past
// the buffer are dropped; the loop samples, it does not consume a video
// stream.
func (s *Server) handleFrame(w http.ResponseWriter, r *http.Request) {
	rt, ok := s.sessionFromToken(w, r)
	if !ok {
		return
	}
	if s.cfg.Detector == nil {
		writeJSON(w, http.StatusAccepted, map[string]any{"accepted": false})
		return
	}
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxUploadBytes))
	if err != nil || len(data) == 0 {
		writeError(w, http.StatusBadRequest, "Validation", "frame body required")
		return
	}
	select {
	case rt.frames <- proctor.Frame{JPEG: data, At: s.clk.Now()}:
	default:
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"accepted": true})
}

// handleCoding runs the coding round: the dialogue suspends its inactivity
// timers, the submission executes against the question's cases, and the
// dialogue resumes with the result recorded.
func (s *Server) handleCoding(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Coder == nil {
		writeError(w, http.StatusServiceUnavailable, "Unavailable", "coding evaluation is not configured")
		return
	}
	rt, ok := s.sessionFromToken(w, r)
	if !ok {
		return
	}
	var req struct {
		QuestionID uuid.UUID `json:"question_id"`
		Language   string    `json:"language"`
		Source     string    `json:"source"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Validation", err.Error())
		return
	}
	if strings.TrimSpace(req.Source) == "" {
		writeError(w, http.StatusBadRequest, "Validation", "source is required")
		return
	}

	if err := rt.ctrl.SuspendForCoding(r.Context()); err != nil {
		writeStoreError(w, err)
		return
	}
	res, err := s.cfg.Coder.Evaluate(r.Context(), coding.Submission{
		QuestionID: req.QuestionID,
		Language:   coding.Language(req.Language),
		Source:     req.Source,
	})
	if resumeErr := rt.ctrl.ResumeFromCoding(r.Context()); resumeErr != nil {
		slog.Warn("dialogue resume after coding", "session_id", rt.handle.ID(), "err", resumeErr)
	}
	if err != nil {
		switch {
		case errors.Is(err, coding.ErrUnsupportedLanguage):
			writeError(w, http.StatusBadRequest, "Validation", err.Error())
		case errors.Is(err, questionbank.ErrQuestionNotFound):
			writeError(w, http.StatusNotFound, "NotFound", err.Error())
		default:
			writeStoreError(w, err)
		}
		return
	}
	rt.setCodingResult(res)

	cases := make([]map[string]any, 0, len(res.Cases))
	for _, c := range res.Cases {
		cases = append(cases, map[string]any{
			"case_id":    c.CaseID,
			"passed":     c.Passed,
			"runtime_ms": c.RuntimeMs,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"question_id": res.QuestionID,
		"language":    res.Language,
		"pass_ratio":  res.PassRatio,
		"combined":    res.Combined,
		"cases":       cases,
		"review": map[string]any{
			"score":        res.Review.Score,
			"strengths":    res.Review.Strengths,
			"improvements": res.Review.Improvements,
			"feedback":     res.Review.Feedback,
		},
	})
}

// handleFinalize ends the session at the candidate's request. A live
// session completes; one that never got past scheduled counts as
// abandoned. The terminal hook takes care of the recording and the
// evaluation.
func (s *Server) handleFinalize(w http.ResponseWriter, r *http.Request) {
	rt, ok := s.sessionFromToken(w, r)
	if !ok {
		return
	}
	err := rt.handle.Transition(r.Context(), interview.InterviewCompleted, "candidate finalized")
	if err != nil && !errors.Is(err, session.ErrAlreadyTerminal) {
		err = rt.handle.Transition(r.Context(), interview.InterviewAbandoned, "finalized before going live")
	}
	if err != nil && !errors.Is(err, session.ErrAlreadyTerminal) {
		writeStoreError(w, err)
		return
	}
	snap, err := rt.handle.Snapshot(r.Context())
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"session_id": rt.handle.ID(),
		"status":     snap.Status,
	})
}

func (s *Server) recordRedemption(ctx context.Context, outcome string) {
	if s.cfg.Metrics != nil {
		s.cfg.Metrics.RecordTokenRedemption(ctx, outcome)
	}
}
