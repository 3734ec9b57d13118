// Package httpapi exposes the interview platform over HTTP: the
// recruiter-facing admin surface (slots, bookings, access tokens,
// evaluations) and the candidate surface (portal, speech websocket, media
// uploads, coding round, finalize). Admin routes require the configured
// bearer token; candidate routes authenticate with the interview's access
// token, which doubles as the resume mechanism.
package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hireloop-ai/hireloop/internal/clock"
	"github.com/hireloop-ai/hireloop/internal/coding"
	"github.com/hireloop-ai/hireloop/internal/dialogue"
	"github.com/hireloop-ai/hireloop/internal/evaluation"
	"github.com/hireloop-ai/hireloop/internal/interview"
	"github.com/hireloop-ai/hireloop/internal/interview/ivstore"
	"github.com/hireloop-ai/hireloop/internal/interview/slotstore"
	"github.com/hireloop-ai/hireloop/internal/observe"
	"github.com/hireloop-ai/hireloop/internal/questionbank"
	"github.com/hireloop-ai/hireloop/internal/recording"
	"github.com/hireloop-ai/hireloop/internal/session"
	"github.com/hireloop-ai/hireloop/internal/storage"
	"github.com/hireloop-ai/hireloop/internal/token"
	"github.com/hireloop-ai/hireloop/pkg/provider/llm"
	"github.com/hireloop-ai/hireloop/pkg/provider/stt"
	"github.com/hireloop-ai/hireloop/pkg/provider/vision"
	"github.com/hireloop-ai/hireloop/pkg/types"
)

// Config wires a Server. Stores and the redeemer are required; providers
// may be nil, in which case the corresponding pipeline degrades (no audio,
// no proctoring, text-only dialogue is still impossible without an LLM, so
// LLM is required too).
type Config struct {
	Clock    clock.Clock
	Slots    slotstore.Store
	Records  ivstore.Store
	Evals    evaluation.Store
	Issuer   *token.Issuer
	Redeemer *session.Redeemer
	Registry *session.Registry
	Metrics  *observe.Metrics

	// AdminToken guards the recruiter routes. Empty disables the check,
	// which is only sensible in dev mode.
	AdminToken string

	// DefaultSlotDuration is applied when a slot is created without an end
	// time.
	DefaultSlotDuration time.Duration

	// Runtime dependencies, consumed when a candidate goes live.
	STT         stt.Provider
	Synth       dialogue.Synthesizer
	Voice       types.VoiceProfile
	LLM         llm.Provider
	Bank        *questionbank.Bank
	Detector    vision.Detector
	FallbackDet vision.Detector
	Recorder    *recording.Recorder
	Artifacts   *storage.Store
	Assembler   *evaluation.Assembler
	Coder       *coding.Evaluator

	// Dialogue pacing, passed through to each session's controller.
	LLMTimeout      time.Duration
	TTSTimeout      time.Duration
	AnswerTimeout   time.Duration
	NoVoiceGrace    time.Duration
	STTEndpointing  int
	STTUtteranceEnd int
}

// Server carries the handlers and the per-session runtimes.
type Server struct {
	cfg Config
	clk clock.Clock

	// runtimes maps session id to its live runtime. Entries are removed
	// when the terminal hook has drained the session.
	runtimes sync.Map
}

// NewServer builds a Server. Call [Server.OnTerminal] into the redeemer's
// OnTerminal hook so finished sessions get finalized and evaluated.
func NewServer(cfg Config) *Server {
	if cfg.Clock == nil {
		cfg.Clock = clock.System{}
	}
	if cfg.DefaultSlotDuration == 0 {
		cfg.DefaultSlotDuration = 10 * time.Minute
	}
	return &Server{cfg: cfg, clk: cfg.Clock}
}

// Handler returns the full route table. Admin routes are wrapped in the
// bearer-token check; candidate routes authenticate per request via the
// access token.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Admin surface.
	mux.Handle("POST /slots", s.admin(s.handleCreateSlot))
	mux.Handle("POST /slots/recurring", s.admin(s.handleCreateRecurring))
	mux.Handle("GET /slots", s.admin(s.handleSearchSlots))
	mux.Handle("POST /slots/{id}/book", s.admin(s.handleBook))
	mux.Handle("POST /bookings/{id}/cancel", s.admin(s.handleCancelBooking))
	mux.Handle("POST /interviews", s.admin(s.handleCreateInterview))
	mux.Handle("POST /interviews/{id}/access-token", s.admin(s.handleIssueToken))
	mux.Handle("GET /interviews/{id}/evaluation", s.admin(s.handleGetEvaluation))

	// Candidate surface.
	mux.HandleFunc("GET /portal", s.handlePortal)
	mux.HandleFunc("GET /session/state", s.handleSessionState)
	mux.HandleFunc("GET /stt", s.handleSTT)
	mux.HandleFunc("POST /audio/chunks", s.handleAudioChunk)
	mux.HandleFunc("POST /audio/mic", s.handleMicAudio)
	mux.HandleFunc("POST /session/submit", s.handleSubmit)
	mux.HandleFunc("POST /session/answer", s.handleTypedAnswer)
	mux.HandleFunc("POST /session/signal", s.handleSignal)
	mux.HandleFunc("POST /session/frame", s.handleFrame)
	mux.HandleFunc("POST /session/coding", s.handleCoding)
	mux.HandleFunc("POST /session/finalize", s.handleFinalize)

	if s.cfg.Metrics != nil {
		return observe.Middleware(s.cfg.Metrics)(mux)
	}
	return mux
}

// admin wraps h with the bearer-token check.
func (s *Server) admin(h http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.AdminToken != "" {
			got := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
			if got == "" || got != s.cfg.AdminToken {
				writeError(w, http.StatusUnauthorized, "Unauthorized", "missing or invalid bearer token")
				return
			}
		}
		h(w, r)
	})
}

// ─── response helpers ────────────────────────────────────────────────────

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("write response", "err", err)
	}
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorBody{Error: code, Message: message})
}

// writeStoreError maps the domain sentinel errors onto the wire taxonomy:
// capacity conflicts are 409, missing rows 404, everything unexpected 500.
func writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, interview.ErrSlotFull):
		writeError(w, http.StatusConflict, "SlotFull", err.Error())
	case errors.Is(err, interview.ErrSlotCanceled):
		writeError(w, http.StatusConflict, "Canceled", err.Error())
	case errors.Is(err, interview.ErrAlreadyBooked):
		writeError(w, http.StatusConflict, "AlreadyBooked", err.Error())
	case errors.Is(err, interview.ErrSlotOverlap):
		writeError(w, http.StatusConflict, "OverlapsExisting", err.Error())
	case errors.Is(err, interview.ErrSlotNotFound),
		errors.Is(err, interview.ErrBookingNotFound),
		errors.Is(err, interview.ErrInterviewNotFound),
		errors.Is(err, evaluation.ErrNotFound):
		writeError(w, http.StatusNotFound, "NotFound", err.Error())
	case errors.Is(err, interview.ErrNoScheduledStart):
		writeError(w, http.StatusBadRequest, "Validation", err.Error())
	default:
		slog.Error("request failed", "err", err)
		writeError(w, http.StatusInternalServerError, "Internal", "internal error")
	}
}

func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func pathID(r *http.Request) (uuid.UUID, error) {
	return uuid.Parse(r.PathValue("id"))
}
