package httpapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/hireloop-ai/hireloop/internal/clock"
	"github.com/hireloop-ai/hireloop/internal/evaluation"
	"github.com/hireloop-ai/hireloop/internal/interview/ivstore"
	"github.com/hireloop-ai/hireloop/internal/interview/slotstore"
	"github.com/hireloop-ai/hireloop/internal/questionbank"
	"github.com/hireloop-ai/hireloop/internal/session"
	"github.com/hireloop-ai/hireloop/internal/storage"
	"github.com/hireloop-ai/hireloop/internal/token"
	"github.com/hireloop-ai/hireloop/pkg/provider/llm"
	"github.com/hireloop-ai/hireloop/pkg/provider/llm/mock"
)

const testAdminToken = "test-admin-token"

// testNow is 14:00 IST on a Monday.
var testNow = time.Date(2026, 3, 2, 8, 30, 0, 0, time.UTC)

type env struct {
	srv     *Server
	handler http.Handler
	clk     *clock.Fake
	slots   *slotstore.MemStore
	records *ivstore.MemStore
	evals   *evaluation.MemStore
	issuer  *token.Issuer
	llm     *mock.Provider
}

// newEnv builds a fully wired server on in-memory stores: no TTS, no STT,
// no camera detector, so the dialogue runs text-only and proctoring
// accepts only browser signals.
func newEnv(t *testing.T, llmProv *mock.Provider) *env {
	t.Helper()

	signer, err := token.NewSigner(token.KeyRing{"default": []byte("test-secret")}, "default")
	if err != nil {
		t.Fatalf("NewSigner: %v", err)
	}
	clk := clock.NewFake(testNow)
	slots := slotstore.NewMemStore(clk)
	records := ivstore.NewMemStore()
	evals := evaluation.NewMemStore()
	registry := session.NewRegistry(clk)
	issuer := token.NewIssuer(signer, clk, 15*time.Minute, 10*time.Minute)
	artifacts, err := storage.New(t.TempDir())
	if err != nil {
		t.Fatalf("storage.New: %v", err)
	}

	var srv *Server
	redeemer := session.NewRedeemer(session.RedeemerConfig{
		Signer: signer,
		Clock:  clk,
		Interviews: &ivstore.Bridge{
			Interviews:   records,
			Slots:        slots,
			MaxQuestions: 1,
		},
		Registry:   registry,
		OnTerminal: func(s session.Session) { srv.OnTerminal(s) },
	})

	srv = NewServer(Config{
		Clock:      clk,
		Slots:      slots,
		Records:    records,
		Evals:      evals,
		Issuer:     issuer,
		Redeemer:   redeemer,
		Registry:   registry,
		AdminToken: testAdminToken,
		LLM:        llmProv,
		Bank:       questionbank.NewBank(questionbank.NewMemStore(), nil),
		Artifacts:  artifacts,
		Assembler:  evaluation.NewAssembler(evals, artifacts, nil, evaluation.WithClock(clk)),
	})

	return &env{
		srv:     srv,
		handler: srv.Handler(),
		clk:     clk,
		slots:   slots,
		records: records,
		evals:   evals,
		issuer:  issuer,
		llm:     llmProv,
	}
}

// do performs one request against the route table. A non-nil body is JSON
// encoded; admin adds the bearer header.
func (e *env) do(t *testing.T, method, path string, body any, admin bool) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if admin {
		req.Header.Set("Authorization", "Bearer "+testAdminToken)
	}
	rr := httptest.NewRecorder()
	e.handler.ServeHTTP(rr, req)
	return rr
}

func decodeResp(t *testing.T, rr *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(rr.Body.Bytes(), v); err != nil {
		t.Fatalf("decode response %q: %v", rr.Body.String(), err)
	}
}

// createSlot makes one slot at 14:00 IST today and returns its id.
func (e *env) createSlot(t *testing.T, capacity int) uuid.UUID {
	t.Helper()
	rr := e.do(t, http.MethodPost, "/slots", map[string]any{
		"company":  "Acme",
		"job":      "Backend Engineer",
		"date":     "2026-03-02",
		"start":    "14:00",
		"end":      "14:30",
		"capacity": capacity,
		"ai_type":  "technical",
		"language": "en",
	}, true)
	if rr.Code != http.StatusCreated {
		t.Fatalf("create slot: %d %s", rr.Code, rr.Body.String())
	}
	var resp struct {
		SlotID uuid.UUID `json:"slot_id"`
	}
	decodeResp(t, rr, &resp)
	return resp.SlotID
}

// createInterview makes an interview scheduled for 14:00 IST today.
func (e *env) createInterview(t *testing.T) uuid.UUID {
	t.Helper()
	rr := e.do(t, http.MethodPost, "/interviews", map[string]any{
		"candidate_id":      uuid.New(),
		"job_id":            uuid.New(),
		"scheduled_start":   testNow.Format(time.RFC3339),
		"scheduled_end":     testNow.Add(30 * time.Minute).Format(time.RFC3339),
		"job_context":       "Go services at scale",
		"candidate_context": "Five years of backend work",
	}, true)
	if rr.Code != http.StatusCreated {
		t.Fatalf("create interview: %d %s", rr.Code, rr.Body.String())
	}
	var resp struct {
		InterviewID uuid.UUID `json:"interview_id"`
	}
	decodeResp(t, rr, &resp)
	return resp.InterviewID
}

func (e *env) book(t *testing.T, slotID, interviewID uuid.UUID) *httptest.ResponseRecorder {
	t.Helper()
	return e.do(t, http.MethodPost, fmt.Sprintf("/slots/%s/book", slotID),
		map[string]any{"interview_id": interviewID}, true)
}

// issueToken mints an access token for the interview via the API.
func (e *env) issueToken(t *testing.T, interviewID uuid.UUID) string {
	t.Helper()
	rr := e.do(t, http.MethodPost, fmt.Sprintf("/interviews/%s/access-token", interviewID), nil, true)
	if rr.Code != http.StatusCreated {
		t.Fatalf("issue token: %d %s", rr.Code, rr.Body.String())
	}
	var resp struct {
		Token string `json:"token"`
	}
	decodeResp(t, rr, &resp)
	return resp.Token
}

// waitFor polls cond on real time until it holds or the deadline passes.
// The fake clock stands still; only goroutine scheduling is awaited.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// questionJSON is a canned question-generation response.
func questionJSON(text string) *llm.CompletionResponse {
	return &llm.CompletionResponse{Content: fmt.Sprintf(
		`{"question_text": %q, "level": "MAIN", "topic_tag": "golang"}`, text)}
}

func label(s string) *llm.CompletionResponse {
	return &llm.CompletionResponse{Content: s}
}

func evalJSON(coverage, score float64) *llm.CompletionResponse {
	return &llm.CompletionResponse{Content: fmt.Sprintf(
		`{"coverage": %g, "score": %g}`, coverage, score)}
}
