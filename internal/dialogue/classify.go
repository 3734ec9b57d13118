package dialogue

import (
	"context"
	"log/slog"
	"regexp"
	"strings"

	"github.com/hireloop-ai/hireloop/pkg/provider/llm"
)

// Verdict is the classification of a candidate message.
type Verdict string

const (
	VerdictAnswer Verdict = "Answer"
	VerdictRepeat Verdict = "RepeatRequest"
	VerdictSkip   Verdict = "Skip"
	VerdictEmpty  Verdict = "Empty"
)

// skipPattern short-circuits classification before any LLM call. Anchored
// at the start so "I would skip the validation step" is not a skip.
var skipPattern = regexp.MustCompile(`(?i)^(skip|next question)\b`)

// classify maps the candidate's message to a verdict. Empty text never
// reaches the model; the skip regex short-circuits; everything else is a
// single-label LLM call whose failures default to Answer so a model outage
// cannot eat a real answer.
func (c *Controller) classify(ctx context.Context, answer string) Verdict {
	trimmed := strings.TrimSpace(answer)
	if trimmed == "" {
		return VerdictEmpty
	}
	if skipPattern.MatchString(trimmed) {
		return VerdictSkip
	}

	snap, err := c.cfg.Session.Snapshot(ctx)
	if err != nil {
		return VerdictAnswer
	}

	llmCtx, cancel := context.WithTimeout(ctx, c.cfg.LLMTimeout)
	defer cancel()
	resp, err := c.cfg.LLM.Complete(llmCtx, llm.CompletionRequest{
		Messages: []llm.Message{{
			Role: "user",
			Content: "Classify the candidate's message in response to the interview " +
				"question below. Reply with exactly one label:\n" +
				"ANSWER - an attempt to answer the question\n" +
				"REPEAT_REQUEST - asking to repeat or clarify the question\n" +
				"SKIP - asking to skip or move to the next question\n" +
				"EMPTY - no substantive content\n\n" +
				"Question: " + snap.LastQuestionText + "\n\nMessage: " + trimmed,
		}},
		Temperature: 0,
		MaxTokens:   10,
	})
	if err != nil || resp == nil {
		slog.Warn("classification failed, treating as answer",
			"session_id", c.cfg.Session.ID(), "err", err)
		return VerdictAnswer
	}

	switch label := strings.ToUpper(strings.TrimSpace(resp.Content)); {
	case strings.HasPrefix(label, "REPEAT"):
		return VerdictRepeat
	case strings.HasPrefix(label, "SKIP"):
		return VerdictSkip
	case strings.HasPrefix(label, "EMPTY"):
		return VerdictEmpty
	default:
		return VerdictAnswer
	}
}
