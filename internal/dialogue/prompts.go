package dialogue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/hireloop-ai/hireloop/internal/session"
	"github.com/hireloop-ai/hireloop/pkg/provider/llm"
)

// questionKind distinguishes the generation prompts.
type questionKind int

const (
	kindFirst questionKind = iota
	kindNext
	kindFollowUp
)

// generated is one LLM-produced (or canned) question.
type generated struct {
	Text  string
	Level Level
	Topic string
}

// questionReply is the JSON shape the model must return for question
// generation.
type questionReply struct {
	QuestionText string `json:"question_text"`
	Level        string `json:"level"`
	TopicTag     string `json:"topic_tag"`
}

// evalReply is the JSON shape for answer evaluation.
type evalReply struct {
	Coverage float64 `json:"coverage"`
	Score    float64 `json:"score"`
}

// answerEval is the controller-facing evaluation result.
type answerEval struct {
	Coverage float64
	Score    float64
}

// generateQuestion asks the LLM for the next question. Any failure, from
// timeout to malformed JSON, falls back to a canned question; the dialogue
// never stalls on the model.
func (c *Controller) generateQuestion(ctx context.Context, kind questionKind, lastAnswer string) generated {
	llmCtx, cancel := context.WithTimeout(ctx, c.cfg.LLMTimeout)
	defer cancel()

	resp, err := c.cfg.LLM.Complete(llmCtx, llm.CompletionRequest{
		SystemPrompt: c.interviewerSystemPrompt(),
		Messages:     c.questionMessages(ctx, kind, lastAnswer),
		Temperature:  0.7,
		MaxTokens:    300,
	})
	if err != nil {
		return c.cannedFallback(kind, fmt.Errorf("complete: %w", err))
	}

	var reply questionReply
	if err := decodeJSONReply(resp.Content, &reply); err != nil || reply.QuestionText == "" {
		if err == nil {
			err = fmt.Errorf("empty question_text")
		}
		return c.cannedFallback(kind, err)
	}

	level := LevelMain
	if strings.EqualFold(reply.Level, string(LevelFollowUp)) || kind == kindFollowUp {
		level = LevelFollowUp
	}
	return generated{Text: reply.QuestionText, Level: level, Topic: reply.TopicTag}
}

// cannedFallback substitutes a question-bank pick for a failed generation.
func (c *Controller) cannedFallback(kind questionKind, cause error) generated {
	c.fallbacks++
	slog.Warn("question generation fell back to canned",
		"session_id", c.cfg.Session.ID(), "event", "fallback", "err", cause)

	level := LevelMain
	if kind == kindFollowUp {
		level = LevelFollowUp
	}
	q := c.cfg.Bank.Pick(context.Background(), c.cfg.AIType, c.topic, c.cfg.Difficulty, c.cfg.JobDescription)
	return generated{Text: q.Text, Level: level, Topic: q.Topic}
}

// rephraseQuestion asks the LLM to restate the last question. On failure
// the original wording is repeated verbatim.
func (c *Controller) rephraseQuestion(ctx context.Context) string {
	snap, err := c.cfg.Session.Snapshot(ctx)
	if err != nil || snap.LastQuestionText == "" {
		return emptyReprompt
	}

	llmCtx, cancel := context.WithTimeout(ctx, c.cfg.LLMTimeout)
	defer cancel()
	resp, err := c.cfg.LLM.Complete(llmCtx, llm.CompletionRequest{
		SystemPrompt: c.interviewerSystemPrompt(),
		Messages: []llm.Message{{
			Role: "user",
			Content: "The candidate asked you to repeat the question. Restate it in " +
				"different words without changing what is being asked. Reply with the " +
				"rephrased question only, no JSON.\n\nQuestion: " + snap.LastQuestionText,
		}},
		Temperature: 0.5,
		MaxTokens:   200,
	})
	if err != nil || resp == nil || strings.TrimSpace(resp.Content) == "" {
		slog.Warn("rephrase failed, repeating verbatim",
			"session_id", c.cfg.Session.ID(), "err", err)
		return snap.LastQuestionText
	}
	return strings.TrimSpace(resp.Content)
}

// evaluateAnswer scores coverage and quality of the candidate's answer.
// Failures degrade to a neutral evaluation that neither triggers a
// follow-up nor drags the average down.
func (c *Controller) evaluateAnswer(ctx context.Context, answer string) answerEval {
	snap, err := c.cfg.Session.Snapshot(ctx)
	if err != nil {
		return answerEval{Coverage: 1, Score: 5}
	}

	llmCtx, cancel := context.WithTimeout(ctx, c.cfg.LLMTimeout)
	defer cancel()
	resp, err := c.cfg.LLM.Complete(llmCtx, llm.CompletionRequest{
		SystemPrompt: c.interviewerSystemPrompt(),
		Messages: []llm.Message{{
			Role: "user",
			Content: fmt.Sprintf(
				"Evaluate this answer. Reply with JSON only: "+
					`{"coverage": <0..1 how completely it addresses the question>, `+
					`"score": <0..10 answer quality>}`+
					"\n\nQuestion: %s\n\nAnswer: %s",
				snap.LastQuestionText, answer),
		}},
		Temperature: 0.1,
		MaxTokens:   100,
	})
	if err != nil {
		slog.Warn("answer evaluation failed",
			"session_id", c.cfg.Session.ID(), "err", err)
		return answerEval{Coverage: 1, Score: 5}
	}

	var reply evalReply
	if err := decodeJSONReply(resp.Content, &reply); err != nil {
		slog.Warn("answer evaluation malformed",
			"session_id", c.cfg.Session.ID(), "err", err)
		return answerEval{Coverage: 1, Score: 5}
	}
	return answerEval{
		Coverage: clamp(reply.Coverage, 0, 1),
		Score:    clamp(reply.Score, 0, 10),
	}
}

// emptyVerdict is the LLM's choice for an empty answer.
type emptyVerdict int

const (
	emptyAskAgain emptyVerdict = iota
	emptyMoveOn
)

// emptyDecision asks the model whether to re-ask or move on after an empty
// answer. Errors default to asking again; the forced-next cap bounds how
// often that can repeat.
func (c *Controller) emptyDecision(ctx context.Context) emptyVerdict {
	snap, err := c.cfg.Session.Snapshot(ctx)
	if err != nil {
		return emptyAskAgain
	}

	llmCtx, cancel := context.WithTimeout(ctx, c.cfg.LLMTimeout)
	defer cancel()
	resp, err := c.cfg.LLM.Complete(llmCtx, llm.CompletionRequest{
		Messages: []llm.Message{{
			Role: "user",
			Content: "The candidate gave no answer to the question below. Should the " +
				"interviewer ask again or move on? Reply with exactly one word: " +
				"ASK_AGAIN or MOVE_ON.\n\nQuestion: " + snap.LastQuestionText,
		}},
		Temperature: 0,
		MaxTokens:   10,
	})
	if err != nil || resp == nil {
		return emptyAskAgain
	}
	if strings.Contains(strings.ToUpper(resp.Content), "MOVE_ON") {
		return emptyMoveOn
	}
	return emptyAskAgain
}

// interviewerSystemPrompt is shared by every LLM call of the controller.
func (c *Controller) interviewerSystemPrompt() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "You are a professional %s interviewer for %s, hiring for the role of %s. ",
		c.cfg.AIType, c.cfg.Company, c.cfg.Role)
	fmt.Fprintf(&sb, "Interview difficulty: %s. Language: %s.\n\n", c.cfg.Difficulty, c.cfg.Language)
	if c.cfg.JobDescription != "" {
		sb.WriteString("Job description:\n" + c.cfg.JobDescription + "\n\n")
	}
	if c.cfg.CandidateResume != "" {
		sb.WriteString("Candidate resume:\n" + c.cfg.CandidateResume + "\n\n")
	}
	sb.WriteString("Ask one question at a time. Be concise and spoken-language natural; " +
		"the questions are read aloud to the candidate.")
	return sb.String()
}

// questionMessages builds the generation conversation: the last turns of
// history plus the kind-specific instruction.
func (c *Controller) questionMessages(ctx context.Context, kind questionKind, lastAnswer string) []llm.Message {
	msgs := c.historyMessages(ctx)

	var instr string
	switch kind {
	case kindFirst:
		instr = "Generate the opening interview question based on the job description and resume."
	case kindFollowUp:
		instr = "The candidate's last answer was incomplete. Generate one follow-up question " +
			"digging into what was missing."
		if lastAnswer != "" {
			instr += "\n\nLast answer: " + lastAnswer
		}
	default:
		instr = "Generate the next interview question. Cover a different area than the previous questions."
	}
	instr += "\n\nReply with JSON only: " +
		`{"question_text": "...", "level": "MAIN" or "FOLLOW_UP", "topic_tag": "..."}`

	return append(msgs, llm.Message{Role: "user", Content: instr})
}

// historyMessages maps the last turns of the session into LLM messages.
func (c *Controller) historyMessages(ctx context.Context) []llm.Message {
	snap, err := c.cfg.Session.Snapshot(ctx)
	if err != nil {
		return nil
	}
	turns := snap.Turns
	if len(turns) > historyTurns {
		turns = turns[len(turns)-historyTurns:]
	}
	msgs := make([]llm.Message, 0, len(turns))
	for _, t := range turns {
		role := "user"
		if t.Role == session.RoleInterviewer {
			role = "assistant"
		}
		msgs = append(msgs, llm.Message{Role: role, Content: t.Text, Name: string(t.Role)})
	}
	return msgs
}

// decodeJSONReply parses the first JSON object found in an LLM reply,
// tolerating code fences and prose around it.
func decodeJSONReply(content string, v any) error {
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start < 0 || end <= start {
		return fmt.Errorf("dialogue: no JSON object in reply")
	}
	if err := json.Unmarshal([]byte(content[start:end+1]), v); err != nil {
		return fmt.Errorf("dialogue: decode reply: %w", err)
	}
	return nil
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
