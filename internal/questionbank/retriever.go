package questionbank

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hireloop-ai/hireloop/internal/interview"
	"github.com/hireloop-ai/hireloop/pkg/provider/embeddings"
)

// Bank ties a [Store] to an optional embeddings provider. With a provider
// it retrieves semantically, without one it degrades to random picks, and
// when the store is empty it falls back to the canned list. Pick never
// fails: there is always a question to ask.
type Bank struct {
	store Store
	emb   embeddings.Provider
}

// NewBank builds a Bank. emb may be nil.
func NewBank(store Store, emb embeddings.Provider) *Bank {
	return &Bank{store: store, emb: emb}
}

// Store exposes the underlying store for direct lookups.
func (b *Bank) Store() Store { return b.store }

// Seed embeds and inserts the given questions in one provider batch.
// Without an embeddings provider questions are stored embedding-free and
// served via Random.
func (b *Bank) Seed(ctx context.Context, qs []Question) error {
	if b.emb != nil {
		texts := make([]string, len(qs))
		for i := range qs {
			texts[i] = qs[i].Text
		}
		vecs, err := b.emb.EmbedBatch(ctx, texts)
		if err != nil {
			return fmt.Errorf("questionbank: embed seed batch: %w", err)
		}
		for i := range qs {
			qs[i].Embedding = vecs[i]
		}
	}
	for i := range qs {
		if err := b.store.Add(ctx, &qs[i]); err != nil {
			return err
		}
	}
	return nil
}

// Pick selects a question for the given interview shape. query is free text
// describing what to ask about, typically the job context; it steers the
// semantic search and is ignored on the degraded paths.
func (b *Bank) Pick(ctx context.Context, aiType interview.AIType, topic, difficulty, query string) Question {
	if b.emb != nil && query != "" {
		vec, err := b.emb.Embed(ctx, query)
		if err != nil {
			slog.Warn("questionbank: embed query failed, degrading to random pick", "err", err)
		} else {
			matches, err := b.store.Search(ctx, aiType, topic, difficulty, vec, 1)
			if err != nil {
				slog.Warn("questionbank: search failed, degrading to random pick", "err", err)
			} else if len(matches) > 0 {
				return matches[0].Question
			}
		}
	}

	q, err := b.store.Random(ctx, aiType, topic)
	if err == nil {
		return q
	}
	if !errors.Is(err, ErrQuestionNotFound) {
		slog.Warn("questionbank: random pick failed", "err", err)
	}
	if topic != "" {
		// Retry without the topic filter before giving up on the store.
		if q, err := b.store.Random(ctx, aiType, ""); err == nil {
			return q
		}
	}
	return Question{AIType: aiType, Topic: topic, Difficulty: difficulty, Text: Canned(aiType, topic)}
}
