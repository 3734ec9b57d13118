package transcript

import (
	"strings"

	"github.com/antzucaro/matchr"
)

const (
	defaultPhoneticThreshold = 0.70
	defaultFuzzyThreshold    = 0.85

	// Unigram windows shorter than this are never corrected; short function
	// words ("is", "the") phonetically collide with half the vocabulary.
	minUnigramLen = 4
)

// CorrectorOption configures a [Corrector].
type CorrectorOption func(*Corrector)

// WithPhoneticThreshold sets the minimum Jaro-Winkler score required for a
// phonetically-matched term to be accepted. Default: 0.70.
func WithPhoneticThreshold(threshold float64) CorrectorOption {
	return func(c *Corrector) { c.phoneticThreshold = threshold }
}

// WithFuzzyThreshold sets the minimum Jaro-Winkler score required when no
// phonetic candidate exists and matching falls back to pure string
// similarity. Default: 0.85.
func WithFuzzyThreshold(threshold float64) CorrectorOption {
	return func(c *Corrector) { c.fuzzyThreshold = threshold }
}

// Correction records one replacement made by [Corrector.Correct].
type Correction struct {
	Heard      string
	Corrected  string
	Confidence float64
}

// vocabTerm is one canonical term with its phonetic codes precomputed.
type vocabTerm struct {
	canonical string
	lower     string
	tokens    []string
	codes     map[string]struct{}
}

// Corrector rewrites recognition mistakes against a fixed vocabulary of
// domain terms: the hiring company's name, product names, and the technical
// vocabulary of the role ("Kubernetes", "PostgreSQL"). Speech providers
// reliably mangle these, and the dialogue prompts read much better with the
// canonical spelling.
//
// Matching is two-stage. Double Metaphone codes gate the candidate set, and
// Jaro-Winkler similarity on the raw strings ranks it; a candidate with no
// phonetic overlap is only accepted at the stricter fuzzy threshold.
// A Corrector is read-only after construction and safe for concurrent use.
type Corrector struct {
	phoneticThreshold float64
	fuzzyThreshold    float64
	terms             []vocabTerm
	exact             map[string]struct{}
}

// NewCorrector builds a Corrector over vocabulary. Blank entries are
// dropped; multi-word terms ("spring boot") are matched against bigram
// windows of the input.
func NewCorrector(vocabulary []string, opts ...CorrectorOption) *Corrector {
	c := &Corrector{
		phoneticThreshold: defaultPhoneticThreshold,
		fuzzyThreshold:    defaultFuzzyThreshold,
		exact:             make(map[string]struct{}, len(vocabulary)),
	}
	for _, o := range opts {
		o(c)
	}
	for _, v := range vocabulary {
		lower := strings.ToLower(strings.TrimSpace(v))
		if lower == "" {
			continue
		}
		tokens := strings.Fields(lower)
		c.terms = append(c.terms, vocabTerm{
			canonical: strings.TrimSpace(v),
			lower:     lower,
			tokens:    tokens,
			codes:     codesForTokens(tokens),
		})
		c.exact[lower] = struct{}{}
	}
	return c
}

// Correct rewrites text, replacing windows that match a vocabulary term
// with the canonical spelling. Punctuation attached to a window survives
// the replacement. The corrections list is nil when nothing changed.
func (c *Corrector) Correct(text string) (string, []Correction) {
	if len(c.terms) == 0 || strings.TrimSpace(text) == "" {
		return text, nil
	}

	words := strings.Fields(text)
	out := make([]string, 0, len(words))
	var corrections []Correction

	for i := 0; i < len(words); i++ {
		lead, core, trail := splitPunct(words[i])

		// Try the bigram window first so "post gress" can become
		// "PostgreSQL" instead of two failed unigram lookups. The bigram
		// only wins when it outscores both of its own words, otherwise
		// "used redis" would collapse to just "Redis".
		if i+1 < len(words) {
			_, core2, trail2 := splitPunct(words[i+1])
			biTerm, biScore, biOK := c.match(core1and2(core, core2))
			if biOK && biScore > c.matchScore(core) && biScore > c.matchScore(core2) {
				out = append(out, lead+biTerm.canonical+trail2)
				corrections = append(corrections, Correction{
					Heard:      core1and2(core, core2),
					Corrected:  biTerm.canonical,
					Confidence: biScore,
				})
				i++
				continue
			}
		}

		if len(core) < minUnigramLen {
			out = append(out, words[i])
			continue
		}
		if term, score, ok := c.match(core); ok {
			out = append(out, lead+term.canonical+trail)
			corrections = append(corrections, Correction{
				Heard:      core,
				Corrected:  term.canonical,
				Confidence: score,
			})
			continue
		}
		out = append(out, words[i])
	}

	return strings.Join(out, " "), corrections
}

func core1and2(a, b string) string {
	return strings.TrimSpace(a + " " + b)
}

// matchScore returns how strongly word stands on its own: 1 for a word that
// is already a canonical term, the match score when it would be corrected,
// and 0 otherwise.
func (c *Corrector) matchScore(word string) float64 {
	if len(word) < minUnigramLen {
		if _, exact := c.exact[strings.ToLower(word)]; !exact {
			return 0
		}
	}
	_, score, _ := c.match(word)
	return score
}

// match finds the best vocabulary term for the window. ok is false when no
// replacement should happen; score is still meaningful for a window that
// already carries the canonical spelling (score 1).
func (c *Corrector) match(window string) (vocabTerm, float64, bool) {
	lower := strings.ToLower(window)
	if _, already := c.exact[lower]; already {
		for _, t := range c.terms {
			if t.lower != lower {
				continue
			}
			if t.canonical == window {
				return vocabTerm{}, 1, false
			}
			// Right words, wrong casing; replace to restore it.
			return t, 1, true
		}
	}

	tokens := strings.Fields(lower)
	inputCodes := codesForTokens(tokens)

	var (
		best         vocabTerm
		bestScore    float64
		bestPhonetic bool
	)
	for _, t := range c.terms {
		phonetic := codesOverlap(inputCodes, t.codes)
		score := bestSimilarity(tokens, t.tokens, lower, t.lower)

		switch {
		case phonetic && score >= c.phoneticThreshold:
			if !bestPhonetic || score > bestScore {
				best, bestScore, bestPhonetic = t, score, true
			}
		case !phonetic && !bestPhonetic && score >= c.fuzzyThreshold:
			if score > bestScore {
				best, bestScore = t, score
			}
		}
	}
	if best.canonical == "" {
		return vocabTerm{}, 0, false
	}
	return best, bestScore, true
}

// splitPunct separates leading and trailing punctuation from a word.
func splitPunct(w string) (lead, core, trail string) {
	start := 0
	for start < len(w) && isPunct(w[start]) {
		start++
	}
	end := len(w)
	for end > start && isPunct(w[end-1]) {
		end--
	}
	return w[:start], w[start:end], w[end:]
}

func isPunct(b byte) bool {
	switch b {
	case '.', ',', '!', '?', ';', ':', '"', '\'', '(', ')', '[', ']':
		return true
	}
	return false
}

// codesForTokens returns the union of Double Metaphone codes for tokens.
// Codes that come back empty are excluded.
func codesForTokens(tokens []string) map[string]struct{} {
	codes := make(map[string]struct{}, len(tokens)*2)
	for _, t := range tokens {
		p, s := matchr.DoubleMetaphone(t)
		if p != "" {
			codes[p] = struct{}{}
		}
		if s != "" {
			codes[s] = struct{}{}
		}
	}
	return codes
}

// codesOverlap reports whether the two code sets share at least one code.
func codesOverlap(a, b map[string]struct{}) bool {
	if len(a) > len(b) {
		a, b = b, a
	}
	for code := range a {
		if _, ok := b[code]; ok {
			return true
		}
	}
	return false
}

// bestSimilarity returns the highest Jaro-Winkler score between the window
// and the term, comparing full strings and space-stripped strings. For a
// single-token window it also tries each term token, which covers one
// spoken word standing in for one word of a multi-word term ("acme" for
// "Acme Corp"). Multi-token windows deliberately get no pairwise pass; it
// would let one strong word drag an unrelated neighbor into the match.
func bestSimilarity(inputTokens, termTokens []string, inputFull, termFull string) float64 {
	score := matchr.JaroWinkler(inputFull, termFull, false)

	if len(inputTokens) > 1 || len(termTokens) > 1 {
		joined1 := strings.Join(inputTokens, "")
		joined2 := strings.Join(termTokens, "")
		if s := matchr.JaroWinkler(joined1, joined2, false); s > score {
			score = s
		}
	}

	if len(inputTokens) == 1 {
		for _, tt := range termTokens {
			if s := matchr.JaroWinkler(inputTokens[0], tt, false); s > score {
				score = s
			}
		}
	}
	return score
}
