// Package matching decides whether a user-supplied name plausibly names the
// same person as the billing system's record. It has to tolerate what people
// actually type on WhatsApp: missing middle names, accents, uppercase,
// honorifics and shuffled word order.
package matching

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// DefaultThreshold is the similarity at or above which the authentication
// flow treats an identity claim as credible.
const DefaultThreshold = 0.75

// DefaultStopWords are noise tokens dropped before comparison: articles,
// prepositions and honorifics common in Rioplatense Spanish names.
var DefaultStopWords = []string{
	"de", "del", "la", "las", "los", "el", "y", "e",
	"sr", "sra", "srta", "don", "dona", "dr", "dra", "lic",
}

// Config carries the tunables. Both the threshold and the stop-word list are
// configuration, not hard-coded business rules.
type Config struct {
	Threshold float64
	StopWords []string
}

// Matcher compares names. Construct once at startup and pass by reference;
// it is safe for concurrent use.
type Matcher struct {
	threshold float64
	stopWords map[string]struct{}
	fold      transform.Transformer
}

// New creates a Matcher from cfg, applying defaults for zero values.
func New(cfg Config) *Matcher {
	if cfg.Threshold <= 0 {
		cfg.Threshold = DefaultThreshold
	}
	if len(cfg.StopWords) == 0 {
		cfg.StopWords = DefaultStopWords
	}
	stop := make(map[string]struct{}, len(cfg.StopWords))
	for _, w := range cfg.StopWords {
		stop[strings.ToLower(w)] = struct{}{}
	}
	return &Matcher{
		threshold: cfg.Threshold,
		stopWords: stop,
		fold:      transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC),
	}
}

// Threshold returns the configured match threshold.
func (m *Matcher) Threshold() float64 { return m.threshold }

// Matches reports whether the two names are similar enough to accept an
// identity claim.
func (m *Matcher) Matches(inputName, recordName string) bool {
	return m.Similarity(inputName, recordName) >= m.threshold
}

// Similarity scores how plausibly the two names refer to the same person,
// in [0,1]:
//
//   - both are normalized (lowercase, accents stripped, punctuation
//     removed) and tokenized; stop words and single characters drop out
//   - an empty token set on either side scores 0
//   - a subset relationship (user gave "first + surname" against a full
//     legal name) scores 0.8 + coverage*0.2
//   - otherwise Jaccard over the token sets, boosted by +0.3 when the
//     overlap covers at least 80% of the smaller set
func (m *Matcher) Similarity(inputName, recordName string) float64 {
	a := m.tokenize(inputName)
	b := m.tokenize(recordName)
	if len(a) == 0 || len(b) == 0 {
		return 0
	}

	inter := 0
	for tok := range a {
		if _, ok := b[tok]; ok {
			inter++
		}
	}

	small, large := len(a), len(b)
	if small > large {
		small, large = large, small
	}

	// Subset rule: every token of the smaller set appears in the larger.
	if inter == small {
		score := 0.8 + (float64(small)/float64(large))*0.2
		return capped(score)
	}

	union := len(a) + len(b) - inter
	jaccard := float64(inter) / float64(union)

	// Partial-match boost: nickname vs formal name still shares most of
	// the shorter name's tokens.
	if float64(inter) >= 0.8*float64(small) {
		jaccard += 0.3
	}
	return capped(jaccard)
}

// tokenize lowercases, strips accents and punctuation, splits on
// whitespace, and drops stop words plus single-character tokens.
func (m *Matcher) tokenize(name string) map[string]struct{} {
	folded, _, err := transform.String(m.fold, strings.ToLower(name))
	if err != nil {
		folded = strings.ToLower(name)
	}

	cleaned := strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsSpace(r) {
			return r
		}
		return ' '
	}, folded)

	tokens := make(map[string]struct{})
	for _, tok := range strings.Fields(cleaned) {
		if len([]rune(tok)) < 2 {
			continue
		}
		if _, stop := m.stopWords[tok]; stop {
			continue
		}
		tokens[tok] = struct{}{}
	}
	return tokens
}

func capped(v float64) float64 {
	if v > 1.0 {
		return 1.0
	}
	return v
}
