// Package stopword implements the Stopword Gate (C3): a two-phase turn
// trigger that only starts listening for a pause once a configured phrase
// has been spoken, per spec §4.3 (grounded on reply_on_stopwords.py's
// stop_word_detected/determine_pause).
package stopword

import (
	"regexp"
	"strings"
)

// Matcher finds configured stop-word phrases inside transcribed text,
// tolerating trailing punctuation and multi-word phrases the way the
// reference implementation's word-boundary regex does.
type Matcher struct {
	phrases  []string
	patterns []*regexp.Regexp
}

// NewMatcher compiles one case-insensitive, punctuation-tolerant pattern
// per configured phrase.
func NewMatcher(phrases []string) *Matcher {
	m := &Matcher{}
	for _, phrase := range phrases {
		words := strings.Fields(strings.ToLower(strings.TrimSpace(phrase)))
		if len(words) == 0 {
			continue
		}
		escaped := make([]string, len(words))
		for i, w := range words {
			escaped[i] = regexp.QuoteMeta(w)
		}
		pattern := `\b` + strings.Join(escaped, `\s+`) + `[.,!?]*\b`
		m.phrases = append(m.phrases, phrase)
		m.patterns = append(m.patterns, regexp.MustCompile(pattern))
	}
	return m
}

// Match returns the first configured phrase found in text, and whether one
// was found at all. The matched phrase (not an empty string) is what the
// caller forwards as the stopword control message's data field.
func (m *Matcher) Match(text string) (string, bool) {
	lower := strings.ToLower(text)
	for i, p := range m.patterns {
		if p.MatchString(lower) {
			return m.phrases[i], true
		}
	}
	return "", false
}
