// Package match decides whether extracted text actually belongs to a given
// test. Coverage is a bag-of-tokens containment ratio between the question
// bank and the scan text; OCR noise makes edit distance useless here.
package match

import (
	"github.com/pavelanni/revisor/internal/extract"
	"github.com/pavelanni/revisor/internal/model"
	"github.com/pavelanni/revisor/internal/textutil"
)

// minTokenLen filters out tokens too short to distinguish one test from
// another.
const minTokenLen = 4

// Config holds the matcher thresholds. Both are empirical; keep them
// configurable rather than asserting exact values.
type Config struct {
	// Threshold is the minimum coverage accepted as a match. Deliberately
	// permissive: a rejected valid scan costs more than a false positive,
	// since a human still approves every persisted grade.
	Threshold float64
	// FallbackCoverage is the nominal coverage reported when a degraded
	// scan is accepted on filename evidence alone.
	FallbackCoverage float64
	// MinTextLen mirrors the extractor's usable-text threshold.
	MinTextLen int
}

// DefaultConfig returns the deployment defaults.
func DefaultConfig() Config {
	return Config{Threshold: 0.1, FallbackCoverage: 0.25, MinTextLen: 40}
}

// Match is the verification verdict for one upload.
type Match struct {
	IsMatch  bool
	Coverage float64
}

// Verify scores how much of the question bank appears in text. Pure and
// deterministic.
func Verify(text string, questions []model.Question, cfg Config) Match {
	bank := bankTokens(questions)
	if len(bank) == 0 {
		return Match{}
	}

	found := textutil.TokenSet(text, minTokenLen)
	hits := 0
	for tok := range bank {
		if _, ok := found[tok]; ok {
			hits++
		}
	}

	threshold := cfg.Threshold
	if threshold > 1 {
		threshold = 1
	}
	coverage := float64(hits) / float64(len(bank))
	return Match{IsMatch: coverage >= threshold, Coverage: coverage}
}

// VerifyUpload applies Verify and, when the scan text is degraded or
// abnormally short, falls back to the filename: a filename carrying a
// token of the test's title, topic or subject is accepted at a nominal
// coverage instead of being rejected outright.
func VerifyUpload(text, filename string, t *model.Test, cfg Config) Match {
	m := Verify(text, t.Questions, cfg)
	if m.IsMatch {
		return m
	}

	degraded := text == extract.DegradedText || len(textutil.Normalize(text)) < cfg.MinTextLen
	if !degraded {
		return m
	}
	if filenameMentionsTest(filename, t) {
		return Match{IsMatch: true, Coverage: cfg.FallbackCoverage}
	}
	return m
}

func bankTokens(questions []model.Question) map[string]struct{} {
	set := make(map[string]struct{})
	for _, q := range questions {
		add(set, q.Prompt())
		switch v := q.(type) {
		case model.MultipleChoice:
			for _, opt := range v.Options {
				add(set, opt)
			}
		case model.MultiSelect:
			for _, opt := range v.Options {
				add(set, opt.Text)
			}
		}
	}
	return set
}

func add(set map[string]struct{}, s string) {
	for tok := range textutil.TokenSet(s, minTokenLen) {
		set[tok] = struct{}{}
	}
}

func filenameMentionsTest(filename string, t *model.Test) bool {
	name := textutil.TokenSet(filename, minTokenLen)
	if len(name) == 0 {
		return false
	}
	for _, field := range []string{t.Title, t.Topic, t.SubjectName} {
		for tok := range textutil.TokenSet(field, minTokenLen) {
			if _, ok := name[tok]; ok {
				return true
			}
		}
	}
	return false
}
