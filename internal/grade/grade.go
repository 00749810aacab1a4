// Package grade evaluates objective questions against raw OCR text. It
// works line by line on the unnormalized text because the position of a
// selection mark relative to the option labels is the signal. The whole
// package is pure: identical input always yields the identical score.
package grade

import (
	"fmt"
	"math"
	"regexp"
	"strings"

	"github.com/pavelanni/revisor/internal/model"
	"github.com/pavelanni/revisor/internal/textutil"
)

// mark is the set of glyphs students use to pick an answer, as OCR tends
// to read them.
const mark = `xX✓✔●◉•`

var markPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\(\s*[` + mark + `]\s*\)`),
	regexp.MustCompile(`\[\s*[` + mark + `]\s*\]`),
	regexp.MustCompile(`\{\s*[` + mark + `]\s*\}`),
	regexp.MustCompile(`\*\s*[` + mark + `]\s*\*`),
	regexp.MustCompile(`(?:^|\s)[` + mark + `](?:\s|$)`),
}

// vfMarkRe matches a V/F token followed by a mark in any of the forms
// the option detector accepts: bracketed, starred, or bare.
func vfMarkRe(token string) *regexp.Regexp {
	return regexp.MustCompile(`(?i)(?:^|\s)(?:` + token + `)\s*(?:[(\[{]\s*[` + mark + `]\s*[)\]}]|\*\s*[` + mark + `]\s*\*|[` + mark + `](?:\s|$))`)
}

var (
	trueMarkRe  = vfMarkRe(`v|verdadero|true`)
	falseMarkRe = vfMarkRe(`f|falso|false`)
)

// optionWindow is how far (in lines) an option text may sit from a
// selection mark and still count as selected.
const optionWindow = 2

// Score runs every question against the text and returns the number
// answered correctly. Free-response questions always contribute zero;
// they are graded by a human.
func Score(text string, questions []model.Question) int {
	lines := strings.Split(text, "\n")
	normLines := make([]string, len(lines))
	for i, line := range lines {
		normLines[i] = textutil.Normalize(line)
	}

	score := 0
	for _, q := range questions {
		switch v := q.(type) {
		case model.TrueFalse:
			if trueFalseCorrect(lines, v) {
				score++
			}
		case model.MultipleChoice:
			if optionSelected(lines, normLines, optionLetter(v.CorrectIndex), v.Options[v.CorrectIndex]) {
				score++
			}
		case model.MultiSelect:
			if multiSelectCorrect(lines, normLines, v) {
				score++
			}
		case model.FreeResponse:
			// Manual review only.
		default:
			panic(fmt.Sprintf("grade: unknown question type %T", q))
		}
	}
	return score
}

// trueFalseCorrect awards the point only when exactly one of the V/F
// markers is marked and it agrees with the stored answer. A sheet with
// both or neither marked is ambiguous and scores zero.
func trueFalseCorrect(lines []string, q model.TrueFalse) bool {
	trueMarked, falseMarked := false, false
	for _, line := range lines {
		if trueMarkRe.MatchString(line) {
			trueMarked = true
		}
		if falseMarkRe.MatchString(line) {
			falseMarked = true
		}
	}
	if trueMarked == falseMarked {
		return false
	}
	return trueMarked == q.Answer
}

// multiSelectCorrect requires the marked option set to equal the correct
// set exactly: nothing missing, nothing extra.
func multiSelectCorrect(lines, normLines []string, q model.MultiSelect) bool {
	for i, opt := range q.Options {
		selected := optionSelected(lines, normLines, optionLetter(i), opt.Text)
		if selected != opt.Correct {
			return false
		}
	}
	return len(q.Options) > 0
}

// optionSelected decides whether the option printed under letter was
// marked. Rules, first hit wins: the letter as a standalone label on a
// line that also carries a mark; the option text within a small window of
// a marked line (which covers text and mark sharing a line).
func optionSelected(lines, normLines []string, letter, optText string) bool {
	labelRe := letterLabelRe(letter)
	for _, line := range lines {
		if labelRe.MatchString(line) && hasSelectedMark(line) {
			return true
		}
	}

	optNorm := textutil.Normalize(optText)
	if optNorm == "" {
		return false
	}
	for i, line := range lines {
		if !hasSelectedMark(line) {
			continue
		}
		lo, hi := i-optionWindow, i+optionWindow
		if lo < 0 {
			lo = 0
		}
		if hi >= len(lines) {
			hi = len(lines) - 1
		}
		for j := lo; j <= hi; j++ {
			if strings.Contains(normLines[j], optNorm) {
				return true
			}
		}
	}
	return false
}

func hasSelectedMark(line string) bool {
	for _, re := range markPatterns {
		if re.MatchString(line) {
			return true
		}
	}
	return false
}

// optionLetter maps an option index to its printed letter (A, B, C, ...).
func optionLetter(index int) string {
	return string(rune('A' + index))
}

// letterLabels is precompiled for A-Z so grading never mutates shared
// state at evaluation time.
var letterLabels = func() map[string]*regexp.Regexp {
	m := make(map[string]*regexp.Regexp, 26)
	for i := 0; i < 26; i++ {
		m[optionLetter(i)] = compileLetterLabel(optionLetter(i))
	}
	return m
}()

// letterLabelRe matches the letter as a standalone option label in the
// usual delimiters: "A)", "(A)", "[A]", "A-", "A.", "A:".
func letterLabelRe(letter string) *regexp.Regexp {
	if re, ok := letterLabels[letter]; ok {
		return re
	}
	return compileLetterLabel(letter)
}

func compileLetterLabel(letter string) *regexp.Regexp {
	return regexp.MustCompile(`(?i)(?:^|[\s(\[])` + regexp.QuoteMeta(letter) + `\s*[)\].:\-]`)
}

// Points converts a raw score into the test's point scale.
func Points(score, questionCount, totalPoints int) int {
	if questionCount <= 0 {
		return 0
	}
	return int(math.Round(float64(score) / float64(questionCount) * float64(totalPoints)))
}

// Percent converts a raw score into a whole percentage.
func Percent(score, questionCount int) int {
	if questionCount <= 0 {
		return 0
	}
	return int(math.Round(float64(score) / float64(questionCount) * 100))
}
