// Package textutil holds the text normalization shared by document
// matching, identity resolution and grading. Every comparison in the
// engine goes through the same Normalize so results stay consistent.
package textutil

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var stripMarks = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// Normalize lowercases, strips diacritics and collapses runs of whitespace
// into single spaces. OCR output is compared only in this form.
func Normalize(s string) string {
	out, _, err := transform.String(stripMarks, s)
	if err != nil {
		out = s
	}
	out = strings.ToLower(out)
	return strings.Join(strings.Fields(out), " ")
}

// Tokens splits s into normalized word tokens, dropping punctuation.
func Tokens(s string) []string {
	return strings.FieldsFunc(Normalize(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
}

// TokenSet returns the distinct tokens of s whose length is at least min
// runes. Short tokens (articles, option letters) carry no signal for
// matching and are excluded.
func TokenSet(s string, min int) map[string]struct{} {
	set := make(map[string]struct{})
	for _, tok := range Tokens(s) {
		if len([]rune(tok)) < min {
			continue
		}
		set[tok] = struct{}{}
	}
	return set
}
