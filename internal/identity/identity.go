// Package identity guesses the student a scanned sheet belongs to. Name
// extraction is an ordered chain of heuristics over the OCR text (label
// lines, nearby lines, standalone capitalized lines, "Last, First"
// patterns) with the filename as last resort, and the guess is then
// fuzzily matched against the section roster.
package identity

import (
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"unicode"

	"github.com/pavelanni/revisor/internal/model"
	"github.com/pavelanni/revisor/internal/textutil"
)

// Config holds the resolver knobs. The keyword denylist is curriculum
// noise rather than core logic, so it is replaceable wholesale.
type Config struct {
	// Denylist contains normalized institutional keywords that can never
	// be part of a student name.
	Denylist []string
	// LabelWindow is how many lines after a bare name label are scanned
	// for the actual name.
	LabelWindow int
	// ScanLines bounds the standalone-name search to the sheet header.
	ScanLines int
	// Cutoff is the minimum token similarity for an automatic match.
	Cutoff float64
	// TopK is how many ranked candidates are surfaced for manual picks.
	TopK int
}

// DefaultConfig returns the deployment defaults, with a bilingual
// Spanish/English denylist.
func DefaultConfig() Config {
	return Config{
		Denylist: []string{
			"nombre", "name", "alumno", "alumna", "estudiante", "student",
			"curso", "course", "seccion", "section", "fecha", "date",
			"asignatura", "materia", "subject", "pagina", "page", "hoja",
			"rut", "run", "id", "clave", "pauta", "respuesta", "respuestas",
			"answer", "answers", "key", "prueba", "test", "examen", "exam",
			"evaluacion", "control", "profesor", "profesora", "teacher",
			"nota", "grade", "puntaje", "puntos", "score", "total",
			"colegio", "escuela", "liceo", "school",
			"img", "image", "scan", "foto", "photo", "doc", "pdf",
		},
		LabelWindow: 3,
		ScanLines:   20,
		Cutoff:      0.5,
		TopK:        8,
	}
}

// Resolver applies the name heuristics and roster matching.
type Resolver struct {
	cfg    Config
	denied map[string]struct{}
}

// NewResolver builds a Resolver from cfg, normalizing the denylist once.
func NewResolver(cfg Config) *Resolver {
	denied := make(map[string]struct{}, len(cfg.Denylist))
	for _, w := range cfg.Denylist {
		denied[textutil.Normalize(w)] = struct{}{}
	}
	return &Resolver{cfg: cfg, denied: denied}
}

var (
	labelRe = regexp.MustCompile(`(?i)^\s*(?:nombre|alumn[oa]|estudiante|name|student)\b\s*[:.\-]*\s*(.*)$`)
	commaRe = regexp.MustCompile(`^\s*(\p{Lu}[\p{L}'\-]+(?:\s+\p{Lu}[\p{L}'\-]+)*)\s*,\s*(\p{Lu}[\p{L}'\-]+(?:\s+\p{Lu}[\p{L}'\-]+)*)\s*$`)
)

// GuessName extracts a candidate student name from the scan text, falling
// back to the filename. Returns "" when nothing plausible was found.
func (r *Resolver) GuessName(text, filename string) string {
	lines := strings.Split(text, "\n")

	for _, h := range []func([]string) string{
		r.fromLabelLine,
		r.fromLabelWindow,
		r.fromStandaloneLine,
		r.fromCommaPattern,
	} {
		if name := h(lines); name != "" {
			return name
		}
	}
	return r.fromFilename(filename)
}

// fromLabelLine finds "Nombre: Ana Rojas" style lines.
func (r *Resolver) fromLabelLine(lines []string) string {
	for _, line := range lines {
		m := labelRe.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		if name := r.cleanCandidate(m[1]); name != "" {
			return name
		}
	}
	return ""
}

// fromLabelWindow handles labels whose value landed on a following line.
func (r *Resolver) fromLabelWindow(lines []string) string {
	for i, line := range lines {
		m := labelRe.FindStringSubmatch(line)
		if m == nil || r.cleanCandidate(m[1]) != "" {
			continue
		}
		for j := i + 1; j <= i+r.cfg.LabelWindow && j < len(lines); j++ {
			if name := r.cleanCandidate(lines[j]); name != "" {
				return name
			}
		}
	}
	return ""
}

// fromStandaloneLine accepts a header line that simply is a capitalized
// name on its own.
func (r *Resolver) fromStandaloneLine(lines []string) string {
	limit := r.cfg.ScanLines
	if limit > len(lines) {
		limit = len(lines)
	}
	for _, line := range lines[:limit] {
		words := strings.Fields(strings.TrimSpace(line))
		if len(words) < 2 || len(words) > 4 {
			continue
		}
		ok := true
		for _, w := range words {
			if !capitalizedWord(w) || r.isDenied(w) {
				ok = false
				break
			}
		}
		if ok {
			return strings.Join(words, " ")
		}
	}
	return ""
}

// fromCommaPattern finds "Rojas, Ana" anywhere and flips it.
func (r *Resolver) fromCommaPattern(lines []string) string {
	for _, line := range lines {
		m := commaRe.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		last, first := m[1], m[2]
		if r.anyDenied(last) || r.anyDenied(first) {
			continue
		}
		return first + " " + last
	}
	return ""
}

// fromFilename derives a candidate from the upload filename, with the same
// noise filtering as the text heuristics.
func (r *Resolver) fromFilename(filename string) string {
	if filename == "" {
		return ""
	}
	base := strings.TrimSuffix(filepath.Base(filename), filepath.Ext(filename))
	base = strings.Map(func(ch rune) rune {
		switch ch {
		case '-', '_', '.', '+':
			return ' '
		}
		return ch
	}, base)
	return r.cleanCandidate(base)
}

// cleanCandidate keeps the alphabetic, non-denylisted tokens of s and
// returns them joined, or "" when nothing name-like survives.
func (r *Resolver) cleanCandidate(s string) string {
	var kept []string
	for _, w := range strings.Fields(s) {
		w = strings.Trim(w, ".,;:()[]")
		if len([]rune(w)) < 2 || hasDigit(w) || !lettersOnly(w) || r.isDenied(w) {
			continue
		}
		kept = append(kept, w)
	}
	return strings.Join(kept, " ")
}

func (r *Resolver) isDenied(w string) bool {
	_, ok := r.denied[textutil.Normalize(w)]
	return ok
}

func (r *Resolver) anyDenied(s string) bool {
	for _, w := range strings.Fields(s) {
		if r.isDenied(w) {
			return true
		}
	}
	return false
}

// capitalizedWord rejects any punctuation so that "Rojas," style lines
// fall through to the comma heuristic instead.
func capitalizedWord(w string) bool {
	runes := []rune(w)
	if len(runes) < 2 || !unicode.IsUpper(runes[0]) {
		return false
	}
	return lettersOnly(w)
}

func lettersOnly(w string) bool {
	for _, ch := range w {
		if !unicode.IsLetter(ch) && ch != '\'' && ch != '-' {
			return false
		}
	}
	return true
}

func hasDigit(w string) bool {
	return strings.ContainsFunc(w, unicode.IsDigit)
}

// Candidate is one roster student ranked by similarity to the guess.
type Candidate struct {
	Student    model.Student
	Similarity float64
}

// Resolution is the outcome of roster matching. When Found is false the
// Candidates list supports an explicit manual pick, which is authoritative.
type Resolution struct {
	Student    *model.Student
	Confidence float64
	Found      bool
	Candidates []Candidate
}

// MatchRoster scores the guessed name against every roster student using
// order-insensitive token overlap. Containment of one name's tokens in the
// other counts as a confident match.
func (r *Resolver) MatchRoster(name string, roster []model.Student) Resolution {
	guess := textutil.Tokens(name)
	if len(guess) == 0 || len(roster) == 0 {
		return Resolution{}
	}

	candidates := make([]Candidate, 0, len(roster))
	for _, s := range roster {
		candidates = append(candidates, Candidate{
			Student:    s,
			Similarity: tokenSimilarity(guess, textutil.Tokens(s.DisplayName)),
		})
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Similarity > candidates[j].Similarity
	})

	best := candidates[0]
	found := best.Similarity >= r.cfg.Cutoff ||
		contains(textutil.Tokens(best.Student.DisplayName), guess) ||
		contains(guess, textutil.Tokens(best.Student.DisplayName))

	topK := r.cfg.TopK
	if topK > len(candidates) {
		topK = len(candidates)
	}
	res := Resolution{
		Confidence: best.Similarity,
		Candidates: candidates[:topK],
	}
	if found && best.Similarity > 0 {
		student := best.Student
		res.Student = &student
		res.Found = true
	}
	return res
}

// tokenSimilarity is intersection over union of the two token bags.
func tokenSimilarity(a, b []string) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	setA := make(map[string]struct{}, len(a))
	for _, t := range a {
		setA[t] = struct{}{}
	}
	setB := make(map[string]struct{}, len(b))
	for _, t := range b {
		setB[t] = struct{}{}
	}
	inter := 0
	for t := range setA {
		if _, ok := setB[t]; ok {
			inter++
		}
	}
	union := len(setA) + len(setB) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

// contains reports whether every token of sub occurs in super.
func contains(super, sub []string) bool {
	if len(sub) == 0 {
		return false
	}
	set := make(map[string]struct{}, len(super))
	for _, t := range super {
		set[t] = struct{}{}
	}
	for _, t := range sub {
		if _, ok := set[t]; !ok {
			return false
		}
	}
	return true
}

var answerKeyRe = regexp.MustCompile(`(?i)(?:^|[^a-z])(clave|pauta|key)(?:[^a-z]|$)`)

// IsAnswerKey reports whether a filename marks the upload as the answer
// key rather than a student submission.
func IsAnswerKey(filename string) bool {
	return answerKeyRe.MatchString(textutil.Normalize(filename))
}
