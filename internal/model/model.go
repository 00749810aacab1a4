package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// QuestionKind discriminates the question variants stored in a Test.
type QuestionKind string

const (
	// KindTrueFalse is a true/false (V/F) question.
	KindTrueFalse QuestionKind = "true_false"
	// KindMultipleChoice is a single-answer question with lettered options.
	KindMultipleChoice QuestionKind = "multiple_choice"
	// KindMultiSelect is a multiple-answer question graded as an exact set.
	KindMultiSelect QuestionKind = "multi_select"
	// KindFreeResponse is an open question, always left for manual grading.
	KindFreeResponse QuestionKind = "free_response"
)

// Question is implemented by the four question variants. The grading engine
// switches exhaustively on the concrete type, so adding a variant is a
// compile-visible change.
type Question interface {
	QuestionID() string
	Kind() QuestionKind
	// Prompt returns the visible question text (statement or open prompt).
	Prompt() string
}

// TrueFalse is a V/F question.
type TrueFalse struct {
	ID     string `json:"id"`
	Text   string `json:"text"`
	Answer bool   `json:"answer"`
}

func (q TrueFalse) QuestionID() string { return q.ID }
func (q TrueFalse) Kind() QuestionKind { return KindTrueFalse }
func (q TrueFalse) Prompt() string     { return q.Text }

// MultipleChoice is a single-answer question; option order defines the
// printed letters (A, B, C, ...).
type MultipleChoice struct {
	ID           string   `json:"id"`
	Text         string   `json:"text"`
	Options      []string `json:"options"`
	CorrectIndex int      `json:"correct_index"`
}

func (q MultipleChoice) QuestionID() string { return q.ID }
func (q MultipleChoice) Kind() QuestionKind { return KindMultipleChoice }
func (q MultipleChoice) Prompt() string     { return q.Text }

// SelectOption is one option of a MultiSelect question.
type SelectOption struct {
	Text    string `json:"text"`
	Correct bool   `json:"correct"`
}

// MultiSelect is a choose-all-that-apply question. It scores a point only
// when the marked set equals the correct set exactly.
type MultiSelect struct {
	ID      string         `json:"id"`
	Text    string         `json:"text"`
	Options []SelectOption `json:"options"`
}

func (q MultiSelect) QuestionID() string { return q.ID }
func (q MultiSelect) Kind() QuestionKind { return KindMultiSelect }
func (q MultiSelect) Prompt() string     { return q.Text }

// FreeResponse is an open question. It never contributes to the automatic
// score and is flagged for manual review.
type FreeResponse struct {
	ID           string `json:"id"`
	Text         string `json:"prompt"`
	SampleAnswer string `json:"sample_answer,omitempty"`
}

func (q FreeResponse) QuestionID() string { return q.ID }
func (q FreeResponse) Kind() QuestionKind { return KindFreeResponse }
func (q FreeResponse) Prompt() string     { return q.Text }

// QuestionEnvelope is the storage shape of a question: the variant fields
// plus a kind tag. Blobs read back from the document store go through this
// envelope so the rest of the engine only ever sees typed questions.
type QuestionEnvelope struct {
	Kind         QuestionKind   `json:"kind"`
	ID           string         `json:"id"`
	Text         string         `json:"text,omitempty"`
	Prompt       string         `json:"prompt,omitempty"`
	Answer       *bool          `json:"answer,omitempty"`
	Options      []string       `json:"options,omitempty"`
	CorrectIndex *int           `json:"correct_index,omitempty"`
	Choices      []SelectOption `json:"choices,omitempty"`
	SampleAnswer string         `json:"sample_answer,omitempty"`
}

// EncodeQuestion converts a typed question into its storage envelope.
func EncodeQuestion(q Question) QuestionEnvelope {
	env := QuestionEnvelope{Kind: q.Kind(), ID: q.QuestionID()}
	switch v := q.(type) {
	case TrueFalse:
		env.Text = v.Text
		ans := v.Answer
		env.Answer = &ans
	case MultipleChoice:
		env.Text = v.Text
		env.Options = v.Options
		idx := v.CorrectIndex
		env.CorrectIndex = &idx
	case MultiSelect:
		env.Text = v.Text
		env.Choices = v.Options
	case FreeResponse:
		env.Prompt = v.Text
		env.SampleAnswer = v.SampleAnswer
	}
	return env
}

// DecodeQuestion converts a storage envelope back into a typed question,
// applying defaults for fields older blobs may not carry.
func DecodeQuestion(env QuestionEnvelope) (Question, error) {
	switch env.Kind {
	case KindTrueFalse:
		answer := false
		if env.Answer != nil {
			answer = *env.Answer
		}
		return TrueFalse{ID: env.ID, Text: env.Text, Answer: answer}, nil
	case KindMultipleChoice:
		idx := 0
		if env.CorrectIndex != nil {
			idx = *env.CorrectIndex
		}
		if idx < 0 || idx >= len(env.Options) {
			return nil, fmt.Errorf("question %s: correct index %d out of range for %d options", env.ID, idx, len(env.Options))
		}
		return MultipleChoice{ID: env.ID, Text: env.Text, Options: env.Options, CorrectIndex: idx}, nil
	case KindMultiSelect:
		return MultiSelect{ID: env.ID, Text: env.Text, Options: env.Choices}, nil
	case KindFreeResponse:
		text := env.Prompt
		if text == "" {
			text = env.Text
		}
		return FreeResponse{ID: env.ID, Text: text, SampleAnswer: env.SampleAnswer}, nil
	default:
		return nil, fmt.Errorf("question %s: unknown kind %q", env.ID, env.Kind)
	}
}

// Test is an immutable exam definition, authored elsewhere and supplied to
// the review engine.
type Test struct {
	ID          string
	Title       string
	Topic       string
	CourseID    string
	SectionID   string
	SubjectID   string
	SubjectName string
	Questions   []Question
	// TotalPoints may differ from the question count when weighting applies.
	// Zero means "use the question count".
	TotalPoints int
}

// MaxPoints returns the point total of the test, defaulting to the number
// of questions when no explicit total was authored.
func (t *Test) MaxPoints() int {
	if t.TotalPoints > 0 {
		return t.TotalPoints
	}
	return len(t.Questions)
}

type testJSON struct {
	ID          string             `json:"id"`
	Title       string             `json:"title"`
	Topic       string             `json:"topic,omitempty"`
	CourseID    string             `json:"course_id"`
	SectionID   string             `json:"section_id"`
	SubjectID   string             `json:"subject_id"`
	SubjectName string             `json:"subject_name,omitempty"`
	Questions   []QuestionEnvelope `json:"questions"`
	TotalPoints int                `json:"total_points,omitempty"`
}

// MarshalJSON encodes the question list through the tagged envelope.
func (t Test) MarshalJSON() ([]byte, error) {
	out := testJSON{
		ID:          t.ID,
		Title:       t.Title,
		Topic:       t.Topic,
		CourseID:    t.CourseID,
		SectionID:   t.SectionID,
		SubjectID:   t.SubjectID,
		SubjectName: t.SubjectName,
		TotalPoints: t.TotalPoints,
	}
	for _, q := range t.Questions {
		out.Questions = append(out.Questions, EncodeQuestion(q))
	}
	return json.Marshal(out)
}

// UnmarshalJSON decodes a stored test blob into typed questions.
func (t *Test) UnmarshalJSON(data []byte) error {
	var in testJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	*t = Test{
		ID:          in.ID,
		Title:       in.Title,
		Topic:       in.Topic,
		CourseID:    in.CourseID,
		SectionID:   in.SectionID,
		SubjectID:   in.SubjectID,
		SubjectName: in.SubjectName,
		TotalPoints: in.TotalPoints,
	}
	for _, env := range in.Questions {
		q, err := DecodeQuestion(env)
		if err != nil {
			return err
		}
		t.Questions = append(t.Questions, q)
	}
	return nil
}

// Student is a roster member as supplied by the roster directory.
type Student struct {
	ID          string `json:"id"`
	Username    string `json:"username"`
	DisplayName string `json:"display_name"`
}

// ReviewRecord is the audit record of one upload attempt. One is appended
// per OCR run, including failed and ambiguous ones.
type ReviewRecord struct {
	ID             string    `json:"id"`
	TestID         string    `json:"test_id"`
	UploadedAt     time.Time `json:"uploaded_at"`
	StudentName    string    `json:"student_name"`
	StudentID      string    `json:"student_id,omitempty"`
	CourseID       string    `json:"course_id,omitempty"`
	SectionID      string    `json:"section_id,omitempty"`
	SubjectID      string    `json:"subject_id,omitempty"`
	SubjectName    string    `json:"subject_name,omitempty"`
	Topic          string    `json:"topic,omitempty"`
	Score          *int      `json:"score,omitempty"`
	TotalQuestions int       `json:"total_questions,omitempty"`
	TotalPoints    int       `json:"total_points,omitempty"`
	SameDocument   bool      `json:"same_document"`
	Coverage       float64   `json:"coverage"`
	StudentFound   bool      `json:"student_found"`
}

// GradeEntry is one row of the external grade ledger. At most one entry
// exists per (TestID, StudentID) pair.
type GradeEntry struct {
	TestID      string `json:"test_id"`
	StudentID   string `json:"student_id"`
	StudentName string `json:"student_name"`
	Score       int    `json:"score"`
	CourseID    string `json:"course_id,omitempty"`
	SectionID   string `json:"section_id,omitempty"`
	SubjectID   string `json:"subject_id,omitempty"`
	Title       string `json:"title"`
}
