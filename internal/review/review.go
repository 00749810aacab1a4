// Package review wires the pipeline together: extract text, verify the
// scan belongs to the test, resolve the student, grade, and persist. It is
// the only package with side effects besides store.
package review

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/pavelanni/revisor/internal/extract"
	"github.com/pavelanni/revisor/internal/grade"
	"github.com/pavelanni/revisor/internal/identity"
	"github.com/pavelanni/revisor/internal/match"
	"github.com/pavelanni/revisor/internal/model"
	"github.com/pavelanni/revisor/internal/store"
)

// Config aggregates the tuning knobs of every stage.
type Config struct {
	Extract  extract.Config
	Match    match.Config
	Identity identity.Config
}

// DefaultConfig returns the deployment defaults for all stages.
func DefaultConfig() Config {
	return Config{
		Extract:  extract.DefaultConfig(),
		Match:    match.DefaultConfig(),
		Identity: identity.DefaultConfig(),
	}
}

// TextExtractor is the extraction stage contract, satisfied by
// extract.Extractor and by test fakes returning canned text.
type TextExtractor interface {
	Extract(ctx context.Context, up extract.Upload) (extract.Result, error)
}

// RosterDirectory supplies the students of a section.
type RosterDirectory interface {
	StudentsInSection(sectionID string) ([]model.Student, error)
}

// Outcome is what one review run hands back to the caller.
type Outcome struct {
	ExtractedText  string
	Degraded       bool
	Coverage       float64
	SameDocument   bool
	AnswerKey      bool
	StudentName    string
	StudentFound   bool
	StudentID      string
	Candidates     []identity.Candidate
	Score          *int
	TotalQuestions int
	TotalPoints    int
	UploadedAt     time.Time
	History        []model.ReviewRecord
}

// Service runs reviews and the operator corrections on top of them.
type Service struct {
	extractor TextExtractor
	resolver  *identity.Resolver
	roster    RosterDirectory
	reviews   *store.ReviewStore
	ledger    *store.GradeLedger
	cfg       Config
	log       *slog.Logger

	now   func() time.Time
	newID func() string
}

// NewService wires a review service. A nil logger falls back to
// slog.Default.
func NewService(extractor TextExtractor, roster RosterDirectory, reviews *store.ReviewStore, ledger *store.GradeLedger, cfg Config, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		extractor: extractor,
		resolver:  identity.NewResolver(cfg.Identity),
		roster:    roster,
		reviews:   reviews,
		ledger:    ledger,
		cfg:       cfg,
		log:       log.With("component", "review"),
		now:       time.Now,
		newID:     uuid.NewString,
	}
}

// RunReview executes the full pipeline for one upload. Extraction and
// format errors abort with no side effects; mismatch and ambiguous
// identity degrade into a recorded, correctable state instead. A grade is
// committed only for a matched document with a resolved student that is
// not the answer key.
func (s *Service) RunReview(ctx context.Context, up extract.Upload, test *model.Test) (*Outcome, error) {
	res, err := s.extractor.Extract(ctx, up)
	if err != nil {
		return nil, err
	}
	// A dismissed session must not leave partial writes behind.
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m := match.VerifyUpload(res.Text, up.Filename, test, s.cfg.Match)
	answerKey := identity.IsAnswerKey(up.Filename)
	name := s.resolver.GuessName(res.Text, up.Filename)

	var resolution identity.Resolution
	if !answerKey {
		students, err := s.roster.StudentsInSection(test.SectionID)
		if err != nil {
			return nil, fmt.Errorf("load roster %s: %w", test.SectionID, err)
		}
		resolution = s.resolver.MatchRoster(name, students)
	}

	var score *int
	if m.IsMatch {
		v := grade.Score(res.Text, test.Questions)
		score = &v
	}

	rec := model.ReviewRecord{
		ID:             s.newID(),
		TestID:         test.ID,
		UploadedAt:     s.now(),
		StudentName:    name,
		CourseID:       test.CourseID,
		SectionID:      test.SectionID,
		SubjectID:      test.SubjectID,
		SubjectName:    test.SubjectName,
		Topic:          test.Topic,
		Score:          score,
		TotalQuestions: len(test.Questions),
		TotalPoints:    test.MaxPoints(),
		SameDocument:   m.IsMatch,
		Coverage:       m.Coverage,
	}
	if resolution.Found {
		rec.StudentID = resolution.Student.ID
		rec.StudentName = resolution.Student.DisplayName
		rec.StudentFound = true
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	history, err := s.reviews.Append(rec)
	if err != nil {
		return nil, fmt.Errorf("append review: %w", err)
	}

	if m.IsMatch && score != nil && resolution.Found && !answerKey {
		entry := model.GradeEntry{
			TestID:      test.ID,
			StudentID:   resolution.Student.ID,
			StudentName: resolution.Student.DisplayName,
			Score:       *score,
			CourseID:    test.CourseID,
			SectionID:   test.SectionID,
			SubjectID:   test.SubjectID,
			Title:       test.Title,
		}
		if err := s.ledger.Upsert(entry); err != nil {
			return nil, fmt.Errorf("upsert grade: %w", err)
		}
	}

	s.log.Info("review complete",
		"test", test.ID,
		"file", up.Filename,
		"match", m.IsMatch,
		"coverage", m.Coverage,
		"student_found", rec.StudentFound,
		"answer_key", answerKey,
		"degraded", res.Degraded,
	)

	return &Outcome{
		ExtractedText:  res.Text,
		Degraded:       res.Degraded,
		Coverage:       m.Coverage,
		SameDocument:   m.IsMatch,
		AnswerKey:      answerKey,
		StudentName:    rec.StudentName,
		StudentFound:   rec.StudentFound,
		StudentID:      rec.StudentID,
		Candidates:     resolution.Candidates,
		Score:          score,
		TotalQuestions: len(test.Questions),
		TotalPoints:    test.MaxPoints(),
		UploadedAt:     rec.UploadedAt,
		History:        history,
	}, nil
}

// ManualAssign resolves an ambiguous upload to an explicit roster student.
// The operator's pick is authoritative: it rewrites the review record in
// place and commits the grade regardless of what automatic matching said.
func (s *Service) ManualAssign(ctx context.Context, test *model.Test, uploadedAt time.Time, studentID string, score int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	student, err := s.findStudent(test.SectionID, studentID)
	if err != nil {
		return err
	}
	score = clamp(score, test.MaxPoints())

	err = s.reviews.UpdateByUploadTime(test.ID, uploadedAt, func(rec *model.ReviewRecord) {
		rec.StudentID = student.ID
		rec.StudentName = student.DisplayName
		rec.StudentFound = true
		rec.Score = &score
		rec.TotalQuestions = len(test.Questions)
		rec.TotalPoints = test.MaxPoints()
	})
	if err != nil {
		return err
	}

	return s.ledger.Upsert(model.GradeEntry{
		TestID:      test.ID,
		StudentID:   student.ID,
		StudentName: student.DisplayName,
		Score:       score,
		CourseID:    test.CourseID,
		SectionID:   test.SectionID,
		SubjectID:   test.SubjectID,
		Title:       test.Title,
	})
}

// EditScore corrects a committed grade. Out-of-range values are clamped to
// [0, max points], never rejected. The student's latest review record is
// rewritten to stay consistent with the ledger.
func (s *Service) EditScore(ctx context.Context, test *model.Test, studentID string, newScore int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	student, err := s.findStudent(test.SectionID, studentID)
	if err != nil {
		return err
	}
	newScore = clamp(newScore, test.MaxPoints())

	if err := s.ledger.Upsert(model.GradeEntry{
		TestID:      test.ID,
		StudentID:   student.ID,
		StudentName: student.DisplayName,
		Score:       newScore,
		CourseID:    test.CourseID,
		SectionID:   test.SectionID,
		SubjectID:   test.SubjectID,
		Title:       test.Title,
	}); err != nil {
		return err
	}

	history, err := s.reviews.History(test.ID)
	if err != nil {
		return err
	}
	rec := store.LatestForStudent(history, *student)
	if rec == nil {
		// Grade-only correction: the student never uploaded a scan.
		return nil
	}
	return s.reviews.UpdateScoreByUploadTime(test.ID, rec.UploadedAt, newScore, len(test.Questions))
}

func (s *Service) findStudent(sectionID, studentID string) (*model.Student, error) {
	students, err := s.roster.StudentsInSection(sectionID)
	if err != nil {
		return nil, fmt.Errorf("load roster %s: %w", sectionID, err)
	}
	for _, st := range students {
		if st.ID == studentID {
			return &st, nil
		}
	}
	return nil, fmt.Errorf("student %s in section %s: %w", studentID, sectionID, store.ErrNotFound)
}

func clamp(score, limit int) int {
	if score < 0 {
		return 0
	}
	if score > limit {
		return limit
	}
	return score
}
