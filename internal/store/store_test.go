package store

import (
	"errors"
	"testing"
	"time"

	"github.com/pavelanni/revisor/internal/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(":memory:")
	if err != nil {
		t.Fatalf("newTestStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestDocumentGetSet(t *testing.T) {
	s := newTestStore(t)

	_, ok, err := s.Get("missing")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if ok {
		t.Fatal("expected missing key")
	}

	if err := s.Set("k", []byte(`{"a":1}`)); err != nil {
		t.Fatalf("Set: %v", err)
	}
	blob, ok, err := s.Get("k")
	if err != nil || !ok {
		t.Fatalf("Get after Set: ok=%v err=%v", ok, err)
	}
	if string(blob) != `{"a":1}` {
		t.Errorf("blob = %s", blob)
	}

	// Overwrite, not duplicate.
	if err := s.Set("k", []byte(`{"a":2}`)); err != nil {
		t.Fatalf("Set overwrite: %v", err)
	}
	blob, _, _ = s.Get("k")
	if string(blob) != `{"a":2}` {
		t.Errorf("blob after overwrite = %s", blob)
	}
}

func sampleRecord(testID string, uploadedAt time.Time, studentID, name string) model.ReviewRecord {
	return model.ReviewRecord{
		ID:           "r-" + uploadedAt.Format("150405.000000000"),
		TestID:       testID,
		UploadedAt:   uploadedAt,
		StudentName:  name,
		StudentID:    studentID,
		SameDocument: true,
		Coverage:     0.8,
		StudentFound: studentID != "",
	}
}

func TestReviewHistoryAppendOnly(t *testing.T) {
	s := newTestStore(t)
	reviews := NewReviewStore(s)
	base := time.Date(2026, 8, 31, 10, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		history, err := reviews.Append(sampleRecord("t1", base.Add(time.Duration(i)*time.Minute), "", "Ana"))
		if err != nil {
			t.Fatalf("Append %d: %v", i, err)
		}
		if len(history) != i+1 {
			t.Fatalf("history length = %d, want %d", len(history), i+1)
		}
	}

	// Score correction rewrites in place, never changes the count.
	if err := reviews.UpdateScoreByUploadTime("t1", base.Add(time.Minute), 7, 10); err != nil {
		t.Fatalf("UpdateScoreByUploadTime: %v", err)
	}
	history, err := reviews.History("t1")
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(history) != 3 {
		t.Fatalf("history length after update = %d, want 3", len(history))
	}
	rec := history[1]
	if rec.Score == nil || *rec.Score != 7 || rec.TotalQuestions != 10 {
		t.Errorf("updated record = %+v", rec)
	}
	if !rec.UploadedAt.Equal(base.Add(time.Minute)) {
		t.Errorf("uploadedAt changed: %v", rec.UploadedAt)
	}
}

func TestUpdateScoreUnknownTimestamp(t *testing.T) {
	s := newTestStore(t)
	reviews := NewReviewStore(s)
	if _, err := reviews.Append(sampleRecord("t1", time.Now(), "", "Ana")); err != nil {
		t.Fatalf("Append: %v", err)
	}

	err := reviews.UpdateScoreByUploadTime("t1", time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC), 1, 1)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestUpdateScoreByDisplayedTimestamp(t *testing.T) {
	// Operators re-type the timestamp the CLI printed, so a record
	// stamped with wall-clock nanosecond precision must round-trip
	// through its RFC3339Nano rendering.
	s := newTestStore(t)
	reviews := NewReviewStore(s)

	uploadedAt := time.Now()
	if _, err := reviews.Append(sampleRecord("t1", uploadedAt, "", "Ana")); err != nil {
		t.Fatalf("Append: %v", err)
	}

	displayed := uploadedAt.Format(time.RFC3339Nano)
	parsed, err := time.Parse(time.RFC3339Nano, displayed)
	if err != nil {
		t.Fatalf("Parse(%q): %v", displayed, err)
	}
	if err := reviews.UpdateScoreByUploadTime("t1", parsed, 5, 10); err != nil {
		t.Fatalf("UpdateScoreByUploadTime via %q: %v", displayed, err)
	}
	history, _ := reviews.History("t1")
	if len(history) != 1 || history[0].Score == nil || *history[0].Score != 5 {
		t.Fatalf("history = %+v", history)
	}
}

func TestLatestForStudent(t *testing.T) {
	base := time.Date(2026, 8, 31, 10, 0, 0, 0, time.UTC)
	history := []model.ReviewRecord{
		sampleRecord("t1", base, "s1", "Ana Rojas"),
		sampleRecord("t1", base.Add(time.Minute), "", "José Soto"),
		sampleRecord("t1", base.Add(2*time.Minute), "s1", "Ana Rojas"),
	}

	ana := model.Student{ID: "s1", DisplayName: "Ana Rojas"}
	if rec := LatestForStudent(history, ana); rec == nil || !rec.UploadedAt.Equal(base.Add(2*time.Minute)) {
		t.Fatalf("latest for ana = %+v", rec)
	}

	// Falls back to normalized name equality when no id matched.
	jose := model.Student{ID: "s2", DisplayName: "Jose Soto"}
	if rec := LatestForStudent(history, jose); rec == nil || !rec.UploadedAt.Equal(base.Add(time.Minute)) {
		t.Fatalf("latest for jose = %+v", rec)
	}

	nobody := model.Student{ID: "s9", DisplayName: "Pedro Salinas"}
	if rec := LatestForStudent(history, nobody); rec != nil {
		t.Fatalf("expected nil, got %+v", rec)
	}
}

func TestGradeLedgerUpsertIdempotent(t *testing.T) {
	s := newTestStore(t)
	ledger := NewGradeLedger(s)

	entry := model.GradeEntry{TestID: "t1", StudentID: "s1", StudentName: "Ana Rojas", Score: 8, Title: "Prueba 1"}
	for i := 0; i < 2; i++ {
		if err := ledger.Upsert(entry); err != nil {
			t.Fatalf("Upsert %d: %v", i, err)
		}
	}
	entries, err := ledger.Entries("t1")
	if err != nil {
		t.Fatalf("Entries: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("entries = %d, want 1", len(entries))
	}

	// A different score for the same pair overwrites in place.
	entry.Score = 5
	if err := ledger.Upsert(entry); err != nil {
		t.Fatalf("Upsert overwrite: %v", err)
	}
	entries, _ = ledger.Entries("t1")
	if len(entries) != 1 || entries[0].Score != 5 {
		t.Fatalf("entries after overwrite = %+v", entries)
	}

	// A second student appends.
	if err := ledger.Upsert(model.GradeEntry{TestID: "t1", StudentID: "s2", StudentName: "José Soto", Score: 6, Title: "Prueba 1"}); err != nil {
		t.Fatalf("Upsert s2: %v", err)
	}
	entries, _ = ledger.Entries("t1")
	if len(entries) != 2 {
		t.Fatalf("entries = %d, want 2", len(entries))
	}
}

func TestTestRepositoryRoundTrip(t *testing.T) {
	s := newTestStore(t)
	repo := NewTestRepository(s)

	if _, err := repo.Get("missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}

	in := &model.Test{
		ID:        "t1",
		Title:     "Prueba de Fuerzas",
		SectionID: "sec1",
		Questions: []model.Question{
			model.TrueFalse{ID: "q1", Text: "La gravedad atrae", Answer: true},
			model.MultipleChoice{ID: "q2", Text: "Capital de Francia", Options: []string{"Paris", "Lyon"}, CorrectIndex: 0},
			model.MultiSelect{ID: "q3", Text: "Fuerzas", Options: []model.SelectOption{{Text: "Gravedad", Correct: true}}},
			model.FreeResponse{ID: "q4", Text: "Explique"},
		},
	}
	if err := repo.Put(in); err != nil {
		t.Fatalf("Put: %v", err)
	}
	out, err := repo.Get("t1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(out.Questions) != 4 {
		t.Fatalf("questions = %d, want 4", len(out.Questions))
	}
	if out.MaxPoints() != 4 {
		t.Errorf("MaxPoints = %d, want question count", out.MaxPoints())
	}
	if q, ok := out.Questions[1].(model.MultipleChoice); !ok || q.CorrectIndex != 0 {
		t.Errorf("question 2 decoded as %#v", out.Questions[1])
	}
}

func TestRosterDirectory(t *testing.T) {
	s := newTestStore(t)
	dir := NewRosterDirectory(s)

	students, err := dir.StudentsInSection("sec1")
	if err != nil {
		t.Fatalf("StudentsInSection: %v", err)
	}
	if len(students) != 0 {
		t.Fatalf("expected empty roster, got %d", len(students))
	}

	roster := []model.Student{
		{ID: "s1", Username: "arojas", DisplayName: "Ana Rojas"},
		{ID: "s2", Username: "jsoto", DisplayName: "José Soto"},
	}
	if err := dir.PutSection("sec1", roster); err != nil {
		t.Fatalf("PutSection: %v", err)
	}
	students, err = dir.StudentsInSection("sec1")
	if err != nil {
		t.Fatalf("StudentsInSection: %v", err)
	}
	if len(students) != 2 || students[0].DisplayName != "Ana Rojas" {
		t.Fatalf("roster = %+v", students)
	}
}
