package store

import (
	"encoding/json"
	"fmt"

	"github.com/pavelanni/revisor/internal/model"
)

func testKey(testID string) string      { return "test:" + testID }
func rosterKey(sectionID string) string { return "roster:" + sectionID }
func ledgerKey(testID string) string    { return "gradebook:" + testID }

// TestRepository reads and seeds immutable test definitions. The engine
// only ever reads; writes exist for the import tooling.
type TestRepository struct {
	docs DocumentStore
}

func NewTestRepository(docs DocumentStore) *TestRepository {
	return &TestRepository{docs: docs}
}

func (r *TestRepository) Get(testID string) (*model.Test, error) {
	blob, ok, err := r.docs.Get(testKey(testID))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("test %s: %w", testID, ErrNotFound)
	}
	var t model.Test
	if err := json.Unmarshal(blob, &t); err != nil {
		return nil, fmt.Errorf("decode test %s: %w", testID, err)
	}
	return &t, nil
}

func (r *TestRepository) Put(t *model.Test) error {
	blob, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("encode test %s: %w", t.ID, err)
	}
	return r.docs.Set(testKey(t.ID), blob)
}

// RosterDirectory lists the students of a section.
type RosterDirectory struct {
	docs DocumentStore
}

func NewRosterDirectory(docs DocumentStore) *RosterDirectory {
	return &RosterDirectory{docs: docs}
}

func (r *RosterDirectory) StudentsInSection(sectionID string) ([]model.Student, error) {
	blob, ok, err := r.docs.Get(rosterKey(sectionID))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	var students []model.Student
	if err := json.Unmarshal(blob, &students); err != nil {
		return nil, fmt.Errorf("decode roster %s: %w", sectionID, err)
	}
	return students, nil
}

func (r *RosterDirectory) PutSection(sectionID string, students []model.Student) error {
	blob, err := json.Marshal(students)
	if err != nil {
		return fmt.Errorf("encode roster %s: %w", sectionID, err)
	}
	return r.docs.Set(rosterKey(sectionID), blob)
}

// GradeLedger is the engine's sole write path into the gradebook. One
// entry exists per (test, student) pair; Upsert is a single
// read-modify-write so a retried correction cannot duplicate rows.
type GradeLedger struct {
	docs DocumentStore
}

func NewGradeLedger(docs DocumentStore) *GradeLedger {
	return &GradeLedger{docs: docs}
}

func (l *GradeLedger) Entries(testID string) ([]model.GradeEntry, error) {
	blob, ok, err := l.docs.Get(ledgerKey(testID))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	var entries []model.GradeEntry
	if err := json.Unmarshal(blob, &entries); err != nil {
		return nil, fmt.Errorf("decode ledger %s: %w", testID, err)
	}
	return entries, nil
}

func (l *GradeLedger) put(testID string, entries []model.GradeEntry) error {
	blob, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("encode ledger %s: %w", testID, err)
	}
	return l.docs.Set(ledgerKey(testID), blob)
}

// Upsert overwrites the entry matching (TestID, StudentID) in place, or
// appends when no entry exists yet.
func (l *GradeLedger) Upsert(entry model.GradeEntry) error {
	entries, err := l.Entries(entry.TestID)
	if err != nil {
		return err
	}
	replaced := false
	for i := range entries {
		if entries[i].StudentID == entry.StudentID {
			entries[i] = entry
			replaced = true
			break
		}
	}
	if !replaced {
		entries = append(entries, entry)
	}
	return l.put(entry.TestID, entries)
}
