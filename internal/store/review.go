package store

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/pavelanni/revisor/internal/model"
	"github.com/pavelanni/revisor/internal/textutil"
)

func historyKey(testID string) string { return "review:" + testID }

// ReviewStore keeps the append-only review history, one ordered list per
// test. Every upload attempt is logged, including failed and ambiguous
// ones; the only mutation is the explicit in-place score correction.
type ReviewStore struct {
	docs DocumentStore
}

func NewReviewStore(docs DocumentStore) *ReviewStore {
	return &ReviewStore{docs: docs}
}

// History returns the review records for a test in upload order.
func (r *ReviewStore) History(testID string) ([]model.ReviewRecord, error) {
	blob, ok, err := r.docs.Get(historyKey(testID))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	var records []model.ReviewRecord
	if err := json.Unmarshal(blob, &records); err != nil {
		return nil, fmt.Errorf("decode history %s: %w", testID, err)
	}
	return records, nil
}

func (r *ReviewStore) put(testID string, records []model.ReviewRecord) error {
	blob, err := json.Marshal(records)
	if err != nil {
		return fmt.Errorf("encode history %s: %w", testID, err)
	}
	return r.docs.Set(historyKey(testID), blob)
}

// Append adds a record to the test's history and returns the updated list.
// Records are never overwritten here; the audit trail only grows.
func (r *ReviewStore) Append(rec model.ReviewRecord) ([]model.ReviewRecord, error) {
	records, err := r.History(rec.TestID)
	if err != nil {
		return nil, err
	}
	records = append(records, rec)
	if err := r.put(rec.TestID, records); err != nil {
		return nil, err
	}
	return records, nil
}

// UpdateByUploadTime rewrites the unique record identified by its upload
// timestamp with fn and saves the history without changing its length.
func (r *ReviewStore) UpdateByUploadTime(testID string, uploadedAt time.Time, fn func(*model.ReviewRecord)) error {
	records, err := r.History(testID)
	if err != nil {
		return err
	}
	for i := range records {
		if records[i].UploadedAt.Equal(uploadedAt) {
			fn(&records[i])
			return r.put(testID, records)
		}
	}
	return fmt.Errorf("review at %s for test %s: %w", uploadedAt.Format(time.RFC3339Nano), testID, ErrNotFound)
}

// UpdateScoreByUploadTime is the score-correction path: it rewrites only
// the score fields of the matching record, never appending a duplicate.
func (r *ReviewStore) UpdateScoreByUploadTime(testID string, uploadedAt time.Time, score, totalQuestions int) error {
	return r.UpdateByUploadTime(testID, uploadedAt, func(rec *model.ReviewRecord) {
		rec.Score = &score
		rec.TotalQuestions = totalQuestions
	})
}

// LatestForStudent finds the most recent record belonging to a roster
// student, matching by student id first and by normalized display name as
// a fallback. Returns nil when the student never uploaded.
func LatestForStudent(history []model.ReviewRecord, s model.Student) *model.ReviewRecord {
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].StudentID != "" && history[i].StudentID == s.ID {
			return &history[i]
		}
	}
	name := textutil.Normalize(s.DisplayName)
	if name == "" {
		return nil
	}
	for i := len(history) - 1; i >= 0; i-- {
		if textutil.Normalize(history[i].StudentName) == name {
			return &history[i]
		}
	}
	return nil
}
