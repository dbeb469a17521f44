package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/rubrica-app/rubrica/internal/testutil"
)

// createTestStore creates a new store in a temporary directory with a
// deterministic clock.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path, WithClock(testutil.NewStepClock().Now))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// seedExam stores the econ rubric (if needed) and one pending exam.
func seedExam(t *testing.T, s *Store, anonID string) {
	t.Helper()
	ctx := context.Background()
	if _, err := s.Rubric(ctx, "ECON-A"); err != nil {
		if _, err := s.PutRubric(ctx, testutil.EconRubric()); err != nil {
			t.Fatalf("PutRubric() failed: %v", err)
		}
	}
	if _, err := s.AddExam(ctx, testutil.Input(anonID, "ECON-A")); err != nil {
		t.Fatalf("AddExam(%s) failed: %v", anonID, err)
	}
}
