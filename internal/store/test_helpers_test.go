package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/roach88/meetwatch/internal/model"
)

var t0 = time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC)

// createTestStore creates a new file-backed store for testing.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// createTestEvent creates a tracked row starting startIn after t0.
func createTestEvent(userID, eventID string, startIn, length time.Duration) model.TrackedEvent {
	return model.TrackedEvent{
		UserID:       userID,
		EventID:      eventID,
		Summary:      "Meeting " + eventID,
		Start:        t0.Add(startIn),
		End:          t0.Add(startIn + length),
		DiscoveredAt: t0,
	}
}
