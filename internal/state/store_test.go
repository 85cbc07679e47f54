package state

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustLoc(t *testing.T, name string) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation(name)
	require.NoError(t, err)
	return loc
}

func strPtr(s string) *string { return &s }

func sampleSnapshot(now time.Time) Snapshot {
	start := now.Add(-20 * time.Minute)
	return Snapshot{
		Cleaning: map[string]RoomCleaning{
			"101": {Status: StatusInProgress, StartTime: &start},
			"7":   {Status: StatusFinished},
		},
		Dnd:        map[string]DndStatus{"102": DndOn},
		Priorities: map[string]Priority{"205": {AllowCleaningTime: "13:00"}},
		Inspections: []InspectionLog{
			{RoomNumber: "101", Items: map[string]InspectionResult{"bed": ResultPassed}, OverallScore: 90},
		},
		Notes: map[string]RoomNote{
			"103": {Tags: []string{TagSunrise}, UpdatedAt: now},
		},
	}
}

func TestStore_ReplaceAllIsIdempotent(t *testing.T) {
	now := time.Now()
	once := NewStore(nil)
	once.ReplaceAll(sampleSnapshot(now))

	twice := NewStore(nil)
	twice.ReplaceAll(sampleSnapshot(now))
	twice.ReplaceAll(sampleSnapshot(now))

	assert.Equal(t, once.Snapshot(), twice.Snapshot())
	assert.False(t, twice.Loading())
}

func TestStore_ReplaceAllNormalisesKeys(t *testing.T) {
	s := NewStore(nil)
	s.ReplaceAll(sampleSnapshot(time.Now()))

	assert.Equal(t, StatusFinished, s.Cleaning("007").Status)
	assert.Equal(t, StatusFinished, s.Cleaning("7").Status)
	_, ok := s.Inspection("101")
	assert.True(t, ok)
}

func TestStore_ReplaceAllWinsOverEarlierEvents(t *testing.T) {
	s := NewStore(nil)
	s.Apply(Server, "300", func(tx *Tx) { tx.SetCleaning(RoomCleaning{Status: StatusChecked}) })
	s.ReplaceAll(Snapshot{})

	assert.Equal(t, StatusIdle, s.Cleaning("300").Status)
}

func TestStore_UpsertInspectionMatchesPaddedKeys(t *testing.T) {
	testCases := []struct {
		name     string
		existing string
		incoming string
	}{
		{name: "padded then unpadded", existing: "101", incoming: "101"},
		{name: "short key", existing: "007", incoming: "7"},
		{name: "unpadded existing", existing: "7", incoming: "007"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			s := NewStore(nil)
			s.ReplaceAll(Snapshot{Inspections: []InspectionLog{
				{RoomNumber: tc.existing, Items: map[string]InspectionResult{"bed": ResultFailed}, OverallScore: 40, UpdatedBy: "ana"},
			}})

			score := 95.0
			s.Apply(Server, tc.incoming, func(tx *Tx) {
				tx.UpsertInspection(InspectionPatch{OverallScore: &score})
			})

			snap := s.Snapshot()
			require.Len(t, snap.Inspections, 1)
			got := snap.Inspections[0]
			assert.Equal(t, 95.0, got.OverallScore)
			assert.Equal(t, "ana", got.UpdatedBy, "fields absent from the patch are kept")
			assert.Equal(t, ResultFailed, got.Items["bed"])
		})
	}
}

func TestStore_UpsertInspectionAppendsNewRoom(t *testing.T) {
	s := NewStore(nil)
	s.Apply(Server, "12", func(tx *Tx) {
		tx.UpsertInspection(InspectionPatch{Items: map[string]InspectionResult{"sink": ResultPassed}})
	})

	l, ok := s.Inspection("012")
	require.True(t, ok)
	assert.Equal(t, "012", l.RoomNumber)
	assert.Equal(t, ResultPassed, l.Items["sink"])
}

func TestStore_ActiveNote(t *testing.T) {
	loc := mustLoc(t, "America/New_York")
	now := time.Date(2024, 3, 10, 9, 0, 0, 0, loc)

	testCases := []struct {
		name      string
		updatedAt time.Time
		active    bool
	}{
		{name: "same day", updatedAt: now.Add(-2 * time.Hour), active: true},
		{name: "yesterday", updatedAt: now.Add(-24 * time.Hour), active: false},
		// 03:30 UTC on the 10th is still the 9th in New York.
		{name: "same UTC day but earlier local day", updatedAt: time.Date(2024, 3, 10, 3, 30, 0, 0, time.UTC), active: false},
		{name: "zero time", updatedAt: time.Time{}, active: false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			s := NewStore(loc)
			s.ReplaceAll(Snapshot{Notes: map[string]RoomNote{
				"204": {Tags: []string{TagNoArrival}, UpdatedAt: tc.updatedAt},
			}})

			_, active := s.ActiveNote("204", now)
			assert.Equal(t, tc.active, active)
			_, stored := s.Note("204")
			assert.True(t, stored, "stale notes stay in the slice")
			assert.Equal(t, tc.active, len(s.ActiveNotes(now)) == 1)
		})
	}
}

func TestStore_ResetClearsEverything(t *testing.T) {
	s := NewStore(nil)
	s.ReplaceAll(sampleSnapshot(time.Now()))
	require.False(t, s.Loading())

	s.Reset()

	snap := s.Snapshot()
	assert.Empty(t, snap.Cleaning)
	assert.Empty(t, snap.Dnd)
	assert.Empty(t, snap.Priorities)
	assert.Empty(t, snap.Inspections)
	assert.Empty(t, snap.Notes)
	assert.True(t, s.Loading())
}

func TestStore_SetCleaningStatusKeepsStartTime(t *testing.T) {
	start := time.Date(2024, 1, 2, 8, 0, 0, 0, time.UTC)
	s := NewStore(nil)
	s.Apply(Server, "101", func(tx *Tx) {
		tx.SetCleaning(RoomCleaning{Status: StatusFinished, StartTime: &start})
	})
	s.Apply(Server, "101", func(tx *Tx) { tx.SetCleaningStatus(StatusChecked) })

	c := s.Cleaning("101")
	assert.Equal(t, StatusChecked, c.Status)
	require.NotNil(t, c.StartTime)
	assert.True(t, start.Equal(*c.StartTime))
}

func TestStore_Provisionally(t *testing.T) {
	t.Run("rejected preconditions leave no trace", func(t *testing.T) {
		s := NewStore(nil)
		p, ok := s.Provisionally("101", func(tx *Tx) bool {
			tx.SetCleaningStatus(StatusInProgress)
			return false
		})
		assert.False(t, ok)
		assert.Nil(t, p)
		assert.Empty(t, s.Snapshot().Cleaning)
	})

	t.Run("rollback restores prior value", func(t *testing.T) {
		start := time.Now()
		s := NewStore(nil)
		s.Apply(Server, "101", func(tx *Tx) {
			tx.SetCleaning(RoomCleaning{Status: StatusFinished, StartTime: &start})
		})
		before := s.Cleaning("101")

		p, ok := s.Provisionally("101", func(tx *Tx) bool {
			tx.SetCleaningStatus(StatusChecked)
			return true
		})
		require.True(t, ok)
		assert.Equal(t, StatusChecked, s.Cleaning("101").Status)

		assert.True(t, s.Rollback(p))
		assert.Equal(t, before, s.Cleaning("101"))
	})

	t.Run("rollback of absent entry deletes it", func(t *testing.T) {
		s := NewStore(nil)
		p, ok := s.Provisionally("7", func(tx *Tx) bool {
			tx.SetDnd(DndOn)
			return true
		})
		require.True(t, ok)
		assert.Equal(t, "007", p.Room())
		assert.True(t, s.Rollback(p))
		assert.Empty(t, s.Snapshot().Dnd)
	})

	t.Run("server write since blocks rollback", func(t *testing.T) {
		s := NewStore(nil)
		p, _ := s.Provisionally("205", func(tx *Tx) bool {
			tx.SetCleaning(RoomCleaning{Status: StatusInProgress})
			return true
		})
		s.Apply(Server, "205", func(tx *Tx) {
			tx.SetCleaning(RoomCleaning{Status: StatusFinished})
		})

		assert.False(t, s.Rollback(p))
		assert.Equal(t, StatusFinished, s.Cleaning("205").Status)
	})

	t.Run("server write to another room does not block", func(t *testing.T) {
		s := NewStore(nil)
		p, _ := s.Provisionally("205", func(tx *Tx) bool {
			tx.SetCleaning(RoomCleaning{Status: StatusInProgress})
			return true
		})
		s.Apply(Server, "206", func(tx *Tx) { tx.SetDnd(DndOn) })

		assert.True(t, s.Rollback(p))
		assert.Equal(t, StatusIdle, s.Cleaning("205").Status)
	})

	t.Run("server write to another slice does not block", func(t *testing.T) {
		s := NewStore(nil)
		p, _ := s.Provisionally("205", func(tx *Tx) bool {
			tx.SetCleaning(RoomCleaning{Status: StatusInProgress})
			return true
		})
		s.Apply(Server, "205", func(tx *Tx) {
			tx.SetPriority(Priority{Priority: "high"})
			tx.SetNote(&RoomNote{Note: strPtr("towels"), UpdatedAt: time.Now()})
			tx.UpsertInspection(InspectionPatch{Items: map[string]InspectionResult{"bed": ResultPassed}})
		})

		assert.True(t, s.Rollback(p))
		assert.Equal(t, StatusIdle, s.Cleaning("205").Status)
		pr, ok := s.Priority("205")
		require.True(t, ok)
		assert.Equal(t, "high", pr.Priority)
	})

	t.Run("server write to one of several touched slices blocks", func(t *testing.T) {
		s := NewStore(nil)
		p, _ := s.Provisionally("205", func(tx *Tx) bool {
			tx.SetNote(&RoomNote{Note: strPtr("mine"), UpdatedAt: time.Now()})
			tx.SetDnd(DndOn)
			return true
		})
		s.Apply(Server, "205", func(tx *Tx) { tx.SetDnd(DndAvailable) })

		assert.False(t, s.Rollback(p))
		_, ok := s.Note("205")
		assert.True(t, ok)
	})

	t.Run("reset blocks rollback", func(t *testing.T) {
		s := NewStore(nil)
		p, _ := s.Provisionally("205", func(tx *Tx) bool {
			tx.SetCleaning(RoomCleaning{Status: StatusInProgress})
			return true
		})
		s.Reset()
		assert.False(t, s.Rollback(p))
		assert.Empty(t, s.Snapshot().Cleaning)
	})

	t.Run("notes and inspections roll back", func(t *testing.T) {
		s := NewStore(nil)
		s.ReplaceAll(Snapshot{Notes: map[string]RoomNote{"301": {Note: strPtr("old"), UpdatedAt: time.Now()}}})

		p, _ := s.Provisionally("301", func(tx *Tx) bool {
			tx.SetNote(&RoomNote{Note: strPtr("new"), UpdatedAt: time.Now()})
			tx.UpsertInspection(InspectionPatch{Items: map[string]InspectionResult{"bed": ResultPassed}})
			return true
		})
		require.True(t, s.Rollback(p))

		n, ok := s.Note("301")
		require.True(t, ok)
		assert.Equal(t, "old", *n.Note)
		_, inspected := s.Inspection("301")
		assert.False(t, inspected)
	})
}

func TestStore_LocalWritesDoNotAdvanceGeneration(t *testing.T) {
	s := NewStore(nil)
	g := s.Generation("101")
	s.Apply(Local, "101", func(tx *Tx) { tx.SetDnd(DndOn) })
	assert.Equal(t, g, s.Generation("101"))

	s.Apply(Server, "101", func(tx *Tx) { tx.SetDnd(DndAvailable) })
	assert.NotEqual(t, g, s.Generation("101"))
}
