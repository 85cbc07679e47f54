package reconciler

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"housekeeping-sync/internal/protocol"
	"housekeeping-sync/internal/state"
)

type fakeResyncer struct {
	calls int
	err   error
	// seen records whether the store was already empty when asked.
	seen []state.Snapshot
	s    *state.Store
}

func (f *fakeResyncer) RequestInitialData(context.Context) error {
	f.calls++
	if f.s != nil {
		f.seen = append(f.seen, f.s.Snapshot())
	}
	return f.err
}

func frame(t *testing.T, typ, payload string) protocol.Message {
	t.Helper()
	env := protocol.Envelope{Type: typ}
	if payload != "" {
		env.Payload = json.RawMessage(payload)
	}
	msg, err := protocol.Decode(env)
	require.NoError(t, err)
	return msg
}

const snapshotPayload = `{
	"cleaningStatus": {"101": {"status": "in_progress", "startTime": "2024-05-01T08:00:00Z"}, "7": "finished"},
	"dndStatus": {"102": true, "103": "available"},
	"priorities": {"205": {"allowCleaningTime": "13:00"}},
	"inspectionLogs": [{"roomNumber": 101, "items": {"bed": "passed"}, "overallScore": 88}],
	"roomNotes": {"104": {"tags": ["Sunrise"], "afterTime": null, "note": "late", "updatedAt": "2024-05-01T07:00:00Z"}, "105": null}
}`

func newReconciler() (*Reconciler, *state.Store, *fakeResyncer) {
	s := state.NewStore(time.UTC)
	rs := &fakeResyncer{s: s}
	return New(s, rs), s, rs
}

func TestReconciler_InitialDataIsIdempotent(t *testing.T) {
	r, s, _ := newReconciler()
	r.Handle(frame(t, "initialData", snapshotPayload))
	once := s.Snapshot()

	r.Handle(frame(t, "initialData", snapshotPayload))
	assert.Equal(t, once, s.Snapshot())

	assert.Equal(t, state.StatusFinished, once.Cleaning["007"].Status)
	assert.Equal(t, state.DndOn, once.Dnd["102"])
	assert.Equal(t, state.DndAvailable, once.Dnd["103"])
	assert.Equal(t, "13:00", once.Priorities["205"].AllowCleaningTime)
	require.Len(t, once.Inspections, 1)
	assert.Equal(t, "101", once.Inspections[0].RoomNumber)
	assert.Contains(t, once.Notes, "104")
	assert.NotContains(t, once.Notes, "105")
	assert.False(t, s.Loading())
}

func TestReconciler_LateSnapshotReplacesIncrementalEvents(t *testing.T) {
	r, s, _ := newReconciler()
	r.Handle(frame(t, "roomUpdate", `{"roomNumber":"300","status":"finished"}`))
	r.Handle(frame(t, "initialData", `{"cleaningStatus":{"300":"in_progress"}}`))

	assert.Equal(t, state.StatusInProgress, s.Cleaning("300").Status)
}

func TestReconciler_MergeRules(t *testing.T) {
	start := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)

	testCases := []struct {
		name   string
		events [][2]string
		check  func(t *testing.T, s *state.Store)
	}{
		{
			name: "roomUpdate replaces wholesale",
			events: [][2]string{
				{"roomUpdate", `{"roomNumber":"101","status":"in_progress","startTime":"2024-05-01T08:00:00Z"}`},
				{"roomUpdate", `{"roomNumber":101,"status":"finished"}`},
			},
			check: func(t *testing.T, s *state.Store) {
				c := s.Cleaning("101")
				assert.Equal(t, state.StatusFinished, c.Status)
				assert.Nil(t, c.StartTime)
			},
		},
		{
			name: "roomChecked keeps start time",
			events: [][2]string{
				{"roomUpdate", `{"roomNumber":"101","status":"finished","startTime":"2024-05-01T08:00:00Z"}`},
				{"roomChecked", `{"roomNumber":"101","status":"checked"}`},
			},
			check: func(t *testing.T, s *state.Store) {
				c := s.Cleaning("101")
				assert.Equal(t, state.StatusChecked, c.Status)
				require.NotNil(t, c.StartTime)
				assert.True(t, start.Equal(*c.StartTime))
			},
		},
		{
			name: "available status means idle",
			events: [][2]string{
				{"roomUpdate", `{"roomNumber":"101","status":"finished"}`},
				{"roomUpdate", `{"roomNumber":"101","status":"available","startTime":null}`},
			},
			check: func(t *testing.T, s *state.Store) {
				assert.Equal(t, state.StatusIdle, s.Cleaning("101").Status)
			},
		},
		{
			name: "dndUpdate maps boolean",
			events: [][2]string{
				{"dndUpdate", `{"roomNumber":"12","dndStatus":true}`},
				{"dndUpdate", `{"roomNumber":"13","dndStatus":false}`},
			},
			check: func(t *testing.T, s *state.Store) {
				assert.Equal(t, state.DndOn, s.Dnd("012"))
				assert.Equal(t, state.DndAvailable, s.Dnd("013"))
			},
		},
		{
			name: "priorityUpdate replaces wholesale",
			events: [][2]string{
				{"priorityUpdate", `{"roomNumber":"205","priority":"high"}`},
				{"priorityUpdate", `{"roomNumber":"205","allowCleaningTime":"15:30"}`},
			},
			check: func(t *testing.T, s *state.Store) {
				p, ok := s.Priority("205")
				require.True(t, ok)
				assert.Equal(t, state.Priority{AllowCleaningTime: "15:30"}, p)
			},
		},
		{
			name: "noteUpdate replaces and null clears",
			events: [][2]string{
				{"noteUpdate", `{"roomNumber":"110","notes":{"tags":["Early arrival"],"note":"vip","updatedAt":"2024-05-01T07:00:00Z"}}`},
				{"noteUpdate", `{"roomNumber":"111","notes":{"tags":["Sunrise"],"updatedAt":"2024-05-01T07:00:00Z"}}`},
				{"noteUpdate", `{"roomNumber":"111","notes":null}`},
			},
			check: func(t *testing.T, s *state.Store) {
				n, ok := s.Note("110")
				require.True(t, ok)
				assert.Equal(t, []string{"Early arrival"}, n.Tags)
				_, ok = s.Note("111")
				assert.False(t, ok)
			},
		},
		{
			name: "events apply in arrival order",
			events: [][2]string{
				{"roomUpdate", `{"roomNumber":"101","status":"in_progress"}`},
				{"roomUpdate", `{"roomNumber":"101","status":"finished"}`},
				{"roomUpdate", `{"roomNumber":"101","status":"in_progress"}`},
			},
			check: func(t *testing.T, s *state.Store) {
				assert.Equal(t, state.StatusInProgress, s.Cleaning("101").Status)
			},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			r, s, _ := newReconciler()
			for _, ev := range tc.events {
				r.Handle(frame(t, ev[0], ev[1]))
			}
			tc.check(t, s)
		})
	}
}

func TestReconciler_InspectionUpsertAcrossKeyFormats(t *testing.T) {
	testCases := []struct {
		name     string
		existing string
		update   string
	}{
		{name: "string then number", existing: `"101"`, update: `101`},
		{name: "number then string", existing: `101`, update: `"101"`},
		{name: "padded then short", existing: `"007"`, update: `7`},
		{name: "short then padded", existing: `"7"`, update: `"007"`},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			r, s, _ := newReconciler()
			r.Handle(frame(t, "initialData",
				`{"inspectionLogs":[{"roomNumber":`+tc.existing+`,"items":{"bed":"failed"},"overallScore":40,"updatedBy":"ana"}]}`))
			r.Handle(frame(t, "inspectionUpdate",
				`{"roomNumber":`+tc.update+`,"log":{"roomNumber":`+tc.update+`,"items":{"bed":"passed"},"overallScore":100}}`))

			snap := s.Snapshot()
			require.Len(t, snap.Inspections, 1)
			got := snap.Inspections[0]
			assert.Equal(t, 100.0, got.OverallScore)
			assert.Equal(t, state.ResultPassed, got.Items["bed"])
			assert.Equal(t, "ana", got.UpdatedBy)
		})
	}
}

func TestReconciler_DropsMalformedEvents(t *testing.T) {
	testCases := []struct {
		name    string
		typ     string
		payload string
	}{
		{name: "inspection without log", typ: "inspectionUpdate", payload: `{"roomNumber":"101"}`},
		{name: "inspection with null log", typ: "inspectionUpdate", payload: `{"roomNumber":"101","log":null}`},
		{name: "bad room number", typ: "dndUpdate", payload: `{"roomNumber":"lobby","dndStatus":true}`},
		{name: "missing room number", typ: "roomUpdate", payload: `{"status":"finished"}`},
		{name: "unknown status", typ: "roomUpdate", payload: `{"roomNumber":"101","status":"exploded"}`},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			r, s, _ := newReconciler()
			r.Handle(frame(t, "initialData", snapshotPayload))
			before := s.Snapshot()

			err := r.Apply(frame(t, tc.typ, tc.payload).Event)
			assert.True(t, errors.Is(err, ErrDropped))
			assert.Equal(t, before, s.Snapshot())
		})
	}
}

func TestReconciler_DailyResetClearsAndResyncs(t *testing.T) {
	r, s, rs := newReconciler()
	var reasons []string
	r.OnReset(func(reason string) { reasons = append(reasons, reason) })

	r.Handle(frame(t, "initialData", snapshotPayload))
	r.Handle(frame(t, "dailyReset", `{}`))

	snap := s.Snapshot()
	assert.Empty(t, snap.Cleaning)
	assert.Empty(t, snap.Dnd)
	assert.Empty(t, snap.Priorities)
	assert.Empty(t, snap.Inspections)
	assert.Empty(t, snap.Notes)
	assert.True(t, s.Loading())
	assert.Equal(t, []string{"server"}, reasons)

	require.Equal(t, 1, rs.calls)
	assert.Empty(t, rs.seen[0].Cleaning, "snapshot is requested after the slices were cleared")

	r.Handle(frame(t, "initialData", `{"cleaningStatus":{"101":"idle"}}`))
	assert.False(t, s.Loading())
}

func TestReconciler_ResyncFailureIsNotFatal(t *testing.T) {
	r, s, rs := newReconciler()
	rs.err = errors.New("not connected")

	err := r.ResetAndResync(context.Background(), "clock")
	assert.NoError(t, err)
	assert.True(t, s.Loading())
	assert.Equal(t, 1, rs.calls)
}

func TestReconciler_ClosedDropsLateEvents(t *testing.T) {
	r, s, rs := newReconciler()
	r.Close()

	r.Handle(frame(t, "roomUpdate", `{"roomNumber":"101","status":"finished"}`))
	require.NoError(t, r.ResetAndResync(context.Background(), "clock"))

	assert.Equal(t, state.StatusIdle, s.Cleaning("101").Status)
	assert.Zero(t, rs.calls)
}
