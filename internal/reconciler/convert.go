package reconciler

import (
	"log"

	"housekeeping-sync/internal/protocol"
	"housekeeping-sync/internal/state"
)

// snapshotFrom converts an initialData payload. Entries whose key is not a
// room number are skipped; the rest of the snapshot still applies.
func snapshotFrom(d protocol.InitialData) state.Snapshot {
	snap := state.Snapshot{
		Cleaning:   make(map[string]state.RoomCleaning, len(d.CleaningStatus)),
		Dnd:        make(map[string]state.DndStatus, len(d.DndStatus)),
		Priorities: make(map[string]state.Priority, len(d.Priorities)),
		Notes:      make(map[string]state.RoomNote, len(d.RoomNotes)),
	}
	for raw, c := range d.CleaningStatus {
		key, ok := roomKey(protocol.RoomNumber(raw))
		if !ok {
			continue
		}
		st, known := state.ParseCleaningStatus(c.Status)
		if !known {
			log.Printf("reconciler: snapshot room %s has unknown status %q, treating as idle", key, c.Status)
		}
		snap.Cleaning[key] = state.RoomCleaning{Status: st, StartTime: c.StartTime.Ptr()}
	}
	for raw, d := range d.DndStatus {
		if key, ok := roomKey(protocol.RoomNumber(raw)); ok {
			snap.Dnd[key] = state.DndFromBool(bool(d))
		}
	}
	for raw, p := range d.Priorities {
		if key, ok := roomKey(protocol.RoomNumber(raw)); ok {
			snap.Priorities[key] = state.Priority{Priority: p.Priority, AllowCleaningTime: p.AllowCleaningTime}
		}
	}
	for _, l := range d.InspectionLogs {
		key, ok := roomKey(l.RoomNumber)
		if !ok {
			continue
		}
		il := state.InspectionLog{RoomNumber: key}
		inspectionPatch(l).MergeInto(&il)
		snap.Inspections = append(snap.Inspections, il)
	}
	for raw, n := range d.RoomNotes {
		if n == nil {
			continue
		}
		if key, ok := roomKey(protocol.RoomNumber(raw)); ok {
			snap.Notes[key] = note(*n)
		}
	}
	return snap
}

func roomKey(r protocol.RoomNumber) (string, bool) {
	key, err := r.Key()
	if err != nil {
		log.Printf("reconciler: ignoring entry with room number %q: %v", string(r), err)
		return "", false
	}
	return key, true
}

func inspectionPatch(l protocol.InspectionLog) state.InspectionPatch {
	p := state.InspectionPatch{
		OverallScore: l.OverallScore,
		UpdatedBy:    l.UpdatedBy,
		Date:         l.Date,
	}
	if l.Items != nil {
		p.Items = make(map[string]state.InspectionResult, len(l.Items))
		for k, v := range l.Items {
			p.Items[k] = state.ParseInspectionResult(v)
		}
	}
	if l.UpdatedAt != nil {
		p.UpdatedAt = l.UpdatedAt.Ptr()
	}
	return p
}

func note(n protocol.RoomNote) state.RoomNote {
	return state.RoomNote{
		Tags:          n.Tags,
		AfterTime:     n.AfterTime,
		Note:          n.Note,
		LastUpdatedBy: n.LastUpdatedBy,
		UpdatedAt:     n.UpdatedAt.Time,
	}
}
