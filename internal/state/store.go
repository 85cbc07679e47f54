package state

import (
	"sync"
	"time"

	"housekeeping-sync/internal/parse"
)

// Origin identifies who is writing to the store.
type Origin int

const (
	// Server writes come from the realtime event stream and always win.
	Server Origin = iota
	// Local writes are provisional optimistic values.
	Local
)

// Store holds the synchronized room state. Every mutation goes through
// apply, which runs under the write lock so each fold is atomic. Server
// writes advance the generation of each slice they touch in the room;
// local writes do not. A pending rollback compares only the slices it
// wrote, so an unrelated server event does not cancel it.
type Store struct {
	mu  sync.RWMutex
	loc *time.Location

	cleaning    map[string]RoomCleaning
	dnd         map[string]DndStatus
	priorities  map[string]Priority
	inspections []InspectionLog
	notes       map[string]RoomNote

	epoch   uint64
	gens    map[slot]uint64
	loading bool
}

// NewStore returns an empty store in the loading state. loc is the
// reference timezone for note activity; nil means UTC.
func NewStore(loc *time.Location) *Store {
	if loc == nil {
		loc = time.UTC
	}
	s := &Store{loc: loc, loading: true}
	s.clearLocked()
	return s
}

// Location returns the reference timezone.
func (s *Store) Location() *time.Location { return s.loc }

// Key normalises a room number to the canonical 3-digit key. Values that
// are not room numbers are kept verbatim.
func Key(room string) string {
	if k, err := parse.RoomKey(room); err == nil {
		return k
	}
	return room
}

func (s *Store) clearLocked() {
	s.cleaning = make(map[string]RoomCleaning)
	s.dnd = make(map[string]DndStatus)
	s.priorities = make(map[string]Priority)
	s.inspections = nil
	s.notes = make(map[string]RoomNote)
	s.gens = make(map[slot]uint64)
}

// slice names one of the per-room state maps.
type slice uint8

const (
	sliceCleaning slice = 1 << iota
	sliceDnd
	slicePriority
	sliceInspection
	sliceNote
)

var allSlices = []slice{sliceCleaning, sliceDnd, slicePriority, sliceInspection, sliceNote}

type slot struct {
	room  string
	slice slice
}

func (s *Store) sliceGenerationLocked(room string, sl slice) uint64 {
	return s.epoch<<32 | s.gens[slot{room, sl}]
}

func (s *Store) generationLocked(room string) uint64 {
	var n uint64
	for _, sl := range allSlices {
		n += s.gens[slot{room, sl}]
	}
	return s.epoch<<32 | n
}

// apply runs fn against room under the write lock and returns the
// transaction so the caller can keep its undo log.
func (s *Store) apply(origin Origin, room string, fn func(tx *Tx)) *Tx {
	tx := &Tx{s: s, room: Key(room)}
	fn(tx)
	if origin == Server {
		for _, sl := range allSlices {
			if tx.touched&sl != 0 {
				s.gens[slot{tx.room, sl}]++
			}
		}
	}
	return tx
}

// Apply folds one write for room into the store.
func (s *Store) Apply(origin Origin, room string, fn func(tx *Tx)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.apply(origin, room, fn)
}

// Pending is a provisional local write that can still be rolled back.
type Pending struct {
	room string
	gens map[slice]uint64
	undo []func()
}

// Room returns the canonical key the write was applied to.
func (p *Pending) Room() string { return p.room }

// Provisionally applies a local write if fn reports its preconditions held.
// When fn returns false any changes it made are undone and ok is false.
func (s *Store) Provisionally(room string, fn func(tx *Tx) bool) (p *Pending, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var allowed bool
	tx := s.apply(Local, room, func(tx *Tx) { allowed = fn(tx) })
	if !allowed {
		tx.revert()
		return nil, false
	}
	p = &Pending{room: tx.room, gens: make(map[slice]uint64), undo: tx.undo}
	for _, sl := range allSlices {
		if tx.touched&sl != 0 {
			p.gens[sl] = s.sliceGenerationLocked(tx.room, sl)
		}
	}
	return p, true
}

// Rollback restores the values a provisional write replaced. It does
// nothing and reports false when a server write to any slice it touched,
// a snapshot or a reset has happened since.
func (s *Store) Rollback(p *Pending) bool {
	if p == nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for sl, gen := range p.gens {
		if s.sliceGenerationLocked(p.room, sl) != gen {
			return false
		}
	}
	for i := len(p.undo) - 1; i >= 0; i-- {
		p.undo[i]()
	}
	p.undo = nil
	return true
}

// Generation returns an opaque counter for room that changes whenever the
// server writes it or the whole store is replaced.
func (s *Store) Generation(room string) uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.generationLocked(Key(room))
}

// ReplaceAll installs a full snapshot. It is the authoritative write for
// every room and clears the loading flag.
func (s *Store) ReplaceAll(snap Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.clearLocked()
	for room, c := range snap.Cleaning {
		s.cleaning[Key(room)] = c.clone()
	}
	for room, d := range snap.Dnd {
		s.dnd[Key(room)] = d
	}
	for room, p := range snap.Priorities {
		s.priorities[Key(room)] = p
	}
	for _, l := range snap.Inspections {
		l = l.clone()
		l.RoomNumber = Key(l.RoomNumber)
		l.OverallScore = clampScore(l.OverallScore)
		if i := s.inspectionIndexLocked(l.RoomNumber); i >= 0 {
			s.inspections[i] = l
			continue
		}
		s.inspections = append(s.inspections, l)
	}
	for room, n := range snap.Notes {
		s.notes[Key(room)] = n.clone()
	}
	s.epoch++
	s.loading = false
}

// Reset empties every slice and marks the store as loading until the next
// snapshot arrives.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clearLocked()
	s.epoch++
	s.loading = true
}

// Loading reports whether the store is waiting for a snapshot.
func (s *Store) Loading() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loading
}

// SetLoading sets the loading flag.
func (s *Store) SetLoading(v bool) {
	s.mu.Lock()
	s.loading = v
	s.mu.Unlock()
}

func (s *Store) inspectionIndexLocked(key string) int {
	for i, l := range s.inspections {
		if Key(l.RoomNumber) == key {
			return i
		}
	}
	return -1
}

// Cleaning returns the cleaning entry for room; absent rooms are idle.
func (s *Store) Cleaning(room string) RoomCleaning {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cleaningLocked(Key(room))
}

func (s *Store) cleaningLocked(key string) RoomCleaning {
	if c, ok := s.cleaning[key]; ok {
		return c.clone()
	}
	return RoomCleaning{Status: StatusIdle}
}

// Dnd returns the do-not-disturb status for room.
func (s *Store) Dnd(room string) DndStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dndLocked(Key(room))
}

func (s *Store) dndLocked(key string) DndStatus {
	if d, ok := s.dnd[key]; ok {
		return d
	}
	return DndAvailable
}

// Priority returns the priority marker for room, if any.
func (s *Store) Priority(room string) (Priority, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.priorities[Key(room)]
	return p, ok
}

// Inspection returns the inspection log for room, if any.
func (s *Store) Inspection(room string) (InspectionLog, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if i := s.inspectionIndexLocked(Key(room)); i >= 0 {
		return s.inspections[i].clone(), true
	}
	return InspectionLog{}, false
}

// Note returns the stored note for room regardless of its age.
func (s *Store) Note(room string) (RoomNote, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.notes[Key(room)]
	return n.clone(), ok
}

// ActiveNote returns the note for room only if it was written on the same
// calendar day as now in the reference timezone.
func (s *Store) ActiveNote(room string, now time.Time) (RoomNote, bool) {
	n, ok := s.Note(room)
	if !ok || !n.ActiveOn(now, s.loc) {
		return RoomNote{}, false
	}
	return n, true
}

// ActiveNotes returns every note active on now's calendar day.
func (s *Store) ActiveNotes(now time.Time) map[string]RoomNote {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]RoomNote)
	for k, n := range s.notes {
		if n.ActiveOn(now, s.loc) {
			out[k] = n.clone()
		}
	}
	return out
}

// Snapshot returns a deep copy of every slice.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap := Snapshot{
		Cleaning:    make(map[string]RoomCleaning, len(s.cleaning)),
		Dnd:         make(map[string]DndStatus, len(s.dnd)),
		Priorities:  make(map[string]Priority, len(s.priorities)),
		Inspections: make([]InspectionLog, 0, len(s.inspections)),
		Notes:       make(map[string]RoomNote, len(s.notes)),
	}
	for k, v := range s.cleaning {
		snap.Cleaning[k] = v.clone()
	}
	for k, v := range s.dnd {
		snap.Dnd[k] = v
	}
	for k, v := range s.priorities {
		snap.Priorities[k] = v
	}
	for _, l := range s.inspections {
		snap.Inspections = append(snap.Inspections, l.clone())
	}
	for k, v := range s.notes {
		snap.Notes[k] = v.clone()
	}
	return snap
}
