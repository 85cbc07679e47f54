package state

// Tx is the write handle for one room inside Store.apply. Reads see the
// values as modified so far; every setter records how to undo itself.
type Tx struct {
	s       *Store
	room    string
	undo    []func()
	touched slice
}

// Room returns the canonical room key.
func (tx *Tx) Room() string { return tx.room }

func (tx *Tx) record(sl slice, fn func()) {
	tx.undo = append(tx.undo, fn)
	tx.touched |= sl
}

func (tx *Tx) revert() {
	for i := len(tx.undo) - 1; i >= 0; i-- {
		tx.undo[i]()
	}
	tx.undo = nil
	tx.touched = 0
}

// Cleaning returns the room's cleaning entry; absent means idle.
func (tx *Tx) Cleaning() RoomCleaning { return tx.s.cleaningLocked(tx.room) }

// Dnd returns the room's do-not-disturb status.
func (tx *Tx) Dnd() DndStatus { return tx.s.dndLocked(tx.room) }

// Inspected reports whether the room already has an inspection log.
func (tx *Tx) Inspected() bool { return tx.s.inspectionIndexLocked(tx.room) >= 0 }

// Note returns the stored note, if any.
func (tx *Tx) Note() (RoomNote, bool) {
	n, ok := tx.s.notes[tx.room]
	return n.clone(), ok
}

// SetCleaning replaces the cleaning entry wholesale.
func (tx *Tx) SetCleaning(c RoomCleaning) {
	m, key := tx.s.cleaning, tx.room
	prev, had := m[key]
	tx.record(sliceCleaning, func() {
		if had {
			m[key] = prev
		} else {
			delete(m, key)
		}
	})
	m[key] = c.clone()
}

// SetCleaningStatus changes only the status, keeping the start time.
func (tx *Tx) SetCleaningStatus(st CleaningStatus) {
	c := tx.Cleaning()
	c.Status = st
	tx.SetCleaning(c)
}

// SetDnd replaces the do-not-disturb status.
func (tx *Tx) SetDnd(d DndStatus) {
	m, key := tx.s.dnd, tx.room
	prev, had := m[key]
	tx.record(sliceDnd, func() {
		if had {
			m[key] = prev
		} else {
			delete(m, key)
		}
	})
	m[key] = d
}

// SetPriority replaces the priority marker wholesale.
func (tx *Tx) SetPriority(p Priority) {
	m, key := tx.s.priorities, tx.room
	prev, had := m[key]
	tx.record(slicePriority, func() {
		if had {
			m[key] = prev
		} else {
			delete(m, key)
		}
	})
	m[key] = p
}

// SetNote replaces the note wholesale; nil removes it.
func (tx *Tx) SetNote(n *RoomNote) {
	m, key := tx.s.notes, tx.room
	prev, had := m[key]
	tx.record(sliceNote, func() {
		if had {
			m[key] = prev
		} else {
			delete(m, key)
		}
	})
	if n == nil {
		delete(m, key)
		return
	}
	m[key] = n.clone()
}

// UpsertInspection merges p into the room's log when one exists, matching
// by canonical key, and appends a new log otherwise.
func (tx *Tx) UpsertInspection(p InspectionPatch) {
	s := tx.s
	if i := s.inspectionIndexLocked(tx.room); i >= 0 {
		prev := s.inspections[i].clone()
		tx.record(sliceInspection, func() {
			if j := s.inspectionIndexLocked(tx.room); j >= 0 {
				s.inspections[j] = prev
			}
		})
		l := s.inspections[i].clone()
		l.RoomNumber = tx.room
		p.MergeInto(&l)
		s.inspections[i] = l
		return
	}
	tx.record(sliceInspection, func() {
		if j := s.inspectionIndexLocked(tx.room); j >= 0 {
			s.inspections = append(s.inspections[:j:j], s.inspections[j+1:]...)
		}
	})
	l := InspectionLog{RoomNumber: tx.room}
	p.MergeInto(&l)
	s.inspections = append(s.inspections, l)
}
