package state

// Room-level rules shared by the optimistic coordinator and the room view.
// A dnd room allows no cleaning action.

// CanStart reports whether a user may start cleaning the room.
func CanStart(c RoomCleaning, d DndStatus, hasUser bool) bool {
	return hasUser && c.Status == StatusIdle && d != DndOn
}

// CanFinish reports whether a clean in progress may be finished.
func CanFinish(c RoomCleaning, d DndStatus) bool {
	return c.Status == StatusInProgress && d != DndOn
}

// CanCheck reports whether a finished room may be checked. A room that
// already has an inspection log counts as checked.
func CanCheck(c RoomCleaning, d DndStatus, inspected bool) bool {
	return c.Status == StatusFinished && !inspected && d != DndOn
}

// CanToggleDnd reports whether dnd may be changed; not while mid-clean.
func CanToggleDnd(c RoomCleaning) bool {
	return c.Status == StatusIdle
}

// CanReset reports whether there is cleaning state to reset.
func CanReset(c RoomCleaning) bool {
	return c.Status != StatusIdle
}
