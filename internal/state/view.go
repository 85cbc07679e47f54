package state

import "time"

// Status labels shown on a room card, in precedence order.
const (
	LabelDnd        = "DND"
	LabelInProgress = "In progress"
	LabelFinished   = "Finished"
	LabelChecked    = "Checked"
	LabelIdle       = "Idle"
)

// Note icons.
const (
	IconAfterTime    = "schedule"
	IconEarlyArrival = "early-arrival"
	IconSunrise      = "sunrise"
	IconNoArrival    = "no-arrival"
)

// Well-known note tags.
const (
	TagEarlyArrival = "Early arrival"
	TagSunrise      = "Sunrise"
	TagNoArrival    = "No arrival"
)

// Actions lists which commands are currently offered for a room.
type Actions struct {
	Start  bool `json:"start"`
	Finish bool `json:"finish"`
	Check  bool `json:"check"`
	Dnd    bool `json:"dnd"`
	Reset  bool `json:"reset"`
}

// RoomView is the read model of one room as the front end draws it.
type RoomView struct {
	Room       string         `json:"room"`
	Cleaning   RoomCleaning   `json:"cleaning"`
	Dnd        DndStatus      `json:"dnd"`
	Priority   *Priority      `json:"priority,omitempty"`
	Inspection *InspectionLog `json:"inspection,omitempty"`
	Note       *RoomNote      `json:"note,omitempty"`
	Label      string         `json:"label"`
	NoteIcon   string         `json:"noteIcon,omitempty"`
	Actions    Actions        `json:"actions"`
}

// View projects room at instant now. hasUser gates the start action.
func (s *Store) View(room string, now time.Time, hasUser bool) RoomView {
	key := Key(room)

	s.mu.RLock()
	v := RoomView{
		Room:     key,
		Cleaning: s.cleaningLocked(key),
		Dnd:      s.dndLocked(key),
	}
	if p, ok := s.priorities[key]; ok {
		v.Priority = &p
	}
	if i := s.inspectionIndexLocked(key); i >= 0 {
		l := s.inspections[i].clone()
		v.Inspection = &l
	}
	if n, ok := s.notes[key]; ok && n.ActiveOn(now, s.loc) {
		n = n.clone()
		v.Note = &n
	}
	s.mu.RUnlock()

	v.Label = StatusLabel(v.Cleaning, v.Dnd, v.Inspection != nil)
	if v.Note != nil {
		v.NoteIcon = NoteIcon(*v.Note)
	}
	v.Actions = Actions{
		Start:  CanStart(v.Cleaning, v.Dnd, hasUser),
		Finish: CanFinish(v.Cleaning, v.Dnd),
		Check:  CanCheck(v.Cleaning, v.Dnd, v.Inspection != nil),
		Dnd:    CanToggleDnd(v.Cleaning),
		Reset:  CanReset(v.Cleaning),
	}
	return v
}

// StatusLabel picks the card label.
func StatusLabel(c RoomCleaning, d DndStatus, inspected bool) string {
	switch {
	case d == DndOn:
		return LabelDnd
	case c.Status == StatusInProgress:
		return LabelInProgress
	case c.Status == StatusFinished:
		return LabelFinished
	case c.Status == StatusChecked || inspected:
		return LabelChecked
	}
	return LabelIdle
}

// NoteIcon picks the icon of an active note, or "" when none applies.
func NoteIcon(n RoomNote) string {
	switch {
	case n.AfterTime != nil && *n.AfterTime != "":
		return IconAfterTime
	case n.HasTag(TagEarlyArrival):
		return IconEarlyArrival
	case n.HasTag(TagSunrise):
		return IconSunrise
	case n.HasTag(TagNoArrival):
		return IconNoArrival
	}
	return ""
}
