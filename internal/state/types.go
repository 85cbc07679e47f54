package state

import (
	"time"
)

// CleaningStatus is the per-day cleaning state of a room.
type CleaningStatus string

const (
	StatusIdle       CleaningStatus = "idle"
	StatusInProgress CleaningStatus = "in_progress"
	StatusFinished   CleaningStatus = "finished"
	StatusChecked    CleaningStatus = "checked"
)

// ParseCleaningStatus maps a wire status onto a CleaningStatus. The backend
// reports a reset room as "available"; that and the empty string mean idle.
// Unknown values report ok=false.
func ParseCleaningStatus(s string) (CleaningStatus, bool) {
	switch CleaningStatus(s) {
	case StatusInProgress, StatusFinished, StatusChecked:
		return CleaningStatus(s), true
	case StatusIdle, "available", "":
		return StatusIdle, true
	}
	return StatusIdle, false
}

// RoomCleaning is one entry of the cleaning slice.
type RoomCleaning struct {
	Status    CleaningStatus `json:"status"`
	StartTime *time.Time     `json:"startTime"`
}

func (c RoomCleaning) clone() RoomCleaning {
	if c.StartTime != nil {
		t := *c.StartTime
		c.StartTime = &t
	}
	return c
}

// DndStatus is one entry of the do-not-disturb slice.
type DndStatus string

const (
	DndAvailable DndStatus = "available"
	DndOn        DndStatus = "dnd"
)

// DndFromBool converts the wire boolean.
func DndFromBool(on bool) DndStatus {
	if on {
		return DndOn
	}
	return DndAvailable
}

// Priority is a server-owned marker: either an opaque priority or a time
// after which cleaning is allowed.
type Priority struct {
	Priority          string `json:"priority,omitempty"`
	AllowCleaningTime string `json:"allowCleaningTime,omitempty"`
}

// InspectionResult is the outcome of one inspected item.
type InspectionResult string

const (
	ResultPassed InspectionResult = "passed"
	ResultFailed InspectionResult = "failed"
	ResultUnset  InspectionResult = "unset"
)

// ParseInspectionResult treats anything unrecognised as unset.
func ParseInspectionResult(s string) InspectionResult {
	switch InspectionResult(s) {
	case ResultPassed, ResultFailed:
		return InspectionResult(s)
	}
	return ResultUnset
}

// InspectionLog is the day's inspection of one room.
type InspectionLog struct {
	RoomNumber   string                      `json:"roomNumber"`
	Items        map[string]InspectionResult `json:"items"`
	OverallScore float64                     `json:"overallScore"`
	UpdatedBy    string                      `json:"updatedBy,omitempty"`
	UpdatedAt    *time.Time                  `json:"updatedAt,omitempty"`
	Date         string                      `json:"date,omitempty"`
}

func (l InspectionLog) clone() InspectionLog {
	if l.Items != nil {
		items := make(map[string]InspectionResult, len(l.Items))
		for k, v := range l.Items {
			items[k] = v
		}
		l.Items = items
	}
	if l.UpdatedAt != nil {
		t := *l.UpdatedAt
		l.UpdatedAt = &t
	}
	return l
}

// InspectionPatch carries the fields present in an inspection update.
// Nil fields are left untouched when merged into an existing log.
type InspectionPatch struct {
	Items        map[string]InspectionResult
	OverallScore *float64
	UpdatedBy    *string
	UpdatedAt    *time.Time
	Date         *string
}

// MergeInto shallow-merges the present fields of p into l.
func (p InspectionPatch) MergeInto(l *InspectionLog) {
	if p.Items != nil {
		items := make(map[string]InspectionResult, len(p.Items))
		for k, v := range p.Items {
			items[k] = v
		}
		l.Items = items
	}
	if p.OverallScore != nil {
		l.OverallScore = clampScore(*p.OverallScore)
	}
	if p.UpdatedBy != nil {
		l.UpdatedBy = *p.UpdatedBy
	}
	if p.UpdatedAt != nil {
		t := *p.UpdatedAt
		l.UpdatedAt = &t
	}
	if p.Date != nil {
		l.Date = *p.Date
	}
}

func clampScore(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 100:
		return 100
	}
	return v
}

// RoomNote is the latest note left on a room.
type RoomNote struct {
	Tags          []string  `json:"tags"`
	AfterTime     *string   `json:"afterTime"`
	Note          *string   `json:"note"`
	LastUpdatedBy string    `json:"lastUpdatedBy,omitempty"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

func (n RoomNote) clone() RoomNote {
	if n.Tags != nil {
		n.Tags = append([]string(nil), n.Tags...)
	}
	if n.AfterTime != nil {
		v := *n.AfterTime
		n.AfterTime = &v
	}
	if n.Note != nil {
		v := *n.Note
		n.Note = &v
	}
	return n
}

// ActiveOn reports whether the note was written on the same calendar day
// as now, both observed in loc. Notes from earlier days stay in the slice
// but are not shown.
func (n RoomNote) ActiveOn(now time.Time, loc *time.Location) bool {
	if n.UpdatedAt.IsZero() {
		return false
	}
	if loc == nil {
		loc = time.UTC
	}
	y1, m1, d1 := n.UpdatedAt.In(loc).Date()
	y2, m2, d2 := now.In(loc).Date()
	return y1 == y2 && m1 == m2 && d1 == d2
}

// HasTag reports whether the note carries tag.
func (n RoomNote) HasTag(tag string) bool {
	for _, t := range n.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// Snapshot is a deep copy of every slice.
type Snapshot struct {
	Cleaning    map[string]RoomCleaning `json:"cleaningStatus"`
	Dnd         map[string]DndStatus    `json:"dndStatus"`
	Priorities  map[string]Priority     `json:"priorities"`
	Inspections []InspectionLog         `json:"inspectionLogs"`
	Notes       map[string]RoomNote     `json:"roomNotes"`
}
