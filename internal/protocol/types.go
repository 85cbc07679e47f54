package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"housekeeping-sync/internal/parse"
)

var jsonNull = []byte("null")

// RoomNumber is a room key normalised at decode time. The backend sends
// room numbers both as JSON numbers (101) and as strings ("007").
type RoomNumber string

// UnmarshalJSON accepts a number or a string and stores the canonical key.
// Values that do not look like room numbers are kept verbatim so the
// consumer can decide to drop them.
func (r *RoomNumber) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, jsonNull) {
		*r = ""
		return nil
	}
	var raw string
	if b[0] == '"' {
		if err := json.Unmarshal(b, &raw); err != nil {
			return err
		}
	} else {
		var n json.Number
		if err := json.Unmarshal(b, &n); err != nil {
			return fmt.Errorf("room number: %w", err)
		}
		raw = n.String()
	}
	if key, err := parse.RoomKey(raw); err == nil {
		*r = RoomNumber(key)
		return nil
	}
	*r = RoomNumber(strings.TrimSpace(raw))
	return nil
}

// Key returns the canonical key, or an error if the value is not a room number.
func (r RoomNumber) Key() (string, error) {
	return parse.RoomKey(string(r))
}

// Timestamp is a point in time that the backend encodes either as an
// RFC 3339 string or as epoch milliseconds. The zero value encodes as null.
type Timestamp struct {
	time.Time
}

// UnmarshalJSON implements json.Unmarshaler.
func (t *Timestamp) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, jsonNull) {
		t.Time = time.Time{}
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		if s == "" {
			t.Time = time.Time{}
			return nil
		}
		if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
			t.Time = time.UnixMilli(ms).UTC()
			return nil
		}
		parsed, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return fmt.Errorf("failed to parse timestamp %q: %w", s, err)
		}
		t.Time = parsed
		return nil
	}
	var ms float64
	if err := json.Unmarshal(b, &ms); err != nil {
		return fmt.Errorf("failed to parse timestamp %s: %w", b, err)
	}
	t.Time = time.UnixMilli(int64(ms)).UTC()
	return nil
}

// MarshalJSON implements json.Marshaler.
func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return jsonNull, nil
	}
	return json.Marshal(t.Time.UTC().Format(time.RFC3339Nano))
}

// Ptr returns nil for the zero timestamp.
func (t Timestamp) Ptr() *time.Time {
	if t.IsZero() {
		return nil
	}
	v := t.Time
	return &v
}

// CleaningEntry is one value of the snapshot's cleaningStatus map. Older
// backends send the bare status string, newer ones an object.
type CleaningEntry struct {
	Status    string    `json:"status"`
	StartTime Timestamp `json:"startTime"`
}

// UnmarshalJSON implements json.Unmarshaler.
func (c *CleaningEntry) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		*c = CleaningEntry{}
		return json.Unmarshal(b, &c.Status)
	}
	type plain CleaningEntry
	var p plain
	if err := json.Unmarshal(b, &p); err != nil {
		return err
	}
	*c = CleaningEntry(p)
	return nil
}

// DndEntry is one value of the snapshot's dndStatus map: either a boolean
// or the string "dnd" / "available".
type DndEntry bool

// UnmarshalJSON implements json.Unmarshaler.
func (d *DndEntry) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*d = DndEntry(strings.EqualFold(s, "dnd"))
		return nil
	}
	var v bool
	if err := json.Unmarshal(b, &v); err != nil {
		return fmt.Errorf("dnd status: %w", err)
	}
	*d = DndEntry(v)
	return nil
}

// PriorityEntry is a priority marker or an "allow cleaning after" time.
type PriorityEntry struct {
	Priority          string `json:"priority,omitempty"`
	AllowCleaningTime string `json:"allowCleaningTime,omitempty"`
}

// UnmarshalJSON implements json.Unmarshaler.
func (p *PriorityEntry) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		*p = PriorityEntry{}
		return json.Unmarshal(b, &p.Priority)
	}
	type plain PriorityEntry
	var v plain
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	*p = PriorityEntry(v)
	return nil
}

// InspectionLog is the wire form of an inspection. Pointer fields
// distinguish "absent" from "zero" so updates can be shallow-merged.
type InspectionLog struct {
	ID           string            `json:"_id,omitempty"`
	RoomNumber   RoomNumber        `json:"roomNumber"`
	Items        map[string]string `json:"items,omitempty"`
	OverallScore *float64          `json:"overallScore,omitempty"`
	UpdatedBy    *string           `json:"updatedBy,omitempty"`
	UpdatedAt    *Timestamp        `json:"updatedAt,omitempty"`
	Date         *string           `json:"date,omitempty"`
}

// RoomNote is the wire form of a room note.
type RoomNote struct {
	Tags          []string  `json:"tags"`
	AfterTime     *string   `json:"afterTime"`
	Note          *string   `json:"note"`
	LastUpdatedBy string    `json:"lastUpdatedBy,omitempty"`
	UpdatedAt     Timestamp `json:"updatedAt"`
}
