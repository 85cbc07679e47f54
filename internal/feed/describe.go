package feed

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"housekeeping-sync/internal/protocol"
)

// Card is the rendered form of one feed entry.
type Card struct {
	Icon     string `json:"icon"`
	Title    string `json:"title"`
	Subtitle string `json:"subtitle"`
}

const defaultIcon = "⚡"

type cardPayload struct {
	RoomNumber        protocol.RoomNumber `json:"roomNumber"`
	Status            string              `json:"status"`
	StartedBy         string              `json:"startedBy"`
	FinishedBy        string              `json:"finishedBy"`
	Duration          json.RawMessage     `json:"duration"`
	CheckedBy         string              `json:"checkedBy"`
	DndStatus         bool                `json:"dndStatus"`
	DndSetBy          string              `json:"dndSetBy"`
	Priority          string              `json:"priority"`
	AllowCleaningTime string              `json:"allowCleaningTime"`
	Notes             *struct {
		LastUpdatedBy string `json:"lastUpdatedBy"`
	} `json:"notes"`
}

func by(name string) string {
	if name == "" {
		return ""
	}
	return "by " + name
}

// duration renders a duration given either as a string or a number.
func duration(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

// Describe renders an event as a card. It has no side effects; payloads
// that do not decode still produce a card with the default icon.
func Describe(eventType string, payload json.RawMessage) Card {
	var p cardPayload
	if len(bytes.TrimSpace(payload)) > 0 {
		_ = json.Unmarshal(payload, &p)
	}
	room := string(p.RoomNumber)
	if room == "" {
		room = "—"
	}

	c := Card{Icon: defaultIcon, Title: fmt.Sprintf("Room %s updated", room)}
	switch protocol.EventType(eventType) {
	case protocol.EventRoomUpdate:
		switch p.Status {
		case "in_progress":
			c = Card{Icon: "🧹", Title: fmt.Sprintf("Room %s started cleaning", room), Subtitle: by(p.StartedBy)}
		case "finished":
			sub := by(p.FinishedBy)
			if d := duration(p.Duration); d != "" {
				sub = strings.TrimSpace(sub + " • " + d)
			}
			c = Card{Icon: "☑️", Title: fmt.Sprintf("Room %s finished cleaning", room), Subtitle: strings.TrimPrefix(sub, "• ")}
		case "available", "idle":
			c = Card{Icon: "🔁", Title: fmt.Sprintf("Room %s reset to available", room)}
		}
	case protocol.EventRoomChecked:
		c = Card{Icon: "✅", Title: fmt.Sprintf("Room %s is checked", room), Subtitle: by(p.CheckedBy)}
	case protocol.EventDndUpdate:
		if p.DndStatus {
			c = Card{Icon: "🚫", Title: fmt.Sprintf("Room %s not allowed to clean", room), Subtitle: by(p.DndSetBy)}
		} else {
			c = Card{Icon: "☀️", Title: fmt.Sprintf("Room %s allow cleaning", room), Subtitle: by(p.DndSetBy)}
		}
	case protocol.EventPriorityUpdate:
		if p.AllowCleaningTime != "" {
			c = Card{Icon: "☀️", Title: fmt.Sprintf("Room %s is allowed to clean at %s", room, p.AllowCleaningTime)}
		} else {
			c = Card{Icon: "🚩", Title: fmt.Sprintf("Room %s priority updated", room), Subtitle: p.Priority}
		}
	case protocol.EventNoteUpdate:
		c = Card{Icon: "📝", Title: fmt.Sprintf("Room %s note updated", room)}
		if p.Notes != nil {
			c.Subtitle = by(p.Notes.LastUpdatedBy)
		}
	}
	return c
}
