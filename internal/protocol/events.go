package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// EventType names a server -> client push.
type EventType string

const (
	EventInitialData      EventType = "initialData"
	EventRoomUpdate       EventType = "roomUpdate"
	EventRoomChecked      EventType = "roomChecked"
	EventDndUpdate        EventType = "dndUpdate"
	EventPriorityUpdate   EventType = "priorityUpdate"
	EventInspectionUpdate EventType = "inspectionUpdate"
	EventNoteUpdate       EventType = "noteUpdate"
	EventDailyReset       EventType = "dailyReset"
)

// CommandType names a client -> server command.
type CommandType string

const (
	CommandRequestInitialData CommandType = "requestInitialData"
	CommandUpdatePriority     CommandType = "updatePriority"
)

// ErrUnknownEvent is returned by Decode for event types this client does not handle.
var ErrUnknownEvent = errors.New("unknown event type")

// Envelope is the tagged frame carried on the realtime channel.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Event is implemented by every typed server push.
type Event interface {
	EventType() EventType
}

// Message is a decoded server push together with its raw payload, so that
// projections other than the reconciler can keep the original shape.
type Message struct {
	Type    EventType
	Payload json.RawMessage
	Event   Event
}

// InitialData is the full snapshot.
type InitialData struct {
	CleaningStatus map[string]CleaningEntry `json:"cleaningStatus"`
	DndStatus      map[string]DndEntry      `json:"dndStatus"`
	Priorities     map[string]PriorityEntry `json:"priorities"`
	InspectionLogs []InspectionLog          `json:"inspectionLogs"`
	RoomNotes      map[string]*RoomNote     `json:"roomNotes"`
}

// RoomUpdate replaces a room's cleaning entry.
type RoomUpdate struct {
	RoomNumber RoomNumber `json:"roomNumber"`
	Status     string     `json:"status"`
	StartTime  Timestamp  `json:"startTime"`
	StartedBy  string     `json:"startedBy,omitempty"`
	FinishedBy string     `json:"finishedBy,omitempty"`
	Duration   string     `json:"duration,omitempty"`
}

// RoomChecked sets only the status of a room's cleaning entry.
type RoomChecked struct {
	RoomNumber RoomNumber `json:"roomNumber"`
	Status     string     `json:"status"`
	CheckedBy  string     `json:"checkedBy,omitempty"`
}

// DndUpdate toggles do-not-disturb.
type DndUpdate struct {
	RoomNumber RoomNumber `json:"roomNumber"`
	DndStatus  bool       `json:"dndStatus"`
	DndSetBy   string     `json:"dndSetBy,omitempty"`
}

// PriorityUpdate replaces a room's priority marker.
type PriorityUpdate struct {
	RoomNumber        RoomNumber `json:"roomNumber"`
	Priority          string     `json:"priority,omitempty"`
	AllowCleaningTime string     `json:"allowCleaningTime,omitempty"`
}

// InspectionUpdate upserts a room's inspection log. Log may be nil.
type InspectionUpdate struct {
	RoomNumber RoomNumber     `json:"roomNumber"`
	Log        *InspectionLog `json:"log"`
}

// NoteUpdate replaces a room's note. Notes may be nil to clear it.
type NoteUpdate struct {
	RoomNumber RoomNumber `json:"roomNumber"`
	Notes      *RoomNote  `json:"notes"`
}

// DailyReset signals a new operating day.
type DailyReset struct{}

func (InitialData) EventType() EventType      { return EventInitialData }
func (RoomUpdate) EventType() EventType       { return EventRoomUpdate }
func (RoomChecked) EventType() EventType      { return EventRoomChecked }
func (DndUpdate) EventType() EventType        { return EventDndUpdate }
func (PriorityUpdate) EventType() EventType   { return EventPriorityUpdate }
func (InspectionUpdate) EventType() EventType { return EventInspectionUpdate }
func (NoteUpdate) EventType() EventType       { return EventNoteUpdate }
func (DailyReset) EventType() EventType       { return EventDailyReset }

// DecodePayload decodes the payload of the given event type.
func DecodePayload(t EventType, payload json.RawMessage) (Event, error) {
	var ev Event
	switch t {
	case EventInitialData:
		ev = &InitialData{}
	case EventRoomUpdate:
		ev = &RoomUpdate{}
	case EventRoomChecked:
		ev = &RoomChecked{}
	case EventDndUpdate:
		ev = &DndUpdate{}
	case EventPriorityUpdate:
		ev = &PriorityUpdate{}
	case EventInspectionUpdate:
		ev = &InspectionUpdate{}
	case EventNoteUpdate:
		ev = &NoteUpdate{}
	case EventDailyReset:
		return DailyReset{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, t)
	}

	payload = bytes.TrimSpace(payload)
	if len(payload) == 0 || bytes.Equal(payload, jsonNull) {
		payload = []byte("{}")
	}
	if err := json.Unmarshal(payload, ev); err != nil {
		return nil, fmt.Errorf("failed to decode %s payload: %w", t, err)
	}
	return deref(ev), nil
}

// Decode turns a frame into a Message.
func Decode(env Envelope) (Message, error) {
	t := EventType(env.Type)
	ev, err := DecodePayload(t, env.Payload)
	if err != nil {
		return Message{}, err
	}
	return Message{Type: t, Payload: env.Payload, Event: ev}, nil
}

// deref hands subscribers value types so they never share a pointer into
// a decoded frame.
func deref(ev Event) Event {
	switch v := ev.(type) {
	case *InitialData:
		return *v
	case *RoomUpdate:
		return *v
	case *RoomChecked:
		return *v
	case *DndUpdate:
		return *v
	case *PriorityUpdate:
		return *v
	case *InspectionUpdate:
		return *v
	case *NoteUpdate:
		return *v
	}
	return ev
}

// Command is a client -> server frame.
type Command struct {
	Type    CommandType `json:"type"`
	Payload any         `json:"payload,omitempty"`
}

// RequestInitialData asks the server for a full snapshot. Sending it more
// than once is harmless.
func RequestInitialData() Command {
	return Command{Type: CommandRequestInitialData}
}

// UpdatePriority asks the server to change a room's priority marker.
func UpdatePriority(room, priority string) Command {
	return Command{
		Type: CommandUpdatePriority,
		Payload: PriorityUpdate{
			RoomNumber: RoomNumber(room),
			Priority:   priority,
		},
	}
}
