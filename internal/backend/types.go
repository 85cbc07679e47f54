package backend

import (
	"encoding/json"
	"time"

	"housekeeping-sync/internal/protocol"
)

// NotesPayload is the body of a note update. A nil field clears it.
type NotesPayload struct {
	Tags      []string `json:"tags"`
	AfterTime *string  `json:"afterTime"`
	Note      *string  `json:"note"`
}

// LogFilter narrows the cleaning log listing. Empty or "all" means no filter.
type LogFilter struct {
	Status     string
	DateFilter string
}

// CleaningLog is one row of the cleaning history.
type CleaningLog struct {
	ID         string              `json:"_id"`
	RoomNumber protocol.RoomNumber `json:"roomNumber"`
	StartTime  *protocol.Timestamp `json:"startTime,omitempty"`
	StartedBy  string              `json:"startedBy,omitempty"`
	FinishTime *protocol.Timestamp `json:"finishTime,omitempty"`
	FinishedBy string              `json:"finishedBy,omitempty"`
	CheckedBy  string              `json:"checkedBy,omitempty"`
	Status     string              `json:"status,omitempty"`
}

// LeaderboardEntry is a user's score.
type LeaderboardEntry struct {
	Username string `json:"_id"`
	Count    int    `json:"count"`
}

// InspectionSubmission is the body of a new inspection.
type InspectionSubmission struct {
	RoomNumber        string            `json:"roomNumber"`
	InspectionResults map[string]string `json:"inspectionResults"`
	OverallScore      float64           `json:"overallScore"`
	Timestamp         time.Time         `json:"timestamp"`
}

// FeedEvent is one entry of the live-feed history.
type FeedEvent struct {
	ID      string             `json:"_id,omitempty"`
	Type    string             `json:"type"`
	Payload json.RawMessage    `json:"payload"`
	TS      protocol.Timestamp `json:"ts"`
}

// Tokens is what the auth endpoints hand back.
type Tokens struct {
	Token        string `json:"token"`
	RefreshToken string `json:"refreshToken"`
	Username     string `json:"username,omitempty"`
}

type roomBody struct {
	RoomNumber int    `json:"roomNumber"`
	Username   string `json:"username,omitempty"`
	Status     string `json:"status,omitempty"`
}

type dndBody struct {
	RoomNumber int    `json:"roomNumber"`
	DndStatus  bool   `json:"dndStatus"`
	Username   string `json:"username,omitempty"`
}

type notesBody struct {
	RoomNumber string       `json:"roomNumber"`
	Notes      NotesPayload `json:"notes"`
}

type credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}
