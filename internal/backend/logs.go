package backend

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"housekeeping-sync/internal/parse"
	"housekeeping-sync/internal/protocol"
)

func roomNumber(room string) (int, error) {
	n, err := parse.RoomInt(room)
	if err != nil {
		return 0, fmt.Errorf("invalid room: %w", err)
	}
	return n, nil
}

// StartCleaning marks a room as being cleaned by the session user.
func (c *Client) StartCleaning(ctx context.Context, room string) error {
	n, err := roomNumber(room)
	if err != nil {
		return err
	}
	return c.do(ctx, request{method: http.MethodPost, path: "/api/logs/start", body: roomBody{RoomNumber: n}, auth: true}, nil)
}

// FinishCleaning marks a room as finished.
func (c *Client) FinishCleaning(ctx context.Context, room, username string) error {
	n, err := roomNumber(room)
	if err != nil {
		return err
	}
	body := roomBody{RoomNumber: n, Username: username, Status: "finished"}
	return c.do(ctx, request{method: http.MethodPost, path: "/api/logs/finish", body: body, auth: true}, nil)
}

// CheckRoom marks a finished room as checked.
func (c *Client) CheckRoom(ctx context.Context, room, username string) error {
	n, err := roomNumber(room)
	if err != nil {
		return err
	}
	body := roomBody{RoomNumber: n, Username: username}
	return c.do(ctx, request{method: http.MethodPost, path: "/api/logs/check", body: body, auth: true}, nil)
}

// ResetCleaning puts a room back to available.
func (c *Client) ResetCleaning(ctx context.Context, room string) error {
	n, err := roomNumber(room)
	if err != nil {
		return err
	}
	return c.do(ctx, request{method: http.MethodPost, path: "/api/logs/reset-cleaning", body: roomBody{RoomNumber: n}, auth: true}, nil)
}

// SetDnd sets or clears do-not-disturb.
func (c *Client) SetDnd(ctx context.Context, room string, dnd bool, username string) error {
	n, err := roomNumber(room)
	if err != nil {
		return err
	}
	body := dndBody{RoomNumber: n, DndStatus: dnd, Username: username}
	return c.do(ctx, request{method: http.MethodPost, path: "/api/logs/dnd", body: body, auth: true}, nil)
}

// UpdateNotes replaces a room's note.
func (c *Client) UpdateNotes(ctx context.Context, room string, notes NotesPayload) error {
	key, err := parse.RoomKey(room)
	if err != nil {
		return fmt.Errorf("invalid room: %w", err)
	}
	body := notesBody{RoomNumber: key, Notes: notes}
	return c.do(ctx, request{method: http.MethodPost, path: "/api/logs/notes", body: body, auth: true}, nil)
}

// FetchNotes returns every stored note keyed by room.
func (c *Client) FetchNotes(ctx context.Context) (map[string]protocol.RoomNote, error) {
	var raw map[string]*protocol.RoomNote
	if err := c.do(ctx, request{method: http.MethodGet, path: "/api/logs/notes", auth: true}, &raw); err != nil {
		return nil, err
	}
	out := make(map[string]protocol.RoomNote, len(raw))
	for room, n := range raw {
		if n == nil {
			continue
		}
		if key, err := parse.RoomKey(room); err == nil {
			out[key] = *n
		}
	}
	return out, nil
}

// FetchLogs lists cleaning logs.
func (c *Client) FetchLogs(ctx context.Context, f LogFilter) ([]CleaningLog, error) {
	q := url.Values{}
	if f.Status != "" && f.Status != "all" {
		q.Set("status", f.Status)
	}
	if f.DateFilter != "" && f.DateFilter != "all" {
		q.Set("dateFilter", f.DateFilter)
	}
	var logs []CleaningLog
	if err := c.do(ctx, request{method: http.MethodGet, path: "/api/logs", query: q, auth: true}, &logs); err != nil {
		return nil, err
	}
	return logs, nil
}

// FetchInspectionLogs lists the day's inspections. Room numbers come back
// as canonical keys and missing items or scores as empty values.
func (c *Client) FetchInspectionLogs(ctx context.Context) ([]protocol.InspectionLog, error) {
	var logs []protocol.InspectionLog
	if err := c.do(ctx, request{method: http.MethodGet, path: "/api/logs/inspection", auth: true}, &logs); err != nil {
		return nil, err
	}
	for i := range logs {
		normaliseInspection(&logs[i])
	}
	return logs, nil
}

// FetchInspectionLog returns the inspection for one room, or nil if the
// room has none.
func (c *Client) FetchInspectionLog(ctx context.Context, room string) (*protocol.InspectionLog, error) {
	key, err := parse.RoomKey(room)
	if err != nil {
		return nil, fmt.Errorf("invalid room: %w", err)
	}
	var l protocol.InspectionLog
	err = c.do(ctx, request{method: http.MethodGet, path: "/api/logs/inspection/" + key, auth: true}, &l)
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	normaliseInspection(&l)
	return &l, nil
}

func normaliseInspection(l *protocol.InspectionLog) {
	if l.Items == nil {
		l.Items = map[string]string{}
	}
	if l.OverallScore == nil {
		zero := 0.0
		l.OverallScore = &zero
	}
}

// SubmitInspection records an inspection.
func (c *Client) SubmitInspection(ctx context.Context, s InspectionSubmission) error {
	key, err := parse.RoomKey(s.RoomNumber)
	if err != nil {
		return fmt.Errorf("invalid room: %w", err)
	}
	s.RoomNumber = key
	if s.Timestamp.IsZero() {
		s.Timestamp = time.Now().UTC()
	}
	return c.do(ctx, request{method: http.MethodPost, path: "/api/inspection/submit", body: s, auth: true}, nil)
}

// FetchLeaderboard returns users ordered by score.
func (c *Client) FetchLeaderboard(ctx context.Context) ([]LeaderboardEntry, error) {
	var entries []LeaderboardEntry
	if err := c.do(ctx, request{method: http.MethodGet, path: "/score/leaderboard", auth: true}, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

// FetchLiveFeed returns history entries, newest first. A zero before asks
// for the most recent ones; limit <= 0 leaves the page size to the server.
func (c *Client) FetchLiveFeed(ctx context.Context, before time.Time, limit int) ([]FeedEvent, error) {
	q := url.Values{}
	if !before.IsZero() {
		q.Set("before", before.UTC().Format(time.RFC3339Nano))
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var resp struct {
		Events []FeedEvent `json:"events"`
	}
	if err := c.do(ctx, request{method: http.MethodGet, path: "/api/logs/live-feed", query: q, auth: true}, &resp); err != nil {
		return nil, err
	}
	return resp.Events, nil
}
