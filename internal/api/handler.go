package api

import (
	"context"
	"errors"
	"log"
	"net/http"
	"slices"
	"time"

	"github.com/gin-gonic/gin"

	"housekeeping-sync/config"
	"housekeeping-sync/internal/auth"
	"housekeeping-sync/internal/backend"
	"housekeeping-sync/internal/conn"
	"housekeeping-sync/internal/feed"
	"housekeeping-sync/internal/optimistic"
	"housekeeping-sync/internal/parse"
	"housekeeping-sync/internal/protocol"
	"housekeeping-sync/internal/state"
)

// Session is the signed-in user and their preferences.
type Session interface {
	Authenticated() bool
	Username() string
	LockedFloor() *string
	SetLockedFloor(ctx context.Context, floor *string) error
	Login(ctx context.Context, username, password string) error
	Signup(ctx context.Context, username, password string) error
	Logout(ctx context.Context) error
}

// Channel is the realtime connection.
type Channel interface {
	State() conn.State
	Connecting() bool
	ReconnectAttempts() int
	SetVisible(v bool)
	Send(ctx context.Context, cmd protocol.Command) error
}

// Actions are the optimistic room commands.
type Actions interface {
	Start(ctx context.Context, room string) error
	Finish(ctx context.Context, room string) error
	Check(ctx context.Context, room string) error
	Reset(ctx context.Context, room string) error
	ToggleDnd(ctx context.Context, room string) (bool, error)
	UpdateNotes(ctx context.Context, room string, notes backend.NotesPayload) error
}

// Reads are the backend queries proxied to the front end.
type Reads interface {
	FetchLogs(ctx context.Context, f backend.LogFilter) ([]backend.CleaningLog, error)
	FetchNotes(ctx context.Context) (map[string]protocol.RoomNote, error)
	FetchInspectionLogs(ctx context.Context) ([]protocol.InspectionLog, error)
	FetchInspectionLog(ctx context.Context, room string) (*protocol.InspectionLog, error)
	SubmitInspection(ctx context.Context, s backend.InspectionSubmission) error
	FetchLeaderboard(ctx context.Context) ([]backend.LeaderboardEntry, error)
}

// Feed is the live activity feed.
type Feed interface {
	EnsureSeeded(ctx context.Context)
	Entries() []feed.Entry
	LoadOlder(ctx context.Context) (int, error)
}

// Handler holds shared dependencies for API handlers.
type Handler struct {
	session Session
	channel Channel
	rooms   *state.Store
	actions Actions
	reads   Reads
	feed    Feed
	floors  []config.FloorConfig
	now     func() time.Time
}

// NewHandler creates a new API handler.
func NewHandler(d Deps) *Handler {
	floors := d.Floors
	if len(floors) == 0 {
		floors = config.DefaultFloors()
	}
	return &Handler{
		session: d.Session,
		channel: d.Channel,
		rooms:   d.Rooms,
		actions: d.Actions,
		reads:   d.Reads,
		feed:    d.Feed,
		floors:  floors,
		now:     time.Now,
	}
}

func (h *Handler) floor(id string) (config.FloorConfig, bool) {
	for _, f := range h.floors {
		if f.ID == id {
			return f, true
		}
	}
	return config.FloorConfig{}, false
}

// allowedRoom reports whether room may be acted on under the locked floor.
func (h *Handler) allowedRoom(room string) bool {
	locked := h.session.LockedFloor()
	if locked == nil {
		return true
	}
	f, ok := h.floor(*locked)
	if !ok {
		return true
	}
	key, err := parse.RoomKey(room)
	if err != nil {
		return true
	}
	return slices.Contains(f.Rooms, key)
}

// writeError maps domain errors to HTTP answers.
func writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	var apiErr *backend.APIError
	switch {
	case errors.Is(err, optimistic.ErrInvalidRoom), errors.Is(err, auth.ErrMissingCredentials):
		status = http.StatusBadRequest
	case errors.Is(err, optimistic.ErrRejected), errors.Is(err, optimistic.ErrInFlight):
		status = http.StatusConflict
	case errors.Is(err, auth.ErrLoggedOut), errors.Is(err, backend.ErrNoTokenSource):
		status = http.StatusUnauthorized
	case errors.Is(err, feed.ErrThrottled):
		status = http.StatusTooManyRequests
	case errors.Is(err, conn.ErrNotConnected):
		status = http.StatusServiceUnavailable
	case errors.As(err, &apiErr):
		status = http.StatusBadGateway
		if apiErr.Status == http.StatusUnauthorized || apiErr.Status == http.StatusConflict || apiErr.Status == http.StatusBadRequest {
			status = apiErr.Status
		}
		if apiErr.Message != "" {
			c.AbortWithStatusJSON(status, gin.H{"error": apiErr.Message})
			return
		}
	default:
		log.Printf("api: %s %s: %v", c.Request.Method, c.FullPath(), err)
	}
	c.AbortWithStatusJSON(status, gin.H{"error": err.Error()})
}

// requireAuth refuses requests while signed out.
func (h *Handler) requireAuth(c *gin.Context) {
	if !h.session.Authenticated() {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "not signed in"})
		return
	}
	c.Next()
}
