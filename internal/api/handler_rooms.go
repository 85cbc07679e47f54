package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"housekeeping-sync/internal/backend"
	"housekeeping-sync/internal/parse"
	"housekeeping-sync/internal/protocol"
	"housekeeping-sync/internal/state"
)

type floorView struct {
	ID    string           `json:"id"`
	Name  string           `json:"name"`
	Rooms []state.RoomView `json:"rooms"`
}

type roomsResponse struct {
	Loading bool        `json:"loading"`
	Floors  []floorView `json:"floors"`
}

// GetRooms handles GET /api/rooms. Without a floor parameter it returns
// the locked floor, or every floor when none is locked.
func (h *Handler) GetRooms(c *gin.Context) {
	floorID := c.Query("floor")
	locked := h.session.LockedFloor()
	if locked != nil {
		if floorID != "" && floorID != *locked {
			c.JSON(http.StatusForbidden, gin.H{"error": "floor is locked to " + *locked})
			return
		}
		floorID = *locked
	}

	floors := h.floors
	if floorID != "" {
		f, ok := h.floor(floorID)
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "unknown floor"})
			return
		}
		floors = floors[:0:0]
		floors = append(floors, f)
	}

	now := h.now()
	hasUser := h.session.Username() != ""
	resp := roomsResponse{Loading: h.rooms.Loading(), Floors: make([]floorView, 0, len(floors))}
	for _, f := range floors {
		fv := floorView{ID: f.ID, Name: f.Name, Rooms: make([]state.RoomView, 0, len(f.Rooms))}
		for _, room := range f.Rooms {
			fv.Rooms = append(fv.Rooms, h.rooms.View(room, now, hasUser))
		}
		resp.Floors = append(resp.Floors, fv)
	}
	c.JSON(http.StatusOK, resp)
}

// GetRoom handles GET /api/rooms/:room.
func (h *Handler) GetRoom(c *gin.Context) {
	key, err := parse.RoomKey(c.Param("room"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, h.rooms.View(key, h.now(), h.session.Username() != ""))
}

// roomKey validates the :room parameter against the locked floor.
func (h *Handler) roomKey(c *gin.Context) (string, bool) {
	key, err := parse.RoomKey(c.Param("room"))
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return "", false
	}
	if !h.allowedRoom(key) {
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "room is not on the locked floor"})
		return "", false
	}
	return key, true
}

func (h *Handler) runAction(c *gin.Context, action func(ctx context.Context, room string) error) {
	key, ok := h.roomKey(c)
	if !ok {
		return
	}
	if err := action(c.Request.Context(), key); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.rooms.View(key, h.now(), h.session.Username() != ""))
}

// StartCleaning handles POST /api/rooms/:room/start.
func (h *Handler) StartCleaning(c *gin.Context) { h.runAction(c, h.actions.Start) }

// FinishCleaning handles POST /api/rooms/:room/finish.
func (h *Handler) FinishCleaning(c *gin.Context) { h.runAction(c, h.actions.Finish) }

// CheckRoom handles POST /api/rooms/:room/check.
func (h *Handler) CheckRoom(c *gin.Context) { h.runAction(c, h.actions.Check) }

// ResetCleaning handles POST /api/rooms/:room/reset.
func (h *Handler) ResetCleaning(c *gin.Context) { h.runAction(c, h.actions.Reset) }

// ToggleDnd handles POST /api/rooms/:room/dnd.
func (h *Handler) ToggleDnd(c *gin.Context) {
	h.runAction(c, func(ctx context.Context, room string) error {
		_, err := h.actions.ToggleDnd(ctx, room)
		return err
	})
}

// UpdateNotes handles POST /api/rooms/:room/notes.
func (h *Handler) UpdateNotes(c *gin.Context) {
	var req backend.NotesPayload
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	h.runAction(c, func(ctx context.Context, room string) error {
		return h.actions.UpdateNotes(ctx, room, req)
	})
}

type priorityRequest struct {
	Priority string `json:"priority" binding:"required"`
}

// UpdatePriority handles POST /api/rooms/:room/priority. The change is
// sent to the server only; the room updates when the server confirms.
func (h *Handler) UpdatePriority(c *gin.Context) {
	var req priorityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	key, ok := h.roomKey(c)
	if !ok {
		return
	}
	if err := h.channel.Send(c.Request.Context(), protocol.UpdatePriority(key, strings.TrimSpace(req.Priority))); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"room": key, "priority": req.Priority})
}
