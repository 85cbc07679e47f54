package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"housekeeping-sync/config"
)

// GetFloors handles GET /api/floors.
func GetFloors(floors []config.FloorConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, floors)
	}
}

type lockFloorRequest struct {
	Floor string `json:"floor" binding:"required"`
}

// LockFloor handles PUT /api/floor/lock.
func (h *Handler) LockFloor(c *gin.Context) {
	var req lockFloorRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	if _, ok := h.floor(req.Floor); !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown floor"})
		return
	}
	if err := h.session.SetLockedFloor(c.Request.Context(), &req.Floor); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"lockedFloor": req.Floor})
}

// UnlockFloor handles DELETE /api/floor/lock.
func (h *Handler) UnlockFloor(c *gin.Context) {
	if err := h.session.SetLockedFloor(c.Request.Context(), nil); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
