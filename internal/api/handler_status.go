package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"housekeeping-sync/internal/conn"
)

type statusResponse struct {
	Connection        conn.State `json:"connection"`
	Connecting        bool       `json:"connecting"`
	ReconnectAttempts int        `json:"reconnectAttempts"`
	Loading           bool       `json:"loading"`
	Authenticated     bool       `json:"authenticated"`
	Username          string     `json:"username,omitempty"`
	LockedFloor       *string    `json:"lockedFloor"`
}

// GetStatus handles GET /api/status.
func (h *Handler) GetStatus(c *gin.Context) {
	c.JSON(http.StatusOK, statusResponse{
		Connection:        h.channel.State(),
		Connecting:        h.channel.Connecting(),
		ReconnectAttempts: h.channel.ReconnectAttempts(),
		Loading:           h.rooms.Loading(),
		Authenticated:     h.session.Authenticated(),
		Username:          h.session.Username(),
		LockedFloor:       h.session.LockedFloor(),
	})
}

type visibilityRequest struct {
	Visible *bool `json:"visible" binding:"required"`
}

// PutVisibility handles PUT /api/visibility. The front end reports when
// it is shown or hidden; the channel only stays open while shown.
func (h *Handler) PutVisibility(c *gin.Context) {
	var req visibilityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	h.channel.SetVisible(*req.Visible)
	c.JSON(http.StatusOK, gin.H{"visible": *req.Visible, "connection": h.channel.State()})
}
