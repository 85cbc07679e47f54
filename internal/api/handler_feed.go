package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"housekeeping-sync/internal/feed"
)

type feedItem struct {
	ID   string    `json:"id"`
	Type string    `json:"type"`
	TS   time.Time `json:"ts"`
	feed.Card
}

func feedItems(entries []feed.Entry) []feedItem {
	out := make([]feedItem, len(entries))
	for i, e := range entries {
		out[i] = feedItem{ID: e.ID, Type: e.Type, TS: e.TS, Card: e.Card()}
	}
	return out
}

// GetFeed handles GET /api/feed. Reads seed from history until a seed succeeds.
func (h *Handler) GetFeed(c *gin.Context) {
	h.feed.EnsureSeeded(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{"items": feedItems(h.feed.Entries())})
}

// LoadOlder handles POST /api/feed/older.
func (h *Handler) LoadOlder(c *gin.Context) {
	added, err := h.feed.LoadOlder(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"added": added, "items": feedItems(h.feed.Entries())})
}
