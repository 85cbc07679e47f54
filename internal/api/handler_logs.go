package api

import (
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"housekeeping-sync/internal/backend"
	"housekeeping-sync/internal/parse"
	"housekeeping-sync/internal/protocol"
)

// Inspection score bands used by the score filter.
const passingScore = 70

// fallback answers a failed read with an empty result that is not cached.
func fallback(c *gin.Context, what string, err error, empty any) {
	log.Printf("api: failed to fetch %s: %v", what, err)
	c.Header("Cache-Control", "no-store")
	c.JSON(http.StatusOK, empty)
}

// GetLogs handles GET /api/logs?status=&dateFilter=.
func (h *Handler) GetLogs(c *gin.Context) {
	logs, err := h.reads.FetchLogs(c.Request.Context(), backend.LogFilter{
		Status:     c.Query("status"),
		DateFilter: c.Query("dateFilter"),
	})
	if err != nil {
		fallback(c, "logs", err, []backend.CleaningLog{})
		return
	}
	if logs == nil {
		logs = []backend.CleaningLog{}
	}
	c.JSON(http.StatusOK, logs)
}

// GetNotes handles GET /api/notes.
func (h *Handler) GetNotes(c *gin.Context) {
	notes, err := h.reads.FetchNotes(c.Request.Context())
	if err != nil {
		fallback(c, "notes", err, map[string]protocol.RoomNote{})
		return
	}
	if notes == nil {
		notes = map[string]protocol.RoomNote{}
	}
	c.JSON(http.StatusOK, notes)
}

// GetInspections handles GET /api/inspections?score=all|ok|low.
func (h *Handler) GetInspections(c *gin.Context) {
	score := c.DefaultQuery("score", "all")
	if score != "all" && score != "ok" && score != "low" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "score must be all, ok or low"})
		return
	}
	logs, err := h.reads.FetchInspectionLogs(c.Request.Context())
	if err != nil {
		fallback(c, "inspection logs", err, []protocol.InspectionLog{})
		return
	}
	out := make([]protocol.InspectionLog, 0, len(logs))
	for _, l := range logs {
		var s float64
		if l.OverallScore != nil {
			s = *l.OverallScore
		}
		switch {
		case score == "ok" && s < passingScore:
			continue
		case score == "low" && s >= passingScore:
			continue
		}
		out = append(out, l)
	}
	c.JSON(http.StatusOK, out)
}

// GetInspection handles GET /api/inspections/:room.
func (h *Handler) GetInspection(c *gin.Context) {
	key, err := parse.RoomKey(c.Param("room"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	l, err := h.reads.FetchInspectionLog(c.Request.Context(), key)
	if err != nil {
		writeError(c, err)
		return
	}
	if l == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no inspection for room " + key})
		return
	}
	c.JSON(http.StatusOK, l)
}

type submitInspectionRequest struct {
	RoomNumber        string            `json:"roomNumber" binding:"required"`
	InspectionResults map[string]string `json:"inspectionResults" binding:"required"`
	OverallScore      float64           `json:"overallScore"`
}

// SubmitInspection handles POST /api/inspections.
func (h *Handler) SubmitInspection(c *gin.Context) {
	var req submitInspectionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	key, err := parse.RoomKey(req.RoomNumber)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.OverallScore < 0 || req.OverallScore > 100 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "overallScore must be between 0 and 100"})
		return
	}
	err = h.reads.SubmitInspection(c.Request.Context(), backend.InspectionSubmission{
		RoomNumber:        key,
		InspectionResults: req.InspectionResults,
		OverallScore:      req.OverallScore,
		Timestamp:         h.now().UTC(),
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusCreated)
}

// GetLeaderboard handles GET /api/leaderboard.
func (h *Handler) GetLeaderboard(c *gin.Context) {
	entries, err := h.reads.FetchLeaderboard(c.Request.Context())
	if err != nil {
		fallback(c, "leaderboard", err, []backend.LeaderboardEntry{})
		return
	}
	if entries == nil {
		entries = []backend.LeaderboardEntry{}
	}
	c.JSON(http.StatusOK, entries)
}
