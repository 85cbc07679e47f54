package api

import (
	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"housekeeping-sync/config"
	"housekeeping-sync/internal/mw"
	"housekeeping-sync/internal/state"
)

// Deps wires the router to the daemon's components.
type Deps struct {
	Session Session
	Channel Channel
	Rooms   *state.Store
	Actions Actions
	Reads   Reads
	Feed    Feed
	Floors  []config.FloorConfig
	// Cache is shared with the components that reset room state.
	Cache *mw.ResponseCache
}

// NewRouter creates and configures a new Gin router.
func NewRouter(d Deps, cfg config.ServerConfig) *gin.Engine {
	r := gin.Default()

	handler := NewHandler(d)

	perSec, burst := cfg.RateLimit()
	rateLimiter := mw.RateLimiter(rate.Limit(perSec), burst, cfg.RequestIPHeader)

	caching := d.Cache
	if caching == nil {
		caching = mw.NewResponseCache(cfg.CacheTTL())
	}
	cached := caching.Middleware()

	api := r.Group("/api")
	api.Use(rateLimiter)
	{
		api.GET("/status", handler.GetStatus)
		api.PUT("/visibility", handler.PutVisibility)

		api.POST("/auth/login", handler.Login)
		api.POST("/auth/signup", handler.Signup)
		api.POST("/auth/logout", handler.Logout)

		api.GET("/floors", GetFloors(handler.floors))
		api.PUT("/floor/lock", handler.requireAuth, handler.LockFloor)
		api.DELETE("/floor/lock", handler.requireAuth, handler.UnlockFloor)

		api.GET("/rooms", handler.GetRooms)
		api.GET("/rooms/:room", handler.GetRoom)

		rooms := api.Group("/rooms/:room", handler.requireAuth, caching.InvalidateOnWrite())
		rooms.POST("/start", handler.StartCleaning)
		rooms.POST("/finish", handler.FinishCleaning)
		rooms.POST("/check", handler.CheckRoom)
		rooms.POST("/reset", handler.ResetCleaning)
		rooms.POST("/dnd", handler.ToggleDnd)
		rooms.POST("/notes", handler.UpdateNotes)
		rooms.POST("/priority", handler.UpdatePriority)

		api.GET("/feed", handler.requireAuth, handler.GetFeed)
		api.POST("/feed/older", handler.requireAuth, handler.LoadOlder)

		reads := api.Group("", handler.requireAuth)
		reads.GET("/logs", cached, handler.GetLogs)
		reads.GET("/notes", cached, handler.GetNotes)
		reads.GET("/inspections", cached, handler.GetInspections)
		reads.GET("/inspections/:room", cached, handler.GetInspection)
		reads.POST("/inspections", caching.InvalidateOnWrite(), handler.SubmitInspection)
		reads.GET("/leaderboard", cached, handler.GetLeaderboard)
	}

	return r
}
