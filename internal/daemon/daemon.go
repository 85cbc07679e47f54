// Package daemon wires the sync components together.
package daemon

import (
	"context"
	"fmt"
	"log"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"housekeeping-sync/config"
	"housekeeping-sync/internal/api"
	"housekeeping-sync/internal/auth"
	"housekeeping-sync/internal/backend"
	"housekeeping-sync/internal/conn"
	"housekeeping-sync/internal/daily"
	"housekeeping-sync/internal/db"
	"housekeeping-sync/internal/feed"
	"housekeeping-sync/internal/mw"
	"housekeeping-sync/internal/optimistic"
	"housekeeping-sync/internal/reconciler"
	"housekeeping-sync/internal/state"
	"housekeeping-sync/internal/store"
	"housekeeping-sync/internal/transport"
)

// Daemon is one running sync client.
type Daemon struct {
	Backend    *backend.Client
	Session    *auth.Provider
	Rooms      *state.Store
	Reconciler *reconciler.Reconciler
	Conn       *conn.Manager
	Actions    *optimistic.Coordinator
	Feed       *feed.Projector
	Daily      *daily.Trigger
	Cache      *mw.ResponseCache
	Router     *gin.Engine
}

// New builds the daemon on an open session database.
func New(ctx context.Context, cfg *config.Config, gormDB *gorm.DB) (*Daemon, error) {
	if err := db.Migrate(gormDB); err != nil {
		return nil, fmt.Errorf("failed to migrate session database: %w", err)
	}
	sessions := store.NewGormStore(gormDB)

	client := backend.New(cfg.Backend)
	provider := auth.New(client, sessions)
	if err := provider.Load(ctx); err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	client.SetTokenSource(provider)

	dialer, err := transport.NewDialer(cfg.Backend.URL, cfg.Backend.SocketPath, cfg.Backend.Headers)
	if err != nil {
		return nil, fmt.Errorf("invalid backend url: %w", err)
	}
	rc := cfg.Backend.Reconnect
	mgr := conn.NewManager(dialer, client, provider, conn.Options{
		ConnectTimeout: rc.ConnectTimeout,
		ProbeTimeout:   rc.ProbeTimeout,
		MaxAttempts:    rc.Attempts,
		InitialDelay:   rc.Delay,
		MaxDelay:       rc.MaxDelay,
	})

	rooms := state.NewStore(cfg.Day.Location)
	rec := reconciler.New(rooms, mgr)
	projector := feed.New(client, feed.Options{
		Capacity:       cfg.Feed.Capacity,
		PageSize:       cfg.Feed.PageSize,
		LoadOlderEvery: cfg.Feed.LoadOlderEvery,
	})
	cache := mw.NewResponseCache(cfg.Server.CacheTTL())

	mgr.Subscribe(rec.Handle)
	mgr.Subscribe(projector.Handle)
	trigger := daily.New(rec, cfg.Day.Location, cfg.Day.PollInterval)
	rec.OnReset(func(string) {
		trigger.Mark()
		cache.Invalidate()
		projector.Unseed()
	})

	provider.OnChange(func(authenticated bool) {
		if !authenticated {
			rooms.Reset()
			cache.Invalidate()
			projector.Clear()
		}
		mgr.SetAuthenticated(authenticated)
	})
	mgr.OnLoggedOut(func() {
		if err := provider.Logout(context.Background()); err != nil {
			log.Printf("daemon: failed to clear session: %v", err)
		}
	})

	d := &Daemon{
		Backend:    client,
		Session:    provider,
		Rooms:      rooms,
		Reconciler: rec,
		Conn:       mgr,
		Actions:    optimistic.New(rooms, client, provider),
		Feed:       projector,
		Daily:      trigger,
		Cache:      cache,
	}
	d.Router = api.NewRouter(api.Deps{
		Session: provider,
		Channel: mgr,
		Rooms:   rooms,
		Actions: d.Actions,
		Reads:   client,
		Feed:    projector,
		Floors:  cfg.Floors,
		Cache:   cache,
	}, cfg.Server)

	mgr.SetAuthenticated(provider.Authenticated())
	mgr.SetVisible(cfg.Server.StartVisible)
	return d, nil
}

// Run polls for the day boundary until ctx is cancelled, then closes.
func (d *Daemon) Run(ctx context.Context) {
	d.Daily.Run(ctx)
	d.Close()
}

// Close tears the channel down and stops late writes.
func (d *Daemon) Close() {
	d.Actions.Close()
	d.Reconciler.Close()
	d.Conn.Close()
}
