// Package optimistic applies user-initiated room actions to the local
// store before the backend confirms them, and undoes them when the
// backend refuses.
package optimistic

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"housekeeping-sync/internal/backend"
	"housekeeping-sync/internal/parse"
	"housekeeping-sync/internal/state"
)

var (
	// ErrRejected means a local precondition failed and nothing was sent.
	ErrRejected = errors.New("action not allowed in the room's current state")
	// ErrInFlight means the same kind of action is already outstanding for the room.
	ErrInFlight = errors.New("an action for this room is already in progress")
	// ErrInvalidRoom is returned for room numbers that do not parse.
	ErrInvalidRoom = errors.New("invalid room number")
)

// Failure messages that mean the backend already holds the target value
// of that action. Other actions have none.
const (
	settledStart  = "already being cleaned"
	settledFinish = "already finished"
	settledCheck  = "already checked"
)

// Commands is the subset of the backend client the coordinator drives.
type Commands interface {
	StartCleaning(ctx context.Context, room string) error
	FinishCleaning(ctx context.Context, room, username string) error
	CheckRoom(ctx context.Context, room, username string) error
	ResetCleaning(ctx context.Context, room string) error
	SetDnd(ctx context.Context, room string, dnd bool, username string) error
	UpdateNotes(ctx context.Context, room string, notes backend.NotesPayload) error
}

// Identity reports the signed-in user; empty when signed out.
type Identity interface {
	Username() string
}

// Coordinator runs the optimistic protocol: check preconditions, apply the
// target value, send the command, and roll back if the command fails.
type Coordinator struct {
	store *state.Store
	cmds  Commands
	id    Identity
	now   func() time.Time

	mu       sync.Mutex
	inFlight map[string]struct{}
	closed   atomic.Bool
}

// New creates a coordinator writing to store.
func New(store *state.Store, cmds Commands, id Identity) *Coordinator {
	return &Coordinator{
		store:    store,
		cmds:     cmds,
		id:       id,
		now:      time.Now,
		inFlight: make(map[string]struct{}),
	}
}

// Close stops rollbacks for commands that complete afterwards.
func (c *Coordinator) Close() {
	c.closed.Store(true)
}

// Start marks an idle room as being cleaned by the current user.
func (c *Coordinator) Start(ctx context.Context, room string) error {
	user := c.id.Username()
	return c.run(ctx, room, "cleaning", settledStart, func(tx *state.Tx) bool {
		if !state.CanStart(tx.Cleaning(), tx.Dnd(), user != "") {
			return false
		}
		// The server stamps the start time in its roomUpdate.
		tx.SetCleaning(state.RoomCleaning{Status: state.StatusInProgress})
		return true
	}, func(ctx context.Context, key string) error {
		return c.cmds.StartCleaning(ctx, key)
	})
}

// Finish marks a room in progress as finished.
func (c *Coordinator) Finish(ctx context.Context, room string) error {
	user := c.id.Username()
	return c.run(ctx, room, "cleaning", settledFinish, func(tx *state.Tx) bool {
		if !state.CanFinish(tx.Cleaning(), tx.Dnd()) {
			return false
		}
		tx.SetCleaningStatus(state.StatusFinished)
		return true
	}, func(ctx context.Context, key string) error {
		return c.cmds.FinishCleaning(ctx, key, user)
	})
}

// Check marks a finished room as checked.
func (c *Coordinator) Check(ctx context.Context, room string) error {
	user := c.id.Username()
	return c.run(ctx, room, "cleaning", settledCheck, func(tx *state.Tx) bool {
		if !state.CanCheck(tx.Cleaning(), tx.Dnd(), tx.Inspected()) {
			return false
		}
		tx.SetCleaningStatus(state.StatusChecked)
		return true
	}, func(ctx context.Context, key string) error {
		return c.cmds.CheckRoom(ctx, key, user)
	})
}

// Reset puts a room with cleaning progress back to idle.
func (c *Coordinator) Reset(ctx context.Context, room string) error {
	return c.run(ctx, room, "cleaning", "", func(tx *state.Tx) bool {
		if !state.CanReset(tx.Cleaning()) {
			return false
		}
		tx.SetCleaning(state.RoomCleaning{Status: state.StatusIdle})
		return true
	}, func(ctx context.Context, key string) error {
		return c.cmds.ResetCleaning(ctx, key)
	})
}

// ToggleDnd flips do-not-disturb on an idle room and returns the new value.
func (c *Coordinator) ToggleDnd(ctx context.Context, room string) (bool, error) {
	user := c.id.Username()
	var on bool
	err := c.run(ctx, room, "dnd", "", func(tx *state.Tx) bool {
		if user == "" || !state.CanToggleDnd(tx.Cleaning()) {
			return false
		}
		on = tx.Dnd() != state.DndOn
		tx.SetDnd(state.DndFromBool(on))
		return true
	}, func(ctx context.Context, key string) error {
		return c.cmds.SetDnd(ctx, key, on, user)
	})
	return on, err
}

// UpdateNotes replaces the room's note. Empty tags with no time and no
// text clear it.
func (c *Coordinator) UpdateNotes(ctx context.Context, room string, notes backend.NotesPayload) error {
	user := c.id.Username()
	if notes.AfterTime != nil {
		if _, _, err := parse.ClockTime(*notes.AfterTime); err != nil {
			return fmt.Errorf("%w: %v", ErrRejected, err)
		}
	}
	return c.run(ctx, room, "notes", "", func(tx *state.Tx) bool {
		if user == "" {
			return false
		}
		if len(notes.Tags) == 0 && notes.AfterTime == nil && notes.Note == nil {
			tx.SetNote(nil)
			return true
		}
		tx.SetNote(&state.RoomNote{
			Tags:          notes.Tags,
			AfterTime:     notes.AfterTime,
			Note:          notes.Note,
			LastUpdatedBy: user,
			UpdatedAt:     c.now(),
		})
		return true
	}, func(ctx context.Context, key string) error {
		return c.cmds.UpdateNotes(ctx, key, notes)
	})
}

// run applies the action's target value and sends it. A failure whose
// message contains settled means the backend is already there and keeps
// the value; any other failure rolls it back.
func (c *Coordinator) run(ctx context.Context, room, kind, settled string, apply func(tx *state.Tx) bool, send func(ctx context.Context, key string) error) error {
	key, err := parse.RoomKey(room)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRoom, err)
	}

	guard := kind + ":" + key
	if !c.acquire(guard) {
		return ErrInFlight
	}
	defer c.release(guard)

	pending, ok := c.store.Provisionally(key, apply)
	if !ok {
		return fmt.Errorf("%w: %s on room %s", ErrRejected, kind, key)
	}

	err = send(ctx, key)
	if err == nil {
		return nil
	}
	if alreadySettled(err, settled) {
		log.Printf("optimistic: room %s already at target: %v", key, err)
		return nil
	}
	if c.closed.Load() {
		return err
	}
	if !c.store.Rollback(pending) {
		log.Printf("optimistic: room %s changed on the server, keeping its value", key)
	}
	return err
}

func (c *Coordinator) acquire(guard string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, busy := c.inFlight[guard]; busy {
		return false
	}
	c.inFlight[guard] = struct{}{}
	return true
}

func (c *Coordinator) release(guard string) {
	c.mu.Lock()
	delete(c.inFlight, guard)
	c.mu.Unlock()
}

func alreadySettled(err error, phrase string) bool {
	if phrase == "" {
		return false
	}
	msg := err.Error()
	var apiErr *backend.APIError
	if errors.As(err, &apiErr) && apiErr.Message != "" {
		msg = apiErr.Message
	}
	return strings.Contains(strings.ToLower(msg), phrase)
}
