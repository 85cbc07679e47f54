package reconciler

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"housekeeping-sync/internal/protocol"
	"housekeeping-sync/internal/state"
)

// ErrDropped is returned by Apply for events that carry nothing to fold,
// such as an inspectionUpdate without a log.
var ErrDropped = errors.New("event dropped")

// resyncTimeout bounds the snapshot request issued after a reset.
const resyncTimeout = 10 * time.Second

// Resyncer asks the server for a fresh snapshot.
type Resyncer interface {
	RequestInitialData(ctx context.Context) error
}

// Reconciler folds server events into the state store, one at a time and
// in arrival order. It is the only writer of authoritative values.
type Reconciler struct {
	store  *state.Store
	resync Resyncer

	mu      sync.Mutex
	onReset []func(reason string)
	closed  atomic.Bool
}

// New creates a reconciler writing to store. resync may be nil.
func New(store *state.Store, resync Resyncer) *Reconciler {
	return &Reconciler{store: store, resync: resync}
}

// OnReset registers fn to run after every daily reset, whichever side
// detected it.
func (r *Reconciler) OnReset(fn func(reason string)) {
	r.mu.Lock()
	r.onReset = append(r.onReset, fn)
	r.mu.Unlock()
}

// Close stops the reconciler from writing; late events are dropped.
func (r *Reconciler) Close() {
	r.closed.Store(true)
}

// Handle is the subscriber entry point. Errors are logged, never returned:
// a bad event must not stop the stream.
func (r *Reconciler) Handle(msg protocol.Message) {
	if err := r.Apply(msg.Event); err != nil {
		log.Printf("reconciler: %s: %v", msg.Type, err)
	}
}

// Apply folds a single event.
func (r *Reconciler) Apply(ev protocol.Event) error {
	if r.closed.Load() {
		return fmt.Errorf("%w: reconciler closed", ErrDropped)
	}

	switch e := ev.(type) {
	case protocol.InitialData:
		r.store.ReplaceAll(snapshotFrom(e))
		return nil

	case protocol.RoomUpdate:
		st, ok := state.ParseCleaningStatus(e.Status)
		if !ok {
			return fmt.Errorf("%w: unknown status %q", ErrDropped, e.Status)
		}
		return r.apply(e.RoomNumber, func(tx *state.Tx) {
			tx.SetCleaning(state.RoomCleaning{Status: st, StartTime: e.StartTime.Ptr()})
		})

	case protocol.RoomChecked:
		st, ok := state.ParseCleaningStatus(e.Status)
		if !ok {
			return fmt.Errorf("%w: unknown status %q", ErrDropped, e.Status)
		}
		return r.apply(e.RoomNumber, func(tx *state.Tx) {
			tx.SetCleaningStatus(st)
		})

	case protocol.DndUpdate:
		return r.apply(e.RoomNumber, func(tx *state.Tx) {
			tx.SetDnd(state.DndFromBool(e.DndStatus))
		})

	case protocol.PriorityUpdate:
		return r.apply(e.RoomNumber, func(tx *state.Tx) {
			tx.SetPriority(state.Priority{Priority: e.Priority, AllowCleaningTime: e.AllowCleaningTime})
		})

	case protocol.InspectionUpdate:
		if e.Log == nil {
			return fmt.Errorf("%w: inspection update without log", ErrDropped)
		}
		room := e.RoomNumber
		if room == "" {
			room = e.Log.RoomNumber
		}
		patch := inspectionPatch(*e.Log)
		return r.apply(room, func(tx *state.Tx) {
			tx.UpsertInspection(patch)
		})

	case protocol.NoteUpdate:
		return r.apply(e.RoomNumber, func(tx *state.Tx) {
			if e.Notes == nil {
				tx.SetNote(nil)
				return
			}
			n := note(*e.Notes)
			tx.SetNote(&n)
		})

	case protocol.DailyReset:
		ctx, cancel := context.WithTimeout(context.Background(), resyncTimeout)
		defer cancel()
		return r.ResetAndResync(ctx, "server")
	}
	return fmt.Errorf("%w: unhandled event %T", ErrDropped, ev)
}

func (r *Reconciler) apply(room protocol.RoomNumber, fn func(tx *state.Tx)) error {
	key, err := room.Key()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDropped, err)
	}
	r.store.Apply(state.Server, key, fn)
	return nil
}

// ResetAndResync clears every slice, marks the store as loading and asks
// for a fresh snapshot. It backs both the server dailyReset event and the
// local day-boundary poll. A failed snapshot request is not fatal: the next
// connection asks for one anyway.
func (r *Reconciler) ResetAndResync(ctx context.Context, reason string) error {
	if r.closed.Load() {
		return nil
	}
	r.store.Reset()
	log.Printf("reconciler: daily reset (%s), state cleared", reason)

	r.mu.Lock()
	hooks := append([]func(string){}, r.onReset...)
	r.mu.Unlock()
	for _, fn := range hooks {
		fn(reason)
	}

	if r.resync == nil {
		return nil
	}
	if err := r.resync.RequestInitialData(ctx); err != nil {
		log.Printf("reconciler: snapshot request after reset failed: %v", err)
	}
	return nil
}
