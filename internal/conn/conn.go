package conn

import (
	"context"
	"errors"

	"housekeeping-sync/internal/protocol"
)

var (
	// ErrNotConnected is returned by Send while no channel is open.
	ErrNotConnected = errors.New("realtime channel not connected")
	// ErrMalformedFrame is returned by Conn.Read for a frame that could not
	// be decoded. The channel stays usable.
	ErrMalformedFrame = errors.New("malformed frame")
)

// Conn is one open realtime channel.
type Conn interface {
	Read(ctx context.Context) (protocol.Envelope, error)
	Write(ctx context.Context, cmd protocol.Command) error
	Close() error
}

// Dialer opens a channel authenticated by token.
type Dialer interface {
	Dial(ctx context.Context, token string) (Conn, error)
}

// Prober wakes a backend that may be suspended.
type Prober interface {
	Probe(ctx context.Context) error
}

// TokenSource hands out a valid bearer token or fails when the session
// cannot be kept alive.
type TokenSource interface {
	EnsureValidToken(ctx context.Context) (string, error)
}

// State is the lifecycle state of the channel.
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
	Reconnecting
	// Stalled means the retry budget ran out. The next visibility or auth
	// change starts over.
	Stalled
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Reconnecting:
		return "reconnecting"
	case Stalled:
		return "stalled"
	}
	return "unknown"
}

// MarshalText renders the state name in JSON.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}
