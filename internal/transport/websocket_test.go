package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"housekeeping-sync/internal/conn"
	"housekeeping-sync/internal/protocol"
)

func TestNewDialer(t *testing.T) {
	tests := []struct {
		name    string
		base    string
		path    string
		want    string
		wantErr bool
	}{
		{name: "http", base: "http://localhost:3001", path: "/socketio", want: "ws://localhost:3001/socketio"},
		{name: "https with prefix", base: "https://api.example.com/v1/", path: "socketio", want: "wss://api.example.com/v1/socketio"},
		{name: "already ws", base: "ws://h", path: "/socketio", want: "ws://h/socketio"},
		{name: "bad scheme", base: "ftp://h", path: "/socketio", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := NewDialer(tt.base, tt.path, nil)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, d.URL())
		})
	}
}

func TestDialer_RoundTrip(t *testing.T) {
	gotAuth := make(chan string, 1)
	gotCmd := make(chan protocol.Command, 1)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth <- r.Header.Get("Authorization") + "|" + r.Header.Get("X-Client")
		c, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer c.CloseNow()
		ctx := r.Context()

		var cmd protocol.Command
		if err := wsjson.Read(ctx, c, &cmd); err != nil {
			return
		}
		gotCmd <- cmd

		_ = c.Write(ctx, websocket.MessageText, []byte("not json"))
		_ = wsjson.Write(ctx, c, protocol.Envelope{Type: "dndUpdate", Payload: []byte(`{"roomNumber":101,"dndStatus":true}`)})
		// Wait for the client to hang up.
		_, _, _ = c.Read(ctx)
	}))
	defer srv.Close()

	d, err := NewDialer(srv.URL, "/socketio", map[string]string{"X-Client": "housekeepd"})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	c, err := d.Dial(ctx, "abc")
	require.NoError(t, err)
	defer c.Close()

	assert.Equal(t, "Bearer abc|housekeepd", <-gotAuth)

	require.NoError(t, c.Write(ctx, protocol.RequestInitialData()))
	assert.Equal(t, protocol.CommandRequestInitialData, (<-gotCmd).Type)

	_, err = c.Read(ctx)
	assert.ErrorIs(t, err, conn.ErrMalformedFrame)

	env, err := c.Read(ctx)
	require.NoError(t, err, "channel survives a malformed frame")
	assert.Equal(t, "dndUpdate", env.Type)

	msg, err := protocol.Decode(env)
	require.NoError(t, err)
	ev, ok := msg.Event.(protocol.DndUpdate)
	require.True(t, ok)
	assert.Equal(t, protocol.RoomNumber("101"), ev.RoomNumber)
	assert.True(t, ev.DndStatus)
}

func TestDialer_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	d, err := NewDialer(srv.URL, "/socketio", nil)
	require.NoError(t, err)
	srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err = d.Dial(ctx, "abc")
	assert.Error(t, err)
}
