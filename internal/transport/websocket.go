package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"housekeeping-sync/internal/conn"
	"housekeeping-sync/internal/protocol"
)

// readLimit caps a single frame; initialData for a full hotel fits easily.
const readLimit = 4 << 20

// Dialer opens realtime channels to the backend over websocket.
type Dialer struct {
	url     string
	headers http.Header
}

// NewDialer builds a dialer for baseURL + path. http(s) schemes are
// switched to ws(s).
func NewDialer(baseURL, path string, headers map[string]string) (*Dialer, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return nil, fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/" + strings.TrimLeft(path, "/")

	h := http.Header{}
	for k, v := range headers {
		h.Set(k, v)
	}
	return &Dialer{url: u.String(), headers: h}, nil
}

// URL returns the websocket endpoint.
func (d *Dialer) URL() string { return d.url }

// Dial connects with token as bearer credential.
func (d *Dialer) Dial(ctx context.Context, token string) (conn.Conn, error) {
	h := d.headers.Clone()
	h.Set("Authorization", "Bearer "+token)

	c, _, err := websocket.Dial(ctx, d.url, &websocket.DialOptions{
		HTTPHeader: h,
	})
	if err != nil {
		return nil, fmt.Errorf("dial websocket: %w", err)
	}
	c.SetReadLimit(readLimit)
	return &wsConn{c: c}, nil
}

type wsConn struct {
	c *websocket.Conn
}

// Read returns the next frame. A frame that is not a JSON envelope yields
// conn.ErrMalformedFrame and leaves the channel open.
func (w *wsConn) Read(ctx context.Context) (protocol.Envelope, error) {
	_, data, err := w.c.Read(ctx)
	if err != nil {
		return protocol.Envelope{}, err
	}
	var env protocol.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return protocol.Envelope{}, fmt.Errorf("%w: %v", conn.ErrMalformedFrame, err)
	}
	return env, nil
}

func (w *wsConn) Write(ctx context.Context, cmd protocol.Command) error {
	return wsjson.Write(ctx, w.c, cmd)
}

func (w *wsConn) Close() error {
	return w.c.Close(websocket.StatusNormalClosure, "closing")
}
