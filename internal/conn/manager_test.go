package conn

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"housekeeping-sync/internal/protocol"
)

const waitFor = 2 * time.Second
const tick = 5 * time.Millisecond

type fakeConn struct {
	frames chan frameOrErr
	closed chan struct{}
	once   sync.Once
	// hold, when set, keeps Close from returning until it is closed.
	hold chan struct{}

	mu     sync.Mutex
	writes []protocol.Command
}

type frameOrErr struct {
	env protocol.Envelope
	err error
}

func newFakeConn() *fakeConn {
	return &fakeConn{frames: make(chan frameOrErr, 16), closed: make(chan struct{})}
}

func (c *fakeConn) Read(ctx context.Context) (protocol.Envelope, error) {
	select {
	case f := <-c.frames:
		return f.env, f.err
	case <-c.closed:
		return protocol.Envelope{}, errors.New("use of closed connection")
	case <-ctx.Done():
		return protocol.Envelope{}, ctx.Err()
	}
}

func (c *fakeConn) Write(_ context.Context, cmd protocol.Command) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writes = append(c.writes, cmd)
	return nil
}

func (c *fakeConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	if c.hold != nil {
		<-c.hold
	}
	return nil
}

func (c *fakeConn) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

func (c *fakeConn) written() []protocol.Command {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]protocol.Command(nil), c.writes...)
}

func (c *fakeConn) push(typ, payload string) {
	c.frames <- frameOrErr{env: protocol.Envelope{Type: typ, Payload: []byte(payload)}}
}

type fakeDialer struct {
	mu     sync.Mutex
	conns  []*fakeConn
	tokens []string
	fail   error
	hold   chan struct{}
}

func (d *fakeDialer) Dial(_ context.Context, token string) (Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.tokens = append(d.tokens, token)
	if d.fail != nil {
		return nil, d.fail
	}
	c := newFakeConn()
	c.hold = d.hold
	d.conns = append(d.conns, c)
	return c, nil
}

func (d *fakeDialer) dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.tokens)
}

func (d *fakeDialer) last() *fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.conns) == 0 {
		return nil
	}
	return d.conns[len(d.conns)-1]
}

type fakeTokens struct {
	err error
}

func (f fakeTokens) EnsureValidToken(context.Context) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return "tok", nil
}

type fakeProber struct {
	calls atomic.Int32
	err   error
}

func (p *fakeProber) Probe(context.Context) error {
	p.calls.Add(1)
	return p.err
}

func fastOptions() Options {
	return Options{
		ConnectTimeout: time.Second,
		ProbeTimeout:   time.Second,
		MaxAttempts:    2,
		InitialDelay:   time.Millisecond,
		MaxDelay:       2 * time.Millisecond,
	}
}

func connected(t *testing.T, m *Manager) {
	t.Helper()
	require.Eventually(t, func() bool { return m.State() == Connected }, waitFor, tick)
}

func TestManager_GateRequiresBothConditions(t *testing.T) {
	d := &fakeDialer{}
	m := NewManager(d, nil, fakeTokens{}, fastOptions())
	defer m.Close()

	m.SetVisible(true)
	assert.Equal(t, Disconnected, m.State())
	m.SetVisible(false)
	m.SetAuthenticated(true)
	assert.Equal(t, Disconnected, m.State())
	assert.Zero(t, d.dials())

	m.SetVisible(true)
	connected(t, m)
	assert.Equal(t, 1, d.dials())
	d.mu.Lock()
	assert.Equal(t, []string{"tok"}, d.tokens)
	d.mu.Unlock()
}

func TestManager_RequestsSnapshotAndDeliversInOrder(t *testing.T) {
	d := &fakeDialer{}
	p := &fakeProber{err: errors.New("502 while waking")}
	m := NewManager(d, p, fakeTokens{}, fastOptions())
	defer m.Close()

	var mu sync.Mutex
	var got []protocol.EventType
	m.Subscribe(func(msg protocol.Message) {
		mu.Lock()
		got = append(got, msg.Type)
		mu.Unlock()
	})

	m.SetAuthenticated(true)
	m.SetVisible(true)
	connected(t, m)
	assert.EqualValues(t, 1, p.calls.Load(), "a failed probe does not block the connection")

	c := d.last()
	require.Eventually(t, func() bool { return len(c.written()) == 1 }, waitFor, tick)
	assert.Equal(t, protocol.CommandRequestInitialData, c.written()[0].Type)

	c.push("initialData", `{}`)
	c.frames <- frameOrErr{err: ErrMalformedFrame}
	c.push("mystery", `{}`)
	c.push("roomUpdate", `{"roomNumber":"101","status":"in_progress"}`)
	c.push("roomChecked", `{"roomNumber":"101","status":"checked"}`)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 3
	}, waitFor, tick)
	assert.Equal(t, []protocol.EventType{protocol.EventInitialData, protocol.EventRoomUpdate, protocol.EventRoomChecked}, got)
	assert.Equal(t, Connected, m.State(), "bad frames do not drop the channel")
}

func TestManager_VisibilityTeardownIsNotAFailure(t *testing.T) {
	d := &fakeDialer{}
	m := NewManager(d, nil, fakeTokens{}, fastOptions())
	defer m.Close()

	m.SetAuthenticated(true)
	m.SetVisible(true)
	connected(t, m)
	first := d.last()

	m.SetVisible(false)
	assert.Equal(t, Disconnected, m.State())
	assert.True(t, first.isClosed())
	assert.Zero(t, m.ReconnectAttempts())
	assert.ErrorIs(t, m.Send(context.Background(), protocol.RequestInitialData()), ErrNotConnected)

	// Give a misbehaving run loop time to count the teardown.
	time.Sleep(20 * time.Millisecond)
	assert.Zero(t, m.ReconnectAttempts())
	assert.Equal(t, 1, d.dials())

	m.SetVisible(true)
	connected(t, m)
	assert.Equal(t, 2, d.dials())
	assert.NotSame(t, first, d.last(), "a fresh channel is opened")
	assert.Zero(t, m.ReconnectAttempts())
}

func TestManager_SlowCloseDoesNotBlockReaders(t *testing.T) {
	hold := make(chan struct{})
	d := &fakeDialer{hold: hold}
	m := NewManager(d, nil, fakeTokens{}, fastOptions())
	defer m.Close()

	m.SetAuthenticated(true)
	m.SetVisible(true)
	connected(t, m)

	done := make(chan struct{})
	go func() {
		m.SetVisible(false)
		close(done)
	}()
	require.Eventually(t, d.last().isClosed, waitFor, tick)

	states := make(chan State, 1)
	go func() { states <- m.State() }()
	select {
	case s := <-states:
		assert.Equal(t, Disconnected, s)
	case <-time.After(waitFor):
		t.Fatal("State blocked behind the close handshake")
	}

	close(hold)
	<-done
}

func TestManager_ReconnectsAfterTransportError(t *testing.T) {
	d := &fakeDialer{}
	m := NewManager(d, nil, fakeTokens{}, fastOptions())
	defer m.Close()

	m.SetAuthenticated(true)
	m.SetVisible(true)
	connected(t, m)

	d.last().frames <- frameOrErr{err: errors.New("connection reset")}

	require.Eventually(t, func() bool { return d.dials() == 2 && m.State() == Connected }, waitFor, tick)
	assert.Zero(t, m.ReconnectAttempts(), "a successful connect resets the counter")
	require.Eventually(t, func() bool { return len(d.last().written()) == 1 }, waitFor, tick)
	assert.Equal(t, protocol.CommandRequestInitialData, d.last().written()[0].Type, "snapshot is requested again")
}

func TestManager_StallsAfterRetryBudget(t *testing.T) {
	d := &fakeDialer{fail: errors.New("connection refused")}
	m := NewManager(d, nil, fakeTokens{}, fastOptions())
	defer m.Close()

	m.SetAuthenticated(true)
	m.SetVisible(true)

	require.Eventually(t, func() bool { return m.State() == Stalled }, waitFor, tick)
	assert.Equal(t, 3, d.dials(), "one attempt plus two retries")
	assert.True(t, m.Connecting(), "stalled still reads as connecting")

	d.mu.Lock()
	d.fail = nil
	d.mu.Unlock()

	m.SetVisible(true)
	connected(t, m)
	assert.False(t, m.Connecting())
}

func TestManager_TokenFailureLogsOut(t *testing.T) {
	d := &fakeDialer{}
	m := NewManager(d, nil, fakeTokens{err: errors.New("refresh rejected")}, fastOptions())
	defer m.Close()

	var fired atomic.Int32
	m.OnLoggedOut(func() { fired.Add(1) })

	m.SetAuthenticated(true)
	m.SetVisible(true)

	require.Eventually(t, func() bool { return fired.Load() == 1 }, waitFor, tick)
	assert.Equal(t, Disconnected, m.State())
	assert.Zero(t, d.dials())
}

func TestManager_Unsubscribe(t *testing.T) {
	d := &fakeDialer{}
	m := NewManager(d, nil, fakeTokens{}, fastOptions())
	defer m.Close()

	var a, b atomic.Int32
	unsubA := m.Subscribe(func(protocol.Message) { a.Add(1) })
	m.Subscribe(func(protocol.Message) { b.Add(1) })

	m.SetAuthenticated(true)
	m.SetVisible(true)
	connected(t, m)

	c := d.last()
	c.push("dailyReset", `{}`)
	require.Eventually(t, func() bool { return b.Load() == 1 }, waitFor, tick)

	unsubA()
	unsubA()
	c.push("dailyReset", `{}`)
	require.Eventually(t, func() bool { return b.Load() == 2 }, waitFor, tick)
	assert.EqualValues(t, 1, a.Load())
}

func TestManager_SendAndClose(t *testing.T) {
	d := &fakeDialer{}
	m := NewManager(d, nil, fakeTokens{}, fastOptions())

	m.SetAuthenticated(true)
	m.SetVisible(true)
	connected(t, m)

	c := d.last()
	require.Eventually(t, func() bool { return len(c.written()) == 1 }, waitFor, tick)
	require.NoError(t, m.Send(context.Background(), protocol.UpdatePriority("205", "high")))
	require.Eventually(t, func() bool { return len(c.written()) == 2 }, waitFor, tick)
	assert.Equal(t, protocol.CommandUpdatePriority, c.written()[1].Type)

	m.Close()
	assert.True(t, c.isClosed())
	assert.Equal(t, Disconnected, m.State())

	m.SetVisible(true)
	assert.Equal(t, Disconnected, m.State(), "a closed manager stays closed")
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "reconnecting", Reconnecting.String())
	b, err := Stalled.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "stalled", string(b))
}
