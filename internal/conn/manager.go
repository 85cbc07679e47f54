package conn

import (
	"context"
	"errors"
	"fmt"
	"log"
	"slices"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"

	"housekeeping-sync/internal/protocol"
)

// Options is the channel's retry policy, fixed at construction.
type Options struct {
	ConnectTimeout time.Duration
	ProbeTimeout   time.Duration
	// MaxAttempts is how many reconnects are tried after a failure before
	// the manager reports Stalled.
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
}

func (o Options) withDefaults() Options {
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = 5 * time.Second
	}
	if o.ProbeTimeout <= 0 {
		o.ProbeTimeout = 3 * time.Second
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 5
	}
	if o.InitialDelay <= 0 {
		o.InitialDelay = time.Second
	}
	if o.MaxDelay < o.InitialDelay {
		o.MaxDelay = 5 * o.InitialDelay
	}
	return o
}

var errLoggedOut = errors.New("token unavailable")

// Manager keeps at most one realtime channel open, and only while the
// session is authenticated and the front end is visible. Events are
// delivered to subscribers from a single goroutine in arrival order.
type Manager struct {
	dialer Dialer
	prober Prober
	tokens TokenSource
	opts   Options

	mu            sync.Mutex
	visible       bool
	authenticated bool
	closed        bool
	state         State
	attempts      int
	session       uint64
	cancel        context.CancelFunc
	conn          Conn
	wg            sync.WaitGroup

	subMu     sync.RWMutex
	subs      map[uint64]func(protocol.Message)
	nextSub   uint64
	loggedOut []func()
}

// NewManager creates a manager in the Disconnected state. prober may be nil.
func NewManager(d Dialer, p Prober, ts TokenSource, opts Options) *Manager {
	return &Manager{
		dialer: d,
		prober: p,
		tokens: ts,
		opts:   opts.withDefaults(),
		subs:   make(map[uint64]func(protocol.Message)),
	}
}

// SetVisible reports whether the front end is on screen.
func (m *Manager) SetVisible(v bool) {
	m.mu.Lock()
	m.visible = v
	stale := m.evaluateLocked()
	m.mu.Unlock()
	closeConn(stale)
}

// SetAuthenticated reports whether a session token is held.
func (m *Manager) SetAuthenticated(v bool) {
	m.mu.Lock()
	m.authenticated = v
	stale := m.evaluateLocked()
	m.mu.Unlock()
	closeConn(stale)
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Connecting is the passive "still trying" indicator.
func (m *Manager) Connecting() bool {
	switch m.State() {
	case Connecting, Reconnecting, Stalled:
		return true
	}
	return false
}

// ReconnectAttempts returns the failures counted since the last successful
// connect.
func (m *Manager) ReconnectAttempts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attempts
}

// Subscribe registers fn for every decoded event. The returned function
// removes it; calling it more than once is harmless.
func (m *Manager) Subscribe(fn func(protocol.Message)) (unsubscribe func()) {
	m.subMu.Lock()
	id := m.nextSub
	m.nextSub++
	m.subs[id] = fn
	m.subMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.subMu.Lock()
			delete(m.subs, id)
			m.subMu.Unlock()
		})
	}
}

// OnLoggedOut registers fn to run when the token source gives up.
func (m *Manager) OnLoggedOut(fn func()) {
	m.subMu.Lock()
	m.loggedOut = append(m.loggedOut, fn)
	m.subMu.Unlock()
}

// Send writes a command on the open channel.
func (m *Manager) Send(ctx context.Context, cmd protocol.Command) error {
	m.mu.Lock()
	c := m.conn
	m.mu.Unlock()
	if c == nil {
		return ErrNotConnected
	}
	return c.Write(ctx, cmd)
}

// RequestInitialData asks the server for a full snapshot.
func (m *Manager) RequestInitialData(ctx context.Context) error {
	return m.Send(ctx, protocol.RequestInitialData())
}

// Close tears the channel down for good and waits for the session
// goroutine to exit. It must not be called from a subscriber.
func (m *Manager) Close() {
	m.mu.Lock()
	m.closed = true
	stale := m.evaluateLocked()
	m.mu.Unlock()
	closeConn(stale)
	m.wg.Wait()
}

// evaluateLocked opens or tears down the channel to match the gate. It
// returns the detached channel, if any, for the caller to close once the
// lock is released.
func (m *Manager) evaluateLocked() Conn {
	want := m.visible && m.authenticated && !m.closed
	switch {
	case want && m.cancel == nil:
		m.startLocked()
	case !want:
		return m.stopLocked()
	}
	return nil
}

func (m *Manager) startLocked() {
	ctx, cancel := context.WithCancel(context.Background())
	m.session++
	m.cancel = cancel
	m.attempts = 0
	m.state = Connecting

	id := m.session
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.run(ctx, id)
	}()
}

// stopLocked is a deliberate teardown and does not count as a failure.
// The close handshake can block, so the channel is handed back instead of
// being closed under m.mu.
func (m *Manager) stopLocked() Conn {
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
		m.session++
	}
	c := m.conn
	m.conn = nil
	m.state = Disconnected
	return c
}

func closeConn(c Conn) {
	if c == nil {
		return
	}
	if err := c.Close(); err != nil {
		log.Printf("conn: close: %v", err)
	}
}

func (m *Manager) run(ctx context.Context, id uint64) {
	b := &backoff.ExponentialBackOff{
		InitialInterval:     m.opts.InitialDelay,
		RandomizationFactor: 0.5,
		Multiplier:          2,
		MaxInterval:         m.opts.MaxDelay,
	}
	b.Reset()

	if m.prober != nil {
		pctx, cancel := context.WithTimeout(ctx, m.opts.ProbeTimeout)
		if err := m.prober.Probe(pctx); err != nil {
			log.Printf("conn: backend probe failed, connecting anyway: %v", err)
		}
		cancel()
	}

	for {
		err := m.connectAndServe(ctx, id, b)
		if ctx.Err() != nil {
			return
		}
		if errors.Is(err, errLoggedOut) {
			m.handleLoggedOut(id, err)
			return
		}

		m.mu.Lock()
		if m.session != id {
			m.mu.Unlock()
			return
		}
		m.attempts++
		if m.attempts > m.opts.MaxAttempts {
			m.state = Stalled
			m.cancel()
			m.cancel = nil
			m.mu.Unlock()
			log.Printf("conn: giving up after %d attempts: %v", m.opts.MaxAttempts, err)
			return
		}
		attempt := m.attempts
		m.state = Reconnecting
		m.mu.Unlock()

		delay := b.NextBackOff()
		log.Printf("conn: channel lost (%v), retry %d/%d in %s", err, attempt, m.opts.MaxAttempts, delay.Round(time.Millisecond))
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// connectAndServe runs one channel from dial to failure.
func (m *Manager) connectAndServe(ctx context.Context, id uint64, b *backoff.ExponentialBackOff) error {
	token, err := m.tokens.EnsureValidToken(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: %v", errLoggedOut, err)
	}

	dctx, cancel := context.WithTimeout(ctx, m.opts.ConnectTimeout)
	c, err := m.dialer.Dial(dctx, token)
	cancel()
	if err != nil {
		return err
	}
	if !m.attach(id, c) {
		c.Close()
		return context.Canceled
	}
	b.Reset()
	log.Printf("conn: connected")

	defer m.detach(id, c)

	if err := c.Write(ctx, protocol.RequestInitialData()); err != nil {
		return fmt.Errorf("request initial data: %w", err)
	}

	for {
		env, err := c.Read(ctx)
		if errors.Is(err, ErrMalformedFrame) {
			log.Printf("conn: dropping frame: %v", err)
			continue
		}
		if err != nil {
			return err
		}
		msg, err := protocol.Decode(env)
		if err != nil {
			log.Printf("conn: dropping %q event: %v", env.Type, err)
			continue
		}
		m.dispatch(msg)
	}
}

func (m *Manager) attach(id uint64, c Conn) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session != id {
		return false
	}
	m.conn = c
	m.state = Connected
	m.attempts = 0
	return true
}

func (m *Manager) detach(id uint64, c Conn) {
	m.mu.Lock()
	owned := m.session == id && m.conn == c
	if owned {
		m.conn = nil
	}
	m.mu.Unlock()
	if owned {
		closeConn(c)
	}
}

func (m *Manager) dispatch(msg protocol.Message) {
	m.subMu.RLock()
	ids := make([]uint64, 0, len(m.subs))
	for id := range m.subs {
		ids = append(ids, id)
	}
	m.subMu.RUnlock()
	slices.Sort(ids)

	for _, id := range ids {
		m.subMu.RLock()
		fn, ok := m.subs[id]
		m.subMu.RUnlock()
		if ok {
			fn(msg)
		}
	}
}

func (m *Manager) handleLoggedOut(id uint64, err error) {
	m.mu.Lock()
	if m.session != id {
		m.mu.Unlock()
		return
	}
	log.Printf("conn: %v, tearing down", err)
	m.authenticated = false
	stale := m.stopLocked()
	m.mu.Unlock()
	closeConn(stale)

	m.subMu.RLock()
	fns := append([]func(){}, m.loggedOut...)
	m.subMu.RUnlock()
	for _, fn := range fns {
		fn()
	}
}
