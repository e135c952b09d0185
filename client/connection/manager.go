// Package connection owns the broker connection lifecycle: the
// Disconnected → Connecting → Connected → Reconnecting state machine,
// the STOMP handshake, frame routing to subscriptions, and the
// fixed-delay reconnect policy.
//
// The connection State is mutated only here. Every other component
// observes it through OnStateChange or State and never writes it.
package connection

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/verdantlabs/chatcore-go/core/clock"
	"github.com/verdantlabs/chatcore-go/frame"
	"github.com/verdantlabs/chatcore-go/transport"
)

const (
	// DefaultReconnectDelay is the fixed delay between reconnect attempts.
	// There is no backoff and no attempt cap; callers needing a giving-up
	// behavior impose it externally.
	DefaultReconnectDelay = 5 * time.Second

	// DefaultHost is the STOMP virtual host sent in the CONNECT frame.
	DefaultHost = "/"
)

var (
	// ErrClosed is returned after Disconnect; a Manager is not reusable.
	ErrClosed = errors.New("connection manager closed")

	// ErrNotConnected is returned for operations that require the
	// Connected state.
	ErrNotConnected = errors.New("not connected")
)

// Config configures a connection Manager.
type Config struct {
	// Transport is the socket to the broker. Required.
	Transport transport.Transport

	// Host is the STOMP virtual host for the CONNECT frame. Default: "/".
	Host string

	// ReconnectDelay is the fixed delay between reconnect attempts.
	// Default: 5 seconds.
	ReconnectDelay time.Duration

	// Clock is the timer source. Nil uses the system clock.
	Clock *clock.Clock

	// Logger for connection events. Falls back to slog.Default() if nil.
	Logger *slog.Logger
}

type subEntry struct {
	destination string
	handler     func(f *frame.Frame)
}

// Manager drives one broker connection and routes its frames.
type Manager struct {
	cfg Config
	log *slog.Logger

	mu        sync.Mutex
	state     State
	observers []func(State)
	subs      map[string]*subEntry
	subOrder  []string
	timer     *clock.Timer
	started   bool
	closed    bool
	ctx       context.Context
	cancel    context.CancelFunc
}

// NewManager creates a connection manager with the given configuration.
func NewManager(cfg Config) *Manager {
	if cfg.Host == "" {
		cfg.Host = DefaultHost
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = DefaultReconnectDelay
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		cfg:  cfg,
		log:  logger.WithGroup("connection"),
		subs: make(map[string]*subEntry),
	}
}

// State returns the current connection state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// OnStateChange registers an observer for state transitions. Observers
// are invoked synchronously, in registration order, for every transition;
// they must not block.
func (m *Manager) OnStateChange(fn func(State)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.observers = append(m.observers, fn)
}

// Connect starts the connection. The dial runs in the calling goroutine;
// the STOMP handshake completes asynchronously and is observable as the
// transition to StateConnected. A dial or handshake failure is not
// returned as an error: it enters the same Reconnecting path as a
// mid-session drop. Calling Connect on an already started manager is a
// no-op.
func (m *Manager) Connect(ctx context.Context) error {
	if m.cfg.Transport == nil {
		return errors.New("transport is required")
	}
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	if m.started {
		m.mu.Unlock()
		return nil
	}
	m.started = true
	m.ctx, m.cancel = context.WithCancel(ctx)
	runCtx := m.ctx
	m.mu.Unlock()

	m.cfg.Transport.SetFrameHandler(m.handleFrame)
	m.cfg.Transport.SetStateHandler(m.handleTransportEvent)

	m.setState(StateConnecting)
	if err := m.cfg.Transport.Start(runCtx); err != nil {
		m.log.Warn("initial connect failed", "err", err)
		m.setState(StateReconnecting)
		m.scheduleReconnect()
	}
	return nil
}

// Disconnect tears the connection down. It cancels any pending reconnect
// timer, stops the transport, and transitions to StateDisconnected. No
// events are delivered afterward; the manager is not reusable.
func (m *Manager) Disconnect() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	if m.cancel != nil {
		m.cancel()
	}
	m.mu.Unlock()

	err := m.cfg.Transport.Stop()
	m.setState(StateDisconnected)
	return err
}

// Subscribe registers a frame handler for one subscription id and sends
// the SUBSCRIBE frame. Only legal while Connected; the registration
// survives reconnects and is re-issued on every CONNECTED handshake until
// Unsubscribe. A failed write leaves no registration behind, so the
// caller may retry with the same id.
func (m *Manager) Subscribe(subID, destination string, h func(f *frame.Frame)) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	if m.state != StateConnected {
		m.mu.Unlock()
		return ErrNotConnected
	}
	if _, exists := m.subs[subID]; exists {
		m.mu.Unlock()
		return fmt.Errorf("subscription %q already exists", subID)
	}
	m.subs[subID] = &subEntry{destination: destination, handler: h}
	m.subOrder = append(m.subOrder, subID)
	m.mu.Unlock()

	if err := m.cfg.Transport.SendFrame(frame.Subscribe(subID, destination)); err != nil {
		m.mu.Lock()
		delete(m.subs, subID)
		if i := slices.Index(m.subOrder, subID); i >= 0 {
			m.subOrder = slices.Delete(m.subOrder, i, i+1)
		}
		m.mu.Unlock()
		return err
	}
	return nil
}

// Unsubscribe drops the routing entry for subID, then sends the
// UNSUBSCRIBE frame if still connected. Routing stops even when the frame
// cannot be sent, so a released subscription never receives another
// message.
func (m *Manager) Unsubscribe(subID string) error {
	m.mu.Lock()
	_, exists := m.subs[subID]
	delete(m.subs, subID)
	if i := slices.Index(m.subOrder, subID); i >= 0 {
		m.subOrder = slices.Delete(m.subOrder, i, i+1)
	}
	connected := m.state == StateConnected && !m.closed
	m.mu.Unlock()

	if !exists {
		return nil
	}
	if connected {
		return m.cfg.Transport.SendFrame(frame.Unsubscribe(subID))
	}
	return nil
}

// Send writes one frame to the broker. Requires the Connected state.
func (m *Manager) Send(f *frame.Frame) error {
	m.mu.Lock()
	closed, state := m.closed, m.state
	m.mu.Unlock()
	if closed {
		return ErrClosed
	}
	if state != StateConnected {
		return ErrNotConnected
	}
	return m.cfg.Transport.SendFrame(f)
}

// setState transitions the state and broadcasts to observers outside the
// lock. After close only the final transition to Disconnected is allowed.
func (m *Manager) setState(s State) {
	m.mu.Lock()
	if m.closed && s != StateDisconnected {
		m.mu.Unlock()
		return
	}
	if m.state == s {
		m.mu.Unlock()
		return
	}
	old := m.state
	m.state = s
	obs := slices.Clone(m.observers)
	m.mu.Unlock()

	m.log.Debug("state change", "from", old, "to", s)
	for _, fn := range obs {
		fn(s)
	}
}

func (m *Manager) handleTransportEvent(_ transport.Transport, ev transport.Event) {
	m.mu.Lock()
	closed := m.closed
	m.mu.Unlock()
	if closed {
		return
	}

	switch ev {
	case transport.EventConnected:
		// Socket is open; the session is not up until the broker answers
		// the CONNECT frame.
		if err := m.cfg.Transport.SendFrame(frame.Connect(m.cfg.Host)); err != nil {
			m.log.Warn("sending CONNECT failed", "err", err)
		}
	case transport.EventDisconnected:
		m.setState(StateReconnecting)
		m.scheduleReconnect()
	case transport.EventError:
		m.log.Warn("transport error")
	}
}

func (m *Manager) handleFrame(f *frame.Frame) {
	m.mu.Lock()
	closed := m.closed
	m.mu.Unlock()
	if closed {
		return
	}

	switch f.Command {
	case frame.CmdConnected:
		// Reinstate subscriptions before anyone can observe Connected, so
		// a sender cannot race ahead of its own topic and miss the echo.
		m.resubscribeAll()
		m.setState(StateConnected)
	case frame.CmdMessage:
		subID := f.Header(frame.HdrSubscription)
		m.mu.Lock()
		e := m.subs[subID]
		m.mu.Unlock()
		if e == nil {
			m.log.Debug("dropping message for unknown subscription", "subscription", subID)
			return
		}
		e.handler(f)
	case frame.CmdReceipt:
		m.log.Debug("receipt", "id", f.Header(frame.HdrReceiptID))
	case frame.CmdError:
		// Protocol errors are not fatal: tear the socket down and take
		// the normal reconnect path. Stop runs on its own goroutine
		// because it waits for the read loop delivering this frame.
		m.log.Warn("broker error frame", "message", f.Header(frame.HdrMessage))
		go func() {
			_ = m.cfg.Transport.Stop()
		}()
	default:
		m.log.Debug("dropping unexpected frame", "command", f.Command)
	}
}

func (m *Manager) resubscribeAll() {
	m.mu.Lock()
	type sub struct{ id, dest string }
	pending := make([]sub, 0, len(m.subOrder))
	for _, id := range m.subOrder {
		if e := m.subs[id]; e != nil {
			pending = append(pending, sub{id, e.destination})
		}
	}
	m.mu.Unlock()

	for _, s := range pending {
		if err := m.cfg.Transport.SendFrame(frame.Subscribe(s.id, s.dest)); err != nil {
			m.log.Warn("resubscribe failed", "subscription", s.id, "err", err)
		}
	}
}

func (m *Manager) scheduleReconnect() {
	m.mu.Lock()
	if m.closed || m.timer != nil {
		m.mu.Unlock()
		return
	}
	m.timer = m.cfg.Clock.AfterFunc(m.cfg.ReconnectDelay, m.reconnect)
	m.mu.Unlock()
}

func (m *Manager) reconnect() {
	m.mu.Lock()
	m.timer = nil
	closed := m.closed
	runCtx := m.ctx
	m.mu.Unlock()
	if closed {
		return
	}

	m.setState(StateConnecting)
	if err := m.cfg.Transport.Start(runCtx); err != nil {
		m.log.Warn("reconnect attempt failed", "err", err)
		m.setState(StateReconnecting)
		m.scheduleReconnect()
	}
}
