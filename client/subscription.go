package client

import (
	"errors"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/verdantlabs/chatcore-go/client/connection"
	"github.com/verdantlabs/chatcore-go/core"
	"github.com/verdantlabs/chatcore-go/core/clock"
	"github.com/verdantlabs/chatcore-go/frame"
)

// SubscriptionConfig configures a Subscription.
type SubscriptionConfig struct {
	// Conn is the connection manager. Required.
	Conn Conn

	// RoomID is the room whose topic to subscribe. Required.
	RoomID string

	// OnMessage receives each decoded live message, in arrival order.
	// Required.
	OnMessage func(m core.Message)

	// Clock is the time source for timestamp fallbacks. Nil uses the
	// system clock.
	Clock *clock.Clock

	// Logger for subscription events. Falls back to slog.Default() if nil.
	Logger *slog.Logger
}

// Subscription binds one room to its live topic. If the connection is not
// up when Start is called, the subscribe is deferred and issued
// automatically on the next Connected transition; after that, the
// connection manager re-issues it on every reconnect until Release.
//
// At most one Subscription per room per session.
type Subscription struct {
	cfg   SubscriptionConfig
	subID string
	log   *slog.Logger

	mu         sync.Mutex
	subscribed bool
	released   bool
}

// NewSubscription creates a subscription for one room. Call Start to
// begin.
func NewSubscription(cfg SubscriptionConfig) *Subscription {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Subscription{
		cfg:   cfg,
		subID: "sub-" + uuid.NewString(),
		log:   logger.WithGroup("subscription"),
	}
}

// ID returns the STOMP subscription id.
func (s *Subscription) ID() string {
	return s.subID
}

// Start subscribes now if the connection is up, and arranges for the
// subscribe to fire on the next Connected transition otherwise.
func (s *Subscription) Start() {
	s.cfg.Conn.OnStateChange(func(st connection.State) {
		if st == connection.StateConnected {
			s.ensure()
		}
	})
	if s.cfg.Conn.State() == connection.StateConnected {
		s.ensure()
	}
}

// Active reports whether the topic is live right now: subscribed, not
// released, and the connection is in the Connected state.
func (s *Subscription) Active() bool {
	s.mu.Lock()
	subscribed, released := s.subscribed, s.released
	s.mu.Unlock()
	return subscribed && !released && s.cfg.Conn.State() == connection.StateConnected
}

// Release drops the subscription. Frame routing stops before the
// UNSUBSCRIBE frame goes out, so no message is forwarded afterward.
// Idempotent.
func (s *Subscription) Release() {
	s.mu.Lock()
	if s.released {
		s.mu.Unlock()
		return
	}
	s.released = true
	subscribed := s.subscribed
	s.mu.Unlock()

	if subscribed {
		if err := s.cfg.Conn.Unsubscribe(s.subID); err != nil {
			s.log.Debug("unsubscribe failed", "err", err)
		}
	}
}

// ensure issues the SUBSCRIBE once. The registration then lives in the
// connection manager, which replays it after every reconnect.
func (s *Subscription) ensure() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.released || s.subscribed {
		return
	}
	err := s.cfg.Conn.Subscribe(s.subID, frame.TopicDestination(s.cfg.RoomID), s.handleFrame)
	if err != nil {
		if errors.Is(err, connection.ErrNotConnected) {
			s.log.Debug("subscribe deferred until connected", "room", s.cfg.RoomID)
		} else {
			s.log.Warn("subscribe failed", "room", s.cfg.RoomID, "err", err)
		}
		return
	}
	s.subscribed = true
	s.log.Info("subscribed", "room", s.cfg.RoomID, "id", s.subID)
}

// handleFrame decodes one MESSAGE frame and forwards it. Malformed
// payloads are dropped and logged; they never crash the feed.
func (s *Subscription) handleFrame(f *frame.Frame) {
	s.mu.Lock()
	released := s.released
	s.mu.Unlock()
	if released {
		return
	}

	fallbackID := f.Header(frame.HdrMessageID)
	m, err := core.DecodeMessagePayload(f.Body, s.cfg.RoomID, fallbackID, s.cfg.Clock.Now())
	if err != nil {
		s.log.Warn("dropping undecodable message", "room", s.cfg.RoomID, "err", err)
		return
	}
	s.cfg.OnMessage(m)
}
