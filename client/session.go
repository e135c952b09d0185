package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/verdantlabs/chatcore-go/core"
	"github.com/verdantlabs/chatcore-go/core/clock"
)

// leaveTimeout bounds the best-effort leave call during Close.
const leaveTimeout = 5 * time.Second

var (
	// ErrSessionClosed is returned by operations on a closed session.
	ErrSessionClosed = errors.New("session closed")

	// ErrAlreadyOpen is returned by a second Open on the same session.
	ErrAlreadyOpen = errors.New("session already open")
)

// RoomAPI is the slice of the collaborator REST API a session uses.
// *rest.Client satisfies it.
type RoomAPI interface {
	// Join requests room membership. Returns rest.ErrRoomFull (wrapped)
	// when the room is at capacity.
	Join(ctx context.Context, roomID, userID string) error
	// Leave releases room membership.
	Leave(ctx context.Context, roomID, userID string) error
	// History fetches the room's persisted messages, oldest first.
	History(ctx context.Context, roomID string) ([]core.Message, error)
}

// SessionConfig configures a Session.
type SessionConfig struct {
	// API is the collaborator REST client. Required.
	API RoomAPI

	// Conn is the connection manager. Required.
	Conn Conn

	// UserID and Nickname identify the local user.
	UserID   string
	Nickname string

	// OwnsConnection makes Close disconnect the manager. Leave it false
	// when the connection outlives the room screen.
	OwnsConnection bool

	// EchoWindow overrides the store's echo-match window.
	EchoWindow time.Duration

	// RetryDelay overrides the publisher's retry delay.
	RetryDelay time.Duration

	// Clock is the time source. Nil uses the system clock.
	Clock *clock.Clock

	// Logger for session events. Falls back to slog.Default() if nil.
	Logger *slog.Logger

	// Notifier receives user-visible failure notices. Nil falls back to a
	// LogNotifier.
	Notifier Notifier
}

// Session is the bounded lifetime of one open room screen: join, connect,
// subscribe and load history in parallel, stream, leave. It exposes the
// merged feed and Send to the presentation layer.
type Session struct {
	cfg    SessionConfig
	roomID string
	log    *slog.Logger

	store *Store
	sub   *Subscription
	pub   *Publisher

	mu     sync.Mutex
	opened bool
	joined bool
	closed bool
}

// NewSession creates a session for one room. Call Open to activate it.
func NewSession(roomID string, cfg SessionConfig) *Session {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Notifier == nil {
		cfg.Notifier = NewLogNotifier(logger)
	}

	store := NewStore(roomID, StoreConfig{
		SelfID:     cfg.UserID,
		EchoWindow: cfg.EchoWindow,
		Clock:      cfg.Clock,
		Logger:     logger,
	})
	sub := NewSubscription(SubscriptionConfig{
		Conn:      cfg.Conn,
		RoomID:    roomID,
		OnMessage: store.AppendLive,
		Clock:     cfg.Clock,
		Logger:    logger,
	})
	pub := NewPublisher(PublisherConfig{
		Conn:         cfg.Conn,
		Subscription: sub,
		Store:        store,
		RoomID:       roomID,
		SenderID:     cfg.UserID,
		SenderName:   cfg.Nickname,
		RetryDelay:   cfg.RetryDelay,
		Clock:        cfg.Clock,
		Logger:       logger,
		Notifier:     cfg.Notifier,
	})

	return &Session{
		cfg:    cfg,
		roomID: roomID,
		log:    logger.WithGroup("session"),
		store:  store,
		sub:    sub,
		pub:    pub,
	}
}

// Open activates the session. The join call must succeed first; a full
// room or unreachable server is terminal for the attempt and the session
// stays inactive. After the join, the connection, the topic subscription,
// and the history fetch proceed in parallel; a history failure is
// non-fatal and leaves the feed live-only.
func (s *Session) Open(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	if s.opened {
		s.mu.Unlock()
		return ErrAlreadyOpen
	}
	s.opened = true
	s.mu.Unlock()

	if err := s.cfg.API.Join(ctx, s.roomID, s.cfg.UserID); err != nil {
		s.cfg.Notifier.Notify(Notice{
			Kind:   NoticeJoinFailed,
			RoomID: s.roomID,
			Text:   "could not join room",
			Err:    err,
		})
		return fmt.Errorf("joining room %s: %w", s.roomID, err)
	}
	s.mu.Lock()
	s.joined = true
	s.mu.Unlock()

	if err := s.cfg.Conn.Connect(ctx); err != nil {
		return fmt.Errorf("connecting: %w", err)
	}
	s.sub.Start()
	go s.loadHistory(ctx)

	s.log.Info("session open", "room", s.roomID)
	return nil
}

// loadHistory is the one-shot history fetch: single attempt, no retry,
// concurrent with the live subscription.
func (s *Session) loadHistory(ctx context.Context) {
	msgs, err := s.cfg.API.History(ctx, s.roomID)
	if err != nil {
		s.log.Warn("history fetch failed", "room", s.roomID, "err", err)
		s.cfg.Notifier.Notify(Notice{
			Kind:   NoticeHistoryUnavailable,
			RoomID: s.roomID,
			Text:   "older messages are unavailable",
			Err:    err,
		})
		return
	}
	s.store.SetHistory(msgs)
}

// Send publishes body to the room and returns the provisional id of the
// optimistic feed entry.
func (s *Session) Send(body string) (string, error) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return "", ErrSessionClosed
	}
	return s.pub.Send(body), nil
}

// Feed returns the current merged, ordered feed.
func (s *Session) Feed() []core.Message {
	return s.store.Feed()
}

// OnFeedChange registers an observer called after every feed mutation.
func (s *Session) OnFeedChange(fn func()) {
	s.store.OnChange(fn)
}

// Close ends the session: the subscription is released, pending retry
// timers cancelled, and the store frozen before anything else, so
// in-flight events for this room can no longer mutate the feed. The leave
// call is best effort. Idempotent.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	joined := s.joined
	s.mu.Unlock()

	s.sub.Release()
	s.pub.Close()
	s.store.Close()

	if joined {
		ctx, cancel := context.WithTimeout(context.Background(), leaveTimeout)
		defer cancel()
		if err := s.cfg.API.Leave(ctx, s.roomID, s.cfg.UserID); err != nil {
			s.log.Warn("leave failed", "room", s.roomID, "err", err)
		}
	}

	var err error
	if s.cfg.OwnsConnection {
		err = s.cfg.Conn.Disconnect()
	}
	s.log.Info("session closed", "room", s.roomID)
	return err
}
