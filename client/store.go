package client

import (
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/verdantlabs/chatcore-go/core"
	"github.com/verdantlabs/chatcore-go/core/clock"
	"github.com/verdantlabs/chatcore-go/core/dedupe"
)

// DefaultEchoWindow is how far back a broadcast may match a pending
// provisional entry from the same sender with the same body. The wire
// format carries no client correlation id, so the echo is matched by
// this heuristic.
const DefaultEchoWindow = 10 * time.Second

// StoreConfig configures a Store.
type StoreConfig struct {
	// SelfID is the local user id, used to recognize our own echoes.
	SelfID string

	// EchoWindow bounds the provisional-match heuristic. Default: 10s.
	EchoWindow time.Duration

	// Clock is the time source. Nil uses the system clock.
	Clock *clock.Clock

	// Logger for store events. Falls back to slog.Default() if nil.
	Logger *slog.Logger
}

// Store merges a room's persisted history with its live event stream into
// one deduplicated, time-ordered feed, and tracks per-message delivery
// status.
//
// History is prepended as a block exactly once; live messages append in
// arrival order. A live message whose id was already seen is dropped. A
// live message matching a pending provisional entry replaces it in place,
// resolving Pending to Sent without changing the feed length or the
// entry's position.
type Store struct {
	cfg    StoreConfig
	roomID string
	log    *slog.Logger

	mu         sync.Mutex
	msgs       []core.Message
	seen       *dedupe.SeenIDs
	historySet bool
	closed     bool
	observers  []func()
}

// NewStore creates a store for one room session.
func NewStore(roomID string, cfg StoreConfig) *Store {
	if cfg.EchoWindow <= 0 {
		cfg.EchoWindow = DefaultEchoWindow
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		cfg:    cfg,
		roomID: roomID,
		log:    logger.WithGroup("store"),
		seen:   dedupe.New(),
	}
}

// OnChange registers an observer called after every feed mutation.
func (s *Store) OnChange(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observers = append(s.observers, fn)
}

// Feed returns a copy of the ordered feed.
func (s *Store) Feed() []core.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.msgs)
}

// Len returns the current feed length.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.msgs)
}

// SetHistory installs the server-ordered history block ahead of any live
// messages that already arrived. It applies once per room open; a second
// call is a no-op. Live entries whose ids appear in the history are
// dropped as duplicates, and a pending provisional whose persisted copy
// is already in the history block is resolved by that copy (a send can
// race a slow history fetch, and the later echo is then dropped by the
// seen buffer).
func (s *Store) SetHistory(history []core.Message) {
	s.mu.Lock()
	if s.closed || s.historySet {
		s.mu.Unlock()
		return
	}
	s.historySet = true

	ids := make(map[string]struct{}, len(history))
	for _, m := range history {
		if m.ID != "" {
			ids[m.ID] = struct{}{}
			s.seen.Seen(m.ID)
		}
	}

	claimed := make(map[int]bool)
	merged := make([]core.Message, 0, len(history)+len(s.msgs))
	merged = append(merged, history...)
	for _, m := range s.msgs {
		if _, dup := ids[m.ID]; dup {
			continue
		}
		if i := s.matchHistoryEchoLocked(history, claimed, m); i >= 0 {
			claimed[i] = true
			continue
		}
		merged = append(merged, m)
	}
	s.msgs = merged
	s.mu.Unlock()

	s.notify()
}

// AppendLive appends one live broadcast to the feed. Duplicate server ids
// are dropped; an echo of a pending provisional entry replaces it in
// place.
func (s *Store) AppendLive(m core.Message) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	if m.ID != "" && !core.IsProvisionalID(m.ID) && s.seen.Seen(m.ID) {
		s.mu.Unlock()
		return
	}
	m.Status = core.StatusSent

	if i := s.matchProvisionalLocked(m); i >= 0 {
		// Replacement preserves the entry's position in the feed.
		s.msgs[i] = m
	} else {
		s.msgs = append(s.msgs, m)
	}
	s.mu.Unlock()

	s.notify()
}

// AppendPending adds an optimistic local echo for an outgoing message.
// The entry enters the feed immediately with StatusPending and a
// provisional id.
func (s *Store) AppendPending(m core.Message) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	m.Status = core.StatusPending
	s.msgs = append(s.msgs, m)
	s.mu.Unlock()

	s.notify()
}

// MarkFailed transitions the provisional entry with the given id from
// Pending to Failed. The entry is never removed; the user resends
// manually.
func (s *Store) MarkFailed(provisionalID string) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	changed := false
	for i := range s.msgs {
		if s.msgs[i].ID == provisionalID && s.msgs[i].Status == core.StatusPending {
			s.msgs[i].Status = core.StatusFailed
			changed = true
			break
		}
	}
	s.mu.Unlock()

	if changed {
		s.notify()
	}
}

// Close freezes the store. Every later mutation is a no-op, so a stale
// session can never touch the feed of a room the user has left.
func (s *Store) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}

// matchProvisionalLocked finds a pending provisional entry that m is the
// echo of: same sender, same body, not a system message, sent within the
// echo window. Returns the index or -1.
func (s *Store) matchProvisionalLocked(m core.Message) int {
	if m.System || m.SenderID == "" || m.SenderID != s.cfg.SelfID {
		return -1
	}
	now := s.cfg.Clock.Now()
	for i := range s.msgs {
		e := &s.msgs[i]
		if e.Status != core.StatusPending || !e.Provisional() {
			continue
		}
		if e.SenderID != m.SenderID || e.Body != m.Body {
			continue
		}
		if now.Sub(e.SentAt) > s.cfg.EchoWindow {
			continue
		}
		return i
	}
	return -1
}

// matchHistoryEchoLocked finds the history entry that is the persisted
// copy of the pending provisional m: same sender, same body, not yet
// claimed by another provisional, with m still inside the echo window.
// Returns the history index or -1.
func (s *Store) matchHistoryEchoLocked(history []core.Message, claimed map[int]bool, m core.Message) int {
	if m.Status != core.StatusPending || !m.Provisional() {
		return -1
	}
	if m.SenderID == "" || m.SenderID != s.cfg.SelfID {
		return -1
	}
	if s.cfg.Clock.Now().Sub(m.SentAt) > s.cfg.EchoWindow {
		return -1
	}
	for i := range history {
		h := &history[i]
		if claimed[i] || h.System {
			continue
		}
		if h.SenderID == m.SenderID && h.Body == m.Body {
			return i
		}
	}
	return -1
}

func (s *Store) notify() {
	s.mu.Lock()
	obs := slices.Clone(s.observers)
	s.mu.Unlock()
	for _, fn := range obs {
		fn()
	}
}
