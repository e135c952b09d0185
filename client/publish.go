package client

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/verdantlabs/chatcore-go/core"
	"github.com/verdantlabs/chatcore-go/core/clock"
	"github.com/verdantlabs/chatcore-go/frame"
)

// DefaultRetryDelay is the fixed delay before the single publish retry.
const DefaultRetryDelay = time.Second

// PublisherConfig configures a Publisher.
type PublisherConfig struct {
	// Conn is the connection manager. Required.
	Conn Conn

	// Subscription gates sends: publishing before the room's topic is
	// live would miss the broadcast echo. Required.
	Subscription *Subscription

	// Store receives the optimistic Pending entry and the Failed
	// transition. Required.
	Store *Store

	// RoomID, SenderID, SenderName identify the outgoing messages.
	RoomID     string
	SenderID   string
	SenderName string

	// RetryDelay is the fixed delay before the single retry. Default: 1s.
	RetryDelay time.Duration

	// Clock is the timer source. Nil uses the system clock.
	Clock *clock.Clock

	// Logger for publish events. Falls back to slog.Default() if nil.
	Logger *slog.Logger

	// Notifier receives the terminal-failure notice. Nil falls back to a
	// LogNotifier.
	Notifier Notifier
}

// Publisher sends outgoing messages. Each send is optimistically added to
// the store as Pending before the write; if the connection is not ready
// or the write fails, exactly one retry runs after a fixed delay, and a
// second failure marks the entry Failed and raises a notice. The echo
// broadcast, not a write acknowledgment, is what resolves Pending to
// Sent.
type Publisher struct {
	cfg PublisherConfig
	log *slog.Logger

	mu     sync.Mutex
	timers map[string]*clock.Timer
	closed bool
}

// NewPublisher creates a publisher for one room session.
func NewPublisher(cfg PublisherConfig) *Publisher {
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = DefaultRetryDelay
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Notifier == nil {
		cfg.Notifier = NewLogNotifier(logger)
	}
	return &Publisher{
		cfg:    cfg,
		log:    logger.WithGroup("publish"),
		timers: make(map[string]*clock.Timer),
	}
}

// Send publishes body to the room and returns the provisional id of the
// optimistic feed entry.
func (p *Publisher) Send(body string) string {
	m := core.Message{
		ID:         core.NewProvisionalID(),
		RoomID:     p.cfg.RoomID,
		SenderID:   p.cfg.SenderID,
		SenderName: p.cfg.SenderName,
		Body:       body,
		SentAt:     p.cfg.Clock.Now(),
		Status:     core.StatusPending,
	}
	p.cfg.Store.AppendPending(m)

	if p.attempt(body) {
		return m.ID
	}
	p.scheduleRetry(m.ID, body)
	return m.ID
}

// attempt writes the SEND frame if the connection and subscription are
// ready. Reports success of the write, not delivery; delivery is the
// echo's job.
func (p *Publisher) attempt(body string) bool {
	if !p.cfg.Subscription.Active() {
		return false
	}
	payload, err := json.Marshal(core.OutgoingPayload{
		Message: body,
		Sender:  p.cfg.SenderID,
	})
	if err != nil {
		p.log.Error("marshaling outgoing payload", "err", err)
		return false
	}
	f := frame.Send(frame.SendDestination(p.cfg.RoomID), "application/json", payload)
	if err := p.cfg.Conn.Send(f); err != nil {
		p.log.Warn("publish write failed", "room", p.cfg.RoomID, "err", err)
		return false
	}
	return true
}

// scheduleRetry arms the single fixed-delay retry for one message.
func (p *Publisher) scheduleRetry(provisionalID, body string) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.timers[provisionalID] = p.cfg.Clock.AfterFunc(p.cfg.RetryDelay, func() {
		p.retry(provisionalID, body)
	})
	p.mu.Unlock()

	p.log.Debug("publish deferred, retry scheduled",
		"room", p.cfg.RoomID, "delay", p.cfg.RetryDelay)
}

func (p *Publisher) retry(provisionalID, body string) {
	p.mu.Lock()
	delete(p.timers, provisionalID)
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return
	}

	if p.attempt(body) {
		return
	}

	// Terminal: no further automatic attempts.
	p.cfg.Store.MarkFailed(provisionalID)
	p.cfg.Notifier.Notify(Notice{
		Kind:   NoticeMessageFailed,
		RoomID: p.cfg.RoomID,
		Text:   "message could not be sent",
	})
}

// Close cancels all pending retry timers. In-flight entries are left as
// they are; a closed session's store is frozen separately.
func (p *Publisher) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	for id, t := range p.timers {
		t.Stop()
		delete(p.timers, id)
	}
}
