package client

import "log/slog"

// NoticeKind classifies user-visible failure notices.
type NoticeKind int

const (
	// NoticeJoinFailed means the join request was rejected; the session
	// never became active.
	NoticeJoinFailed NoticeKind = iota
	// NoticeHistoryUnavailable means the history fetch failed; the feed
	// continues with live messages only.
	NoticeHistoryUnavailable
	// NoticeMessageFailed means a publish and its single retry both
	// failed; the entry stays in the feed as Failed.
	NoticeMessageFailed
)

func (k NoticeKind) String() string {
	switch k {
	case NoticeJoinFailed:
		return "join-failed"
	case NoticeHistoryUnavailable:
		return "history-unavailable"
	case NoticeMessageFailed:
		return "message-failed"
	default:
		return "unknown"
	}
}

// Notice is one user-visible failure. The presentation layer decides how
// to surface it; core components only emit.
type Notice struct {
	Kind   NoticeKind
	RoomID string
	Text   string
	Err    error
}

// Notifier receives user-visible failure notices. Implementations must
// not block; they are called from session and timer goroutines.
type Notifier interface {
	Notify(n Notice)
}

// LogNotifier is the default sink: it logs notices and nothing else.
type LogNotifier struct {
	log *slog.Logger
}

// NewLogNotifier creates a LogNotifier. A nil logger falls back to
// slog.Default().
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{log: logger.WithGroup("notice")}
}

func (n *LogNotifier) Notify(notice Notice) {
	n.log.Warn(notice.Text,
		"kind", notice.Kind.String(),
		"room", notice.RoomID,
		"err", notice.Err)
}
