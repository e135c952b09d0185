// Package dedupe tracks recently seen server message ids.
//
// A reconnect replays the tail of a topic on some brokers, and a slow
// history fetch can overlap the live stream. The SeenIDs circular buffer
// lets the feed drop those replays without keeping every id for the whole
// session.
package dedupe

// DefaultCapacity is the default number of remembered ids. A room screen
// shows far fewer messages than this between reconnects.
const DefaultCapacity = 256

// SeenIDs is a fixed-capacity record of recently observed ids. Oldest
// entries are overwritten first. It is not safe for concurrent use; the
// message store serializes access.
type SeenIDs struct {
	ids  []string
	next int
}

// New creates a SeenIDs buffer with the default capacity.
func New() *SeenIDs {
	return NewWithCapacity(DefaultCapacity)
}

// NewWithCapacity creates a SeenIDs buffer remembering up to n ids.
func NewWithCapacity(n int) *SeenIDs {
	if n <= 0 {
		n = DefaultCapacity
	}
	return &SeenIDs{ids: make([]string, n)}
}

// Seen reports whether id has been observed before. If not, the id is
// recorded and false is returned. Empty ids are never recorded.
func (s *SeenIDs) Seen(id string) bool {
	if id == "" {
		return false
	}
	for _, v := range s.ids {
		if v == id {
			return true
		}
	}
	s.ids[s.next] = id
	s.next = (s.next + 1) % len(s.ids)
	return false
}

// Clear forgets all previously seen ids.
func (s *SeenIDs) Clear() {
	clear(s.ids)
	s.next = 0
}
