// Package core defines the shared value types for the room messaging
// client: messages, rooms, participants, and delivery status.
//
// Nothing here talks to the network. The stateful actors live under
// client/ and rest/; this package is what they exchange.
package core

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// DeliveryStatus tracks an outgoing message's progress toward the broker.
// Incoming broadcasts are always Sent: a message the broker delivered has
// by definition been accepted.
type DeliveryStatus int

const (
	// StatusPending means the message has been displayed optimistically
	// but its broadcast echo has not been observed yet.
	StatusPending DeliveryStatus = iota
	// StatusSent means the message was confirmed by the broker, either as
	// an incoming broadcast or as the echo of our own publish.
	StatusSent
	// StatusFailed means the publish attempt and its single retry both
	// failed. The entry stays in the feed for a manual resend.
	StatusFailed
)

func (s DeliveryStatus) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusSent:
		return "sent"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Message is one entry in a room's feed.
type Message struct {
	// ID is the server-issued identifier when known, or a provisional id
	// generated locally for an optimistic entry.
	ID string
	// RoomID is the room this message belongs to.
	RoomID string
	// SenderID identifies the sending user.
	SenderID string
	// SenderName is the sender's display name, if the broker relayed one.
	SenderName string
	// Body is the message text.
	Body string
	// SentAt is the message timestamp: the server timestamp for confirmed
	// messages, the local clock for provisional ones.
	SentAt time.Time
	// Status is the delivery status. Only self-sent messages ever hold
	// StatusPending or StatusFailed.
	Status DeliveryStatus
	// System marks membership notices (joins, leaves) relayed by the
	// broker. System messages participate in feed ordering but carry no
	// sender identity worth rendering.
	System bool
}

// Provisional reports whether the message still carries a locally
// generated id.
func (m Message) Provisional() bool {
	return IsProvisionalID(m.ID)
}

// provisionalPrefix marks locally generated message ids. The server never
// issues ids with this prefix.
const provisionalPrefix = "local-"

// NewProvisionalID generates a placeholder id for an optimistically
// displayed outgoing message.
func NewProvisionalID() string {
	return provisionalPrefix + uuid.NewString()
}

// IsProvisionalID reports whether id was generated by NewProvisionalID.
func IsProvisionalID(id string) bool {
	return strings.HasPrefix(id, provisionalPrefix)
}

// Room describes a chat room as reported by the collaborator API.
// Membership is server-authoritative; the client only requests join and
// leave.
type Room struct {
	ID          string
	Name        string
	Description string
	MaxMembers  int
	MemberCount int
}

// Full reports whether the room has reached its member limit. The server
// enforces capacity; this is only a hint for the room list UI.
func (r Room) Full() bool {
	return r.MaxMembers > 0 && r.MemberCount >= r.MaxMembers
}

// Participant is one member of a room's membership snapshot.
type Participant struct {
	ID       string
	Nickname string
}
