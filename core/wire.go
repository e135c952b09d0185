package core

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// MessagePayload is the JSON shape the broker broadcasts on room topics
// and the history endpoint returns per message:
//
//	{"message": "...", "sender": "u1", "senderNickname": "Ann",
//	 "timestamp": ..., "isSystemMessage": false}
//
// The id field is only present on persisted messages; live broadcasts may
// omit it, in which case the caller falls back to the frame's message-id
// header.
type MessagePayload struct {
	ID              string          `json:"id,omitempty"`
	Message         string          `json:"message"`
	Sender          string          `json:"sender"`
	SenderNickname  string          `json:"senderNickname,omitempty"`
	Timestamp       json.RawMessage `json:"timestamp,omitempty"`
	IsSystemMessage bool            `json:"isSystemMessage,omitempty"`
}

// DecodeMessagePayload parses one broadcast or history payload into a
// Message for the given room. fallbackID is used when the payload carries
// no id of its own; fallbackTime when it carries no usable timestamp.
func DecodeMessagePayload(data []byte, roomID, fallbackID string, fallbackTime time.Time) (Message, error) {
	var p MessagePayload
	if err := json.Unmarshal(data, &p); err != nil {
		return Message{}, fmt.Errorf("decoding message payload: %w", err)
	}
	return p.ToMessage(roomID, fallbackID, fallbackTime), nil
}

// ToMessage converts a decoded payload into a Message. Broadcasts are
// confirmed by definition, so the status is always Sent.
func (p MessagePayload) ToMessage(roomID, fallbackID string, fallbackTime time.Time) Message {
	id := p.ID
	if id == "" {
		id = fallbackID
	}
	ts, err := ParseWireTime(p.Timestamp)
	if err != nil {
		ts = fallbackTime
	}
	return Message{
		ID:         id,
		RoomID:     roomID,
		SenderID:   p.Sender,
		SenderName: p.SenderNickname,
		Body:       p.Message,
		SentAt:     ts,
		Status:     StatusSent,
		System:     p.IsSystemMessage,
	}
}

// OutgoingPayload is the JSON body published to a room's send destination.
type OutgoingPayload struct {
	Message string `json:"message"`
	Sender  string `json:"sender"`
}

// ErrNoTimestamp is returned by ParseWireTime for an absent or null
// timestamp field.
var ErrNoTimestamp = errors.New("no timestamp")

// ParseWireTime parses the broker's timestamp field, which appears either
// as an RFC 3339 string or as UNIX epoch milliseconds (epoch seconds are
// accepted for small values).
func ParseWireTime(raw json.RawMessage) (time.Time, error) {
	s := strings.TrimSpace(string(raw))
	if s == "" || s == "null" {
		return time.Time{}, ErrNoTimestamp
	}
	if strings.HasPrefix(s, "\"") {
		var v string
		if err := json.Unmarshal(raw, &v); err != nil {
			return time.Time{}, fmt.Errorf("parsing timestamp: %w", err)
		}
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return time.Time{}, fmt.Errorf("parsing timestamp %q: %w", v, err)
		}
		return t, nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing timestamp %q: %w", s, err)
	}
	// Heuristic cutover: epoch seconds stay below 1e11 until the year 5138.
	if n < 1e11 {
		return time.Unix(n, 0).UTC(), nil
	}
	return time.UnixMilli(n).UTC(), nil
}
