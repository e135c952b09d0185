// Package transport defines the interface between the connection manager
// and the socket carrying STOMP frames to the broker.
package transport

import (
	"context"

	"github.com/verdantlabs/chatcore-go/frame"
)

// Transport is one persistent socket to the broker. Implementations must
// be restartable: after a read failure or Stop, a new Start opens a fresh
// socket.
type Transport interface {
	// Start opens the socket and begins delivering frames. The provided
	// context bounds the dial and the read loop's lifetime.
	Start(ctx context.Context) error
	// Stop closes the socket and waits for the read loop to end. No frames
	// are delivered after Stop returns.
	Stop() error
	// IsConnected returns true while the socket is open.
	IsConnected() bool
	// SetFrameHandler sets the callback for incoming frames. Frames are
	// delivered one at a time from a single goroutine, in arrival order.
	SetFrameHandler(fn FrameHandler)
	// SetStateHandler sets the callback for socket state changes.
	SetStateHandler(fn StateHandler)
	// SendFrame writes one frame to the socket.
	SendFrame(f *frame.Frame) error
}

// FrameHandler is called for each incoming frame.
type FrameHandler func(f *frame.Frame)

// StateHandler is called when the socket state changes.
type StateHandler func(t Transport, event Event)

// Event represents socket state change events.
type Event int

const (
	// EventConnected is fired when the socket opens.
	EventConnected Event = iota
	// EventDisconnected is fired when the socket closes, cleanly or not.
	EventDisconnected
	// EventError is fired for a socket-level error that did not close the
	// connection.
	EventError
)

func (e Event) String() string {
	switch e {
	case EventConnected:
		return "connected"
	case EventDisconnected:
		return "disconnected"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}
