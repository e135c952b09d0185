// Package client contains the stateful actors of a room session: the
// topic subscription, the message store merging history with the live
// stream, the publish queue, and the session orchestrating them.
package client

import (
	"context"

	"github.com/verdantlabs/chatcore-go/client/connection"
	"github.com/verdantlabs/chatcore-go/frame"
)

// Conn is the slice of the connection manager the room actors use.
// *connection.Manager satisfies it; tests substitute fakes.
type Conn interface {
	// Connect starts the connection. No-op when already started.
	Connect(ctx context.Context) error
	// Disconnect tears the connection down for good.
	Disconnect() error
	// State returns the live connection state.
	State() connection.State
	// OnStateChange registers a synchronous state observer.
	OnStateChange(fn func(connection.State))
	// Subscribe registers a frame handler for a subscription id and sends
	// the SUBSCRIBE frame. Returns connection.ErrNotConnected while the
	// session is not up.
	Subscribe(subID, destination string, h func(f *frame.Frame)) error
	// Unsubscribe releases a subscription.
	Unsubscribe(subID string) error
	// Send writes one frame while Connected.
	Send(f *frame.Frame) error
}

var _ Conn = (*connection.Manager)(nil)
