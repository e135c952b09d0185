package client

import (
	"context"
	"fmt"
	"sync"

	"github.com/verdantlabs/chatcore-go/client/connection"
	"github.com/verdantlabs/chatcore-go/core"
	"github.com/verdantlabs/chatcore-go/frame"
)

// fakeConn is an in-memory Conn for driving the room actors without a
// socket or a manager.
type fakeConn struct {
	mu           sync.Mutex
	state        connection.State
	observers    []func(connection.State)
	subs         map[string]func(*frame.Frame)
	sent         []*frame.Frame
	sendErr      error
	subErr       error
	connectErr   error
	disconnected bool
}

var _ Conn = (*fakeConn)(nil)

func newFakeConn(state connection.State) *fakeConn {
	return &fakeConn{state: state, subs: make(map[string]func(*frame.Frame))}
}

func (c *fakeConn) Connect(ctx context.Context) error { return c.connectErr }

func (c *fakeConn) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disconnected = true
	c.state = connection.StateDisconnected
	return nil
}

func (c *fakeConn) State() connection.State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *fakeConn) OnStateChange(fn func(connection.State)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.observers = append(c.observers, fn)
}

func (c *fakeConn) Subscribe(subID, destination string, h func(*frame.Frame)) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != connection.StateConnected {
		return connection.ErrNotConnected
	}
	if _, exists := c.subs[subID]; exists {
		return fmt.Errorf("subscription %q already exists", subID)
	}
	// A failed write registers nothing, like the manager.
	if c.subErr != nil {
		return c.subErr
	}
	c.subs[subID] = h
	c.sent = append(c.sent, frame.Subscribe(subID, destination))
	return nil
}

func (c *fakeConn) Unsubscribe(subID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.subs, subID)
	c.sent = append(c.sent, frame.Unsubscribe(subID))
	return nil
}

func (c *fakeConn) Send(f *frame.Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != connection.StateConnected {
		return connection.ErrNotConnected
	}
	if c.sendErr != nil {
		return c.sendErr
	}
	c.sent = append(c.sent, f)
	return nil
}

// setState flips the state and notifies observers, like the manager does.
func (c *fakeConn) setState(s connection.State) {
	c.mu.Lock()
	c.state = s
	obs := append([]func(connection.State){}, c.observers...)
	c.mu.Unlock()
	for _, fn := range obs {
		fn(s)
	}
}

// deliver routes one frame to a registered subscription handler.
func (c *fakeConn) deliver(subID string, f *frame.Frame) {
	c.mu.Lock()
	h := c.subs[subID]
	c.mu.Unlock()
	if h != nil {
		h(f)
	}
}

// sentCommands lists the commands written so far.
func (c *fakeConn) sentCommands() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []string
	for _, f := range c.sent {
		out = append(out, f.Command)
	}
	return out
}

// recordNotifier captures notices for assertions.
type recordNotifier struct {
	mu      sync.Mutex
	notices []Notice
}

func (n *recordNotifier) Notify(notice Notice) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notices = append(n.notices, notice)
}

func (n *recordNotifier) kinds() []NoticeKind {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []NoticeKind
	for _, notice := range n.notices {
		out = append(out, notice.Kind)
	}
	return out
}

// echoFrame builds the broadcast MESSAGE frame the broker would emit for
// a published message.
func echoFrame(subID, serverID, body, sender string) *frame.Frame {
	payload := fmt.Sprintf(`{"id":%q,"message":%q,"sender":%q,"timestamp":"2026-09-01T10:00:01Z"}`,
		serverID, body, sender)
	return &frame.Frame{
		Command: frame.CmdMessage,
		Headers: []frame.Header{
			{Key: frame.HdrSubscription, Value: subID},
			{Key: frame.HdrMessageID, Value: serverID},
		},
		Body: []byte(payload),
	}
}

// fakeAPI is an in-memory RoomAPI.
type fakeAPI struct {
	mu         sync.Mutex
	joinErr    error
	leaveErr   error
	history    []core.Message
	historyErr error
	joins      int
	leaves     int
}

func (a *fakeAPI) Join(ctx context.Context, roomID, userID string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.joins++
	return a.joinErr
}

func (a *fakeAPI) Leave(ctx context.Context, roomID, userID string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.leaves++
	return a.leaveErr
}

func (a *fakeAPI) History(ctx context.Context, roomID string) ([]core.Message, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.historyErr != nil {
		return nil, a.historyErr
	}
	return a.history, nil
}
