package client

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/verdantlabs/chatcore-go/client/connection"
	"github.com/verdantlabs/chatcore-go/core"
	"github.com/verdantlabs/chatcore-go/core/clock"
	"github.com/verdantlabs/chatcore-go/frame"
)

var pubStart = time.Date(2026, 9, 1, 10, 0, 0, 0, time.UTC)

type pubFixture struct {
	conn     *fakeConn
	clk      *clock.Clock
	store    *Store
	sub      *Subscription
	pub      *Publisher
	notifier *recordNotifier
}

func newPubFixture(state connection.State) *pubFixture {
	fc := newFakeConn(state)
	clk := clock.NewManual(pubStart)
	store := NewStore("r1", StoreConfig{SelfID: "me", Clock: clk})
	sub := NewSubscription(SubscriptionConfig{
		Conn:      fc,
		RoomID:    "r1",
		OnMessage: store.AppendLive,
		Clock:     clk,
	})
	sub.Start()
	notifier := &recordNotifier{}
	pub := NewPublisher(PublisherConfig{
		Conn:         fc,
		Subscription: sub,
		Store:        store,
		RoomID:       "r1",
		SenderID:     "me",
		SenderName:   "Me",
		Clock:        clk,
		Notifier:     notifier,
	})
	return &pubFixture{conn: fc, clk: clk, store: store, sub: sub, pub: pub, notifier: notifier}
}

func (f *pubFixture) sendFrames() []*frame.Frame {
	f.conn.mu.Lock()
	defer f.conn.mu.Unlock()
	var out []*frame.Frame
	for _, fr := range f.conn.sent {
		if fr.Command == frame.CmdSend {
			out = append(out, fr)
		}
	}
	return out
}

func TestSend_Connected_WritesImmediately(t *testing.T) {
	f := newPubFixture(connection.StateConnected)

	pid := f.pub.Send("hi")
	if !core.IsProvisionalID(pid) {
		t.Errorf("Send returned %q, want a provisional id", pid)
	}

	feed := f.store.Feed()
	if len(feed) != 1 || feed[0].Status != core.StatusPending {
		t.Fatalf("feed = %+v, want one pending entry", feed)
	}
	if feed[0].Body != "hi" || feed[0].SenderID != "me" {
		t.Errorf("pending entry = %+v", feed[0])
	}

	sends := f.sendFrames()
	if len(sends) != 1 {
		t.Fatalf("SEND frames = %d, want 1", len(sends))
	}
	if dest := sends[0].Header(frame.HdrDestination); dest != "/app/chat/r1" {
		t.Errorf("destination = %q, want /app/chat/r1", dest)
	}
	var payload core.OutgoingPayload
	if err := json.Unmarshal(sends[0].Body, &payload); err != nil {
		t.Fatalf("body not JSON: %v", err)
	}
	if payload.Message != "hi" || payload.Sender != "me" {
		t.Errorf("payload = %+v", payload)
	}
}

func TestSend_EchoResolvesPending(t *testing.T) {
	f := newPubFixture(connection.StateConnected)
	f.pub.Send("hi")

	f.conn.deliver(f.sub.ID(), echoFrame(f.sub.ID(), "m1", "hi", "me"))

	feed := f.store.Feed()
	if len(feed) != 1 {
		t.Fatalf("Len = %d, want 1 (echo replaces, not appends)", len(feed))
	}
	if feed[0].ID != "m1" || feed[0].Status != core.StatusSent {
		t.Errorf("entry = %+v, want m1/sent", feed[0])
	}
	if len(f.notifier.kinds()) != 0 {
		t.Errorf("unexpected notices: %v", f.notifier.kinds())
	}
}

func TestSend_Disconnected_SingleRetryThenFailed(t *testing.T) {
	f := newPubFixture(connection.StateDisconnected)

	pid := f.pub.Send("hi")

	// Optimistic entry exists even though nothing was written.
	feed := f.store.Feed()
	if len(feed) != 1 || feed[0].Status != core.StatusPending {
		t.Fatalf("feed = %+v, want one pending entry", feed)
	}
	if len(f.sendFrames()) != 0 {
		t.Fatal("frame written while disconnected")
	}

	// Still down when the retry fires: terminal failure.
	f.clk.Advance(DefaultRetryDelay)
	feed = f.store.Feed()
	if feed[0].Status != core.StatusFailed {
		t.Fatalf("status after retry = %v, want failed", feed[0].Status)
	}
	if feed[0].ID != pid {
		t.Errorf("failed entry id = %q, want the provisional id", feed[0].ID)
	}
	if kinds := f.notifier.kinds(); len(kinds) != 1 || kinds[0] != NoticeMessageFailed {
		t.Errorf("notices = %v, want [message-failed]", kinds)
	}

	// No further automatic attempts.
	f.clk.Advance(time.Minute)
	if len(f.sendFrames()) != 0 {
		t.Error("a frame went out after the terminal failure")
	}
	if len(f.notifier.kinds()) != 1 {
		t.Errorf("extra notices: %v", f.notifier.kinds())
	}
}

func TestSend_RetrySucceedsAfterReconnect(t *testing.T) {
	f := newPubFixture(connection.StateReconnecting)

	f.pub.Send("hi")
	if len(f.sendFrames()) != 0 {
		t.Fatal("frame written while reconnecting")
	}

	// Connection comes back before the retry fires; the subscription
	// reactivates on the Connected transition.
	f.conn.setState(connection.StateConnected)
	f.clk.Advance(DefaultRetryDelay)

	if len(f.sendFrames()) != 1 {
		t.Fatalf("SEND frames = %d, want 1 from the retry", len(f.sendFrames()))
	}
	if f.store.Feed()[0].Status != core.StatusPending {
		t.Errorf("status = %v, want still pending until the echo", f.store.Feed()[0].Status)
	}
	if len(f.notifier.kinds()) != 0 {
		t.Errorf("unexpected notices: %v", f.notifier.kinds())
	}
}

func TestSend_RecoversAfterFailedSubscribe(t *testing.T) {
	f := newPubFixture(connection.StateConnecting)

	// The SUBSCRIBE write fails on the first Connected transition.
	f.conn.mu.Lock()
	f.conn.subErr = errors.New("write: broken pipe")
	f.conn.mu.Unlock()
	f.conn.setState(connection.StateConnected)
	if f.sub.Active() {
		t.Fatal("subscription should not be active after a failed SUBSCRIBE write")
	}

	// A send while the topic is down stays pending, nothing written.
	f.pub.Send("hi")
	if len(f.sendFrames()) != 0 {
		t.Fatal("frame written without a live subscription")
	}

	// Drop and reconnect: the subscribe retry lands, then the publish
	// retry goes out and the echo resolves it.
	f.conn.mu.Lock()
	f.conn.subErr = nil
	f.conn.mu.Unlock()
	f.conn.setState(connection.StateReconnecting)
	f.conn.setState(connection.StateConnected)
	if !f.sub.Active() {
		t.Fatal("subscription should recover on reconnect")
	}

	f.clk.Advance(DefaultRetryDelay)
	if len(f.sendFrames()) != 1 {
		t.Fatalf("SEND frames = %d, want 1 from the retry", len(f.sendFrames()))
	}
	f.conn.deliver(f.sub.ID(), echoFrame(f.sub.ID(), "m1", "hi", "me"))
	feed := f.store.Feed()
	if len(feed) != 1 || feed[0].Status != core.StatusSent {
		t.Fatalf("feed = %+v, want one sent entry", feed)
	}
	if len(f.notifier.kinds()) != 0 {
		t.Errorf("unexpected notices: %v", f.notifier.kinds())
	}
}

func TestSend_WriteError_RetriesOnce(t *testing.T) {
	f := newPubFixture(connection.StateConnected)
	f.conn.sendErr = connection.ErrNotConnected

	f.pub.Send("hi")
	// Connection heals before the retry.
	f.conn.mu.Lock()
	f.conn.sendErr = nil
	f.conn.mu.Unlock()

	f.clk.Advance(DefaultRetryDelay)
	if len(f.sendFrames()) != 1 {
		t.Fatalf("SEND frames = %d, want 1", len(f.sendFrames()))
	}
}

func TestPublisher_Close_CancelsRetries(t *testing.T) {
	f := newPubFixture(connection.StateDisconnected)
	f.pub.Send("hi")

	f.pub.Close()
	f.clk.Advance(time.Minute)

	// The retry never fired: no Failed transition, no notice.
	if st := f.store.Feed()[0].Status; st != core.StatusPending {
		t.Errorf("status = %v, want pending (retry cancelled)", st)
	}
	if len(f.notifier.kinds()) != 0 {
		t.Errorf("notices after Close: %v", f.notifier.kinds())
	}
}
