package ws

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/verdantlabs/chatcore-go/frame"
	"github.com/verdantlabs/chatcore-go/transport"
)

func TestEndpointFromAPI(t *testing.T) {
	cases := []struct {
		base string
		want string
	}{
		{"https://api.example.com", "wss://api.example.com/ws"},
		{"http://localhost:8080", "ws://localhost:8080/ws"},
		{"https://api.example.com/v1/", "wss://api.example.com/v1/ws"},
		{"wss://api.example.com", "wss://api.example.com/ws"},
	}
	for _, c := range cases {
		got, err := EndpointFromAPI(c.base)
		if err != nil {
			t.Errorf("EndpointFromAPI(%q) error = %v", c.base, err)
			continue
		}
		if got != c.want {
			t.Errorf("EndpointFromAPI(%q) = %q, want %q", c.base, got, c.want)
		}
	}
}

func TestEndpointFromAPI_BadScheme(t *testing.T) {
	if _, err := EndpointFromAPI("ftp://example.com"); err == nil {
		t.Error("expected error for unsupported scheme")
	}
}

func TestNew_Defaults(t *testing.T) {
	tr := New(Config{URL: "wss://example.com/ws"})
	if tr.cfg.HandshakeTimeout != DefaultHandshakeTimeout {
		t.Errorf("HandshakeTimeout = %v, want default", tr.cfg.HandshakeTimeout)
	}
	if tr.cfg.WriteTimeout != DefaultWriteTimeout {
		t.Errorf("WriteTimeout = %v, want default", tr.cfg.WriteTimeout)
	}
	if tr.log == nil {
		t.Error("expected logger to be set")
	}
}

func TestStart_MissingURL(t *testing.T) {
	tr := New(Config{})
	if err := tr.Start(context.Background()); err == nil {
		t.Fatal("expected error with empty URL")
	}
}

func TestSendFrame_NotConnected(t *testing.T) {
	tr := New(Config{URL: "wss://example.com/ws"})
	if err := tr.SendFrame(frame.Connect("/")); err == nil {
		t.Fatal("expected error when not connected")
	}
}

// echoServer upgrades the connection and forwards every received message
// back to the test through recv, then serves frames pushed via send.
func echoServer(t *testing.T, recv chan []byte, send chan []byte) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer conn.Close()
		go func() {
			for data := range send {
				if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
					return
				}
			}
		}()
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			recv <- data
		}
	}))
}

func TestTransport_Loopback(t *testing.T) {
	recv := make(chan []byte, 8)
	send := make(chan []byte, 8)
	srv := echoServer(t, recv, send)
	defer srv.Close()
	defer close(send)

	frames := make(chan *frame.Frame, 8)
	events := make(chan transport.Event, 8)

	tr := New(Config{URL: "ws" + strings.TrimPrefix(srv.URL, "http")})
	tr.SetFrameHandler(func(f *frame.Frame) { frames <- f })
	tr.SetStateHandler(func(_ transport.Transport, ev transport.Event) { events <- ev })

	if err := tr.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if ev := waitEvent(t, events); ev != transport.EventConnected {
		t.Fatalf("first event = %v, want connected", ev)
	}
	if !tr.IsConnected() {
		t.Error("IsConnected() = false after Start")
	}

	// Client → server.
	if err := tr.SendFrame(frame.Connect("example.com")); err != nil {
		t.Fatalf("SendFrame() error = %v", err)
	}
	select {
	case data := <-recv:
		f, err := frame.Parse(data)
		if err != nil {
			t.Fatalf("server received unparseable frame: %v", err)
		}
		if f.Command != frame.CmdConnect {
			t.Errorf("server received %q, want CONNECT", f.Command)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("server never received the frame")
	}

	// Server → client.
	send <- frame.Marshal(&frame.Frame{Command: frame.CmdConnected})
	select {
	case f := <-frames:
		if f.Command != frame.CmdConnected {
			t.Errorf("received %q, want CONNECTED", f.Command)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("client never received the frame")
	}

	// Heartbeats and malformed frames are dropped, not delivered.
	send <- []byte("\n")
	send <- []byte("MESSAGE\nbroken header\n\nx\x00")

	if err := tr.Stop(); err != nil {
		t.Errorf("Stop() error = %v", err)
	}
	if ev := waitEvent(t, events); ev != transport.EventDisconnected {
		t.Fatalf("event after Stop = %v, want disconnected", ev)
	}
	if tr.IsConnected() {
		t.Error("IsConnected() = true after Stop")
	}
	select {
	case f := <-frames:
		t.Errorf("unexpected frame delivered: %+v", f)
	default:
	}
}

func TestTransport_ServerClose_FiresDisconnected(t *testing.T) {
	events := make(chan transport.Event, 8)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		upgrader := websocket.Upgrader{}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		conn.Close()
	}))
	defer srv.Close()

	tr := New(Config{URL: "ws" + strings.TrimPrefix(srv.URL, "http")})
	tr.SetStateHandler(func(_ transport.Transport, ev transport.Event) { events <- ev })

	if err := tr.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if ev := waitEvent(t, events); ev != transport.EventConnected {
		t.Fatalf("first event = %v, want connected", ev)
	}
	if ev := waitEvent(t, events); ev != transport.EventDisconnected {
		t.Fatalf("second event = %v, want disconnected", ev)
	}

	// Restartable: a new Start dials a fresh socket.
	if err := tr.Start(context.Background()); err != nil {
		t.Fatalf("restart error = %v", err)
	}
	if ev := waitEvent(t, events); ev != transport.EventConnected {
		t.Fatalf("event after restart = %v, want connected", ev)
	}
}

func waitEvent(t *testing.T, events chan transport.Event) transport.Event {
	t.Helper()
	select {
	case ev := <-events:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for transport event")
		return -1
	}
}
