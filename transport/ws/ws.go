// Package ws provides the websocket transport for the STOMP broker.
//
// The broker endpoint is the collaborator API's host with the scheme
// swapped to ws/wss and the path suffixed with /ws. Each websocket
// message carries exactly one STOMP frame.
package ws

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/verdantlabs/chatcore-go/frame"
	"github.com/verdantlabs/chatcore-go/transport"
)

// Compile-time interface check.
var _ transport.Transport = (*Transport)(nil)

const (
	// DefaultHandshakeTimeout bounds the websocket dial.
	DefaultHandshakeTimeout = 10 * time.Second

	// DefaultWriteTimeout bounds each frame write.
	DefaultWriteTimeout = 10 * time.Second
)

// Config holds the configuration for a websocket transport.
type Config struct {
	// URL is the broker endpoint (e.g. "wss://api.example.com/ws").
	// See EndpointFromAPI for deriving it from the REST base URL.
	URL string
	// Header carries extra HTTP headers for the upgrade request, such as
	// an authorization token. May be nil.
	Header http.Header
	// HandshakeTimeout bounds the dial. Default: 10 seconds.
	HandshakeTimeout time.Duration
	// WriteTimeout bounds each frame write. Default: 10 seconds.
	WriteTimeout time.Duration
	// Logger is the logger to use. If nil, slog.Default() is used.
	Logger *slog.Logger
}

// Transport implements transport.Transport over a websocket.
type Transport struct {
	cfg Config
	log *slog.Logger

	mu           sync.RWMutex
	conn         *websocket.Conn
	connected    bool
	stopping     bool
	done         chan struct{}
	frameHandler transport.FrameHandler
	stateHandler transport.StateHandler
	writeMu      sync.Mutex
}

// New creates a new websocket transport with the given configuration.
func New(cfg Config) *Transport {
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = DefaultWriteTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Transport{
		cfg: cfg,
		log: cfg.Logger.WithGroup("ws"),
	}
}

// Start dials the broker and begins reading frames.
func (t *Transport) Start(ctx context.Context) error {
	if t.cfg.URL == "" {
		return errors.New("broker URL is required")
	}

	t.mu.Lock()
	if t.connected {
		t.mu.Unlock()
		return errors.New("already connected")
	}
	t.stopping = false
	t.mu.Unlock()

	dialer := websocket.Dialer{HandshakeTimeout: t.cfg.HandshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, t.cfg.URL, t.cfg.Header)
	if err != nil {
		return fmt.Errorf("dialing broker: %w", err)
	}

	t.mu.Lock()
	t.conn = conn
	t.connected = true
	t.done = make(chan struct{})
	done := t.done
	handler := t.stateHandler
	t.mu.Unlock()

	go t.readLoop(conn, done)

	t.log.Info("connected to broker", "url", t.cfg.URL)

	if handler != nil {
		handler(t, transport.EventConnected)
	}
	return nil
}

// Stop closes the socket and waits for the read loop to end. The
// disconnect event is fired once, by Stop itself.
func (t *Transport) Stop() error {
	t.mu.Lock()
	if !t.connected {
		t.mu.Unlock()
		return nil
	}
	t.stopping = true
	conn := t.conn
	done := t.done
	handler := t.stateHandler
	t.mu.Unlock()

	deadline := time.Now().Add(t.cfg.WriteTimeout)
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	t.writeMu.Lock()
	_ = conn.WriteControl(websocket.CloseMessage, msg, deadline)
	t.writeMu.Unlock()
	err := conn.Close()

	if done != nil {
		<-done
	}

	t.mu.Lock()
	t.connected = false
	t.conn = nil
	t.mu.Unlock()

	if handler != nil {
		handler(t, transport.EventDisconnected)
	}
	return err
}

// IsConnected returns true while the socket is open.
func (t *Transport) IsConnected() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.connected
}

// SetFrameHandler sets the callback for incoming frames.
func (t *Transport) SetFrameHandler(fn transport.FrameHandler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.frameHandler = fn
}

// SetStateHandler sets the callback for socket state changes.
func (t *Transport) SetStateHandler(fn transport.StateHandler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stateHandler = fn
}

// SendFrame marshals and writes one frame to the socket.
func (t *Transport) SendFrame(f *frame.Frame) error {
	t.mu.RLock()
	conn := t.conn
	connected := t.connected
	t.mu.RUnlock()

	if !connected || conn == nil {
		return errors.New("not connected")
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(t.cfg.WriteTimeout))
	if err := conn.WriteMessage(websocket.TextMessage, frame.Marshal(f)); err != nil {
		return fmt.Errorf("writing frame: %w", err)
	}
	return nil
}

func (t *Transport) readLoop(conn *websocket.Conn, done chan struct{}) {
	defer close(done)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.mu.Lock()
			stopping := t.stopping
			wasConnected := t.connected
			t.connected = false
			handler := t.stateHandler
			t.mu.Unlock()

			if stopping || !wasConnected {
				return // Stop owns the disconnect event
			}
			t.log.Warn("read error, socket closed", "err", err)
			if handler != nil {
				handler(t, transport.EventDisconnected)
			}
			return
		}

		f, err := frame.Parse(data)
		if err != nil {
			t.log.Warn("dropping malformed frame", "err", err)
			continue
		}
		if f == nil {
			continue // heartbeat
		}

		t.mu.RLock()
		handler := t.frameHandler
		t.mu.RUnlock()
		if handler != nil {
			handler(f)
		}
	}
}

// EndpointFromAPI derives the broker websocket URL from the collaborator
// API's base URL: the scheme is swapped to ws/wss and the path suffixed
// with /ws.
func EndpointFromAPI(base string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parsing API base URL: %w", err)
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws"
	u.RawQuery = ""
	u.Fragment = ""
	return u.String(), nil
}
