// Package frame implements the subset of STOMP 1.2 framing the chat
// broker speaks over its websocket endpoint.
//
// Each websocket message carries exactly one frame: a command line, zero
// or more header lines, a blank line, the body, and a NUL terminator. The
// client sends CONNECT, SUBSCRIBE, UNSUBSCRIBE, SEND, and DISCONNECT; the
// broker answers with CONNECTED, MESSAGE, RECEIPT, and ERROR. A bare EOL
// is a heartbeat.
package frame

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Client frame commands.
const (
	CmdConnect     = "CONNECT"
	CmdSubscribe   = "SUBSCRIBE"
	CmdUnsubscribe = "UNSUBSCRIBE"
	CmdSend        = "SEND"
	CmdDisconnect  = "DISCONNECT"
)

// Server frame commands.
const (
	CmdConnected = "CONNECTED"
	CmdMessage   = "MESSAGE"
	CmdReceipt   = "RECEIPT"
	CmdError     = "ERROR"
)

// Standard header names used by this client.
const (
	HdrAcceptVersion = "accept-version"
	HdrVersion       = "version"
	HdrHost          = "host"
	HdrHeartBeat     = "heart-beat"
	HdrID            = "id"
	HdrDestination   = "destination"
	HdrAck           = "ack"
	HdrSubscription  = "subscription"
	HdrMessageID     = "message-id"
	HdrContentType   = "content-type"
	HdrContentLength = "content-length"
	HdrReceipt       = "receipt"
	HdrReceiptID     = "receipt-id"
	HdrMessage       = "message"
)

// Header is one key-value pair. Order is preserved; the first occurrence
// of a repeated key wins, per the STOMP spec.
type Header struct {
	Key   string
	Value string
}

// Frame is one STOMP frame.
type Frame struct {
	Command string
	Headers []Header
	Body    []byte
}

// Header returns the value of the first header with the given key, or "".
func (f *Frame) Header(key string) string {
	for _, h := range f.Headers {
		if h.Key == key {
			return h.Value
		}
	}
	return ""
}

// WithHeader appends a header and returns the frame for chaining.
func (f *Frame) WithHeader(key, value string) *Frame {
	f.Headers = append(f.Headers, Header{Key: key, Value: value})
	return f
}

// Connect builds the CONNECT frame opening a STOMP session with the
// broker at the given virtual host.
func Connect(host string) *Frame {
	return &Frame{
		Command: CmdConnect,
		Headers: []Header{
			{HdrAcceptVersion, "1.2"},
			{HdrHost, host},
			{HdrHeartBeat, "0,0"},
		},
	}
}

// Subscribe builds a SUBSCRIBE frame for one destination.
func Subscribe(id, destination string) *Frame {
	return &Frame{
		Command: CmdSubscribe,
		Headers: []Header{
			{HdrID, id},
			{HdrDestination, destination},
			{HdrAck, "auto"},
		},
	}
}

// Unsubscribe builds the UNSUBSCRIBE frame releasing a subscription.
func Unsubscribe(id string) *Frame {
	return &Frame{
		Command: CmdUnsubscribe,
		Headers: []Header{{HdrID, id}},
	}
}

// Send builds a SEND frame publishing body to a destination.
func Send(destination, contentType string, body []byte) *Frame {
	return &Frame{
		Command: CmdSend,
		Headers: []Header{
			{HdrDestination, destination},
			{HdrContentType, contentType},
			{HdrContentLength, strconv.Itoa(len(body))},
		},
		Body: body,
	}
}

// Disconnect builds the DISCONNECT frame with a receipt request.
func Disconnect(receiptID string) *Frame {
	return &Frame{
		Command: CmdDisconnect,
		Headers: []Header{{HdrReceipt, receiptID}},
	}
}

// Marshal encodes the frame to the wire format.
func Marshal(f *Frame) []byte {
	var b bytes.Buffer
	b.WriteString(f.Command)
	b.WriteByte('\n')
	escape := f.Command != CmdConnect && f.Command != CmdConnected
	for _, h := range f.Headers {
		if escape {
			b.WriteString(escapeHeader(h.Key))
			b.WriteByte(':')
			b.WriteString(escapeHeader(h.Value))
		} else {
			b.WriteString(h.Key)
			b.WriteByte(':')
			b.WriteString(h.Value)
		}
		b.WriteByte('\n')
	}
	b.WriteByte('\n')
	b.Write(f.Body)
	b.WriteByte(0)
	return b.Bytes()
}

// ErrMalformed is returned by Parse for data that is not a valid frame.
var ErrMalformed = errors.New("malformed frame")

// Parse decodes one frame from data. A heartbeat (bare EOL) parses to
// (nil, nil).
func Parse(data []byte) (*Frame, error) {
	// Strip the trailing NUL and any EOLs padding behind it.
	data = bytes.TrimRight(data, "\r\n")
	if len(data) == 0 {
		return nil, nil // heartbeat
	}
	body := []byte(nil)
	head := data
	if i := bytes.Index(data, []byte("\n\n")); i >= 0 {
		head = data[:i]
		body = data[i+2:]
	} else if i := bytes.Index(data, []byte("\r\n\r\n")); i >= 0 {
		head = data[:i]
		body = data[i+4:]
	}

	lines := strings.Split(string(head), "\n")
	cmd := strings.TrimRight(lines[0], "\r")
	if cmd == "" {
		return nil, fmt.Errorf("%w: empty command", ErrMalformed)
	}
	f := &Frame{Command: cmd}
	escaped := cmd != CmdConnect && cmd != CmdConnected

	for _, line := range lines[1:] {
		line = strings.TrimRight(line, "\r")
		if line == "" {
			continue
		}
		k, v, ok := strings.Cut(line, ":")
		if !ok {
			return nil, fmt.Errorf("%w: header %q", ErrMalformed, line)
		}
		if escaped {
			var err error
			if k, err = unescapeHeader(k); err != nil {
				return nil, err
			}
			if v, err = unescapeHeader(v); err != nil {
				return nil, err
			}
		}
		f.Headers = append(f.Headers, Header{Key: k, Value: v})
	}

	f.Body = trimBody(body, f.Header(HdrContentLength))
	return f, nil
}

// trimBody cuts the body at the NUL terminator, or at the declared
// content-length when one is present (bodies may legally contain NULs
// then).
func trimBody(body []byte, contentLength string) []byte {
	if len(body) == 0 {
		return nil
	}
	if contentLength != "" {
		if n, err := strconv.Atoi(contentLength); err == nil && n >= 0 && n <= len(body) {
			return body[:n]
		}
	}
	if i := bytes.IndexByte(body, 0); i >= 0 {
		body = body[:i]
	}
	if len(body) == 0 {
		return nil
	}
	return body
}

var headerEscaper = strings.NewReplacer(
	"\\", "\\\\",
	"\r", "\\r",
	"\n", "\\n",
	":", "\\c",
)

func escapeHeader(s string) string {
	return headerEscaper.Replace(s)
}

func unescapeHeader(s string) (string, error) {
	if !strings.Contains(s, "\\") {
		return s, nil
	}
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] != '\\' {
			b.WriteByte(s[i])
			continue
		}
		i++
		if i >= len(s) {
			return "", fmt.Errorf("%w: dangling escape", ErrMalformed)
		}
		switch s[i] {
		case 'r':
			b.WriteByte('\r')
		case 'n':
			b.WriteByte('\n')
		case 'c':
			b.WriteByte(':')
		case '\\':
			b.WriteByte('\\')
		default:
			return "", fmt.Errorf("%w: escape \\%c", ErrMalformed, s[i])
		}
	}
	return b.String(), nil
}
