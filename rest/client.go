// Package rest is the client for the collaborator REST API: room listing
// and creation, join/leave membership, the history fetch, and the
// participant snapshot.
//
// Membership is server-authoritative. Join and leave only request; the
// server decides, and a 403 on join means the room is full.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/verdantlabs/chatcore-go/client"
	"github.com/verdantlabs/chatcore-go/core"
)

// Compile-time check: the client package consumes this type through its
// RoomAPI interface.
var _ client.RoomAPI = (*Client)(nil)

// DefaultTimeout is the default per-request timeout.
const DefaultTimeout = 10 * time.Second

// ErrRoomFull is returned by Join when the room is at capacity.
var ErrRoomFull = errors.New("room is full")

// StatusError is a non-2xx response that has no more specific sentinel.
type StatusError struct {
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d", e.Status)
}

// Config holds the configuration for a REST client.
type Config struct {
	// BaseURL is the API root (e.g. "https://api.example.com"). Required.
	BaseURL string
	// HTTPClient overrides the default client. Nil gets a client with
	// DefaultTimeout.
	HTTPClient *http.Client
	// Logger is the logger to use. If nil, slog.Default() is used.
	Logger *slog.Logger
}

// Client is the collaborator API client.
type Client struct {
	baseURL    string
	httpClient *http.Client
	log        *slog.Logger
}

// New creates a REST client with the given configuration.
func New(cfg Config) *Client {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultTimeout}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: httpClient,
		log:        logger.WithGroup("rest"),
	}
}

// do executes one request and returns the response body and status code.
// Non-2xx statuses are returned to the caller undisturbed; each operation
// maps them itself.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body any) ([]byte, int, error) {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, 0, fmt.Errorf("marshaling request body: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u, reqBody)
	if err != nil {
		return nil, 0, fmt.Errorf("creating request: %w", err)
	}
	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("reading response: %w", err)
	}
	return data, resp.StatusCode, nil
}

type roomDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	MaxMembers  int    `json:"maxMembers"`
	MemberCount int    `json:"memberCount"`
}

func (r roomDTO) toRoom() core.Room {
	return core.Room{
		ID:          r.ID,
		Name:        r.Name,
		Description: r.Description,
		MaxMembers:  r.MaxMembers,
		MemberCount: r.MemberCount,
	}
}

// RoomPage is one page of the room list.
type RoomPage struct {
	Rooms         []core.Room
	Page          int
	TotalPages    int
	TotalElements int
}

// ListRooms fetches one page of the room list.
func (c *Client) ListRooms(ctx context.Context, page, size int) (RoomPage, error) {
	q := url.Values{}
	q.Set("page", strconv.Itoa(page))
	q.Set("size", strconv.Itoa(size))

	data, status, err := c.do(ctx, http.MethodGet, "/api/chatrooms", q, nil)
	if err != nil {
		return RoomPage{}, err
	}
	if status != http.StatusOK {
		return RoomPage{}, fmt.Errorf("listing rooms: %w", &StatusError{Status: status, Body: string(data)})
	}

	var dto struct {
		Content       []roomDTO `json:"content"`
		Number        int       `json:"number"`
		TotalPages    int       `json:"totalPages"`
		TotalElements int       `json:"totalElements"`
	}
	if err := json.Unmarshal(data, &dto); err != nil {
		return RoomPage{}, fmt.Errorf("decoding room list: %w", err)
	}
	out := RoomPage{
		Page:          dto.Number,
		TotalPages:    dto.TotalPages,
		TotalElements: dto.TotalElements,
	}
	for _, r := range dto.Content {
		out.Rooms = append(out.Rooms, r.toRoom())
	}
	return out, nil
}

// CreateRoom creates a room and returns it as the server recorded it.
func (c *Client) CreateRoom(ctx context.Context, name, description string, maxMembers int) (core.Room, error) {
	body := map[string]any{
		"name":        name,
		"description": description,
		"maxMembers":  maxMembers,
	}
	data, status, err := c.do(ctx, http.MethodPost, "/api/chatrooms", nil, body)
	if err != nil {
		return core.Room{}, err
	}
	if status != http.StatusOK && status != http.StatusCreated {
		return core.Room{}, fmt.Errorf("creating room: %w", &StatusError{Status: status, Body: string(data)})
	}
	var dto roomDTO
	if err := json.Unmarshal(data, &dto); err != nil {
		return core.Room{}, fmt.Errorf("decoding created room: %w", err)
	}
	return dto.toRoom(), nil
}

// Join requests membership in a room. A 403 means the room is at capacity
// and wraps ErrRoomFull.
func (c *Client) Join(ctx context.Context, roomID, userID string) error {
	path := fmt.Sprintf("/api/chatrooms/%s/join/%s", url.PathEscape(roomID), url.PathEscape(userID))
	data, status, err := c.do(ctx, http.MethodPost, path, nil, nil)
	if err != nil {
		return err
	}
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusForbidden:
		return fmt.Errorf("joining room %s: %w", roomID, ErrRoomFull)
	default:
		return fmt.Errorf("joining room %s: %w", roomID, &StatusError{Status: status, Body: string(data)})
	}
}

// Leave releases membership in a room.
func (c *Client) Leave(ctx context.Context, roomID, userID string) error {
	path := fmt.Sprintf("/api/chatrooms/%s/leave/%s", url.PathEscape(roomID), url.PathEscape(userID))
	data, status, err := c.do(ctx, http.MethodDelete, path, nil, nil)
	if err != nil {
		return err
	}
	if status < 200 || status >= 300 {
		return fmt.Errorf("leaving room %s: %w", roomID, &StatusError{Status: status, Body: string(data)})
	}
	return nil
}

// History fetches a room's persisted messages, oldest first as the server
// orders them. Single attempt; the caller decides what a failure means.
func (c *Client) History(ctx context.Context, roomID string) ([]core.Message, error) {
	path := fmt.Sprintf("/api/chatrooms/%s/messages", url.PathEscape(roomID))
	data, status, err := c.do(ctx, http.MethodGet, path, nil, nil)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("fetching history for room %s: %w", roomID, &StatusError{Status: status, Body: string(data)})
	}

	var payloads []core.MessagePayload
	if err := json.Unmarshal(data, &payloads); err != nil {
		return nil, fmt.Errorf("decoding history: %w", err)
	}
	msgs := make([]core.Message, 0, len(payloads))
	for _, p := range payloads {
		msgs = append(msgs, p.ToMessage(roomID, "", time.Time{}))
	}
	return msgs, nil
}

// Participants fetches the room's current membership snapshot.
func (c *Client) Participants(ctx context.Context, roomID string) ([]core.Participant, error) {
	path := fmt.Sprintf("/api/chatrooms/%s/participants", url.PathEscape(roomID))
	data, status, err := c.do(ctx, http.MethodGet, path, nil, nil)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("fetching participants for room %s: %w", roomID, &StatusError{Status: status, Body: string(data)})
	}

	var dto []struct {
		ID       string `json:"id"`
		UserID   string `json:"userId"`
		Nickname string `json:"nickname"`
	}
	if err := json.Unmarshal(data, &dto); err != nil {
		return nil, fmt.Errorf("decoding participants: %w", err)
	}
	out := make([]core.Participant, 0, len(dto))
	for _, p := range dto {
		id := p.UserID
		if id == "" {
			id = p.ID
		}
		out = append(out, core.Participant{ID: id, Nickname: p.Nickname})
	}
	return out, nil
}
