// Package rest is the HTTP collaborator boundary: room directory, message
// history, and room lifecycle endpoints of the chat backend.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// ErrSessionExpired is returned for any 401/403 response. The wider
// application treats it as "must log in again"; this client never retries it.
var ErrSessionExpired = errors.New("session expired")

// Client provides REST API access to the chat backend.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewClient creates a new REST API client.
// baseURL should be the base URL of the API, e.g. "http://localhost:8080/api/chat".
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// SetHTTPClient allows setting a custom HTTP client.
func (c *Client) SetHTTPClient(client *http.Client) {
	if client != nil {
		c.httpClient = client
	}
}

// SetToken sets the bearer credential for authenticated requests.
func (c *Client) SetToken(token string) {
	c.token = token
}

// RoomsForCurrentUser fetches the authenticated user's room collection and
// returns the raw body. The envelope shape varies between deployments
// (bare array, {data:[...]}, {rooms:[...]}); normalization is the
// directory loader's job, not this client's.
func (c *Client) RoomsForCurrentUser(ctx context.Context) (json.RawMessage, error) {
	var raw json.RawMessage
	if err := c.get(ctx, "/rooms-for-current-user", &raw); err != nil {
		return nil, err
	}
	return raw, nil
}

// GetRoom fetches metadata for a single room.
func (c *Client) GetRoom(ctx context.Context, roomID int64) (*RoomInfo, error) {
	var resp RoomInfo
	if err := c.get(ctx, fmt.Sprintf("/room/%d", roomID), &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetMessages retrieves one page of message history for a room.
func (c *Client) GetMessages(ctx context.Context, roomID int64, page, size int) (*HistoryPage, error) {
	var resp HistoryPage
	path := fmt.Sprintf("/room/%d/messages?page=%d&size=%d", roomID, page, size)
	if err := c.get(ctx, path, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// CreateRoom creates or returns the existing room tied to a marketplace
// listing. The endpoint is idempotent per listing.
func (c *Client) CreateRoom(ctx context.Context, listingID int64, req CreateRoomRequest) (*RoomInfo, error) {
	var resp RoomInfo
	if err := c.post(ctx, fmt.Sprintf("/room/%d", listingID), req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// CreatePrivateRoom creates or returns the existing direct-message room
// between the current user and another user.
func (c *Client) CreatePrivateRoom(ctx context.Context, otherUserID int64) (*RoomInfo, error) {
	var resp RoomInfo
	req := PrivateRoomRequest{OtherUserID: otherUserID}
	if err := c.post(ctx, "/private", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// JoinRoom adds the current user to a room.
func (c *Client) JoinRoom(ctx context.Context, roomID int64) error {
	return c.post(ctx, fmt.Sprintf("/room/%d/join", roomID), nil, nil)
}

// LeaveRoom removes the current user from a room, deleting it when the
// last participant leaves. Leave and delete share this endpoint; the
// backend decides which applies.
func (c *Client) LeaveRoom(ctx context.Context, roomID int64) error {
	return c.delete(ctx, fmt.Sprintf("/room/%d", roomID))
}

// UnreadCount returns the backend's unread tally for one room.
func (c *Client) UnreadCount(ctx context.Context, roomID int64) (int, error) {
	var n int
	if err := c.get(ctx, fmt.Sprintf("/room/%d/unread-count", roomID), &n); err != nil {
		return 0, err
	}
	return n, nil
}

// UnreadCounts returns the backend's unread tallies for every room of the
// current user, keyed by decimal room id.
func (c *Client) UnreadCounts(ctx context.Context) (map[string]int, error) {
	var resp map[string]int
	if err := c.get(ctx, "/unread-counts", &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// MarkMessageRead records a read watermark for one message.
func (c *Client) MarkMessageRead(ctx context.Context, roomID int64, messageID string) error {
	return c.put(ctx, fmt.Sprintf("/room/%d/messages/%s/read", roomID, messageID), nil, nil)
}

// SearchRooms finds rooms matching the query string.
func (c *Client) SearchRooms(ctx context.Context, query string) ([]RoomInfo, error) {
	var resp []RoomInfo
	q := url.Values{"q": []string{query}}
	if err := c.get(ctx, "/rooms/search?"+q.Encode(), &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// Helper methods

func (c *Client) post(ctx context.Context, path string, body, dest any) error {
	return c.send(ctx, http.MethodPost, path, body, dest)
}

func (c *Client) put(ctx context.Context, path string, body, dest any) error {
	return c.send(ctx, http.MethodPut, path, body, dest)
}

func (c *Client) delete(ctx context.Context, path string) error {
	return c.send(ctx, http.MethodDelete, path, nil, nil)
}

func (c *Client) send(ctx context.Context, method, path string, body, dest any) error {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.do(req, dest)
}

func (c *Client) get(ctx context.Context, path string, dest any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, http.NoBody)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	return c.do(req, dest)
}

func (c *Client) do(req *http.Request, dest any) error {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return fmt.Errorf("%w (status %d)", ErrSessionExpired, resp.StatusCode)
	}
	if resp.StatusCode >= 400 {
		var errResp ErrorResponse
		if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error != "" {
			return fmt.Errorf("api error (status %d): %s", resp.StatusCode, errResp.Error)
		}
		return fmt.Errorf("http error: %s (status %d)", string(body), resp.StatusCode)
	}

	if dest != nil && len(body) > 0 {
		if err := json.Unmarshal(body, dest); err != nil {
			return fmt.Errorf("unmarshal response: %w", err)
		}
	}
	return nil
}
