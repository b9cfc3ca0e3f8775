package lobby

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/cbodonnell/tandem/pkg/messages"
)

// Browser lists the relay's rooms over its REST surface. It is polled on demand
// and does not use the session connection.
type Browser struct {
	apiURL string
	client *http.Client
}

func NewBrowser(apiURL string, client *http.Client) *Browser {
	if client == nil {
		client = http.DefaultClient
	}
	return &Browser{
		apiURL: strings.TrimSuffix(apiURL, "/"),
		client: client,
	}
}

// ListRooms returns the rooms that can currently be joined.
func (b *Browser) ListRooms(ctx context.Context) ([]messages.RoomSummary, error) {
	rooms := []messages.RoomSummary{}
	if err := b.get(ctx, "/api/rooms", &rooms); err != nil {
		return nil, fmt.Errorf("failed to list rooms: %w", err)
	}
	return rooms, nil
}

// GetRoom returns the roster of one room.
func (b *Browser) GetRoom(ctx context.Context, roomID string) (*messages.RoomInfo, error) {
	info := &messages.RoomInfo{}
	if err := b.get(ctx, "/api/rooms/"+url.PathEscape(roomID), info); err != nil {
		return nil, fmt.Errorf("failed to get room %s: %w", roomID, err)
	}
	return info, nil
}

func (b *Browser) get(ctx context.Context, path string, v interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.apiURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := b.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// StatusError is returned for a non-200 response.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("status: %d, body: %s", e.StatusCode, e.Body)
}
