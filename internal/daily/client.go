package daily

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/voxlab/botserve/internal/domain"
)

// Client wraps the Daily REST API calls the server needs: creating a room and
// minting a meeting token for it. One round trip per call, no retries; a
// failure is propagated to the caller as a provisioning failure.
type Client struct {
	apiKey     string
	baseURL    string
	roomExpiry time.Duration
	httpClient *http.Client
}

func NewClient(apiKey, baseURL string, roomExpiry time.Duration) *Client {
	return &Client{
		apiKey:     apiKey,
		baseURL:    strings.TrimRight(baseURL, "/"),
		roomExpiry: roomExpiry,
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
}

type roomProperties struct {
	Exp int64 `json:"exp,omitempty"`
}

type createRoomRequest struct {
	Properties roomProperties `json:"properties"`
}

type createRoomResponse struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

type tokenProperties struct {
	RoomName string `json:"room_name"`
	Exp      int64  `json:"exp,omitempty"`
}

type mintTokenRequest struct {
	Properties tokenProperties `json:"properties"`
}

type mintTokenResponse struct {
	Token string `json:"token"`
}

// CreateRoom creates a new Daily room and returns its URL.
func (c *Client) CreateRoom(ctx context.Context) (domain.RoomURL, error) {
	var exp int64
	if c.roomExpiry > 0 {
		exp = time.Now().Add(c.roomExpiry).Unix()
	}
	var resp createRoomResponse
	if err := c.post(ctx, "/rooms", createRoomRequest{Properties: roomProperties{Exp: exp}}, &resp); err != nil {
		return "", fmt.Errorf("create room: %w", err)
	}
	if resp.URL == "" {
		return "", fmt.Errorf("create room: response carries no room url")
	}
	log.Info().Str("module", "daily").Str("room", resp.URL).Msg("created room")
	return domain.RoomURL(resp.URL), nil
}

// MintToken creates a meeting token scoped to the given room.
func (c *Client) MintToken(ctx context.Context, room domain.RoomURL) (string, error) {
	var exp int64
	if c.roomExpiry > 0 {
		exp = time.Now().Add(c.roomExpiry).Unix()
	}
	req := mintTokenRequest{Properties: tokenProperties{RoomName: roomName(room), Exp: exp}}
	var resp mintTokenResponse
	if err := c.post(ctx, "/meeting-tokens", req, &resp); err != nil {
		return "", fmt.Errorf("mint token for room %s: %w", room, err)
	}
	if resp.Token == "" {
		return "", fmt.Errorf("mint token for room %s: response carries no token", room)
	}
	return resp.Token, nil
}

// Provision creates a room and a token for it in one go. A room that cannot
// be tokenized counts as a provisioning failure.
func (c *Client) Provision(ctx context.Context) (domain.RoomCredential, error) {
	room, err := c.CreateRoom(ctx)
	if err != nil {
		return domain.RoomCredential{}, err
	}
	token, err := c.MintToken(ctx, room)
	if err != nil {
		return domain.RoomCredential{}, err
	}
	return domain.RoomCredential{RoomURL: room, Token: token}, nil
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("POST %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("POST %s: status %d: %s", path, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response from %s: %w", path, err)
	}
	return nil
}

// roomName derives the Daily room name from the tail of the room URL.
func roomName(room domain.RoomURL) string {
	s := strings.TrimRight(string(room), "/")
	if i := strings.LastIndex(s, "/"); i >= 0 {
		return s[i+1:]
	}
	return s
}
