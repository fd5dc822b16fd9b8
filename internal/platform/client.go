// Package platform is the outbound half of the bridge to the host telephony
// platform: it asks the platform to switch audio routes, place calls and
// surface recording status.
package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/flowpbx/callcore/internal/auth"
)

// DialRequest is the payload sent to POST /v1/dial.
type DialRequest struct {
	Number  string `json:"number"`
	Account string `json:"account,omitempty"`
}

// RouteRequest is the payload sent to PUT /v1/audio/route.
type RouteRequest struct {
	Mask int `json:"mask"`
}

// RecordingStatus is the payload sent to POST /v1/recording/status.
type RecordingStatus struct {
	Event     string          `json:"event"` // "started" | "paused" | "resumed" | "finished"
	SessionID string          `json:"session_id"`
	CallID    string          `json:"call_id"`
	FilePath  string          `json:"file_path"`
	Metadata  json.RawMessage `json:"metadata,omitempty"`
}

// envelope is the standard bridge response wrapper.
type envelope struct {
	Data  json.RawMessage `json:"data"`
	Error string          `json:"error,omitempty"`
}

// Client is an HTTP client for the platform bridge.
type Client struct {
	httpClient *http.Client
	baseURL    string
	secret     []byte
	logger     *slog.Logger
}

// NewClient creates a bridge client. baseURL is the bridge endpoint (for
// example "http://127.0.0.1:7070"). When secret is non-empty every request
// carries a short-lived bearer token signed with it.
func NewClient(baseURL string, secret []byte, logger *slog.Logger) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: 10 * time.Second},
		baseURL:    baseURL,
		secret:     secret,
		logger:     logger.With("subsystem", "platform"),
	}
}

// Configured returns true if the client has a bridge URL.
func (c *Client) Configured() bool {
	return c.baseURL != ""
}

// SetAudioRoute asks the platform to switch the call audio route.
func (c *Client) SetAudioRoute(ctx context.Context, mask int) error {
	if err := c.do(ctx, http.MethodPut, "/v1/audio/route", RouteRequest{Mask: mask}); err != nil {
		return fmt.Errorf("platform: setting audio route: %w", err)
	}
	c.logger.Debug("audio route requested", "mask", mask)
	return nil
}

// Dial asks the platform to place an outgoing call.
func (c *Client) Dial(ctx context.Context, number, account string) error {
	if err := c.do(ctx, http.MethodPost, "/v1/dial", DialRequest{Number: number, Account: account}); err != nil {
		return fmt.Errorf("platform: dialing: %w", err)
	}
	c.logger.Info("dial requested", "number", number, "account", account)
	return nil
}

// NotifyRecording forwards a recording lifecycle event.
func (c *Client) NotifyRecording(ctx context.Context, st RecordingStatus) error {
	if err := c.do(ctx, http.MethodPost, "/v1/recording/status", st); err != nil {
		return fmt.Errorf("platform: sending recording status: %w", err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, payload any) error {
	if !c.Configured() {
		return fmt.Errorf("bridge url not configured")
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshalling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if len(c.secret) > 0 {
		tok, _, err := auth.GenerateToken(c.secret, "callcore", auth.DefaultTTL)
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+tok)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var env envelope
		if json.Unmarshal(respBody, &env) == nil && env.Error != "" {
			return fmt.Errorf("bridge error (status %d): %s", resp.StatusCode, env.Error)
		}
		return fmt.Errorf("bridge returned status %d", resp.StatusCode)
	}
	return nil
}
