package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// ModerationClient calls the external text-moderation service. The store
// treats every failure here as fail-open, so this client only needs to
// report errors, never to retry.
type ModerationClient struct {
	endpoint   string
	httpClient *http.Client
}

// NewModerationClient creates a client for the moderation service at
// endpoint (e.g. "http://moderation:9000"). A zero timeout defaults to 3s;
// a slow filter must not stall message sends.
func NewModerationClient(endpoint string, timeout time.Duration) *ModerationClient {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &ModerationClient{
		endpoint: endpoint,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

type moderationRequest struct {
	Text string `json:"text"`
}

type moderationResponse struct {
	CensoredText string `json:"censored_text"`
}

// Check sends text to the moderation service and returns the censored text.
func (c *ModerationClient) Check(ctx context.Context, text string) (string, error) {
	reqBody, err := json.Marshal(moderationRequest{Text: text})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.endpoint+"/check", bytes.NewReader(reqBody))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("moderation service: %s", resp.Status)
	}

	var modResp moderationResponse
	if err := json.NewDecoder(resp.Body).Decode(&modResp); err != nil {
		return "", fmt.Errorf("unmarshal response: %w", err)
	}
	return modResp.CensoredText, nil
}
