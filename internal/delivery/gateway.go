package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/google/uuid"

	"planlink/internal/chat"
)

// RESTGateway is the HTTP client for the messaging REST surface. It
// implements Gateway for the delivery session and exposes the remaining
// conversation operations for UI code.
type RESTGateway struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewRESTGateway creates a gateway for the server at baseURL (e.g.
// "http://localhost:8080"). token is the bearer token from login.
func NewRESTGateway(baseURL, token string) *RESTGateway {
	return &RESTGateway{
		baseURL: baseURL,
		token:   token,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

func (g *RESTGateway) do(ctx context.Context, method, path string, body, result any) (int, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return 0, fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, g.baseURL+path, reader)
	if err != nil {
		return 0, fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if g.token != "" {
		req.Header.Set("Authorization", "Bearer "+g.token)
	}

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return resp.StatusCode, fmt.Errorf("server error: %s - %s", resp.Status, string(raw))
	}
	if result != nil && len(raw) > 0 {
		if err := json.Unmarshal(raw, result); err != nil {
			return resp.StatusCode, fmt.Errorf("unmarshal response: %w", err)
		}
	}
	return resp.StatusCode, nil
}

// GetOrCreateConversation returns the active conversation for the pair,
// creating one when needed.
func (g *RESTGateway) GetOrCreateConversation(ctx context.Context, plannerID, vendorID int64) (*chat.Conversation, error) {
	var convo chat.Conversation
	_, err := g.do(ctx, "POST", "/api/conversations", chat.StartConversationRequest{
		PlannerID: plannerID,
		VendorID:  vendorID,
	}, &convo)
	if err != nil {
		return nil, err
	}
	return &convo, nil
}

// ListConversations returns the user's conversations, newest activity first.
func (g *RESTGateway) ListConversations(ctx context.Context, userID int64) ([]*chat.Conversation, error) {
	var convos []*chat.Conversation
	path := fmt.Sprintf("/api/conversations/%d", userID)
	if _, err := g.do(ctx, "GET", path, nil, &convos); err != nil {
		return nil, err
	}
	return convos, nil
}

// Messages fetches one ascending page of conversation history.
func (g *RESTGateway) Messages(ctx context.Context, conversationID int64, page, limit int) ([]*chat.Message, error) {
	q := url.Values{}
	q.Set("page", strconv.Itoa(page))
	q.Set("limit", strconv.Itoa(limit))
	path := fmt.Sprintf("/api/conversations/%d/messages?%s", conversationID, q.Encode())

	var msgs []*chat.Message
	if _, err := g.do(ctx, "GET", path, nil, &msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}

// MessagesAfter fetches up to limit messages created after the cursor.
func (g *RESTGateway) MessagesAfter(ctx context.Context, conversationID int64, after time.Time, limit int) ([]*chat.Message, error) {
	q := url.Values{}
	q.Set("after", after.Format(time.RFC3339Nano))
	q.Set("limit", strconv.Itoa(limit))
	path := fmt.Sprintf("/api/conversations/%d/messages?%s", conversationID, q.Encode())

	var msgs []*chat.Message
	if _, err := g.do(ctx, "GET", path, nil, &msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}

// GetMessage fetches the canonical message row with sender display fields.
func (g *RESTGateway) GetMessage(ctx context.Context, conversationID, messageID int64) (*chat.Message, error) {
	path := fmt.Sprintf("/api/conversations/%d/messages/%d", conversationID, messageID)
	var msg chat.Message
	if _, err := g.do(ctx, "GET", path, nil, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// SendMessage posts a message, tagging it with a client local id so the
// sender's own push event can be deduplicated before the server id is known.
func (g *RESTGateway) SendMessage(ctx context.Context, conversationID, senderID int64, text, messageType string) (*chat.Message, error) {
	var msg chat.Message
	_, err := g.do(ctx, "POST", "/api/messages", chat.SendMessageRequest{
		ConversationID: conversationID,
		SenderID:       senderID,
		MessageText:    text,
		MessageType:    messageType,
		LocalID:        uuid.NewString(),
	}, &msg)
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

// MarkRead flips the unread messages the other participant sent.
func (g *RESTGateway) MarkRead(ctx context.Context, conversationID, userID int64) error {
	_, err := g.do(ctx, "POST", "/api/messages/read", chat.MarkReadRequest{
		ConversationID: conversationID,
		UserID:         userID,
	}, nil)
	return err
}

// UnreadCount sums unread messages across the user's conversations.
func (g *RESTGateway) UnreadCount(ctx context.Context, userID int64) (int, error) {
	var resp struct {
		UnreadCount int `json:"unreadCount"`
	}
	path := fmt.Sprintf("/api/unread/%d", userID)
	if _, err := g.do(ctx, "GET", path, nil, &resp); err != nil {
		return 0, err
	}
	return resp.UnreadCount, nil
}
