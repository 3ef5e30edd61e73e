package chat_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"planlink/internal/chat"
	"planlink/internal/notify"
)

type fakeStore struct {
	chat.Store

	conversations map[[2]int64]*chat.Conversation
	saveErr       error
	saved         *chat.Message
	unread        int
	markedRead    [][2]int64
	nextID        int64
}

func newFakeStore() *fakeStore {
	return &fakeStore{conversations: make(map[[2]int64]*chat.Conversation), nextID: 1}
}

func (s *fakeStore) GetOrCreateConversation(_ context.Context, plannerID, vendorID int64) (*chat.Conversation, bool, error) {
	key := [2]int64{plannerID, vendorID}
	if c, ok := s.conversations[key]; ok {
		return c, false, nil
	}
	c := &chat.Conversation{ID: s.nextID, PlannerID: plannerID, VendorID: vendorID, IsActive: true}
	s.nextID++
	s.conversations[key] = c
	return c, true, nil
}

func (s *fakeStore) SaveMessage(_ context.Context, conversationID, senderID int64, text, messageType string) (*chat.Message, error) {
	if s.saveErr != nil {
		return nil, s.saveErr
	}
	msg := &chat.Message{
		ID:             s.nextID,
		ConversationID: conversationID,
		SenderID:       senderID,
		MessageText:    text,
		MessageType:    messageType,
		CreatedAt:      time.Now(),
		SenderName:     "Dana",
		SenderRole:     "planner",
	}
	s.nextID++
	s.saved = msg
	return msg, nil
}

func (s *fakeStore) MarkMessagesAsRead(_ context.Context, conversationID, userID int64) error {
	s.markedRead = append(s.markedRead, [2]int64{conversationID, userID})
	return nil
}

func (s *fakeStore) UnreadCount(_ context.Context, userID int64) (int, error) {
	return s.unread, nil
}

type fakeChannel struct {
	published map[string][][]byte
}

func (c *fakeChannel) Subscribe(string, func([]byte), func(notify.SubscriptionStatus)) notify.Subscription {
	return nil
}

func (c *fakeChannel) Publish(_ context.Context, topic string, payload []byte) error {
	if c.published == nil {
		c.published = make(map[string][][]byte)
	}
	c.published[topic] = append(c.published[topic], payload)
	return nil
}

func newTestServer(store chat.Store, channel notify.Channel) *httptest.Server {
	h := chat.NewHandler(store, channel, nil)
	r := chi.NewRouter()
	r.Route("/api", h.Routes)
	return httptest.NewServer(r)
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	payload, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(payload))
	require.NoError(t, err)
	return resp
}

func TestStartConversationIdempotent(t *testing.T) {
	store := newFakeStore()
	server := newTestServer(store, &fakeChannel{})
	defer server.Close()

	req := chat.StartConversationRequest{PlannerID: 1, VendorID: 2}

	resp := postJSON(t, server.URL+"/api/conversations", req)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var first chat.Conversation
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&first))
	resp.Body.Close()

	resp = postJSON(t, server.URL+"/api/conversations", req)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var second chat.Conversation
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&second))
	resp.Body.Close()

	assert.Equal(t, first.ID, second.ID)
	assert.Len(t, store.conversations, 1)
}

func TestSendMessageForbiddenForNonParticipant(t *testing.T) {
	store := newFakeStore()
	store.saveErr = chat.ErrNotParticipant
	server := newTestServer(store, &fakeChannel{})
	defer server.Close()

	resp := postJSON(t, server.URL+"/api/messages", chat.SendMessageRequest{
		ConversationID: 5, SenderID: 99, MessageText: "hi",
	})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestSendMessagePublishesInsertEvent(t *testing.T) {
	store := newFakeStore()
	channel := &fakeChannel{}
	server := newTestServer(store, channel)
	defer server.Close()

	resp := postJSON(t, server.URL+"/api/messages", chat.SendMessageRequest{
		ConversationID: 5, SenderID: 1, MessageText: "hi", LocalID: "local-abc",
	})
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var msg chat.Message
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&msg))
	assert.Equal(t, "Dana", msg.SenderName)

	events := channel.published[notify.MessageTopic(5)]
	require.Len(t, events, 1)
	var event notify.MessageEvent
	require.NoError(t, json.Unmarshal(events[0], &event))
	assert.Equal(t, msg.ID, event.MessageID)
	assert.Equal(t, "local-abc", event.LocalID)
}

func TestMarkReadRespondsSuccess(t *testing.T) {
	store := newFakeStore()
	server := newTestServer(store, &fakeChannel{})
	defer server.Close()

	resp := postJSON(t, server.URL+"/api/messages/read", chat.MarkReadRequest{
		ConversationID: 5, UserID: 1,
	})
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]bool
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.True(t, body["success"])
	assert.Equal(t, [][2]int64{{5, 1}}, store.markedRead)
}

func TestUnreadCountShape(t *testing.T) {
	store := newFakeStore()
	store.unread = 5
	server := newTestServer(store, &fakeChannel{})
	defer server.Close()

	resp, err := http.Get(server.URL + "/api/unread/9")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]int
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, 5, body["unreadCount"])
}
