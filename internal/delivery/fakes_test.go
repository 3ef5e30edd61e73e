package delivery_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"planlink/internal/chat"
	"planlink/internal/delivery"
	"planlink/internal/notify"
)

// testOptions shrinks every timer so the fallback paths run in
// milliseconds.
func testOptions() delivery.Options {
	return delivery.Options{
		SubscribeTimeout: 30 * time.Millisecond,
		PollInterval:     10 * time.Millisecond,
		PollPageSize:     5,
	}
}

type fakeSubscription struct {
	unsubscribed atomic.Bool
}

func (s *fakeSubscription) Unsubscribe() { s.unsubscribed.Store(true) }

type subEntry struct {
	sub      *fakeSubscription
	onEvent  func([]byte)
	onStatus func(notify.SubscriptionStatus)
}

// fakeChannel records subscriptions and lets tests drive status and event
// callbacks by topic. With loopback set, Publish also delivers the payload
// to local subscribers, mimicking pub/sub echo.
type fakeChannel struct {
	mu        sync.Mutex
	subs      map[string][]*subEntry
	published map[string][][]byte
	loopback  bool
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{
		subs:      make(map[string][]*subEntry),
		published: make(map[string][][]byte),
	}
}

func (c *fakeChannel) Subscribe(topic string, onEvent func([]byte), onStatus func(notify.SubscriptionStatus)) notify.Subscription {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry := &subEntry{sub: &fakeSubscription{}, onEvent: onEvent, onStatus: onStatus}
	c.subs[topic] = append(c.subs[topic], entry)
	return entry.sub
}

func (c *fakeChannel) Publish(_ context.Context, topic string, payload []byte) error {
	c.mu.Lock()
	c.published[topic] = append(c.published[topic], payload)
	entries := append([]*subEntry(nil), c.subs[topic]...)
	loopback := c.loopback
	c.mu.Unlock()

	if loopback {
		for _, e := range entries {
			e.onEvent(payload)
		}
	}
	return nil
}

func (c *fakeChannel) emitStatus(topic string, status notify.SubscriptionStatus) {
	c.mu.Lock()
	entries := append([]*subEntry(nil), c.subs[topic]...)
	c.mu.Unlock()
	for _, e := range entries {
		e.onStatus(status)
	}
}

func (c *fakeChannel) emitEvent(topic string, payload []byte) {
	c.mu.Lock()
	entries := append([]*subEntry(nil), c.subs[topic]...)
	c.mu.Unlock()
	for _, e := range entries {
		e.onEvent(payload)
	}
}

func (c *fakeChannel) subCount(topic string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.subs[topic])
}

func (c *fakeChannel) firstSub(topic string) *fakeSubscription {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.subs[topic]) == 0 {
		return nil
	}
	return c.subs[topic][0].sub
}

func (c *fakeChannel) publishedCount(topic string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.published[topic])
}

// fakeGateway serves canned messages and counts polling fetches.
type fakeGateway struct {
	mu       sync.Mutex
	messages []*chat.Message
	getErr   error
	polls    atomic.Int32
}

func (g *fakeGateway) addMessage(m *chat.Message) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.messages = append(g.messages, m)
}

func (g *fakeGateway) MessagesAfter(_ context.Context, conversationID int64, after time.Time, limit int) ([]*chat.Message, error) {
	g.polls.Add(1)
	g.mu.Lock()
	defer g.mu.Unlock()

	var out []*chat.Message
	for _, m := range g.messages {
		if m.ConversationID == conversationID && m.CreatedAt.After(after) {
			out = append(out, m)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (g *fakeGateway) GetMessage(_ context.Context, conversationID, messageID int64) (*chat.Message, error) {
	if g.getErr != nil {
		return nil, g.getErr
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, m := range g.messages {
		if m.ConversationID == conversationID && m.ID == messageID {
			return m, nil
		}
	}
	return nil, errors.New("message not found")
}
