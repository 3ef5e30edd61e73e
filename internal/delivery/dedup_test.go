package delivery_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"planlink/internal/chat"
	"planlink/internal/delivery"
	"planlink/internal/notify"
)

type deliveryCollector struct {
	mu   sync.Mutex
	got  []*chat.Message
	seen chan *chat.Message
}

func newDeliveryCollector() *deliveryCollector {
	return &deliveryCollector{seen: make(chan *chat.Message, 64)}
}

func (c *deliveryCollector) deliver(m *chat.Message) {
	c.mu.Lock()
	c.got = append(c.got, m)
	c.mu.Unlock()
	c.seen <- m
}

func (c *deliveryCollector) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.got)
}

func (c *deliveryCollector) waitOne(t *testing.T) *chat.Message {
	t.Helper()
	select {
	case m := <-c.seen:
		return m
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for delivery")
		return nil
	}
}

func okFetch(msg *chat.Message) func(context.Context, int64, int64) (*chat.Message, error) {
	return func(context.Context, int64, int64) (*chat.Message, error) {
		return msg, nil
	}
}

func TestDeduplicatorSuppressesDuplicateKeys(t *testing.T) {
	canonical := &chat.Message{ID: 100, ConversationID: 5, MessageText: "hello"}
	collector := newDeliveryCollector()
	dedup := delivery.NewDeduplicator(100, okFetch(canonical), collector.deliver, nil)

	event := notify.MessageEvent{ConversationID: 5, MessageID: 100}
	dedup.Handle(event)
	dedup.Handle(event)

	msg := collector.waitOne(t)
	assert.Equal(t, "hello", msg.MessageText)

	// The duplicate never produces a second delivery.
	select {
	case <-collector.seen:
		t.Fatal("duplicate event was delivered")
	case <-time.After(100 * time.Millisecond):
	}
	assert.Equal(t, 1, collector.count())
}

func TestDeduplicatorKeysOnLocalIDWhenNoMessageID(t *testing.T) {
	collector := newDeliveryCollector()
	dedup := delivery.NewDeduplicator(100, okFetch(&chat.Message{}), collector.deliver, nil)

	dedup.Handle(notify.MessageEvent{ConversationID: 5, LocalID: "abc"})
	dedup.Handle(notify.MessageEvent{ConversationID: 5, LocalID: "abc"})
	collector.waitOne(t)

	select {
	case <-collector.seen:
		t.Fatal("duplicate local-id event was delivered")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestDeduplicatorSeenSetIsBounded(t *testing.T) {
	collector := newDeliveryCollector()
	dedup := delivery.NewDeduplicator(100, okFetch(&chat.Message{}), collector.deliver, nil)

	for i := 1; i <= 150; i++ {
		dedup.Handle(notify.MessageEvent{ConversationID: 5, MessageID: int64(i)})
	}

	assert.LessOrEqual(t, dedup.Len(), 101)

	// All 150 were distinct, so all 150 are delivered despite eviction.
	require.Eventually(t, func() bool { return collector.count() == 150 },
		2*time.Second, 10*time.Millisecond)
}

func TestDeduplicatorDeliversRawEventOnEnrichmentFailure(t *testing.T) {
	collector := newDeliveryCollector()
	fetch := func(context.Context, int64, int64) (*chat.Message, error) {
		return nil, errors.New("gateway down")
	}
	dedup := delivery.NewDeduplicator(100, fetch, collector.deliver, nil)

	created := time.Now()
	dedup.Handle(notify.MessageEvent{
		ConversationID: 5,
		MessageID:      100,
		SenderID:       1,
		MessageText:    "raw text",
		CreatedAt:      created,
	})

	msg := collector.waitOne(t)
	assert.Equal(t, int64(100), msg.ID)
	assert.Equal(t, int64(5), msg.ConversationID)
	assert.Equal(t, "raw text", msg.MessageText)
	assert.Equal(t, created, msg.CreatedAt)
}

func TestDeduplicatorDistinctConversationsDoNotCollide(t *testing.T) {
	collector := newDeliveryCollector()
	dedup := delivery.NewDeduplicator(100, okFetch(&chat.Message{}), collector.deliver, nil)

	// Same message id in two conversations must not dedupe.
	dedup.Handle(notify.MessageEvent{ConversationID: 5, MessageID: 100})
	dedup.Handle(notify.MessageEvent{ConversationID: 6, MessageID: 100})

	require.Eventually(t, func() bool { return collector.count() == 2 },
		2*time.Second, 10*time.Millisecond, fmt.Sprintf("got %d deliveries", collector.count()))
}
