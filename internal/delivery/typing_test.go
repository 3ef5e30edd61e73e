package delivery_test

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"planlink/internal/delivery"
	"planlink/internal/notify"
)

type typingCollector struct {
	mu  sync.Mutex
	got []notify.TypingEvent
}

func (c *typingCollector) collect(event notify.TypingEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.got = append(c.got, event)
}

func (c *typingCollector) events() []notify.TypingEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]notify.TypingEvent(nil), c.got...)
}

func TestSendTypingWhenDisconnectedIsDropped(t *testing.T) {
	channel := newFakeChannel()
	session := delivery.NewSession(&fakeGateway{}, channel, testOptions(), nil)

	session.SendTyping(5, true)

	assert.Equal(t, 0, channel.publishedCount(notify.TypingTopic(5)))
	assert.Equal(t, 0, channel.subCount(notify.TypingTopic(5)))
}

func TestSendTypingPublishesAndOpensTopicOnce(t *testing.T) {
	channel := newFakeChannel()
	session := delivery.NewSession(&fakeGateway{}, channel, testOptions(), nil)
	t.Cleanup(session.Disconnect)
	session.Connect(7)

	session.SendTyping(5, true)
	session.SendTyping(5, false)

	assert.Equal(t, 1, channel.subCount(notify.TypingTopic(5)), "topic opened lazily, once")
	assert.Equal(t, 2, channel.publishedCount(notify.TypingTopic(5)))

	var event notify.TypingEvent
	channel.mu.Lock()
	payload := channel.published[notify.TypingTopic(5)][0]
	channel.mu.Unlock()
	require.NoError(t, json.Unmarshal(payload, &event))
	assert.Equal(t, int64(7), event.UserID)
	assert.True(t, event.IsTyping)
}

func TestTypingSelfEventsAreExcluded(t *testing.T) {
	channel := newFakeChannel()
	channel.loopback = true // our own broadcasts echo back
	session := delivery.NewSession(&fakeGateway{}, channel, testOptions(), nil)
	t.Cleanup(session.Disconnect)
	session.Connect(7)

	collector := &typingCollector{}
	session.OnTyping(collector.collect)

	// Our own signal loops back and must not reach the listener.
	session.SendTyping(5, true)
	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, collector.events())

	// Another participant's signal does.
	payload, _ := json.Marshal(notify.TypingEvent{ConversationID: 5, UserID: 8, IsTyping: true})
	channel.emitEvent(notify.TypingTopic(5), payload)

	require.Eventually(t, func() bool { return len(collector.events()) == 1 },
		2*time.Second, 5*time.Millisecond)
	event := collector.events()[0]
	assert.Equal(t, int64(8), event.UserID)
	assert.True(t, event.IsTyping)
}

func TestTypingWithoutListenersIsDropped(t *testing.T) {
	channel := newFakeChannel()
	session := delivery.NewSession(&fakeGateway{}, channel, testOptions(), nil)
	t.Cleanup(session.Disconnect)
	session.Connect(7)

	session.SendTyping(5, true)
	payload, _ := json.Marshal(notify.TypingEvent{ConversationID: 5, UserID: 8, IsTyping: true})
	// No listeners registered; this must simply not panic.
	channel.emitEvent(notify.TypingTopic(5), payload)
}
