// Package notify abstracts the push-notification primitive the delivery
// layer subscribes to. The contract is deliberately weak: at-least-once,
// no ordering, and no guarantee a subscription ever reports a status at
// all. The delivery layer's polling fallback exists because of this.
package notify

import (
	"context"
	"fmt"
	"time"
)

// SubscriptionStatus is reported by the channel as the subscription's
// health changes.
type SubscriptionStatus int

const (
	StatusSubscribed SubscriptionStatus = iota
	StatusError
	StatusClosed
)

func (s SubscriptionStatus) String() string {
	switch s {
	case StatusSubscribed:
		return "subscribed"
	case StatusError:
		return "error"
	case StatusClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// MessageEvent is the row-insert payload published on a conversation's
// message topic. It carries just enough for the deduplicator to key on;
// the canonical row is fetched from the gateway.
type MessageEvent struct {
	ConversationID int64     `json:"conversation_id"`
	MessageID      int64     `json:"message_id"`
	SenderID       int64     `json:"sender_id"`
	LocalID        string    `json:"local_id,omitempty"`
	MessageText    string    `json:"message_text,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// TypingEvent is the ephemeral typing signal. Never persisted.
type TypingEvent struct {
	ConversationID int64 `json:"conversation_id"`
	UserID         int64 `json:"user_id"`
	IsTyping       bool  `json:"is_typing"`
}

// MessageTopic names the insert-notification topic for a conversation.
func MessageTopic(conversationID int64) string {
	return fmt.Sprintf("conversation:%d:messages", conversationID)
}

// TypingTopic names the broadcast-only typing topic for a conversation.
func TypingTopic(conversationID int64) string {
	return fmt.Sprintf("conversation:%d:typing", conversationID)
}

// Subscription is a handle to an open topic subscription.
type Subscription interface {
	Unsubscribe()
}

// Channel is the subscribe-by-topic primitive. Subscribe returns
// immediately; onStatus is invoked asynchronously with at least one of
// subscribed/error/closed, though a broken transport may never call it.
type Channel interface {
	Subscribe(topic string, onEvent func(payload []byte), onStatus func(SubscriptionStatus)) Subscription
	Publish(ctx context.Context, topic string, payload []byte) error
}
