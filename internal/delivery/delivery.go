// Package delivery is the client-side message delivery layer. It surfaces
// new chat messages to UI listeners whether or not the push-notification
// channel is functional: each joined conversation holds one subscription,
// falls back to a fixed-interval polling loop when the channel misbehaves,
// and hands every event through a bounded deduplicator so a message
// arriving over both paths is delivered exactly once.
package delivery

import (
	"context"
	"errors"
	"time"

	"planlink/internal/chat"
)

// ErrNotConnected is returned by Join when Connect has not been called.
var ErrNotConnected = errors.New("delivery: not connected")

// Gateway is what the delivery layer needs from the REST surface: the
// polling fetch and the enrichment fetch.
type Gateway interface {
	MessagesAfter(ctx context.Context, conversationID int64, after time.Time, limit int) ([]*chat.Message, error)
	GetMessage(ctx context.Context, conversationID, messageID int64) (*chat.Message, error)
}

// Options tune the timers of a Session. The defaults are the production
// values; tests shrink them.
type Options struct {
	// SubscribeTimeout is the safety net: if the channel has not confirmed
	// the subscription by then, polling starts anyway.
	SubscribeTimeout time.Duration
	// PollInterval is the polling fallback's fixed period.
	PollInterval time.Duration
	// PollPageSize caps each polling fetch.
	PollPageSize int
	// DedupCapacity bounds the deduplicator's seen-set.
	DedupCapacity int
}

func (o Options) withDefaults() Options {
	if o.SubscribeTimeout <= 0 {
		o.SubscribeTimeout = 5 * time.Second
	}
	if o.PollInterval <= 0 {
		o.PollInterval = 3 * time.Second
	}
	if o.PollPageSize <= 0 {
		o.PollPageSize = 5
	}
	if o.DedupCapacity <= 0 {
		o.DedupCapacity = 100
	}
	return o
}
