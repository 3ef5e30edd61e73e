package delivery

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"planlink/internal/chat"
	"planlink/internal/notify"
)

// Deduplicator suppresses re-delivery of a message that already reached a
// listener, keyed by conversation id plus message id (or the client local
// id when the event has no server id yet). The seen-set is insertion
// ordered and bounded: once it grows past capacity the oldest keys are
// evicted.
type Deduplicator struct {
	mu       sync.Mutex
	capacity int
	seen     map[string]struct{}
	order    []string

	fetch   func(ctx context.Context, conversationID, messageID int64) (*chat.Message, error)
	deliver func(*chat.Message)
	logger  *slog.Logger
}

func NewDeduplicator(
	capacity int,
	fetch func(ctx context.Context, conversationID, messageID int64) (*chat.Message, error),
	deliver func(*chat.Message),
	logger *slog.Logger,
) *Deduplicator {
	if capacity <= 0 {
		capacity = 100
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Deduplicator{
		capacity: capacity,
		seen:     make(map[string]struct{}),
		fetch:    fetch,
		deliver:  deliver,
		logger:   logger,
	}
}

func dedupKey(event notify.MessageEvent) string {
	if event.MessageID != 0 {
		return fmt.Sprintf("%d:%d", event.ConversationID, event.MessageID)
	}
	return fmt.Sprintf("%d:%s", event.ConversationID, event.LocalID)
}

// Handle delivers the event to listeners unless it was seen before. The
// enrichment fetch runs in its own goroutine so a slow gateway never
// blocks the notification pump.
func (d *Deduplicator) Handle(event notify.MessageEvent) {
	key := dedupKey(event)

	d.mu.Lock()
	if _, ok := d.seen[key]; ok {
		d.mu.Unlock()
		return
	}
	d.seen[key] = struct{}{}
	d.order = append(d.order, key)
	for len(d.order) > d.capacity {
		oldest := d.order[0]
		d.order = d.order[1:]
		delete(d.seen, oldest)
	}
	d.mu.Unlock()

	go d.enrich(event)
}

// Len reports the current size of the seen-set.
func (d *Deduplicator) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.order)
}

func (d *Deduplicator) enrich(event notify.MessageEvent) {
	msg, err := d.fetch(context.Background(), event.ConversationID, event.MessageID)
	if err != nil {
		// Enrichment is best-effort: deliver what the channel gave us
		// rather than dropping the message.
		d.logger.Warn("message enrichment failed, delivering raw event",
			"conversation_id", event.ConversationID, "message_id", event.MessageID, "error", err)
		msg = &chat.Message{
			ID:             event.MessageID,
			ConversationID: event.ConversationID,
			SenderID:       event.SenderID,
			MessageText:    event.MessageText,
			MessageType:    "text",
			CreatedAt:      event.CreatedAt,
		}
	}
	d.deliver(msg)
}
