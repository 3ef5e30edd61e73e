package ws

import (
	"context"
	"time"

	"planlink/internal/chat"
)

// storeGateway satisfies delivery.Gateway directly against the message
// store. The in-process bridge has no reason to loop back over HTTP.
type storeGateway struct {
	store chat.Store
}

func (g storeGateway) MessagesAfter(ctx context.Context, conversationID int64, after time.Time, limit int) ([]*chat.Message, error) {
	return g.store.MessagesAfter(ctx, conversationID, after, limit)
}

func (g storeGateway) GetMessage(ctx context.Context, conversationID, messageID int64) (*chat.Message, error) {
	return g.store.GetMessage(ctx, conversationID, messageID)
}
