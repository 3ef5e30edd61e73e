package chat

import "time"

type Conversation struct {
	ID            int64     `json:"id"`
	PlannerID     int64     `json:"planner_id"`
	VendorID      int64     `json:"vendor_id"`
	EventID       *int64    `json:"event_id,omitempty"`
	IsActive      bool      `json:"is_active"`
	LastMessageAt time.Time `json:"last_message_at"`
	CreatedAt     time.Time `json:"created_at"`

	// Joined display fields for the conversation list.
	PlannerName string `json:"planner_name,omitempty"`
	VendorName  string `json:"vendor_name,omitempty"`
}

type Message struct {
	ID             int64     `json:"id"`
	ConversationID int64     `json:"conversation_id"`
	SenderID       int64     `json:"sender_id"`
	MessageText    string    `json:"message_text"`
	MessageType    string    `json:"message_type"`
	IsRead         bool      `json:"is_read"`
	CreatedAt      time.Time `json:"created_at"`

	// Denormalized sender fields (fetched via JOIN).
	SenderName string `json:"sender_name,omitempty"`
	SenderRole string `json:"sender_role,omitempty"`
}

type StartConversationRequest struct {
	PlannerID int64 `json:"plannerId"`
	VendorID  int64 `json:"vendorId"`
}

type SendMessageRequest struct {
	ConversationID int64  `json:"conversationId"`
	SenderID       int64  `json:"senderId"`
	MessageText    string `json:"messageText"`
	MessageType    string `json:"messageType"`
	// LocalID is the client-generated id for optimistic sends; it is
	// echoed on the insert notification, never stored.
	LocalID string `json:"localId,omitempty"`
}

type MarkReadRequest struct {
	ConversationID int64 `json:"conversationId"`
	UserID         int64 `json:"userId"`
}
