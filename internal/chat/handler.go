package chat

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"planlink/internal/notify"
)

// Store is what the REST surface needs from the message store.
type Store interface {
	GetOrCreateConversation(ctx context.Context, plannerID, vendorID int64) (*Conversation, bool, error)
	ListConversations(ctx context.Context, userID int64) ([]*Conversation, error)
	SaveMessage(ctx context.Context, conversationID, senderID int64, text, messageType string) (*Message, error)
	MessagesPage(ctx context.Context, conversationID int64, page, limit int) ([]*Message, error)
	MessagesAfter(ctx context.Context, conversationID int64, after time.Time, limit int) ([]*Message, error)
	GetMessage(ctx context.Context, conversationID, messageID int64) (*Message, error)
	MarkMessagesAsRead(ctx context.Context, conversationID, userID int64) error
	UnreadCount(ctx context.Context, userID int64) (int, error)
}

type Handler struct {
	store   Store
	channel notify.Channel
	logger  *slog.Logger
}

func NewHandler(store Store, channel notify.Channel, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{store: store, channel: channel, logger: logger}
}

// Routes mounts the messaging REST surface on r.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/conversations", h.StartConversation)
	r.Get("/conversations/{userID}", h.ListConversations)
	r.Get("/conversations/{conversationID}/messages", h.GetMessages)
	r.Get("/conversations/{conversationID}/messages/{messageID}", h.GetMessage)
	r.Post("/messages", h.SendMessage)
	r.Post("/messages/read", h.MarkRead)
	r.Get("/unread/{userID}", h.UnreadCount)
}

func (h *Handler) StartConversation(w http.ResponseWriter, r *http.Request) {
	var req StartConversationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.PlannerID == 0 || req.VendorID == 0 {
		http.Error(w, "plannerId and vendorId are required", http.StatusBadRequest)
		return
	}

	convo, created, err := h.store.GetOrCreateConversation(r.Context(), req.PlannerID, req.VendorID)
	if err != nil {
		h.logger.Error("get or create conversation failed",
			"planner_id", req.PlannerID, "vendor_id", req.VendorID, "error", err)
		http.Error(w, "failed to start conversation", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if created {
		w.WriteHeader(http.StatusCreated)
	}
	json.NewEncoder(w).Encode(convo)
}

func (h *Handler) ListConversations(w http.ResponseWriter, r *http.Request) {
	userID, err := pathID(r, "userID")
	if err != nil {
		http.Error(w, "invalid user id", http.StatusBadRequest)
		return
	}

	convos, err := h.store.ListConversations(r.Context(), userID)
	if err != nil {
		h.logger.Error("list conversations failed", "user_id", userID, "error", err)
		http.Error(w, "failed to list conversations", http.StatusInternalServerError)
		return
	}
	if convos == nil {
		convos = []*Conversation{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(convos)
}

func (h *Handler) GetMessages(w http.ResponseWriter, r *http.Request) {
	conversationID, err := pathID(r, "conversationID")
	if err != nil {
		http.Error(w, "invalid conversation id", http.StatusBadRequest)
		return
	}

	page := queryInt(r, "page", 1)
	limit := queryInt(r, "limit", 50)

	var msgs []*Message
	if after := r.URL.Query().Get("after"); after != "" {
		// Cursor variant used by the polling fallback.
		cursor, err := time.Parse(time.RFC3339Nano, after)
		if err != nil {
			http.Error(w, "invalid after cursor", http.StatusBadRequest)
			return
		}
		msgs, err = h.store.MessagesAfter(r.Context(), conversationID, cursor, limit)
		if err != nil {
			h.logger.Error("fetch messages after cursor failed",
				"conversation_id", conversationID, "error", err)
			http.Error(w, "failed to fetch messages", http.StatusInternalServerError)
			return
		}
	} else {
		msgs, err = h.store.MessagesPage(r.Context(), conversationID, page, limit)
		if err != nil {
			h.logger.Error("fetch message page failed",
				"conversation_id", conversationID, "error", err)
			http.Error(w, "failed to fetch messages", http.StatusInternalServerError)
			return
		}
	}
	if msgs == nil {
		msgs = []*Message{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(msgs)
}

func (h *Handler) GetMessage(w http.ResponseWriter, r *http.Request) {
	conversationID, err := pathID(r, "conversationID")
	if err != nil {
		http.Error(w, "invalid conversation id", http.StatusBadRequest)
		return
	}
	messageID, err := pathID(r, "messageID")
	if err != nil {
		http.Error(w, "invalid message id", http.StatusBadRequest)
		return
	}

	msg, err := h.store.GetMessage(r.Context(), conversationID, messageID)
	if err != nil {
		if errors.Is(err, ErrMessageNotFound) {
			http.Error(w, "message not found", http.StatusNotFound)
			return
		}
		h.logger.Error("fetch message failed", "message_id", messageID, "error", err)
		http.Error(w, "failed to fetch message", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(msg)
}

func (h *Handler) SendMessage(w http.ResponseWriter, r *http.Request) {
	var req SendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.ConversationID == 0 || req.SenderID == 0 || req.MessageText == "" {
		http.Error(w, "conversationId, senderId and messageText are required", http.StatusBadRequest)
		return
	}

	msg, err := h.store.SaveMessage(r.Context(), req.ConversationID, req.SenderID, req.MessageText, req.MessageType)
	if err != nil {
		switch {
		case errors.Is(err, ErrNotParticipant):
			http.Error(w, "sender is not a participant", http.StatusForbidden)
		case errors.Is(err, ErrConversationNotFound):
			http.Error(w, "conversation not found", http.StatusNotFound)
		default:
			h.logger.Error("save message failed",
				"conversation_id", req.ConversationID, "error", err)
			http.Error(w, "failed to send message", http.StatusInternalServerError)
		}
		return
	}

	h.publishInsert(r.Context(), msg, req.LocalID)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(msg)
}

// publishInsert notifies subscribers of the new row. Failures are logged
// only: subscribers that miss the push pick the message up via polling.
func (h *Handler) publishInsert(ctx context.Context, msg *Message, localID string) {
	if h.channel == nil {
		return
	}
	event := notify.MessageEvent{
		ConversationID: msg.ConversationID,
		MessageID:      msg.ID,
		SenderID:       msg.SenderID,
		LocalID:        localID,
		MessageText:    msg.MessageText,
		CreatedAt:      msg.CreatedAt,
	}
	payload, err := json.Marshal(event)
	if err != nil {
		h.logger.Error("marshal insert event failed", "message_id", msg.ID, "error", err)
		return
	}
	if err := h.channel.Publish(ctx, notify.MessageTopic(msg.ConversationID), payload); err != nil {
		h.logger.Warn("publish insert event failed",
			"conversation_id", msg.ConversationID, "message_id", msg.ID, "error", err)
	}
}

func (h *Handler) MarkRead(w http.ResponseWriter, r *http.Request) {
	var req MarkReadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := h.store.MarkMessagesAsRead(r.Context(), req.ConversationID, req.UserID); err != nil {
		h.logger.Error("mark read failed",
			"conversation_id", req.ConversationID, "user_id", req.UserID, "error", err)
		http.Error(w, "failed to mark messages read", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]bool{"success": true})
}

func (h *Handler) UnreadCount(w http.ResponseWriter, r *http.Request) {
	userID, err := pathID(r, "userID")
	if err != nil {
		http.Error(w, "invalid user id", http.StatusBadRequest)
		return
	}

	count, err := h.store.UnreadCount(r.Context(), userID)
	if err != nil {
		h.logger.Error("unread count failed", "user_id", userID, "error", err)
		http.Error(w, "failed to compute unread count", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]int{"unreadCount": count})
}

func pathID(r *http.Request, name string) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, name), 10, 64)
}

func queryInt(r *http.Request, name string, defaultVal int) int {
	if v := r.URL.Query().Get(name); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return defaultVal
}
