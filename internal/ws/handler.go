package ws

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"

	"planlink/internal/chat"
	"planlink/internal/delivery"
	"planlink/internal/middleware"
	"planlink/internal/notify"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// TODO: restrict origins once the frontend host is pinned down.
	CheckOrigin: func(r *http.Request) bool { return true },
}

type Handler struct {
	store   chat.Store
	channel notify.Channel
	opts    delivery.Options
	logger  *slog.Logger
}

func NewHandler(store chat.Store, channel notify.Channel, opts delivery.Options, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{store: store, channel: channel, opts: opts, logger: logger}
}

type outboundFrame struct {
	Type    string `json:"type"` // "message" or "typing"
	Payload any    `json:"payload"`
}

// ServeWs upgrades the connection and runs one delivery session for the
// authenticated user until the socket closes.
func (h *Handler) ServeWs(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserID(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	session := delivery.NewSession(storeGateway{store: h.store}, h.channel, h.opts, h.logger)
	session.Connect(userID)

	client := &Client{
		conn:    conn,
		session: session,
		send:    make(chan []byte, 256),
		logger:  h.logger.With("user_id", userID),
	}

	session.OnMessage(func(msg *chat.Message) {
		payload, err := json.Marshal(outboundFrame{Type: "message", Payload: msg})
		if err != nil {
			return
		}
		client.enqueue(payload)
	})
	session.OnTyping(func(event notify.TypingEvent) {
		payload, err := json.Marshal(outboundFrame{Type: "typing", Payload: event})
		if err != nil {
			return
		}
		client.enqueue(payload)
	})

	go client.writePump()
	go client.readPump()
}
