package ws

import (
	"encoding/json"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"

	"planlink/internal/delivery"
)

const (
	writeWait      = 10 * time.Second    // Time allowed to write a message to the peer.
	pongWait       = 60 * time.Second    // Time allowed to read the next pong message from the peer.
	pingPeriod     = (pongWait * 9) / 10 // Send pings to peer with this period. Must be less than pongWait.
	maxMessageSize = 512                 // Maximum message size allowed from peer.
)

// inboundFrame is what the browser sends: join/leave a conversation or a
// typing signal.
type inboundFrame struct {
	Action         string `json:"action"` // "join", "leave", "typing"
	ConversationID int64  `json:"conversation_id"`
	IsTyping       bool   `json:"is_typing"`
}

// Client bridges one websocket connection to one delivery session. The
// session does the heavy lifting (subscriptions, polling, dedup); the
// client just translates frames.
type Client struct {
	conn    *websocket.Conn
	session *delivery.Session
	send    chan []byte
	logger  *slog.Logger
}

// readPump consumes inbound frames until the connection dies, then tears
// the session down. Disconnect reclaims every subscription and timer the
// session opened.
func (c *Client) readPump() {
	defer func() {
		c.session.Disconnect()
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Warn("websocket read failed", "error", err)
			}
			return
		}

		var frame inboundFrame
		if err := json.Unmarshal(raw, &frame); err != nil {
			c.logger.Warn("malformed client frame", "error", err)
			continue
		}

		switch frame.Action {
		case "join":
			if err := c.session.Join(frame.ConversationID); err != nil {
				c.logger.Warn("join failed", "conversation_id", frame.ConversationID, "error", err)
			}
		case "leave":
			c.session.Leave(frame.ConversationID)
		case "typing":
			c.session.SendTyping(frame.ConversationID, frame.IsTyping)
		}
	}
}

// writePump pumps session events to the websocket connection.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case payload, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(payload)

			// Drain queued events into the same frame to cut syscalls.
			n := len(c.send)
			for i := 0; i < n; i++ {
				w.Write([]byte{'\n'})
				w.Write(<-c.send)
			}

			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// enqueue drops the event if the client is too slow to keep the buffer
// bounded.
func (c *Client) enqueue(payload []byte) {
	select {
	case c.send <- payload:
	default:
		c.logger.Warn("client send buffer full, dropping event")
	}
}
