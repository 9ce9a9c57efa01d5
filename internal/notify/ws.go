package notify

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/kiwari-pos/kds/internal/logger"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer
	maxMessageSize = 512
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // callers authenticate before upgrading
	},
}

// Client is one WebSocket connection bound to a hub subscription.
type Client struct {
	conn *websocket.Conn
	sub  *Subscription
}

// ReadPump only watches for disconnects; displays never send messages.
func (c *Client) ReadPump() {
	defer func() {
		c.sub.Close()
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.L().Warn("websocket read", zap.Error(err))
			}
			break
		}
	}
}

// WritePump forwards subscription events to the connection, batching
// whatever is already queued into one frame.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	events := c.sub.Events()
	for {
		select {
		case evt, ok := <-events:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			writeEvent(w, evt)

			n := len(events)
			for i := 0; i < n; i++ {
				next, ok := <-events
				if !ok {
					break
				}
				w.Write([]byte{'\n'})
				writeEvent(w, next)
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

func writeEvent(w interface{ Write([]byte) (int, error) }, evt Event) {
	msg, err := json.Marshal(evt)
	if err != nil {
		return
	}
	w.Write(msg)
}

// ServeWS upgrades an already authenticated request and streams events
// matching f over the socket.
func ServeWS(hub *Hub, f Filter, w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.FromCtx(r.Context()).Warn("websocket upgrade", zap.Error(err))
		return
	}

	client := &Client{conn: conn, sub: hub.Subscribe(f)}
	go client.WritePump()
	go client.ReadPump()
}
