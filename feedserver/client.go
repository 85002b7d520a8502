package feedserver

import (
	"time"

	"github.com/gorilla/websocket"
	"github.com/spooky-finn/go-orderbook-live/domain"
	"github.com/spooky-finn/go-orderbook-live/infrastructure/logger"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4 * 1024
)

// Client is one websocket viewer of a single pair.
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	pair domain.Pair
	send chan []byte

	// owned by the hub loop
	drops int
}

func newClient(hub *Hub, conn *websocket.Conn, pair domain.Pair) *Client {
	return &Client{
		hub:  hub,
		conn: conn,
		pair: pair,
		send: make(chan []byte, hub.sendBuf),
	}
}

// readPump only keeps the connection alive. Viewers never send commands.
func (c *Client) readPump() {
	defer func() {
		c.hub.Unregister(c)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.log.WithError(err).WithFields(logger.Fields{"pair": c.pair.String()}).Debug("client read error")
			}
			return
		}
	}
}

// writePump serializes all writes to the connection. Every message is sent as
// its own text frame.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				)
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
