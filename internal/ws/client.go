package ws

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"realtime-chat/internal/models"
)

// Client is one live websocket connection. The write mutex serializes
// frames: a connection joined to many rooms is written by many broadcasts
// concurrently.
type Client struct {
	ConnID      string
	UserID      int
	Username    string
	IP          string
	RequestID   string
	TraceID     string
	ConnectedAt time.Time

	conn    *websocket.Conn
	writeMu sync.Mutex
}

// NewClient wraps an upgraded connection.
func NewClient(conn *websocket.Conn, connID string, userID int, username string) *Client {
	return &Client{
		ConnID:      connID,
		UserID:      userID,
		Username:    username,
		ConnectedAt: time.Now(),
		conn:        conn,
	}
}

// Send writes one event frame to the connection.
func (c *Client) Send(event models.WSEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, payload)
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	return c.conn.Close()
}
