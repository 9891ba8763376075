package websocket

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"shuttle-backend/internal/apperrors"
	"shuttle-backend/internal/models"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10

	// largest inbound frame, a location_update with all optional fields
	maxMessageSize = 1024

	sendBuffer = 256
)

// LocationRecorder accepts GPS fixes pushed over the socket by drivers
type LocationRecorder interface {
	RecordLocation(ctx context.Context, actor models.Actor, sessionID string, sample models.LocationSample) (*models.LocationSample, error)
}

// Client is one authenticated socket
type Client struct {
	UserID   string
	UserRole string
	conn     *websocket.Conn
	hub      *Hub
	// send is never closed, the hub signals shutdown through done
	send     chan []byte
	done     chan struct{}
	stopOnce sync.Once

	locations LocationRecorder
}

// IncomingMessage is a frame sent by the client
type IncomingMessage struct {
	Type      string          `json:"type"`
	Timestamp string          `json:"timestamp,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
}

type locationUpdate struct {
	SessionID  string   `json:"session_id"`
	Latitude   float64  `json:"latitude"`
	Longitude  float64  `json:"longitude"`
	Speed      *float64 `json:"speed"`
	Heading    *float64 `json:"heading"`
	Accuracy   *float64 `json:"accuracy"`
	CapturedAt int64    `json:"captured_at"`
}

func NewClient(userID, userRole string, conn *websocket.Conn, hub *Hub) *Client {
	return &Client{
		UserID:   userID,
		UserRole: userRole,
		conn:     conn,
		hub:      hub,
		send:     make(chan []byte, sendBuffer),
		done:     make(chan struct{}),
	}
}

// stop ends both pumps: WritePump sees done, ReadPump sees the closed conn
func (c *Client) stop() {
	c.stopOnce.Do(func() {
		close(c.done)
		if c.conn != nil {
			c.conn.Close()
		}
	})
}

func (c *Client) actor() models.Actor {
	return models.Actor{UserID: c.UserID, Role: c.UserRole}
}

// ReadPump handles inbound frames until the connection drops
func (c *Client) ReadPump() {
	defer func() {
		c.hub.leave(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("⚠️  WebSocket read error for %s: %v", c.UserID, err)
			}
			return
		}

		var msg IncomingMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			c.reply("error", map[string]string{"message": "invalid message format"})
			continue
		}
		c.handle(msg)
	}
}

func (c *Client) handle(msg IncomingMessage) {
	switch msg.Type {
	case "ping":
		c.reply("pong", nil)
	case "location_update":
		c.handleLocationUpdate(msg.Data)
	default:
		c.reply("error", map[string]string{"message": "unknown message type " + msg.Type})
	}
}

// handleLocationUpdate feeds a driver's fix into the tracking write path,
// the same one POST /sessions/{id}/location uses
func (c *Client) handleLocationUpdate(data json.RawMessage) {
	if c.locations == nil || c.UserRole != models.RoleDriver {
		c.reply("error", map[string]string{"message": "location updates are not accepted on this connection"})
		return
	}
	var u locationUpdate
	if err := json.Unmarshal(data, &u); err != nil || u.SessionID == "" {
		c.reply("error", map[string]string{"message": "location_update needs session_id, latitude and longitude"})
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), writeWait)
	defer cancel()
	sample, err := c.locations.RecordLocation(ctx, c.actor(), u.SessionID, models.LocationSample{
		Latitude:   u.Latitude,
		Longitude:  u.Longitude,
		Speed:      u.Speed,
		Heading:    u.Heading,
		Accuracy:   u.Accuracy,
		CapturedAt: u.CapturedAt,
	})
	if err != nil {
		log.Printf("❌ location_update from %s refused: %v", c.UserID, err)
		c.reply("location_rejected", map[string]interface{}{
			"session_id": u.SessionID,
			"status":     apperrors.HTTPStatus(err),
			"message":    err.Error(),
		})
		return
	}
	c.reply("location_ack", map[string]interface{}{"session_id": u.SessionID, "id": sample.ID})
}

// reply queues a frame for this client only, dropping it if the buffer is
// full or the client was stopped
func (c *Client) reply(kind string, data interface{}) {
	payload := map[string]interface{}{
		"type":      kind,
		"timestamp": time.Now().Format(time.RFC3339),
	}
	if data != nil {
		payload["data"] = data
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return
	}
	c.enqueue(b)
}

func (c *Client) enqueue(b []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- b:
		return true
	default:
		return false
	}
}

// WritePump drains the send queue onto the socket and keeps it alive with pings
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case <-c.done:
			return
		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.writeBatch(message); err != nil {
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

// writeBatch sends first plus whatever is already queued as one text frame,
// newline separated
func (c *Client) writeBatch(first []byte) error {
	w, err := c.conn.NextWriter(websocket.TextMessage)
	if err != nil {
		return err
	}
	w.Write(first)
	for n := len(c.send); n > 0; n-- {
		w.Write([]byte{'\n'})
		w.Write(<-c.send)
	}
	return w.Close()
}
