package realtime

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/eventems/backend/internal/events"
	"github.com/eventems/backend/internal/middleware"
)

const (
	sendBuffer   = 64
	writeTimeout = 10 * time.Second
	readLimit    = 4096
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // CORS middleware already restricts browser origins
	},
}

// WSMessage is the websocket message envelope.
type WSMessage struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Client is a single feed connection watching one event.
type Client struct {
	ID       string
	EventID  uuid.UUID
	UserID   uuid.UUID
	JoinedAt time.Time
	hub      *Hub
	conn     *websocket.Conn
	send     chan WSMessage
	logger   *zap.Logger
}

// ServeCheckIns upgrades to a websocket and streams the event's check-ins. Mount it after
// middleware.Authenticate and events.RequireEventAccess so only the event's staff get here.
func ServeCheckIns(hub *Hub, logger *zap.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(c *gin.Context) {
		e := events.CurrentEvent(c)
		p := middleware.CurrentPrincipal(c)

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			logger.Warn("websocket upgrade failed", zap.Error(err))
			return
		}

		client := &Client{
			ID:       uuid.New().String(),
			EventID:  e.ID,
			UserID:   p.UserID,
			JoinedAt: time.Now(),
			hub:      hub,
			conn:     conn,
			send:     make(chan WSMessage, sendBuffer),
			logger:   logger,
		}
		hub.Register(client)
		hub.sendTo(client, EventSubscribed, map[string]interface{}{
			"event_id": e.ID,
			"watchers": hub.Watchers(e.ID),
		})
		go client.writePump()
		client.readPump()
	}
}

// readPump only services control frames; the feed is server to client.
func (c *Client) readPump() {
	defer func() {
		c.hub.Unregister(c)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(readLimit)
	_ = c.conn.SetReadDeadline(time.Now().Add(PongWait * time.Second))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(PongWait * time.Second))
		return nil
	})

	for {
		var msg WSMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Debug("feed client closed", zap.String("client_id", c.ID), zap.Error(err))
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(PongWait * time.Second))
		if msg.Event == EventWatchers {
			c.hub.sendTo(c, EventWatchers, map[string]int{"count": c.hub.Watchers(c.EventID)})
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(PingInterval * time.Second)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteJSON(msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
