package headerinject

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	// Players are served from arbitrary origins.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// ServeWS accepts controller messages over a websocket. Each message gets
// exactly one Reply, in order.
func (w *Worker) ServeWS(rw http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(rw, r, nil)
	if err != nil {
		w.log.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	w.log.Debug("worker client connected", "remote", r.RemoteAddr)
	for {
		var msg Message
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				w.log.Debug("worker client read error", "error", err)
			}
			return
		}
		if err := conn.WriteJSON(w.HandleMessage(msg)); err != nil {
			return
		}
	}
}

// Conn is a controller-side connection to a remote worker endpoint.
type Conn struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

// Dial connects to a worker websocket endpoint (ws:// or wss://).
func Dial(ctx context.Context, endpoint string) (*Conn, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("dial worker %s: %w", endpoint, err)
	}
	return &Conn{conn: conn}, nil
}

// HandleMessage sends msg and waits for its reply.
func (c *Conn) HandleMessage(msg Message) Reply {
	c.mu.Lock()
	defer c.mu.Unlock()

	_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	if err := c.conn.WriteJSON(msg); err != nil {
		return Reply{T: msg.T, Error: err.Error()}
	}
	_ = c.conn.SetReadDeadline(time.Now().Add(10 * time.Second))
	var reply Reply
	if err := c.conn.ReadJSON(&reply); err != nil {
		return Reply{T: msg.T, Error: err.Error()}
	}
	return reply
}

// Close sends a close frame and closes the connection.
func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	return c.conn.Close()
}
