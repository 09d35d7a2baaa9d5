package relay

import (
	"encoding/json"
	"time"

	"github.com/BioHazard786/meshroom/internal/signaling"
	"github.com/gorilla/websocket"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer. SDP bodies fit comfortably.
	maxMessageSize = 64 * 1024

	sendBufferSize = 256
)

// Client is one peer attached to the hub, either over a websocket or in process.
type Client struct {
	hub  *Hub
	conn *websocket.Conn

	PeerID   string
	RoomCode string

	// send is drained by WritePump, or by a Link for in-process clients.
	// Only the hub closes it.
	send chan signaling.Envelope

	// closed is owned by the hub goroutine.
	closed bool
}

func newClient(hub *Hub, conn *websocket.Conn, peerID, room string) *Client {
	return &Client{
		hub:      hub,
		conn:     conn,
		PeerID:   peerID,
		RoomCode: room,
		send:     make(chan signaling.Envelope, sendBufferSize),
	}
}

// ReadPump pumps envelopes from the websocket connection to the hub.
//
// The application runs ReadPump in a per-connection goroutine. The application
// ensures that there is at most one reader on a connection by executing all
// reads from this goroutine.
func (c *Client) ReadPump() {
	defer func() {
		c.hub.leave(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				c.hub.logger.Debug("read error", "peer", c.PeerID, "error", err)
			}
			return
		}

		var env signaling.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			c.hub.logger.Warn("dropping malformed envelope", "peer", c.PeerID, "error", err)
			continue
		}

		if !c.hub.route(&frame{env: env, client: c}) {
			return
		}
	}
}

// WritePump pumps envelopes from the hub to the websocket connection.
//
// A goroutine running WritePump is started for each connection. The
// application ensures that there is at most one writer to a connection by
// executing all writes from this goroutine.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)

	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case env, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel.
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteJSON(env); err != nil {
				c.hub.logger.Debug("write error", "peer", c.PeerID, "error", err)
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

func deadline() time.Time {
	return time.Now().Add(writeWait)
}
