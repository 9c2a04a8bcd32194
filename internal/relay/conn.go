package relay

import (
	"encoding/json"
	"time"

	"github.com/BioHazard786/duet/internal/transport"
	"github.com/gorilla/websocket"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 64 * 1024 // 64 KB - enough for SDP messages

	sendBuffer = 256
)

// Conn is one participant's websocket connection.
type Conn struct {
	// ID is the participant identity, taken from the userid query parameter.
	ID string

	// MsgEvent names the event peer envelopes travel on.
	MsgEvent string

	// RoomID is set once the participant opens or joins a room.
	RoomID string

	// Extra is the opaque extra data supplied with open/join.
	Extra json.RawMessage

	hub  *Hub
	ws   *websocket.Conn
	send chan *transport.Frame

	// closed is owned by the hub goroutine.
	closed bool
}

// inbound is a frame read from a connection, queued for the hub.
type inbound struct {
	conn  *Conn
	frame *transport.Frame
}

// readPump pumps frames from the websocket connection to the hub.
//
// There is at most one reader on a connection; all reads happen here.
func (c *Conn) readPump() {
	defer func() {
		c.hub.leave(c)
		c.ws.Close()
	}()

	c.ws.SetReadLimit(maxMessageSize)
	c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		var f transport.Frame
		if err := c.ws.ReadJSON(&f); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.hub.log.Warn("read failed", "user", c.ID, "err", err)
			}
			return
		}
		if !c.hub.enqueue(inbound{conn: c, frame: &f}) {
			return
		}
	}
}

// writePump pumps frames from the hub to the websocket connection.
//
// There is at most one writer on a connection; all writes happen here.
func (c *Conn) writePump() {
	ticker := time.NewTicker(pingPeriod)

	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()

	for {
		select {
		case f, ok := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel.
				c.ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.ws.WriteJSON(f); err != nil {
				c.hub.log.Warn("write failed", "user", c.ID, "err", err)
				return
			}

		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
