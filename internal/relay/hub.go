// Package relay is the room server two duet clients meet through. It
// answers presence, open and join requests and forwards envelopes between
// the members of a room.
package relay

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync/atomic"

	"github.com/BioHazard786/duet/internal/signaling"
	"github.com/BioHazard786/duet/internal/transport"
)

// EventUserDisconnected tells the remaining member that its peer left.
const EventUserDisconnected = "user-disconnected"

// Refusal reasons sent as the second acknowledgment argument.
const (
	reasonRoomExists   = "room already exists"
	reasonRoomNotFound = "room not found"
	reasonRoomFull     = "room is full"
	reasonInRoom       = "already in a room"
	reasonBadRequest   = "malformed request"
	reasonUnknown      = "unknown event"
)

// Hub is the central brain of the relay server.
// It manages all active rooms and connections from a single goroutine.
type Hub struct {
	rooms map[string]*Room
	conns map[string]*Conn

	register   chan *Conn
	unregister chan *Conn
	inbound    chan inbound
	done       chan struct{}

	roomCount atomic.Int64
	connCount atomic.Int64

	log *slog.Logger
}

// NewHub creates a new Hub instance.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		rooms:      make(map[string]*Room),
		conns:      make(map[string]*Conn),
		register:   make(chan *Conn),
		unregister: make(chan *Conn),
		inbound:    make(chan inbound),
		done:       make(chan struct{}),
		log:        logger.With("component", "relay"),
	}
}

// Stats is a point-in-time count of rooms and connections.
type Stats struct {
	Rooms       int64 `json:"rooms"`
	Connections int64 `json:"connections"`
}

// Stats reports current totals. Safe from any goroutine.
func (h *Hub) Stats() Stats {
	return Stats{Rooms: h.roomCount.Load(), Connections: h.connCount.Load()}
}

// Run is the single goroutine that owns all rooms and connections. It
// returns when ctx is cancelled, closing every connection.
func (h *Hub) Run(ctx context.Context) {
	defer func() {
		close(h.done)
		for _, c := range h.conns {
			h.closeConn(c)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case c := <-h.register:
			h.onRegister(c)

		case c := <-h.unregister:
			h.onUnregister(c)

		case in := <-h.inbound:
			if in.conn.closed {
				continue
			}
			h.handle(in.conn, in.frame)
		}
	}
}

// enqueue hands a frame to the hub unless it has stopped.
func (h *Hub) enqueue(in inbound) bool {
	select {
	case h.inbound <- in:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) join(c *Conn) bool {
	select {
	case h.register <- c:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) leave(c *Conn) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

func (h *Hub) onRegister(c *Conn) {
	if _, taken := h.conns[c.ID]; taken {
		h.log.Warn("duplicate user id refused", "user", c.ID)
		h.closeConn(c)
		return
	}
	h.conns[c.ID] = c
	h.connCount.Store(int64(len(h.conns)))
	h.log.Info("user connected", "user", c.ID, "addr", c.ws.RemoteAddr())
}

func (h *Hub) onUnregister(c *Conn) {
	if h.conns[c.ID] != c {
		h.closeConn(c)
		return
	}
	delete(h.conns, c.ID)
	h.connCount.Store(int64(len(h.conns)))
	h.log.Info("user disconnected", "user", c.ID)

	if room, ok := h.rooms[c.RoomID]; ok {
		remaining := room.remove(c)
		if room.empty() {
			delete(h.rooms, room.ID)
			h.roomCount.Store(int64(len(h.rooms)))
			h.log.Info("room deleted", "room", room.ID)
		} else if remaining != nil {
			h.push(remaining, EventUserDisconnected, c.ID)
		}
	}
	h.closeConn(c)
}

// closeConn stops the connection's writePump.
func (h *Hub) closeConn(c *Conn) {
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

func (h *Hub) handle(c *Conn, f *transport.Frame) {
	switch f.Event {
	case signaling.EventCheckPresence:
		h.checkPresence(c, f)
	case signaling.EventOpenRoom:
		h.openRoom(c, f)
	case signaling.EventJoinRoom:
		h.joinRoom(c, f)
	case c.MsgEvent:
		h.relay(c, f)
	default:
		h.log.Debug("unknown event", "user", c.ID, "event", f.Event)
		if f.ID > 0 {
			h.ack(c, f.ID, false, reasonUnknown)
		}
	}
}

func (h *Hub) checkPresence(c *Conn, f *transport.Frame) {
	var roomID string
	if len(f.Args) == 0 || json.Unmarshal(f.Args[0], &roomID) != nil {
		h.ack(c, f.ID, false, "", map[string]any{})
		return
	}
	room, ok := h.rooms[roomID]
	present := ok && !room.empty()
	h.log.Debug("presence checked", "user", c.ID, "room", roomID, "present", present)
	h.ack(c, f.ID, present, roomID, map[string]any{})
}

// roomRequest decodes the open/join payload.
func roomRequest(f *transport.Frame) (*signaling.RoomRequest, bool) {
	if len(f.Args) == 0 {
		return nil, false
	}
	var req signaling.RoomRequest
	if err := json.Unmarshal(f.Args[0], &req); err != nil || req.SessionID == "" {
		return nil, false
	}
	return &req, true
}

func extraOf(req *signaling.RoomRequest) json.RawMessage {
	if req.Extra == nil {
		return json.RawMessage(`{}`)
	}
	b, err := json.Marshal(req.Extra)
	if err != nil {
		return json.RawMessage(`{}`)
	}
	return b
}

func (h *Hub) openRoom(c *Conn, f *transport.Frame) {
	req, ok := roomRequest(f)
	if !ok {
		h.ack(c, f.ID, false, reasonBadRequest)
		return
	}
	if c.RoomID != "" {
		h.ack(c, f.ID, false, reasonInRoom)
		return
	}
	if room, exists := h.rooms[req.SessionID]; exists && !room.empty() {
		h.log.Info("room open refused", "user", c.ID, "room", req.SessionID, "reason", reasonRoomExists)
		h.ack(c, f.ID, false, reasonRoomExists)
		return
	}

	h.rooms[req.SessionID] = &Room{ID: req.SessionID, Owner: c}
	h.roomCount.Store(int64(len(h.rooms)))
	c.RoomID = req.SessionID
	c.Extra = extraOf(req)

	h.log.Info("room opened", "user", c.ID, "room", req.SessionID)
	h.ack(c, f.ID, true, req.SessionID)
}

func (h *Hub) joinRoom(c *Conn, f *transport.Frame) {
	req, ok := roomRequest(f)
	if !ok {
		h.ack(c, f.ID, false, reasonBadRequest)
		return
	}
	if c.RoomID != "" {
		h.ack(c, f.ID, false, reasonInRoom)
		return
	}
	room, exists := h.rooms[req.SessionID]
	if !exists || room.empty() {
		h.log.Info("room join refused", "user", c.ID, "room", req.SessionID, "reason", reasonRoomNotFound)
		h.ack(c, f.ID, false, reasonRoomNotFound)
		return
	}
	if room.full() {
		h.log.Info("room join refused", "user", c.ID, "room", req.SessionID, "reason", reasonRoomFull)
		h.ack(c, f.ID, false, reasonRoomFull)
		return
	}

	room.Guest = c
	c.RoomID = room.ID
	c.Extra = extraOf(req)

	h.log.Info("room joined", "user", c.ID, "room", room.ID)
	h.ack(c, f.ID, true, room.ID)

	owner := room.Owner
	h.push(owner, signaling.EventUserConnected, c.ID)
	h.push(c, signaling.EventUserConnected, owner.ID)
	h.push(owner, signaling.EventExtraDataUpdated, c.ID, c.Extra)
}

// relay forwards an envelope. One addressed to the sender's room goes to
// every other member with the recipient rewritten to that member; one
// addressed to a connected user goes to that user unchanged.
func (h *Hub) relay(c *Conn, f *transport.Frame) {
	if len(f.Args) == 0 {
		return
	}
	var env signaling.Envelope
	if err := json.Unmarshal(f.Args[0], &env); err != nil {
		h.log.Warn("envelope dropped", "user", c.ID, "err", err)
		return
	}

	if room, ok := h.rooms[c.RoomID]; ok && env.Recipient == room.ID {
		for _, member := range room.members() {
			if member == c {
				continue
			}
			out := env
			out.Recipient = member.ID
			h.push(member, c.MsgEvent, &out)
		}
		return
	}

	target, ok := h.conns[env.Recipient]
	if !ok {
		h.log.Debug("envelope for unknown recipient dropped", "user", c.ID, "recipient", env.Recipient)
		return
	}
	h.push(target, c.MsgEvent, f.Args[0])
}

func (h *Hub) ack(c *Conn, id uint64, args ...any) {
	if id == 0 {
		return
	}
	f, err := transport.AckFrame(id, args...)
	if err != nil {
		h.log.Error("ack not encoded", "user", c.ID, "err", err)
		return
	}
	h.deliver(c, f)
}

func (h *Hub) push(c *Conn, event string, args ...any) {
	f, err := transport.NewFrame(event, args...)
	if err != nil {
		h.log.Error("event not encoded", "user", c.ID, "event", event, "err", err)
		return
	}
	h.deliver(c, f)
}

// deliver queues f without blocking the hub. A connection whose buffer is
// full is too slow to keep and gets closed.
func (h *Hub) deliver(c *Conn, f *transport.Frame) {
	if c.closed {
		return
	}
	select {
	case c.send <- f:
	default:
		h.log.Warn("send buffer full, closing connection", "user", c.ID)
		h.closeConn(c)
	}
}
