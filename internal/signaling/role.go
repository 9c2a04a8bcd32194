package signaling

import (
	"encoding/json"
	"log/slog"
)

// Role is the part a client plays in its two-party room.
type Role int32

const (
	RoleUnknown Role = iota
	RoleInitiator
	RoleResponder
)

func (r Role) String() string {
	switch r {
	case RoleInitiator:
		return "initiator"
	case RoleResponder:
		return "responder"
	}
	return "unknown"
}

// determineRole asks the server whether somebody already holds the room.
// An absent room makes this client the initiator; it runs at most once.
func (c *Client) determineRole() {
	if c.presenceRequested {
		return
	}
	c.presenceRequested = true

	c.log.Debug("checking room presence", "room", c.roomID)
	err := c.channel.EmitWithAck(EventCheckPresence, func(args ...json.RawMessage) {
		c.loop.post(func() { c.onPresence(args) })
	}, c.roomID)
	if err != nil {
		c.log.Error("presence check not sent", "err", err)
	}
}

func (c *Client) onPresence(args []json.RawMessage) {
	present, err := decodeAck(EventCheckPresence, args)
	if err != nil {
		c.log.Warn("presence acknowledgment dropped", "err", err)
		return
	}
	if c.role() != RoleUnknown {
		return
	}

	c.log.Info("presence checked",
		"room", ackString(args, 1),
		"present", present,
		slog.String("extra", ackString(args, 2)),
	)

	if present {
		c.setRole(RoleResponder)
		c.setState(StatePresenceChecked)
		c.joinRoom()
		return
	}
	c.setRole(RoleInitiator)
	c.setState(StatePresenceChecked)
	c.openRoom()
}
