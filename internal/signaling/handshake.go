package signaling

import (
	"encoding/json"
	"errors"
)

// transition handles one inbound event kind. accepts limits it to a role;
// RoleUnknown accepts any role.
type transition struct {
	accepts Role
	handle  func(c *Client, ev *inboundEvent)
}

var transitions = map[eventKind]transition{
	eventParticipationRequest: {accepts: RoleInitiator, handle: (*Client).onParticipationRequest},
	eventEnableMedia:          {accepts: RoleResponder, handle: (*Client).onEnableMedia},
	eventReadyForOffer:        {accepts: RoleInitiator, handle: (*Client).onReadyForOffer},
	eventOffer:                {accepts: RoleResponder, handle: (*Client).onRemoteOffer},
	eventAnswer:               {accepts: RoleUnknown, handle: (*Client).onRemoteAnswer},
	eventCandidate:            {accepts: RoleUnknown, handle: (*Client).onRemoteCandidate},
}

func (c *Client) openRoom() {
	err := c.channel.EmitWithAck(EventOpenRoom, func(args ...json.RawMessage) {
		c.loop.post(func() { c.onRoomOpened(args) })
	}, NewRoomRequest(c.roomID, c.prefs))
	if err != nil {
		c.log.Error("open-room not sent", "err", err)
	}
}

func (c *Client) joinRoom() {
	err := c.channel.EmitWithAck(EventJoinRoom, func(args ...json.RawMessage) {
		c.loop.post(func() { c.onRoomJoined(args) })
	}, NewRoomRequest(c.roomID, c.prefs))
	if err != nil {
		c.log.Error("join-room not sent", "err", err)
	}
}

func (c *Client) onRoomOpened(args []json.RawMessage) {
	if !c.ackSucceeded(EventOpenRoom, args) {
		return
	}
	c.setState(StateRoomEstablished)
	c.log.Info("room opened")

	c.sink.OnRoomConnected(&RoomParameters{
		Role:       RoleInitiator,
		ClientID:   c.id,
		RoomID:     c.roomID,
		ICEServers: c.iceServers,
	})
	c.setState(StateParticipationExchanged)
}

func (c *Client) onRoomJoined(args []json.RawMessage) {
	if !c.ackSucceeded(EventJoinRoom, args) {
		return
	}
	c.setState(StateRoomEstablished)
	c.log.Info("room joined")

	// Addressed to the room; the server rewrites the recipient per member.
	c.send(c.roomID, newParticipationRequest(c.prefs))
	c.setState(StateParticipationExchanged)
}

// ackSucceeded reports whether an open/join acknowledgment allows the
// handshake to continue. A refusal leaves the state machine parked.
func (c *Client) ackSucceeded(op string, args []json.RawMessage) bool {
	ok, err := decodeAck(op, args)
	if err != nil {
		c.log.Warn("acknowledgment dropped", "op", op, "err", err)
		return false
	}
	if !ok {
		c.log.Warn("request refused", "op", op, "err", WrapError(op, ErrRejected, ackString(args, 1)))
		return false
	}
	return true
}

// onMessage filters and decodes one inbound envelope, then runs the
// transition registered for it.
func (c *Client) onMessage(args []json.RawMessage) {
	if len(args) == 0 {
		c.log.Warn("message dropped", "err", WrapError("receive", ErrMalformedMessage, "no arguments"))
		return
	}
	env, err := DecodeEnvelope(args[0])
	if err != nil {
		c.log.Warn("message dropped", "err", err)
		return
	}
	if env.Recipient != c.id {
		return
	}

	ev, err := decodeEvent(env)
	if err != nil {
		if errors.Is(err, ErrUnknownMessage) {
			c.log.Debug("message ignored", "sender", env.Sender)
		} else {
			c.log.Warn("message dropped", "sender", env.Sender, "err", err)
		}
		return
	}

	t, ok := transitions[ev.kind]
	if !ok {
		return
	}
	if t.accepts != RoleUnknown && t.accepts != c.role() {
		c.log.Debug("message not meaningful for role", "event", ev.kind, "role", c.role())
		return
	}
	c.log.Debug("message received", "event", ev.kind, "sender", ev.sender)
	t.handle(c, ev)
}

// learnPeer records the peer the first time it is seen. A different id
// later in the session is refused.
func (c *Client) learnPeer(id string) bool {
	if id == "" {
		return c.peerID != ""
	}
	if c.peerID == "" {
		c.setPeer(id)
		c.log.Info("peer learned", "peer", id)
		return true
	}
	if c.peerID != id {
		c.log.Warn("message from unexpected peer dropped", "peer", c.peerID, "sender", id)
		return false
	}
	return true
}

func (c *Client) onParticipationRequest(ev *inboundEvent) {
	if !c.learnPeer(ev.sender) {
		return
	}
	c.send(c.peerID, newEnableMedia(c.id, c.peerID, ev.raw, c.prefs))
}

func (c *Client) onEnableMedia(ev *inboundEvent) {
	if !c.learnPeer(ev.sender) {
		return
	}
	msg, err := newReadyForOffer(ev.preferences)
	if err != nil {
		c.log.Warn("enableMedia dropped", "err", err)
		return
	}
	c.send(c.peerID, msg)
}

func (c *Client) onReadyForOffer(ev *inboundEvent) {
	if !c.learnPeer(ev.sender) {
		return
	}
	if c.offerSent {
		c.log.Debug("readyForOffer after offer ignored")
		return
	}
	c.peerReady = true
	if c.offer == nil {
		c.log.Info("peer ready, waiting for local offer")
		return
	}
	c.flushOffer()
}

func (c *Client) onRemoteOffer(ev *inboundEvent) {
	if !c.learnPeer(ev.sender) {
		return
	}
	if c.State() == StateSessionActive {
		c.log.Warn("repeated offer ignored", "sender", ev.sender)
		return
	}
	offer := ev.description
	c.sink.OnRoomConnected(&RoomParameters{
		Role:       RoleResponder,
		ClientID:   c.id,
		RoomID:     c.roomID,
		Offer:      &offer,
		ICEServers: c.iceServers,
	})
	c.setState(StateSessionActive)
}

func (c *Client) onRemoteAnswer(ev *inboundEvent) {
	c.sink.OnRemoteDescription(ev.description)
}

func (c *Client) onRemoteCandidate(ev *inboundEvent) {
	c.sink.OnRemoteCandidate(ev.candidate)
}
