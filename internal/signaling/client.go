// Package signaling pairs two participants of a named room, settles which
// of them initiates, and relays the offer, answer and connectivity
// candidates they need for a direct peer session.
package signaling

import (
	"crypto/rand"
	"encoding/json"
	"log/slog"
	"math/big"
	"sync/atomic"
)

const (
	clientIDAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"
	clientIDLength   = 11
)

// Channel is the bidirectional event socket the client talks through.
// Handlers and acknowledgment callbacks may run on any goroutine.
type Channel interface {
	Connect() error
	Disconnect()
	Connected() bool
	Emit(event string, args ...any) error
	EmitWithAck(event string, ack func(args ...json.RawMessage), args ...any) error
	On(event string, handler func(args ...json.RawMessage))
}

// ChannelFactory builds the channel for a freshly generated client id.
type ChannelFactory func(clientID string) (Channel, error)

// RoomParameters is handed to the sink once the room is usable.
type RoomParameters struct {
	Role       Role
	ClientID   string
	RoomID     string
	Offer      *SessionDescription
	ICEServers []string
}

// Initiator reports whether the local side should produce the offer.
func (p *RoomParameters) Initiator() bool {
	return p.Role == RoleInitiator
}

// Sink receives room and remote session events. Calls happen on the
// signaling loop and must not block for long.
type Sink interface {
	OnRoomConnected(params *RoomParameters)
	OnRemoteDescription(desc SessionDescription)
	OnRemoteCandidate(candidate Candidate)
}

// ClientConfig configures a Client.
type ClientConfig struct {
	RoomID string

	// MessageEvent defaults to DefaultMessageEvent.
	MessageEvent string

	// ClientID is generated when empty.
	ClientID string

	// ICEServers are passed through to the sink with the room parameters.
	ICEServers []string

	// Preferences default to DefaultMediaPreferences.
	Preferences *MediaPreferences

	Logger *slog.Logger

	// OnStateChange observes handshake progress from the signaling loop.
	OnStateChange func(State)
}

// Client drives the room handshake for one participant. Every public call
// and every channel callback is queued onto a single loop, so the fields
// below the loop are only touched from that goroutine.
type Client struct {
	id           string
	roomID       string
	messageEvent string
	iceServers   []string
	prefs        MediaPreferences
	channel      Channel
	sink         Sink
	log          *slog.Logger
	onState      func(State)

	loop  *loop
	state atomic.Int32
	roleV atomic.Int32
	peerV atomic.Value

	subscribed        bool
	presenceRequested bool
	peerID            string
	observedPeer      string
	peerReady         bool
	offer             *SessionDescription
	offerSent         bool
	pending           candidateBuffer
}

// NewClient creates a client for cfg.RoomID. The channel is built here so
// an unusable transport target aborts construction.
func NewClient(cfg ClientConfig, newChannel ChannelFactory, sink Sink) (*Client, error) {
	if cfg.RoomID == "" {
		return nil, NewError("create client", ErrNoRoom)
	}
	if newChannel == nil {
		return nil, NewError("create client", ErrNoChannel)
	}
	if sink == nil {
		return nil, NewError("create client", ErrNoSink)
	}

	id := cfg.ClientID
	if id == "" {
		id = NewClientID()
	}

	channel, err := newChannel(id)
	if err != nil {
		return nil, NewError("create channel", err)
	}

	prefs := DefaultMediaPreferences()
	if cfg.Preferences != nil {
		prefs = *cfg.Preferences
	}
	event := cfg.MessageEvent
	if event == "" {
		event = DefaultMessageEvent
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	c := &Client{
		id:           id,
		roomID:       cfg.RoomID,
		messageEvent: event,
		iceServers:   cfg.ICEServers,
		prefs:        prefs,
		channel:      channel,
		sink:         sink,
		log:          logger.With("component", "signaling", "client", id, "room", cfg.RoomID),
		onState:      cfg.OnStateChange,
		loop:         newLoop(),
	}
	c.peerV.Store("")

	go c.loop.run()
	return c, nil
}

// NewClientID returns a random lowercase alphanumeric identity.
func NewClientID() string {
	b := make([]byte, clientIDLength)
	max := big.NewInt(int64(len(clientIDAlphabet)))
	for i := range b {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			panic("signaling: crypto/rand unavailable: " + err.Error())
		}
		b[i] = clientIDAlphabet[n.Int64()]
	}
	return string(b)
}

// ID is this client's identity.
func (c *Client) ID() string { return c.id }

// RoomID is the room this client negotiates in.
func (c *Client) RoomID() string { return c.roomID }

// State is the current handshake state.
func (c *Client) State() State { return State(c.state.Load()) }

// Role is the negotiated role, RoleUnknown until the presence check returns.
func (c *Client) Role() Role { return Role(c.roleV.Load()) }

// PeerID is the other participant, empty until learned.
func (c *Client) PeerID() string { return c.peerV.Load().(string) }

// Done is closed once the signaling loop has stopped.
func (c *Client) Done() <-chan struct{} { return c.loop.done }

// ConnectToRoom connects the channel and starts role negotiation. It
// returns immediately; progress is reported through the sink.
func (c *Client) ConnectToRoom() {
	c.loop.post(c.connectToRoom)
}

// SubmitLocalOffer caches the offer until the peer signals readyForOffer.
func (c *Client) SubmitLocalOffer(desc SessionDescription) {
	c.loop.post(func() { c.submitLocalOffer(desc) })
}

// SubmitLocalAnswer sends the answer to the peer right away.
func (c *Client) SubmitLocalAnswer(desc SessionDescription) {
	c.loop.post(func() { c.submitLocalAnswer(desc) })
}

// SubmitLocalCandidate sends or buffers a local candidate depending on role.
func (c *Client) SubmitLocalCandidate(candidate Candidate) {
	c.loop.post(func() { c.submitLocalCandidate(candidate) })
}

// SubmitLocalCandidateRemoval is accepted for interface compatibility and
// has no protocol effect.
func (c *Client) SubmitLocalCandidateRemoval(candidates []Candidate) {
	c.log.Debug("candidate removal ignored", "count", len(candidates))
}

// Disconnect closes the channel and stops the loop. Tasks still queued
// behind it are abandoned.
func (c *Client) Disconnect() {
	c.loop.post(func() {
		c.log.Info("leaving room")
		c.close()
	})
}

func (c *Client) close() {
	c.channel.Disconnect()
	c.setState(StateClosed)
	c.loop.quit()
}

// connectToRoom starts the handshake, or dials again while a previous
// attempt never reached the server.
func (c *Client) connectToRoom() {
	switch state := c.State(); {
	case state == StateDisconnected:
		c.setState(StateConnecting)
	case state == StateConnecting && !c.channel.Connected():
		c.log.Info("retrying connect")
	default:
		c.log.Debug("connect ignored", "state", state)
		return
	}

	if !c.subscribed {
		c.subscribed = true
		c.channel.On(EventConnect, func(...json.RawMessage) {
			c.loop.post(c.determineRole)
		})
		c.channel.On(EventConnectError, func(args ...json.RawMessage) {
			c.loop.post(func() { c.onConnectError(args) })
		})
		c.channel.On(EventDisconnect, func(...json.RawMessage) {
			c.loop.post(c.onChannelLost)
		})
		c.channel.On(c.messageEvent, func(args ...json.RawMessage) {
			c.loop.post(func() { c.onMessage(args) })
		})
		c.channel.On(EventExtraDataUpdated, func(args ...json.RawMessage) {
			c.loop.post(func() { c.onExtraDataUpdated(args) })
		})
		c.channel.On(EventUserConnected, func(args ...json.RawMessage) {
			c.loop.post(func() { c.onUserConnected(args) })
		})
	}

	if c.channel.Connected() {
		c.determineRole()
		return
	}
	if err := c.channel.Connect(); err != nil {
		c.log.Error("channel connect failed", "err", WrapError("connect", ErrChannel, err.Error()))
	}
}

// onConnectError leaves the client in Connecting; ConnectToRoom dials again.
func (c *Client) onConnectError(args []json.RawMessage) {
	c.log.Error("channel connect failed", "err", WrapError("connect", ErrChannel, ackString(args, 0)))
}

func (c *Client) onChannelLost() {
	if c.State() == StateClosed {
		return
	}
	c.log.Warn("channel lost", "state", c.State())
	c.close()
}

func (c *Client) onExtraDataUpdated(args []json.RawMessage) {
	c.log.Debug("extra data updated", "user", ackString(args, 0), "extra", ackString(args, 1))
}

func (c *Client) onUserConnected(args []json.RawMessage) {
	if len(args) == 0 {
		return
	}
	c.observedPeer = ackString(args, 0)
	c.log.Debug("user connected", "user", c.observedPeer)
}

// send wraps payload in an envelope from this client to recipient.
func (c *Client) send(recipient string, payload any) {
	env, err := NewEnvelope(recipient, c.id, payload)
	if err != nil {
		c.log.Error("message not encoded", "err", err)
		return
	}
	if err := c.channel.Emit(c.messageEvent, env); err != nil {
		c.log.Error("message not sent", "recipient", recipient, "err", WrapError("send", ErrChannel, err.Error()))
	}
}

func (c *Client) setState(s State) {
	if State(c.state.Swap(int32(s))) == s {
		return
	}
	c.log.Debug("state changed", "state", s)
	if c.onState != nil {
		c.onState(s)
	}
}

func (c *Client) role() Role { return Role(c.roleV.Load()) }

func (c *Client) setRole(r Role) {
	c.roleV.Store(int32(r))
	c.log.Info("role assigned", "role", r)
}

func (c *Client) setPeer(id string) {
	c.peerID = id
	c.peerV.Store(id)
}
