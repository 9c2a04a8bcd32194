package signaling

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Transport event names.
const (
	EventConnect          = "connect"
	EventDisconnect       = "disconnect"
	EventConnectError     = "connect_error"
	EventCheckPresence    = "check-presence"
	EventOpenRoom         = "open-room"
	EventJoinRoom         = "join-room"
	EventExtraDataUpdated = "extra-data-updated"
	EventUserConnected    = "user-connected"

	// DefaultMessageEvent is the channel peer-addressed envelopes travel on.
	DefaultMessageEvent = "one-to-one-demo"
)

// SDPType is the kind of a session description.
type SDPType string

const (
	SDPTypeOffer  SDPType = "offer"
	SDPTypeAnswer SDPType = "answer"
)

// SessionDescription is an offer or answer produced by a media engine.
type SessionDescription struct {
	Type SDPType
	SDP  string
}

// Candidate is a single connectivity candidate.
type Candidate struct {
	SDPMid        string
	SDPMLineIndex int
	Candidate     string
}

// Envelope wraps every peer-addressed payload.
type Envelope struct {
	Recipient string          `json:"remoteUserId"`
	Sender    string          `json:"sender"`
	Message   json.RawMessage `json:"message"`
}

// NewEnvelope encodes payload and addresses it from sender to recipient.
func NewEnvelope(recipient, sender string, payload any) (*Envelope, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, &Error{Op: "encode payload", Err: err}
	}
	return &Envelope{Recipient: recipient, Sender: sender, Message: data}, nil
}

// DecodeEnvelope parses a raw envelope. The message body must be a JSON object.
func DecodeEnvelope(raw []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, WrapError("decode envelope", ErrMalformedMessage, err.Error())
	}
	body := bytes.TrimSpace(env.Message)
	if len(body) == 0 || body[0] != '{' {
		return nil, WrapError("decode envelope", ErrMalformedMessage, "message is not an object")
	}
	return &env, nil
}

// OfferConstraints mirrors the legacy offer/answer constraint object.
type OfferConstraints struct {
	OfferToReceiveAudio bool `json:"OfferToReceiveAudio"`
	OfferToReceiveVideo bool `json:"OfferToReceiveVideo"`
}

// MediaPreferences are the local session flags advertised during the handshake.
type MediaPreferences struct {
	Audio    bool
	Video    bool
	OneWay   bool
	DataOnly bool
}

// DefaultMediaPreferences requests a two-way audio and video session.
func DefaultMediaPreferences() MediaPreferences {
	return MediaPreferences{Audio: true, Video: true}
}

func (p MediaPreferences) offerConstraints() OfferConstraints {
	return OfferConstraints{OfferToReceiveAudio: p.Audio, OfferToReceiveVideo: p.Video}
}

// SessionFlags is the session section of an open/join request.
type SessionFlags struct {
	Audio bool `json:"audio"`
	Video bool `json:"video"`
}

// TrackConstraints is one media kind inside MediaConstraints.
type TrackConstraints struct {
	Mandatory map[string]any   `json:"mandatory"`
	Optional  []map[string]any `json:"optional"`
}

// MediaConstraints describes the capture constraints sent with open/join.
type MediaConstraints struct {
	Audio TrackConstraints `json:"audio"`
	Video TrackConstraints `json:"video"`
}

// SDPConstraints describes offer constraints sent with open/join.
type SDPConstraints struct {
	Mandatory OfferConstraints `json:"mandatory"`
	Optional  []map[string]any `json:"optional"`
}

// RoomRequest is the payload of open-room and join-room.
type RoomRequest struct {
	SessionID        string           `json:"sessionid"`
	Session          SessionFlags     `json:"session"`
	MediaConstraints MediaConstraints `json:"mediaConstraints"`
	SDPConstraints   SDPConstraints   `json:"sdpConstraints"`
	Streams          []any            `json:"streams"`
	Extra            map[string]any   `json:"extra"`
	Identifier       map[string]any   `json:"identifier"`
}

// NewRoomRequest builds the open/join payload for roomID.
func NewRoomRequest(roomID string, prefs MediaPreferences) *RoomRequest {
	return &RoomRequest{
		SessionID: roomID,
		Session:   SessionFlags{Audio: prefs.Audio, Video: prefs.Video},
		MediaConstraints: MediaConstraints{
			Audio: TrackConstraints{Mandatory: map[string]any{}, Optional: []map[string]any{}},
			Video: TrackConstraints{
				Mandatory: map[string]any{},
				Optional:  []map[string]any{{"facingMode": "user"}},
			},
		},
		SDPConstraints: SDPConstraints{
			Mandatory: prefs.offerConstraints(),
			Optional:  []map[string]any{{"VoiceActivityDetection": false}},
		},
		Streams:    []any{},
		Extra:      map[string]any{},
		Identifier: map[string]any{},
	}
}

type participationRequest struct {
	NewParticipationRequest  bool             `json:"newParticipationRequest"`
	IsOneWay                 bool             `json:"isOneWay"`
	IsDataOnly               bool             `json:"isDataOnly"`
	LocalPeerSdpConstraints  OfferConstraints `json:"localPeerSdpConstraints"`
	RemotePeerSdpConstraints OfferConstraints `json:"remotePeerSdpConstraints"`
}

func newParticipationRequest(prefs MediaPreferences) participationRequest {
	return participationRequest{
		NewParticipationRequest:  true,
		IsOneWay:                 prefs.OneWay,
		IsDataOnly:               prefs.DataOnly,
		LocalPeerSdpConstraints:  prefs.offerConstraints(),
		RemotePeerSdpConstraints: prefs.offerConstraints(),
	}
}

// connectionDescription keeps the field layout peers already expect:
// remoteUserId names the local client and sender names the peer.
type connectionDescription struct {
	RemoteUserID string          `json:"remoteUserId"`
	Message      json.RawMessage `json:"message"`
	Sender       string          `json:"sender"`
}

type userPreferences struct {
	LocalPeerSdpConstraints  OfferConstraints      `json:"localPeerSdpConstraints"`
	RemotePeerSdpConstraints OfferConstraints      `json:"remotePeerSdpConstraints"`
	IsOneWay                 bool                  `json:"isOneWay"`
	IsDataOnly               bool                  `json:"isDataOnly"`
	DontGetRemoteStream      bool                  `json:"dontGetRemoteStream"`
	DontAttachLocalStream    bool                  `json:"dontAttachLocalStream"`
	ConnectionDescription    connectionDescription `json:"connectionDescription"`
}

type enableMedia struct {
	EnableMedia     bool            `json:"enableMedia"`
	UserPreferences userPreferences `json:"userPreferences"`
}

func newEnableMedia(self, peer string, request json.RawMessage, prefs MediaPreferences) enableMedia {
	return enableMedia{
		EnableMedia: true,
		UserPreferences: userPreferences{
			LocalPeerSdpConstraints:  prefs.offerConstraints(),
			RemotePeerSdpConstraints: prefs.offerConstraints(),
			IsOneWay:                 prefs.OneWay,
			IsDataOnly:               prefs.DataOnly,
			ConnectionDescription: connectionDescription{
				RemoteUserID: self,
				Message:      request,
				Sender:       peer,
			},
		},
	}
}

type readyForOffer struct {
	ReadyForOffer   bool            `json:"readyForOffer"`
	UserPreferences json.RawMessage `json:"userPreferences"`
}

// newReadyForOffer echoes the received preferences with streamsToShare attached.
func newReadyForOffer(prefs json.RawMessage) (readyForOffer, error) {
	fields := map[string]json.RawMessage{}
	if err := json.Unmarshal(prefs, &fields); err != nil {
		return readyForOffer{}, WrapError("attach preferences", ErrMalformedMessage, err.Error())
	}
	fields["streamsToShare"] = json.RawMessage(`{}`)
	data, err := json.Marshal(fields)
	if err != nil {
		return readyForOffer{}, &Error{Op: "attach preferences", Err: err}
	}
	return readyForOffer{ReadyForOffer: true, UserPreferences: data}, nil
}

type descriptionPayload struct {
	Type SDPType `json:"type"`
	SDP  string  `json:"sdp"`
}

type candidatePayload struct {
	Candidate     string `json:"candidate"`
	SDPMid        string `json:"sdpMid"`
	SDPMLineIndex int    `json:"sdpMLineIndex"`
}

func newCandidatePayload(c Candidate) candidatePayload {
	return candidatePayload{Candidate: c.Candidate, SDPMid: c.SDPMid, SDPMLineIndex: c.SDPMLineIndex}
}

// eventKind identifies a decoded inbound payload.
type eventKind int

const (
	eventParticipationRequest eventKind = iota
	eventEnableMedia
	eventReadyForOffer
	eventOffer
	eventAnswer
	eventCandidate
)

func (k eventKind) String() string {
	switch k {
	case eventParticipationRequest:
		return "newParticipationRequest"
	case eventEnableMedia:
		return "enableMedia"
	case eventReadyForOffer:
		return "readyForOffer"
	case eventOffer:
		return "offer"
	case eventAnswer:
		return "answer"
	case eventCandidate:
		return "candidate"
	}
	return fmt.Sprintf("event(%d)", int(k))
}

// inboundEvent is one decoded peer message.
type inboundEvent struct {
	kind        eventKind
	sender      string
	raw         json.RawMessage
	preferences json.RawMessage
	description SessionDescription
	candidate   Candidate
}

type payloadProbe struct {
	NewParticipationRequest bool            `json:"newParticipationRequest"`
	EnableMedia             bool            `json:"enableMedia"`
	ReadyForOffer           bool            `json:"readyForOffer"`
	Type                    string          `json:"type"`
	SDP                     *string         `json:"sdp"`
	Candidate               string          `json:"candidate"`
	SDPMid                  *string         `json:"sdpMid"`
	SDPMLineIndex           *int            `json:"sdpMLineIndex"`
	UserPreferences         json.RawMessage `json:"userPreferences"`
}

// decodeEvent maps an envelope to exactly one inbound event. Flags are
// checked in a fixed order so a payload carrying several of them resolves
// the same way on every peer.
func decodeEvent(env *Envelope) (*inboundEvent, error) {
	var p payloadProbe
	if err := json.Unmarshal(env.Message, &p); err != nil {
		return nil, WrapError("decode payload", ErrMalformedMessage, err.Error())
	}

	ev := &inboundEvent{sender: env.Sender, raw: env.Message}
	switch {
	case p.EnableMedia:
		prefs := bytes.TrimSpace(p.UserPreferences)
		if len(prefs) == 0 || prefs[0] != '{' {
			return nil, WrapError("decode enableMedia", ErrMalformedMessage, "userPreferences is not an object")
		}
		ev.kind = eventEnableMedia
		ev.preferences = p.UserPreferences

	case p.Type == string(SDPTypeOffer), p.Type == string(SDPTypeAnswer):
		if p.SDP == nil {
			return nil, WrapError("decode "+p.Type, ErrMalformedMessage, "missing sdp")
		}
		ev.kind = eventOffer
		if p.Type == string(SDPTypeAnswer) {
			ev.kind = eventAnswer
		}
		ev.description = SessionDescription{Type: SDPType(p.Type), SDP: *p.SDP}

	case p.Candidate != "":
		if p.SDPMid == nil || p.SDPMLineIndex == nil {
			return nil, WrapError("decode candidate", ErrMalformedMessage, "missing sdpMid or sdpMLineIndex")
		}
		ev.kind = eventCandidate
		ev.candidate = Candidate{SDPMid: *p.SDPMid, SDPMLineIndex: *p.SDPMLineIndex, Candidate: p.Candidate}

	case p.NewParticipationRequest:
		ev.kind = eventParticipationRequest

	case p.ReadyForOffer:
		ev.kind = eventReadyForOffer
		ev.preferences = p.UserPreferences

	default:
		return nil, ErrUnknownMessage
	}
	return ev, nil
}

// decodeAck reads the leading success flag of an acknowledgment.
func decodeAck(op string, args []json.RawMessage) (bool, error) {
	if len(args) == 0 {
		return false, WrapError(op, ErrMalformedAck, "no arguments")
	}
	var ok bool
	if err := json.Unmarshal(args[0], &ok); err != nil {
		return false, WrapError(op, ErrMalformedAck, err.Error())
	}
	return ok, nil
}

// ackString returns args[i] as a string, or its raw text.
func ackString(args []json.RawMessage, i int) string {
	if i >= len(args) {
		return ""
	}
	var s string
	if err := json.Unmarshal(args[i], &s); err == nil {
		return s
	}
	return string(args[i])
}
