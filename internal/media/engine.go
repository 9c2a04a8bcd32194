// Package media produces and consumes session descriptions and
// connectivity candidates on top of pion/webrtc, and greets the remote
// peer over a data channel once the connection is up.
package media

import (
	"fmt"
	"log/slog"
	"math"
	"sync"

	"github.com/BioHazard786/duet/internal/signaling"
	pion "github.com/pion/webrtc/v4"
)

// DataChannelLabel names the channel the initiator opens.
const DataChannelLabel = "duet"

// Signaler accepts locally generated session artifacts.
// *signaling.Client implements it.
type Signaler interface {
	SubmitLocalOffer(desc signaling.SessionDescription)
	SubmitLocalAnswer(desc signaling.SessionDescription)
	SubmitLocalCandidate(candidate signaling.Candidate)
}

// Options configures an Engine.
type Options struct {
	// TURN servers are added next to the STUN servers of the room.
	TURNServers  []string
	TURNUsername string
	TURNPassword string

	// ForceRelay restricts ICE to relay candidates when TURN is set.
	// The restriction also applies when the host looks like it is behind
	// a VPN or CGNAT.
	ForceRelay bool

	// Hello is sent to the peer when the data channel opens.
	Hello Hello

	Logger *slog.Logger
}

// Engine implements signaling.Sink with a pion peer connection.
type Engine struct {
	opts Options
	log  *slog.Logger
	api  *pion.API

	// interfaces is swapped in tests.
	interfaces func() []netInterface

	mu            sync.Mutex
	sig           Signaler
	pc            *pion.PeerConnection
	dc            *pion.DataChannel
	remoteSet     bool
	pendingRemote []pion.ICECandidateInit
	err           error

	greeting chan Hello
	done     chan struct{}
	doneOnce sync.Once
}

// NewEngine creates an engine. Bind it to a signaler before the room
// connects.
func NewEngine(opts Options) *Engine {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "media")

	se := pion.SettingEngine{LoggerFactory: newLoggerFactory(logger.With("component", "pion"))}

	return &Engine{
		opts:       opts,
		log:        logger,
		api:        pion.NewAPI(pion.WithSettingEngine(se)),
		interfaces: systemInterfaces,
		greeting:   make(chan Hello, 1),
		done:       make(chan struct{}),
	}
}

// Bind sets the signaler local artifacts are submitted to.
func (e *Engine) Bind(sig Signaler) {
	e.mu.Lock()
	e.sig = sig
	e.mu.Unlock()
}

// Greeting delivers the remote peer's hello.
func (e *Engine) Greeting() <-chan Hello { return e.greeting }

// Done is closed when the connection fails, the peer leaves, or Close is called.
func (e *Engine) Done() <-chan struct{} { return e.done }

// Err reports why Done was closed, nil after a plain Close.
func (e *Engine) Err() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.err
}

// OnRoomConnected creates the peer connection. The initiator opens the
// data channel and produces the offer; the responder answers the offer
// carried in params.
func (e *Engine) OnRoomConnected(params *signaling.RoomParameters) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.sig == nil {
		e.failLocked(NewError("room connected", ErrNoSignaler))
		return
	}
	if e.pc != nil {
		e.log.Warn("room connected twice", "err", ErrAlreadyConnected)
		return
	}

	pc, err := e.newPeerConnection(params.ICEServers)
	if err != nil {
		e.failLocked(err)
		return
	}
	e.pc = pc
	e.watch(pc)

	if params.Initiator() {
		if err := e.startOffer(); err != nil {
			e.failLocked(err)
		}
		return
	}

	pc.OnDataChannel(func(dc *pion.DataChannel) {
		e.log.Debug("data channel announced", "label", dc.Label())
		e.mu.Lock()
		e.dc = dc
		e.mu.Unlock()
		e.attach(dc)
	})
	if params.Offer == nil {
		e.failLocked(NewError("answer", ErrMissingOffer))
		return
	}
	if err := e.startAnswer(*params.Offer); err != nil {
		e.failLocked(err)
	}
}

// OnRemoteDescription applies the peer's answer.
func (e *Engine) OnRemoteDescription(desc signaling.SessionDescription) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.pc == nil {
		e.log.Warn("remote description without peer connection", "type", desc.Type)
		return
	}
	if err := e.pc.SetRemoteDescription(toPion(desc)); err != nil {
		e.failLocked(NewError("set remote description", err))
		return
	}
	e.remoteSet = true
	e.flushRemoteCandidates()
}

// OnRemoteCandidate adds a peer candidate, holding it until the remote
// description is in place.
func (e *Engine) OnRemoteCandidate(candidate signaling.Candidate) {
	e.mu.Lock()
	defer e.mu.Unlock()

	init, err := candidateInit(candidate)
	if err != nil {
		e.log.Warn("remote candidate dropped", "err", err)
		return
	}
	if e.pc == nil || !e.remoteSet {
		e.pendingRemote = append(e.pendingRemote, init)
		return
	}
	if err := e.pc.AddICECandidate(init); err != nil {
		e.log.Warn("remote candidate rejected", "err", err)
	}
}

// Close says goodbye on the data channel and tears the connection down.
func (e *Engine) Close() error {
	e.mu.Lock()
	pc, dc := e.pc, e.dc
	e.mu.Unlock()

	if dc != nil && dc.ReadyState() == pion.DataChannelStateOpen {
		if msg, err := NewMessage(MessageTypeBye, nil); err == nil {
			if data, err := msg.Marshal(); err == nil {
				dc.Send(data)
			}
		}
	}

	e.doneOnce.Do(func() { close(e.done) })
	if pc == nil {
		return nil
	}
	if err := pc.Close(); err != nil {
		return NewError("close peer connection", err)
	}
	return nil
}

func (e *Engine) newPeerConnection(stun []string) (*pion.PeerConnection, error) {
	var iceServers []pion.ICEServer
	if len(stun) > 0 {
		iceServers = append(iceServers, pion.ICEServer{URLs: stun})
	}
	if len(e.opts.TURNServers) > 0 {
		iceServers = append(iceServers, pion.ICEServer{
			URLs:       e.opts.TURNServers,
			Username:   e.opts.TURNUsername,
			Credential: e.opts.TURNPassword,
		})
	}

	policy := e.transportPolicy()
	e.log.Debug("creating peer connection", "iceServers", len(iceServers), "policy", policy.String())

	pc, err := e.api.NewPeerConnection(pion.Configuration{
		ICEServers:         iceServers,
		ICETransportPolicy: policy,
	})
	if err != nil {
		return nil, NewError("create peer connection", err)
	}
	return pc, nil
}

func (e *Engine) transportPolicy() pion.ICETransportPolicy {
	if len(e.opts.TURNServers) == 0 {
		return pion.ICETransportPolicyAll
	}
	if e.opts.ForceRelay || restrictiveNetwork(e.interfaces()) {
		return pion.ICETransportPolicyRelay
	}
	return pion.ICETransportPolicyAll
}

// watch trickles local candidates to the signaler and ends the session on
// failure.
func (e *Engine) watch(pc *pion.PeerConnection) {
	sig := e.sig
	pc.OnICECandidate(func(c *pion.ICECandidate) {
		if c == nil {
			e.log.Debug("candidate gathering complete")
			return
		}
		sig.SubmitLocalCandidate(fromPionCandidate(c.ToJSON()))
	})

	pc.OnConnectionStateChange(func(state pion.PeerConnectionState) {
		e.log.Info("peer connection state", "state", state.String())
		switch state {
		case pion.PeerConnectionStateFailed:
			e.fail(NewError("peer connection", ErrConnectionFailed))
		case pion.PeerConnectionStateClosed:
			e.doneOnce.Do(func() { close(e.done) })
		}
	})
}

func (e *Engine) startOffer() error {
	ordered := true
	dc, err := e.pc.CreateDataChannel(DataChannelLabel, &pion.DataChannelInit{Ordered: &ordered})
	if err != nil {
		return NewError("create data channel", err)
	}
	e.dc = dc
	e.attach(dc)

	offer, err := e.pc.CreateOffer(nil)
	if err != nil {
		return NewError("create offer", err)
	}
	if err := e.pc.SetLocalDescription(offer); err != nil {
		return NewError("set local description", err)
	}
	e.sig.SubmitLocalOffer(fromPion(*e.pc.LocalDescription()))
	return nil
}

func (e *Engine) startAnswer(offer signaling.SessionDescription) error {
	if err := e.pc.SetRemoteDescription(toPion(offer)); err != nil {
		return NewError("set remote description", err)
	}
	e.remoteSet = true
	e.flushRemoteCandidates()

	answer, err := e.pc.CreateAnswer(nil)
	if err != nil {
		return NewError("create answer", err)
	}
	if err := e.pc.SetLocalDescription(answer); err != nil {
		return NewError("set local description", err)
	}
	e.sig.SubmitLocalAnswer(fromPion(*e.pc.LocalDescription()))
	return nil
}

func (e *Engine) flushRemoteCandidates() {
	pending := e.pendingRemote
	e.pendingRemote = nil
	for _, c := range pending {
		if err := e.pc.AddICECandidate(c); err != nil {
			e.log.Warn("held candidate rejected", "err", err)
		}
	}
}

// attach greets the peer when dc opens and watches for its greeting.
func (e *Engine) attach(dc *pion.DataChannel) {
	dc.OnOpen(func() {
		e.log.Info("data channel open", "label", dc.Label())
		msg, err := NewMessage(MessageTypeHello, e.opts.Hello)
		if err != nil {
			e.log.Warn("hello not sent", "err", err)
			return
		}
		data, err := msg.Marshal()
		if err != nil {
			e.log.Warn("hello not sent", "err", err)
			return
		}
		if err := dc.Send(data); err != nil {
			e.log.Warn("hello not sent", "err", err)
		}
	})

	dc.OnMessage(func(m pion.DataChannelMessage) {
		msg, err := ParseMessage(m.Data)
		if err != nil {
			e.log.Warn("data channel message dropped", "err", err)
			return
		}
		switch msg.Type {
		case MessageTypeHello:
			var h Hello
			if err := msg.DecodePayload(&h); err != nil {
				e.log.Warn("hello dropped", "err", err)
				return
			}
			select {
			case e.greeting <- h:
			default:
			}
		case MessageTypeBye:
			e.fail(ErrPeerLeft)
		default:
			e.log.Debug("data channel message ignored", "type", msg.Type)
		}
	})
}

func (e *Engine) fail(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.failLocked(err)
}

func (e *Engine) failLocked(err error) {
	if e.err == nil {
		e.err = err
	}
	e.log.Error("media session ended", "err", err)
	e.doneOnce.Do(func() { close(e.done) })
}

func toPion(desc signaling.SessionDescription) pion.SessionDescription {
	t := pion.SDPTypeOffer
	if desc.Type == signaling.SDPTypeAnswer {
		t = pion.SDPTypeAnswer
	}
	return pion.SessionDescription{Type: t, SDP: desc.SDP}
}

func fromPion(desc pion.SessionDescription) signaling.SessionDescription {
	t := signaling.SDPTypeOffer
	if desc.Type == pion.SDPTypeAnswer {
		t = signaling.SDPTypeAnswer
	}
	return signaling.SessionDescription{Type: t, SDP: desc.SDP}
}

func candidateInit(c signaling.Candidate) (pion.ICECandidateInit, error) {
	if c.SDPMLineIndex < 0 || c.SDPMLineIndex > math.MaxUint16 {
		return pion.ICECandidateInit{}, WrapError("convert candidate", ErrBadCandidate, fmt.Sprintf("m-line index %d", c.SDPMLineIndex))
	}
	mid := c.SDPMid
	index := uint16(c.SDPMLineIndex)
	return pion.ICECandidateInit{
		Candidate:     c.Candidate,
		SDPMid:        &mid,
		SDPMLineIndex: &index,
	}, nil
}

func fromPionCandidate(init pion.ICECandidateInit) signaling.Candidate {
	c := signaling.Candidate{Candidate: init.Candidate}
	if init.SDPMid != nil {
		c.SDPMid = *init.SDPMid
	}
	if init.SDPMLineIndex != nil {
		c.SDPMLineIndex = int(*init.SDPMLineIndex)
	}
	return c
}
