package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"sync"
	"time"

	"github.com/BioHazard786/duet/internal/dns"
	"github.com/gorilla/websocket"
)

const (
	writeWait        = 10 * time.Second
	pongWait         = 60 * time.Second
	pingPeriod       = (pongWait * 9) / 10
	maxMessageSize   = 64 * 1024
	handshakeTimeout = 15 * time.Second
	outgoingBuffer   = 64
)

// Socket is a websocket connection speaking Frame messages. Handlers and
// acknowledgment callbacks run on the read goroutine.
type Socket struct {
	target string
	dialer *websocket.Dialer
	log    *slog.Logger

	mu       sync.Mutex
	sess     *session
	dialing  bool
	handlers map[string][]func(args ...json.RawMessage)
	acks     map[uint64]func(args ...json.RawMessage)
	nextID   uint64
}

// session is one dialed connection. done closes when either side quits.
type session struct {
	conn     *websocket.Conn
	outgoing chan *Frame
	done     chan struct{}
	once     sync.Once
}

func (c *session) close() {
	c.once.Do(func() { close(c.done) })
}

// New validates server and prepares a socket for server?query. Nothing is
// dialed until Connect.
func New(server string, query url.Values, logger *slog.Logger) (*Socket, error) {
	u, err := url.Parse(server)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTarget, err)
	}
	switch u.Scheme {
	case "ws", "wss":
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return nil, fmt.Errorf("%w: unsupported scheme %q", ErrInvalidTarget, u.Scheme)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("%w: missing host in %q", ErrInvalidTarget, server)
	}

	q := u.Query()
	for k, vs := range query {
		for _, v := range vs {
			q.Add(k, v)
		}
	}
	u.RawQuery = q.Encode()

	if logger == nil {
		logger = slog.Default()
	}

	return &Socket{
		target:   u.String(),
		dialer:   newDialer(),
		log:      logger.With("component", "transport"),
		handlers: make(map[string][]func(args ...json.RawMessage)),
		acks:     make(map[uint64]func(args ...json.RawMessage)),
	}, nil
}

// newDialer resolves hosts through the fallback resolver before dialing.
func newDialer() *websocket.Dialer {
	d := *websocket.DefaultDialer
	d.HandshakeTimeout = handshakeTimeout
	d.NetDialContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
		host, port, err := net.SplitHostPort(addr)
		if err != nil {
			return nil, err
		}

		resolvedIP, err := dns.Lookup(ctx, host)
		if err != nil {
			return nil, fmt.Errorf("dns lookup failed: %w", err)
		}

		var nd net.Dialer
		return nd.DialContext(ctx, network, net.JoinHostPort(resolvedIP, port))
	}
	return &d
}

// Target is the URL the socket dials.
func (s *Socket) Target() string { return s.target }

// Connect dials in the background. Success raises EventConnect, failure
// raises EventConnectError with the error text.
func (s *Socket) Connect() error {
	s.mu.Lock()
	if s.sess != nil || s.dialing {
		s.mu.Unlock()
		return nil
	}
	s.dialing = true
	s.mu.Unlock()

	go func() {
		if err := s.Dial(context.Background()); err != nil {
			s.log.Error("connect failed", "target", s.target, "err", err)
			s.dispatch(EventConnectError, mustEncode(err.Error()))
		}
	}()
	return nil
}

// Dial connects synchronously and raises EventConnect before returning.
func (s *Socket) Dial(ctx context.Context) error {
	conn, _, err := s.dialer.DialContext(ctx, s.target, nil)

	s.mu.Lock()
	s.dialing = false
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("failed to connect: %w", err)
	}
	if s.sess != nil {
		s.mu.Unlock()
		conn.Close()
		return nil
	}
	sess := &session{
		conn:     conn,
		outgoing: make(chan *Frame, outgoingBuffer),
		done:     make(chan struct{}),
	}
	s.sess = sess
	s.mu.Unlock()

	conn.SetReadLimit(maxMessageSize)
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	s.log.Debug("connected", "target", s.target)
	go s.writePump(sess)
	s.dispatch(EventConnect)
	go s.readPump(sess)
	return nil
}

// Disconnect closes the connection. EventDisconnect follows once the read
// side has stopped.
func (s *Socket) Disconnect() {
	s.mu.Lock()
	sess := s.sess
	s.mu.Unlock()
	if sess != nil {
		sess.close()
	}
}

// Connected reports whether a connection is established.
func (s *Socket) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sess != nil
}

// On subscribes handler to event. Handlers accumulate and are never removed.
func (s *Socket) On(event string, handler func(args ...json.RawMessage)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[event] = append(s.handlers[event], handler)
}

// Emit sends a fire-and-forget event.
func (s *Socket) Emit(event string, args ...any) error {
	f, err := NewFrame(event, args...)
	if err != nil {
		return err
	}
	return s.send(f)
}

// EmitWithAck sends a request; ack runs once with the server's reply.
func (s *Socket) EmitWithAck(event string, ack func(args ...json.RawMessage), args ...any) error {
	f, err := NewFrame(event, args...)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.nextID++
	f.ID = s.nextID
	s.acks[f.ID] = ack
	s.mu.Unlock()

	if err := s.send(f); err != nil {
		s.mu.Lock()
		delete(s.acks, f.ID)
		s.mu.Unlock()
		return err
	}
	return nil
}

func (s *Socket) send(f *Frame) error {
	s.mu.Lock()
	sess := s.sess
	s.mu.Unlock()
	if sess == nil {
		return fmt.Errorf("emit %s: %w", f.Event, ErrNotConnected)
	}

	select {
	case <-sess.done:
		return fmt.Errorf("emit %s: %w", f.Event, ErrClosed)
	default:
	}
	select {
	case sess.outgoing <- f:
		return nil
	case <-sess.done:
		return fmt.Errorf("emit %s: %w", f.Event, ErrClosed)
	}
}

// readPump reads frames until the connection fails or is closed.
func (s *Socket) readPump(sess *session) {
	conn := sess.conn
	defer func() {
		conn.Close()
		sess.close()

		s.mu.Lock()
		if s.sess == sess {
			s.sess = nil
		}
		s.acks = make(map[uint64]func(args ...json.RawMessage))
		s.mu.Unlock()

		s.log.Debug("disconnected", "target", s.target)
		s.dispatch(EventDisconnect)
	}()

	conn.SetReadDeadline(time.Now().Add(pongWait))

	for {
		var f Frame
		if err := conn.ReadJSON(&f); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.log.Warn("read failed", "err", err)
			}
			return
		}
		s.handle(&f)
	}
}

func (s *Socket) handle(f *Frame) {
	if f.Ack {
		s.mu.Lock()
		cb := s.acks[f.ID]
		delete(s.acks, f.ID)
		s.mu.Unlock()
		if cb == nil {
			s.log.Debug("unexpected acknowledgment", "id", f.ID)
			return
		}
		cb(f.Args...)
		return
	}
	if f.Event == "" {
		s.log.Debug("frame without event dropped")
		return
	}
	s.dispatch(f.Event, f.Args...)
}

func (s *Socket) dispatch(event string, args ...json.RawMessage) {
	s.mu.Lock()
	handlers := append([]func(args ...json.RawMessage){}, s.handlers[event]...)
	s.mu.Unlock()
	for _, h := range handlers {
		h(args...)
	}
}

// writePump writes frames to the connection and sends periodic pings.
func (s *Socket) writePump(sess *session) {
	conn := sess.conn
	ticker := time.NewTicker(pingPeriod)

	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case f := <-sess.outgoing:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(f); err != nil {
				s.log.Warn("write failed", "event", f.Event, "err", err)
				return
			}

		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-sess.done:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

func mustEncode(v any) json.RawMessage {
	b, _ := json.Marshal(v)
	return b
}
