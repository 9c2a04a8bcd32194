package signaling

import (
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type emitted struct {
	event string
	args  []json.RawMessage
}

// fakeChannel records emissions and lets tests fire inbound events.
type fakeChannel struct {
	mu          sync.Mutex
	connected   bool
	connects    int
	disconnects int
	handlers    map[string][]func(...json.RawMessage)
	emits       []emitted
	acks        map[string]func(...json.RawMessage)

	// refusals fail that many Connect calls with connect_error.
	refusals int

	// hub, when set, routes emissions like a room server would.
	hub *fakeHub
	id  string
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{
		handlers: map[string][]func(...json.RawMessage){},
		acks:     map[string]func(...json.RawMessage){},
	}
}

func mustRaw(t testing.TB, args ...any) []json.RawMessage {
	t.Helper()
	out := make([]json.RawMessage, len(args))
	for i, a := range args {
		if raw, ok := a.(json.RawMessage); ok {
			out[i] = raw
			continue
		}
		b, err := json.Marshal(a)
		if err != nil {
			t.Fatalf("marshal %v: %v", a, err)
		}
		out[i] = b
	}
	return out
}

func rawArgs(args []any) []json.RawMessage {
	out := make([]json.RawMessage, len(args))
	for i, a := range args {
		b, err := json.Marshal(a)
		if err != nil {
			panic(err)
		}
		out[i] = b
	}
	return out
}

func (f *fakeChannel) Connect() error {
	f.mu.Lock()
	f.connects++
	if f.refusals > 0 {
		f.refusals--
		f.mu.Unlock()
		f.fire(EventConnectError, rawArgs([]any{"dial tcp: connection refused"})...)
		return nil
	}
	f.connected = true
	f.mu.Unlock()
	f.fire(EventConnect)
	return nil
}

// drop simulates the server going away.
func (f *fakeChannel) drop() {
	f.mu.Lock()
	f.connected = false
	f.mu.Unlock()
	f.fire(EventDisconnect)
}

func (f *fakeChannel) Disconnect() {
	f.mu.Lock()
	f.disconnects++
	f.connected = false
	f.mu.Unlock()
	if f.hub != nil {
		f.hub.leave(f.id)
	}
}

func (f *fakeChannel) Connected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeChannel) Emit(event string, args ...any) error {
	raw := rawArgs(args)
	f.mu.Lock()
	f.emits = append(f.emits, emitted{event: event, args: raw})
	hub := f.hub
	f.mu.Unlock()
	if hub != nil {
		hub.emit(f.id, event, raw)
	}
	return nil
}

func (f *fakeChannel) EmitWithAck(event string, ack func(...json.RawMessage), args ...any) error {
	raw := rawArgs(args)
	f.mu.Lock()
	f.emits = append(f.emits, emitted{event: event, args: raw})
	f.acks[event] = ack
	hub := f.hub
	f.mu.Unlock()
	if hub != nil {
		ack(hub.request(f.id, event, raw)...)
	}
	return nil
}

func (f *fakeChannel) On(event string, handler func(...json.RawMessage)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[event] = append(f.handlers[event], handler)
}

// fire delivers an inbound event to every subscribed handler.
func (f *fakeChannel) fire(event string, args ...json.RawMessage) {
	f.mu.Lock()
	handlers := append([]func(...json.RawMessage){}, f.handlers[event]...)
	f.mu.Unlock()
	for _, h := range handlers {
		h(args...)
	}
}

// ack answers the last request sent for event.
func (f *fakeChannel) ack(t testing.TB, event string, args ...any) {
	t.Helper()
	f.mu.Lock()
	cb := f.acks[event]
	f.mu.Unlock()
	if cb == nil {
		t.Fatalf("no pending %s request", event)
	}
	cb(mustRaw(t, args...)...)
}

func (f *fakeChannel) events() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	names := make([]string, len(f.emits))
	for i, e := range f.emits {
		names[i] = e.event
	}
	return names
}

func (f *fakeChannel) count(event string) int {
	n := 0
	for _, name := range f.events() {
		if name == event {
			n++
		}
	}
	return n
}

// envelopes decodes every envelope emitted on the message event.
func (f *fakeChannel) envelopes(t testing.TB) []sentMessage {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []sentMessage
	for _, e := range f.emits {
		if e.event != DefaultMessageEvent {
			continue
		}
		env, err := DecodeEnvelope(e.args[0])
		if err != nil {
			t.Fatalf("emitted envelope: %v", err)
		}
		var body map[string]any
		if err := json.Unmarshal(env.Message, &body); err != nil {
			t.Fatalf("emitted body: %v", err)
		}
		out = append(out, sentMessage{Envelope: env, body: body})
	}
	return out
}

type sentMessage struct {
	*Envelope
	body map[string]any
}

// kind names the payload the way a peer would classify it.
func (m sentMessage) kind() string {
	ev, err := decodeEvent(m.Envelope)
	if err != nil {
		return "invalid"
	}
	return ev.kind.String()
}

// recordingSink captures sink callbacks.
type recordingSink struct {
	mu         sync.Mutex
	rooms      []RoomParameters
	remote     []SessionDescription
	candidates []Candidate
	onRoom     func(*RoomParameters)
}

func (s *recordingSink) OnRoomConnected(p *RoomParameters) {
	s.mu.Lock()
	s.rooms = append(s.rooms, *p)
	cb := s.onRoom
	s.mu.Unlock()
	if cb != nil {
		cb(p)
	}
}

func (s *recordingSink) OnRemoteDescription(d SessionDescription) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.remote = append(s.remote, d)
}

func (s *recordingSink) OnRemoteCandidate(c Candidate) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.candidates = append(s.candidates, c)
}

func (s *recordingSink) snapshot() ([]RoomParameters, []SessionDescription, []Candidate) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]RoomParameters{}, s.rooms...),
		append([]SessionDescription{}, s.remote...),
		append([]Candidate{}, s.candidates...)
}

// settle waits until every client's loop has run out of work. Tasks may
// post to each other's loops, so it repeats until a full round finds all
// queues empty.
func settle(t testing.TB, clients ...*Client) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		for _, c := range clients {
			drainLoop(t, c)
		}
		idle := true
		for _, c := range clients {
			c.loop.mu.Lock()
			if len(c.loop.tasks) > 0 {
				idle = false
			}
			c.loop.mu.Unlock()
		}
		if idle {
			return
		}
	}
	t.Fatal("signaling loops did not settle")
}

func drainLoop(t testing.TB, c *Client) {
	t.Helper()
	marker := make(chan struct{})
	if !c.loop.post(func() { close(marker) }) {
		return
	}
	select {
	case <-marker:
	case <-c.loop.done:
	case <-time.After(5 * time.Second):
		t.Fatal("signaling loop stalled")
	}
}

// fakeHub is an in-memory room server. It answers presence, open and
// join requests and relays envelopes, rewriting room-addressed ones to
// each other member.
type fakeHub struct {
	mu      sync.Mutex
	members map[string]*fakeChannel
	rooms   map[string][]string
	roomOf  map[string]string
}

func newFakeHub() *fakeHub {
	return &fakeHub{
		members: map[string]*fakeChannel{},
		rooms:   map[string][]string{},
		roomOf:  map[string]string{},
	}
}

// factory returns a ChannelFactory whose channels are attached to the hub.
func (h *fakeHub) factory() ChannelFactory {
	return func(id string) (Channel, error) {
		ch := newFakeChannel()
		ch.hub = h
		ch.id = id
		h.mu.Lock()
		h.members[id] = ch
		h.mu.Unlock()
		return ch, nil
	}
}

func (h *fakeHub) channel(id string) *fakeChannel {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.members[id]
}

func (h *fakeHub) request(from, event string, args []json.RawMessage) []json.RawMessage {
	h.mu.Lock()
	defer h.mu.Unlock()

	switch event {
	case EventCheckPresence:
		var room string
		json.Unmarshal(args[0], &room)
		return rawArgs([]any{len(h.rooms[room]) > 0, room, map[string]any{}})

	case EventOpenRoom, EventJoinRoom:
		var req RoomRequest
		json.Unmarshal(args[0], &req)
		members := h.rooms[req.SessionID]
		if event == EventOpenRoom && len(members) > 0 {
			return rawArgs([]any{false, "room already exists"})
		}
		if event == EventJoinRoom && len(members) != 1 {
			return rawArgs([]any{false, "room unavailable"})
		}
		h.rooms[req.SessionID] = append(members, from)
		h.roomOf[from] = req.SessionID
		return rawArgs([]any{true, req.SessionID})
	}
	return rawArgs([]any{false})
}

func (h *fakeHub) emit(from, event string, args []json.RawMessage) {
	if event != DefaultMessageEvent {
		return
	}
	var env Envelope
	if err := json.Unmarshal(args[0], &env); err != nil {
		return
	}

	h.mu.Lock()
	var targets []string
	if room := h.roomOf[from]; room != "" && env.Recipient == room {
		for _, id := range h.rooms[room] {
			if id != from {
				targets = append(targets, id)
			}
		}
	} else if _, ok := h.members[env.Recipient]; ok {
		targets = []string{env.Recipient}
	}
	h.mu.Unlock()

	for _, id := range targets {
		out := env
		out.Recipient = id
		raw, _ := json.Marshal(out)
		h.channel(id).fire(DefaultMessageEvent, raw)
	}
}

func (h *fakeHub) leave(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	room := h.roomOf[id]
	delete(h.roomOf, id)
	members := h.rooms[room]
	for i, m := range members {
		if m == id {
			h.rooms[room] = append(members[:i], members[i+1:]...)
			break
		}
	}
	if len(h.rooms[room]) == 0 {
		delete(h.rooms, room)
	}
}
