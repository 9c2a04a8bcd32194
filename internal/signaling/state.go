package signaling

// State is a step of the room handshake.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StatePresenceChecked
	StateRoomEstablished
	StateParticipationExchanged
	StateOfferUnlocked
	StateSessionActive
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StatePresenceChecked:
		return "presence-checked"
	case StateRoomEstablished:
		return "room-established"
	case StateParticipationExchanged:
		return "participation-exchanged"
	case StateOfferUnlocked:
		return "offer-unlocked"
	case StateSessionActive:
		return "session-active"
	case StateClosed:
		return "closed"
	}
	return "invalid"
}
