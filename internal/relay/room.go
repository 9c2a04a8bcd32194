package relay

// Room holds at most two participants. The owner opened it; the guest
// joined afterwards.
type Room struct {
	ID    string
	Owner *Conn
	Guest *Conn
}

// members returns the connected participants, owner first.
func (r *Room) members() []*Conn {
	var out []*Conn
	if r.Owner != nil {
		out = append(out, r.Owner)
	}
	if r.Guest != nil {
		out = append(out, r.Guest)
	}
	return out
}

func (r *Room) full() bool {
	return r.Owner != nil && r.Guest != nil
}

func (r *Room) empty() bool {
	return r.Owner == nil && r.Guest == nil
}

// remove drops c and reports the participant left behind, if any. A
// remaining guest is promoted to owner.
func (r *Room) remove(c *Conn) *Conn {
	switch c {
	case r.Owner:
		r.Owner, r.Guest = r.Guest, nil
		return r.Owner
	case r.Guest:
		r.Guest = nil
		return r.Owner
	}
	return nil
}
