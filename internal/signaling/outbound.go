package signaling

// candidateBuffer holds an initiator's candidates until its offer is sent.
// It accepts appends until drained once; after that it stays empty.
type candidateBuffer struct {
	items   []Candidate
	drained bool
}

func (b *candidateBuffer) add(c Candidate) bool {
	if b.drained {
		return false
	}
	b.items = append(b.items, c)
	return true
}

// drain returns the buffered candidates in submission order and retires
// the buffer.
func (b *candidateBuffer) drain() []Candidate {
	items := b.items
	b.items = nil
	b.drained = true
	return items
}

func (b *candidateBuffer) len() int {
	return len(b.items)
}

func (c *Client) submitLocalOffer(desc SessionDescription) {
	if c.offerSent {
		c.log.Warn("offer already sent, new local offer ignored")
		return
	}
	desc.Type = SDPTypeOffer
	c.offer = &desc
	c.log.Debug("local offer cached")

	if c.peerReady {
		c.flushOffer()
	}
}

func (c *Client) submitLocalAnswer(desc SessionDescription) {
	if c.peerID == "" {
		c.log.Warn("answer sent before peer is known")
	}
	c.send(c.peerID, descriptionPayload{Type: SDPTypeAnswer, SDP: desc.SDP})
}

func (c *Client) submitLocalCandidate(candidate Candidate) {
	if c.role() == RoleInitiator && !c.offerSent {
		c.pending.add(candidate)
		c.log.Debug("local candidate buffered", "pending", c.pending.len())
		return
	}
	c.send(c.peerID, newCandidatePayload(candidate))
}

// flushOffer sends the cached offer and then every buffered candidate in
// the order they were submitted.
func (c *Client) flushOffer() {
	c.setState(StateOfferUnlocked)

	c.send(c.peerID, descriptionPayload{Type: SDPTypeOffer, SDP: c.offer.SDP})
	c.offerSent = true

	pending := c.pending.drain()
	for _, candidate := range pending {
		c.send(c.peerID, newCandidatePayload(candidate))
	}
	c.log.Info("offer sent", "peer", c.peerID, "candidates", len(pending))

	c.setState(StateSessionActive)
}
