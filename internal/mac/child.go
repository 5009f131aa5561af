package mac

// Child holds everything the root tracks about one accepted child node.
// It is owned exclusively by the MAC RX worker, except for TxBuf which is
// a bounded channel so mac_send callers may enqueue without touching any
// shared lock.
type Child struct {
	Addr Addr

	// ExpectedSN is the next downstream sequence number this root will
	// accept from the child. Starts at 1: the first sequence number sent
	// immediately after JOIN completes.
	ExpectedSN uint8

	// nextSN is the next sequence number the root will use when sending
	// to this child.
	nextSN uint8

	// LastSent is the last frame transmitted to this child, retained for
	// retransmission. Nil means nothing is owed.
	LastSent *Frame

	// TxBuf is the bounded FIFO of pending downlink frames.
	TxBuf chan *Frame

	TransmitCount int
	NotSendCount  int
}

// NewChild creates a child record for addr, with sequence numbers
// initialised as specified: ExpectedSN=1, nextSN=0.
func NewChild(addr Addr) *Child {
	return &Child{
		Addr:       addr,
		ExpectedSN: 1,
		nextSN:     0,
		TxBuf:      make(chan *Frame, ChildTxBufSize),
	}
}

// NextSN returns the sequence number to use for the next frame sent to
// this child, and advances the counter modulo 256.
func (c *Child) NextSN() uint8 {
	sn := c.nextSN
	c.nextSN++
	return sn
}

// ClearTransmitCount resets the retransmission counter, e.g. once a child
// completes the join handshake.
func (c *Child) ClearTransmitCount() {
	c.TransmitCount = 0
}

// SeqOutcome classifies an observed downstream sequence number against
// this child's current expectation, per the policy table in §4.2.2.
type SeqOutcome int

const (
	// SeqInOrder: frame should be processed; ExpectedSN already advanced.
	SeqInOrder SeqOutcome = iota
	// SeqStale: duplicate/stale frame (including the 0/255 wrap case);
	// the last downlink should be retransmitted.
	SeqStale
	// SeqGap: frames were lost; process the frame anyway. ExpectedSN has
	// already been advanced past the gap.
	SeqGap
)

// CompareUpdateExpectedSN applies the sequence-number policy of §4.2.2 to
// an inbound frame carrying sequence number sn, updating ExpectedSN as a
// side effect when appropriate.
func (c *Child) CompareUpdateExpectedSN(sn uint8) SeqOutcome {
	switch {
	case sn == c.ExpectedSN:
		c.ExpectedSN = c.ExpectedSN + 1 // uint8 wraps mod 256 naturally
		return SeqInOrder
	case c.ExpectedSN == 0 && sn == 255:
		return SeqStale
	case sn < c.ExpectedSN:
		return SeqStale
	default: // sn > c.ExpectedSN
		c.ExpectedSN = sn + 1
		return SeqGap
	}
}
