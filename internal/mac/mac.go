package mac

import (
	"fmt"
	"log"
	"sync"
)

// Listener receives payloads delivered up from the MAC layer, along with
// the LoRa address of the sender.
type Listener func(src Addr, payload string)

// MAC is the LoRaMAC root node: child registry, join/address assignment,
// per-child sequence numbering, retransmission and the downlink queue.
//
// The child registries (childs, notJoinedChilds) are written only from
// the rxProcess goroutine started by Init. mu guards every registry
// access, since mac_send looks up the destination child from the caller's
// goroutine; the enqueue itself goes through the child's TxBuf channel,
// which is safe for concurrent use without holding mu.
type MAC struct {
	phy PhyLayer

	mu              sync.Mutex // guards childs/notJoinedChilds against concurrent mac_send lookups
	childs          map[uint8]*Child
	notJoinedChilds map[uint8]*Child
	nextPrefix      uint8

	upperLayer Listener
	sink       EventSink
}

// New creates a MAC layer driving phy. Call Init to start it.
func New(phy PhyLayer) *MAC {
	return &MAC{
		phy:             phy,
		childs:          make(map[uint8]*Child),
		notJoinedChilds: make(map[uint8]*Child),
		nextPrefix:      MinPrefix,
		sink:            noopSink{},
	}
}

// SetEventSink installs the telemetry observer. Not safe to call once
// Init has started the RX worker.
func (m *MAC) SetEventSink(sink EventSink) {
	if sink == nil {
		sink = noopSink{}
	}
	m.sink = sink
}

// RegisterListener installs the sink that receives payloads delivered for
// the upper layer (the IP adaptation layer, in this stack).
func (m *MAC) RegisterListener(l Listener) {
	m.upperLayer = l
}

// Init starts the PHY layer, enables reception and starts the RX worker.
func (m *MAC) Init() error {
	log.Println("mac: init")
	if err := m.phy.Init(); err != nil {
		return fmt.Errorf("mac: phy init: %w", err)
	}
	if err := m.phy.SetWatchdog(0); err != nil {
		return fmt.Errorf("mac: set watchdog: %w", err)
	}
	m.listen()
	go m.rxProcess()
	return nil
}

// listen re-enables reception if it isn't already in progress.
func (m *MAC) listen() {
	if !m.phy.Listening() {
		m.phy.RxEnable()
	}
}

// Send enqueues a payload for delivery to the child addressed by
// dest.Prefix. It blocks if that child's downlink buffer is full,
// deliberately propagating backpressure to the caller.
func (m *MAC) Send(dest Addr, payload string) error {
	m.mu.Lock()
	child, ok := m.childs[dest.Prefix]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("mac: destination %s unreachable", dest)
	}

	frame := &Frame{
		Src:     RootAddr,
		Dst:     dest,
		Cmd:     CmdData,
		Payload: payload,
	}
	child.TxBuf <- frame
	return nil
}

// rxProcess is the MAC RX worker: it blocks on the PHY RX queue, updates
// child state, and dispatches to the per-command handler.
func (m *MAC) rxProcess() {
	for {
		frame := m.phy.TakeFrame()

		if frame.Dst != RootAddr {
			log.Printf("mac: frame dest %s is not this node, dropping", frame.Dst)
			continue
		}

		m.mu.Lock()
		child := m.childs[frame.Src.Prefix]
		m.mu.Unlock()

		if frame.Seq == 1 && child != nil {
			// First post-join frame: the handshake is now complete.
			transient := uint8(child.Addr.NodeID & 0xFF)
			m.mu.Lock()
			pending := m.notJoinedChilds[transient] == child
			if pending {
				delete(m.notJoinedChilds, transient)
			}
			m.mu.Unlock()
			if pending {
				child.ClearTransmitCount()
			}
		}

		switch frame.Cmd {
		case CmdJoin:
			m.onJoin(frame, child)
		case CmdQuery:
			m.onQuery(frame, child)
		case CmdData:
			m.onData(frame, child)
		case CmdAck:
			log.Printf("mac: unexpected ACK from %s, ignoring", frame.Src)
		default:
			log.Printf("mac: unknown MAC command %d from %s", frame.Cmd, frame.Src)
		}
	}
}

// onJoin implements the join procedure of §4.2.1. child is the record
// already resolved by rxProcess via frame.Src.Prefix, i.e. non-nil only
// if a child has already been assigned this exact prefix.
func (m *MAC) onJoin(frame Frame, child *Child) {
	log.Printf("mac: RECEIVE JOIN %s", frame)
	if frame.Seq != 0 {
		log.Printf("mac: incorrect JOIN seq %d, expected 0", frame.Seq)
		m.listen()
		return
	}

	if child != nil {
		log.Println("mac: known child, nothing to do")
		m.listen()
		return
	}

	transientPrefix := frame.Src.Prefix

	m.mu.Lock()
	if pending, ok := m.notJoinedChilds[transientPrefix]; ok {
		// Retransmission of an earlier JOIN: always re-send the stored
		// JOIN_RESPONSE, then purge if this was the MAX_RETRANSMIT'th one.
		m.mu.Unlock()
		log.Printf("mac: JOIN retransmission from %s", pending.Addr)
		m.sendFrame(*pending.LastSent)
		pending.TransmitCount++
		m.sink.ChildEvent(pending.Addr, EventJoinRetransmitted)
		if pending.TransmitCount == MaxRetransmit {
			m.mu.Lock()
			delete(m.notJoinedChilds, uint8(pending.Addr.NodeID&0xFF))
			delete(m.childs, pending.Addr.Prefix)
			m.mu.Unlock()
			m.sink.ChildEvent(pending.Addr, EventJoinEvicted)
			log.Printf("mac: JOIN retransmit exhausted, evicting %s", pending.Addr)
		}
		m.listen()
		return
	}
	next := m.nextPrefix
	if next > MaxPrefix {
		m.mu.Unlock()
		log.Println("mac: prefix space exhausted, refusing join")
		m.listen()
		return
	}
	m.nextPrefix++
	m.mu.Unlock()

	newChild := NewChild(Addr{Prefix: next, NodeID: frame.Src.NodeID})

	m.mu.Lock()
	m.childs[next] = newChild
	m.notJoinedChilds[transientPrefix] = newChild
	m.mu.Unlock()

	log.Printf("mac: new child %s created", newChild.Addr)

	response := Frame{
		Src:     RootAddr,
		Dst:     frame.Src,
		Cmd:     CmdJoinResponse,
		Seq:     newChild.NextSN(),
		Payload: fmt.Sprintf("%02X", next),
	}
	newChild.LastSent = &response
	m.sendFrame(response)
	m.sink.ChildEvent(newChild.Addr, EventJoinAccepted)
	m.listen()
}

// onQuery implements §4.2.3's QUERY handler.
func (m *MAC) onQuery(frame Frame, child *Child) {
	log.Printf("mac: RECEIVE QUERY %s", frame)
	if child == nil {
		log.Println("mac: QUERY from unknown child")
		m.listen()
		return
	}

	if m.handleStale(frame, child) {
		return
	}

	if frame.Payload != "" && m.upperLayer != nil {
		m.upperLayer(frame.Src, frame.Payload)
	}

	select {
	case next := <-child.TxBuf:
		next.Seq = child.NextSN()
		next.N = len(child.TxBuf) > 0
		log.Printf("mac: TX %s", *next)
		m.sendFrame(*next)
		child.LastSent = next
	default:
		m.sendAck(child, frame.Src, frame.Seq)
	}
	m.listen()
}

// onData implements §4.2.3's DATA handler.
func (m *MAC) onData(frame Frame, child *Child) {
	if child == nil {
		m.listen()
		return
	}
	log.Printf("mac: RECEIVE DATA %s", frame)

	if m.handleStale(frame, child) {
		return
	}

	if frame.K {
		m.sendAck(child, frame.Src, frame.Seq)
	} else {
		child.LastSent = nil
	}

	if m.upperLayer != nil {
		m.upperLayer(frame.Src, frame.Payload)
	}
	m.listen()
}

// handleStale applies the sequence-number policy to frame and, on a stale
// receipt, retransmits and returns true (the caller should stop
// processing this frame).
func (m *MAC) handleStale(frame Frame, child *Child) bool {
	outcome := child.CompareUpdateExpectedSN(frame.Seq)
	if outcome == SeqStale {
		log.Printf("mac: stale seq %d, expected %d", frame.Seq, child.ExpectedSN)
		m.retransmit(child)
		m.listen()
		return true
	}
	if outcome == SeqGap {
		log.Printf("mac: sequence gap: seq %d, expected was advanced to %d", frame.Seq, child.ExpectedSN)
	}
	return false
}

// retransmit re-emits child.LastSent, per §4.2.4.
func (m *MAC) retransmit(child *Child) {
	log.Printf("mac: retransmit for %s", child.Addr)
	if child.LastSent == nil {
		log.Println("mac: nothing to retransmit")
		return
	}
	if child.TransmitCount < MaxRetransmit {
		m.sendFrame(*child.LastSent)
		child.TransmitCount++
	} else {
		child.ClearTransmitCount()
		child.NotSendCount++
		m.sink.ChildEvent(child.Addr, EventRetransmitExhausted)
	}
}

func (m *MAC) sendAck(child *Child, dest Addr, seq uint8) {
	ack := Frame{Src: RootAddr, Dst: dest, Cmd: CmdAck, Seq: seq}
	log.Printf("mac: TX %s", ack)
	m.sendFrame(ack)
	child.LastSent = &ack
}

func (m *MAC) sendFrame(f Frame) {
	if err := m.phy.SendFrame(f); err != nil {
		log.Printf("mac: send failed: %v", err)
	}
}
