package mac

import (
	"sync"
	"testing"
	"time"
)

// fakePhy is a minimal PhyLayer used to drive MAC without real hardware,
// the same role the teacher's MockLoRaDriver plays for the engine tests.
type fakePhy struct {
	mu        sync.Mutex
	rxQueue   chan Frame
	sentCh    chan Frame
	listening bool
}

func newFakePhy() *fakePhy {
	return &fakePhy{
		rxQueue: make(chan Frame, 16),
		sentCh:  make(chan Frame, 16),
	}
}

func (f *fakePhy) Init() error            { return nil }
func (f *fakePhy) SetWatchdog(int) error  { return nil }
func (f *fakePhy) RxEnable()              { f.mu.Lock(); f.listening = true; f.mu.Unlock() }
func (f *fakePhy) Listening() bool        { f.mu.Lock(); defer f.mu.Unlock(); return f.listening }
func (f *fakePhy) push(fr Frame)          { f.rxQueue <- fr }
func (f *fakePhy) TakeFrame() Frame       { return <-f.rxQueue }
func (f *fakePhy) SendFrame(fr Frame) error {
	f.mu.Lock()
	f.listening = false
	f.mu.Unlock()
	f.sentCh <- fr
	return nil
}

func (f *fakePhy) waitSent(t *testing.T) Frame {
	t.Helper()
	select {
	case fr := <-f.sentCh:
		return fr
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for a sent frame")
		return Frame{}
	}
}

func (f *fakePhy) expectNoSend(t *testing.T) {
	t.Helper()
	select {
	case fr := <-f.sentCh:
		t.Fatalf("unexpected frame sent: %s", fr)
	case <-time.After(100 * time.Millisecond):
	}
}

type delivery struct {
	src     Addr
	payload string
}

func newTestMAC(t *testing.T) (*MAC, *fakePhy, chan delivery) {
	t.Helper()
	phy := newFakePhy()
	m := New(phy)
	deliveries := make(chan delivery, 16)
	m.RegisterListener(func(src Addr, payload string) {
		deliveries <- delivery{src, payload}
	})
	if err := m.Init(); err != nil {
		t.Fatalf("Init: %v", err)
	}
	return m, phy, deliveries
}

func waitDelivery(t *testing.T, ch chan delivery) delivery {
	t.Helper()
	select {
	case d := <-ch:
		return d
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for upward delivery")
		return delivery{}
	}
}

// TestJoinThenFirstData covers scenario 1 of §8.
func TestJoinThenFirstData(t *testing.T) {
	_, phy, deliveries := newTestMAC(t)

	joinSrc := Addr{Prefix: 0x5B, NodeID: 0x015B}
	phy.push(Frame{Src: joinSrc, Dst: RootAddr, Cmd: CmdJoin, Seq: 0})

	resp := phy.waitSent(t)
	if resp.Cmd != CmdJoinResponse || resp.Seq != 0 || resp.Payload != "02" {
		t.Fatalf("unexpected JOIN_RESPONSE: %+v", resp)
	}

	assigned := Addr{Prefix: 0x02, NodeID: 0x015B}
	phy.push(Frame{Src: assigned, Dst: RootAddr, Cmd: CmdData, Seq: 1, K: true, Payload: "48656C6C6F"})

	ack := phy.waitSent(t)
	if ack.Cmd != CmdAck || ack.Seq != 1 {
		t.Fatalf("expected ACK seq 1, got %+v", ack)
	}

	d := waitDelivery(t, deliveries)
	if d.src != assigned || d.payload != "48656C6C6F" {
		t.Fatalf("unexpected delivery: %+v", d)
	}
}

// TestDuplicateDataRetransmits covers scenario 2.
func TestDuplicateDataRetransmits(t *testing.T) {
	m, phy, deliveries := newTestMAC(t)

	joinSrc := Addr{Prefix: 0x5B, NodeID: 0x015B}
	phy.push(Frame{Src: joinSrc, Dst: RootAddr, Cmd: CmdJoin, Seq: 0})
	phy.waitSent(t)

	assigned := Addr{Prefix: 0x02, NodeID: 0x015B}
	phy.push(Frame{Src: assigned, Dst: RootAddr, Cmd: CmdData, Seq: 1, K: true, Payload: "48656C6C6F"})
	ack := phy.waitSent(t)
	waitDelivery(t, deliveries)

	phy.push(Frame{Src: assigned, Dst: RootAddr, Cmd: CmdData, Seq: 1, K: true, Payload: "48656C6C6F"})
	resent := phy.waitSent(t)
	if resent != ack {
		t.Fatalf("expected identical retransmitted ACK, got %+v want %+v", resent, ack)
	}

	select {
	case d := <-deliveries:
		t.Fatalf("unexpected second delivery: %+v", d)
	case <-time.After(100 * time.Millisecond):
	}

	child := m.childs[0x02]
	if child.TransmitCount != 1 {
		t.Fatalf("expected transmit_count=1, got %d", child.TransmitCount)
	}
}

// TestRetransmitExhaustion covers scenario 3.
func TestRetransmitExhaustion(t *testing.T) {
	m, phy, _ := newTestMAC(t)

	joinSrc := Addr{Prefix: 0x5B, NodeID: 0x015B}
	phy.push(Frame{Src: joinSrc, Dst: RootAddr, Cmd: CmdJoin, Seq: 0})
	phy.waitSent(t)

	assigned := Addr{Prefix: 0x02, NodeID: 0x015B}
	dup := Frame{Src: assigned, Dst: RootAddr, Cmd: CmdData, Seq: 1, K: true, Payload: "48656C6C6F"}

	phy.push(dup)
	phy.waitSent(t) // initial ACK

	for i := 0; i < MaxRetransmit; i++ {
		phy.push(dup)
		phy.waitSent(t)
	}

	child := m.childs[0x02]
	if child.TransmitCount != MaxRetransmit {
		t.Fatalf("expected transmit_count=%d, got %d", MaxRetransmit, child.TransmitCount)
	}
	if child.NotSendCount != 0 {
		t.Fatalf("expected not_send_count=0, got %d", child.NotSendCount)
	}

	// transmit_count has reached MAX_RETRANSMIT: the next duplicate is not
	// resent, bumps not_send_count and resets the counter.
	phy.push(dup)
	phy.expectNoSend(t)
	if child.NotSendCount != 1 || child.TransmitCount != 0 {
		t.Fatalf("expected not_send_count=1 and transmit_count reset to 0, got %d and %d", child.NotSendCount, child.TransmitCount)
	}
}

// TestJoinRetransmissionThenEviction covers scenario 4.
func TestJoinRetransmissionThenEviction(t *testing.T) {
	m, phy, _ := newTestMAC(t)

	joinSrc := Addr{Prefix: 0x5B, NodeID: 0x015B}
	join := Frame{Src: joinSrc, Dst: RootAddr, Cmd: CmdJoin, Seq: 0}

	phy.push(join)
	first := phy.waitSent(t)
	if first.Payload != "02" {
		t.Fatalf("expected prefix 02 assigned, got %s", first.Payload)
	}

	for i := 0; i < MaxRetransmit-1; i++ {
		phy.push(join)
		resp := phy.waitSent(t)
		if resp.Payload != "02" {
			t.Fatalf("retransmission %d: expected same prefix 02, got %s", i, resp.Payload)
		}
	}

	// This is the MAX_RETRANSMIT'th retransmission: it is still sent, and
	// purges the child immediately afterwards.
	phy.push(join)
	phy.waitSent(t)

	if _, ok := m.childs[0x02]; ok {
		t.Fatal("expected child to be purged from childs registry")
	}
	if _, ok := m.notJoinedChilds[0x5B]; ok {
		t.Fatal("expected child to be purged from notJoinedChilds registry")
	}

	phy.push(join)
	fresh := phy.waitSent(t)
	if fresh.Payload != "03" {
		t.Fatalf("expected fresh prefix 03, got %s", fresh.Payload)
	}
}

// TestDownlinkDrainOnQuery covers scenario 5.
func TestDownlinkDrainOnQuery(t *testing.T) {
	m, phy, _ := newTestMAC(t)

	joinSrc := Addr{Prefix: 0x5B, NodeID: 0x015B}
	phy.push(Frame{Src: joinSrc, Dst: RootAddr, Cmd: CmdJoin, Seq: 0})
	phy.waitSent(t)

	assigned := Addr{Prefix: 0x02, NodeID: 0x015B}

	for i := 0; i < 3; i++ {
		if err := m.Send(assigned, "AA"); err != nil {
			t.Fatalf("Send: %v", err)
		}
	}

	query := func(seq uint8) Frame {
		return Frame{Src: assigned, Dst: RootAddr, Cmd: CmdQuery, Seq: seq}
	}

	// First post-join frame completes the handshake; expected_sn starts
	// at 1, so the three QUERYs use seq 1, 2, 3.
	phy.push(query(1))
	f1 := phy.waitSent(t)
	if f1.Cmd != CmdData || !f1.N {
		t.Fatalf("expected first drained frame with N=1, got %+v", f1)
	}

	phy.push(query(2))
	f2 := phy.waitSent(t)
	if f2.Cmd != CmdData || !f2.N {
		t.Fatalf("expected second drained frame with N=1, got %+v", f2)
	}

	phy.push(query(3))
	f3 := phy.waitSent(t)
	if f3.Cmd != CmdData || f3.N {
		t.Fatalf("expected last drained frame with N=0, got %+v", f3)
	}
}

// TestPrefixExhaustion covers scenario 6. Prefixes 2..0xFC give 251
// assignable addresses: the 251st join takes 0xFC and the 252nd is refused.
func TestPrefixExhaustion(t *testing.T) {
	m, phy, _ := newTestMAC(t)

	// Every JOIN comes from transient prefix 0xFF (the node id's low byte),
	// which is never assigned to a child, and each join is completed with a
	// seq=1 QUERY so that the next JOIN is not taken for a retransmission.
	for i := 0; i < 250; i++ {
		nodeID := uint16(i)<<8 | 0xFF
		phy.push(Frame{Src: Addr{Prefix: 0xFF, NodeID: nodeID}, Dst: RootAddr, Cmd: CmdJoin, Seq: 0})
		phy.waitSent(t)
		phy.push(Frame{Src: Addr{Prefix: MinPrefix + uint8(i), NodeID: nodeID}, Dst: RootAddr, Cmd: CmdQuery, Seq: 1})
		phy.waitSent(t)
	}

	if m.nextPrefix != 0xFC {
		t.Fatalf("expected nextPrefix 0xFC after 250 joins, got %#x", m.nextPrefix)
	}

	// 251st join: accepted, assigns prefix 0xFC.
	phy.push(Frame{Src: Addr{Prefix: 0xFF, NodeID: 0xFFFF}, Dst: RootAddr, Cmd: CmdJoin, Seq: 0})
	resp := phy.waitSent(t)
	if resp.Payload != "FC" {
		t.Fatalf("expected prefix FC assigned, got %s", resp.Payload)
	}

	// 252nd join: refused, no emission, no record.
	phy.push(Frame{Src: Addr{Prefix: 0xFE, NodeID: 0xFFFE}, Dst: RootAddr, Cmd: CmdJoin, Seq: 0})
	phy.expectNoSend(t)
}

func TestSeqPolicy(t *testing.T) {
	c := NewChild(Addr{Prefix: 2, NodeID: 1})

	if o := c.CompareUpdateExpectedSN(1); o != SeqInOrder || c.ExpectedSN != 2 {
		t.Fatalf("in-order: outcome=%v expected=%d", o, c.ExpectedSN)
	}
	if o := c.CompareUpdateExpectedSN(1); o != SeqStale {
		t.Fatalf("duplicate should be stale, got %v", o)
	}
	if o := c.CompareUpdateExpectedSN(5); o != SeqGap || c.ExpectedSN != 6 {
		t.Fatalf("gap: outcome=%v expected=%d", o, c.ExpectedSN)
	}

	c2 := NewChild(Addr{Prefix: 3, NodeID: 2})
	c2.ExpectedSN = 0
	if o := c2.CompareUpdateExpectedSN(255); o != SeqStale || c2.ExpectedSN != 0 {
		t.Fatalf("wrap-around stale case failed: outcome=%v expected=%d", o, c2.ExpectedSN)
	}
}

func TestFrameRoundTrip(t *testing.T) {
	f := Frame{
		Src:     Addr{Prefix: 0xB2, NodeID: 0xB2E5},
		Dst:     Addr{Prefix: 0xB3, NodeID: 0xC2D6},
		Cmd:     CmdData,
		K:       true,
		N:       false,
		Seq:     42,
		Payload: "48656C6C6F",
	}

	encoded := f.Encode()
	decoded, err := DecodeFrame(encoded)
	if err != nil {
		t.Fatalf("DecodeFrame: %v", err)
	}
	if decoded != f {
		t.Fatalf("round trip mismatch: got %+v want %+v", decoded, f)
	}
}
