package bridge

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/go-zeromq/zmq4"

	"github.com/loramac/lora-root/internal/ip"
)

// ZMQBridge re-publishes delivered packets on a PUB socket and accepts
// send requests on a REP socket, for an out-of-process upper layer.
// Grounded on the teacher's Concentratord event/command ZMQ socket pair,
// with roles reversed: this process binds both sockets instead of
// dialing out to a concentrator daemon.
type ZMQBridge struct {
	stack *ip.Stack

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	pub zmq4.Socket
	rep zmq4.Socket
}

// NewZMQBridge creates a bridge for stack. Call Start to bind and begin
// serving.
func NewZMQBridge(stack *ip.Stack) *ZMQBridge {
	ctx, cancel := context.WithCancel(context.Background())
	return &ZMQBridge{
		stack:  stack,
		ctx:    ctx,
		cancel: cancel,
		pub:    zmq4.NewPub(ctx),
		rep:    zmq4.NewRep(ctx),
	}
}

// Start binds the PUB and REP sockets and begins serving REP requests.
func (b *ZMQBridge) Start(pubAddr, repAddr string) error {
	if err := b.pub.Listen(pubAddr); err != nil {
		return fmt.Errorf("bridge: zmq pub listen %s: %w", pubAddr, err)
	}
	if err := b.rep.Listen(repAddr); err != nil {
		b.pub.Close()
		return fmt.Errorf("bridge: zmq rep listen %s: %w", repAddr, err)
	}

	b.wg.Add(1)
	go b.serveRep()

	log.Printf("bridge: zmq pub=%s rep=%s", pubAddr, repAddr)
	return nil
}

// Stop closes both sockets and waits for the REP loop to exit.
func (b *ZMQBridge) Stop() {
	b.cancel()
	b.pub.Close()
	b.rep.Close()
	b.wg.Wait()
}

// Publish frames packet as dst-lora-addr || packet-bytes and sends it on
// the PUB socket.
func (b *ZMQBridge) Publish(packet []byte) {
	_, dst, err := addrsOf(packet)
	if err != nil {
		log.Printf("bridge: zmq publish: %v", err)
		return
	}

	var addrBuf [3]byte
	dst.Encode(addrBuf[:])

	frame := append(addrBuf[:], packet...)
	if err := b.pub.Send(zmq4.NewMsg(frame)); err != nil {
		log.Printf("bridge: zmq pub send: %v", err)
	}
}

// serveRep answers (dest-lora-addr, packet-bytes) requests by forwarding
// them to ip.Send, replying "ok" or the error string.
func (b *ZMQBridge) serveRep() {
	defer b.wg.Done()
	for {
		msg, err := b.rep.Recv()
		if err != nil {
			if b.ctx.Err() != nil {
				return
			}
			log.Printf("bridge: zmq rep recv: %v", err)
			continue
		}

		reply := b.handleSendRequest(msg.Bytes())
		if err := b.rep.Send(zmq4.NewMsg([]byte(reply))); err != nil {
			log.Printf("bridge: zmq rep send: %v", err)
		}
	}
}

// handleSendRequest expects the wire shape (dest-lora-addr || packet-bytes)
// for symmetry with Publish's framing; the destination itself is
// redundant with the packet's own IPv6 header and is only used to
// validate the request is well-formed.
func (b *ZMQBridge) handleSendRequest(req []byte) string {
	if len(req) < 3 {
		return "error: request too short"
	}
	if err := b.stack.Send(req[3:]); err != nil {
		return "error: " + err.Error()
	}
	return "ok"
}
