package ip

import (
	"fmt"
	"log"
	"net"

	"github.com/loramac/lora-root/internal/mac"
)

// PacketSink receives fully-rebuilt IPv6 datagrams delivered from the
// network.
type PacketSink func(packet []byte)

// Stack assembles PHY, MAC and IP into the programmatic API of §6:
// register_listener / send / node_ip_addr / node_lora_addr. Unlike the
// reference implementation's module-level singleton, it is an explicit,
// independently constructible object — a process may in principle run
// more than one.
type Stack struct {
	mac  *mac.MAC
	self mac.Addr
	sink PacketSink
}

// NewStack wires m's upward deliveries into the IP codec. self is this
// root's own LoRa address, used as the reconstructed destination address
// of every inbound packet (every frame the MAC layer delivers upward
// necessarily has dst == self).
func NewStack(m *mac.MAC, self mac.Addr) *Stack {
	s := &Stack{mac: m, self: self}
	m.RegisterListener(s.onDeliver)
	return s
}

// RegisterListener installs the sink that receives rebuilt IPv6 packets.
func (s *Stack) RegisterListener(sink PacketSink) {
	s.sink = sink
}

// Send elides addresses from packet and hands it to the MAC layer for the
// destination the packet's own IPv6 header names.
func (s *Stack) Send(packet []byte) error {
	hexPayload, _, dst, err := Serialize(packet)
	if err != nil {
		return fmt.Errorf("ip: send: %w", err)
	}
	if err := s.mac.Send(dst, hexPayload); err != nil {
		return fmt.Errorf("ip: send: %w", err)
	}
	return nil
}

// NodeIPAddr maps a child's LoRa address to its IPv6 address.
func (s *Stack) NodeIPAddr(addr mac.Addr) net.IP {
	return LoraToIPv6(addr)
}

// NodeLoRaAddr maps an IPv6 address back to its LoRa address.
func (s *Stack) NodeLoRaAddr(ip net.IP) (mac.Addr, error) {
	return IPv6ToLora(ip)
}

// onDeliver is mac.Listener: it reconstructs a full IPv6 packet from a
// frame's source address and hex payload and forwards it to the
// registered sink.
func (s *Stack) onDeliver(src mac.Addr, payloadHex string) {
	packet, err := Build(payloadHex, src, s.self)
	if err != nil {
		log.Printf("ip: rebuild packet from %s: %v", src, err)
		return
	}
	if s.sink != nil {
		s.sink(packet)
	}
}
