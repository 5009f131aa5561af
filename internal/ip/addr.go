// Package ip adapts the MAC layer's 24-bit LoRa addressing and framed
// payloads to full IPv6 datagrams: a fixed address template (this file)
// and a header elision/reconstruction codec (packet.go), composed into a
// Stack (stack.go) that an application links against directly.
package ip

import (
	"fmt"
	"net"

	"github.com/loramac/lora-root/internal/mac"
)

// linkAddrMid is the fixed middle portion of every address in the
// template, bytes 8..13 of §3's ULA layout.
var linkAddrMid = [6]byte{0x02, 0x12, 0x4B, 0x00, 0x06, 0x0D}

// LoraToIPv6 binds a LoRa address into the fd00::/8 template. All 24 bits
// of the address are preserved.
func LoraToIPv6(addr mac.Addr) net.IP {
	out := make(net.IP, net.IPv6len)
	out[0] = 0xFD
	out[7] = addr.Prefix
	copy(out[8:14], linkAddrMid[:])
	out[14] = byte(addr.NodeID >> 8)
	out[15] = byte(addr.NodeID)
	return out
}

// IPv6ToLora extracts the LoRa address bound into ip by LoraToIPv6.
// Conversion is total: any 16-byte address yields a value, even if it was
// never produced by LoraToIPv6.
func IPv6ToLora(ip net.IP) (mac.Addr, error) {
	ip16 := ip.To16()
	if ip16 == nil {
		return mac.Addr{}, fmt.Errorf("ip: %v is not a valid IPv6 address", ip)
	}
	return mac.Addr{
		Prefix: ip16[7],
		NodeID: uint16(ip16[14])<<8 | uint16(ip16[15]),
	}, nil
}
