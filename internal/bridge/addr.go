package bridge

import (
	"fmt"

	"github.com/loramac/lora-root/internal/ip"
	"github.com/loramac/lora-root/internal/mac"
)

// addrsOf extracts the source and destination LoRa addresses embedded in
// a rebuilt IPv6 packet, without needing the stack to carry addressing
// metadata alongside the packet bytes.
func addrsOf(packet []byte) (src, dst mac.Addr, err error) {
	if len(packet) < 40 {
		return mac.Addr{}, mac.Addr{}, fmt.Errorf("bridge: packet too short: %d bytes", len(packet))
	}
	src, err = ip.IPv6ToLora(packet[8:24])
	if err != nil {
		return mac.Addr{}, mac.Addr{}, err
	}
	dst, err = ip.IPv6ToLora(packet[24:40])
	if err != nil {
		return mac.Addr{}, mac.Addr{}, err
	}
	return src, dst, nil
}
