package ip

import (
	"encoding/hex"
	"fmt"

	"github.com/loramac/lora-root/internal/mac"
)

// headerLen is the fixed IPv6 header size in bytes.
const headerLen = 40

// keptHeaderHex is how many leading hex characters of the header survive
// elision: the first 8 bytes (version/traffic-class/flow-label/payload
// length/next-header/hop-limit).
const keptHeaderHex = 16

// elidedHeaderHex is the hex length of the 40-byte header; everything
// from here on in the serialized form is payload.
const elidedHeaderHex = headerLen * 2

// Serialize implements §4.3's header elision: it strips the 32 address
// bytes of an IPv6 packet, since they are reconstructable from the LoRa
// addresses already carried in the MAC frame header.
func Serialize(packet []byte) (hexPayload string, src, dst mac.Addr, err error) {
	if len(packet) < headerLen {
		return "", mac.Addr{}, mac.Addr{}, fmt.Errorf("ip: packet too short: %d bytes", len(packet))
	}

	src, err = IPv6ToLora(packet[8:24])
	if err != nil {
		return "", mac.Addr{}, mac.Addr{}, fmt.Errorf("ip: source address: %w", err)
	}
	dst, err = IPv6ToLora(packet[24:40])
	if err != nil {
		return "", mac.Addr{}, mac.Addr{}, fmt.Errorf("ip: destination address: %w", err)
	}

	full := hex.EncodeToString(packet)
	hexPayload = full[:keptHeaderHex] + full[elidedHeaderHex:]
	return hexPayload, src, dst, nil
}

// Build re-synthesizes a 40-byte IPv6 header from the kept leading 8
// bytes plus the source/destination addresses reconstructed from src and
// dst, and appends the remaining payload. Build(Serialize(p)) == p for
// every well-formed packet whose addresses lie in the template space.
func Build(hexPayload string, src, dst mac.Addr) ([]byte, error) {
	if len(hexPayload) < keptHeaderHex {
		return nil, fmt.Errorf("ip: hex payload too short: %d chars", len(hexPayload))
	}

	head, err := hex.DecodeString(hexPayload[:keptHeaderHex])
	if err != nil {
		return nil, fmt.Errorf("ip: decode header: %w", err)
	}
	rest, err := hex.DecodeString(hexPayload[keptHeaderHex:])
	if err != nil {
		return nil, fmt.Errorf("ip: decode payload: %w", err)
	}

	packet := make([]byte, 0, headerLen+len(rest))
	packet = append(packet, head...)
	packet = append(packet, LoraToIPv6(src)...)
	packet = append(packet, LoraToIPv6(dst)...)
	packet = append(packet, rest...)
	return packet, nil
}
