package ip

import (
	"bytes"
	"encoding/hex"
	"testing"

	"github.com/loramac/lora-root/internal/mac"
)

func TestLoraIPv6RoundTrip(t *testing.T) {
	addr := mac.Addr{Prefix: 0x5B, NodeID: 0xC0FE}

	ipAddr := LoraToIPv6(addr)
	if ipAddr[0] != 0xFD {
		t.Fatalf("expected ULA prefix 0xFD, got %#x", ipAddr[0])
	}

	back, err := IPv6ToLora(ipAddr)
	if err != nil {
		t.Fatalf("IPv6ToLora: %v", err)
	}
	if back != addr {
		t.Fatalf("round trip mismatch: got %+v want %+v", back, addr)
	}
}

func TestPacketRoundTrip(t *testing.T) {
	src := mac.Addr{Prefix: 0x02, NodeID: 0x0102}
	dst := mac.RootAddr

	payload, err := hex.DecodeString("DEADBEEFCAFE")
	if err != nil {
		t.Fatalf("bad test payload: %v", err)
	}

	packet := make([]byte, 0, 40+len(payload))
	packet = append(packet, []byte{0x60, 0x00, 0x00, 0x00, 0x00, byte(len(payload)), 0x11, 0x40}...)
	packet = append(packet, LoraToIPv6(src)...)
	packet = append(packet, LoraToIPv6(dst)...)
	packet = append(packet, payload...)

	hexPayload, gotSrc, gotDst, err := Serialize(packet)
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}
	if gotSrc != src || gotDst != dst {
		t.Fatalf("Serialize addresses: got src=%s dst=%s want src=%s dst=%s", gotSrc, gotDst, src, dst)
	}

	rebuilt, err := Build(hexPayload, gotSrc, gotDst)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if !bytes.Equal(rebuilt, packet) {
		t.Fatalf("round trip mismatch:\ngot  %x\nwant %x", rebuilt, packet)
	}
}

func TestSerializeRejectsShortPacket(t *testing.T) {
	if _, _, _, err := Serialize(make([]byte, 10)); err == nil {
		t.Fatal("expected error for too-short packet")
	}
}
