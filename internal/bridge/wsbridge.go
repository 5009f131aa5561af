// Package bridge provides optional out-of-process attachment points for
// the IP stack: a WebSocket stream for a local debug/monitor client and a
// ZeroMQ PUB/REP pair for a separate upper-layer process. Both are pure
// side adapters — removing either leaves PHY/MAC/IP semantics untouched.
package bridge

import (
	"encoding/hex"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/loramac/lora-root/internal/ip"
)

// WSConfig holds the WebSocket bridge's timing parameters.
type WSConfig struct {
	PingInterval time.Duration
	WriteTimeout time.Duration
	ReadTimeout  time.Duration
}

// DefaultWSConfig mirrors the cloud client's original keepalive timing.
func DefaultWSConfig() WSConfig {
	return WSConfig{
		PingInterval: 30 * time.Second,
		WriteTimeout: 10 * time.Second,
		ReadTimeout:  60 * time.Second,
	}
}

// record is the JSON shape of every frame carried over the bridge, in
// either direction.
type record struct {
	Src        string `json:"src"`
	Dst        string `json:"dst"`
	PayloadHex string `json:"payload_hex"`
}

// WSBridge streams rebuilt IPv6 packets out over a single upgraded
// WebSocket connection, and accepts the same shape inbound for injection
// back into the stack. Grounded on the teacher's cloud client's
// connect/read-loop/write-loop/ping-loop structure, repurposed from a
// cloud uplink into a local attachment point that accepts rather than
// dials a connection.
type WSBridge struct {
	cfg      WSConfig
	stack    *ip.Stack
	upgrader websocket.Upgrader
	sendChan chan record

	mu   sync.Mutex
	conn *websocket.Conn
}

// NewWSBridge creates a bridge that publishes packets delivered by stack
// and forwards inbound records from the attached client to stack.Send.
func NewWSBridge(stack *ip.Stack, cfg WSConfig) *WSBridge {
	return &WSBridge{
		cfg:      cfg,
		stack:    stack,
		upgrader: websocket.Upgrader{},
		sendChan: make(chan record, 100),
	}
}

// Publish queues packet for delivery to the attached client, if any. It
// is meant to be wired as (part of) the fan-out registered on the stack's
// upward listener.
func (b *WSBridge) Publish(packet []byte) {
	src, dst, err := addrsOf(packet)
	if err != nil {
		log.Printf("bridge: ws publish: %v", err)
		return
	}
	rec := record{Src: src.String(), Dst: dst.String(), PayloadHex: hex.EncodeToString(packet)}
	select {
	case b.sendChan <- rec:
	default:
		log.Println("bridge: ws send queue full, dropping packet")
	}
}

// ServeHTTP upgrades the connection and runs its read/write/ping loops
// until it drops, replacing whatever connection (if any) was previously
// attached.
func (b *WSBridge) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("bridge: ws upgrade: %v", err)
		return
	}

	b.mu.Lock()
	if b.conn != nil {
		b.conn.Close()
	}
	b.conn = conn
	b.mu.Unlock()

	sessionID := uuid.NewString()
	log.Printf("bridge: ws client attached, session=%s", sessionID)

	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(3)
	go func() { defer wg.Done(); b.readLoop(conn, done, sessionID) }()
	go func() { defer wg.Done(); b.writeLoop(conn, done, sessionID) }()
	go func() { defer wg.Done(); b.pingLoop(conn, done) }()
	wg.Wait()

	log.Printf("bridge: ws client detached, session=%s", sessionID)
}

func (b *WSBridge) readLoop(conn *websocket.Conn, done chan struct{}, sessionID string) {
	defer close(done)
	for {
		conn.SetReadDeadline(time.Now().Add(b.cfg.ReadTimeout))
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("bridge: ws read session=%s: %v", sessionID, err)
			}
			return
		}

		var rec record
		if err := json.Unmarshal(data, &rec); err != nil {
			log.Printf("bridge: ws parse inbound record session=%s: %v", sessionID, err)
			continue
		}
		packet, err := hex.DecodeString(rec.PayloadHex)
		if err != nil {
			log.Printf("bridge: ws decode inbound payload session=%s: %v", sessionID, err)
			continue
		}
		if err := b.stack.Send(packet); err != nil {
			log.Printf("bridge: ws inject session=%s: %v", sessionID, err)
		}
	}
}

func (b *WSBridge) writeLoop(conn *websocket.Conn, done chan struct{}, sessionID string) {
	for {
		select {
		case <-done:
			return
		case rec := <-b.sendChan:
			data, err := json.Marshal(rec)
			if err != nil {
				log.Printf("bridge: ws marshal record session=%s: %v", sessionID, err)
				continue
			}
			conn.SetWriteDeadline(time.Now().Add(b.cfg.WriteTimeout))
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Printf("bridge: ws write session=%s: %v", sessionID, err)
				return
			}
		}
	}
}

func (b *WSBridge) pingLoop(conn *websocket.Conn, done chan struct{}) {
	ticker := time.NewTicker(b.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(b.cfg.WriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
