package telemetry

import (
	"log"

	"github.com/loramac/lora-root/internal/mac"
)

// event is a queued child-lifecycle transition awaiting the writer
// goroutine.
type event struct {
	addr mac.Addr
	kind mac.EventKind
}

// AsyncSink decouples the MAC RX worker from SQLite write latency: events
// are queued on a bounded channel and applied by a dedicated goroutine, so
// a slow disk never blocks protocol processing. A full queue drops the
// incoming event and logs a warning, mirroring the PHY RX-queue overflow
// policy.
type AsyncSink struct {
	store *Store
	queue chan event
}

// NewAsyncSink wraps store with a bounded queue of depth and starts the
// writer goroutine.
func NewAsyncSink(store *Store, depth int) *AsyncSink {
	a := &AsyncSink{store: store, queue: make(chan event, depth)}
	go a.run()
	return a
}

// ChildEvent implements mac.EventSink.
func (a *AsyncSink) ChildEvent(addr mac.Addr, kind mac.EventKind) {
	select {
	case a.queue <- event{addr, kind}:
	default:
		log.Printf("telemetry: event queue full, dropping %s for %s", kind, addr)
	}
}

func (a *AsyncSink) run() {
	for e := range a.queue {
		a.store.ChildEvent(e.addr, e.kind)
	}
}
