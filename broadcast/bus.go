// Package broadcast fans out ingested ticks to connected viewers over
// WebSocket. It has no write path into the system - it
// only ever relays what ingest hands it.
package broadcast

import (
	"encoding/json"
	"log"
	"sync"

	"github.com/koorukuroo/contest-engine/metrics"
)

// sendBufferSize bounds how far behind a slow viewer can fall before
// its updates start getting dropped instead of blocking the bus.
const sendBufferSize = 256

// Viewer is one connected downstream subscriber. The transport layer
// (wsapi) owns the socket; Bus only owns routing into Send.
type Viewer struct {
	Send chan []byte

	mu    sync.RWMutex
	codes map[string]bool // nil/empty means "all codes"
}

func newViewer() *Viewer {
	return &Viewer{
		Send:  make(chan []byte, sendBufferSize),
		codes: make(map[string]bool),
	}
}

// SetCodes replaces the viewer's subscription set. An empty set means
// "subscribe to everything".
func (v *Viewer) SetCodes(codes []string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.codes = make(map[string]bool, len(codes))
	for _, c := range codes {
		v.codes[c] = true
	}
}

func (v *Viewer) wants(code string) bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	if len(v.codes) == 0 {
		return true
	}
	return v.codes[code]
}

// Bus is the viewer registry and fan-out loop. Per-viewer tick delivery
// is ordered (the bus's single run goroutine writes every tick), but
// delivery across viewers is best-effort: a full viewer channel drops
// the update rather than stalling the rest.
type Bus struct {
	register   chan *Viewer
	unregister chan *Viewer
	publish    chan publishedTick

	mu      sync.RWMutex
	viewers map[*Viewer]bool
}

type publishedTick struct {
	code string
	data []byte
}

func NewBus() *Bus {
	b := &Bus{
		register:   make(chan *Viewer),
		unregister: make(chan *Viewer),
		publish:    make(chan publishedTick, 4096),
		viewers:    make(map[*Viewer]bool),
	}
	go b.run()
	return b
}

// Register adds a new viewer and returns it; the caller is responsible
// for calling Unregister when the connection closes.
func (b *Bus) Register() *Viewer {
	v := newViewer()
	b.register <- v
	return v
}

func (b *Bus) Unregister(v *Viewer) {
	b.unregister <- v
}

// PublishTick marshals payload and fans it out to every viewer
// subscribed to code.
func (b *Bus) PublishTick(code string, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	select {
	case b.publish <- publishedTick{code: code, data: data}:
	default:
		log.Printf("[broadcast] publish queue full, dropping tick for %s", code)
	}
}

func (b *Bus) run() {
	for {
		select {
		case v := <-b.register:
			b.mu.Lock()
			b.viewers[v] = true
			b.mu.Unlock()
			metrics.ActiveViewers.Set(float64(b.ViewerCount()))

		case v := <-b.unregister:
			b.mu.Lock()
			if _, ok := b.viewers[v]; ok {
				delete(b.viewers, v)
				close(v.Send)
			}
			b.mu.Unlock()
			metrics.ActiveViewers.Set(float64(b.ViewerCount()))

		case pt := <-b.publish:
			b.mu.RLock()
			for v := range b.viewers {
				if !v.wants(pt.code) {
					continue
				}
				select {
				case v.Send <- pt.data:
					metrics.BroadcastFanoutTotal.WithLabelValues(pt.code).Inc()
				default:
					// Slow viewer - drop rather than block the bus.
					metrics.BroadcastViewersDropped.WithLabelValues(pt.code).Inc()
				}
			}
			b.mu.RUnlock()
		}
	}
}

// ViewerCount reports how many viewers are currently registered.
func (b *Bus) ViewerCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.viewers)
}
