// Package ingest connects to the upstream market-data feed and turns
// its wire messages into domain.Tick values for the rest of the core
// to consume.
package ingest

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/koorukuroo/contest-engine/domain"
	"github.com/koorukuroo/contest-engine/metrics"
)

const (
	pingInterval = 30 * time.Second
	idleTimeout  = 10 * time.Second
)

// Ingestor maintains the upstream WebSocket connection, decodes ticks,
// and fans them out to every registered sink.
type Ingestor struct {
	url              string
	codes            []string
	reconnectDelay   time.Duration
	pingInterval     time.Duration
	idleTimeout      time.Duration

	mu        sync.RWMutex
	conn      *websocket.Conn
	connected bool

	sinks []func(domain.Tick)
}

// Option configures non-default timing for tests.
type Option func(*Ingestor)

func WithReconnectDelay(d time.Duration) Option { return func(i *Ingestor) { i.reconnectDelay = d } }
func WithPingInterval(d time.Duration) Option    { return func(i *Ingestor) { i.pingInterval = d } }
func WithIdleTimeout(d time.Duration) Option      { return func(i *Ingestor) { i.idleTimeout = d } }

// New creates an Ingestor for url, subscribing to codes once connected.
func New(url string, codes []string, opts ...Option) *Ingestor {
	i := &Ingestor{
		url:            url,
		codes:          codes,
		reconnectDelay: 1 * time.Second,
		pingInterval:   pingInterval,
		idleTimeout:    idleTimeout,
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Subscribe registers a sink invoked synchronously for every decoded
// tick, in ingest order. A sink that blocks holds up ingest: broadcast
// hands the tick to its own buffered fan-out, while matching processes
// the tick in place before returning.
func (i *Ingestor) Subscribe(sink func(domain.Tick)) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.sinks = append(i.sinks, sink)
}

// Run connects and reconnects until ctx is cancelled.
func (i *Ingestor) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if err := i.connectAndRead(ctx); err != nil {
			log.Printf("[ingest] connection lost: %v", err)
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(i.reconnectDelay):
		}
	}
}

func (i *Ingestor) connectAndRead(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.Dial(i.url, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	i.mu.Lock()
	i.conn = conn
	i.connected = true
	i.mu.Unlock()
	metrics.IngestConnected.Set(1)

	defer func() {
		i.mu.Lock()
		i.connected = false
		i.conn = nil
		i.mu.Unlock()
		metrics.IngestConnected.Set(0)
	}()

	if err := i.sendSubscribe(conn); err != nil {
		return err
	}

	conn.SetReadDeadline(time.Now().Add(i.idleTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(i.idleTimeout))
		return nil
	})

	go i.pingLoop(ctx, conn)

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		_, message, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		conn.SetReadDeadline(time.Now().Add(i.idleTimeout))
		i.handleMessage(message)
	}
}

func (i *Ingestor) sendSubscribe(conn *websocket.Conn) error {
	// Upstream expects an array: a ticket object followed by a type/codes
	// object, matching the typical Korean exchange ticker protocol.
	frame := []map[string]interface{}{
		{"ticket": "contest-engine"},
		{"type": "ticker", "codes": i.codes},
	}
	return conn.WriteJSON(frame)
}

func (i *Ingestor) pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(i.pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (i *Ingestor) handleMessage(message []byte) {
	var tick domain.Tick
	if err := json.Unmarshal(message, &tick); err != nil {
		return
	}
	if tick.Code == "" || tick.TradePrice <= 0 {
		return
	}
	if !domain.InSanityBand(tick.Code, tick.TradePrice) {
		log.Printf("[ingest] dropping out-of-band tick for %s: %f", tick.Code, tick.TradePrice)
		return
	}
	metrics.TicksIngestedTotal.WithLabelValues(tick.Code).Inc()

	i.mu.RLock()
	sinks := make([]func(domain.Tick), len(i.sinks))
	copy(sinks, i.sinks)
	i.mu.RUnlock()

	for _, sink := range sinks {
		sink(tick)
	}
}

// IsConnected reports whether the upstream connection is currently live.
func (i *Ingestor) IsConnected() bool {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.connected
}
