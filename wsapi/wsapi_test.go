package wsapi

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/koorukuroo/contest-engine/broadcast"
)

func TestDecodeSubscribe(t *testing.T) {
	cases := []struct {
		name      string
		frame     subscribeFrame
		wantOK    bool
		wantCodes []string
	}{
		{name: "all", frame: subscribeFrame{Subscribe: "all"}, wantOK: true, wantCodes: nil},
		{name: "other string rejected", frame: subscribeFrame{Subscribe: "everything"}, wantOK: false},
		{
			name:      "explicit code list",
			frame:     subscribeFrame{Subscribe: []interface{}{"KRW-BTC", "KRW-ETH"}},
			wantOK:    true,
			wantCodes: []string{"KRW-BTC", "KRW-ETH"},
		},
		{
			name:      "non-string elements are skipped",
			frame:     subscribeFrame{Subscribe: []interface{}{"KRW-BTC", 7, "KRW-ETH"}},
			wantOK:    true,
			wantCodes: []string{"KRW-BTC", "KRW-ETH"},
		},
		{name: "unrecognized type", frame: subscribeFrame{Subscribe: 42}, wantOK: false},
		{name: "nil subscribe", frame: subscribeFrame{Subscribe: nil}, wantOK: false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			codes, ok := decodeSubscribe(tc.frame)
			if ok != tc.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tc.wantOK)
			}
			if !ok {
				return
			}
			if len(codes) != len(tc.wantCodes) {
				t.Fatalf("codes = %v, want %v", codes, tc.wantCodes)
			}
			for i := range codes {
				if codes[i] != tc.wantCodes[i] {
					t.Fatalf("codes = %v, want %v", codes, tc.wantCodes)
				}
			}
		})
	}
}

// TestServeHTTPRelaysSubscribedTicks drives a real WebSocket round
// trip: a client subscribes to one code, the bus publishes ticks on
// two codes, and only the subscribed one should arrive.
func TestServeHTTPRelaysSubscribedTicks(t *testing.T) {
	bus := broadcast.NewBus()
	server := httptest.NewServer(New(bus))
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if err := conn.WriteJSON(subscribeFrame{Subscribe: []interface{}{"KRW-BTC"}}); err != nil {
		t.Fatalf("write subscribe frame: %v", err)
	}

	var ack subscribedAck
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if err := conn.ReadJSON(&ack); err != nil {
		t.Fatalf("read ack: %v", err)
	}
	if ack.Status != "subscribed" || len(ack.Codes) != 1 || ack.Codes[0] != "KRW-BTC" {
		t.Fatalf("unexpected ack: %+v", ack)
	}

	// Give the bus's registration goroutine a moment to process before
	// publishing, since Register/PublishTick race otherwise.
	waitForViewerCount(t, bus, 1)

	bus.PublishTick("KRW-ETH", map[string]string{"code": "KRW-ETH"})
	bus.PublishTick("KRW-BTC", map[string]string{"code": "KRW-BTC"})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read tick: %v", err)
	}
	if !strings.Contains(string(data), "KRW-BTC") {
		t.Fatalf("expected the KRW-BTC tick to arrive first, got %s", data)
	}
}

func waitForViewerCount(t *testing.T, bus *broadcast.Bus, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if bus.ViewerCount() == n {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("viewer count never reached %d", n)
}

var _ http.Handler = (*Handler)(nil)
