package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func dialHub(t *testing.T, h *WSHub) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(h.HandleWS))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

// readMessages decodes n broadcast frames off the connection.
func readMessages(t *testing.T, conn *websocket.Conn, n int) []WSMessage {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var out []WSMessage
	for len(out) < n {
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("read after %d messages: %v", len(out), err)
		}
		var msg WSMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			t.Fatalf("decode: %v", err)
		}
		out = append(out, msg)
	}
	return out
}

func TestWSHub_BroadcastReachesClient(t *testing.T) {
	h := NewWSHub()
	go h.Run()
	conn := dialHub(t, h)

	// Registration is asynchronous; keep broadcasting until the reader has
	// seen a frame rather than sleeping for it.
	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-done:
				return
			default:
				h.Broadcast(WSMessage{Type: "trade_executed", Ticker: "SNTS"})
				time.Sleep(5 * time.Millisecond)
			}
		}
	}()

	msgs := readMessages(t, conn, 1)
	close(done)
	if msgs[0].Type != "trade_executed" || msgs[0].Ticker != "SNTS" {
		t.Errorf("unexpected message: %+v", msgs[0])
	}
}

// Concurrent broadcasters must funnel through each connection's single
// writer without corrupting frames: every frame read back decodes cleanly.
func TestWSHub_ConcurrentBroadcasts(t *testing.T) {
	h := NewWSHub()
	go h.Run()
	conn := dialHub(t, h)

	const writers = 4
	done := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-done:
					return
				default:
					h.Broadcast(WSMessage{Type: "leaderboard_refreshed"})
					time.Sleep(time.Millisecond)
				}
			}
		}()
	}

	msgs := readMessages(t, conn, 25)
	close(done)
	wg.Wait()

	for i, msg := range msgs {
		if msg.Type != "leaderboard_refreshed" {
			t.Fatalf("frame %d corrupted: %+v", i, msg)
		}
	}
}

// A disconnected client is unregistered; later broadcasts must neither block
// nor panic, and surviving clients keep receiving.
func TestWSHub_DisconnectedClientDropped(t *testing.T) {
	h := NewWSHub()
	go h.Run()

	gone := dialHub(t, h)
	alive := dialHub(t, h)
	gone.Close()

	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-done:
				return
			default:
				h.Broadcast(WSMessage{Type: "trade_executed"})
				time.Sleep(5 * time.Millisecond)
			}
		}
	}()

	msgs := readMessages(t, alive, 5)
	close(done)
	for _, msg := range msgs {
		if msg.Type != "trade_executed" {
			t.Errorf("unexpected message: %+v", msg)
		}
	}
}
