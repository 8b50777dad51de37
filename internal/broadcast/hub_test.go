package broadcast

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func dialHub(t *testing.T, hub *Hub) *websocket.Conn {
	t.Helper()

	server := httptest.NewServer(http.HandlerFunc(hub.ServeWS))
	t.Cleanup(server.Close)

	url := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func waitForClients(t *testing.T, hub *Hub, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for hub.ClientCount() != want {
		if time.Now().After(deadline) {
			t.Fatalf("client count = %d, want %d", hub.ClientCount(), want)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestPublishReachesConnectedClient(t *testing.T) {
	hub := NewHub()
	conn := dialHub(t, hub)
	waitForClients(t, hub, 1)

	hub.Publish(TypeTrustUpdate, map[string]any{"new_score": 80.0})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, payload, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}

	var msg Message
	if err := json.Unmarshal(payload, &msg); err != nil {
		t.Fatalf("bad frame %q: %v", payload, err)
	}
	if msg.Type != TypeTrustUpdate {
		t.Fatalf("frame type = %q, want %q", msg.Type, TypeTrustUpdate)
	}
	data, ok := msg.Data.(map[string]any)
	if !ok || data["new_score"] != 80.0 {
		t.Fatalf("frame data = %+v", msg.Data)
	}
}

func TestSessionUpdatePublishesFrame(t *testing.T) {
	hub := NewHub()
	conn := dialHub(t, hub)
	waitForClients(t, hub, 1)

	hub.SessionUpdate(map[string]any{"mode": "training", "status": "started"})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, payload, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	var msg Message
	if err := json.Unmarshal(payload, &msg); err != nil {
		t.Fatalf("bad frame: %v", err)
	}
	if msg.Type != TypeSessionUpdate {
		t.Fatalf("frame type = %q, want %q", msg.Type, TypeSessionUpdate)
	}
}

func TestPublishWithNoClients(t *testing.T) {
	hub := NewHub()
	// Must not panic or block.
	hub.Publish(TypeEvent, map[string]any{"id": "evt-1"})
	if hub.ClientCount() != 0 {
		t.Fatalf("client count = %d, want 0", hub.ClientCount())
	}
}

func TestDisconnectedClientIsRemoved(t *testing.T) {
	hub := NewHub()
	conn := dialHub(t, hub)
	waitForClients(t, hub, 1)

	conn.Close()
	waitForClients(t, hub, 0)
}
