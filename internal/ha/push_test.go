package ha

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// mockWSServer runs a fake HA WebSocket endpoint at /api/websocket.
func mockWSServer(t *testing.T, handler func(*websocket.Conn)) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/websocket" {
			http.NotFound(w, r)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()
		handler(conn)
	}))
	t.Cleanup(server.Close)
	return server
}

// serveAuthFlow plays the HA side of the auth handshake.
func serveAuthFlow(t *testing.T, conn *websocket.Conn, token string) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(Message{Type: "auth_required"}))

	var auth AuthMessage
	require.NoError(t, conn.ReadJSON(&auth))
	assert.Equal(t, "auth", auth.Type)
	assert.Equal(t, token, auth.AccessToken)

	require.NoError(t, conn.WriteJSON(Message{Type: "auth_ok"}))
}

func stateChangedMessage(t *testing.T, entityID, state string) Message {
	t.Helper()
	data, err := json.Marshal(StateChangedEvent{
		EntityID: entityID,
		NewState: &State{EntityID: entityID, State: state},
	})
	require.NoError(t, err)
	return Message{
		Type:  "event",
		Event: &Event{EventType: "state_changed", Data: data},
	}
}

func TestPushListenerForwardsBoundValues(t *testing.T) {
	var mu sync.Mutex
	received := make(map[string]int)

	server := mockWSServer(t, func(conn *websocket.Conn) {
		serveAuthFlow(t, conn, "tok")

		var sub SubscribeEventsRequest
		require.NoError(t, conn.ReadJSON(&sub))
		assert.Equal(t, "state_changed", sub.EventType)
		ok := true
		conn.WriteJSON(Message{ID: sub.ID, Type: "result", Success: &ok})

		conn.WriteJSON(stateChangedMessage(t, "number.office_brightness", "64"))
		conn.WriteJSON(stateChangedMessage(t, "number.unrelated", "1"))
		conn.WriteJSON(stateChangedMessage(t, "number.office_brightness", "unavailable"))

		time.Sleep(200 * time.Millisecond)
	})

	listener := NewPushListener(server.URL, "tok",
		[]string{"number.office_brightness"},
		func(entityID string, value int) {
			mu.Lock()
			received[entityID] = value
			mu.Unlock()
		},
		zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		listener.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return received["number.office_brightness"] == 64
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	_, unrelated := received["number.unrelated"]
	mu.Unlock()
	assert.False(t, unrelated, "unbound entity must not be forwarded")

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("listener did not stop on cancel")
	}
}

func TestPushListenerAuthFailureStopsConnection(t *testing.T) {
	attempts := make(chan struct{}, 8)
	server := mockWSServer(t, func(conn *websocket.Conn) {
		attempts <- struct{}{}
		conn.WriteJSON(Message{Type: "auth_required"})
		var auth AuthMessage
		conn.ReadJSON(&auth)
		conn.WriteJSON(Message{Type: "auth_invalid"})
	})

	listener := NewPushListener(server.URL, "bad", nil, func(string, int) {}, zap.NewNop())

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	listener.Run(ctx)

	// First dial must have happened; Run returned because ctx expired
	// during backoff rather than spinning on failed auth.
	require.NotEmpty(t, attempts)
}

func TestPushURLDerivation(t *testing.T) {
	listener := NewPushListener("http://ha.local:8123/", "tok", nil, nil, zap.NewNop())
	assert.True(t, strings.HasPrefix(listener.url, "ws://ha.local:8123/api/websocket"))

	listener = NewPushListener("https://ha.example.com", "tok", nil, nil, zap.NewNop())
	assert.Equal(t, "wss://ha.example.com/api/websocket", listener.url)
}
