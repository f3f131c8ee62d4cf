package stream

import (
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pthm-cable/flux/telemetry"
)

func dial(t *testing.T, hub *Hub) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(hub)
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestBroadcastReachesClient(t *testing.T) {
	hub := NewHub(4)
	conn := dial(t, hub)
	require.Eventually(t, func() bool { return hub.Clients() == 1 }, time.Second, 5*time.Millisecond)

	hub.BroadcastStats(telemetry.WindowStats{WindowEndTick: 250, MeanSpeed: 1.25, Regenerations: 3})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg Message
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "stats", msg.Type)
	require.NotNil(t, msg.Stats)
	assert.Equal(t, int32(250), msg.Stats.WindowEndTick)
	assert.Equal(t, 1.25, msg.Stats.MeanSpeed)
	assert.Equal(t, 3, msg.Stats.Regenerations)
}

func TestNewClientReceivesLatestStats(t *testing.T) {
	hub := NewHub(4)
	hub.BroadcastStats(telemetry.WindowStats{WindowEndTick: 10})
	hub.BroadcastStats(telemetry.WindowStats{WindowEndTick: 20})

	conn := dial(t, hub)
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg Message
	require.NoError(t, conn.ReadJSON(&msg))
	require.NotNil(t, msg.Stats)
	assert.Equal(t, int32(20), msg.Stats.WindowEndTick)
}

func TestCommandsAreQueued(t *testing.T) {
	hub := NewHub(4)
	conn := dial(t, hub)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"regenerate": 2}`)))

	select {
	case cmd := <-hub.Commands():
		require.NotNil(t, cmd.Regenerate)
		assert.Equal(t, 2, *cmd.Regenerate)
	case <-time.After(2 * time.Second):
		t.Fatal("command not delivered")
	}
}

func TestClosedClientIsRemoved(t *testing.T) {
	hub := NewHub(1)
	conn := dial(t, hub)
	require.Eventually(t, func() bool { return hub.Clients() == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, conn.Close())
	assert.Eventually(t, func() bool { return hub.Clients() == 0 }, 2*time.Second, 5*time.Millisecond)
}

func TestSlowClientDoesNotBlockNewClients(t *testing.T) {
	hub := NewHub(1)
	dial(t, hub)
	require.Eventually(t, func() bool { return hub.Clients() == 1 }, time.Second, 5*time.Millisecond)

	// Hold the first client's write lock so its send is stuck.
	hub.mu.RLock()
	var stuck *sync.Mutex
	for _, connMutex := range hub.clients {
		stuck = connMutex
	}
	hub.mu.RUnlock()
	stuck.Lock()

	done := make(chan struct{})
	go func() {
		hub.BroadcastStats(telemetry.WindowStats{WindowEndTick: 7})
		close(done)
	}()

	conn := dial(t, hub)
	assert.Eventually(t, func() bool { return hub.Clients() == 2 }, time.Second, 5*time.Millisecond)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg Message
	require.NoError(t, conn.ReadJSON(&msg))
	require.NotNil(t, msg.Stats)
	assert.Equal(t, int32(7), msg.Stats.WindowEndTick)

	select {
	case <-done:
		t.Fatal("broadcast finished while a client write was held")
	default:
	}
	stuck.Unlock()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("broadcast did not finish")
	}
}
