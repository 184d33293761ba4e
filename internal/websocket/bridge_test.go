package websocket

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/itbees/mdbctl/internal/mdb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestBridgeEventsForwardsToHub(t *testing.T) {
	bus := mdb.NewEventBus()
	go bus.Run()
	defer bus.Stop()

	hub := NewHub(zap.NewNop())
	go hub.Run()
	defer hub.Stop()

	server := httptest.NewServer(http.HandlerFunc(hub.ServeHTTP))
	defer server.Close()

	wsURL := "ws" + server.URL[len("http"):]
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool {
		hub.clientsMu.RLock()
		defer hub.clientsMu.RUnlock()
		return len(hub.clients) == 1
	}, time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	BridgeEvents(ctx, bus, hub)

	time.Sleep(10 * time.Millisecond)
	bus.Publish(mdb.DeviceEvent{Kind: mdb.EventInitialized})

	conn.SetReadDeadline(time.Now().Add(time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Contains(t, string(data), "Initialized")
}

func TestBridgeEventsStopsOnContextCancel(t *testing.T) {
	bus := mdb.NewEventBus()
	go bus.Run()
	defer bus.Stop()

	hub := NewHub(zap.NewNop())
	go hub.Run()
	defer hub.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	BridgeEvents(ctx, bus, hub)
	cancel()

	// no assertion beyond "does not panic or deadlock"; the bridge goroutine
	// should observe ctx.Done() and unsubscribe.
	time.Sleep(10 * time.Millisecond)
}
