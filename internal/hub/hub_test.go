package hub

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"beast_bridge/internal/models"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testMessage struct {
	Type          string            `json:"type"`
	Aircraft      []json.RawMessage `json:"aircraft"`
	Timestamp     int64             `json:"timestamp"`
	AircraftCount int               `json:"aircraftCount"`
	ClientCount   int               `json:"clientCount"`
}

func newTestHub(t *testing.T, cfg Config) (*Hub, string) {
	t.Helper()
	h := New(cfg)
	srv := httptest.NewServer(h.Handler())
	t.Cleanup(func() {
		_ = h.Stop(context.Background())
		srv.Close()
	})
	return h, "ws" + strings.TrimPrefix(srv.URL, "http") + h.cfg.Path
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) testMessage {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var msg testMessage
	require.NoError(t, json.Unmarshal(data, &msg))
	return msg
}

func aircraft(hexes ...string) []models.Aircraft {
	out := make([]models.Aircraft, 0, len(hexes))
	for _, hex := range hexes {
		out = append(out, models.Aircraft{Hex: hex, LastSeen: time.Now()})
	}
	return out
}

func TestHub_InitOnConnect(t *testing.T) {
	h, url := newTestHub(t, Config{MaxClients: 5})
	h.UpdateAircraft(aircraft("A12345", "4840D6"))

	conn := dial(t, url)
	msg := readMessage(t, conn)
	assert.Equal(t, MessageInit, msg.Type)
	assert.Len(t, msg.Aircraft, 2)
	assert.NotZero(t, msg.Timestamp)
	assert.Eventually(t, func() bool { return h.ClientCount() == 1 }, time.Second, 10*time.Millisecond)
}

func TestHub_InitEmptyTable(t *testing.T) {
	_, url := newTestHub(t, Config{MaxClients: 5})

	conn := dial(t, url)
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Contains(t, string(data), `"aircraft":[]`)
}

func TestHub_UpdatePushedToAll(t *testing.T) {
	h, url := newTestHub(t, Config{MaxClients: 5})

	a := dial(t, url)
	b := dial(t, url)
	readMessage(t, a)
	readMessage(t, b)
	require.Eventually(t, func() bool { return h.ClientCount() == 2 }, time.Second, 10*time.Millisecond)

	h.UpdateAircraft(aircraft("485020"))

	for _, conn := range []*websocket.Conn{a, b} {
		msg := readMessage(t, conn)
		assert.Equal(t, MessageUpdate, msg.Type)
		require.Len(t, msg.Aircraft, 1)
		assert.Contains(t, string(msg.Aircraft[0]), `"hex":"485020"`)
	}
	assert.Equal(t, 1, h.Status().Aircraft)
}

func TestHub_ControlMessages(t *testing.T) {
	h, url := newTestHub(t, Config{MaxClients: 5})
	h.UpdateAircraft(aircraft("A12345", "B98765", "4840D6"))

	conn := dial(t, url)
	readMessage(t, conn)

	tests := []struct {
		name    string
		request string
		check   func(t *testing.T, msg testMessage)
	}{
		{
			name:    "ping",
			request: `{"type":"ping"}`,
			check: func(t *testing.T, msg testMessage) {
				assert.Equal(t, MessagePong, msg.Type)
			},
		},
		{
			name:    "status",
			request: `{"type":"status"}`,
			check: func(t *testing.T, msg testMessage) {
				assert.Equal(t, MessageStatus, msg.Type)
				assert.Equal(t, 3, msg.AircraftCount)
				assert.Equal(t, 1, msg.ClientCount)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(tt.request)))
			tt.check(t, readMessage(t, conn))
		})
	}
}

func TestHub_IgnoresUnknownMessages(t *testing.T) {
	h, url := newTestHub(t, Config{MaxClients: 5})
	conn := dial(t, url)
	readMessage(t, conn)

	for _, raw := range []string{`{"type":"subscribe"}`, `not json`, `[]`, `{}`} {
		require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(raw)))
	}
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"ping"}`)))

	msg := readMessage(t, conn)
	assert.Equal(t, MessagePong, msg.Type, "first reply answers the ping")
	assert.Equal(t, 1, h.ClientCount())
}

func TestHub_RejectsAtCapacity(t *testing.T) {
	h, url := newTestHub(t, Config{MaxClients: 2})

	for i := 0; i < 2; i++ {
		readMessage(t, dial(t, url))
	}
	require.Eventually(t, func() bool { return h.ClientCount() == 2 }, time.Second, 10*time.Millisecond)

	extra := dial(t, url)
	require.NoError(t, extra.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := extra.ReadMessage()
	require.Error(t, err)

	var closeErr *websocket.CloseError
	require.True(t, errors.As(err, &closeErr), "got %v", err)
	assert.Equal(t, websocket.ClosePolicyViolation, closeErr.Code)
	assert.Equal(t, CloseReasonCapacity, closeErr.Text)

	assert.Equal(t, 2, h.ClientCount())
	assert.Equal(t, 2, h.Status().Clients)
}

func TestHub_PrunesClosedClients(t *testing.T) {
	h, url := newTestHub(t, Config{MaxClients: 5})

	alive := dial(t, url)
	readMessage(t, alive)
	gone := dial(t, url)
	readMessage(t, gone)
	require.Eventually(t, func() bool { return h.ClientCount() == 2 }, time.Second, 10*time.Millisecond)

	require.NoError(t, gone.UnderlyingConn().Close())
	h.UpdateAircraft(aircraft("A12345"))

	assert.Eventually(t, func() bool { return h.ClientCount() == 1 }, 2*time.Second, 10*time.Millisecond)
	msg := readMessage(t, alive)
	assert.Equal(t, MessageUpdate, msg.Type)
}

func TestHub_StopClosesClients(t *testing.T) {
	h, url := newTestHub(t, Config{MaxClients: 5})
	conn := dial(t, url)
	readMessage(t, conn)

	require.NoError(t, h.Stop(context.Background()))
	require.NoError(t, h.Stop(context.Background()))
	assert.Equal(t, 0, h.ClientCount())

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err)
}

func TestHub_ServeAndMount(t *testing.T) {
	h := New(Config{MaxClients: 1, Path: "/ws"})
	h.Mount("/health", http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	errCh := make(chan error, 1)
	go func() { errCh <- h.Serve(ln) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + ln.Addr().String() + "/health")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusNoContent
	}, 2*time.Second, 20*time.Millisecond)

	conn := dial(t, "ws://"+ln.Addr().String()+"/ws")
	readMessage(t, conn)

	require.NoError(t, h.Stop(context.Background()))
	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after Stop")
	}
}
