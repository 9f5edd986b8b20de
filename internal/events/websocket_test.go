package events

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func dialManager(t *testing.T, m *WSManager, userID string) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := m.HandleConnection(w, r, userID, ""); err != nil {
			t.Errorf("upgrade failed: %v", err)
		}
	}))
	t.Cleanup(srv.Close)

	conn, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	if resp != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestWebSocketSubscribeAckAndDelivery(t *testing.T) {
	b := NewBroadcaster(stubAccess{}, zap.NewNop())
	defer b.Close()
	m := NewWSManager(b, zap.NewNop())
	defer m.Close()

	conn := dialManager(t, m, "user-1")
	require.NoError(t, conn.WriteJSON(clientOp{Op: "subscribe", Scope: ScopeUser, ID: "user-1"}))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var ack pushFrame
	require.NoError(t, conn.ReadJSON(&ack))
	assert.Equal(t, Kind("subscribed"), ack.Event)

	// The ack means the subscription is registered, so this delivery is due.
	b.Publish(Event{Kind: KindStatusUpdate, VerificationID: "v-1", UserID: "user-1"})

	var frame pushFrame
	require.NoError(t, conn.ReadJSON(&frame))
	assert.Equal(t, KindStatusUpdate, frame.Event)
	assert.Equal(t, "v-1", frame.Data["verification_id"])
}

func TestWebSocketRejectedSubscribeGetsErrorFrame(t *testing.T) {
	b := NewBroadcaster(stubAccess{}, zap.NewNop())
	defer b.Close()
	m := NewWSManager(b, zap.NewNop())
	defer m.Close()

	conn := dialManager(t, m, "user-1")
	require.NoError(t, conn.WriteJSON(clientOp{Op: "subscribe", Scope: ScopeUser, ID: "someone-else"}))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var frame pushFrame
	require.NoError(t, conn.ReadJSON(&frame))
	assert.Equal(t, Kind("error"), frame.Event)
}

// Control acks and event pushes target the same connection from different
// code paths; interleaving them must not corrupt the stream.
func TestWebSocketControlAndEventWritesInterleave(t *testing.T) {
	b := NewBroadcaster(stubAccess{}, zap.NewNop())
	defer b.Close()
	m := NewWSManager(b, zap.NewNop())
	defer m.Close()

	conn := dialManager(t, m, "user-1")
	require.NoError(t, conn.WriteJSON(clientOp{Op: "subscribe", Scope: ScopeUser, ID: "user-1"}))

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 50; i++ {
			b.Publish(Event{Kind: KindStatusUpdate, VerificationID: "v-1", UserID: "user-1"})
		}
	}()
	for i := 0; i < 50; i++ {
		require.NoError(t, conn.WriteJSON(clientOp{Op: "subscribe", Scope: ScopeUser, ID: "user-1"}))
	}
	<-done

	conn.SetReadDeadline(time.Now().Add(time.Second))
	frames := 0
	for {
		var frame pushFrame
		if err := conn.ReadJSON(&frame); err != nil {
			break
		}
		frames++
	}
	assert.Greater(t, frames, 1)
}
