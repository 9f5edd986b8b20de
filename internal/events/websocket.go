package events

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// clientOp is an inbound subscribe/unsubscribe message.
type clientOp struct {
	Op    string `json:"op"`    // subscribe | unsubscribe
	Scope string `json:"scope"` // verification | document | user | org
	ID    string `json:"id"`
}

// pushFrame is the outbound message shape.
type pushFrame struct {
	Event     Kind                   `json:"event"`
	Data      map[string]interface{} `json:"data"`
	Timestamp time.Time              `json:"timestamp"`
}

// WSManager bridges websocket connections to the broadcaster. There is no
// replay backlog: a client that reconnects re-fetches current status over the
// REST API.
type WSManager struct {
	broadcaster *Broadcaster
	upgrader    websocket.Upgrader
	logger      *zap.Logger

	mu          sync.RWMutex
	connections map[string]*wsConnection
}

type wsConnection struct {
	sub  *Subscriber
	conn *websocket.Conn

	// Control frames go through writePump too; the connection has exactly
	// one writer goroutine.
	control chan pushFrame
}

func NewWSManager(broadcaster *Broadcaster, logger *zap.Logger) *WSManager {
	return &WSManager{
		broadcaster: broadcaster,
		logger:      logger,
		connections: make(map[string]*wsConnection),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				// Origin allow-listing is handled at the gateway.
				return true
			},
		},
	}
}

// HandleConnection upgrades the request and starts the read/write pumps for
// an authenticated caller.
func (m *WSManager) HandleConnection(w http.ResponseWriter, r *http.Request, userID, organizationID string) error {
	conn, err := m.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return fmt.Errorf("failed to upgrade connection: %w", err)
	}

	sub := NewSubscriber(uuid.NewString(), userID, organizationID)
	wc := &wsConnection{sub: sub, conn: conn, control: make(chan pushFrame, 16)}

	m.mu.Lock()
	m.connections[sub.ID] = wc
	m.mu.Unlock()

	go m.readPump(wc)
	go m.writePump(wc)
	return nil
}

func (m *WSManager) readPump(wc *wsConnection) {
	defer func() {
		m.broadcaster.Remove(wc.sub)
		m.mu.Lock()
		delete(m.connections, wc.sub.ID)
		m.mu.Unlock()
		wc.conn.Close()
	}()

	wc.conn.SetReadLimit(512)
	wc.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	wc.conn.SetPongHandler(func(string) error {
		wc.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		var op clientOp
		if err := wc.conn.ReadJSON(&op); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				m.logger.Debug("websocket read error", zap.Error(err))
			}
			return
		}
		m.handleOp(wc, op)
	}
}

func (m *WSManager) handleOp(wc *wsConnection, op clientOp) {
	switch op.Op {
	case "subscribe":
		if err := m.broadcaster.Subscribe(context.Background(), wc.sub, op.Scope, op.ID); err != nil {
			m.logger.Info("subscribe rejected",
				zap.String("user_id", wc.sub.UserID),
				zap.String("scope", op.Scope),
				zap.String("id", op.ID),
				zap.Error(err))
			m.sendControl(wc, "error", map[string]interface{}{
				"op": op.Op, "scope": op.Scope, "id": op.ID, "reason": err.Error(),
			})
			return
		}
		m.sendControl(wc, "subscribed", map[string]interface{}{"scope": op.Scope, "id": op.ID})
	case "unsubscribe":
		m.broadcaster.Unsubscribe(wc.sub, op.Scope, op.ID)
		m.sendControl(wc, "unsubscribed", map[string]interface{}{"scope": op.Scope, "id": op.ID})
	default:
		m.sendControl(wc, "error", map[string]interface{}{"reason": "unknown op " + op.Op})
	}
}

func (m *WSManager) sendControl(wc *wsConnection, event string, data map[string]interface{}) {
	frame := pushFrame{Event: Kind(event), Data: data, Timestamp: time.Now()}
	select {
	case wc.control <- frame:
	default:
		m.logger.Debug("websocket control buffer full, frame dropped",
			zap.String("subscriber", wc.sub.ID))
	}
}

func (m *WSManager) writePump(wc *wsConnection) {
	ticker := time.NewTicker(54 * time.Second)
	defer func() {
		ticker.Stop()
		wc.conn.Close()
	}()

	for {
		select {
		case evt, ok := <-wc.sub.Send:
			wc.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				wc.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := wc.conn.WriteJSON(frameFor(evt)); err != nil {
				return
			}
		case frame := <-wc.control:
			wc.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := wc.conn.WriteJSON(frame); err != nil {
				return
			}
		case <-ticker.C:
			wc.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := wc.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func frameFor(evt Event) pushFrame {
	data := map[string]interface{}{
		"verification_id": evt.VerificationID,
		"document_id":     evt.DocumentID,
	}
	for k, v := range evt.Data {
		data[k] = v
	}
	return pushFrame{Event: evt.Kind, Data: data, Timestamp: evt.Timestamp}
}

// ConnectionCount returns the number of live websocket connections.
func (m *WSManager) ConnectionCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.connections)
}

// Close drops every connection.
func (m *WSManager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, wc := range m.connections {
		m.broadcaster.Remove(wc.sub)
		wc.conn.Close()
		delete(m.connections, id)
	}
}
