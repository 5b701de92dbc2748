// SPDX-License-Identifier: MIT
package transport

import (
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/zmk5566/Crowd-Sonic/internal/log"
	"github.com/zmk5566/Crowd-Sonic/internal/stream"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Clients only send control frames.
	maxMessageSize = 4096

	// Control frame payload limit minus the status code.
	maxCloseReason = 123
)

// Upgrader accepts WebSocket connections from any origin.
var Upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 16 * 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// WebSocket sends each message as a JSON text message. A read loop answers
// pongs and notices when the peer closes; a ping loop keeps idle
// connections alive.
type WebSocket struct {
	conn *websocket.Conn

	writeMu sync.Mutex
	done    chan struct{}
	gone    sync.Once
	closed  sync.Once
	stop    chan struct{}

	pingPeriod time.Duration
}

var (
	_ Transport    = (*WebSocket)(nil)
	_ Disconnector = (*WebSocket)(nil)
)

// NewWebSocket takes over conn and starts its read and ping loops.
func NewWebSocket(conn *websocket.Conn) *WebSocket {
	return newWebSocket(conn, pingPeriod)
}

func newWebSocket(conn *websocket.Conn, ping time.Duration) *WebSocket {
	ws := &WebSocket{
		conn:       conn,
		done:       make(chan struct{}),
		stop:       make(chan struct{}),
		pingPeriod: ping,
	}
	go ws.readPump()
	go ws.pingPump()
	return ws
}

// Done is closed once the peer has gone away.
func (ws *WebSocket) Done() <-chan struct{} { return ws.done }

func (ws *WebSocket) readPump() {
	defer ws.gone.Do(func() { close(ws.done) })

	ws.conn.SetReadLimit(maxMessageSize)
	ws.conn.SetReadDeadline(time.Now().Add(pongWait))
	ws.conn.SetPongHandler(func(string) error {
		ws.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		if _, _, err := ws.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				log.Warnf("Transport: WebSocket read error: %v", err)
			}
			return
		}
	}
}

func (ws *WebSocket) pingPump() {
	ticker := time.NewTicker(ws.pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := ws.write(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-ws.stop:
			return
		case <-ws.done:
			return
		}
	}
}

func (ws *WebSocket) write(messageType int, data []byte) error {
	ws.writeMu.Lock()
	defer ws.writeMu.Unlock()
	ws.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return ws.conn.WriteMessage(messageType, data)
}

// Send writes m as JSON. A stopped message is followed by a normal close.
func (ws *WebSocket) Send(m stream.Message) error {
	ws.writeMu.Lock()
	defer ws.writeMu.Unlock()

	ws.conn.SetWriteDeadline(time.Now().Add(writeWait))
	switch m.Kind {
	case stream.KindFrame:
		if err := ws.conn.WriteJSON(m.Frame); err != nil {
			return fmt.Errorf("transport: websocket write: %w", err)
		}
	case stream.KindStopped:
		if err := ws.conn.WriteJSON(m.Notice()); err != nil {
			return fmt.Errorf("transport: websocket write: %w", err)
		}
		reason := m.Reason
		if len(reason) > maxCloseReason {
			reason = reason[:maxCloseReason]
		}
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason)
		if err := ws.conn.WriteMessage(websocket.CloseMessage, msg); err != nil && !errors.Is(err, websocket.ErrCloseSent) {
			return fmt.Errorf("transport: websocket close: %w", err)
		}
	default:
		return fmt.Errorf("transport: unknown message kind %d", m.Kind)
	}
	return nil
}

// Close stops the ping loop and closes the connection.
func (ws *WebSocket) Close() error {
	var err error
	ws.closed.Do(func() {
		close(ws.stop)
		err = ws.conn.Close()
	})
	return err
}
