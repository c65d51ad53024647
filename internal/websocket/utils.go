package websocket

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait = 10 * time.Second
	readWait  = 5 * time.Minute
)

// Peer wraps a connection whose writes come from both the read loop and the
// deadline countdown. gorilla/websocket allows one concurrent writer.
type Peer struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

// NewPeer wraps conn.
func NewPeer(conn *websocket.Conn) *Peer {
	return &Peer{conn: conn}
}

// WriteTyped sends a strongly-typed response payload over the WebSocket.
func (p *Peer) WriteTyped(v interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return p.conn.WriteJSON(v)
}

// WriteError sends a typed ErrorResponse over the WebSocket.
func (p *Peer) WriteError(code, errMsg string) error {
	return p.WriteTyped(ErrorResponse{
		Event: EventError,
		Code:  code,
		Error: errMsg,
	})
}

// Close sends a normal closure frame and closes the connection.
func (p *Peer) Close(reason string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason)
	_ = p.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
	return p.conn.Close()
}

// ReadJSON reads and decodes a message into the provided structure.
// It sets a read deadline.
func ReadJSON(conn *websocket.Conn, v interface{}) error {
	conn.SetReadDeadline(time.Now().Add(readWait))
	return conn.ReadJSON(v)
}
