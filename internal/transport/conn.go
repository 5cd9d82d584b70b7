// Package transport implements the control channel both peers build on: a
// gorilla/websocket duplex carrying JSON text frames (control messages) and
// binary frames (conn_id || payload), plus the per-session outbox that
// serializes application sends into that duplex in FIFO order.
package transport

import (
	"fmt"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/tunnelcraft/revtun/internal/protocol"
)

// Conn wraps a *websocket.Conn with the read/write shape revtun needs.
// gorilla/websocket forbids concurrent writers on the same connection, so
// all writes funnel through writeMu — in practice only the Outbox's single
// drain goroutine ever calls the Write* methods, but the mutex makes that
// invariant cheap to keep honest.
type Conn struct {
	ws *websocket.Conn

	writeMu sync.Mutex
}

// NewConn wraps an already-upgraded or already-dialed websocket connection.
func NewConn(ws *websocket.Conn) *Conn {
	return &Conn{ws: ws}
}

// Frame is one inbound unit off the wire: either a decoded control message
// (Text == true) or a raw binary payload still carrying its conn_id prefix.
type Frame struct {
	Text    bool
	Message protocol.Message // set when Text
	Binary  []byte           // set when !Text
}

// ReadFrame blocks for the next frame. The returned error is only ever a
// transport-level failure (closed connection, protocol violation); a text
// frame that fails to decode as JSON is dropped silently and ReadFrame
// loops to the next frame, per spec §7 (decode failures are never fatal).
func (c *Conn) ReadFrame() (Frame, error) {
	for {
		msgType, data, err := c.ws.ReadMessage()
		if err != nil {
			return Frame{}, fmt.Errorf("read control frame: %w", err)
		}

		switch msgType {
		case websocket.TextMessage:
			msg, decErr := protocol.DecodeText(data)
			if decErr != nil {
				// Decode failure: the frame is skipped here without being
				// logged or reported to the caller, and ReadFrame waits for
				// the next one rather than tearing down the session.
				continue
			}
			return Frame{Text: true, Message: msg}, nil
		case websocket.BinaryMessage:
			return Frame{Text: false, Binary: data}, nil
		default:
			// Ping/Pong/Close are handled by gorilla's internal machinery
			// or surface as an error from ReadMessage; ignore anything else.
			continue
		}
	}
}

// WriteText sends one control message as a JSON text frame.
func (c *Conn) WriteText(msg protocol.Message) error {
	data, err := protocol.EncodeText(msg)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

// WriteBinary sends one conn_id-prefixed payload as a binary frame.
func (c *Conn) WriteBinary(connID string, payload []byte) error {
	frame := protocol.EncodeBinary(connID, payload)
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.ws.WriteMessage(websocket.BinaryMessage, frame)
}

// Close closes the underlying websocket connection.
func (c *Conn) Close() error {
	return c.ws.Close()
}
