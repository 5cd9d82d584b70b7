package client

import (
	"net"

	"github.com/tunnelcraft/revtun/internal/transport"
)

const pumpBufferSize = 8192

// readPump implements the client-side "local -> control transport"
// direction of spec §4.6: read the local socket and forward each chunk as
// a binary Data frame.
func readPump(conn net.Conn, connID string, outbox *transport.Outbox) {
	buf := make([]byte, pumpBufferSize)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			payload := make([]byte, n)
			copy(payload, buf[:n])
			outbox.SendData(connID, payload)
		}
		if err != nil {
			return
		}
	}
}

// writePump implements the "control transport -> local" direction: drain
// the connection's inbound queue and write each payload fully.
func writePump(conn net.Conn, inbound <-chan []byte) {
	for payload := range inbound {
		if _, err := conn.Write(payload); err != nil {
			return
		}
	}
}
