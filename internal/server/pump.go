package server

import (
	"net"

	"github.com/tunnelcraft/revtun/internal/registry"
	"github.com/tunnelcraft/revtun/internal/transport"
)

const pumpBufferSize = 8192

// readPump implements spec §4.4's "external -> client" direction: read the
// accepted socket and forward each chunk as a binary Data frame on the
// client's outbox. It exits on EOF or read error.
func readPump(conn net.Conn, connID, tunnelID string, outbox *transport.Outbox, reg *registry.Registry) {
	buf := make([]byte, pumpBufferSize)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			payload := make([]byte, n)
			copy(payload, buf[:n])
			outbox.SendData(connID, payload)
			reg.AddBytesRecv(tunnelID, uint64(n))
		}
		if err != nil {
			return
		}
	}
}

// writePump implements the "client -> external" direction: drain the
// connection's inbound queue and write each payload fully. It exits once
// the queue is closed (cleanup dropped the sender) or on a write error.
func writePump(conn net.Conn, connID, tunnelID string, inbound <-chan []byte, reg *registry.Registry) {
	for payload := range inbound {
		if _, err := conn.Write(payload); err != nil {
			return
		}
		reg.AddBytesSent(tunnelID, uint64(len(payload)))
	}
}
