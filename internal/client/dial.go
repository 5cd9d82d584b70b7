package client

import (
	"fmt"
	"log"
	"net"

	"github.com/tunnelcraft/revtun/internal/protocol"
	"github.com/tunnelcraft/revtun/internal/transport"
)

// handleNewConnection implements spec §4.6: dial the configured local
// service, announce readiness, and run the symmetric pumps until either
// side closes.
func (c *Client) handleNewConnection(outbox *transport.Outbox, tunnelID, connID string) {
	cfg, ok := c.tunnelConfig(tunnelID)
	if !ok {
		log.Printf("client: new_connection for unknown tunnel %s, ignoring", tunnelID)
		return
	}

	target := fmt.Sprintf("%s:%d", cfg.LocalAddr, cfg.LocalPort)
	conn, err := net.Dial("tcp", target)
	if err != nil {
		log.Printf("client: dial %s failed: %v", target, err)
		outbox.Send(&protocol.CloseConnectionMessage{Type: "close_connection", ConnID: connID})
		return
	}
	defer conn.Close()

	outbox.Send(&protocol.ConnectionReadyMessage{Type: "connection_ready", TunnelID: tunnelID, ConnID: connID})

	inbound := c.registerInbound(connID)

	done := make(chan struct{}, 2)
	go func() {
		readPump(conn, connID, outbox)
		done <- struct{}{}
	}()
	go func() {
		writePump(conn, inbound)
		done <- struct{}{}
	}()

	<-done
	conn.Close()
	c.removeInbound(connID)
	outbox.Send(&protocol.CloseConnectionMessage{Type: "close_connection", ConnID: connID})
	<-done
}
