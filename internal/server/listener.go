package server

import (
	"log"
	"net"

	"github.com/google/uuid"

	"github.com/tunnelcraft/revtun/internal/protocol"
	"github.com/tunnelcraft/revtun/internal/registry"
	"github.com/tunnelcraft/revtun/internal/transport"
)

// startTunnel is the registry.TunnelStarter the server wires in: it owns
// running the accept loop (spec §4.3) for a freshly bound tunnel listener.
func (s *Server) startTunnel(ts *registry.TunnelState, outbox *transport.Outbox) {
	go s.acceptLoop(ts, outbox)
}

// acceptLoop accepts connections on ts.Listener until ts.Shutdown fires.
// The listener is dropped on exit, freeing the port (spec §4.3).
func (s *Server) acceptLoop(ts *registry.TunnelState, outbox *transport.Outbox) {
	defer ts.Listener.Close()

	for {
		conn, err := ts.Listener.Accept()
		if err != nil {
			select {
			case <-ts.Shutdown:
				return
			default:
				log.Printf("server: tunnel %s accept error: %v", ts.Info.ID, err)
				continue
			}
		}

		select {
		case <-ts.Shutdown:
			conn.Close()
			return
		default:
		}

		go s.handleAccepted(conn, ts, outbox)
	}
}

// handleAccepted implements the per-connection half of spec §4.3/§4.4: it
// registers the connection before announcing it, runs the read/write pumps,
// and tears the connection down once either pump exits.
func (s *Server) handleAccepted(conn net.Conn, ts *registry.TunnelState, outbox *transport.Outbox) {
	connID := uuid.NewString()
	inbound := make(chan []byte, 64)

	s.reg.AddConnection(connID, ts.Info.ID, ts.Info.ClientID, inbound)
	outbox.Send(&protocol.NewConnectionMessage{Type: "new_connection", TunnelID: ts.Info.ID, ConnID: connID})

	done := make(chan struct{}, 2)
	go func() {
		readPump(conn, connID, ts.Info.ID, outbox, s.reg)
		done <- struct{}{}
	}()
	go func() {
		writePump(conn, connID, ts.Info.ID, inbound, s.reg)
		done <- struct{}{}
	}()

	<-done
	conn.Close()
	if cs, ok := s.reg.RemoveConnection(connID); ok {
		close(cs.Inbound)
	}
	outbox.Send(&protocol.CloseConnectionMessage{Type: "close_connection", ConnID: connID})
	<-done
}
