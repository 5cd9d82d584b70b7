package server

import (
	"log"

	"github.com/gorilla/websocket"

	"github.com/tunnelcraft/revtun/internal/protocol"
	"github.com/tunnelcraft/revtun/internal/transport"
)

// handleSession runs one client's control session end to end: it owns the
// outbox, dispatches inbound frames per spec §4.5, and cascades cleanup
// through the registry when the transport closes.
func (s *Server) handleSession(ws *websocket.Conn) {
	conn := transport.NewConn(ws)
	outbox := transport.NewOutbox(conn)
	go outbox.Run()
	defer conn.Close()

	var clientID string

	for {
		frame, err := conn.ReadFrame()
		if err != nil {
			break
		}

		if !frame.Text {
			connID, payload, ok := protocol.DecodeBinary(frame.Binary)
			if ok {
				s.deliverData(connID, payload)
			}
			continue
		}

		switch msg := frame.Message.(type) {
		case *protocol.RegisterMessage:
			id, tunnels := s.reg.RegisterClient(msg.Client, msg.Tunnels, outbox)
			clientID = id
			outbox.Send(&protocol.RegisterResponseMessage{
				Type:     "register_response",
				Success:  true,
				ClientID: id,
				Tunnels:  tunnels,
			})

		case *protocol.PingMessage:
			outbox.Send(&protocol.PongMessage{Type: "pong", Timestamp: msg.Timestamp})

		case *protocol.ConnectionReadyMessage:
			log.Printf("server: connection %s on tunnel %s ready", msg.ConnID, msg.TunnelID)

		case *protocol.DataMessage:
			s.deliverData(msg.ConnID, msg.Data)

		case *protocol.CloseConnectionMessage:
			if cs, ok := s.reg.RemoveConnection(msg.ConnID); ok {
				close(cs.Inbound)
			}

		default:
			// AddTunnelResponse and anything else is ignored: no ack loop
			// is required of the client (spec §9 open questions).
		}
	}

	outbox.Close()
	if clientID != "" {
		s.reg.RemoveClient(clientID)
	}
}

// deliverData implements the Data-frame half of spec §4.5 for both the
// binary and JSON-text encodings: look up the connection, push the payload,
// drop silently if the connection is unknown.
func (s *Server) deliverData(connID string, payload []byte) {
	cs, ok := s.reg.Connection(connID)
	if !ok {
		return
	}
	cs.Inbound <- payload
}
