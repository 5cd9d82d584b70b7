package client

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tunnelcraft/revtun/internal/protocol"
	"github.com/tunnelcraft/revtun/internal/transport"
)

// runSession dials the server, registers, and dispatches inbound frames
// until the transport fails or ctx is canceled. It returns the error that
// ended the session.
func (c *Client) runSession(ctx context.Context) error {
	ws, _, err := websocket.DefaultDialer.Dial(c.cfg.ServerURL, nil)
	if err != nil {
		return fmt.Errorf("dial server: %w", err)
	}

	conn := transport.NewConn(ws)
	defer conn.Close()
	outbox := transport.NewOutbox(conn)
	go outbox.Run()
	defer outbox.Close()

	outbox.Send(protocol.NewRegisterMessage(c.clientInfo(), c.cfg.Tunnels))

	stopHeartbeat := make(chan struct{})
	go c.heartbeat(outbox, stopHeartbeat)
	defer close(stopHeartbeat)

	sessionDone := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-sessionDone:
		}
	}()
	defer close(sessionDone)

	for {
		frame, err := conn.ReadFrame()
		if err != nil {
			return err
		}

		if !frame.Text {
			connID, payload, ok := protocol.DecodeBinary(frame.Binary)
			if ok {
				c.deliverInbound(connID, payload)
			}
			continue
		}

		switch msg := frame.Message.(type) {
		case *protocol.RegisterResponseMessage:
			if !msg.Success {
				log.Printf("client: registration rejected: %s", msg.Message)
				continue
			}
			for _, ti := range msg.Tunnels {
				c.rememberTunnel(ti.ID, protocol.TunnelConfig{
					TunnelType: ti.TunnelType,
					LocalAddr:  ti.LocalAddr,
					LocalPort:  ti.LocalPort,
					Name:       ti.Name,
				})
				log.Printf("client: tunnel %s -> %s:%d via server port %d", ti.ID, ti.LocalAddr, ti.LocalPort, ti.ServerPort)
			}

		case *protocol.NewConnectionMessage:
			go c.handleNewConnection(outbox, msg.TunnelID, msg.ConnID)

		case *protocol.DataMessage:
			c.deliverInbound(msg.ConnID, msg.Data)

		case *protocol.CloseConnectionMessage:
			c.removeInbound(msg.ConnID)

		case *protocol.AddTunnelMessage:
			c.rememberTunnel(msg.RequestID, msg.Tunnel)
			log.Printf("client: server pushed tunnel %s -> %s:%d", msg.RequestID, msg.Tunnel.LocalAddr, msg.Tunnel.LocalPort)

		case *protocol.PongMessage:
			log.Printf("client: heartbeat ack %d", msg.Timestamp)

		case *protocol.ErrorMessage:
			log.Printf("client: server error %d: %s", msg.Code, msg.Message)

		default:
			// AddTunnelResponse is client->server only; nothing else is expected here.
		}
	}
}

func (c *Client) heartbeat(outbox *transport.Outbox, stop <-chan struct{}) {
	ticker := time.NewTicker(HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case now := <-ticker.C:
			outbox.Send(&protocol.PingMessage{Type: "ping", Timestamp: now.Unix()})
		}
	}
}
