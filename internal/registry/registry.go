// Package registry holds the process-wide state a revtun server mutates
// from three places: the control-session task (register/unregister,
// dispatch), the tunnel accept loop (connection bookkeeping), and the admin
// HTTP surface (list/delete). It owns the three id-keyed maps and the port
// allocation policy; it does not itself read or write bytes.
package registry

import (
	"fmt"
	"log"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tunnelcraft/revtun/internal/protocol"
	"github.com/tunnelcraft/revtun/internal/transport"
)

// ClientState is the server-side record of one registered client session.
type ClientState struct {
	Info      protocol.ClientInfo
	Outbox    *transport.Outbox
	TunnelIDs map[string]struct{}
}

// TunnelState is the server-side record of one live tunnel.
type TunnelState struct {
	Info      protocol.TunnelInfo
	Listener  net.Listener
	Shutdown  chan struct{}
	BytesSent uint64 // guarded by Registry.mu
	BytesRecv uint64 // guarded by Registry.mu
}

// ConnectionState is the server-side record of one accepted external socket.
type ConnectionState struct {
	TunnelID string
	ClientID string
	Inbound  chan []byte
}

// TunnelStarter is invoked once a tunnel's public port is bound; it owns
// running the accept loop and the per-connection pumps (spec §4.3/§4.4).
// The server package supplies this; Registry never runs I/O itself.
type TunnelStarter func(tunnel *TunnelState, clientOutbox *transport.Outbox)

// Config bounds the port range tunnels may be allocated from.
type Config struct {
	PortStart uint16
	PortEnd   uint16
}

// Registry is the server's shared state: clients, tunnels, connections.
type Registry struct {
	cfg Config

	mu          sync.Mutex
	clients     map[string]*ClientState
	tunnels     map[string]*TunnelState
	connections map[string]*ConnectionState

	nextClientID uint64
	starter      TunnelStarter

	// listen is net.Listen by default; overridable in tests.
	listen func(network, address string) (net.Listener, error)
}

// New creates an empty registry bound to cfg's port range.
func New(cfg Config) *Registry {
	return &Registry{
		cfg:         cfg,
		clients:     make(map[string]*ClientState),
		tunnels:     make(map[string]*TunnelState),
		connections: make(map[string]*ConnectionState),
		listen:      net.Listen,
	}
}

// SetTunnelStarter wires the accept-loop/pump runner. Must be called once
// before RegisterClient/AddTunnelToClient are used.
func (r *Registry) SetTunnelStarter(starter TunnelStarter) {
	r.starter = starter
}

// RegisterClient implements spec §4.2 register_client: evicts any existing
// client of the same non-empty name (cascading teardown), assigns an id,
// stores the client record, and attempts to create a tunnel per config,
// collecting only the ones that succeeded. The overall call never fails.
func (r *Registry) RegisterClient(info protocol.ClientInfo, configs []protocol.TunnelConfig, outbox *transport.Outbox) (string, []protocol.TunnelInfo) {
	r.mu.Lock()
	if info.Name != "" {
		for id, cs := range r.clients {
			if cs.Info.Name == info.Name {
				r.mu.Unlock()
				r.RemoveClient(id)
				r.mu.Lock()
				break
			}
		}
	}

	var clientID string
	switch {
	case info.Name != "":
		r.nextClientID++
		clientID = fmt.Sprintf("%d", r.nextClientID)
	case info.ID != "":
		clientID = info.ID
	default:
		r.nextClientID++
		clientID = fmt.Sprintf("%d", r.nextClientID)
	}
	info.ID = clientID

	state := &ClientState{Info: info, Outbox: outbox, TunnelIDs: make(map[string]struct{})}
	r.clients[clientID] = state
	r.mu.Unlock()

	var tunnels []protocol.TunnelInfo
	for _, cfg := range configs {
		ts, err := r.createTunnel(clientID, cfg, outbox)
		if err != nil {
			log.Printf("registry: client %s: tunnel %+v failed: %v", clientID, cfg, err)
			continue
		}
		tunnels = append(tunnels, ts.Info)
	}
	return clientID, tunnels
}

// AddTunnelToClient implements spec §4.2 add_tunnel_to_client for an
// already-registered client.
func (r *Registry) AddTunnelToClient(clientID string, cfg protocol.TunnelConfig) (protocol.TunnelInfo, error) {
	r.mu.Lock()
	client, ok := r.clients[clientID]
	r.mu.Unlock()
	if !ok {
		return protocol.TunnelInfo{}, fmt.Errorf("unknown client %q", clientID)
	}

	ts, err := r.createTunnel(clientID, cfg, client.Outbox)
	if err != nil {
		return protocol.TunnelInfo{}, err
	}
	return ts.Info, nil
}

// createTunnel implements the port allocation policy of spec §4.3: try the
// hinted remote_port first if it is in range and free, otherwise scan the
// whole range in order. Binding is the reservation — the listener returned
// by a successful bind is the one that is kept and used.
func (r *Registry) createTunnel(clientID string, cfg protocol.TunnelConfig, outbox *transport.Outbox) (*TunnelState, error) {
	if cfg.TunnelType == protocol.TunnelUDP {
		return nil, fmt.Errorf("udp tunnels are not forwarded")
	}

	ln, port, err := r.bindPort(cfg.RemotePort)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC().Format(time.RFC3339)
	info := protocol.TunnelInfo{
		ID:           uuid.NewString(),
		ClientID:     clientID,
		TunnelType:   cfg.TunnelType,
		Name:         cfg.Name,
		LocalAddr:    cfg.LocalAddr,
		LocalPort:    cfg.LocalPort,
		ServerPort:   port,
		State:        protocol.TunnelActive,
		CreatedAt:    now,
		LastActiveAt: now,
	}
	ts := &TunnelState{Info: info, Listener: ln, Shutdown: make(chan struct{})}

	r.mu.Lock()
	r.tunnels[info.ID] = ts
	if client, ok := r.clients[clientID]; ok {
		client.TunnelIDs[info.ID] = struct{}{}
	}
	r.mu.Unlock()

	if r.starter != nil {
		r.starter(ts, outbox)
	}
	return ts, nil
}

// bindPort implements the hint-then-scan policy. hint == 0 means "no
// preference", matching TunnelConfig.RemotePort's omitempty zero value.
func (r *Registry) bindPort(hint uint16) (net.Listener, uint16, error) {
	r.mu.Lock()
	used := make(map[uint16]struct{}, len(r.tunnels))
	for _, ts := range r.tunnels {
		used[ts.Info.ServerPort] = struct{}{}
	}
	r.mu.Unlock()

	if hint != 0 && hint >= r.cfg.PortStart && hint <= r.cfg.PortEnd {
		if _, taken := used[hint]; !taken {
			if ln, err := r.listen("tcp", fmt.Sprintf(":%d", hint)); err == nil {
				return ln, hint, nil
			}
		}
	}

	for port := r.cfg.PortStart; ; port++ {
		if _, taken := used[port]; !taken {
			if ln, err := r.listen("tcp", fmt.Sprintf(":%d", port)); err == nil {
				return ln, port, nil
			}
		}
		if port == r.cfg.PortEnd {
			break
		}
	}
	return nil, 0, fmt.Errorf("no available port in [%d, %d]", r.cfg.PortStart, r.cfg.PortEnd)
}

// CloseTunnel implements spec §4.2 close_tunnel: remove the tunnel, signal
// its accept loop to stop, unlink it from its client, and drop every
// connection that belonged to it.
func (r *Registry) CloseTunnel(tunnelID string) {
	r.mu.Lock()
	ts, ok := r.tunnels[tunnelID]
	if !ok {
		r.mu.Unlock()
		return
	}
	delete(r.tunnels, tunnelID)
	if client, ok := r.clients[ts.Info.ClientID]; ok {
		delete(client.TunnelIDs, tunnelID)
	}
	for connID, cs := range r.connections {
		if cs.TunnelID == tunnelID {
			delete(r.connections, connID)
		}
	}
	r.mu.Unlock()

	// Close signals the accept loop to stop, but net.Listener.Accept blocks
	// until the listener itself is closed; closing the shutdown channel
	// first makes the accept loop's post-Accept-error check deterministic.
	close(ts.Shutdown)
	ts.Listener.Close()
}

// RemoveClient implements spec §4.2 remove_client: drop the client record
// and cascade-close every tunnel it owned.
func (r *Registry) RemoveClient(clientID string) {
	r.mu.Lock()
	client, ok := r.clients[clientID]
	if !ok {
		r.mu.Unlock()
		return
	}
	delete(r.clients, clientID)
	tunnelIDs := make([]string, 0, len(client.TunnelIDs))
	for id := range client.TunnelIDs {
		tunnelIDs = append(tunnelIDs, id)
	}
	r.mu.Unlock()

	for _, id := range tunnelIDs {
		r.CloseTunnel(id)
	}
}

// AddConnection registers a freshly accepted external socket. Per spec
// invariant 1, this must happen before NewConnection is dispatched.
func (r *Registry) AddConnection(connID, tunnelID, clientID string, inbound chan []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.connections[connID] = &ConnectionState{TunnelID: tunnelID, ClientID: clientID, Inbound: inbound}
}

// RemoveConnection drops a connection record; idempotent.
func (r *Registry) RemoveConnection(connID string) (*ConnectionState, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cs, ok := r.connections[connID]
	if ok {
		delete(r.connections, connID)
	}
	return cs, ok
}

// Connection looks up a connection's inbound queue by id.
func (r *Registry) Connection(connID string) (*ConnectionState, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cs, ok := r.connections[connID]
	return cs, ok
}

// ClientOutbox returns the outbox for a registered client, if any.
func (r *Registry) ClientOutbox(clientID string) (*transport.Outbox, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cs, ok := r.clients[clientID]
	if !ok {
		return nil, false
	}
	return cs.Outbox, true
}

// AddBytesSent/AddBytesRecv update the traffic counters the pumps maintain,
// under the registry lock; advisory only, per spec §5.
func (r *Registry) AddBytesSent(tunnelID string, n uint64) { r.addBytes(tunnelID, n, true) }
func (r *Registry) AddBytesRecv(tunnelID string, n uint64) { r.addBytes(tunnelID, n, false) }

func (r *Registry) addBytes(tunnelID string, n uint64, sent bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ts, ok := r.tunnels[tunnelID]
	if !ok {
		return
	}
	if sent {
		ts.BytesSent += n
	} else {
		ts.BytesRecv += n
	}
	ts.Info.LastActiveAt = time.Now().UTC().Format(time.RFC3339)
}

// ListClients returns a snapshot of every registered client's info.
func (r *Registry) ListClients() []protocol.ClientInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]protocol.ClientInfo, 0, len(r.clients))
	for _, cs := range r.clients {
		out = append(out, cs.Info)
	}
	return out
}

// ListTunnels returns a snapshot of every live tunnel's info, with its
// traffic counters folded in.
func (r *Registry) ListTunnels() []protocol.TunnelInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]protocol.TunnelInfo, 0, len(r.tunnels))
	for _, ts := range r.tunnels {
		info := ts.Info
		info.BytesSent = ts.BytesSent
		info.BytesRecv = ts.BytesRecv
		out = append(out, info)
	}
	return out
}

// Tunnel looks up one tunnel's state by id.
func (r *Registry) Tunnel(tunnelID string) (*TunnelState, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ts, ok := r.tunnels[tunnelID]
	return ts, ok
}

// Client looks up one client's info by id.
func (r *Registry) Client(clientID string) (protocol.ClientInfo, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cs, ok := r.clients[clientID]
	if !ok {
		return protocol.ClientInfo{}, false
	}
	return cs.Info, true
}
