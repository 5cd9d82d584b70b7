// Package client implements the revtun client: it dials the server,
// registers its tunnel configs, and for each NewConnection it is handed,
// dials the configured local service and pumps bytes between it and the
// control transport.
package client

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/tunnelcraft/revtun/internal/protocol"
)

// ReconnectInterval is the fixed backoff between control sessions (spec
// §4.7); HeartbeatInterval is the client's Ping cadence (spec §4.8). Both
// are grounded on the teacher's own tunnel client constants.
const (
	ReconnectInterval = 5 * time.Second
	HeartbeatInterval = 30 * time.Second
)

// Config is the client's external configuration.
type Config struct {
	ServerURL string
	Token     string

	Name     string
	Version  string
	OS       string
	Arch     string
	Hostname string
	LocalIP  string

	Tunnels []protocol.TunnelConfig
}

// Client holds the configured tunnels, which survive across reconnects, and
// per-session state: the server's view of the tunnels once registered and
// the inbound queues of live connections. Run clears the tunnel view when a
// session ends.
type Client struct {
	cfg Config

	mu          sync.Mutex
	tunnelsByID map[string]protocol.TunnelConfig // tunnel_id -> local target
	inbound     map[string]chan []byte           // conn_id -> queue
}

// New builds a client from cfg.
func New(cfg Config) *Client {
	return &Client{
		cfg:         cfg,
		tunnelsByID: make(map[string]protocol.TunnelConfig),
		inbound:     make(map[string]chan []byte),
	}
}

func (c *Client) clientInfo() protocol.ClientInfo {
	return protocol.ClientInfo{
		Name:     c.cfg.Name,
		Version:  c.cfg.Version,
		OS:       c.cfg.OS,
		Arch:     c.cfg.Arch,
		Hostname: c.cfg.Hostname,
		LocalIP:  c.cfg.LocalIP,
	}
}

func (c *Client) rememberTunnel(id string, cfg protocol.TunnelConfig) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tunnelsByID[id] = cfg
}

func (c *Client) forgetTunnels() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tunnelsByID = make(map[string]protocol.TunnelConfig)
}

func (c *Client) tunnelConfig(tunnelID string) (protocol.TunnelConfig, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cfg, ok := c.tunnelsByID[tunnelID]
	return cfg, ok
}

func (c *Client) registerInbound(connID string) chan []byte {
	ch := make(chan []byte, 64)
	c.mu.Lock()
	c.inbound[connID] = ch
	c.mu.Unlock()
	return ch
}

func (c *Client) deliverInbound(connID string, payload []byte) {
	c.mu.Lock()
	ch, ok := c.inbound[connID]
	c.mu.Unlock()
	if !ok {
		return
	}
	ch <- payload
}

func (c *Client) removeInbound(connID string) {
	c.mu.Lock()
	ch, ok := c.inbound[connID]
	if ok {
		delete(c.inbound, connID)
	}
	c.mu.Unlock()
	if ok {
		close(ch)
	}
}

// Run is the reconnect supervisor (spec §4.7): it runs sessions to
// completion and retries on a fixed backoff until ctx is canceled. Run
// blocks until then.
func (c *Client) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		err := c.runSession(ctx)
		c.forgetTunnels()
		if err != nil {
			log.Printf("client: session ended: %v", err)
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(ReconnectInterval):
		}
	}
}
