package client

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/tunnelcraft/revtun/internal/protocol"
)

func TestTunnelBookkeepingSurvivesRoundTrip(t *testing.T) {
	c := New(Config{Name: "test"})

	c.rememberTunnel("t1", protocol.TunnelConfig{TunnelType: protocol.TunnelTCP, LocalAddr: "127.0.0.1", LocalPort: 22})
	cfg, ok := c.tunnelConfig("t1")
	assert.True(t, ok)
	assert.EqualValues(t, 22, cfg.LocalPort)

	_, ok = c.tunnelConfig("unknown")
	assert.False(t, ok)

	c.forgetTunnels()
	_, ok = c.tunnelConfig("t1")
	assert.False(t, ok, "forgetTunnels must clear state across reconnects")
}

func TestInboundQueueDeliversAndRemoves(t *testing.T) {
	c := New(Config{})

	ch := c.registerInbound("c1")
	c.deliverInbound("c1", []byte("hi"))
	assert.Equal(t, []byte("hi"), <-ch)

	// delivering to an unknown conn_id must be a silent drop, not a panic.
	c.deliverInbound("unknown", []byte("x"))

	c.removeInbound("c1")
	_, open := <-ch
	assert.False(t, open, "removeInbound must close the channel")

	// removing an already-removed (or never-registered) conn_id is idempotent.
	c.removeInbound("c1")
}
