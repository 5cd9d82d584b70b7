package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tunnelcraft/revtun/internal/protocol"
	"github.com/tunnelcraft/revtun/internal/transport"
)

func noopStarter(ts *TunnelState, outbox *transport.Outbox) {}

// removeAllOnCleanup removes every client still registered in r when the
// test ends, which closes their tunnel listeners so that later tests in
// this package can bind the same ports.
func removeAllOnCleanup(t *testing.T, r *Registry) {
	t.Cleanup(func() {
		for _, c := range r.ListClients() {
			r.RemoveClient(c.ID)
		}
	})
}

func TestRegisterClientAssignsMonotonicIDsAndCreatesTunnels(t *testing.T) {
	r := New(Config{PortStart: 10000, PortEnd: 10030})
	r.SetTunnelStarter(noopStarter)
	removeAllOnCleanup(t, r)

	id1, tunnels1 := r.RegisterClient(protocol.ClientInfo{Name: "dev"}, []protocol.TunnelConfig{
		{TunnelType: protocol.TunnelTCP, LocalAddr: "127.0.0.1", LocalPort: 7000, RemotePort: 10022},
	}, nil)
	require.Equal(t, "1", id1)
	require.Len(t, tunnels1, 1)
	assert.EqualValues(t, 10022, tunnels1[0].ServerPort)

	id2, _ := r.RegisterClient(protocol.ClientInfo{Name: "ops"}, nil, nil)
	assert.Equal(t, "2", id2)
}

func TestRegisterClientEvictsSameName(t *testing.T) {
	r := New(Config{PortStart: 10000, PortEnd: 10030})
	r.SetTunnelStarter(noopStarter)
	removeAllOnCleanup(t, r)

	idA, tunnelsA := r.RegisterClient(protocol.ClientInfo{Name: "dev"}, []protocol.TunnelConfig{
		{TunnelType: protocol.TunnelTCP, LocalAddr: "127.0.0.1", LocalPort: 7000, RemotePort: 10022},
	}, nil)
	require.Len(t, tunnelsA, 1)

	idB, tunnelsB := r.RegisterClient(protocol.ClientInfo{Name: "dev"}, []protocol.TunnelConfig{
		{TunnelType: protocol.TunnelTCP, LocalAddr: "127.0.0.1", LocalPort: 7000, RemotePort: 10022},
	}, nil)
	require.Len(t, tunnelsB, 1)

	assert.NotEqual(t, idA, idB)
	_, stillThere := r.Client(idA)
	assert.False(t, stillThere, "evicted client must be gone")
	clients := r.ListClients()
	require.Len(t, clients, 1)
	assert.Equal(t, idB, clients[0].ID)
	assert.EqualValues(t, 10022, tunnelsB[0].ServerPort, "freed port must be reusable by the evicting client")
}

func TestPortFallbackWhenHintTaken(t *testing.T) {
	r := New(Config{PortStart: 10000, PortEnd: 10010})
	r.SetTunnelStarter(noopStarter)
	removeAllOnCleanup(t, r)

	_, tunnelsA := r.RegisterClient(protocol.ClientInfo{Name: "a"}, []protocol.TunnelConfig{
		{TunnelType: protocol.TunnelTCP, LocalPort: 7000, RemotePort: 10005},
	}, nil)
	require.Len(t, tunnelsA, 1)
	assert.EqualValues(t, 10005, tunnelsA[0].ServerPort)

	_, tunnelsB := r.RegisterClient(protocol.ClientInfo{Name: "b"}, []protocol.TunnelConfig{
		{TunnelType: protocol.TunnelTCP, LocalPort: 7001, RemotePort: 10005},
	}, nil)
	require.Len(t, tunnelsB, 1)
	assert.NotEqualValues(t, 10005, tunnelsB[0].ServerPort)
	assert.GreaterOrEqual(t, tunnelsB[0].ServerPort, uint16(10000))
	assert.LessOrEqual(t, tunnelsB[0].ServerPort, uint16(10010))
}

func TestCloseTunnelRemovesConnectionsAndUnlinksClient(t *testing.T) {
	r := New(Config{PortStart: 10000, PortEnd: 10010})
	r.SetTunnelStarter(noopStarter)

	clientID, tunnels := r.RegisterClient(protocol.ClientInfo{Name: "dev"}, []protocol.TunnelConfig{
		{TunnelType: protocol.TunnelTCP, LocalPort: 7000, RemotePort: 10001},
	}, nil)
	require.Len(t, tunnels, 1)
	tunnelID := tunnels[0].ID

	r.AddConnection("conn-1", tunnelID, clientID, make(chan []byte, 1))
	r.CloseTunnel(tunnelID)

	_, ok := r.Tunnel(tunnelID)
	assert.False(t, ok)
	_, ok = r.Connection("conn-1")
	assert.False(t, ok)

	_, ok = r.Client(clientID)
	require.True(t, ok, "closing a tunnel must not remove its owning client")
}

func TestRemoveClientCascadesTunnelsAndConnections(t *testing.T) {
	r := New(Config{PortStart: 10000, PortEnd: 10010})
	r.SetTunnelStarter(noopStarter)

	clientID, tunnels := r.RegisterClient(protocol.ClientInfo{Name: "dev"}, []protocol.TunnelConfig{
		{TunnelType: protocol.TunnelTCP, LocalPort: 7000, RemotePort: 10001},
		{TunnelType: protocol.TunnelTCP, LocalPort: 7001, RemotePort: 10002},
	}, nil)
	require.Len(t, tunnels, 2)

	r.AddConnection("c1", tunnels[0].ID, clientID, make(chan []byte, 1))
	r.AddConnection("c2", tunnels[1].ID, clientID, make(chan []byte, 1))

	r.RemoveClient(clientID)

	_, ok := r.Client(clientID)
	assert.False(t, ok)
	for _, tun := range tunnels {
		_, ok := r.Tunnel(tun.ID)
		assert.False(t, ok)
	}
	_, ok = r.Connection("c1")
	assert.False(t, ok)
	_, ok = r.Connection("c2")
	assert.False(t, ok)
}

func TestPortAllocationNeverLeavesRange(t *testing.T) {
	r := New(Config{PortStart: 10000, PortEnd: 10002})
	r.SetTunnelStarter(noopStarter)

	_, t1 := r.RegisterClient(protocol.ClientInfo{Name: "a"}, []protocol.TunnelConfig{{TunnelType: protocol.TunnelTCP, LocalPort: 1}}, nil)
	_, t2 := r.RegisterClient(protocol.ClientInfo{Name: "b"}, []protocol.TunnelConfig{{TunnelType: protocol.TunnelTCP, LocalPort: 2}}, nil)
	_, t3 := r.RegisterClient(protocol.ClientInfo{Name: "c"}, []protocol.TunnelConfig{{TunnelType: protocol.TunnelTCP, LocalPort: 3}}, nil)

	ports := map[uint16]bool{}
	for _, ts := range [][]protocol.TunnelInfo{t1, t2, t3} {
		require.Len(t, ts, 1)
		p := ts[0].ServerPort
		assert.GreaterOrEqual(t, p, uint16(10000))
		assert.LessOrEqual(t, p, uint16(10002))
		assert.False(t, ports[p], "port reused while still live")
		ports[p] = true
	}

	_, t4 := r.RegisterClient(protocol.ClientInfo{Name: "d"}, []protocol.TunnelConfig{{TunnelType: protocol.TunnelTCP, LocalPort: 4}}, nil)
	assert.Empty(t, t4, "no port left in range must yield no tunnel, not an out-of-range one")
}
