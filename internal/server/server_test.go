package server

import (
	"context"
	"io"
	"net"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tunnelcraft/revtun/internal/client"
	"github.com/tunnelcraft/revtun/internal/protocol"
)

// echoOnce accepts connections on ln and echoes back whatever it reads,
// until ln is closed.
func echoOnce(ln net.Listener) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		go func(c net.Conn) {
			defer c.Close()
			buf := make([]byte, 4096)
			for {
				n, err := c.Read(buf)
				if n > 0 {
					c.Write(buf[:n])
				}
				if err != nil {
					return
				}
			}
		}(conn)
	}
}

func waitUntil(t *testing.T, timeout time.Duration, cond func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}

func newTestHTTPServer(t *testing.T, s *Server) (wsURL string) {
	t.Helper()
	httpSrv := httptest.NewServer(s.routes())
	t.Cleanup(httpSrv.Close)
	return "ws" + httpSrv.URL[len("http"):] + "/tunnel"
}

func TestSingleTunnelEcho(t *testing.T) {
	echoLn, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer echoLn.Close()
	go echoOnce(echoLn)
	echoPort := echoLn.Addr().(*net.TCPAddr).Port

	s := New(Config{PortStart: 20100, PortEnd: 20110})
	wsURL := newTestHTTPServer(t, s)

	c := client.New(client.Config{
		ServerURL: wsURL,
		Name:      "echoer",
		Tunnels: []protocol.TunnelConfig{
			{TunnelType: protocol.TunnelTCP, LocalAddr: "127.0.0.1", LocalPort: uint16(echoPort)},
		},
	})
	ctx, cancel := context.WithCancel(context.Background())
	go c.Run(ctx)

	var serverPort uint16
	require.True(t, waitUntil(t, 2*time.Second, func() bool {
		tunnels := s.reg.ListTunnels()
		if len(tunnels) == 1 {
			serverPort = tunnels[0].ServerPort
			return true
		}
		return false
	}), "tunnel was never registered")

	conn, err := net.Dial("tcp", "127.0.0.1:"+strconv.Itoa(int(serverPort)))
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte("hello"))
	require.NoError(t, err)

	buf := make([]byte, 5)
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, err = io.ReadFull(conn, buf)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(buf))

	cancel()

	require.True(t, waitUntil(t, 1*time.Second, func() bool {
		return len(s.reg.ListTunnels()) == 0
	}), "tunnel was never torn down after client disconnect")

	require.True(t, waitUntil(t, 200*time.Millisecond, func() bool {
		ln, err := net.Listen("tcp", "127.0.0.1:"+strconv.Itoa(int(serverPort)))
		if err != nil {
			return false
		}
		ln.Close()
		return true
	}), "public port was not rebindable after session end")
}

func TestCascadeOnClientDisconnect(t *testing.T) {
	echoLn, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer echoLn.Close()
	go echoOnce(echoLn)
	echoPort := echoLn.Addr().(*net.TCPAddr).Port

	s := New(Config{PortStart: 20200, PortEnd: 20210})
	wsURL := newTestHTTPServer(t, s)

	c := client.New(client.Config{
		ServerURL: wsURL,
		Name:      "two-tunnels",
		Tunnels: []protocol.TunnelConfig{
			{TunnelType: protocol.TunnelTCP, LocalAddr: "127.0.0.1", LocalPort: uint16(echoPort)},
			{TunnelType: protocol.TunnelTCP, LocalAddr: "127.0.0.1", LocalPort: uint16(echoPort)},
		},
	})
	ctx, cancel := context.WithCancel(context.Background())
	go c.Run(ctx)

	require.True(t, waitUntil(t, 2*time.Second, func() bool {
		return len(s.reg.ListTunnels()) == 2
	}))

	ports := make([]uint16, 0, 2)
	for _, ti := range s.reg.ListTunnels() {
		ports = append(ports, ti.ServerPort)
	}

	conns := make([]net.Conn, 0, len(ports))
	for _, p := range ports {
		conn, err := net.Dial("tcp", "127.0.0.1:"+strconv.Itoa(int(p)))
		require.NoError(t, err)
		conns = append(conns, conn)
	}

	require.True(t, waitUntil(t, 1*time.Second, func() bool {
		clients := s.reg.ListClients()
		return len(clients) == 1
	}))

	cancel()

	require.True(t, waitUntil(t, 1*time.Second, func() bool {
		return len(s.reg.ListClients()) == 0 && len(s.reg.ListTunnels()) == 0
	}), "cascade teardown did not complete")

	for _, conn := range conns {
		conn.Close()
	}
}


