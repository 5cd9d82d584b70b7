package transport

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/tunnelcraft/revtun/internal/protocol"
)

// wsPipe spins up a local websocket server and returns two connected Conns,
// one for each side, so outbox tests exercise the real gorilla/websocket
// wire rather than a fake.
func wsPipe(t *testing.T) (server, client *Conn) {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srvReady := make(chan *websocket.Conn, 1)

	httpSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		srvReady <- c
	}))
	t.Cleanup(httpSrv.Close)

	wsURL := "ws" + httpSrv.URL[len("http"):]
	clientWS, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)

	serverWS := <-srvReady
	return NewConn(serverWS), NewConn(clientWS)
}

func TestOutboxDrainsInFIFOOrder(t *testing.T) {
	server, client := wsPipe(t)
	defer server.Close()
	defer client.Close()

	ob := NewOutbox(server)
	go ob.Run()
	defer ob.Close()

	ob.Send(&protocol.PingMessage{Type: "ping", Timestamp: 1})
	ob.Send(&protocol.PingMessage{Type: "ping", Timestamp: 2})
	ob.Send(&protocol.PingMessage{Type: "ping", Timestamp: 3})

	for _, want := range []int64{1, 2, 3} {
		client.ws.SetReadDeadline(time.Now().Add(2 * time.Second))
		frame, err := client.ReadFrame()
		require.NoError(t, err)
		require.True(t, frame.Text)
		ping, ok := frame.Message.(*protocol.PingMessage)
		require.True(t, ok)
		require.Equal(t, want, ping.Timestamp)
	}
}

func TestOutboxPrefersBinaryFramesForData(t *testing.T) {
	server, client := wsPipe(t)
	defer server.Close()
	defer client.Close()

	ob := NewOutbox(server)
	go ob.Run()
	defer ob.Close()

	connID := "11111111-2222-3333-4444-555555555555"
	ob.SendData(connID, []byte("payload"))

	client.ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	frame, err := client.ReadFrame()
	require.NoError(t, err)
	require.False(t, frame.Text)

	gotID, gotPayload, ok := protocol.DecodeBinary(frame.Binary)
	require.True(t, ok)
	require.Equal(t, connID, gotID)
	require.Equal(t, []byte("payload"), gotPayload)
}

func TestOutboxClosesAfterDrain(t *testing.T) {
	server, client := wsPipe(t)
	defer server.Close()
	defer client.Close()

	ob := NewOutbox(server)
	go ob.Run()

	ob.Send(&protocol.PingMessage{Type: "ping", Timestamp: 42})
	ob.Close()

	select {
	case <-ob.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("outbox did not exit after Close")
	}
	require.NoError(t, ob.Err())
}
