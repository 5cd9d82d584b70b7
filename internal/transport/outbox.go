package transport

import (
	"sync"

	"github.com/tunnelcraft/revtun/internal/protocol"
)

// outboxItem is either a control message (encoded as a text frame) or a
// raw payload addressed to a conn_id (encoded as a binary frame). Data
// messages always take the binary path on send — see spec §4.1, "SHOULD
// prefer binary frames on send".
type outboxItem struct {
	msg          protocol.Message
	binaryConnID string
	binaryData   []byte
}

// Outbox is the per-session unbounded queue described in spec §4.1: one
// task serializes control-message and binary-payload sends into frames in
// FIFO order and pushes them onto the transport. It exits on transport
// error or once Close is called and the queue drains.
type Outbox struct {
	conn *Conn

	mu     sync.Mutex
	cond   *sync.Cond
	queue  []outboxItem
	closed bool

	done chan struct{}
	err  error
}

// NewOutbox creates an outbox bound to conn; nothing is written until Run is
// called in its own goroutine. Send/SendData enqueue from any goroutine.
func NewOutbox(conn *Conn) *Outbox {
	ob := &Outbox{conn: conn, done: make(chan struct{})}
	ob.cond = sync.NewCond(&ob.mu)
	return ob
}

// Send enqueues a control message.
func (ob *Outbox) Send(msg protocol.Message) {
	ob.mu.Lock()
	defer ob.mu.Unlock()
	if ob.closed {
		return
	}
	ob.queue = append(ob.queue, outboxItem{msg: msg})
	ob.cond.Signal()
}

// SendData enqueues a payload for connID, to be written as a binary frame.
func (ob *Outbox) SendData(connID string, payload []byte) {
	ob.mu.Lock()
	defer ob.mu.Unlock()
	if ob.closed {
		return
	}
	ob.queue = append(ob.queue, outboxItem{binaryConnID: connID, binaryData: payload})
	ob.cond.Signal()
}

// Close stops accepting new sends and wakes the drain loop so it can exit
// once the queue (not necessarily empty at the moment of Close) is drained.
func (ob *Outbox) Close() {
	ob.mu.Lock()
	ob.closed = true
	ob.cond.Signal()
	ob.mu.Unlock()
}

// Done is closed once Run returns.
func (ob *Outbox) Done() <-chan struct{} { return ob.done }

// Err returns the transport error that stopped Run, if any.
func (ob *Outbox) Err() error { return ob.err }

// Run drains the queue in FIFO order, writing each item to the transport.
// It returns (and closes Done) on the first write error, or once Close has
// been called and the queue is empty.
func (ob *Outbox) Run() {
	defer close(ob.done)
	for {
		ob.mu.Lock()
		for len(ob.queue) == 0 && !ob.closed {
			ob.cond.Wait()
		}
		if len(ob.queue) == 0 && ob.closed {
			ob.mu.Unlock()
			return
		}
		item := ob.queue[0]
		ob.queue = ob.queue[1:]
		ob.mu.Unlock()

		var err error
		if item.binaryData != nil || item.binaryConnID != "" {
			err = ob.conn.WriteBinary(item.binaryConnID, item.binaryData)
		} else {
			err = ob.conn.WriteText(item.msg)
		}
		if err != nil {
			ob.err = err
			return
		}
	}
}
