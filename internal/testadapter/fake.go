// Package testadapter provides a scripted DAP adapter double over an
// in-memory pipe, used by dapclient, session, and sessionmgr tests to
// exercise real wire framing without spawning an actual debugger.
package testadapter

import (
	"net"
	"sync"

	"github.com/google/go-dap"

	"github.com/dlv-mcp/bridge/internal/dapproto"
)

// Fake is the adapter side of a net.Pipe: it reads decoded requests off the
// wire and lets the test script responses and events back.
type Fake struct {
	conn net.Conn
	dec  *dapproto.Decoder

	mu       sync.Mutex
	received []dap.Message
}

// NewFake creates a net.Pipe and returns a Fake bound to its adapter side,
// plus the client-side net.Conn to hand to a transport.
func NewFake() (fake *Fake, clientConn net.Conn) {
	server, client := net.Pipe()
	return &Fake{conn: server, dec: dapproto.NewDecoder()}, client
}

// NextRequest blocks until the client sends one message and returns it.
func (f *Fake) NextRequest() (dap.Message, error) {
	msg, err := dapproto.ReadMessage(f.conn, f.dec)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	f.received = append(f.received, msg)
	f.mu.Unlock()
	return msg, nil
}

// Received returns every message NextRequest has read from the client so
// far, in arrival order.
func (f *Fake) Received() []dap.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]dap.Message, len(f.received))
	copy(out, f.received)
	return out
}

// Send writes msg to the client.
func (f *Fake) Send(msg dap.Message) error {
	return dapproto.WriteMessage(f.conn, msg)
}

// Close closes the adapter side of the pipe.
func (f *Fake) Close() error {
	return f.conn.Close()
}

// RespondSuccess builds and sends a minimal success response correlated to
// reqSeq for command.
func RespondSuccess(f *Fake, reqSeq int, seq int, command string) error {
	resp := &dap.Response{
		ProtocolMessage: dap.ProtocolMessage{Seq: seq, Type: "response"},
		RequestSeq:      reqSeq,
		Success:         true,
		Command:         command,
	}
	return f.Send(resp)
}
