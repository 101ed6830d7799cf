package transport

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/google/go-dap"

	"github.com/dlv-mcp/bridge/internal/dapproto"
)

// SocketConfig configures a SocketTransport.
type SocketConfig struct {
	Host string
	Port int
}

// SocketTransport speaks DAP over a plain TCP connection to an
// already-listening adapter.
type SocketTransport struct {
	cfg SocketConfig

	mu        sync.Mutex
	conn      net.Conn
	reader    *bufio.Reader
	connected bool

	dec *dapproto.Decoder
}

// NewSocketTransport returns a transport that will dial cfg.Host:cfg.Port on
// Connect.
func NewSocketTransport(cfg SocketConfig) *SocketTransport {
	return &SocketTransport{cfg: cfg, dec: dapproto.NewDecoder()}
}

// NewSocketTransportFromConn wraps an already-established connection. Used
// by SubprocessSocketTransport once it has confirmed the child is
// listening, and by tests that script an adapter double over a net.Pipe.
func NewSocketTransportFromConn(conn net.Conn) *SocketTransport {
	return &SocketTransport{
		conn:      conn,
		reader:    bufio.NewReader(conn),
		connected: true,
		dec:       dapproto.NewDecoder(),
	}
}

func (t *SocketTransport) Connect(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.connected {
		return nil
	}

	addr := fmt.Sprintf("%s:%d", t.cfg.Host, t.cfg.Port)
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return newConnectionError(fmt.Sprintf("dial %s", addr), err)
	}

	t.conn = conn
	t.reader = bufio.NewReader(conn)
	t.connected = true

	return nil
}

func (t *SocketTransport) Send(msg dap.Message) error {
	t.mu.Lock()
	conn := t.conn
	connected := t.connected
	t.mu.Unlock()

	if !connected {
		return newConnectionError("send on disconnected transport", nil)
	}

	if err := dapproto.WriteMessage(conn, msg); err != nil {
		return newConnectionError("write message", err)
	}
	return nil
}

func (t *SocketTransport) Receive() (dap.Message, error) {
	t.mu.Lock()
	reader := t.reader
	connected := t.connected
	t.mu.Unlock()

	if !connected {
		return nil, newConnectionError("receive on disconnected transport", nil)
	}

	msg, err := dapproto.ReadMessage(reader, t.dec)
	if err != nil {
		var protoErr *dapproto.ProtocolError
		if errors.As(err, &protoErr) {
			return nil, err
		}
		return nil, newConnectionError("socket closed mid-frame", err)
	}
	return msg, nil
}

func (t *SocketTransport) Disconnect() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.connected {
		return nil
	}
	t.connected = false

	if t.conn != nil {
		return t.conn.Close()
	}
	return nil
}

func (t *SocketTransport) IsConnected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.connected
}
