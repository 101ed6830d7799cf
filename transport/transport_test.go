package transport

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/google/go-dap"
	"github.com/stretchr/testify/require"

	"github.com/dlv-mcp/bridge/internal/dapproto"
)

func TestSocketTransportSendReceiveRoundTrip(t *testing.T) {
	server, client := net.Pipe()
	t.Cleanup(func() { server.Close() })

	tr := NewSocketTransportFromConn(client)

	go func() {
		dec := dapproto.NewDecoder()
		msg, err := dapproto.ReadMessage(server, dec)
		if err != nil {
			return
		}
		req := msg.(dap.RequestMessage).GetRequest()
		resp := &dap.Response{
			ProtocolMessage: dap.ProtocolMessage{Seq: 2, Type: "response"},
			RequestSeq:      req.Seq,
			Success:         true,
			Command:         req.Command,
		}
		_ = dapproto.WriteMessage(server, resp)
	}()

	require.NoError(t, tr.Send(&dap.ThreadsRequest{
		Request: dap.Request{
			ProtocolMessage: dap.ProtocolMessage{Seq: 1, Type: "request"},
			Command:         "threads",
		},
	}))

	got, err := tr.Receive()
	require.NoError(t, err)
	resp, ok := got.(*dap.ThreadsResponse)
	require.True(t, ok)
	require.Equal(t, 1, resp.RequestSeq)
}

func TestSocketTransportDisconnectIsIdempotent(t *testing.T) {
	server, client := net.Pipe()
	t.Cleanup(func() { server.Close() })

	tr := NewSocketTransportFromConn(client)
	require.True(t, tr.IsConnected())

	require.NoError(t, tr.Disconnect())
	require.False(t, tr.IsConnected())
	require.NoError(t, tr.Disconnect())
}

func TestSocketTransportSendAfterDisconnectReturnsConnectionError(t *testing.T) {
	server, client := net.Pipe()
	t.Cleanup(func() { server.Close() })

	tr := NewSocketTransportFromConn(client)
	require.NoError(t, tr.Disconnect())

	err := tr.Send(&dap.ThreadsRequest{})
	require.Error(t, err)
	var connErr *ConnectionError
	require.ErrorAs(t, err, &connErr)
}

func TestSubprocessSocketTransportConnectFailureSurfacesConnectionError(t *testing.T) {
	tr := NewSubprocessSocketTransport(SubprocessSocketConfig{
		Command:         "/nonexistent-binary-for-test",
		PortArgTemplate: "{port}",
		StartupTimeout:  200 * time.Millisecond,
	})

	err := tr.Connect(context.Background())
	require.Error(t, err)
	var connErr *ConnectionError
	require.ErrorAs(t, err, &connErr)
}

func TestSubprocessSocketTransportExitsBeforeListening(t *testing.T) {
	tr := NewSubprocessSocketTransport(SubprocessSocketConfig{
		Command:         "false",
		PortArgTemplate: "{port}",
		StartupTimeout:  2 * time.Second,
	})

	err := tr.Connect(context.Background())
	require.Error(t, err)
	var connErr *ConnectionError
	require.ErrorAs(t, err, &connErr)
}
