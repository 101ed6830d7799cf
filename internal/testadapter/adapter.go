package testadapter

import (
	"encoding/json"
	"net"

	"github.com/dlv-mcp/bridge/adapter"
	"github.com/dlv-mcp/bridge/transport"
)

// Adapter is a minimal adapter.Adapter whose CreateTransport hands back a
// transport wired to a caller-supplied net.Conn (typically the client side
// of a Fake's net.Pipe), for tests that need a full session/sessionmgr stack
// without a real debugger process.
type Adapter struct {
	NameValue string
	Conn      net.Conn
}

func (a *Adapter) Name() string             { return a.NameValue }
func (a *Adapter) AdapterID() string        { return "test" }
func (a *Adapter) FileExtensions() []string { return []string{".test"} }
func (a *Adapter) Aliases() []string        { return nil }

func (a *Adapter) CreateTransport(adapter.LaunchParams) (transport.Transport, error) {
	return transport.NewSocketTransportFromConn(a.Conn), nil
}

func (a *Adapter) CreateAttachTransport(adapter.AttachParams) (transport.Transport, error) {
	return transport.NewSocketTransportFromConn(a.Conn), nil
}

func (a *Adapter) GetLaunchArguments(params adapter.LaunchParams) (json.RawMessage, error) {
	return json.Marshal(params)
}

func (a *Adapter) GetAttachArguments(params adapter.AttachParams) (json.RawMessage, error) {
	return json.Marshal(params)
}
