package adapter

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/go-delve/delve/service"
	delvedap "github.com/go-delve/delve/service/dap"
	delvedebugger "github.com/go-delve/delve/service/debugger"
	"github.com/google/go-dap"

	"github.com/dlv-mcp/bridge/internal/retry"
	"github.com/dlv-mcp/bridge/transport"
)

// delveLaunchArgs mirrors the subset of delve's DAP launch configuration
// this bridge exercises; delve itself decodes `arguments` into a much
// larger struct, but only these fields are ever populated here.
type delveLaunchArgs struct {
	Mode        string   `json:"mode"`
	Program     string   `json:"program"`
	Args        []string `json:"args,omitempty"`
	Cwd         string   `json:"cwd,omitempty"`
	StopOnEntry bool     `json:"stopOnEntry,omitempty"`
	BuildFlags  string   `json:"buildFlags,omitempty"`
}

type delveAttachArgs struct {
	Mode      string `json:"mode"`
	ProcessID int    `json:"processId,omitempty"`
	Host      string `json:"host,omitempty"`
	Port      int    `json:"port,omitempty"`
}

// Mode selects how DelveAdapter obtains its transport.
type Mode int

const (
	// ModeExternal shells out to `dlv dap --listen={host}:{port}`,
	// yielding a SubprocessSocketTransport.
	ModeExternal Mode = iota

	// ModeEmbedded runs delve's DAP server in-process via
	// go-delve/delve/service/dap, yielding a transport that dials it over
	// loopback and hands the connection to a SocketTransport.
	ModeEmbedded
)

// DelveAdapter implements Adapter for Go programs debugged with delve, in
// either the external-subprocess or embedded-in-process form.
type DelveAdapter struct {
	Mode    Mode
	DlvPath string // defaults to "dlv" (resolved via PATH)
}

// NewDelveAdapter returns a DelveAdapter using the given mode.
func NewDelveAdapter(mode Mode) *DelveAdapter {
	return &DelveAdapter{Mode: mode, DlvPath: "dlv"}
}

func (d *DelveAdapter) Name() string             { return "delve" }
func (d *DelveAdapter) AdapterID() string        { return "go" }
func (d *DelveAdapter) FileExtensions() []string { return []string{".go"} }
func (d *DelveAdapter) Aliases() []string        { return []string{"dlv", "go"} }

func (d *DelveAdapter) CreateTransport(params LaunchParams) (transport.Transport, error) {
	switch d.Mode {
	case ModeEmbedded:
		return newEmbeddedDelveTransport()
	default:
		dlv := d.DlvPath
		if dlv == "" {
			dlv = "dlv"
		}
		return transport.NewSubprocessSocketTransport(transport.SubprocessSocketConfig{
			Command:         dlv,
			Args:            []string{"dap"},
			Dir:             params.Cwd,
			PortArgTemplate: "--listen={host}:{port}",
		}), nil
	}
}

func (d *DelveAdapter) CreateAttachTransport(params AttachParams) (transport.Transport, error) {
	if params.Host == "" || params.Port == 0 {
		return nil, fmt.Errorf("delve attach requires host and port")
	}
	return transport.NewSocketTransport(transport.SocketConfig{
		Host: params.Host,
		Port: params.Port,
	}), nil
}

// launchMode infers delve's launch mode: a program path ending in ".test" or
// "__debug_bin" gets "exec", a test target (a _test.go program, or an
// argument naming a _test.go file or carrying a -test. flag) gets "test", and
// anything else gets "debug" (with disabled optimizations unless the caller
// already supplied build flags).
func launchMode(program string, args []string) string {
	if strings.HasSuffix(program, ".test") || strings.HasSuffix(program, "__debug_bin") {
		return "exec"
	}
	for _, a := range args {
		if strings.HasSuffix(a, "_test.go") || strings.Contains(a, "-test.") {
			return "test"
		}
	}
	if strings.HasSuffix(program, "_test.go") {
		return "test"
	}
	return "debug"
}

func (d *DelveAdapter) GetLaunchArguments(params LaunchParams) (json.RawMessage, error) {
	mode := launchMode(params.Program, params.Args)

	buildFlags := ""
	if v, ok := params.Extra["buildFlags"].(string); ok {
		buildFlags = v
	}
	if mode == "debug" && buildFlags == "" {
		buildFlags = "-gcflags=all=-N -l"
	}

	args := delveLaunchArgs{
		Mode:        mode,
		Program:     params.Program,
		Args:        params.Args,
		Cwd:         params.Cwd,
		StopOnEntry: params.StopOnEntry,
		BuildFlags:  buildFlags,
	}

	return json.Marshal(args)
}

func (d *DelveAdapter) GetAttachArguments(params AttachParams) (json.RawMessage, error) {
	mode := "local"
	if params.Host != "" {
		mode = "remote"
	}
	args := delveAttachArgs{
		Mode:      mode,
		ProcessID: params.ProcessID,
		Host:      params.Host,
		Port:      params.Port,
	}
	return json.Marshal(args)
}

// newEmbeddedDelveTransport starts an in-process delve DAP server bound to a
// loopback port and returns a SocketTransport dialed against it, along with
// wiring to stop the server when the transport disconnects.
func newEmbeddedDelveTransport() (transport.Transport, error) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, fmt.Errorf("create embedded delve listener: %w", err)
	}

	disconnectCh := make(chan struct{})
	config := &service.Config{
		Listener:       listener,
		DisconnectChan: disconnectCh,
		Debugger: delvedebugger.Config{
			WorkingDir: ".",
		},
	}

	server := delvedap.NewServer(config)
	go server.Run()

	return &embeddedDelveTransport{
		addr:     listener.Addr().String(),
		server:   server,
		listener: listener,
	}, nil
}

// embeddedDelveTransport lazily dials the embedded server's listener on
// Connect, delegating actual framing to a SocketTransport once dialed, and
// stops the server on Disconnect.
type embeddedDelveTransport struct {
	addr     string
	server   *delvedap.Server
	listener net.Listener
	inner    *transport.SocketTransport
}

func (t *embeddedDelveTransport) Connect(ctx context.Context) error {
	var conn net.Conn

	err := retry.WithBackoff(ctx, retry.Config{
		MaxAttempts:  5,
		InitialDelay: 50 * time.Millisecond,
		MaxDelay:     500 * time.Millisecond,
		Multiplier:   2.0,
	}, func() error {
		var dialErr error
		conn, dialErr = net.Dial("tcp", t.addr)
		return dialErr
	})
	if err != nil {
		t.listener.Close()
		t.server.Stop()
		return fmt.Errorf("connect to embedded delve server at %s: %w", t.addr, err)
	}

	t.inner = transport.NewSocketTransportFromConn(conn)
	return nil
}

func (t *embeddedDelveTransport) Send(msg dap.Message) error { return t.inner.Send(msg) }

func (t *embeddedDelveTransport) Receive() (dap.Message, error) { return t.inner.Receive() }

func (t *embeddedDelveTransport) IsConnected() bool {
	return t.inner != nil && t.inner.IsConnected()
}

func (t *embeddedDelveTransport) Disconnect() error {
	if t.inner != nil {
		t.inner.Disconnect()
	}
	t.server.Stop()
	return nil
}
