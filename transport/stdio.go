package transport

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/google/go-dap"

	"github.com/dlv-mcp/bridge/internal/dapproto"
)

// StdioConfig configures a StdioTransport.
type StdioConfig struct {
	Command string
	Args    []string
	Dir     string
	Env     []string
}

// StdioTransport speaks DAP over a spawned child process's stdin/stdout.
// Standard error is inherited by the host process; it is not framed.
type StdioTransport struct {
	cfg StdioConfig

	mu        sync.Mutex
	cmd       *exec.Cmd
	stdin     io.WriteCloser
	stdout    *bufio.Reader
	connected bool

	dec *dapproto.Decoder
}

// NewStdioTransport returns a transport that will spawn cfg.Command on
// Connect.
func NewStdioTransport(cfg StdioConfig) *StdioTransport {
	return &StdioTransport{cfg: cfg, dec: dapproto.NewDecoder()}
}

func (t *StdioTransport) Connect(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	cmd := exec.CommandContext(ctx, t.cfg.Command, t.cfg.Args...)
	cmd.Dir = t.cfg.Dir
	cmd.Stderr = os.Stderr
	if len(t.cfg.Env) > 0 {
		cmd.Env = t.cfg.Env
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return newConnectionError("open stdin pipe", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return newConnectionError("open stdout pipe", err)
	}

	if err := cmd.Start(); err != nil {
		return newConnectionError(
			fmt.Sprintf("spawn %s", t.cfg.Command), err,
		)
	}

	t.cmd = cmd
	t.stdin = stdin
	t.stdout = bufio.NewReader(stdout)
	t.connected = true

	return nil
}

func (t *StdioTransport) Send(msg dap.Message) error {
	t.mu.Lock()
	stdin := t.stdin
	connected := t.connected
	t.mu.Unlock()

	if !connected {
		return newConnectionError("send on disconnected transport", nil)
	}

	if err := dapproto.WriteMessage(stdin, msg); err != nil {
		return newConnectionError("write message", err)
	}
	return nil
}

func (t *StdioTransport) Receive() (dap.Message, error) {
	t.mu.Lock()
	stdout := t.stdout
	connected := t.connected
	t.mu.Unlock()

	if !connected {
		return nil, newConnectionError("receive on disconnected transport", nil)
	}

	msg, err := dapproto.ReadMessage(stdout, t.dec)
	if err != nil {
		var protoErr *dapproto.ProtocolError
		if errors.As(err, &protoErr) {
			return nil, err
		}
		return nil, newConnectionError("stdout closed", err)
	}
	return msg, nil
}

func (t *StdioTransport) Disconnect() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.connected {
		return nil
	}
	t.connected = false

	if t.stdin != nil {
		t.stdin.Close()
	}

	if t.cmd == nil || t.cmd.Process == nil {
		return nil
	}

	// Terminate gracefully, force-kill after the grace window. Both signals
	// are idempotent: an already-dead child is not an error.
	_ = t.cmd.Process.Signal(syscall.SIGTERM)

	done := make(chan error, 1)
	go func() { done <- t.cmd.Wait() }()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		_ = t.cmd.Process.Kill()
		<-done
	}

	return nil
}

func (t *StdioTransport) IsConnected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.connected
}
