package transport

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/google/go-dap"
)

const (
	probeInterval  = 50 * time.Millisecond
	defaultStartup = 10 * time.Second
	killGrace      = 2 * time.Second
)

// SubprocessSocketConfig configures a SubprocessSocketTransport: a child
// process that is told, via a command-line argument, to open a DAP server
// on a TCP port, which this transport then dials.
type SubprocessSocketConfig struct {
	Command string
	Args    []string
	Dir     string
	Env     []string

	Host string // defaults to "127.0.0.1"

	// Port, if zero, is chosen automatically by binding to port 0 and
	// reading back the OS-assigned port before spawning the child. This
	// is a best-effort hint: between closing the probe socket and the
	// child binding, another process could in principle grab the port,
	// so Connect still relies on the TCP-probe retry loop rather than
	// assuming success.
	Port int

	// PortArgTemplate is appended to Args with "{host}" and "{port}"
	// substituted, e.g. "--listen={host}:{port}" or bare "{port}".
	PortArgTemplate string

	// StartupTimeout bounds how long Connect waits for the child to
	// start accepting connections. Defaults to 10s.
	StartupTimeout time.Duration
}

// SubprocessSocketTransport spawns a child process that itself listens on a
// TCP port, then connects to it as an ordinary socket transport. Used by
// adapters (delve's `dlv dap --listen=host:port`) that run their own DAP
// server rather than speaking DAP over stdio.
type SubprocessSocketTransport struct {
	cfg SubprocessSocketConfig

	mu      sync.Mutex
	cmd     *exec.Cmd
	stderr  *bytes.Buffer
	socket  *SocketTransport
	running bool

	waitOnce   sync.Once
	waitDone   chan struct{}
	waitResult error
}

// wait runs cmd.Wait exactly once, however many callers ask for the result.
func (t *SubprocessSocketTransport) wait() <-chan struct{} {
	t.waitOnce.Do(func() {
		t.waitDone = make(chan struct{})
		go func() {
			t.waitResult = t.cmd.Wait()
			close(t.waitDone)
		}()
	})
	return t.waitDone
}

// NewSubprocessSocketTransport returns a transport that will spawn the
// configured command and dial its listening port on Connect.
func NewSubprocessSocketTransport(cfg SubprocessSocketConfig) *SubprocessSocketTransport {
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.PortArgTemplate == "" {
		cfg.PortArgTemplate = "{port}"
	}
	if cfg.StartupTimeout == 0 {
		cfg.StartupTimeout = defaultStartup
	}
	return &SubprocessSocketTransport{cfg: cfg}
}

func findFreePort(host string) (int, error) {
	l, err := net.Listen("tcp", fmt.Sprintf("%s:0", host))
	if err != nil {
		return 0, err
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port, nil
}

func (t *SubprocessSocketTransport) Connect(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	port := t.cfg.Port
	if port == 0 {
		p, err := findFreePort(t.cfg.Host)
		if err != nil {
			return newConnectionError("find free port", err)
		}
		port = p
	}

	portArg := strings.NewReplacer(
		"{host}", t.cfg.Host,
		"{port}", strconv.Itoa(port),
	).Replace(t.cfg.PortArgTemplate)

	args := append(append([]string{}, t.cfg.Args...), portArg)

	cmd := exec.CommandContext(ctx, t.cfg.Command, args...)
	cmd.Dir = t.cfg.Dir
	if len(t.cfg.Env) > 0 {
		cmd.Env = t.cfg.Env
	}

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return newConnectionError(fmt.Sprintf("spawn %s", t.cfg.Command), err)
	}

	t.cmd = cmd
	t.stderr = &stderr

	exited := t.wait()

	deadline := time.NewTimer(t.cfg.StartupTimeout)
	defer deadline.Stop()

	addr := fmt.Sprintf("%s:%d", t.cfg.Host, port)

	for {
		conn, dialErr := net.DialTimeout("tcp", addr, probeInterval)
		if dialErr == nil {
			t.socket = NewSocketTransportFromConn(conn)
			t.running = true
			return nil
		}

		select {
		case <-exited:
			return newConnectionError(
				fmt.Sprintf("%s exited before listening (err=%v): %s",
					t.cfg.Command, t.waitResult, stderr.String()),
				nil,
			)
		case <-deadline.C:
			_ = cmd.Process.Kill()
			return newConnectionError(
				fmt.Sprintf("%s did not start listening within %s",
					t.cfg.Command, t.cfg.StartupTimeout),
				nil,
			)
		case <-ctx.Done():
			_ = cmd.Process.Kill()
			return newConnectionError("context cancelled while connecting", ctx.Err())
		case <-time.After(probeInterval):
		}
	}
}

func (t *SubprocessSocketTransport) Send(msg dap.Message) error {
	t.mu.Lock()
	sock := t.socket
	t.mu.Unlock()

	if sock == nil {
		return newConnectionError("send before connect", nil)
	}
	return sock.Send(msg)
}

func (t *SubprocessSocketTransport) Receive() (dap.Message, error) {
	t.mu.Lock()
	sock := t.socket
	t.mu.Unlock()

	if sock == nil {
		return nil, newConnectionError("receive before connect", nil)
	}
	return sock.Receive()
}

func (t *SubprocessSocketTransport) Disconnect() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.running {
		return nil
	}
	t.running = false

	if t.socket != nil {
		t.socket.Disconnect()
	}

	if t.cmd == nil || t.cmd.Process == nil {
		return nil
	}

	_ = t.cmd.Process.Signal(syscall.SIGTERM)

	done := t.wait()

	select {
	case <-done:
	case <-time.After(killGrace):
		_ = t.cmd.Process.Kill()
		<-done
	}

	return nil
}

func (t *SubprocessSocketTransport) IsConnected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.running
}
