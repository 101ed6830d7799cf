package dapclient

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/go-dap"

	"github.com/dlv-mcp/bridge/transport"
)

const (
	defaultRequestTimeout = 30 * time.Second
	initializedTimeout    = 30 * time.Second
	finishLaunchTimeout   = 30 * time.Second
)

// Initialize issues the initialize request with a fixed capability claim
// set and caches the adapter's advertised capabilities.
func (c *Client) Initialize(ctx context.Context, clientID, adapterID string) (*dap.Capabilities, error) {
	args := dap.InitializeRequestArguments{
		ClientID:                     clientID,
		AdapterID:                    adapterID,
		LinesStartAt1:                true,
		ColumnsStartAt1:              true,
		PathFormat:                   "path",
		SupportsVariableType:         true,
		SupportsVariablePaging:       true,
		SupportsInvalidatedEvent:     true,
		SupportsRunInTerminalRequest: false,
		SupportsMemoryReferences:     false,
		SupportsProgressReporting:    false,
	}

	resp, err := c.Request(ctx, "initialize", args, defaultRequestTimeout)
	if err != nil {
		return nil, err
	}

	initResp, ok := resp.(*dap.InitializeResponse)
	if !ok {
		return &dap.Capabilities{}, nil
	}

	c.mu.Lock()
	c.capabilities = &initResp.Body
	c.mu.Unlock()

	return &initResp.Body, nil
}

// Capabilities returns the most recently latched capability set, or nil if
// initialize has not completed.
func (c *Client) Capabilities() *dap.Capabilities {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.capabilities
}

// BeginLaunch sends the launch request (whose response the adapter defers),
// then waits for the "initialized" event. The outstanding response waiter is
// retained for FinishLaunch.
func (c *Client) BeginLaunch(ctx context.Context, args json.RawMessage) error {
	return c.beginDeferred(ctx, "launch", args)
}

// BeginAttach is the attach counterpart of BeginLaunch.
func (c *Client) BeginAttach(ctx context.Context, args json.RawMessage) error {
	return c.beginDeferred(ctx, "attach", args)
}

func (c *Client) beginDeferred(ctx context.Context, command string, args json.RawMessage) error {
	c.initializedMu.Lock()
	c.initializedCh = make(chan struct{})
	c.initializedMu.Unlock()

	seq := c.nextRequestSeq()
	req := buildRequest(seq, command, args)

	waiter := &pendingRequest{ch: make(chan dap.Message, 1)}
	c.mu.Lock()
	c.pending[seq] = waiter
	c.launchWaiter = waiter
	c.launchSeq = seq
	c.mu.Unlock()

	if err := c.tr.Send(req); err != nil {
		return err
	}

	select {
	case <-c.initializedCh:
		return nil
	case <-time.After(initializedTimeout):
		return &TimeoutError{Op: "wait for initialized"}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ConfigurationDone issues the ordinary configurationDone request.
func (c *Client) ConfigurationDone(ctx context.Context) error {
	_, err := c.Request(ctx, "configurationDone", nil, defaultRequestTimeout)
	return err
}

// FinishLaunch awaits the deferred launch/attach response retained by
// BeginLaunch/BeginAttach.
func (c *Client) FinishLaunch(ctx context.Context) error {
	c.mu.Lock()
	waiter := c.launchWaiter
	command := "launch"
	seq := c.launchSeq
	c.mu.Unlock()

	if waiter == nil {
		return errors.New("dap client: finish launch: no outstanding launch")
	}

	defer func() {
		c.mu.Lock()
		delete(c.pending, seq)
		c.launchWaiter = nil
		c.mu.Unlock()
	}()

	select {
	case resp, ok := <-waiter.ch:
		if !ok {
			return &transport.ConnectionError{Msg: "client disconnected"}
		}
		_, err := checkSuccess(command, resp)
		return err
	case <-time.After(finishLaunchTimeout):
		return &TimeoutError{Op: "finish launch"}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Disconnect tells the transport to disconnect, which ends the receive loop,
// waits up to one second for that loop to exit, then cancels every
// outstanding waiter.
func (c *Client) Disconnect() error {
	err := c.tr.Disconnect()

	c.recvOnce.Do(func() {
		if c.recvDone != nil {
			select {
			case <-c.recvDone:
			case <-time.After(time.Second):
			}
		}
	})

	c.cancelAllPending()

	return err
}
