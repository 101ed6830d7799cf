// Package dapclient implements the DAP client state machine: sequence
// numbering, request/response correlation, asynchronous event dispatch, and
// the multi-phase launch/attach handshake.
package dapclient

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/go-dap"

	"github.com/dlv-mcp/bridge/transport"
)

// TimeoutError is returned when a request, the initialized wait, or the
// finish-launch wait exceeds its budget. It is per-operation and never tears
// down the client. WaitForStop does not return it: a stop wait that runs out
// of time reports ok=false with a nil error.
type TimeoutError struct {
	Op string
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("dap client: %s timed out", e.Op)
}

// DAPError wraps an adapter response with success=false.
type DAPError struct {
	Command string
	Message string
}

func (e *DAPError) Error() string {
	return fmt.Sprintf("dap client: %s failed: %s", e.Command, e.Message)
}

// EventHandler is invoked for every event the adapter sends. A handler that
// panics is recovered and logged; it must never poison dispatch to the
// other handlers.
type EventHandler func(event *dap.Event, body json.RawMessage)

type pendingRequest struct {
	ch chan dap.Message
}

// Client is a single-logical-threaded actor bound to one transport. All
// mutation of its internal maps happens either from the caller's goroutine
// (under mu) or from the single receive loop goroutine (also under mu); no
// other goroutine touches client state, which is what lets the cooperative
// ordering guarantees in the concurrency model hold even though this
// implementation uses real goroutines rather than single-threaded
// cooperative scheduling.
type Client struct {
	tr transport.Transport

	mu       sync.Mutex
	nextSeq  int
	pending  map[int]*pendingRequest
	handlers []EventHandler

	capabilities *dap.Capabilities

	initializedCh chan struct{}
	initializedMu sync.Mutex

	stoppedCh     chan struct{}
	stoppedClosed bool
	stoppedMu     sync.Mutex
	lastStopped   *dap.StoppedEventBody

	recvDone chan struct{}
	recvOnce sync.Once

	// launchWaiter holds the deferred launch/attach response waiter
	// between begin_launch and finish_launch.
	launchWaiter *pendingRequest
	launchSeq    int
}

// New wraps a connected or not-yet-connected transport in a DAP client.
func New(tr transport.Transport) *Client {
	return &Client{
		tr:            tr,
		pending:       make(map[int]*pendingRequest),
		initializedCh: make(chan struct{}),
		stoppedCh:     make(chan struct{}),
	}
}

// Connect starts the transport and the background receive loop.
func (c *Client) Connect(ctx context.Context) error {
	if err := c.tr.Connect(ctx); err != nil {
		return err
	}

	c.recvDone = make(chan struct{})
	go c.receiveLoop()

	return nil
}

// AddEventHandler registers a callback invoked for every subsequent event.
func (c *Client) AddEventHandler(h EventHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers = append(c.handlers, h)
}

func (c *Client) receiveLoop() {
	defer close(c.recvDone)

	for {
		msg, err := c.tr.Receive()
		if err != nil {
			c.cancelAllPending()
			return
		}

		switch m := msg.(type) {
		case dap.ResponseMessage:
			c.handleResponse(m)
		case dap.EventMessage:
			c.handleEvent(m)
		default:
			// Requests from the adapter (reverse requests) are
			// outside the core's scope; ignored.
		}
	}
}

func (c *Client) handleResponse(resp dap.ResponseMessage) {
	respValue := resp.GetResponse()

	c.mu.Lock()
	waiter, ok := c.pending[respValue.RequestSeq]
	if ok {
		delete(c.pending, respValue.RequestSeq)
	}
	c.mu.Unlock()

	if !ok {
		// No waiter registered; tolerated (the waiter may already
		// have been cancelled by a timeout or disconnect).
		return
	}

	waiter.ch <- resp.(dap.Message)
}

func (c *Client) handleEvent(evt dap.EventMessage) {
	base := evt.GetEvent()

	// Handlers run before the signals below are released, so a caller woken
	// by WaitForStop already sees the state those handlers recorded.
	c.mu.Lock()
	handlers := append([]EventHandler(nil), c.handlers...)
	c.mu.Unlock()

	body := eventBody(evt)
	for _, h := range handlers {
		c.invokeHandlerSafely(h, base, body)
	}

	switch base.Event {
	case "initialized":
		c.initializedMu.Lock()
		select {
		case <-c.initializedCh:
		default:
			close(c.initializedCh)
		}
		c.initializedMu.Unlock()

	case "stopped":
		if se, ok := evt.(*dap.StoppedEvent); ok {
			c.stoppedMu.Lock()
			body := se.Body
			c.lastStopped = &body
			if !c.stoppedClosed {
				c.stoppedClosed = true
				close(c.stoppedCh)
			}
			c.stoppedMu.Unlock()
		}

	case "terminated":
		// Release any in-flight WaitForStop so it returns rather than
		// hanging once the program is gone; lastStopped is left as-is
		// since there is no corresponding Stopped record.
		c.stoppedMu.Lock()
		if !c.stoppedClosed {
			c.stoppedClosed = true
			close(c.stoppedCh)
		}
		c.stoppedMu.Unlock()
	}
}

// eventBody extracts the "body" sub-object from the concrete event message's
// wire JSON. dap.Event itself carries no Body field; each concrete event
// type (StoppedEvent, OutputEvent, ...) embeds its own typed Body alongside
// it, so round-tripping through JSON is the simplest way to hand handlers an
// untyped view of it.
func eventBody(evt dap.EventMessage) json.RawMessage {
	raw, err := json.Marshal(evt)
	if err != nil {
		return nil
	}
	var envelope struct {
		Body json.RawMessage `json:"body"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil
	}
	return envelope.Body
}

func (c *Client) invokeHandlerSafely(h EventHandler, base *dap.Event, body json.RawMessage) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("dapclient: event handler panicked: %v", r)
		}
	}()

	h(base, body)
}

func (c *Client) cancelAllPending() {
	c.mu.Lock()
	pending := c.pending
	c.pending = make(map[int]*pendingRequest)
	launchWaiter := c.launchWaiter
	launchSeq := c.launchSeq
	c.launchWaiter = nil
	c.mu.Unlock()

	for _, w := range pending {
		close(w.ch)
	}
	// A launch waiter whose response has not arrived is still in pending and
	// was closed above.
	if launchWaiter != nil && pending[launchSeq] != launchWaiter {
		close(launchWaiter.ch)
	}

	c.stoppedMu.Lock()
	if !c.stoppedClosed {
		c.stoppedClosed = true
		close(c.stoppedCh)
	}
	c.stoppedMu.Unlock()
}

// ClearStopSignal resets the edge-triggered stop signal. Callers that are
// about to issue a DAP request and then wait for the next stop must call
// this before sending the request, so that a stop which arrives during the
// request is not lost (clear-before-issue discipline, per the concurrency
// model).
func (c *Client) ClearStopSignal() {
	c.stoppedMu.Lock()
	defer c.stoppedMu.Unlock()
	c.stoppedCh = make(chan struct{})
	c.stoppedClosed = false
	// Drop the previous stop's body too: if the signal is later released by
	// a terminated event rather than a fresh stop, the waiter must not see
	// the stale record.
	c.lastStopped = nil
}

// WaitForStop blocks until the stop signal is released or until timeout
// elapses. A stopped event, a terminated event, or a disconnect releases the
// signal; WaitForStop does not clear it, so callers clear it with
// ClearStopSignal before issuing the request they then wait on. When released
// it returns a copy of the last stopped event's body (nil if there has been
// none since the last ClearStopSignal) and ok=true; on timeout it returns
// (nil, false, nil).
func (c *Client) WaitForStop(ctx context.Context, timeout time.Duration) (*dap.StoppedEventBody, bool, error) {
	c.stoppedMu.Lock()
	ch := c.stoppedCh
	c.stoppedMu.Unlock()

	select {
	case <-ch:
		c.stoppedMu.Lock()
		var body *dap.StoppedEventBody
		if c.lastStopped != nil {
			cp := *c.lastStopped
			body = &cp
		}
		c.stoppedMu.Unlock()
		return body, true, nil
	case <-time.After(timeout):
		return nil, false, nil
	case <-ctx.Done():
		return nil, false, ctx.Err()
	}
}

// nextRequestSeq returns the next strictly increasing sequence number. The
// Nth request issued by this client gets seq N.
func (c *Client) nextRequestSeq() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextSeq++
	return c.nextSeq
}

// Request issues command with args, waits up to timeout for the matching
// response, and returns it. A success=false response is promoted to a
// DAPError. The waiter is always deregistered, whether by response,
// timeout, or disconnect.
func (c *Client) Request(ctx context.Context, command string, args interface{}, timeout time.Duration) (dap.Message, error) {
	seq := c.nextRequestSeq()

	req := buildRequest(seq, command, args)

	waiter := &pendingRequest{ch: make(chan dap.Message, 1)}
	c.mu.Lock()
	c.pending[seq] = waiter
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, seq)
		c.mu.Unlock()
	}()

	if err := c.tr.Send(req); err != nil {
		return nil, err
	}

	select {
	case resp, ok := <-waiter.ch:
		if !ok {
			return nil, &transport.ConnectionError{Msg: "client disconnected"}
		}
		return checkSuccess(command, resp)
	case <-time.After(timeout):
		return nil, &TimeoutError{Op: command}
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func checkSuccess(command string, msg dap.Message) (dap.Message, error) {
	resp, ok := msg.(dap.ResponseMessage)
	if !ok {
		return msg, nil
	}
	r := resp.GetResponse()
	if !r.Success {
		return nil, &DAPError{Command: command, Message: r.Message}
	}
	return msg, nil
}

// buildRequest constructs a concrete *dap.XRequest for well-known commands
// so that go-dap's own JSON tags are honored, falling back to a generic
// Request wrapping raw arguments for anything else.
func buildRequest(seq int, command string, args interface{}) dap.Message {
	base := dap.Request{
		ProtocolMessage: dap.ProtocolMessage{Seq: seq, Type: "request"},
		Command:         command,
	}

	switch a := args.(type) {
	case dap.InitializeRequestArguments:
		return &dap.InitializeRequest{Request: base, Arguments: a}
	case dap.SetBreakpointsArguments:
		return &dap.SetBreakpointsRequest{Request: base, Arguments: a}
	case dap.SetFunctionBreakpointsArguments:
		return &dap.SetFunctionBreakpointsRequest{Request: base, Arguments: a}
	case dap.SetExceptionBreakpointsArguments:
		return &dap.SetExceptionBreakpointsRequest{Request: base, Arguments: a}
	case dap.ContinueArguments:
		return &dap.ContinueRequest{Request: base, Arguments: a}
	case dap.NextArguments:
		return &dap.NextRequest{Request: base, Arguments: a}
	case dap.StepInArguments:
		return &dap.StepInRequest{Request: base, Arguments: a}
	case dap.StepOutArguments:
		return &dap.StepOutRequest{Request: base, Arguments: a}
	case dap.PauseArguments:
		return &dap.PauseRequest{Request: base, Arguments: a}
	case dap.StackTraceArguments:
		return &dap.StackTraceRequest{Request: base, Arguments: a}
	case dap.ScopesArguments:
		return &dap.ScopesRequest{Request: base, Arguments: a}
	case dap.VariablesArguments:
		return &dap.VariablesRequest{Request: base, Arguments: a}
	case dap.EvaluateArguments:
		return &dap.EvaluateRequest{Request: base, Arguments: a}
	case dap.DisconnectArguments:
		return &dap.DisconnectRequest{Request: base, Arguments: &a}
	case json.RawMessage:
		if command == "attach" {
			return &dap.AttachRequest{Request: base, Arguments: a}
		}
		return &dap.LaunchRequest{Request: base, Arguments: a}
	case nil:
		switch command {
		case "threads":
			return &dap.ThreadsRequest{Request: base}
		case "configurationDone":
			return &dap.ConfigurationDoneRequest{Request: base}
		}
	}

	return &base
}
