package session

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/go-dap"

	"github.com/dlv-mcp/bridge/adapter"
	"github.com/dlv-mcp/bridge/dapclient"
)

const defaultWaitForStop = 300 * time.Second

// Session wraps one dapclient.Client with debug-session semantics: a state
// machine, breakpoint bookkeeping, and pending event/output queues. It
// registers itself as an event handler on the client at construction.
type Session struct {
	client *dapclient.Client
	ad     adapter.Adapter

	mu              sync.Mutex
	state           State
	program         string
	breakpoints     map[string][]Breakpoint
	stoppedThreadID int
	stopReason      string

	events eventQueue
	output outputQueue
}

// New wraps client with session semantics, using ad to build launch/attach
// arguments. The caller owns connecting the client before calling Launch or
// Attach.
func New(client *dapclient.Client, ad adapter.Adapter) *Session {
	s := &Session{
		client:      client,
		ad:          ad,
		state:       StateInitializing,
		breakpoints: make(map[string][]Breakpoint),
	}
	client.AddEventHandler(s.handleEvent)
	return s
}

// Initialize issues the DAP initialize request. State remains INITIALIZING.
func (s *Session) Initialize(ctx context.Context, clientID string) (*dap.Capabilities, error) {
	return s.client.Initialize(ctx, clientID, s.ad.AdapterID())
}

// Launch runs the full launch handshake (begin → breakpoint configuration →
// configurationDone → finish) and transitions to RUNNING on success. bps, if
// non-nil, maps source paths to breakpoints armed after the initialized event
// and before configurationDone, so they are in place before the debuggee
// begins execution. Failure leaves the session at INITIALIZING and surfaces
// the original error.
func (s *Session) Launch(ctx context.Context, params adapter.LaunchParams, bps map[string][]dap.SourceBreakpoint) error {
	args, err := s.ad.GetLaunchArguments(params)
	if err != nil {
		return fmt.Errorf("build launch arguments: %w", err)
	}

	if err := s.runHandshake(ctx, func(ctx context.Context, raw json.RawMessage) error {
		return s.client.BeginLaunch(ctx, raw)
	}, args, bps); err != nil {
		return err
	}

	s.mu.Lock()
	s.program = params.Program
	s.state = StateRunning
	s.mu.Unlock()

	return nil
}

// Attach is the attach counterpart of Launch.
func (s *Session) Attach(ctx context.Context, params adapter.AttachParams) error {
	args, err := s.ad.GetAttachArguments(params)
	if err != nil {
		return fmt.Errorf("build attach arguments: %w", err)
	}

	if err := s.runHandshake(ctx, func(ctx context.Context, raw json.RawMessage) error {
		return s.client.BeginAttach(ctx, raw)
	}, args, nil); err != nil {
		return err
	}

	s.mu.Lock()
	s.state = StateRunning
	s.mu.Unlock()

	return nil
}

func (s *Session) runHandshake(ctx context.Context, begin func(context.Context, json.RawMessage) error, args json.RawMessage, bps map[string][]dap.SourceBreakpoint) error {
	if err := begin(ctx, args); err != nil {
		return err
	}
	for path, specs := range bps {
		if _, err := s.SetBreakpoints(ctx, path, specs); err != nil {
			return fmt.Errorf("set breakpoints for %s: %w", path, err)
		}
	}
	if err := s.client.ConfigurationDone(ctx); err != nil {
		return err
	}
	return s.client.FinishLaunch(ctx)
}

// Disconnect transitions to TERMINATED, sends a DAP disconnect, then closes
// the client. Idempotent: disconnecting a terminated session is a no-op.
func (s *Session) Disconnect(ctx context.Context, terminate bool) error {
	s.mu.Lock()
	if s.state == StateTerminated {
		s.mu.Unlock()
		return nil
	}
	s.state = StateTerminated
	s.mu.Unlock()

	_ = s.client.DAPDisconnect(ctx, terminate)
	return s.client.Disconnect()
}

// SetBreakpoints issues setBreakpoints for sourcePath and replaces the
// session's breakpoint list for that path with the adapter's verified
// reply. Replacement, not merge.
func (s *Session) SetBreakpoints(ctx context.Context, sourcePath string, specs []dap.SourceBreakpoint) ([]Breakpoint, error) {
	verified, err := s.client.SetBreakpoints(ctx, sourcePath, specs)
	if err != nil {
		return nil, err
	}

	bps := toBreakpoints(verified)

	s.mu.Lock()
	s.breakpoints[sourcePath] = bps
	s.mu.Unlock()

	return bps, nil
}

// SetExceptionBreakpoints issues setExceptionBreakpoints with the given
// filter IDs (e.g. "raised", "uncaught").
func (s *Session) SetExceptionBreakpoints(ctx context.Context, filters []string) error {
	return s.client.SetExceptionBreakpoints(ctx, filters)
}

// ClearBreakpoints issues setBreakpoints with an empty list and removes the
// sourcePath key from the session's breakpoint map.
func (s *Session) ClearBreakpoints(ctx context.Context, sourcePath string) error {
	if _, err := s.client.SetBreakpoints(ctx, sourcePath, nil); err != nil {
		return err
	}

	s.mu.Lock()
	delete(s.breakpoints, sourcePath)
	s.mu.Unlock()

	return nil
}

// knownStopReasons is the closed enum of stop reasons the session
// recognizes; any other adapter-supplied value (including empty) maps to
// "breakpoint" per the data model's default fallback.
var knownStopReasons = map[string]bool{
	"breakpoint":          true,
	"step":                true,
	"exception":           true,
	"pause":               true,
	"entry":               true,
	"goto":                true,
	"function_breakpoint": true,
	"data_breakpoint":     true,
}

func normalizeStopReason(reason string) string {
	if knownStopReasons[reason] {
		return reason
	}
	return "breakpoint"
}

func toBreakpoints(in []dap.Breakpoint) []Breakpoint {
	out := make([]Breakpoint, len(in))
	for i, b := range in {
		out[i] = Breakpoint{
			ID:       b.Id,
			Verified: b.Verified,
			Line:     b.Line,
			Column:   b.Column,
			Message:  b.Message,
		}
	}
	return out
}

// currentThread returns the last-stopped thread ID, falling back to 1 if
// none has been observed yet — this preserves correctness against adapters
// that misbehave on an unspecified thread.
func (s *Session) currentThread(threadID int) int {
	if threadID != 0 {
		return threadID
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stoppedThreadID != 0 {
		return s.stoppedThreadID
	}
	return 1
}

func (s *Session) waitStop(ctx context.Context, wait bool, timeout time.Duration) (StopOutcome, error) {
	if !wait {
		return StopOutcome{}, nil
	}
	if timeout == 0 {
		timeout = defaultWaitForStop
	}

	body, ok, err := s.client.WaitForStop(ctx, timeout)
	if err != nil {
		return StopOutcome{}, err
	}
	if !ok {
		return StopOutcome{TimedOut: true}, nil
	}
	if body == nil {
		// The signal was released by a terminated event or disconnect
		// rather than an actual Stopped record.
		return StopOutcome{Stopped: &StoppedRecord{Reason: "terminated"}}, nil
	}
	return StopOutcome{Stopped: &StoppedRecord{ThreadID: body.ThreadId, Reason: body.Reason}}, nil
}

// ContinueExecution clears the stop signal, transitions to RUNNING, and
// issues continue. If wait, it awaits the next stop (default 300s),
// returning a StopOutcome with TimedOut set on timeout rather than an error,
// since timing out while waiting for a stop is an expected, retryable
// outcome.
func (s *Session) ContinueExecution(ctx context.Context, threadID int, wait bool, timeout time.Duration) (StopOutcome, error) {
	tid := s.currentThread(threadID)

	s.client.ClearStopSignal()

	s.mu.Lock()
	s.state = StateRunning
	s.mu.Unlock()

	if _, err := s.client.Continue(ctx, tid); err != nil {
		return StopOutcome{}, err
	}

	return s.waitStop(ctx, wait, timeout)
}

// StepOver issues "next", clear-before-issue, then optionally awaits a stop.
func (s *Session) StepOver(ctx context.Context, threadID int, wait bool, timeout time.Duration) (StopOutcome, error) {
	return s.step(ctx, threadID, wait, timeout, s.client.Next)
}

// StepInto issues "stepIn".
func (s *Session) StepInto(ctx context.Context, threadID int, wait bool, timeout time.Duration) (StopOutcome, error) {
	return s.step(ctx, threadID, wait, timeout, s.client.StepIn)
}

// StepOut issues "stepOut".
func (s *Session) StepOut(ctx context.Context, threadID int, wait bool, timeout time.Duration) (StopOutcome, error) {
	return s.step(ctx, threadID, wait, timeout, s.client.StepOut)
}

func (s *Session) step(ctx context.Context, threadID int, wait bool, timeout time.Duration, issue func(context.Context, int) error) (StopOutcome, error) {
	tid := s.currentThread(threadID)

	s.client.ClearStopSignal()

	if err := issue(ctx, tid); err != nil {
		return StopOutcome{}, err
	}

	return s.waitStop(ctx, wait, timeout)
}

// Pause is fire-and-forget; "stopped" arrives asynchronously via the event
// handler.
func (s *Session) Pause(ctx context.Context, threadID int) error {
	tid := threadID
	if tid == 0 {
		tid = 1
	}
	return s.client.Pause(ctx, tid)
}

func (s *Session) GetThreads(ctx context.Context) ([]dap.Thread, error) {
	return s.client.Threads(ctx)
}

func (s *Session) GetStackTrace(ctx context.Context, threadID int) ([]dap.StackFrame, int, error) {
	return s.client.StackTrace(ctx, s.currentThread(threadID))
}

func (s *Session) GetScopes(ctx context.Context, frameID int) ([]dap.Scope, error) {
	return s.client.Scopes(ctx, frameID)
}

func (s *Session) GetVariables(ctx context.Context, variablesReference int) ([]dap.Variable, error) {
	return s.client.Variables(ctx, variablesReference)
}

// Evaluate defaults evalContext to "repl" when the caller leaves it empty.
func (s *Session) Evaluate(ctx context.Context, expression string, frameID int, evalContext string) (*dapclient.EvaluateResult, error) {
	if evalContext == "" {
		evalContext = "repl"
	}
	return s.client.Evaluate(ctx, expression, frameID, evalContext)
}

// GetPendingEvents atomically drains and returns the event queue.
func (s *Session) GetPendingEvents() []QueuedEvent {
	return s.events.drain()
}

// GetOutput atomically drains and returns the output queue.
func (s *Session) GetOutput() []OutputRecord {
	return s.output.drain()
}

// GetInfo returns a snapshot of state, adapter name, program, threads,
// stopped_thread_id, and stop_reason. The threads query is best-effort and
// only issued once the debuggee has started: if it fails (e.g. the adapter
// has already terminated), Threads is left nil rather than failing the
// whole snapshot.
func (s *Session) GetInfo(ctx context.Context) Info {
	s.mu.Lock()
	info := Info{
		State:           s.state,
		AdapterName:     s.ad.Name(),
		Program:         s.program,
		StoppedThreadID: s.stoppedThreadID,
		StopReason:      s.stopReason,
	}
	s.mu.Unlock()

	if info.State == StateRunning || info.State == StateStopped {
		if threads, err := s.client.Threads(ctx); err == nil {
			info.Threads = threads
		}
	}

	return info
}

// State returns the session's current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// handleEvent is registered on the client at construction; it implements
// the event dispatch table from the session state machine.
func (s *Session) handleEvent(event *dap.Event, body json.RawMessage) {
	s.events.push(QueuedEvent{Event: event.Event, Body: body})

	switch event.Event {
	case "stopped":
		var b dap.StoppedEventBody
		_ = json.Unmarshal(body, &b)

		reason := normalizeStopReason(b.Reason)

		s.mu.Lock()
		s.state = StateStopped
		s.stoppedThreadID = b.ThreadId
		s.stopReason = reason
		s.mu.Unlock()

	case "continued":
		s.mu.Lock()
		s.state = StateRunning
		s.stoppedThreadID = 0
		s.stopReason = ""
		s.mu.Unlock()

	case "terminated":
		s.mu.Lock()
		s.state = StateTerminated
		s.mu.Unlock()

	case "output":
		var b dap.OutputEventBody
		_ = json.Unmarshal(body, &b)
		s.output.push(OutputRecord{Category: b.Category, Output: b.Output})

	case "thread":
		// Observed only; threads are re-queried on demand via GetThreads.
	}
}
