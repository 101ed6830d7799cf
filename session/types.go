// Package session wraps a dapclient.Client with debug-session semantics: a
// state machine, breakpoint bookkeeping, and pending event/output queues.
package session

import (
	"encoding/json"
	"sync"

	"github.com/google/go-dap"
)

// State is the session's observable lifecycle state.
type State int

const (
	StateInitializing State = iota
	StateRunning
	StateStopped
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateInitializing:
		return "INITIALIZING"
	case StateRunning:
		return "RUNNING"
	case StateStopped:
		return "STOPPED"
	case StateTerminated:
		return "TERMINATED"
	default:
		return "UNKNOWN"
	}
}

// Breakpoint is the adapter-verified result of a setBreakpoints call.
type Breakpoint struct {
	ID       int
	Verified bool
	Line     int
	Column   int
	Message  string
}

// StackFrame mirrors the DAP stackTrace response's per-frame shape.
type StackFrame struct {
	ID     int
	Name   string
	Source string
	Line   int
	Column int
}

// Scope mirrors one entry of a DAP scopes response.
type Scope struct {
	Name               string
	VariablesReference int
	Expensive          bool
}

// Variable mirrors one entry of a DAP variables response.
type Variable struct {
	Name               string
	Value              string
	Type               string
	VariablesReference int
	IndexedVariables   int
	NamedVariables     int
}

// OutputRecord is one DAP output event, queued for later draining.
type OutputRecord struct {
	Category string
	Output   string
}

// StopOutcome is the result of an operation that waits for the next stop:
// either the Stopped record that satisfied the wait, or an explicit timeout
// sentinel — distinct from an error, since timing out while waiting for a
// stop is an expected, retryable outcome rather than a failure.
type StopOutcome struct {
	Stopped  *StoppedRecord
	TimedOut bool
}

// StoppedRecord describes the thread and reason behind a stopped event.
type StoppedRecord struct {
	ThreadID int
	Reason   string
}

// Info is a point-in-time snapshot of a session's observable state.
type Info struct {
	State           State
	AdapterName     string
	Program         string
	Threads         []dap.Thread
	StoppedThreadID int
	StopReason      string
}

// QueuedEvent is an untyped view of one DAP event, as handed to
// GetPendingEvents callers.
type QueuedEvent struct {
	Event string
	Body  json.RawMessage
}

// eventQueue is a bounded-by-memory FIFO of pending DAP events, drained
// atomically via GetPendingEvents.
type eventQueue struct {
	mu     sync.Mutex
	events []QueuedEvent
}

func (q *eventQueue) push(e QueuedEvent) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.events = append(q.events, e)
}

func (q *eventQueue) drain() []QueuedEvent {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.events
	q.events = nil
	return out
}

type outputQueue struct {
	mu      sync.Mutex
	records []OutputRecord
}

func (q *outputQueue) push(r OutputRecord) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.records = append(q.records, r)
}

func (q *outputQueue) drain() []OutputRecord {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.records
	q.records = nil
	return out
}
