// Package sessionmgr implements the registry of live debug sessions:
// creation/teardown keyed by opaque UUID, and fan-out of manager-wide event
// callbacks.
//
// Each session is registered as its own actor under a UUID-keyed service
// key. Every session operation is dispatched through that actor's mailbox,
// so at most one operation per session proceeds at a time, in issue order,
// even though callers reach the manager concurrently from many goroutines.
package sessionmgr

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/go-dap"
	"github.com/google/uuid"
	"github.com/lightningnetwork/lnd/actor"
	"github.com/lightningnetwork/lnd/fn/v2"

	"github.com/dlv-mcp/bridge/adapter"
	"github.com/dlv-mcp/bridge/dapclient"
	"github.com/dlv-mcp/bridge/session"
)

// SessionNotFoundError is returned when an opaque session ID does not
// resolve to a live session.
type SessionNotFoundError struct {
	ID string
}

func (e *SessionNotFoundError) Error() string {
	return fmt.Sprintf("sessionmgr: session %q not found", e.ID)
}

// SessionAlreadyExistsError is returned when CreateSession is called with a
// caller-supplied ID that is already registered or that belonged to a
// session which has since been closed.
type SessionAlreadyExistsError struct {
	ID string
}

func (e *SessionAlreadyExistsError) Error() string {
	return fmt.Sprintf("sessionmgr: session %q already exists", e.ID)
}

// AdapterNotFoundError is returned when CreateSession names an adapter the
// registry does not recognize.
type AdapterNotFoundError struct {
	Name string
}

func (e *AdapterNotFoundError) Error() string {
	return fmt.Sprintf("sessionmgr: adapter %q not found", e.Name)
}

// EventCallback is invoked for every event any managed session receives.
// Registered callbacks are propagated to sessions created after
// registration, and retroactively to sessions that already existed.
type EventCallback func(sessionID string, event session.QueuedEvent)

// op is dispatched into a session's actor mailbox; exactly one op per
// session executes at a time, in the order it was submitted.
type op func(ctx context.Context, s *session.Session) (interface{}, error)

// opCmd is the message wrapper Ask sends to a session actor.
type opCmd struct {
	actor.BaseMessage
	run op
}

func (c *opCmd) MessageType() string { return "sessionmgr.opCmd" }

// opResp is the message wrapper a session actor replies with.
type opResp struct {
	actor.BaseMessage
	value interface{}
	err   error
}

func (r *opResp) MessageType() string { return "sessionmgr.opResp" }

type entry struct {
	session *session.Session
	ref     actor.ActorRef[*opCmd, *opResp]
}

// Manager owns the registry of live sessions. It guarantees that a session
// ID resolves to the same Session for as long as it exists, and that a
// removed ID is never reused.
type Manager struct {
	system   *actor.ActorSystem
	adapters *adapter.Registry
	clientID string

	mu        sync.Mutex
	sessions  map[string]*entry
	retired   map[string]struct{}
	callbacks []EventCallback
}

// New returns a Manager backed by its own actor system, resolving adapter
// names against adapters. clientID is passed to every session's initialize
// call.
func New(adapters *adapter.Registry, clientID string) *Manager {
	return &Manager{
		system:   actor.NewActorSystem(),
		adapters: adapters,
		clientID: clientID,
		sessions: make(map[string]*entry),
		retired:  make(map[string]struct{}),
	}
}

// Shutdown tears down the manager's actor system. Callers should CloseAll
// first to disconnect live sessions.
func (m *Manager) Shutdown() {
	m.system.Shutdown()
}

// CreateSession resolves adapterName, builds a Transport/Client/Session
// triple, connects and initializes it, and registers it under id (generating
// a UUID if id is empty). Failure at any step closes the transport and
// returns an error; the session is never inserted half-built.
func (m *Manager) CreateSession(ctx context.Context, adapterName, id string) (string, error) {
	ad, ok := m.adapters.Lookup(adapterName)
	if !ok {
		return "", &AdapterNotFoundError{Name: adapterName}
	}

	if id == "" {
		id = uuid.NewString()
	}

	m.mu.Lock()
	_, exists := m.sessions[id]
	if !exists {
		// A removed ID is never handed out again, even if the caller asks
		// for it explicitly.
		_, exists = m.retired[id]
	}
	m.mu.Unlock()
	if exists {
		return "", &SessionAlreadyExistsError{ID: id}
	}

	tr, err := ad.CreateTransport(adapter.LaunchParams{})
	if err != nil {
		return "", fmt.Errorf("create transport: %w", err)
	}

	client := dapclient.New(tr)
	if err := client.Connect(ctx); err != nil {
		return "", fmt.Errorf("connect client: %w", err)
	}

	sess := session.New(client, ad)

	// Fan out every event to the manager's current callback list. Reading
	// m.callbacks at dispatch time (rather than capturing a snapshot here)
	// is what makes AddEventCallback's "retroactive" propagation work
	// without needing to re-hook every live session's client.
	client.AddEventHandler(func(evt *dap.Event, body json.RawMessage) {
		m.mu.Lock()
		callbacks := append([]EventCallback(nil), m.callbacks...)
		m.mu.Unlock()

		qe := session.QueuedEvent{Event: evt.Event, Body: body}
		for _, cb := range callbacks {
			cb(id, qe)
		}
	})

	if _, err := sess.Initialize(ctx, m.clientID); err != nil {
		client.Disconnect()
		return "", fmt.Errorf("initialize: %w", err)
	}

	ref := m.registerActor(id, sess)

	m.mu.Lock()
	m.sessions[id] = &entry{session: sess, ref: ref}
	m.mu.Unlock()

	return id, nil
}

// registerActor registers sess as an actor under its own service key and
// returns its reference.
func (m *Manager) registerActor(id string, sess *session.Session) actor.ActorRef[*opCmd, *opResp] {
	key := actor.NewServiceKey[*opCmd, *opResp]("session-" + id)
	behavior := actor.NewFunctionBehavior[*opCmd, *opResp](
		func(actorCtx context.Context, cmd *opCmd) fn.Result[*opResp] {
			value, err := cmd.run(actorCtx, sess)
			return fn.Ok(&opResp{value: value, err: err})
		},
	)
	actor.RegisterWithSystem(m.system, "session-"+id, key, behavior)
	refs := actor.FindInReceptionist(m.system.Receptionist(), key)
	return refs[0]
}

// ask submits run to id's session actor and unwraps its result.
func (m *Manager) ask(ctx context.Context, id string, run op) (interface{}, error) {
	m.mu.Lock()
	e, ok := m.sessions[id]
	m.mu.Unlock()
	if !ok {
		return nil, &SessionNotFoundError{ID: id}
	}

	future := e.ref.Ask(ctx, &opCmd{run: run})
	resp, err := future.Await(ctx).Unpack()
	if err != nil {
		return nil, err
	}
	return resp.value, resp.err
}

// GetSession returns the Session for id, for snapshot access (GetInfo,
// GetPendingEvents, GetOutput) that is not serialized through the actor.
// State getters and queue drains never suspend. GetInfo also sends a
// best-effort threads request for a RUNNING or STOPPED session; that request
// goes to the client directly, alongside any actor-dispatched operation, and
// is matched to its response by seq.
func (m *Manager) GetSession(id string) (*session.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.sessions[id]
	if !ok {
		return nil, &SessionNotFoundError{ID: id}
	}
	return e.session, nil
}

// CloseSession removes id from the registry and disconnects its session.
func (m *Manager) CloseSession(ctx context.Context, id string, terminate bool) error {
	m.mu.Lock()
	e, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
		m.retired[id] = struct{}{}
	}
	m.mu.Unlock()

	if !ok {
		return &SessionNotFoundError{ID: id}
	}

	return e.session.Disconnect(ctx, terminate)
}

// CloseAll closes every currently registered session, never aborting on a
// single failure; it returns the first error encountered, if any, after
// attempting every session.
func (m *Manager) CloseAll(ctx context.Context) error {
	m.mu.Lock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	var firstErr error
	for _, id := range ids {
		if err := m.CloseSession(ctx, id, true); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			log.Printf("sessionmgr: close %s: %v", id, err)
		}
	}
	return firstErr
}

// ListSessions returns a snapshot of every registered session's info.
func (m *Manager) ListSessions(ctx context.Context) map[string]session.Info {
	m.mu.Lock()
	entries := make(map[string]*entry, len(m.sessions))
	for id, e := range m.sessions {
		entries[id] = e
	}
	m.mu.Unlock()

	out := make(map[string]session.Info, len(entries))
	for id, e := range entries {
		out[id] = e.session.GetInfo(ctx)
	}
	return out
}

// AddEventCallback registers cb for every future session's events. Since
// each session's event handler (installed in CreateSession) reads
// m.callbacks at dispatch time, this also retroactively covers every
// session already live without any further per-session wiring.
func (m *Manager) AddEventCallback(cb EventCallback) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callbacks = append(m.callbacks, cb)
}

// Launch runs the launch handshake on id's session, serialized through its
// actor mailbox. bps, if non-nil, is armed before configurationDone so the
// breakpoints are in place when the debuggee starts.
func (m *Manager) Launch(ctx context.Context, id string, params adapter.LaunchParams, bps map[string][]dap.SourceBreakpoint) error {
	_, err := m.ask(ctx, id, func(ctx context.Context, s *session.Session) (interface{}, error) {
		return nil, s.Launch(ctx, params, bps)
	})
	return err
}

// Attach runs the attach handshake on id's session.
func (m *Manager) Attach(ctx context.Context, id string, params adapter.AttachParams) error {
	_, err := m.ask(ctx, id, func(ctx context.Context, s *session.Session) (interface{}, error) {
		return nil, s.Attach(ctx, params)
	})
	return err
}

// Disconnect is the agent-facing name for CloseSession: it tears down id's
// session and retires its registry slot.
func (m *Manager) Disconnect(ctx context.Context, id string, terminate bool) error {
	return m.CloseSession(ctx, id, terminate)
}

// SetBreakpoints issues setBreakpoints for sourcePath on id's session.
func (m *Manager) SetBreakpoints(ctx context.Context, id, sourcePath string, specs []dap.SourceBreakpoint) ([]session.Breakpoint, error) {
	value, err := m.ask(ctx, id, func(ctx context.Context, s *session.Session) (interface{}, error) {
		return s.SetBreakpoints(ctx, sourcePath, specs)
	})
	if err != nil {
		return nil, err
	}
	return value.([]session.Breakpoint), nil
}

// ClearBreakpoints clears every breakpoint previously set for sourcePath on
// id's session.
func (m *Manager) ClearBreakpoints(ctx context.Context, id, sourcePath string) error {
	_, err := m.ask(ctx, id, func(ctx context.Context, s *session.Session) (interface{}, error) {
		return nil, s.ClearBreakpoints(ctx, sourcePath)
	})
	return err
}

// SetExceptionBreakpoints issues setExceptionBreakpoints with the given
// filter IDs on id's session.
func (m *Manager) SetExceptionBreakpoints(ctx context.Context, id string, filters []string) error {
	_, err := m.ask(ctx, id, func(ctx context.Context, s *session.Session) (interface{}, error) {
		return nil, s.SetExceptionBreakpoints(ctx, filters)
	})
	return err
}

// ContinueExecution resumes id's session.
func (m *Manager) ContinueExecution(ctx context.Context, id string, threadID int, wait bool, timeout time.Duration) (session.StopOutcome, error) {
	value, err := m.ask(ctx, id, func(ctx context.Context, s *session.Session) (interface{}, error) {
		return s.ContinueExecution(ctx, threadID, wait, timeout)
	})
	if err != nil {
		return session.StopOutcome{}, err
	}
	return value.(session.StopOutcome), nil
}

// StepOver issues a "next" step on id's session.
func (m *Manager) StepOver(ctx context.Context, id string, threadID int, wait bool, timeout time.Duration) (session.StopOutcome, error) {
	value, err := m.ask(ctx, id, func(ctx context.Context, s *session.Session) (interface{}, error) {
		return s.StepOver(ctx, threadID, wait, timeout)
	})
	if err != nil {
		return session.StopOutcome{}, err
	}
	return value.(session.StopOutcome), nil
}

// StepInto issues a "stepIn" step on id's session.
func (m *Manager) StepInto(ctx context.Context, id string, threadID int, wait bool, timeout time.Duration) (session.StopOutcome, error) {
	value, err := m.ask(ctx, id, func(ctx context.Context, s *session.Session) (interface{}, error) {
		return s.StepInto(ctx, threadID, wait, timeout)
	})
	if err != nil {
		return session.StopOutcome{}, err
	}
	return value.(session.StopOutcome), nil
}

// StepOut issues a "stepOut" step on id's session.
func (m *Manager) StepOut(ctx context.Context, id string, threadID int, wait bool, timeout time.Duration) (session.StopOutcome, error) {
	value, err := m.ask(ctx, id, func(ctx context.Context, s *session.Session) (interface{}, error) {
		return s.StepOut(ctx, threadID, wait, timeout)
	})
	if err != nil {
		return session.StopOutcome{}, err
	}
	return value.(session.StopOutcome), nil
}

// Pause issues a pause request on id's session. Fire-and-forget: the actual
// suspension is reported asynchronously via a stopped event.
func (m *Manager) Pause(ctx context.Context, id string, threadID int) error {
	_, err := m.ask(ctx, id, func(ctx context.Context, s *session.Session) (interface{}, error) {
		return nil, s.Pause(ctx, threadID)
	})
	return err
}

// GetThreads returns id's session's current thread list.
func (m *Manager) GetThreads(ctx context.Context, id string) ([]dap.Thread, error) {
	value, err := m.ask(ctx, id, func(ctx context.Context, s *session.Session) (interface{}, error) {
		return s.GetThreads(ctx)
	})
	if err != nil {
		return nil, err
	}
	return value.([]dap.Thread), nil
}

// GetStackTrace returns the stack trace for threadID on id's session.
func (m *Manager) GetStackTrace(ctx context.Context, id string, threadID int) ([]dap.StackFrame, int, error) {
	type result struct {
		frames []dap.StackFrame
		total  int
	}
	value, err := m.ask(ctx, id, func(ctx context.Context, s *session.Session) (interface{}, error) {
		frames, total, err := s.GetStackTrace(ctx, threadID)
		if err != nil {
			return nil, err
		}
		return result{frames: frames, total: total}, nil
	})
	if err != nil {
		return nil, 0, err
	}
	r := value.(result)
	return r.frames, r.total, nil
}

// GetScopes returns the scopes for frameID on id's session.
func (m *Manager) GetScopes(ctx context.Context, id string, frameID int) ([]dap.Scope, error) {
	value, err := m.ask(ctx, id, func(ctx context.Context, s *session.Session) (interface{}, error) {
		return s.GetScopes(ctx, frameID)
	})
	if err != nil {
		return nil, err
	}
	return value.([]dap.Scope), nil
}

// GetVariables returns the variables under variablesReference on id's
// session.
func (m *Manager) GetVariables(ctx context.Context, id string, variablesReference int) ([]dap.Variable, error) {
	value, err := m.ask(ctx, id, func(ctx context.Context, s *session.Session) (interface{}, error) {
		return s.GetVariables(ctx, variablesReference)
	})
	if err != nil {
		return nil, err
	}
	return value.([]dap.Variable), nil
}

// Evaluate issues an evaluate request on id's session.
func (m *Manager) Evaluate(ctx context.Context, id, expression string, frameID int, evalContext string) (*dapclient.EvaluateResult, error) {
	value, err := m.ask(ctx, id, func(ctx context.Context, s *session.Session) (interface{}, error) {
		return s.Evaluate(ctx, expression, frameID, evalContext)
	})
	if err != nil {
		return nil, err
	}
	return value.(*dapclient.EvaluateResult), nil
}

// GetPendingEvents atomically drains id's session's event queue. This is a
// read-only snapshot operation, dispatched directly rather than through the
// actor mailbox: a queue drain never suspends and needs no ordering against
// in-flight operations.
func (m *Manager) GetPendingEvents(id string) ([]session.QueuedEvent, error) {
	s, err := m.GetSession(id)
	if err != nil {
		return nil, err
	}
	return s.GetPendingEvents(), nil
}

// GetOutput atomically drains id's session's output queue.
func (m *Manager) GetOutput(id string) ([]session.OutputRecord, error) {
	s, err := m.GetSession(id)
	if err != nil {
		return nil, err
	}
	return s.GetOutput(), nil
}

// GetInfo returns a snapshot of id's session's observable state.
func (m *Manager) GetInfo(ctx context.Context, id string) (session.Info, error) {
	s, err := m.GetSession(id)
	if err != nil {
		return session.Info{}, err
	}
	return s.GetInfo(ctx), nil
}
