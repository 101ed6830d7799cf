package sessionmgr

import (
	"context"
	"testing"
	"time"

	"github.com/google/go-dap"
	"github.com/stretchr/testify/require"

	"github.com/dlv-mcp/bridge/adapter"
	"github.com/dlv-mcp/bridge/internal/testadapter"
	"github.com/dlv-mcp/bridge/session"
)

// newTestManager returns a Manager whose only registered adapter is a fake
// wired to a net.Pipe, plus the adapter-side double so tests can script
// responses to whatever the manager sends during CreateSession (namely the
// initialize request).
func newTestManager(t *testing.T) (*Manager, *testadapter.Fake) {
	t.Helper()

	fake, clientConn := testadapter.NewFake()
	fa := &testadapter.Adapter{NameValue: "fake", Conn: clientConn}
	registry := adapter.NewRegistry(fa)

	m := New(registry, "test-client")

	t.Cleanup(func() {
		fake.Close()
		m.Shutdown()
	})

	return m, fake
}

func respondInitialize(t *testing.T, fake *testadapter.Fake) {
	t.Helper()
	req, err := fake.NextRequest()
	require.NoError(t, err)
	r := req.(dap.RequestMessage).GetRequest()
	require.Equal(t, "initialize", r.Command)
	require.NoError(t, testadapter.RespondSuccess(fake, r.Seq, r.Seq+100, "initialize"))
}

func createTestSession(t *testing.T, m *Manager, fake *testadapter.Fake, id string) string {
	t.Helper()

	done := make(chan struct{})
	go func() {
		defer close(done)
		respondInitialize(t, fake)
	}()

	gotID, err := m.CreateSession(context.Background(), "fake", id)
	require.NoError(t, err)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("adapter double never observed the initialize request")
	}

	return gotID
}

func TestCreateSessionGeneratesIDWhenEmpty(t *testing.T) {
	m, fake := newTestManager(t)
	id := createTestSession(t, m, fake, "")
	require.NotEmpty(t, id)

	s, err := m.GetSession(id)
	require.NoError(t, err)
	require.NotNil(t, s)
}

func TestCreateSessionRejectsDuplicateID(t *testing.T) {
	m, fake := newTestManager(t)
	id := createTestSession(t, m, fake, "dup")

	_, err := m.CreateSession(context.Background(), "fake", id)
	require.Error(t, err)
	var exists *SessionAlreadyExistsError
	require.ErrorAs(t, err, &exists)
}

func TestCreateSessionUnknownAdapter(t *testing.T) {
	m, _ := newTestManager(t)

	_, err := m.CreateSession(context.Background(), "nonexistent", "")
	require.Error(t, err)
	var notFound *AdapterNotFoundError
	require.ErrorAs(t, err, &notFound)
}

func TestGetSessionNotFound(t *testing.T) {
	m, _ := newTestManager(t)

	_, err := m.GetSession("missing")
	require.Error(t, err)
	var notFound *SessionNotFoundError
	require.ErrorAs(t, err, &notFound)
}

func TestCloseSessionRemovesFromRegistry(t *testing.T) {
	m, fake := newTestManager(t)
	id := createTestSession(t, m, fake, "")

	go fake.Close()
	require.NoError(t, m.CloseSession(context.Background(), id, true))

	_, err := m.GetSession(id)
	require.Error(t, err)

	err = m.CloseSession(context.Background(), id, true)
	var notFound *SessionNotFoundError
	require.ErrorAs(t, err, &notFound)
}

func TestClosedSessionIDIsNeverReused(t *testing.T) {
	m, fake := newTestManager(t)
	id := createTestSession(t, m, fake, "once")

	go fake.Close()
	require.NoError(t, m.CloseSession(context.Background(), id, true))

	_, err := m.CreateSession(context.Background(), "fake", id)
	var exists *SessionAlreadyExistsError
	require.ErrorAs(t, err, &exists)
}

func TestListSessionsReturnsSnapshot(t *testing.T) {
	m, fake := newTestManager(t)
	id := createTestSession(t, m, fake, "")

	infos := m.ListSessions(context.Background())
	require.Contains(t, infos, id)
	require.Equal(t, session.StateInitializing, infos[id].State)
	require.Equal(t, "fake", infos[id].AdapterName)
}

func TestAddEventCallbackFansOutAndIsRetroactive(t *testing.T) {
	m, fake := newTestManager(t)
	id := createTestSession(t, m, fake, "")

	received := make(chan session.QueuedEvent, 1)
	m.AddEventCallback(func(sessionID string, evt session.QueuedEvent) {
		if sessionID == id {
			received <- evt
		}
	})

	require.NoError(t, fake.Send(&dap.OutputEvent{
		Event: dap.Event{
			ProtocolMessage: dap.ProtocolMessage{Seq: 500, Type: "event"},
			Event:           "output",
		},
		Body: dap.OutputEventBody{Category: "stdout", Output: "hello\n"},
	}))

	select {
	case evt := <-received:
		require.Equal(t, "output", evt.Event)
	case <-time.After(time.Second):
		t.Fatal("callback was never invoked for an event on an already-live session")
	}
}

func TestSetAndClearBreakpoints(t *testing.T) {
	m, fake := newTestManager(t)
	id := createTestSession(t, m, fake, "")

	go func() {
		req, err := fake.NextRequest()
		if err != nil {
			return
		}
		r := req.(dap.RequestMessage).GetRequest()
		resp := &dap.SetBreakpointsResponse{
			Response: dap.Response{
				ProtocolMessage: dap.ProtocolMessage{Seq: r.Seq + 100, Type: "response"},
				RequestSeq:      r.Seq,
				Success:         true,
				Command:         r.Command,
			},
			Body: dap.SetBreakpointsResponseBody{
				Breakpoints: []dap.Breakpoint{{Id: 1, Verified: true, Line: 10}},
			},
		}
		fake.Send(resp)
	}()

	bps, err := m.SetBreakpoints(context.Background(), id, "main.go", []dap.SourceBreakpoint{{Line: 10}})
	require.NoError(t, err)
	require.Len(t, bps, 1)
	require.True(t, bps[0].Verified)

	// ClearBreakpoints issues its own setBreakpoints call.
	go func() {
		req, err := fake.NextRequest()
		if err != nil {
			return
		}
		r := req.(dap.RequestMessage).GetRequest()
		testadapter.RespondSuccess(fake, r.Seq, r.Seq+100, r.Command)
	}()

	require.NoError(t, m.ClearBreakpoints(context.Background(), id, "main.go"))
}

func TestOperationOnMissingSessionReturnsSessionNotFound(t *testing.T) {
	m, _ := newTestManager(t)

	_, err := m.GetThreads(context.Background(), "missing")
	var notFound *SessionNotFoundError
	require.ErrorAs(t, err, &notFound)
}
