package session

import (
	"context"
	"testing"
	"time"

	"github.com/google/go-dap"
	"github.com/stretchr/testify/require"

	"github.com/dlv-mcp/bridge/adapter"
	"github.com/dlv-mcp/bridge/dapclient"
	"github.com/dlv-mcp/bridge/internal/testadapter"
	"github.com/dlv-mcp/bridge/transport"
)

func newTestSession(t *testing.T) (*Session, *testadapter.Fake) {
	t.Helper()

	fake, clientConn := testadapter.NewFake()
	tr := transport.NewSocketTransportFromConn(clientConn)
	client := dapclient.New(tr)
	require.NoError(t, client.Connect(context.Background()))

	ad := &testadapter.Adapter{NameValue: "fake", Conn: clientConn}
	s := New(client, ad)

	t.Cleanup(func() { fake.Close() })

	return s, fake
}

func respond(t *testing.T, fake *testadapter.Fake, command string) {
	t.Helper()
	req, err := fake.NextRequest()
	require.NoError(t, err)
	r := req.(dap.RequestMessage).GetRequest()
	require.Equal(t, command, r.Command)
	require.NoError(t, testadapter.RespondSuccess(fake, r.Seq, r.Seq+1000, r.Command))
}

func launchSession(t *testing.T, s *Session, fake *testadapter.Fake) {
	t.Helper()

	done := make(chan error, 1)
	go func() {
		done <- s.Launch(context.Background(), adapter.LaunchParams{Program: "testprog"}, nil)
	}()

	// The launch response is held back until configurationDone.
	launchReq, err := fake.NextRequest()
	require.NoError(t, err)
	launchR := launchReq.(dap.RequestMessage).GetRequest()
	require.Equal(t, "launch", launchR.Command)
	require.NoError(t, fake.Send(&dap.InitializedEvent{
		Event: dap.Event{
			ProtocolMessage: dap.ProtocolMessage{Seq: 900, Type: "event"},
			Event:           "initialized",
		},
	}))
	respond(t, fake, "configurationDone")
	require.NoError(t, testadapter.RespondSuccess(fake, launchR.Seq, 902, "launch"))

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("launch did not complete")
	}
}

func TestLaunchHandshakeTransitionsToRunning(t *testing.T) {
	s, fake := newTestSession(t)

	require.Equal(t, StateInitializing, s.State())

	launchSession(t, s, fake)

	require.Equal(t, StateRunning, s.State())
}

func TestLaunchWithBreakpointsArmsThemBeforeConfigurationDone(t *testing.T) {
	s, fake := newTestSession(t)

	done := make(chan error, 1)
	go func() {
		done <- s.Launch(context.Background(),
			adapter.LaunchParams{Program: "testprog"},
			map[string][]dap.SourceBreakpoint{"main.go": {{Line: 10}}})
	}()

	launchReq, err := fake.NextRequest()
	require.NoError(t, err)
	launchR := launchReq.(dap.RequestMessage).GetRequest()
	require.Equal(t, "launch", launchR.Command)

	require.NoError(t, fake.Send(&dap.InitializedEvent{
		Event: dap.Event{
			ProtocolMessage: dap.ProtocolMessage{Seq: 900, Type: "event"},
			Event:           "initialized",
		},
	}))

	// setBreakpoints must arrive before configurationDone, while the launch
	// response is still outstanding.
	bpReq, err := fake.NextRequest()
	require.NoError(t, err)
	bpR := bpReq.(dap.RequestMessage).GetRequest()
	require.Equal(t, "setBreakpoints", bpR.Command)
	require.NoError(t, fake.Send(&dap.SetBreakpointsResponse{
		Response: dap.Response{
			ProtocolMessage: dap.ProtocolMessage{Seq: 901, Type: "response"},
			RequestSeq:      bpR.Seq,
			Success:         true,
			Command:         bpR.Command,
		},
		Body: dap.SetBreakpointsResponseBody{
			Breakpoints: []dap.Breakpoint{{Id: 1, Verified: true, Line: 10}},
		},
	}))

	respond(t, fake, "configurationDone")
	require.NoError(t, testadapter.RespondSuccess(fake, launchR.Seq, 902, "launch"))

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("launch did not complete")
	}
	require.Equal(t, StateRunning, s.State())

	s.mu.Lock()
	stored := s.breakpoints["main.go"]
	s.mu.Unlock()
	require.Len(t, stored, 1)
	require.True(t, stored[0].Verified)
	require.Equal(t, 10, stored[0].Line)

	require.NoError(t, fake.Send(&dap.StoppedEvent{
		Event: dap.Event{
			ProtocolMessage: dap.ProtocolMessage{Seq: 903, Type: "event"},
			Event:           "stopped",
		},
		Body: dap.StoppedEventBody{Reason: "breakpoint", ThreadId: 1},
	}))

	require.Eventually(t, func() bool {
		return s.State() == StateStopped
	}, time.Second, 5*time.Millisecond)

	s.mu.Lock()
	defer s.mu.Unlock()
	require.Equal(t, "breakpoint", s.stopReason)
	require.Equal(t, 1, s.stoppedThreadID)
}

func TestStepOverReturnsStopRecordWhenStoppedArrivesFirst(t *testing.T) {
	s, fake := newTestSession(t)

	s.mu.Lock()
	s.state = StateStopped
	s.stoppedThreadID = 1
	s.mu.Unlock()

	go func() {
		req, err := fake.NextRequest()
		if err != nil {
			return
		}
		r := req.(dap.RequestMessage).GetRequest()

		// Deliver the stop before the step response.
		fake.Send(&dap.StoppedEvent{
			Event: dap.Event{
				ProtocolMessage: dap.ProtocolMessage{Seq: 500, Type: "event"},
				Event:           "stopped",
			},
			Body: dap.StoppedEventBody{Reason: "step", ThreadId: 1},
		})
		testadapter.RespondSuccess(fake, r.Seq, r.Seq+100, r.Command)
	}()

	outcome, err := s.StepOver(context.Background(), 0, true, time.Second)
	require.NoError(t, err)
	require.False(t, outcome.TimedOut)
	require.NotNil(t, outcome.Stopped)
	require.Equal(t, "step", outcome.Stopped.Reason)
	require.Equal(t, 1, outcome.Stopped.ThreadID)

	require.Eventually(t, func() bool {
		return s.State() == StateStopped
	}, time.Second, 5*time.Millisecond)
}

func TestTerminatedReleasesContinueWait(t *testing.T) {
	s, fake := newTestSession(t)

	go func() {
		req, err := fake.NextRequest()
		if err != nil {
			return
		}
		r := req.(dap.RequestMessage).GetRequest()
		testadapter.RespondSuccess(fake, r.Seq, r.Seq+100, r.Command)

		fake.Send(&dap.TerminatedEvent{
			Event: dap.Event{
				ProtocolMessage: dap.ProtocolMessage{Seq: 501, Type: "event"},
				Event:           "terminated",
			},
		})
	}()

	outcome, err := s.ContinueExecution(context.Background(), 1, true, 5*time.Second)
	require.NoError(t, err)
	require.NotNil(t, outcome.Stopped)
	require.Equal(t, "terminated", outcome.Stopped.Reason)
	require.Equal(t, StateTerminated, s.State())
}

func TestBreakpointReplacementNotMerge(t *testing.T) {
	s, fake := newTestSession(t)

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
				Breakpoints: []dap.Breakpoint{
					{Id: 1, Verified: true, Line: 1},
					{Id: 2, Verified: true, Line: 2},
				},
			},
		}
		fake.Send(resp)
	}()

	bps, err := s.SetBreakpoints(context.Background(), "main.go", []dap.SourceBreakpoint{{Line: 1}, {Line: 2}})
	require.NoError(t, err)
	require.Len(t, bps, 2)

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
				Breakpoints: []dap.Breakpoint{{Id: 3, Verified: true, Line: 3}},
			},
		}
		fake.Send(resp)
	}()

	bps2, err := s.SetBreakpoints(context.Background(), "main.go", []dap.SourceBreakpoint{{Line: 3}})
	require.NoError(t, err)
	require.Len(t, bps2, 1)
	require.Equal(t, 3, bps2[0].ID)

	s.mu.Lock()
	stored := s.breakpoints["main.go"]
	s.mu.Unlock()
	require.Len(t, stored, 1)
	require.Equal(t, 3, stored[0].ID)
}

func TestAdapterInitiatedContinueClearsStoppedFields(t *testing.T) {
	s, fake := newTestSession(t)

	s.mu.Lock()
	s.state = StateStopped
	s.stoppedThreadID = 1
	s.stopReason = "breakpoint"
	s.mu.Unlock()

	require.NoError(t, fake.Send(&dap.ContinuedEvent{
		Event: dap.Event{
			ProtocolMessage: dap.ProtocolMessage{Seq: 500, Type: "event"},
			Event:           "continued",
		},
		Body: dap.ContinuedEventBody{ThreadId: 1, AllThreadsContinued: true},
	}))

	require.Eventually(t, func() bool {
		return s.State() == StateRunning
	}, time.Second, 5*time.Millisecond)

	s.mu.Lock()
	defer s.mu.Unlock()
	require.Equal(t, 0, s.stoppedThreadID)
	require.Equal(t, "", s.stopReason)
}

func TestDisconnectIsIdempotent(t *testing.T) {
	s, fake := newTestSession(t)

	go func() {
		req, err := fake.NextRequest()
		if err != nil {
			return
		}
		r := req.(dap.RequestMessage).GetRequest()
		testadapter.RespondSuccess(fake, r.Seq, r.Seq+100, r.Command)
	}()

	require.NoError(t, s.Disconnect(context.Background(), true))
	require.Equal(t, StateTerminated, s.State())

	require.NoError(t, s.Disconnect(context.Background(), true))
}

func TestUnknownStopReasonDefaultsToBreakpoint(t *testing.T) {
	require.Equal(t, "breakpoint", normalizeStopReason("some-weird-reason"))
	require.Equal(t, "step", normalizeStopReason("step"))
}

func TestCurrentThreadFallsBackToOne(t *testing.T) {
	s, fake := newTestSession(t)
	_ = fake

	require.Equal(t, 1, s.currentThread(0))
	require.Equal(t, 7, s.currentThread(7))

	s.mu.Lock()
	s.stoppedThreadID = 3
	s.mu.Unlock()
	require.Equal(t, 3, s.currentThread(0))
}
