package dapclient

import (
	"context"
	"testing"
	"time"

	"github.com/google/go-dap"
	"github.com/stretchr/testify/require"

	"github.com/dlv-mcp/bridge/internal/testadapter"
	"github.com/dlv-mcp/bridge/transport"
)

func newTestClient(t *testing.T) (*Client, *testadapter.Fake) {
	t.Helper()

	fake, clientConn := testadapter.NewFake()
	tr := transport.NewSocketTransportFromConn(clientConn)
	c := New(tr)

	require.NoError(t, c.Connect(context.Background()))

	t.Cleanup(func() {
		fake.Close()
	})

	return c, fake
}

func TestSequenceMonotonicity(t *testing.T) {
	c, fake := newTestClient(t)

	go func() {
		for i := 0; i < 3; i++ {
			req, err := fake.NextRequest()
			if err != nil {
				return
			}
			r := req.(dap.RequestMessage).GetRequest()
			testadapter.RespondSuccess(fake, r.Seq, r.Seq+100, r.Command)
		}
	}()

	for i := 1; i <= 3; i++ {
		resp, err := c.Request(context.Background(), "threads", nil, time.Second)
		require.NoError(t, err)
		rr := resp.(dap.ResponseMessage).GetResponse()
		require.Equal(t, i, rr.RequestSeq)
	}
}

func TestRequestResponseCorrelationUnderPermutation(t *testing.T) {
	c, fake := newTestClient(t)

	// Collect all three requests first, then respond out of order.
	reqs := make(chan dap.RequestMessage, 3)
	go func() {
		for i := 0; i < 3; i++ {
			req, err := fake.NextRequest()
			if err != nil {
				return
			}
			reqs <- req.(dap.RequestMessage)
		}

		got := []dap.RequestMessage{<-reqs, <-reqs, <-reqs}
		// Respond in reverse order of arrival.
		for i := len(got) - 1; i >= 0; i-- {
			r := got[i].GetRequest()
			testadapter.RespondSuccess(fake, r.Seq, r.Seq+100, r.Command)
		}
	}()

	results := make(chan int, 3)
	for i := 0; i < 3; i++ {
		go func() {
			resp, err := c.Request(context.Background(), "threads", nil, 2*time.Second)
			require.NoError(t, err)
			results <- resp.(dap.ResponseMessage).GetResponse().RequestSeq
		}()
	}

	seen := make(map[int]bool)
	for i := 0; i < 3; i++ {
		select {
		case seq := <-results:
			seen[seq] = true
		case <-time.After(3 * time.Second):
			t.Fatal("timed out waiting for correlated responses")
		}
	}
	require.Len(t, seen, 3)
}

func TestRequestTimeout(t *testing.T) {
	c, fake := newTestClient(t)

	// The double swallows the request and never replies.
	go func() {
		_, _ = fake.NextRequest()
	}()

	_, err := c.Request(context.Background(), "threads", nil, 20*time.Millisecond)
	require.Error(t, err)
	var timeoutErr *TimeoutError
	require.ErrorAs(t, err, &timeoutErr)

	c.mu.Lock()
	_, stillPending := c.pending[1]
	c.mu.Unlock()
	require.False(t, stillPending, "waiter must be deregistered after timeout")

	// A subsequent request gets a fresh seq and pairs correctly.
	go func() {
		req, err := fake.NextRequest()
		if err != nil {
			return
		}
		r := req.(dap.RequestMessage).GetRequest()
		testadapter.RespondSuccess(fake, r.Seq, r.Seq+100, r.Command)
	}()

	resp, err := c.Request(context.Background(), "threads", nil, time.Second)
	require.NoError(t, err)
	require.Equal(t, 2, resp.(dap.ResponseMessage).GetResponse().RequestSeq)
}

func TestHandshakeOrdering(t *testing.T) {
	c, fake := newTestClient(t)

	launchDone := make(chan error, 1)
	go func() {
		launchDone <- c.BeginLaunch(context.Background(), nil)
	}()

	// Adapter holds the launch response until configurationDone arrives.
	launchReq, err := fake.NextRequest()
	require.NoError(t, err)
	require.Equal(t, "launch", launchReq.(dap.RequestMessage).GetRequest().Command)
	launchSeq := launchReq.(dap.RequestMessage).GetRequest().Seq

	require.NoError(t, fake.Send(&dap.InitializedEvent{
		Event: dap.Event{
			ProtocolMessage: dap.ProtocolMessage{Seq: 900, Type: "event"},
			Event:           "initialized",
		},
	}))

	select {
	case err := <-launchDone:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("BeginLaunch did not return after initialized")
	}

	cfgDone := make(chan error, 1)
	go func() {
		cfgDone <- c.ConfigurationDone(context.Background())
	}()

	cfgReq, err := fake.NextRequest()
	require.NoError(t, err)
	cfgSeq := cfgReq.(dap.RequestMessage).GetRequest().Seq
	require.NoError(t, testadapter.RespondSuccess(fake, cfgSeq, 901, "configurationDone"))
	require.NoError(t, <-cfgDone)

	finishDone := make(chan error, 1)
	go func() {
		finishDone <- c.FinishLaunch(context.Background())
	}()

	select {
	case <-finishDone:
		t.Fatal("finish launch returned before the deferred response was sent")
	case <-time.After(50 * time.Millisecond):
	}

	require.NoError(t, testadapter.RespondSuccess(fake, launchSeq, 902, "launch"))

	select {
	case err := <-finishDone:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("finish launch did not return after deferred response")
	}
}

func TestStopSignalRaceFree(t *testing.T) {
	c, fake := newTestClient(t)

	c.ClearStopSignal()

	go func() {
		req, err := fake.NextRequest()
		if err != nil {
			return
		}
		r := req.(dap.RequestMessage).GetRequest()

		// Send the stopped event before replying to "next".
		fake.Send(&dap.StoppedEvent{
			Event: dap.Event{
				ProtocolMessage: dap.ProtocolMessage{Seq: 500, Type: "event"},
				Event:           "stopped",
			},
			Body: dap.StoppedEventBody{Reason: "step", ThreadId: 1},
		})
		testadapter.RespondSuccess(fake, r.Seq, r.Seq+100, r.Command)
	}()

	require.NoError(t, c.Next(context.Background(), 1))

	body, ok, err := c.WaitForStop(context.Background(), time.Second)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "step", body.Reason)
	require.Equal(t, 1, body.ThreadId)
}
