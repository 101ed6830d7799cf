package dapproto

import (
	"testing"

	"github.com/google/go-dap"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	msg := &dap.InitializeRequest{
		Request: dap.Request{
			ProtocolMessage: dap.ProtocolMessage{Seq: 1, Type: "request"},
			Command:         "initialize",
		},
		Arguments: dap.InitializeRequestArguments{
			ClientID:        "test-client",
			AdapterID:       "delve",
			LinesStartAt1:   true,
			ColumnsStartAt1: true,
		},
	}

	encoded, err := Encode(msg)
	require.NoError(t, err)

	dec := NewDecoder()
	dec.Feed(encoded)

	decoded, ok, err := dec.Next()
	require.NoError(t, err)
	require.True(t, ok)

	got, ok := decoded.(*dap.InitializeRequest)
	require.True(t, ok)
	require.Equal(t, msg.Arguments.ClientID, got.Arguments.ClientID)
	require.Equal(t, msg.Seq, got.Seq)
}

func TestEncodeDecodeNonASCII(t *testing.T) {
	msg := &dap.OutputEvent{
		Event: dap.Event{
			ProtocolMessage: dap.ProtocolMessage{Seq: 2, Type: "event"},
			Event:           "output",
		},
		Body: dap.OutputEventBody{
			Output: "héllo wörld 中文",
		},
	}

	encoded, err := Encode(msg)
	require.NoError(t, err)

	dec := NewDecoder()
	dec.Feed(encoded)
	decoded, ok, err := dec.Next()
	require.NoError(t, err)
	require.True(t, ok)

	got, ok := decoded.(*dap.OutputEvent)
	require.True(t, ok)
	require.Equal(t, msg.Body.Output, got.Body.Output)
}

func TestParseContentLengthCaseInsensitive(t *testing.T) {
	n, err := parseContentLength("content-LENGTH: 42")
	require.NoError(t, err)
	require.Equal(t, 42, n)
}

func TestParseContentLengthMissing(t *testing.T) {
	_, err := parseContentLength("X-Other: 1")
	require.Error(t, err)

	var protoErr *ProtocolError
	require.ErrorAs(t, err, &protoErr)
}

func TestParseContentLengthNonNumeric(t *testing.T) {
	_, err := parseContentLength("Content-Length: not-a-number")
	require.Error(t, err)
}

// TestBufferStraddleArbitrarySplit verifies that splitting two encoded messages at an
// arbitrary offset across separate Feed calls never loses or merges bytes.
func TestBufferStraddleArbitrarySplit(t *testing.T) {
	msg1 := &dap.ThreadsRequest{
		Request: dap.Request{
			ProtocolMessage: dap.ProtocolMessage{Seq: 1, Type: "request"},
			Command:         "threads",
		},
	}
	msg2 := &dap.PauseRequest{
		Request: dap.Request{
			ProtocolMessage: dap.ProtocolMessage{Seq: 2, Type: "request"},
			Command:         "pause",
		},
		Arguments: dap.PauseArguments{ThreadId: 7},
	}

	enc1, err := Encode(msg1)
	require.NoError(t, err)
	enc2, err := Encode(msg2)
	require.NoError(t, err)

	combined := append(append([]byte{}, enc1...), enc2...)

	for split := 0; split <= len(combined); split++ {
		dec := NewDecoder()
		dec.Feed(combined[:split])
		dec.Feed(combined[split:])

		first, ok, err := dec.Next()
		require.NoError(t, err, "split=%d", split)
		require.True(t, ok, "split=%d", split)
		got1, ok := first.(*dap.ThreadsRequest)
		require.True(t, ok, "split=%d", split)
		require.Equal(t, msg1.Seq, got1.Seq)

		second, ok, err := dec.Next()
		require.NoError(t, err, "split=%d", split)
		require.True(t, ok, "split=%d", split)
		got2, ok := second.(*dap.PauseRequest)
		require.True(t, ok, "split=%d", split)
		require.Equal(t, msg2.Arguments.ThreadId, got2.Arguments.ThreadId)
	}
}
