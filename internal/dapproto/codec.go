// Package dapproto implements the DAP wire framing: a Content-Length header
// section terminated by a blank line, followed by a JSON body of exactly
// that many bytes.
package dapproto

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/google/go-dap"
)

const headerSeparator = "\r\n\r\n"

const contentLengthHeader = "content-length"

// ProtocolError signals that the byte stream no longer carries a valid DAP
// framing or JSON payload. It is logically equivalent to a connection loss:
// callers should treat the stream as unusable once this is returned.
type ProtocolError struct {
	Msg string
	Err error
}

func (e *ProtocolError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("dap protocol error: %s: %v", e.Msg, e.Err)
	}
	return fmt.Sprintf("dap protocol error: %s", e.Msg)
}

func (e *ProtocolError) Unwrap() error { return e.Err }

func newProtocolError(msg string, err error) *ProtocolError {
	return &ProtocolError{Msg: msg, Err: err}
}

// Encode serializes msg as compact JSON and prepends the Content-Length
// header required by the wire protocol.
func Encode(msg dap.Message) ([]byte, error) {
	body, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("encode dap message: %w", err)
	}

	var buf bytes.Buffer
	fmt.Fprintf(&buf, "Content-Length: %d%s", len(body), headerSeparator)
	buf.Write(body)

	return buf.Bytes(), nil
}

// Decoder incrementally reassembles framed DAP messages out of a byte
// stream that may deliver arbitrary, non-message-aligned chunks. It keeps an
// explicit persistent buffer of bytes read but not yet consumed by a
// complete message, mirroring the original implementation's read-buffer
// field: a single Feed may supply more than one header's worth of bytes, and
// bytes past the separator must never be discarded.
type Decoder struct {
	buf []byte
}

// NewDecoder returns an empty Decoder.
func NewDecoder() *Decoder {
	return &Decoder{}
}

// Feed appends newly received bytes to the internal buffer.
func (d *Decoder) Feed(chunk []byte) {
	d.buf = append(d.buf, chunk...)
}

// Next attempts to extract one complete, decoded message from the buffered
// bytes. It returns (nil, false, nil) when more data is required before a
// full message is available. A malformed header or truncated body does not
// itself produce an error until enough bytes have arrived to know the frame
// is broken (e.g. a Content-Length header that isn't an integer).
func (d *Decoder) Next() (dap.Message, bool, error) {
	sepIdx := bytes.Index(d.buf, []byte(headerSeparator))
	if sepIdx < 0 {
		return nil, false, nil
	}

	header := d.buf[:sepIdx]

	length, err := parseContentLength(string(header))
	if err != nil {
		return nil, false, err
	}

	bodyStart := sepIdx + len(headerSeparator)
	if len(d.buf) < bodyStart+length {
		return nil, false, nil
	}

	content := d.buf[bodyStart : bodyStart+length]

	// Retain everything past this message for the next call.
	remainder := make([]byte, len(d.buf)-(bodyStart+length))
	copy(remainder, d.buf[bodyStart+length:])
	d.buf = remainder

	msg, err := dap.DecodeProtocolMessage(content)
	if err != nil {
		return nil, false, newProtocolError("decode message body", err)
	}

	return msg, true, nil
}

// parseContentLength scans header lines case-insensitively for
// Content-Length. It fails if the header is absent, non-numeric, or negative.
func parseContentLength(header string) (int, error) {
	lines := strings.Split(header, "\r\n")
	for _, line := range lines {
		idx := strings.IndexByte(line, ':')
		if idx < 0 {
			continue
		}

		name := strings.ToLower(strings.TrimSpace(line[:idx]))
		if name != contentLengthHeader {
			continue
		}

		value := strings.TrimSpace(line[idx+1:])
		n, err := strconv.Atoi(value)
		if err != nil {
			return 0, newProtocolError(
				fmt.Sprintf("invalid Content-Length value %q", value), err,
			)
		}
		if n < 0 {
			return 0, newProtocolError(
				fmt.Sprintf("negative Content-Length %d", n), nil,
			)
		}

		return n, nil
	}

	return 0, newProtocolError("missing Content-Length header", nil)
}

// ReadMessage reads exactly one framed message from r, using dec as the
// carry-over decode buffer across calls (callers should reuse the same
// Decoder for a stream). It is a thin convenience wrapper for callers that
// prefer a blocking read-one-message call over feeding chunks manually.
func ReadMessage(r io.Reader, dec *Decoder) (dap.Message, error) {
	for {
		if msg, ok, err := dec.Next(); err != nil {
			return nil, err
		} else if ok {
			return msg, nil
		}

		chunk := make([]byte, 4096)
		n, err := r.Read(chunk)
		if n > 0 {
			dec.Feed(chunk[:n])
		}
		if err != nil {
			if n > 0 {
				// Try to drain one more message out of what we
				// just fed before surfacing the read error.
				if msg, ok, decErr := dec.Next(); decErr == nil && ok {
					return msg, nil
				}
			}
			return nil, err
		}
	}
}

// WriteMessage encodes msg and writes it to w in full.
func WriteMessage(w io.Writer, msg dap.Message) error {
	encoded, err := Encode(msg)
	if err != nil {
		return err
	}
	_, err = w.Write(encoded)
	return err
}
