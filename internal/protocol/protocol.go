// Package protocol implements the framed ExtractRequest/ExtractResponse
// message types consumed from extractor subprocesses. Only the message
// shapes and framing live here; extractor process lifecycle management
// belongs to the front-ends that spawn extractors.
package protocol

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// ExtractRequest is sent to an extractor subprocess.
type ExtractRequest struct {
	RequestID   string          `json:"request_id"`
	ProjectPath string          `json:"project_path"`
	Language    string          `json:"language"`
	Config      json.RawMessage `json:"config"`
	TimeoutMS   int64           `json:"timeout_ms"`
	ProtocolVer string          `json:"protocol_version"`
}

// ExtractResponse is returned by an extractor subprocess.
type ExtractResponse struct {
	RequestID  string          `json:"request_id"`
	IR         []byte          `json:"ir"`
	Metadata   json.RawMessage `json:"metadata"`
	ElapsedMS  int64           `json:"elapsed_ms"`
	Error      *ExtractError   `json:"error,omitempty"`
}

// ExtractError is an error response's payload.
type ExtractError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Details json.RawMessage `json:"details,omitempty"`
}

// HeartbeatMessage is sent periodically by a live extractor.
type HeartbeatMessage struct {
	UnixTimestamp int64  `json:"unix_timestamp"`
	ExtractorName string `json:"extractor_name"`
	Status        string `json:"status"`
}

// ErrRequestIDMismatch reports a response whose request_id does not
// match the request it answers.
var ErrRequestIDMismatch = errors.New("protocol: response request_id does not match request")

// Validate enforces resp.RequestID == req.RequestID.
func Validate(req ExtractRequest, resp ExtractResponse) error {
	if req.RequestID != resp.RequestID {
		return fmt.Errorf("%w: request=%q response=%q", ErrRequestIDMismatch, req.RequestID, resp.RequestID)
	}
	return nil
}

// maxFrameSize bounds a single frame to guard against a corrupt or
// hostile length header exhausting memory.
const maxFrameSize = 256 << 20 // 256 MiB

// WriteFrame writes a length-prefixed JSON payload: a big-endian uint32
// byte count followed by the JSON bytes. Not wire-compatible with any
// existing RPC protocol.
func WriteFrame(w io.Writer, v interface{}) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("protocol: marshal frame: %w", err)
	}
	if len(payload) > maxFrameSize {
		return fmt.Errorf("protocol: frame of %d bytes exceeds max %d", len(payload), maxFrameSize)
	}
	var header [4]byte
	binary.BigEndian.PutUint32(header[:], uint32(len(payload)))
	if _, err := w.Write(header[:]); err != nil {
		return fmt.Errorf("protocol: write frame header: %w", err)
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("protocol: write frame body: %w", err)
	}
	return nil
}

// ReadFrame reads one length-prefixed JSON payload and unmarshals it
// into v.
func ReadFrame(r io.Reader, v interface{}) error {
	var header [4]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return fmt.Errorf("protocol: read frame header: %w", err)
	}
	size := binary.BigEndian.Uint32(header[:])
	if size > maxFrameSize {
		return fmt.Errorf("protocol: frame of %d bytes exceeds max %d", size, maxFrameSize)
	}
	payload := make([]byte, size)
	if _, err := io.ReadFull(r, payload); err != nil {
		return fmt.Errorf("protocol: read frame body: %w", err)
	}
	if err := json.Unmarshal(payload, v); err != nil {
		return fmt.Errorf("protocol: unmarshal frame: %w", err)
	}
	return nil
}
