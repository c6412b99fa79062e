package protocol

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrameRoundTrip(t *testing.T) {
	req := ExtractRequest{
		RequestID:   "req-1",
		ProjectPath: "/srv/project",
		Language:    "python",
		Config:      []byte(`{"depth": 3}`),
		TimeoutMS:   5000,
		ProtocolVer: "1.0",
	}

	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, req))

	var got ExtractRequest
	require.NoError(t, ReadFrame(&buf, &got))
	assert.Equal(t, req, got)
}

func TestFrameRoundTrip_Heartbeat(t *testing.T) {
	hb := HeartbeatMessage{UnixTimestamp: 1735689600, ExtractorName: "oxc", Status: "ok"}

	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, hb))

	var got HeartbeatMessage
	require.NoError(t, ReadFrame(&buf, &got))
	assert.Equal(t, hb, got)
}

func TestReadFrame_TruncatedBody(t *testing.T) {
	var buf bytes.Buffer
	var header [4]byte
	binary.BigEndian.PutUint32(header[:], 100)
	buf.Write(header[:])
	buf.WriteString(`{"short`)

	var got ExtractRequest
	require.Error(t, ReadFrame(&buf, &got))
}

func TestReadFrame_OversizedHeaderRejected(t *testing.T) {
	var buf bytes.Buffer
	var header [4]byte
	binary.BigEndian.PutUint32(header[:], maxFrameSize+1)
	buf.Write(header[:])

	var got ExtractRequest
	require.Error(t, ReadFrame(&buf, &got))
}

func TestValidate_RequestIDMatch(t *testing.T) {
	req := ExtractRequest{RequestID: "abc"}
	assert.NoError(t, Validate(req, ExtractResponse{RequestID: "abc"}))

	err := Validate(req, ExtractResponse{RequestID: "other"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRequestIDMismatch)
}
