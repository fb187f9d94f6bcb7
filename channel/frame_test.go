package channel

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrameRoundTrip(t *testing.T) {
	tests := []struct {
		name    string
		payload string
	}{
		{"small", `{"kind":"request"}`},
		{"single byte", "x"},
		{"binary-ish", "\x00\x01\x02\xff"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			require.NoError(t, writeFrame(&buf, []byte(tt.payload)))

			got, err := readFrame(&buf)
			require.NoError(t, err)
			assert.Equal(t, tt.payload, string(got))
		})
	}
}

func TestReadFrameZeroLength(t *testing.T) {
	var buf bytes.Buffer
	buf.Write([]byte{0, 0, 0, 0})

	_, err := readFrame(&buf)
	var violation *ProtocolViolation
	require.ErrorAs(t, err, &violation)
}

func TestReadFrameOversize(t *testing.T) {
	var lengthBuf [4]byte
	binary.BigEndian.PutUint32(lengthBuf[:], maxFrameSize+1)

	_, err := readFrame(bytes.NewReader(lengthBuf[:]))
	var violation *ProtocolViolation
	require.ErrorAs(t, err, &violation)
}

func TestReadFrameTruncated(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeFrame(&buf, []byte("hello")))
	truncated := buf.Bytes()[:buf.Len()-2]

	_, err := readFrame(bytes.NewReader(truncated))
	require.Error(t, err)
}
