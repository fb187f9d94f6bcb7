package channel

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Frames are length-prefixed: 4-byte big-endian length followed by a JSON
// payload. The limit is generous because initialize carries the interpreter
// binary inline.
const maxFrameSize = 256 * 1024 * 1024

func readFrame(r io.Reader) ([]byte, error) {
	var lengthBuf [4]byte
	if _, err := io.ReadFull(r, lengthBuf[:]); err != nil {
		return nil, err
	}

	length := binary.BigEndian.Uint32(lengthBuf[:])
	if length == 0 {
		return nil, &ProtocolViolation{Detail: "frame length is zero"}
	}
	if length > maxFrameSize {
		return nil, &ProtocolViolation{Detail: fmt.Sprintf("frame length %d exceeds maximum %d", length, maxFrameSize)}
	}

	data := make([]byte, length)
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, fmt.Errorf("read frame body: %w", err)
	}
	return data, nil
}

func writeFrame(w io.Writer, data []byte) error {
	if len(data) > maxFrameSize {
		return fmt.Errorf("frame length %d exceeds maximum %d", len(data), maxFrameSize)
	}

	var lengthBuf [4]byte
	binary.BigEndian.PutUint32(lengthBuf[:], uint32(len(data)))
	if _, err := w.Write(lengthBuf[:]); err != nil {
		return fmt.Errorf("write frame length: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("write frame body: %w", err)
	}
	return nil
}
