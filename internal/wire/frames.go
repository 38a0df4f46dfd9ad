package wire

import (
	"encoding/binary"
	"fmt"
)

// The underlying transport carries one buffer per message. Multi-frame
// payloads are flattened into a single buffer with a uvarint length prefix
// per frame, preserving frame order and boundaries.

// PackFrames flattens an ordered frame list into one buffer.
func PackFrames(frames [][]byte) []byte {
	size := 0
	for _, f := range frames {
		size += binary.MaxVarintLen64 + len(f)
	}
	buf := make([]byte, 0, size)
	var hdr [binary.MaxVarintLen64]byte
	for _, f := range frames {
		n := binary.PutUvarint(hdr[:], uint64(len(f)))
		buf = append(buf, hdr[:n]...)
		buf = append(buf, f...)
	}
	return buf
}

// UnpackFrames splits a packed buffer back into its ordered frame list.
// A truncated or over-long length prefix fails with ErrMalformedFrame.
func UnpackFrames(buf []byte) ([][]byte, error) {
	var frames [][]byte
	for len(buf) > 0 {
		length, n := binary.Uvarint(buf)
		if n <= 0 {
			return nil, fmt.Errorf("frame length prefix: %w", ErrMalformedFrame)
		}
		buf = buf[n:]
		if uint64(len(buf)) < length {
			return nil, fmt.Errorf("frame truncated: want %d bytes, have %d: %w", length, len(buf), ErrMalformedFrame)
		}
		frames = append(frames, buf[:length:length])
		buf = buf[length:]
	}
	return frames, nil
}
