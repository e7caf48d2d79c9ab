package dnstunnel

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// MaxMessageSize is the largest DNS message a frame can carry.
const MaxMessageSize = 65535

// ErrTruncatedFrame is returned when a message ends inside a frame.
var ErrTruncatedFrame = errors.New("truncated dns frame")

// SplitFrames returns the payloads of the length-prefixed frames in b. The
// payloads alias b. On a truncated trailing frame it returns the complete
// frames before it together with ErrTruncatedFrame.
func SplitFrames(b []byte) ([][]byte, error) {
	var frames [][]byte
	for len(b) > 0 {
		if len(b) < 2 {
			return frames, fmt.Errorf("%w: %d stray bytes", ErrTruncatedFrame, len(b))
		}
		n := int(binary.BigEndian.Uint16(b))
		if len(b) < 2+n {
			return frames, fmt.Errorf("%w: want %d bytes, have %d", ErrTruncatedFrame, n, len(b)-2)
		}
		frames = append(frames, b[2:2+n])
		b = b[2+n:]
	}
	return frames, nil
}

// AppendFrame appends payload to dst with its length prefix.
func AppendFrame(dst, payload []byte) ([]byte, error) {
	if len(payload) > MaxMessageSize {
		return dst, fmt.Errorf("dns message too large: %d bytes", len(payload))
	}
	dst = binary.BigEndian.AppendUint16(dst, uint16(len(payload)))
	return append(dst, payload...), nil
}
