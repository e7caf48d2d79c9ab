package relay

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/die-net/wsgate/internal/channel"
)

// ErrClientWrite wraps failures to deliver to the client channel.
var ErrClientWrite = errors.New("client write failed")

// WritePayload sends the handshake's initial payload to the outbound side.
func WritePayload(dst io.Writer, payload []byte) error {
	if len(payload) == 0 {
		return nil
	}
	if _, err := dst.Write(payload); err != nil {
		return fmt.Errorf("write initial payload: %w", err)
	}
	return nil
}

// Pump copies src to w, one message per read, until src ends. onData, if
// set, is called with the size of every chunk after it reached the client.
// flow, if set, paces delivery.
//
// Pump returns nil at end-of-stream. Errors from w are wrapped in
// ErrClientWrite; read errors are returned as is.
func Pump(ctx context.Context, src io.Reader, w channel.MessageWriter, flow *FlowController, onData func(n int)) error {
	bp := getBuffer()
	defer putBuffer(bp)
	buf := *bp

	for {
		n, rerr := src.Read(buf)
		if n > 0 {
			// Messages may be retained by the channel; never hand it the
			// pooled buffer.
			msg := append([]byte(nil), buf[:n]...)
			if err := w.WriteMessage(msg); err != nil {
				return fmt.Errorf("%w: %w", ErrClientWrite, err)
			}
			if onData != nil {
				onData(n)
			}
			if flow != nil {
				if err := flow.Observe(ctx, n); err != nil {
					return err
				}
			}
		}
		if rerr != nil {
			if errors.Is(rerr, io.EOF) {
				return nil
			}
			return rerr
		}
	}
}
