package relay

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"syscall"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/die-net/wsgate/internal/channel"
)

type recorder struct {
	msgs [][]byte
	err  error
}

func (r *recorder) WriteMessage(p []byte) error {
	if r.err != nil {
		return r.err
	}
	r.msgs = append(r.msgs, p)
	return nil
}

// chunkReader returns one chunk per Read.
type chunkReader struct {
	chunks [][]byte
	err    error
}

func (c *chunkReader) Read(p []byte) (int, error) {
	if len(c.chunks) == 0 {
		if c.err != nil {
			return 0, c.err
		}
		return 0, io.EOF
	}
	n := copy(p, c.chunks[0])
	c.chunks = c.chunks[1:]
	return n, nil
}

func TestPumpPrependsHeaderOnce(t *testing.T) {
	t.Parallel()

	rec := &recorder{}
	w := channel.NewResponseWriter(rec, []byte{0x00, 0x00})
	src := &chunkReader{chunks: [][]byte{[]byte("first"), []byte("second"), []byte("third")}}

	var seen int
	err := Pump(context.Background(), src, w, NewFlowController(), func(n int) { seen += n })
	require.NoError(t, err)
	require.Equal(t, [][]byte{
		append([]byte{0x00, 0x00}, "first"...),
		[]byte("second"),
		[]byte("third"),
	}, rec.msgs)
	require.Equal(t, len("firstsecondthird"), seen)
}

func TestPumpReadError(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	rec := &recorder{}
	err := Pump(context.Background(), &chunkReader{chunks: [][]byte{[]byte("x")}, err: boom}, rec, nil, nil)
	require.ErrorIs(t, err, boom)
	require.Len(t, rec.msgs, 1)
}

func TestPumpClientWriteError(t *testing.T) {
	t.Parallel()

	rec := &recorder{err: channel.ErrClosed}
	err := Pump(context.Background(), &chunkReader{chunks: [][]byte{[]byte("x")}}, rec, nil, nil)
	require.ErrorIs(t, err, ErrClientWrite)
	require.ErrorIs(t, err, channel.ErrClosed)
}

func TestPumpLargeRead(t *testing.T) {
	t.Parallel()

	payload := bytes.Repeat([]byte("a"), 3*bufferSize+5)
	rec := &recorder{}
	require.NoError(t, Pump(context.Background(), bytes.NewReader(payload), rec, nil, nil))
	require.Equal(t, payload, bytes.Join(rec.msgs, nil))
}

func TestWritePayload(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	require.NoError(t, WritePayload(&buf, nil))
	require.NoError(t, WritePayload(&buf, []byte("DATA")))
	require.Equal(t, "DATA", buf.String())
}

func TestIsTransient(t *testing.T) {
	t.Parallel()

	tests := []struct {
		err  error
		want bool
	}{
		{err: nil, want: true},
		{err: io.EOF, want: true},
		{err: fmt.Errorf("read: %w", io.ErrUnexpectedEOF), want: true},
		{err: net.ErrClosed, want: true},
		{err: &net.OpError{Op: "read", Err: syscall.ECONNRESET}, want: true},
		{err: &net.OpError{Op: "write", Err: syscall.EPIPE}, want: true},
		{err: errors.New("tls: bad record MAC"), want: false},
		{err: context.DeadlineExceeded, want: false},
	}

	for _, tt := range tests {
		require.Equal(t, tt.want, IsTransient(tt.err), "%v", tt.err)
	}
}
