package channel

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

type recorder struct {
	msgs [][]byte
	err  error
}

func (r *recorder) WriteMessage(p []byte) error {
	if r.err != nil {
		return r.err
	}
	r.msgs = append(r.msgs, append([]byte(nil), p...))
	return nil
}

func TestResponseWriterPrependsOnce(t *testing.T) {
	t.Parallel()

	rec := &recorder{}
	w := NewResponseWriter(rec, []byte{0x05, 0x00})
	require.False(t, w.HeaderSent())

	require.NoError(t, w.WriteMessage([]byte("one")))
	require.NoError(t, w.WriteMessage([]byte("two")))

	require.Equal(t, [][]byte{
		{0x05, 0x00, 'o', 'n', 'e'},
		[]byte("two"),
	}, rec.msgs)
	require.True(t, w.HeaderSent())
	require.EqualValues(t, 6, w.Written())
}

func TestResponseWriterRetriesHeaderAfterError(t *testing.T) {
	t.Parallel()

	rec := &recorder{err: errors.New("boom")}
	w := NewResponseWriter(rec, []byte{0x00, 0x00})
	require.Error(t, w.WriteMessage([]byte("a")))
	require.False(t, w.HeaderSent())

	rec.err = nil
	require.NoError(t, w.WriteMessage([]byte("b")))
	require.Equal(t, [][]byte{{0x00, 0x00, 'b'}}, rec.msgs)
}
