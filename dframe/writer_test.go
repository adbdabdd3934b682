package dframe_test

import (
	"bytes"
	"errors"
	"testing"

	"github.com/gordian-engine/dnotif/dframe"
	"github.com/stretchr/testify/require"
)

// limitedWriter accepts up to budget bytes,
// then fails with errNotReady until the budget is raised.
type limitedWriter struct {
	bytes.Buffer
	budget int
}

func (w *limitedWriter) Write(p []byte) (int, error) {
	if len(p) <= w.budget {
		w.budget -= len(p)
		return w.Buffer.Write(p)
	}

	n, _ := w.Buffer.Write(p[:w.budget])
	w.budget = 0
	return n, errNotReady
}

type closeRecorder struct {
	bytes.Buffer
	closed bool
}

func (c *closeRecorder) Close() error {
	c.closed = true
	return nil
}

func TestWriter_enqueueAndFlush(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	w := dframe.NewWriter(&out, 16)

	require.NoError(t, w.Enqueue([]byte("one")))
	require.NoError(t, w.Enqueue(nil))
	require.NoError(t, w.Enqueue([]byte("three")))

	// Nothing is written before Flush.
	require.Zero(t, out.Len())
	require.Equal(t, 4+1+6, w.Buffered())

	require.NoError(t, w.Flush())
	require.Zero(t, w.Buffered())

	r := dframe.NewReader(&out, 16)
	for _, want := range []string{"one", "", "three"} {
		f, err := r.Next()
		require.NoError(t, err)
		require.Equal(t, want, string(f))
	}
}

func TestWriter_enqueueTooLarge(t *testing.T) {
	t.Parallel()

	w := dframe.NewWriter(new(bytes.Buffer), 4)

	err := w.Enqueue([]byte("12345"))
	var tooLarge *dframe.FrameTooLargeError
	require.ErrorAs(t, err, &tooLarge)
	require.Zero(t, w.Buffered())

	// The boundary is inclusive.
	require.NoError(t, w.Enqueue([]byte("1234")))
}

func TestWriter_flushResumesAfterPartialWrite(t *testing.T) {
	t.Parallel()

	lw := &limitedWriter{budget: 3}
	w := dframe.NewWriter(lw, 64)

	require.NoError(t, w.Enqueue([]byte("hello")))

	err := w.Flush()
	require.True(t, errors.Is(err, errNotReady))
	require.Equal(t, 3, w.Buffered())

	lw.budget = 100
	require.NoError(t, w.Flush())
	require.Equal(t, dframe.AppendFrame(nil, []byte("hello")), lw.Bytes())
}

func TestWriter_readyFlushesAtHighWaterMark(t *testing.T) {
	t.Parallel()

	lw := &limitedWriter{}
	w := dframe.NewWriter(lw, dframe.DefaultHighWaterMark*2)

	require.NoError(t, w.Ready())
	require.NoError(t, w.Enqueue(make([]byte, dframe.DefaultHighWaterMark)))

	// Buffer is over the mark and the writer accepts nothing.
	require.ErrorIs(t, w.Ready(), errNotReady)

	lw.budget = dframe.DefaultHighWaterMark * 2
	require.NoError(t, w.Ready())
	require.Zero(t, w.Buffered())
}

func TestWriter_closeFlushesThenCloses(t *testing.T) {
	t.Parallel()

	cr := new(closeRecorder)
	w := dframe.NewWriter(cr, 64)

	require.NoError(t, w.Enqueue([]byte("bye")))
	require.NoError(t, w.Close())

	require.True(t, cr.closed)
	require.Equal(t, dframe.AppendFrame(nil, []byte("bye")), cr.Bytes())
}
