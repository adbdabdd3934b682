package dframe

import "io"

// DefaultHighWaterMark is the number of pending bytes
// at which [*Writer.Ready] starts flushing before accepting more frames.
const DefaultHighWaterMark = 128 * 1024

// Writer encodes frames to an underlying writer.
//
// Frames are staged in an internal buffer by [*Writer.Enqueue]
// and only written by [*Writer.Flush].
// A Flush interrupted by a write error (such as a write deadline)
// keeps whatever was not accepted, so it may be retried.
type Writer struct {
	w   io.Writer
	max uint64

	buf []byte

	highWater int
}

// NewWriter returns a Writer that refuses to enqueue frames longer than maxLen.
func NewWriter(w io.Writer, maxLen uint64) *Writer {
	return &Writer{
		w:   w,
		max: maxLen,

		highWater: DefaultHighWaterMark,
	}
}

// Buffered returns the number of encoded bytes not yet written.
func (w *Writer) Buffered() int {
	return len(w.buf)
}

// Ready reports whether another frame may be enqueued.
// When the pending buffer has reached the high-water mark,
// Ready flushes first and returns any flush error.
func (w *Writer) Ready() error {
	if len(w.buf) < w.highWater {
		return nil
	}
	return w.Flush()
}

// Enqueue stages p as one frame.
// Enqueuing a payload longer than the writer's maximum
// is a caller error, reported as a [*FrameTooLargeError].
func (w *Writer) Enqueue(p []byte) error {
	if uint64(len(p)) > w.max {
		return &FrameTooLargeError{Len: uint64(len(p)), Max: w.max}
	}

	w.buf = AppendFrame(w.buf, p)
	return nil
}

// Flush writes all pending bytes to the underlying writer.
func (w *Writer) Flush() error {
	for len(w.buf) > 0 {
		n, err := w.w.Write(w.buf)
		w.buf = w.buf[:copy(w.buf, w.buf[n:])]
		if err != nil {
			return err
		}
		if n == 0 {
			return io.ErrShortWrite
		}
	}

	return nil
}

// Close flushes pending bytes and then closes the underlying writer,
// if it implements [io.Closer].
// For a stream, that ends only the local writing direction.
func (w *Writer) Close() error {
	if err := w.Flush(); err != nil {
		return err
	}

	if c, ok := w.w.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
