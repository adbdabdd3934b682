package dquictest

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/gordian-engine/dnotif/dquic"
)

// DefaultPipeBufferSize is the per-direction buffer of a pipe
// created with a non-positive size.
const DefaultPipeBufferSize = 64 * 1024

// StreamResetError is returned from a [*PipeStream]
// whose peer canceled the direction being used.
type StreamResetError struct {
	Code dquic.StreamErrorCode
}

func (e *StreamResetError) Error() string {
	return fmt.Sprintf("stream reset by peer (code 0x%x)", uint64(e.Code))
}

var (
	// ErrReadCanceled is returned from Read after a local CancelRead.
	ErrReadCanceled = errors.New("read canceled locally")

	// ErrWriteCanceled is returned from Write after a local CancelWrite.
	ErrWriteCanceled = errors.New("write canceled locally")

	// ErrWriteAfterClose is returned from Write after a local Close.
	ErrWriteAfterClose = errors.New("write on closed stream")
)

// PipeStream is one end of an in-memory [dquic.Stream] pair.
//
// Unlike [net.Pipe], each direction has a bounded buffer,
// Close only ends the local write direction,
// and CancelRead/CancelWrite surface as resets on the peer,
// mirroring QUIC stream semantics closely enough
// to exercise half-close, reset, deadline and backpressure paths.
type PipeStream struct {
	in, out *pipeBuf
}

var _ dquic.Stream = (*PipeStream)(nil)

// NewPipe returns two connected stream ends.
// Each direction buffers up to bufSize bytes
// before Write blocks.
func NewPipe(bufSize int) (a, b *PipeStream) {
	if bufSize <= 0 {
		bufSize = DefaultPipeBufferSize
	}

	ab := newPipeBuf(bufSize)
	ba := newPipeBuf(bufSize)

	return &PipeStream{in: ba, out: ab}, &PipeStream{in: ab, out: ba}
}

// Unread reports how many bytes the peer has written
// that have not yet been read from s.
func (s *PipeStream) Unread() int {
	s.in.mu.Lock()
	defer s.in.mu.Unlock()
	return len(s.in.data)
}

func (s *PipeStream) Read(p []byte) (int, error) {
	b := s.in
	for {
		b.mu.Lock()
		switch {
		case b.readCanceled:
			b.mu.Unlock()
			return 0, ErrReadCanceled
		case b.writeReset:
			b.mu.Unlock()
			return 0, &StreamResetError{Code: b.resetCode}
		case len(b.data) > 0:
			n := copy(p, b.data)
			b.data = b.data[:copy(b.data, b.data[n:])]
			b.signal()
			b.mu.Unlock()
			return n, nil
		case b.writeClosed:
			b.mu.Unlock()
			return 0, io.EOF
		}

		dl := b.readDeadline
		if !dl.IsZero() && !time.Now().Before(dl) {
			b.mu.Unlock()
			return 0, os.ErrDeadlineExceeded
		}

		ch := b.changed
		b.mu.Unlock()
		wait(ch, dl)
	}
}

func (s *PipeStream) Write(p []byte) (int, error) {
	b := s.out
	written := 0
	for len(p) > 0 {
		b.mu.Lock()
		switch {
		case b.writeReset:
			b.mu.Unlock()
			return written, ErrWriteCanceled
		case b.writeClosed:
			b.mu.Unlock()
			return written, ErrWriteAfterClose
		case b.readCanceled:
			code := b.stopCode
			b.mu.Unlock()
			return written, &StreamResetError{Code: code}
		}

		if space := b.size - len(b.data); space > 0 {
			n := min(space, len(p))
			b.data = append(b.data, p[:n]...)
			p = p[n:]
			written += n
			b.signal()
			b.mu.Unlock()
			continue
		}

		dl := b.writeDeadline
		if !dl.IsZero() && !time.Now().Before(dl) {
			b.mu.Unlock()
			return written, os.ErrDeadlineExceeded
		}

		ch := b.changed
		b.mu.Unlock()
		wait(ch, dl)
	}

	return written, nil
}

// Close ends the write direction.
// The peer reads io.EOF after draining what was already written.
func (s *PipeStream) Close() error {
	b := s.out
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.writeReset {
		return ErrWriteCanceled
	}
	b.writeClosed = true
	b.signal()
	return nil
}

func (s *PipeStream) CancelWrite(code dquic.StreamErrorCode) {
	b := s.out
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.writeClosed && len(b.data) == 0 {
		// Everything was delivered already; nothing to reset.
		return
	}
	b.writeReset = true
	b.resetCode = code
	b.data = nil
	b.signal()
}

func (s *PipeStream) CancelRead(code dquic.StreamErrorCode) {
	b := s.in
	b.mu.Lock()
	defer b.mu.Unlock()

	b.readCanceled = true
	b.stopCode = code
	b.data = nil
	b.signal()
}

func (s *PipeStream) SetReadDeadline(t time.Time) error {
	b := s.in
	b.mu.Lock()
	defer b.mu.Unlock()

	b.readDeadline = t
	b.signal()
	return nil
}

func (s *PipeStream) SetWriteDeadline(t time.Time) error {
	b := s.out
	b.mu.Lock()
	defer b.mu.Unlock()

	b.writeDeadline = t
	b.signal()
	return nil
}

// pipeBuf is a single direction of a pipe.
// The writing end owns writeClosed, writeReset and writeDeadline;
// the reading end owns readCanceled and readDeadline.
type pipeBuf struct {
	mu sync.Mutex

	data []byte
	size int

	writeClosed bool
	writeReset  bool
	resetCode   dquic.StreamErrorCode

	readCanceled bool
	stopCode     dquic.StreamErrorCode

	readDeadline, writeDeadline time.Time

	// Closed and replaced on every state change.
	changed chan struct{}
}

func newPipeBuf(size int) *pipeBuf {
	return &pipeBuf{
		size:    size,
		changed: make(chan struct{}),
	}
}

// signal wakes every goroutine waiting on b.
// The caller must hold b.mu.
func (b *pipeBuf) signal() {
	close(b.changed)
	b.changed = make(chan struct{})
}

func wait(ch <-chan struct{}, deadline time.Time) {
	if deadline.IsZero() {
		<-ch
		return
	}

	timer := time.NewTimer(time.Until(deadline))
	defer timer.Stop()

	select {
	case <-ch:
	case <-timer.C:
	}
}
