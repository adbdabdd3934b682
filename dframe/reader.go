package dframe

import (
	"bytes"
	"errors"
	"io"
	"slices"

	"github.com/multiformats/go-varint"
)

// minReadSize is the smallest buffer growth for a single Read call.
const minReadSize = 4 * 1024

// maxReadChunk caps how much buffer is grown at once
// while waiting for a large frame,
// so that a large declared length does not become a large allocation
// before the bytes actually arrive.
const maxReadChunk = 64 * 1024

// Reader decodes frames from an underlying reader.
//
// Reader buffers the bytes it reads.
// If the underlying Read fails partway through a frame
// (typically due to a read deadline),
// the partial frame is retained
// and the next call to [*Reader.Next] continues where the last one stopped.
type Reader struct {
	r   io.Reader
	max uint64

	// Unconsumed bytes are buf[off:].
	buf []byte
	off int

	eof bool
}

// NewReader returns a Reader that rejects frames longer than maxLen.
func NewReader(r io.Reader, maxLen uint64) *Reader {
	return &Reader{
		r:   r,
		max: maxLen,
	}
}

// Buffered reports the number of bytes read from the underlying reader
// that do not belong to a returned frame yet.
func (r *Reader) Buffered() int {
	return len(r.buf) - r.off
}

// Next returns the next complete frame.
//
// Next returns [io.EOF] when the underlying reader ends on a frame boundary,
// and [io.ErrUnexpectedEOF] when it ends inside a frame.
// Any other error from the underlying reader is returned as-is,
// with previously buffered bytes kept for a later call.
func (r *Reader) Next() ([]byte, error) {
	for {
		frame, need, err := r.parse()
		if err != nil {
			return nil, err
		}
		if need == 0 {
			return frame, nil
		}

		if r.eof {
			if r.Buffered() == 0 {
				return nil, io.EOF
			}
			return nil, io.ErrUnexpectedEOF
		}

		if err := r.fill(need); err != nil {
			return nil, err
		}
	}
}

// parse attempts to decode one frame from the buffer.
// If the buffer does not hold a full frame,
// need is the number of additional bytes known to be required.
func (r *Reader) parse() (frame []byte, need int, err error) {
	b := r.buf[r.off:]

	n, hdr, err := varint.FromUvarint(b)
	if err != nil {
		if errors.Is(err, varint.ErrUnderflow) {
			return nil, 1, nil
		}
		return nil, 0, &MalformedLengthError{Err: err}
	}

	if n > effectiveMax(r.max) {
		return nil, 0, &FrameTooLargeError{Len: n, Max: r.max}
	}

	have := uint64(len(b) - hdr)
	if have < n {
		return nil, int(min(n-have, maxReadChunk)), nil
	}

	end := hdr + int(n)
	frame = bytes.Clone(b[hdr:end])
	if frame == nil {
		frame = []byte{}
	}

	r.off += end
	if r.off == len(r.buf) {
		r.buf = r.buf[:0]
		r.off = 0
	}

	return frame, 0, nil
}

// fill performs a single Read on the underlying reader,
// appending whatever it returns to the buffer.
func (r *Reader) fill(need int) error {
	if r.off > 0 {
		n := copy(r.buf, r.buf[r.off:])
		r.buf = r.buf[:n]
		r.off = 0
	}

	r.buf = slices.Grow(r.buf, max(need, minReadSize))
	n, err := r.r.Read(r.buf[len(r.buf):cap(r.buf)])
	r.buf = r.buf[:len(r.buf)+n]

	if err != nil {
		if errors.Is(err, io.EOF) {
			r.eof = true
			return nil
		}
		return err
	}

	return nil
}
