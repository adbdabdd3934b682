package dframe

import (
	"errors"
	"io"
	"math"

	"github.com/multiformats/go-varint"
)

// AppendFrame appends the encoding of p, length prefix first, to dst.
// It does not enforce any maximum length.
func AppendFrame(dst, p []byte) []byte {
	var hdr [varint.MaxLenUvarint63]byte
	n := varint.PutUvarint(hdr[:], uint64(len(p)))
	dst = append(dst, hdr[:n]...)
	return append(dst, p...)
}

// ReadBounded reads exactly one frame from r.
//
// The length prefix is read one byte at a time
// and the payload is read with [io.ReadFull],
// so r is never read past the end of the frame.
// If the declared length exceeds maxLen,
// ReadBounded returns a [*FrameTooLargeError]
// without consuming any of the payload.
//
// A stream that ends before any byte of the frame returns [io.EOF];
// one that ends partway returns [io.ErrUnexpectedEOF].
func ReadBounded(r io.Reader, maxLen uint64) ([]byte, error) {
	n, err := varint.ReadUvarint(&byteReader{r: r})
	if err != nil {
		if errors.Is(err, varint.ErrOverflow) || errors.Is(err, varint.ErrNotMinimal) {
			return nil, &MalformedLengthError{Err: err}
		}
		return nil, err
	}

	if n > effectiveMax(maxLen) {
		return nil, &FrameTooLargeError{Len: n, Max: maxLen}
	}

	buf := make([]byte, n)
	if n == 0 {
		return buf, nil
	}
	if _, err := io.ReadFull(r, buf); err != nil {
		if errors.Is(err, io.EOF) {
			// The length was already consumed.
			err = io.ErrUnexpectedEOF
		}
		return nil, err
	}

	return buf, nil
}

// byteReader adapts an io.Reader to io.ByteReader
// without any buffering.
type byteReader struct {
	r io.Reader
	b [1]byte
}

func (br *byteReader) ReadByte() (byte, error) {
	if _, err := io.ReadFull(br.r, br.b[:]); err != nil {
		return 0, err
	}
	return br.b[0], nil
}

// effectiveMax clamps a configured maximum
// to what can actually be allocated as a single slice.
func effectiveMax(maxLen uint64) uint64 {
	if maxLen > math.MaxInt {
		return math.MaxInt
	}
	return maxLen
}
