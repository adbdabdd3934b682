// Package dselect is a minimal protocol name selection
// for a freshly opened [dquic.Stream].
//
// The opening side proposes names one at a time, in preference order,
// each as a length-prefixed frame.
// The accepting side answers each proposal with a frame:
// the same name to accept it, or an empty frame to decline.
// When the proposer runs out of names, it closes its writing side,
// which the accepting side observes as [ErrNoCommonProtocol].
//
// After a name is accepted, the stream belongs to that protocol
// with nothing else buffered on either side.
package dselect

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/gordian-engine/dnotif/dframe"
	"github.com/gordian-engine/dnotif/dquic"
)

// MaxNameLen is the longest protocol name that may be proposed.
const MaxNameLen = 256

// ErrNoCommonProtocol is returned when no proposed name
// was acceptable to the other side.
var ErrNoCommonProtocol = errors.New("no common protocol")

// InvalidNameError is returned for an empty name
// or a name longer than [MaxNameLen].
type InvalidNameError struct {
	Name string
}

func (e *InvalidNameError) Error() string {
	return fmt.Sprintf("invalid protocol name %q (must be 1-%d bytes)", e.Name, MaxNameLen)
}

// UnexpectedReplyError is returned from [Propose]
// when the accepting side answered with something
// other than the proposed name or an empty frame.
type UnexpectedReplyError struct {
	Proposed, Reply string
}

func (e *UnexpectedReplyError) Error() string {
	return fmt.Sprintf("proposed %q but peer replied %q", e.Proposed, e.Reply)
}

// Propose offers names in order and returns the first one accepted.
//
// If every name is declined, Propose closes the writing side of s
// and returns [ErrNoCommonProtocol].
// Only read and write deadlines derived from ctx are applied to s.
func Propose[N ~string](ctx context.Context, s dquic.Stream, names []N) (N, error) {
	var zero N
	for _, n := range names {
		if err := validateName(string(n)); err != nil {
			return zero, err
		}
	}

	stop := dquic.BindContext(ctx, s)
	defer stop()

	for _, n := range names {
		if _, err := s.Write(dframe.AppendFrame(nil, []byte(n))); err != nil {
			return zero, streamError(ctx, "failed to propose protocol", err)
		}

		reply, err := dframe.ReadBounded(s, MaxNameLen)
		if err != nil {
			return zero, streamError(ctx, "failed to read proposal reply", err)
		}

		if len(reply) == 0 {
			continue
		}
		if string(reply) != string(n) {
			return zero, &UnexpectedReplyError{Proposed: string(n), Reply: string(reply)}
		}
		return n, nil
	}

	if err := s.Close(); err != nil {
		return zero, fmt.Errorf("failed to end proposals: %w", err)
	}
	return zero, ErrNoCommonProtocol
}

// Select reads proposals from s and accepts the first one present in names.
//
// The order of names does not matter;
// the proposer's preference order wins.
func Select[N ~string](ctx context.Context, s dquic.Stream, names []N) (N, error) {
	var zero N

	stop := dquic.BindContext(ctx, s)
	defer stop()

	for {
		proposal, err := dframe.ReadBounded(s, MaxNameLen)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return zero, ErrNoCommonProtocol
			}
			return zero, streamError(ctx, "failed to read proposal", err)
		}

		for _, n := range names {
			if string(n) != string(proposal) {
				continue
			}

			if _, err := s.Write(dframe.AppendFrame(nil, proposal)); err != nil {
				return zero, streamError(ctx, "failed to accept proposal", err)
			}
			return n, nil
		}

		// Decline.
		if _, err := s.Write([]byte{0}); err != nil {
			return zero, streamError(ctx, "failed to decline proposal", err)
		}
	}
}

func validateName(n string) error {
	if len(n) == 0 || len(n) > MaxNameLen {
		return &InvalidNameError{Name: n}
	}
	return nil
}

func streamError(ctx context.Context, msg string, err error) error {
	if dquic.IsTimeout(err) {
		err = dquic.ContextError(ctx)
	}
	return fmt.Errorf("%s: %w", msg, err)
}
