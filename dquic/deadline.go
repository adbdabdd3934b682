package dquic

import (
	"context"
	"errors"
	"os"
	"time"
)

// BindContext maps ctx onto the read and write deadlines of s.
//
// The deadlines are set to ctx's deadline (or cleared if there is none),
// and if ctx is canceled before stop is called,
// both deadlines are moved into the past so that blocked calls return.
// The stop function clears both deadlines again;
// it waits for a concurrently firing cancellation to finish first,
// so no stale deadline can be left behind.
func BindContext(ctx context.Context, s Stream) (stop func()) {
	return bindDeadline(ctx, func(t time.Time) {
		_ = s.SetReadDeadline(t)
		_ = s.SetWriteDeadline(t)
	})
}

// BindWriteContext is like [BindContext]
// but only touches the write deadline,
// leaving a concurrent reader of the stream unaffected.
func BindWriteContext(ctx context.Context, s SendStream) (stop func()) {
	return bindDeadline(ctx, func(t time.Time) {
		_ = s.SetWriteDeadline(t)
	})
}

func bindDeadline(ctx context.Context, set func(time.Time)) (stop func()) {
	dl, _ := ctx.Deadline()
	set(dl)

	fired := make(chan struct{})
	stopAfter := context.AfterFunc(ctx, func() {
		defer close(fired)
		set(time.Now())
	})

	return func() {
		if !stopAfter() {
			<-fired
		}
		set(time.Time{})
	}
}

// IsTimeout reports whether err came from an expired stream deadline,
// as opposed to a failure of the stream or connection.
func IsTimeout(err error) bool {
	return errors.Is(err, os.ErrDeadlineExceeded)
}

// ContextError returns the error to report
// when a stream operation bound with [BindContext] timed out.
// That is ctx's cause if ctx is already done,
// or [context.DeadlineExceeded] if the stream deadline
// fired just ahead of ctx's own timer.
func ContextError(ctx context.Context) error {
	if err := context.Cause(ctx); err != nil {
		return err
	}
	return context.DeadlineExceeded
}
