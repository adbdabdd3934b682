package dpubsub

import "context"

// Stream is one node of a published sequence.
//
// Val and Next may only be read after Ready is closed.
// There is exactly one publisher per sequence.
//
// A reader holding an unpublished node keeps every later node reachable,
// so readers that stop consuming must drop their node.
type Stream[T any] struct {
	Ready chan struct{}
	Next  *Stream[T]
	Val   T
}

// NewStream returns the unpublished head of a new sequence.
func NewStream[T any]() *Stream[T] {
	return &Stream[T]{
		Ready: make(chan struct{}),
	}
}

// Publish sets s.Val to t, allocates s.Next, and then closes s.Ready.
//
// Publish panics if s was already published.
func (s *Stream[T]) Publish(t T) {
	s.Val = t
	s.Next = NewStream[T]()
	close(s.Ready)
}

// RunChannelToStream publishes every value received on ch,
// from a new goroutine, to the returned sequence.
//
// The goroutine stops once ctx is done or ch is closed,
// and then closes done.
// Values sent on ch after that are never received.
func RunChannelToStream[T any](ctx context.Context, ch <-chan T) (
	s *Stream[T], done <-chan struct{},
) {
	s = NewStream[T]()
	doneCh := make(chan struct{})

	go publishFromChannel(ctx, ch, s, doneCh)

	return s, doneCh
}

func publishFromChannel[T any](
	ctx context.Context,
	ch <-chan T,
	tail *Stream[T],
	done chan<- struct{},
) {
	defer close(done)

	for {
		select {
		case <-ctx.Done():
			return

		case v, ok := <-ch:
			if !ok {
				return
			}
			tail.Publish(v)
			tail = tail.Next
		}
	}
}
