package dtest

import (
	"testing"
	"time"
)

// ScaleDuration is the base wait for the "soon" helpers.
// It is generous because the QUIC tests share the machine with everything else.
const ScaleDuration = 2 * time.Second

// ReceiveSoon returns the value received from ch,
// failing the test if nothing arrives within [ScaleDuration].
func ReceiveSoon[T any](t testing.TB, ch <-chan T) T {
	t.Helper()

	select {
	case v := <-ch:
		return v
	case <-time.After(ScaleDuration):
		t.Fatalf("no value received within %s", ScaleDuration)
	}

	panic("unreachable")
}

// SendSoon sends v on ch,
// failing the test if the send does not complete within [ScaleDuration].
func SendSoon[T any](t testing.TB, ch chan<- T, v T) {
	t.Helper()

	select {
	case ch <- v:
	case <-time.After(ScaleDuration):
		t.Fatalf("could not send value within %s", ScaleDuration)
	}
}

// IsSending asserts that ch is immediately readable,
// typically because it has been closed.
func IsSending[T any](t testing.TB, ch <-chan T) {
	t.Helper()

	select {
	case <-ch:
	default:
		t.Fatal("channel should have been sending but was not")
	}
}

// NotSending asserts that ch is not immediately readable.
func NotSending[T any](t testing.TB, ch <-chan T) {
	t.Helper()

	select {
	case <-ch:
		t.Fatal("channel should not have been sending but was")
	default:
	}
}
