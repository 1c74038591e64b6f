// Package testerr simulates failing dependencies in tests.
package testerr

import (
	"errors"
	"fmt"
)

// Err is the error returned by failing dependencies in tests.
var Err = errors.New("test error")

// Calltracker counts calls to a dependency and decides which of them fail.
// The zero value never fails.
type Calltracker struct {
	err     error
	failAt  int
	sticky  bool
	calls   int
	enabled bool
}

// FailAt returns a tracker that fails only call n (zero based) with err.
func FailAt(err error, n int) Calltracker {
	return Calltracker{err: err, failAt: n, enabled: true}
}

// FailFrom returns a tracker that fails call n and every call after it.
func FailFrom(err error, n int) Calltracker {
	return Calltracker{err: err, failAt: n, sticky: true, enabled: true}
}

// NewFailingDeps returns a FailAt and a FailFrom tracker for each of the
// first expectCalls calls, so every failure point of a sequence is covered.
func NewFailingDeps(err error, expectCalls int) []Calltracker {
	trackers := make([]Calltracker, 0, expectCalls*2)
	for n := 0; n < expectCalls; n++ {
		trackers = append(trackers, FailFrom(err, n), FailAt(err, n))
	}
	return trackers
}

func (ct Calltracker) String() string {
	switch {
	case !ct.enabled:
		return "never"
	case ct.sticky:
		return fmt.Sprintf("from call %d", ct.failAt)
	default:
		return fmt.Sprintf("at call %d", ct.failAt)
	}
}

// next records a call and reports the error it should fail with, if any.
func (ct *Calltracker) next() error {
	if !ct.enabled {
		return nil
	}

	n := ct.calls
	ct.calls++

	if n == ct.failAt || (ct.sticky && n > ct.failAt) {
		return ct.err
	}
	return nil
}

// MaybeFailErrFunc calls f unless the tracker decides this call should fail.
func MaybeFailErrFunc(ct *Calltracker, f func() error) error {
	if err := ct.next(); err != nil {
		return err
	}
	return f()
}

// MaybeFail calls f unless the tracker decides this call should fail.
func MaybeFail[T any](ct *Calltracker, f func() (T, error)) (T, error) {
	if err := ct.next(); err != nil {
		var zero T
		return zero, err
	}
	return f()
}
