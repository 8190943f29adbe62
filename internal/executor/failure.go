package executor

import (
	"context"
	"errors"
)

// Kind classifies an action failure. Transient failures are retried with
// backoff up to the workspace's max_retries; fatal failures stop forward
// progress immediately and may trigger rollback.
type Kind string

const (
	KindTransient Kind = "transient"
	KindFatal     Kind = "fatal"
)

type Failure struct {
	Kind Kind
	Err  error
}

func (f *Failure) Error() string { return string(f.Kind) + ": " + f.Err.Error() }
func (f *Failure) Unwrap() error { return f.Err }

func Transient(err error) error { return &Failure{Kind: KindTransient, Err: err} }
func Fatal(err error) error     { return &Failure{Kind: KindFatal, Err: err} }

// Classify returns the failure kind for an action error. A timed-out action
// is transient (the worker gave up waiting, the action may have partially
// applied; actions are idempotent under retry). Unclassified errors are
// treated as transient too — retries are bounded, and escalation to fatal
// happens when they are exhausted.
func Classify(err error) Kind {
	var f *Failure
	if errors.As(err, &f) {
		return f.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return KindTransient
	}
	return KindTransient
}
