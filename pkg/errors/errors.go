// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package errors

import (
	stdliberrors "errors"
)

var (
	ErrUnsupported = stdliberrors.ErrUnsupported

	As     = stdliberrors.As
	Is     = stdliberrors.Is
	Join   = stdliberrors.Join
	New    = stdliberrors.New
	Unwrap = stdliberrors.Unwrap
)

func NewRetryable(text string) RetryableError {
	return &retryableError{text}
}

func Retryable(err error) bool {
	var rerr RetryableError
	return As(err, &rerr)
}

type RetryableError interface {
	error
	Retryable()
}

type retryableError struct {
	text string
}

func (r *retryableError) Error() string {
	return r.text
}

func (r *retryableError) Retryable() {}

// NewFatal wraps err as a FatalError: the measurement is compromised and the
// core's top-level finalizer must abort after writing a diagnostic, per
// spec.md §7. pkg/event reports the failures it detects on the event path
// (exit mismatches and catalog errors) this way; pkg/ipc and pkg/unify
// return ordinary errors, so IPC failures are not wrapped as FatalError.
func NewFatal(text string) FatalError {
	return &fatalError{text: text}
}

// WrapFatal marks an existing error as fatal without losing it for
// errors.Unwrap/errors.Is chains.
func WrapFatal(err error) FatalError {
	return &fatalError{text: err.Error(), cause: err}
}

func IsFatal(err error) bool {
	var ferr FatalError
	return As(err, &ferr)
}

// FatalError is the measurement runtime's "abort now" error class: every
// error it can return is, by construction, unrecoverable mid-measurement.
type FatalError interface {
	error
	Fatal()
}

type fatalError struct {
	text  string
	cause error
}

func (f *fatalError) Error() string { return f.text }
func (f *fatalError) Fatal()        {}
func (f *fatalError) Unwrap() error { return f.cause }
