// Copyright 2021 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package obj

import "fmt"

// OperationalError wraps a failure that prevents the tool from producing
// any output at all: a missing file, a malformed object, an unsupported
// ELF class or object type. cmd/kpatch-objdiff maps this to exit code 1.
type OperationalError struct {
	Op  string // the pipeline stage that failed, e.g. "load", "write"
	Err error
}

func (e *OperationalError) Error() string {
	return fmt.Sprintf("%s: %s", e.Op, e.Err)
}

func (e *OperationalError) Unwrap() error { return e.Err }

// NewOperationalError wraps err as an OperationalError attributed to op.
func NewOperationalError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &OperationalError{Op: op, Err: err}
}

// UnreconcilableError wraps a structural difference between the two
// inputs that the pipeline is not able to express as a patch: a changed
// header field, a symbol whose kind changed, a section whose header fields
// diverge. cmd/kpatch-objdiff maps this to exit code 2.
type UnreconcilableError struct {
	Reason string
	Err    error
}

func (e *UnreconcilableError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s", e.Reason, e.Err)
	}
	return e.Reason
}

func (e *UnreconcilableError) Unwrap() error { return e.Err }

// NewUnreconcilableError reports reason, optionally wrapping a lower-level
// cause.
func NewUnreconcilableError(reason string, err error) error {
	return &UnreconcilableError{Reason: reason, Err: err}
}