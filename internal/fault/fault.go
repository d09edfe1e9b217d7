// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package fault classifies the errors raised across the flow pipeline so
// callers can decide between exiting, degrading and carrying on.
package fault

import (
	"errors"
	"fmt"
)

// Kind is the class of a failure.
type Kind int

const (
	// KindUnknown is reported for errors that carry no fault classification.
	KindUnknown Kind = iota
	// KindFatalInit means a component could not be brought up; the process exits.
	KindFatalInit
	// KindFailStop means the pipeline stopped processing and ignores further input.
	KindFailStop
	// KindReadFailure is a single failed sensor read; the sampler carries on.
	KindReadFailure
	// KindMissingCalibration means a calibration source was absent and defaults apply.
	KindMissingCalibration
)

func (k Kind) String() string {
	switch k {
	case KindFatalInit:
		return "fatal-init"
	case KindFailStop:
		return "fail-stop"
	case KindReadFailure:
		return "read-failure"
	case KindMissingCalibration:
		return "missing-calibration"
	default:
		return "unknown"
	}
}

// Error is a classified failure of operation Op.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New returns an Error of the given kind. err may be nil.
func New(kind Kind, op string, err error) error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Errorf formats a message into a classified error. %w verbs are honoured.
func Errorf(kind Kind, op, format string, args ...any) error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// KindOf returns the kind of the first classified error in err's chain.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return KindUnknown
}

// Is reports whether err is classified as kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
