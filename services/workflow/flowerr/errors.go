// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package flowerr defines the error categories shared by the workflow engine,
// its node executors and the I/O primitives they depend on.
//
// Every failure that crosses a package boundary is wrapped in an *Error that
// carries one of four kinds. Callers branch on the kind with errors.Is against
// the sentinel values or with KindOf:
//
//	if errors.Is(err, flowerr.ErrResourceLimit) {
//	    // download exceeded its byte cap
//	}
package flowerr

import (
	"errors"
	"fmt"
)

// Kind classifies a failure.
type Kind int

const (
	// KindUnknown is reported for errors that were never categorised.
	KindUnknown Kind = iota

	// KindValidation covers malformed graphs and node parameters. A run with
	// a validation error in its graph never starts.
	KindValidation

	// KindConfiguration covers missing credentials and binaries.
	KindConfiguration

	// KindExternalService covers non-2xx responses, non-zero exit codes and
	// timeouts of any collaborator.
	KindExternalService

	// KindResourceLimit covers byte caps exceeded by a download.
	KindResourceLimit
)

// Sentinel errors matched by errors.Is for each kind.
var (
	ErrValidation      = errors.New("validation error")
	ErrConfiguration   = errors.New("configuration error")
	ErrExternalService = errors.New("external service error")
	ErrResourceLimit   = errors.New("resource limit exceeded")
)

// String returns the lower-case name of the kind.
func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindConfiguration:
		return "configuration"
	case KindExternalService:
		return "external_service"
	case KindResourceLimit:
		return "resource_limit"
	default:
		return "unknown"
	}
}

func (k Kind) sentinel() error {
	switch k {
	case KindValidation:
		return ErrValidation
	case KindConfiguration:
		return ErrConfiguration
	case KindExternalService:
		return ErrExternalService
	case KindResourceLimit:
		return ErrResourceLimit
	default:
		return nil
	}
}

// Error is a categorised failure.
type Error struct {
	// Kind is the failure category.
	Kind Kind

	// Op names the operation that failed, e.g. "download" or "crop".
	Op string

	// Err is the underlying cause.
	Err error
}

// Error returns "op: cause", or only the cause when Op is empty.
func (e *Error) Error() string {
	msg := "<nil>"
	if e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Op == "" {
		return msg
	}
	return e.Op + ": " + msg
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is the sentinel for this error's kind.
func (e *Error) Is(target error) bool {
	s := e.Kind.sentinel()
	return s != nil && target == s
}

// New creates an *Error of the given kind.
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Validationf creates a validation error from a format string.
func Validationf(op, format string, args ...any) *Error {
	return New(KindValidation, op, fmt.Errorf(format, args...))
}

// Configurationf creates a configuration error from a format string.
func Configurationf(op, format string, args ...any) *Error {
	return New(KindConfiguration, op, fmt.Errorf(format, args...))
}

// ExternalService wraps err as an external service failure.
func ExternalService(op string, err error) *Error {
	return New(KindExternalService, op, err)
}

// ExternalServicef creates an external service error from a format string.
func ExternalServicef(op, format string, args ...any) *Error {
	return New(KindExternalService, op, fmt.Errorf(format, args...))
}

// ResourceLimitf creates a resource limit error from a format string.
func ResourceLimitf(op, format string, args ...any) *Error {
	return New(KindResourceLimit, op, fmt.Errorf(format, args...))
}

// KindOf returns the kind of the first *Error in err's chain, or KindUnknown.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return KindUnknown
}
