// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package backend

import (
	"context"
	"net"
	"net/url"

	"github.com/pkg/errors"
)

var (
	// ErrUnreachable means the backend produced no response at all.
	ErrUnreachable = errors.New("backend unreachable")
	// ErrNotReady means the job exists but its file list is not known yet.
	ErrNotReady = errors.New("file list not available yet")
	// ErrJobNotFound means the backend does not know the job.
	ErrJobNotFound = errors.New("job not found")
	// ErrUnsupported means the backend cannot perform the operation.
	ErrUnsupported = errors.New("operation not supported by backend")
	// ErrInvalidFileIndex means a selection referenced a file outside the job.
	ErrInvalidFileIndex = errors.New("invalid file index")
)

// ApplicationError is a well-formed error reply from the backend.
type ApplicationError struct {
	Message string
	Handled bool
}

func (e *ApplicationError) Error() string {
	return e.Message
}

// Unreachable wraps a transport failure so it matches ErrUnreachable while
// keeping the cause.
func Unreachable(cause error) error {
	if cause == nil {
		return ErrUnreachable
	}
	return &unreachableError{cause: cause}
}

type unreachableError struct {
	cause error
}

func (e *unreachableError) Error() string {
	return ErrUnreachable.Error() + ": " + e.cause.Error()
}

func (e *unreachableError) Unwrap() error { return e.cause }

func (e *unreachableError) Is(target error) bool {
	return target == ErrUnreachable
}

// IsTransportError reports whether err looks like a connectivity failure
// rather than a reply from the backend.
func IsTransportError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

// Message returns the text shown to a user for a failed action: the backend
// message for application errors and a generic text otherwise.
func Message(err error) string {
	var appErr *ApplicationError
	switch {
	case err == nil:
		return ""
	case errors.As(err, &appErr):
		return appErr.Message
	case errors.Is(err, ErrUnreachable):
		return "Could not reach the download backend"
	case errors.Is(err, ErrNotReady):
		return "The file list is not available yet"
	default:
		return err.Error()
	}
}
