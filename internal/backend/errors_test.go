// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package backend

import (
	"context"
	"fmt"
	"net/url"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
)

func TestUnreachable(t *testing.T) {
	t.Parallel()

	cause := errors.New("dial tcp: connection refused")
	err := fmt.Errorf("fetch files: %w", Unreachable(cause))

	assert.ErrorIs(t, err, ErrUnreachable)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "connection refused")
	assert.ErrorIs(t, Unreachable(nil), ErrUnreachable)
}

func TestMessage(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, ""},
		{"application", fmt.Errorf("set files: %w", &ApplicationError{Message: "invalid file index"}), "invalid file index"},
		{"unreachable", Unreachable(errors.New("timeout")), "Could not reach the download backend"},
		{"not ready", ErrNotReady, "The file list is not available yet"},
		{"other", errors.New("boom"), "boom"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, Message(tt.err))
		})
	}
}

func TestIsTransportError(t *testing.T) {
	t.Parallel()

	assert.False(t, IsTransportError(nil))
	assert.False(t, IsTransportError(&ApplicationError{Message: "x"}))
	assert.True(t, IsTransportError(&url.Error{Op: "Get", URL: "http://x", Err: errors.New("refused")}))
	assert.True(t, IsTransportError(fmt.Errorf("wrap: %w", context.DeadlineExceeded)))
}

func TestStatus_ActivelyProgressing(t *testing.T) {
	t.Parallel()

	assert.True(t, StatusDownloading.ActivelyProgressing())
	assert.True(t, StatusMetadata.ActivelyProgressing())
	for _, s := range []Status{StatusSeeding, StatusStopped, StatusChecking, StatusQueued, StatusError, StatusUnknown} {
		assert.False(t, s.ActivelyProgressing(), s)
	}
	assert.True(t, IsPseudoTracker("[DHT]"))
	assert.False(t, IsPseudoTracker("udp://tracker.example:1337"))
}
