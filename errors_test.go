// SPDX-License-Identifier: GPL-3.0-or-later

package gensio

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

// ErrToStr returns the stable string of every code.
func TestErrToStr(t *testing.T) {
	tests := []struct {
		code Errno
		want string
	}{
		{ErrNoErr, "No error"},
		{ErrNoMem, "Out of memory"},
		{ErrNotSupported, "Operation not supported"},
		{ErrInvalid, "Invalid data to parameter"},
		{ErrInconsistent, "Parameters inconsistent in call"},
		{ErrTimedOut, "Operation timed out"},
		{16, "errblank"},
		{ErrRemoteClosed, "Remote end closed connection"},
		{ErrInterrupted, "Operation was interrupted by a signal"},
		{34, "Unknown error 34"},
		{-1, "Unknown error -1"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, ErrToStr(tt.code))
			assert.Equal(t, tt.want, tt.code.Error())
		})
	}
}

// Every code in the stable range has a non-empty string.
func TestErrToStrCoversRange(t *testing.T) {
	for code := ErrNoErr; code <= ErrInterrupted; code++ {
		assert.NotEmpty(t, ErrToStr(code), "code %d", code)
	}
}

// Code extracts the code of wrapped errors.
func TestCode(t *testing.T) {
	assert.Equal(t, ErrNoErr, Code(nil))
	assert.Equal(t, ErrInUse, Code(ErrInUse))
	assert.Equal(t, ErrNotFound, Code(fmt.Errorf("lookup: %w", ErrNotFound)))
	assert.Equal(t, ErrOSErr, Code(errors.New("mystery")))
}
