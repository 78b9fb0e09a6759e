// SPDX-License-Identifier: GPL-3.0-or-later

package gensio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"syscall"
)

// OSErrToErr translates an OS or network error into the stable code space.
//
// The returned error wraps both the [Errno] and the original error so that
// [errors.Is] matches either one. Errors already carrying an [Errno] are
// returned unchanged. A nil error yields nil.
func OSErrToErr(err error) error {
	if err == nil {
		return nil
	}
	var code Errno
	if errors.As(err, &code) {
		return err
	}
	return fmt.Errorf("%w: %w", osErrCode(err), err)
}

func osErrCode(err error) Errno {
	switch {
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		return ErrRemoteClosed
	case errors.Is(err, net.ErrClosed):
		return ErrNotReady
	case errors.Is(err, os.ErrDeadlineExceeded), errors.Is(err, context.DeadlineExceeded):
		return ErrTimedOut
	case errors.Is(err, context.Canceled):
		return ErrInterrupted
	case errors.Is(err, os.ErrNotExist):
		return ErrNotFound
	case errors.Is(err, os.ErrExist):
		return ErrExists
	}
	var errno syscall.Errno
	if errors.As(err, &errno) {
		if code, found := errnoCodes[errno]; found {
			return code
		}
	}
	return ErrOSErr
}

// ctxErr maps a done context to the code returned by blocking wrappers.
func ctxErr(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrTimedOut
	}
	return ErrInterrupted
}

// osErr translates err and records the translation at debug level.
func (c *Config) osErr(op string, err error) error {
	if err == nil {
		return nil
	}
	translated := OSErrToErr(err)
	c.Logf(LogDebug, "%s: %s (%s)", op, err.Error(), c.ErrClassifier.Classify(err))
	return translated
}
