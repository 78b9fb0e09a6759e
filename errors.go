// SPDX-License-Identifier: GPL-3.0-or-later

package gensio

import (
	"errors"
	"strconv"
)

// Errno is a stable error code returned by every operation in this package.
//
// The numeric values are part of the external interface and never change.
// An [Errno] is an error, so callers can use [errors.Is] against the exported
// values even when the code wraps an underlying OS error.
type Errno int

// Stable error codes.
const (
	ErrNoErr        Errno = 0
	ErrNoMem        Errno = 1
	ErrNotSupported Errno = 2
	ErrInvalid      Errno = 3
	ErrNotFound     Errno = 4
	ErrExists       Errno = 5
	ErrOutOfRange   Errno = 6
	ErrInconsistent Errno = 7
	ErrNoData       Errno = 8
	ErrOSErr        Errno = 9
	ErrInUse        Errno = 10
	ErrInProgress   Errno = 11
	ErrNotReady     Errno = 12
	ErrTooBig       Errno = 13
	ErrTimedOut     Errno = 14
	ErrRetry        Errno = 15

	// 16 is reserved and intentionally blank.

	ErrKeyNotFound   Errno = 17
	ErrCertRevoked   Errno = 18
	ErrCertExpired   Errno = 19
	ErrKeyInvalid    Errno = 20
	ErrNoCert        Errno = 21
	ErrCertInvalid   Errno = 22
	ErrProtocol      Errno = 23
	ErrComm          Errno = 24
	ErrIO            Errno = 25
	ErrRemoteClosed  Errno = 26
	ErrHostDown      Errno = 27
	ErrConnRefused   Errno = 28
	ErrDataMissing   Errno = 29
	ErrCertNotFound  Errno = 30
	ErrAuthRejected  Errno = 31
	ErrAddrInUse     Errno = 32
	ErrInterrupted   Errno = 33
)

var errnoStrings = [...]string{
	ErrNoErr:        "No error",
	ErrNoMem:        "Out of memory",
	ErrNotSupported: "Operation not supported",
	ErrInvalid:      "Invalid data to parameter",
	ErrNotFound:     "Value or file not found",
	ErrExists:       "Value already exists",
	ErrOutOfRange:   "Value out of range",
	ErrInconsistent: "Parameters inconsistent in call",
	ErrNoData:       "No data was available for the function",
	ErrOSErr:        "OS error, see logs",
	ErrInUse:        "Value already in use",
	ErrInProgress:   "Operation is in progress",
	ErrNotReady:     "Object was not ready for the operation",
	ErrTooBig:       "Value was too large",
	ErrTimedOut:     "Operation timed out",
	ErrRetry:        "Retry operation later",
	16:              "errblank",
	ErrKeyNotFound:  "Unable to find the given key",
	ErrCertRevoked:  "Key was revoked",
	ErrCertExpired:  "Key is expired",
	ErrKeyInvalid:   "Key is not valid",
	ErrNoCert:       "A certificate was not provided",
	ErrCertInvalid:  "Certificate is not valid",
	ErrProtocol:     "Protocol error",
	ErrComm:         "Communication error",
	ErrIO:           "Internal I/O error",
	ErrRemoteClosed: "Remote end closed connection",
	ErrHostDown:     "Host is down",
	ErrConnRefused:  "Connection refused",
	ErrDataMissing:  "Required data is missing",
	ErrCertNotFound: "Unable to find a valid certificate",
	ErrAuthRejected: "Authentication tokens rejected",
	ErrAddrInUse:    "Address already in use",
	ErrInterrupted:  "Operation was interrupted by a signal",
}

// Error implements error.
func (e Errno) Error() string {
	return ErrToStr(e)
}

// ErrToStr returns the stable human-readable string for a code.
//
// Codes outside the known range map to "Unknown error <n>".
func ErrToStr(code Errno) string {
	if code < 0 || int(code) >= len(errnoStrings) {
		return "Unknown error " + strconv.Itoa(int(code))
	}
	return errnoStrings[code]
}

// Code returns the [Errno] carried by err.
//
// A nil error maps to [ErrNoErr], an error without a code to [ErrOSErr].
func Code(err error) Errno {
	if err == nil {
		return ErrNoErr
	}
	var code Errno
	if errors.As(err, &code) {
		return code
	}
	return ErrOSErr
}
