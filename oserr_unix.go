//go:build unix

// SPDX-License-Identifier: GPL-3.0-or-later

package gensio

import (
	"syscall"

	"golang.org/x/sys/unix"
)

var errnoCodes = map[syscall.Errno]Errno{
	unix.E2BIG:           ErrTooBig,
	unix.EADDRINUSE:      ErrAddrInUse,
	unix.EADDRNOTAVAIL:   ErrInvalid,
	unix.EAGAIN:          ErrRetry,
	unix.EBUSY:           ErrInUse,
	unix.ECONNABORTED:    ErrRemoteClosed,
	unix.ECONNREFUSED:    ErrConnRefused,
	unix.ECONNRESET:      ErrRemoteClosed,
	unix.EEXIST:          ErrExists,
	unix.EHOSTDOWN:       ErrHostDown,
	unix.EHOSTUNREACH:    ErrHostDown,
	unix.EINPROGRESS:     ErrInProgress,
	unix.EINTR:           ErrInterrupted,
	unix.EINVAL:          ErrInvalid,
	unix.EIO:             ErrIO,
	unix.ENETDOWN:        ErrHostDown,
	unix.ENETUNREACH:     ErrHostDown,
	unix.ENOBUFS:         ErrNoMem,
	unix.ENOENT:          ErrNotFound,
	unix.ENOMEM:          ErrNoMem,
	unix.ENOSYS:          ErrNotSupported,
	unix.ENOTCONN:        ErrNotReady,
	unix.EOPNOTSUPP:      ErrNotSupported,
	unix.EPIPE:           ErrRemoteClosed,
	unix.EPROTONOSUPPORT: ErrNotSupported,
	unix.ERANGE:          ErrOutOfRange,
	unix.ETIMEDOUT:       ErrTimedOut,
}
