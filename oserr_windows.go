//go:build windows

// SPDX-License-Identifier: GPL-3.0-or-later

package gensio

import (
	"syscall"

	"golang.org/x/sys/windows"
)

var errnoCodes = map[syscall.Errno]Errno{
	windows.WSAEADDRINUSE:      ErrAddrInUse,
	windows.WSAEADDRNOTAVAIL:   ErrInvalid,
	windows.WSAECONNABORTED:    ErrRemoteClosed,
	windows.WSAECONNREFUSED:    ErrConnRefused,
	windows.WSAECONNRESET:      ErrRemoteClosed,
	windows.WSAEHOSTUNREACH:    ErrHostDown,
	windows.WSAEINVAL:          ErrInvalid,
	windows.WSAEINTR:           ErrInterrupted,
	windows.WSAENETDOWN:        ErrHostDown,
	windows.WSAENETUNREACH:     ErrHostDown,
	windows.WSAENOBUFS:         ErrNoMem,
	windows.WSAENOTCONN:        ErrNotReady,
	windows.WSAEPROTONOSUPPORT: ErrNotSupported,
	windows.WSAETIMEDOUT:       ErrTimedOut,
}
