//
// SPDX-License-Identifier: GPL-3.0-or-later
//
// Adapted from: https://github.com/rbmk-project/rbmk/blob/v0.17.0/pkg/common/errclass/errclass.go
//

// Package errclass maps errors observed by loopnet's network, TLS, and DNS
// primitives onto short, platform-independent classification strings
// (e.g. "ETIMEDOUT", "ECONNRESET") suitable for structured logging and
// systematic analysis of operation failures.
package errclass

import (
	"context"
	"errors"
	"io"
	"net"
	"syscall"
)

// Generic classes that do not map to a syscall errno.
const (
	EGENERIC  = "unknown_failure"
	ECANCELED = "interrupted"
	ETIMEOUT  = "generic_timeout_error"
	EEOF      = "eof_error"
)

// Exported names for the syscall-errno classes defined per-platform in
// unix.go and windows.go.
const (
	EADDRNOTAVAIL   = "EADDRNOTAVAIL"
	EADDRINUSE      = "EADDRINUSE"
	ECONNABORTED    = "ECONNABORTED"
	ECONNREFUSED    = "ECONNREFUSED"
	ECONNRESET      = "ECONNRESET"
	EHOSTUNREACH    = "EHOSTUNREACH"
	EINVAL          = "EINVAL"
	EINTR           = "EINTR"
	ENETDOWN        = "ENETDOWN"
	ENETUNREACH     = "ENETUNREACH"
	ENOBUFS         = "ENOBUFS"
	ENOTCONN        = "ENOTCONN"
	EPROTONOSUPPORT = "EPROTONOSUPPORT"
	ETIMEDOUT       = "ETIMEDOUT"
)

// New classifies err into one of the class strings above, or [EGENERIC]
// when no more specific classification applies. A nil error classifies
// to the empty string.
func New(err error) string {
	if err == nil {
		return ""
	}

	if errors.Is(err, context.Canceled) {
		return ECANCELED
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ETIMEOUT
	}
	if errors.Is(err, io.EOF) {
		return EEOF
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ETIMEOUT
	}

	var errno syscall.Errno
	if errors.As(err, &errno) {
		if class, ok := classifyErrno(errno); ok {
			return class
		}
	}

	return EGENERIC
}

func classifyErrno(errno syscall.Errno) (string, bool) {
	switch errno {
	case errEADDRNOTAVAIL:
		return EADDRNOTAVAIL, true
	case errEADDRINUSE:
		return EADDRINUSE, true
	case errECONNABORTED:
		return ECONNABORTED, true
	case errECONNREFUSED:
		return ECONNREFUSED, true
	case errECONNRESET:
		return ECONNRESET, true
	case errEHOSTUNREACH:
		return EHOSTUNREACH, true
	case errEINVAL:
		return EINVAL, true
	case errEINTR:
		return EINTR, true
	case errENETDOWN:
		return ENETDOWN, true
	case errENETUNREACH:
		return ENETUNREACH, true
	case errENOBUFS:
		return ENOBUFS, true
	case errENOTCONN:
		return ENOTCONN, true
	case errEPROTONOSUPPORT:
		return EPROTONOSUPPORT, true
	case errETIMEDOUT:
		return ETIMEDOUT, true
	default:
		return "", false
	}
}
