// SPDX-License-Identifier: GPL-3.0-or-later

package loopnet

import (
	"net"
	"time"

	"github.com/bassosimone/loopnet/errclass"
)

// Config holds common configuration shared across loopnet operations:
// dialing, TLS handshaking, and structured logging.
//
// Pass this to constructor functions to pre-wire dependencies.
// All fields have sensible defaults set by [NewConfig].
type Config struct {
	// Dialer is used by [*ConnectFunc].
	//
	// Set by [NewConfig] to [*net.Dialer].
	Dialer Dialer

	// ErrClassifier classifies errors for structured logging.
	//
	// Set by [NewConfig] to [ErrClassifierFunc] wrapping [errclass.New].
	// Pass [DefaultErrClassifier] instead to disable classification.
	ErrClassifier ErrClassifier

	// TimeNow returns the current time.
	//
	// Set by [NewConfig] to [time.Now].
	TimeNow func() time.Time
}

// NewConfig creates a [*Config] with sensible defaults.
func NewConfig() *Config {
	return &Config{
		Dialer:        &net.Dialer{},
		ErrClassifier: ErrClassifierFunc(errclass.New),
		TimeNow:       time.Now,
	}
}
