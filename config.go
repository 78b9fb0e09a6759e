// SPDX-License-Identifier: GPL-3.0-or-later

package gensio

import (
	"context"
	"io"
	"net"
	"os"
	"time"
)

// Listener abstracts the [*net.ListenConfig] behavior.
type Listener interface {
	Listen(ctx context.Context, network, address string) (net.Listener, error)
}

// Config is the service handle shared by every endpoint and accepter.
//
// Pass this to constructor functions to pre-wire dependencies.
// All fields have sensible defaults set by [NewConfig].
//
// All fields are safe to modify after construction but before first use.
type Config struct {
	// Defaults is the default-parameter store consulted by constructors.
	//
	// Set by [NewConfig] to [GlobalDefaults].
	Defaults *DefaultStore

	// Dialer is used by [*ConnectFunc].
	//
	// Set by [NewConfig] to [*net.Dialer].
	Dialer Dialer

	// ErrClassifier classifies errors for structured logging.
	//
	// Set by [NewConfig] to [DefaultErrClassifier].
	ErrClassifier ErrClassifier

	// ListenConfig creates listeners for network accepters.
	//
	// Set by [NewConfig] to [*net.ListenConfig].
	ListenConfig Listener

	// Logger receives log messages that pass the process-wide log mask.
	//
	// Set by [NewConfig] to [DefaultSLogger].
	Logger SLogger

	// ReadBufferSize is the size of the buffer transports read into. It
	// also bounds the data a transport queues for writing.
	//
	// Set by [NewConfig] to 16384.
	ReadBufferSize int

	// Registry maps descriptor names to constructors.
	//
	// Set by [NewConfig] to [DefaultRegistry].
	Registry *Registry

	// Resolver resolves host names found in descriptors.
	//
	// Set by [NewConfig] to [net.DefaultResolver].
	Resolver Resolver

	// Stdin is what "stdio(self)" endpoints read.
	//
	// Set by [NewConfig] to [os.Stdin].
	Stdin io.Reader

	// Stdout is what "stdio(self)" endpoints write.
	//
	// Set by [NewConfig] to [os.Stdout].
	Stdout io.Writer

	// TimeNow returns the current time.
	//
	// Set by [NewConfig] to [time.Now].
	TimeNow func() time.Time

	// TLSEngine creates client TLS connections for the ssl filter.
	//
	// Set by [NewConfig] to [TLSEngineStdlib].
	TLSEngine TLSEngine
}

// NewConfig creates a [*Config] with sensible defaults.
func NewConfig() *Config {
	return &Config{
		Defaults:       GlobalDefaults(),
		Dialer:         &net.Dialer{},
		ErrClassifier:  DefaultErrClassifier,
		ListenConfig:   &net.ListenConfig{},
		Logger:         DefaultSLogger(),
		ReadBufferSize: 16384,
		Registry:       DefaultRegistry(),
		Resolver:       net.DefaultResolver,
		Stdin:          os.Stdin,
		Stdout:         os.Stdout,
		TimeNow:        time.Now,
		TLSEngine:      TLSEngineStdlib{},
	}
}
