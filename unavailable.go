// SPDX-License-Identifier: GPL-3.0-or-later

package gensio

// Constructors for the types that exist in the descriptor namespace but
// have no transport in this package.

func unsupportedEndpoint(cfg *Config, str string, args []string, cb EventHandler) (*Endpoint, error) {
	return nil, ErrNotSupported
}

func unsupportedEndpointChild(cfg *Config, child *Endpoint, args []string, cb EventHandler) (*Endpoint, error) {
	return nil, ErrNotSupported
}

func unsupportedAccepter(cfg *Config, str string, args []string, cb AccepterEventHandler) (*Accepter, error) {
	return nil, ErrNotSupported
}

func unsupportedAccepterChild(cfg *Config, child *Accepter, args []string, cb AccepterEventHandler) (*Accepter, error) {
	return nil, ErrNotSupported
}

// strToSerialdev handles both "serialdev,/dev/ttyS0" and a bare device path.
func strToSerialdev(cfg *Config, str string, args []string, cb EventHandler) (*Endpoint, error) {
	cfg.Logf(LogDebug, "serialdev %q: serial ports are not available", str)
	return nil, ErrNotSupported
}

// dummyAccepter listens on nothing. It is useful as a placeholder where
// an accepter is required but no connection is expected.
type dummyAccepter struct {
	UnsupportedAccepterOps
}

func strToDummyAccepter(cfg *Config, str string, args []string, cb AccepterEventHandler) (*Accepter, error) {
	if len(args) > 0 || str != "" {
		return nil, ErrInvalid
	}
	return NewAccepter(cfg, cb, &dummyAccepter{}, nil, "dummy", nil), nil
}

func (*dummyAccepter) Startup(acc *Accepter) error {
	return nil
}

func (*dummyAccepter) Shutdown(acc *Accepter, done AccepterDoneFunc) error {
	if done != nil {
		go done(acc)
	}
	return nil
}

func (*dummyAccepter) SetAcceptCallbackEnable(acc *Accepter, enabled bool, done AccepterDoneFunc) error {
	if done != nil {
		go done(acc)
	}
	return nil
}
