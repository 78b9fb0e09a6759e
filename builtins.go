// SPDX-License-Identifier: GPL-3.0-or-later

package gensio

// addBuiltinEndpoints registers the built-in endpoint types. Types without
// a Go transport are registered anyway, so a descriptor naming them fails
// with [ErrNotSupported] rather than being parsed as something else.
func addBuiltinEndpoints(l *factoryList[EndpointFactory, EndpointChildFactory]) {
	l.add("tcp", strToTCPEndpoint, nil)
	l.add("udp", strToUDPEndpoint, nil)
	l.add("sctp", unsupportedEndpoint, nil)
	l.add("stdio", strToStdioEndpoint, nil)
	l.add("pty", unsupportedEndpoint, nil)
	l.add("ssl", filterEndpointFactory(sslEndpointAlloc), sslEndpointAlloc)
	l.add("certauth", unsupportedEndpoint, unsupportedEndpointChild)
	l.add("telnet", unsupportedEndpoint, unsupportedEndpointChild)
	l.add("serialdev", strToSerialdev, nil)
	l.add("echo", strToEchoEndpoint, nil)
}

// addBuiltinAccepters registers the built-in accepter types.
func addBuiltinAccepters(l *factoryList[AccepterFactory, AccepterChildFactory]) {
	l.add("tcp", strToTCPAccepter, nil)
	l.add("udp", unsupportedAccepter, nil)
	l.add("sctp", unsupportedAccepter, nil)
	l.add("stdio", strToStdioAccepter, nil)
	l.add("ssl", filterAccepterFactory(sslAccepterAlloc), sslAccepterAlloc)
	l.add("certauth", unsupportedAccepter, unsupportedAccepterChild)
	l.add("telnet", unsupportedAccepter, unsupportedAccepterChild)
	l.add("dummy", strToDummyAccepter, nil)
}

// filterEndpointFactory turns a child factory into a factory parsing the
// rest of the descriptor as the child. The child is freed on failure.
func filterEndpointFactory(alloc EndpointChildFactory) EndpointFactory {
	return func(cfg *Config, str string, args []string, cb EventHandler) (*Endpoint, error) {
		child, err := StrToEndpoint(cfg, str, nil)
		if err != nil {
			return nil, err
		}
		io, err := alloc(cfg, child, args, cb)
		if err != nil {
			child.Free()
			return nil, err
		}
		return io, nil
	}
}

// filterAccepterFactory is the accepter version of [filterEndpointFactory].
func filterAccepterFactory(alloc AccepterChildFactory) AccepterFactory {
	return func(cfg *Config, str string, args []string, cb AccepterEventHandler) (*Accepter, error) {
		child, err := StrToAccepter(cfg, str, nil)
		if err != nil {
			return nil, err
		}
		acc, err := alloc(cfg, child, args, cb)
		if err != nil {
			child.Free()
			return nil, err
		}
		return acc, nil
	}
}
