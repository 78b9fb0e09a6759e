// SPDX-License-Identifier: GPL-3.0-or-later

package gensio

import (
	"strings"
)

// argvSeparators split the arguments of a "name(args)" list.
const argvSeparators = " \f\n\r\t\v,"

const descriptorSpace = " \f\n\r\t\v"

// StrToArgv splits str into arguments separated by any byte of seps.
//
// Single or double quotes group bytes, including separators, into one
// argument. A backslash escapes the next byte; inside quotes \n, \r and
// \t stand for the control characters. An unterminated quote or a
// trailing backslash returns [ErrInvalid].
func StrToArgv(str, seps string) ([]string, error) {
	argv, _, err := strToArgvEnd(str, seps, 0)
	return argv, err
}

// strToArgvEnd is like StrToArgv but stops at endchar when it is not zero,
// returning what follows it. Missing endchar returns [ErrInvalid].
func strToArgvEnd(str, seps string, endchar byte) ([]string, string, error) {
	argv := []string{}
	idx := 0
	isSep := func(c byte) bool {
		return strings.IndexByte(seps, c) >= 0
	}
	for {
		for idx < len(str) && isSep(str[idx]) {
			idx++
		}
		if idx == len(str) {
			if endchar != 0 {
				return nil, "", ErrInvalid
			}
			return argv, "", nil
		}
		if endchar != 0 && str[idx] == endchar {
			return argv, str[idx+1:], nil
		}

		var arg strings.Builder
		for idx < len(str) {
			c := str[idx]
			if isSep(c) || (endchar != 0 && c == endchar) {
				break
			}
			switch c {
			case '"', '\'':
				next, err := scanQuoted(str, idx, &arg)
				if err != nil {
					return nil, "", err
				}
				idx = next
			case '\\':
				if idx+1 == len(str) {
					return nil, "", ErrInvalid
				}
				arg.WriteByte(str[idx+1])
				idx += 2
			default:
				arg.WriteByte(c)
				idx++
			}
		}
		argv = append(argv, arg.String())
	}
}

// scanQuoted copies the quoted string starting at str[start] into arg and
// returns the index following the closing quote.
func scanQuoted(str string, start int, arg *strings.Builder) (int, error) {
	quote := str[start]
	for idx := start + 1; idx < len(str); idx++ {
		c := str[idx]
		switch {
		case c == quote:
			return idx + 1, nil
		case c == '\\':
			idx++
			if idx == len(str) {
				return 0, ErrInvalid
			}
			switch str[idx] {
			case 'n':
				arg.WriteByte('\n')
			case 'r':
				arg.WriteByte('\r')
			case 't':
				arg.WriteByte('\t')
			default:
				arg.WriteByte(str[idx])
			}
		default:
			arg.WriteByte(c)
		}
	}
	return 0, ErrInvalid
}

// ScanArgs parses the optional "(args)" list at the start of str.
//
// With a list, the closing parenthesis must be followed by "," or the end
// of the string. Without a list a leading "," is skipped. The rest of the
// descriptor is returned along with the arguments.
func ScanArgs(str string) (string, []string, error) {
	if !strings.HasPrefix(str, "(") {
		return strings.TrimPrefix(str, ","), []string{}, nil
	}
	args, rest, err := strToArgvEnd(str[1:], argvSeparators, ')')
	if err != nil {
		return "", nil, err
	}
	if rest != "" && rest[0] != ',' {
		return "", nil, ErrInvalid
	}
	return strings.TrimPrefix(rest, ","), args, nil
}

// StrToEndpoint builds an endpoint chain from a descriptor.
//
// The descriptor is a registered name followed by optional "(args)" and by
// the rest of the descriptor, e.g. "ssl(CA=/etc/ca.pem),tcp,localhost,443".
// A descriptor that matches no name is either a device path starting with
// "/" or a network descriptor such as "ipv4,udp,localhost,1234", which must
// carry a port. The endpoint is returned closed.
func StrToEndpoint(cfg *Config, str string, cb EventHandler) (*Endpoint, error) {
	str = strings.TrimLeft(str, descriptorSpace)
	if e := cfg.Registry.endpoints.match(str, ",("); e != nil {
		rest, args, err := ScanArgs(str[len(e.name):])
		if err != nil {
			return nil, err
		}
		return e.factory(cfg, rest, args, cb)
	}

	if strings.HasPrefix(str, "/") {
		return strToSerialdev(cfg, str, nil, cb)
	}

	spec, err := ScanNetworkPort(cfg, str, false, true)
	if err != nil {
		return nil, err
	}
	if !spec.PortSet {
		return nil, ErrInvalid
	}
	switch spec.Protocol {
	case ProtocolTCP:
		return tcpEndpointAlloc(cfg, spec.Addrs, spec.Args, cb)
	case ProtocolUDP:
		return udpEndpointAlloc(cfg, spec.Addrs, spec.Args, cb)
	case ProtocolSCTP:
		return nil, ErrNotSupported
	default:
		return nil, ErrInvalid
	}
}

// StrToEndpointChild stacks the filter named by str on top of child.
//
// Only "name" and "name(args)" are valid here. On success the new
// endpoint owns child.
func StrToEndpointChild(cfg *Config, child *Endpoint, str string, cb EventHandler) (*Endpoint, error) {
	str = strings.TrimLeft(str, descriptorSpace)
	e := cfg.Registry.endpoints.match(str, "(")
	if e == nil || e.child == nil {
		return nil, ErrInvalid
	}
	rest, args, err := ScanArgs(str[len(e.name):])
	if err != nil {
		return nil, err
	}
	if rest != "" {
		return nil, ErrInvalid
	}
	return e.child(cfg, child, args, cb)
}

// StrToAccepter builds an accepter chain from a descriptor.
//
// Besides registered names, an all-zero string such as "0" selects the
// stdio accepter, and a network descriptor with a port selects a network
// accepter.
func StrToAccepter(cfg *Config, str string, cb AccepterEventHandler) (*Accepter, error) {
	str = strings.TrimLeft(str, descriptorSpace)
	if e := cfg.Registry.accepters.match(str, ",("); e != nil {
		rest, args, err := ScanArgs(str[len(e.name):])
		if err != nil {
			return nil, err
		}
		return e.factory(cfg, rest, args, cb)
	}

	if isAllZero(str) {
		return stdioAccepterAlloc(cfg, nil, cb)
	}

	spec, err := ScanNetworkPort(cfg, str, true, true)
	if err != nil {
		return nil, err
	}
	if !spec.PortSet {
		return nil, ErrInvalid
	}
	switch spec.Protocol {
	case ProtocolTCP:
		return tcpAccepterAlloc(cfg, spec.Addrs, spec.Args, cb)
	case ProtocolUDP, ProtocolSCTP:
		return nil, ErrNotSupported
	default:
		return nil, ErrInvalid
	}
}

// StrToAccepterChild stacks the filter accepter named by str on top of child.
func StrToAccepterChild(cfg *Config, child *Accepter, str string, cb AccepterEventHandler) (*Accepter, error) {
	str = strings.TrimLeft(str, descriptorSpace)
	e := cfg.Registry.accepters.match(str, ",(")
	if e == nil || e.child == nil {
		return nil, ErrInvalid
	}
	_, args, err := ScanArgs(str[len(e.name):])
	if err != nil {
		return nil, err
	}
	return e.child(cfg, child, args, cb)
}

func isAllZero(str string) bool {
	return str != "" && strings.Trim(str, "0") == ""
}
