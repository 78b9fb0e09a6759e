// SPDX-License-Identifier: GPL-3.0-or-later

package gensio

import (
	"math"
	"strconv"
	"strings"
)

// The CheckKey functions parse one "key" or "key=value" argument.
//
// They return matched=false when str is about another key, leaving the
// target untouched, and [ErrInvalid] when the key matches but the value
// is malformed. Keys are compared case-insensitively.

// CheckKeyValue returns the value of "key=value".
func CheckKeyValue(str, key string) (string, bool) {
	if len(str) <= len(key) || !strings.EqualFold(str[:len(key)], key) || str[len(key)] != '=' {
		return "", false
	}
	return str[len(key)+1:], true
}

// CheckKeyDS parses an unsigned size. Prefixes 0x and 0 select hex and octal.
func CheckKeyDS(str, key string, rvalue *uint64) (bool, error) {
	sval, found := CheckKeyValue(str, key)
	if !found {
		return false, nil
	}
	value, err := parseUnsigned(sval, 64)
	if err != nil {
		return true, err
	}
	*rvalue = value
	return true, nil
}

// CheckKeyUint parses an unsigned integer that fits in 32 bits.
func CheckKeyUint(str, key string, rvalue *uint) (bool, error) {
	sval, found := CheckKeyValue(str, key)
	if !found {
		return false, nil
	}
	value, err := parseUnsigned(sval, 64)
	if err != nil || value > math.MaxUint32 {
		return true, ErrInvalid
	}
	*rvalue = uint(value)
	return true, nil
}

func parseUnsigned(sval string, bits int) (uint64, error) {
	if sval == "" || strings.ContainsRune(sval, '_') {
		return 0, ErrInvalid
	}
	value, err := strconv.ParseUint(sval, 0, bits)
	if err != nil {
		return 0, ErrInvalid
	}
	return value, nil
}

// CheckKeyBool parses "key" (true) or "key=true|1|false|0".
func CheckKeyBool(str, key string, rvalue *bool) (bool, error) {
	if strings.EqualFold(str, key) {
		*rvalue = true
		return true, nil
	}
	sval, found := CheckKeyValue(str, key)
	if !found {
		return false, nil
	}
	switch sval {
	case "true", "1":
		*rvalue = true
	case "false", "0":
		*rvalue = false
	default:
		return true, ErrInvalid
	}
	return true, nil
}

// CheckKeyBoolV parses "key=<trueval>|<falseval>".
func CheckKeyBoolV(str, key, trueval, falseval string, rvalue *bool) (bool, error) {
	sval, found := CheckKeyValue(str, key)
	if !found {
		return false, nil
	}
	switch {
	case sval == "":
		return true, ErrInvalid
	case sval == trueval:
		*rvalue = true
	case sval == falseval:
		*rvalue = false
	default:
		return true, ErrInvalid
	}
	return true, nil
}

// EnumValue is one symbol of an enumeration.
type EnumValue struct {
	Name  string
	Value int
}

// CheckKeyEnum parses "key=<symbol>", matching symbols case-insensitively.
func CheckKeyEnum(str, key string, enums []EnumValue, rvalue *int) (bool, error) {
	sval, found := CheckKeyValue(str, key)
	if !found {
		return false, nil
	}
	for _, e := range enums {
		if strings.EqualFold(sval, e.Name) {
			*rvalue = e.Value
			return true, nil
		}
	}
	return true, ErrInvalid
}

// CheckKeyAddrs parses "key=<network descriptor>".
//
// The descriptor protocol must equal proto and, when requirePort is set,
// the addresses must carry a port.
func CheckKeyAddrs(cfg *Config, str, key string, proto Protocol,
	listen, requirePort bool, rvalue *[]Addr) (bool, error) {
	sval, found := CheckKeyValue(str, key)
	if !found {
		return false, nil
	}
	if sval == "" {
		return true, ErrInvalid
	}
	spec, err := ScanNetworkPort(cfg, sval, listen, false)
	if err != nil {
		return true, ErrInvalid
	}
	if (requirePort && !spec.PortSet) || spec.Protocol != proto {
		return true, ErrInvalid
	}
	*rvalue = spec.Addrs
	return true, nil
}
