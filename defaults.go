// SPDX-License-Identifier: GPL-3.0-or-later

package gensio

import (
	"math"
	"strconv"
	"strings"
	"sync"
)

// DefaultType is the value type of a default parameter.
type DefaultType int

// Default parameter types.
const (
	DefaultInt DefaultType = iota + 1
	DefaultBool
	DefaultEnum
	DefaultString
)

// defaultValue holds either an integer or an optional string.
type defaultValue struct {
	intval int
	strval *string
}

type defaultEntry struct {
	name     string
	typ      DefaultType
	min, max int
	enums    []EnumValue
	def      defaultValue
	val      defaultValue
	valSet   bool

	// classVals maps a class (namespace) to its override.
	classVals map[string]defaultValue
}

func (d *defaultEntry) reset() {
	d.classVals = nil
	d.val = defaultValue{}
	d.valSet = false
}

func strDefault(name string, value string) defaultEntry {
	return defaultEntry{name: name, typ: DefaultString, def: defaultValue{strval: &value}}
}

// builtinDefaults is the compiled-in table copied into every store.
var builtinDefaults = []defaultEntry{
	// tcp, udp and sctp
	{name: "nodelay", typ: DefaultBool},
	{name: "laddr", typ: DefaultString},
	{name: "instreams", typ: DefaultInt, min: 1, max: math.MaxInt32, def: defaultValue{intval: 1}},
	{name: "ostreams", typ: DefaultInt, min: 1, max: math.MaxInt32, def: defaultValue{intval: 1}},

	// serial devices
	{name: "rtscts", typ: DefaultBool},
	{name: "local", typ: DefaultBool},
	{name: "hangup_when_done", typ: DefaultBool},
	{name: "rs485", typ: DefaultString},
	strDefault("speed", "9600N81"),
	{name: "nobreak", typ: DefaultBool},

	// client/server protocols
	{name: "mode", typ: DefaultString},

	// telnet
	{name: "rfc2217", typ: DefaultBool},

	// ssl and other key authentication
	{name: "CA", typ: DefaultString},
	{name: "cert", typ: DefaultString},
	{name: "key", typ: DefaultString},
	{name: "clientauth", typ: DefaultBool},

	// authentication
	{name: "allow-authfail", typ: DefaultBool},
	{name: "username", typ: DefaultString},
	{name: "password", typ: DefaultString},
	{name: "service", typ: DefaultString},
	{name: "use-child-auth", typ: DefaultBool},
	{name: "enable-password", typ: DefaultBool},
}

// DefaultStore holds named default parameters with per-class overrides.
//
// A lookup for (class, name) returns the class override when one exists,
// else the global value when one was set, else the registered default.
// Class is the namespace, usually the type name of a transport ("tcp")
// or an application chosen name. The empty class means no class.
type DefaultStore struct {
	mu       sync.Mutex
	builtins []*defaultEntry
	user     []*defaultEntry
}

// NewDefaultStore returns a store holding the built-in defaults.
func NewDefaultStore() *DefaultStore {
	s := &DefaultStore{}
	for _, d := range builtinDefaults {
		entry := d
		s.builtins = append(s.builtins, &entry)
	}
	return s
}

var (
	globalDefaults     *DefaultStore
	globalDefaultsOnce sync.Once
)

// GlobalDefaults returns the process-wide store, created on first use.
func GlobalDefaults() *DefaultStore {
	globalDefaultsOnce.Do(func() {
		globalDefaults = NewDefaultStore()
	})
	return globalDefaults
}

// lookup returns the entry and whether it is built-in. Callers hold mu.
func (s *DefaultStore) lookup(name string) (*defaultEntry, bool) {
	for _, d := range s.builtins {
		if d.name == name {
			return d, true
		}
	}
	for _, d := range s.user {
		if d.name == name {
			return d, false
		}
	}
	return nil, false
}

// AddDefault registers a new default.
//
// The strval argument is the default of a [DefaultString] entry, where ""
// means no value. The intval argument is the default of the other types.
// Bounds apply to [DefaultInt] and enums to [DefaultEnum]. Adding a name
// that already exists returns [ErrExists].
func (s *DefaultStore) AddDefault(name string, typ DefaultType, strval string,
	intval, minval, maxval int, enums []EnumValue) error {
	if typ < DefaultInt || typ > DefaultString {
		return ErrInvalid
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if d, _ := s.lookup(name); d != nil {
		return ErrExists
	}
	d := &defaultEntry{name: name, typ: typ, min: minval, max: maxval, enums: enums}
	d.def.intval = intval
	if strval != "" {
		d.def.strval = &strval
	}
	s.user = append([]*defaultEntry{d}, s.user...)
	return nil
}

// SetDefault sets a default from its string form.
//
// Booleans accept "true", "TRUE", "false", "FALSE" or an integer. Integers
// outside the bounds return [ErrOutOfRange]. Enum symbols match
// case-insensitively. With a class the value becomes that class override,
// otherwise the global value.
func (s *DefaultStore) SetDefault(class, name, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, _ := s.lookup(name)
	if d == nil {
		return ErrNotFound
	}

	var val defaultValue
	switch d.typ {
	case DefaultEnum:
		found := false
		for _, e := range d.enums {
			if strings.EqualFold(e.Name, value) {
				val.intval, found = e.Value, true
				break
			}
		}
		if !found {
			return ErrInvalid
		}

	case DefaultBool:
		switch value {
		case "true", "TRUE":
			val.intval = 1
		case "false", "FALSE":
			val.intval = 0
		default:
			num, err := strconv.Atoi(value)
			if err != nil {
				return ErrInvalid
			}
			if num != 0 {
				val.intval = 1
			}
		}

	case DefaultInt:
		num, err := strconv.Atoi(value)
		if err != nil {
			return ErrInvalid
		}
		if num < d.min || num > d.max {
			return ErrOutOfRange
		}
		val.intval = num

	case DefaultString:
		val.strval = &value
	}

	s.store(d, class, val)
	return nil
}

// ClearDefault sets a [DefaultString] default to no value, so that
// lookups report it unset even when a global value or a registered
// default exists. With a class only that class override is cleared.
// Other types return [ErrInvalid].
func (s *DefaultStore) ClearDefault(class, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, _ := s.lookup(name)
	if d == nil {
		return ErrNotFound
	}
	if d.typ != DefaultString {
		return ErrInvalid
	}
	s.store(d, class, defaultValue{})
	return nil
}

// SetDefaultInt sets an integer, boolean or enum default.
func (s *DefaultStore) SetDefaultInt(class, name string, value int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, _ := s.lookup(name)
	if d == nil {
		return ErrNotFound
	}

	var val defaultValue
	switch d.typ {
	case DefaultEnum:
		found := false
		for _, e := range d.enums {
			if e.Value == value {
				found = true
				break
			}
		}
		if !found {
			return ErrInvalid
		}
		val.intval = value

	case DefaultBool:
		if value != 0 {
			val.intval = 1
		}

	case DefaultInt:
		if value < d.min || value > d.max {
			return ErrOutOfRange
		}
		val.intval = value

	default:
		return ErrInvalid
	}

	s.store(d, class, val)
	return nil
}

func (s *DefaultStore) store(d *defaultEntry, class string, val defaultValue) {
	if class != "" {
		if d.classVals == nil {
			d.classVals = make(map[string]defaultValue)
		}
		d.classVals[class] = val
		return
	}
	d.val = val
	d.valSet = true
}

// get returns the effective value. Callers hold mu.
func (s *DefaultStore) get(class, name string, classonly bool, want DefaultType) (defaultValue, error) {
	d, _ := s.lookup(name)
	if d == nil {
		return defaultValue{}, ErrNotFound
	}
	compatible := d.typ == want ||
		(want == DefaultInt && (d.typ == DefaultEnum || d.typ == DefaultBool))
	if !compatible {
		return defaultValue{}, ErrInvalid
	}
	if class != "" {
		if val, found := d.classVals[class]; found {
			return val, nil
		}
	}
	switch {
	case classonly:
		return defaultValue{}, ErrNotFound
	case d.valSet:
		return d.val, nil
	default:
		return d.def, nil
	}
}

// GetDefaultString returns a string default. The boolean result is false
// when the default has no value.
func (s *DefaultStore) GetDefaultString(class, name string, classonly bool) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	val, err := s.get(class, name, classonly, DefaultString)
	if err != nil || val.strval == nil {
		return "", false, err
	}
	return *val.strval, true, nil
}

// GetDefaultInt returns an integer, boolean or enum default as an integer.
func (s *DefaultStore) GetDefaultInt(class, name string, classonly bool) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	val, err := s.get(class, name, classonly, DefaultInt)
	return val.intval, err
}

// GetDefaultBool returns a boolean default.
func (s *DefaultStore) GetDefaultBool(class, name string, classonly bool) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	val, err := s.get(class, name, classonly, DefaultBool)
	return val.intval != 0, err
}

// DelDefault deletes a class override or, with an empty class, a whole
// user-added default.
//
// Built-in defaults cannot be deleted ([ErrNotSupported]). A default with
// class overrides is only deleted when delClasses is set ([ErrInUse]).
func (s *DefaultStore) DelDefault(class, name string, delClasses bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, builtin := s.lookup(name)
	if d == nil {
		return ErrNotFound
	}
	if class != "" {
		if _, found := d.classVals[class]; !found {
			return ErrNotFound
		}
		delete(d.classVals, class)
		return nil
	}
	if builtin {
		return ErrNotSupported
	}
	if len(d.classVals) > 0 && !delClasses {
		return ErrInUse
	}
	for idx, entry := range s.user {
		if entry == d {
			s.user = append(s.user[:idx], s.user[idx+1:]...)
			break
		}
	}
	return nil
}

// ResetDefaults drops every global value and class override. User-added
// defaults stay registered.
func (s *DefaultStore) ResetDefaults() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, d := range s.builtins {
		d.reset()
	}
	for _, d := range s.user {
		d.reset()
	}
}
