// SPDX-License-Identifier: GPL-3.0-or-later

package gensio

import (
	"strings"
	"sync"
)

// EndpointFactory creates an endpoint from the rest of a descriptor.
//
// The str argument is what follows the name and its argument list, and
// args is the parsed argument list.
type EndpointFactory func(cfg *Config, str string, args []string, cb EventHandler) (*Endpoint, error)

// EndpointChildFactory stacks a filter endpoint on top of child.
type EndpointChildFactory func(cfg *Config, child *Endpoint, args []string, cb EventHandler) (*Endpoint, error)

// AccepterFactory creates an accepter from the rest of a descriptor.
type AccepterFactory func(cfg *Config, str string, args []string, cb AccepterEventHandler) (*Accepter, error)

// AccepterChildFactory stacks a filter accepter on top of child.
type AccepterChildFactory func(cfg *Config, child *Accepter, args []string, cb AccepterEventHandler) (*Accepter, error)

type factoryEntry[F, C any] struct {
	name    string
	factory F
	child   C
	next    *factoryEntry[F, C]
}

// factoryList is a name to constructor list populated with the built-ins
// on first use. New registrations are prepended, so the newest entry
// for a name wins.
type factoryList[F, C any] struct {
	once     sync.Once
	builtins func(l *factoryList[F, C])

	mu   sync.Mutex
	head *factoryEntry[F, C]
}

func (l *factoryList[F, C]) init() {
	l.once.Do(func() {
		if l.builtins != nil {
			l.builtins(l)
		}
	})
}

func (l *factoryList[F, C]) add(name string, factory F, child C) {
	l.mu.Lock()
	l.head = &factoryEntry[F, C]{name: name, factory: factory, child: child, next: l.head}
	l.mu.Unlock()
}

func (l *factoryList[F, C]) register(name string, factory F, child C) {
	l.init()
	l.add(name, factory, child)
}

// match returns the first entry whose name prefixes str and is followed by
// end of string or by one of the terminators.
func (l *factoryList[F, C]) match(str, terminators string) *factoryEntry[F, C] {
	l.init()
	l.mu.Lock()
	defer l.mu.Unlock()
	for e := l.head; e != nil; e = e.next {
		if !strings.HasPrefix(str, e.name) {
			continue
		}
		if rest := str[len(e.name):]; rest == "" || strings.IndexByte(terminators, rest[0]) >= 0 {
			return e
		}
	}
	return nil
}

// Registry maps descriptor names to endpoint and accepter constructors.
//
// The endpoint and accepter lists are independent. Each is populated
// with the built-in transports the first time it is used.
type Registry struct {
	endpoints factoryList[EndpointFactory, EndpointChildFactory]
	accepters factoryList[AccepterFactory, AccepterChildFactory]
}

// NewRegistry returns an isolated registry.
func NewRegistry() *Registry {
	r := &Registry{}
	r.endpoints.builtins = addBuiltinEndpoints
	r.accepters.builtins = addBuiltinAccepters
	return r
}

var (
	defaultRegistry     *Registry
	defaultRegistryOnce sync.Once
)

// DefaultRegistry returns the process-wide registry, created on first use.
func DefaultRegistry() *Registry {
	defaultRegistryOnce.Do(func() {
		defaultRegistry = NewRegistry()
	})
	return defaultRegistry
}

// RegisterEndpoint registers a transport constructor.
func (r *Registry) RegisterEndpoint(name string, factory EndpointFactory) {
	r.endpoints.register(name, factory, nil)
}

// RegisterFilterEndpoint registers a filter, which can also be stacked on
// an existing endpoint through child.
func (r *Registry) RegisterFilterEndpoint(name string, factory EndpointFactory, child EndpointChildFactory) {
	r.endpoints.register(name, factory, child)
}

// RegisterAccepter registers an accepter constructor.
func (r *Registry) RegisterAccepter(name string, factory AccepterFactory) {
	r.accepters.register(name, factory, nil)
}

// RegisterFilterAccepter registers a filter accepter.
func (r *Registry) RegisterFilterAccepter(name string, factory AccepterFactory, child AccepterChildFactory) {
	r.accepters.register(name, factory, child)
}
