// SPDX-License-Identifier: GPL-3.0-or-later

package gensio

import "sync"

// classData is a side table of named extension values.
//
// Names are case-sensitive. Adding a name twice shadows the older value.
type classData struct {
	mu      sync.Mutex
	entries []classDataEntry
}

type classDataEntry struct {
	name string
	data any
}

func (c *classData) add(name string, data any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = append(c.entries, classDataEntry{name: name, data: data})
}

func (c *classData) lookup(name string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for idx := len(c.entries) - 1; idx >= 0; idx-- {
		if c.entries[idx].name == name {
			return c.entries[idx].data, true
		}
	}
	return nil, false
}

func (c *classData) clear() {
	c.mu.Lock()
	c.entries = nil
	c.mu.Unlock()
}
