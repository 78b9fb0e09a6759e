// SPDX-License-Identifier: GPL-3.0-or-later

package gensio

// link is a membership handle returned by [list.pushBack].
//
// Holding the link allows removing the value in O(1) from anywhere
// in the list without scanning.
type link[T any] struct {
	next, prev *link[T]
	owner      *list[T]
	value      T
}

// list is a doubly-linked list of T with O(1) removal by handle.
//
// The zero value is an empty list ready to use. A list is not safe for
// concurrent use: callers guard it with the lock of the owning object.
type list[T any] struct {
	root   link[T]
	length int
}

func (l *list[T]) lazyInit() {
	if l.root.next == nil {
		l.root.next = &l.root
		l.root.prev = &l.root
	}
}

// pushBack appends value and returns its handle.
func (l *list[T]) pushBack(value T) *link[T] {
	l.lazyInit()
	e := &link[T]{value: value, owner: l}
	e.prev = l.root.prev
	e.next = &l.root
	e.prev.next = e
	l.root.prev = e
	l.length++
	return e
}

// remove unlinks e and reports whether e was a member of this list.
func (l *list[T]) remove(e *link[T]) bool {
	if e == nil || e.owner != l {
		return false
	}
	e.prev.next = e.next
	e.next.prev = e.prev
	e.next, e.prev, e.owner = nil, nil, nil
	l.length--
	return true
}

// front returns the first handle or nil.
func (l *list[T]) front() *link[T] {
	if l.length == 0 {
		return nil
	}
	return l.root.next
}

// popFront removes and returns the first value.
func (l *list[T]) popFront() (T, bool) {
	e := l.front()
	if e == nil {
		var zero T
		return zero, false
	}
	l.remove(e)
	return e.value, true
}

func (l *list[T]) empty() bool {
	return l.length == 0
}

func (l *list[T]) len() int {
	return l.length
}

// each calls fn for every value in order until fn returns false.
//
// fn may remove the current handle.
func (l *list[T]) each(fn func(e *link[T]) bool) {
	if l.length == 0 {
		return
	}
	for e := l.root.next; e != &l.root; {
		next := e.next
		if !fn(e) {
			return
		}
		e = next
	}
}
