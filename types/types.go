// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package types provides the generic Set type used by the pattern matcher
// and fusion pass bookkeeping.
package types

// Set implements a Set for the key type T.
type Set[T comparable] map[T]struct{}

// MakeSet returns an empty Set of the given type. Size is optional, and if given
// will reserve the expected size.
func MakeSet[T comparable](size ...int) Set[T] {
	if len(size) == 0 {
		return make(Set[T])
	}
	return make(Set[T], size[0])
}

// SetWith creates a Set[T] with the given elements inserted.
func SetWith[T comparable](elements ...T) Set[T] {
	s := MakeSet[T](len(elements))
	s.Insert(elements...)
	return s
}

// Has returns true if Set s has the given key.
func (s Set[T]) Has(key T) bool {
	_, found := s[key]
	return found
}

// Insert keys into set.
func (s Set[T]) Insert(keys ...T) {
	for _, key := range keys {
		s[key] = struct{}{}
	}
}

// Clone returns an independent copy of the set.
func (s Set[T]) Clone() Set[T] {
	c := MakeSet[T](len(s))
	for k := range s {
		c.Insert(k)
	}
	return c
}

// HasAny returns true if any of the keys of s2 is present in s.
func (s Set[T]) HasAny(s2 Set[T]) bool {
	for k := range s2 {
		if s.Has(k) {
			return true
		}
	}
	return false
}
