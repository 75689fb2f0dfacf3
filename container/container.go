// Package container abstracts the in-memory map a store persists. Any
// associative container satisfying Map is interchangeable; the store only
// needs keyed insert, lookup, erase, iteration and a point-in-time Clone.
package container

import (
	"cmp"
	"slices"
)

// Map is the minimal associative container contract.
type Map[K comparable, V any] interface {
	Get(key K) (V, bool)
	Set(key K, value V)
	Delete(key K)
	Len() int
	Clear()
	// Range calls fn for every entry until fn returns false. The order is
	// implementation-defined but fixed for the duration of one call.
	Range(fn func(key K, value V) bool)
	// Clone returns an independent copy of the current entries. The store
	// uses it to freeze a consistent view for background snapshotting.
	Clone() Map[K, V]
}

type hashMap[K comparable, V any] struct {
	m map[K]V
}

// NewHash returns a Map backed by the builtin map. Iteration order is
// unspecified.
func NewHash[K comparable, V any]() Map[K, V] {
	return &hashMap[K, V]{m: make(map[K]V)}
}

func (h *hashMap[K, V]) Get(key K) (V, bool) {
	v, ok := h.m[key]
	return v, ok
}

func (h *hashMap[K, V]) Set(key K, value V) { h.m[key] = value }

func (h *hashMap[K, V]) Delete(key K) { delete(h.m, key) }

func (h *hashMap[K, V]) Len() int { return len(h.m) }

func (h *hashMap[K, V]) Clear() { clear(h.m) }

func (h *hashMap[K, V]) Range(fn func(key K, value V) bool) {
	for k, v := range h.m {
		if !fn(k, v) {
			return
		}
	}
}

func (h *hashMap[K, V]) Clone() Map[K, V] {
	c := make(map[K]V, len(h.m))
	for k, v := range h.m {
		c[k] = v
	}
	return &hashMap[K, V]{m: c}
}

type orderedMap[K cmp.Ordered, V any] struct {
	m map[K]V
}

// NewOrdered returns a Map whose Range visits keys in ascending order,
// which makes snapshots byte-stable across saves of the same state.
func NewOrdered[K cmp.Ordered, V any]() Map[K, V] {
	return &orderedMap[K, V]{m: make(map[K]V)}
}

func (o *orderedMap[K, V]) Get(key K) (V, bool) {
	v, ok := o.m[key]
	return v, ok
}

func (o *orderedMap[K, V]) Set(key K, value V) { o.m[key] = value }

func (o *orderedMap[K, V]) Delete(key K) { delete(o.m, key) }

func (o *orderedMap[K, V]) Len() int { return len(o.m) }

func (o *orderedMap[K, V]) Clear() { clear(o.m) }

func (o *orderedMap[K, V]) Range(fn func(key K, value V) bool) {
	keys := make([]K, 0, len(o.m))
	for k := range o.m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		if !fn(k, o.m[k]) {
			return
		}
	}
}

func (o *orderedMap[K, V]) Clone() Map[K, V] {
	c := make(map[K]V, len(o.m))
	for k, v := range o.m {
		c[k] = v
	}
	return &orderedMap[K, V]{m: c}
}
