// Package options provides the functional-options application helper shared
// by every configurable component in the core.
package options

import "iter"

// Apply yields all non-nil options of a given type from both slices, in
// order, so callers can build a resolved options struct with a single loop.
func Apply[T, O any](opts []O, rest ...O) iter.Seq[T] {
	return func(yield func(T) bool) {
		for _, opt := range opts {
			if op, ok := any(opt).(T); ok && any(op) != nil && !yield(op) {
				return
			}
		}
		for _, opt := range rest {
			if op, ok := any(opt).(T); ok && any(op) != nil && !yield(op) {
				return
			}
		}
	}
}
