package common

import (
	"cmp"
	"slices"
)

// Coalesce returns the first non-zero value from the provided values, or the zero value if all are zero.
//
// Parameters:
//   - values: a variadic list of values to check for non-zero status
//
// Returns:
//   - T: the first non-zero value from the input, or the zero value if all are zero
func Coalesce[T comparable](values ...T) T {
	var zero T
	for _, v := range values {
		if v != zero {
			return v
		}
	}
	return zero
}

// SortedCopy returns an ascending-sorted copy of the input slice, leaving the
// input untouched. Used wherever a caller-supplied id set must be canonicalized
// without mutating the caller's data.
//
// Parameters:
//   - values: the slice to copy and sort
//
// Returns:
//   - []T: a new sorted slice with the same elements
func SortedCopy[T cmp.Ordered](values []T) []T {
	out := make([]T, len(values))
	copy(out, values)
	slices.Sort(out)
	return out
}
