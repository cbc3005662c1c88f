// Package buffer provides generic search and sort helpers over element
// buffers, either contiguous slices or indexed views reached through a
// Retriever.
package buffer

import "golang.org/x/exp/slices"

// NotFound is returned by every search that finds no match.
const NotFound = -1

// Evaluator compares an element against an implicit target. It returns 0 on a
// match, a positive value when the element orders after the target and a
// negative value when it orders before.
type Evaluator[T any] func(elem T) int

// Retriever yields the element at index i of a non-contiguous buffer.
// ok is false when the element cannot be read.
type Retriever[T any] func(i int) (elem T, ok bool)

// Search returns the index of the first element at or after offset that eval matches.
func Search[T any](elems []T, offset int, eval Evaluator[T]) int {
	for i := max(offset, 0); i < len(elems); i++ {
		if eval(elems[i]) == 0 {
			return i
		}
	}
	return NotFound
}

// ReverseSearch scans backwards, skipping the last offset elements.
func ReverseSearch[T any](elems []T, offset int, eval Evaluator[T]) int {
	if offset < 0 || offset > len(elems) {
		return NotFound
	}
	for i := len(elems) - offset - 1; i >= 0; i-- {
		if eval(elems[i]) == 0 {
			return i
		}
	}
	return NotFound
}

// BinarySearch looks for a match in elems, which must be sorted consistently with eval.
func BinarySearch[T any](elems []T, eval Evaluator[T]) int {
	return BinarySearchWithRetriever(len(elems), eval, func(i int) (T, bool) {
		return elems[i], true
	})
}

// SearchWithRetriever is Search over count elements obtained through get.
func SearchWithRetriever[T any](count, offset int, eval Evaluator[T], get Retriever[T]) int {
	for i := max(offset, 0); i < count; i++ {
		elem, ok := get(i)
		if !ok {
			return NotFound
		}
		if eval(elem) == 0 {
			return i
		}
	}
	return NotFound
}

// BinarySearchWithRetriever is BinarySearch over count elements obtained through get.
func BinarySearchWithRetriever[T any](count int, eval Evaluator[T], get Retriever[T]) int {
	lo, hi := 0, count-1
	for lo <= hi {
		mid := int(uint(lo+hi) >> 1)
		elem, ok := get(mid)
		if !ok {
			return NotFound
		}
		switch r := eval(elem); {
		case r > 0:
			hi = mid - 1
		case r < 0:
			lo = mid + 1
		default:
			return mid
		}
	}
	return NotFound
}

// Sort orders elems by cmp. Equal elements keep their relative order.
func Sort[T any](elems []T, cmp func(a, b T) int) {
	slices.SortStableFunc(elems, cmp)
}
