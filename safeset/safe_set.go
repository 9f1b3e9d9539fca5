// Package safeset provides a mutex-guarded generic set.
package safeset

import "sync"

// SafeSet is a set of comparable values safe for concurrent use. Add reports
// whether the value was newly inserted, so a set can serve as a reservation
// table for unique names.
type SafeSet[T comparable] struct {
	mu sync.Mutex
	m  map[T]struct{}
}

// NewSafeSet creates an empty set.
func NewSafeSet[T comparable]() *SafeSet[T] {
	return &SafeSet[T]{m: make(map[T]struct{})}
}

// Add inserts value.
//
// Parameters:
//   - value: The element to add
//
// Returns:
//   - true if value was not already present
func (s *SafeSet[T]) Add(value T) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.m[value]; ok {
		return false
	}
	s.m[value] = struct{}{}
	return true
}

// Remove deletes value and reports whether it was present.
func (s *SafeSet[T]) Remove(value T) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.m[value]; !ok {
		return false
	}
	delete(s.m, value)
	return true
}
