// Package dedup tracks which (exchange, source path) pairs were already
// emitted during one harvest run.
package dedup

import (
	"sync"

	"github.com/hyperifyio/goharvest/internal/filing"
)

// Key identifies a filing within one venue.
type Key struct {
	Exchange   filing.Exchange
	SourcePath string
}

// Set is a mutex-guarded key set scoped to a single run. The zero value is
// ready to use. There is no eviction.
type Set struct {
	mu   sync.Mutex
	keys map[Key]struct{}
}

// Seen reports whether k has been marked.
func (s *Set) Seen(k Key) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.keys[k]
	return ok
}

// Mark records k.
func (s *Set) Mark(k Key) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.markLocked(k)
}

// TryMark marks k and returns true if it was not seen before. Concurrent
// streams use it so check and mark happen under one lock.
func (s *Set) TryMark(k Key) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.keys[k]; ok {
		return false
	}
	s.markLocked(k)
	return true
}

// Len returns the number of marked keys.
func (s *Set) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.keys)
}

func (s *Set) markLocked(k Key) {
	if s.keys == nil {
		s.keys = make(map[Key]struct{})
	}
	s.keys[k] = struct{}{}
}
