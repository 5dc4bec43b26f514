package hook

import "github.com/zeebo/xxh3"

// SeenSet remembers string contents observed during a session.
//
// Entries are 128-bit digests rather than the strings themselves, so a long
// session holding large payload strings keeps a small footprint. With a
// positive limit the oldest entry is evicted once the set is full.
type SeenSet struct {
	limit   int
	entries map[xxh3.Uint128]struct{}
	order   []xxh3.Uint128
}

// NewSeenSet creates a set holding at most limit entries. A limit of zero or
// less means unbounded.
func NewSeenSet(limit int) *SeenSet {
	return &SeenSet{
		limit:   limit,
		entries: make(map[xxh3.Uint128]struct{}),
	}
}

// Add records str and reports whether it was new.
func (s *SeenSet) Add(str string) bool {
	key := xxh3.HashString128(str)
	if _, ok := s.entries[key]; ok {
		return false
	}

	if s.limit > 0 && len(s.order) >= s.limit {
		oldest := s.order[0]
		s.order = s.order[1:]
		delete(s.entries, oldest)
	}

	s.entries[key] = struct{}{}
	s.order = append(s.order, key)
	return true
}

// Contains reports whether str has been recorded and not evicted.
func (s *SeenSet) Contains(str string) bool {
	_, ok := s.entries[xxh3.HashString128(str)]
	return ok
}

// Len returns the number of recorded entries.
func (s *SeenSet) Len() int {
	return len(s.entries)
}
