package ratelimit

import "time"

// entry is one recorded call. seq distinguishes calls with equal timestamps
// so a reservation removes exactly its own entry.
type entry struct {
	at  time.Time
	seq uint64
}

// sequence holds the recorded calls of one composite key in insertion order.
type sequence struct {
	category Category
	entries  []entry
}

// countSince returns the number of entries newer than cutoff and the oldest
// of them.
func (s *sequence) countSince(cutoff time.Time) (int, time.Time) {
	var n int
	var oldest time.Time
	for _, e := range s.entries {
		if e.at.After(cutoff) {
			if n == 0 || e.at.Before(oldest) {
				oldest = e.at
			}
			n++
		}
	}
	return n, oldest
}

// trim drops entries at or before cutoff.
func (s *sequence) trim(cutoff time.Time) {
	kept := s.entries[:0]
	for _, e := range s.entries {
		if e.at.After(cutoff) {
			kept = append(kept, e)
		}
	}
	// Zero the tail so dropped entries do not pin the backing array.
	for i := len(kept); i < len(s.entries); i++ {
		s.entries[i] = entry{}
	}
	s.entries = kept
}

// capAt drops the oldest entries beyond max.
func (s *sequence) capAt(max int) {
	if max <= 0 || len(s.entries) <= max {
		return
	}
	drop := len(s.entries) - max
	s.entries = append(s.entries[:0], s.entries[drop:]...)
}

// remove deletes the entry with seq, scanning from the newest end.
func (s *sequence) remove(seq uint64) bool {
	for i := len(s.entries) - 1; i >= 0; i-- {
		if s.entries[i].seq == seq {
			s.entries = append(s.entries[:i], s.entries[i+1:]...)
			return true
		}
	}
	return false
}
