package envelope

import "sync"

// seenSetCapacity bounds the in-memory rumor-id set. On overflow the set
// is cleared and reseeded with the id that tripped it; persistent dedup
// remains the store's job.
const seenSetCapacity = 5000

// seenSet is a bounded set of recently processed rumor ids, tolerating
// the same gift-wrap arriving from multiple relays.
type seenSet struct {
	mu  sync.Mutex
	ids map[string]struct{}
	cap int
}

func newSeenSet(capacity int) *seenSet {
	return &seenSet{
		ids: make(map[string]struct{}, capacity),
		cap: capacity,
	}
}

// observe records id and reports whether it was already present.
func (s *seenSet) observe(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.ids[id]; ok {
		return true
	}
	if len(s.ids) >= s.cap {
		s.ids = make(map[string]struct{}, s.cap)
	}
	s.ids[id] = struct{}{}
	return false
}
