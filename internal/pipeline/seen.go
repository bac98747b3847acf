package pipeline

import (
	"container/list"
	"time"
)

// seenCache is a small TTL-bound LRU over notification keys. Re-posts
// of a notification the worker already consumed are dropped before
// extraction. Only the single worker touches it, so no lock.
type seenCache struct {
	cap   int
	ttl   time.Duration
	ll    *list.List               // most recent at front
	items map[string]*list.Element // key -> element
}

type seenEntry struct {
	key string
	exp time.Time
}

func newSeenCache(maxKeys int, ttl time.Duration) *seenCache {
	if maxKeys <= 0 {
		maxKeys = 1024
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &seenCache{
		cap:   maxKeys,
		ttl:   ttl,
		ll:    list.New(),
		items: make(map[string]*list.Element, maxKeys),
	}
}

// observe marks key as seen and reports whether it was already live.
func (s *seenCache) observe(key string, now time.Time) bool {
	if el, ok := s.items[key]; ok {
		en := el.Value.(seenEntry)
		if now.Before(en.exp) {
			s.ll.MoveToFront(el)
			return true
		}
		s.ll.Remove(el)
		delete(s.items, key)
	}

	el := s.ll.PushFront(seenEntry{key: key, exp: now.Add(s.ttl)})
	s.items[key] = el

	for s.ll.Len() > s.cap {
		tail := s.ll.Back()
		s.ll.Remove(tail)
		delete(s.items, tail.Value.(seenEntry).key)
	}
	// Sweep expired entries off the tail while we are here.
	for {
		tail := s.ll.Back()
		if tail == nil || now.Before(tail.Value.(seenEntry).exp) {
			break
		}
		s.ll.Remove(tail)
		delete(s.items, tail.Value.(seenEntry).key)
	}
	return false
}
