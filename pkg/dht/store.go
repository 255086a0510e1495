package dht

import (
	"container/list"
	"sort"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

type entry struct {
	rec      Record
	size     int
	expireAt time.Time
}

// Store keeps the latest record per origin with TTL expiry and LRU eviction
// by approximate byte capacity.
type Store struct {
	mu    sync.RWMutex
	data  map[string]*list.Element
	ll    *list.List
	used  int
	cap   int
	clock clock.Clock
}

type Option func(*Store)

// WithClock replaces the wall clock, mostly for tests.
func WithClock(c clock.Clock) Option {
	return func(s *Store) { s.clock = c }
}

func NewStore(capacityBytes int, opts ...Option) *Store {
	s := &Store{
		data:  make(map[string]*list.Element),
		ll:    list.New(),
		cap:   capacityBytes,
		clock: clock.New(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Put stores rec unless a live record from the same origin with an equal or
// higher Seq is already present. Seeing the stored Seq again renews its TTL.
// Records larger than the whole capacity are never stored. Put reports
// whether rec was accepted.
func (s *Store) Put(rec Record, ttl time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	var exp time.Time
	if ttl > 0 {
		exp = now.Add(ttl)
	}

	el, ok := s.data[rec.Origin]
	if ok {
		old := el.Value.(*entry)
		if !old.expired(now) && rec.Seq <= old.rec.Seq {
			if rec.Seq == old.rec.Seq {
				old.expireAt = exp
				s.ll.MoveToFront(el)
			}
			return false
		}
	}
	if rec.size() > s.cap {
		return false
	}
	rec = rec.clone()

	if ok {
		old := el.Value.(*entry)
		s.used -= old.size
		old.rec = rec
		old.size = rec.size()
		old.expireAt = exp
		s.used += old.size
		s.ll.MoveToFront(el)
	} else {
		e := &entry{rec: rec, size: rec.size(), expireAt: exp}
		s.data[rec.Origin] = s.ll.PushFront(e)
		s.used += e.size
	}
	s.evictIfNeeded()
	return true
}

func (s *Store) Get(origin string) (Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	el, ok := s.data[origin]
	if !ok {
		return Record{}, false
	}
	e := el.Value.(*entry)
	if e.expired(s.clock.Now()) {
		s.removeElement(el)
		return Record{}, false
	}
	s.ll.MoveToFront(el)
	return e.rec.clone(), true
}

func (s *Store) Delete(origin string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	el, ok := s.data[origin]
	if ok {
		s.removeElement(el)
	}
	return ok
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}

// Live purges expired records and returns the rest ordered by origin.
func (s *Store) Live() []Record {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	out := make([]Record, 0, len(s.data))
	for _, el := range s.data {
		e := el.Value.(*entry)
		if e.expired(now) {
			s.removeElement(el)
			continue
		}
		out = append(out, e.rec.clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Origin < out[j].Origin })
	return out
}

func (e *entry) expired(now time.Time) bool {
	return !e.expireAt.IsZero() && now.After(e.expireAt)
}

func (s *Store) evictIfNeeded() {
	for s.used > s.cap && s.ll.Back() != nil {
		s.removeElement(s.ll.Back())
	}
}

func (s *Store) removeElement(el *list.Element) {
	e := el.Value.(*entry)
	delete(s.data, e.rec.Origin)
	s.used -= e.size
	s.ll.Remove(el)
}
