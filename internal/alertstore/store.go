package alertstore

import (
	"container/ring"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"scadaflow/pkg/models"
)

const defaultCapacity = 512

// Store keeps the most recent alerts in memory for the query API. A
// fixed ring bounds memory; an LRU of alert IDs absorbs redelivered
// alerts so the ring holds each alert once.
type Store struct {
	mu   sync.RWMutex
	ring *ring.Ring
	size int
	seen *lru.Cache[string, struct{}]
}

func New(capacity int) (*Store, error) {
	if capacity <= 0 {
		capacity = defaultCapacity
	}
	seen, err := lru.New[string, struct{}](capacity * 2)
	if err != nil {
		return nil, err
	}
	return &Store{
		ring: ring.New(capacity),
		seen: seen,
	}, nil
}

// Add records the alert. Duplicate alert IDs are ignored.
func (s *Store) Add(alert *models.AlertEvent) {
	if alert == nil || alert.AlertID == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, dup := s.seen.Get(alert.AlertID); dup {
		return
	}
	s.seen.Add(alert.AlertID, struct{}{})
	s.ring.Value = alert
	s.ring = s.ring.Next()
	if s.size < s.ring.Len() {
		s.size++
	}
}

// Recent returns up to limit alerts, newest first.
func (s *Store) Recent(limit int) []*models.AlertEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if limit <= 0 || limit > s.size {
		limit = s.size
	}
	out := make([]*models.AlertEvent, 0, limit)
	r := s.ring
	for i := 0; i < s.size && len(out) < limit; i++ {
		r = r.Prev()
		if alert, okCast := r.Value.(*models.AlertEvent); okCast {
			out = append(out, alert)
		}
	}
	return out
}

// CriticalRecent returns up to limit critical-or-worse alerts, newest
// first.
func (s *Store) CriticalRecent(limit int) []*models.AlertEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if limit <= 0 {
		limit = s.size
	}
	out := make([]*models.AlertEvent, 0, limit)
	r := s.ring
	for i := 0; i < s.size && len(out) < limit; i++ {
		r = r.Prev()
		alert, okCast := r.Value.(*models.AlertEvent)
		if okCast && alert.Critical() {
			out = append(out, alert)
		}
	}
	return out
}

// Len reports how many alerts the store currently holds.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.size
}
