package metrics

import (
	"sync"
	"time"

	"apishield/internal/model"
)

// Store keeps the latest window snapshot per client for the read facade.
type Store struct {
	mu        sync.RWMutex
	byClient  map[string]model.WindowFeatures
	updatedAt map[string]time.Time
	limit     int
}

func NewStore(limit int) *Store {
	if limit <= 0 {
		limit = 5000
	}
	return &Store{
		byClient:  make(map[string]model.WindowFeatures),
		updatedAt: make(map[string]time.Time),
		limit:     limit,
	}
}

func (s *Store) Update(clientIP string, wf model.WindowFeatures) {
	if clientIP == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byClient[clientIP] = wf
	s.updatedAt[clientIP] = time.Now().UTC()
	if len(s.byClient) > s.limit {
		s.evictOldest()
	}
}

func (s *Store) Get(clientIP string) (model.WindowFeatures, time.Time, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	wf, ok := s.byClient[clientIP]
	if !ok {
		return model.WindowFeatures{}, time.Time{}, false
	}
	return wf, s.updatedAt[clientIP], true
}

func (s *Store) GetAll() map[string]model.WindowFeatures {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]model.WindowFeatures, len(s.byClient))
	for clientIP, wf := range s.byClient {
		out[clientIP] = wf
	}
	return out
}

func (s *Store) evictOldest() {
	var oldestClient string
	var oldest time.Time
	for client, ts := range s.updatedAt {
		if oldestClient == "" || ts.Before(oldest) {
			oldestClient = client
			oldest = ts
		}
	}
	if oldestClient != "" {
		delete(s.byClient, oldestClient)
		delete(s.updatedAt, oldestClient)
	}
}

func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byClient = make(map[string]model.WindowFeatures)
	s.updatedAt = make(map[string]time.Time)
}
