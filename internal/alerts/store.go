package alerts

import (
	"sort"
	"sync"
	"time"

	"apishield/internal/model"
)

// Store keeps the most recent alerts in memory for the read facade.
// Alerts are appended in the order their generating events arrived.
type Store struct {
	mu    sync.RWMutex
	buf   []model.Alert
	limit int
}

func NewStore(limit int) *Store {
	if limit <= 0 {
		limit = 1000
	}
	return &Store{limit: limit}
}

func (s *Store) Add(alert model.Alert) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.buf) < s.limit {
		s.buf = append(s.buf, alert)
		return
	}
	copy(s.buf, s.buf[1:])
	s.buf[len(s.buf)-1] = alert
}

func (s *Store) List(limit int) []model.Alert {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if limit <= 0 || limit > len(s.buf) {
		limit = len(s.buf)
	}
	out := make([]model.Alert, 0, limit)
	start := len(s.buf) - limit
	for i := start; i < len(s.buf); i++ {
		out = append(out, s.buf[i])
	}
	return out
}

func (s *Store) Since(ts time.Time) []model.Alert {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Alert, 0)
	for _, a := range s.buf {
		if !a.Timestamp.Before(ts) {
			out = append(out, a)
		}
	}
	return out
}

func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buf = nil
}

// Summary aggregates the retained alerts for the reporting facade.
type Summary struct {
	Total        int            `json:"total_alerts"`
	TopClients   []CountEntry   `json:"top_attacker_ips"`
	TopResources []CountEntry   `json:"top_attacked_endpoints"`
	Actions      map[string]int `json:"action_distribution"`
}

type CountEntry struct {
	Key   string `json:"key"`
	Count int    `json:"count"`
}

// Summarize computes totals, the top offending clients and resources, and
// the action distribution over the retained alerts.
func (s *Store) Summarize(topN int) Summary {
	if topN <= 0 {
		topN = 10
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	clients := make(map[string]int)
	resources := make(map[string]int)
	actions := make(map[string]int)
	for _, a := range s.buf {
		clients[a.ClientIP]++
		resources[a.Resource]++
		actions[string(a.Action)]++
	}
	return Summary{
		Total:        len(s.buf),
		TopClients:   topCounts(clients, topN),
		TopResources: topCounts(resources, topN),
		Actions:      actions,
	}
}

func topCounts(counts map[string]int, n int) []CountEntry {
	out := make([]CountEntry, 0, len(counts))
	for k, c := range counts {
		out = append(out, CountEntry{Key: k, Count: c})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Key < out[j].Key
	})
	if len(out) > n {
		out = out[:n]
	}
	return out
}
