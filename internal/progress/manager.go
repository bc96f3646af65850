// Package progress tracks completed learning activities and serves cached
// per-domain summaries.
package progress

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/coach/internal/storage"
)

// ProgressStore defines the storage operations the Manager needs.
// Implemented by storage.Store.
type ProgressStore interface {
	SaveProgress(p storage.ProgressRecord) error
	ListProgress(user string) ([]storage.ProgressRecord, error)
}

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// DomainSummary aggregates one user's activity within a knowledge domain.
type DomainSummary struct {
	Domain         string    `json:"domain"`
	Activities     int       `json:"activities"`
	TrainingRuns   int       `json:"training_runs"`
	MentorSessions int       `json:"mentor_sessions"`
	Assessments    int       `json:"assessments"`
	AverageScore   float64   `json:"average_score"`
	LevelsSeen     []string  `json:"levels_seen"`
	LastActivity   time.Time `json:"last_activity"`
}

// Summary is one user's activity across all domains.
type Summary struct {
	User    string          `json:"user"`
	Total   int             `json:"total_activities"`
	Domains []DomainSummary `json:"domains"`
}

type cachedSummary struct {
	summary Summary
	at      time.Time
}

// Manager provides cached, aggregated access to the progress log.
// Summaries are rebuilt from storage at most once per TTL per user.
type Manager struct {
	store ProgressStore
	clock Clock
	ttl   time.Duration

	mu     sync.RWMutex
	cached map[string]cachedSummary
}

// NewManager creates a Manager with a 60-second summary cache TTL.
func NewManager(store ProgressStore) *Manager {
	return NewManagerWithClock(store, realClock{}, 60*time.Second)
}

// NewManagerWithClock creates a Manager with a custom clock (for testing).
func NewManagerWithClock(store ProgressStore, clock Clock, ttl time.Duration) *Manager {
	return &Manager{
		store:  store,
		clock:  clock,
		ttl:    ttl,
		cached: make(map[string]cachedSummary),
	}
}

// Record appends one completed activity and invalidates the user's cached
// summary. An empty user is recorded under "default".
func (m *Manager) Record(user, domain, level, activity string, score int) error {
	if user == "" {
		user = "default"
	}
	rec := storage.ProgressRecord{
		ID:        uuid.New().String(),
		User:      user,
		Domain:    domain,
		Level:     level,
		Activity:  activity,
		Score:     score,
		CreatedAt: m.clock.Now().UTC(),
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.store.SaveProgress(rec); err != nil {
		return fmt.Errorf("recording %s activity for %s: %w", activity, domain, err)
	}
	delete(m.cached, user)
	return nil
}

// Summary returns the user's aggregated progress, served from cache within
// the TTL.
func (m *Manager) Summary(user string) (Summary, error) {
	if user == "" {
		user = "default"
	}

	// Fast path: read lock for cache hit.
	m.mu.RLock()
	if c, ok := m.cached[user]; ok && m.clock.Now().Before(c.at.Add(m.ttl)) {
		m.mu.RUnlock()
		return c.summary, nil
	}
	m.mu.RUnlock()

	// Slow path: write lock for cache miss.
	m.mu.Lock()
	defer m.mu.Unlock()

	// Double-check after acquiring write lock.
	if c, ok := m.cached[user]; ok && m.clock.Now().Before(c.at.Add(m.ttl)) {
		return c.summary, nil
	}

	records, err := m.store.ListProgress(user)
	if err != nil {
		return Summary{}, fmt.Errorf("loading progress for %s: %w", user, err)
	}

	s := buildSummary(user, records)
	m.cached[user] = cachedSummary{summary: s, at: m.clock.Now()}
	return s, nil
}

// buildSummary aggregates records (most recent first) into per-domain stats.
func buildSummary(user string, records []storage.ProgressRecord) Summary {
	type acc struct {
		DomainSummary
		scoreSum int
		levels   map[string]bool
	}

	byDomain := make(map[string]*acc)
	var order []string
	for _, r := range records {
		a, ok := byDomain[r.Domain]
		if !ok {
			a = &acc{
				DomainSummary: DomainSummary{Domain: r.Domain, LastActivity: r.CreatedAt},
				levels:        make(map[string]bool),
			}
			byDomain[r.Domain] = a
			order = append(order, r.Domain)
		}

		a.Activities++
		switch r.Activity {
		case "training":
			a.TrainingRuns++
		case "mentor":
			a.MentorSessions++
		case "assessment":
			a.Assessments++
			a.scoreSum += r.Score
		}
		if r.Level != "" {
			a.levels[r.Level] = true
		}
	}

	s := Summary{User: user, Total: len(records)}
	for _, domain := range order {
		a := byDomain[domain]
		if a.Assessments > 0 {
			a.AverageScore = float64(a.scoreSum) / float64(a.Assessments)
		}
		for level := range a.levels {
			a.LevelsSeen = append(a.LevelsSeen, level)
		}
		sort.Strings(a.LevelsSeen)
		s.Domains = append(s.Domains, a.DomainSummary)
	}
	return s
}
