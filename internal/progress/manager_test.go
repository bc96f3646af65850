package progress

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/kalambet/coach/internal/storage"
)

// --- Mock store ---

type mockStore struct {
	mu      sync.Mutex
	records []storage.ProgressRecord

	listCalls int
	saveErr   error
}

func (m *mockStore) SaveProgress(p storage.ProgressRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	m.records = append(m.records, p)
	return nil
}

func (m *mockStore) ListProgress(user string) ([]storage.ProgressRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listCalls++
	var out []storage.ProgressRecord
	// Most recent first, matching the real store.
	for i := len(m.records) - 1; i >= 0; i-- {
		if m.records[i].User == user {
			out = append(out, m.records[i])
		}
	}
	return out, nil
}

// --- Mock clock ---

type mockClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *mockClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *mockClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// --- Tests ---

func TestRecordAndSummary(t *testing.T) {
	store := &mockStore{}
	mgr := NewManager(store)

	if err := mgr.Record("default", "mml", "beginner", "training", 0); err != nil {
		t.Fatalf("Record training: %v", err)
	}
	if err := mgr.Record("default", "mml", "advanced", "training", 0); err != nil {
		t.Fatalf("Record training: %v", err)
	}
	if err := mgr.Record("default", "mml", "", "assessment", 80); err != nil {
		t.Fatalf("Record assessment: %v", err)
	}
	if err := mgr.Record("default", "alarm_handling", "", "mentor", 0); err != nil {
		t.Fatalf("Record mentor: %v", err)
	}

	s, err := mgr.Summary("default")
	if err != nil {
		t.Fatalf("Summary: %v", err)
	}

	if s.Total != 4 {
		t.Errorf("Total = %d, want 4", s.Total)
	}
	if len(s.Domains) != 2 {
		t.Fatalf("got %d domains, want 2", len(s.Domains))
	}

	var mml DomainSummary
	for _, d := range s.Domains {
		if d.Domain == "mml" {
			mml = d
		}
	}
	if mml.TrainingRuns != 2 || mml.Assessments != 1 || mml.MentorSessions != 0 {
		t.Errorf("mml counts = %+v, want 2 training, 1 assessment", mml)
	}
	if mml.AverageScore != 80 {
		t.Errorf("mml AverageScore = %v, want 80", mml.AverageScore)
	}
	if len(mml.LevelsSeen) != 2 || mml.LevelsSeen[0] != "advanced" || mml.LevelsSeen[1] != "beginner" {
		t.Errorf("mml LevelsSeen = %v, want [advanced beginner]", mml.LevelsSeen)
	}
}

func TestSummary_AverageOverAssessmentsOnly(t *testing.T) {
	store := &mockStore{}
	mgr := NewManager(store)

	if err := mgr.Record("default", "mml", "beginner", "training", 0); err != nil {
		t.Fatalf("Record: %v", err)
	}
	if err := mgr.Record("default", "mml", "", "assessment", 60); err != nil {
		t.Fatalf("Record: %v", err)
	}
	if err := mgr.Record("default", "mml", "", "assessment", 100); err != nil {
		t.Fatalf("Record: %v", err)
	}

	s, err := mgr.Summary("default")
	if err != nil {
		t.Fatalf("Summary: %v", err)
	}
	if got := s.Domains[0].AverageScore; got != 80 {
		t.Errorf("AverageScore = %v, want 80 (training runs excluded)", got)
	}
}

func TestSummary_CachedWithinTTL(t *testing.T) {
	store := &mockStore{}
	clock := &mockClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	mgr := NewManagerWithClock(store, clock, 60*time.Second)

	if err := mgr.Record("default", "mml", "beginner", "training", 0); err != nil {
		t.Fatalf("Record: %v", err)
	}

	if _, err := mgr.Summary("default"); err != nil {
		t.Fatalf("first Summary: %v", err)
	}
	if _, err := mgr.Summary("default"); err != nil {
		t.Fatalf("second Summary: %v", err)
	}
	if store.listCalls != 1 {
		t.Errorf("store queried %d times within TTL, want 1", store.listCalls)
	}

	clock.Advance(61 * time.Second)
	if _, err := mgr.Summary("default"); err != nil {
		t.Fatalf("Summary after TTL: %v", err)
	}
	if store.listCalls != 2 {
		t.Errorf("store queried %d times after TTL expiry, want 2", store.listCalls)
	}
}

func TestRecord_InvalidatesCache(t *testing.T) {
	store := &mockStore{}
	clock := &mockClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	mgr := NewManagerWithClock(store, clock, time.Hour)

	if err := mgr.Record("default", "mml", "beginner", "training", 0); err != nil {
		t.Fatalf("Record: %v", err)
	}
	s1, err := mgr.Summary("default")
	if err != nil {
		t.Fatalf("Summary: %v", err)
	}
	if s1.Total != 1 {
		t.Fatalf("Total = %d, want 1", s1.Total)
	}

	if err := mgr.Record("default", "mml", "", "mentor", 0); err != nil {
		t.Fatalf("Record: %v", err)
	}
	s2, err := mgr.Summary("default")
	if err != nil {
		t.Fatalf("Summary after Record: %v", err)
	}
	if s2.Total != 2 {
		t.Errorf("Total = %d after new record, want 2 (cache must be invalidated)", s2.Total)
	}
}

func TestSummary_PerUserCache(t *testing.T) {
	store := &mockStore{}
	mgr := NewManager(store)

	if err := mgr.Record("alice", "mml", "beginner", "training", 0); err != nil {
		t.Fatalf("Record alice: %v", err)
	}
	if err := mgr.Record("bob", "mml", "", "assessment", 90); err != nil {
		t.Fatalf("Record bob: %v", err)
	}

	sa, err := mgr.Summary("alice")
	if err != nil {
		t.Fatalf("Summary alice: %v", err)
	}
	sb, err := mgr.Summary("bob")
	if err != nil {
		t.Fatalf("Summary bob: %v", err)
	}

	if sa.Total != 1 || sb.Total != 1 {
		t.Errorf("totals = %d/%d, want 1 each", sa.Total, sb.Total)
	}
	if sa.Domains[0].Assessments != 0 || sb.Domains[0].Assessments != 1 {
		t.Errorf("assessment counts leaked across users: alice=%+v bob=%+v", sa.Domains[0], sb.Domains[0])
	}
}

func TestSummary_EmptyUserMapsToDefault(t *testing.T) {
	store := &mockStore{}
	mgr := NewManager(store)

	if err := mgr.Record("", "mml", "beginner", "training", 0); err != nil {
		t.Fatalf("Record: %v", err)
	}

	s, err := mgr.Summary("")
	if err != nil {
		t.Fatalf("Summary: %v", err)
	}
	if s.User != "default" || s.Total != 1 {
		t.Errorf("summary = %+v, want the default user's single record", s)
	}
}

func TestRecord_StoreError(t *testing.T) {
	store := &mockStore{saveErr: fmt.Errorf("disk full")}
	mgr := NewManager(store)

	err := mgr.Record("default", "mml", "beginner", "training", 0)
	if err == nil {
		t.Fatal("expected error from failing store")
	}
}

func TestSummary_ConcurrentAccess(t *testing.T) {
	store := &mockStore{}
	mgr := NewManager(store)

	if err := mgr.Record("default", "mml", "beginner", "training", 0); err != nil {
		t.Fatalf("Record: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := mgr.Summary("default"); err != nil {
				t.Errorf("Summary: %v", err)
			}
		}()
	}
	wg.Wait()
}
