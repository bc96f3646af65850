package ingest

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kalambet/coach/internal/storage"
)

type indexedDoc struct {
	domain string
	doc    Document
}

type mockDocumentIndexer struct {
	mu      sync.Mutex
	indexed []indexedDoc
	indexFn func(ctx context.Context, domain string, doc Document) (int, error)
}

func (m *mockDocumentIndexer) IndexDocument(ctx context.Context, domain string, doc Document) (int, error) {
	if m.indexFn != nil {
		return m.indexFn(ctx, domain, doc)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.indexed = append(m.indexed, indexedDoc{domain: domain, doc: doc})
	return 1, nil
}

func (m *mockDocumentIndexer) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.indexed)
}

func openTestStore(t *testing.T) *storage.Store {
	t.Helper()
	s, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func enqueueTestJob(t *testing.T, store *storage.Store, id, kind, payload string) {
	t.Helper()
	job := storage.Job{
		ID:      id,
		Domain:  "mml",
		Title:   "Test Doc",
		Kind:    kind,
		Payload: payload,
	}
	if err := store.EnqueueJob(job); err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}
}

// resetRunAfter sets run_after to now so the job is immediately claimable after FailJob backoff.
func resetRunAfter(t *testing.T, store *storage.Store, jobID string) {
	t.Helper()
	now := time.Now().UTC().Format(time.RFC3339)
	_, err := store.DB().Exec(`UPDATE jobs SET run_after = ? WHERE id = ?`, now, jobID)
	if err != nil {
		t.Fatalf("resetRunAfter: %v", err)
	}
}

func TestWorker_ProcessesTextJob(t *testing.T) {
	store := openTestStore(t)
	enqueueTestJob(t, store, "job-1", "text", "Alarm lists live on the APG.")

	indexer := &mockDocumentIndexer{}
	w := NewWorker(store, indexer, 0)

	didWork, err := w.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce error: %v", err)
	}
	if !didWork {
		t.Fatal("RunOnce returned false, expected true")
	}

	if indexer.count() != 1 {
		t.Fatalf("indexed %d documents, want 1", indexer.count())
	}
	got := indexer.indexed[0]
	if got.domain != "mml" {
		t.Errorf("domain = %q, want %q", got.domain, "mml")
	}
	if got.doc.Title != "Test Doc" {
		t.Errorf("Title = %q, want %q", got.doc.Title, "Test Doc")
	}
	if got.doc.Content != "Alarm lists live on the APG." {
		t.Errorf("Content = %q", got.doc.Content)
	}

	job, err := store.GetJob("job-1")
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if job.Status != "completed" {
		t.Errorf("job status = %q, want %q", job.Status, "completed")
	}
}

func TestWorker_HTMLJob(t *testing.T) {
	store := openTestStore(t)
	enqueueTestJob(t, store, "job-h", "html",
		`<html><body><p>Alarm printout format.</p><script>skip()</script></body></html>`)

	indexer := &mockDocumentIndexer{}
	w := NewWorker(store, indexer, 0)

	if _, err := w.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce error: %v", err)
	}
	if indexer.count() != 1 {
		t.Fatalf("indexed %d documents, want 1", indexer.count())
	}
	if got := indexer.indexed[0].doc.Content; got != "Alarm printout format." {
		t.Errorf("Content = %q, want %q", got, "Alarm printout format.")
	}
}

func TestWorker_URLJob(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><body><h1>Remote Guide</h1></body></html>`)
	}))
	defer srv.Close()

	store := openTestStore(t)
	enqueueTestJob(t, store, "job-u", "url", srv.URL)

	indexer := &mockDocumentIndexer{}
	w := NewWorker(store, indexer, 0)

	if _, err := w.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce error: %v", err)
	}
	if indexer.count() != 1 {
		t.Fatalf("indexed %d documents, want 1", indexer.count())
	}
	if got := indexer.indexed[0].doc.Content; got != "Remote Guide" {
		t.Errorf("Content = %q, want %q", got, "Remote Guide")
	}

	job, err := store.GetJob("job-u")
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if job.Status != "completed" {
		t.Errorf("job status = %q, want %q", job.Status, "completed")
	}
}

func TestWorker_URLJobServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	store := openTestStore(t)
	enqueueTestJob(t, store, "job-u5", "url", srv.URL)

	indexer := &mockDocumentIndexer{}
	w := NewWorker(store, indexer, 0)

	didWork, err := w.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce error: %v", err)
	}
	if !didWork {
		t.Fatal("RunOnce returned false, expected true")
	}
	if indexer.count() != 0 {
		t.Errorf("indexed %d documents, want 0", indexer.count())
	}

	job, err := store.GetJob("job-u5")
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if job.Status != "pending" || job.Attempts != 1 {
		t.Errorf("job = %s/%d attempts, want pending/1", job.Status, job.Attempts)
	}
	if !strings.Contains(job.LastError, "unexpected status 500") {
		t.Errorf("LastError = %q, want mention of status 500", job.LastError)
	}
}

func TestWorker_UnsupportedKindFailsJob(t *testing.T) {
	store := openTestStore(t)
	enqueueTestJob(t, store, "job-x", "docx", "whatever")

	indexer := &mockDocumentIndexer{}
	w := NewWorker(store, indexer, 0)

	didWork, err := w.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce error: %v", err)
	}
	if !didWork {
		t.Fatal("RunOnce returned false, expected true")
	}

	job, err := store.GetJob("job-x")
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if !strings.Contains(job.LastError, "unsupported job kind") {
		t.Errorf("LastError = %q, want mention of unsupported job kind", job.LastError)
	}
}

func TestWorker_EmptyQueue(t *testing.T) {
	store := openTestStore(t)
	w := NewWorker(store, &mockDocumentIndexer{}, 0)

	didWork, err := w.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce error: %v", err)
	}
	if didWork {
		t.Error("RunOnce returned true on an empty queue")
	}
}

func TestWorker_RetryOnFailure(t *testing.T) {
	store := openTestStore(t)
	enqueueTestJob(t, store, "job-r", "text", "retry content")

	var calls atomic.Int32
	indexer := &mockDocumentIndexer{
		indexFn: func(_ context.Context, _ string, _ Document) (int, error) {
			n := calls.Add(1)
			if n <= 2 {
				return 0, fmt.Errorf("transient error %d", n)
			}
			return 1, nil
		},
	}
	w := NewWorker(store, indexer, 0)
	ctx := context.Background()

	// 1st attempt fails and stays retryable.
	if didWork, err := w.RunOnce(ctx); err != nil || !didWork {
		t.Fatalf("RunOnce 1 = %v, %v", didWork, err)
	}
	job, err := store.GetJob("job-r")
	if err != nil {
		t.Fatalf("GetJob after 1st fail: %v", err)
	}
	if job.Status != "pending" || job.Attempts != 1 {
		t.Errorf("after 1st fail: status=%q attempts=%d, want pending/1", job.Status, job.Attempts)
	}

	resetRunAfter(t, store, "job-r")

	// 2nd attempt fails.
	if didWork, err := w.RunOnce(ctx); err != nil || !didWork {
		t.Fatalf("RunOnce 2 = %v, %v", didWork, err)
	}
	job, err = store.GetJob("job-r")
	if err != nil {
		t.Fatalf("GetJob after 2nd fail: %v", err)
	}
	if job.Attempts != 2 {
		t.Errorf("after 2nd fail: attempts=%d, want 2", job.Attempts)
	}

	resetRunAfter(t, store, "job-r")

	// 3rd attempt succeeds.
	if didWork, err := w.RunOnce(ctx); err != nil || !didWork {
		t.Fatalf("RunOnce 3 = %v, %v", didWork, err)
	}
	job, err = store.GetJob("job-r")
	if err != nil {
		t.Fatalf("GetJob after 3rd attempt: %v", err)
	}
	if job.Status != "completed" {
		t.Errorf("after 3rd attempt: status=%q, want completed", job.Status)
	}
}

func TestWorker_MaxRetriesExceeded(t *testing.T) {
	store := openTestStore(t)
	enqueueTestJob(t, store, "job-m", "text", "max retry content")

	indexer := &mockDocumentIndexer{
		indexFn: func(_ context.Context, _ string, _ Document) (int, error) {
			return 0, fmt.Errorf("permanent error")
		},
	}
	w := NewWorker(store, indexer, 0)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		didWork, err := w.RunOnce(ctx)
		if err != nil {
			t.Fatalf("RunOnce %d error: %v", i, err)
		}
		if !didWork {
			t.Fatalf("RunOnce %d returned false", i)
		}
		if i < 3 {
			resetRunAfter(t, store, "job-m")
		}
	}

	job, err := store.GetJob("job-m")
	if err != nil {
		t.Fatalf("GetJob final: %v", err)
	}
	if job.Status != "failed" {
		t.Errorf("final status = %q, want %q", job.Status, "failed")
	}
	if !strings.Contains(job.LastError, "permanent error") {
		t.Errorf("LastError = %q, want the permanent error recorded", job.LastError)
	}
}

func TestWorker_ConcurrentEnqueue(t *testing.T) {
	store := openTestStore(t)

	const goroutines = 5
	const jobsPerGoroutine = 10
	const total = goroutines * jobsPerGoroutine

	var wg sync.WaitGroup
	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for j := 0; j < jobsPerGoroutine; j++ {
				job := storage.Job{
					ID:      fmt.Sprintf("job-%d-%d", g, j),
					Domain:  "mml",
					Title:   "Test Doc",
					Kind:    "text",
					Payload: fmt.Sprintf("content %d-%d", g, j),
				}
				if err := store.EnqueueJob(job); err != nil {
					t.Errorf("EnqueueJob %s: %v", job.ID, err)
					return
				}
			}
		}(g)
	}
	wg.Wait()

	indexer := &mockDocumentIndexer{}
	w := NewWorker(store, indexer, 0)

	ctx := context.Background()
	deadline := time.After(5 * time.Second)
	processed := 0
	for processed < total {
		select {
		case <-deadline:
			t.Fatalf("timed out after processing %d/%d jobs", processed, total)
		default:
		}
		didWork, err := w.RunOnce(ctx)
		if err != nil {
			t.Fatalf("RunOnce error at job %d: %v", processed, err)
		}
		if didWork {
			processed++
		}
	}

	if indexer.count() != total {
		t.Errorf("indexed %d documents, want %d", indexer.count(), total)
	}
	for g := 0; g < goroutines; g++ {
		for j := 0; j < jobsPerGoroutine; j++ {
			id := fmt.Sprintf("job-%d-%d", g, j)
			job, err := store.GetJob(id)
			if err != nil {
				t.Errorf("GetJob %s: %v", id, err)
				continue
			}
			if job.Status != "completed" {
				t.Errorf("job %s status = %q, want completed", id, job.Status)
			}
		}
	}
}

func TestExtractDocument_Kinds(t *testing.T) {
	w := NewWorker(nil, nil, 0)

	var fetchedURL string
	w.fetch = func(_ context.Context, url string) (string, error) {
		fetchedURL = url
		return "fetched text", nil
	}

	tests := []struct {
		name        string
		job         storage.Job
		wantContent string
		wantSource  string
		wantErr     string
	}{
		{
			name:        "text passthrough",
			job:         storage.Job{ID: "j1", Title: "Notes", Kind: "text", Payload: "raw notes"},
			wantContent: "raw notes",
			wantSource:  "Notes",
		},
		{
			name:        "empty kind defaults to text",
			job:         storage.Job{ID: "j2", Title: "Notes", Payload: "raw notes"},
			wantContent: "raw notes",
			wantSource:  "Notes",
		},
		{
			name:        "html stripped",
			job:         storage.Job{ID: "j3", Title: "Page", Kind: "html", Payload: "<p>markup gone</p>"},
			wantContent: "markup gone",
			wantSource:  "Page",
		},
		{
			name:        "url fetched",
			job:         storage.Job{ID: "j4", Kind: "url", Payload: "http://docs.local/guide"},
			wantContent: "fetched text",
			wantSource:  "http://docs.local/guide",
		},
		{
			name:    "empty payload",
			job:     storage.Job{ID: "j5", Kind: "text", Payload: "  "},
			wantErr: "empty payload",
		},
		{
			name:    "unknown kind",
			job:     storage.Job{ID: "j6", Kind: "docx", Payload: "x"},
			wantErr: "unsupported job kind",
		},
		{
			name:    "pdf path missing",
			job:     storage.Job{ID: "j7", Kind: "pdf", Payload: filepath.Join(t.TempDir(), "missing.pdf")},
			wantErr: "missing.pdf",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc, err := w.extractDocument(context.Background(), &tt.job)
			if tt.wantErr != "" {
				if err == nil {
					t.Fatalf("expected error containing %q, got nil", tt.wantErr)
				}
				if !strings.Contains(err.Error(), tt.wantErr) {
					t.Errorf("error = %v, want mention of %q", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("extractDocument error: %v", err)
			}
			if doc.Content != tt.wantContent {
				t.Errorf("Content = %q, want %q", doc.Content, tt.wantContent)
			}
			if doc.Source != tt.wantSource {
				t.Errorf("Source = %q, want %q", doc.Source, tt.wantSource)
			}
		})
	}

	if fetchedURL != "http://docs.local/guide" {
		t.Errorf("fetched URL = %q, want the job payload", fetchedURL)
	}
}
