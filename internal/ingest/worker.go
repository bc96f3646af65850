package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/kalambet/coach/internal/storage"
)

// JobStore abstracts the job queue operations.
type JobStore interface {
	ClaimNextJob() (*storage.Job, error)
	CompleteJob(id string) error
	FailJob(id string, errMsg string) error
}

// DocumentIndexer indexes an extracted document into a domain.
// Implemented by Indexer.
type DocumentIndexer interface {
	IndexDocument(ctx context.Context, domain string, doc Document) (int, error)
}

// Worker processes ingest jobs from the SQLite job queue.
type Worker struct {
	store   JobStore
	indexer DocumentIndexer
	poll    time.Duration
	logger  *slog.Logger
	fetch   func(ctx context.Context, url string) (string, error)
}

// NewWorker creates a Worker with the given dependencies.
// If pollInterval is <= 0, it defaults to 500ms.
func NewWorker(store JobStore, indexer DocumentIndexer, pollInterval time.Duration) *Worker {
	if pollInterval <= 0 {
		pollInterval = 500 * time.Millisecond
	}
	return &Worker{
		store:   store,
		indexer: indexer,
		poll:    pollInterval,
		logger:  slog.Default(),
		fetch:   fetchURL,
	}
}

// Run polls for jobs until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		done, err := w.RunOnce(ctx)
		if err != nil {
			w.logger.Error("worker iteration failed", "error", err)
		}
		if done {
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(w.poll):
		}
	}
}

// RunOnce claims and processes a single ingest job.
// Returns true if a job was processed (regardless of success/failure).
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	job, err := w.store.ClaimNextJob()
	if err != nil {
		return false, fmt.Errorf("claiming job: %w", err)
	}
	if job == nil {
		return false, nil
	}

	if err := w.processJob(ctx, job); err != nil {
		w.logger.Warn("job failed", "job_id", job.ID, "error", err)
		if failErr := w.store.FailJob(job.ID, err.Error()); failErr != nil {
			w.logger.Error("failed to mark job as failed", "job_id", job.ID, "error", failErr)
		}
		return true, nil
	}

	if err := w.store.CompleteJob(job.ID); err != nil {
		return true, fmt.Errorf("completing job %s: %w", job.ID, err)
	}
	return true, nil
}

func (w *Worker) processJob(ctx context.Context, job *storage.Job) error {
	doc, err := w.extractDocument(ctx, job)
	if err != nil {
		return err
	}

	n, err := w.indexer.IndexDocument(ctx, job.Domain, doc)
	if err != nil {
		return err
	}

	w.logger.Info("document indexed", "job_id", job.ID, "domain", job.Domain, "records", n)
	return nil
}

// extractDocument turns the job payload into plain text according to the
// job kind: "text" carries the content itself, "html" raw markup, "url" an
// address to fetch, and "pdf" a path on the local filesystem.
func (w *Worker) extractDocument(ctx context.Context, job *storage.Job) (Document, error) {
	if strings.TrimSpace(job.Payload) == "" {
		return Document{}, fmt.Errorf("job %s has empty payload", job.ID)
	}

	doc := Document{Title: job.Title, Source: job.Title}
	switch job.Kind {
	case "text", "":
		doc.Content = job.Payload
	case "html":
		content, err := ExtractHTML(strings.NewReader(job.Payload))
		if err != nil {
			return Document{}, fmt.Errorf("parsing html payload: %w", err)
		}
		doc.Content = content
	case "url":
		content, err := w.fetch(ctx, job.Payload)
		if err != nil {
			return Document{}, fmt.Errorf("fetching %s: %w", job.Payload, err)
		}
		doc.Content = content
		if doc.Source == "" {
			doc.Source = job.Payload
		}
	case "pdf":
		content, err := ExtractFile(job.Payload)
		if err != nil {
			return Document{}, err
		}
		doc.Content = content
		if doc.Source == "" {
			doc.Source = filepath.Base(job.Payload)
		}
	default:
		return Document{}, fmt.Errorf("unsupported job kind %q", job.Kind)
	}

	if doc.Title == "" {
		doc.Title = doc.Source
	}
	return doc, nil
}

var fetchClient = &http.Client{Timeout: 30 * time.Second}

func fetchURL(ctx context.Context, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	resp, err := fetchClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return ExtractHTML(resp.Body)
}
