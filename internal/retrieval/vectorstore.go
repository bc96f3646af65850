package retrieval

import (
	"context"
	"errors"
	"time"
)

// ErrIndexNotFound reports that a knowledge domain has no persisted vector
// index. Callers use errors.Is to distinguish "no knowledge base configured"
// from transient retrieval failures.
var ErrIndexNotFound = errors.New("knowledge index not found")

// IndexStore is the contract for per-domain vector index storage. The
// default implementation keeps one SQLite file per domain with brute-force
// cosine similarity search; the interface leaves room for an ANN-backed
// store without touching the retriever.
type IndexStore interface {
	// CreateIndex ensures the index for a domain exists. Idempotent.
	CreateIndex(domain string) error

	// Insert adds records to a domain's index, creating it if needed.
	Insert(domain string, records []Record) error

	// Search returns the top-K most similar records from a domain's index,
	// ordered by descending score with ties broken by corpus order.
	// A domain without an index fails with ErrIndexNotFound.
	Search(ctx context.Context, domain string, vector []float32, topK int) ([]ScoredRecord, error)

	// Count returns the number of records in a domain's index.
	Count(domain string) (int, error)

	// Exists reports whether a domain has a persisted index.
	Exists(domain string) bool

	// Domains lists all domains with a persisted index.
	Domains() ([]string, error)

	// Close releases all open index handles.
	Close() error
}

// Record represents one indexed fragment row.
type Record struct {
	ID        string
	Source    string // originating document name
	Kind      string // text | table | figure
	Text      string
	Embedding []float32
	Seq       int // corpus order within the domain
	CreatedAt time.Time
}

// ScoredRecord is a Record with a similarity score attached.
type ScoredRecord struct {
	Record
	Score float32
}

// Fragment is one retrieved unit of source text handed to grouping and
// prompt composition. Produced fresh per retrieval call, never persisted.
type Fragment struct {
	ID     string
	Source string
	Kind   string
	Text   string
	Score  float32
	Rank   int // corpus order, used for stable tie-breaking
}
