package ingest

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/coach/internal/retrieval"
)

// BatchEmbedder generates embeddings for chunk batches.
type BatchEmbedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// IndexWriter appends records to a domain's vector index.
type IndexWriter interface {
	Insert(domain string, records []retrieval.Record) error
	Count(domain string) (int, error)
}

// Document is one extracted source ready for indexing.
type Document struct {
	Title   string
	Source  string // display name recorded with each fragment
	Content string // extracted plain text
}

// Indexer turns documents into indexed vector records: split, classify,
// embed, insert.
type Indexer struct {
	embedder BatchEmbedder
	index    IndexWriter
}

func NewIndexer(embedder BatchEmbedder, index IndexWriter) *Indexer {
	return &Indexer{embedder: embedder, index: index}
}

// IndexDocument chunks and embeds doc into the domain's index, returning
// the number of records written. Sequence numbers continue from the
// current index size so corpus order is preserved across documents.
func (ix *Indexer) IndexDocument(ctx context.Context, domain string, doc Document) (int, error) {
	chunks := SplitText(doc.Content)
	if len(chunks) == 0 {
		return 0, fmt.Errorf("document %q has no extractable text", doc.Title)
	}

	vectors, err := ix.embedder.EmbedBatch(ctx, chunks)
	if err != nil {
		return 0, fmt.Errorf("embedding %d chunks of %q: %w", len(chunks), doc.Title, err)
	}

	seq, err := ix.index.Count(domain)
	if err != nil {
		if !errors.Is(err, retrieval.ErrIndexNotFound) {
			return 0, fmt.Errorf("sizing index %s: %w", domain, err)
		}
		seq = 0
	}

	source := doc.Source
	if source == "" {
		source = doc.Title
	}
	now := time.Now().UTC()
	records := make([]retrieval.Record, len(chunks))
	for i, chunk := range chunks {
		records[i] = retrieval.Record{
			ID:        uuid.New().String(),
			Source:    source,
			Kind:      classifyChunk(chunk),
			Text:      chunk,
			Embedding: vectors[i],
			Seq:       seq + i,
			CreatedAt: now,
		}
	}

	if err := ix.index.Insert(domain, records); err != nil {
		return 0, fmt.Errorf("inserting %d records into %s: %w", len(records), domain, err)
	}
	return len(records), nil
}

// IndexFile extracts path and indexes it under domain.
func (ix *Indexer) IndexFile(ctx context.Context, domain, path string) (int, error) {
	content, err := ExtractFile(path)
	if err != nil {
		return 0, err
	}
	name := filepath.Base(path)
	return ix.IndexDocument(ctx, domain, Document{
		Title:   strings.TrimSuffix(name, filepath.Ext(name)),
		Source:  name,
		Content: content,
	})
}
