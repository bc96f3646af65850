package retrieval

import (
	"context"
	"fmt"
)

const (
	// DefaultTopK bounds how many fragments a retrieval returns when the
	// caller does not say.
	DefaultTopK = 5

	// MaxTopK is the hard ceiling on k; anything above is clamped to keep
	// downstream prompt assembly predictable.
	MaxTopK = 20

	// DefaultCharBudget caps the combined character length of returned
	// fragment text.
	DefaultCharBudget = 8000
)

// QueryEmbedder turns a query string into an embedding vector.
// Implemented by Embedder.
type QueryEmbedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Retriever performs similarity search over per-domain knowledge indexes.
type Retriever struct {
	embedder   QueryEmbedder
	index      IndexStore
	charBudget int
}

// NewRetriever creates a Retriever backed by the given embedder and index
// store. charBudget <= 0 selects DefaultCharBudget.
func NewRetriever(embedder QueryEmbedder, index IndexStore, charBudget int) *Retriever {
	if charBudget <= 0 {
		charBudget = DefaultCharBudget
	}
	return &Retriever{embedder: embedder, index: index, charBudget: charBudget}
}

// Retrieve embeds the query and returns the top-k most relevant fragments
// from the domain's index, ordered by descending relevance with ties broken
// by corpus order. A domain without an index fails with ErrIndexNotFound;
// an existing but empty index returns an empty result. Read-only.
func (r *Retriever) Retrieve(ctx context.Context, domain, query string, k int) ([]Fragment, error) {
	if k <= 0 {
		k = DefaultTopK
	}
	if k > MaxTopK {
		k = MaxTopK
	}

	// Check for the index before paying for an embedding; missing index is
	// a configuration condition, not a transient failure.
	if !r.index.Exists(domain) {
		return nil, fmt.Errorf("domain %s: %w", domain, ErrIndexNotFound)
	}

	vec, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}

	scored, err := r.index.Search(ctx, domain, vec, k)
	if err != nil {
		return nil, fmt.Errorf("searching %s: %w", domain, err)
	}

	return truncateFragments(scoredToFragments(scored), r.charBudget), nil
}

// Domains lists all domains with a persisted index.
func (r *Retriever) Domains() ([]string, error) {
	return r.index.Domains()
}

// Count returns the number of indexed fragments for a domain.
func (r *Retriever) Count(domain string) (int, error) {
	return r.index.Count(domain)
}

// HasIndex reports whether a domain has a persisted index.
func (r *Retriever) HasIndex(domain string) bool {
	return r.index.Exists(domain)
}

func scoredToFragments(scored []ScoredRecord) []Fragment {
	frags := make([]Fragment, len(scored))
	for i, s := range scored {
		frags[i] = Fragment{
			ID:     s.ID,
			Source: s.Source,
			Kind:   s.Kind,
			Text:   s.Text,
			Score:  s.Score,
			Rank:   s.Seq,
		}
	}
	return frags
}

// truncateFragments drops trailing fragments once the combined text length
// exceeds budget. The first fragment is always kept, clipped to the budget
// if it alone exceeds it.
func truncateFragments(frags []Fragment, budget int) []Fragment {
	if len(frags) == 0 || budget <= 0 {
		return frags
	}

	if len(frags[0].Text) > budget {
		clipped := frags[0]
		clipped.Text = clipped.Text[:budget]
		return []Fragment{clipped}
	}

	total := 0
	for i, f := range frags {
		total += len(f.Text)
		if total > budget {
			return frags[:i]
		}
	}
	return frags
}
