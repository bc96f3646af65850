package agent

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/kalambet/coach/internal/grouping"
	"github.com/kalambet/coach/internal/retrieval"
)

type mockRetriever struct {
	retrieveFn func(ctx context.Context, domain, query string, k int) ([]retrieval.Fragment, error)
	domainsFn  func() ([]string, error)
	retrieves  atomic.Int32
}

func (m *mockRetriever) Retrieve(ctx context.Context, domain, query string, k int) ([]retrieval.Fragment, error) {
	m.retrieves.Add(1)
	if m.retrieveFn != nil {
		return m.retrieveFn(ctx, domain, query, k)
	}
	return nil, nil
}

func (m *mockRetriever) Domains() ([]string, error) {
	if m.domainsFn != nil {
		return m.domainsFn()
	}
	return nil, nil
}

type mockGrouper struct {
	groupFn func(ctx context.Context, domain string, frags []retrieval.Fragment) []grouping.Group
	calls   atomic.Int32
}

func (m *mockGrouper) Group(ctx context.Context, domain string, frags []retrieval.Fragment) []grouping.Group {
	m.calls.Add(1)
	if m.groupFn != nil {
		return m.groupFn(ctx, domain, frags)
	}
	if len(frags) == 0 {
		return nil
	}
	return []grouping.Group{{Name: "All Material", Fragments: frags}}
}

type mockGenerator struct {
	completeFn func(ctx context.Context, system, user string) (string, error)
	calls      atomic.Int32
}

func (m *mockGenerator) Complete(ctx context.Context, system, user string) (string, error) {
	m.calls.Add(1)
	if m.completeFn != nil {
		return m.completeFn(ctx, system, user)
	}
	return "generated content", nil
}

type mockReranker struct {
	rerankFn func(ctx context.Context, query string, frags []retrieval.Fragment) ([]retrieval.Fragment, error)
}

func (m *mockReranker) Rerank(ctx context.Context, query string, frags []retrieval.Fragment) ([]retrieval.Fragment, error) {
	if m.rerankFn != nil {
		return m.rerankFn(ctx, query, frags)
	}
	return frags, nil
}

// makeAgentFrags builds n fragments with descending scores.
func makeAgentFrags(n int) []retrieval.Fragment {
	frags := make([]retrieval.Fragment, n)
	for i := range frags {
		frags[i] = retrieval.Fragment{
			ID:     fmt.Sprintf("f%d", i),
			Source: "handbook.pdf",
			Kind:   "text",
			Text:   fmt.Sprintf("MML session state reference, part %d", i),
			Score:  1.0 - float32(i)*0.05,
			Rank:   i,
		}
	}
	return frags
}

func TestRetrieveAcross_MergesAndCaps(t *testing.T) {
	retriever := &mockRetriever{
		domainsFn: func() ([]string, error) {
			return []string{"mml", "alarm_handling"}, nil
		},
		retrieveFn: func(_ context.Context, domain, _ string, _ int) ([]retrieval.Fragment, error) {
			if domain == "mml" {
				return []retrieval.Fragment{
					{ID: "m0", Text: "mml high", Score: 0.9},
					{ID: "m1", Text: "mml low", Score: 0.2},
				}, nil
			}
			return []retrieval.Fragment{
				{ID: "a0", Text: "alarm mid", Score: 0.5},
			}, nil
		},
	}

	frags, err := retrieveAcross(context.Background(), retriever, "session states", 2)
	if err != nil {
		t.Fatalf("retrieveAcross: %v", err)
	}
	if len(frags) != 2 {
		t.Fatalf("got %d fragments, want 2", len(frags))
	}
	if frags[0].ID != "m0" || frags[1].ID != "a0" {
		t.Errorf("got order %s, %s; want m0, a0", frags[0].ID, frags[1].ID)
	}
}

func TestRetrieveAcross_SkipsFailingDomain(t *testing.T) {
	retriever := &mockRetriever{
		domainsFn: func() ([]string, error) {
			return []string{"broken", "mml"}, nil
		},
		retrieveFn: func(_ context.Context, domain, _ string, _ int) ([]retrieval.Fragment, error) {
			if domain == "broken" {
				return nil, fmt.Errorf("index corrupt")
			}
			return []retrieval.Fragment{{ID: "m0", Score: 0.8}}, nil
		},
	}

	frags, err := retrieveAcross(context.Background(), retriever, "anything", 5)
	if err != nil {
		t.Fatalf("retrieveAcross: %v", err)
	}
	if len(frags) != 1 || frags[0].ID != "m0" {
		t.Fatalf("got %v, want the single mml fragment", frags)
	}
}

func TestRetrieveAcross_DomainsError(t *testing.T) {
	retriever := &mockRetriever{
		domainsFn: func() ([]string, error) {
			return nil, fmt.Errorf("store closed")
		},
	}

	if _, err := retrieveAcross(context.Background(), retriever, "q", 5); err == nil {
		t.Fatal("expected error when domain listing fails")
	}
}

func TestRerank_NilRerankerKeepsFragments(t *testing.T) {
	frags := makeAgentFrags(3)
	got := rerank(context.Background(), nil, "q", frags)
	if len(got) != 3 {
		t.Fatalf("got %d fragments, want 3", len(got))
	}
}

func TestRerank_FailureKeepsVectorOrder(t *testing.T) {
	frags := makeAgentFrags(3)
	r := &mockReranker{
		rerankFn: func(_ context.Context, _ string, _ []retrieval.Fragment) ([]retrieval.Fragment, error) {
			return nil, fmt.Errorf("scoring failed")
		},
	}

	got := rerank(context.Background(), r, "q", frags)
	if len(got) != 3 {
		t.Fatalf("got %d fragments, want original 3", len(got))
	}
	for i := range got {
		if got[i].ID != frags[i].ID {
			t.Errorf("fragment %d: got %s, want %s", i, got[i].ID, frags[i].ID)
		}
	}
}
