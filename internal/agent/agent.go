// Package agent implements the three content-generation agents: training,
// mentor and assessment. Each agent runs the same two-phase pipeline,
// assemble (retrieve, optionally rerank, group) then synthesize (compose a
// prompt, call the LLM gateway, post-process), and differs only in how it
// selects source material and shapes the prompt.
package agent

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kalambet/coach/internal/grouping"
	"github.com/kalambet/coach/internal/reranking"
	"github.com/kalambet/coach/internal/retrieval"
)

// ErrInvalidRequest reports a request missing a required field. The API
// layer maps it to a 400 response.
var ErrInvalidRequest = errors.New("invalid request")

// maxConcurrentDomains bounds cross-domain retrieval fan-out.
const maxConcurrentDomains = 4

// Request carries the inputs for one content-generation operation. Which
// fields matter depends on the operation: training reads Domain and Level,
// mentor reads Query and optionally Domain, assessment reads Topic plus
// Count or Scenario.
type Request struct {
	Domain   string `json:"domain,omitempty"`
	Level    string `json:"level,omitempty"`
	Query    string `json:"query,omitempty"`
	Topic    string `json:"topic,omitempty"`
	Scenario string `json:"scenario,omitempty"`
	Count    int    `json:"count,omitempty"`
}

// Result is the outcome of one content-generation operation. Content is set
// by training and mentor, Questions and Evaluation by the assessment ops.
type Result struct {
	Content    string      `json:"content,omitempty"`
	Questions  []string    `json:"questions,omitempty"`
	Evaluation *Evaluation `json:"evaluation,omitempty"`
	Meta       Meta        `json:"meta"`
}

// Meta records how a result was produced.
type Meta struct {
	Agent       string    `json:"agent"`
	Domain      string    `json:"domain,omitempty"`
	Level       string    `json:"level,omitempty"`
	Fragments   int       `json:"fragments"`
	Groups      int       `json:"groups"`
	DurationMs  int64     `json:"duration_ms"`
	GeneratedAt time.Time `json:"generated_at"`
}

// Evaluation is a scored verdict on a submitted scenario approach.
type Evaluation struct {
	Feedback       string   `json:"feedback"`
	Score          int      `json:"score"`
	Strengths      []string `json:"strengths"`
	Improvements   []string `json:"improvements"`
	TechnicalNotes string   `json:"technical_notes"`
}

// Retriever finds indexed fragments relevant to a query.
type Retriever interface {
	Retrieve(ctx context.Context, domain, query string, k int) ([]retrieval.Fragment, error)
	Domains() ([]string, error)
}

// Grouper clusters fragments into named topical groups.
type Grouper interface {
	Group(ctx context.Context, domain string, frags []retrieval.Fragment) []grouping.Group
}

// Generator produces a completion from a system and user prompt pair.
type Generator interface {
	Complete(ctx context.Context, system, user string) (string, error)
}

// newMeta stamps the bookkeeping fields shared by every agent result.
func newMeta(agentName string, started time.Time) Meta {
	return Meta{
		Agent:       agentName,
		DurationMs:  time.Since(started).Milliseconds(),
		GeneratedAt: time.Now().UTC(),
	}
}

// rerank re-scores fragments by query relevance, keeping the vector order
// when the reranker is absent or fails. Relevance reranking is an optional
// quality pass and never a reason to fail a request.
func rerank(ctx context.Context, r reranking.Reranker, query string, frags []retrieval.Fragment) []retrieval.Fragment {
	if r == nil || len(frags) == 0 {
		return frags
	}
	out, err := r.Rerank(ctx, query, frags)
	if err != nil {
		slog.Warn("rerank failed, keeping vector order", "error", err)
		return frags
	}
	return out
}

// retrieveAcross queries every indexed domain concurrently and merges the
// results by descending score, keeping the best topK. Domains that fail to
// answer are skipped so one bad index cannot sink a cross-domain query.
func retrieveAcross(ctx context.Context, r Retriever, query string, topK int) ([]retrieval.Fragment, error) {
	domains, err := r.Domains()
	if err != nil {
		return nil, err
	}

	var (
		mu     sync.Mutex
		merged []retrieval.Fragment
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentDomains)
	for _, domain := range domains {
		g.Go(func() error {
			frags, err := r.Retrieve(gctx, domain, query, topK)
			if err != nil {
				slog.Warn("domain retrieval failed, skipping", "domain", domain, "error", err)
				return nil
			}
			mu.Lock()
			merged = append(merged, frags...)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sort.SliceStable(merged, func(i, j int) bool { return merged[i].Score > merged[j].Score })
	if topK > 0 && len(merged) > topK {
		merged = merged[:topK]
	}
	return merged, nil
}
