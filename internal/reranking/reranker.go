package reranking

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/kalambet/coach/internal/engine"
	"github.com/kalambet/coach/internal/retrieval"
)

const defaultConcurrency = 3

// Reranker re-scores retrieved fragments by query relevance.
type Reranker interface {
	Rerank(ctx context.Context, query string, frags []retrieval.Fragment) ([]retrieval.Fragment, error)
}

// NewReranker returns an LLMReranker if enabled, NoOpReranker otherwise.
// A nil engine also yields the NoOpReranker.
//
// topK controls the early-return threshold: once topK fragments have been
// scored, the reranker returns that subset immediately without waiting for
// the rest. Set topK to 0 (or >= len(frags)) to disable early return.
func NewReranker(eng engine.Engine, model string, enabled bool, timeout time.Duration, threshold float64, topK int) Reranker {
	if !enabled || eng == nil {
		return &NoOpReranker{}
	}
	return &LLMReranker{
		engine:    eng,
		model:     model,
		timeout:   timeout,
		threshold: threshold,
		topK:      topK,
	}
}

// LLMReranker uses the local fast model to score (query, fragment) relevance
// pairs. Scoring runs concurrently (bounded to defaultConcurrency
// goroutines). Results are filtered by threshold and sorted by score
// descending.
type LLMReranker struct {
	engine    engine.Engine
	model     string
	timeout   time.Duration
	threshold float64
	topK      int // early-return threshold; 0 = score all
}

// Rerank scores each fragment against the query and returns a filtered,
// sorted result set. If the timeout fires before scoring completes, the
// original fragment order is returned unchanged (graceful degradation).
func (r *LLMReranker) Rerank(ctx context.Context, query string, frags []retrieval.Fragment) ([]retrieval.Fragment, error) {
	if len(frags) == 0 {
		return frags, nil
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	// Early return fires when topK > 0 and topK < len(frags).
	earlyReturnAt := r.topK
	if earlyReturnAt <= 0 || earlyReturnAt >= len(frags) {
		earlyReturnAt = 0
	}

	// Buffered channel prevents goroutines from blocking on send after we stop reading.
	results := make(chan retrieval.Fragment, len(frags))
	sem := make(chan struct{}, defaultConcurrency)

	var wg sync.WaitGroup
	for _, f := range frags {
		wg.Add(1)
		go func(frag retrieval.Fragment) {
			defer wg.Done()
			// Acquire concurrency slot or bail on cancellation.
			select {
			case sem <- struct{}{}:
			case <-timeoutCtx.Done():
				return
			}
			defer func() { <-sem }()

			score, err := r.scoreFragment(timeoutCtx, query, frag)
			if err != nil {
				if timeoutCtx.Err() != nil {
					return // context cancelled — don't send partial result
				}
				slog.Debug("reranker: score failed, retaining original", "error", err)
				results <- frag // original score preserved
				return
			}
			frag.Score = float32(score)
			results <- frag
		}(f)
	}

	go func() {
		wg.Wait()
		close(results)
	}()

	scored := make([]retrieval.Fragment, 0, len(frags))
collect:
	for {
		select {
		case f, ok := <-results:
			if !ok {
				break collect // all goroutines finished
			}
			scored = append(scored, f)
			if earlyReturnAt > 0 && len(scored) >= earlyReturnAt {
				cancel() // stop remaining goroutines
				break collect
			}
		case <-timeoutCtx.Done():
			// Hard timeout hit before enough fragments were scored: graceful degradation.
			return frags, nil
		}
	}

	if len(scored) == 0 {
		return frags, nil
	}

	// Filter fragments below the relevance threshold.
	filtered := make([]retrieval.Fragment, 0, len(scored))
	for _, f := range scored {
		if float64(f.Score) >= r.threshold {
			filtered = append(filtered, f)
		}
	}

	// Sort by score descending.
	sort.Slice(filtered, func(i, j int) bool {
		return filtered[i].Score > filtered[j].Score
	})

	return filtered, nil
}

func (r *LLMReranker) scoreFragment(ctx context.Context, query string, frag retrieval.Fragment) (float64, error) {
	prompt := "Rate the relevance of the following text to the query on a scale of 0.0 to 1.0.\n" +
		"Query: " + query + "\n" +
		"Text: " + frag.Text + "\n" +
		`Respond with only a JSON object: {"score": <float>}`

	resp, err := r.engine.Chat(ctx, r.model, []engine.Message{
		{Role: "user", Content: prompt},
	})
	if err != nil {
		return float64(frag.Score), err
	}

	score, parseErr := parseScore(resp, frag.Score)
	if parseErr != nil {
		slog.Debug("reranker: parse failed, using original score", "resp", resp, "error", parseErr)
		return float64(frag.Score), nil
	}
	return score, nil
}

// parseScore robustly extracts a relevance score float from an LLM response.
// Small local models frequently wrap JSON in markdown code fences or prepend
// conversational filler. The parser:
//  1. Strips markdown code fences if present (```json ... ```)
//  2. Finds the first { and last } to extract the JSON object
//  3. Attempts json.Unmarshal on the extracted substring
//  4. On failure: returns originalScore so the fragment is not penalised
func parseScore(resp string, originalScore float32) (float64, error) {
	s := strings.TrimSpace(resp)

	// Strip markdown code fences.
	if idx := strings.Index(s, "```"); idx != -1 {
		s = s[idx+3:]
		if strings.HasPrefix(s, "json") {
			s = s[4:]
		}
		if end := strings.Index(s, "```"); end != -1 {
			s = s[:end]
		}
	}

	// Extract JSON object by brace position.
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start == -1 || end <= start {
		return float64(originalScore), fmt.Errorf("no JSON object in response")
	}

	var obj struct {
		Score float64 `json:"score"`
	}
	if err := json.Unmarshal([]byte(s[start:end+1]), &obj); err != nil {
		return float64(originalScore), fmt.Errorf("unmarshal score: %w", err)
	}
	return obj.Score, nil
}

// NoOpReranker passes fragments through unchanged. Used when reranking is disabled.
type NoOpReranker struct{}

func (n *NoOpReranker) Rerank(_ context.Context, _ string, frags []retrieval.Fragment) ([]retrieval.Fragment, error) {
	return frags, nil
}
