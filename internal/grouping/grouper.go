package grouping

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/singleflight"

	"github.com/kalambet/coach/internal/retrieval"
)

const (
	// DefaultTargetMin and DefaultTargetMax bound how many groups the
	// clustering prompt asks for.
	DefaultTargetMin = 3
	DefaultTargetMax = 6

	// fallbackBlockSize is how many consecutive fragments a fallback group
	// holds before the group cap forces larger blocks.
	fallbackBlockSize = 3

	// fallbackMaxGroups caps fallback output independent of the tunable
	// prompt target.
	fallbackMaxGroups = 6

	// previewChars limits how much of each fragment the clustering prompt
	// quotes; clustering needs the gist, not the full text.
	previewChars = 200
)

// Group is a named set of fragments covering one subtopic.
type Group struct {
	Name      string
	Fragments []retrieval.Fragment
}

// Completer is the single gateway call grouping needs.
type Completer interface {
	Complete(ctx context.Context, system, user string) (string, error)
}

// CacheStats reports grouping cache activity.
type CacheStats struct {
	Entries int
	Hits    int64
	Misses  int64
}

// Grouper clusters retrieved fragments into subtopic groups with one LLM
// call per distinct fragment set. Results are memoized under the set's
// fingerprint for the process lifetime; concurrent callers with the same
// set share a single in-flight computation. There is no eviction.
type Grouper struct {
	llm       Completer
	targetMin int
	targetMax int

	mu     sync.RWMutex
	memo   map[string][]Group
	flight singleflight.Group
	hits   atomic.Int64
	misses atomic.Int64
}

// NewGrouper creates a Grouper. Non-positive targets fall back to the
// defaults; targetMax is raised to targetMin if it would undercut it.
func NewGrouper(llm Completer, targetMin, targetMax int) *Grouper {
	if targetMin <= 0 {
		targetMin = DefaultTargetMin
	}
	if targetMax <= 0 {
		targetMax = DefaultTargetMax
	}
	if targetMax < targetMin {
		targetMax = targetMin
	}
	return &Grouper{
		llm:       llm,
		targetMin: targetMin,
		targetMax: targetMax,
		memo:      make(map[string][]Group),
	}
}

// Group returns the subtopic grouping for the fragment set, computing it at
// most once per distinct set. It never fails: when the LLM call errors or
// its response is unusable, the deterministic block fallback is used and
// cached like any other result. Every input fragment lands in exactly one
// group.
func (g *Grouper) Group(ctx context.Context, domain string, frags []retrieval.Fragment) []Group {
	if len(frags) == 0 {
		return nil
	}

	fp := Fingerprint(domain, frags)
	if groups, ok := g.lookup(fp); ok {
		g.hits.Add(1)
		return groups
	}
	g.misses.Add(1)

	v, _, _ := g.flight.Do(fp, func() (interface{}, error) {
		// A racing caller may have stored the result between our lookup
		// and joining the flight.
		if groups, ok := g.lookup(fp); ok {
			return groups, nil
		}
		groups := g.compute(ctx, domain, frags)
		g.store(fp, groups)
		return groups, nil
	})
	return v.([]Group)
}

// Stats returns a snapshot of cache activity.
func (g *Grouper) Stats() CacheStats {
	g.mu.RLock()
	entries := len(g.memo)
	g.mu.RUnlock()
	return CacheStats{
		Entries: entries,
		Hits:    g.hits.Load(),
		Misses:  g.misses.Load(),
	}
}

func (g *Grouper) lookup(fp string) ([]Group, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	groups, ok := g.memo[fp]
	return groups, ok
}

func (g *Grouper) store(fp string, groups []Group) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.memo[fp] = groups
}

func (g *Grouper) compute(ctx context.Context, domain string, frags []retrieval.Fragment) []Group {
	raw, err := g.llm.Complete(ctx, groupingSystemPrompt, buildGroupingPrompt(domain, frags, g.targetMin, g.targetMax))
	if err != nil {
		slog.Warn("grouping call failed, using block fallback", "domain", domain, "fragments", len(frags), "error", err)
		return fallbackGroups(frags)
	}

	groups, err := parseGroups(raw, frags)
	if err != nil {
		slog.Warn("grouping response unusable, using block fallback", "domain", domain, "fragments", len(frags), "error", err)
		return fallbackGroups(frags)
	}
	return groups
}

const groupingSystemPrompt = "You organize technical reference material into coherent study units. Respond with JSON only."

func buildGroupingPrompt(domain string, frags []retrieval.Fragment, targetMin, targetMax int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Cluster the following %d fragments of %s reference material into %d to %d groups by conceptual subtopic.\n",
		len(frags), domain, targetMin, targetMax)
	b.WriteString("Give each group a short descriptive name. Every fragment index must appear in exactly one group.\n\n")

	for i, f := range frags {
		preview := f.Text
		if len(preview) > previewChars {
			preview = preview[:previewChars] + "..."
		}
		fmt.Fprintf(&b, "%d. [%s] %s\n", i+1, f.Kind, preview)
	}

	b.WriteString("\nRespond with exactly this JSON shape and nothing else:\n")
	b.WriteString(`{"groups":[{"name":"<subtopic>","fragment_indices":[1,2]}]}`)
	return b.String()
}

// fallbackGroups splits fragments into contiguous fixed-size blocks. It is
// deterministic, always yields a valid partition, and never exceeds
// fallbackMaxGroups.
func fallbackGroups(frags []retrieval.Fragment) []Group {
	if len(frags) == 0 {
		return nil
	}

	n := (len(frags) + fallbackBlockSize - 1) / fallbackBlockSize
	if n > fallbackMaxGroups {
		n = fallbackMaxGroups
	}
	size := (len(frags) + n - 1) / n

	groups := make([]Group, 0, n)
	for start := 0; start < len(frags); start += size {
		end := start + size
		if end > len(frags) {
			end = len(frags)
		}
		groups = append(groups, Group{
			Name:      fmt.Sprintf("Topic %d", len(groups)+1),
			Fragments: frags[start:end],
		})
	}
	return groups
}
