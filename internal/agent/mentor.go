package agent

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/kalambet/coach/internal/reranking"
	"github.com/kalambet/coach/internal/retrieval"
)

// mentorSystemPrompt fixes the six-part answer structure. Mentor answers
// have no proficiency-level skeleton; the structure is the same for every
// question.
const mentorSystemPrompt = `You are a senior telecom engineer with decades of production experience, mentoring another engineer.
Answer in markdown with exactly these '## ' sections, in order:
## Direct Answer
## Best Practices
## Common Pitfalls
## Real-World Example
## Next Steps
## Resources
Be professional but approachable. Ground the answer in the supplied reference material when present, and name exact commands, procedures and components where relevant.`

// Mentor answers free-text technical questions. The question itself is the
// retrieval query; when no domain is named the question is run against
// every indexed domain and the best matches are merged.
type Mentor struct {
	retriever Retriever
	reranker  reranking.Reranker
	llm       Generator
	topK      int
}

// NewMentor wires a mentor agent. topK <= 0 selects the retrieval default;
// mentor answers want the few most relevant fragments, not breadth.
func NewMentor(retriever Retriever, reranker reranking.Reranker, llm Generator, topK int) *Mentor {
	if topK <= 0 {
		topK = retrieval.DefaultTopK
	}
	return &Mentor{
		retriever: retriever,
		reranker:  reranker,
		llm:       llm,
		topK:      topK,
	}
}

// Handle answers req.Query, grounded on req.Domain when set or on all
// indexed domains otherwise. A named domain without an index is an error; a
// domain that simply has nothing relevant degrades to an answer from
// general expertise.
func (m *Mentor) Handle(ctx context.Context, req Request) (*Result, error) {
	started := time.Now()

	query := strings.TrimSpace(req.Query)
	if query == "" {
		return nil, fmt.Errorf("%w: query is required", ErrInvalidRequest)
	}

	var (
		frags []retrieval.Fragment
		err   error
	)
	if req.Domain != "" {
		frags, err = m.retriever.Retrieve(ctx, req.Domain, query, m.topK)
	} else {
		frags, err = retrieveAcross(ctx, m.retriever, query, m.topK)
	}
	if err != nil {
		return nil, err
	}
	frags = rerank(ctx, m.reranker, query, frags)

	content, err := m.llm.Complete(ctx, mentorSystemPrompt, buildMentorPrompt(query, frags))
	if err != nil {
		return nil, fmt.Errorf("generating mentor answer: %w", err)
	}

	meta := newMeta("mentor", started)
	meta.Domain = req.Domain
	meta.Fragments = len(frags)
	return &Result{Content: strings.TrimSpace(content), Meta: meta}, nil
}

func buildMentorPrompt(query string, frags []retrieval.Fragment) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Question: %s\n\n", query)
	if len(frags) == 0 {
		b.WriteString("No reference material was retrieved. Answer from general telecom expertise, and say where the answer would benefit from domain documentation.\n")
		return b.String()
	}
	b.WriteString("Reference material:\n")
	for _, f := range frags {
		fmt.Fprintf(&b, "- (%s, %s) %s\n", f.Kind, f.Source, f.Text)
	}
	b.WriteString("\nAnswer the question now.\n")
	return b.String()
}
