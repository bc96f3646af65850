package agent

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/kalambet/coach/internal/composer"
	"github.com/kalambet/coach/internal/reranking"
	"github.com/kalambet/coach/internal/retrieval"
)

// Training generates a structured lesson for a knowledge domain at a
// requested proficiency level. One code path serves every level; the level
// only selects the prompt skeleton.
type Training struct {
	retriever Retriever
	reranker  reranking.Reranker
	grouper   Grouper
	llm       Generator
	topK      int
}

// NewTraining wires a training agent. topK <= 0 selects the widest
// retrieval the index allows; lessons synthesize across subtopics, so
// breadth beats precision here.
func NewTraining(retriever Retriever, reranker reranking.Reranker, grouper Grouper, llm Generator, topK int) *Training {
	if topK <= 0 {
		topK = retrieval.MaxTopK
	}
	return &Training{
		retriever: retriever,
		reranker:  reranker,
		grouper:   grouper,
		llm:       llm,
		topK:      topK,
	}
}

// Handle produces a training module for req.Domain at req.Level.
//
// The retrieval query depends only on the domain, so all four levels of one
// domain share a grouping fingerprint: generating beginner content warms
// the cache for every later level.
func (t *Training) Handle(ctx context.Context, req Request) (*Result, error) {
	started := time.Now()

	if strings.TrimSpace(req.Domain) == "" {
		return nil, fmt.Errorf("%w: domain is required", ErrInvalidRequest)
	}
	level, err := composer.ParseLevel(req.Level)
	if err != nil {
		return nil, err
	}

	query := trainingQuery(req.Domain)
	frags, err := t.retriever.Retrieve(ctx, req.Domain, query, t.topK)
	if err != nil {
		return nil, err
	}
	frags = rerank(ctx, t.reranker, query, frags)
	groups := t.grouper.Group(ctx, req.Domain, frags)

	prompt, err := composer.Compose(level, req.Domain, groups)
	if err != nil {
		return nil, err
	}
	content, err := t.llm.Complete(ctx, prompt.System, prompt.User)
	if err != nil {
		return nil, fmt.Errorf("generating %s training for %s: %w", level, req.Domain, err)
	}

	meta := newMeta("training", started)
	meta.Domain = req.Domain
	meta.Level = string(level)
	meta.Fragments = len(frags)
	meta.Groups = len(groups)
	return &Result{Content: strings.TrimSpace(content), Meta: meta}, nil
}

func trainingQuery(domain string) string {
	return fmt.Sprintf("%s key concepts, commands and procedures", domain)
}
