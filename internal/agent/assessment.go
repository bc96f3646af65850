package agent

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/kalambet/coach/internal/retrieval"
)

// assessorSystemPrompt fixes the scoring rubric and the strict-JSON output
// contract. The rubric weights sum to 100.
const assessorSystemPrompt = `You are an expert telecom training assessor evaluating an engineer's approach to a technical scenario.
Score against this rubric (100 points total): technical accuracy 30, best practices 25, completeness 20, risk awareness 15, innovation and problem solving 10.
Respond with JSON only, no markdown, in exactly this shape:
{"feedback": "detailed feedback covering accuracy, best practices, risks and recommendations", "score": <integer 0-100>, "strengths": ["..."], "improvements": ["..."], "technical_notes": "specific technical observations"}`

// degradedAssessmentNote replaces retrieved context when no index can
// answer for the scenario.
const degradedAssessmentNote = "No specific knowledge base content found. Assess based on general telecom best practices."

// Assessment serves scenario questions from a fixed per-topic bank and
// scores submitted approaches against retrieved reference material.
type Assessment struct {
	retriever Retriever
	llm       Generator
	topK      int
}

// NewAssessment wires an assessment agent. topK <= 0 selects the retrieval
// default.
func NewAssessment(retriever Retriever, llm Generator, topK int) *Assessment {
	if topK <= 0 {
		topK = retrieval.DefaultTopK
	}
	return &Assessment{retriever: retriever, llm: llm, topK: topK}
}

// Questions returns scenario questions for req.Topic in a random order,
// capped at req.Count when positive. A topic without questions reports the
// topics that do have them.
func (a *Assessment) Questions(_ context.Context, req Request) (*Result, error) {
	started := time.Now()

	topic := strings.TrimSpace(req.Topic)
	if topic == "" {
		return nil, fmt.Errorf("%w: topic is required", ErrInvalidRequest)
	}
	bank, ok := questionBank[topic]
	if !ok {
		return nil, fmt.Errorf("no questions for topic %s: %w (available topics: %s)",
			topic, retrieval.ErrIndexNotFound, strings.Join(Topics(), ", "))
	}

	questions := make([]string, len(bank))
	copy(questions, bank)
	rand.Shuffle(len(questions), func(i, j int) {
		questions[i], questions[j] = questions[j], questions[i]
	})
	if req.Count > 0 && req.Count < len(questions) {
		questions = questions[:req.Count]
	}

	meta := newMeta("assessment", started)
	meta.Domain = topic
	return &Result{Questions: questions, Meta: meta}, nil
}

// Evaluate scores the approach described in req.Scenario. Retrieval grounds
// the verdict on req.Topic's index when a topic is named, or on every
// indexed domain otherwise; either way a missing or failing index degrades
// to an assessment from general practice rather than an error.
func (a *Assessment) Evaluate(ctx context.Context, req Request) (*Result, error) {
	started := time.Now()

	scenario := strings.TrimSpace(req.Scenario)
	if scenario == "" {
		return nil, fmt.Errorf("%w: scenario is required", ErrInvalidRequest)
	}

	frags := a.gatherContext(ctx, req.Topic, scenario)

	raw, err := a.llm.Complete(ctx, assessorSystemPrompt, buildAssessmentPrompt(scenario, frags))
	if err != nil {
		return nil, fmt.Errorf("generating assessment: %w", err)
	}

	meta := newMeta("assessment", started)
	meta.Domain = req.Topic
	meta.Fragments = len(frags)
	eval := parseEvaluation(raw)
	return &Result{Evaluation: &eval, Meta: meta}, nil
}

// gatherContext retrieves reference material for the verdict, tolerating
// every failure. An assessment without grounding is weaker but still
// useful; the prompt marks the degradation explicitly.
func (a *Assessment) gatherContext(ctx context.Context, topic, scenario string) []retrieval.Fragment {
	var (
		frags []retrieval.Fragment
		err   error
	)
	if topic != "" {
		frags, err = a.retriever.Retrieve(ctx, topic, scenario, a.topK)
	} else {
		frags, err = retrieveAcross(ctx, a.retriever, scenario, a.topK)
	}
	if err != nil {
		slog.Warn("assessment retrieval failed, evaluating without context", "topic", topic, "error", err)
		return nil
	}
	return frags
}

func buildAssessmentPrompt(scenario string, frags []retrieval.Fragment) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Engineer's approach:\n%s\n\n", scenario)
	if len(frags) == 0 {
		b.WriteString(degradedAssessmentNote)
		b.WriteString("\n")
		return b.String()
	}
	b.WriteString("Reference material:\n")
	for _, f := range frags {
		fmt.Fprintf(&b, "- (%s, %s) %s\n", f.Kind, f.Source, f.Text)
	}
	return b.String()
}
