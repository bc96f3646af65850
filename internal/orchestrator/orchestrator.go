// Package orchestrator routes content-generation requests to the agent
// that serves them, building the shared agent set lazily on first use.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/kalambet/coach/internal/agent"
)

// ErrUnknownKind reports a request kind no agent serves.
var ErrUnknownKind = errors.New("unknown agent kind")

// Kind identifies one content-generation operation.
type Kind string

const (
	KindTraining            Kind = "training"
	KindMentor              Kind = "mentor"
	KindAssessmentQuestions Kind = "assessment-questions"
	KindAssessmentEvaluate  Kind = "assessment-evaluate"
)

// kindOrder fixes the listing used in unknown-kind errors.
var kindOrder = []Kind{KindTraining, KindMentor, KindAssessmentQuestions, KindAssessmentEvaluate}

// Handler is one agent operation.
type Handler func(ctx context.Context, req agent.Request) (*agent.Result, error)

// Agents maps each request kind to the operation that serves it. Every
// field must be set; the factory wires all four from the same shared
// retriever and gateway.
type Agents struct {
	Training            Handler
	Mentor              Handler
	AssessmentQuestions Handler
	AssessmentEvaluate  Handler
}

// Factory builds the agent set. It runs at most once, on the first Handle
// call, so constructing an Orchestrator costs nothing until a request
// actually arrives.
type Factory func() (*Agents, error)

// Orchestrator dispatches requests by kind. Initialization is lazy and
// once-only: concurrent first calls block on a single factory run and a
// factory failure is retained, so a broken environment reports the same
// error on every request instead of re-running setup.
type Orchestrator struct {
	factory Factory

	once     sync.Once
	handlers map[Kind]Handler
	initErr  error
}

func New(factory Factory) *Orchestrator {
	return &Orchestrator{factory: factory}
}

// Handle routes req to the agent serving kind.
func (o *Orchestrator) Handle(ctx context.Context, kind Kind, req agent.Request) (*agent.Result, error) {
	o.once.Do(o.init)
	if o.initErr != nil {
		return nil, fmt.Errorf("initializing agents: %w", o.initErr)
	}

	h, ok := o.handlers[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %q (known kinds: %s)", ErrUnknownKind, kind, kindList())
	}
	return h(ctx, req)
}

func (o *Orchestrator) init() {
	agents, err := o.factory()
	if err != nil {
		o.initErr = err
		return
	}
	o.handlers = map[Kind]Handler{
		KindTraining:            agents.Training,
		KindMentor:              agents.Mentor,
		KindAssessmentQuestions: agents.AssessmentQuestions,
		KindAssessmentEvaluate:  agents.AssessmentEvaluate,
	}
}

func kindList() string {
	names := make([]string, len(kindOrder))
	for i, k := range kindOrder {
		names[i] = string(k)
	}
	return strings.Join(names, ", ")
}
