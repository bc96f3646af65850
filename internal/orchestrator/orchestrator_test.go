package orchestrator

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kalambet/coach/internal/agent"
)

func staticHandler(content string) Handler {
	return func(_ context.Context, _ agent.Request) (*agent.Result, error) {
		return &agent.Result{Content: content}, nil
	}
}

func testAgents() *Agents {
	return &Agents{
		Training:            staticHandler("training"),
		Mentor:              staticHandler("mentor"),
		AssessmentQuestions: staticHandler("questions"),
		AssessmentEvaluate:  staticHandler("evaluate"),
	}
}

func TestHandle_DispatchesByKind(t *testing.T) {
	o := New(func() (*Agents, error) { return testAgents(), nil })

	tests := []struct {
		kind Kind
		want string
	}{
		{KindTraining, "training"},
		{KindMentor, "mentor"},
		{KindAssessmentQuestions, "questions"},
		{KindAssessmentEvaluate, "evaluate"},
	}
	for _, tt := range tests {
		res, err := o.Handle(context.Background(), tt.kind, agent.Request{})
		if err != nil {
			t.Fatalf("Handle(%s): %v", tt.kind, err)
		}
		if res.Content != tt.want {
			t.Errorf("Handle(%s) routed to %q, want %q", tt.kind, res.Content, tt.want)
		}
	}
}

func TestHandle_UnknownKind(t *testing.T) {
	o := New(func() (*Agents, error) { return testAgents(), nil })

	_, err := o.Handle(context.Background(), Kind("quiz"), agent.Request{})
	if !errors.Is(err, ErrUnknownKind) {
		t.Fatalf("got %v, want ErrUnknownKind", err)
	}
	for _, kind := range []string{"training", "mentor", "assessment-questions", "assessment-evaluate"} {
		if !strings.Contains(err.Error(), kind) {
			t.Errorf("error %q does not list kind %q", err, kind)
		}
	}
}

func TestHandle_InitRunsOnceUnderConcurrency(t *testing.T) {
	var factoryRuns atomic.Int32
	o := New(func() (*Agents, error) {
		factoryRuns.Add(1)
		time.Sleep(20 * time.Millisecond) // widen the race window
		return testAgents(), nil
	})

	const workers = 10
	var wg sync.WaitGroup
	errs := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = o.Handle(context.Background(), KindMentor, agent.Request{})
		}()
	}
	wg.Wait()

	if n := factoryRuns.Load(); n != 1 {
		t.Errorf("factory ran %d times, want 1", n)
	}
	for i, err := range errs {
		if err != nil {
			t.Errorf("worker %d: %v", i, err)
		}
	}
}

func TestHandle_InitFailureIsRetained(t *testing.T) {
	var factoryRuns atomic.Int32
	errInit := errors.New("no data directory")
	o := New(func() (*Agents, error) {
		factoryRuns.Add(1)
		return nil, errInit
	})

	for i := 0; i < 3; i++ {
		_, err := o.Handle(context.Background(), KindTraining, agent.Request{})
		if !errors.Is(err, errInit) {
			t.Fatalf("call %d: got %v, want the retained init error", i, err)
		}
	}
	if n := factoryRuns.Load(); n != 1 {
		t.Errorf("factory ran %d times after failure, want 1", n)
	}
}

func TestHandle_RequestPassedThrough(t *testing.T) {
	var gotReq agent.Request
	agents := testAgents()
	agents.Training = func(_ context.Context, req agent.Request) (*agent.Result, error) {
		gotReq = req
		return &agent.Result{}, nil
	}
	o := New(func() (*Agents, error) { return agents, nil })

	req := agent.Request{Domain: "mml", Level: "advanced"}
	if _, err := o.Handle(context.Background(), KindTraining, req); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if gotReq != req {
		t.Errorf("handler saw %+v, want %+v", gotReq, req)
	}
}
