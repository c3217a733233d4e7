package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"switchboard/internal/domain"
	"switchboard/internal/infra/logger"
)

// fakeDispatcher records dispatched agents and answers via fn.
type fakeDispatcher struct {
	mu    sync.Mutex
	calls []string
	fn    func(ctx context.Context, agent, task string) (string, error)
}

func (f *fakeDispatcher) Dispatch(ctx context.Context, agent, task string) (string, error) {
	f.mu.Lock()
	f.calls = append(f.calls, agent)
	f.mu.Unlock()
	if f.fn != nil {
		return f.fn(ctx, agent, task)
	}
	return "done: " + task, nil
}

func (f *fakeDispatcher) dispatched() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func newTestOrchestrator(fn func(ctx context.Context, agent, task string) (string, error)) (*Orchestrator, *fakeDispatcher) {
	d := &fakeDispatcher{fn: fn}
	return New(d, logger.Discard()), d
}

func TestValidateSpec(t *testing.T) {
	tests := []struct {
		name    string
		spec    domain.WorkflowSpec
		wantErr bool
	}{
		{
			name:    "empty",
			spec:    domain.WorkflowSpec{},
			wantErr: true,
		},
		{
			name:    "blank agent",
			spec:    domain.WorkflowSpec{Steps: []domain.Step{{Agent: "", Task: "x"}}},
			wantErr: true,
		},
		{
			name: "out of range dependency",
			spec: domain.WorkflowSpec{Steps: []domain.Step{
				{Agent: "a", DependsOn: []int{5}},
			}},
			wantErr: true,
		},
		{
			name: "negative dependency",
			spec: domain.WorkflowSpec{Steps: []domain.Step{
				{Agent: "a", DependsOn: []int{-1}},
			}},
			wantErr: true,
		},
		{
			name: "self dependency",
			spec: domain.WorkflowSpec{Steps: []domain.Step{
				{Agent: "a", DependsOn: []int{0}},
			}},
			wantErr: true,
		},
		{
			name: "two step cycle",
			spec: domain.WorkflowSpec{Steps: []domain.Step{
				{Agent: "a", DependsOn: []int{1}},
				{Agent: "b", DependsOn: []int{0}},
			}},
			wantErr: true,
		},
		{
			name: "diamond is fine",
			spec: domain.WorkflowSpec{Steps: []domain.Step{
				{Agent: "a"},
				{Agent: "b", DependsOn: []int{0}},
				{Agent: "c", DependsOn: []int{0}},
				{Agent: "d", DependsOn: []int{1, 2}},
			}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateSpec(tt.spec)
			if tt.wantErr {
				if !errors.Is(err, domain.ErrInvalidInput) {
					t.Fatalf("ValidateSpec() = %v, want ErrInvalidInput", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ValidateSpec() = %v, want nil", err)
			}
		})
	}
}

func TestRunWorkflowAllComplete(t *testing.T) {
	o, _ := newTestOrchestrator(nil)
	spec := domain.WorkflowSpec{
		Name: "pipeline",
		Steps: []domain.Step{
			{Agent: "fetch", Task: "get data"},
			{Agent: "crunch", Task: "analyze", DependsOn: []int{0}},
			{Agent: "report", Task: "summarize", DependsOn: []int{1}},
		},
	}

	res, err := o.RunWorkflow(context.Background(), spec)
	if err != nil {
		t.Fatalf("RunWorkflow() error = %v", err)
	}
	if res.Status != domain.WorkflowCompleted {
		t.Fatalf("status = %q, want completed", res.Status)
	}
	if res.ID == "" {
		t.Error("result has no workflow id")
	}
	for i, sr := range res.Steps {
		if sr.Status != domain.StepCompleted {
			t.Errorf("step %d status = %q, want completed", i, sr.Status)
		}
		if sr.Output == "" {
			t.Errorf("step %d has no output", i)
		}
	}
}

func TestRunWorkflowSkipCascade(t *testing.T) {
	o, d := newTestOrchestrator(func(_ context.Context, agent, _ string) (string, error) {
		if agent == "a" {
			return "", domain.NewCommError(domain.CommTimeout, "a", "no answer", nil)
		}
		return "ok", nil
	})
	spec := domain.WorkflowSpec{Steps: []domain.Step{
		{Agent: "a", Task: "t"},
		{Agent: "b", Task: "t", DependsOn: []int{0}},
		{Agent: "c", Task: "t", DependsOn: []int{0}},
		{Agent: "d", Task: "t", DependsOn: []int{1}},
	}}

	res, err := o.RunWorkflow(context.Background(), spec)
	if res == nil {
		t.Fatal("expected partial results")
	}

	var pf *domain.WorkflowPartialFailure
	if !errors.As(err, &pf) {
		t.Fatalf("error = %v, want WorkflowPartialFailure", err)
	}
	if len(pf.Failed) != 1 || pf.Failed[0].Agent != "a" {
		t.Fatalf("failed steps = %+v, want just a", pf.Failed)
	}

	if res.Status != domain.WorkflowFailed {
		t.Errorf("status = %q, want failed (nothing completed)", res.Status)
	}
	want := []domain.StepStatus{domain.StepFailed, domain.StepSkipped, domain.StepSkipped, domain.StepSkipped}
	for i, w := range want {
		if res.Steps[i].Status != w {
			t.Errorf("step %d status = %q, want %q", i, res.Steps[i].Status, w)
		}
	}
	if got := d.dispatched(); len(got) != 1 {
		t.Errorf("dispatched %v, want only the failing root", got)
	}
}

func TestRunWorkflowPartial(t *testing.T) {
	o, _ := newTestOrchestrator(func(_ context.Context, agent, _ string) (string, error) {
		if agent == "b" {
			return "", domain.NewCommError(domain.CommConnectionRefused, "b", "down", nil)
		}
		return "ok", nil
	})
	spec := domain.WorkflowSpec{Steps: []domain.Step{
		{Agent: "a", Task: "t"},
		{Agent: "b", Task: "t"},
		{Agent: "c", Task: "t", DependsOn: []int{0}},
	}}

	res, err := o.RunWorkflow(context.Background(), spec)
	var pf *domain.WorkflowPartialFailure
	if !errors.As(err, &pf) {
		t.Fatalf("error = %v, want WorkflowPartialFailure", err)
	}
	if res.Status != domain.WorkflowPartial {
		t.Fatalf("status = %q, want partial", res.Status)
	}
	if res.Steps[2].Status != domain.StepCompleted {
		t.Errorf("independent branch status = %q, want completed", res.Steps[2].Status)
	}
}

func TestRunWorkflowDeadline(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	o, _ := newTestOrchestrator(func(_ context.Context, _, _ string) (string, error) {
		// Holds the first step in flight past the workflow deadline.
		<-release
		return "ok", nil
	})
	spec := domain.WorkflowSpec{Steps: []domain.Step{
		{Agent: "slow", Task: "t"},
		{Agent: "after", Task: "t", DependsOn: []int{0}},
	}}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	res, _ := o.RunWorkflow(ctx, spec)
	if res == nil {
		t.Fatal("expected partial results on deadline")
	}
	for i, sr := range res.Steps {
		if sr.Status != domain.StepCancelled {
			t.Errorf("step %d status = %q, want cancelled", i, sr.Status)
		}
	}
	if res.Status != domain.WorkflowFailed {
		t.Errorf("status = %q, want failed", res.Status)
	}
}

func TestRunWorkflowDeadlineResultIsImmutable(t *testing.T) {
	release := make(chan struct{})
	o, _ := newTestOrchestrator(func(_ context.Context, _, _ string) (string, error) {
		<-release
		return "late answer", nil
	})
	spec := domain.WorkflowSpec{Steps: []domain.Step{{Agent: "slow", Task: "t"}}}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	res, _ := o.RunWorkflow(ctx, spec)
	if res == nil || res.Steps[0].Status != domain.StepCancelled {
		t.Fatalf("res = %+v, want a cancelled step", res)
	}
	snapshot := res.Steps[0]

	// Let the abandoned step finish; the returned results belong to the
	// caller now and must not change underneath it.
	close(release)
	time.Sleep(50 * time.Millisecond)

	if res.Steps[0] != snapshot {
		t.Errorf("step mutated after return: %+v -> %+v", snapshot, res.Steps[0])
	}
}

func TestRunWorkflowRejectsCycle(t *testing.T) {
	o, d := newTestOrchestrator(nil)
	spec := domain.WorkflowSpec{Steps: []domain.Step{
		{Agent: "a", DependsOn: []int{2}},
		{Agent: "b", DependsOn: []int{0}},
		{Agent: "c", DependsOn: []int{1}},
	}}

	res, err := o.RunWorkflow(context.Background(), spec)
	if res != nil {
		t.Fatalf("result = %+v, want nil for rejected spec", res)
	}
	if !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("error = %v, want ErrInvalidInput", err)
	}
	if !strings.Contains(err.Error(), "cycle") {
		t.Errorf("error %q does not name the cycle", err)
	}
	if len(d.dispatched()) != 0 {
		t.Error("cyclic spec must not dispatch anything")
	}
}

func TestRunParallel(t *testing.T) {
	o, d := newTestOrchestrator(func(_ context.Context, agent, _ string) (string, error) {
		if agent == "flaky" {
			return "", domain.NewCommError(domain.CommTimeout, "flaky", "no answer", nil)
		}
		return "ok", nil
	})
	tasks := []ParallelTask{
		{Agent: "one", Task: "t1"},
		{Agent: "flaky", Task: "t2"},
		{Agent: "three", Task: "t3"},
	}

	res, err := o.RunParallel(context.Background(), tasks)
	var pf *domain.WorkflowPartialFailure
	if !errors.As(err, &pf) {
		t.Fatalf("error = %v, want WorkflowPartialFailure", err)
	}
	if res.Status != domain.WorkflowPartial {
		t.Fatalf("status = %q, want partial", res.Status)
	}
	if got := len(d.dispatched()); got != 3 {
		t.Errorf("dispatched %d tasks, want 3: one failure must not cancel siblings", got)
	}
	if res.Steps[0].Status != domain.StepCompleted || res.Steps[2].Status != domain.StepCompleted {
		t.Errorf("sibling statuses = %q, %q, want completed", res.Steps[0].Status, res.Steps[2].Status)
	}
}

func TestRunParallelEmpty(t *testing.T) {
	o, _ := newTestOrchestrator(nil)
	if _, err := o.RunParallel(context.Background(), nil); !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("error = %v, want ErrInvalidInput", err)
	}
}

func TestRunFallbackFirstSuccess(t *testing.T) {
	o, d := newTestOrchestrator(nil)

	res, err := o.RunFallback(context.Background(), []string{"primary", "backup"}, "do it")
	if err != nil {
		t.Fatalf("RunFallback() error = %v", err)
	}
	if res.Agent != "primary" {
		t.Errorf("agent = %q, want primary", res.Agent)
	}
	if len(res.Attempts) != 0 {
		t.Errorf("attempts = %d, want 0", len(res.Attempts))
	}
	if got := d.dispatched(); len(got) != 1 {
		t.Errorf("dispatched %v, want only primary", got)
	}
}

func TestRunFallbackAdvances(t *testing.T) {
	o, _ := newTestOrchestrator(func(_ context.Context, agent, _ string) (string, error) {
		switch agent {
		case "x":
			return "", domain.NewCommError(domain.CommConnectionRefused, "x", "down", nil)
		case "y":
			return "", domain.NewDomainError("Dispatch", domain.ErrCircuitOpen, "y")
		}
		return "answer", nil
	})

	res, err := o.RunFallback(context.Background(), []string{"x", "y", "z"}, "task")
	if err != nil {
		t.Fatalf("RunFallback() error = %v", err)
	}
	if res.Agent != "z" {
		t.Fatalf("agent = %q, want z", res.Agent)
	}
	if len(res.Attempts) != 2 {
		t.Fatalf("attempts = %d, want 2", len(res.Attempts))
	}
	if res.Attempts[0].Agent != "x" || res.Attempts[1].Agent != "y" {
		t.Errorf("attempt order = %q, %q", res.Attempts[0].Agent, res.Attempts[1].Agent)
	}
}

func TestRunFallbackStopsOnRateLimit(t *testing.T) {
	o, d := newTestOrchestrator(func(_ context.Context, agent, _ string) (string, error) {
		return "", &domain.RateLimitError{Key: agent, Limit: 60, ResetAt: time.Now().Add(time.Minute)}
	})

	_, err := o.RunFallback(context.Background(), []string{"x", "y"}, "task")
	if !errors.Is(err, domain.ErrRateLimited) {
		t.Fatalf("error = %v, want ErrRateLimited", err)
	}
	if got := d.dispatched(); len(got) != 1 {
		t.Errorf("dispatched %v, rate limiting must stop the chain", got)
	}
}

func TestRunFallbackExhausted(t *testing.T) {
	o, _ := newTestOrchestrator(func(_ context.Context, agent, _ string) (string, error) {
		return "", domain.NewCommError(domain.CommTimeout, agent, "no answer", nil)
	})

	_, err := o.RunFallback(context.Background(), []string{"x", "y"}, "task")
	var fe *domain.FallbackExhausted
	if !errors.As(err, &fe) {
		t.Fatalf("error = %v, want FallbackExhausted", err)
	}
	if !errors.Is(err, domain.ErrUnavailable) {
		t.Error("exhaustion must unwrap to ErrUnavailable")
	}
	if len(fe.Attempts) != 2 {
		t.Errorf("attempts = %d, want 2", len(fe.Attempts))
	}
}

func TestRunFallbackEmpty(t *testing.T) {
	o, _ := newTestOrchestrator(nil)
	if _, err := o.RunFallback(context.Background(), nil, "task"); !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("error = %v, want ErrInvalidInput", err)
	}
}

// Sanity check that parallel outputs stay attached to their own task.
func TestRunParallelOutputsMatchTasks(t *testing.T) {
	o, _ := newTestOrchestrator(func(_ context.Context, agent, task string) (string, error) {
		return fmt.Sprintf("%s did %s", agent, task), nil
	})
	tasks := []ParallelTask{
		{Agent: "a", Task: "one"},
		{Agent: "b", Task: "two"},
	}
	res, err := o.RunParallel(context.Background(), tasks)
	if err != nil {
		t.Fatalf("RunParallel() error = %v", err)
	}
	for i, task := range tasks {
		want := fmt.Sprintf("%s did %s", task.Agent, task.Task)
		if res.Steps[i].Output != want {
			t.Errorf("step %d output = %q, want %q", i, res.Steps[i].Output, want)
		}
	}
}
