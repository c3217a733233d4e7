package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"switchboard/internal/domain"
	"switchboard/internal/infra/tracer"
)

// TaskDispatcher sends one task to an agent through the resilience chain.
// Implemented by usecase.Dispatcher.
type TaskDispatcher interface {
	Dispatch(ctx context.Context, agent, task string) (string, error)
}

// ParallelTask is one independent task in a parallel fan-out.
type ParallelTask struct {
	Agent string `yaml:"agent" json:"agent"`
	Task  string `yaml:"task" json:"task"`
}

// Orchestrator drives multi-step delegations: dependency-ordered workflows,
// parallel fan-out, and ordered fallback chains. Every remote call goes
// through the shared dispatch gate, so orchestrated steps see the same
// breaker and rate-limit state as single-message routing.
type Orchestrator struct {
	dispatcher TaskDispatcher
	logger     *slog.Logger
}

// New creates an Orchestrator.
func New(dispatcher TaskDispatcher, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{dispatcher: dispatcher, logger: logger}
}

// ValidateSpec rejects empty specs, blank steps, out-of-range dependencies,
// and dependency cycles. Cyclic specs would deadlock the executor, so they
// are refused up front.
func ValidateSpec(spec domain.WorkflowSpec) error {
	if len(spec.Steps) == 0 {
		return domain.NewDomainError("ValidateSpec", domain.ErrInvalidInput, "workflow has no steps")
	}
	n := len(spec.Steps)
	for i, step := range spec.Steps {
		if step.Agent == "" {
			return domain.NewDomainError("ValidateSpec", domain.ErrInvalidInput,
				fmt.Sprintf("step %d has no agent", i))
		}
		for _, dep := range step.DependsOn {
			if dep < 0 || dep >= n {
				return domain.NewDomainError("ValidateSpec", domain.ErrInvalidInput,
					fmt.Sprintf("step %d depends on out-of-range step %d", i, dep))
			}
			if dep == i {
				return domain.NewDomainError("ValidateSpec", domain.ErrInvalidInput,
					fmt.Sprintf("step %d depends on itself", i))
			}
		}
	}
	if cycle := findCycle(spec.Steps); cycle != "" {
		return domain.NewDomainError("ValidateSpec", domain.ErrInvalidInput, "dependency cycle: "+cycle)
	}
	return nil
}

// findCycle runs a DFS over the dependency edges and returns a description
// of the first cycle found, or "" for an acyclic spec.
func findCycle(steps []domain.Step) string {
	const (
		unvisited = 0
		visiting  = 1
		done      = 2
	)
	state := make([]int, len(steps))

	var visit func(i int) string
	visit = func(i int) string {
		switch state[i] {
		case visiting:
			return fmt.Sprintf("step %d", i)
		case done:
			return ""
		}
		state[i] = visiting
		for _, dep := range steps[i].DependsOn {
			if found := visit(dep); found != "" {
				return fmt.Sprintf("step %d -> %s", i, found)
			}
		}
		state[i] = done
		return ""
	}

	for i := range steps {
		if found := visit(i); found != "" {
			return found
		}
	}
	return ""
}

// RunWorkflow executes a dependency-ordered workflow. A step starts only
// once every dependency has reached a terminal state; dependents of a failed
// or skipped step are marked skipped. Independent branches run concurrently;
// ready steps are otherwise started in declaration order. When ctx expires,
// unstarted steps are marked cancelled and partial results are still
// returned.
//
// The returned error is nil when every step completed, a
// *WorkflowPartialFailure when any step failed, and an ErrInvalidInput
// wrapper (with a nil result) for a rejected spec.
func (o *Orchestrator) RunWorkflow(ctx context.Context, spec domain.WorkflowSpec) (*domain.WorkflowResult, error) {
	if err := ValidateSpec(spec); err != nil {
		return nil, err
	}

	ctx, span := tracer.StartSpan(ctx, "workflow.run")
	defer span.End()

	id := newWorkflowID()
	span.SetAttributes(attribute.String("workflow_id", id), attribute.Int("steps", len(spec.Steps)))
	o.logger.Info("workflow started", "workflow_id", id, "name", spec.Name, "steps", len(spec.Steps))
	start := time.Now()

	n := len(spec.Steps)
	results := make([]domain.StepResult, n)
	for i, step := range spec.Steps {
		results[i] = domain.StepResult{Index: i, Agent: step.Agent, Status: domain.StepPending}
	}

	var mu sync.Mutex
	completionCh := make(chan int, n)
	started := make([]bool, n)
	terminal := 0

	statusOf := func(i int) domain.StepStatus {
		mu.Lock()
		defer mu.Unlock()
		return results[i].Status
	}

	runStep := func(i int) {
		step := spec.Steps[i]
		stepStart := time.Now()
		output, err := o.dispatcher.Dispatch(ctx, step.Agent, step.Task)

		mu.Lock()
		// Once the workflow has been cancelled the results slice belongs to
		// the caller; an abandoned step must not write into it.
		if results[i].Status == domain.StepRunning {
			results[i].Duration = time.Since(stepStart)
			if err != nil {
				results[i].Status = domain.StepFailed
				results[i].Error = err.Error()
			} else {
				results[i].Status = domain.StepCompleted
				results[i].Output = output
			}
		}
		mu.Unlock()
		completionCh <- i
	}

	for terminal < n {
		// Start every ready step, in declaration order for determinism.
		progress := true
		for progress {
			progress = false
			for i, step := range spec.Steps {
				if started[i] {
					continue
				}
				ready := true
				blocked := false
				for _, dep := range step.DependsOn {
					switch statusOf(dep) {
					case domain.StepCompleted:
					case domain.StepFailed, domain.StepSkipped, domain.StepCancelled:
						blocked = true
					default:
						ready = false
					}
				}
				if !ready && !blocked {
					continue
				}
				started[i] = true
				if blocked {
					// Failure never silently becomes success downstream.
					mu.Lock()
					results[i].Status = domain.StepSkipped
					results[i].Error = "dependency did not complete"
					mu.Unlock()
					terminal++
					progress = true // skipping may unblock (skip) dependents
					continue
				}
				mu.Lock()
				results[i].Status = domain.StepRunning
				mu.Unlock()
				go runStep(i)
			}
		}
		if terminal >= n {
			break
		}

		select {
		case <-completionCh:
			terminal++
		case <-ctx.Done():
			mu.Lock()
			for i := range results {
				if !results[i].Status.Terminal() {
					// In-flight calls are abandoned at the transport layer;
					// unstarted steps never run.
					results[i].Status = domain.StepCancelled
					results[i].Error = "workflow deadline exceeded"
				}
			}
			mu.Unlock()
			o.logger.Warn("workflow cancelled", "workflow_id", id, "error", ctx.Err())
			return o.finish(span, id, spec.Name, results, start)
		}
	}

	return o.finish(span, id, spec.Name, results, start)
}

// RunParallel dispatches an unordered set of independent tasks concurrently,
// each through its own breaker/limiter gate, and waits for all of them. One
// failure never cancels siblings.
func (o *Orchestrator) RunParallel(ctx context.Context, tasks []ParallelTask) (*domain.WorkflowResult, error) {
	if len(tasks) == 0 {
		return nil, domain.NewDomainError("RunParallel", domain.ErrInvalidInput, "no tasks")
	}

	ctx, span := tracer.StartSpan(ctx, "workflow.parallel")
	defer span.End()

	id := newWorkflowID()
	span.SetAttributes(attribute.String("workflow_id", id), attribute.Int("tasks", len(tasks)))
	o.logger.Info("parallel fan-out started", "workflow_id", id, "tasks", len(tasks))
	start := time.Now()

	results := make([]domain.StepResult, len(tasks))
	var wg sync.WaitGroup
	for i, task := range tasks {
		wg.Add(1)
		go func(i int, t ParallelTask) {
			defer wg.Done()
			stepStart := time.Now()
			output, err := o.dispatcher.Dispatch(ctx, t.Agent, t.Task)
			results[i] = domain.StepResult{
				Index:    i,
				Agent:    t.Agent,
				Duration: time.Since(stepStart),
			}
			if err != nil {
				results[i].Status = domain.StepFailed
				results[i].Error = err.Error()
			} else {
				results[i].Status = domain.StepCompleted
				results[i].Output = output
			}
		}(i, task)
	}
	wg.Wait()

	return o.finish(span, id, "", results, start)
}

// RunFallback tries an ordered list of candidate agents for one logical
// task. Candidates failing with a communication error, an open circuit, or
// an unknown name advance the chain; the first success wins. A rate-limit
// rejection stops the chain: the caller should back off, not hammer the
// next agent. On exhaustion, the error aggregates every attempt.
func (o *Orchestrator) RunFallback(ctx context.Context, candidates []string, task string) (*domain.FallbackResult, error) {
	if len(candidates) == 0 {
		return nil, domain.NewDomainError("RunFallback", domain.ErrInvalidInput, "no candidates")
	}

	ctx, span := tracer.StartSpan(ctx, "workflow.fallback")
	defer span.End()
	span.SetAttributes(attribute.Int("candidates", len(candidates)))

	start := time.Now()
	var attempts []domain.FallbackAttempt

	for _, agent := range candidates {
		output, err := o.dispatcher.Dispatch(ctx, agent, task)
		if err == nil {
			o.logger.Info("fallback succeeded",
				"agent", agent, "failed_attempts", len(attempts), "duration", time.Since(start))
			tracer.SetOK(span)
			return &domain.FallbackResult{
				Agent:    agent,
				Output:   output,
				Attempts: attempts,
				Duration: time.Since(start),
			}, nil
		}

		attempts = append(attempts, domain.FallbackAttempt{Agent: agent, Err: err})
		if !advancesFallback(err) {
			tracer.RecordError(span, err)
			return nil, err
		}
		o.logger.Warn("fallback candidate failed, trying next",
			"agent", agent, "code", domain.ErrorCodeOf(err), "error", err)
	}

	err := &domain.FallbackExhausted{Task: task, Attempts: attempts}
	tracer.RecordError(span, err)
	return nil, err
}

// advancesFallback reports whether a candidate failure should advance a
// fallback chain to the next candidate.
func advancesFallback(err error) bool {
	return domain.IsCommunicationError(err) ||
		errors.Is(err, domain.ErrCircuitOpen) ||
		errors.Is(err, domain.ErrAgentNotFound)
}

// finish derives the overall status, logs it, and builds the result.
// Status is completed iff every step completed; failed when nothing
// completed; partial otherwise.
func (o *Orchestrator) finish(span trace.Span, id, name string, results []domain.StepResult, start time.Time) (*domain.WorkflowResult, error) {
	completed, failed := 0, 0
	var failedSteps []domain.StepResult
	for _, r := range results {
		switch r.Status {
		case domain.StepCompleted:
			completed++
		case domain.StepFailed:
			failed++
			failedSteps = append(failedSteps, r)
		}
	}

	status := domain.WorkflowCompleted
	switch {
	case completed == len(results):
		status = domain.WorkflowCompleted
	case completed == 0:
		status = domain.WorkflowFailed
	default:
		status = domain.WorkflowPartial
	}

	result := &domain.WorkflowResult{
		ID:       id,
		Status:   status,
		Steps:    results,
		Duration: time.Since(start),
	}
	span.SetAttributes(attribute.String("status", string(status)))
	o.logger.Info("workflow finished",
		"workflow_id", id, "name", name, "status", status,
		"completed", completed, "failed", failed, "duration", result.Duration)

	if status == domain.WorkflowCompleted {
		return result, nil
	}
	if failed > 0 {
		return result, &domain.WorkflowPartialFailure{WorkflowID: id, Failed: failedSteps}
	}
	return result, nil
}

// newWorkflowID generates a ULID for one workflow run.
func newWorkflowID() string {
	t := time.Now()
	entropy := ulid.Monotonic(rand.New(rand.NewSource(t.UnixNano())), 0)
	return ulid.MustNew(ulid.Timestamp(t), entropy).String()
}
