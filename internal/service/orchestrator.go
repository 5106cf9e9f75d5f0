package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	tpotel "github.com/labdesk/taskplanner/internal/adapter/otel"
	"github.com/labdesk/taskplanner/internal/config"
	"github.com/labdesk/taskplanner/internal/domain"
	"github.com/labdesk/taskplanner/internal/domain/event"
	"github.com/labdesk/taskplanner/internal/domain/execution"
	"github.com/labdesk/taskplanner/internal/domain/plan"
	"github.com/labdesk/taskplanner/internal/port/cache"
)

const historyKeyPrefix = "report:"

// terminalWait bounds how long a terminal event waits on a lagging stream.
const terminalWait = 5 * time.Second

// planRun is the runtime record of one plan. All fields are guarded by
// OrchestratorService.mu.
type planRun struct {
	plan *plan.Plan
	exec *execution.Execution

	cancel context.CancelCauseFunc
	// pubCancel releases publishers blocked on lagging streams. Pause and
	// cancel fire it together with cancel.
	pubCancel context.CancelFunc
	looping   bool
	// done is closed once the current loop has finished and emitted its
	// terminal event, if any.
	done            chan struct{}
	terminalEmitted bool
}

// ExecutionView is the detailed state of one execution.
type ExecutionView struct {
	*execution.Report
	Options execution.Options `json:"options"`
	Steps   []plan.Step       `json:"steps"`
}

// OrchestratorService drives plans to completion over their dependency
// graph and publishes typed progress events. At most one execution per plan
// ID is in flight at any time.
type OrchestratorService struct {
	planner    *PlannerService
	bus        *EventBus
	cfg        config.Orchestrator
	history    cache.Cache
	historyTTL time.Duration
	metrics    *tpotel.Metrics
	now        func() time.Time

	mu   sync.Mutex
	runs map[string]*planRun
}

// NewOrchestratorService creates an OrchestratorService.
func NewOrchestratorService(planner *PlannerService, bus *EventBus, cfg config.Orchestrator) *OrchestratorService {
	return &OrchestratorService{
		planner: planner,
		bus:     bus,
		cfg:     cfg,
		now:     func() time.Time { return time.Now().UTC() },
		runs:    make(map[string]*planRun),
	}
}

// SetHistory sets the cache receiving reports of cleared executions.
func (s *OrchestratorService) SetHistory(c cache.Cache, ttl time.Duration) {
	s.history = c
	s.historyTTL = ttl
}

// SetMetrics enables metric recording.
func (s *OrchestratorService) SetMetrics(m *tpotel.Metrics) {
	s.metrics = m
}

// ExecutePlan runs p until every step has executed, the execution is paused
// or cancelled, or a step failure aborts it. It blocks for the duration of
// the run and returns the final report together with the error that ended
// the run: execution.ErrPaused, execution.ErrCancelled, a step error, or
// execution.ErrUnresolvable.
func (s *OrchestratorService) ExecutePlan(ctx context.Context, p *plan.Plan, opts execution.Options) (*execution.Report, error) {
	runCtx, pubCtx, r, err := s.start(ctx, p, opts)
	if err != nil {
		return nil, err
	}
	return s.drive(runCtx, pubCtx, r)
}

// StartExecution registers an execution of p and runs it in the background,
// detached from the cancellation of ctx. Validation and conflict errors are
// returned synchronously.
func (s *OrchestratorService) StartExecution(ctx context.Context, p *plan.Plan, opts execution.Options) error {
	ctx = context.WithoutCancel(ctx)
	runCtx, pubCtx, r, err := s.start(ctx, p, opts)
	if err != nil {
		return err
	}
	go func() {
		if _, err := s.drive(runCtx, pubCtx, r); err != nil {
			logRunEnd(r.plan.ID, err)
		}
	}()
	return nil
}

func (s *OrchestratorService) start(ctx context.Context, p *plan.Plan, opts execution.Options) (runCtx, pubCtx context.Context, r *planRun, err error) {
	if p == nil || p.ID == "" {
		return nil, nil, nil, fmt.Errorf("plan id is required: %w", domain.ErrValidation)
	}
	if opts.MaxRetries < 0 {
		return nil, nil, nil, fmt.Errorf("max_retries must not be negative: %w", domain.ErrValidation)
	}

	s.mu.Lock()
	if prev, ok := s.runs[p.ID]; ok && !prev.finished() {
		status := prev.exec.Status
		s.mu.Unlock()
		return nil, nil, nil, fmt.Errorf("plan %s is %s: %w", p.ID, status, domain.ErrConflict)
	}
	r = &planRun{plan: p.Clone(), exec: execution.New(p.ID, opts)}
	resetSteps(r.plan.Steps)
	r.exec.Status = execution.StatusRunning
	r.exec.StartedAt = s.now()
	runCtx, pubCtx = s.begin(ctx, r)
	s.runs[p.ID] = r
	s.mu.Unlock()

	s.bus.Publish(pubCtx, event.New(event.TypePlanCreated, p.ID, "", map[string]any{
		"title":       r.plan.Title,
		"total_steps": len(r.plan.Steps),
		"parallel":    opts.Parallel,
	}))
	slog.Info("plan execution started", "plan_id", p.ID, "steps", len(r.plan.Steps), "parallel", opts.Parallel)
	return runCtx, pubCtx, r, nil
}

// logRunEnd logs a background run that did not complete. Pauses are
// expected and stay quiet.
func logRunEnd(planID string, err error) {
	if errors.Is(err, execution.ErrPaused) {
		return
	}
	slog.Warn("background plan execution ended", "plan_id", planID, "error", err)
}

// finished reports whether no loop is running and none will emit further
// events. Callers hold OrchestratorService.mu.
func (r *planRun) finished() bool {
	if !r.exec.Status.IsTerminal() {
		return false
	}
	select {
	case <-r.done:
		return true
	default:
		return false
	}
}

func resetSteps(steps []plan.Step) {
	for i := range steps {
		steps[i].Status = plan.StepStatusPending
		steps[i].Result = nil
		steps[i].Error = ""
		steps[i].StartedAt = nil
		steps[i].CompletedAt = nil
	}
}

// begin arms a new loop for r and returns the contexts its steps run and
// its events are published under. Callers hold s.mu.
func (s *OrchestratorService) begin(parent context.Context, r *planRun) (runCtx, pubCtx context.Context) {
	runCtx, r.cancel = context.WithCancelCause(parent)
	pubCtx, r.pubCancel = context.WithCancel(context.WithoutCancel(parent))
	r.looping = true
	r.done = make(chan struct{})
	return runCtx, pubCtx
}

// interrupt stops the current loop of r with cause. Callers hold s.mu.
func (r *planRun) interrupt(cause error) {
	r.cancel(cause)
	r.pubCancel()
}

func (s *OrchestratorService) drive(runCtx, pubCtx context.Context, r *planRun) (*execution.Report, error) {
	ctx, span := tpotel.StartPlanSpan(runCtx, r.plan.ID, len(r.plan.Steps), r.exec.Options.Parallel)
	err := s.loop(ctx, pubCtx, r)
	tpotel.EndSpan(span, err)
	return s.finish(pubCtx, r, err)
}

func (s *OrchestratorService) loop(ctx, pubCtx context.Context, r *planRun) error {
	for {
		s.mu.Lock()
		ready := plan.ReadySteps(r.plan.Steps, r.exec.Executed)
		remaining := plan.Remaining(r.plan.Steps, r.exec.Executed)
		s.mu.Unlock()

		if remaining == 0 {
			return nil
		}
		if ctx.Err() != nil {
			return context.Cause(ctx)
		}
		if len(ready) == 0 {
			slog.Error("plan has unresolvable steps", "plan_id", r.plan.ID, "remaining", remaining)
			return execution.ErrUnresolvable
		}

		var err error
		if r.exec.Options.Parallel {
			err = s.runParallel(ctx, pubCtx, r, ready)
		} else {
			err = s.runSequential(ctx, pubCtx, r, ready)
		}
		if err != nil {
			return err
		}
	}
}

func (s *OrchestratorService) runSequential(ctx, pubCtx context.Context, r *planRun, ready []string) error {
	for _, id := range ready {
		if ctx.Err() != nil {
			return context.Cause(ctx)
		}
		if err := s.executeStep(ctx, pubCtx, r, id); err != nil {
			if ctx.Err() != nil || !r.exec.Options.ContinueOnError {
				return err
			}
		}
		s.emitProgress(pubCtx, r)
	}
	return nil
}

func (s *OrchestratorService) runParallel(ctx, pubCtx context.Context, r *planRun, ready []string) error {
	g, gctx := errgroup.WithContext(ctx)
	if s.cfg.MaxParallel > 0 {
		g.SetLimit(s.cfg.MaxParallel)
	}
	continueOnError := r.exec.Options.ContinueOnError

	for _, id := range ready {
		g.Go(func() error {
			if gctx.Err() != nil {
				return context.Cause(gctx)
			}
			err := s.executeStep(gctx, pubCtx, r, id)
			if err == nil || (continueOnError && gctx.Err() == nil) {
				return nil
			}
			if gctx.Err() != nil {
				return err
			}
			return &stepFailure{stepID: id, err: err}
		})
	}

	err := g.Wait()
	if ctx.Err() != nil {
		return context.Cause(ctx)
	}
	if err != nil {
		return err
	}
	s.emitProgress(pubCtx, r)
	return nil
}

// executeStep runs one step with retries and folds the outcome into the
// run. A step interrupted through ctx returns to pending and the cause of
// the interruption is returned.
func (s *OrchestratorService) executeStep(ctx, pubCtx context.Context, r *planRun, id string) error {
	s.mu.Lock()
	step := r.plan.Step(id)
	started := s.now()
	step.Status = plan.StepStatusInProgress
	step.StartedAt = &started
	step.CompletedAt = nil
	step.Error = ""
	sc := buildStepContext(r.plan, step, r.exec.Results)
	call := plan.CloneSteps([]plan.Step{*step})[0]
	maxRetries := r.exec.Options.MaxRetries
	s.mu.Unlock()

	s.bus.Publish(pubCtx, event.New(event.TypeStepStarted, r.plan.ID, id, map[string]any{"title": call.Title}))

	begin := time.Now()
	var (
		result   json.RawMessage
		err      error
		attempts int
	)
	for attempts < maxRetries+1 {
		attempts++
		result, err = s.attempt(ctx, r.plan, &call, sc, attempts)
		if err == nil || ctx.Err() != nil {
			break
		}
		if attempts <= maxRetries {
			slog.Warn("step attempt failed, retrying", "plan_id", r.plan.ID, "step_id", id, "attempt", attempts, "error", err)
		}
	}
	elapsed := time.Since(begin).Seconds()

	s.mu.Lock()
	finished := s.now()
	var sibling *stepFailure
	switch {
	case err != nil && errors.As(context.Cause(ctx), &sibling):
		msg := "aborted: sibling " + sibling.stepID + " failed"
		step.Status = plan.StepStatusSkipped
		step.Error = msg
		step.CompletedAt = &finished
		s.mu.Unlock()

		s.bus.Publish(pubCtx, event.New(event.TypeStepFailed, r.plan.ID, id, map[string]any{
			"error":   msg,
			"aborted": true,
		}))
		s.recordStep(ctx, "aborted", elapsed)
		return context.Cause(ctx)

	case err != nil && ctx.Err() != nil:
		step.Status = plan.StepStatusPending
		step.StartedAt = nil
		s.mu.Unlock()

		cause := context.Cause(ctx)
		s.bus.Publish(pubCtx, event.New(event.TypeStepFailed, r.plan.ID, id, map[string]any{
			"error":       cause.Error(),
			"interrupted": true,
		}))
		s.recordStep(ctx, "interrupted", elapsed)
		return cause

	case err != nil:
		step.Status = plan.StepStatusFailed
		step.Error = err.Error()
		step.CompletedAt = &finished
		r.exec.MarkExecuted(id, nil, err)
		s.mu.Unlock()

		s.bus.Publish(pubCtx, event.New(event.TypeStepFailed, r.plan.ID, id, map[string]any{
			"error":    err.Error(),
			"attempts": attempts,
		}))
		s.recordStep(ctx, "failed", elapsed)
		slog.Warn("step failed", "plan_id", r.plan.ID, "step_id", id, "attempts", attempts, "error", err)
		return err

	default:
		step.Status = plan.StepStatusCompleted
		step.Result = result
		step.CompletedAt = &finished
		r.exec.MarkExecuted(id, result, nil)
		s.mu.Unlock()

		s.bus.Publish(pubCtx, event.New(event.TypeStepCompleted, r.plan.ID, id, map[string]any{
			"result":   result,
			"attempts": attempts,
		}))
		s.recordStep(ctx, "completed", elapsed)
		return nil
	}
}

// stepFailure ends a parallel batch. Its siblings see it as the cause of
// their interruption.
type stepFailure struct {
	stepID string
	err    error
}

func (e *stepFailure) Error() string { return e.err.Error() }
func (e *stepFailure) Unwrap() error { return e.err }

func (s *OrchestratorService) attempt(ctx context.Context, p *plan.Plan, step *plan.Step, sc StepContext, n int) (json.RawMessage, error) {
	callCtx := ctx
	if s.cfg.StepTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, s.cfg.StepTimeout)
		defer cancel()
	}
	callCtx, span := tpotel.StartStepSpan(callCtx, p.ID, step.ID, n)
	result, err := s.planner.ExecuteStep(callCtx, p, step, sc)
	tpotel.EndSpan(span, err)
	return result, err
}

func (s *OrchestratorService) recordStep(ctx context.Context, outcome string, seconds float64) {
	if s.metrics != nil {
		s.metrics.StepFinished(context.WithoutCancel(ctx), outcome, seconds)
	}
}

// buildStepContext collects the results a step can see. Callers hold s.mu.
func buildStepContext(p *plan.Plan, step *plan.Step, results map[string]json.RawMessage) StepContext {
	sc := StepContext{
		StepID:          step.ID,
		Title:           step.Title,
		Description:     step.Description,
		Dependencies:    make(map[string]json.RawMessage, len(step.Dependencies)),
		PreviousResults: []json.RawMessage{},
	}
	for _, dep := range step.Dependencies {
		if res, ok := results[dep]; ok {
			sc.Dependencies[dep] = res
		} else {
			sc.Dependencies[dep] = json.RawMessage("null")
		}
	}
	for i := range p.Steps {
		if res, ok := results[p.Steps[i].ID]; ok {
			sc.PreviousResults = append(sc.PreviousResults, res)
		}
	}
	return sc
}

func (s *OrchestratorService) emitProgress(pubCtx context.Context, r *planRun) {
	s.mu.Lock()
	progress := event.NewProgress(len(r.exec.Executed), len(r.plan.Steps))
	s.mu.Unlock()
	s.bus.Publish(pubCtx, event.New(event.TypeProgressUpdate, r.plan.ID, "", progress))
}

// finish settles the status of r after its loop returned err and emits the
// terminal event.
func (s *OrchestratorService) finish(pubCtx context.Context, r *planRun, loopErr error) (*execution.Report, error) {
	var failure *stepFailure
	if errors.As(loopErr, &failure) {
		loopErr = failure.err
	}
	s.mu.Lock()
	now := s.now()
	r.looping = false
	r.cancel(nil)

	var (
		ev     event.Event
		emit   bool
		result = loopErr
	)
	switch {
	case r.exec.Status == execution.StatusCancelled || errors.Is(loopErr, execution.ErrCancelled):
		r.exec.Status = execution.StatusCancelled
		r.exec.Error = execution.ErrCancelled.Error()
		if r.exec.CompletedAt == nil {
			r.exec.CompletedAt = &now
		}
		ev = cancelledEvent(r.plan.ID)
		result = execution.ErrCancelled
	case errors.Is(loopErr, execution.ErrPaused):
		// Status and PausedAt were set by PauseExecution.
	case loopErr == nil && r.exec.Status == execution.StatusPaused:
		// A pause that raced the last step finds nothing left to resume.
		r.exec.Status = execution.StatusCompleted
		r.exec.PausedAt = nil
		r.exec.CompletedAt = &now
		ev = completedEvent(r, now)
	case loopErr != nil:
		r.exec.Status = execution.StatusFailed
		r.exec.Error = loopErr.Error()
		r.exec.CompletedAt = &now
		ev = event.New(event.TypePlanFailed, r.plan.ID, "", map[string]any{"error": loopErr.Error()})
	default:
		r.exec.Status = execution.StatusCompleted
		r.exec.CompletedAt = &now
		ev = completedEvent(r, now)
	}
	if ev.Type != "" && !r.terminalEmitted {
		r.terminalEmitted = true
		emit = true
	}
	report := r.exec.Report(r.plan.Title, len(r.plan.Steps), now)
	snapshot := r.plan.Clone()
	done := r.done
	pubCancel := r.pubCancel
	s.mu.Unlock()

	s.planner.SavePlan(snapshot)
	if emit {
		s.publishTerminal(pubCtx, ev, report)
	}
	pubCancel()
	close(done)

	switch report.Status {
	case execution.StatusPaused:
		slog.Info("plan execution paused", "plan_id", report.PlanID, "executed", report.CompletedSteps+report.FailedSteps)
	case execution.StatusCompleted:
		slog.Info("plan execution completed", "plan_id", report.PlanID, "failed_steps", report.FailedSteps, "duration_ms", report.DurationMS)
	default:
		slog.Warn("plan execution ended", "plan_id", report.PlanID, "status", report.Status, "error", report.Error)
	}
	return report, result
}

// publishTerminal emits a terminal event even when the run's publishers
// were released; streams still lagging after terminalWait are cut off.
func (s *OrchestratorService) publishTerminal(pubCtx context.Context, ev event.Event, report *execution.Report) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(pubCtx), terminalWait)
	defer cancel()
	s.bus.Publish(ctx, ev)
	s.recordPlan(ctx, report)
}

// completedEvent builds plan_completed for r. Callers hold s.mu.
func completedEvent(r *planRun, now time.Time) event.Event {
	return event.New(event.TypePlanCompleted, r.plan.ID, "", map[string]any{
		"completed_steps": len(r.exec.Results),
		"failed_steps":    len(r.exec.Errors),
		"duration_ms":     now.Sub(r.exec.StartedAt).Milliseconds(),
	})
}

func cancelledEvent(planID string) event.Event {
	return event.New(event.TypePlanFailed, planID, "", map[string]any{
		"error":     execution.ErrCancelled.Error(),
		"cancelled": true,
	})
}

func (s *OrchestratorService) recordPlan(ctx context.Context, report *execution.Report) {
	if s.metrics != nil {
		s.metrics.PlanFinished(ctx, string(report.Status), float64(report.DurationMS)/1000)
	}
}

// PauseExecution stops a running execution after its in-flight steps
// observe cancellation. It returns false unless the execution is running.
func (s *OrchestratorService) PauseExecution(planID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.runs[planID]
	if !ok || r.exec.Status != execution.StatusRunning {
		return false
	}
	if plan.Remaining(r.plan.Steps, r.exec.Executed) == 0 {
		return false
	}
	now := s.now()
	r.exec.Status = execution.StatusPaused
	r.exec.PausedAt = &now
	r.interrupt(execution.ErrPaused)
	slog.Info("plan execution pause requested", "plan_id", planID)
	return true
}

// ResumeExecution continues a paused execution from its executed set with
// ContinueOnError enabled. Like ExecutePlan it blocks until the run ends.
func (s *OrchestratorService) ResumeExecution(ctx context.Context, planID string) (*execution.Report, error) {
	s.mu.Lock()
	r, err := s.pausedRun(planID)
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	done := r.done
	s.mu.Unlock()

	// The paused loop may still be winding down its in-flight steps.
	select {
	case <-done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	s.mu.Lock()
	if s.runs[planID] != r || r.exec.Status != execution.StatusPaused {
		status := r.exec.Status
		s.mu.Unlock()
		return nil, fmt.Errorf("plan %s is %s, expected paused: %w", planID, status, domain.ErrConflict)
	}
	r.exec.Status = execution.StatusRunning
	r.exec.PausedAt = nil
	r.exec.Options.ContinueOnError = true
	runCtx, pubCtx := s.begin(ctx, r)
	s.mu.Unlock()

	slog.Info("plan execution resumed", "plan_id", planID)
	return s.drive(runCtx, pubCtx, r)
}

// StartResume checks that planID is paused and resumes it in the
// background, detached from the cancellation of ctx.
func (s *OrchestratorService) StartResume(ctx context.Context, planID string) error {
	s.mu.Lock()
	_, err := s.pausedRun(planID)
	s.mu.Unlock()
	if err != nil {
		return err
	}

	ctx = context.WithoutCancel(ctx)
	go func() {
		if _, err := s.ResumeExecution(ctx, planID); err != nil {
			logRunEnd(planID, err)
		}
	}()
	return nil
}

// pausedRun returns the paused run of planID. Callers hold s.mu.
func (s *OrchestratorService) pausedRun(planID string) (*planRun, error) {
	r, ok := s.runs[planID]
	if !ok {
		return nil, fmt.Errorf("execution %s: %w", planID, domain.ErrNotFound)
	}
	if r.exec.Status != execution.StatusPaused {
		return nil, fmt.Errorf("plan %s is %s, expected paused: %w", planID, r.exec.Status, domain.ErrConflict)
	}
	return r, nil
}

// CancelExecution stops a running or paused execution for good. It returns
// false when there is nothing to cancel.
func (s *OrchestratorService) CancelExecution(planID string) bool {
	s.mu.Lock()
	r, ok := s.runs[planID]
	if !ok || (r.exec.Status != execution.StatusRunning && r.exec.Status != execution.StatusPaused) {
		s.mu.Unlock()
		return false
	}
	now := s.now()
	r.exec.Status = execution.StatusCancelled
	r.exec.Error = execution.ErrCancelled.Error()
	r.exec.CompletedAt = &now

	if r.looping {
		// The loop emits the terminal event once its steps have stopped.
		r.interrupt(execution.ErrCancelled)
		s.mu.Unlock()
		slog.Info("plan execution cancel requested", "plan_id", planID)
		return true
	}

	emit := !r.terminalEmitted
	r.terminalEmitted = true
	report := r.exec.Report(r.plan.Title, len(r.plan.Steps), now)
	s.mu.Unlock()

	if emit {
		s.publishTerminal(context.Background(), cancelledEvent(planID), report)
	}
	slog.Info("paused plan execution cancelled", "plan_id", planID)
	return true
}

// StreamExecution subscribes to the events of planID. The stream closes
// after the terminal event or when ctx is done.
func (s *OrchestratorService) StreamExecution(ctx context.Context, planID string) *Stream {
	return s.bus.Subscribe(ctx, planID)
}

// GetExecution returns the detailed state of the execution of planID.
func (s *OrchestratorService) GetExecution(planID string) (*ExecutionView, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.runs[planID]
	if !ok {
		return nil, fmt.Errorf("execution %s: %w", planID, domain.ErrNotFound)
	}
	return &ExecutionView{
		Report:  r.exec.Report(r.plan.Title, len(r.plan.Steps), s.now()),
		Options: r.exec.Options,
		Steps:   plan.CloneSteps(r.plan.Steps),
	}, nil
}

// ListExecutions returns reports of all tracked executions, newest first.
func (s *OrchestratorService) ListExecutions() []execution.Report {
	s.mu.Lock()
	now := s.now()
	out := make([]execution.Report, 0, len(s.runs))
	for _, r := range s.runs {
		out = append(out, *r.exec.Report(r.plan.Title, len(r.plan.Steps), now))
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].StartedAt.After(out[j].StartedAt)
	})
	return out
}

// ClearFinished forgets terminal executions, moving their reports into the
// history cache when one is configured. It returns the number cleared.
func (s *OrchestratorService) ClearFinished(ctx context.Context) int {
	s.mu.Lock()
	now := s.now()
	var reports []*execution.Report
	for id, r := range s.runs {
		if !r.finished() {
			continue
		}
		reports = append(reports, r.exec.Report(r.plan.Title, len(r.plan.Steps), now))
		delete(s.runs, id)
	}
	s.mu.Unlock()

	if s.history != nil {
		for _, rep := range reports {
			data, err := json.Marshal(rep)
			if err != nil {
				slog.Error("marshal execution report", "plan_id", rep.PlanID, "error", err)
				continue
			}
			if err := s.history.Set(ctx, historyKeyPrefix+rep.PlanID, data, s.historyTTL); err != nil {
				slog.Warn("execution report not cached", "plan_id", rep.PlanID, "error", err)
			}
		}
	}
	if len(reports) > 0 {
		slog.Info("finished executions cleared", "count", len(reports))
	}
	return len(reports)
}

// GetReport returns the report of a tracked execution, or of a cleared one
// still held in the history cache.
func (s *OrchestratorService) GetReport(ctx context.Context, planID string) (*execution.Report, error) {
	s.mu.Lock()
	if r, ok := s.runs[planID]; ok {
		rep := r.exec.Report(r.plan.Title, len(r.plan.Steps), s.now())
		s.mu.Unlock()
		return rep, nil
	}
	s.mu.Unlock()

	if s.history != nil {
		data, ok, err := s.history.Get(ctx, historyKeyPrefix+planID)
		if err != nil {
			return nil, fmt.Errorf("history lookup %s: %w", planID, err)
		}
		if ok {
			var rep execution.Report
			if err := json.Unmarshal(data, &rep); err != nil {
				return nil, fmt.Errorf("decode report %s: %w", planID, err)
			}
			return &rep, nil
		}
	}
	return nil, fmt.Errorf("execution %s: %w", planID, domain.ErrNotFound)
}
