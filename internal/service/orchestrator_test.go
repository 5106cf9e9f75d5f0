package service_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/labdesk/taskplanner/internal/config"
	"github.com/labdesk/taskplanner/internal/domain"
	"github.com/labdesk/taskplanner/internal/domain/event"
	"github.com/labdesk/taskplanner/internal/domain/execution"
	"github.com/labdesk/taskplanner/internal/domain/plan"
	"github.com/labdesk/taskplanner/internal/port/stepcall"
	"github.com/labdesk/taskplanner/internal/service"
)

// stepFunc handles the binding call of one step, identified by the "step"
// binding param.
type stepFunc func(ctx context.Context, req service.StepRequest) (json.RawMessage, error)

type fakeAPI struct {
	mu       sync.Mutex
	handlers map[string]stepFunc
	calls    map[string]int
	bodies   map[string][]service.StepRequest
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{
		handlers: make(map[string]stepFunc),
		calls:    make(map[string]int),
		bodies:   make(map[string][]service.StepRequest),
	}
}

func (f *fakeAPI) on(stepID string, fn stepFunc) { f.handlers[stepID] = fn }

func (f *fakeAPI) invoker() stepcall.Invoker {
	return stepcall.InvokerFunc(func(ctx context.Context, _ string, body any) (json.RawMessage, error) {
		req := body.(service.StepRequest)
		id, _ := req.Params["step"].(string)
		f.mu.Lock()
		f.calls[id]++
		f.bodies[id] = append(f.bodies[id], req)
		fn := f.handlers[id]
		f.mu.Unlock()
		if fn == nil {
			return json.RawMessage(fmt.Sprintf(`{"step":%q}`, id)), nil
		}
		return fn(ctx, req)
	})
}

func (f *fakeAPI) callCount(id string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[id]
}

func (f *fakeAPI) lastBody(id string) service.StepRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	b := f.bodies[id]
	return b[len(b)-1]
}

// testStep creates a step bound to the chat endpoint, tagged with its ID.
func testStep(id string, deps ...string) plan.Step {
	return plan.Step{
		ID:           id,
		Title:        "Step " + id,
		Status:       plan.StepStatusPending,
		Dependencies: deps,
		Bindings:     []plan.Binding{{Endpoint: plan.EndpointChat, Params: map[string]any{"step": id}}},
	}
}

func testPlan(id string, steps ...plan.Step) *plan.Plan {
	return &plan.Plan{ID: id, Title: "Plan " + id, Subject: "graphene", Steps: steps, CreatedAt: time.Now()}
}

func newOrchestrator(api *fakeAPI, cfg config.Orchestrator) *service.OrchestratorService {
	planner := service.NewPlannerService(api.invoker(), cfg)
	bus := service.NewEventBus(256, nil)
	return service.NewOrchestratorService(planner, bus, cfg)
}

// collect reads the stream until it closes.
func collect(t *testing.T, s *service.Stream) []event.Event {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	var out []event.Event
	for {
		ev, ok := s.Next(ctx)
		if !ok {
			if ctx.Err() != nil {
				t.Fatalf("stream did not close, got %d events", len(out))
			}
			return out
		}
		out = append(out, ev)
	}
}

func ofType(evs []event.Event, typ event.Type) []event.Event {
	var out []event.Event
	for _, ev := range evs {
		if ev.Type == typ {
			out = append(out, ev)
		}
	}
	return out
}

func startedSteps(evs []event.Event) map[string]bool {
	out := make(map[string]bool)
	for _, ev := range ofType(evs, event.TypeStepStarted) {
		out[ev.StepID] = true
	}
	return out
}

func dataOf(t *testing.T, ev event.Event) map[string]any {
	t.Helper()
	var m map[string]any
	if err := json.Unmarshal(ev.Data, &m); err != nil {
		t.Fatalf("decode %s data: %v", ev.Type, err)
	}
	return m
}

// waitFor polls cond until it holds or the test times out.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

type runResult struct {
	report *execution.Report
	err    error
}

func executeAsync(orch *service.OrchestratorService, p *plan.Plan, opts execution.Options) <-chan runResult {
	ch := make(chan runResult, 1)
	go func() {
		rep, err := orch.ExecutePlan(context.Background(), p, opts)
		ch <- runResult{rep, err}
	}()
	return ch
}

func await(t *testing.T, ch <-chan runResult) runResult {
	t.Helper()
	select {
	case r := <-ch:
		return r
	case <-time.After(5 * time.Second):
		t.Fatal("execution did not return")
		return runResult{}
	}
}

// blockUntilCancelled signals started on its first call and then waits for
// the call context; later calls succeed.
func blockUntilCancelled(started chan<- struct{}) stepFunc {
	var once sync.Once
	var first atomic.Bool
	first.Store(true)
	return func(ctx context.Context, _ service.StepRequest) (json.RawMessage, error) {
		if first.CompareAndSwap(true, false) {
			once.Do(func() { close(started) })
			<-ctx.Done()
			return nil, ctx.Err()
		}
		return json.RawMessage(`"resumed"`), nil
	}
}

func TestExecutePlan_AllStepsSucceed(t *testing.T) {
	api := newFakeAPI()
	orch := newOrchestrator(api, config.Orchestrator{})
	p := testPlan("p1", testStep("a"), testStep("b", "a"), testStep("c"))
	stream := orch.StreamExecution(context.Background(), p.ID)

	rep, err := orch.ExecutePlan(context.Background(), p, execution.Options{})
	if err != nil {
		t.Fatalf("ExecutePlan: %v", err)
	}
	if rep.Status != execution.StatusCompleted || len(rep.Results) != 3 || rep.CompletedAt == nil {
		t.Fatalf("unexpected report %+v", rep)
	}

	evs := collect(t, stream)
	if evs[0].Type != event.TypePlanCreated {
		t.Fatalf("first event = %s, want plan_created", evs[0].Type)
	}
	if n := len(ofType(evs, event.TypePlanCompleted)); n != 1 {
		t.Fatalf("expected one plan_completed, got %d", n)
	}
	if last := evs[len(evs)-1]; last.Type != event.TypePlanCompleted {
		t.Fatalf("last event = %s, want plan_completed", last.Type)
	}
	if n := len(ofType(evs, event.TypeStepCompleted)); n != 3 {
		t.Fatalf("expected 3 step_completed, got %d", n)
	}
	if n := len(ofType(evs, event.TypeProgressUpdate)); n != 3 {
		t.Errorf("sequential mode should report progress per step, got %d", n)
	}

	body := api.lastBody("b")
	if string(body.Context.Dependencies["a"]) != `{"step":"a"}` {
		t.Errorf("b should see a's result, got %s", body.Context.Dependencies["a"])
	}
	if len(body.Context.PreviousResults) != 2 {
		t.Errorf("b should see both earlier results, got %d", len(body.Context.PreviousResults))
	}
	if body.PlanID != "p1" || body.Subject != "graphene" {
		t.Errorf("unexpected request header %+v", body)
	}

	if p.Steps[0].Status != plan.StepStatusPending {
		t.Error("ExecutePlan mutated the caller's plan")
	}
	view, err := orch.GetExecution("p1")
	if err != nil {
		t.Fatalf("GetExecution: %v", err)
	}
	for _, s := range view.Steps {
		if s.Status != plan.StepStatusCompleted || s.StartedAt == nil || s.CompletedAt == nil {
			t.Errorf("step %s: status %s, started %v, completed %v", s.ID, s.Status, s.StartedAt, s.CompletedAt)
		}
	}
}

func TestExecutePlan_SequentialAbortOnFailure(t *testing.T) {
	api := newFakeAPI()
	api.on("s2", func(context.Context, service.StepRequest) (json.RawMessage, error) {
		return nil, errors.New("boom")
	})
	orch := newOrchestrator(api, config.Orchestrator{})
	p := testPlan("p-c", testStep("s1"), testStep("s2"), testStep("s3"))
	stream := orch.StreamExecution(context.Background(), p.ID)

	rep, err := orch.ExecutePlan(context.Background(), p, execution.Options{})
	if err == nil || !strings.Contains(err.Error(), "boom") {
		t.Fatalf("expected step error, got %v", err)
	}
	if rep.Status != execution.StatusFailed {
		t.Fatalf("expected failed, got %s", rep.Status)
	}

	evs := collect(t, stream)
	started := startedSteps(evs)
	if !started["s1"] || !started["s2"] || started["s3"] {
		t.Fatalf("unexpected started steps %v", started)
	}
	failed := ofType(evs, event.TypeStepFailed)
	if len(failed) != 1 || failed[0].StepID != "s2" {
		t.Fatalf("expected step_failed for s2, got %+v", failed)
	}
	planFailed := ofType(evs, event.TypePlanFailed)
	if len(planFailed) != 1 {
		t.Fatalf("expected one plan_failed, got %d", len(planFailed))
	}
	if msg := dataOf(t, planFailed[0])["error"]; msg != "boom" {
		t.Errorf("plan_failed error = %v", msg)
	}
	if api.callCount("s3") != 0 {
		t.Error("s3 must never run")
	}
}

func TestExecutePlan_ContinueOnErrorRunsDependents(t *testing.T) {
	api := newFakeAPI()
	api.on("a", func(context.Context, service.StepRequest) (json.RawMessage, error) {
		return nil, errors.New("upstream down")
	})
	orch := newOrchestrator(api, config.Orchestrator{})
	p := testPlan("p-coe", testStep("a"), testStep("b", "a"), testStep("c", "b"))

	rep, err := orch.ExecutePlan(context.Background(), p, execution.Options{ContinueOnError: true})
	if err != nil {
		t.Fatalf("ExecutePlan: %v", err)
	}
	if rep.Status != execution.StatusCompleted || rep.FailedSteps != 1 || rep.CompletedSteps != 2 {
		t.Fatalf("unexpected report %+v", rep)
	}
	if rep.Errors["a"] != "upstream down" {
		t.Errorf("expected a's error recorded, got %v", rep.Errors)
	}
	if dep := api.lastBody("b").Context.Dependencies["a"]; string(dep) != "null" {
		t.Errorf("failed dependency should map to null, got %s", dep)
	}
	view, _ := orch.GetExecution("p-coe")
	if view.Steps[0].Status != plan.StepStatusFailed || view.Steps[0].Error != "upstream down" {
		t.Errorf("unexpected step a %+v", view.Steps[0])
	}
}

func TestExecutePlan_ParallelRespectsLimit(t *testing.T) {
	var cur, peak atomic.Int32
	api := newFakeAPI()
	slow := func(context.Context, service.StepRequest) (json.RawMessage, error) {
		n := cur.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		cur.Add(-1)
		return json.RawMessage(`true`), nil
	}
	for _, id := range []string{"a", "b", "c", "d"} {
		api.on(id, slow)
	}
	orch := newOrchestrator(api, config.Orchestrator{MaxParallel: 2})
	p := testPlan("p-par", testStep("a"), testStep("b"), testStep("c"), testStep("d"), testStep("e", "a", "b", "c", "d"))
	stream := orch.StreamExecution(context.Background(), p.ID)

	rep, err := orch.ExecutePlan(context.Background(), p, execution.Options{Parallel: true})
	if err != nil {
		t.Fatalf("ExecutePlan: %v", err)
	}
	if rep.CompletedSteps != 5 {
		t.Fatalf("expected 5 completed steps, got %d", rep.CompletedSteps)
	}
	if got := peak.Load(); got > 2 || got < 1 {
		t.Fatalf("peak concurrency %d, want 1..2", got)
	}

	evs := collect(t, stream)
	progress := ofType(evs, event.TypeProgressUpdate)
	if len(progress) != 2 {
		t.Fatalf("expected one progress_update per batch (2), got %d", len(progress))
	}
	if pct := dataOf(t, progress[1])["percentage"]; pct != float64(100) {
		t.Errorf("final progress = %v, want 100", pct)
	}
}

func TestExecutePlan_ParallelAbortStopsSiblings(t *testing.T) {
	api := newFakeAPI()
	api.on("x", func(context.Context, service.StepRequest) (json.RawMessage, error) {
		return nil, errors.New("x broke")
	})
	api.on("y", func(ctx context.Context, _ service.StepRequest) (json.RawMessage, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	orch := newOrchestrator(api, config.Orchestrator{})
	p := testPlan("p-abort", testStep("x"), testStep("y"), testStep("z", "x"))
	stream := orch.StreamExecution(context.Background(), p.ID)

	_, err := orch.ExecutePlan(context.Background(), p, execution.Options{Parallel: true})
	if err == nil || err.Error() != "x broke" {
		t.Fatalf("expected x's error, got %v", err)
	}

	evs := collect(t, stream)
	if startedSteps(evs)["z"] {
		t.Fatal("dependent of the failed step must not start")
	}
	if n := len(ofType(evs, event.TypePlanFailed)); n != 1 {
		t.Fatalf("expected one plan_failed, got %d", n)
	}
	var sawY bool
	for _, ev := range ofType(evs, event.TypeStepFailed) {
		if ev.StepID != "y" {
			continue
		}
		sawY = true
		data := dataOf(t, ev)
		if data["error"] != "aborted: sibling x failed" || data["aborted"] != true {
			t.Errorf("sibling y should be reported as aborted by x: %s", ev.Data)
		}
	}
	if !sawY {
		t.Fatal("expected step_failed for the aborted sibling")
	}

	view, err := orch.GetExecution(p.ID)
	if err != nil {
		t.Fatal(err)
	}
	for _, st := range view.Steps {
		if st.ID == "y" && st.Status != plan.StepStatusSkipped {
			t.Errorf("aborted sibling should be skipped, got %s", st.Status)
		}
	}
}

func TestExecutePlan_UnresolvableDependency(t *testing.T) {
	api := newFakeAPI()
	orch := newOrchestrator(api, config.Orchestrator{})
	p := testPlan("p-dangle", testStep("a"), testStep("b", "ghost"))
	stream := orch.StreamExecution(context.Background(), p.ID)

	rep, err := orch.ExecutePlan(context.Background(), p, execution.Options{ContinueOnError: true})
	if !errors.Is(err, execution.ErrUnresolvable) {
		t.Fatalf("expected ErrUnresolvable, got %v", err)
	}
	if rep.Status != execution.StatusFailed {
		t.Fatalf("expected failed, got %s", rep.Status)
	}
	failed := ofType(collect(t, stream), event.TypePlanFailed)
	if len(failed) != 1 || dataOf(t, failed[0])["error"] != "circular dependency or unresolvable dependency" {
		t.Fatalf("unexpected plan_failed %+v", failed)
	}
}

func TestExecutePlan_RetriesAndTimeout(t *testing.T) {
	api := newFakeAPI()
	var flaky atomic.Int32
	api.on("flaky", func(context.Context, service.StepRequest) (json.RawMessage, error) {
		if flaky.Add(1) < 3 {
			return nil, errors.New("transient")
		}
		return json.RawMessage(`"ok"`), nil
	})
	api.on("hung", func(ctx context.Context, _ service.StepRequest) (json.RawMessage, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	orch := newOrchestrator(api, config.Orchestrator{StepTimeout: 20 * time.Millisecond})
	p := testPlan("p-retry", testStep("flaky"), testStep("hung"))
	stream := orch.StreamExecution(context.Background(), p.ID)

	rep, err := orch.ExecutePlan(context.Background(), p, execution.Options{MaxRetries: 2, ContinueOnError: true})
	if err != nil {
		t.Fatalf("ExecutePlan: %v", err)
	}
	if string(rep.Results["flaky"]) != `"ok"` {
		t.Fatalf("flaky step should succeed on the third attempt, got %v", rep.Results)
	}
	if api.callCount("hung") != 3 {
		t.Errorf("hung step should be attempted 3 times, got %d", api.callCount("hung"))
	}
	if !strings.Contains(rep.Errors["hung"], "deadline exceeded") {
		t.Errorf("expected timeout error, got %q", rep.Errors["hung"])
	}

	for _, ev := range ofType(collect(t, stream), event.TypeStepFailed) {
		if dataOf(t, ev)["interrupted"] == true {
			t.Errorf("timeout must not count as interruption: %s", ev.Data)
		}
	}
}

func TestExecutePlan_ConflictWhileRunning(t *testing.T) {
	api := newFakeAPI()
	started := make(chan struct{})
	api.on("slow", blockUntilCancelled(started))
	orch := newOrchestrator(api, config.Orchestrator{})
	p := testPlan("p-dup", testStep("slow"))

	first := executeAsync(orch, p, execution.Options{})
	<-started

	if _, err := orch.ExecutePlan(context.Background(), p, execution.Options{}); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	if !orch.CancelExecution(p.ID) {
		t.Fatal("cancel should succeed")
	}
	if res := await(t, first); !errors.Is(res.err, execution.ErrCancelled) {
		t.Fatalf("expected ErrCancelled, got %v", res.err)
	}

	// A finished plan can be executed again.
	if _, err := orch.ExecutePlan(context.Background(), p, execution.Options{}); err != nil {
		t.Fatalf("re-execution: %v", err)
	}
}

func TestPauseResume_ContinuesFromExecutedSet(t *testing.T) {
	api := newFakeAPI()
	started := make(chan struct{})
	api.on("b", blockUntilCancelled(started))
	orch := newOrchestrator(api, config.Orchestrator{})
	p := testPlan("p-d", testStep("a"), testStep("b", "a"), testStep("c", "b"))
	stream := orch.StreamExecution(context.Background(), p.ID)

	run := executeAsync(orch, p, execution.Options{})
	<-started

	if !orch.PauseExecution(p.ID) {
		t.Fatal("first pause should return true")
	}
	if orch.PauseExecution(p.ID) {
		t.Fatal("second pause should return false")
	}
	view, err := orch.GetExecution(p.ID)
	if err != nil {
		t.Fatalf("GetExecution: %v", err)
	}
	if view.Status != execution.StatusPaused || view.PausedAt == nil {
		t.Fatalf("expected paused with timestamp, got %s %v", view.Status, view.PausedAt)
	}

	res := await(t, run)
	if !errors.Is(res.err, execution.ErrPaused) {
		t.Fatalf("expected ErrPaused, got %v", res.err)
	}
	view, _ = orch.GetExecution(p.ID)
	if view.Steps[0].Status != plan.StepStatusCompleted || view.Steps[1].Status != plan.StepStatusPending {
		t.Fatalf("unexpected step states %s %s", view.Steps[0].Status, view.Steps[1].Status)
	}

	rep, err := orch.ResumeExecution(context.Background(), p.ID)
	if err != nil {
		t.Fatalf("ResumeExecution: %v", err)
	}
	if rep.Status != execution.StatusCompleted || rep.CompletedSteps != 3 {
		t.Fatalf("unexpected report %+v", rep)
	}
	if api.callCount("a") != 1 {
		t.Errorf("completed step a re-ran %d times", api.callCount("a"))
	}
	if api.callCount("b") != 2 {
		t.Errorf("interrupted step b should run again, got %d calls", api.callCount("b"))
	}
	view, _ = orch.GetExecution(p.ID)
	if !view.Options.ContinueOnError {
		t.Error("resume should enable continue-on-error")
	}

	evs := collect(t, stream)
	var interrupted bool
	for _, ev := range ofType(evs, event.TypeStepFailed) {
		if ev.StepID == "b" && dataOf(t, ev)["interrupted"] == true {
			interrupted = true
		}
	}
	if !interrupted {
		t.Error("expected interrupted step_failed for b")
	}
	if evs[len(evs)-1].Type != event.TypePlanCompleted {
		t.Errorf("last event = %s", evs[len(evs)-1].Type)
	}
}

func TestCancel_RunningExecution(t *testing.T) {
	api := newFakeAPI()
	started := make(chan struct{})
	api.on("a", blockUntilCancelled(started))
	orch := newOrchestrator(api, config.Orchestrator{})
	p := testPlan("p-cancel", testStep("a"), testStep("b", "a"))
	stream := orch.StreamExecution(context.Background(), p.ID)

	run := executeAsync(orch, p, execution.Options{})
	<-started
	if !orch.CancelExecution(p.ID) {
		t.Fatal("cancel should return true")
	}
	res := await(t, run)
	if !errors.Is(res.err, execution.ErrCancelled) || res.report.Status != execution.StatusCancelled {
		t.Fatalf("expected cancelled, got %v %s", res.err, res.report.Status)
	}
	if orch.CancelExecution(p.ID) {
		t.Error("cancelling a terminal execution should return false")
	}

	failed := ofType(collect(t, stream), event.TypePlanFailed)
	if len(failed) != 1 {
		t.Fatalf("expected one plan_failed, got %d", len(failed))
	}
	data := dataOf(t, failed[0])
	if data["error"] != "cancelled by user" || data["cancelled"] != true {
		t.Fatalf("unexpected cancel payload %s", failed[0].Data)
	}
}

func TestCancel_StalledSubscriberDoesNotWedgeRun(t *testing.T) {
	api := newFakeAPI()
	cfg := config.Orchestrator{}
	orch := service.NewOrchestratorService(service.NewPlannerService(api.invoker(), cfg), service.NewEventBus(4, nil), cfg)

	steps := make([]plan.Step, 10)
	for i := range steps {
		steps[i] = testStep(fmt.Sprintf("s%d", i))
	}
	p := testPlan("p-stalled", steps...)
	_ = orch.StreamExecution(context.Background(), p.ID) // never read
	watcher := orch.StreamExecution(context.Background(), p.ID)
	watched := make(chan []event.Event, 1)
	go func() {
		var evs []event.Event
		for {
			ev, ok := watcher.Next(context.Background())
			if !ok {
				watched <- evs
				return
			}
			evs = append(evs, ev)
		}
	}()

	run := executeAsync(orch, p, execution.Options{})
	waitFor(t, "first step", func() bool { return api.callCount("s0") == 1 })
	time.Sleep(50 * time.Millisecond)
	if api.callCount("s9") != 0 {
		t.Fatal("run should be held back by the stalled stream")
	}

	if !orch.CancelExecution(p.ID) {
		t.Fatal("cancel should return true")
	}
	res := await(t, run)
	if !errors.Is(res.err, execution.ErrCancelled) || res.report.Status != execution.StatusCancelled {
		t.Fatalf("expected cancelled, got %v %s", res.err, res.report.Status)
	}

	var evs []event.Event
	select {
	case evs = <-watched:
	case <-time.After(5 * time.Second):
		t.Fatal("watching stream did not close")
	}
	failed := ofType(evs, event.TypePlanFailed)
	if len(failed) != 1 || dataOf(t, failed[0])["cancelled"] != true {
		t.Fatalf("expected the cancel event, got %d plan_failed", len(failed))
	}

	if _, err := orch.ExecutePlan(context.Background(), p, execution.Options{}); err != nil {
		t.Fatalf("plan should be executable again after cancel, got %v", err)
	}
}

func TestCancel_PausedExecution(t *testing.T) {
	api := newFakeAPI()
	started := make(chan struct{})
	api.on("a", blockUntilCancelled(started))
	orch := newOrchestrator(api, config.Orchestrator{})
	p := testPlan("p-pc", testStep("a"))
	stream := orch.StreamExecution(context.Background(), p.ID)

	run := executeAsync(orch, p, execution.Options{})
	<-started
	orch.PauseExecution(p.ID)
	if res := await(t, run); !errors.Is(res.err, execution.ErrPaused) {
		t.Fatalf("expected ErrPaused, got %v", res.err)
	}

	if !orch.CancelExecution(p.ID) {
		t.Fatal("cancelling a paused execution should return true")
	}
	if _, err := orch.ResumeExecution(context.Background(), p.ID); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("resume after cancel: expected ErrConflict, got %v", err)
	}

	failed := ofType(collect(t, stream), event.TypePlanFailed)
	if len(failed) != 1 || dataOf(t, failed[0])["cancelled"] != true {
		t.Fatalf("expected one cancelled plan_failed, got %+v", failed)
	}
	view, _ := orch.GetExecution(p.ID)
	if view.Status != execution.StatusCancelled || view.CompletedAt == nil {
		t.Fatalf("unexpected state %s %v", view.Status, view.CompletedAt)
	}
}

func TestResume_RequiresPaused(t *testing.T) {
	orch := newOrchestrator(newFakeAPI(), config.Orchestrator{})
	if _, err := orch.ResumeExecution(context.Background(), "nope"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	p := testPlan("p-done", testStep("a"))
	if _, err := orch.ExecutePlan(context.Background(), p, execution.Options{}); err != nil {
		t.Fatalf("ExecutePlan: %v", err)
	}
	if _, err := orch.ResumeExecution(context.Background(), p.ID); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	if orch.PauseExecution(p.ID) {
		t.Fatal("pausing a completed execution should return false")
	}
}

func TestExecutePlan_EmptyPlanCompletes(t *testing.T) {
	orch := newOrchestrator(newFakeAPI(), config.Orchestrator{})
	rep, err := orch.ExecutePlan(context.Background(), testPlan("p-empty"), execution.Options{})
	if err != nil || rep.Status != execution.StatusCompleted {
		t.Fatalf("expected completed, got %v %v", rep, err)
	}
}

func TestExecutePlan_RejectsBadInput(t *testing.T) {
	orch := newOrchestrator(newFakeAPI(), config.Orchestrator{})
	if _, err := orch.ExecutePlan(context.Background(), &plan.Plan{}, execution.Options{}); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
	if _, err := orch.ExecutePlan(context.Background(), testPlan("p"), execution.Options{MaxRetries: -1}); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}

type memCache struct {
	mu   sync.Mutex
	data map[string][]byte
}

func (m *memCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *memCache) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return nil
}

func (m *memCache) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

func TestClearFinished_MovesReportsToHistory(t *testing.T) {
	api := newFakeAPI()
	started := make(chan struct{})
	api.on("wait", blockUntilCancelled(started))
	orch := newOrchestrator(api, config.Orchestrator{})
	hist := &memCache{data: make(map[string][]byte)}
	orch.SetHistory(hist, time.Hour)
	ctx := context.Background()

	if _, err := orch.ExecutePlan(ctx, testPlan("done", testStep("a")), execution.Options{}); err != nil {
		t.Fatalf("ExecutePlan: %v", err)
	}
	run := executeAsync(orch, testPlan("live", testStep("wait")), execution.Options{})
	<-started

	if n := orch.ClearFinished(ctx); n != 1 {
		t.Fatalf("expected 1 cleared, got %d", n)
	}
	if _, err := orch.GetExecution("done"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("cleared execution still tracked: %v", err)
	}
	rep, err := orch.GetReport(ctx, "done")
	if err != nil {
		t.Fatalf("GetReport from history: %v", err)
	}
	if rep.Status != execution.StatusCompleted || rep.CompletedSteps != 1 {
		t.Fatalf("unexpected cached report %+v", rep)
	}
	if len(orch.ListExecutions()) != 1 {
		t.Fatalf("running execution must survive clearing")
	}
	if _, err := orch.GetReport(ctx, "never"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	orch.CancelExecution("live")
	await(t, run)
}

func TestStream_ClosesAfterTerminalEvent(t *testing.T) {
	bus := service.NewEventBus(8, nil)
	planner := service.NewPlannerService(newFakeAPI().invoker(), config.Orchestrator{})
	orch := service.NewOrchestratorService(planner, bus, config.Orchestrator{})
	stream := orch.StreamExecution(context.Background(), "p-s")

	if _, err := orch.ExecutePlan(context.Background(), testPlan("p-s", testStep("a")), execution.Options{}); err != nil {
		t.Fatalf("ExecutePlan: %v", err)
	}
	collect(t, stream)
	select {
	case <-stream.Done():
	default:
		t.Fatal("stream should be closed after plan_completed")
	}
	if n := bus.Subscribers("p-s"); n != 0 {
		t.Fatalf("closed stream still subscribed (%d)", n)
	}
}

func TestExecutePlan_WritesBackToRegistry(t *testing.T) {
	api := newFakeAPI()
	cfg := config.Orchestrator{}
	planner := service.NewPlannerService(api.invoker(), cfg)
	orch := service.NewOrchestratorService(planner, service.NewEventBus(8, nil), cfg)

	p := planner.CreatePlan(context.Background(), plan.BuildRequest{Want: "summarize", Use: []string{"arxiv"}}, plan.BuildOptions{})
	if _, err := orch.ExecutePlan(context.Background(), p, execution.Options{}); err != nil {
		t.Fatalf("ExecutePlan: %v", err)
	}
	stored, err := planner.GetPlan(p.ID)
	if err != nil {
		t.Fatalf("GetPlan: %v", err)
	}
	if n := plan.CountStatus(stored.Steps, plan.StepStatusCompleted); n != len(stored.Steps) {
		t.Fatalf("expected all %d steps completed in registry, got %d", len(stored.Steps), n)
	}
}
