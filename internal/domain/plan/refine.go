package plan

import (
	"fmt"
	"strconv"
	"strings"
)

// Refine applies compensating edits for the issues in v and returns a new
// step list; steps is not mutated. Refinement is best-effort: callers must
// validate the result again and should not loop on it.
func Refine(steps []Step, v Validation) []Step {
	out := CloneSteps(steps)

	for _, issue := range v.Issues {
		switch issue.Kind {
		case IssueDuplicateStepID:
			renameDuplicates(out, issue.StepIDs[0])
		case IssueMissingCapability:
			out = addCapabilityStep(out, issue)
		case IssueMissingOutput:
			out = addOutputSteps(out, issue.Output)
		case IssueUnknownBinding:
			dropBindings(out, issue.StepIDs, issue.Endpoint)
		case IssueCycleDetected:
			breakCycle(out, issue.StepIDs)
		}
	}

	StripDanglingDependencies(out)
	return out
}

// addCapabilityStep prepends a research step bound to the missing endpoint
// and makes the first consumer of research results depend on it.
func addCapabilityStep(steps []Step, issue Issue) []Step {
	id := nextRefineID(steps)
	label := SourceLabel(issue.Capability)
	step := Step{
		ID:                id,
		Kind:              KindResearch,
		Title:             "Research " + label,
		Description:       fmt.Sprintf("Call %s required by %s", issue.Endpoint, label),
		Status:            StepStatusPending,
		Priority:          PriorityHigh,
		Dependencies:      []string{},
		Bindings:          []Binding{{Endpoint: issue.Endpoint, Params: map[string]any{"source": issue.Capability}}},
		EstimatedDuration: kindDurations[KindResearch],
	}

	for _, kind := range []StepKind{KindAggregate, KindAction} {
		if i := indexOfKind(steps, kind); i >= 0 {
			steps[i].Dependencies = append(steps[i].Dependencies, id)
			break
		}
	}

	return append([]Step{step}, steps...)
}

// addOutputSteps inserts the generation steps for output ahead of the
// quality check, chained to the step preceding the insertion point.
func addOutputSteps(steps []Step, output string) []Step {
	at := indexOfKind(steps, KindQualityCheck)
	if at < 0 {
		at = len(steps)
	}

	var prev []string
	if at > 0 {
		prev = []string{steps[at-1].ID}
	}

	label := OutputLabel(output)
	var inserted []Step
	for _, stage := range outputStages(output) {
		id := nextRefineID(append(append([]Step(nil), steps...), inserted...))
		deps := append([]string{}, prev...)
		inserted = append(inserted, Step{
			ID:                id,
			Kind:              KindOutput,
			Title:             stage.title,
			Description:       fmt.Sprintf("Produce the %s (%s)", label, stage.phase),
			Status:            StepStatusPending,
			Priority:          PriorityMedium,
			Dependencies:      deps,
			Bindings:          []Binding{{Endpoint: EndpointGenerate, Params: map[string]any{"format": output, "phase": stage.phase}}},
			EstimatedDuration: kindDurations[KindOutput],
		})
		prev = []string{id}
	}

	if at < len(steps) {
		steps[at].Dependencies = append([]string{}, prev...)
	}

	result := make([]Step, 0, len(steps)+len(inserted))
	result = append(result, steps[:at]...)
	result = append(result, inserted...)
	result = append(result, steps[at:]...)
	return result
}

func dropBindings(steps []Step, ids []string, endpoint string) {
	targets := make(map[string]bool, len(ids))
	for _, id := range ids {
		targets[id] = true
	}
	for i := range steps {
		if !targets[steps[i].ID] {
			continue
		}
		kept := steps[i].Bindings[:0]
		for _, b := range steps[i].Bindings {
			if b.Endpoint != endpoint {
				kept = append(kept, b)
			}
		}
		steps[i].Bindings = kept
	}
}

// breakCycle removes, for each cycle member, the dependencies that point at
// the member itself or at steps listed after it. Any cycle needs at least one
// such edge, so the members can no longer form one.
func breakCycle(steps []Step, members []string) {
	pos := make(map[string]int, len(steps))
	for i := range steps {
		pos[steps[i].ID] = i
	}
	inCycle := make(map[string]bool, len(members))
	for _, id := range members {
		inCycle[id] = true
	}

	for i := range steps {
		if !inCycle[steps[i].ID] {
			continue
		}
		kept := steps[i].Dependencies[:0]
		for _, dep := range steps[i].Dependencies {
			if p, ok := pos[dep]; ok && inCycle[dep] && p >= i {
				continue
			}
			kept = append(kept, dep)
		}
		steps[i].Dependencies = kept
	}
}

func indexOfKind(steps []Step, kind StepKind) int {
	for i := range steps {
		if steps[i].Kind == kind {
			return i
		}
	}
	return -1
}

// renameDuplicates gives every copy of id after the first a fresh ID.
// Dependencies on id keep pointing at the first copy.
func renameDuplicates(steps []Step, id string) {
	first := true
	for i := range steps {
		if steps[i].ID != id {
			continue
		}
		if first {
			first = false
			continue
		}
		steps[i].ID = nextRefineID(steps)
	}
}

// nextRefineID returns an ID of the form "refine-N" unused in steps.
func nextRefineID(steps []Step) string {
	highest := 0
	for i := range steps {
		if n, ok := strings.CutPrefix(steps[i].ID, "refine-"); ok {
			if v, err := strconv.Atoi(n); err == nil && v > highest {
				highest = v
			}
		}
	}
	return fmt.Sprintf("refine-%d", highest+1)
}
