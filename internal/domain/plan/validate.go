package plan

import (
	"fmt"
	"strings"
)

// IssueKind tags a structural defect found by Validate.
type IssueKind string

const (
	IssueCycleDetected      IssueKind = "cycle_detected"
	IssueDanglingDependency IssueKind = "dangling_dependency"
	IssueMissingCapability  IssueKind = "missing_capability"
	IssueUnknownBinding     IssueKind = "unknown_binding"
	IssueMissingOutput      IssueKind = "missing_output"
	IssueTooManySteps       IssueKind = "too_many_steps"
	IssueDuplicateStepID    IssueKind = "duplicate_step_id"
)

// Issue is one validation finding. Only the fields relevant to Kind are set.
type Issue struct {
	Kind       IssueKind `json:"kind"`
	Message    string    `json:"message"`
	StepIDs    []string  `json:"step_ids,omitempty"`
	Capability string    `json:"capability,omitempty"` // data source requiring Endpoint
	Endpoint   string    `json:"endpoint,omitempty"`
	Output     string    `json:"output,omitempty"`
}

// Validation is the result of statically checking a step list.
type Validation struct {
	IsValid     bool     `json:"is_valid"`
	Issues      []Issue  `json:"issues"`
	Suggestions []string `json:"suggestions"`
}

// HasIssue reports whether the validation contains an issue of the given kind.
func (v *Validation) HasIssue(kind IssueKind) bool {
	for i := range v.Issues {
		if v.Issues[i].Kind == kind {
			return true
		}
	}
	return false
}

// Validate checks a step list against the intents it was built for. It is a
// pure function: the input is never mutated and repeated calls on the same
// input return identical results.
func Validate(steps []Step, want string, use, outputKeys []string) Validation {
	v := Validation{Issues: []Issue{}, Suggestions: []string{}}

	for _, id := range DuplicateIDs(steps) {
		v.Issues = append(v.Issues, Issue{
			Kind:    IssueDuplicateStepID,
			Message: fmt.Sprintf("step id %s is used more than once", id),
			StepIDs: []string{id},
		})
	}

	if cycle := FindCycle(steps); len(cycle) > 0 {
		v.Issues = append(v.Issues, Issue{
			Kind:    IssueCycleDetected,
			Message: "circular dependencies detected: " + strings.Join(cycle, " -> "),
			StepIDs: cycle,
		})
		v.Suggestions = append(v.Suggestions, "remove one dependency from the cycle")
	}

	dangling := DanglingDependencies(steps)
	for i := range steps {
		for _, dep := range dangling[steps[i].ID] {
			v.Issues = append(v.Issues, Issue{
				Kind:    IssueDanglingDependency,
				Message: fmt.Sprintf("step %s depends on unknown step %s", steps[i].ID, dep),
				StepIDs: []string{steps[i].ID},
			})
		}
	}

	used := make(map[string]bool)
	for i := range steps {
		for _, b := range steps[i].Bindings {
			used[b.Endpoint] = true
		}
	}

	for _, src := range use {
		ep, ok := RequiredCapability(src)
		if !ok || used[ep] {
			continue
		}
		v.Issues = append(v.Issues, Issue{
			Kind:       IssueMissingCapability,
			Message:    fmt.Sprintf("%s requires %s, but no step calls it", SourceLabel(src), ep),
			Capability: src,
			Endpoint:   ep,
		})
		v.Suggestions = append(v.Suggestions, fmt.Sprintf("add a step bound to %s", ep))
	}

	for i := range steps {
		for _, b := range steps[i].Bindings {
			if IsAllowedEndpoint(b.Endpoint) {
				continue
			}
			v.Issues = append(v.Issues, Issue{
				Kind:     IssueUnknownBinding,
				Message:  fmt.Sprintf("step %s uses unknown endpoint %q", steps[i].ID, b.Endpoint),
				StepIDs:  []string{steps[i].ID},
				Endpoint: b.Endpoint,
			})
		}
	}

	for _, out := range outputKeys {
		label := OutputLabel(out)
		if anyStepMentions(steps, label) {
			continue
		}
		v.Issues = append(v.Issues, Issue{
			Kind:    IssueMissingOutput,
			Message: fmt.Sprintf("no step produces the requested %s", label),
			Output:  out,
		})
		v.Suggestions = append(v.Suggestions, fmt.Sprintf("add a generation step for the %s", label))
	}

	if want != "" && !anyStepMentions(steps, WantLabel(want)) {
		v.Suggestions = append(v.Suggestions, fmt.Sprintf("add a step that performs %q", WantLabel(want)))
	}

	if total := EstimateMinutes(steps); total > DurationBudgetMinutes {
		v.Suggestions = append(v.Suggestions, fmt.Sprintf(
			"estimated duration of %.0f minutes exceeds %d; consider splitting into sub-tasks",
			total, DurationBudgetMinutes))
	}

	v.IsValid = len(v.Issues) == 0
	return v
}

func anyStepMentions(steps []Step, label string) bool {
	for i := range steps {
		if mentions(steps[i].Title, label) || mentions(steps[i].Description, label) {
			return true
		}
	}
	return false
}

// DuplicateIDs returns the step IDs used by more than one step, in order of
// their second occurrence.
func DuplicateIDs(steps []Step) []string {
	seen := make(map[string]int, len(steps))
	var dups []string
	for i := range steps {
		seen[steps[i].ID]++
		if seen[steps[i].ID] == 2 {
			dups = append(dups, steps[i].ID)
		}
	}
	return dups
}
