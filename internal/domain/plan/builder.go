package plan

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// BuildRequest is the intent vocabulary a plan is built from.
type BuildRequest struct {
	Want    string   `json:"want"`
	Use     []string `json:"use"`
	Make    []string `json:"make"`
	Subject string   `json:"subject"`
	Prompt  string   `json:"prompt"`
}

// BuildOptions tunes plan construction.
type BuildOptions struct {
	Provider     string `json:"provider,omitempty"`
	Model        string `json:"model,omitempty"`
	MaxSteps     int    `json:"max_steps,omitempty"`
	AutoValidate bool   `json:"auto_validate"`
}

// Builder turns intents into dependency-ordered plans. It performs no I/O;
// the only side effects are ID and timestamp generation.
type Builder struct {
	newID func() string
	now   func() time.Time
}

// NewBuilder creates a Builder using random UUIDs and the wall clock.
func NewBuilder() *Builder {
	return &Builder{newID: uuid.NewString, now: time.Now}
}

// Build synthesizes the step list for req, validates it, and, when
// AutoValidate is set and the plan is invalid, refines it once and
// validates again.
func (b *Builder) Build(req BuildRequest, opts BuildOptions) *Plan {
	steps := buildSteps(req)

	p := &Plan{
		ID:          b.newID(),
		Title:       planTitle(req),
		Description: planDescription(req),
		Want:        req.Want,
		Use:         append([]string(nil), req.Use...),
		Make:        append([]string(nil), req.Make...),
		Subject:     req.Subject,
		Prompt:      req.Prompt,
		Provider:    opts.Provider,
		Model:       opts.Model,
		Steps:       steps,
		CreatedAt:   b.now(),
	}

	v := validateWithBudget(p.Steps, req, opts.MaxSteps)
	if opts.AutoValidate && !v.IsValid {
		p.Steps = Refine(p.Steps, v)
		v = validateWithBudget(p.Steps, req, opts.MaxSteps)
	}
	p.Validation = &v
	p.EstimatedMinutes = EstimateMinutes(p.Steps)
	return p
}

func validateWithBudget(steps []Step, req BuildRequest, maxSteps int) Validation {
	v := Validate(steps, req.Want, req.Use, req.Make)
	if maxSteps > 0 && len(steps) > maxSteps {
		v.Issues = append(v.Issues, Issue{
			Kind:    IssueTooManySteps,
			Message: fmt.Sprintf("plan has %d steps, exceeds maximum of %d", len(steps), maxSteps),
		})
		v.Suggestions = append(v.Suggestions, "reduce the requested sources or outputs")
		v.IsValid = false
	}
	return v
}

// stepList accumulates steps in emission order.
type stepList struct {
	steps []Step
}

func (l *stepList) emit(kind StepKind, title, desc string, prio Priority, bindings []Binding, deps []string) string {
	id := fmt.Sprintf("step-%d", len(l.steps)+1)
	if deps == nil {
		deps = []string{}
	}
	l.steps = append(l.steps, Step{
		ID:                id,
		Kind:              kind,
		Title:             title,
		Description:       desc,
		Status:            StepStatusPending,
		Priority:          prio,
		Dependencies:      deps,
		Bindings:          bindings,
		EstimatedDuration: kindDurations[kind],
	})
	return id
}

// lastBound returns the most recently emitted step that has bindings.
func (l *stepList) lastBound() []string {
	for i := len(l.steps) - 1; i >= 0; i-- {
		if l.steps[i].HasBindings() {
			return []string{l.steps[i].ID}
		}
	}
	return nil
}

func (l *stepList) allBound() []string {
	var ids []string
	for i := range l.steps {
		if l.steps[i].HasBindings() {
			ids = append(ids, l.steps[i].ID)
		}
	}
	return ids
}

func (l *stepList) last() []string {
	if len(l.steps) == 0 {
		return nil
	}
	return []string{l.steps[len(l.steps)-1].ID}
}

func buildSteps(req BuildRequest) []Step {
	l := &stepList{}
	subject := req.Subject
	if subject == "" {
		subject = "the topic"
	}

	var researchIDs []string
	for _, src := range req.Use {
		label := SourceLabel(src)
		researchIDs = append(researchIDs, l.emit(KindResearch,
			"Research "+label,
			fmt.Sprintf("Collect material on %s from %s", subject, label),
			PriorityHigh,
			[]Binding{{Endpoint: sourceEndpoint(src), Params: map[string]any{"source": src}}},
			nil,
		))
	}

	if len(researchIDs) > 0 {
		l.emit(KindAggregate,
			"Aggregate and deduplicate results",
			"Merge research results and remove duplicate entries",
			PriorityMedium,
			[]Binding{{Endpoint: EndpointAggregate}},
			append([]string(nil), researchIDs...),
		)
	}

	switch WantCategory(req.Want) {
	case CategoryAnalysis:
		l.emit(KindAnalysis, "Analyze data",
			fmt.Sprintf("Explore and clean the data gathered for %s", subject),
			PriorityMedium, []Binding{{Endpoint: EndpointAnalyze}}, l.lastBound())
		l.emit(KindAnalysis, "Compute statistics",
			"Run descriptive and inferential statistics on the analyzed data",
			PriorityMedium, []Binding{{Endpoint: EndpointStatistics}}, l.lastBound())
	case CategoryWriting:
		l.emit(KindAnalysis, "Review source material",
			fmt.Sprintf("Read and annotate the source material on %s", subject),
			PriorityMedium, []Binding{{Endpoint: EndpointReview}}, l.lastBound())
	}

	wantLabel := WantLabel(req.Want)
	actionDesc := fmt.Sprintf("%s for %s", wantLabel, subject)
	if p := strings.TrimSpace(req.Prompt); p != "" {
		actionDesc += ": " + p
	}
	l.emit(KindAction, wantLabel, actionDesc, PriorityHigh,
		[]Binding{{Endpoint: wantEndpoint(req.Want), Params: map[string]any{"want": req.Want}}},
		l.allBound())

	for _, out := range req.Make {
		label := OutputLabel(out)
		for _, stage := range outputStages(out) {
			l.emit(KindOutput, stage.title,
				fmt.Sprintf("Produce the %s (%s)", label, stage.phase),
				PriorityMedium,
				[]Binding{{Endpoint: EndpointGenerate, Params: map[string]any{"format": out, "phase": stage.phase}}},
				l.last())
		}
	}

	l.emit(KindQualityCheck, "Quality check",
		"Check accuracy, citations and completeness of the produced content",
		PriorityLow, []Binding{{Endpoint: EndpointQualityCheck}}, l.last())
	l.emit(KindPackage, "Package and deliver",
		"Bundle the deliverables for download",
		PriorityLow, []Binding{{Endpoint: EndpointExport}}, l.last())

	return l.steps
}

func planTitle(req BuildRequest) string {
	label := WantLabel(req.Want)
	if req.Subject == "" {
		return label
	}
	return label + ": " + req.Subject
}

func planDescription(req BuildRequest) string {
	if p := strings.TrimSpace(req.Prompt); p != "" {
		return p
	}
	return planTitle(req)
}
