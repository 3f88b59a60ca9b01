// Package pipeline implements the Pipeline Executor (spec.md §4.7): an
// ordered, instrumented run of a generator's declared (or default) step
// list, producing a StepRecord per step and an overall trace status.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/specforge/specforge/internal/domain"
	"github.com/specforge/specforge/internal/errs"
	"github.com/specforge/specforge/internal/provenance"
)

// StepExecutor runs one pipeline step against the shared RunContext,
// returning a JSON-serializable output summary or an error.
type StepExecutor interface {
	Execute(ctx context.Context, rc *RunContext, step domain.PipelineStepDef) (any, error)
}

// StepExecutorFunc adapts a plain function to StepExecutor.
type StepExecutorFunc func(ctx context.Context, rc *RunContext, step domain.PipelineStepDef) (any, error)

func (f StepExecutorFunc) Execute(ctx context.Context, rc *RunContext, step domain.PipelineStepDef) (any, error) {
	return f(ctx, rc, step)
}

// resolvedOutput is one manifest output resolved to its template source,
// produced by the resolve-templates step and consumed by render.
type resolvedOutput struct {
	Path     string
	Source   string
	Language string
}

// RunContext is the mutable state threaded through one pipeline run,
// wrapping the caller-supplied GenerationContext with the transient data
// steps pass to one another.
type RunContext struct {
	*domain.GenerationContext
	Resolved   []resolvedOutput
	Files      []domain.GeneratedFile
	IdempotencyKey string
	Artifact   *domain.Artifact
	Provenance ProvenanceRecorder
}

// ProvenanceRecorder is the minimal surface pipeline needs from
// internal/provenance.Tracker, kept as an interface here even though
// provenance depends on nothing in pipeline — the one-directional
// collaborator-interface matches the teacher's style, and it lets tests
// substitute a recording stub without a real Tracker.
type ProvenanceRecorder interface {
	SetArtifactID(artifactID string)
	SetSpecHash(specHash string)
	RecordGeneratorVersion(version string)
	RecordHelperVersions(versions ...string)
	RecordTemplateInfo(info domain.TemplateInfo)
	RecordStep(stepID string)
	Finalize() (*domain.ProvenanceRecord, error)
}

// DefaultSteps is the fixed 6-stage pipeline used when a manifest
// declares no explicit Pipeline (spec.md §4.7). Every step is required
// except autofix.
func DefaultSteps() []domain.PipelineStepDef {
	return []domain.PipelineStepDef{
		{ID: "validate-input", Type: "validate-input", Required: true},
		{ID: "resolve-templates", Type: "resolve-templates", Required: true},
		{ID: "render", Type: "render", Required: true},
		{ID: "validate-output", Type: "validate-output", Required: true},
		{ID: "autofix", Type: "autofix", Required: false},
		{ID: "store", Type: "store", Required: true},
	}
}

// Executor dispatches pipeline steps by type to registered StepExecutors.
type Executor struct {
	executors map[string]StepExecutor
	custom    map[string]StepExecutor // keyed by step id, for type "custom"
}

// NewExecutor returns an Executor with no registered step types.
func NewExecutor() *Executor {
	return &Executor{executors: map[string]StepExecutor{}, custom: map[string]StepExecutor{}}
}

// Register binds an executor to a fixed step type.
func (e *Executor) Register(stepType string, ex StepExecutor) {
	e.executors[stepType] = ex
}

// RegisterCustom binds an executor to one specific "custom"-typed step id.
func (e *Executor) RegisterCustom(stepID string, ex StepExecutor) {
	e.custom[stepID] = ex
}

// Run executes steps in order against rc, producing a trace and an
// overall TraceStatus per spec.md §4.7's status rules. A Tracker is
// attached to rc.Provenance for the duration of the run unless the caller
// already supplied one, so every run's artifact ends up with a populated
// ProvenanceRecord (spec.md §2, §4.9) — artifactId and specHash are filled
// in later by the store step, once they're known.
func (e *Executor) Run(ctx context.Context, rc *RunContext, steps []domain.PipelineStepDef) ([]domain.StepRecord, domain.TraceStatus) {
	if rc.Provenance == nil {
		rc.Provenance = provenance.StartTracking("", "")
	}
	if rc.Generator != nil {
		rc.Provenance.RecordGeneratorVersion(rc.Generator.Manifest.Version)
	}

	var trace []domain.StepRecord
	anyRequiredFailed := false
	anyOptionalSkippedOrFailed := false

	for _, step := range steps {
		record, status := e.runStep(ctx, rc, step)
		trace = append(trace, record)
		if rc.Provenance != nil {
			rc.Provenance.RecordStep(step.ID)
		}

		if status == domain.StepFailed {
			if step.Required {
				anyRequiredFailed = true
				break // remaining steps are NOT executed
			}
			anyOptionalSkippedOrFailed = true
		} else if status == domain.StepSkipped {
			if !step.Required {
				anyOptionalSkippedOrFailed = true
			}
		}
	}

	switch {
	case anyRequiredFailed:
		return trace, domain.TraceFailed
	case anyOptionalSkippedOrFailed:
		return trace, domain.TracePartial
	default:
		return trace, domain.TraceSuccess
	}
}

func (e *Executor) runStep(ctx context.Context, rc *RunContext, step domain.PipelineStepDef) (domain.StepRecord, domain.StepStatus) {
	ex := e.lookup(step)
	start := time.Now()

	if ex == nil {
		rec := domain.StepRecord{
			StepID: step.ID, Type: step.Type, Status: domain.StepFailed,
			Duration: time.Since(start),
			Error:    fmt.Sprintf("no executor registered for step type %q", step.Type),
		}
		return rec, domain.StepFailed
	}

	output, err := e.safeExecute(ctx, ex, rc, step)
	duration := time.Since(start)

	if err != nil {
		return domain.StepRecord{
			StepID: step.ID, Type: step.Type, Status: domain.StepFailed,
			Duration: duration, Error: err.Error(),
		}, domain.StepFailed
	}

	return domain.StepRecord{
		StepID: step.ID, Type: step.Type, Status: domain.StepSuccess,
		Duration: duration, Output: output,
	}, domain.StepSuccess
}

// safeExecute converts an executor panic into a failed-step error rather
// than propagating it (spec.md §4.7: "Executor implementations that throw
// are caught and converted to failed with the thrown error preserved").
func (e *Executor) safeExecute(ctx context.Context, ex StepExecutor, rc *RunContext, step domain.PipelineStepDef) (output any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errs.New(errs.KindRenderFailure, fmt.Sprintf("step %s panicked: %v", step.ID, r))
		}
	}()
	return ex.Execute(ctx, rc, step)
}

func (e *Executor) lookup(step domain.PipelineStepDef) StepExecutor {
	if step.Type == "custom" {
		return e.custom[step.ID]
	}
	return e.executors[step.Type]
}
