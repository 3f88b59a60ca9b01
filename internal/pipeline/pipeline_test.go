package pipeline

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/specforge/specforge/internal/domain"
	"github.com/specforge/specforge/internal/errs"
	"github.com/specforge/specforge/internal/store"
	"github.com/specforge/specforge/internal/template"
	"github.com/specforge/specforge/internal/validation"
)

func helloGenerator() *domain.Generator {
	return &domain.Generator{
		Manifest: domain.GeneratorManifest{
			ID:      "hello",
			Version: "1.0.0",
			Outputs: []domain.OutputSpec{
				{Name: "main", Path: "main.go", Template: "package main\n// {{spec.name}}\n", Language: "go"},
			},
			Capabilities: []string{"codegen"},
		},
	}
}

func newTestDeps() Dependencies {
	return Dependencies{
		Engine:          template.NewEngine(),
		SpecValidator:   validation.NewSpecValidator(),
		OutputValidator: validation.NewOutputValidator(),
		Store:           store.NewMemoryArtifactStore(),
	}
}

func newRunContext(gen *domain.Generator) *RunContext {
	return &RunContext{
		GenerationContext: &domain.GenerationContext{
			GeneratorID: gen.Manifest.ID,
			TenantID:    "default",
			Spec:        map[string]any{"name": "widget"},
			Options:     map[string]any{},
			Generator:   gen,
		},
	}
}

func TestExecutor_SpecFieldsResolveAtRootAndUnderSpecNamespace(t *testing.T) {
	gen := &domain.Generator{
		Manifest: domain.GeneratorManifest{
			ID:      "hello",
			Version: "1.0.0",
			Outputs: []domain.OutputSpec{
				{Name: "main", Path: "hello.txt", Template: "Hello, {{name}}! (Hello, {{spec.name}}!)", Language: "text"},
			},
			Capabilities: []string{"codegen"},
		},
	}
	rc := &RunContext{
		GenerationContext: &domain.GenerationContext{
			GeneratorID: gen.Manifest.ID,
			TenantID:    "default",
			Spec:        map[string]any{"name": "World"},
			Options:     map[string]any{},
			Generator:   gen,
		},
	}

	exec := NewDefaultExecutor(newTestDeps())
	trace, status := exec.Run(context.Background(), rc, DefaultSteps())
	require.Equal(t, domain.TraceSuccess, status, trace)

	require.Len(t, rc.Files, 1)
	assert.Equal(t, "Hello, World! (Hello, World!)", rc.Files[0].Content)
}

func TestExecutor_DefaultPipelineSucceeds(t *testing.T) {
	exec := NewDefaultExecutor(newTestDeps())
	rc := newRunContext(helloGenerator())

	trace, status := exec.Run(context.Background(), rc, DefaultSteps())
	require.Equal(t, domain.TraceSuccess, status)
	for _, rec := range trace {
		assert.Equal(t, domain.StepSuccess, rec.Status, rec.StepID)
	}
	require.NotNil(t, rc.Artifact)
	assert.Equal(t, 1, rc.Artifact.Version)
}

func TestExecutor_MissingExecutorFailsStep(t *testing.T) {
	exec := NewExecutor() // nothing registered
	rc := newRunContext(helloGenerator())

	trace, status := exec.Run(context.Background(), rc, DefaultSteps())
	require.Equal(t, domain.TraceFailed, status)
	require.Len(t, trace, 1)
	assert.Equal(t, domain.StepFailed, trace[0].Status)
	assert.Contains(t, trace[0].Error, "no executor registered")
}

func TestExecutor_RequiredStepFailureStopsPipeline(t *testing.T) {
	exec := NewDefaultExecutor(newTestDeps())
	exec.Register("render", StepExecutorFunc(func(ctx context.Context, rc *RunContext, step domain.PipelineStepDef) (any, error) {
		return nil, errs.New(errs.KindRenderFailure, "boom")
	}))

	rc := newRunContext(helloGenerator())
	trace, status := exec.Run(context.Background(), rc, DefaultSteps())

	require.Equal(t, domain.TraceFailed, status)
	// validate-input, resolve-templates, render(failed) — store never runs.
	require.Len(t, trace, 3)
	assert.Equal(t, "render", trace[2].StepID)
	assert.Equal(t, domain.StepFailed, trace[2].Status)
}

func TestExecutor_OptionalStepFailureYieldsPartial(t *testing.T) {
	exec := NewDefaultExecutor(newTestDeps())
	exec.Register("autofix", StepExecutorFunc(func(ctx context.Context, rc *RunContext, step domain.PipelineStepDef) (any, error) {
		return nil, errs.New(errs.KindOutputInvalid, "autofix boom")
	}))

	rc := newRunContext(helloGenerator())
	trace, status := exec.Run(context.Background(), rc, DefaultSteps())

	assert.Equal(t, domain.TracePartial, status)
	require.Len(t, trace, len(DefaultSteps()))
}

func TestExecutor_PanickingExecutorConvertsToFailedStep(t *testing.T) {
	exec := NewExecutor()
	exec.Register("validate-input", StepExecutorFunc(func(ctx context.Context, rc *RunContext, step domain.PipelineStepDef) (any, error) {
		panic("unexpected")
	}))

	rc := newRunContext(helloGenerator())
	trace, status := exec.Run(context.Background(), rc, []domain.PipelineStepDef{
		{ID: "validate-input", Type: "validate-input", Required: true},
	})

	require.Equal(t, domain.TraceFailed, status)
	require.Len(t, trace, 1)
	assert.Contains(t, trace[0].Error, "panicked")
}

func TestExecutor_CustomStepDispatchesByStepID(t *testing.T) {
	exec := NewExecutor()
	called := false
	exec.RegisterCustom("my-custom-step", StepExecutorFunc(func(ctx context.Context, rc *RunContext, step domain.PipelineStepDef) (any, error) {
		called = true
		return nil, nil
	}))

	rc := newRunContext(helloGenerator())
	_, status := exec.Run(context.Background(), rc, []domain.PipelineStepDef{
		{ID: "my-custom-step", Type: "custom", Required: true},
	})

	assert.Equal(t, domain.TraceSuccess, status)
	assert.True(t, called)
}

func TestExecutor_AttachesProvenanceToStoredArtifact(t *testing.T) {
	exec := NewDefaultExecutor(newTestDeps())
	rc := newRunContext(helloGenerator())

	_, status := exec.Run(context.Background(), rc, DefaultSteps())
	require.Equal(t, domain.TraceSuccess, status)

	require.NotNil(t, rc.Artifact)
	prov := rc.Artifact.Metadata.Provenance
	require.NotNil(t, prov)
	assert.Equal(t, rc.Artifact.ID, prov.ArtifactID)
	assert.Equal(t, rc.Artifact.Metadata.SpecHash, prov.SpecHash)
	assert.Equal(t, "1.0.0", prov.GeneratorVersion)
	assert.Equal(t, "1.0.0", rc.Artifact.Metadata.GeneratorVersion)
	assert.NotEmpty(t, prov.HelperVersions)
	assert.Len(t, prov.TemplateInfos, 1)
	assert.Contains(t, prov.PipelineSteps, "render")
}

func TestDeriveIdempotencyKey_OrderIndependentOptionsStillStable(t *testing.T) {
	k1, err := DeriveIdempotencyKey("hello", map[string]any{"name": "widget"}, map[string]any{"a": 1, "b": 2})
	require.NoError(t, err)
	k2, err := DeriveIdempotencyKey("hello", map[string]any{"name": "widget"}, map[string]any{"b": 2, "a": 1})
	require.NoError(t, err)
	assert.Equal(t, k1, k2)
}
