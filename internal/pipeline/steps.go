package pipeline

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/specforge/specforge/internal/canon"
	"github.com/specforge/specforge/internal/domain"
	"github.com/specforge/specforge/internal/errs"
	"github.com/specforge/specforge/internal/store"
	"github.com/specforge/specforge/internal/template"
	"github.com/specforge/specforge/internal/validation"
)

// ValidateInputStep validates the run's spec against the generator's
// inputSchema "when the schema declares constraints; otherwise succeed"
// (spec.md §4.7).
type ValidateInputStep struct {
	Validator *validation.SpecValidator
}

func (s *ValidateInputStep) Execute(_ context.Context, rc *RunContext, _ domain.PipelineStepDef) (any, error) {
	schema := rc.Generator.Manifest.InputSchema
	if len(schema) == 0 {
		return map[string]any{"skipped": "no input schema declared"}, nil
	}

	result, err := s.Validator.Validate(rc.Spec, schema)
	if err != nil {
		return nil, errs.Wrap(errs.KindSpecInvalid, "validating spec", err)
	}
	if !result.IsValid {
		return nil, errs.New(errs.KindSpecInvalid, "spec failed input schema validation")
	}
	return map[string]any{"valid": true}, nil
}

// ResolveTemplatesStep reads outputs[] from the manifest and resolves each
// to its template source and target language.
type ResolveTemplatesStep struct{}

func (s *ResolveTemplatesStep) Execute(_ context.Context, rc *RunContext, _ domain.PipelineStepDef) (any, error) {
	outputs := rc.Generator.Manifest.Outputs
	rc.Resolved = make([]resolvedOutput, 0, len(outputs))
	for _, o := range outputs {
		rc.Resolved = append(rc.Resolved, resolvedOutput{Path: o.Path, Source: o.Template, Language: o.Language})
	}
	return map[string]any{"resolved": len(rc.Resolved)}, nil
}

// RenderStep invokes the Template Engine for every resolved output.
type RenderStep struct {
	Engine *template.Engine
}

func (s *RenderStep) Execute(_ context.Context, rc *RunContext, _ domain.PipelineStepDef) (any, error) {
	// Fields of the spec are addressable both at the root (spec.md §8
	// scenario 1: template "Hello, {{name}}!" against spec {name:"World"})
	// and under "spec."/"options." namespaces, for templates that prefer
	// to disambiguate from option values of the same name.
	renderContext := map[string]any{"spec": rc.Spec, "options": rc.Options}
	if specFields, ok := rc.Spec.(map[string]any); ok {
		for k, v := range specFields {
			renderContext[k] = v
		}
	}

	if rc.Provenance != nil {
		rc.Provenance.RecordHelperVersions(s.Engine.HelperNames()...)
	}

	rc.Files = make([]domain.GeneratedFile, 0, len(rc.Resolved))
	for _, ro := range rc.Resolved {
		result, err := s.Engine.Render(ro.Source, renderContext, nil)
		if err != nil {
			return nil, errs.Wrap(errs.KindRenderFailure, "rendering "+ro.Path, err)
		}

		language := ro.Language
		if language == "" {
			language = languageFromPath(ro.Path)
		}

		rc.Files = append(rc.Files, domain.GeneratedFile{
			Path:     ro.Path,
			Content:  result.Content,
			Language: language,
			Hash:     result.Hash,
			Size:     len(result.Content),
		})

		if rc.Provenance != nil {
			det, detErr := s.Engine.CheckDeterminism(ro.Source, renderContext, 3)
			isDeterministic := detErr == nil && det != nil && det.IsDeterministic
			rc.Provenance.RecordTemplateInfo(domain.TemplateInfo{Path: ro.Path, Hash: result.Hash, IsDeterministic: isDeterministic})
		}
	}
	return map[string]any{"filesRendered": len(rc.Files)}, nil
}

func languageFromPath(path string) string {
	ext := strings.TrimPrefix(filepath.Ext(path), ".")
	switch ext {
	case "js", "mjs", "cjs":
		return "javascript"
	case "ts", "tsx":
		return "typescript"
	case "py":
		return "python"
	case "yml", "yaml":
		return "yaml"
	case "":
		return "text"
	default:
		return ext
	}
}

// ValidateOutputStep runs the Output Validator against every produced
// file, keyed by its language.
type ValidateOutputStep struct {
	Validator *validation.OutputValidator
}

func (s *ValidateOutputStep) Execute(_ context.Context, rc *RunContext, _ domain.PipelineStepDef) (any, error) {
	var invalid []string
	for _, f := range rc.Files {
		result := s.Validator.Validate(f.Content, f.Language)
		if !result.IsValid {
			invalid = append(invalid, f.Path)
		}
	}
	if len(invalid) > 0 {
		return nil, errs.New(errs.KindOutputInvalid, "output validation failed for: "+strings.Join(invalid, ", "))
	}
	return map[string]any{"filesValidated": len(rc.Files)}, nil
}

// AutofixStep attempts auto-fix on every produced file, updating content
// in place (spec.md §4.7 step 5, optional).
type AutofixStep struct {
	Validator *validation.OutputValidator
}

func (s *AutofixStep) Execute(_ context.Context, rc *RunContext, _ domain.PipelineStepDef) (any, error) {
	fixed := 0
	for i, f := range rc.Files {
		result := s.Validator.Autofix(f.Content, f.Language)
		if result.Success && result.Fixed != f.Content {
			rc.Files[i].Content = result.Fixed
			rc.Files[i].Size = len(result.Fixed)
			fixed++
		}
	}
	return map[string]any{"filesFixed": fixed}, nil
}

// StoreStep persists the run's files via the Artifact Store, keyed by the
// idempotency key derived from (generatorId, spec, options).
type StoreStep struct {
	Store store.ArtifactStore
}

func (s *StoreStep) Execute(ctx context.Context, rc *RunContext, _ domain.PipelineStepDef) (any, error) {
	idempotencyKey := rc.IdempotencyKey
	if idempotencyKey == "" {
		key, err := DeriveIdempotencyKey(rc.GeneratorID, rc.Spec, rc.Options)
		if err != nil {
			return nil, err
		}
		idempotencyKey = key
	}

	// The artifact's identity is minted here rather than left to the store
	// to assign, so the Provenance Tracker can be finalized (it needs
	// artifactId and specHash) before the artifact is persisted with its
	// record attached. The store still honors this ID as the versioning
	// key — a duplicate idempotency key short-circuits to the existing
	// artifact before this ID is ever used.
	artifactID := uuid.NewString()

	artifact := domain.Artifact{
		ID: artifactID,
		Metadata: domain.ArtifactMetadata{
			ArtifactID:       artifactID,
			GeneratorID:      rc.GeneratorID,
			GeneratorVersion: rc.Generator.Manifest.Version,
			TenantID:         rc.TenantID,
			Spec:             rc.Spec,
		},
		Files: rc.Files,
	}

	specHash, err := canon.Hash(rc.Spec)
	if err != nil {
		return nil, errs.Wrap(errs.KindStoreBackendError, "hashing spec", err)
	}
	artifact.Metadata.SpecHash = specHash

	if rc.Provenance != nil {
		rc.Provenance.SetArtifactID(artifactID)
		rc.Provenance.SetSpecHash(specHash)
		if rec, err := rc.Provenance.Finalize(); err == nil {
			artifact.Metadata.Provenance = rec
		}
	}

	stored, err := s.Store.StoreArtifact(ctx, artifact, idempotencyKey)
	if err != nil {
		return nil, err
	}
	rc.Artifact = stored
	return map[string]any{"artifactId": stored.ID, "version": stored.Version}, nil
}

// DeriveIdempotencyKey computes SHA-256(canonical-JSON({generatorId, spec,
// options})) per spec.md §3.
func DeriveIdempotencyKey(generatorID string, spec any, options map[string]any) (string, error) {
	payload := map[string]any{"generatorId": generatorID, "spec": spec, "options": options}
	hash, err := canon.Hash(payload)
	if err != nil {
		return "", errs.Wrap(errs.KindStoreBackendError, "deriving idempotency key", err)
	}
	return hash, nil
}
