// Package provenance implements the Provenance Tracker (spec.md §4.9): an
// accumulator that ties a produced artifact to the exact generator
// version, templates, helper set, and pipeline steps that produced it.
package provenance

import (
	"runtime"
	"time"

	"github.com/specforge/specforge/internal/domain"
	"github.com/specforge/specforge/internal/errs"
)

// Tracker accumulates one in-flight ProvenanceRecord. Not safe for
// concurrent use by multiple goroutines — one Tracker per generation run,
// matching one pipeline execution per request (spec.md §5).
type Tracker struct {
	artifactID       string
	specHash         string
	generatorVersion string
	helperVersions   []string
	templateInfos    []domain.TemplateInfo
	pipelineSteps    []string
	started          bool
}

// StartTracking initializes a pending record for artifactID/specHash.
func StartTracking(artifactID, specHash string) *Tracker {
	return &Tracker{artifactID: artifactID, specHash: specHash, started: true}
}

// SetArtifactID fills in the artifact identity once the Artifact Store has
// assigned (or been given) one — unknown at StartTracking time for a live
// run, since storage is the step after rendering.
func (t *Tracker) SetArtifactID(artifactID string) { t.artifactID = artifactID }

// SetSpecHash fills in the spec hash, computed by the store step from the
// canonical spec just before persisting.
func (t *Tracker) SetSpecHash(specHash string) { t.specHash = specHash }

// RecordGeneratorVersion sets the generator version that produced this run.
func (t *Tracker) RecordGeneratorVersion(version string) { t.generatorVersion = version }

// RecordHelperVersions appends the template-helper identifiers exercised
// during rendering.
func (t *Tracker) RecordHelperVersions(versions ...string) {
	t.helperVersions = append(t.helperVersions, versions...)
}

// RecordTemplateInfo appends one rendered template's provenance entry.
func (t *Tracker) RecordTemplateInfo(info domain.TemplateInfo) {
	t.templateInfos = append(t.templateInfos, info)
}

// RecordStep appends a pipeline step id to the executed-steps trail.
func (t *Tracker) RecordStep(stepID string) {
	t.pipelineSteps = append(t.pipelineSteps, stepID)
}

// GetCurrent returns the record accumulated so far, or nil until
// artifactId, specHash, and generatorVersion are all set.
func (t *Tracker) GetCurrent() *domain.ProvenanceRecord {
	if !t.ready() {
		return nil
	}
	rec := t.snapshot(domain.Environment{})
	return &rec
}

func (t *Tracker) ready() bool {
	return t.started && t.artifactID != "" && t.specHash != "" && t.generatorVersion != ""
}

// Finalize captures environment info — platform, arch, runtime version,
// timezone name, and timestamp — only at this point, since it is
// metadata, never a determinism input, and returns the completed record.
// It fails if artifactId, specHash, or generatorVersion is still unset.
func (t *Tracker) Finalize() (*domain.ProvenanceRecord, error) {
	if !t.ready() {
		return nil, errs.New(errs.KindRenderFailure, "cannot finalize provenance: artifactId, specHash, or generatorVersion missing")
	}

	now := time.Now().UTC()
	env := domain.Environment{
		Platform:       runtime.GOOS,
		Arch:           runtime.GOARCH,
		RuntimeVersion: runtime.Version(),
		TZName:         now.Location().String(),
		Timestamp:      now.Format(time.RFC3339),
	}
	rec := t.snapshot(env)
	rec.CreatedAt = now
	return &rec, nil
}

func (t *Tracker) snapshot(env domain.Environment) domain.ProvenanceRecord {
	return domain.ProvenanceRecord{
		ArtifactID:       t.artifactID,
		SpecHash:         t.specHash,
		GeneratorVersion: t.generatorVersion,
		HelperVersions:   append([]string(nil), t.helperVersions...),
		TemplateInfos:    append([]domain.TemplateInfo(nil), t.templateInfos...),
		PipelineSteps:    append([]string(nil), t.pipelineSteps...),
		Environment:      env,
	}
}
