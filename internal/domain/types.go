// Package domain holds the entity types shared across the Generator
// Registry, Pipeline Executor, Artifact Store, and Provenance Tracker, so
// those packages can depend on a common vocabulary without importing one
// another directly (spec §3).
package domain

import "time"

// GeneratorManifest is the declarative description of a generator.
type GeneratorManifest struct {
	ID            string            `json:"id"`
	Version       string            `json:"version"`
	DisplayName   string            `json:"displayName"`
	Description   string            `json:"description"`
	InputSchema   map[string]any    `json:"inputSchema"`
	Outputs       []OutputSpec      `json:"outputs"`
	EntryTemplate string            `json:"entryTemplate"`
	Capabilities  []string          `json:"capabilities"`
	Helpers       []string          `json:"helpers,omitempty"`
	Tests         []string          `json:"tests,omitempty"`
	Security      map[string]any    `json:"security,omitempty"`
	Pipeline      []PipelineStepDef `json:"pipeline,omitempty"`
	Compatibility map[string]string `json:"compatibility,omitempty"` // runtime -> constraint
}

// OutputSpec is one entry in GeneratorManifest.Outputs.
type OutputSpec struct {
	Name     string `json:"name"`
	Path     string `json:"path"`
	Template string `json:"template"`
	Language string `json:"language,omitempty"`
}

// PipelineStepDef is one manifest-declared pipeline step.
type PipelineStepDef struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Required bool   `json:"required"`
}

// FixedStepTypes is the closed set of step types a manifest may declare.
var FixedStepTypes = map[string]bool{
	"validate-input":   true,
	"resolve-templates": true,
	"render":           true,
	"validate-output":  true,
	"autofix":          true,
	"sandbox-test":     true,
	"store":            true,
	"custom":           true,
}

// GeneratorVersion is the stored record for one (generatorId, version) pair.
type GeneratorVersion struct {
	GeneratorID   string
	Version       string
	Manifest      GeneratorManifest
	ManifestHash  string
	RegisteredAt  time.Time
	DeprecatedAt  *time.Time
}

// GeneratedFile is one file produced by a generation run.
type GeneratedFile struct {
	Path     string `json:"path"`
	Content  string `json:"content"`
	Language string `json:"language"`
	Hash     string `json:"hash"`
	Size     int    `json:"size"`
}

// ArtifactMetadata is the per-artifact metadata envelope.
type ArtifactMetadata struct {
	ArtifactID       string         `json:"artifactId"`
	GeneratorID      string         `json:"generatorId"`
	GeneratorVersion string         `json:"generatorVersion"`
	TenantID         string         `json:"tenantId"`
	CreatedAt        time.Time      `json:"createdAt"`
	Spec             any            `json:"spec"`
	SpecHash         string         `json:"specHash"`
	ManifestHash     string         `json:"manifestHash,omitempty"`
	Provenance       *ProvenanceRecord `json:"provenance,omitempty"`
}

// Artifact is an immutable, versioned bundle of generated files plus metadata.
type Artifact struct {
	ID          string           `json:"id"`
	Version     int              `json:"version"`
	Metadata    ArtifactMetadata `json:"metadata"`
	Files       []GeneratedFile  `json:"files"`
	ContentHash string           `json:"contentHash"`
	CreatedAt   time.Time        `json:"createdAt"`
	UpdatedAt   time.Time        `json:"updatedAt"`
	Size        int              `json:"size"`
}

// IdempotencyStatus is one of the three states an idempotency key record
// transitions through.
type IdempotencyStatus string

const (
	IdempotencyPending   IdempotencyStatus = "pending"
	IdempotencyCompleted IdempotencyStatus = "completed"
	IdempotencyFailed    IdempotencyStatus = "failed"
)

// IdempotencyKeyRecord tracks one in-flight or completed StoreArtifact call.
type IdempotencyKeyRecord struct {
	ID          string
	Key         string
	GeneratorID string
	TenantID    string
	Status      IdempotencyStatus
	ArtifactID  string
	Error       string
	CreatedAt   time.Time
	ExpiresAt   time.Time
}

// TemplateInfo is one template's entry in a ProvenanceRecord.
type TemplateInfo struct {
	Path            string `json:"path"`
	Hash            string `json:"hash"`
	IsDeterministic bool   `json:"isDeterministic"`
}

// Environment captures where a generation run executed; metadata only,
// never a determinism input.
type Environment struct {
	Platform       string `json:"platform"`
	Arch           string `json:"arch"`
	RuntimeVersion string `json:"runtimeVersion"`
	TZName         string `json:"tzName"`
	Timestamp      string `json:"timestamp"`
}

// ProvenanceRecord ties an artifact to the exact inputs and environment
// that produced it.
type ProvenanceRecord struct {
	ArtifactID      string         `json:"artifactId"`
	SpecHash        string         `json:"specHash"`
	GeneratorVersion string        `json:"generatorVersion"`
	HelperVersions  []string       `json:"helperVersions"`
	TemplateInfos   []TemplateInfo `json:"templateInfos"`
	PipelineSteps   []string       `json:"pipelineSteps"`
	Environment     Environment    `json:"environment"`
	CreatedAt       time.Time      `json:"createdAt"`
	Signature       string         `json:"signature,omitempty"`
}

// UpgradeInfo is the result of CheckUpgrade.
type UpgradeInfo struct {
	CurrentVersion string `json:"currentVersion"`
	LatestVersion  string `json:"latestVersion"`
	IsAvailable    bool   `json:"isAvailable"`
	IsCompatible   bool   `json:"isCompatible"`
}

// GenerationContext is the input threaded through the Pipeline Executor.
type GenerationContext struct {
	GeneratorID string
	TenantID    string
	Spec        any
	Options     map[string]any
	Generator   *Generator
	Artifacts   []GeneratedFile
}

// Generator is the runtime binding of a manifest to a generate capability.
type Generator struct {
	Manifest GeneratorManifest
	Generate func(ctx *GenerationContext) (*GenerationResult, error)
}

// GenerationResult is what a successful pipeline run produces.
type GenerationResult struct {
	Artifact   Artifact
	Trace      []StepRecord
	Provenance ProvenanceRecord
}

// StepStatus is the outcome of one pipeline step.
type StepStatus string

const (
	StepSuccess StepStatus = "success"
	StepFailed  StepStatus = "failed"
	StepSkipped StepStatus = "skipped"
)

// StepRecord is the trace entry for one executed pipeline step.
type StepRecord struct {
	StepID   string        `json:"stepId"`
	Type     string        `json:"type"`
	Status   StepStatus    `json:"status"`
	Duration time.Duration `json:"duration"`
	Error    string        `json:"error,omitempty"`
	Output   any           `json:"output,omitempty"`
}

// TraceStatus is the overall verdict for a pipeline run.
type TraceStatus string

const (
	TraceSuccess TraceStatus = "success"
	TraceFailed  TraceStatus = "failed"
	TracePartial TraceStatus = "partial"
)

// GeneratorSummary is the catalogue-listing projection of a Generator.
type GeneratorSummary struct {
	ID           string   `json:"id"`
	Version      string   `json:"version"`
	DisplayName  string   `json:"displayName"`
	Description  string   `json:"description"`
	Capabilities []string `json:"capabilities"`
	Deprecated   bool     `json:"deprecated"`
}
