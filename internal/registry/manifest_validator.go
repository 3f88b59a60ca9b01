package registry

import (
	"fmt"

	"github.com/specforge/specforge/internal/domain"
	"github.com/specforge/specforge/internal/semverx"
)

// ManifestErrorCode is one of the fixed codes a ManifestValidator can emit.
type ManifestErrorCode string

const (
	CodeInvalidType          ManifestErrorCode = "INVALID_TYPE"
	CodeMissingRequiredField ManifestErrorCode = "MISSING_REQUIRED_FIELD"
	CodeInvalidArrayLength   ManifestErrorCode = "INVALID_ARRAY_LENGTH"
	CodeInvalidEnumValue     ManifestErrorCode = "INVALID_ENUM_VALUE"
)

// ManifestError is one structural defect found in a raw manifest.
type ManifestError struct {
	Path    string
	Message string
	Code    ManifestErrorCode
}

// ManifestValidationResult is the outcome of validating a manifest.
type ManifestValidationResult struct {
	Valid  bool
	Errors []ManifestError
}

// ManifestValidator checks a GeneratorManifest's structural invariants
// (spec §3): non-empty id, parseable version, non-empty outputs, non-empty
// capabilities, every output carries {name,path,template}, every pipeline
// step declares {id,type∈fixed-set,required}.
type ManifestValidator struct{}

// NewManifestValidator returns a stateless validator.
func NewManifestValidator() *ManifestValidator { return &ManifestValidator{} }

// Validate checks m's structural invariants.
func (mv *ManifestValidator) Validate(m domain.GeneratorManifest) ManifestValidationResult {
	var errs []ManifestError

	if m.ID == "" {
		errs = append(errs, ManifestError{Path: "id", Message: "id must not be empty", Code: CodeMissingRequiredField})
	}
	if m.Version == "" {
		errs = append(errs, ManifestError{Path: "version", Message: "version must not be empty", Code: CodeMissingRequiredField})
	} else if _, err := semverx.Parse(m.Version); err != nil {
		errs = append(errs, ManifestError{Path: "version", Message: fmt.Sprintf("version is not valid semver: %v", err), Code: CodeInvalidType})
	}
	if len(m.Outputs) == 0 {
		errs = append(errs, ManifestError{Path: "outputs", Message: "outputs must not be empty", Code: CodeInvalidArrayLength})
	}
	if len(m.Capabilities) == 0 {
		errs = append(errs, ManifestError{Path: "capabilities", Message: "capabilities must not be empty", Code: CodeInvalidArrayLength})
	}

	for i, o := range m.Outputs {
		if o.Name == "" {
			errs = append(errs, ManifestError{Path: fmt.Sprintf("outputs[%d].name", i), Message: "name is required", Code: CodeMissingRequiredField})
		}
		if o.Path == "" {
			errs = append(errs, ManifestError{Path: fmt.Sprintf("outputs[%d].path", i), Message: "path is required", Code: CodeMissingRequiredField})
		}
		if o.Template == "" {
			errs = append(errs, ManifestError{Path: fmt.Sprintf("outputs[%d].template", i), Message: "template is required", Code: CodeMissingRequiredField})
		}
	}

	for i, step := range m.Pipeline {
		if step.ID == "" {
			errs = append(errs, ManifestError{Path: fmt.Sprintf("pipeline[%d].id", i), Message: "id is required", Code: CodeMissingRequiredField})
		}
		if step.Type == "" {
			errs = append(errs, ManifestError{Path: fmt.Sprintf("pipeline[%d].type", i), Message: "type is required", Code: CodeMissingRequiredField})
		} else if !domain.FixedStepTypes[step.Type] {
			errs = append(errs, ManifestError{Path: fmt.Sprintf("pipeline[%d].type", i), Message: fmt.Sprintf("unknown step type %q", step.Type), Code: CodeInvalidEnumValue})
		}
	}

	return ManifestValidationResult{Valid: len(errs) == 0, Errors: errs}
}
