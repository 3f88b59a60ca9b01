// Package validation implements the Spec Validator (JSON-Schema, spec
// §4.4) and the Output Validator (per-language lint + auto-fix, spec
// §4.5).
package validation

import (
	"fmt"
	"regexp"
	"sync"

	"github.com/xeipuuv/gojsonschema"

	"github.com/specforge/specforge/internal/canon"
)

// FieldError is one validation failure, matching spec §4.4's {path,
// message, keyword, params} shape.
type FieldError struct {
	Path    string         `json:"path"`
	Message string         `json:"message"`
	Keyword string         `json:"keyword"`
	Params  map[string]any `json:"params"`
}

// SpecResult is the outcome of validating data against a schema.
type SpecResult struct {
	IsValid bool
	Errors  []FieldError
	Data    any
}

// SpecValidator validates arbitrary JSON data against JSON-Schema Draft-07
// schemas, with all-errors collection and custom formats registered once
// per process (gojsonschema's format registry is a package-level global).
type SpecValidator struct {
	mu    sync.Mutex
	cache map[string]*gojsonschema.Schema
}

var registerFormatsOnce sync.Once

// NewSpecValidator returns a validator with the spec's custom formats
// (uuid, semver, hostname, ipv4, and stricter email/url/date/time/
// date-time than gojsonschema ships) registered.
func NewSpecValidator() *SpecValidator {
	registerFormatsOnce.Do(registerCustomFormats)
	return &SpecValidator{cache: map[string]*gojsonschema.Schema{}}
}

// Validate checks data against schema. additionalProperties:false is
// enforced by gojsonschema natively; data is echoed back unchanged, never
// mutated, and schema defaults are never auto-applied (gojsonschema does
// not apply defaults, which matches the spec's fixed behavior knobs).
func (v *SpecValidator) Validate(data any, schema map[string]any) (*SpecResult, error) {
	compiled, err := v.Compile(schema)
	if err != nil {
		return nil, err
	}
	return v.ValidateCompiled(compiled, data)
}

// Compile returns a reusable *gojsonschema.Schema; identical schemas (by
// canonical-JSON hash) share the compiled instance.
func (v *SpecValidator) Compile(schema map[string]any) (*gojsonschema.Schema, error) {
	key, err := canon.Hash(schema)
	if err != nil {
		return nil, fmt.Errorf("validation: hashing schema: %w", err)
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	if c, ok := v.cache[key]; ok {
		return c, nil
	}

	loader := gojsonschema.NewGoLoader(schema)
	compiled, err := gojsonschema.NewSchema(loader)
	if err != nil {
		return nil, fmt.Errorf("validation: compiling schema: %w", err)
	}
	v.cache[key] = compiled
	return compiled, nil
}

// ValidateCompiled runs a previously compiled schema against data.
func (v *SpecValidator) ValidateCompiled(compiled *gojsonschema.Schema, data any) (*SpecResult, error) {
	result, err := compiled.Validate(gojsonschema.NewGoLoader(data))
	if err != nil {
		return nil, fmt.Errorf("validation: validating: %w", err)
	}

	out := &SpecResult{IsValid: result.Valid(), Data: data}
	for _, re := range result.Errors() {
		out.Errors = append(out.Errors, FieldError{
			Path:    re.Field(),
			Message: re.Description(),
			Keyword: re.Type(),
			Params:  re.Details(),
		})
	}
	return out, nil
}

// AddFormat registers a custom format checker under name, usable from any
// schema's "format" keyword from then on (gojsonschema's format registry
// is process-global, matching its own package design).
func (v *SpecValidator) AddFormat(name string, pattern *regexp.Regexp) {
	gojsonschema.FormatCheckers.Add(name, regexFormatChecker{pattern})
}

type regexFormatChecker struct{ pattern *regexp.Regexp }

func (c regexFormatChecker) IsFormat(input any) bool {
	s, ok := input.(string)
	if !ok {
		return true // non-strings are out of scope for a string format check
	}
	return c.pattern.MatchString(s)
}

var (
	emailPattern    = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)
	urlPattern      = regexp.MustCompile(`^https?://[^\s]+$`)
	uuidPattern     = regexp.MustCompile(`^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-4[0-9a-fA-F]{3}-[89abAB][0-9a-fA-F]{3}-[0-9a-fA-F]{12}$`)
	datePattern     = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)
	timePattern     = regexp.MustCompile(`^\d{2}:\d{2}:\d{2}(\.\d+)?(Z|[+-]\d{2}:\d{2})?$`)
	dateTimePattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}(\.\d+)?(Z|[+-]\d{2}:\d{2})?$`)
	semverPattern   = regexp.MustCompile(`^\d+\.\d+\.\d+(-[0-9A-Za-z.-]+)?(\+[0-9A-Za-z.-]+)?$`)
	hostnamePattern = regexp.MustCompile(`^[a-zA-Z0-9]([a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?(\.[a-zA-Z0-9]([a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?)*$`)
	ipv4Pattern     = regexp.MustCompile(`^(\d{1,3}\.){3}\d{1,3}$`)
)

func registerCustomFormats() {
	gojsonschema.FormatCheckers.
		Add("email", regexFormatChecker{emailPattern}).
		Add("url", regexFormatChecker{urlPattern}).
		Add("uuid", regexFormatChecker{uuidPattern}).
		Add("date", regexFormatChecker{datePattern}).
		Add("time", regexFormatChecker{timePattern}).
		Add("date-time", regexFormatChecker{dateTimePattern}).
		Add("semver", regexFormatChecker{semverPattern}).
		Add("hostname", regexFormatChecker{hostnamePattern}).
		Add("ipv4", regexFormatChecker{ipv4Pattern})
}
