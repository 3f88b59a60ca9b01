package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSpecValidator_EnumPatternLengthRange(t *testing.T) {
	v := NewSpecValidator()
	schema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"role":  map[string]any{"type": "string", "enum": []any{"admin", "user"}},
			"code":  map[string]any{"type": "string", "pattern": "^[A-Z]{3}$"},
			"name":  map[string]any{"type": "string", "minLength": 2, "maxLength": 5},
			"count": map[string]any{"type": "number", "minimum": 0, "maximum": 10},
		},
		"required": []any{"role"},
	}

	result, err := v.Validate(map[string]any{
		"role":  "owner",
		"code":  "ab",
		"name":  "x",
		"count": 100,
	}, schema)
	require.NoError(t, err)
	assert.False(t, result.IsValid)
	assert.NotEmpty(t, result.Errors)
}

func TestSpecValidator_UUIDFormatRequiresV4Shape(t *testing.T) {
	v := NewSpecValidator()
	schema := map[string]any{
		"type":       "object",
		"properties": map[string]any{"id": map[string]any{"type": "string", "format": "uuid"}},
	}

	result, err := v.Validate(map[string]any{"id": "9c858f5b-dd45-4cf4-8a7c-3f6f1a0f2b9e"}, schema)
	require.NoError(t, err)
	assert.True(t, result.IsValid)

	result, err = v.Validate(map[string]any{"id": "9c858f5b-dd45-1cf4-0a7c-3f6f1a0f2b9e"}, schema)
	require.NoError(t, err)
	assert.False(t, result.IsValid, "version nibble 1 and variant nibble 0 are not a v4 UUID")
}

func TestSpecValidator_AdditionalPropertiesFalse(t *testing.T) {
	v := NewSpecValidator()
	schema := map[string]any{
		"type":                 "object",
		"properties":           map[string]any{"a": map[string]any{"type": "string"}},
		"additionalProperties": false,
	}
	result, err := v.Validate(map[string]any{"a": "x", "b": "unexpected"}, schema)
	require.NoError(t, err)
	assert.False(t, result.IsValid)
}

func TestSpecValidator_NestedRequired(t *testing.T) {
	v := NewSpecValidator()
	schema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"user": map[string]any{
				"type":       "object",
				"properties": map[string]any{"email": map[string]any{"type": "string"}},
				"required":   []any{"email"},
			},
		},
		"required": []any{"user"},
	}
	result, err := v.Validate(map[string]any{"user": map[string]any{}}, schema)
	require.NoError(t, err)
	assert.False(t, result.IsValid)
	assert.NotEmpty(t, result.Errors)
}

func TestSpecValidator_DataEchoedUnchanged(t *testing.T) {
	v := NewSpecValidator()
	schema := map[string]any{"type": "object"}
	data := map[string]any{"x": 1}
	result, err := v.Validate(data, schema)
	require.NoError(t, err)
	assert.Equal(t, data, result.Data)
}

func TestSpecValidator_CompileSharesInstanceForIdenticalSchema(t *testing.T) {
	v := NewSpecValidator()
	schema := map[string]any{"type": "string"}
	c1, err := v.Compile(schema)
	require.NoError(t, err)
	c2, err := v.Compile(schema)
	require.NoError(t, err)
	assert.Same(t, c1, c2)
}

func TestOutputValidator_JSONParseSucceeds(t *testing.T) {
	v := NewOutputValidator()
	result := v.Validate(`{"a":1}`, "json")
	assert.True(t, result.IsValid)
}

func TestOutputValidator_JSONParseFails(t *testing.T) {
	v := NewOutputValidator()
	result := v.Validate(`{"a":`, "json")
	assert.False(t, result.IsValid)
}

func TestOutputValidator_YAMLTabsAreCritical(t *testing.T) {
	v := NewOutputValidator()
	result := v.Validate("key:\n\tvalue: 1", "yaml")
	assert.False(t, result.IsValid)
}

func TestOutputValidator_Autofix_EndToEndScenario(t *testing.T) {
	v := NewOutputValidator()
	input := "var x = 10;\nconsole.log(x);   "
	result := v.Autofix(input, "javascript")

	assert.True(t, result.Success)
	assert.Contains(t, result.Fixed, "const ")
	assert.NotContains(t, result.Fixed, "var ")
	assert.NotContains(t, result.Fixed, "console.log")
	for _, line := range splitLines(result.Fixed) {
		assert.Equal(t, line, trimRight(line))
	}
	assert.GreaterOrEqual(t, len(result.Changes), 3)
}

func splitLines(s string) []string {
	var lines []string
	cur := ""
	for _, r := range s {
		if r == '\n' {
			lines = append(lines, cur)
			cur = ""
			continue
		}
		cur += string(r)
	}
	lines = append(lines, cur)
	return lines
}

func trimRight(s string) string {
	i := len(s)
	for i > 0 && (s[i-1] == ' ' || s[i-1] == '\t') {
		i--
	}
	return s[:i]
}

func TestOutputValidator_CustomRuleReplacesDefault(t *testing.T) {
	v := NewOutputValidator()
	called := false
	v.RegisterRule("javascript", func(content string) []OutputIssue {
		called = true
		return nil
	})
	v.Validate("var x = 1;", "javascript")
	assert.True(t, called)
}

func TestOutputValidator_PythonBraceImbalance(t *testing.T) {
	v := NewOutputValidator()
	result := v.Validate("def f(:\n    pass", "python")
	assert.False(t, result.IsValid)
}
