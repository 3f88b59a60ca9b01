package template

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRender_HelloWorld(t *testing.T) {
	e := NewEngine()
	r, err := e.Render("Hello, {{name}}!", map[string]any{"name": "World"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "Hello, World!", r.Content)
}

func TestRender_Each(t *testing.T) {
	e := NewEngine()
	r, err := e.Render(
		"{{#each items}}[{{this}}]{{/each}}",
		map[string]any{"items": []any{"a", "b", "c"}},
		nil,
	)
	require.NoError(t, err)
	assert.Equal(t, "[a][b][c]", r.Content)
}

func TestRender_EachIndexAndLast(t *testing.T) {
	e := NewEngine()
	r, err := e.Render(
		"{{#each items}}{{@index}}:{{this}}{{#unless @last}},{{/unless}}{{/each}}",
		map[string]any{"items": []any{"x", "y", "z"}},
		nil,
	)
	require.NoError(t, err)
	assert.Equal(t, "0:x,1:y,2:z", r.Content)
}

func TestRender_IfElse(t *testing.T) {
	e := NewEngine()
	r, err := e.Render("{{#if flag}}yes{{else}}no{{/if}}", map[string]any{"flag": true}, nil)
	require.NoError(t, err)
	assert.Equal(t, "yes", r.Content)

	r, err = e.Render("{{#if flag}}yes{{else}}no{{/if}}", map[string]any{"flag": false}, nil)
	require.NoError(t, err)
	assert.Equal(t, "no", r.Content)
}

func TestRender_With(t *testing.T) {
	e := NewEngine()
	r, err := e.Render(
		"{{#with user}}{{name}}{{/with}}",
		map[string]any{"user": map[string]any{"name": "Ada"}},
		nil,
	)
	require.NoError(t, err)
	assert.Equal(t, "Ada", r.Content)
}

func TestRender_DotPath(t *testing.T) {
	e := NewEngine()
	r, err := e.Render(
		"{{user.profile.email}}",
		map[string]any{"user": map[string]any{"profile": map[string]any{"email": "a@b.com"}}},
		nil,
	)
	require.NoError(t, err)
	assert.Equal(t, "a@b.com", r.Content)
}

func TestCompile_UnbalancedBraces(t *testing.T) {
	e := NewEngine()
	_, err := e.Compile("Hello {{name")
	require.Error(t, err)
	var synErr *TemplateSyntaxError
	assert.ErrorAs(t, err, &synErr)
}

func TestCompile_MismatchedBlock(t *testing.T) {
	e := NewEngine()
	_, err := e.Compile("{{#each items}}{{this}}{{/if}}")
	require.Error(t, err)
	var synErr *TemplateSyntaxError
	assert.ErrorAs(t, err, &synErr)
}

func TestCompile_UnclosedBlock(t *testing.T) {
	e := NewEngine()
	_, err := e.Compile("{{#each items}}{{this}}")
	require.Error(t, err)
}

func TestRender_InvalidContextNotKeyedMapping(t *testing.T) {
	e := NewEngine()
	_, err := e.Render("{{x}}", []any{1, 2, 3}, nil)
	require.Error(t, err)
	var ctxErr *InvalidContextError
	assert.ErrorAs(t, err, &ctxErr)
}

func TestRender_CycleDetected(t *testing.T) {
	e := NewEngine()
	cyclic := map[string]any{}
	cyclic["self"] = cyclic
	_, err := e.Render("{{x}}", cyclic, nil)
	require.Error(t, err)
	var ctxErr *InvalidContextError
	assert.ErrorAs(t, err, &ctxErr)
}

func TestHelpers_StringifySortedKeys(t *testing.T) {
	e := NewEngine()
	r, err := e.Render(
		`Data: {{stringify data}} / {{#each data.items}}[{{this}}]{{/each}}`,
		map[string]any{"data": map[string]any{"items": []any{"first", "second", "third"}, "name": "test"}},
		nil,
	)
	require.NoError(t, err)
	assert.Contains(t, r.Content, `"items":["first","second","third"]`)
	assert.Contains(t, r.Content, `[first][second][third]`)
}

func TestHelpers_CaseConversion(t *testing.T) {
	e := NewEngine()
	r, err := e.Render("{{pascalcase name}} {{snakecase name}} {{kebabcase name}}",
		map[string]any{"name": "hello world"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "HelloWorld hello_world hello-world", r.Content)
}

func TestHelpers_TruncateAccountsForEllipsis(t *testing.T) {
	e := NewEngine()
	r, err := e.Render(`{{truncate s 5}}`, map[string]any{"s": "abcdefgh"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "abcd…", r.Content)
	assert.Len(t, []rune(r.Content), 5)
}

func TestHelpers_NeverPanicOnMalformedInput(t *testing.T) {
	e := NewEngine()
	r, err := e.Render(`{{add a b}}`, map[string]any{"a": "not-a-number", "b": nil}, nil)
	require.NoError(t, err)
	assert.Equal(t, "0", r.Content)
}

func TestCheckDeterminism_ByteIdenticalOutputs(t *testing.T) {
	e := NewEngine()
	tmpl := "Data: {{stringify data}} / {{#each data.items}}[{{this}}]{{/each}}"
	ctx := map[string]any{"data": map[string]any{"items": []any{"first", "second", "third"}, "name": "test"}}

	result, err := e.CheckDeterminism(tmpl, ctx, 10)
	require.NoError(t, err)
	assert.True(t, result.IsDeterministic)
	assert.Empty(t, result.Failures)
	assert.Len(t, result.Outputs, 10)
	for _, o := range result.Outputs[1:] {
		assert.Equal(t, result.Outputs[0], o)
	}
}

func TestRegisterHelper_OverridesDefault(t *testing.T) {
	e := NewEngine()
	e.RegisterHelper("uppercase", func(args ...any) any { return "OVERRIDDEN" })
	r, err := e.Render("{{uppercase name}}", map[string]any{"name": "x"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "OVERRIDDEN", r.Content)
}

func TestClearHelpers_UnknownHelperYieldsEmpty(t *testing.T) {
	e := NewEngine()
	e.ClearHelpers()
	r, err := e.Render("[{{uppercase name}}]", map[string]any{"name": "x"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "[]", r.Content)
}
