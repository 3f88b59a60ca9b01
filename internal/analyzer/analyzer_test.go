package analyzer

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAnalyze_FlagsNowPlaceholder(t *testing.T) {
	r := Analyze("Built at {{now}}", nil)
	assert.True(t, r.HasCriticalIssues)
	assert.False(t, r.IsDeterministic)
}

func TestAnalyze_FlagsNewDate(t *testing.T) {
	r := Analyze("const t = new Date();", nil)
	assert.True(t, r.HasCriticalIssues)
}

func TestAnalyze_FlagsMathRandom(t *testing.T) {
	r := Analyze("const id = Math.random();", nil)
	assert.True(t, r.HasCriticalIssues)
}

func TestAnalyze_FlagsAwait(t *testing.T) {
	r := Analyze("await fetchUser();", nil)
	assert.True(t, r.HasCriticalIssues)
}

func TestAnalyze_CleanTemplateIsDeterministic(t *testing.T) {
	r := Analyze("Hello, {{name}}! {{#each items}}[{{this}}]{{/each}}", nil)
	assert.True(t, r.IsDeterministic)
	assert.False(t, r.HasCriticalIssues)
	assert.Empty(t, r.Issues)
}

func TestAnalyze_UnbalancedBraces(t *testing.T) {
	r := Analyze("Hello {{name", nil)
	assert.True(t, r.HasCriticalIssues)
	assert.False(t, r.IsValid)
}

func TestAnalyze_MismatchedBlock(t *testing.T) {
	r := Analyze("{{#each items}}{{this}}{{/if}}", nil)
	assert.True(t, r.HasCriticalIssues)
}

func TestAnalyze_UnknownHelperIsLowSeverity(t *testing.T) {
	r := Analyze("{{frobnicate data}}", nil)
	assert.False(t, r.HasCriticalIssues)
	assert.True(t, r.IsDeterministic)
	found := false
	for _, issue := range r.Issues {
		if issue.Rule == "unknown-helper" {
			found = true
			assert.Equal(t, SeverityLow, issue.Severity)
		}
	}
	assert.True(t, found)
}

func TestAnalyze_RegisteredHelperNotFlagged(t *testing.T) {
	r := Analyze("{{myHelper data}}", []string{"myHelper"})
	for _, issue := range r.Issues {
		assert.NotEqual(t, "unknown-helper", issue.Rule)
	}
}

func TestAnalyze_StandardHelperNotFlaggedAsUnknown(t *testing.T) {
	r := Analyze("{{stringify data}}", nil)
	for _, issue := range r.Issues {
		assert.NotEqual(t, "unknown-helper", issue.Rule)
	}
}

func TestAnalyze_FloatHazardIsMediumSeverity(t *testing.T) {
	r := Analyze("value is NaN", nil)
	assert.False(t, r.HasCriticalIssues)
	found := false
	for _, issue := range r.Issues {
		if issue.Rule == "float-hazard" {
			found = true
			assert.Equal(t, SeverityMedium, issue.Severity)
		}
	}
	assert.True(t, found)
}
