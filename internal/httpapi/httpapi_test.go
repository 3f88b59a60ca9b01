package httpapi

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/specforge/specforge/internal/domain"
	"github.com/specforge/specforge/internal/errs"
	"github.com/specforge/specforge/internal/pipeline"
	"github.com/specforge/specforge/internal/registry"
)

type stubRunner struct {
	status domain.TraceStatus
	trace  []domain.StepRecord
	setup  func(rc *pipeline.RunContext)
}

func (r *stubRunner) Run(_ context.Context, rc *pipeline.RunContext, _ []domain.PipelineStepDef) ([]domain.StepRecord, domain.TraceStatus) {
	if r.setup != nil {
		r.setup(rc)
	}
	return r.trace, r.status
}

func testManifest(id string) domain.GeneratorManifest {
	return domain.GeneratorManifest{ID: id, Version: "1.0.0", DisplayName: "Widget", Capabilities: []string{"codegen"}}
}

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestServer_Health(t *testing.T) {
	s := NewServer(registry.NewCatalogue(), &stubRunner{}, "*", newLogger())
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
}

func TestServer_ListGenerators(t *testing.T) {
	cat := registry.NewCatalogue()
	require.NoError(t, cat.Register(&domain.Generator{Manifest: testManifest("hello")}))

	s := NewServer(cat, &stubRunner{}, "*", newLogger())
	req := httptest.NewRequest(http.MethodGet, "/api/generators", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Generators []domain.GeneratorSummary `json:"generators"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Generators, 1)
	assert.Equal(t, "hello", body.Generators[0].ID)
}

func TestServer_GetGeneratorFound(t *testing.T) {
	cat := registry.NewCatalogue()
	require.NoError(t, cat.Register(&domain.Generator{Manifest: testManifest("hello")}))

	s := NewServer(cat, &stubRunner{}, "*", newLogger())
	req := httptest.NewRequest(http.MethodGet, "/api/generators/hello", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Generator domain.GeneratorManifest `json:"generator"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "hello", body.Generator.ID)
}

func TestServer_GetGeneratorNotFound(t *testing.T) {
	s := NewServer(registry.NewCatalogue(), &stubRunner{}, "*", newLogger())
	req := httptest.NewRequest(http.MethodGet, "/api/generators/missing", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_GenerateMissingFieldsReturns400(t *testing.T) {
	s := NewServer(registry.NewCatalogue(), &stubRunner{}, "*", newLogger())
	req := httptest.NewRequest(http.MethodPost, "/api/generate", strings.NewReader(`{"generatorId":""}`))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_GenerateUnknownGeneratorReturns404(t *testing.T) {
	s := NewServer(registry.NewCatalogue(), &stubRunner{}, "*", newLogger())
	req := httptest.NewRequest(http.MethodPost, "/api/generate", strings.NewReader(`{"generatorId":"ghost","spec":{}}`))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_GenerateFailedPipelineReturns500(t *testing.T) {
	cat := registry.NewCatalogue()
	require.NoError(t, cat.Register(&domain.Generator{Manifest: testManifest("hello")}))

	runner := &stubRunner{status: domain.TraceFailed, trace: []domain.StepRecord{
		{StepID: "render", Status: domain.StepFailed, Error: "boom"},
	}}
	s := NewServer(cat, runner, "*", newLogger())
	req := httptest.NewRequest(http.MethodPost, "/api/generate", strings.NewReader(`{"generatorId":"hello","spec":{"name":"widget"}}`))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestServer_GenerateSuccessDefaultsTenant(t *testing.T) {
	cat := registry.NewCatalogue()
	require.NoError(t, cat.Register(&domain.Generator{Manifest: testManifest("hello")}))

	var observedTenant string
	runner := &stubRunner{
		status: domain.TraceSuccess,
		trace:  []domain.StepRecord{{StepID: "store", Status: domain.StepSuccess}},
		setup: func(rc *pipeline.RunContext) {
			observedTenant = rc.TenantID
			rc.Artifact = &domain.Artifact{ID: "artifact-1", Version: 1}
		},
	}
	s := NewServer(cat, runner, "*", newLogger())
	req := httptest.NewRequest(http.MethodPost, "/api/generate", strings.NewReader(`{"generatorId":"hello","spec":{"name":"widget"}}`))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "default", observedTenant)

	var body domain.GenerationResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "artifact-1", body.Artifact.ID)
}

func TestStatusForKind(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, statusForKind(errs.KindSpecInvalid))
	assert.Equal(t, http.StatusNotFound, statusForKind(errs.KindNotFound))
	assert.Equal(t, http.StatusConflict, statusForKind(errs.KindInProgress))
	assert.Equal(t, http.StatusInternalServerError, statusForKind(errs.KindStoreBackendError))
}
