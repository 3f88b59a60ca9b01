// Package httpapi implements the thin HTTP surface documented in spec.md
// §6: health, generator listing/lookup, and the generate endpoint. It is
// deliberately not the core of the system (spec.md §1) — a request here
// does nothing the Generator Registry and Pipeline Executor don't already
// do — so the handlers are kept to request decode, dispatch, and error-kind
// to status-code mapping, matching the shape of the teacher's
// internal/mcp/http.go (CORS header helper, writeJSON/writeJSONError,
// body-size limit via io.LimitReader, a bare health handler).
package httpapi

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/specforge/specforge/internal/domain"
	"github.com/specforge/specforge/internal/errs"
	"github.com/specforge/specforge/internal/pipeline"
	"github.com/specforge/specforge/internal/registry"
)

// maxGenerateBody bounds the size of a POST /api/generate request body.
const maxGenerateBody = 10 * 1024 * 1024 // 10MB

// Runner executes a generator's pipeline for one request. Kept as a
// narrow interface so the HTTP layer doesn't need the full wiring
// (template engine, stores, sandbox) that builds an *pipeline.Executor.
type Runner interface {
	Run(ctx context.Context, rc *pipeline.RunContext, steps []domain.PipelineStepDef) ([]domain.StepRecord, domain.TraceStatus)
}

// Server wires the Generator Registry and a pipeline Runner onto the four
// routes of spec.md §6.
type Server struct {
	catalogue *registry.Catalogue
	runner    Runner
	cors      string
	logger    *slog.Logger
}

// NewServer returns a Server. corsOrigins is "*" or a comma-separated
// allow-list, matching the teacher's CORS handling.
func NewServer(catalogue *registry.Catalogue, runner Runner, corsOrigins string, logger *slog.Logger) *Server {
	return &Server{catalogue: catalogue, runner: runner, cors: corsOrigins, logger: logger}
}

// Handler returns the mux for the four documented routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /api/generators", s.handleListGenerators)
	mux.HandleFunc("GET /api/generators/{id}", s.handleGetGenerator)
	mux.HandleFunc("POST /api/generate", s.handleGenerate)
	return s.withCORS(mux)
}

func (s *Server) withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.setCORS(w, r)
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) setCORS(w http.ResponseWriter, r *http.Request) {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return
	}
	if s.cors == "*" {
		w.Header().Set("Access-Control-Allow-Origin", "*")
	} else {
		for _, allowed := range strings.Split(s.cors, ",") {
			if strings.TrimSpace(allowed) == origin {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				break
			}
		}
	}
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleListGenerators(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{"generators": s.catalogue.ListSummaries()})
}

func (s *Server) handleGetGenerator(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	g := s.catalogue.Get(id, "")
	if g == nil {
		s.writeError(w, errs.New(errs.KindNotFound, "generator "+id+" not found"))
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"generator": g.Manifest})
}

// generateRequest is the POST /api/generate body (spec.md §6).
type generateRequest struct {
	GeneratorID string `json:"generatorId"`
	Spec        any    `json:"spec"`
	TenantID    string `json:"tenantId"`
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxGenerateBody))
	if err != nil {
		s.writeError(w, errs.Wrap(errs.KindSpecInvalid, "reading request body", err))
		return
	}
	defer r.Body.Close()

	var req generateRequest
	if err := json.Unmarshal(body, &req); err != nil {
		s.writeError(w, errs.Wrap(errs.KindSpecInvalid, "decoding request body", err))
		return
	}
	if req.GeneratorID == "" || req.Spec == nil {
		s.writeError(w, errs.New(errs.KindSpecInvalid, "generatorId and spec are required"))
		return
	}
	tenantID := req.TenantID
	if tenantID == "" {
		tenantID = "default"
	}

	generator := s.catalogue.Get(req.GeneratorID, "")
	if generator == nil {
		s.writeError(w, errs.New(errs.KindUnknownGenerator, "generator "+req.GeneratorID+" not found"))
		return
	}

	rc := &pipeline.RunContext{
		GenerationContext: &domain.GenerationContext{
			GeneratorID: req.GeneratorID,
			TenantID:    tenantID,
			Spec:        req.Spec,
			Options:     map[string]any{},
			Generator:   generator,
		},
	}

	steps := generator.Manifest.Pipeline
	if len(steps) == 0 {
		steps = pipeline.DefaultSteps()
	}

	trace, status := s.runner.Run(r.Context(), rc, steps)
	if status == domain.TraceFailed {
		s.logger.Warn("generation failed", "generator_id", req.GeneratorID, "tenant_id", tenantID)
		s.writeError(w, errs.New(errs.KindRenderFailure, "generation failed: "+lastError(trace)))
		return
	}

	result := domain.GenerationResult{Trace: trace}
	if rc.Artifact != nil {
		result.Artifact = *rc.Artifact
		if rc.Artifact.Metadata.Provenance != nil {
			result.Provenance = *rc.Artifact.Metadata.Provenance
		}
	}
	s.writeJSON(w, http.StatusOK, result)
}

func lastError(trace []domain.StepRecord) string {
	for i := len(trace) - 1; i >= 0; i-- {
		if trace[i].Status == domain.StepFailed {
			return trace[i].Error
		}
	}
	return "unknown error"
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("failed to write JSON response", "error", err)
	}
}

// writeError maps an error's errs.Kind to an HTTP status per spec.md §7:
// validation/input -> 400, unknown -> 404, conflict/in-progress -> 409,
// everything else -> 500.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := statusForKind(errs.KindOf(err))
	s.writeJSON(w, status, map[string]string{"error": err.Error()})
}

func statusForKind(kind errs.Kind) int {
	switch kind {
	case errs.KindSpecInvalid, errs.KindManifestInvalid, errs.KindOutputInvalid:
		return http.StatusBadRequest
	case errs.KindUnknownGenerator, errs.KindNotFound:
		return http.StatusNotFound
	case errs.KindConflict, errs.KindInProgress, errs.KindAlreadyRegistered:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
