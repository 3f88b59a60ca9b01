package pipeline

import (
	"context"

	"github.com/specforge/specforge/internal/domain"
	"github.com/specforge/specforge/internal/errs"
	"github.com/specforge/specforge/internal/sandbox"
)

// SandboxTestStep runs the generated files through the sandbox
// collaborator, failing the step on a non-zero exit code.
type SandboxTestStep struct {
	Sandbox sandbox.Sandbox
	Command []string
	Config  sandbox.ExecutionConfig
}

func (s *SandboxTestStep) Execute(ctx context.Context, rc *RunContext, _ domain.PipelineStepDef) (any, error) {
	files := make([]sandbox.File, 0, len(rc.Files))
	for _, f := range rc.Files {
		files = append(files, sandbox.File{Path: f.Path, Content: []byte(f.Content)})
	}

	result, err := s.Sandbox.Run(ctx, s.Command, s.Config, files)
	if err != nil {
		return nil, err
	}
	if result.ExitCode != 0 {
		return nil, errs.New(errs.KindOutputInvalid, "sandbox test exited non-zero")
	}
	return map[string]any{"exitCode": result.ExitCode}, nil
}
