package pipeline

import (
	"github.com/specforge/specforge/internal/sandbox"
	"github.com/specforge/specforge/internal/store"
	"github.com/specforge/specforge/internal/template"
	"github.com/specforge/specforge/internal/validation"
)

// Dependencies bundles every collaborator the default step executors need.
type Dependencies struct {
	Engine         *template.Engine
	SpecValidator  *validation.SpecValidator
	OutputValidator *validation.OutputValidator
	Store          store.ArtifactStore
	Sandbox        sandbox.Sandbox // optional; nil disables the sandbox-test step
}

// NewDefaultExecutor returns an Executor with every fixed step type
// registered against deps.
func NewDefaultExecutor(deps Dependencies) *Executor {
	e := NewExecutor()
	e.Register("validate-input", &ValidateInputStep{Validator: deps.SpecValidator})
	e.Register("resolve-templates", &ResolveTemplatesStep{})
	e.Register("render", &RenderStep{Engine: deps.Engine})
	e.Register("validate-output", &ValidateOutputStep{Validator: deps.OutputValidator})
	e.Register("autofix", &AutofixStep{Validator: deps.OutputValidator})
	e.Register("store", &StoreStep{Store: deps.Store})
	if deps.Sandbox != nil {
		e.Register("sandbox-test", &SandboxTestStep{Sandbox: deps.Sandbox})
	}
	return e
}
