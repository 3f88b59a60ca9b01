// Package template implements a Handlebars-compatible deterministic
// template engine: dot paths, "this", "@index"/"@last", and the
// {{#each}}/{{#if}}/{{#unless}}/{{#with}} block helpers, plus a fixed
// library of pure helper functions. No clock, no randomness, no I/O is
// reachable from a render — see internal/analyzer for a separate static
// checker that flags non-deterministic constructs in template source.
package template

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"sync"
)

// RenderResult is the output of Render: the rendered text and its SHA-256
// hash, computed so callers never hash twice.
type RenderResult struct {
	Content string
	Hash    string
}

// RenderOptions reserved for future per-render knobs; empty today.
type RenderOptions struct{}

// DeterminismResult is the output of CheckDeterminism.
type DeterminismResult struct {
	IsDeterministic bool
	Outputs         []string
	Hash            string
	Failures        []string
}

// Compiled is a parsed template ready to render against any context.
type Compiled struct {
	nodes []Node
}

// Engine compiles and renders templates against a helper registry.
// Helper registries are per-engine; mutating them concurrently with a
// live Render is the caller's responsibility to avoid (per spec §5,
// mutation is permitted only during engine setup).
type Engine struct {
	mu      sync.RWMutex
	helpers map[string]HelperFunc
}

// NewEngine returns an Engine pre-loaded with the standard helper library.
func NewEngine() *Engine {
	return &Engine{helpers: DefaultHelpers()}
}

// Compile parses template source into a Compiled template. It fails with
// *TemplateSyntaxError on unbalanced {{…}} spans or mismatched block
// open/close pairs.
func (e *Engine) Compile(source string) (*Compiled, error) {
	nodes, err := parse(source)
	if err != nil {
		return nil, err
	}
	return &Compiled{nodes: nodes}, nil
}

// Render compiles and renders template in one step against context,
// returning the rendered content and its SHA-256 hash. It fails with
// *TemplateSyntaxError on a malformed template, or *InvalidContextError
// if context is not a keyed mapping or contains a reference cycle.
func (e *Engine) Render(templateSource string, context any, _ *RenderOptions) (*RenderResult, error) {
	compiled, err := e.Compile(templateSource)
	if err != nil {
		return nil, err
	}
	return e.RenderCompiled(compiled, context)
}

// RenderCompiled renders an already-compiled template, skipping the parse
// step — useful when the same template is rendered against many contexts
// (e.g. CheckDeterminism's N iterations).
func (e *Engine) RenderCompiled(compiled *Compiled, context any) (*RenderResult, error) {
	if err := validateContext(context); err != nil {
		return nil, err
	}

	root := &scope{value: context}
	var buf strings.Builder
	if err := e.render(&buf, compiled.nodes, root); err != nil {
		return nil, err
	}

	content := buf.String()
	sum := sha256.Sum256([]byte(content))
	return &RenderResult{Content: content, Hash: hex.EncodeToString(sum[:])}, nil
}

// RegisterHelper adds or replaces a single helper.
func (e *Engine) RegisterHelper(name string, fn HelperFunc) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.helpers[name] = fn
}

// RegisterHelpers adds or replaces multiple helpers at once.
func (e *Engine) RegisterHelpers(fns map[string]HelperFunc) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for name, fn := range fns {
		e.helpers[name] = fn
	}
}

// ClearHelpers removes every registered helper, including the standard
// library. Callers that want the defaults back must RegisterHelpers(DefaultHelpers()).
func (e *Engine) ClearHelpers() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.helpers = map[string]HelperFunc{}
}

func (e *Engine) lookupHelper(name string) (HelperFunc, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	fn, ok := e.helpers[name]
	return fn, ok
}

// HelperNames returns the currently registered helper names, used by the
// analyzer to distinguish unknown-helper warnings from built-ins.
func (e *Engine) HelperNames() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	names := make([]string, 0, len(e.helpers))
	for n := range e.helpers {
		names = append(names, n)
	}
	return names
}

// CheckDeterminism renders template against context N times (default 10
// when n<=0) and reports whether every output was byte-identical. A
// render failure on any iteration is recorded as a failure and that
// iteration is excluded from the output-identity comparison.
func (e *Engine) CheckDeterminism(templateSource string, context any, n int) (*DeterminismResult, error) {
	if n <= 0 {
		n = 10
	}

	compiled, err := e.Compile(templateSource)
	if err != nil {
		return nil, err
	}

	result := &DeterminismResult{IsDeterministic: true}
	for i := 0; i < n; i++ {
		r, err := e.RenderCompiled(compiled, context)
		if err != nil {
			result.Failures = append(result.Failures, err.Error())
			result.IsDeterministic = false
			continue
		}
		result.Outputs = append(result.Outputs, r.Content)
	}

	if len(result.Outputs) > 0 {
		first := result.Outputs[0]
		for _, o := range result.Outputs[1:] {
			if o != first {
				result.IsDeterministic = false
				break
			}
		}
		sum := sha256.Sum256([]byte(first))
		result.Hash = hex.EncodeToString(sum[:])
	} else {
		result.IsDeterministic = false
	}

	if len(result.Failures) > 0 {
		result.IsDeterministic = false
	}

	return result, nil
}
