package template

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
)

// RenderError describes a render failure. The engine does not return it:
// helpers return a safe empty value on malformed input, unresolved paths
// render as empty, and context-shape failures are reported as
// *InvalidContextError.
type RenderError struct {
	Message string
}

func (e *RenderError) Error() string { return "render error: " + e.Message }

// InvalidContextError is returned when the render context is not a keyed
// mapping, or contains a reference cycle.
type InvalidContextError struct {
	Message string
}

func (e *InvalidContextError) Error() string { return "invalid context: " + e.Message }

// scope is one frame of the rendering stack. value is the current "this".
// index/last/hasIndex describe the nearest enclosing {{#each}} iteration.
type scope struct {
	value    any
	parent   *scope
	index    int
	last     bool
	hasIndex bool
}

func (s *scope) child(value any) *scope {
	return &scope{value: value, parent: s}
}

func (s *scope) childIndexed(value any, index int, last bool) *scope {
	return &scope{value: value, parent: s, index: index, last: last, hasIndex: true}
}

// render walks nodes, writing output into buf, resolving paths/helpers
// against scope and the helper registry.
func (e *Engine) render(buf *strings.Builder, nodes []Node, sc *scope) error {
	for _, n := range nodes {
		if err := e.renderNode(buf, n, sc); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) renderNode(buf *strings.Builder, n Node, sc *scope) error {
	switch node := n.(type) {
	case TextNode:
		buf.WriteString(node.Value)
		return nil

	case ExprNode:
		v := e.eval(node.Expr, sc)
		buf.WriteString(stringify(v))
		return nil

	case IfNode:
		v := e.eval(node.Expr, sc)
		if truthy(v) {
			return e.render(buf, node.Body, sc)
		}
		return e.render(buf, node.Else, sc)

	case UnlessNode:
		v := e.eval(node.Expr, sc)
		if !truthy(v) {
			return e.render(buf, node.Body, sc)
		}
		return nil

	case WithNode:
		v := e.eval(node.Expr, sc)
		if !truthy(v) {
			return nil
		}
		return e.render(buf, node.Body, sc.child(v))

	case EachNode:
		v := e.eval(node.Expr, sc)
		items, ok := toSlice(v)
		if !ok || len(items) == 0 {
			return e.render(buf, node.Inverse, sc)
		}
		for i, item := range items {
			child := sc.childIndexed(item, i, i == len(items)-1)
			if err := e.render(buf, node.Body, child); err != nil {
				return err
			}
		}
		return nil

	default:
		return fmt.Errorf("template: unknown node type %T", n)
	}
}

// eval resolves an Expr to a value. Path resolution and helper lookup
// failures both degrade to nil rather than aborting the render — only
// validateContext (called once, before rendering starts) can fail the
// whole render.
func (e *Engine) eval(expr Expr, sc *scope) any {
	switch ex := expr.(type) {
	case PathExpr:
		return resolvePath(sc, ex.Path)
	case StringLit:
		return ex.Value
	case NumberLit:
		return ex.Value
	case BoolLit:
		return ex.Value
	case CallExpr:
		args := make([]any, 0, len(ex.Args))
		for _, a := range ex.Args {
			args = append(args, e.eval(a, sc))
		}
		fn, ok := e.lookupHelper(ex.Name)
		if !ok {
			return ""
		}
		return safeInvoke(fn, args)
	default:
		return nil
	}
}

// safeInvoke calls a helper and recovers from panics, per the contract
// that helpers never abort a render — malformed input yields a safe
// empty value instead.
func safeInvoke(fn HelperFunc, args []any) (result any) {
	defer func() {
		if recover() != nil {
			result = ""
		}
	}()
	return fn(args...)
}

// resolvePath resolves a dot-path against the scope chain. "this",
// "@index", and "@last" are special; everything else is navigated
// segment by segment, falling back to parent scopes (Handlebars-style)
// when the first segment isn't found in the current scope.
func resolvePath(sc *scope, path string) any {
	switch path {
	case "this":
		if sc == nil {
			return nil
		}
		return sc.value
	case "@index":
		return indexFromScope(sc)
	case "@last":
		return lastFromScope(sc)
	}

	segments := strings.Split(path, ".")
	for s := sc; s != nil; s = s.parent {
		if v, ok := navigate(s.value, segments); ok {
			return v
		}
	}
	return nil
}

func indexFromScope(sc *scope) any {
	for s := sc; s != nil; s = s.parent {
		if s.hasIndex {
			return s.index
		}
	}
	return nil
}

func lastFromScope(sc *scope) any {
	for s := sc; s != nil; s = s.parent {
		if s.hasIndex {
			return s.last
		}
	}
	return nil
}

func navigate(root any, segments []string) (any, bool) {
	cur := root
	for _, seg := range segments {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		v, exists := m[seg]
		if !exists {
			return nil, false
		}
		cur = v
	}
	return cur, true
}

func toSlice(v any) ([]any, bool) {
	switch s := v.(type) {
	case []any:
		return s, true
	case nil:
		return nil, false
	default:
		rv := reflect.ValueOf(v)
		if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
			return nil, false
		}
		out := make([]any, rv.Len())
		for i := range out {
			out[i] = rv.Index(i).Interface()
		}
		return out, true
	}
}

func truthy(v any) bool {
	switch x := v.(type) {
	case nil:
		return false
	case bool:
		return x
	case string:
		return x != ""
	case float64:
		return x != 0
	case int:
		return x != 0
	default:
		if items, ok := toSlice(v); ok {
			return len(items) > 0
		}
		if m, ok := v.(map[string]any); ok {
			return len(m) > 0
		}
		return true
	}
}

// stringify renders any resolved value as the text inserted at an
// {{expr}} span.
func stringify(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case bool:
		return strconv.FormatBool(x)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case int:
		return strconv.Itoa(x)
	default:
		return fmt.Sprintf("%v", x)
	}
}

// validateContext rejects a non-keyed-mapping top-level context and
// detects reference cycles reachable from it via an explicit visited set
// over map/slice/pointer identities — never via host reflection magic
// beyond identity tracking.
func validateContext(ctx any) error {
	if _, ok := ctx.(map[string]any); !ok {
		return &InvalidContextError{Message: "context must be a keyed mapping"}
	}
	visited := map[uintptr]bool{}
	return checkCycle(reflect.ValueOf(ctx), visited)
}

func checkCycle(v reflect.Value, visited map[uintptr]bool) error {
	switch v.Kind() {
	case reflect.Map:
		ptr := v.Pointer()
		if ptr != 0 {
			if visited[ptr] {
				return &InvalidContextError{Message: "context contains a reference cycle"}
			}
			visited[ptr] = true
			defer delete(visited, ptr)
		}
		for _, key := range v.MapKeys() {
			if err := checkCycle(v.MapIndex(key), visited); err != nil {
				return err
			}
		}
	case reflect.Slice, reflect.Array:
		if v.Kind() == reflect.Slice {
			ptr := v.Pointer()
			if ptr != 0 {
				if visited[ptr] {
					return &InvalidContextError{Message: "context contains a reference cycle"}
				}
				visited[ptr] = true
				defer delete(visited, ptr)
			}
		}
		for i := 0; i < v.Len(); i++ {
			if err := checkCycle(v.Index(i), visited); err != nil {
				return err
			}
		}
	case reflect.Interface:
		if !v.IsNil() {
			return checkCycle(v.Elem(), visited)
		}
	case reflect.Ptr:
		if !v.IsNil() {
			ptr := v.Pointer()
			if visited[ptr] {
				return &InvalidContextError{Message: "context contains a reference cycle"}
			}
			visited[ptr] = true
			defer delete(visited, ptr)
			return checkCycle(v.Elem(), visited)
		}
	}
	return nil
}
