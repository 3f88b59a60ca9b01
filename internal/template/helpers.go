package template

import (
	"encoding/json"
	"math"
	"strings"

	"github.com/Masterminds/sprig/v3"
	"github.com/iancoleman/strcase"

	"github.com/specforge/specforge/internal/canon"
)

// HelperFunc is a pure function of its resolved arguments. Helpers MUST
// NOT read the clock, generate randomness, or perform I/O. The
// determinism analyzer reports a call to a helper outside this set as a
// low-severity issue; it does not reject the template, and the engine
// does not run the analyzer itself.
type HelperFunc func(args ...any) any

// DefaultHelpers returns the standard helper library from spec §4.2,
// implemented directly or adapted from Masterminds/sprig/v3's
// text/template-shaped functions (extracted from its TxtFuncMap and
// re-wrapped with the spec's own argument order) and
// github.com/iancoleman/strcase for case conversions.
func DefaultHelpers() map[string]HelperFunc {
	sprigFns := sprig.TxtFuncMap()

	h := map[string]HelperFunc{}

	// --- Case ---
	h["uppercase"] = func(args ...any) any { return strings.ToUpper(str(arg(args, 0))) }
	h["lowercase"] = func(args ...any) any { return strings.ToLower(str(arg(args, 0))) }
	h["camelcase"] = func(args ...any) any { return strcase.ToLowerCamel(str(arg(args, 0))) }
	h["pascalcase"] = func(args ...any) any { return strcase.ToCamel(str(arg(args, 0))) }
	h["snakecase"] = func(args ...any) any { return strcase.ToSnake(str(arg(args, 0))) }
	h["kebabcase"] = func(args ...any) any { return strcase.ToKebab(str(arg(args, 0))) }
	h["capitalize"] = func(args ...any) any { return capitalize(str(arg(args, 0))) }
	h["decapitalize"] = func(args ...any) any { return decapitalize(str(arg(args, 0))) }

	// --- String ---
	h["reverse"] = func(args ...any) any { return reverseString(str(arg(args, 0))) }
	h["repeat"] = func(args ...any) any {
		fn := sprigFns["repeat"].(func(int, string) string)
		return fn(int(num(arg(args, 1))), str(arg(args, 0)))
	}
	h["trim"] = func(args ...any) any { return strings.TrimSpace(str(arg(args, 0))) }
	h["trimLeft"] = func(args ...any) any { return strings.TrimLeft(str(arg(args, 0)), " \t\n\r") }
	h["trimRight"] = func(args ...any) any { return strings.TrimRight(str(arg(args, 0)), " \t\n\r") }
	h["pad"] = func(args ...any) any {
		s := str(arg(args, 0))
		n := int(num(arg(args, 1)))
		ch := " "
		if len(args) > 2 {
			ch = str(args[2])
		}
		return leftPad(s, n, ch)
	}
	h["truncate"] = func(args ...any) any {
		return truncateWithEllipsis(str(arg(args, 0)), int(num(arg(args, 1))))
	}
	h["split"] = func(args ...any) any {
		sep := ","
		if len(args) > 1 {
			sep = str(args[1])
		}
		parts := strings.Split(str(arg(args, 0)), sep)
		out := make([]any, len(parts))
		for i, p := range parts {
			out[i] = p
		}
		return out
	}
	h["replace"] = func(args ...any) any {
		return strings.ReplaceAll(str(arg(args, 0)), str(arg(args, 1)), str(arg(args, 2)))
	}

	// --- Code ---
	h["indent"] = func(args ...any) any { return indentLines(str(arg(args, 0)), int(num(arg(args, 1)))) }
	h["stripLines"] = func(args ...any) any { return stripBlankLines(str(arg(args, 0))) }
	h["ensureNewline"] = func(args ...any) any {
		s := str(arg(args, 0))
		if strings.HasSuffix(s, "\n") {
			return s
		}
		return s + "\n"
	}
	h["joinIndent"] = func(args ...any) any {
		items, _ := toSlice(arg(args, 0))
		lines := make([]string, len(items))
		for i, it := range items {
			lines[i] = str(it)
		}
		return strings.Join(lines, "\n")
	}
	h["comment"] = func(args ...any) any {
		lines := strings.Split(str(arg(args, 0)), "\n")
		for i, l := range lines {
			lines[i] = "// " + l
		}
		return strings.Join(lines, "\n")
	}
	h["importTs"] = func(args ...any) any {
		items, _ := toSlice(arg(args, 0))
		names := make([]string, len(items))
		for i, it := range items {
			names[i] = str(it)
		}
		return "import { " + strings.Join(names, ", ") + " } from \"" + str(arg(args, 1)) + "\";"
	}
	h["exportTs"] = func(args ...any) any {
		isDefault := len(args) > 1 && truthy(args[1])
		if isDefault {
			return "export default " + str(arg(args, 0)) + ";"
		}
		return "export { " + str(arg(args, 0)) + " };"
	}
	h["typeAnnotation"] = func(args ...any) any {
		return str(arg(args, 0)) + ": " + str(arg(args, 1))
	}

	// --- Type ---
	h["isArray"] = func(args ...any) any { _, ok := toSlice(arg(args, 0)); return ok }
	h["isObject"] = func(args ...any) any { _, ok := arg(args, 0).(map[string]any); return ok }
	h["isString"] = func(args ...any) any { _, ok := arg(args, 0).(string); return ok }
	h["isNumber"] = func(args ...any) any {
		switch arg(args, 0).(type) {
		case float64, int:
			return true
		default:
			return false
		}
	}
	h["isBoolean"] = func(args ...any) any { _, ok := arg(args, 0).(bool); return ok }
	h["typeof"] = func(args ...any) any { return typeOf(arg(args, 0)) }
	h["isEmpty"] = func(args ...any) any { return isEmptyValue(arg(args, 0)) }
	h["length"] = func(args ...any) any { return lengthOf(arg(args, 0)) }

	// --- Math ---
	h["add"] = func(args ...any) any { return num(arg(args, 0)) + num(arg(args, 1)) }
	h["subtract"] = func(args ...any) any { return num(arg(args, 0)) - num(arg(args, 1)) }
	h["multiply"] = func(args ...any) any { return num(arg(args, 0)) * num(arg(args, 1)) }
	h["abs"] = func(args ...any) any { return math.Abs(num(arg(args, 0))) }
	h["floor"] = func(args ...any) any { return math.Floor(num(arg(args, 0))) }
	h["ceil"] = func(args ...any) any { return math.Ceil(num(arg(args, 0))) }
	h["round"] = func(args ...any) any {
		decimals := 0
		if len(args) > 1 {
			decimals = int(num(args[1]))
		}
		mult := math.Pow(10, float64(decimals))
		return math.Round(num(arg(args, 0))*mult) / mult
	}

	// --- JSON ---
	h["stringify"] = func(args ...any) any {
		pretty := len(args) > 1 && truthy(args[1])
		return stringifySorted(arg(args, 0), pretty)
	}
	h["jsonValue"] = func(args ...any) any {
		segments := strings.Split(str(arg(args, 1)), ".")
		v, _ := navigate(arg(args, 0), segments)
		return v
	}

	return h
}

func arg(args []any, i int) any {
	if i < len(args) {
		return args[i]
	}
	return nil
}

func str(v any) string { return stringify(v) }

func num(v any) float64 {
	switch x := v.(type) {
	case float64:
		return x
	case int:
		return float64(x)
	default:
		return 0
	}
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

func decapitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToLower(s[:1]) + s[1:]
}

func reverseString(s string) string {
	r := []rune(s)
	for i, j := 0, len(r)-1; i < j; i, j = i+1, j-1 {
		r[i], r[j] = r[j], r[i]
	}
	return string(r)
}

func leftPad(s string, n int, ch string) string {
	if ch == "" {
		ch = " "
	}
	for len([]rune(s)) < n {
		s = ch + s
	}
	return s
}

// truncateWithEllipsis truncates s to len runes with the ellipsis counted
// inside that budget, per spec §4.2.
func truncateWithEllipsis(s string, length int) string {
	r := []rune(s)
	if len(r) <= length {
		return s
	}
	if length <= 1 {
		return strings.Repeat("…", maxInt(length, 0))
	}
	return string(r[:length-1]) + "…"
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// indentLines indents every line by n spaces, preserving empty lines as
// empty (not padded).
func indentLines(s string, n int) string {
	prefix := strings.Repeat(" ", n)
	lines := strings.Split(s, "\n")
	for i, l := range lines {
		if l == "" {
			continue
		}
		lines[i] = prefix + l
	}
	return strings.Join(lines, "\n")
}

func stripBlankLines(s string) string {
	lines := strings.Split(s, "\n")
	start := 0
	for start < len(lines) && strings.TrimSpace(lines[start]) == "" {
		start++
	}
	end := len(lines)
	for end > start && strings.TrimSpace(lines[end-1]) == "" {
		end--
	}
	return strings.Join(lines[start:end], "\n")
}

func typeOf(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case bool:
		return "boolean"
	case float64, int:
		return "number"
	case string:
		return "string"
	case map[string]any:
		return "object"
	default:
		if _, ok := toSlice(v); ok {
			return "array"
		}
		return "object"
	}
}

func isEmptyValue(v any) bool {
	switch x := v.(type) {
	case nil:
		return true
	case string:
		return x == ""
	case map[string]any:
		return len(x) == 0
	default:
		if items, ok := toSlice(v); ok {
			return len(items) == 0
		}
		return false
	}
}

func lengthOf(v any) any {
	switch x := v.(type) {
	case string:
		return float64(len([]rune(x)))
	case map[string]any:
		return float64(len(x))
	default:
		if items, ok := toSlice(v); ok {
			return float64(len(items))
		}
		return float64(0)
	}
}

// stringifySorted serializes v with lexicographically sorted keys — the
// canonical form used everywhere else in the system for hashing, exposed
// here for templates that need to embed a JSON literal.
func stringifySorted(v any, pretty bool) string {
	b, err := canon.Marshal(v)
	if err != nil {
		return ""
	}
	if !pretty {
		return string(b)
	}
	var buf strings.Builder
	if err := json.Indent(&buf, b, "", "  "); err != nil {
		return string(b)
	}
	return buf.String()
}
