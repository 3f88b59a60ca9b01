package template

import (
	"fmt"
	"strconv"
	"strings"
)

// TemplateSyntaxError is returned by Compile when the template text has
// unbalanced {{…}} spans or mismatched block open/close pairs.
type TemplateSyntaxError struct {
	Message string
}

func (e *TemplateSyntaxError) Error() string { return "template syntax error: " + e.Message }

type tagKind int

const (
	tagExpr tagKind = iota
	tagBlockOpen
	tagBlockClose
	tagElse
)

type tag struct {
	kind tagKind
	// for tagBlockOpen/tagBlockClose: the block type ("each","if","unless","with")
	blockType string
	// raw expression body, e.g. "data.items" or "stringify data"
	body string
}

// parse compiles raw template source into a Node tree. It fails on
// unbalanced {{…}} spans or mismatched block open/close pairs.
func parse(source string) ([]Node, error) {
	tags, texts, err := splitTags(source)
	if err != nil {
		return nil, err
	}
	p := &parserState{tags: tags, texts: texts}
	nodes, err := p.parseNodes("")
	if err != nil {
		return nil, err
	}
	if p.pos < len(p.tags) {
		return nil, &TemplateSyntaxError{Message: fmt.Sprintf("unexpected {{/%s}} with no matching open block", p.tags[p.pos].blockType)}
	}
	return nodes, nil
}

// splitTags walks source once, alternating literal text runs with {{…}}
// tags. texts[i] is the literal text immediately before tags[i]; a final
// trailing text run (after the last tag) is appended as a TextNode by the
// caller via the sentinel index len(tags).
func splitTags(source string) ([]tag, []string, error) {
	var tags []tag
	var texts []string

	rest := source
	for {
		idx := strings.Index(rest, "{{")
		if idx == -1 {
			texts = append(texts, rest)
			break
		}
		texts = append(texts, rest[:idx])
		rest = rest[idx+2:]

		end := strings.Index(rest, "}}")
		if end == -1 {
			return nil, nil, &TemplateSyntaxError{Message: "unbalanced {{ with no matching }}"}
		}
		body := rest[:end]
		rest = rest[end+2:]

		t, err := classifyTag(body)
		if err != nil {
			return nil, nil, err
		}
		tags = append(tags, t)
	}

	return tags, texts, nil
}

func classifyTag(raw string) (tag, error) {
	body := strings.TrimSpace(raw)
	switch {
	case body == "else":
		return tag{kind: tagElse}, nil
	case strings.HasPrefix(body, "#"):
		inner := strings.TrimSpace(strings.TrimPrefix(body, "#"))
		blockType, rest := splitFirstWord(inner)
		if blockType == "" {
			return tag{}, &TemplateSyntaxError{Message: "empty block tag"}
		}
		return tag{kind: tagBlockOpen, blockType: blockType, body: rest}, nil
	case strings.HasPrefix(body, "/"):
		blockType := strings.TrimSpace(strings.TrimPrefix(body, "/"))
		return tag{kind: tagBlockClose, blockType: blockType}, nil
	default:
		return tag{kind: tagExpr, body: body}, nil
	}
}

func splitFirstWord(s string) (first, rest string) {
	fields := tokenizeExprBody(s)
	if len(fields) == 0 {
		return "", ""
	}
	return fields[0], strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(s), fields[0]))
}

type parserState struct {
	tags  []tag
	texts []string
	pos   int // index into tags; texts[pos] is the text run preceding tags[pos]
}

// parseNodes consumes tags/text until it hits a close tag, an else tag, or
// runs out of input. closingFor is the block type the caller is inside
// ("" at the top level).
func (p *parserState) parseNodes(closingFor string) ([]Node, error) {
	var nodes []Node

	for {
		// Emit the literal text run preceding the next tag (or the trailing
		// run once tags are exhausted).
		if p.pos < len(p.texts) && p.texts[p.pos] != "" {
			nodes = append(nodes, TextNode{Value: p.texts[p.pos]})
		}

		if p.pos >= len(p.tags) {
			if closingFor != "" {
				return nil, &TemplateSyntaxError{Message: fmt.Sprintf("unclosed block {{#%s}}", closingFor)}
			}
			return nodes, nil
		}

		t := p.tags[p.pos]

		switch t.kind {
		case tagExpr:
			expr, err := parseExprBody(t.body)
			if err != nil {
				return nil, err
			}
			nodes = append(nodes, ExprNode{Expr: expr})
			p.pos++

		case tagElse:
			if closingFor == "" {
				return nil, &TemplateSyntaxError{Message: "{{else}} with no enclosing block"}
			}
			return nodes, nil

		case tagBlockClose:
			if closingFor == "" {
				return nil, &TemplateSyntaxError{Message: fmt.Sprintf("{{/%s}} with no matching open block", t.blockType)}
			}
			if t.blockType != closingFor {
				return nil, &TemplateSyntaxError{Message: fmt.Sprintf("mismatched block: expected {{/%s}}, found {{/%s}}", closingFor, t.blockType)}
			}
			p.pos++
			return nodes, nil

		case tagBlockOpen:
			node, err := p.parseBlock(t)
			if err != nil {
				return nil, err
			}
			nodes = append(nodes, node)
		}
	}
}

func (p *parserState) parseBlock(open tag) (Node, error) {
	expr, err := parseExprBody(open.body)
	if err != nil {
		return nil, err
	}
	p.pos++ // consume the opening tag

	body, err := p.parseNodes(open.blockType)
	if err != nil {
		return nil, err
	}

	// parseNodes returns either because it found a matching close (already
	// consumed) or an {{else}}. Detect which happened by checking whether
	// we're now sitting on an else tag that still needs consuming.
	var elseBody []Node
	if p.pos < len(p.tags) && p.tags[p.pos].kind == tagElse {
		p.pos++ // consume {{else}}
		elseBody, err = p.parseNodes(open.blockType)
		if err != nil {
			return nil, err
		}
	}

	switch open.blockType {
	case "each":
		return EachNode{Expr: expr, Body: body, Inverse: elseBody}, nil
	case "if":
		return IfNode{Expr: expr, Body: body, Else: elseBody}, nil
	case "unless":
		return UnlessNode{Expr: expr, Body: body}, nil
	case "with":
		return WithNode{Expr: expr, Body: body}, nil
	default:
		return nil, &TemplateSyntaxError{Message: fmt.Sprintf("unknown block helper %q", open.blockType)}
	}
}

// parseExprBody parses the inside of a {{…}} span (not a block tag) into
// an Expr: a bare path/literal, or "helperName arg1 arg2 …".
func parseExprBody(body string) (Expr, error) {
	fields := tokenizeExprBody(body)
	if len(fields) == 0 {
		return nil, &TemplateSyntaxError{Message: "empty expression"}
	}
	if len(fields) == 1 {
		return parseArgToken(fields[0]), nil
	}
	args := make([]Expr, 0, len(fields)-1)
	for _, f := range fields[1:] {
		args = append(args, parseArgToken(f))
	}
	return CallExpr{Name: fields[0], Args: args}, nil
}

func parseArgToken(tok string) Expr {
	if len(tok) >= 2 && tok[0] == '"' && tok[len(tok)-1] == '"' {
		return StringLit{Value: tok[1 : len(tok)-1]}
	}
	if len(tok) >= 2 && tok[0] == '\'' && tok[len(tok)-1] == '\'' {
		return StringLit{Value: tok[1 : len(tok)-1]}
	}
	if tok == "true" {
		return BoolLit{Value: true}
	}
	if tok == "false" {
		return BoolLit{Value: false}
	}
	if n, err := strconv.ParseFloat(tok, 64); err == nil {
		return NumberLit{Value: n}
	}
	return PathExpr{Path: tok}
}

// tokenizeExprBody splits an expression body on whitespace while keeping
// quoted string literals intact.
func tokenizeExprBody(body string) []string {
	var fields []string
	var cur strings.Builder
	inQuote := byte(0)

	flush := func() {
		if cur.Len() > 0 {
			fields = append(fields, cur.String())
			cur.Reset()
		}
	}

	for i := 0; i < len(body); i++ {
		c := body[i]
		switch {
		case inQuote != 0:
			cur.WriteByte(c)
			if c == inQuote {
				inQuote = 0
			}
		case c == '"' || c == '\'':
			inQuote = c
			cur.WriteByte(c)
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			flush()
		default:
			cur.WriteByte(c)
		}
	}
	flush()
	return fields
}
