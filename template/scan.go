package template

import (
	"fmt"
	"strings"
)

type rawKind int

const (
	rawText rawKind = iota
	rawInterp
	rawTag
)

type rawToken struct {
	kind    rawKind
	content string // text, or trimmed {{ }}/{% %} interior
}

// scanRaw splits src on "{{ ... }}" and "{% ... %}" delimiters into a flat
// token stream, leaving everything else as literal text.
func scanRaw(src string) ([]rawToken, error) {
	var out []rawToken
	i := 0
	for i < len(src) {
		varIdx := strings.Index(src[i:], "{{")
		tagIdx := strings.Index(src[i:], "{%")

		next := -1
		isVar := false
		switch {
		case varIdx == -1 && tagIdx == -1:
			out = append(out, rawToken{kind: rawText, content: src[i:]})
			return out, nil
		case varIdx == -1:
			next, isVar = tagIdx, false
		case tagIdx == -1:
			next, isVar = varIdx, true
		case varIdx < tagIdx:
			next, isVar = varIdx, true
		default:
			next, isVar = tagIdx, false
		}

		if next > 0 {
			out = append(out, rawToken{kind: rawText, content: src[i : i+next]})
		}

		open := "{{"
		closeDelim := "}}"
		kind := rawInterp
		if !isVar {
			open, closeDelim, kind = "{%", "%}", rawTag
		}

		start := i + next + len(open)
		end := strings.Index(src[start:], closeDelim)
		if end == -1 {
			return nil, fmt.Errorf("unterminated %q", open)
		}
		content := strings.TrimSpace(src[start : start+end])
		out = append(out, rawToken{kind: kind, content: content})
		i = start + end + len(closeDelim)
	}
	return out, nil
}

// treeParser builds the structural node tree from a flat raw token stream.
type treeParser struct {
	toks []rawToken
	pos  int
}

// Parse compiles src into a Template, ready for repeated Render calls.
func Parse(src string) (*Template, error) {
	toks, err := scanRaw(src)
	if err != nil {
		return nil, newParseError(src, "scanning template", err)
	}
	p := &treeParser{toks: toks}
	nodes, err := p.parseNodes(false)
	if err != nil {
		return nil, err
	}
	if p.pos != len(p.toks) {
		return nil, newParseError(src, "unexpected trailing tag", nil)
	}
	return &Template{src: src, nodes: nodes}, nil
}

func (p *treeParser) parseNodes(stopOnElseOrEnd bool) ([]templateNode, error) {
	var out []templateNode
	for p.pos < len(p.toks) {
		t := p.toks[p.pos]
		switch t.kind {
		case rawText:
			out = append(out, TextNode{Text: t.content})
			p.pos++
		case rawInterp:
			expr, err := parseExpr(t.content)
			if err != nil {
				return nil, err
			}
			out = append(out, InterpNode{Expr: expr, Src: t.content})
			p.pos++
		case rawTag:
			name, rest := splitTagWord(t.content)
			switch name {
			case "if":
				node, err := p.parseIf(rest)
				if err != nil {
					return nil, err
				}
				out = append(out, node)
			case "for":
				node, err := p.parseFor(rest)
				if err != nil {
					return nil, err
				}
				out = append(out, node)
			case "else", "endif", "endfor":
				if stopOnElseOrEnd {
					return out, nil
				}
				return nil, newParseError(t.content, fmt.Sprintf("unexpected %q with no matching opening tag", name), nil)
			default:
				return nil, newParseError(t.content, fmt.Sprintf("unknown tag %q", name), nil)
			}
		}
	}
	if stopOnElseOrEnd {
		return nil, newParseError("", "unterminated block tag: missing endif/endfor", nil)
	}
	return out, nil
}

func (p *treeParser) parseIf(condSrc string) (templateNode, error) {
	cond, err := parseExpr(condSrc)
	if err != nil {
		return nil, err
	}
	p.pos++ // consume "if" tag
	thenBody, err := p.parseNodes(true)
	if err != nil {
		return nil, err
	}
	var elseBody []templateNode
	// p.toks[p.pos] is now the tag that stopped parseNodes (else/endif/endfor).
	name, _ := splitTagWord(p.toks[p.pos].content)
	switch name {
	case "else":
		p.pos++ // consume "else"
		elseBody, err = p.parseNodes(true)
		if err != nil {
			return nil, err
		}
		name2, _ := splitTagWord(p.toks[p.pos].content)
		if name2 != "endif" {
			return nil, newParseError(p.toks[p.pos].content, "expected endif", nil)
		}
		p.pos++ // consume "endif"
	case "endif":
		p.pos++
	default:
		return nil, newParseError(p.toks[p.pos].content, "expected else or endif", nil)
	}
	return IfNode{Cond: cond, Then: thenBody, Else: elseBody, Src: condSrc}, nil
}

func (p *treeParser) parseFor(clause string) (templateNode, error) {
	varName, srcExpr, err := splitForClause(clause)
	if err != nil {
		return nil, newParseError(clause, "parsing for clause", err)
	}
	source, err := parseExpr(srcExpr)
	if err != nil {
		return nil, err
	}
	p.pos++ // consume "for" tag
	body, err := p.parseNodes(true)
	if err != nil {
		return nil, err
	}
	name, _ := splitTagWord(p.toks[p.pos].content)
	if name != "endfor" {
		return nil, newParseError(p.toks[p.pos].content, "expected endfor", nil)
	}
	p.pos++ // consume "endfor"
	return ForNode{VarName: varName, Source: source, Body: body, Src: clause}, nil
}

// splitTagWord splits "if cond" into ("if", "cond"), or "endfor" into
// ("endfor", "").
func splitTagWord(content string) (string, string) {
	content = strings.TrimSpace(content)
	idx := strings.IndexAny(content, " \t")
	if idx == -1 {
		return content, ""
	}
	return content[:idx], strings.TrimSpace(content[idx:])
}

// splitForClause parses "item in expr" into ("item", "expr").
func splitForClause(clause string) (string, string, error) {
	fields := strings.SplitN(clause, " in ", 2)
	if len(fields) != 2 {
		return "", "", fmt.Errorf("expected %q, got %q", "<var> in <expr>", clause)
	}
	varName := strings.TrimSpace(fields[0])
	if varName == "" {
		return "", "", fmt.Errorf("missing loop variable")
	}
	return varName, strings.TrimSpace(fields[1]), nil
}
