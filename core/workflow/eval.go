package workflow

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrExpression wraps every lexing and parsing failure reported by Eval.
var ErrExpression = errors.New("invalid expression")

// Eval evaluates a restricted expression against a context map.
// Supported:
//   - literals: numbers, quoted strings, true/false, null (Python spellings too)
//   - lists: [a, b, c]
//   - dot paths: foo.bar (walks nested maps; missing keys resolve to null)
//   - functions: length(x), len(x), first(x)
//   - comparisons: == != > < >= <=
//   - membership: a in b, a not in b
//   - boolean: and or not, && || !
//   - parentheses
//
// Nothing else is evaluated; unknown functions and stray tokens are errors.
func Eval(expr string, ctx map[string]any) (any, error) {
	toks, err := lex(expr)
	if err != nil {
		return nil, err
	}
	if toks[0].kind == tokEOF {
		return nil, fmt.Errorf("%w: empty expression", ErrExpression)
	}
	p := &parser{src: expr, toks: toks, ctx: ctx}
	val, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if t := p.peek(); t.kind != tokEOF {
		return nil, p.errorf(t, "unexpected %q", t.text)
	}
	return val, nil
}

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokNumber
	tokString
	tokIdent
	tokOp
	tokLParen
	tokRParen
	tokLBrack
	tokRBrack
	tokComma
)

type token struct {
	kind tokenKind
	text string
	num  float64
	pos  int
}

// longest first so "!=" wins over "!".
var operators = []string{"==", "!=", ">=", "<=", "&&", "||", ">", "<", "!", "-"}

func lex(src string) ([]token, error) {
	var toks []token
	for i := 0; i < len(src); {
		c := src[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			i++
		case c == '(':
			toks = append(toks, token{kind: tokLParen, text: "(", pos: i})
			i++
		case c == ')':
			toks = append(toks, token{kind: tokRParen, text: ")", pos: i})
			i++
		case c == '[':
			toks = append(toks, token{kind: tokLBrack, text: "[", pos: i})
			i++
		case c == ']':
			toks = append(toks, token{kind: tokRBrack, text: "]", pos: i})
			i++
		case c == ',':
			toks = append(toks, token{kind: tokComma, text: ",", pos: i})
			i++
		case c == '\'' || c == '"':
			var sb strings.Builder
			j := i + 1
			for j < len(src) && src[j] != c {
				if src[j] == '\\' && j+1 < len(src) {
					j++
				}
				sb.WriteByte(src[j])
				j++
			}
			if j >= len(src) {
				return nil, fmt.Errorf("%w: unterminated string at %d", ErrExpression, i)
			}
			toks = append(toks, token{kind: tokString, text: sb.String(), pos: i})
			i = j + 1
		case isDigit(c) || (c == '.' && i+1 < len(src) && isDigit(src[i+1])):
			j := i
			for j < len(src) && (isDigit(src[j]) || src[j] == '.') {
				j++
			}
			n, err := strconv.ParseFloat(src[i:j], 64)
			if err != nil {
				return nil, fmt.Errorf("%w: bad number %q at %d", ErrExpression, src[i:j], i)
			}
			toks = append(toks, token{kind: tokNumber, text: src[i:j], num: n, pos: i})
			i = j
		case isIdentStart(c):
			j := i
			for j < len(src) && (isIdentStart(src[j]) || isDigit(src[j]) || src[j] == '.') {
				j++
			}
			toks = append(toks, token{kind: tokIdent, text: src[i:j], pos: i})
			i = j
		default:
			matched := false
			for _, op := range operators {
				if strings.HasPrefix(src[i:], op) {
					toks = append(toks, token{kind: tokOp, text: op, pos: i})
					i += len(op)
					matched = true
					break
				}
			}
			if !matched {
				return nil, fmt.Errorf("%w: unexpected character %q at %d", ErrExpression, c, i)
			}
		}
	}
	return append(toks, token{kind: tokEOF, pos: len(src)}), nil
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

func isIdentStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

type parser struct {
	src  string
	toks []token
	pos  int
	ctx  map[string]any
}

func (p *parser) peek() token { return p.toks[p.pos] }

func (p *parser) peekAt(n int) token {
	if p.pos+n < len(p.toks) {
		return p.toks[p.pos+n]
	}
	return p.toks[len(p.toks)-1]
}

func (p *parser) next() token {
	t := p.toks[p.pos]
	if t.kind != tokEOF {
		p.pos++
	}
	return t
}

func (p *parser) isWord(word string) bool {
	t := p.peek()
	return t.kind == tokIdent && t.text == word
}

func (p *parser) isOp(op string) bool {
	t := p.peek()
	return t.kind == tokOp && t.text == op
}

func (p *parser) errorf(t token, format string, args ...any) error {
	return fmt.Errorf("%w: %s at %d in %q", ErrExpression, fmt.Sprintf(format, args...), t.pos, p.src)
}

func (p *parser) parseOr() (any, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.isWord("or") || p.isOp("||") {
		p.next()
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = truthy(left) || truthy(right)
	}
	return left, nil
}

func (p *parser) parseAnd() (any, error) {
	left, err := p.parseNot()
	if err != nil {
		return nil, err
	}
	for p.isWord("and") || p.isOp("&&") {
		p.next()
		right, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		left = truthy(left) && truthy(right)
	}
	return left, nil
}

func (p *parser) parseNot() (any, error) {
	if p.isWord("not") || p.isOp("!") {
		p.next()
		val, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		return !truthy(val), nil
	}
	return p.parseComparison()
}

func (p *parser) parseComparison() (any, error) {
	left, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	t := p.peek()
	switch {
	case t.kind == tokOp && isComparison(t.text):
		p.next()
		right, err := p.parsePrimary()
		if err != nil {
			return nil, err
		}
		return compare(left, right, t.text), nil
	case p.isWord("in"):
		p.next()
		right, err := p.parsePrimary()
		if err != nil {
			return nil, err
		}
		return contains(right, left), nil
	case p.isWord("not") && p.peekAt(1).kind == tokIdent && p.peekAt(1).text == "in":
		p.next()
		p.next()
		right, err := p.parsePrimary()
		if err != nil {
			return nil, err
		}
		return !contains(right, left), nil
	}
	return left, nil
}

func isComparison(op string) bool {
	switch op {
	case "==", "!=", ">", "<", ">=", "<=":
		return true
	}
	return false
}

func (p *parser) parsePrimary() (any, error) {
	t := p.next()
	switch t.kind {
	case tokNumber:
		return t.num, nil
	case tokString:
		return t.text, nil
	case tokLParen:
		val, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if p.peek().kind != tokRParen {
			return nil, p.errorf(p.peek(), "expected )")
		}
		p.next()
		return val, nil
	case tokLBrack:
		return p.parseList()
	case tokOp:
		if t.text == "-" && p.peek().kind == tokNumber {
			return -p.next().num, nil
		}
	case tokIdent:
		switch t.text {
		case "true", "True":
			return true, nil
		case "false", "False":
			return false, nil
		case "null", "None", "nil":
			return nil, nil
		case "and", "or", "not", "in":
			return nil, p.errorf(t, "unexpected %q", t.text)
		}
		if p.peek().kind == tokLParen {
			return p.parseCall(t)
		}
		return resolvePath(t.text, p.ctx), nil
	case tokEOF:
		return nil, p.errorf(t, "unexpected end of expression")
	}
	return nil, p.errorf(t, "unexpected %q", t.text)
}

func (p *parser) parseList() (any, error) {
	out := []any{}
	if p.peek().kind == tokRBrack {
		p.next()
		return out, nil
	}
	for {
		val, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		out = append(out, val)
		switch p.next().kind {
		case tokComma:
			continue
		case tokRBrack:
			return out, nil
		default:
			return nil, p.errorf(p.toks[p.pos-1], "expected , or ]")
		}
	}
}

func (p *parser) parseCall(name token) (any, error) {
	fn, ok := builtins[name.text]
	if !ok {
		return nil, p.errorf(name, "unknown function %q", name.text)
	}
	p.next() // (
	arg, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if p.peek().kind != tokRParen {
		return nil, p.errorf(p.peek(), "%s takes one argument", name.text)
	}
	p.next()
	return fn(arg), nil
}

var builtins = map[string]func(any) any{
	"length": length,
	"len":    length,
	"first":  first,
}

func length(v any) any {
	switch t := v.(type) {
	case []any:
		return len(t)
	case []string:
		return len(t)
	case string:
		return len(t)
	case map[string]any:
		return len(t)
	case map[string]string:
		return len(t)
	default:
		return 0
	}
}

func first(v any) any {
	switch t := v.(type) {
	case []any:
		if len(t) > 0 {
			return t[0]
		}
	case []string:
		if len(t) > 0 {
			return t[0]
		}
	}
	return nil
}

func resolvePath(path string, ctx map[string]any) any {
	var cur any = ctx
	for _, part := range strings.Split(path, ".") {
		switch m := cur.(type) {
		case map[string]any:
			cur = m[part]
		case map[string]string:
			s, ok := m[part]
			if !ok {
				return nil
			}
			cur = s
		default:
			return nil
		}
	}
	return cur
}

func contains(container, item any) bool {
	switch c := container.(type) {
	case []any:
		for _, el := range c {
			if compare(el, item, "==") {
				return true
			}
		}
	case []string:
		s, ok := item.(string)
		if !ok {
			return false
		}
		for _, el := range c {
			if el == s {
				return true
			}
		}
	case string:
		s, ok := item.(string)
		return ok && strings.Contains(c, s)
	case map[string]any:
		s, ok := item.(string)
		if !ok {
			return false
		}
		_, found := c[s]
		return found
	case map[string]string:
		s, ok := item.(string)
		if !ok {
			return false
		}
		_, found := c[s]
		return found
	}
	return false
}

func compare(a, b any, op string) bool {
	af, aNum := number(a)
	bf, bNum := number(b)
	switch {
	case aNum && bNum:
		return cmpFloat(af, bf, op)
	case aNum:
		// env values arrive as strings; compare numerically when they parse.
		if s, ok := b.(string); ok {
			if f, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil {
				return cmpFloat(af, f, op)
			}
		}
	case bNum:
		if s, ok := a.(string); ok {
			if f, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil {
				return cmpFloat(f, bf, op)
			}
		}
	}
	if as, ok := a.(string); ok {
		if bs, ok := b.(string); ok {
			return cmpString(as, bs, op)
		}
	}
	switch op {
	case "==":
		return fmt.Sprint(a) == fmt.Sprint(b)
	case "!=":
		return fmt.Sprint(a) != fmt.Sprint(b)
	default:
		return false
	}
}

func cmpFloat(a, b float64, op string) bool {
	switch op {
	case "==":
		return a == b
	case "!=":
		return a != b
	case ">":
		return a > b
	case "<":
		return a < b
	case ">=":
		return a >= b
	case "<=":
		return a <= b
	default:
		return false
	}
}

func cmpString(a, b, op string) bool {
	switch op {
	case "==":
		return a == b
	case "!=":
		return a != b
	case ">":
		return a > b
	case "<":
		return a < b
	case ">=":
		return a >= b
	case "<=":
		return a <= b
	default:
		return false
	}
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	}
	return 0, false
}

func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != ""
	case []any:
		return len(t) > 0
	case map[string]any:
		return len(t) > 0
	default:
		if f, ok := number(v); ok {
			return f != 0
		}
		return true
	}
}
