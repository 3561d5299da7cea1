// Package ddbexpr parses and evaluates DynamoDB condition, filter, key
// condition, update and projection expressions.
package ddbexpr

import (
	"fmt"
	"strings"
	"unicode"
)

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokIdent
	tokName  // #placeholder
	tokValue // :placeholder
	tokNumber
	tokLParen
	tokRParen
	tokLBracket
	tokRBracket
	tokComma
	tokDot
	tokEq
	tokNe
	tokLt
	tokLe
	tokGt
	tokGe
	tokPlus
	tokMinus
)

type token struct {
	kind tokenKind
	text string
	pos  int
}

func (t token) String() string {
	if t.kind == tokEOF {
		return "end of expression"
	}
	return fmt.Sprintf("%q at %d", t.text, t.pos)
}

// is reports whether the token is the keyword kw, case-insensitively.
func (t token) is(kw string) bool {
	return t.kind == tokIdent && strings.EqualFold(t.text, kw)
}

func isIdentRune(r rune, first bool) bool {
	if r == '_' || unicode.IsLetter(r) {
		return true
	}
	return !first && unicode.IsDigit(r)
}

func lex(src string) ([]token, error) {
	var toks []token
	rs := []rune(src)
	for i := 0; i < len(rs); {
		r := rs[i]
		switch {
		case unicode.IsSpace(r):
			i++
		case r == '#' || r == ':':
			j := i + 1
			for j < len(rs) && isIdentRune(rs[j], false) {
				j++
			}
			if j == i+1 {
				return nil, fmt.Errorf("syntax error: empty placeholder at %d", i)
			}
			kind := tokName
			if r == ':' {
				kind = tokValue
			}
			toks = append(toks, token{kind: kind, text: string(rs[i:j]), pos: i})
			i = j
		case unicode.IsDigit(r):
			j := i
			for j < len(rs) && unicode.IsDigit(rs[j]) {
				j++
			}
			toks = append(toks, token{kind: tokNumber, text: string(rs[i:j]), pos: i})
			i = j
		case isIdentRune(r, true):
			j := i
			for j < len(rs) && isIdentRune(rs[j], false) {
				j++
			}
			toks = append(toks, token{kind: tokIdent, text: string(rs[i:j]), pos: i})
			i = j
		default:
			kind, width := tokEOF, 1
			switch r {
			case '(':
				kind = tokLParen
			case ')':
				kind = tokRParen
			case '[':
				kind = tokLBracket
			case ']':
				kind = tokRBracket
			case ',':
				kind = tokComma
			case '.':
				kind = tokDot
			case '=':
				kind = tokEq
			case '+':
				kind = tokPlus
			case '-':
				kind = tokMinus
			case '<':
				kind = tokLt
				if i+1 < len(rs) && rs[i+1] == '=' {
					kind, width = tokLe, 2
				} else if i+1 < len(rs) && rs[i+1] == '>' {
					kind, width = tokNe, 2
				}
			case '>':
				kind = tokGt
				if i+1 < len(rs) && rs[i+1] == '=' {
					kind, width = tokGe, 2
				}
			default:
				return nil, fmt.Errorf("syntax error: unexpected character %q at %d", r, i)
			}
			toks = append(toks, token{kind: kind, text: string(rs[i : i+width]), pos: i})
			i += width
		}
	}
	return append(toks, token{kind: tokEOF, pos: len(rs)}), nil
}

type parser struct {
	toks []token
	pos  int
}

func newParser(src string) (*parser, error) {
	if strings.TrimSpace(src) == "" {
		return nil, fmt.Errorf("invalid expression: expression is empty")
	}
	toks, err := lex(src)
	if err != nil {
		return nil, err
	}
	return &parser{toks: toks}, nil
}

func (p *parser) peek() token { return p.toks[p.pos] }

func (p *parser) peekAt(n int) token {
	if p.pos+n >= len(p.toks) {
		return p.toks[len(p.toks)-1]
	}
	return p.toks[p.pos+n]
}

func (p *parser) next() token {
	t := p.toks[p.pos]
	if t.kind != tokEOF {
		p.pos++
	}
	return t
}

func (p *parser) expect(kind tokenKind, what string) (token, error) {
	t := p.next()
	if t.kind != kind {
		return t, fmt.Errorf("syntax error: expected %s, got %s", what, t)
	}
	return t, nil
}

func (p *parser) expectEOF() error {
	if t := p.peek(); t.kind != tokEOF {
		return fmt.Errorf("syntax error: unexpected %s", t)
	}
	return nil
}
