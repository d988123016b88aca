package executor

import (
	"strconv"
	"strings"

	"github.com/playbooks-run/core/perr"
)

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokNumber
	tokString
	tokIdent
	tokStateVar // $name
	tokOp       // + - * / == != < > <= >= = ,
	tokLParen
	tokRParen
	tokLBracket
	tokRBracket
	tokLBrace
	tokRBrace
	tokColon
)

type token struct {
	kind tokenKind
	text string
}

// lex tokenizes one EXE expression/assignment statement. The mini-language
// is deliberately small (design note §9): literals, $state-var refs, bare
// names, binary arithmetic/comparison/concat, sequence and mapping
// literals — no loops, no compound mutation.
func lex(src string) ([]token, error) {
	var toks []token
	r := []rune(src)
	i := 0
	for i < len(r) {
		c := r[i]
		switch {
		case c == ' ' || c == '\t':
			i++
		case c == '(':
			toks = append(toks, token{tokLParen, "("})
			i++
		case c == ')':
			toks = append(toks, token{tokRParen, ")"})
			i++
		case c == '[':
			toks = append(toks, token{tokLBracket, "["})
			i++
		case c == ']':
			toks = append(toks, token{tokRBracket, "]"})
			i++
		case c == '{':
			toks = append(toks, token{tokLBrace, "{"})
			i++
		case c == '}':
			toks = append(toks, token{tokRBrace, "}"})
			i++
		case c == ':':
			toks = append(toks, token{tokColon, ":"})
			i++
		case c == ',':
			toks = append(toks, token{tokOp, ","})
			i++
		case c == '"' || c == '\'':
			quote := c
			j := i + 1
			var sb strings.Builder
			for j < len(r) && r[j] != quote {
				if r[j] == '\\' && j+1 < len(r) {
					j++
				}
				sb.WriteRune(r[j])
				j++
			}
			if j >= len(r) {
				return nil, perr.New(perr.KindParseError, "executor", "lex", "unterminated string literal", nil)
			}
			toks = append(toks, token{tokString, sb.String()})
			i = j + 1
		case c == '$':
			j := i + 1
			for j < len(r) && isIdentRune(r[j]) {
				j++
			}
			toks = append(toks, token{tokStateVar, string(r[i+1 : j])})
			i = j
		case isDigit(c):
			j := i
			for j < len(r) && (isDigit(r[j]) || r[j] == '.') {
				j++
			}
			toks = append(toks, token{tokNumber, string(r[i:j])})
			i = j
		case isIdentStart(c):
			j := i
			for j < len(r) && isIdentRune(r[j]) {
				j++
			}
			toks = append(toks, token{tokIdent, string(r[i:j])})
			i = j
		case c == '=' && i+1 < len(r) && r[i+1] == '=':
			toks = append(toks, token{tokOp, "=="})
			i += 2
		case c == '!' && i+1 < len(r) && r[i+1] == '=':
			toks = append(toks, token{tokOp, "!="})
			i += 2
		case c == '<' && i+1 < len(r) && r[i+1] == '=':
			toks = append(toks, token{tokOp, "<="})
			i += 2
		case c == '>' && i+1 < len(r) && r[i+1] == '=':
			toks = append(toks, token{tokOp, ">="})
			i += 2
		case strings.ContainsRune("+-*/<>=", c):
			toks = append(toks, token{tokOp, string(c)})
			i++
		default:
			return nil, perr.New(perr.KindParseError, "executor", "lex", "unexpected character '"+string(c)+"' in: "+src, nil)
		}
	}
	toks = append(toks, token{tokEOF, ""})
	return toks, nil
}

func isDigit(c rune) bool      { return c >= '0' && c <= '9' }
func isIdentStart(c rune) bool { return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') }
func isIdentRune(c rune) bool  { return isIdentStart(c) || isDigit(c) }

func parseNumberLiteral(s string) (float64, error) {
	return strconv.ParseFloat(s, 64)
}
