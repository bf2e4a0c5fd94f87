package vegaexpr

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"
)

type tokenKind int

const (
	tokIdent tokenKind = iota
	tokNumber
	tokString
	tokPunct
)

type token struct {
	kind tokenKind
	text string // for tokString this is the decoded value
}

// operators is ordered longest first so the scanner is greedy.
var operators = []string{
	"===", "!==",
	"==", "!=", "<=", ">=", "&&", "||",
	"<", ">", "+", "-", "*", "/", "%", "!", "?", ":",
	"(", ")", "[", "]", "{", "}", ",", ".",
}

// renamed maps expression function names that collide with HCL keywords.
var renamed = map[string]string{
	"if": "if_",
}

// Translate rewrites an expression into HCL native syntax. Strict equality
// becomes plain equality, single-quoted strings become double-quoted and a
// unary plus becomes a toNumber call. Constructs with no HCL counterpart
// (bitwise operators, assignment, regex literals) are rejected.
func Translate(src string) (string, error) {
	toks, err := scan(src)
	if err != nil {
		return "", err
	}
	if len(toks) == 0 {
		return "", fmt.Errorf("empty expression")
	}
	toks, err = rewriteUnaryPlus(toks)
	if err != nil {
		return "", err
	}
	return emit(toks), nil
}

func scan(src string) ([]token, error) {
	var toks []token
	i := 0
	for i < len(src) {
		r, size := utf8.DecodeRuneInString(src[i:])
		switch {
		case unicode.IsSpace(r):
			i += size
		case r == '\'' || r == '"':
			s, n, err := scanString(src[i:])
			if err != nil {
				return nil, err
			}
			toks = append(toks, token{kind: tokString, text: s})
			i += n
		case isDigit(r) || (r == '.' && i+1 < len(src) && isDigit(rune(src[i+1]))):
			j := i
			for j < len(src) && (isDigit(rune(src[j])) || src[j] == '.') {
				j++
			}
			if j < len(src) && (src[j] == 'e' || src[j] == 'E') {
				j++
				if j < len(src) && (src[j] == '+' || src[j] == '-') {
					j++
				}
				for j < len(src) && isDigit(rune(src[j])) {
					j++
				}
			}
			text := src[i:j]
			if _, err := strconv.ParseFloat(text, 64); err != nil {
				return nil, fmt.Errorf("invalid number %q", text)
			}
			if strings.HasPrefix(text, ".") {
				text = "0" + text
			}
			toks = append(toks, token{kind: tokNumber, text: text})
			i = j
		case isIdentStart(r):
			j := i + size
			for j < len(src) {
				r2, s2 := utf8.DecodeRuneInString(src[j:])
				if !isIdentPart(r2) {
					break
				}
				j += s2
			}
			toks = append(toks, token{kind: tokIdent, text: src[i:j]})
			i = j
		default:
			op := ""
			for _, candidate := range operators {
				if strings.HasPrefix(src[i:], candidate) {
					op = candidate
					break
				}
			}
			if op == "" {
				return nil, fmt.Errorf("unsupported character %q at offset %d", r, i)
			}
			if (op == "<" || op == ">") && i+1 < len(src) && src[i+1] == src[i] {
				return nil, fmt.Errorf("unsupported shift operator at offset %d", i)
			}
			toks = append(toks, token{kind: tokPunct, text: op})
			i += len(op)
		}
	}
	return toks, nil
}

// scanString decodes a quoted string literal and returns its value and the
// number of bytes consumed.
func scanString(src string) (string, int, error) {
	quote := src[0]
	var b strings.Builder
	i := 1
	for i < len(src) {
		c := src[i]
		switch {
		case c == quote:
			return b.String(), i + 1, nil
		case c == '\\':
			if i+1 >= len(src) {
				return "", 0, fmt.Errorf("unterminated escape")
			}
			i++
			switch src[i] {
			case 'n':
				b.WriteByte('\n')
			case 't':
				b.WriteByte('\t')
			case 'r':
				b.WriteByte('\r')
			case 'u':
				if i+4 >= len(src) {
					return "", 0, fmt.Errorf("invalid unicode escape")
				}
				code, err := strconv.ParseUint(src[i+1:i+5], 16, 32)
				if err != nil {
					return "", 0, fmt.Errorf("invalid unicode escape: %w", err)
				}
				b.WriteRune(rune(code))
				i += 4
			default:
				b.WriteByte(src[i])
			}
			i++
		default:
			b.WriteByte(c)
			i++
		}
	}
	return "", 0, fmt.Errorf("unterminated string literal")
}

func isDigit(r rune) bool { return r >= '0' && r <= '9' }

func isIdentStart(r rune) bool { return r == '_' || r == '$' || unicode.IsLetter(r) }

func isIdentPart(r rune) bool { return isIdentStart(r) || unicode.IsDigit(r) }

// endsOperand reports whether a token can end an operand, which decides
// whether a following '+' is binary.
func endsOperand(t token) bool {
	switch t.kind {
	case tokIdent, tokNumber, tokString:
		return true
	}
	return t.text == ")" || t.text == "]" || t.text == "}"
}

func rewriteUnaryPlus(toks []token) ([]token, error) {
	out := make([]token, 0, len(toks))
	for i := 0; i < len(toks); i++ {
		t := toks[i]
		unary := t.kind == tokPunct && t.text == "+" && (i == 0 || !endsOperand(toks[i-1]))
		if !unary {
			out = append(out, t)
			continue
		}
		end, err := operandEnd(toks, i+1)
		if err != nil {
			return nil, err
		}
		inner, err := rewriteUnaryPlus(toks[i+1 : end])
		if err != nil {
			return nil, err
		}
		out = append(out, token{kind: tokIdent, text: "toNumber"}, token{kind: tokPunct, text: "("})
		out = append(out, inner...)
		out = append(out, token{kind: tokPunct, text: ")"})
		i = end - 1
	}
	return out, nil
}

// operandEnd returns the index just past the unary operand starting at i.
func operandEnd(toks []token, i int) (int, error) {
	if i >= len(toks) {
		return 0, fmt.Errorf("missing operand")
	}
	t := toks[i]
	if t.kind == tokPunct {
		switch t.text {
		case "+", "-", "!":
			return operandEnd(toks, i+1)
		case "(", "[", "{":
			end, err := matchClose(toks, i)
			if err != nil {
				return 0, err
			}
			return postfixEnd(toks, end+1)
		}
		return 0, fmt.Errorf("unexpected %q after unary plus", t.text)
	}
	return postfixEnd(toks, i+1)
}

func postfixEnd(toks []token, j int) (int, error) {
	for j < len(toks) && toks[j].kind == tokPunct {
		switch toks[j].text {
		case ".":
			if j+1 >= len(toks) || toks[j+1].kind != tokIdent {
				return 0, fmt.Errorf("expected name after '.'")
			}
			j += 2
		case "[", "(":
			end, err := matchClose(toks, j)
			if err != nil {
				return 0, err
			}
			j = end + 1
		default:
			return j, nil
		}
	}
	return j, nil
}

func matchClose(toks []token, open int) (int, error) {
	pairs := map[string]string{"(": ")", "[": "]", "{": "}"}
	want := pairs[toks[open].text]
	depth := 0
	for j := open; j < len(toks); j++ {
		if toks[j].kind != tokPunct {
			continue
		}
		switch toks[j].text {
		case "(", "[", "{":
			depth++
		case ")", "]", "}":
			depth--
			if depth == 0 {
				if toks[j].text != want {
					return 0, fmt.Errorf("mismatched %q", toks[j].text)
				}
				return j, nil
			}
		}
	}
	return 0, fmt.Errorf("unbalanced %q", toks[open].text)
}

func emit(toks []token) string {
	var b strings.Builder
	for i, t := range toks {
		text := t.text
		switch t.kind {
		case tokString:
			text = quoteHCL(t.text)
		case tokIdent:
			if r, ok := renamed[t.text]; ok && i+1 < len(toks) && toks[i+1].text == "(" {
				text = r
			}
			text = strings.ReplaceAll(text, "$", "_")
		case tokPunct:
			switch text {
			case "===":
				text = "=="
			case "!==":
				text = "!="
			}
		}
		if i > 0 && needsSpace(toks[i-1], t) {
			b.WriteByte(' ')
		}
		b.WriteString(text)
	}
	return b.String()
}

func needsSpace(prev, cur token) bool {
	if prev.kind == tokPunct {
		switch prev.text {
		case ".", "(", "[":
			return false
		}
	}
	if cur.kind == tokPunct {
		switch cur.text {
		case ".", ")", "]", ",":
			return false
		case "(", "[":
			return !endsOperand(prev)
		}
	}
	return true
}

// quoteHCL renders s as an HCL quoted template with no interpolation.
func quoteHCL(s string) string {
	var b strings.Builder
	b.WriteByte('"')
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch c {
		case '"':
			b.WriteString(`\"`)
		case '\\':
			b.WriteString(`\\`)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		case '\t':
			b.WriteString(`\t`)
		case '$', '%':
			b.WriteByte(c)
			if i+1 < len(s) && s[i+1] == '{' {
				b.WriteByte(c)
			}
		default:
			b.WriteByte(c)
		}
	}
	b.WriteByte('"')
	return b.String()
}
