package validate

import (
	"fmt"
	"strings"
	"unicode"
)

// tokKind distinguishes the token classes the validator cares about.
type tokKind int

const (
	tokWord   tokKind = iota // bare or double-quoted identifier / keyword
	tokNumber                // numeric literal
	tokString                // single-quoted string literal (content dropped)
	tokSymbol                // single punctuation rune
)

type token struct {
	kind tokKind
	text string // lowercase for words, literal for symbols
}

// lexSQL tokenizes a statement just far enough for safety and schema checks:
// string literals and comments are consumed so keywords inside them are never
// mistaken for verbs.
func lexSQL(stmt string) ([]token, error) {
	var toks []token
	runes := []rune(stmt)
	i := 0
	n := len(runes)

	for i < n {
		r := runes[i]
		switch {
		case unicode.IsSpace(r):
			i++

		case r == '-' && i+1 < n && runes[i+1] == '-':
			for i < n && runes[i] != '\n' {
				i++
			}

		case r == '/' && i+1 < n && runes[i+1] == '*':
			i += 2
			for i+1 < n && !(runes[i] == '*' && runes[i+1] == '/') {
				i++
			}
			if i+1 >= n {
				return nil, fmt.Errorf("unterminated block comment")
			}
			i += 2

		case r == '\'':
			i++
			for i < n {
				if runes[i] == '\'' {
					if i+1 < n && runes[i+1] == '\'' { // escaped quote
						i += 2
						continue
					}
					break
				}
				i++
			}
			if i >= n {
				return nil, fmt.Errorf("unterminated string literal")
			}
			i++
			toks = append(toks, token{kind: tokString})

		case r == '$':
			end, err := consumeDollarQuoted(runes, i)
			if err != nil {
				return nil, err
			}
			if end > i {
				toks = append(toks, token{kind: tokString})
				i = end
				continue
			}
			toks = append(toks, token{kind: tokSymbol, text: "$"})
			i++

		case r == '"':
			i++
			start := i
			for i < n && runes[i] != '"' {
				i++
			}
			if i >= n {
				return nil, fmt.Errorf("unterminated quoted identifier")
			}
			toks = append(toks, token{kind: tokWord, text: strings.ToLower(string(runes[start:i]))})
			i++

		case isIdentStart(r):
			start := i
			for i < n && isIdentPart(runes[i]) {
				i++
			}
			toks = append(toks, token{kind: tokWord, text: strings.ToLower(string(runes[start:i]))})

		case unicode.IsDigit(r):
			for i < n && (unicode.IsDigit(runes[i]) || runes[i] == '.') {
				i++
			}
			toks = append(toks, token{kind: tokNumber})

		default:
			toks = append(toks, token{kind: tokSymbol, text: string(r)})
			i++
		}
	}
	return toks, nil
}

// consumeDollarQuoted handles PostgreSQL dollar-quoted literals ($$...$$ and
// $tag$...$tag$). Returns the index just past the closing delimiter, or start
// unchanged when runes[start] does not open a dollar quote (e.g. a positional
// parameter like $1).
func consumeDollarQuoted(runes []rune, start int) (int, error) {
	n := len(runes)
	j := start + 1
	for j < n && (runes[j] == '_' || unicode.IsLetter(runes[j])) {
		j++
	}
	if j >= n || runes[j] != '$' {
		return start, nil
	}
	delim := string(runes[start : j+1])
	for k := j + 1; k+len([]rune(delim)) <= n; k++ {
		if string(runes[k:k+len([]rune(delim))]) == delim {
			return k + len([]rune(delim)), nil
		}
	}
	return 0, fmt.Errorf("unterminated dollar-quoted string")
}

func isIdentStart(r rune) bool {
	return r == '_' || unicode.IsLetter(r)
}

func isIdentPart(r rune) bool {
	return r == '_' || r == '$' || unicode.IsLetter(r) || unicode.IsDigit(r)
}
