package loop

import "strings"

// ExtractStatement pulls the SQL statement out of generator output. Models
// usually return bare SQL, but some wrap it in a code fence or prefix it with
// prose despite instructions.
func ExtractStatement(content string) string {
	text := strings.TrimSpace(content)
	if text == "" {
		return ""
	}

	if idx := strings.Index(text, "```"); idx >= 0 {
		text = text[idx+3:]
		if end := strings.Index(text, "```"); end >= 0 {
			text = text[:end]
		}
		text = strings.TrimSpace(text)
		// fence language tag
		if lower := strings.ToLower(text); strings.HasPrefix(lower, "sql") {
			text = strings.TrimSpace(text[3:])
		}
	}

	// Drop prose before the statement itself.
	if start := statementStart(strings.ToLower(text)); start > 0 {
		text = text[start:]
	}

	return strings.TrimSpace(text)
}

// statementStart locates where the statement begins in possibly
// prose-prefixed text. A WITH anchors the statement only when it actually
// opens a CTE, so prose like "With pleasure:" does not shield the prefix.
func statementStart(lower string) int {
	sel := wordIndex(lower, "select")
	if sel < 0 {
		return 0
	}
	if w := wordIndex(lower[:sel], "with"); w >= 0 && opensCTE(lower[w:]) {
		return w
	}
	return sel
}

// wordIndex returns the offset of the first whole-word occurrence of word.
func wordIndex(s, word string) int {
	for from := 0; ; {
		idx := strings.Index(s[from:], word)
		if idx < 0 {
			return -1
		}
		idx += from
		end := idx + len(word)
		if (idx == 0 || !isWordChar(s[idx-1])) && (end >= len(s) || !isWordChar(s[end])) {
			return idx
		}
		from = end
	}
}

// opensCTE reports whether s, starting at "with", reads as
// WITH [RECURSIVE] name AS (.
func opensCTE(s string) bool {
	rest := strings.TrimSpace(s[len("with"):])
	if strings.HasPrefix(rest, "recursive") {
		rest = strings.TrimSpace(rest[len("recursive"):])
	}
	i := 0
	for i < len(rest) && isWordChar(rest[i]) {
		i++
	}
	if i == 0 {
		return false
	}
	rest = strings.TrimSpace(rest[i:])
	if !strings.HasPrefix(rest, "as") {
		return false
	}
	rest = strings.TrimSpace(rest[len("as"):])
	return strings.HasPrefix(rest, "(")
}

func isWordChar(c byte) bool {
	return c == '_' || ('a' <= c && c <= 'z') || ('0' <= c && c <= '9')
}
