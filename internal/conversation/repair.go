package conversation

import (
	"encoding/json"
	"regexp"
	"strings"
	"unicode"
)

// RepairJSON coerces near-JSON model output into a map. It never fails:
// malformed input yields the best guess it can assemble, possibly an empty
// map. Callers validate required keys afterwards.
//
// Recovery order: direct parse, markdown fence stripping, embedded object
// extraction, then a syntax-fixing pass (trailing commas, unquoted keys,
// single quotes, python literals).
func RepairJSON(raw string) map[string]any {
	text := strings.TrimSpace(raw)
	if text == "" {
		return map[string]any{}
	}

	if m, ok := tryParseObject(text); ok {
		return m
	}

	stripped := stripMarkdownFences(text)
	if m, ok := tryParseObject(stripped); ok {
		return m
	}

	// Largest candidate first: models often emit prose around the object.
	for _, cand := range jsonCandidates(stripped) {
		if m, ok := tryParseObject(cand); ok {
			return m
		}
		if m, ok := tryParseObject(fixJSONSyntax(cand)); ok {
			return m
		}
	}

	if m, ok := tryParseObject(fixJSONSyntax(stripped)); ok {
		return m
	}
	return map[string]any{}
}

func tryParseObject(text string) (map[string]any, bool) {
	var m map[string]any
	if err := json.Unmarshal([]byte(text), &m); err != nil || m == nil {
		return nil, false
	}
	return m, true
}

func stripMarkdownFences(text string) string {
	t := strings.TrimSpace(text)
	if idx := strings.Index(t, "```"); idx >= 0 {
		t = t[idx+3:]
		t = strings.TrimPrefix(t, "json")
		t = strings.TrimPrefix(t, "JSON")
		if end := strings.LastIndex(t, "```"); end >= 0 {
			t = t[:end]
		}
	}
	return strings.TrimSpace(t)
}

// jsonCandidates scans for balanced top-level {...} spans, ignoring braces
// inside string literals, and returns them longest first.
func jsonCandidates(text string) []string {
	var candidates []string
	depth := 0
	start := -1
	inString := false
	escape := false

	for i := 0; i < len(text); i++ {
		ch := text[i]
		if escape {
			escape = false
			continue
		}
		switch ch {
		case '\\':
			if inString {
				escape = true
			}
		case '"':
			inString = !inString
		case '{':
			if !inString {
				if depth == 0 {
					start = i
				}
				depth++
			}
		case '}':
			if !inString && depth > 0 {
				depth--
				if depth == 0 && start >= 0 {
					candidates = append(candidates, text[start:i+1])
					start = -1
				}
			}
		}
	}
	// Unterminated object: close it and take it as a candidate too.
	if depth > 0 && start >= 0 {
		candidates = append(candidates, text[start:]+strings.Repeat("}", depth))
	}

	for i := 0; i < len(candidates); i++ {
		for j := i + 1; j < len(candidates); j++ {
			if len(candidates[j]) > len(candidates[i]) {
				candidates[i], candidates[j] = candidates[j], candidates[i]
			}
		}
	}
	return candidates
}

var (
	trailingCommaRE = regexp.MustCompile(`,\s*([}\]])`)
	unquotedKeyRE   = regexp.MustCompile(`([{,]\s*)([A-Za-z_][A-Za-z0-9_]*)\s*:`)
)

// fixJSONSyntax repairs the deviations models produce most often. It works
// on a copy and is safe to call on already-valid JSON.
func fixJSONSyntax(text string) string {
	t := trailingCommaRE.ReplaceAllString(text, "$1")
	t = unquotedKeyRE.ReplaceAllString(t, `$1"$2":`)
	t = replaceSingleQuotes(t)
	t = strings.ReplaceAll(t, ": True", ": true")
	t = strings.ReplaceAll(t, ": False", ": false")
	t = strings.ReplaceAll(t, ": None", ": null")
	return t
}

// replaceSingleQuotes swaps single-quoted strings for double-quoted ones
// when the text contains no double-quoted strings at all (a python repr).
func replaceSingleQuotes(text string) string {
	if strings.ContainsRune(text, '"') {
		return text
	}
	var b strings.Builder
	b.Grow(len(text))
	inString := false
	for i := 0; i < len(text); i++ {
		ch := text[i]
		if ch == '\'' {
			// An apostrophe inside a word stays.
			if inString && i+1 < len(text) && isWordByte(text[i+1]) && i > 0 && isWordByte(text[i-1]) {
				b.WriteByte(ch)
				continue
			}
			inString = !inString
			b.WriteByte('"')
			continue
		}
		b.WriteByte(ch)
	}
	return b.String()
}

func isWordByte(b byte) bool {
	return b < 128 && (unicode.IsLetter(rune(b)) || unicode.IsDigit(rune(b)))
}
