package directive

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"
)

var fencedJSON = regexp.MustCompile("(?s)```(?:json|JSON)?\\s*(.*?)```")

// maxUnwrap bounds how many layers of string quoting RecoverJSON peels.
const maxUnwrap = 2

// RecoverJSON salvages a JSON object from loosely formatted model output.
// It tries, in order: a strict parse, the first fenced ```json block, the
// first balanced {...} span, and unwrapping a quoted string literal. When
// every strategy fails it returns an empty, non-nil map and false.
func RecoverJSON(body string) (map[string]any, bool) {
	return recoverJSON(body, 0)
}

func recoverJSON(body string, depth int) (map[string]any, bool) {
	body = strings.TrimSpace(body)
	if body == "" {
		return map[string]any{}, false
	}

	if m, ok := strictObject(body); ok {
		return m, true
	}

	if match := fencedJSON.FindStringSubmatch(body); match != nil {
		if m, ok := strictObject(strings.TrimSpace(match[1])); ok {
			return m, true
		}
	}

	if span := balancedObject(body); span != "" {
		if m, ok := strictObject(span); ok {
			return m, true
		}
	}

	if depth < maxUnwrap {
		if inner, ok := unquote(body); ok {
			return recoverJSON(inner, depth+1)
		}
	}

	return map[string]any{}, false
}

func strictObject(s string) (map[string]any, bool) {
	var m map[string]any
	if err := json.Unmarshal([]byte(s), &m); err != nil || m == nil {
		return nil, false
	}
	return m, true
}

// balancedObject returns the first {...} span whose braces balance,
// ignoring braces inside string literals. It returns "" when the object
// never closes.
func balancedObject(s string) string {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return ""
	}

	depth := 0
	inString := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch c {
			case '\\':
				i++
			case '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1]
			}
		}
	}
	return ""
}

// unquote strips one layer of double or single quotes.
func unquote(s string) (string, bool) {
	if len(s) < 2 {
		return "", false
	}
	first, last := s[0], s[len(s)-1]
	switch {
	case first == '"' && last == '"':
		if inner, err := strconv.Unquote(s); err == nil {
			return inner, true
		}
		return s[1 : len(s)-1], true
	case first == '\'' && last == '\'':
		return s[1 : len(s)-1], true
	}
	return "", false
}
