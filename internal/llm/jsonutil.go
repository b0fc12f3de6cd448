package llm

import (
	"regexp"
	"strings"
)

var fencePattern = regexp.MustCompile("(?s)```(?:json|JSON)?\\s*(.*?)```")

// ExtractJSON pulls the first JSON object out of a model response. It
// accepts bare objects, objects wrapped in markdown code fences and objects
// surrounded by prose, and removes trailing commas. It returns "" when no
// balanced object is found.
func ExtractJSON(content string) string {
	if m := fencePattern.FindStringSubmatch(content); len(m) > 1 {
		if obj := balancedObject(m[1]); obj != "" {
			return cleanJSON(obj)
		}
	}
	obj := balancedObject(content)
	if obj == "" {
		return ""
	}
	return cleanJSON(obj)
}

// balancedObject returns the first {...} span with matching braces,
// skipping braces that appear inside string literals.
func balancedObject(s string) string {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return ""
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
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

// cleanJSON drops commas that directly precede a closing brace or bracket.
// Text inside string literals is copied unchanged.
func cleanJSON(raw string) string {
	var b strings.Builder
	b.Grow(len(raw))
	inString := false
	escaped := false
	for i := 0; i < len(raw); i++ {
		c := raw[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			b.WriteByte(c)
			continue
		}
		if c == ',' && closesNext(raw[i+1:]) {
			continue
		}
		if c == '"' {
			inString = true
		}
		b.WriteByte(c)
	}
	return strings.TrimSpace(b.String())
}

// closesNext reports whether the first non-space byte of s ends an object
// or array.
func closesNext(s string) bool {
	rest := strings.TrimLeft(s, " \t\r\n")
	return rest != "" && (rest[0] == '}' || rest[0] == ']')
}
