package planner

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

var fencedJSON = regexp.MustCompile("(?s)```json\\s*(\\{.*?\\})\\s*```")

// ExtractJSON pulls the JSON object out of an LLM reply. Models in JSON mode
// still wrap output in prose or code fences often enough that strict parsing
// alone loses missions. Resolution order: the whole reply as JSON, then a
// fenced json block, then the first balanced object span.
func ExtractJSON(raw string) ([]byte, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, fmt.Errorf("no JSON object found in the response")
	}
	if strings.HasPrefix(trimmed, "{") && json.Valid([]byte(trimmed)) {
		return []byte(trimmed), nil
	}
	if m := fencedJSON.FindStringSubmatch(trimmed); m != nil && json.Valid([]byte(m[1])) {
		return []byte(m[1]), nil
	}
	if span := balancedObject(trimmed); span != "" && json.Valid([]byte(span)) {
		return []byte(span), nil
	}
	return nil, fmt.Errorf("no JSON object found in the response")
}

// balancedObject returns the first {...} span with balanced braces, skipping
// braces inside string literals.
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

// DecodeInto extracts the JSON object from an LLM reply and unmarshals it.
func DecodeInto(raw string, v any) error {
	data, err := ExtractJSON(raw)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode LLM reply: %w", err)
	}
	return nil
}
