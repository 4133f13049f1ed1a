package llm

import (
	"encoding/json"
	"errors"
	"strings"

	"pkt.systems/termai/schema"
)

// ErrNoJSON reports that the model text holds no JSON object.
var ErrNoJSON = errors.New("no JSON object in model response")

// ParseAgentResponse extracts the first complete JSON object from model
// text and decodes it. Models wrap objects in prose or code fences often
// enough that plain unmarshalling is not an option.
func ParseAgentResponse(text string) (*schema.ParsedAgentResponse, error) {
	payload, err := extractObject(text)
	if err != nil {
		return nil, err
	}
	var resp schema.ParsedAgentResponse
	if err := json.Unmarshal([]byte(payload), &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// extractObject returns the first balanced top-level JSON object,
// respecting string literals and escapes.
func extractObject(text string) (string, error) {
	start := strings.IndexByte(text, '{')
	if start < 0 {
		return "", ErrNoJSON
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
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
				return text[start : i+1], nil
			}
		}
	}
	return "", ErrNoJSON
}
