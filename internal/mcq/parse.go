package mcq

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
)

// ErrParse reports that a model response could not be parsed into an Item.
// It is recoverable and treated like a validation failure by the retry
// controller.
var ErrParse = errors.New("mcq: response is not a parseable item")

// Parse extracts an Item from raw model output. It tolerates markdown code
// fences and prose around the JSON object, and unwraps a single-element
// array when the model returns one.
func Parse(raw string) (*Item, error) {
	payload := extractJSON(raw)
	if payload == "" {
		return nil, fmt.Errorf("%w: no JSON object in response", ErrParse)
	}

	if strings.HasPrefix(payload, "[") {
		var items []Item
		if err := json.Unmarshal([]byte(payload), &items); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrParse, err)
		}
		if len(items) == 0 {
			return nil, fmt.Errorf("%w: response is an empty list", ErrParse)
		}
		logrus.Warn("Model returned a list of items; using the first one")
		return &items[0], nil
	}

	var item Item
	if err := json.Unmarshal([]byte(payload), &item); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParse, err)
	}
	return &item, nil
}

// extractJSON strips code fences and surrounding prose, returning the first
// balanced JSON object or array in the text.
func extractJSON(raw string) string {
	text := strings.TrimSpace(raw)
	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```json")
		text = strings.TrimPrefix(text, "```")
		if end := strings.LastIndex(text, "```"); end >= 0 {
			text = text[:end]
		}
		text = strings.TrimSpace(text)
	}

	start := strings.IndexAny(text, "{[")
	if start < 0 {
		return ""
	}
	open := text[start]
	var close byte = '}'
	if open == '[' {
		close = ']'
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
		switch {
		case escaped:
			escaped = false
		case c == '\\' && inString:
			escaped = true
		case c == '"':
			inString = !inString
		case !inString && (c == open):
			depth++
		case !inString && (c == close):
			depth--
			if depth == 0 {
				return text[start : i+1]
			}
		}
	}
	return ""
}
