// Package response resolves response templates against a destination's reply.
//
// A template is text containing zero or more $json:<path>$ spans. Each path is
// evaluated as the JSONPath expression $.<path> against the parsed response
// body, and the span is replaced by the first match.
package response

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/ohler55/ojg/jp"
	"github.com/ohler55/ojg/oj"
)

// ErrInvalidJSON is returned when a template with query spans is rendered
// against a body that does not parse as JSON.
var ErrInvalidJSON = errors.New("response body is not valid JSON")

var queryPattern = regexp.MustCompile(`\$json:([^$]+)\$`)

// HasQuery reports whether template contains at least one query span.
func HasQuery(template string) bool {
	return queryPattern.MatchString(template)
}

// Render substitutes every query span in template with its value in body.
//
// A template without spans is returned unchanged and body is not inspected.
// Paths that do not resolve substitute the empty string. If body is not
// valid JSON every span substitutes the empty string and the rendered text is
// returned together with an error wrapping ErrInvalidJSON.
func Render(template string, body []byte) (string, error) {
	if !HasQuery(template) {
		return template, nil
	}

	doc, parseErr := oj.Parse(body)
	if parseErr != nil {
		slog.Warn("response template against invalid JSON", "template", template, "error", parseErr)
		return queryPattern.ReplaceAllString(template, ""), fmt.Errorf("%w: %v", ErrInvalidJSON, parseErr)
	}

	result := queryPattern.ReplaceAllStringFunc(template, func(span string) string {
		path := queryPattern.FindStringSubmatch(span)[1]
		value, err := evaluate(doc, path)
		if err != nil {
			slog.Warn("response template path did not resolve", "path", path, "error", err)
			return ""
		}
		return value
	})
	return result, nil
}

func evaluate(doc any, path string) (string, error) {
	expr, err := jp.ParseString("$." + path)
	if err != nil {
		return "", fmt.Errorf("parse path: %w", err)
	}

	matches := expr.Get(doc)
	if len(matches) == 0 {
		return "", fmt.Errorf("no match for %q", path)
	}
	return stringForm(matches[0])
}

// stringForm returns the JSON text of value with one layer of quoting removed
// from strings. Single-element string arrays, which some older destinations
// return for scalar fields, are unwrapped the same way.
func stringForm(value any) (string, error) {
	if list, ok := value.([]any); ok && len(list) == 1 {
		if s, ok := list[0].(string); ok {
			return s, nil
		}
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(value); err != nil {
		return "", fmt.Errorf("encode match: %w", err)
	}
	text := strings.TrimSuffix(buf.String(), "\n")

	if len(text) >= 2 && text[0] == '"' && text[len(text)-1] == '"' {
		var s string
		if err := json.Unmarshal([]byte(text), &s); err == nil {
			return s, nil
		}
		return text[1 : len(text)-1], nil
	}
	return text, nil
}
