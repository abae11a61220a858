// Package runlog provides pure helpers for interpreting remote workflow run
// logs: payload normalization and deployment URL extraction.
package runlog

import (
	"encoding/json"
	"regexp"
	"strings"
	"unicode/utf8"
)

// urlMarker matches the line the deploy workflow prints on success, e.g.
// "Deployment URL: https://app-abc.example.dev".
var urlMarker = regexp.MustCompile(`Deployment URL:\s*(https?://\S+)`)

// ExtractDeploymentURL scans log text for the deployment URL marker. Returns
// the URL and true when found.
func ExtractDeploymentURL(logs string) (string, bool) {
	m := urlMarker.FindStringSubmatch(logs)
	if m == nil {
		return "", false
	}
	return strings.TrimRight(m[1], `.,;)"'`), true
}

// DecodePayload normalizes a log payload into plain text. Providers return
// plain text, JSON-wrapped strings, or structured JSON depending on endpoint
// and error path; binary content is replaced rather than propagated.
func DecodePayload(payload []byte) string {
	if len(payload) == 0 {
		return ""
	}

	trimmed := strings.TrimSpace(string(payload))

	// A JSON string or object wrapping the log body.
	if strings.HasPrefix(trimmed, `"`) {
		var s string
		if err := json.Unmarshal([]byte(trimmed), &s); err == nil {
			return s
		}
	}
	if strings.HasPrefix(trimmed, "{") || strings.HasPrefix(trimmed, "[") {
		var v any
		if err := json.Unmarshal([]byte(trimmed), &v); err == nil {
			if s := stringFromJSON(v); s != "" {
				return s
			}
			return trimmed
		}
	}

	if !utf8.ValidString(trimmed) {
		return strings.ToValidUTF8(trimmed, "�")
	}
	return trimmed
}

// stringFromJSON pulls log text out of common structured payload shapes.
func stringFromJSON(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case map[string]any:
		for _, key := range []string{"logs", "log", "message", "content"} {
			if s, ok := val[key].(string); ok {
				return s
			}
		}
	case []any:
		var lines []string
		for _, item := range val {
			if s, ok := item.(string); ok {
				lines = append(lines, s)
			}
		}
		if len(lines) > 0 {
			return strings.Join(lines, "\n")
		}
	}
	return ""
}
