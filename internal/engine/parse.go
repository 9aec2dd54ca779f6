package engine

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Engine output schemas drift across server versions. Known field locations
// are data: each field is probed along an ordered path list and the first
// non-empty hit wins. New shapes get a new path entry, not new control flow.
var (
	textPaths = [][]string{
		{"text"},
		{"result", "text"},
		{"transcription", "text"},
	}
	languagePaths = [][]string{
		{"language"},
		{"detected_language"},
		{"result", "language"},
	}
	confidencePaths = [][]string{
		{"confidence"},
		{"language_probability"},
		{"result", "confidence"},
	}
)

// ParseJSON normalizes a raw engine response body. A body that is not valid
// JSON is taken as a bare transcript string.
func ParseJSON(raw []byte) (Result, error) {
	var value any
	if err := json.Unmarshal(raw, &value); err != nil {
		return Parse(strings.TrimSpace(string(raw)))
	}
	return Parse(value)
}

// Parse normalizes a decoded engine response. Accepted inputs are a plain
// string or a structured value; anything else fails as unusable output.
func Parse(value any) (Result, error) {
	switch v := value.(type) {
	case string:
		if strings.TrimSpace(v) == "" {
			return Result{}, fmt.Errorf("empty transcript: %w", ErrNoUsableText)
		}
		return Result{Text: strings.TrimSpace(v)}, nil
	case map[string]any:
		return parseStructured(v)
	default:
		return Result{}, fmt.Errorf("unsupported engine output type %T: %w", value, ErrNoUsableText)
	}
}

func parseStructured(obj map[string]any) (Result, error) {
	var res Result

	for _, path := range textPaths {
		if text, ok := lookupString(obj, path); ok && strings.TrimSpace(text) != "" {
			res.Text = strings.TrimSpace(text)
			break
		}
	}
	if res.Text == "" {
		res.Text = joinSegments(obj)
	}
	if res.Text == "" {
		return Result{}, fmt.Errorf("probed %d text paths: %w", len(textPaths)+1, ErrNoUsableText)
	}

	for _, path := range languagePaths {
		if lang, ok := lookupString(obj, path); ok && strings.TrimSpace(lang) != "" {
			res.DetectedLanguage = NormalizeLanguage(lang)
			break
		}
	}
	for _, path := range confidencePaths {
		if conf, ok := lookupFloat(obj, path); ok {
			res.Confidence = conf
			break
		}
	}
	return res, nil
}

// joinSegments handles servers that only return a segment list.
func joinSegments(obj map[string]any) string {
	segments, ok := obj["segments"].([]any)
	if !ok {
		return ""
	}
	var parts []string
	for _, seg := range segments {
		m, ok := seg.(map[string]any)
		if !ok {
			continue
		}
		if text, ok := m["text"].(string); ok && strings.TrimSpace(text) != "" {
			parts = append(parts, strings.TrimSpace(text))
		}
	}
	return strings.Join(parts, " ")
}

func lookupString(obj map[string]any, path []string) (string, bool) {
	value, ok := lookup(obj, path)
	if !ok {
		return "", false
	}
	s, ok := value.(string)
	return s, ok
}

func lookupFloat(obj map[string]any, path []string) (float64, bool) {
	value, ok := lookup(obj, path)
	if !ok {
		return 0, false
	}
	f, ok := value.(float64)
	return f, ok
}

func lookup(obj map[string]any, path []string) (any, bool) {
	var current any = obj
	for _, key := range path {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = m[key]
		if !ok {
			return nil, false
		}
	}
	return current, true
}
