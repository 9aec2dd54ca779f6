package engine

import "strings"

// Some collaborators report full language names ("English", "ukrainian")
// instead of ISO codes. The table covers the names seen in the wild; unknown
// names fall back to a lowercased two-letter truncation.
var languageNameToCode = map[string]string{
	"english":    "en",
	"spanish":    "es",
	"french":     "fr",
	"german":     "de",
	"italian":    "it",
	"portuguese": "pt",
	"dutch":      "nl",
	"polish":     "pl",
	"russian":    "ru",
	"ukrainian":  "uk",
	"czech":      "cs",
	"swedish":    "sv",
	"norwegian":  "no",
	"danish":     "da",
	"finnish":    "fi",
	"turkish":    "tr",
	"arabic":     "ar",
	"hebrew":     "he",
	"hindi":      "hi",
	"chinese":    "zh",
	"japanese":   "ja",
	"korean":     "ko",
	"vietnamese": "vi",
	"indonesian": "id",
	"thai":       "th",
	"greek":      "el",
	"romanian":   "ro",
	"hungarian":  "hu",
	"bulgarian":  "bg",
	"catalan":    "ca",
}

// NormalizeLanguage maps a language name or code to a lowercase ISO 639-1
// code. Empty input stays empty.
func NormalizeLanguage(value string) string {
	v := strings.ToLower(strings.TrimSpace(value))
	if v == "" {
		return ""
	}
	if len(v) == 2 {
		return v
	}
	if code, ok := languageNameToCode[v]; ok {
		return code
	}
	if len(v) > 2 {
		return v[:2]
	}
	return v
}
