package importers

import (
	"encoding/json"
	"path/filepath"
	"strings"
)

// DetectFormat classifies raw input into one of the supported formats.
// It is a pure function of (content, filename) and never fails: input that
// matches nothing is reported as FormatUnsupported, which callers must treat
// as a normal outcome.
//
// The extension is tried first. When it is absent or ambiguous, content
// heuristics run in a fixed order: delimited text, survey markup, clinical
// document, structured document. Survey documents often also satisfy the
// clinical-document test (they embed one), so markup must be checked first.
func DetectFormat(content []byte, filename string) Format {
	text := string(content)

	switch strings.ToLower(filepath.Ext(filename)) {
	case ".csv":
		return FormatCSV
	case ".html", ".htm":
		return FormatSurvey
	case ".json":
		// A .json file may be either a structured document or a clinical
		// document; the resourceType marker decides.
		if looksLikeClinicalDocument(text) {
			return FormatCDA
		}
		if isSingleJSONValue(content) {
			return FormatJSON
		}
		return FormatUnsupported
	case ".xml":
		if looksLikeClinicalDocument(text) {
			return FormatCDA
		}
	}

	// No extension or an ambiguous one (.txt etc.): sniff the content.
	if looksLikeDelimitedText(text) {
		return FormatCSV
	}
	if looksLikeSurveyMarkup(text) {
		return FormatSurvey
	}
	if looksLikeClinicalDocument(text) {
		return FormatCDA
	}
	if isSingleJSONValue(content) {
		return FormatJSON
	}
	return FormatUnsupported
}

// looksLikeDelimitedText reports whether the first non-empty line repeats a
// candidate field separator at least twice.
func looksLikeDelimitedText(text string) bool {
	line := firstNonEmptyLine(text)
	if line == "" {
		return false
	}
	// Markup and JSON openers are never CSV headers even when they contain
	// commas.
	trimmed := strings.TrimSpace(line)
	if strings.HasPrefix(trimmed, "<") || strings.HasPrefix(trimmed, "{") || strings.HasPrefix(trimmed, "[") {
		return false
	}
	for _, sep := range []string{",", ";", "|", "\t"} {
		if strings.Count(line, sep) >= 2 {
			return true
		}
	}
	return false
}

func looksLikeSurveyMarkup(text string) bool {
	lower := strings.ToLower(text)
	for _, tag := range []string{"<!doctype html", "<html", "<form", "<survey"} {
		if strings.Contains(lower, tag) {
			return true
		}
	}
	// A script block wrapping a clinical-document payload is still a survey.
	if strings.Contains(lower, "<script") && strings.Contains(text, `"resourceType"`) {
		return true
	}
	return false
}

func looksLikeClinicalDocument(text string) bool {
	if strings.Contains(text, `"resourceType"`) {
		return true
	}
	return strings.Contains(strings.ToLower(text), "<clinicaldocument")
}

func isSingleJSONValue(content []byte) bool {
	var v any
	return json.Unmarshal(content, &v) == nil
}

func firstNonEmptyLine(text string) string {
	for _, line := range strings.Split(text, "\n") {
		if strings.TrimSpace(line) != "" {
			return line
		}
	}
	return ""
}
