package importers

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/clinsync/clinsync/internal/entities"
)

// QuestionnaireConceptCode identifies the synthetic "whole questionnaire"
// observation every survey import produces. It is seeded into the concept
// dictionary so the observation always passes the concept gate.
const QuestionnaireConceptCode = "QUESTIONNAIRE"

// Assignment markers that precede the embedded payload inside the markup.
var surveyAssignmentMarkers = []string{
	"formData",
	"surveyData",
	"questionnaireResponse",
	"clinicalDocument",
}

// surveyItem is the simplified shape each questionnaire entry is
// re-serialized into for the whole-questionnaire blob.
type surveyItem struct {
	Label  string `json:"label"`
	Type   string `json:"type"`
	Value  any    `json:"value"`
	Coding string `json:"coding,omitempty"`
}

// SurveyNormalizer extracts an embedded clinical-document payload from
// free-form markup and delegates to the clinical-document transformation.
type SurveyNormalizer struct{}

func NewSurveyNormalizer() *SurveyNormalizer {
	return &SurveyNormalizer{}
}

func (n *SurveyNormalizer) Normalize(content []byte, filename string) (*Bundle, *Report, error) {
	report := &Report{}

	payload, ok := ExtractEmbeddedPayload(string(content))
	if !ok {
		return nil, report, ErrNoPayloadFound
	}

	var doc clinicalDocument
	if err := json.Unmarshal([]byte(payload), &doc); err != nil {
		// The embedded literal is often written in loose object-literal
		// syntax (unquoted keys, single quotes, trailing commas). Re-quote
		// it and try once more before giving up.
		normalized := NormalizeLooseLiteral(payload)
		if err := json.Unmarshal([]byte(normalized), &doc); err != nil {
			return nil, report, fmt.Errorf("%w: embedded literal is not parseable", ErrNoPayloadFound)
		}
		payload = normalized
	}
	if len(doc.Sections) == 0 {
		return nil, report, fmt.Errorf("%w: embedded payload has no sections", ErrNoPayloadFound)
	}

	bundle := NewBundle(FormatSurvey, filename)
	bundle.Metadata.ExportDate = doc.Date

	// The whole-questionnaire observation comes first, so every survey
	// import yields exactly one queryable top-level record even when no
	// individual entry is codeable.
	whole := ObservationRecord{
		ID:          1,
		PatientID:   1,
		ConceptCode: QuestionnaireConceptCode,
	}
	whole.SetValue(entities.ValueTypeQuestionnaire, nil, doc.Title, "", serializeSurveyItems(&doc))
	bundle.Data.Observations = append(bundle.Data.Observations, whole)

	transformClinicalDocument(&doc, bundle, report)
	bundle.Data.Observations[0].PatientCode = bundle.Data.Patients[0].Code

	bundle.Seal()
	return bundle, report, nil
}

// ExtractEmbeddedPayload locates the object literal following a recognized
// assignment marker and returns it. Extraction counts brace depth over the
// character stream rather than matching with a regular expression: the
// payload can contain free text with braces of its own, and only an explicit
// depth counter that is aware of string literals balances them reliably.
func ExtractEmbeddedPayload(markup string) (string, bool) {
	start := -1
	for _, marker := range surveyAssignmentMarkers {
		idx := strings.Index(markup, marker)
		if idx < 0 {
			continue
		}
		brace := strings.IndexByte(markup[idx:], '{')
		if brace < 0 {
			continue
		}
		candidate := idx + brace
		if start < 0 || candidate < start {
			start = candidate
		}
	}
	if start < 0 {
		return "", false
	}

	depth := 0
	inString := false
	var quote byte
	for i := start; i < len(markup); i++ {
		ch := markup[i]
		if inString {
			switch ch {
			case '\\':
				i++
			case quote:
				inString = false
			}
			continue
		}
		switch ch {
		case '"', '\'':
			inString = true
			quote = ch
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return markup[start : i+1], true
			}
		}
	}
	return "", false
}

// NormalizeLooseLiteral rewrites a loosely-quoted object literal into strict
// JSON: unquoted keys get quoted, single-quoted strings become
// double-quoted, trailing commas are dropped.
func NormalizeLooseLiteral(literal string) string {
	var sb strings.Builder
	i := 0
	n := len(literal)

	for i < n {
		ch := literal[i]
		switch {
		case ch == '"':
			// Copy a strict string verbatim.
			sb.WriteByte(ch)
			i++
			for i < n {
				sb.WriteByte(literal[i])
				if literal[i] == '\\' && i+1 < n {
					i++
					sb.WriteByte(literal[i])
				} else if literal[i] == '"' {
					i++
					break
				}
				i++
			}
		case ch == '\'':
			// Re-quote a single-quoted string.
			sb.WriteByte('"')
			i++
			for i < n && literal[i] != '\'' {
				if literal[i] == '\\' && i+1 < n {
					if literal[i+1] == '\'' {
						// \' is not a valid JSON escape; emit a bare quote.
						sb.WriteByte('\'')
						i += 2
						continue
					}
					sb.WriteByte(literal[i])
					i++
				} else if literal[i] == '"' {
					sb.WriteString(`\"`)
					i++
					continue
				}
				sb.WriteByte(literal[i])
				i++
			}
			sb.WriteByte('"')
			i++
		case ch == ',':
			// Drop the comma if only whitespace separates it from a
			// closing brace or bracket.
			j := i + 1
			for j < n && (literal[j] == ' ' || literal[j] == '\t' || literal[j] == '\n' || literal[j] == '\r') {
				j++
			}
			if j < n && (literal[j] == '}' || literal[j] == ']') {
				i++
				continue
			}
			sb.WriteByte(ch)
			i++
		case isIdentStart(ch) && startsUnquotedKey(literal, i):
			start := i
			for i < n && isIdentChar(literal[i]) {
				i++
			}
			word := literal[start:i]
			switch word {
			case "true", "false", "null":
				sb.WriteString(word)
			default:
				sb.WriteByte('"')
				sb.WriteString(word)
				sb.WriteByte('"')
			}
		default:
			sb.WriteByte(ch)
			i++
		}
	}
	return sb.String()
}

// startsUnquotedKey reports whether the identifier at i is followed by a
// colon, i.e. it is an object key and not part of a value.
func startsUnquotedKey(s string, i int) bool {
	j := i
	for j < len(s) && isIdentChar(s[j]) {
		j++
	}
	for j < len(s) && (s[j] == ' ' || s[j] == '\t') {
		j++
	}
	if j < len(s) && s[j] == ':' {
		return true
	}
	// Bare words true/false/null are values, not keys, but still need
	// passing through untouched.
	word := ""
	for k := i; k < len(s) && isIdentChar(s[k]); k++ {
		word += string(s[k])
	}
	return word == "true" || word == "false" || word == "null"
}

func isIdentStart(ch byte) bool {
	return ch == '_' || ch == '$' ||
		(ch >= 'a' && ch <= 'z') || (ch >= 'A' && ch <= 'Z')
}

func isIdentChar(ch byte) bool {
	return isIdentStart(ch) || (ch >= '0' && ch <= '9')
}

// serializeSurveyItems produces the simplified item list stored in the
// whole-questionnaire blob: label, type, value, coding per entry.
func serializeSurveyItems(doc *clinicalDocument) string {
	var items []surveyItem
	for _, section := range doc.Sections {
		for _, entry := range section.Entries {
			if entry.Title == "" {
				continue
			}
			item := surveyItem{
				Label: entry.Title,
				Type:  "text",
				Value: entry.Value,
			}
			if _, ok := entryNumericValue(entry.Value); ok {
				item.Type = "numeric"
			}
			if entry.System != "" && entry.Code != "" {
				item.Coding = entry.System + "|" + entry.Code
			}
			items = append(items, item)
		}
	}
	payload := map[string]any{
		"title": doc.Title,
		"items": items,
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return "{}"
	}
	return string(b)
}
