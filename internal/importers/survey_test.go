package importers

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clinsync/clinsync/internal/entities"
)

const surveyMarkup = `<!DOCTYPE html>
<html>
<head><title>Intake Survey</title></head>
<body>
<form id="intake"></form>
<script>
var formData = {
	"resourceType": "Survey",
	"title": "Intake Survey",
	"date": "2024-05-01",
	"section": [
		{
			"title": "Patient Information",
			"entry": [
				{"title": "Patient ID", "value": "P9"},
				{"title": "Sex", "value": "M"}
			]
		},
		{
			"title": "Questions",
			"entry": [
				{"title": "Current weight", "value": 81.2, "code": "WEIGHT", "system": "local", "unit": "kg"},
				{"title": "How do you feel {today}?", "value": "better than usual"},
				{"title": "Smoking status", "value": "never", "code": "SMOKING", "system": "local"}
			]
		}
	]
};
submit(formData);
</script>
</body>
</html>`

func TestSurveyNormalizer(t *testing.T) {
	bundle, report, err := NewSurveyNormalizer().Normalize([]byte(surveyMarkup), "survey.html")
	require.NoError(t, err)
	assert.Empty(t, report.Errors)

	t.Run("whole-questionnaire observation comes first", func(t *testing.T) {
		require.NotEmpty(t, bundle.Data.Observations)
		whole := bundle.Data.Observations[0]
		assert.Equal(t, QuestionnaireConceptCode, whole.ConceptCode)
		assert.Equal(t, entities.ValueTypeQuestionnaire, whole.ValueType)
		assert.Equal(t, "Intake Survey", whole.TextValue)
		assert.Equal(t, "P9", whole.PatientCode)
	})

	t.Run("blob holds every entry, coded or not", func(t *testing.T) {
		var payload struct {
			Title string `json:"title"`
			Items []struct {
				Label  string `json:"label"`
				Type   string `json:"type"`
				Coding string `json:"coding"`
			} `json:"items"`
		}
		require.NoError(t, json.Unmarshal([]byte(bundle.Data.Observations[0].BlobValue), &payload))

		assert.Equal(t, "Intake Survey", payload.Title)
		require.Len(t, payload.Items, 5)

		assert.Equal(t, "Current weight", payload.Items[2].Label)
		assert.Equal(t, "numeric", payload.Items[2].Type)
		assert.Equal(t, "local|WEIGHT", payload.Items[2].Coding)

		assert.Equal(t, "How do you feel {today}?", payload.Items[3].Label)
		assert.Empty(t, payload.Items[3].Coding)
	})

	t.Run("coded entries still become individual observations", func(t *testing.T) {
		require.Len(t, bundle.Data.Observations, 3)
		assert.Equal(t, "WEIGHT", bundle.Data.Observations[1].ConceptCode)
		assert.Equal(t, "SMOKING", bundle.Data.Observations[2].ConceptCode)
	})

	t.Run("patient identity comes from the embedded document", func(t *testing.T) {
		require.Len(t, bundle.Data.Patients, 1)
		assert.Equal(t, "P9", bundle.Data.Patients[0].Code)
		assert.Equal(t, "M", bundle.Data.Patients[0].Sex)
	})
}

func TestSurveyNormalizerErrors(t *testing.T) {
	t.Run("markup without a marker aborts", func(t *testing.T) {
		_, _, err := NewSurveyNormalizer().Normalize([]byte("<html><body>plain page</body></html>"), "x.html")
		assert.ErrorIs(t, err, ErrNoPayloadFound)
	})

	t.Run("unbalanced literal aborts", func(t *testing.T) {
		_, _, err := NewSurveyNormalizer().Normalize([]byte(`<script>var formData = {"a": 1;</script>`), "x.html")
		assert.ErrorIs(t, err, ErrNoPayloadFound)
	})

	t.Run("payload without sections aborts", func(t *testing.T) {
		_, _, err := NewSurveyNormalizer().Normalize([]byte(`<script>var formData = {"title": "x"};</script>`), "x.html")
		assert.ErrorIs(t, err, ErrNoPayloadFound)
	})
}

func TestExtractEmbeddedPayload(t *testing.T) {
	t.Run("extracts the balanced literal after the marker", func(t *testing.T) {
		payload, ok := ExtractEmbeddedPayload(`before var surveyData = {"a": {"b": 1}}; after`)
		require.True(t, ok)
		assert.Equal(t, `{"a": {"b": 1}}`, payload)
	})

	t.Run("braces inside strings do not break balancing", func(t *testing.T) {
		payload, ok := ExtractEmbeddedPayload(`var formData = {"q": "why {not}?", "n": 1};`)
		require.True(t, ok)
		assert.Equal(t, `{"q": "why {not}?", "n": 1}`, payload)
	})

	t.Run("single-quoted strings with escapes are honored", func(t *testing.T) {
		payload, ok := ExtractEmbeddedPayload(`var formData = {q: 'it\'s {fine}'};`)
		require.True(t, ok)
		assert.Equal(t, `{q: 'it\'s {fine}'}`, payload)
	})

	t.Run("no marker means no payload", func(t *testing.T) {
		_, ok := ExtractEmbeddedPayload(`var other = {"a": 1};`)
		assert.False(t, ok)
	})

	t.Run("earliest marker wins", func(t *testing.T) {
		payload, ok := ExtractEmbeddedPayload(`var surveyData = {"first": 1}; var formData = {"second": 2};`)
		require.True(t, ok)
		assert.Equal(t, `{"first": 1}`, payload)
	})
}

func TestNormalizeLooseLiteral(t *testing.T) {
	check := func(t *testing.T, loose string, want any) {
		t.Helper()
		strict := NormalizeLooseLiteral(loose)
		var got any
		require.NoError(t, json.Unmarshal([]byte(strict), &got), "normalized literal: %s", strict)
		assert.Equal(t, want, got)
	}

	t.Run("unquoted keys get quoted", func(t *testing.T) {
		check(t, `{title: "x", count: 2}`, map[string]any{"title": "x", "count": float64(2)})
	})

	t.Run("single quotes become double quotes", func(t *testing.T) {
		check(t, `{'title': 'hello "world"'}`, map[string]any{"title": `hello "world"`})
	})

	t.Run("escaped single quote inside single-quoted string", func(t *testing.T) {
		check(t, `{note: 'it\'s ok'}`, map[string]any{"note": "it's ok"})
	})

	t.Run("trailing commas are dropped", func(t *testing.T) {
		check(t, `{list: [1, 2, 3,], nested: {a: 1,},}`, map[string]any{
			"list":   []any{float64(1), float64(2), float64(3)},
			"nested": map[string]any{"a": float64(1)},
		})
	})

	t.Run("bare literals survive", func(t *testing.T) {
		check(t, `{ok: true, missing: null, off: false}`, map[string]any{
			"ok": true, "missing": nil, "off": false,
		})
	})

	t.Run("strict json passes through unchanged", func(t *testing.T) {
		strict := `{"a": [1, "two", {"b": null}]}`
		assert.Equal(t, strict, NormalizeLooseLiteral(strict))
	})
}
