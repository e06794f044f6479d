package importers

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clinsync/clinsync/internal/entities"
)

const clinicalDocPayload = `{
	"resourceType": "ClinicalDocument",
	"title": "Encounter Summary",
	"date": "2024-03-10",
	"subject": {"reference": "Patient/P42", "display": "Jane Roe"},
	"section": [
		{
			"title": "Patient Information",
			"entry": [
				{"title": "Patient ID", "value": "P42"},
				{"title": "Sex", "value": "F"},
				{"title": "Age", "value": "57"}
			]
		},
		{
			"title": "Visit 1",
			"entry": [
				{"title": "Start Date", "value": "2024-03-10"},
				{"title": "Location", "value": "CARD"},
				{"title": "Body Weight", "value": 62.5, "code": "WEIGHT", "system": "local", "unit": "kg"},
				{"title": "Notes", "value": "patient reports dizziness"}
			]
		},
		{
			"title": "Vitals",
			"entry": [
				{"title": "Heart Rate", "value": "72", "code": "HR", "system": "local"},
				{"title": "Smoking Status", "value": "never", "code": "SMOKING", "system": "local", "display": "Never smoker"}
			]
		}
	]
}`

func TestClinicalDocNormalizer(t *testing.T) {
	bundle, report, err := NewClinicalDocNormalizer().Normalize([]byte(clinicalDocPayload), "doc.json")
	require.NoError(t, err)
	assert.Empty(t, report.Errors)

	t.Run("patient comes from the patient section", func(t *testing.T) {
		require.Len(t, bundle.Data.Patients, 1)
		p := bundle.Data.Patients[0]
		assert.Equal(t, "P42", p.Code)
		assert.Equal(t, "F", p.Sex)
		assert.Equal(t, 57, p.AgeYears)
	})

	t.Run("visit sections become visits", func(t *testing.T) {
		require.Len(t, bundle.Data.Visits, 1)
		v := bundle.Data.Visits[0]
		assert.Equal(t, "2024-03-10", v.StartDate)
		assert.Equal(t, "CARD", v.Location)
		assert.Equal(t, bundle.Data.Patients[0].ID, v.PatientID)
	})

	t.Run("only coded entries become observations", func(t *testing.T) {
		// Weight, HR and smoking status carry system+code; the free-text
		// "Notes" entry does not and must not appear.
		require.Len(t, bundle.Data.Observations, 3)
		codes := []string{}
		for _, o := range bundle.Data.Observations {
			codes = append(codes, o.ConceptCode)
		}
		assert.ElementsMatch(t, []string{"WEIGHT", "HR", "SMOKING"}, codes)
	})

	t.Run("numeric-looking values classify as numeric", func(t *testing.T) {
		weight := bundle.Data.Observations[0]
		assert.Equal(t, entities.ValueTypeNumeric, weight.ValueType)
		require.NotNil(t, weight.NumericValue)
		assert.Equal(t, 62.5, *weight.NumericValue)
		assert.Equal(t, "kg", weight.Unit)

		hr := bundle.Data.Observations[1]
		assert.Equal(t, entities.ValueTypeNumeric, hr.ValueType)
		require.NotNil(t, hr.NumericValue)
		assert.Equal(t, float64(72), *hr.NumericValue)
	})

	t.Run("text values keep the raw value over the display name", func(t *testing.T) {
		smoking := bundle.Data.Observations[2]
		assert.Equal(t, entities.ValueTypeText, smoking.ValueType)
		assert.Equal(t, "never", smoking.TextValue)
	})

	t.Run("observations in visit sections link to the visit", func(t *testing.T) {
		assert.Equal(t, bundle.Data.Visits[0].ID, bundle.Data.Observations[0].VisitID)
		// Entries outside visit sections stay patient-level.
		assert.Zero(t, bundle.Data.Observations[1].VisitID)
	})
}

func TestClinicalDocNormalizerEdgeCases(t *testing.T) {
	t.Run("invalid json aborts", func(t *testing.T) {
		_, _, err := NewClinicalDocNormalizer().Normalize([]byte("<xml/>"), "doc.json")
		assert.ErrorIs(t, err, ErrNoDataSection)
	})

	t.Run("no sections aborts", func(t *testing.T) {
		_, _, err := NewClinicalDocNormalizer().Normalize([]byte(`{"resourceType": "ClinicalDocument"}`), "doc.json")
		assert.ErrorIs(t, err, ErrNoDataSection)
	})

	t.Run("patient falls back to the subject reference", func(t *testing.T) {
		input := []byte(`{
			"resourceType": "ClinicalDocument",
			"subject": {"reference": "Patient/P7"},
			"section": [{"title": "Vitals", "entry": []}]
		}`)
		bundle, _, err := NewClinicalDocNormalizer().Normalize(input, "doc.json")
		require.NoError(t, err)
		require.Len(t, bundle.Data.Patients, 1)
		assert.Equal(t, "P7", bundle.Data.Patients[0].Code)
	})

	t.Run("visit without date or location is kept with a warning", func(t *testing.T) {
		input := []byte(`{
			"resourceType": "ClinicalDocument",
			"section": [
				{"title": "Visit 1", "entry": [
					{"title": "Heart Rate", "value": 70, "code": "HR", "system": "local"}
				]}
			]
		}`)
		bundle, report, err := NewClinicalDocNormalizer().Normalize(input, "doc.json")
		require.NoError(t, err)

		require.Len(t, bundle.Data.Visits, 1)
		require.Len(t, report.Warnings, 1)
		assert.Contains(t, report.Warnings[0].Message, "neither date nor location")
		// The observation still links to the anonymous visit.
		require.Len(t, bundle.Data.Observations, 1)
		assert.Equal(t, bundle.Data.Visits[0].ID, bundle.Data.Observations[0].VisitID)
	})

	t.Run("entries without values are skipped", func(t *testing.T) {
		input := []byte(`{
			"resourceType": "ClinicalDocument",
			"section": [
				{"title": "Vitals", "entry": [
					{"title": "Heart Rate", "code": "HR", "system": "local"},
					{"title": "Weight", "value": "", "code": "WEIGHT", "system": "local"}
				]}
			]
		}`)
		bundle, _, err := NewClinicalDocNormalizer().Normalize(input, "doc.json")
		require.NoError(t, err)
		assert.Empty(t, bundle.Data.Observations)
	})
}
