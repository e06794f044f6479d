package importers

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clinsync/clinsync/internal/entities"
)

func TestDetectCSVVariant(t *testing.T) {
	t.Run("comma header is variant A", func(t *testing.T) {
		assert.Equal(t, CSVVariantA, DetectCSVVariant("Patient,Sex,Start Date,Weight"))
	})

	t.Run("semicolon header with field markers is variant B", func(t *testing.T) {
		assert.Equal(t, CSVVariantB, DetectCSVVariant("PATIENT_CD;SEX_CD;START_DATE;WEIGHT"))
	})

	t.Run("semicolon header without markers stays variant A", func(t *testing.T) {
		assert.Equal(t, CSVVariantA, DetectCSVVariant("foo;bar;baz"))
	})
}

func TestDetectDelimiter(t *testing.T) {
	assert.Equal(t, ',', DetectDelimiter("a,b,c"))
	assert.Equal(t, ';', DetectDelimiter("a;b;c"))
	assert.Equal(t, '|', DetectDelimiter("a|b|c"))
	assert.Equal(t, '\t', DetectDelimiter("a\tb\tc"))
	// A single occurrence is not reliable; fall back to comma.
	assert.Equal(t, ',', DetectDelimiter("a;b"))
}

func TestSplitDelimited(t *testing.T) {
	t.Run("plain fields", func(t *testing.T) {
		assert.Equal(t, []string{"a", "b", "c"}, SplitDelimited("a,b,c", ','))
	})

	t.Run("quoted delimiter is literal", func(t *testing.T) {
		assert.Equal(t, []string{"a", "b,c", "d"}, SplitDelimited(`a,"b,c",d`, ','))
	})

	t.Run("doubled quote inside quoted span", func(t *testing.T) {
		assert.Equal(t, []string{`say "hi"`, "x"}, SplitDelimited(`"say ""hi""",x`, ','))
	})

	t.Run("trailing empty field survives", func(t *testing.T) {
		assert.Equal(t, []string{"a", "b", ""}, SplitDelimited("a,b,", ','))
	})
}

func TestCSVNormalizerVariantA(t *testing.T) {
	input := strings.Join([]string{
		"Patient,Sex,Age,Start Date,Weight,Diagnosis",
		"PATIENT_CD,SEX_CD,AGE_IN_YEARS,START_DATE,WEIGHT,DIAGNOSIS",
		"P1,F,34,2024-01-15,62.5,Hypertension",
		"P1,F,34,2024-02-20,61.8,",
		"P2,M,58,2024-01-15,88,Diabetes",
	}, "\n")

	n := NewCSVNormalizer()
	bundle, report, err := n.Normalize([]byte(input), "export.csv")
	require.NoError(t, err)
	assert.Empty(t, report.Errors)

	t.Run("groups rows into patients by code", func(t *testing.T) {
		require.Len(t, bundle.Data.Patients, 2)
		assert.Equal(t, "P1", bundle.Data.Patients[0].Code)
		assert.Equal(t, "F", bundle.Data.Patients[0].Sex)
		assert.Equal(t, 34, bundle.Data.Patients[0].AgeYears)
		assert.Equal(t, "P2", bundle.Data.Patients[1].Code)
	})

	t.Run("one visit per patient and start date", func(t *testing.T) {
		require.Len(t, bundle.Data.Visits, 3)
		assert.Equal(t, bundle.Data.Patients[0].ID, bundle.Data.Visits[0].PatientID)
		assert.Equal(t, "2024-01-15", bundle.Data.Visits[0].StartDate)
		assert.Equal(t, "2024-02-20", bundle.Data.Visits[1].StartDate)
	})

	t.Run("observation columns become typed observations", func(t *testing.T) {
		// P1 row 1: WEIGHT + DIAGNOSIS, row 2: WEIGHT only, P2: both.
		require.Len(t, bundle.Data.Observations, 5)

		weight := bundle.Data.Observations[0]
		assert.Equal(t, "WEIGHT", weight.ConceptCode)
		assert.Equal(t, entities.ValueTypeNumeric, weight.ValueType)
		require.NotNil(t, weight.NumericValue)
		assert.Equal(t, 62.5, *weight.NumericValue)
		assert.Empty(t, weight.TextValue)

		diagnosis := bundle.Data.Observations[1]
		assert.Equal(t, "DIAGNOSIS", diagnosis.ConceptCode)
		assert.Equal(t, entities.ValueTypeText, diagnosis.ValueType)
		assert.Equal(t, "Hypertension", diagnosis.TextValue)
		assert.Nil(t, diagnosis.NumericValue)
	})

	t.Run("observations link to their visit", func(t *testing.T) {
		for _, o := range bundle.Data.Observations {
			assert.NotZero(t, o.VisitID)
		}
	})

	t.Run("seal counts match", func(t *testing.T) {
		assert.Equal(t, 2, bundle.Statistics.PatientCount)
		assert.Equal(t, 3, bundle.Statistics.VisitCount)
		assert.Equal(t, 5, bundle.Statistics.ObservationCount)
	})
}

func TestCSVNormalizerVariantAErrors(t *testing.T) {
	t.Run("missing PATIENT_CD column aborts", func(t *testing.T) {
		input := "Sex,Start Date\nSEX_CD,START_DATE\nF,2024-01-01\n"
		_, _, err := NewCSVNormalizer().Normalize([]byte(input), "export.csv")
		assert.ErrorIs(t, err, ErrMissingHeaders)
	})

	t.Run("empty file aborts", func(t *testing.T) {
		_, _, err := NewCSVNormalizer().Normalize([]byte(""), "export.csv")
		assert.ErrorIs(t, err, ErrMissingHeaders)
	})

	t.Run("column count mismatch excludes the row but keeps the rest", func(t *testing.T) {
		input := strings.Join([]string{
			"Patient,Sex,Weight",
			"PATIENT_CD,SEX_CD,WEIGHT",
			"P1,F,60,extra-cell",
			"P2,M,80",
		}, "\n")

		bundle, report, err := NewCSVNormalizer().Normalize([]byte(input), "export.csv")
		require.NoError(t, err)

		require.Len(t, report.Errors, 1)
		assert.Equal(t, "row", report.Errors[0].Entity)
		assert.Equal(t, 3, report.Errors[0].Index)

		require.Len(t, bundle.Data.Patients, 1)
		assert.Equal(t, "P2", bundle.Data.Patients[0].Code)
	})

	t.Run("empty patient code excludes the row", func(t *testing.T) {
		input := strings.Join([]string{
			"Patient,Weight",
			"PATIENT_CD,WEIGHT",
			",60",
			"P2,80",
		}, "\n")

		bundle, report, err := NewCSVNormalizer().Normalize([]byte(input), "export.csv")
		require.NoError(t, err)
		require.Len(t, report.Errors, 1)
		require.Len(t, bundle.Data.Patients, 1)
	})
}

func TestCSVNormalizerVariantB(t *testing.T) {
	input := strings.Join([]string{
		"PATIENT_CD;SEX_CD;START_DATE;WEIGHT;NOTE;LAST_CHECK",
		";;;N;T;D",
		";;;kg;;",
		"Patient;Sex;Start;Weight;Note;Last check",
		"P1;F;2024-03-01;62.5;feeling fine;2024-02-01",
	}, "\n")

	bundle, report, err := NewCSVNormalizer().Normalize([]byte(input), "export.csv")
	require.NoError(t, err)
	assert.Empty(t, report.Errors)

	require.Len(t, bundle.Data.Patients, 1)
	require.Len(t, bundle.Data.Visits, 1)
	require.Len(t, bundle.Data.Observations, 3)

	t.Run("declared type codes are authoritative", func(t *testing.T) {
		weight := bundle.Data.Observations[0]
		assert.Equal(t, entities.ValueTypeNumeric, weight.ValueType)
		require.NotNil(t, weight.NumericValue)
		assert.Equal(t, 62.5, *weight.NumericValue)
		assert.Equal(t, "kg", weight.Unit)

		note := bundle.Data.Observations[1]
		assert.Equal(t, entities.ValueTypeText, note.ValueType)
		assert.Equal(t, "feeling fine", note.TextValue)

		check := bundle.Data.Observations[2]
		assert.Equal(t, entities.ValueTypeDate, check.ValueType)
		assert.Equal(t, "2024-02-01", check.DateValue)
	})

	t.Run("too few header rows aborts", func(t *testing.T) {
		short := "PATIENT_CD;WEIGHT\n;N\n"
		_, _, err := NewCSVNormalizer().Normalize([]byte(short), "export.csv")
		assert.ErrorIs(t, err, ErrMissingHeaders)
	})
}

func TestInferValueType(t *testing.T) {
	t.Run("numeric", func(t *testing.T) {
		vt, num := inferValueType("42.5")
		assert.Equal(t, entities.ValueTypeNumeric, vt)
		require.NotNil(t, num)
		assert.Equal(t, 42.5, *num)
	})

	t.Run("date", func(t *testing.T) {
		for _, v := range []string{"2024-01-31", "2024-01-31T10:30:00", "31/01/2024", "2024/01/31", "31.01.2024"} {
			vt, _ := inferValueType(v)
			assert.Equal(t, entities.ValueTypeDate, vt, v)
		}
	})

	t.Run("digit-only date-like string is numeric", func(t *testing.T) {
		vt, num := inferValueType("20240101")
		assert.Equal(t, entities.ValueTypeNumeric, vt)
		require.NotNil(t, num)
		assert.Equal(t, float64(20240101), *num)
	})

	t.Run("json literal is blob", func(t *testing.T) {
		vt, _ := inferValueType(`{"key": "value"}`)
		assert.Equal(t, entities.ValueTypeBlob, vt)
		vt, _ = inferValueType(`[1, 2, 3]`)
		assert.Equal(t, entities.ValueTypeBlob, vt)
	})

	t.Run("everything else is text", func(t *testing.T) {
		vt, num := inferValueType("Hypertension")
		assert.Equal(t, entities.ValueTypeText, vt)
		assert.Nil(t, num)
	})
}

func TestFlattenVariantA(t *testing.T) {
	input := strings.Join([]string{
		"Patient,Sex,Start Date,Weight,Diagnosis",
		"PATIENT_CD,SEX_CD,START_DATE,WEIGHT,DIAGNOSIS",
		"P1,F,2024-01-15,62.5,Hypertension",
		"P2,M,2024-01-16,88,Diabetes",
	}, "\n")

	bundle, _, err := NewCSVNormalizer().Normalize([]byte(input), "export.csv")
	require.NoError(t, err)

	flattened := FlattenVariantA(bundle)

	t.Run("round-trip preserves the records", func(t *testing.T) {
		again, report, err := NewCSVNormalizer().Normalize([]byte(flattened), "export.csv")
		require.NoError(t, err)
		assert.Empty(t, report.Errors)

		assert.Equal(t, bundle.Statistics.PatientCount, again.Statistics.PatientCount)
		assert.Equal(t, bundle.Statistics.VisitCount, again.Statistics.VisitCount)
		assert.Equal(t, bundle.Statistics.ObservationCount, again.Statistics.ObservationCount)

		assert.Equal(t, bundle.Data.Patients[0].Code, again.Data.Patients[0].Code)
		assert.Equal(t, bundle.Data.Visits[0].StartDate, again.Data.Visits[0].StartDate)
	})

	t.Run("values containing the delimiter are quoted", func(t *testing.T) {
		b := NewBundle(FormatCSV, "x.csv")
		b.Data.Patients = []PatientRecord{{ID: 1, Code: "P1"}}
		b.Data.Visits = []VisitRecord{{ID: 1, PatientID: 1, StartDate: "2024-01-01"}}
		obs := ObservationRecord{ID: 1, PatientID: 1, VisitID: 1, ConceptCode: "NOTE"}
		obs.SetValue(entities.ValueTypeText, nil, "reads, writes", "", "")
		b.Data.Observations = []ObservationRecord{obs}
		b.Seal()

		out := FlattenVariantA(b)
		assert.Contains(t, out, `"reads, writes"`)
	})

	t.Run("visit-less rows only carry their own patient's values", func(t *testing.T) {
		b := NewBundle(FormatCSV, "x.csv")
		b.Data.Patients = []PatientRecord{{ID: 1, Code: "P1"}, {ID: 2, Code: "P2"}}
		w1, w2 := 62.5, 88.0
		first := ObservationRecord{ID: 1, PatientID: 1, ConceptCode: "WEIGHT"}
		first.SetValue(entities.ValueTypeNumeric, &w1, "", "", "")
		second := ObservationRecord{ID: 2, PatientID: 2, ConceptCode: "WEIGHT"}
		second.SetValue(entities.ValueTypeNumeric, &w2, "", "", "")
		b.Data.Observations = []ObservationRecord{first, second}
		b.Seal()

		lines := strings.Split(strings.TrimSpace(FlattenVariantA(b)), "\n")
		require.Len(t, lines, 4)
		assert.True(t, strings.HasPrefix(lines[2], "P1,"))
		assert.Contains(t, lines[2], "62.5")
		assert.NotContains(t, lines[2], "88")
		assert.True(t, strings.HasPrefix(lines[3], "P2,"))
		assert.Contains(t, lines[3], "88")
		assert.NotContains(t, lines[3], "62.5")
	})
}

func TestSplitLines(t *testing.T) {
	t.Run("normalizes CRLF", func(t *testing.T) {
		assert.Equal(t, []string{"a", "b"}, splitLines("a\r\nb\r\n"))
	})

	t.Run("drops trailing blank lines only", func(t *testing.T) {
		assert.Equal(t, []string{"a", "", "b"}, splitLines("a\n\nb\n\n\n"))
	})
}
