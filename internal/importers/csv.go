package importers

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/clinsync/clinsync/internal/entities"
)

// CSVVariant identifies one of the two supported header conventions.
type CSVVariant string

const (
	// CSVVariantA has two header rows (human labels, then concept codes),
	// comma-delimited, one data row per patient/visit combination.
	CSVVariantA CSVVariant = "A"
	// CSVVariantB has four header rows (field name, value-type code, unit
	// code, display name), semicolon-delimited.
	CSVVariantB CSVVariant = "B"
)

// Column membership tables. Fields not listed in either table are
// observation columns keyed by their concept-code header.
var (
	variantAPatientFields = map[string]bool{
		"PATIENT_CD": true, "SEX_CD": true, "AGE_IN_YEARS": true,
		"BIRTH_DATE": true, "RACE_CD": true, "LANGUAGE_CD": true,
		"ZIP_CD": true, "VITAL_CD": true,
	}
	variantAVisitFields = map[string]bool{
		"START_DATE": true, "END_DATE": true, "LOCATION_CD": true,
		"INOUT_CD": true,
	}

	variantBPatientFields = map[string]bool{
		"PATIENT_CD": true, "SEX_CD": true, "AGE": true, "AGE_IN_YEARS": true,
		"BIRTH_DATE": true, "RACE_CD": true, "LANGUAGE_CD": true,
		"ZIP_CD": true, "VITAL_CD": true,
	}
	variantBVisitFields = map[string]bool{
		"VISIT_ID": true, "START_DATE": true, "END_DATE": true,
		"LOCATION_CD": true, "INOUT_CD": true,
	}
)

var datePatterns = []*regexp.Regexp{
	regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`),                     // 2024-01-31
	regexp.MustCompile(`^\d{4}-\d{2}-\d{2}[T ]\d{2}:\d{2}`),       // 2024-01-31T10:30
	regexp.MustCompile(`^\d{1,2}/\d{1,2}/\d{4}$`),                 // 31/01/2024
	regexp.MustCompile(`^\d{4}/\d{2}/\d{2}$`),                     // 2024/01/31
	regexp.MustCompile(`^\d{1,2}\.\d{1,2}\.\d{4}$`),               // 31.01.2024
}

// CSVNormalizer parses delimited text in either header convention into the
// canonical bundle.
type CSVNormalizer struct{}

func NewCSVNormalizer() *CSVNormalizer {
	return &CSVNormalizer{}
}

func (n *CSVNormalizer) Normalize(content []byte, filename string) (*Bundle, *Report, error) {
	report := &Report{}
	lines := splitLines(string(content))
	if len(lines) == 0 {
		return nil, report, fmt.Errorf("%w: file is empty", ErrMissingHeaders)
	}

	variant := DetectCSVVariant(lines[0])

	// The delimiter is re-confirmed independently of the variant so that a
	// mislabeled file (e.g. Variant A headers with semicolons) still parses.
	delim := DetectDelimiter(lines[0])

	bundle := NewBundle(FormatCSV, filename)
	var err error
	switch variant {
	case CSVVariantB:
		err = n.parseVariantB(lines, delim, bundle, report)
	default:
		err = n.parseVariantA(lines, delim, bundle, report)
	}
	if err != nil {
		return nil, report, err
	}

	bundle.Seal()
	return bundle, report, nil
}

// DetectCSVVariant routes a header line to one of the two conventions: a
// semicolon-dominant first line carrying a recognizable field-name marker
// means Variant B, everything else Variant A.
func DetectCSVVariant(headerLine string) CSVVariant {
	semis := strings.Count(headerLine, ";")
	commas := strings.Count(headerLine, ",")
	if semis > commas && hasFieldNameMarker(headerLine) {
		return CSVVariantB
	}
	return CSVVariantA
}

func hasFieldNameMarker(line string) bool {
	upper := strings.ToUpper(line)
	for marker := range variantBPatientFields {
		if strings.Contains(upper, marker) {
			return true
		}
	}
	return strings.Contains(upper, "FIELD_NAME")
}

// DetectDelimiter counts the candidate separators on the header line and
// picks the most frequent one. A candidate needs at least two occurrences to
// be considered reliable; the fallback is a comma.
func DetectDelimiter(headerLine string) rune {
	best := ','
	bestCount := 1
	for _, cand := range []rune{',', ';', '|', '\t'} {
		if c := strings.Count(headerLine, string(cand)); c > bestCount {
			best = cand
			bestCount = c
		}
	}
	return best
}

// SplitDelimited splits one row on the delimiter, honoring quoted spans.
// A delimiter inside quotes is literal; a doubled quote inside a quoted span
// becomes a single literal quote.
func SplitDelimited(line string, delim rune) []string {
	var fields []string
	var cur strings.Builder
	inQuotes := false

	runes := []rune(line)
	for i := 0; i < len(runes); i++ {
		ch := runes[i]
		switch {
		case ch == '"':
			if inQuotes && i+1 < len(runes) && runes[i+1] == '"' {
				cur.WriteRune('"')
				i++
			} else {
				inQuotes = !inQuotes
			}
		case ch == delim && !inQuotes:
			fields = append(fields, cur.String())
			cur.Reset()
		default:
			cur.WriteRune(ch)
		}
	}
	fields = append(fields, cur.String())
	return fields
}

func (n *CSVNormalizer) parseVariantA(lines []string, delim rune, bundle *Bundle, report *Report) error {
	if len(lines) < 2 {
		return fmt.Errorf("%w: variant A needs a label row and a code row", ErrMissingHeaders)
	}

	labels := SplitDelimited(lines[0], delim)
	codes := SplitDelimited(lines[1], delim)
	if len(codes) != len(labels) {
		report.AddWarning(Warning{Message: fmt.Sprintf(
			"header rows disagree on column count (%d labels, %d codes)", len(labels), len(codes))})
	}
	for i := range codes {
		codes[i] = strings.ToUpper(strings.TrimSpace(codes[i]))
	}

	patientCol := indexOf(codes, "PATIENT_CD")
	if patientCol < 0 {
		return fmt.Errorf("%w: PATIENT_CD column not found", ErrMissingHeaders)
	}

	st := newGroupingState(bundle)
	for rowIdx, line := range lines[2:] {
		if strings.TrimSpace(line) == "" {
			continue
		}
		fields := SplitDelimited(line, delim)
		if len(fields) != len(codes) {
			report.AddError(RecordError{
				Entity: "row", Index: rowIdx + 3,
				Reason: fmt.Sprintf("column count %d does not match header count %d", len(fields), len(codes)),
			})
			continue
		}

		patientCode := strings.TrimSpace(fields[patientCol])
		if patientCode == "" {
			report.AddError(RecordError{Entity: "row", Index: rowIdx + 3, Reason: "empty PATIENT_CD"})
			continue
		}

		patient := st.patientFor(patientCode)
		visit := st.visitFor(patient, rowValue(fields, codes, "START_DATE"))

		for col, code := range codes {
			value := strings.TrimSpace(fields[col])
			if value == "" {
				continue
			}
			switch {
			case variantAPatientFields[code]:
				applyPatientField(patient, code, value)
			case variantAVisitFields[code]:
				applyVisitField(visit, code, value)
			default:
				obs := st.newObservation(patient, visit, code)
				vt, num := inferValueType(value)
				obs.SetValue(vt, num, value, value, value)
			}
		}
	}
	return nil
}

func (n *CSVNormalizer) parseVariantB(lines []string, delim rune, bundle *Bundle, report *Report) error {
	if len(lines) < 4 {
		return fmt.Errorf("%w: variant B needs four header rows", ErrMissingHeaders)
	}

	names := SplitDelimited(lines[0], delim)
	typeCodes := SplitDelimited(lines[1], delim)
	unitCodes := SplitDelimited(lines[2], delim)
	for i := range names {
		names[i] = strings.ToUpper(strings.TrimSpace(names[i]))
	}
	// Row 4 carries display names; they are informational only.

	patientCol := indexOf(names, "PATIENT_CD")
	if patientCol < 0 {
		return fmt.Errorf("%w: PATIENT_CD column not found", ErrMissingHeaders)
	}

	st := newGroupingState(bundle)
	for rowIdx, line := range lines[4:] {
		if strings.TrimSpace(line) == "" {
			continue
		}
		fields := SplitDelimited(line, delim)
		if len(fields) != len(names) {
			report.AddError(RecordError{
				Entity: "row", Index: rowIdx + 5,
				Reason: fmt.Sprintf("column count %d does not match header count %d", len(fields), len(names)),
			})
			continue
		}

		patientCode := strings.TrimSpace(fields[patientCol])
		if patientCode == "" {
			report.AddError(RecordError{Entity: "row", Index: rowIdx + 5, Reason: "empty PATIENT_CD"})
			continue
		}

		patient := st.patientFor(patientCode)
		visit := st.visitFor(patient, rowValue(fields, names, "START_DATE"))

		for col, name := range names {
			value := strings.TrimSpace(fields[col])
			if value == "" {
				continue
			}
			switch {
			case variantBPatientFields[name]:
				applyPatientField(patient, name, value)
			case variantBVisitFields[name]:
				applyVisitField(visit, name, value)
			default:
				obs := st.newObservation(patient, visit, name)
				if col < len(unitCodes) {
					obs.Unit = strings.TrimSpace(unitCodes[col])
				}
				vt, num, ok := declaredValueType(typeCodes, col, value)
				if !ok {
					vt, num = inferValueType(value)
				}
				obs.SetValue(vt, num, value, value, value)
			}
		}
	}
	return nil
}

// declaredValueType reads the authoritative value-type code from the second
// header row: N numeric, T text, D date, B blob. Unknown or missing codes
// fall back to inference.
func declaredValueType(typeCodes []string, col int, value string) (entities.ValueType, *float64, bool) {
	if col >= len(typeCodes) {
		return "", nil, false
	}
	switch strings.ToUpper(strings.TrimSpace(typeCodes[col])) {
	case "N":
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return entities.ValueTypeNumeric, &f, true
		}
		// Declared numeric but not parseable: let inference decide.
		return "", nil, false
	case "T":
		return entities.ValueTypeText, nil, true
	case "D":
		return entities.ValueTypeDate, nil, true
	case "B":
		return entities.ValueTypeBlob, nil, true
	}
	return "", nil, false
}

// inferValueType classifies a value with no authoritative source: numeric if
// it parses as a number, date if it matches a known date pattern, blob if it
// looks like a JSON object or array literal, otherwise text.
//
// The order is deliberate and matches the original behavior: a purely numeric
// date-like string such as "20240101" classifies as numeric, not date.
func inferValueType(value string) (entities.ValueType, *float64) {
	if f, err := strconv.ParseFloat(value, 64); err == nil {
		return entities.ValueTypeNumeric, &f
	}
	for _, p := range datePatterns {
		if p.MatchString(value) {
			return entities.ValueTypeDate, nil
		}
	}
	trimmed := strings.TrimSpace(value)
	if strings.HasPrefix(trimmed, "{") || strings.HasPrefix(trimmed, "[") {
		return entities.ValueTypeBlob, nil
	}
	return entities.ValueTypeText, nil
}

// groupingState assigns source-local identifiers and merges rows into
// patients and visits. Rows sharing a start date within one patient group
// merge into one visit.
type groupingState struct {
	bundle       *Bundle
	patientIdx   map[string]int // patient code -> index into bundle.Data.Patients
	visitIdx     map[string]int // "patientID|startDate" -> index into bundle.Data.Visits
	nextObservID int64
}

func newGroupingState(bundle *Bundle) *groupingState {
	return &groupingState{
		bundle:     bundle,
		patientIdx: make(map[string]int),
		visitIdx:   make(map[string]int),
	}
}

func (st *groupingState) patientFor(code string) *PatientRecord {
	if i, ok := st.patientIdx[code]; ok {
		return &st.bundle.Data.Patients[i]
	}
	st.bundle.Data.Patients = append(st.bundle.Data.Patients, PatientRecord{
		ID:   int64(len(st.bundle.Data.Patients) + 1),
		Code: code,
	})
	i := len(st.bundle.Data.Patients) - 1
	st.patientIdx[code] = i
	return &st.bundle.Data.Patients[i]
}

func (st *groupingState) visitFor(patient *PatientRecord, startDate string) *VisitRecord {
	if startDate == "" {
		return nil
	}
	key := fmt.Sprintf("%d|%s", patient.ID, startDate)
	if i, ok := st.visitIdx[key]; ok {
		return &st.bundle.Data.Visits[i]
	}
	st.bundle.Data.Visits = append(st.bundle.Data.Visits, VisitRecord{
		ID:          int64(len(st.bundle.Data.Visits) + 1),
		PatientID:   patient.ID,
		PatientCode: patient.Code,
		StartDate:   startDate,
	})
	i := len(st.bundle.Data.Visits) - 1
	st.visitIdx[key] = i
	return &st.bundle.Data.Visits[i]
}

func (st *groupingState) newObservation(patient *PatientRecord, visit *VisitRecord, conceptCode string) *ObservationRecord {
	st.nextObservID++
	obs := ObservationRecord{
		ID:          st.nextObservID,
		PatientID:   patient.ID,
		PatientCode: patient.Code,
		ConceptCode: conceptCode,
	}
	if visit != nil {
		obs.VisitID = visit.ID
		obs.Date = visit.StartDate
	}
	st.bundle.Data.Observations = append(st.bundle.Data.Observations, obs)
	return &st.bundle.Data.Observations[len(st.bundle.Data.Observations)-1]
}

func applyPatientField(p *PatientRecord, code, value string) {
	switch code {
	case "PATIENT_CD":
		p.Code = value
	case "SEX_CD":
		p.Sex = value
	case "AGE", "AGE_IN_YEARS":
		if age, err := strconv.Atoi(value); err == nil {
			p.AgeYears = age
		}
	case "BIRTH_DATE":
		p.BirthDate = value
	case "RACE_CD":
		p.Race = value
	case "LANGUAGE_CD":
		p.Language = value
	case "ZIP_CD":
		p.ZipCode = value
	case "VITAL_CD":
		p.VitalCD = value
	}
}

func applyVisitField(v *VisitRecord, code, value string) {
	if v == nil {
		return
	}
	switch code {
	case "START_DATE":
		v.StartDate = value
	case "END_DATE":
		v.EndDate = value
	case "LOCATION_CD":
		v.Location = value
	case "INOUT_CD":
		v.InOutCD = value
	}
}

// FlattenVariantA re-flattens a bundle back into the Variant A header/row
// shape. Declared patient and visit fields plus every observation concept
// code become columns; the output is lossless for declared fields.
func FlattenVariantA(b *Bundle) string {
	patientCols := []string{"PATIENT_CD", "SEX_CD", "AGE_IN_YEARS", "BIRTH_DATE"}
	visitCols := []string{"START_DATE", "END_DATE", "LOCATION_CD", "INOUT_CD"}

	var conceptCols []string
	seen := make(map[string]bool)
	for _, o := range b.Data.Observations {
		if !seen[o.ConceptCode] {
			seen[o.ConceptCode] = true
			conceptCols = append(conceptCols, o.ConceptCode)
		}
	}

	codes := append(append(append([]string{}, patientCols...), visitCols...), conceptCols...)

	var sb strings.Builder
	// Label row mirrors the code row; original labels are not retained in
	// the canonical model.
	sb.WriteString(strings.Join(codes, ","))
	sb.WriteString("\n")
	sb.WriteString(strings.Join(codes, ","))
	sb.WriteString("\n")

	patientsByID := make(map[int64]PatientRecord)
	for _, p := range b.Data.Patients {
		patientsByID[p.ID] = p
	}

	obsByVisit := make(map[int64][]ObservationRecord)
	for _, o := range b.Data.Observations {
		obsByVisit[o.VisitID] = append(obsByVisit[o.VisitID], o)
	}

	writeRow := func(p PatientRecord, v *VisitRecord, obs []ObservationRecord) {
		values := make(map[string]string)
		values["PATIENT_CD"] = p.Code
		values["SEX_CD"] = p.Sex
		if p.AgeYears > 0 {
			values["AGE_IN_YEARS"] = strconv.Itoa(p.AgeYears)
		}
		values["BIRTH_DATE"] = p.BirthDate
		if v != nil {
			values["START_DATE"] = v.StartDate
			values["END_DATE"] = v.EndDate
			values["LOCATION_CD"] = v.Location
			values["INOUT_CD"] = v.InOutCD
		}
		for _, o := range obs {
			values[o.ConceptCode] = observationValueString(o)
		}
		cells := make([]string, len(codes))
		for i, code := range codes {
			cells[i] = quoteCSVField(values[code])
		}
		sb.WriteString(strings.Join(cells, ","))
		sb.WriteString("\n")
	}

	for _, v := range b.Data.Visits {
		v := v
		writeRow(patientsByID[v.PatientID], &v, obsByVisit[v.ID])
	}
	// Patients with no visit at all still get one row.
	for _, p := range b.Data.Patients {
		hasVisit := false
		for _, v := range b.Data.Visits {
			if v.PatientID == p.ID {
				hasVisit = true
				break
			}
		}
		if !hasVisit {
			// Visit-less observations are pooled under key 0; keep only
			// this patient's.
			var own []ObservationRecord
			for _, o := range obsByVisit[0] {
				if o.PatientID == p.ID {
					own = append(own, o)
				}
			}
			writeRow(p, nil, own)
		}
	}

	return sb.String()
}

func observationValueString(o ObservationRecord) string {
	switch o.ValueType {
	case entities.ValueTypeNumeric:
		if o.NumericValue != nil {
			return strconv.FormatFloat(*o.NumericValue, 'f', -1, 64)
		}
		return ""
	case entities.ValueTypeDate:
		return o.DateValue
	case entities.ValueTypeBlob:
		return o.BlobValue
	default:
		return o.TextValue
	}
}

func quoteCSVField(s string) string {
	if strings.ContainsAny(s, ",\"\n") {
		return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
	}
	return s
}

func rowValue(fields, codes []string, code string) string {
	if i := indexOf(codes, code); i >= 0 && i < len(fields) {
		return strings.TrimSpace(fields[i])
	}
	return ""
}

func indexOf(list []string, target string) int {
	for i, s := range list {
		if s == target {
			return i
		}
	}
	return -1
}

func splitLines(text string) []string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	var lines []string
	for _, line := range strings.Split(text, "\n") {
		lines = append(lines, line)
	}
	// Trim trailing empty lines so row counting stays stable.
	for len(lines) > 0 && strings.TrimSpace(lines[len(lines)-1]) == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}
