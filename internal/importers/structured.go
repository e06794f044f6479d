package importers

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/clinsync/clinsync/internal/entities"
)

// Alias tables tolerate schema drift across exporting systems: each logical
// field accepts every historical name it has shipped under. New aliases are
// additive; order within a list is the lookup order.
var (
	patientAliases = map[string][]string{
		"id":        {"id", "patient_id", "patientId", "patient_num"},
		"code":      {"code", "patient_cd", "patientCode", "external_id"},
		"sex":       {"sex", "sex_cd", "gender", "sexCode"},
		"birthDate": {"birth_date", "birthDate", "dob", "date_of_birth"},
		"age":       {"age", "age_in_years", "ageInYears"},
		"race":      {"race", "race_cd"},
		"language":  {"language", "language_cd"},
		"zip":       {"zip", "zip_cd", "zipCode"},
		"vital":     {"vital_cd", "vital_status", "vitalStatus"},
	}
	visitAliases = map[string][]string{
		"id":          {"id", "visit_id", "visitId", "encounter_num"},
		"patientId":   {"patient_id", "patientId", "patient_num"},
		"patientCode": {"patient_cd", "patientCode"},
		"startDate":   {"start_date", "startDate", "admission_date"},
		"endDate":     {"end_date", "endDate", "discharge_date"},
		"location":    {"location_cd", "location", "site"},
		"inout":       {"inout_cd", "admission_type", "class"},
	}
	observationAliases = map[string][]string{
		"id":          {"id", "observation_id", "observationId"},
		"patientId":   {"patient_id", "patientId", "patient_num"},
		"patientCode": {"patient_cd", "patientCode"},
		"visitId":     {"visit_id", "visitId", "encounter_num"},
		"conceptCode": {"concept_cd", "conceptCode", "code", "concept"},
		"valueType":   {"value_type", "valueType", "valtype_cd", "type"},
		"numeric":     {"numeric_value", "nval_num", "valueNumber"},
		"text":        {"text_value", "tval_char", "valueText", "value"},
		"date":        {"date_value", "valueDate"},
		"blob":        {"blob_value", "observation_blob", "valueBlob"},
		"unit":        {"unit", "units_cd", "unit_cd"},
		"observedAt":  {"date", "start_date", "observedAt"},
	}
)

// resolveField looks a logical field up through its alias list.
func resolveField(obj map[string]any, aliases map[string][]string, field string) (any, bool) {
	for _, name := range aliases[field] {
		if v, ok := obj[name]; ok && v != nil {
			return v, true
		}
	}
	return nil, false
}

func resolveString(obj map[string]any, aliases map[string][]string, field string) string {
	v, ok := resolveField(obj, aliases, field)
	if !ok {
		return ""
	}
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	}
	return ""
}

func resolveInt64(obj map[string]any, aliases map[string][]string, field string) int64 {
	v, ok := resolveField(obj, aliases, field)
	if !ok {
		return 0
	}
	switch t := v.(type) {
	case float64:
		return int64(t)
	case string:
		if n, err := strconv.ParseInt(t, 10, 64); err == nil {
			return n
		}
	}
	return 0
}

// StructuredNormalizer maps a generic hierarchical record document into the
// canonical bundle.
type StructuredNormalizer struct{}

func NewStructuredNormalizer() *StructuredNormalizer {
	return &StructuredNormalizer{}
}

func (n *StructuredNormalizer) Normalize(content []byte, filename string) (*Bundle, *Report, error) {
	report := &Report{}

	var doc map[string]any
	if err := json.Unmarshal(content, &doc); err != nil {
		return nil, report, fmt.Errorf("%w: %v", ErrNoDataSection, err)
	}

	data, ok := doc["data"].(map[string]any)
	if !ok {
		return nil, report, fmt.Errorf("%w: top-level data section is required", ErrNoDataSection)
	}

	patients, _ := data["patients"].([]any)
	visits, _ := data["visits"].([]any)
	observations, _ := data["observations"].([]any)
	if patients == nil && visits == nil && observations == nil {
		return nil, report, fmt.Errorf("%w: data contains none of patients, visits, observations", ErrNoDataSection)
	}

	bundle := NewBundle(FormatJSON, filename)
	if meta, ok := doc["metadata"].(map[string]any); ok {
		if d, ok := meta["exportDate"].(string); ok {
			bundle.Metadata.ExportDate = d
		}
	}

	for i, raw := range patients {
		obj, ok := raw.(map[string]any)
		if !ok {
			report.AddError(RecordError{Entity: "patient", Index: i, Reason: "not an object"})
			continue
		}
		bundle.Data.Patients = append(bundle.Data.Patients, mapPatient(obj, i))
	}

	for i, raw := range visits {
		obj, ok := raw.(map[string]any)
		if !ok {
			report.AddError(RecordError{Entity: "visit", Index: i, Reason: "not an object"})
			continue
		}
		bundle.Data.Visits = append(bundle.Data.Visits, mapVisit(obj, i))
	}

	for i, raw := range observations {
		obj, ok := raw.(map[string]any)
		if !ok {
			report.AddError(RecordError{Entity: "observation", Index: i, Reason: "not an object"})
			continue
		}
		obs, err := mapObservation(obj, i)
		if err != nil {
			report.AddError(RecordError{Entity: "observation", Index: i, Reason: err.Error()})
			continue
		}
		bundle.Data.Observations = append(bundle.Data.Observations, obs)
	}

	bundle.Seal()
	return bundle, report, nil
}

func mapPatient(obj map[string]any, idx int) PatientRecord {
	p := PatientRecord{
		ID:        resolveInt64(obj, patientAliases, "id"),
		Code:      resolveString(obj, patientAliases, "code"),
		Sex:       resolveString(obj, patientAliases, "sex"),
		BirthDate: resolveString(obj, patientAliases, "birthDate"),
		Race:      resolveString(obj, patientAliases, "race"),
		Language:  resolveString(obj, patientAliases, "language"),
		ZipCode:   resolveString(obj, patientAliases, "zip"),
		VitalCD:   resolveString(obj, patientAliases, "vital"),
	}
	p.AgeYears = int(resolveInt64(obj, patientAliases, "age"))
	if p.ID == 0 {
		p.ID = int64(idx + 1)
	}
	return p
}

func mapVisit(obj map[string]any, idx int) VisitRecord {
	v := VisitRecord{
		ID:          resolveInt64(obj, visitAliases, "id"),
		PatientID:   resolveInt64(obj, visitAliases, "patientId"),
		PatientCode: resolveString(obj, visitAliases, "patientCode"),
		StartDate:   resolveString(obj, visitAliases, "startDate"),
		EndDate:     resolveString(obj, visitAliases, "endDate"),
		Location:    resolveString(obj, visitAliases, "location"),
		InOutCD:     resolveString(obj, visitAliases, "inout"),
	}
	if v.ID == 0 {
		v.ID = int64(idx + 1)
	}
	return v
}

func mapObservation(obj map[string]any, idx int) (ObservationRecord, error) {
	o := ObservationRecord{
		ID:          resolveInt64(obj, observationAliases, "id"),
		PatientID:   resolveInt64(obj, observationAliases, "patientId"),
		PatientCode: resolveString(obj, observationAliases, "patientCode"),
		VisitID:     resolveInt64(obj, observationAliases, "visitId"),
		ConceptCode: resolveString(obj, observationAliases, "conceptCode"),
		Unit:        resolveString(obj, observationAliases, "unit"),
		Date:        resolveString(obj, observationAliases, "observedAt"),
	}
	if o.ID == 0 {
		o.ID = int64(idx + 1)
	}
	if o.ConceptCode == "" {
		return o, fmt.Errorf("missing concept code")
	}

	text := resolveString(obj, observationAliases, "text")
	date := resolveString(obj, observationAliases, "date")
	blob := resolveString(obj, observationAliases, "blob")

	switch entities.ValueType(resolveString(obj, observationAliases, "valueType")) {
	case entities.ValueTypeNumeric:
		num, ok := resolveFloat(obj, observationAliases, "numeric")
		if !ok {
			return o, fmt.Errorf("numeric observation has no numeric value")
		}
		o.SetValue(entities.ValueTypeNumeric, &num, "", "", "")
	case entities.ValueTypeDate:
		o.SetValue(entities.ValueTypeDate, nil, "", date, "")
	case entities.ValueTypeBlob:
		o.SetValue(entities.ValueTypeBlob, nil, "", "", blob)
	case entities.ValueTypeQuestionnaire:
		// The text value is the questionnaire's display title. When the
		// plain text field is absent it is recovered from the payload; the
		// full response stays verbatim in the blob slot.
		title := text
		if title == "" {
			title = questionnaireTitle(blob)
		}
		o.SetValue(entities.ValueTypeQuestionnaire, nil, title, "", blob)
	case entities.ValueTypeText:
		o.SetValue(entities.ValueTypeText, nil, text, "", "")
	default:
		// No authoritative value type: infer from the text value.
		vt, num := inferValueType(text)
		o.SetValue(vt, num, text, text, text)
	}
	return o, nil
}

func resolveFloat(obj map[string]any, aliases map[string][]string, field string) (float64, bool) {
	v, ok := resolveField(obj, aliases, field)
	if !ok {
		return 0, false
	}
	switch t := v.(type) {
	case float64:
		return t, true
	case string:
		if f, err := strconv.ParseFloat(t, 64); err == nil {
			return f, true
		}
	}
	return 0, false
}

// questionnaireTitle digs a display title out of a serialized questionnaire
// payload.
func questionnaireTitle(blob string) string {
	if blob == "" {
		return ""
	}
	var payload map[string]any
	if err := json.Unmarshal([]byte(blob), &payload); err != nil {
		return ""
	}
	for _, key := range []string{"title", "name", "display"} {
		if s, ok := payload[key].(string); ok && s != "" {
			return s
		}
	}
	return ""
}
