package importers

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/clinsync/clinsync/internal/entities"
)

// clinicalEntry is one entry of a clinical-document section.
type clinicalEntry struct {
	Title   string `json:"title"`
	Value   any    `json:"value"`
	Code    string `json:"code"`
	System  string `json:"system"`
	Display string `json:"display"`
	Unit    string `json:"unit"`
	Date    string `json:"date"`
}

type clinicalSection struct {
	Title   string          `json:"title"`
	Entries []clinicalEntry `json:"entry"`
}

type clinicalSubject struct {
	Reference string `json:"reference"`
	Display   string `json:"display"`
}

// clinicalDocument is the section/entry tree of a clinical document.
type clinicalDocument struct {
	ResourceType string            `json:"resourceType"`
	Title        string            `json:"title"`
	Date         string            `json:"date"`
	Subject      *clinicalSubject  `json:"subject"`
	Sections     []clinicalSection `json:"section"`
}

const (
	patientSectionTitle = "Patient Information"
	visitSectionPrefix  = "Visit"
)

var patientEntryTitles = map[string]bool{
	"Patient": true, "Patient ID": true, "Patient Code": true,
}

// ClinicalDocNormalizer parses a clinical-document section/entry tree.
type ClinicalDocNormalizer struct{}

func NewClinicalDocNormalizer() *ClinicalDocNormalizer {
	return &ClinicalDocNormalizer{}
}

func (n *ClinicalDocNormalizer) Normalize(content []byte, filename string) (*Bundle, *Report, error) {
	report := &Report{}

	var doc clinicalDocument
	if err := json.Unmarshal(content, &doc); err != nil {
		return nil, report, fmt.Errorf("%w: %v", ErrNoDataSection, err)
	}
	if len(doc.Sections) == 0 {
		return nil, report, fmt.Errorf("%w: document has no sections", ErrNoDataSection)
	}

	bundle := NewBundle(FormatCDA, filename)
	bundle.Metadata.ExportDate = doc.Date
	transformClinicalDocument(&doc, bundle, report)
	bundle.Seal()
	return bundle, report, nil
}

// transformClinicalDocument walks the section/entry tree into the bundle.
// The survey normalizer delegates to this same logic after extracting its
// embedded payload.
func transformClinicalDocument(doc *clinicalDocument, bundle *Bundle, report *Report) {
	patient := extractDocumentPatient(doc)
	bundle.Data.Patients = append(bundle.Data.Patients, patient)

	nextObsID := int64(len(bundle.Data.Observations))

	addObservation := func(entry clinicalEntry, visitID int64) {
		// Only entries carrying both a coding system and a non-empty code
		// become observations; uncoded entries are dropped.
		if entry.System == "" || entry.Code == "" {
			return
		}
		nextObsID++
		obs := ObservationRecord{
			ID:          nextObsID,
			PatientID:   patient.ID,
			PatientCode: patient.Code,
			VisitID:     visitID,
			ConceptCode: entry.Code,
			Unit:        entry.Unit,
			Date:        entry.Date,
		}
		if num, ok := entryNumericValue(entry.Value); ok {
			obs.SetValue(entities.ValueTypeNumeric, &num, "", "", "")
		} else {
			text := entryTextValue(entry.Value)
			if text == "" {
				text = entry.Display
			}
			obs.SetValue(entities.ValueTypeText, nil, text, "", "")
		}
		bundle.Data.Observations = append(bundle.Data.Observations, obs)
	}

	for _, section := range doc.Sections {
		switch {
		case section.Title == patientSectionTitle:
			// Handled by extractDocumentPatient; nothing else to emit.

		case strings.HasPrefix(section.Title, visitSectionPrefix):
			visit := VisitRecord{
				ID:          int64(len(bundle.Data.Visits) + 1),
				PatientID:   patient.ID,
				PatientCode: patient.Code,
			}
			for _, entry := range section.Entries {
				switch entry.Title {
				case "Date", "Start Date":
					visit.StartDate = entryTextValue(entry.Value)
				case "End Date":
					visit.EndDate = entryTextValue(entry.Value)
				case "Location":
					visit.Location = entryTextValue(entry.Value)
				default:
					if entry.Title != "" && entryValueDefined(entry.Value) {
						addObservation(entry, visit.ID)
					}
				}
			}
			if visit.StartDate == "" && visit.Location == "" {
				// Unidentified, but still counted.
				report.AddWarning(Warning{
					Entity:  "visit",
					ID:      strconv.FormatInt(visit.ID, 10),
					Message: fmt.Sprintf("section %q has neither date nor location", section.Title),
				})
			}
			bundle.Data.Visits = append(bundle.Data.Visits, visit)

		default:
			for _, entry := range section.Entries {
				if entry.Title == "" || !entryValueDefined(entry.Value) {
					continue
				}
				addObservation(entry, 0)
			}
		}
	}
}

// extractDocumentPatient recovers patient identity from the dedicated
// patient section (first patient-labeled entry), falling back to the
// top-level subject reference.
func extractDocumentPatient(doc *clinicalDocument) PatientRecord {
	patient := PatientRecord{ID: 1}

	for _, section := range doc.Sections {
		if section.Title != patientSectionTitle {
			continue
		}
		for _, entry := range section.Entries {
			value := entryTextValue(entry.Value)
			if patientEntryTitles[entry.Title] && patient.Code == "" {
				patient.Code = value
				continue
			}
			switch entry.Title {
			case "Sex", "Gender":
				patient.Sex = value
			case "Birth Date", "Date of Birth":
				patient.BirthDate = value
			case "Age":
				if age, err := strconv.Atoi(value); err == nil {
					patient.AgeYears = age
				}
			}
		}
	}

	if patient.Code == "" && doc.Subject != nil {
		ref := doc.Subject.Reference
		if i := strings.LastIndex(ref, "/"); i >= 0 {
			ref = ref[i+1:]
		}
		patient.Code = ref
	}
	return patient
}

func entryValueDefined(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case string:
		return t != ""
	}
	return true
}

func entryTextValue(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	case nil:
		return ""
	}
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(b)
}

func entryNumericValue(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case string:
		if f, err := strconv.ParseFloat(strings.TrimSpace(t), 64); err == nil {
			return f, true
		}
	}
	return 0, false
}
