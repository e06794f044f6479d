package importers

import (
	"time"

	"github.com/clinsync/clinsync/internal/entities"
)

// Format identifies one of the supported input formats.
type Format string

const (
	FormatCSV         Format = "csv"    // delimited text, Variant A or B headers
	FormatJSON        Format = "json"   // structured document
	FormatCDA         Format = "cda"    // clinical document (section/entry tree)
	FormatSurvey      Format = "survey" // markup with embedded clinical-document payload
	FormatUnsupported Format = "unsupported"
)

// PatientRecord is one patient as it appears in a source payload.
// ID is a source-local identifier, meaningless outside this import.
type PatientRecord struct {
	ID        int64
	Code      string // business key used for cross-import deduplication
	Sex       string
	BirthDate string
	AgeYears  int
	Race      string
	Language  string
	ZipCode   string
	VitalCD   string
}

// VisitRecord is one encounter. PatientID refers to the source-local
// identifier of the owning patient within the same bundle.
type VisitRecord struct {
	ID          int64
	PatientID   int64
	PatientCode string
	StartDate   string
	EndDate     string
	Location    string
	InOutCD     string
}

// ObservationRecord is one clinical fact. VisitID may be zero for
// patient-level observations. Exactly one value field is populated,
// selected by ValueType.
type ObservationRecord struct {
	ID          int64
	PatientID   int64
	PatientCode string
	VisitID     int64
	ConceptCode string

	ValueType    entities.ValueType
	NumericValue *float64
	TextValue    string
	DateValue    string
	BlobValue    string

	Unit string
	Date string
}

// Metadata describes the origin of a bundle.
type Metadata struct {
	Format     Format `json:"format"`
	Filename   string `json:"filename"`
	ExportDate string `json:"exportDate,omitempty"`

	PatientCount     int `json:"patientCount"`
	VisitCount       int `json:"visitCount"`
	ObservationCount int `json:"observationCount"`
}

// BundleData holds the ordered entity collections of one import.
type BundleData struct {
	Patients     []PatientRecord     `json:"patients"`
	Visits       []VisitRecord       `json:"visits"`
	Observations []ObservationRecord `json:"observations"`
}

// Statistics are computed once when the bundle is sealed.
type Statistics struct {
	PatientCount     int       `json:"patientCount"`
	VisitCount       int       `json:"visitCount"`
	ObservationCount int       `json:"observationCount"`
	FetchedAt        time.Time `json:"fetchedAt"`
}

// Bundle is the canonical import structure every normalizer produces.
// It is created fresh per import and never mutated after Seal.
type Bundle struct {
	Metadata   Metadata   `json:"metadata"`
	Data       BundleData `json:"data"`
	Statistics Statistics `json:"statistics"`
}

// NewBundle creates an empty bundle for the given source.
func NewBundle(format Format, filename string) *Bundle {
	return &Bundle{
		Metadata: Metadata{
			Format:   format,
			Filename: filename,
		},
	}
}

// Seal computes counts. Call once, after the normalizer is done appending.
func (b *Bundle) Seal() {
	b.Metadata.PatientCount = len(b.Data.Patients)
	b.Metadata.VisitCount = len(b.Data.Visits)
	b.Metadata.ObservationCount = len(b.Data.Observations)
	b.Statistics = Statistics{
		PatientCount:     len(b.Data.Patients),
		VisitCount:       len(b.Data.Visits),
		ObservationCount: len(b.Data.Observations),
		FetchedAt:        time.Now(),
	}
}

// SetValue populates the single value slot selected by the value type and
// clears the rest, keeping the discriminator invariant intact.
func (o *ObservationRecord) SetValue(vt entities.ValueType, numeric *float64, text, date, blob string) {
	o.ValueType = vt
	o.NumericValue = nil
	o.TextValue = ""
	o.DateValue = ""
	o.BlobValue = ""
	switch vt {
	case entities.ValueTypeNumeric:
		o.NumericValue = numeric
	case entities.ValueTypeDate:
		o.DateValue = date
	case entities.ValueTypeBlob:
		o.BlobValue = blob
	case entities.ValueTypeQuestionnaire:
		// Questionnaire observations carry a title and the full response.
		o.TextValue = text
		o.BlobValue = blob
	default:
		o.TextValue = text
	}
}
