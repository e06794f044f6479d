package entities

import (
	"time"

	"gorm.io/gorm"
)

// ValueType discriminates which value slot of an Observation is authoritative.
type ValueType string

const (
	ValueTypeNumeric       ValueType = "numeric"
	ValueTypeText          ValueType = "text"
	ValueTypeDate          ValueType = "date"
	ValueTypeBlob          ValueType = "blob"
	ValueTypeQuestionnaire ValueType = "questionnaire"
)

type ImportStatus string

const (
	ImportStatusPending   ImportStatus = "pending"
	ImportStatusRunning   ImportStatus = "running"
	ImportStatusCompleted ImportStatus = "completed"
	ImportStatusFailed    ImportStatus = "failed"
)

// Patient is one demographic record. Code is the business key used for
// cross-import deduplication; store IDs are assigned by the database. The
// code is optional: sources without demographics produce code-less patients,
// so the unique index only covers non-empty codes.
type Patient struct {
	ID        uint   `gorm:"primaryKey" json:"id"`
	Code      string `gorm:"uniqueIndex:idx_patients_code,where:code <> '';size:64" json:"code,omitempty"` // external patient code
	Sex       string `gorm:"size:16" json:"sex,omitempty"`
	BirthDate string `gorm:"size:32" json:"birth_date,omitempty"`
	AgeYears  int    `json:"age_years,omitempty"`
	Race      string `gorm:"size:64" json:"race,omitempty"`
	Language  string `gorm:"size:64" json:"language,omitempty"`
	ZipCode   string `gorm:"size:16" json:"zip_code,omitempty"`
	VitalCD   string `gorm:"size:16" json:"vital_cd,omitempty"` // vital status code

	Visits       []Visit       `gorm:"foreignKey:PatientID" json:"visits,omitempty"`
	Observations []Observation `gorm:"foreignKey:PatientID" json:"observations,omitempty"`

	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

// Visit is one clinical encounter owned by exactly one patient.
type Visit struct {
	ID          uint       `gorm:"primaryKey" json:"id"`
	PatientID   uint       `gorm:"index" json:"patient_id"`
	ExternalID  string     `gorm:"size:64" json:"external_id,omitempty"` // set for synthesized visits
	StartDate   time.Time  `gorm:"index" json:"start_date"`
	EndDate     *time.Time `json:"end_date,omitempty"`
	Location    string     `gorm:"size:128" json:"location,omitempty"`
	InOutCD     string     `gorm:"size:16" json:"inout_cd,omitempty"` // admission type code, e.g. "I"/"O"
	Synthesized bool       `gorm:"default:false" json:"synthesized"`

	Patient      Patient       `gorm:"foreignKey:PatientID" json:"-"`
	Observations []Observation `gorm:"foreignKey:VisitID" json:"observations,omitempty"`

	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

// Observation is one clinical fact. Exactly one value field is populated,
// selected by ValueType.
type Observation struct {
	ID          uint   `gorm:"primaryKey" json:"id"`
	PatientID   uint   `gorm:"index" json:"patient_id"`
	VisitID     uint   `gorm:"index" json:"visit_id"`
	ConceptCode string `gorm:"index;size:128" json:"concept_code"`

	ValueType    ValueType `gorm:"size:20;default:'text'" json:"value_type"`
	NumericValue *float64  `json:"numeric_value,omitempty"`
	TextValue    string    `gorm:"type:text" json:"text_value,omitempty"`
	DateValue    string    `gorm:"size:32" json:"date_value,omitempty"`
	BlobValue    string    `gorm:"type:text" json:"blob_value,omitempty"`

	Unit       string     `gorm:"size:32" json:"unit,omitempty"`
	ObservedAt *time.Time `json:"observed_at,omitempty"`

	Patient Patient `gorm:"foreignKey:PatientID" json:"-"`
	Visit   Visit   `gorm:"foreignKey:VisitID" json:"-"`

	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

// Concept is one entry of the concept dictionary. Observations referencing
// a code absent from this table are skipped at persist time.
type Concept struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Code      string    `gorm:"uniqueIndex;size:128" json:"code"`
	Name      string    `gorm:"size:256" json:"name,omitempty"`
	ValueType ValueType `gorm:"size:20" json:"value_type,omitempty"`
	System    string    `gorm:"size:128" json:"system,omitempty"` // coding system URI, if known
	CreatedAt time.Time `json:"created_at"`
}

// ImportSession records one import run with its outcome counts.
type ImportSession struct {
	ID         uint         `gorm:"primaryKey" json:"id"`
	ExternalID string       `gorm:"uniqueIndex;size:36" json:"external_id"` // uuid
	Filename   string       `gorm:"size:512" json:"filename"`
	Format     string       `gorm:"size:32" json:"format"`
	Trigger    string       `gorm:"size:32" json:"trigger"` // http, http-async, cli, inbox
	Status     ImportStatus `gorm:"size:20;default:'pending'" json:"status"`

	PatientsCreated      int `json:"patients_created"`
	PatientsDuplicate    int `json:"patients_duplicate"`
	PatientsFailed       int `json:"patients_failed"`
	VisitsCreated        int `json:"visits_created"`
	VisitsFailed         int `json:"visits_failed"`
	ObservationsCreated  int `json:"observations_created"`
	ObservationsSkipped  int `json:"observations_skipped"`
	ObservationsFailed   int `json:"observations_failed"`
	VisitsSynthesized    int `json:"visits_synthesized"`

	Errors   string `gorm:"type:text" json:"errors,omitempty"`   // JSON array of errors
	Warnings string `gorm:"type:text" json:"warnings,omitempty"` // JSON array of warnings

	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

func (Patient) TableName() string {
	return "patients"
}

func (Visit) TableName() string {
	return "visits"
}

func (Observation) TableName() string {
	return "observations"
}

func (Concept) TableName() string {
	return "concepts"
}

func (ImportSession) TableName() string {
	return "import_sessions"
}
