package services

import "github.com/clinsync/clinsync/internal/entities"

// PatientStore persists patients. FindByCode returns (nil, nil) when no
// patient carries the business code.
type PatientStore interface {
	FindByCode(code string) (*entities.Patient, error)
	Create(patient *entities.Patient) error
	Update(patient *entities.Patient) error
}

// VisitStore persists visits.
type VisitStore interface {
	Create(visit *entities.Visit) error
}

// ObservationStore persists observations.
type ObservationStore interface {
	Create(observation *entities.Observation) error
}

// ConceptDictionary gates observation inserts: observations whose concept
// code it does not know are skipped.
type ConceptDictionary interface {
	Exists(code string) (bool, error)
}

// DuplicateStrategy selects what happens when an incoming patient's business
// code already exists in the store.
type DuplicateStrategy string

const (
	// DuplicateSkip reuses the existing record and maps the source id onto
	// it without writing.
	DuplicateSkip DuplicateStrategy = "skip"
	// DuplicateUpdate overwrites the existing record's fields.
	DuplicateUpdate DuplicateStrategy = "update"
	// DuplicateError aborts the whole import on the first duplicate.
	DuplicateError DuplicateStrategy = "error"
)

// ParseDuplicateStrategy validates a strategy string, defaulting to skip.
func ParseDuplicateStrategy(s string) DuplicateStrategy {
	switch DuplicateStrategy(s) {
	case DuplicateUpdate:
		return DuplicateUpdate
	case DuplicateError:
		return DuplicateError
	default:
		return DuplicateSkip
	}
}
