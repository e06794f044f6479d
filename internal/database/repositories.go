package database

import (
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/clinsync/clinsync/internal/entities"
)

// PatientRepository implements services.PatientStore.
type PatientRepository struct {
	db *gorm.DB
}

func NewPatientRepository(d *Database) *PatientRepository {
	return &PatientRepository{db: d.DB}
}

// FindByCode looks a patient up by business code. A missing patient is not
// an error: the caller gets (nil, nil).
func (r *PatientRepository) FindByCode(code string) (*entities.Patient, error) {
	var patient entities.Patient
	err := r.db.Where("code = ?", code).First(&patient).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &patient, nil
}

func (r *PatientRepository) Create(patient *entities.Patient) error {
	return r.db.Create(patient).Error
}

func (r *PatientRepository) Update(patient *entities.Patient) error {
	return r.db.Save(patient).Error
}

func (r *PatientRepository) GetByID(id uint) (*entities.Patient, error) {
	var patient entities.Patient
	if err := r.db.First(&patient, id).Error; err != nil {
		return nil, err
	}
	return &patient, nil
}

// VisitRepository implements services.VisitStore.
type VisitRepository struct {
	db *gorm.DB
}

func NewVisitRepository(d *Database) *VisitRepository {
	return &VisitRepository{db: d.DB}
}

func (r *VisitRepository) Create(visit *entities.Visit) error {
	return r.db.Create(visit).Error
}

func (r *VisitRepository) GetByPatient(patientID uint) ([]entities.Visit, error) {
	var visits []entities.Visit
	err := r.db.Where("patient_id = ?", patientID).Order("start_date").Find(&visits).Error
	return visits, err
}

// ObservationRepository implements services.ObservationStore.
type ObservationRepository struct {
	db *gorm.DB
}

func NewObservationRepository(d *Database) *ObservationRepository {
	return &ObservationRepository{db: d.DB}
}

func (r *ObservationRepository) Create(observation *entities.Observation) error {
	return r.db.Create(observation).Error
}

func (r *ObservationRepository) GetByVisit(visitID uint) ([]entities.Observation, error) {
	var observations []entities.Observation
	err := r.db.Where("visit_id = ?", visitID).Find(&observations).Error
	return observations, err
}

// ConceptRepository implements services.ConceptDictionary.
type ConceptRepository struct {
	db *gorm.DB
}

func NewConceptRepository(d *Database) *ConceptRepository {
	return &ConceptRepository{db: d.DB}
}

func (r *ConceptRepository) Exists(code string) (bool, error) {
	var count int64
	err := r.db.Model(&entities.Concept{}).Where("code = ?", code).Count(&count).Error
	return count > 0, err
}

func (r *ConceptRepository) Create(concept *entities.Concept) error {
	return r.db.Create(concept).Error
}

// SessionRepository records and queries import sessions.
type SessionRepository struct {
	db *gorm.DB
}

func NewSessionRepository(d *Database) *SessionRepository {
	return &SessionRepository{db: d.DB}
}

func (r *SessionRepository) Create(session *entities.ImportSession) error {
	return r.db.Create(session).Error
}

func (r *SessionRepository) Update(session *entities.ImportSession) error {
	return r.db.Save(session).Error
}

func (r *SessionRepository) GetByExternalID(externalID string) (*entities.ImportSession, error) {
	var session entities.ImportSession
	err := r.db.Where("external_id = ?", externalID).First(&session).Error
	if err != nil {
		return nil, fmt.Errorf("session %s: %w", externalID, err)
	}
	return &session, nil
}

func (r *SessionRepository) List(limit int) ([]entities.ImportSession, error) {
	if limit <= 0 {
		limit = 50
	}
	var sessions []entities.ImportSession
	err := r.db.Order("started_at desc").Limit(limit).Find(&sessions).Error
	return sessions, err
}
