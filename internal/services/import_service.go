package services

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/clinsync/clinsync/internal/entities"
	"github.com/clinsync/clinsync/internal/importers"
)

// SessionStore records import sessions.
type SessionStore interface {
	Create(session *entities.ImportSession) error
	Update(session *entities.ImportSession) error
}

// ImportService runs the pipeline and records each run as an import
// session, so every import (HTTP, CLI, task queue, inbox) leaves a
// queryable audit row.
type ImportService struct {
	pipeline *importers.Pipeline
	sessions SessionStore
}

func NewImportService(pipeline *importers.Pipeline, sessions SessionStore) *ImportService {
	return &ImportService{
		pipeline: pipeline,
		sessions: sessions,
	}
}

// Run imports the payload and records the outcome. The returned session is
// always non-nil once the store accepted the initial row; the error mirrors
// the pipeline's structural error, if any.
func (s *ImportService) Run(content []byte, filename, trigger string, opts importers.PersistOptions) (importers.ImportOutcome, *entities.ImportSession, error) {
	session := &entities.ImportSession{
		ExternalID: uuid.NewString(),
		Filename:   filename,
		Trigger:    trigger,
		Status:     entities.ImportStatusRunning,
		StartedAt:  time.Now(),
	}
	if err := s.sessions.Create(session); err != nil {
		return importers.ImportOutcome{}, nil, fmt.Errorf("failed to record import session: %w", err)
	}

	outcome, err := s.pipeline.Import(content, filename, opts)
	s.finishSession(session, outcome, err)
	return outcome, session, err
}

// RunForTarget is Run in relaxed identifier mode: the whole payload is
// mapped onto one caller-supplied patient/visit pair.
func (s *ImportService) RunForTarget(content []byte, filename, trigger string, targetPatientID, targetVisitID uint, opts importers.PersistOptions) (importers.ImportOutcome, *entities.ImportSession, error) {
	session := &entities.ImportSession{
		ExternalID: uuid.NewString(),
		Filename:   filename,
		Trigger:    trigger,
		Status:     entities.ImportStatusRunning,
		StartedAt:  time.Now(),
	}
	if err := s.sessions.Create(session); err != nil {
		return importers.ImportOutcome{}, nil, fmt.Errorf("failed to record import session: %w", err)
	}

	outcome, err := s.pipeline.ImportForTarget(content, filename, targetPatientID, targetVisitID, opts)
	s.finishSession(session, outcome, err)
	return outcome, session, err
}

// Analyze is a read-only preview; no session is recorded.
func (s *ImportService) Analyze(content []byte, filename string) (importers.Analysis, error) {
	return s.pipeline.Analyze(content, filename)
}

func (s *ImportService) finishSession(session *entities.ImportSession, outcome importers.ImportOutcome, runErr error) {
	now := time.Now()
	session.CompletedAt = &now
	session.Format = string(outcome.Format)
	session.Status = entities.ImportStatusCompleted
	if runErr != nil || !outcome.Success {
		session.Status = entities.ImportStatusFailed
	}

	session.PatientsCreated = outcome.Result.PatientsCreated
	session.PatientsDuplicate = outcome.Result.PatientsDuplicate
	session.PatientsFailed = outcome.Result.PatientsFailed
	session.VisitsCreated = outcome.Result.VisitsCreated
	session.VisitsFailed = outcome.Result.VisitsFailed
	session.VisitsSynthesized = outcome.Result.VisitsSynthesized
	session.ObservationsCreated = outcome.Result.ObservationsCreated
	session.ObservationsSkipped = outcome.Result.ObservationsSkipped
	session.ObservationsFailed = outcome.Result.ObservationsFailed

	errs := outcome.Errors
	if runErr != nil {
		errs = append(errs, importers.RecordError{Entity: "import", Reason: runErr.Error()})
	}
	if b, err := json.Marshal(errs); err == nil {
		session.Errors = string(b)
	}
	if b, err := json.Marshal(outcome.Warnings); err == nil {
		session.Warnings = string(b)
	}

	// Bookkeeping failure must not mask the import outcome.
	_ = s.sessions.Update(session)
}
