package services

import (
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/clinsync/clinsync/internal/entities"
	"github.com/clinsync/clinsync/internal/importers"
)

// ErrDuplicatePatient aborts a persist run under the error duplicate policy.
type ErrDuplicatePatient struct {
	Code string
}

func (e ErrDuplicatePatient) Error() string {
	return fmt.Sprintf("patient with code %q already exists", e.Code)
}

// PersistService is the reconciling persister: it walks a canonical bundle
// and writes patients, visits and observations in dependency order,
// translating every source-local identifier into a store-generated one.
//
// The identifier maps live for exactly one Persist call; two concurrent
// imports against the same store are not coordinated here.
type PersistService struct {
	patients     PatientStore
	visits       VisitStore
	observations ObservationStore
	concepts     ConceptDictionary
	log          zerolog.Logger
}

func NewPersistService(
	patients PatientStore,
	visits VisitStore,
	observations ObservationStore,
	concepts ConceptDictionary,
	log zerolog.Logger,
) *PersistService {
	return &PersistService{
		patients:     patients,
		visits:       visits,
		observations: observations,
		concepts:     concepts,
		log:          log,
	}
}

// persistState holds the two scoped identifier maps built during one run.
type persistState struct {
	patientByCode         map[string]uint // business code -> store id
	patientByOriginalID   map[int64]uint  // source-local patient id -> store id
	visitByOriginalID     map[int64]uint  // source-local visit id -> store id
	defaultVisitByPatient map[uint]uint   // store patient id -> synthesized visit id
}

// Persist writes the bundle. Per-record failures are accumulated in the
// report and never abort the remaining records; the only aborting condition
// is a duplicate patient under the DuplicateError policy, returned as
// ErrDuplicatePatient before any visit or observation is written.
func (s *PersistService) Persist(bundle *importers.Bundle, opts importers.PersistOptions) (importers.PersistResult, *importers.Report, error) {
	result := importers.PersistResult{}
	report := &importers.Report{}
	st := &persistState{
		patientByCode:         make(map[string]uint),
		patientByOriginalID:   make(map[int64]uint),
		visitByOriginalID:     make(map[int64]uint),
		defaultVisitByPatient: make(map[uint]uint),
	}

	if opts.TargetPatientID != 0 && opts.TargetVisitID != 0 {
		s.mapRelaxedIdentifiers(bundle, opts, st, report)
	} else {
		if err := s.persistPatients(bundle, opts, st, &result, report); err != nil {
			return result, report, err
		}
		s.persistVisits(bundle, st, &result, report)
	}

	s.persistObservations(bundle, st, &result, report)

	s.log.Info().
		Str("format", string(bundle.Metadata.Format)).
		Int("patients_created", result.PatientsCreated).
		Int("visits_created", result.VisitsCreated).
		Int("observations_created", result.ObservationsCreated).
		Int("errors", len(report.Errors)).
		Msg("persist finished")

	return result, report, nil
}

// mapRelaxedIdentifiers maps every source-local patient and visit onto the
// caller-supplied target pair. This intentionally flattens multi-patient
// payloads into a single target context; a payload with several distinct
// patients is collapsed, and a warning flags the merge.
func (s *PersistService) mapRelaxedIdentifiers(bundle *importers.Bundle, opts importers.PersistOptions, st *persistState, report *importers.Report) {
	for _, p := range bundle.Data.Patients {
		st.patientByOriginalID[p.ID] = opts.TargetPatientID
		if p.Code != "" {
			st.patientByCode[p.Code] = opts.TargetPatientID
		}
	}
	for _, v := range bundle.Data.Visits {
		st.visitByOriginalID[v.ID] = opts.TargetVisitID
	}
	// Observations referencing unseen identifiers still land on the target.
	st.patientByOriginalID[0] = opts.TargetPatientID
	st.defaultVisitByPatient[opts.TargetPatientID] = opts.TargetVisitID

	if len(bundle.Data.Patients) > 1 {
		report.AddWarning(importers.Warning{
			Entity: "patient",
			Message: fmt.Sprintf(
				"%d distinct source patients collapsed onto target patient %d",
				len(bundle.Data.Patients), opts.TargetPatientID),
		})
	}
}

func (s *PersistService) persistPatients(bundle *importers.Bundle, opts importers.PersistOptions, st *persistState, result *importers.PersistResult, report *importers.Report) error {
	for i, p := range bundle.Data.Patients {
		var existing *entities.Patient
		if p.Code != "" {
			found, err := s.patients.FindByCode(p.Code)
			if err != nil {
				result.PatientsFailed++
				report.AddError(importers.RecordError{
					Entity: "patient", Index: i, ID: p.Code,
					Reason: fmt.Sprintf("lookup failed: %v", err),
				})
				continue
			}
			existing = found
		}

		if existing != nil {
			switch ParseDuplicateStrategy(opts.DuplicateStrategy) {
			case DuplicateError:
				return ErrDuplicatePatient{Code: p.Code}
			case DuplicateUpdate:
				applyPatientRecord(existing, p)
				if err := s.patients.Update(existing); err != nil {
					result.PatientsFailed++
					report.AddError(importers.RecordError{
						Entity: "patient", Index: i, ID: p.Code,
						Reason: fmt.Sprintf("update failed: %v", err),
					})
					continue
				}
				report.AddWarning(importers.Warning{
					Entity: "patient", ID: p.Code,
					Message: "existing patient updated",
				})
			default:
				report.AddWarning(importers.Warning{
					Entity: "patient", ID: p.Code,
					Message: "duplicate patient skipped, existing record reused",
				})
			}
			result.PatientsDuplicate++
			st.patientByCode[p.Code] = existing.ID
			st.patientByOriginalID[p.ID] = existing.ID
			continue
		}

		patient := &entities.Patient{}
		applyPatientRecord(patient, p)
		if err := s.patients.Create(patient); err != nil {
			result.PatientsFailed++
			report.AddError(importers.RecordError{
				Entity: "patient", Index: i, ID: p.Code,
				Reason: fmt.Sprintf("insert failed: %v", err),
			})
			continue
		}
		result.PatientsCreated++
		if p.Code != "" {
			st.patientByCode[p.Code] = patient.ID
		}
		st.patientByOriginalID[p.ID] = patient.ID
	}
	return nil
}

func (s *PersistService) persistVisits(bundle *importers.Bundle, st *persistState, result *importers.PersistResult, report *importers.Report) {
	for i, v := range bundle.Data.Visits {
		patientID, ok := st.resolvePatient(v.PatientCode, v.PatientID)
		if !ok {
			result.VisitsFailed++
			report.AddError(importers.RecordError{
				Entity: "visit", Index: i, ID: strconv.FormatInt(v.ID, 10),
				Reason: "owning patient could not be resolved",
			})
			continue
		}

		visit := &entities.Visit{
			PatientID: patientID,
			Location:  v.Location,
			InOutCD:   v.InOutCD,
		}
		if t, ok := parseFlexibleDate(v.StartDate); ok {
			visit.StartDate = t
		}
		if t, ok := parseFlexibleDate(v.EndDate); ok {
			visit.EndDate = &t
		}
		if err := s.visits.Create(visit); err != nil {
			result.VisitsFailed++
			report.AddError(importers.RecordError{
				Entity: "visit", Index: i, ID: strconv.FormatInt(v.ID, 10),
				Reason: fmt.Sprintf("insert failed: %v", err),
			})
			continue
		}
		result.VisitsCreated++
		st.visitByOriginalID[v.ID] = visit.ID
	}
}

func (s *PersistService) persistObservations(bundle *importers.Bundle, st *persistState, result *importers.PersistResult, report *importers.Report) {
	for i, o := range bundle.Data.Observations {
		patientID, ok := st.resolvePatient(o.PatientCode, o.PatientID)
		if !ok {
			result.ObservationsFailed++
			report.AddError(importers.RecordError{
				Entity: "observation", Index: i, ID: strconv.FormatInt(o.ID, 10),
				Reason: "owning patient could not be resolved",
			})
			continue
		}

		known, err := s.concepts.Exists(o.ConceptCode)
		if err != nil {
			result.ObservationsFailed++
			report.AddError(importers.RecordError{
				Entity: "observation", Index: i, ID: strconv.FormatInt(o.ID, 10),
				Reason: fmt.Sprintf("concept lookup failed: %v", err),
			})
			continue
		}
		if !known {
			// Informational skip, not an error: the import continues and
			// the record is counted as skipped.
			result.ObservationsSkipped++
			report.AddWarning(importers.Warning{
				Entity: "observation", ID: strconv.FormatInt(o.ID, 10),
				Message: fmt.Sprintf("concept %q not in dictionary, observation skipped", o.ConceptCode),
			})
			continue
		}

		visitID, ok := st.visitByOriginalID[o.VisitID]
		if !ok || o.VisitID == 0 {
			visitID, err = s.defaultVisitFor(patientID, o.Date, st, result)
			if err != nil {
				result.ObservationsFailed++
				report.AddError(importers.RecordError{
					Entity: "observation", Index: i, ID: strconv.FormatInt(o.ID, 10),
					Reason: fmt.Sprintf("default visit synthesis failed: %v", err),
				})
				continue
			}
		}

		obs := &entities.Observation{
			PatientID:    patientID,
			VisitID:      visitID,
			ConceptCode:  o.ConceptCode,
			ValueType:    o.ValueType,
			NumericValue: o.NumericValue,
			TextValue:    o.TextValue,
			DateValue:    o.DateValue,
			BlobValue:    o.BlobValue,
			Unit:         o.Unit,
		}
		if t, ok := parseFlexibleDate(o.Date); ok {
			obs.ObservedAt = &t
		}
		if err := s.observations.Create(obs); err != nil {
			result.ObservationsFailed++
			report.AddError(importers.RecordError{
				Entity: "observation", Index: i, ID: strconv.FormatInt(o.ID, 10),
				Reason: fmt.Sprintf("insert failed: %v", err),
			})
			continue
		}
		result.ObservationsCreated++
	}
}

// defaultVisitFor synthesizes a generic outpatient encounter so that
// patient-level or malformed-visit observations are never silently lost.
// One synthesized visit is reused per patient within a run.
func (s *PersistService) defaultVisitFor(patientID uint, obsDate string, st *persistState, result *importers.PersistResult) (uint, error) {
	if id, ok := st.defaultVisitByPatient[patientID]; ok {
		return id, nil
	}

	start := time.Now()
	if t, ok := parseFlexibleDate(obsDate); ok {
		start = t
	}
	visit := &entities.Visit{
		PatientID:   patientID,
		ExternalID:  uuid.NewString(),
		StartDate:   start,
		InOutCD:     "O",
		Synthesized: true,
	}
	if err := s.visits.Create(visit); err != nil {
		return 0, err
	}
	result.VisitsCreated++
	result.VisitsSynthesized++
	st.defaultVisitByPatient[patientID] = visit.ID

	s.log.Debug().
		Uint("patient_id", patientID).
		Uint("visit_id", visit.ID).
		Msg("synthesized default visit")

	return visit.ID, nil
}

// resolvePatient maps a source reference to a store patient id: business
// code first, then the original-id map built while inserting patients.
func (st *persistState) resolvePatient(code string, originalID int64) (uint, bool) {
	if code != "" {
		if id, ok := st.patientByCode[code]; ok {
			return id, true
		}
	}
	if id, ok := st.patientByOriginalID[originalID]; ok {
		return id, true
	}
	return 0, false
}

func applyPatientRecord(patient *entities.Patient, p importers.PatientRecord) {
	patient.Code = p.Code
	patient.Sex = p.Sex
	patient.BirthDate = p.BirthDate
	patient.AgeYears = p.AgeYears
	patient.Race = p.Race
	patient.Language = p.Language
	patient.ZipCode = p.ZipCode
	patient.VitalCD = p.VitalCD
}

var flexibleDateLayouts = []string{
	"2006-01-02",
	"2006-01-02T15:04:05",
	time.RFC3339,
	"02/01/2006",
	"2006/01/02",
	"02.01.2006",
}

func parseFlexibleDate(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range flexibleDateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
