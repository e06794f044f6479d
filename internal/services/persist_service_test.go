package services

import (
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clinsync/clinsync/internal/entities"
	"github.com/clinsync/clinsync/internal/importers"
)

// In-memory stores backing the persister in tests.

type memPatientStore struct {
	nextID   uint
	byCode   map[string]*entities.Patient
	created  []*entities.Patient
	updated  []*entities.Patient
	failNext error
}

func newMemPatientStore() *memPatientStore {
	return &memPatientStore{byCode: make(map[string]*entities.Patient)}
}

func (s *memPatientStore) FindByCode(code string) (*entities.Patient, error) {
	if p, ok := s.byCode[code]; ok {
		return p, nil
	}
	return nil, nil
}

func (s *memPatientStore) Create(patient *entities.Patient) error {
	if s.failNext != nil {
		err := s.failNext
		s.failNext = nil
		return err
	}
	s.nextID++
	patient.ID = s.nextID
	if patient.Code != "" {
		s.byCode[patient.Code] = patient
	}
	s.created = append(s.created, patient)
	return nil
}

func (s *memPatientStore) Update(patient *entities.Patient) error {
	s.updated = append(s.updated, patient)
	return nil
}

type memVisitStore struct {
	nextID  uint
	created []*entities.Visit
}

func (s *memVisitStore) Create(visit *entities.Visit) error {
	s.nextID++
	visit.ID = s.nextID
	s.created = append(s.created, visit)
	return nil
}

type memObservationStore struct {
	created []*entities.Observation
}

func (s *memObservationStore) Create(observation *entities.Observation) error {
	s.created = append(s.created, observation)
	return nil
}

type memConcepts struct {
	known map[string]bool
	err   error
}

func (c *memConcepts) Exists(code string) (bool, error) {
	if c.err != nil {
		return false, c.err
	}
	return c.known[code], nil
}

type persistFixture struct {
	patients     *memPatientStore
	visits       *memVisitStore
	observations *memObservationStore
	concepts     *memConcepts
	service      *PersistService
}

func newPersistFixture(knownConcepts ...string) *persistFixture {
	f := &persistFixture{
		patients:     newMemPatientStore(),
		visits:       &memVisitStore{},
		observations: &memObservationStore{},
		concepts:     &memConcepts{known: make(map[string]bool)},
	}
	for _, c := range knownConcepts {
		f.concepts.known[c] = true
	}
	f.service = NewPersistService(f.patients, f.visits, f.observations, f.concepts, zerolog.Nop())
	return f
}

func numericObs(id, patientID, visitID int64, concept string, value float64) importers.ObservationRecord {
	o := importers.ObservationRecord{
		ID: id, PatientID: patientID, VisitID: visitID, ConceptCode: concept,
	}
	o.SetValue(entities.ValueTypeNumeric, &value, "", "", "")
	return o
}

func testBundle() *importers.Bundle {
	b := importers.NewBundle(importers.FormatCSV, "export.csv")
	b.Data.Patients = []importers.PatientRecord{
		{ID: 1, Code: "P1", Sex: "F", AgeYears: 34},
		{ID: 2, Code: "P2", Sex: "M", AgeYears: 58},
	}
	b.Data.Visits = []importers.VisitRecord{
		{ID: 1, PatientID: 1, PatientCode: "P1", StartDate: "2024-01-15", Location: "CARD"},
	}
	b.Data.Observations = []importers.ObservationRecord{
		numericObs(1, 1, 1, "WEIGHT", 62.5),
		numericObs(2, 2, 0, "WEIGHT", 88),
	}
	b.Seal()
	return b
}

func TestPersistServiceHappyPath(t *testing.T) {
	f := newPersistFixture("WEIGHT")

	result, report, err := f.service.Persist(testBundle(), importers.PersistOptions{})
	require.NoError(t, err)
	assert.Empty(t, report.Errors)

	t.Run("counts", func(t *testing.T) {
		assert.Equal(t, 2, result.PatientsCreated)
		// One declared visit plus one synthesized for P2's visitless
		// observation.
		assert.Equal(t, 2, result.VisitsCreated)
		assert.Equal(t, 1, result.VisitsSynthesized)
		assert.Equal(t, 2, result.ObservationsCreated)
	})

	t.Run("source ids are remapped to store ids", func(t *testing.T) {
		require.Len(t, f.observations.created, 2)
		assert.Equal(t, f.patients.created[0].ID, f.observations.created[0].PatientID)
		assert.Equal(t, f.visits.created[0].ID, f.observations.created[0].VisitID)
		assert.Equal(t, f.patients.created[1].ID, f.observations.created[1].PatientID)
	})

	t.Run("synthesized visit is marked", func(t *testing.T) {
		require.Len(t, f.visits.created, 2)
		synth := f.visits.created[1]
		assert.True(t, synth.Synthesized)
		assert.Equal(t, "O", synth.InOutCD)
		assert.NotEmpty(t, synth.ExternalID)
	})
}

func TestPersistServiceDuplicateStrategies(t *testing.T) {
	seed := func(f *persistFixture) {
		require.NoError(t, f.patients.Create(&entities.Patient{Code: "P1", Sex: "U"}))
	}

	t.Run("skip reuses the existing patient", func(t *testing.T) {
		f := newPersistFixture("WEIGHT")
		seed(f)

		result, report, err := f.service.Persist(testBundle(), importers.PersistOptions{DuplicateStrategy: "skip"})
		require.NoError(t, err)

		assert.Equal(t, 1, result.PatientsCreated) // only P2
		assert.Equal(t, 1, result.PatientsDuplicate)
		assert.Empty(t, f.patients.updated)
		// The skipped patient's fields are untouched.
		assert.Equal(t, "U", f.patients.byCode["P1"].Sex)
		// Dependent records still attach to the existing row.
		assert.Equal(t, f.patients.byCode["P1"].ID, f.visits.created[0].PatientID)
		assert.NotEmpty(t, report.Warnings)
	})

	t.Run("skip is idempotent across reruns", func(t *testing.T) {
		f := newPersistFixture("WEIGHT")

		_, _, err := f.service.Persist(testBundle(), importers.PersistOptions{DuplicateStrategy: "skip"})
		require.NoError(t, err)
		result, _, err := f.service.Persist(testBundle(), importers.PersistOptions{DuplicateStrategy: "skip"})
		require.NoError(t, err)

		assert.Zero(t, result.PatientsCreated)
		assert.Equal(t, 2, result.PatientsDuplicate)
		assert.Len(t, f.patients.created, 2)
	})

	t.Run("update overwrites the existing patient", func(t *testing.T) {
		f := newPersistFixture("WEIGHT")
		seed(f)

		result, _, err := f.service.Persist(testBundle(), importers.PersistOptions{DuplicateStrategy: "update"})
		require.NoError(t, err)

		assert.Equal(t, 1, result.PatientsDuplicate)
		require.Len(t, f.patients.updated, 1)
		assert.Equal(t, "F", f.patients.updated[0].Sex)
	})

	t.Run("error aborts before any dependent write", func(t *testing.T) {
		f := newPersistFixture("WEIGHT")
		seed(f)

		_, _, err := f.service.Persist(testBundle(), importers.PersistOptions{DuplicateStrategy: "error"})

		var dup ErrDuplicatePatient
		require.ErrorAs(t, err, &dup)
		assert.Equal(t, "P1", dup.Code)
		assert.Empty(t, f.visits.created)
		assert.Empty(t, f.observations.created)
	})

	t.Run("unknown strategy falls back to skip", func(t *testing.T) {
		f := newPersistFixture("WEIGHT")
		seed(f)

		result, _, err := f.service.Persist(testBundle(), importers.PersistOptions{DuplicateStrategy: "bogus"})
		require.NoError(t, err)
		assert.Equal(t, 1, result.PatientsDuplicate)
	})
}

func TestPersistServiceConceptGate(t *testing.T) {
	t.Run("unknown concept is skipped with a warning", func(t *testing.T) {
		f := newPersistFixture("WEIGHT") // UNKNOWN_CODE deliberately absent

		b := testBundle()
		b.Data.Observations = append(b.Data.Observations, numericObs(3, 1, 1, "UNKNOWN_CODE", 1))

		result, report, err := f.service.Persist(b, importers.PersistOptions{})
		require.NoError(t, err)

		assert.Equal(t, 2, result.ObservationsCreated)
		assert.Equal(t, 1, result.ObservationsSkipped)
		assert.Empty(t, report.Errors)

		found := false
		for _, w := range report.Warnings {
			if w.Entity == "observation" {
				found = true
				assert.Contains(t, w.Message, "UNKNOWN_CODE")
			}
		}
		assert.True(t, found)
	})

	t.Run("concept lookup failure is a record error", func(t *testing.T) {
		f := newPersistFixture()
		f.concepts.err = errors.New("dictionary unavailable")

		result, report, err := f.service.Persist(testBundle(), importers.PersistOptions{})
		require.NoError(t, err)
		assert.Equal(t, 2, result.ObservationsFailed)
		assert.Len(t, report.Errors, 2)
	})
}

func TestPersistServiceRecordErrors(t *testing.T) {
	t.Run("visit with unresolvable patient is excluded", func(t *testing.T) {
		f := newPersistFixture("WEIGHT")

		b := testBundle()
		b.Data.Visits = append(b.Data.Visits, importers.VisitRecord{ID: 9, PatientID: 99, StartDate: "2024-01-01"})

		result, report, err := f.service.Persist(b, importers.PersistOptions{})
		require.NoError(t, err)

		assert.Equal(t, 1, result.VisitsFailed)
		require.NotEmpty(t, report.Errors)
		assert.Equal(t, "visit", report.Errors[0].Entity)
	})

	t.Run("patient insert failure does not stop the others", func(t *testing.T) {
		f := newPersistFixture("WEIGHT")
		f.patients.failNext = errors.New("disk full")

		result, report, err := f.service.Persist(testBundle(), importers.PersistOptions{})
		require.NoError(t, err)

		assert.Equal(t, 1, result.PatientsFailed)
		assert.Equal(t, 1, result.PatientsCreated)
		require.NotEmpty(t, report.Errors)
		assert.Equal(t, "patient", report.Errors[0].Entity)
	})

	t.Run("default visit is reused within one run", func(t *testing.T) {
		f := newPersistFixture("WEIGHT", "HR")

		b := importers.NewBundle(importers.FormatJSON, "x.json")
		b.Data.Patients = []importers.PatientRecord{{ID: 1, Code: "P1"}}
		b.Data.Observations = []importers.ObservationRecord{
			numericObs(1, 1, 0, "WEIGHT", 60),
			numericObs(2, 1, 0, "HR", 70),
		}
		b.Seal()

		result, _, err := f.service.Persist(b, importers.PersistOptions{})
		require.NoError(t, err)

		assert.Equal(t, 1, result.VisitsSynthesized)
		require.Len(t, f.observations.created, 2)
		assert.Equal(t, f.observations.created[0].VisitID, f.observations.created[1].VisitID)
	})
}

func TestPersistServiceRelaxedMode(t *testing.T) {
	t.Run("everything lands on the target pair", func(t *testing.T) {
		f := newPersistFixture("WEIGHT")

		result, _, err := f.service.Persist(testBundle(), importers.PersistOptions{
			TargetPatientID: 12,
			TargetVisitID:   40,
		})
		require.NoError(t, err)

		// No patients or visits are created in relaxed mode.
		assert.Zero(t, result.PatientsCreated)
		assert.Zero(t, result.VisitsCreated)
		assert.Empty(t, f.patients.created)
		assert.Empty(t, f.visits.created)

		require.Len(t, f.observations.created, 2)
		for _, o := range f.observations.created {
			assert.Equal(t, uint(12), o.PatientID)
			assert.Equal(t, uint(40), o.VisitID)
		}
	})

	t.Run("collapsing multiple patients warns", func(t *testing.T) {
		f := newPersistFixture("WEIGHT")

		_, report, err := f.service.Persist(testBundle(), importers.PersistOptions{
			TargetPatientID: 12,
			TargetVisitID:   40,
		})
		require.NoError(t, err)

		found := false
		for _, w := range report.Warnings {
			if w.Entity == "patient" {
				found = true
				assert.Contains(t, w.Message, "collapsed")
			}
		}
		assert.True(t, found)
	})
}

func TestParseDuplicateStrategy(t *testing.T) {
	assert.Equal(t, DuplicateSkip, ParseDuplicateStrategy("skip"))
	assert.Equal(t, DuplicateUpdate, ParseDuplicateStrategy("update"))
	assert.Equal(t, DuplicateError, ParseDuplicateStrategy("error"))
	assert.Equal(t, DuplicateSkip, ParseDuplicateStrategy(""))
	assert.Equal(t, DuplicateSkip, ParseDuplicateStrategy("whatever"))
}
