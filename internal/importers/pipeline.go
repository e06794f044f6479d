package importers

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/clinsync/clinsync/internal/metrics"
)

// PersistOptions tune one persist run.
type PersistOptions struct {
	// DuplicateStrategy is one of skip, update, error. Unknown values fall
	// back to skip.
	DuplicateStrategy string

	// TargetPatientID and TargetVisitID enable relaxed identifier mode when
	// both are set: every source-local patient and visit identifier maps
	// onto this single pair.
	TargetPatientID uint
	TargetVisitID   uint
}

// PersistResult carries per-entity counts for one persist run.
type PersistResult struct {
	PatientsCreated     int `json:"patients_created"`
	PatientsDuplicate   int `json:"patients_duplicate"`
	PatientsFailed      int `json:"patients_failed"`
	VisitsCreated       int `json:"visits_created"`
	VisitsFailed        int `json:"visits_failed"`
	VisitsSynthesized   int `json:"visits_synthesized"`
	ObservationsCreated int `json:"observations_created"`
	ObservationsSkipped int `json:"observations_skipped"`
	ObservationsFailed  int `json:"observations_failed"`
}

// Persister writes a canonical bundle to storage.
//
// Implementations:
//   - services.PersistService - gorm-backed reconciling persister
type Persister interface {
	Persist(bundle *Bundle, opts PersistOptions) (PersistResult, *Report, error)
}

// Normalizer transforms one source format into the canonical bundle.
// Structural failures come back as the error; per-record problems live in
// the report and never stop the remaining records.
//
// Implementations:
//   - CSVNormalizer (csv.go) - delimited text, Variant A/B headers
//   - StructuredNormalizer (structured.go) - generic hierarchical records
//   - ClinicalDocNormalizer (clinicaldoc.go) - section/entry documents
//   - SurveyNormalizer (survey.go) - markup with embedded payloads
type Normalizer interface {
	Normalize(content []byte, filename string) (*Bundle, *Report, error)
}

// ImportOutcome is what every import entry point returns.
type ImportOutcome struct {
	Success  bool          `json:"success"`
	Format   Format        `json:"format"`
	Data     *Bundle       `json:"data,omitempty"`
	Result   PersistResult `json:"result"`
	Errors   []RecordError `json:"errors"`
	Warnings []string      `json:"warnings"`
}

// Analysis is the read-only preview returned by Analyze. Nothing is
// persisted.
type Analysis struct {
	Format              Format   `json:"format"`
	PatientCount        int      `json:"patientCount"`
	VisitCount          int      `json:"visitCount"`
	ObservationCount    int      `json:"observationCount"`
	RecommendedStrategy string   `json:"recommendedStrategy"`
	Warnings            []string `json:"warnings"`
}

// Pipeline handles the common import workflow:
// detect format → normalize → persist.
type Pipeline struct {
	persister     Persister
	maxInputBytes int64
	log           zerolog.Logger
}

// NewPipeline creates an import pipeline. maxInputBytes caps the payload
// size checked before any parsing; zero or negative means the default.
func NewPipeline(persister Persister, maxInputBytes int64, log zerolog.Logger) *Pipeline {
	if maxInputBytes <= 0 {
		maxInputBytes = 50 * 1024 * 1024
	}
	return &Pipeline{
		persister:     persister,
		maxInputBytes: maxInputBytes,
		log:           log,
	}
}

func normalizerFor(format Format) Normalizer {
	switch format {
	case FormatCSV:
		return NewCSVNormalizer()
	case FormatJSON:
		return NewStructuredNormalizer()
	case FormatCDA:
		return NewClinicalDocNormalizer()
	case FormatSurvey:
		return NewSurveyNormalizer()
	}
	return nil
}

// Normalize detects the format and runs the matching normalizer without
// touching storage.
func (p *Pipeline) Normalize(content []byte, filename string) (*Bundle, *Report, error) {
	if int64(len(content)) > p.maxInputBytes {
		return nil, &Report{}, fmt.Errorf("%w: %d bytes (limit %d)", ErrInputTooLarge, len(content), p.maxInputBytes)
	}

	format := DetectFormat(content, filename)
	normalizer := normalizerFor(format)
	if normalizer == nil {
		return nil, &Report{}, fmt.Errorf("%w: %s", ErrUnsupportedFormat, filename)
	}
	return normalizer.Normalize(content, filename)
}

// Analyze produces a read-only preview of an import: format, entity counts,
// the recommended duplicate strategy and any warnings. No persistence.
func (p *Pipeline) Analyze(content []byte, filename string) (Analysis, error) {
	bundle, report, err := p.Normalize(content, filename)
	if err != nil {
		return Analysis{Format: DetectFormat(content, filename)}, err
	}

	analysis := Analysis{
		Format:              bundle.Metadata.Format,
		PatientCount:        bundle.Statistics.PatientCount,
		VisitCount:          bundle.Statistics.VisitCount,
		ObservationCount:    bundle.Statistics.ObservationCount,
		RecommendedStrategy: "skip",
		Warnings:            warningStrings(report),
	}
	for _, e := range report.Errors {
		analysis.Warnings = append(analysis.Warnings, e.Error())
	}
	return analysis, nil
}

// Import runs the full pipeline and persists the result.
func (p *Pipeline) Import(content []byte, filename string, opts PersistOptions) (ImportOutcome, error) {
	return p.run(content, filename, opts)
}

// ImportForTarget imports directly into an already-known patient/visit pair
// (relaxed identifier mode). Every source-local patient and visit identifier
// in the payload is mapped onto this single pair, so a payload containing
// several distinct patients is deliberately collapsed into the one target
// context; callers importing multi-patient files should use Import instead.
func (p *Pipeline) ImportForTarget(content []byte, filename string, targetPatientID, targetVisitID uint, opts PersistOptions) (ImportOutcome, error) {
	opts.TargetPatientID = targetPatientID
	opts.TargetVisitID = targetVisitID
	return p.run(content, filename, opts)
}

func (p *Pipeline) run(content []byte, filename string, opts PersistOptions) (ImportOutcome, error) {
	started := time.Now()

	bundle, report, err := p.Normalize(content, filename)
	if err != nil {
		metrics.ImportsTotal.WithLabelValues(string(DetectFormat(content, filename)), "failed").Inc()
		return ImportOutcome{
			Success:  false,
			Format:   DetectFormat(content, filename),
			Errors:   report.Errors,
			Warnings: warningStrings(report),
		}, err
	}

	result, persistReport, err := p.persister.Persist(bundle, opts)
	report.Merge(persistReport)

	outcome := ImportOutcome{
		Format:   bundle.Metadata.Format,
		Data:     bundle,
		Result:   result,
		Errors:   report.Errors,
		Warnings: warningStrings(report),
	}
	if err != nil {
		metrics.ImportsTotal.WithLabelValues(string(bundle.Metadata.Format), "failed").Inc()
		return outcome, err
	}

	outcome.Success = true
	recordMetrics(bundle.Metadata.Format, result, started)

	p.log.Info().
		Str("filename", filename).
		Str("format", string(bundle.Metadata.Format)).
		Int("patients", result.PatientsCreated).
		Int("visits", result.VisitsCreated).
		Int("observations", result.ObservationsCreated).
		Dur("took", time.Since(started)).
		Msg("import completed")

	return outcome, nil
}

func recordMetrics(format Format, result PersistResult, started time.Time) {
	metrics.ImportsTotal.WithLabelValues(string(format), "success").Inc()
	metrics.ImportDuration.WithLabelValues(string(format)).Observe(time.Since(started).Seconds())

	metrics.RecordsTotal.WithLabelValues("patient", "created").Add(float64(result.PatientsCreated))
	metrics.RecordsTotal.WithLabelValues("patient", "duplicate").Add(float64(result.PatientsDuplicate))
	metrics.RecordsTotal.WithLabelValues("patient", "failed").Add(float64(result.PatientsFailed))
	metrics.RecordsTotal.WithLabelValues("visit", "created").Add(float64(result.VisitsCreated))
	metrics.RecordsTotal.WithLabelValues("visit", "failed").Add(float64(result.VisitsFailed))
	metrics.RecordsTotal.WithLabelValues("observation", "created").Add(float64(result.ObservationsCreated))
	metrics.RecordsTotal.WithLabelValues("observation", "skipped").Add(float64(result.ObservationsSkipped))
	metrics.RecordsTotal.WithLabelValues("observation", "failed").Add(float64(result.ObservationsFailed))
}

func warningStrings(report *Report) []string {
	if report == nil {
		return nil
	}
	out := make([]string, 0, len(report.Warnings))
	for _, w := range report.Warnings {
		out = append(out, w.String())
	}
	return out
}
