package cli

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/clinsync/clinsync/internal/config"
	"github.com/clinsync/clinsync/internal/database"
	"github.com/clinsync/clinsync/internal/importers"
	"github.com/clinsync/clinsync/internal/services"
)

// ImportCommand imports a single data file from the command line.
type ImportCommand struct {
	FilePath          string
	DatabasePath      string
	DuplicateStrategy string
	TargetPatientID   uint
	TargetVisitID     uint
	Verbose           bool
	DryRun            bool
}

func NewImportCommand() *ImportCommand {
	return &ImportCommand{}
}

func (cmd *ImportCommand) ParseFlags(args []string) error {
	fs := flag.NewFlagSet("import", flag.ExitOnError)

	var targetPatient, targetVisit uint64
	fs.StringVar(&cmd.FilePath, "file", "", "Path to the data file to import (required)")
	fs.StringVar(&cmd.DatabasePath, "db", config.DefaultDatabasePath, "Path to the local database file")
	fs.StringVar(&cmd.DuplicateStrategy, "strategy", "skip", "Duplicate patient strategy: skip, update or error")
	fs.Uint64Var(&targetPatient, "target-patient", 0, "Map the whole file onto this patient ID (requires -target-visit)")
	fs.Uint64Var(&targetVisit, "target-visit", 0, "Map the whole file onto this visit ID (requires -target-patient)")
	fs.BoolVar(&cmd.Verbose, "verbose", false, "Enable verbose logging")
	fs.BoolVar(&cmd.DryRun, "dry-run", false, "Analyze the file without making changes")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s import -file <path> [options]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Import a clinical data file into the local database.\n\n")
		fmt.Fprintf(os.Stderr, "The file format (CSV, JSON, clinical document, survey markup) is\n")
		fmt.Fprintf(os.Stderr, "detected automatically.\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		fs.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  # Import a CSV export:\n")
		fmt.Fprintf(os.Stderr, "  %s import -file observations.csv\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  # Attach everything in a survey to an existing patient and visit:\n")
		fmt.Fprintf(os.Stderr, "  %s import -file survey.html -target-patient 12 -target-visit 40\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  # Preview what would be imported:\n")
		fmt.Fprintf(os.Stderr, "  %s import -file data.json -dry-run\n", os.Args[0])
	}

	if err := fs.Parse(args); err != nil {
		return err
	}

	if cmd.FilePath == "" {
		return fmt.Errorf("required flag -file not provided")
	}

	cmd.TargetPatientID = uint(targetPatient)
	cmd.TargetVisitID = uint(targetVisit)
	if (cmd.TargetPatientID == 0) != (cmd.TargetVisitID == 0) {
		return fmt.Errorf("-target-patient and -target-visit must be provided together")
	}

	return nil
}

func (cmd *ImportCommand) Run() error {
	fmt.Println("Import")
	fmt.Println("======")

	if cmd.DryRun {
		fmt.Println("DRY RUN MODE - No changes will be made")
		fmt.Println()
	}

	content, err := os.ReadFile(cmd.FilePath)
	if err != nil {
		return fmt.Errorf("failed to read input file: %w", err)
	}

	filename := filepath.Base(cmd.FilePath)
	fmt.Printf("File: %s (%d bytes)\n", cmd.FilePath, len(content))

	absDBPath, err := filepath.Abs(cmd.DatabasePath)
	if err != nil {
		return fmt.Errorf("failed to get absolute path for database: %w", err)
	}
	cmd.DatabasePath = absDBPath

	db, err := database.NewDatabase(cmd.DatabasePath)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer db.Close()

	logLevel := zerolog.WarnLevel
	if cmd.Verbose {
		logLevel = zerolog.DebugLevel
	}
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).Level(logLevel).With().Timestamp().Logger()

	persister := services.NewPersistService(
		database.NewPatientRepository(db),
		database.NewVisitRepository(db),
		database.NewObservationRepository(db),
		database.NewConceptRepository(db),
		logger,
	)
	pipeline := importers.NewPipeline(persister, 0, logger)
	service := services.NewImportService(pipeline, database.NewSessionRepository(db))

	if cmd.DryRun {
		analysis, err := service.Analyze(content, filename)
		if err != nil {
			return fmt.Errorf("analysis failed: %w", err)
		}
		printAnalysis(analysis)
		fmt.Println("\nDry run complete. Use without -dry-run to import.")
		return nil
	}

	opts := importers.PersistOptions{DuplicateStrategy: cmd.DuplicateStrategy}

	var outcome importers.ImportOutcome
	if cmd.TargetPatientID != 0 {
		outcome, _, err = service.RunForTarget(content, filename, "cli", cmd.TargetPatientID, cmd.TargetVisitID, opts)
	} else {
		outcome, _, err = service.Run(content, filename, "cli", opts)
	}
	if err != nil {
		return fmt.Errorf("import failed: %w", err)
	}

	fmt.Println("\n=== Import Summary ===")
	fmt.Printf("Format: %s\n", outcome.Format)
	fmt.Printf("Patients created: %d (duplicates: %d)\n", outcome.Result.PatientsCreated, outcome.Result.PatientsDuplicate)
	fmt.Printf("Visits created: %d (synthesized: %d)\n", outcome.Result.VisitsCreated, outcome.Result.VisitsSynthesized)
	fmt.Printf("Observations created: %d (skipped: %d)\n", outcome.Result.ObservationsCreated, outcome.Result.ObservationsSkipped)

	if len(outcome.Errors) > 0 {
		fmt.Printf("\n%d record errors:\n", len(outcome.Errors))
		for _, recErr := range outcome.Errors {
			fmt.Printf("  [ERROR] %s\n", recErr.Error())
		}
	}
	if len(outcome.Warnings) > 0 {
		fmt.Printf("\n%d warnings:\n", len(outcome.Warnings))
		for _, warning := range outcome.Warnings {
			fmt.Printf("  [WARN] %s\n", warning)
		}
	}

	fmt.Println("\nImport complete!")
	return nil
}

func printAnalysis(analysis importers.Analysis) {
	fmt.Println("\n=== Analysis ===")
	fmt.Printf("Format: %s\n", analysis.Format)
	fmt.Printf("Patients: %d\n", analysis.PatientCount)
	fmt.Printf("Visits: %d\n", analysis.VisitCount)
	fmt.Printf("Observations: %d\n", analysis.ObservationCount)
	fmt.Printf("Recommended strategy: %s\n", analysis.RecommendedStrategy)
	for _, warning := range analysis.Warnings {
		fmt.Printf("  [WARN] %s\n", warning)
	}
}
