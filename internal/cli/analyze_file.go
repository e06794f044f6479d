package cli

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/clinsync/clinsync/internal/importers"
)

// AnalyzeCommand inspects a data file without touching any database:
// detected format, record counts and normalization warnings.
type AnalyzeCommand struct {
	FilePath string
	Verbose  bool
}

func NewAnalyzeCommand() *AnalyzeCommand {
	return &AnalyzeCommand{}
}

func (cmd *AnalyzeCommand) ParseFlags(args []string) error {
	fs := flag.NewFlagSet("analyze", flag.ExitOnError)

	fs.StringVar(&cmd.FilePath, "file", "", "Path to the data file to analyze (required)")
	fs.BoolVar(&cmd.Verbose, "verbose", false, "Enable verbose logging")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s analyze -file <path> [options]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Detect the format of a clinical data file and preview what an import\n")
		fmt.Fprintf(os.Stderr, "would produce. Nothing is written.\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return err
	}

	if cmd.FilePath == "" {
		return fmt.Errorf("required flag -file not provided")
	}

	return nil
}

func (cmd *AnalyzeCommand) Run() error {
	content, err := os.ReadFile(cmd.FilePath)
	if err != nil {
		return fmt.Errorf("failed to read input file: %w", err)
	}

	logLevel := zerolog.WarnLevel
	if cmd.Verbose {
		logLevel = zerolog.DebugLevel
	}
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).Level(logLevel).With().Timestamp().Logger()

	// Analysis never persists, so no database or persister is needed.
	pipeline := importers.NewPipeline(nil, 0, logger)

	analysis, err := pipeline.Analyze(content, filepath.Base(cmd.FilePath))
	if err != nil {
		return fmt.Errorf("analysis failed: %w", err)
	}

	fmt.Printf("File: %s (%d bytes)\n", cmd.FilePath, len(content))
	printAnalysis(analysis)
	return nil
}
