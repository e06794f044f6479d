package tasks

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/mikestefanello/backlite"

	"github.com/clinsync/clinsync/internal/importers"
	"github.com/clinsync/clinsync/internal/services"
)

// ImportFileTask imports one spooled payload in the background.
type ImportFileTask struct {
	Filename          string `json:"filename"`
	Content           []byte `json:"content"`
	DuplicateStrategy string `json:"duplicate_strategy"`
}

// Config returns the queue configuration for background imports.
func (t ImportFileTask) Config() backlite.QueueConfig {
	return backlite.QueueConfig{
		Name:        "import_file",
		MaxAttempts: 3,
		Backoff:     30 * time.Second,
		Timeout:     5 * time.Minute,
		Retention: &backlite.Retention{
			Duration:   24 * time.Hour,
			OnlyFailed: false,
			Data:       &backlite.RetainData{OnlyFailed: true},
		},
	}
}

// ImportFileProcessor creates a processor function for ImportFileTask.
func ImportFileProcessor(service *services.ImportService) backlite.QueueProcessor[ImportFileTask] {
	return func(ctx context.Context, task ImportFileTask) error {
		if service == nil {
			return fmt.Errorf("import service not configured")
		}

		outcome, session, err := service.Run(task.Content, task.Filename, "http-async", importers.PersistOptions{
			DuplicateStrategy: task.DuplicateStrategy,
		})
		if err != nil {
			return fmt.Errorf("import %s: %w", task.Filename, err)
		}

		log.Printf("[TASK] Imported %s (session %s): %d patients, %d visits, %d observations, %d errors",
			task.Filename, session.ExternalID,
			outcome.Result.PatientsCreated, outcome.Result.VisitsCreated,
			outcome.Result.ObservationsCreated, len(outcome.Errors))

		return nil
	}
}

// NewImportFileQueue creates a backlite queue for background imports.
func NewImportFileQueue(service *services.ImportService) backlite.Queue {
	return backlite.NewQueue(ImportFileProcessor(service))
}
