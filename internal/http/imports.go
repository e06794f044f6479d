package http

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/clinsync/clinsync/internal/database"
	"github.com/clinsync/clinsync/internal/entities"
	"github.com/clinsync/clinsync/internal/importers"
	"github.com/clinsync/clinsync/internal/services"
)

// TaskEnqueuer hands an import off to the background task queue.
type TaskEnqueuer interface {
	EnqueueImport(filename string, content []byte, strategy string) error
}

// ImportResponse is returned by the synchronous import endpoints.
type ImportResponse struct {
	Success   bool                    `json:"success"`
	SessionID string                  `json:"session_id,omitempty"`
	Format    importers.Format        `json:"format"`
	Result    importers.PersistResult `json:"result"`
	Errors    []importers.RecordError `json:"errors"`
	Warnings  []string                `json:"warnings"`
}

// ImportController exposes the import pipeline over HTTP.
type ImportController struct {
	service       *services.ImportService
	sessions      *database.SessionRepository
	enqueuer      TaskEnqueuer
	maxInputBytes int64
}

func NewImportController(service *services.ImportService, sessions *database.SessionRepository, enqueuer TaskEnqueuer, maxInputBytes int64) *ImportController {
	return &ImportController{
		service:       service,
		sessions:      sessions,
		enqueuer:      enqueuer,
		maxInputBytes: maxInputBytes,
	}
}

// Detect classifies the payload without parsing or persisting anything.
func (ctrl *ImportController) Detect(c *gin.Context) {
	content, filename, err := readPayload(c, ctrl.maxInputBytes)
	if err != nil {
		respondBadRequest(c, err.Error())
		return
	}
	format := importers.DetectFormat(content, filename)
	c.IndentedJSON(http.StatusOK, gin.H{"format": format})
}

// Analyze previews an import: format, counts, recommended strategy.
// Nothing is written.
func (ctrl *ImportController) Analyze(c *gin.Context) {
	content, filename, err := readPayload(c, ctrl.maxInputBytes)
	if err != nil {
		respondBadRequest(c, err.Error())
		return
	}

	analysis, err := ctrl.service.Analyze(content, filename)
	if err != nil {
		respondStructuralError(c, err, nil)
		return
	}
	c.IndentedJSON(http.StatusOK, analysis)
}

// Import runs the full pipeline. With ?async=1 the payload is enqueued on
// the task queue instead and 202 is returned.
func (ctrl *ImportController) Import(c *gin.Context) {
	content, filename, err := readPayload(c, ctrl.maxInputBytes)
	if err != nil {
		respondBadRequest(c, err.Error())
		return
	}

	strategy := c.DefaultQuery("strategy", "skip")

	if c.Query("async") == "1" {
		if ctrl.enqueuer == nil {
			respondBadRequest(c, "async imports are disabled: task queue not running")
			return
		}
		if err := ctrl.enqueuer.EnqueueImport(filename, content, strategy); err != nil {
			respondInternalError(c, err.Error())
			return
		}
		c.IndentedJSON(http.StatusAccepted, SuccessResponse{Message: "import queued"})
		return
	}

	outcome, session, err := ctrl.service.Run(content, filename, "http", importers.PersistOptions{
		DuplicateStrategy: strategy,
	})
	ctrl.respondOutcome(c, outcome, sessionExternalID(session), err)
}

// ImportForTarget imports into an already-open patient/visit pair (relaxed
// identifier mode). Every source-local identifier in the payload is mapped
// onto the target pair; multi-patient payloads are collapsed.
func (ctrl *ImportController) ImportForTarget(c *gin.Context) {
	patientID, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil || patientID == 0 {
		respondBadRequest(c, "invalid patient id")
		return
	}
	visitID, err := strconv.ParseUint(c.Param("visitId"), 10, 32)
	if err != nil || visitID == 0 {
		respondBadRequest(c, "invalid visit id")
		return
	}

	content, filename, err := readPayload(c, ctrl.maxInputBytes)
	if err != nil {
		respondBadRequest(c, err.Error())
		return
	}

	outcome, session, err := ctrl.service.RunForTarget(content, filename, "http",
		uint(patientID), uint(visitID), importers.PersistOptions{
			DuplicateStrategy: c.DefaultQuery("strategy", "skip"),
		})
	ctrl.respondOutcome(c, outcome, sessionExternalID(session), err)
}

// ListSessions returns recent import sessions, newest first.
func (ctrl *ImportController) ListSessions(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	sessions, err := ctrl.sessions.List(limit)
	if err != nil {
		respondInternalError(c, err.Error())
		return
	}
	c.IndentedJSON(http.StatusOK, sessions)
}

// GetSession returns one import session by its external id.
func (ctrl *ImportController) GetSession(c *gin.Context) {
	session, err := ctrl.sessions.GetByExternalID(c.Param("id"))
	if err != nil {
		respondNotFound(c, err.Error())
		return
	}
	c.IndentedJSON(http.StatusOK, session)
}

func (ctrl *ImportController) respondOutcome(c *gin.Context, outcome importers.ImportOutcome, sessionID string, err error) {
	resp := ImportResponse{
		Success:   outcome.Success,
		SessionID: sessionID,
		Format:    outcome.Format,
		Result:    outcome.Result,
		Errors:    outcome.Errors,
		Warnings:  outcome.Warnings,
	}
	if err != nil {
		var dup services.ErrDuplicatePatient
		if errors.As(err, &dup) {
			c.IndentedJSON(http.StatusConflict, ErrorResponse{Error: err.Error(), Code: "duplicate_patient", Details: resp})
			return
		}
		respondStructuralError(c, err, resp)
		return
	}
	c.IndentedJSON(http.StatusOK, resp)
}

func respondStructuralError(c *gin.Context, err error, details any) {
	switch {
	case errors.Is(err, importers.ErrInputTooLarge):
		c.IndentedJSON(http.StatusRequestEntityTooLarge, ErrorResponse{Error: err.Error(), Code: "input_too_large"})
	case errors.Is(err, importers.ErrUnsupportedFormat):
		respondUnprocessable(c, err.Error(), details)
	case errors.Is(err, importers.ErrNoDataSection),
		errors.Is(err, importers.ErrNoPayloadFound),
		errors.Is(err, importers.ErrMissingHeaders):
		respondUnprocessable(c, err.Error(), details)
	default:
		respondInternalError(c, err.Error())
	}
}

func sessionExternalID(session *entities.ImportSession) string {
	if session == nil {
		return ""
	}
	return session.ExternalID
}
