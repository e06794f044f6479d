package http

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/clinsync/clinsync/internal/database"
	"github.com/clinsync/clinsync/internal/entities"
)

type HealthResponse struct {
	Status  string            `json:"status"`
	Time    string            `json:"time"`
	Version string            `json:"version,omitempty"`
	Checks  map[string]string `json:"checks"`
}

// HealthController reports service readiness: database connectivity and the
// state of the concept dictionary the persister gates observations on.
type HealthController struct {
	db      *database.Database
	version string
}

func NewHealthController(db *database.Database, version string) *HealthController {
	return &HealthController{
		db:      db,
		version: version,
	}
}

func (h *HealthController) Status(c *gin.Context) {
	checks := make(map[string]string)
	status := "healthy"

	if h.db != nil {
		sqlDB, err := h.db.DB.DB()
		if err != nil {
			checks["database"] = "error: " + err.Error()
			status = "unhealthy"
		} else if err := sqlDB.Ping(); err != nil {
			checks["database"] = "error: " + err.Error()
			status = "unhealthy"
		} else {
			checks["database"] = "ok"
		}

		// An empty dictionary means every coded observation would be
		// skipped; surface that before anyone wonders where their data went.
		var concepts int64
		if err := h.db.DB.Model(&entities.Concept{}).Count(&concepts).Error; err != nil {
			checks["concept_dictionary"] = "error: " + err.Error()
			status = "unhealthy"
		} else if concepts == 0 {
			checks["concept_dictionary"] = "empty"
		} else {
			checks["concept_dictionary"] = "ok (" + strconv.FormatInt(concepts, 10) + " codes)"
		}
	} else {
		checks["database"] = "not configured"
	}

	health := HealthResponse{
		Status:  status,
		Time:    time.Now().Format(time.RFC3339),
		Version: h.version,
		Checks:  checks,
	}

	statusCode := http.StatusOK
	if status != "healthy" {
		statusCode = http.StatusServiceUnavailable
	}

	c.IndentedJSON(statusCode, health)
}
