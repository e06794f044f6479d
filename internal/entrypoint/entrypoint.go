package entrypoint

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/clinsync/clinsync/internal/config"
	"github.com/clinsync/clinsync/internal/database"
	http_controllers "github.com/clinsync/clinsync/internal/http"
	"github.com/clinsync/clinsync/internal/importers"
	"github.com/clinsync/clinsync/internal/scheduler"
	"github.com/clinsync/clinsync/internal/services"
	"github.com/clinsync/clinsync/internal/tasks"
)

// ShutdownFunc is called during graceful shutdown to clean up resources.
type ShutdownFunc func(ctx context.Context)

func Serve(router *gin.Engine, cfg *config.Config, onShutdown ShutdownFunc) {
	timeout := time.Duration(cfg.Global.ShutdownTimeoutInSeconds) * time.Second

	srv := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.HTTP.Host, cfg.HTTP.Port),
		Handler: router,
	}

	go func() {
		fmt.Printf("Starting server at %s:%d\n", cfg.HTTP.Host, cfg.HTTP.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %s\n", err)
		}
	}()

	// Graceful shutdown on SIGINT/SIGTERM. SIGKILL cannot be caught.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Printf("Shutdown Server, waiting %v before killing\n", timeout)

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	// Call shutdown callback first (e.g., to stop task queue and scheduler)
	if onShutdown != nil {
		onShutdown(ctx)
	}

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal("Server Shutdown:", err)
	}

	log.Println("Server exiting")
}

func Run(cfg *config.Config, version string) {
	log.Printf("Starting ClinSync v%s", version)

	// Initialize database
	db, err := database.NewDatabase(cfg.Database.Path)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Printf("Error closing database: %v", err)
		}
	}()

	logger := zerolog.New(os.Stderr).With().Timestamp().Str("service", "clinsync").Logger()

	// Assemble the import pipeline
	persister := services.NewPersistService(
		database.NewPatientRepository(db),
		database.NewVisitRepository(db),
		database.NewObservationRepository(db),
		database.NewConceptRepository(db),
		logger,
	)
	pipeline := importers.NewPipeline(persister, cfg.Import.MaxInputBytes, logger)
	sessionRepo := database.NewSessionRepository(db)
	importService := services.NewImportService(pipeline, sessionRepo)

	// Initialize task queue if enabled
	var taskClient *tasks.Client
	var taskCtxCancel context.CancelFunc
	if cfg.Tasks.Enabled {
		taskCfg := tasks.Config{
			Workers:           cfg.Tasks.Workers,
			MaxRetries:        cfg.Tasks.MaxRetries,
			RetryDelay:        cfg.Tasks.RetryDelay,
			TaskTimeout:       cfg.Tasks.TaskTimeout,
			ReleaseAfter:      cfg.Tasks.ReleaseAfter,
			CleanupInterval:   cfg.Tasks.CleanupInterval,
			RetentionDuration: cfg.Tasks.RetentionDuration,
		}

		taskClient, err = tasks.NewClient(cfg.Database.Path, taskCfg)
		if err != nil {
			log.Fatalf("Failed to initialize task queue: %v", err)
		}
		defer func() {
			if err := taskClient.Close(); err != nil {
				log.Printf("Error closing task client: %v", err)
			}
		}()

		taskClient.Register(
			tasks.NewImportFileQueue(importService),
		)

		var taskCtx context.Context
		taskCtx, taskCtxCancel = context.WithCancel(context.Background())
		go taskClient.Start(taskCtx)
	}

	// Initialize the inbox scanner
	inboxScanner := scheduler.NewInboxScanner(importService, cfg.Inbox, cfg.Import.DuplicateStrategy)
	if err := inboxScanner.Start(context.Background()); err != nil {
		log.Fatalf("Failed to start inbox scanner: %v", err)
	}

	// Build controllers
	var enqueuer http_controllers.TaskEnqueuer
	if taskClient != nil {
		enqueuer = taskClient
	}
	importController := http_controllers.NewImportController(importService, sessionRepo, enqueuer, cfg.Import.MaxInputBytes)
	healthController := http_controllers.NewHealthController(db, version)

	router := http_controllers.NewRouter(importController, healthController)

	// Shutdown callback for graceful cleanup
	onShutdown := func(ctx context.Context) {
		inboxScanner.Stop()
		if taskClient != nil && taskCtxCancel != nil {
			taskClient.Stop(ctx)
			taskCtxCancel()
		}
	}

	Serve(router, cfg, onShutdown)
}
