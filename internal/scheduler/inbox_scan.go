package scheduler

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/clinsync/clinsync/internal/config"
	"github.com/clinsync/clinsync/internal/importers"
	"github.com/clinsync/clinsync/internal/services"
)

const (
	inboxDoneDir   = "done"
	inboxFailedDir = "failed"
)

// InboxScanner periodically scans a drop directory for new data files and
// imports them. Processed files are moved into done/ or failed/ so a file
// is never imported twice.
type InboxScanner struct {
	service  *services.ImportService
	cfg      config.Inbox
	strategy string

	cron       *cron.Cron
	entryID    cron.EntryID
	mu         sync.RWMutex
	isRunning  bool
	isScanning bool
	cancelFunc context.CancelFunc
}

// NewInboxScanner creates a new scanner instance. The strategy is applied to
// every file the scanner imports.
func NewInboxScanner(service *services.ImportService, cfg config.Inbox, strategy string) *InboxScanner {
	return &InboxScanner{
		service:  service,
		cfg:      cfg,
		strategy: strategy,
		cron:     cron.New(cron.WithParser(cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow))),
	}
}

// Start begins the scanner if inbox imports are enabled.
func (s *InboxScanner) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.isRunning {
		return nil
	}

	if !s.cfg.Enabled {
		log.Printf("Inbox scanner: disabled")
		return nil
	}

	if err := os.MkdirAll(s.cfg.Dir, 0o755); err != nil {
		return fmt.Errorf("failed to create inbox directory: %w", err)
	}

	entryID, err := s.cron.AddFunc(s.cfg.Schedule, func() {
		s.runScan()
	})
	if err != nil {
		return fmt.Errorf("invalid inbox schedule '%s': %w", s.cfg.Schedule, err)
	}
	s.entryID = entryID

	var cancelCtx context.Context
	cancelCtx, s.cancelFunc = context.WithCancel(ctx)

	s.cron.Start()
	s.isRunning = true

	log.Printf("Inbox scanner: watching %s with schedule '%s'", s.cfg.Dir, s.cfg.Schedule)

	go func() {
		<-cancelCtx.Done()
		s.Stop()
	}()

	return nil
}

// Stop gracefully stops the scanner, waiting for a running scan to finish.
func (s *InboxScanner) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.isRunning {
		return
	}

	ctx := s.cron.Stop()
	<-ctx.Done()

	s.isRunning = false
	s.cancelFunc = nil

	log.Printf("Inbox scanner: stopped")
}

// RunNow triggers an immediate scan.
func (s *InboxScanner) RunNow() error {
	go s.runScan()
	return nil
}

// IsRunning returns whether the scanner is active.
func (s *InboxScanner) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}

// GetNextRunTime returns when the next scan will occur.
func (s *InboxScanner) GetNextRunTime() *time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.isRunning {
		return nil
	}

	for _, entry := range s.cron.Entries() {
		if entry.ID == s.entryID {
			t := entry.Next
			return &t
		}
	}
	return nil
}

// runScan processes every regular file currently in the inbox.
func (s *InboxScanner) runScan() {
	s.mu.Lock()
	if s.isScanning {
		s.mu.Unlock()
		log.Printf("Inbox scan: skipped (already scanning)")
		return
	}
	s.isScanning = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.isScanning = false
		s.mu.Unlock()
	}()

	entries, err := os.ReadDir(s.cfg.Dir)
	if err != nil {
		log.Printf("Inbox scan: failed to read %s: %v", s.cfg.Dir, err)
		return
	}

	var processed, failed int
	for _, entry := range entries {
		if entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}

		if err := s.processFile(entry.Name()); err != nil {
			log.Printf("Inbox scan: %s failed: %v", entry.Name(), err)
			failed++
			continue
		}
		processed++
	}

	if processed > 0 || failed > 0 {
		log.Printf("Inbox scan: %d imported, %d failed", processed, failed)
	}
}

// processFile imports one inbox file and moves it to done/ or failed/.
func (s *InboxScanner) processFile(name string) error {
	path := filepath.Join(s.cfg.Dir, name)

	content, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read file: %w", err)
	}

	outcome, session, err := s.service.Run(content, name, "inbox", importers.PersistOptions{
		DuplicateStrategy: s.strategy,
	})
	if err != nil {
		if moveErr := s.moveTo(path, name, inboxFailedDir); moveErr != nil {
			log.Printf("Inbox scan: failed to move %s: %v", name, moveErr)
		}
		return err
	}

	log.Printf("Inbox scan: imported %s (session %s, format %s): %d patients, %d visits, %d observations",
		name, session.ExternalID, outcome.Format,
		outcome.Result.PatientsCreated, outcome.Result.VisitsCreated, outcome.Result.ObservationsCreated)

	return s.moveTo(path, name, inboxDoneDir)
}

// moveTo relocates an inbox file into the named subdirectory, prefixing a
// timestamp so repeated drops of the same filename never collide.
func (s *InboxScanner) moveTo(path, name, subdir string) error {
	dir := filepath.Join(s.cfg.Dir, subdir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create %s directory: %w", subdir, err)
	}

	target := filepath.Join(dir, time.Now().Format("20060102-150405")+"-"+name)
	if err := os.Rename(path, target); err != nil {
		return fmt.Errorf("failed to move file: %w", err)
	}
	return nil
}
