// Package scheduler runs recurring exports of every submission on a cron
// schedule.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/celerix-dev/celerix-export/internal/portal"
	"github.com/celerix-dev/celerix-export/pkg/export"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// FileTimeLayout stamps scheduled export file names.
const FileTimeLayout = "20060102-150405"

// Config describes a schedule.
type Config struct {
	// Cron is a standard five-field expression, e.g. "0 2 * * *".
	Cron    string
	Formats []export.Format
	// Location evaluates Cron and stamps file names. Defaults to time.Local.
	Location *time.Location
}

// Scheduler exports all submissions in every configured format on each
// tick.
type Scheduler struct {
	service *portal.Service
	sink    export.Sink
	cfg     Config
	cron    *cron.Cron
	logger  *zap.Logger
	now     func() time.Time

	mu      sync.Mutex
	running bool
	entry   cron.EntryID
	// done is closed by Stop and releases the ctx watcher of the current run.
	done chan struct{}
}

// New creates a scheduler delivering into sink.
func New(service *portal.Service, sink export.Sink, cfg Config, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if len(cfg.Formats) == 0 {
		cfg.Formats = []export.Format{export.FormatCSV}
	}
	return &Scheduler{
		service: service,
		sink:    sink,
		cfg:     cfg,
		cron:    cron.New(cron.WithLocation(cfg.Location)),
		logger:  logger.With(zap.String("component", "scheduler")),
		now:     time.Now,
	}
}

// Start registers the job and starts the cron loop. The scheduler stops
// when ctx is done.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return errors.New("scheduler already running")
	}
	if _, err := cron.ParseStandard(s.cfg.Cron); err != nil {
		return fmt.Errorf("invalid cron schedule %q: %w", s.cfg.Cron, err)
	}
	id, err := s.cron.AddFunc(s.cfg.Cron, func() {
		if _, err := s.RunOnce(ctx); err != nil {
			s.logger.Error("scheduled export failed", zap.Error(err))
		}
	})
	if err != nil {
		return fmt.Errorf("failed to schedule exports: %w", err)
	}

	s.cron.Start()
	s.entry = id
	s.done = make(chan struct{})
	s.running = true
	s.logger.Info("export scheduler started",
		zap.String("schedule", s.cfg.Cron),
		zap.Int("formats", len(s.cfg.Formats)))

	go func(done chan struct{}) {
		select {
		case <-ctx.Done():
			s.mu.Lock()
			defer s.mu.Unlock()
			if s.done == done {
				s.stopLocked()
			}
		case <-done:
		}
	}(s.done)
	return nil
}

// RunOnce exports all submissions now, once per format. A format that
// fails does not stop the others; the joined error is returned.
func (s *Scheduler) RunOnce(ctx context.Context) ([]*export.Result, error) {
	listing, err := s.service.List(ctx, portal.Query{Sort: portal.SortNewest})
	if err != nil {
		return nil, fmt.Errorf("failed to list submissions: %w", err)
	}

	stamp := s.now().In(s.cfg.Location).Format(FileTimeLayout)
	var (
		results []*export.Result
		errs    []error
		saved   int
	)
	for _, format := range s.cfg.Formats {
		filename := fmt.Sprintf("%s_%s.%s", listing.Base, stamp, format.Ext())
		res, err := s.service.ExportListing(ctx, listing, format, filename, s.sink)
		if res != nil {
			results = append(results, res)
			if res.Status == export.StatusSaved {
				saved++
			}
		}
		if err != nil {
			errs = append(errs, err)
		}
	}
	s.logger.Info("scheduled export finished",
		zap.Int("records", len(listing.Submissions)),
		zap.Int("files", saved),
		zap.Int("failures", len(errs)))
	return results, errors.Join(errs...)
}

// Stop stops the scheduler and waits for a running export to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked()
}

// stopLocked removes the job so a later Start registers exactly one entry.
func (s *Scheduler) stopLocked() {
	if !s.running {
		return
	}
	<-s.cron.Stop().Done()
	s.cron.Remove(s.entry)
	close(s.done)
	s.done = nil
	s.running = false
	s.logger.Info("export scheduler stopped")
}

// IsRunning reports whether the cron loop is active.
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// NextRun returns the next scheduled export time, or nil when not running.
func (s *Scheduler) NextRun() *time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := s.cron.Entries()
	if len(entries) == 0 {
		return nil
	}
	next := entries[0].Next
	return &next
}
