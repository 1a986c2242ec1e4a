package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Scheduler manages all scheduled jobs
type Scheduler struct {
	cron        *cron.Cron
	jobs        map[string]cron.EntryID
	runningJobs map[string]bool
	logger      *zap.SugaredLogger
	mu          sync.RWMutex
	running     bool
}

// JobFunc represents a scheduled job function
type JobFunc func(ctx context.Context) error

// New creates a new scheduler instance
func New(logger *zap.SugaredLogger) *Scheduler {
	return &Scheduler{
		cron:        cron.New(cron.WithSeconds()),
		jobs:        make(map[string]cron.EntryID),
		runningJobs: make(map[string]bool),
		logger:      logger,
	}
}

// AddJob adds a new scheduled job. A timeout of zero runs the job without
// a deadline; overlapping runs of the same job are skipped either way.
func (s *Scheduler) AddJob(name, schedule string, timeout time.Duration, fn JobFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entryID, err := s.cron.AddFunc(schedule, func() {
		// Prevent overlapping runs of the same job
		s.mu.Lock()
		if s.runningJobs[name] {
			s.mu.Unlock()
			s.logger.Warnw("Scheduled job already running, skipping", "job", name)
			return
		}
		s.runningJobs[name] = true
		s.mu.Unlock()

		defer func() {
			s.mu.Lock()
			s.runningJobs[name] = false
			s.mu.Unlock()
		}()

		ctx := context.Background()
		if timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}

		s.logger.Infow("Starting scheduled job", "job", name)
		start := time.Now()

		if err := fn(ctx); err != nil {
			s.logger.Errorw("Scheduled job failed",
				"job", name,
				"error", err,
				"duration", time.Since(start).String())
			return
		}

		s.logger.Infow("Scheduled job completed",
			"job", name,
			"duration", time.Since(start).String())
	})

	if err != nil {
		return err
	}

	s.jobs[name] = entryID
	s.logger.Infow("Scheduled job added", "job", name, "schedule", schedule)
	return nil
}

// Start starts the scheduler
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		s.logger.Warn("Scheduler already running")
		return
	}

	s.cron.Start()
	s.running = true
	s.logger.Infow("Scheduler started", "jobs_count", len(s.jobs))
}

// Stop stops the scheduler gracefully
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.mu.Unlock()

	// Wait for in-flight jobs without holding the lock: their cleanup
	// takes it to clear the running-job marker.
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.logger.Info("Scheduler stopped")
}

// IsRunning returns whether the scheduler is running
func (s *Scheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// GetJobCount returns the number of registered jobs
func (s *Scheduler) GetJobCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.jobs)
}
