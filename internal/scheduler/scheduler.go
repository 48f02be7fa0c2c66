// Package scheduler runs the daily baseline recalculation sweep.
package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/clinicops/secobs/internal/domain"
	"github.com/clinicops/secobs/internal/logger"
	"github.com/clinicops/secobs/internal/ports"
)

const lockKey = "baseline-recalculation"

// ErrRunInProgress is returned when a sweep is already executing here or,
// with a distributed lock, on another replica.
var ErrRunInProgress = domain.NewDomainError(domain.KindConflict, "RECALCULATION_IN_PROGRESS", "baseline recalculation already running")

// Recalculator performs one full sweep
type Recalculator interface {
	RecalculateAll(ctx context.Context) (*domain.RecalculationSummary, error)
}

// Settings configures the daily trigger
type Settings struct {
	Hour     int
	Minute   int
	Location *time.Location
	LockTTL  time.Duration
}

// Scheduler fires the sweep once per day at a fixed wall-clock time
type Scheduler struct {
	job      Recalculator
	lock     ports.RunLock
	settings Settings
	log      logger.Logger
	now      func() time.Time

	mu        sync.Mutex
	running   bool
	stopCh    chan struct{}
	stoppedCh chan struct{}

	busy atomic.Bool
}

// New creates a scheduler. lock may be nil, in which case only the
// in-process guard applies.
func New(job Recalculator, lock ports.RunLock, settings Settings, log logger.Logger) *Scheduler {
	if settings.Location == nil {
		settings.Location = time.UTC
	}
	if settings.LockTTL <= 0 {
		settings.LockTTL = 2 * time.Hour
	}
	return &Scheduler{
		job:       job,
		lock:      lock,
		settings:  settings,
		log:       log,
		now:       time.Now,
		stopCh:    make(chan struct{}),
		stoppedCh: make(chan struct{}),
	}
}

// Start launches the timer loop. Calling Start twice is a no-op.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.stopCh = make(chan struct{})
	s.stoppedCh = make(chan struct{})
	s.mu.Unlock()

	go s.loop(ctx)
}

// Stop halts the loop and waits for it to exit. An in-flight sweep is
// cancelled through its context.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stopCh)
	s.mu.Unlock()

	<-s.stoppedCh
}

// NextRun returns the first trigger time strictly after t
func (s *Scheduler) NextRun(t time.Time) time.Time {
	local := t.In(s.settings.Location)
	next := time.Date(local.Year(), local.Month(), local.Day(), s.settings.Hour, s.settings.Minute, 0, 0, s.settings.Location)
	if !next.After(local) {
		next = time.Date(local.Year(), local.Month(), local.Day()+1, s.settings.Hour, s.settings.Minute, 0, 0, s.settings.Location)
	}
	return next
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.stoppedCh)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-s.stopCh:
			cancel()
		case <-runCtx.Done():
		}
	}()

	for {
		next := s.NextRun(s.now())
		s.log.Info(runCtx, "Baseline recalculation scheduled", map[string]interface{}{
			"next_run": next.Format(time.RFC3339),
		})

		timer := time.NewTimer(time.Until(next))
		select {
		case <-runCtx.Done():
			timer.Stop()
			s.log.Info(ctx, "Baseline scheduler stopped", nil)
			return
		case <-timer.C:
		}

		if _, err := s.RunNow(runCtx); err != nil && !errors.Is(err, ErrRunInProgress) {
			s.log.Error(runCtx, "Scheduled baseline recalculation failed", err, nil)
		}
	}
}

// RunNow executes one sweep immediately unless one is already running
func (s *Scheduler) RunNow(ctx context.Context) (*domain.RecalculationSummary, error) {
	if !s.busy.CompareAndSwap(false, true) {
		s.log.Warn(ctx, "Skipping baseline recalculation: previous run still active", nil)
		return nil, ErrRunInProgress
	}
	defer s.busy.Store(false)

	if s.lock != nil {
		release, ok, err := s.lock.TryAcquire(ctx, lockKey, s.settings.LockTTL)
		if err != nil {
			return nil, err
		}
		if !ok {
			s.log.Info(ctx, "Skipping baseline recalculation: held by another instance", nil)
			return nil, ErrRunInProgress
		}
		defer release()
	}

	summary, err := s.job.RecalculateAll(ctx)
	if err != nil {
		return nil, err
	}

	s.log.Info(ctx, "Baseline recalculation finished", map[string]interface{}{
		"run_id":        summary.RunID,
		"total_users":   summary.TotalUsers,
		"success_count": summary.SuccessCount,
		"error_count":   summary.ErrorCount,
	})
	return summary, nil
}
