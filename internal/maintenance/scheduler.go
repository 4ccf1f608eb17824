// Package maintenance runs periodic tombstone purges and duplicate cleanup.
package maintenance

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/rcliao/memory-service/internal/config"
	"github.com/rcliao/memory-service/internal/logging"
)

// Maintainer is the part of the store the scheduler drives.
type Maintainer interface {
	PurgeDeleted(ctx context.Context, olderThanDays int) (int, error)
	CleanupDuplicates(ctx context.Context) (int, error)
}

// Options configures the jobs. An empty schedule disables that job.
type Options struct {
	PurgeSchedule  string
	DedupeSchedule string
	RetentionDays  int
	// JobTimeout bounds a single run. Zero means 10 minutes.
	JobTimeout time.Duration
}

// OptionsFromConfig maps service configuration onto scheduler options.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		PurgeSchedule:  cfg.Maintenance.PurgeSchedule,
		DedupeSchedule: cfg.Maintenance.DedupeSchedule,
		RetentionDays:  cfg.Retention.TombstoneDays,
	}
}

// Report is the outcome of one maintenance pass.
type Report struct {
	Purged     int `json:"purged"`
	Duplicates int `json:"duplicates"`
}

// Scheduler wraps a cron runner. Each job skips a tick while its previous
// run is still going.
type Scheduler struct {
	m    Maintainer
	opts Options
	cron *cron.Cron

	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	started bool
}

var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// New validates the schedules and registers the enabled jobs.
func New(m Maintainer, opts Options) (*Scheduler, error) {
	if opts.RetentionDays < 0 {
		return nil, fmt.Errorf("retention days must not be negative")
	}
	if opts.JobTimeout <= 0 {
		opts.JobTimeout = 10 * time.Minute
	}

	log := cronLogger{logging.L().Named("cron")}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		m:      m,
		opts:   opts,
		ctx:    ctx,
		cancel: cancel,
		cron: cron.New(
			cron.WithParser(parser),
			cron.WithLogger(log),
			cron.WithChain(cron.Recover(log), cron.SkipIfStillRunning(log)),
		),
	}

	jobs := []struct {
		name     string
		schedule string
		run      func(context.Context) error
	}{
		{"purge_deleted", opts.PurgeSchedule, s.purge},
		{"cleanup_duplicates", opts.DedupeSchedule, s.dedupe},
	}
	for _, j := range jobs {
		if j.schedule == "" {
			logging.Debugf("maintenance job %s disabled", j.name)
			continue
		}
		if _, err := s.cron.AddFunc(j.schedule, s.wrap(j.name, j.run)); err != nil {
			cancel()
			return nil, fmt.Errorf("schedule %s %q: %w", j.name, j.schedule, err)
		}
	}
	return s, nil
}

// Jobs returns the number of enabled jobs.
func (s *Scheduler) Jobs() int {
	return len(s.cron.Entries())
}

// Start begins running jobs in the background.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true
	s.cron.Start()
	logging.Infof("maintenance scheduler started with %d jobs", s.Jobs())
}

// Stop cancels running jobs and waits for them, or for ctx, to finish.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	started := s.started
	s.started = false
	s.mu.Unlock()

	s.cancel()
	if !started {
		return nil
	}
	select {
	case <-s.cron.Stop().Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RunOnce runs both jobs immediately, regardless of schedule.
func (s *Scheduler) RunOnce(ctx context.Context) (Report, error) {
	var r Report
	purged, perr := s.m.PurgeDeleted(ctx, s.opts.RetentionDays)
	r.Purged = purged
	dups, derr := s.m.CleanupDuplicates(ctx)
	r.Duplicates = dups
	return r, errors.Join(perr, derr)
}

func (s *Scheduler) purge(ctx context.Context) error {
	n, err := s.m.PurgeDeleted(ctx, s.opts.RetentionDays)
	if err == nil && n > 0 {
		logging.Infof("purged %d tombstones older than %d days", n, s.opts.RetentionDays)
	}
	return err
}

func (s *Scheduler) dedupe(ctx context.Context) error {
	n, err := s.m.CleanupDuplicates(ctx)
	if err == nil && n > 0 {
		logging.Infof("cleaned up %d duplicate memories", n)
	}
	return err
}

func (s *Scheduler) wrap(name string, run func(context.Context) error) func() {
	return func() {
		ctx, cancel := context.WithTimeout(s.ctx, s.opts.JobTimeout)
		defer cancel()
		start := time.Now()
		if err := run(ctx); err != nil {
			logging.Warnf("maintenance job %s failed after %s: %v", name, time.Since(start).Round(time.Millisecond), err)
		}
	}
}

// cronLogger adapts zap to cron.Logger.
type cronLogger struct {
	l *zap.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.l.Sugar().Debugw(msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.l.Sugar().Errorw(msg, append(keysAndValues, "error", err)...)
}
