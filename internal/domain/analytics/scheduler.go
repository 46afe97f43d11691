package analytics

import (
	"context"
	"sync"
	"time"

	"github.com/go-faster/errors"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// DefaultSchedule runs shortly after every UTC midnight.
const DefaultSchedule = "5 0 * * *"

const lockKey = "analytics:daily"

// Locker guards a run against concurrent runs on other replicas.
type Locker interface {
	// TryLock acquires key for at most ttl. ok is false when someone else
	// holds it.
	TryLock(ctx context.Context, key string, ttl time.Duration) (unlock func(context.Context), ok bool, err error)
}

// Runner aggregates one day.
type Runner interface {
	RunForDate(ctx context.Context, day time.Time) (*Snapshot, error)
}

// SchedulerConfig controls the daily trigger.
type SchedulerConfig struct {
	// Schedule is a standard five-field cron expression evaluated in UTC.
	Schedule string
	// CatchUp aggregates yesterday on Start when its snapshot is missing.
	CatchUp bool
	// LockTTL bounds how long one run may hold the cross-replica lock.
	LockTTL time.Duration
	// Timeout bounds a single run.
	Timeout time.Duration
}

// Scheduler triggers the aggregator for the previous day on a cron schedule.
type Scheduler struct {
	runner    Runner
	snapshots Repository
	locker    Locker
	logger    *zap.Logger
	cfg       SchedulerConfig
	cron      *cron.Cron
	catchUps  sync.WaitGroup
	now       func() time.Time
}

// NewScheduler creates a Scheduler. locker may be nil for single-replica
// deployments.
func NewScheduler(
	runner Runner,
	snapshots Repository,
	locker Locker,
	logger *zap.Logger,
	cfg SchedulerConfig,
) (*Scheduler, error) {
	if cfg.Schedule == "" {
		cfg.Schedule = DefaultSchedule
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 10 * time.Minute
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Scheduler{
		runner:    runner,
		snapshots: snapshots,
		locker:    locker,
		logger:    logger,
		cfg:       cfg,
		cron:      cron.New(cron.WithLocation(time.UTC)),
		now:       time.Now,
	}
	if _, err := s.cron.AddFunc(cfg.Schedule, s.tick); err != nil {
		return nil, errors.Wrapf(err, "parse schedule %q", cfg.Schedule)
	}
	return s, nil
}

// Start launches the cron loop and, if configured, the catch-up run.
func (s *Scheduler) Start(ctx context.Context) {
	if s.cfg.CatchUp {
		s.catchUps.Go(func() { s.catchUp(ctx) })
	}
	s.cron.Start()
	s.logger.Info("Analytics scheduler started", zap.String("schedule", s.cfg.Schedule))
}

// Stop stops the cron loop and waits for running aggregations, the
// catch-up run included, to finish or ctx to expire.
func (s *Scheduler) Stop(ctx context.Context) error {
	stopCtx := s.cron.Stop()
	done := make(chan struct{})
	go func() {
		<-stopCtx.Done()
		s.catchUps.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("Analytics scheduler stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) tick() {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.Timeout)
	defer cancel()

	if err := s.Run(ctx, s.yesterday()); err != nil {
		s.logger.Error("Scheduled analytics run failed", zap.Error(err))
	}
}

func (s *Scheduler) catchUp(ctx context.Context) {
	day := s.yesterday()
	_, err := s.snapshots.Get(ctx, day)
	switch {
	case err == nil:
		return
	case !errors.Is(err, ErrNotFound):
		s.logger.Error("Analytics catch-up lookup failed", zap.Error(err))
		return
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()
	if err := s.Run(ctx, day); err != nil {
		s.logger.Error("Analytics catch-up failed", zap.Time("date", day), zap.Error(err))
	}
}

// Run aggregates day under the cross-replica lock. It returns nil without
// running when another replica holds the lock.
func (s *Scheduler) Run(ctx context.Context, day time.Time) error {
	if s.locker != nil {
		unlock, ok, err := s.locker.TryLock(ctx, lockKey, s.cfg.LockTTL)
		if err != nil {
			return errors.Wrap(err, "acquire lock")
		}
		if !ok {
			s.logger.Info("Analytics run skipped, lock held elsewhere", zap.Time("date", day))
			return nil
		}
		defer unlock(context.WithoutCancel(ctx))
	}

	if _, err := s.runner.RunForDate(ctx, day); err != nil {
		return errors.Wrapf(err, "aggregate %s", day.Format(time.DateOnly))
	}
	return nil
}

func (s *Scheduler) yesterday() time.Time {
	return Day(s.now()).AddDate(0, 0, -1)
}
