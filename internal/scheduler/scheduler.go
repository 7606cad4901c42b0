package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/tullo/moderation/internal/cache"
	"github.com/tullo/moderation/internal/metrics"
	"go.uber.org/zap"
)

// Locker is implemented by cache.RedisClient. Returning cache.ErrLockHeld
// means another instance is running the job.
type Locker interface {
	AcquireLock(ctx context.Context, name string, ttl time.Duration) (string, error)
	ReleaseLock(ctx context.Context, name, token string) error
}

// Job is a periodic task. Spec uses cron syntax with a seconds field or a
// descriptor such as "@every 15m".
type Job struct {
	Name    string
	Spec    string
	Timeout time.Duration
	Run     func(ctx context.Context) error
}

// Scheduler runs jobs on cron schedules. A run is skipped while the previous
// run of the same job is still going, in this process (SkipIfStillRunning)
// and across processes (Redis lock).
type Scheduler struct {
	cron    *cron.Cron
	locker  Locker
	metrics *metrics.Metrics
	logger  *zap.Logger
	ctx     context.Context
	cancel  context.CancelFunc
}

// New creates a scheduler. locker may be nil for single-instance setups.
func New(locker Locker, m *metrics.Metrics, logger *zap.Logger) *Scheduler {
	logger = logger.With(zap.String("mod", "scheduler"))
	cl := cronLogger{log: logger.Sugar()}
	ctx, cancel := context.WithCancel(context.Background())

	return &Scheduler{
		cron: cron.New(
			cron.WithSeconds(),
			cron.WithLocation(time.UTC),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		locker:  locker,
		metrics: m,
		logger:  logger,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Add registers a job.
func (s *Scheduler) Add(job Job) error {
	if job.Timeout <= 0 {
		job.Timeout = time.Minute
	}
	if _, err := s.cron.AddFunc(job.Spec, func() {
		_ = s.RunOnce(s.ctx, job)
	}); err != nil {
		return fmt.Errorf("failed to schedule %s (%q): %w", job.Name, job.Spec, err)
	}
	s.logger.Info("job scheduled", zap.String("job", job.Name), zap.String("spec", job.Spec))
	return nil
}

// EveryInterval renders d as a cron descriptor.
func EveryInterval(d time.Duration) string {
	return "@every " + d.String()
}

// Start starts the cron loop in the background.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop stops scheduling, cancels running jobs and waits for them or ctx.
func (s *Scheduler) Stop(ctx context.Context) {
	done := s.cron.Stop()
	s.cancel()
	select {
	case <-done.Done():
	case <-ctx.Done():
		s.logger.Warn("scheduler stop timed out with jobs still running")
	}
}

// RunOnce executes one run of job under its timeout and the distributed lock.
// A run skipped because the lock is held is not an error.
func (s *Scheduler) RunOnce(ctx context.Context, job Job) error {
	log := s.logger.With(zap.String("job", job.Name))
	ctx, cancel := context.WithTimeout(ctx, job.Timeout)
	defer cancel()

	if s.locker != nil {
		token, err := s.locker.AcquireLock(ctx, "job:"+job.Name, job.Timeout)
		if errors.Is(err, cache.ErrLockHeld) {
			s.metrics.JobRuns.WithLabelValues(job.Name, "skipped").Inc()
			log.Debug("job already running elsewhere, skipping tick")
			return nil
		}
		if err != nil {
			s.metrics.JobRuns.WithLabelValues(job.Name, "error").Inc()
			log.Error("failed to acquire job lock, skipping tick", zap.Error(err))
			return err
		}
		defer func() {
			if err := s.locker.ReleaseLock(context.WithoutCancel(ctx), "job:"+job.Name, token); err != nil {
				log.Warn("failed to release job lock", zap.Error(err))
			}
		}()
	}

	start := time.Now()
	err := job.Run(ctx)
	elapsed := time.Since(start)

	s.metrics.JobRuns.WithLabelValues(job.Name, metrics.Result(err)).Inc()
	s.metrics.JobDuration.WithLabelValues(job.Name).Observe(elapsed.Seconds())
	if err != nil {
		log.Error("job failed", zap.Duration("duration", elapsed), zap.Error(err))
		return err
	}
	log.Debug("job finished", zap.Duration("duration", elapsed))
	return nil
}

// cronLogger adapts zap to cron.Logger.
type cronLogger struct {
	log *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Errorw(msg, append(keysAndValues, "error", err)...)
}
