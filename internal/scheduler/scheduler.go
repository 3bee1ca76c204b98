// Package scheduler runs the periodic expiration sweep.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"fileshare/internal/metrics"
	"fileshare/internal/model"
	"fileshare/internal/quota"
	"fileshare/internal/repository"
	"fileshare/internal/service"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// Repository defines the queries the sweep needs.
type Repository interface {
	ListAnonymousPendingBefore(ctx context.Context, before time.Time, limit int) ([]string, error)
	ListAnonymousConfirmedBefore(ctx context.Context, before time.Time, limit int) ([]string, error)
	ListLapsedOverLimit(ctx context.Context, canceledBefore time.Time, limitBytes int64, max int) ([]string, error)
	ListValidUploadsByUser(ctx context.Context, userID string) ([]model.Upload, error)
	ListDueDowngrades(ctx context.Context, now time.Time, limit int) ([]string, error)
}

type repositories struct {
	repository.UploadRepository
	repository.UsageRepository
	repository.SubscriptionRepository
}

// Compose joins the repositories the sweep reads from.
func Compose(uploads repository.UploadRepository, usage repository.UsageRepository, subs repository.SubscriptionRepository) Repository {
	return repositories{UploadRepository: uploads, UsageRepository: usage, SubscriptionRepository: subs}
}

type Deleter interface {
	DeleteUpload(ctx context.Context, id string, trigger service.DeletionTrigger) error
}

type Downgrader interface {
	ApplyDueDowngrade(ctx context.Context, userID string) (bool, error)
}

type Settings struct {
	Schedule        string
	Workers         int
	BatchSize       int
	LapsedRetention time.Duration
	TaskTimeout     time.Duration
}

type job struct {
	key string
	run func(ctx context.Context) error
}

// Scheduler selects expired work on every tick and hands it to a bounded
// worker pool. A tick never waits for deletions to finish, and a key that
// is still being processed is not dispatched again.
type Scheduler struct {
	cron       *cron.Cron
	repo       Repository
	deleter    Deleter
	downgrader Downgrader
	metrics    *metrics.Metrics
	cfg        Settings
	now        func() time.Time
	logger     zerolog.Logger

	mu       sync.Mutex
	inflight map[string]struct{}
	stopped  bool
	work     chan job
	group    errgroup.Group
}

type cronLogger struct {
	logger zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error().Err(err).Fields(keysAndValues).Msg(msg)
}

func New(repo Repository, deleter Deleter, downgrader Downgrader, m *metrics.Metrics, cfg Settings, logger zerolog.Logger) *Scheduler {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 500
	}
	if cfg.TaskTimeout <= 0 {
		cfg.TaskTimeout = 30 * time.Second
	}
	logger = logger.With().Str("service", "Scheduler").Logger()
	c := cron.New(cron.WithChain(cron.Recover(cronLogger{logger: logger})))

	return &Scheduler{
		cron:       c,
		repo:       repo,
		deleter:    deleter,
		downgrader: downgrader,
		metrics:    m,
		cfg:        cfg,
		now:        time.Now,
		logger:     logger,
		inflight:   make(map[string]struct{}),
		work:       make(chan job, cfg.Workers*cfg.BatchSize),
	}
}

// Start registers the sweep, starts the worker pool and the cron loop.
func (s *Scheduler) Start() error {
	if _, err := s.cron.AddFunc(s.cfg.Schedule, s.Sweep); err != nil {
		return fmt.Errorf("failed to schedule expiration sweep %q: %w", s.cfg.Schedule, err)
	}
	for i := 0; i < s.cfg.Workers; i++ {
		s.group.Go(s.worker)
	}
	s.cron.Start()
	s.logger.Info().Str("schedule", s.cfg.Schedule).Int("workers", s.cfg.Workers).Msg("Scheduled expiration sweep")
	return nil
}

// Stop waits for a running sweep, then lets the workers drain the queue.
func (s *Scheduler) Stop(ctx context.Context) error {
	select {
	case <-s.cron.Stop().Done():
	case <-ctx.Done():
		return ctx.Err()
	}

	s.mu.Lock()
	if !s.stopped {
		s.stopped = true
		close(s.work)
	}
	s.mu.Unlock()

	done := make(chan error, 1)
	go func() { done <- s.group.Wait() }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) worker() error {
	for j := range s.work {
		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.TaskTimeout)
		if err := j.run(ctx); err != nil {
			s.logger.Error().Err(err).Str("key", j.key).Msg("Sweep task failed")
		}
		cancel()
		s.release(j.key)
	}
	return nil
}

func (s *Scheduler) release(key string) {
	s.mu.Lock()
	delete(s.inflight, key)
	s.mu.Unlock()
}

// dispatch queues fn unless key is already queued or running. It never
// blocks; a full queue drops the task until the next tick.
func (s *Scheduler) dispatch(key string, fn func(ctx context.Context) error) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return false
	}
	if _, busy := s.inflight[key]; busy {
		return false
	}
	select {
	case s.work <- job{key: key, run: fn}:
		s.inflight[key] = struct{}{}
		return true
	default:
		s.logger.Warn().Str("key", key).Msg("Sweep queue full, task deferred to next tick")
		return false
	}
}

// Sweep runs one tick. It is safe to call directly.
func (s *Scheduler) Sweep() {
	start := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.TaskTimeout)
	defer cancel()

	now := s.now()
	cutoff := now.Add(-service.AnonymousConfirmedTTL)
	var errs []error

	pending, err := s.repo.ListAnonymousPendingBefore(ctx, cutoff, s.cfg.BatchSize)
	errs = append(errs, err)
	s.dispatchDeletes(pending, service.TriggerSweepPending)

	expired, err := s.repo.ListAnonymousConfirmedBefore(ctx, cutoff, s.cfg.BatchSize)
	errs = append(errs, err)
	s.dispatchDeletes(expired, service.TriggerSweepExpired)

	lapsed, err := s.repo.ListLapsedOverLimit(ctx, now.Add(-s.cfg.LapsedRetention), quota.FreeStorageLimit, s.cfg.BatchSize)
	errs = append(errs, err)
	for _, userID := range lapsed {
		s.dispatch("user:"+userID, func(ctx context.Context) error {
			return s.trimLapsedAccount(ctx, userID)
		})
	}

	if s.downgrader != nil {
		due, err := s.repo.ListDueDowngrades(ctx, now, s.cfg.BatchSize)
		errs = append(errs, err)
		for _, userID := range due {
			s.dispatch("downgrade:"+userID, func(ctx context.Context) error {
				_, err := s.downgrader.ApplyDueDowngrade(ctx, userID)
				return err
			})
		}
	}

	if s.metrics != nil {
		s.metrics.SweepDuration.Observe(time.Since(start).Seconds())
	}
	if err := errors.Join(errs...); err != nil {
		s.logger.Error().Err(err).Msg("Expiration sweep selection failed")
	}
	s.logger.Debug().
		Int("pending", len(pending)).
		Int("expired", len(expired)).
		Int("lapsed_users", len(lapsed)).
		Dur("took", time.Since(start)).
		Msg("Expiration sweep dispatched")
}

func (s *Scheduler) dispatchDeletes(ids []string, trigger service.DeletionTrigger) {
	for _, id := range ids {
		s.dispatch("upload:"+id, func(ctx context.Context) error {
			return s.deleter.DeleteUpload(ctx, id, trigger)
		})
	}
}

// trimLapsedAccount deletes the user's oldest uploads until what is left
// fits the free storage limit.
func (s *Scheduler) trimLapsedAccount(ctx context.Context, userID string) error {
	uploads, err := s.repo.ListValidUploadsByUser(ctx, userID)
	if err != nil {
		return fmt.Errorf("list uploads of lapsed user %s: %w", userID, err)
	}
	var total int64
	for _, u := range uploads {
		total += u.SizeInBytes
	}
	deleted := 0
	for _, u := range uploads {
		if total <= quota.FreeStorageLimit {
			break
		}
		if err := s.deleter.DeleteUpload(ctx, u.ID, service.TriggerLapsedAccount); err != nil {
			return err
		}
		total -= u.SizeInBytes
		deleted++
	}
	s.logger.Info().Str("user_id", userID).Int("deleted", deleted).Int64("remaining_bytes", total).Msg("Trimmed lapsed account")
	return nil
}
