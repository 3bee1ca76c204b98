package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// ErrOutboxClosed is returned by Shutdown when called twice.
var ErrOutboxClosed = errors.New("outbox closed")

// TaskQueue runs best-effort work after the primary state change has been
// committed. Enqueue never blocks; it reports false when the task was
// dropped.
type TaskQueue interface {
	Enqueue(name string, fn func(ctx context.Context) error) bool
}

type outboxTask struct {
	name string
	fn   func(ctx context.Context) error
}

// Outbox is a TaskQueue backed by a fixed pool of workers. Task failures
// are logged and counted, never returned to the caller that enqueued them.
type Outbox struct {
	tasks   chan outboxTask
	workers int
	timeout time.Duration
	results *prometheus.CounterVec
	logger  zerolog.Logger

	mu     sync.RWMutex
	closed bool
	group  *errgroup.Group
}

func NewOutbox(workers, queueSize int, timeout time.Duration, results *prometheus.CounterVec, logger zerolog.Logger) *Outbox {
	if workers < 1 {
		workers = 1
	}
	if queueSize < 1 {
		queueSize = 1
	}
	return &Outbox{
		tasks:   make(chan outboxTask, queueSize),
		workers: workers,
		timeout: timeout,
		results: results,
		logger:  logger.With().Str("service", "Outbox").Logger(),
	}
}

// Start launches the workers. ctx is the parent of every task context;
// canceling it aborts running tasks.
func (o *Outbox) Start(ctx context.Context) {
	g := &errgroup.Group{}
	for i := 0; i < o.workers; i++ {
		g.Go(func() error {
			for t := range o.tasks {
				o.run(ctx, t)
			}
			return nil
		})
	}
	o.mu.Lock()
	o.group = g
	o.mu.Unlock()
	o.logger.Info().Int("workers", o.workers).Msg("Outbox started")
}

func (o *Outbox) Enqueue(name string, fn func(ctx context.Context) error) bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.closed {
		o.logger.Warn().Str("task", name).Msg("Outbox closed; dropping task")
		o.count(name, "dropped")
		return false
	}
	select {
	case o.tasks <- outboxTask{name: name, fn: fn}:
		return true
	default:
		o.logger.Warn().Str("task", name).Msg("Outbox queue full; dropping task")
		o.count(name, "dropped")
		return false
	}
}

func (o *Outbox) run(parent context.Context, t outboxTask) {
	ctx := parent
	if o.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(parent, o.timeout)
		defer cancel()
	}
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error().Str("task", t.name).Interface("panic", r).Msg("Outbox task panicked")
			o.count(t.name, "panic")
		}
	}()
	if err := t.fn(ctx); err != nil {
		o.logger.Error().Err(err).Str("task", t.name).Msg("Outbox task failed")
		o.count(t.name, "failed")
		return
	}
	o.count(t.name, "ok")
}

func (o *Outbox) count(task, outcome string) {
	if o.results != nil {
		o.results.WithLabelValues(task, outcome).Inc()
	}
}

// Shutdown stops accepting tasks and waits for queued ones to drain or for
// ctx to expire.
func (o *Outbox) Shutdown(ctx context.Context) error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return ErrOutboxClosed
	}
	o.closed = true
	close(o.tasks)
	g := o.group
	o.mu.Unlock()
	if g == nil {
		return nil
	}

	done := make(chan struct{})
	go func() {
		_ = g.Wait()
		close(done)
	}()
	select {
	case <-done:
		o.logger.Info().Msg("Outbox drained")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
