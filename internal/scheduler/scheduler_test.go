package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"fileshare/internal/model"
	"fileshare/internal/service"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubRepo struct {
	pending   []string
	expired   []string
	lapsed    []string
	due       []string
	byUser    map[string][]model.Upload
	pendingAt time.Time
	lapsedAt  time.Time
}

func (r *stubRepo) ListAnonymousPendingBefore(_ context.Context, before time.Time, _ int) ([]string, error) {
	r.pendingAt = before
	return r.pending, nil
}

func (r *stubRepo) ListAnonymousConfirmedBefore(_ context.Context, _ time.Time, _ int) ([]string, error) {
	return r.expired, nil
}

func (r *stubRepo) ListLapsedOverLimit(_ context.Context, canceledBefore time.Time, _ int64, _ int) ([]string, error) {
	r.lapsedAt = canceledBefore
	return r.lapsed, nil
}

func (r *stubRepo) ListValidUploadsByUser(_ context.Context, userID string) ([]model.Upload, error) {
	return r.byUser[userID], nil
}

func (r *stubRepo) ListDueDowngrades(_ context.Context, _ time.Time, _ int) ([]string, error) {
	return r.due, nil
}

type deleteCall struct {
	id      string
	trigger service.DeletionTrigger
}

type stubDeleter struct {
	mu    sync.Mutex
	calls []deleteCall
	block chan struct{}
}

func (d *stubDeleter) DeleteUpload(_ context.Context, id string, trigger service.DeletionTrigger) error {
	if d.block != nil {
		<-d.block
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = append(d.calls, deleteCall{id: id, trigger: trigger})
	return nil
}

func (d *stubDeleter) snapshot() []deleteCall {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]deleteCall(nil), d.calls...)
}

type stubDowngrader struct {
	mu    sync.Mutex
	users []string
}

func (d *stubDowngrader) ApplyDueDowngrade(_ context.Context, userID string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.users = append(d.users, userID)
	return true, nil
}

var sweepNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func newTestScheduler(t *testing.T, repo *stubRepo, del *stubDeleter, down *stubDowngrader) *Scheduler {
	t.Helper()
	s := New(repo, del, down, nil, Settings{
		Schedule:        "@every 1h",
		Workers:         2,
		BatchSize:       10,
		LapsedRetention: 30 * 24 * time.Hour,
	}, zerolog.Nop())
	s.now = func() time.Time { return sweepNow }
	require.NoError(t, s.Start())
	return s
}

func stop(t *testing.T, s *Scheduler) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))
}

func TestSweepDeletesExpiredAnonymousUploads(t *testing.T) {
	repo := &stubRepo{pending: []string{"p1", "p2"}, expired: []string{"e1"}}
	del := &stubDeleter{}
	s := newTestScheduler(t, repo, del, nil)

	s.Sweep()
	stop(t, s)

	assert.ElementsMatch(t, []deleteCall{
		{id: "p1", trigger: service.TriggerSweepPending},
		{id: "p2", trigger: service.TriggerSweepPending},
		{id: "e1", trigger: service.TriggerSweepExpired},
	}, del.snapshot())
	assert.Equal(t, sweepNow.Add(-24*time.Hour), repo.pendingAt)
}

func TestSweepTrimsLapsedAccountOldestFirst(t *testing.T) {
	repo := &stubRepo{
		lapsed: []string{"u1"},
		byUser: map[string][]model.Upload{
			"u1": {
				{ID: "oldest", SizeInBytes: 2_000_000_000},
				{ID: "older", SizeInBytes: 1_500_000_000},
				{ID: "newer", SizeInBytes: 2_000_000_000},
				{ID: "newest", SizeInBytes: 1_000_000_000},
			},
		},
	}
	del := &stubDeleter{}
	s := newTestScheduler(t, repo, del, nil)

	s.Sweep()
	stop(t, s)

	// 6.5e9 total; dropping the two oldest leaves 3e9 <= 4e9.
	assert.Equal(t, []deleteCall{
		{id: "oldest", trigger: service.TriggerLapsedAccount},
		{id: "older", trigger: service.TriggerLapsedAccount},
	}, del.snapshot())
	assert.Equal(t, sweepNow.Add(-30*24*time.Hour), repo.lapsedAt)
}

func TestSweepAppliesDueDowngrades(t *testing.T) {
	repo := &stubRepo{due: []string{"u1", "u2"}}
	down := &stubDowngrader{}
	s := newTestScheduler(t, repo, &stubDeleter{}, down)

	s.Sweep()
	stop(t, s)

	assert.ElementsMatch(t, []string{"u1", "u2"}, down.users)
}

func TestSweepSkipsInFlightIDs(t *testing.T) {
	repo := &stubRepo{pending: []string{"p1"}}
	del := &stubDeleter{block: make(chan struct{})}
	s := newTestScheduler(t, repo, del, nil)

	s.Sweep()
	s.Sweep()
	s.Sweep()
	close(del.block)
	stop(t, s)

	assert.Len(t, del.snapshot(), 1)
}

func TestSweepDoesNotWaitForDeletions(t *testing.T) {
	repo := &stubRepo{pending: []string{"p1", "p2", "p3"}}
	del := &stubDeleter{block: make(chan struct{})}
	s := newTestScheduler(t, repo, del, nil)

	done := make(chan struct{})
	go func() {
		s.Sweep()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("sweep blocked on running deletions")
	}

	close(del.block)
	stop(t, s)
	assert.Len(t, del.snapshot(), 3)
}

func TestStartRejectsBadSchedule(t *testing.T) {
	s := New(&stubRepo{}, &stubDeleter{}, nil, nil, Settings{Schedule: "not a schedule"}, zerolog.Nop())
	assert.Error(t, s.Start())
}
