package service

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type fakeGauge struct{ v atomic.Int64 }

func (g *fakeGauge) Set(v float64) { g.v.Store(int64(v)) }

func TestTimerRegistryFires(t *testing.T) {
	g := &fakeGauge{}
	r := NewTimerRegistry(g)
	fired := make(chan struct{}, 1)

	r.Schedule("up-1", 5*time.Millisecond, func() { fired <- struct{}{} })
	assert.Equal(t, 1, r.Len())
	assert.Equal(t, int64(1), g.v.Load())

	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("timer did not fire")
	}
	assert.Eventually(t, func() bool { return r.Len() == 0 }, time.Second, 5*time.Millisecond)
	assert.False(t, r.Cancel("up-1"), "cancel after fire is a no-op")
}

func TestTimerRegistryRescheduleReplaces(t *testing.T) {
	r := NewTimerRegistry(nil)
	var first, second atomic.Int32

	r.Schedule("up-1", 20*time.Millisecond, func() { first.Add(1) })
	r.Schedule("up-1", 40*time.Millisecond, func() { second.Add(1) })
	assert.Equal(t, 1, r.Len())

	assert.Eventually(t, func() bool { return second.Load() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, int32(0), first.Load())
}

func TestTimerRegistryCancel(t *testing.T) {
	r := NewTimerRegistry(nil)
	var ran atomic.Bool

	r.Schedule("up-1", 20*time.Millisecond, func() { ran.Store(true) })
	assert.True(t, r.Pending("up-1"))
	assert.True(t, r.Cancel("up-1"))
	assert.False(t, r.Cancel("up-1"))

	time.Sleep(40 * time.Millisecond)
	assert.False(t, ran.Load())
}

func TestTimerRegistryStop(t *testing.T) {
	r := NewTimerRegistry(nil)
	var ran atomic.Int32

	r.Schedule("a", 20*time.Millisecond, func() { ran.Add(1) })
	r.Schedule("b", 20*time.Millisecond, func() { ran.Add(1) })
	r.Stop()
	r.Schedule("c", time.Millisecond, func() { ran.Add(1) })

	time.Sleep(40 * time.Millisecond)
	assert.Equal(t, int32(0), ran.Load())
	assert.Equal(t, 0, r.Len())
}
