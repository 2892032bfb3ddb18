package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSchedulerRunCleanup(t *testing.T) {
	store := newFakeStore()
	scheduler := NewScheduler(store, &fakeEnqueuer{}, 30, testLogger())

	scheduler.runCleanup(context.Background())
	assert.Equal(t, 1, store.cleanupCalls)
}

func TestSchedulerRunCleanupError(t *testing.T) {
	store := newFakeStore()
	store.cleanupErr = assert.AnError
	scheduler := NewScheduler(store, &fakeEnqueuer{}, 30, testLogger())

	scheduler.runCleanup(context.Background())
	assert.Equal(t, 1, store.cleanupCalls)
}

func TestSchedulerReconcileReenqueuesStalePending(t *testing.T) {
	store := newFakeStore()
	store.stalePending = []string{"msg-1", "msg-2"}
	enqueuer := &fakeEnqueuer{}
	scheduler := NewScheduler(store, enqueuer, 30, testLogger())

	scheduler.runReconcile(context.Background())
	assert.Equal(t, []string{"msg-1", "msg-2"}, enqueuer.enqueued)
}

func TestSchedulerReconcileNothingStale(t *testing.T) {
	store := newFakeStore()
	enqueuer := &fakeEnqueuer{}
	scheduler := NewScheduler(store, enqueuer, 30, testLogger())

	scheduler.runReconcile(context.Background())
	assert.Empty(t, enqueuer.enqueued)
}

func TestSchedulerStartStop(t *testing.T) {
	store := newFakeStore()
	scheduler := NewScheduler(store, &fakeEnqueuer{}, 30, testLogger())

	done := make(chan struct{})
	go func() {
		scheduler.Start(context.Background())
		close(done)
	}()

	// Give the initial cleanup a moment to run before stopping.
	time.Sleep(50 * time.Millisecond)
	scheduler.Stop()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop")
	}
	assert.Equal(t, 1, store.cleanupCalls)
}
