package jobs

import (
	"context"
	"errors"
	"testing"
	"time"
)

type fakeJobs struct {
	queue   []*Job
	done    []uint64
	failed  map[uint64]string
	retries map[uint64]time.Time
}

func newFakeJobs(jobs ...*Job) *fakeJobs {
	return &fakeJobs{queue: jobs, failed: map[uint64]string{}, retries: map[uint64]time.Time{}}
}

func (f *fakeJobs) Claim(context.Context, string, time.Time) (*Job, error) {
	if len(f.queue) == 0 {
		return nil, nil
	}
	j := f.queue[0]
	f.queue = f.queue[1:]
	return j, nil
}

func (f *fakeJobs) MarkDone(_ context.Context, id uint64) error {
	f.done = append(f.done, id)
	return nil
}

func (f *fakeJobs) MarkFailed(_ context.Context, id uint64, msg string) error {
	f.failed[id] = msg
	return nil
}

func (f *fakeJobs) RetryLater(_ context.Context, id uint64, _ int, runAt time.Time, _ string) error {
	f.retries[id] = runAt
	return nil
}

type fakeInvoker struct {
	err   error
	calls int
}

func (f *fakeInvoker) Invoke(context.Context, string, []byte) error {
	f.calls++
	return f.err
}

func testWorker(store jobStore, inv Invoker, now time.Time) *Worker {
	w := NewWorker("w1", nil, inv, nil)
	w.Jobs = store
	w.Now = func() time.Time { return now }
	return w
}

func TestWorkerRunOnceMarksDone(t *testing.T) {
	store := newFakeJobs(
		&Job{ID: 1, Type: TypeReminderCallback, MaxAttempts: 3},
		&Job{ID: 2, Type: TypeReminderCallback, MaxAttempts: 3},
	)
	inv := &fakeInvoker{}
	w := testWorker(store, inv, time.Now())

	n, err := w.RunOnce(context.Background())
	if err != nil || n != 2 {
		t.Fatalf("RunOnce = %d, %v", n, err)
	}
	if inv.calls != 2 || len(store.done) != 2 {
		t.Fatalf("calls=%d done=%v", inv.calls, store.done)
	}
}

func TestWorkerRetriesWithBackoff(t *testing.T) {
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	store := newFakeJobs(&Job{ID: 1, Type: TypeReminderCallback, Attempts: 2, MaxAttempts: 5})
	w := testWorker(store, &fakeInvoker{err: errors.New("503")}, now)

	if _, err := w.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	want := now.Add(8 * time.Second)
	if got := store.retries[1]; !got.Equal(want) {
		t.Fatalf("retry at %s, want %s", got, want)
	}
}

func TestWorkerFailsAfterMaxAttempts(t *testing.T) {
	store := newFakeJobs(&Job{ID: 1, Type: TypeReminderCallback, Attempts: 4, MaxAttempts: 5})
	w := testWorker(store, &fakeInvoker{err: errors.New("503")}, time.Now())

	_, _ = w.RunOnce(context.Background())
	if _, ok := store.failed[1]; !ok {
		t.Fatalf("job not marked failed")
	}
	if len(store.retries) != 0 {
		t.Fatalf("job retried past its budget")
	}
}

func TestWorkerUnknownType(t *testing.T) {
	store := newFakeJobs(&Job{ID: 1, Type: "SOMETHING_ELSE", MaxAttempts: 5})
	inv := &fakeInvoker{}
	w := testWorker(store, inv, time.Now())

	_, _ = w.RunOnce(context.Background())
	if store.failed[1] != "unknown job type" || inv.calls != 0 {
		t.Fatalf("failed=%v calls=%d", store.failed, inv.calls)
	}
}

func TestWorkerRespectsBatch(t *testing.T) {
	store := newFakeJobs(
		&Job{ID: 1, Type: TypeReminderCallback},
		&Job{ID: 2, Type: TypeReminderCallback},
		&Job{ID: 3, Type: TypeReminderCallback},
	)
	w := testWorker(store, &fakeInvoker{}, time.Now())
	w.Batch = 2

	n, _ := w.RunOnce(context.Background())
	if n != 2 || len(store.queue) != 1 {
		t.Fatalf("handled %d, left %d", n, len(store.queue))
	}
}

func TestBackoff(t *testing.T) {
	cases := map[int]time.Duration{
		0:  time.Second,
		1:  2 * time.Second,
		5:  32 * time.Second,
		9:  512 * time.Second,
		10: 600 * time.Second,
		30: 600 * time.Second,
	}
	for n, want := range cases {
		if got := Backoff(n); got != want {
			t.Fatalf("Backoff(%d) = %s, want %s", n, got, want)
		}
	}
}
