package queue

import (
	"context"
	"encoding/json"
	"errors"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	apperrors "github.com/kbukum/taskguard/errors"
)

type mail struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
}

func TestAdd_Defaults(t *testing.T) {
	q := newTestQueue[mail](t)
	ctx := context.Background()

	job, err := q.Add(ctx, "send", mail{To: "a@example.com"}, AddOptions{})
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if job.ID == "" || job.Queue != "test" {
		t.Errorf("unexpected identity %q/%q", job.ID, job.Queue)
	}
	if job.Status != StatusWaiting || job.Attempts != 0 || job.MaxAttempts != DefaultAttempts {
		t.Errorf("unexpected state %+v", job)
	}
	if job.Options.Priority != PriorityNormal || job.Options.Timeout != DefaultTimeout || job.Options.Backoff != DefaultBackoff {
		t.Errorf("unexpected options %+v", job.Options)
	}

	stored, err := q.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if stored.Data.To != "a@example.com" {
		t.Errorf("payload not stored: %+v", stored.Data)
	}

	st, _ := q.GetStats(ctx)
	if st.Waiting != 1 {
		t.Errorf("waiting = %d, want 1", st.Waiting)
	}
}

func TestAdd_Delayed(t *testing.T) {
	clock := newFakeClock()
	q := newTestQueue[mail](t, WithClock(clock.Now))

	job, err := q.Add(context.Background(), "send", mail{}, AddOptions{Delay: 5 * time.Second})
	if err != nil {
		t.Fatal(err)
	}
	if job.Status != StatusDelayed || job.ScheduledAt == nil || !job.ScheduledAt.Equal(clock.Now().Add(5*time.Second)) {
		t.Fatalf("unexpected delayed job %+v", job)
	}

	if n, _ := q.PromoteDue(context.Background()); n != 0 {
		t.Fatalf("promoted %d jobs before due", n)
	}
	clock.Advance(5 * time.Second)
	if n, _ := q.PromoteDue(context.Background()); n != 1 {
		t.Fatalf("promoted %d jobs, want 1", n)
	}
	got, _ := q.GetJob(context.Background(), job.ID)
	if got.Status != StatusWaiting || got.ScheduledAt != nil {
		t.Errorf("promoted job = %+v", got)
	}
}

func TestAdd_InvalidInput(t *testing.T) {
	q := newTestQueue[mail](t)
	ctx := context.Background()

	tests := []struct {
		name    string
		jobName string
		opts    AddOptions
	}{
		{"missing name", "", AddOptions{}},
		{"unknown priority", "send", AddOptions{Priority: "urgent"}},
		{"negative delay", "send", AddOptions{Delay: -time.Second}},
		{"negative attempts", "send", AddOptions{Attempts: -1}},
		{"unknown backoff", "send", AddOptions{Backoff: &Backoff{Type: "linear", Delay: time.Second}}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := q.Add(ctx, tc.jobName, mail{}, tc.opts)
			var appErr *apperrors.AppError
			if !errors.As(err, &appErr) {
				t.Fatalf("expected AppError, got %v", err)
			}
		})
	}
	if st, _ := q.GetStats(ctx); st != (Stats{}) {
		t.Errorf("rejected adds must not store jobs: %+v", st)
	}
}

func TestProcessing_PriorityOrder(t *testing.T) {
	clock := newFakeClock()
	q := newTestQueue[int](t, WithClock(clock.Now), WithConcurrency(1))
	ctx := context.Background()

	var (
		mu    sync.Mutex
		order []int
	)
	q.Process("work", func(_ context.Context, job *Job[int]) (any, error) {
		mu.Lock()
		order = append(order, job.Data)
		mu.Unlock()
		return nil, nil
	})

	adds := []struct {
		data int
		p    Priority
	}{
		{4, PriorityLow}, {3, PriorityNormal}, {1, PriorityCritical}, {2, PriorityHigh}, {5, PriorityLow},
	}
	for _, a := range adds {
		clock.Advance(time.Millisecond)
		if _, err := q.Add(ctx, "work", a.data, AddOptions{Priority: a.p}); err != nil {
			t.Fatal(err)
		}
	}

	q.StartProcessing()
	waitFor(t, "all jobs", func() bool {
		st, _ := q.GetStats(ctx)
		return st.Completed == 5
	})

	mu.Lock()
	defer mu.Unlock()
	if !slices.Equal(order, []int{1, 2, 3, 4, 5}) {
		t.Errorf("processing order = %v", order)
	}
}

func TestStartProcessing_Idempotent(t *testing.T) {
	q := newTestQueue[int](t, WithConcurrency(1))
	ctx := context.Background()

	var running, peak atomic.Int32
	q.Process("work", func(context.Context, *Job[int]) (any, error) {
		n := running.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		running.Add(-1)
		return nil, nil
	})
	for i := range 6 {
		_, _ = q.Add(ctx, "work", i, AddOptions{})
	}

	var wg sync.WaitGroup
	for range 10 {
		wg.Go(q.StartProcessing)
	}
	wg.Wait()

	if !q.IsRunning() {
		t.Fatal("queue should be running")
	}
	waitFor(t, "all jobs", func() bool {
		st, _ := q.GetStats(ctx)
		return st.Completed == 6
	})
	if peak.Load() != 1 {
		t.Errorf("peak concurrency = %d, want 1", peak.Load())
	}

	q.StopProcessing()
	q.StopProcessing()
	if q.IsRunning() {
		t.Error("queue should be stopped")
	}
}

func TestProcessing_FailsAfterMaxAttempts(t *testing.T) {
	q := newTestQueue[int](t)
	ctx := context.Background()

	var calls atomic.Int32
	q.Process("flaky", func(context.Context, *Job[int]) (any, error) {
		calls.Add(1)
		return nil, errors.New("smtp unavailable")
	})

	job, _ := q.Add(ctx, "flaky", 1, AddOptions{Attempts: 3, Backoff: &Backoff{Type: BackoffFixed}})
	q.StartProcessing()

	got := waitForJob(t, q, job.ID, func(j *Job[int]) bool { return j.Status == StatusFailed })
	if got.Attempts != 3 || calls.Load() != 3 {
		t.Errorf("attempts = %d, calls = %d, want 3", got.Attempts, calls.Load())
	}
	if got.FailedReason != "smtp unavailable" || got.FinishedAt == nil {
		t.Errorf("unexpected failure record %+v", got)
	}
	st, _ := q.GetStats(ctx)
	if st.Failed != 1 || st.Active != 0 || st.Delayed != 0 {
		t.Errorf("unexpected stats %+v", st)
	}
}

func TestProcessing_ExponentialBackoff(t *testing.T) {
	clock := newFakeClock()
	events := &eventLog{}
	q := newTestQueue[int](t, WithClock(clock.Now), WithEventSink(events))
	ctx := context.Background()

	q.Process("flaky", func(context.Context, *Job[int]) (any, error) {
		return nil, errors.New("nope")
	})
	job, _ := q.Add(ctx, "flaky", 1, AddOptions{
		Attempts: 4,
		Backoff:  &Backoff{Type: BackoffExponential, Delay: time.Second},
	})
	q.StartProcessing()

	for attempt, want := range []time.Duration{time.Second, 2 * time.Second, 4 * time.Second} {
		got := waitForJob(t, q, job.ID, func(j *Job[int]) bool {
			return j.Status == StatusDelayed && j.Attempts == attempt+1
		})
		if delay := got.ScheduledAt.Sub(clock.Now()); delay != want {
			t.Errorf("after attempt %d delay = %s, want %s", attempt+1, delay, want)
		}
		waitFor(t, "retrying event", func() bool {
			n := 0
			for _, typ := range events.types() {
				if typ == EventRetrying {
					n++
				}
			}
			return n == attempt+1
		})
		clock.Advance(want)
	}

	got := waitForJob(t, q, job.ID, func(j *Job[int]) bool { return j.Status == StatusFailed })
	if got.Attempts != 4 {
		t.Errorf("attempts = %d, want 4", got.Attempts)
	}

	waitFor(t, "failed event", func() bool {
		return slices.Contains(events.types(), EventFailed)
	})
	events.mu.Lock()
	var retryIns []time.Duration
	for _, e := range events.events {
		if e.Type == EventRetrying {
			retryIns = append(retryIns, e.RetryIn)
		}
	}
	events.mu.Unlock()
	if !slices.Equal(retryIns, []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}) {
		t.Errorf("retry events = %v", retryIns)
	}
}

func TestProcessing_SendRetriedThenCompleted(t *testing.T) {
	clock := newFakeClock()
	events := &eventLog{}
	q := newTestQueue[mail](t, WithClock(clock.Now), WithEventSink(events))
	ctx := context.Background()

	var calls atomic.Int32
	q.Process("send", func(_ context.Context, job *Job[mail]) (any, error) {
		if calls.Add(1) == 1 {
			return nil, errors.New("connection reset")
		}
		return map[string]string{"delivered_to": job.Data.To}, nil
	})

	job, err := q.Add(ctx, "send", mail{To: "ops@example.com", Subject: "hi"}, AddOptions{
		Priority: PriorityCritical,
		Attempts: 2,
		Backoff:  &Backoff{Type: BackoffFixed, Delay: 500 * time.Millisecond},
	})
	if err != nil {
		t.Fatal(err)
	}
	q.StartProcessing()

	delayed := waitForJob(t, q, job.ID, func(j *Job[mail]) bool { return j.Status == StatusDelayed })
	if d := delayed.ScheduledAt.Sub(clock.Now()); d != 500*time.Millisecond {
		t.Errorf("retry delay = %s, want 500ms", d)
	}
	if delayed.FailedReason != "connection reset" {
		t.Errorf("failed reason = %q", delayed.FailedReason)
	}
	waitFor(t, "retrying event", func() bool {
		return slices.Contains(events.types(), EventRetrying)
	})
	clock.Advance(500 * time.Millisecond)

	done := waitForJob(t, q, job.ID, func(j *Job[mail]) bool { return j.Status == StatusCompleted })
	if done.Attempts != 2 || done.Progress != 100 || done.FailedReason != "" {
		t.Errorf("unexpected completed job %+v", done)
	}
	var rv map[string]string
	if err := json.Unmarshal(done.ReturnValue, &rv); err != nil || rv["delivered_to"] != "ops@example.com" {
		t.Errorf("return value = %s (%v)", done.ReturnValue, err)
	}

	waitFor(t, "completed event", func() bool {
		return slices.Contains(events.types(), EventCompleted)
	})
	if got := events.types(); !slices.Equal(got, []EventType{EventAdded, EventRetrying, EventCompleted}) {
		t.Errorf("events = %v", got)
	}
}

func TestProcessing_NoProcessorFailsPermanently(t *testing.T) {
	q := newTestQueue[int](t)
	ctx := context.Background()

	job, _ := q.Add(ctx, "unknown", 1, AddOptions{Attempts: 5})
	q.StartProcessing()

	got := waitForJob(t, q, job.ID, func(j *Job[int]) bool { return j.Status == StatusFailed })
	if got.Attempts != 0 {
		t.Errorf("attempts = %d, want 0", got.Attempts)
	}
	if got.FailedReason != "no processor for job type unknown" {
		t.Errorf("failed reason = %q", got.FailedReason)
	}
}

func TestProcessing_Timeout(t *testing.T) {
	q := newTestQueue[int](t)
	ctx := context.Background()

	q.Process("slow", func(ctx context.Context, _ *Job[int]) (any, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	job, _ := q.Add(ctx, "slow", 1, AddOptions{Attempts: 1, Timeout: 20 * time.Millisecond})
	q.StartProcessing()

	got := waitForJob(t, q, job.ID, func(j *Job[int]) bool { return j.Status == StatusFailed })
	if !strings.Contains(got.FailedReason, "job timed out") {
		t.Errorf("failed reason = %q", got.FailedReason)
	}
}

func TestProcessing_PanicIsFailure(t *testing.T) {
	q := newTestQueue[int](t)
	ctx := context.Background()

	q.Process("boom", func(context.Context, *Job[int]) (any, error) {
		panic("nil map")
	})
	job, _ := q.Add(ctx, "boom", 1, AddOptions{Attempts: 1})
	q.StartProcessing()

	got := waitForJob(t, q, job.ID, func(j *Job[int]) bool { return j.Status == StatusFailed })
	if got.FailedReason != "panic: nil map" {
		t.Errorf("failed reason = %q", got.FailedReason)
	}
}

func TestProcessing_RemoveOnComplete(t *testing.T) {
	q := newTestQueue[int](t)
	ctx := context.Background()

	var done atomic.Bool
	q.Process("work", func(context.Context, *Job[int]) (any, error) {
		done.Store(true)
		return nil, nil
	})
	job, _ := q.Add(ctx, "work", 1, AddOptions{RemoveOnComplete: true})
	q.StartProcessing()

	waitFor(t, "job removal", func() bool {
		_, err := q.GetJob(ctx, job.ID)
		return done.Load() && errors.Is(err, ErrJobNotFound)
	})
	waitFor(t, "empty indexes", func() bool {
		st, _ := q.GetStats(ctx)
		return st == Stats{}
	})
}

func TestProcessing_ProgressKeptAcrossHandler(t *testing.T) {
	q := newTestQueue[int](t)
	ctx := context.Background()

	release := make(chan struct{})
	q.Process("work", func(ctx context.Context, job *Job[int]) (any, error) {
		if err := q.UpdateProgress(ctx, job.ID, 40); err != nil {
			return nil, err
		}
		<-release
		return nil, errors.New("later")
	})
	job, _ := q.Add(ctx, "work", 1, AddOptions{Attempts: 2, Backoff: &Backoff{Type: BackoffFixed, Delay: time.Hour}})
	q.StartProcessing()

	waitForJob(t, q, job.ID, func(j *Job[int]) bool { return j.Progress == 40 })
	close(release)

	got := waitForJob(t, q, job.ID, func(j *Job[int]) bool { return j.Status == StatusDelayed })
	if got.Progress != 40 || got.Attempts != 1 {
		t.Errorf("unexpected job after retry scheduling %+v", got)
	}
}

func TestUpdateProgress_Clamps(t *testing.T) {
	q := newTestQueue[int](t)
	ctx := context.Background()
	job, _ := q.Add(ctx, "work", 1, AddOptions{})

	for in, want := range map[int]int{150: 100, -3: 0, 55: 55} {
		if err := q.UpdateProgress(ctx, job.ID, in); err != nil {
			t.Fatal(err)
		}
		got, _ := q.GetJob(ctx, job.ID)
		if got.Progress != want {
			t.Errorf("UpdateProgress(%d) stored %d, want %d", in, got.Progress, want)
		}
	}
	if err := q.UpdateProgress(ctx, "missing", 10); !errors.Is(err, ErrJobNotFound) {
		t.Errorf("expected ErrJobNotFound, got %v", err)
	}
}

func TestRemoveJob_Idempotent(t *testing.T) {
	q := newTestQueue[int](t)
	ctx := context.Background()
	job, _ := q.Add(ctx, "work", 1, AddOptions{})

	for range 2 {
		if err := q.RemoveJob(ctx, job.ID); err != nil {
			t.Fatalf("RemoveJob: %v", err)
		}
	}
	if _, err := q.GetJob(ctx, job.ID); !errors.Is(err, ErrJobNotFound) {
		t.Errorf("expected ErrJobNotFound, got %v", err)
	}
	if st, _ := q.GetStats(ctx); st.Waiting != 0 {
		t.Errorf("waiting = %d after removal", st.Waiting)
	}
}

func TestClean(t *testing.T) {
	clock := newFakeClock()
	q := newTestQueue[int](t, WithClock(clock.Now))
	ctx := context.Background()

	q.Process("work", func(_ context.Context, job *Job[int]) (any, error) {
		if job.Data < 0 {
			return nil, errors.New("negative")
		}
		return nil, nil
	})
	for _, d := range []int{1, 2, -1} {
		_, _ = q.Add(ctx, "work", d, AddOptions{Attempts: 1})
	}
	q.StartProcessing()
	waitFor(t, "all jobs finished", func() bool {
		st, _ := q.GetStats(ctx)
		return st.Completed == 2 && st.Failed == 1
	})

	if n, err := q.Clean(ctx, StatusCompleted, time.Hour); err != nil || n != 0 {
		t.Fatalf("Clean before grace = %d, %v", n, err)
	}
	clock.Advance(2 * time.Hour)
	if n, err := q.Clean(ctx, StatusCompleted, time.Hour); err != nil || n != 2 {
		t.Fatalf("Clean completed = %d, %v", n, err)
	}
	st, _ := q.GetStats(ctx)
	if st.Completed != 0 || st.Failed != 1 {
		t.Errorf("unexpected stats after clean %+v", st)
	}
	if _, err := q.Clean(ctx, StatusWaiting, 0); err == nil {
		t.Error("cleaning waiting jobs must be rejected")
	}
}

func TestEmpty_KeepsPauseFlag(t *testing.T) {
	q := newTestQueue[int](t)
	ctx := context.Background()

	ids := make([]string, 0, 3)
	for i := range 3 {
		job, _ := q.Add(ctx, "work", i, AddOptions{Delay: time.Duration(i) * time.Minute})
		ids = append(ids, job.ID)
	}
	_ = q.Pause(ctx)

	if err := q.Empty(ctx); err != nil {
		t.Fatal(err)
	}
	if st, _ := q.GetStats(ctx); st != (Stats{}) {
		t.Errorf("stats after Empty = %+v", st)
	}
	for _, id := range ids {
		if _, err := q.GetJob(ctx, id); !errors.Is(err, ErrJobNotFound) {
			t.Errorf("job %s survived Empty", id)
		}
	}
	if paused, _ := q.IsPaused(ctx); !paused {
		t.Error("Empty must keep the paused flag")
	}
}

func TestPause_AdvisoryByDefault(t *testing.T) {
	q := newTestQueue[int](t)
	ctx := context.Background()
	q.Process("work", func(context.Context, *Job[int]) (any, error) { return nil, nil })

	if err := q.Pause(ctx); err != nil {
		t.Fatal(err)
	}
	if paused, _ := q.IsPaused(ctx); !paused {
		t.Fatal("expected paused flag")
	}
	job, _ := q.Add(ctx, "work", 1, AddOptions{})
	q.StartProcessing()
	waitForJob(t, q, job.ID, func(j *Job[int]) bool { return j.Status == StatusCompleted })

	_ = q.Resume(ctx)
	if paused, _ := q.IsPaused(ctx); paused {
		t.Error("expected flag cleared")
	}
}

func TestPause_RespectedWhenConfigured(t *testing.T) {
	cfg := fastConfig()
	cfg.RespectPause = true
	q := newTestQueue[int](t, WithConfig(cfg))
	ctx := context.Background()
	q.Process("work", func(context.Context, *Job[int]) (any, error) { return nil, nil })

	_ = q.Pause(ctx)
	job, _ := q.Add(ctx, "work", 1, AddOptions{})
	q.StartProcessing()

	time.Sleep(30 * time.Millisecond)
	if got, _ := q.GetJob(ctx, job.ID); got.Status != StatusWaiting {
		t.Fatalf("paused queue processed job: %s", got.Status)
	}

	_ = q.Resume(ctx)
	waitForJob(t, q, job.ID, func(j *Job[int]) bool { return j.Status == StatusCompleted })
}

func TestAddBulk(t *testing.T) {
	q := newTestQueue[int](t)
	ctx := context.Background()

	res := q.AddBulk(ctx, []BulkJob[int]{
		{Name: "work", Data: 1},
		{Name: "work", Data: 2, Options: AddOptions{Priority: "bogus"}},
		{Name: "work", Data: 3, Options: AddOptions{Priority: PriorityHigh}},
	})
	if len(res) != 3 {
		t.Fatalf("got %d results", len(res))
	}
	if res[0].Err != nil || res[2].Err != nil || res[1].Err == nil {
		t.Errorf("unexpected errors %v / %v / %v", res[0].Err, res[1].Err, res[2].Err)
	}
	if st, _ := q.GetStats(ctx); st.Waiting != 2 {
		t.Errorf("waiting = %d, want 2", st.Waiting)
	}
}

func TestGetJobs(t *testing.T) {
	clock := newFakeClock()
	q := newTestQueue[int](t, WithClock(clock.Now))
	ctx := context.Background()

	for i := range 4 {
		clock.Advance(time.Millisecond)
		_, _ = q.Add(ctx, "work", i, AddOptions{})
	}
	_, _ = q.Add(ctx, "work", 99, AddOptions{Delay: time.Minute})

	waiting, err := q.GetJobs(ctx, []Status{StatusWaiting}, 1, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(waiting) != 2 || waiting[0].Data != 1 || waiting[1].Data != 2 {
		t.Errorf("waiting range = %+v", waiting)
	}

	all, _ := q.GetJobs(ctx, nil, 0, -1)
	if len(all) != 5 || all[4].Data != 99 {
		t.Errorf("all jobs = %d, last = %+v", len(all), all[len(all)-1])
	}

	if _, err := q.GetJobs(ctx, []Status{"stuck"}, 0, -1); err == nil {
		t.Error("unknown status must be rejected")
	}
}

func TestDrain_WaitsForHandlers(t *testing.T) {
	q := newTestQueue[int](t)
	ctx := context.Background()

	started := make(chan struct{})
	var finished atomic.Bool
	q.Process("work", func(context.Context, *Job[int]) (any, error) {
		close(started)
		time.Sleep(30 * time.Millisecond)
		finished.Store(true)
		return nil, nil
	})
	_, _ = q.Add(ctx, "work", 1, AddOptions{})
	q.StartProcessing()
	<-started

	if err := q.Drain(ctx); err != nil {
		t.Fatalf("Drain: %v", err)
	}
	if !finished.Load() || q.IsRunning() || q.ActiveCount() != 0 {
		t.Error("Drain returned before the handler finished")
	}
}

func TestRetry_ReentersAtNormalPriority(t *testing.T) {
	clock := newFakeClock()
	q := newTestQueue[string](t, WithClock(clock.Now))
	ctx := context.Background()

	q.Process("send", func(context.Context, *Job[string]) (any, error) {
		return nil, errors.New("relay busy")
	})
	urgent, _ := q.Add(ctx, "send", "urgent", AddOptions{
		Priority: PriorityCritical,
		Attempts: 2,
		Backoff:  &Backoff{Type: BackoffFixed},
	})

	id, ok, err := q.store.ZPopMin(ctx, q.keys.index(StatusWaiting))
	if err != nil || !ok || id != urgent.ID {
		t.Fatalf("pop = %q, %v, %v", id, ok, err)
	}
	q.execute(id)
	if got, _ := q.GetJob(ctx, urgent.ID); got.Status != StatusDelayed || got.Attempts != 1 {
		t.Fatalf("after first failure: %+v", got)
	}

	high, _ := q.Add(ctx, "send", "high", AddOptions{Priority: PriorityHigh})
	if n, _ := q.PromoteDue(ctx); n != 1 {
		t.Fatalf("promoted %d, want 1", n)
	}

	waiting, err := q.store.ZRange(ctx, q.keys.index(StatusWaiting), 0, -1)
	if err != nil {
		t.Fatal(err)
	}
	if !slices.Equal(waiting, []string{high.ID, urgent.ID}) {
		t.Errorf("waiting order = %v, want high job before the retried critical job", waiting)
	}
	due, _ := q.store.ZRangeByScore(ctx, q.keys.index(StatusWaiting),
		waitingScore(PriorityNormal, clock.Now().UnixMilli()), waitingScore(PriorityNormal, clock.Now().UnixMilli()))
	if !slices.Equal(due, []string{urgent.ID}) {
		t.Errorf("retried job score is not the normal-priority score: %v", due)
	}
	if got, _ := q.GetJob(ctx, urgent.ID); got.Options.Priority != PriorityCritical {
		t.Errorf("job record priority = %q, want the original", got.Options.Priority)
	}
}
