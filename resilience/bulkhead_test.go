package resilience

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestBulkhead_TwoRunningOneQueuedOneRejected(t *testing.T) {
	b := NewBulkhead(BulkheadConfig{Name: "dns", MaxConcurrent: 2, MaxWaiting: 1})
	ctx := context.Background()

	release := make(chan struct{})
	blocker := func(context.Context) error {
		<-release
		return nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = b.Execute(ctx, blocker)
		}()
	}
	if !waitFor(func() bool { return b.Stats().Running == 2 }) {
		t.Fatalf("expected 2 running, got %+v", b.Stats())
	}

	queuedRan := make(chan struct{})
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = b.Execute(ctx, func(context.Context) error {
			close(queuedRan)
			return nil
		})
	}()
	if !waitFor(func() bool { return b.Stats().Waiting == 1 }) {
		t.Fatalf("expected 1 waiting, got %+v", b.Stats())
	}

	err := b.Execute(ctx, func(context.Context) error {
		t.Error("rejected call must not run")
		return nil
	})
	var full *BulkheadFullError
	if !errors.As(err, &full) || full.Name != "dns" {
		t.Fatalf("expected BulkheadFullError for dns, got %v", err)
	}
	if !errors.Is(err, ErrBulkheadFull) {
		t.Error("BulkheadFullError should match ErrBulkheadFull")
	}

	release <- struct{}{}
	select {
	case <-queuedRan:
	case <-time.After(2 * time.Second):
		t.Fatal("queued call was not admitted after a slot freed")
	}

	close(release)
	wg.Wait()

	st := b.Stats()
	if st.Running != 0 || st.Waiting != 0 || st.Available != 2 {
		t.Errorf("expected idle bulkhead, got %+v", st)
	}
}

func TestBulkhead_WaitersReleasedInArrivalOrder(t *testing.T) {
	b := NewBulkhead(BulkheadConfig{Name: "fifo", MaxConcurrent: 1, MaxWaiting: 3})
	ctx := context.Background()

	release := make(chan struct{})
	go func() {
		_ = b.Execute(ctx, func(context.Context) error {
			<-release
			return nil
		})
	}()
	if !waitFor(func() bool { return b.Stats().Running == 1 }) {
		t.Fatal("holder never started")
	}

	var mu sync.Mutex
	var order []int
	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			_ = b.Execute(ctx, func(context.Context) error {
				mu.Lock()
				order = append(order, id)
				mu.Unlock()
				return nil
			})
		}(i)
		want := i + 1
		if !waitFor(func() bool { return b.Stats().Waiting == want }) {
			t.Fatalf("waiter %d never queued", i)
		}
	}

	close(release)
	wg.Wait()

	for i, id := range order {
		if id != i {
			t.Fatalf("expected FIFO order [0 1 2], got %v", order)
		}
	}
}

func TestBulkhead_CancelledWaiterLeavesQueue(t *testing.T) {
	b := NewBulkhead(BulkheadConfig{Name: "cancel", MaxConcurrent: 1, MaxWaiting: 1})

	release := make(chan struct{})
	go func() {
		_ = b.Execute(context.Background(), func(context.Context) error {
			<-release
			return nil
		})
	}()
	if !waitFor(func() bool { return b.Stats().Running == 1 }) {
		t.Fatal("holder never started")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := b.Execute(ctx, func(context.Context) error { return nil })
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if st := b.Stats(); st.Waiting != 0 || st.Running != 1 {
		t.Errorf("cancelled waiter should leave the queue, got %+v", st)
	}

	close(release)
	if !waitFor(func() bool { return b.Stats().Running == 0 }) {
		t.Errorf("slot not returned, got %+v", b.Stats())
	}
}

func TestBulkhead_ReleasesOnError(t *testing.T) {
	var acquired, released, rejected int
	var mu sync.Mutex
	count := func(n *int) func(string) {
		return func(string) {
			mu.Lock()
			*n++
			mu.Unlock()
		}
	}
	b := NewBulkhead(BulkheadConfig{
		Name:          "err",
		MaxConcurrent: 1,
		MaxWaiting:    -1,
		OnAcquire:     count(&acquired),
		OnRelease:     count(&released),
		OnReject:      count(&rejected),
	})

	boom := errors.New("boom")
	if err := b.Execute(context.Background(), func(context.Context) error { return boom }); !errors.Is(err, boom) {
		t.Fatalf("expected fn error, got %v", err)
	}
	if b.Stats().Running != 0 {
		t.Error("slot should be released after a failing call")
	}

	mu.Lock()
	defer mu.Unlock()
	if acquired != 1 || released != 1 || rejected != 0 {
		t.Errorf("unexpected hook counts: acquire=%d release=%d reject=%d", acquired, released, rejected)
	}
}

func TestBulkhead_Defaults(t *testing.T) {
	st := NewBulkhead(BulkheadConfig{Name: "d"}).Stats()
	if st.MaxConcurrent != 10 || st.MaxWaiting != 100 || st.Available != 10 {
		t.Errorf("unexpected defaults %+v", st)
	}
}

func TestExecuteBulkhead_ReturnsValue(t *testing.T) {
	b := NewBulkhead(DefaultBulkheadConfig("v"))
	v, err := ExecuteBulkhead(context.Background(), b, func(context.Context) (int, error) { return 42, nil })
	if err != nil || v != 42 {
		t.Errorf("got %d, %v", v, err)
	}
}

func TestBulkhead_NoWaitingSurvivesRepeatedDefaults(t *testing.T) {
	cfg := BulkheadConfig{Name: "strict", MaxConcurrent: 1, MaxWaiting: NoWaiting}
	cfg.ApplyDefaults()
	cfg.ApplyDefaults()
	if cfg.MaxWaiting != NoWaiting {
		t.Fatalf("MaxWaiting = %d after defaults, want %d", cfg.MaxWaiting, NoWaiting)
	}

	b := NewBulkhead(cfg)
	if st := b.Stats(); st.MaxWaiting != 0 {
		t.Fatalf("Stats().MaxWaiting = %d, want 0", st.MaxWaiting)
	}

	ctx := context.Background()
	release := make(chan struct{})
	started := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- b.Execute(ctx, func(context.Context) error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	begin := time.Now()
	err := b.Execute(ctx, func(context.Context) error { return nil })
	if !errors.Is(err, ErrBulkheadFull) {
		t.Fatalf("expected ErrBulkheadFull, got %v", err)
	}
	if elapsed := time.Since(begin); elapsed > 100*time.Millisecond {
		t.Errorf("rejection took %v", elapsed)
	}
	close(release)
	if err := <-done; err != nil {
		t.Fatalf("holder: %v", err)
	}
}

func TestBulkheadConfig_ZeroWaitingSelectsDefault(t *testing.T) {
	cfg := BulkheadConfig{MaxWaiting: 0}
	cfg.ApplyDefaults()
	if cfg.MaxWaiting != 100 {
		t.Errorf("MaxWaiting = %d, want 100", cfg.MaxWaiting)
	}
}
