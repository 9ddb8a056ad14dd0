package resilience

import (
	"context"
	"sync"
	"testing"
)

func TestBreakerRegistry_GetIsShared(t *testing.T) {
	r := NewBreakerRegistry(DefaultCircuitBreakerConfig(""))
	a := r.Get("smtp", CircuitBreakerConfig{FailureThreshold: 2})
	b := r.Get("smtp", CircuitBreakerConfig{FailureThreshold: 9})
	if a != b {
		t.Fatal("expected one breaker per name")
	}
	if a.config.FailureThreshold != 2 {
		t.Errorf("first config should win, got %d", a.config.FailureThreshold)
	}
	if a.Name() != "smtp" {
		t.Errorf("breaker should take the registry name, got %q", a.Name())
	}
}

func TestBreakerRegistry_ConcurrentGet(t *testing.T) {
	r := NewBreakerRegistry(DefaultCircuitBreakerConfig(""))
	var wg sync.WaitGroup
	got := make([]*CircuitBreaker, 20)
	for i := range got {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			got[i] = r.Get("dns")
		}(i)
	}
	wg.Wait()
	for _, cb := range got {
		if cb != got[0] {
			t.Fatal("concurrent Get created more than one breaker")
		}
	}
}

func TestBreakerRegistry_ResetAndStatuses(t *testing.T) {
	r := NewBreakerRegistry(CircuitBreakerConfig{FailureThreshold: 1})
	var mu sync.Mutex
	var transitions []string
	r.Observe(func(name string, from, to State) {
		mu.Lock()
		transitions = append(transitions, name+":"+to.String())
		mu.Unlock()
	})

	ctx := context.Background()
	_ = r.Get("smtp").Execute(ctx, fail)
	_ = r.Get("ai").Execute(ctx, fail)

	statuses := r.AllStatuses()
	if len(statuses) != 2 || statuses[0].Name != "ai" || statuses[1].Name != "smtp" {
		t.Fatalf("expected statuses sorted by name, got %+v", statuses)
	}
	for _, st := range statuses {
		if st.State != StateOpen {
			t.Errorf("%s should be open", st.Name)
		}
	}

	if !r.Reset("smtp") {
		t.Error("Reset should report a known breaker")
	}
	if r.Reset("missing") {
		t.Error("Reset should report false for unknown breakers")
	}
	if st, _ := r.Status("smtp"); st.State != StateClosed {
		t.Errorf("smtp should be closed after reset, got %s", st.State)
	}

	r.ResetAll()
	if st, _ := r.Status("ai"); st.State != StateClosed {
		t.Errorf("ai should be closed after ResetAll, got %s", st.State)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(transitions) != 4 {
		t.Errorf("expected 4 observed transitions, got %v", transitions)
	}
}

func TestBulkheadRegistry(t *testing.T) {
	r := NewBulkheadRegistry(BulkheadConfig{MaxConcurrent: 4})
	a := r.Get("mail")
	if a != r.Get("mail") {
		t.Fatal("expected one bulkhead per name")
	}
	r.Get("dns", BulkheadConfig{MaxConcurrent: 2})

	all := r.AllStats()
	if len(all) != 2 || all[0].Name != "dns" || all[0].MaxConcurrent != 2 || all[1].MaxConcurrent != 4 {
		t.Errorf("unexpected stats %+v", all)
	}
	if _, ok := r.Stats("none"); ok {
		t.Error("unknown bulkhead should not have stats")
	}
}
