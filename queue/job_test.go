package queue

import (
	"errors"
	"testing"
	"time"
)

func TestJobTransitions(t *testing.T) {
	tests := []struct {
		from, to Status
		ok       bool
	}{
		{"", StatusWaiting, true},
		{"", StatusDelayed, true},
		{"", StatusActive, false},
		{StatusWaiting, StatusActive, true},
		{StatusWaiting, StatusFailed, true},
		{StatusWaiting, StatusCompleted, false},
		{StatusActive, StatusCompleted, true},
		{StatusActive, StatusDelayed, true},
		{StatusActive, StatusFailed, true},
		{StatusActive, StatusWaiting, false},
		{StatusDelayed, StatusWaiting, true},
		{StatusDelayed, StatusActive, false},
		{StatusCompleted, StatusWaiting, false},
		{StatusFailed, StatusWaiting, false},
	}
	for _, tc := range tests {
		t.Run(string(tc.from)+"->"+string(tc.to), func(t *testing.T) {
			j := &Job[int]{ID: "j1", Status: tc.from}
			err := j.transition(tc.to)
			if tc.ok {
				if err != nil || j.Status != tc.to {
					t.Fatalf("expected transition, got %v (status %s)", err, j.Status)
				}
				return
			}
			var te *TransitionError
			if !errors.As(err, &te) {
				t.Fatalf("expected TransitionError, got %v", err)
			}
			if j.Status != tc.from {
				t.Errorf("status changed on illegal transition: %s", j.Status)
			}
		})
	}
}

func TestBackoffAfter(t *testing.T) {
	exp := Backoff{Type: BackoffExponential, Delay: time.Second}
	fixed := Backoff{Type: BackoffFixed, Delay: 500 * time.Millisecond}

	for attempts, want := range map[int]time.Duration{1: time.Second, 2: 2 * time.Second, 3: 4 * time.Second, 4: 8 * time.Second} {
		if got := exp.After(attempts); got != want {
			t.Errorf("exponential After(%d) = %s, want %s", attempts, got, want)
		}
	}
	for _, attempts := range []int{1, 2, 5} {
		if got := fixed.After(attempts); got != 500*time.Millisecond {
			t.Errorf("fixed After(%d) = %s", attempts, got)
		}
	}
	if got := (Backoff{Type: BackoffExponential, Delay: time.Hour}).After(200); got <= 0 {
		t.Errorf("overflow must saturate, got %s", got)
	}
}

func TestPriorityRank(t *testing.T) {
	if !(PriorityCritical.Rank() < PriorityHigh.Rank() &&
		PriorityHigh.Rank() < PriorityNormal.Rank() &&
		PriorityNormal.Rank() < PriorityLow.Rank()) {
		t.Error("ranks out of order")
	}
	if Priority("urgent").Valid() {
		t.Error("unknown priority should be invalid")
	}
	if !Priority("").Valid() {
		t.Error("empty priority means normal")
	}
}

func TestWaitingScoreOrdersByPriorityThenTime(t *testing.T) {
	lowEarly := waitingScore(PriorityLow, 1_000)
	criticalLate := waitingScore(PriorityCritical, 1_900_000_000_000)
	if criticalLate >= lowEarly {
		t.Error("priority must dominate enqueue time")
	}
	if waitingScore(PriorityNormal, 1) >= waitingScore(PriorityNormal, 2) {
		t.Error("equal priority must order by enqueue time")
	}
}

func TestClampProgress(t *testing.T) {
	for in, want := range map[int]int{-5: 0, 0: 0, 42: 42, 100: 100, 150: 100} {
		if got := clampProgress(in); got != want {
			t.Errorf("clampProgress(%d) = %d, want %d", in, got, want)
		}
	}
}
