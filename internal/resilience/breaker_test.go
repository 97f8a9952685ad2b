package resilience

import (
	"errors"
	"testing"
	"time"
)

var errBoom = errors.New("boom")

func failing() error { return errBoom }
func succeeding() error { return nil }

func TestBreakerOpensAfterMaxFailures(t *testing.T) {
	b := NewBreaker(3, time.Minute)

	for i := 0; i < 3; i++ {
		if err := b.Execute(failing); !errors.Is(err, errBoom) {
			t.Fatalf("call %d: err = %v", i, err)
		}
	}
	if err := b.Execute(succeeding); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("open breaker let a call through: %v", err)
	}
}

func TestBreakerSuccessResetsFailureCount(t *testing.T) {
	b := NewBreaker(3, time.Minute)

	_ = b.Execute(failing)
	_ = b.Execute(failing)
	if err := b.Execute(succeeding); err != nil {
		t.Fatalf("success: %v", err)
	}
	_ = b.Execute(failing)
	_ = b.Execute(failing)
	if err := b.Execute(succeeding); errors.Is(err, ErrCircuitOpen) {
		t.Error("breaker opened despite interleaved success")
	}
}

func TestBreakerHalfOpenAfterTimeout(t *testing.T) {
	b := NewBreaker(1, time.Minute)
	current := time.Now()
	b.now = func() time.Time { return current }

	_ = b.Execute(failing)
	if err := b.Execute(succeeding); !errors.Is(err, ErrCircuitOpen) {
		t.Fatal("breaker not open after threshold")
	}

	current = current.Add(2 * time.Minute)
	if err := b.Execute(succeeding); err != nil {
		t.Fatalf("half-open probe rejected: %v", err)
	}
	// Probe succeeded, circuit closed again.
	if err := b.Execute(succeeding); err != nil {
		t.Fatalf("closed breaker rejected call: %v", err)
	}
}

func TestBreakerNotifiesStateTransitions(t *testing.T) {
	b := NewBreaker(1, time.Minute)
	current := time.Now()
	b.now = func() time.Time { return current }

	var got []string
	b.OnStateChange(func(from, to string) {
		got = append(got, from+"->"+to)
	})

	_ = b.Execute(failing)
	current = current.Add(2 * time.Minute)
	_ = b.Execute(succeeding)

	want := []string{"closed->open", "open->half-open", "half-open->closed"}
	if len(got) != len(want) {
		t.Fatalf("transitions = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("transition %d = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	b := NewBreaker(1, time.Minute)
	current := time.Now()
	b.now = func() time.Time { return current }

	_ = b.Execute(failing)
	current = current.Add(2 * time.Minute)
	if err := b.Execute(failing); !errors.Is(err, errBoom) {
		t.Fatalf("half-open probe err = %v", err)
	}
	if err := b.Execute(succeeding); !errors.Is(err, ErrCircuitOpen) {
		t.Error("failed probe did not reopen the circuit")
	}
}
