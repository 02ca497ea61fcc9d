package jobs

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"
)

func newTestRecurring(t *testing.T) *Recurring {
	t.Helper()
	r := NewRecurring(NewQueue(Config{}, zap.NewNop()), zap.NewNop())
	t.Cleanup(r.Stop)
	return r
}

func noopJob(ctx context.Context) error { return nil }

func TestRecurringRegistry(t *testing.T) {
	r := newTestRecurring(t)

	if r.Contains("hourly") {
		t.Fatal("empty registry must not contain keys")
	}

	if err := r.AddOrUpdate("hourly", "@hourly", noopJob); err != nil {
		t.Fatalf("AddOrUpdate() error: %v", err)
	}

	if !r.Contains("hourly") {
		t.Error("registered key not found")
	}

	expr, ok := r.Expr("hourly")
	if !ok || expr != "@hourly" {
		t.Errorf("Expr() = %q, %v", expr, ok)
	}

	r.Remove("hourly")
	if r.Contains("hourly") {
		t.Error("removed key still present")
	}

	r.Remove("hourly") // unknown key, no-op
}

func TestRecurringAddOrUpdateReplaces(t *testing.T) {
	r := newTestRecurring(t)

	if err := r.AddOrUpdate("tick", "@hourly", noopJob); err != nil {
		t.Fatalf("AddOrUpdate() error: %v", err)
	}
	if err := r.AddOrUpdate("tick", "@daily", noopJob); err != nil {
		t.Fatalf("AddOrUpdate() error: %v", err)
	}

	if got := len(r.Keys()); got != 1 {
		t.Errorf("expected 1 key after replace, got %d", got)
	}

	expr, _ := r.Expr("tick")
	if expr != "@daily" {
		t.Errorf("expected replaced expression, got %q", expr)
	}
}

func TestRecurringInvalidExpressionFallsBack(t *testing.T) {
	r := newTestRecurring(t)

	// Registration must not fail; the trigger falls back to hourly.
	if err := r.AddOrUpdate("broken", "not a cron expr", noopJob); err != nil {
		t.Fatalf("AddOrUpdate() must not fail on a bad expression: %v", err)
	}

	if !r.Contains("broken") {
		t.Error("fallback trigger not registered")
	}
}

func TestRecurringKeysSorted(t *testing.T) {
	r := newTestRecurring(t)

	for _, key := range []string{"c", "a", "b"} {
		if err := r.AddOrUpdate(key, "@hourly", noopJob); err != nil {
			t.Fatalf("AddOrUpdate(%s) error: %v", key, err)
		}
	}

	keys := r.Keys()
	want := []string{"a", "b", "c"}
	for i := range want {
		if keys[i] != want[i] {
			t.Fatalf("Keys() = %v, want %v", keys, want)
		}
	}
}

func TestNextFire(t *testing.T) {
	r := newTestRecurring(t)

	after := time.Date(2026, 3, 15, 12, 30, 0, 0, time.UTC)

	next := r.NextFire("@hourly", after)
	want := time.Date(2026, 3, 15, 13, 0, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Errorf("NextFire(@hourly) = %v, want %v", next, want)
	}

	// Bad expressions yield a one-hour fallback instead of an error.
	next = r.NextFire("garbage", after)
	if !next.Equal(after.Add(time.Hour)) {
		t.Errorf("NextFire(garbage) = %v, want %v", next, after.Add(time.Hour))
	}
}

func TestRecurringFires(t *testing.T) {
	queue := NewQueue(Config{Workers: 1}, zap.NewNop())
	r := NewRecurring(queue, zap.NewNop())
	t.Cleanup(r.Stop)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	queue.Start(ctx)

	fired := make(chan struct{}, 10)
	if err := r.AddOrUpdate("fast", "@every 50ms", func(ctx context.Context) error {
		select {
		case fired <- struct{}{}:
		default:
		}
		return nil
	}); err != nil {
		t.Fatalf("AddOrUpdate() error: %v", err)
	}

	select {
	case <-fired:
	case <-time.After(5 * time.Second):
		t.Fatal("trigger never fired")
	}

	// Removal cancels future fires.
	r.Remove("fast")
	if r.Contains("fast") {
		t.Error("removed trigger still registered")
	}
}
