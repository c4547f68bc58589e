package archibald

import (
	"context"
	"sync"
	"testing"
	"time"
)

type memoryStatsStore struct {
	mu    sync.Mutex
	saved map[string]OperationStats
}

func newMemoryStatsStore() *memoryStatsStore {
	return &memoryStatsStore{saved: make(map[string]OperationStats)}
}

func (s *memoryStatsStore) Load(context.Context) ([]OperationStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]OperationStats, 0, len(s.saved))
	for _, stats := range s.saved {
		out = append(out, stats)
	}
	return out, nil
}

func (s *memoryStatsStore) Save(_ context.Context, stats OperationStats) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saved[stats.Operation] = stats
	return nil
}

func learnerConfig() TimeoutConfig {
	return TimeoutConfig{
		MinTimeout:         100 * time.Millisecond,
		MaxTimeout:         5 * time.Second,
		InitialTimeout:     time.Second,
		Step:               50 * time.Millisecond,
		AdjustmentInterval: 3,
		SuccessThreshold:   0.9,
		FailureThreshold:   0.3,
	}
}

func TestTimeoutShrinksOnReliableSuccess(t *testing.T) {
	ctx := context.Background()
	learner, err := NewTimeoutLearner(ctx, learnerConfig(), nil)
	if err != nil {
		t.Fatalf("NewTimeoutLearner error: %v", err)
	}

	learner.RecordSuccess(ctx, "fetch_customers", 100*time.Millisecond)
	learner.RecordSuccess(ctx, "fetch_customers", 120*time.Millisecond)
	learner.RecordSuccess(ctx, "fetch_customers", 110*time.Millisecond)

	// avg=110ms, so max(110*1.5, 1000-50) = 950ms.
	if got := learner.GetTimeout("fetch_customers"); got != 950*time.Millisecond {
		t.Fatalf("want 950ms, got %s", got)
	}
}

func TestTimeoutGrowsOnFailures(t *testing.T) {
	ctx := context.Background()
	learner, err := NewTimeoutLearner(ctx, learnerConfig(), nil)
	if err != nil {
		t.Fatalf("NewTimeoutLearner error: %v", err)
	}

	for i := 0; i < 3; i++ {
		learner.RecordFailure(ctx, "fetch_orders")
	}
	if got := learner.GetTimeout("fetch_orders"); got != 1050*time.Millisecond {
		t.Fatalf("want 1050ms after growth step, got %s", got)
	}
}

func TestTimeoutHoldsInMixedWindow(t *testing.T) {
	ctx := context.Background()
	cfg := learnerConfig()
	cfg.AdjustmentInterval = 4
	learner, err := NewTimeoutLearner(ctx, cfg, nil)
	if err != nil {
		t.Fatalf("NewTimeoutLearner error: %v", err)
	}

	// 75% success rate: above 1-failureThreshold, below successThreshold.
	learner.RecordSuccess(ctx, "fetch_prices", 200*time.Millisecond)
	learner.RecordSuccess(ctx, "fetch_prices", 200*time.Millisecond)
	learner.RecordSuccess(ctx, "fetch_prices", 200*time.Millisecond)
	learner.RecordFailure(ctx, "fetch_prices")
	if got := learner.GetTimeout("fetch_prices"); got != time.Second {
		t.Fatalf("mixed window must hold steady, got %s", got)
	}
}

func TestTimeoutFloorAndCap(t *testing.T) {
	ctx := context.Background()
	cfg := learnerConfig()
	cfg.InitialTimeout = 120 * time.Millisecond
	learner, err := NewTimeoutLearner(ctx, cfg, nil)
	if err != nil {
		t.Fatalf("NewTimeoutLearner error: %v", err)
	}

	for i := 0; i < 3; i++ {
		learner.RecordSuccess(ctx, "op", 10*time.Millisecond)
	}
	if got := learner.GetTimeout("op"); got != cfg.MinTimeout {
		t.Fatalf("want floor %s, got %s", cfg.MinTimeout, got)
	}

	cfg2 := learnerConfig()
	cfg2.InitialTimeout = cfg2.MaxTimeout - 10*time.Millisecond
	learner2, err := NewTimeoutLearner(ctx, cfg2, nil)
	if err != nil {
		t.Fatalf("NewTimeoutLearner error: %v", err)
	}
	for i := 0; i < 3; i++ {
		learner2.RecordFailure(ctx, "op")
	}
	if got := learner2.GetTimeout("op"); got != cfg2.MaxTimeout {
		t.Fatalf("want cap %s, got %s", cfg2.MaxTimeout, got)
	}
}

func TestTimeoutPersistedAcrossRestart(t *testing.T) {
	ctx := context.Background()
	store := newMemoryStatsStore()
	learner, err := NewTimeoutLearner(ctx, learnerConfig(), store)
	if err != nil {
		t.Fatalf("NewTimeoutLearner error: %v", err)
	}
	learner.RecordSuccess(ctx, "fetch_customers", 100*time.Millisecond)
	learner.RecordSuccess(ctx, "fetch_customers", 120*time.Millisecond)
	learner.RecordSuccess(ctx, "fetch_customers", 110*time.Millisecond)

	restarted, err := NewTimeoutLearner(ctx, learnerConfig(), store)
	if err != nil {
		t.Fatalf("NewTimeoutLearner error: %v", err)
	}
	if got := restarted.GetTimeout("fetch_customers"); got != 950*time.Millisecond {
		t.Fatalf("learned timeout lost across restart, got %s", got)
	}
}

func TestResetStatsKeepsLearnedTimeout(t *testing.T) {
	ctx := context.Background()
	learner, err := NewTimeoutLearner(ctx, learnerConfig(), nil)
	if err != nil {
		t.Fatalf("NewTimeoutLearner error: %v", err)
	}
	learner.RecordSuccess(ctx, "op", 100*time.Millisecond)
	learner.RecordSuccess(ctx, "op", 120*time.Millisecond)
	learner.RecordSuccess(ctx, "op", 110*time.Millisecond)

	learner.ResetStats(ctx, "op")
	if got := learner.GetTimeout("op"); got != 950*time.Millisecond {
		t.Fatalf("reset must keep the learned timeout, got %s", got)
	}
	for _, stats := range learner.Stats() {
		if stats.Operation == "op" && (stats.SuccessCount != 0 || stats.TotalTime != 0) {
			t.Fatalf("reset must clear counters, got %+v", stats)
		}
	}
}
