package archibald

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// OperationStats tracks latency and outcome counters for one named
// operation plus the timeout learned from them. Persisted so learned values
// survive restarts.
type OperationStats struct {
	Operation      string
	SuccessCount   int64
	FailureCount   int64
	TotalTime      time.Duration
	MinTime        time.Duration
	MaxTime        time.Duration
	AvgTime        time.Duration
	CurrentTimeout time.Duration
	LastAdjustment time.Time
}

// StatsStore persists operation stats across restarts.
type StatsStore interface {
	Load(ctx context.Context) ([]OperationStats, error)
	Save(ctx context.Context, stats OperationStats) error
}

// TimeoutConfig bounds the learner. The fixed step keeps adjustments from
// oscillating.
type TimeoutConfig struct {
	MinTimeout         time.Duration
	MaxTimeout         time.Duration
	InitialTimeout     time.Duration
	Step               time.Duration
	AdjustmentInterval int
	SuccessThreshold   float64
	FailureThreshold   float64
}

func normalizeTimeoutConfig(cfg TimeoutConfig) TimeoutConfig {
	if cfg.MinTimeout <= 0 {
		cfg.MinTimeout = 2 * time.Second
	}
	if cfg.MaxTimeout <= 0 {
		cfg.MaxTimeout = 60 * time.Second
	}
	if cfg.InitialTimeout <= 0 {
		cfg.InitialTimeout = 10 * time.Second
	}
	if cfg.Step <= 0 {
		cfg.Step = time.Second
	}
	if cfg.AdjustmentInterval <= 0 {
		cfg.AdjustmentInterval = 10
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = 0.9
	}
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 0.3
	}
	return cfg
}

type opState struct {
	stats         OperationStats
	windowSuccess int
	windowFailure int
}

// TimeoutLearner converges a per-operation wait budget from observed
// latency and success statistics instead of a hand-tuned constant.
type TimeoutLearner struct {
	cfg   TimeoutConfig
	store StatsStore
	clock func() time.Time

	mu  sync.Mutex
	ops map[string]*opState
}

// NewTimeoutLearner seeds the learner from previously persisted stats.
// store may be nil for a purely in-memory learner (tests).
func NewTimeoutLearner(ctx context.Context, cfg TimeoutConfig, store StatsStore) (*TimeoutLearner, error) {
	cfg = normalizeTimeoutConfig(cfg)
	learner := &TimeoutLearner{
		cfg:   cfg,
		store: store,
		clock: time.Now,
		ops:   make(map[string]*opState),
	}
	if store != nil {
		persisted, err := store.Load(ctx)
		if err != nil {
			return nil, errors.Wrap(err, "load persisted operation stats failed")
		}
		for _, stats := range persisted {
			if stats.CurrentTimeout <= 0 {
				stats.CurrentTimeout = cfg.InitialTimeout
			}
			learner.ops[stats.Operation] = &opState{stats: stats}
		}
	}
	return learner, nil
}

// GetTimeout returns the learned wait budget for op, or the configured
// initial timeout when op has never been observed.
func (l *TimeoutLearner) GetTimeout(op string) time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	if state, ok := l.ops[op]; ok {
		return state.stats.CurrentTimeout
	}
	return l.cfg.InitialTimeout
}

// RecordSuccess feeds one successful observation into the learner.
func (l *TimeoutLearner) RecordSuccess(ctx context.Context, op string, elapsed time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	state := l.ensureOp(op)
	state.stats.SuccessCount++
	state.stats.TotalTime += elapsed
	if state.stats.MinTime == 0 || elapsed < state.stats.MinTime {
		state.stats.MinTime = elapsed
	}
	if elapsed > state.stats.MaxTime {
		state.stats.MaxTime = elapsed
	}
	state.stats.AvgTime = state.stats.TotalTime / time.Duration(state.stats.SuccessCount)
	state.windowSuccess++
	l.maybeAdjust(ctx, op, state)
}

// RecordFailure feeds one failed observation into the learner.
func (l *TimeoutLearner) RecordFailure(ctx context.Context, op string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	state := l.ensureOp(op)
	state.stats.FailureCount++
	state.windowFailure++
	l.maybeAdjust(ctx, op, state)
}

// ResetStats clears counters for op but keeps the learned timeout.
func (l *TimeoutLearner) ResetStats(ctx context.Context, op string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	state, ok := l.ops[op]
	if !ok {
		return
	}
	timeout := state.stats.CurrentTimeout
	state.stats = OperationStats{Operation: op, CurrentTimeout: timeout}
	state.windowSuccess = 0
	state.windowFailure = 0
	l.persist(ctx, state.stats)
}

// Stats returns a snapshot of every tracked operation.
func (l *TimeoutLearner) Stats() []OperationStats {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]OperationStats, 0, len(l.ops))
	for _, state := range l.ops {
		out = append(out, state.stats)
	}
	return out
}

func (l *TimeoutLearner) ensureOp(op string) *opState {
	state, ok := l.ops[op]
	if !ok {
		state = &opState{stats: OperationStats{
			Operation:      op,
			CurrentTimeout: l.cfg.InitialTimeout,
		}}
		l.ops[op] = state
	}
	return state
}

// maybeAdjust recomputes the timeout once the observation window fills.
// Reliably fast operations shrink toward 1.5x their average latency;
// unreliable ones grow by the fixed step.
func (l *TimeoutLearner) maybeAdjust(ctx context.Context, op string, state *opState) {
	observations := state.windowSuccess + state.windowFailure
	if observations < l.cfg.AdjustmentInterval {
		return
	}
	successRate := float64(state.windowSuccess) / float64(observations)
	avg := state.stats.AvgTime
	current := state.stats.CurrentTimeout
	next := current

	switch {
	case successRate >= l.cfg.SuccessThreshold && avg > 0:
		next = avg + avg/2
		if shrunk := current - l.cfg.Step; shrunk > next {
			next = shrunk
		}
		if next < l.cfg.MinTimeout {
			next = l.cfg.MinTimeout
		}
	case successRate <= 1-l.cfg.FailureThreshold:
		next = current + l.cfg.Step
		if next > l.cfg.MaxTimeout {
			next = l.cfg.MaxTimeout
		}
	}

	state.windowSuccess = 0
	state.windowFailure = 0
	if next == current {
		return
	}
	state.stats.CurrentTimeout = next
	state.stats.LastAdjustment = l.clock()
	log.Debug().
		Str("op", op).
		Float64("success_rate", successRate).
		Dur("avg", avg).
		Dur("timeout", next).
		Msg("adjusted operation timeout")
	l.persist(ctx, state.stats)
}

func (l *TimeoutLearner) persist(ctx context.Context, stats OperationStats) {
	if l.store == nil {
		return
	}
	if err := l.store.Save(ctx, stats); err != nil {
		log.Error().Err(err).Str("op", stats.Operation).Msg("persist operation stats failed")
	}
}
