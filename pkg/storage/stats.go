package storage

import (
	"context"
	"time"

	"github.com/pkg/errors"

	archibald "github.com/H4tholdir/archibaldblackant-sub005"
)

// StatsStore is the sqlite-backed implementation of archibald.StatsStore so
// learned timeouts survive process restarts.
type StatsStore struct {
	db *DB
}

// NewStatsStore wraps the shared database.
func NewStatsStore(db *DB) (*StatsStore, error) {
	if db == nil || db.db == nil {
		return nil, errors.New("storage: database is nil")
	}
	return &StatsStore{db: db}, nil
}

// Load returns every persisted operation's stats.
func (s *StatsStore) Load(ctx context.Context) ([]archibald.OperationStats, error) {
	rows, err := s.db.db.QueryContext(ctx,
		`SELECT operation, success_count, failure_count, total_time_ns, min_time_ns,
			max_time_ns, avg_time_ns, current_timeout_ns, last_adjustment
		 FROM operation_stats`)
	if err != nil {
		return nil, errors.Wrap(err, "storage: load operation stats failed")
	}
	defer rows.Close()
	var out []archibald.OperationStats
	for rows.Next() {
		var (
			stats          archibald.OperationStats
			totalNS        int64
			minNS          int64
			maxNS          int64
			avgNS          int64
			timeoutNS      int64
			lastAdjustment int64
		)
		if err := rows.Scan(&stats.Operation, &stats.SuccessCount, &stats.FailureCount,
			&totalNS, &minNS, &maxNS, &avgNS, &timeoutNS, &lastAdjustment); err != nil {
			return nil, errors.Wrap(err, "storage: scan operation stats failed")
		}
		stats.TotalTime = time.Duration(totalNS)
		stats.MinTime = time.Duration(minNS)
		stats.MaxTime = time.Duration(maxNS)
		stats.AvgTime = time.Duration(avgNS)
		stats.CurrentTimeout = time.Duration(timeoutNS)
		if lastAdjustment > 0 {
			stats.LastAdjustment = time.Unix(lastAdjustment, 0)
		}
		out = append(out, stats)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "storage: iterate operation stats failed")
	}
	return out, nil
}

// Save upserts one operation's stats row.
func (s *StatsStore) Save(ctx context.Context, stats archibald.OperationStats) error {
	var lastAdjustment int64
	if !stats.LastAdjustment.IsZero() {
		lastAdjustment = stats.LastAdjustment.Unix()
	}
	_, err := s.db.db.ExecContext(ctx,
		`INSERT INTO operation_stats (operation, success_count, failure_count, total_time_ns,
			min_time_ns, max_time_ns, avg_time_ns, current_timeout_ns, last_adjustment)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(operation) DO UPDATE SET
			success_count = excluded.success_count,
			failure_count = excluded.failure_count,
			total_time_ns = excluded.total_time_ns,
			min_time_ns = excluded.min_time_ns,
			max_time_ns = excluded.max_time_ns,
			avg_time_ns = excluded.avg_time_ns,
			current_timeout_ns = excluded.current_timeout_ns,
			last_adjustment = excluded.last_adjustment`,
		stats.Operation, stats.SuccessCount, stats.FailureCount,
		int64(stats.TotalTime), int64(stats.MinTime), int64(stats.MaxTime),
		int64(stats.AvgTime), int64(stats.CurrentTimeout), lastAdjustment)
	if err != nil {
		return errors.Wrapf(err, "storage: save stats for %s failed", stats.Operation)
	}
	return nil
}
