package storage

import (
	"context"
	"database/sql"
	"time"

	"github.com/pkg/errors"

	archibald "github.com/H4tholdir/archibaldblackant-sub005"
)

// CheckpointStore is the sqlite-backed implementation of
// archibald.CheckpointStore: one row per sync-type.
type CheckpointStore struct {
	db *DB
}

// NewCheckpointStore wraps the shared database.
func NewCheckpointStore(db *DB) (*CheckpointStore, error) {
	if db == nil || db.db == nil {
		return nil, errors.New("storage: database is nil")
	}
	return &CheckpointStore{db: db}, nil
}

// Get returns the checkpoint for syncType, nil when absent.
func (s *CheckpointStore) Get(ctx context.Context, syncType string) (*archibald.SyncCheckpoint, error) {
	row := s.db.db.QueryRowContext(ctx,
		`SELECT status, current_page, total_pages, items_processed, last_successful_page,
			started_at, completed_at, error
		 FROM sync_checkpoints WHERE sync_type = ?`, syncType)
	var (
		status      string
		startedAt   int64
		completedAt int64
		cp          archibald.SyncCheckpoint
	)
	err := row.Scan(&status, &cp.CurrentPage, &cp.TotalPages, &cp.ItemsProcessed,
		&cp.LastSuccessfulPage, &startedAt, &completedAt, &cp.Error)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "storage: read checkpoint failed")
	}
	cp.SyncType = syncType
	cp.Status = archibald.SyncStatus(status)
	cp.StartedAt = unixOrZero(startedAt)
	cp.CompletedAt = unixOrZero(completedAt)
	return &cp, nil
}

// Save upserts the checkpoint row.
func (s *CheckpointStore) Save(ctx context.Context, cp *archibald.SyncCheckpoint) error {
	if cp == nil {
		return errors.New("storage: checkpoint is nil")
	}
	_, err := s.db.db.ExecContext(ctx,
		`INSERT INTO sync_checkpoints (sync_type, status, current_page, total_pages,
			items_processed, last_successful_page, started_at, completed_at, error)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(sync_type) DO UPDATE SET
			status = excluded.status,
			current_page = excluded.current_page,
			total_pages = excluded.total_pages,
			items_processed = excluded.items_processed,
			last_successful_page = excluded.last_successful_page,
			started_at = excluded.started_at,
			completed_at = excluded.completed_at,
			error = excluded.error`,
		cp.SyncType, string(cp.Status), cp.CurrentPage, cp.TotalPages,
		cp.ItemsProcessed, cp.LastSuccessfulPage,
		zeroOrUnix(cp.StartedAt), zeroOrUnix(cp.CompletedAt), cp.Error)
	if err != nil {
		return errors.Wrapf(err, "storage: save checkpoint %s failed", cp.SyncType)
	}
	return nil
}

// List returns all checkpoints ordered by sync-type.
func (s *CheckpointStore) List(ctx context.Context) ([]archibald.SyncCheckpoint, error) {
	rows, err := s.db.db.QueryContext(ctx,
		`SELECT sync_type, status, current_page, total_pages, items_processed,
			last_successful_page, started_at, completed_at, error
		 FROM sync_checkpoints ORDER BY sync_type`)
	if err != nil {
		return nil, errors.Wrap(err, "storage: list checkpoints failed")
	}
	defer rows.Close()
	var out []archibald.SyncCheckpoint
	for rows.Next() {
		var (
			status      string
			startedAt   int64
			completedAt int64
			cp          archibald.SyncCheckpoint
		)
		if err := rows.Scan(&cp.SyncType, &status, &cp.CurrentPage, &cp.TotalPages,
			&cp.ItemsProcessed, &cp.LastSuccessfulPage, &startedAt, &completedAt, &cp.Error); err != nil {
			return nil, errors.Wrap(err, "storage: scan checkpoint failed")
		}
		cp.Status = archibald.SyncStatus(status)
		cp.StartedAt = unixOrZero(startedAt)
		cp.CompletedAt = unixOrZero(completedAt)
		out = append(out, cp)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "storage: iterate checkpoints failed")
	}
	return out, nil
}

// Delete removes the checkpoint row. Missing rows are not an error.
func (s *CheckpointStore) Delete(ctx context.Context, syncType string) error {
	if _, err := s.db.db.ExecContext(ctx,
		`DELETE FROM sync_checkpoints WHERE sync_type = ?`, syncType); err != nil {
		return errors.Wrapf(err, "storage: delete checkpoint %s failed", syncType)
	}
	return nil
}

func unixOrZero(ts int64) time.Time {
	if ts == 0 {
		return time.Time{}
	}
	return time.Unix(ts, 0)
}

func zeroOrUnix(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}
