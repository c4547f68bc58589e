package storage

import (
	"context"
	"database/sql"
	"time"

	"github.com/pkg/errors"

	archibald "github.com/H4tholdir/archibaldblackant-sub005"
)

// RecordStore is the sqlite-backed persistence for synced records. It
// implements archibald.RecordStore; UpsertBatch commits one page in a
// single transaction.
type RecordStore struct {
	db *DB
}

// NewRecordStore wraps the shared database.
func NewRecordStore(db *DB) (*RecordStore, error) {
	if db == nil || db.db == nil {
		return nil, errors.New("storage: database is nil")
	}
	return &RecordStore{db: db}, nil
}

// GetByIdentity returns the persisted record or nil when absent.
func (s *RecordStore) GetByIdentity(ctx context.Context, entityType, identity string) (*archibald.StoredRecord, error) {
	row := s.db.db.QueryRowContext(ctx,
		`SELECT hash, payload, last_sync FROM sync_records WHERE entity_type = ? AND identity = ?`,
		entityType, identity)
	var (
		hash     string
		payload  string
		lastSync int64
	)
	if err := row.Scan(&hash, &payload, &lastSync); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "storage: read sync record failed")
	}
	return &archibald.StoredRecord{
		EntityType: entityType,
		Identity:   identity,
		Hash:       hash,
		Payload:    []byte(payload),
		LastSync:   time.Unix(lastSync, 0),
	}, nil
}

// UpsertBatch writes all records in one transaction: either the whole page
// commits or none of it does.
func (s *RecordStore) UpsertBatch(ctx context.Context, records []archibald.StoredRecord) error {
	if len(records) == 0 {
		return nil
	}
	tx, err := s.db.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "storage: begin upsert transaction failed")
	}
	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO sync_records (entity_type, identity, hash, payload, last_sync)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(entity_type, identity) DO UPDATE SET
			hash = excluded.hash,
			payload = excluded.payload,
			last_sync = excluded.last_sync`)
	if err != nil {
		tx.Rollback()
		return errors.Wrap(err, "storage: prepare upsert failed")
	}
	defer stmt.Close()

	for _, rec := range records {
		if _, err := stmt.ExecContext(ctx,
			rec.EntityType, rec.Identity, rec.Hash, string(rec.Payload), rec.LastSync.Unix()); err != nil {
			tx.Rollback()
			return errors.Wrapf(err, "storage: upsert %s/%s failed", rec.EntityType, rec.Identity)
		}
	}
	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "storage: commit upsert batch failed")
	}
	return nil
}

// ListIdentities returns every persisted identity for an entity type.
func (s *RecordStore) ListIdentities(ctx context.Context, entityType string) ([]string, error) {
	rows, err := s.db.db.QueryContext(ctx,
		`SELECT identity FROM sync_records WHERE entity_type = ?`, entityType)
	if err != nil {
		return nil, errors.Wrap(err, "storage: list identities failed")
	}
	defer rows.Close()
	var identities []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, errors.Wrap(err, "storage: scan identity failed")
		}
		identities = append(identities, id)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "storage: iterate identities failed")
	}
	return identities, nil
}

// DeleteByIdentities removes the given identities in one transaction.
func (s *RecordStore) DeleteByIdentities(ctx context.Context, entityType string, identities []string) error {
	if len(identities) == 0 {
		return nil
	}
	tx, err := s.db.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "storage: begin delete transaction failed")
	}
	stmt, err := tx.PrepareContext(ctx,
		`DELETE FROM sync_records WHERE entity_type = ? AND identity = ?`)
	if err != nil {
		tx.Rollback()
		return errors.Wrap(err, "storage: prepare delete failed")
	}
	defer stmt.Close()
	for _, id := range identities {
		if _, err := stmt.ExecContext(ctx, entityType, id); err != nil {
			tx.Rollback()
			return errors.Wrapf(err, "storage: delete %s/%s failed", entityType, id)
		}
	}
	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "storage: commit delete batch failed")
	}
	return nil
}
