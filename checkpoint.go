package archibald

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// SyncStatus is the lifecycle state of one sync-type's checkpoint.
type SyncStatus string

const (
	StatusInProgress SyncStatus = "in_progress"
	StatusCompleted  SyncStatus = "completed"
	StatusFailed     SyncStatus = "failed"
)

// ResumeSkip is returned by GetResumePoint when the last completed run is
// still fresh and the sync should be skipped entirely.
const ResumeSkip = -1

const (
	freshWindow = time.Hour
	staleAfter  = 24 * time.Hour
)

// SyncCheckpoint is the persisted progress marker for one sync-type.
// LastSuccessfulPage only ever advances within a run; a page is never
// recorded until its batch has fully committed.
type SyncCheckpoint struct {
	SyncType           string
	Status             SyncStatus
	CurrentPage        int
	TotalPages         int
	ItemsProcessed     int
	LastSuccessfulPage int
	StartedAt          time.Time
	CompletedAt        time.Time
	Error              string
}

// CheckpointStore persists checkpoints across restarts.
type CheckpointStore interface {
	Get(ctx context.Context, syncType string) (*SyncCheckpoint, error)
	Save(ctx context.Context, cp *SyncCheckpoint) error
	List(ctx context.Context) ([]SyncCheckpoint, error)
	Delete(ctx context.Context, syncType string) error
}

// CheckpointManager drives the per-sync-type checkpoint state machine.
type CheckpointManager struct {
	store CheckpointStore
	clock func() time.Time
}

// NewCheckpointManager wraps a durable store.
func NewCheckpointManager(store CheckpointStore) (*CheckpointManager, error) {
	if store == nil {
		return nil, errors.New("checkpoint store cannot be nil")
	}
	return &CheckpointManager{store: store, clock: time.Now}, nil
}

// StartSync resets counters and moves the checkpoint to in_progress. Any
// terminal state may restart.
func (m *CheckpointManager) StartSync(ctx context.Context, syncType string) error {
	cp := &SyncCheckpoint{
		SyncType:  syncType,
		Status:    StatusInProgress,
		StartedAt: m.clock(),
	}
	if err := m.store.Save(ctx, cp); err != nil {
		return errors.Wrapf(err, "start sync %s failed", syncType)
	}
	log.Info().Str("sync_type", syncType).Msg("sync started")
	return nil
}

// UpdateProgress records a fully applied page. LastSuccessfulPage never
// moves backward.
func (m *CheckpointManager) UpdateProgress(ctx context.Context, syncType string, page, totalPages, items int) error {
	cp, err := m.store.Get(ctx, syncType)
	if err != nil {
		return errors.Wrapf(err, "load checkpoint %s failed", syncType)
	}
	if cp == nil {
		return errors.Errorf("no checkpoint for %s, call StartSync first", syncType)
	}
	cp.Status = StatusInProgress
	cp.CurrentPage = page
	cp.TotalPages = totalPages
	cp.ItemsProcessed = items
	if page > cp.LastSuccessfulPage {
		cp.LastSuccessfulPage = page
	}
	return m.store.Save(ctx, cp)
}

// CompleteSync marks the run finished.
func (m *CheckpointManager) CompleteSync(ctx context.Context, syncType string, totalPages, items int) error {
	cp, err := m.store.Get(ctx, syncType)
	if err != nil {
		return errors.Wrapf(err, "load checkpoint %s failed", syncType)
	}
	if cp == nil {
		return errors.Errorf("no checkpoint for %s, call StartSync first", syncType)
	}
	cp.Status = StatusCompleted
	// A resumed run that fetched nothing reports zero pages; the progress
	// already on record must survive it.
	if totalPages > 0 {
		cp.TotalPages = totalPages
		cp.ItemsProcessed = items
		if totalPages > cp.LastSuccessfulPage {
			cp.LastSuccessfulPage = totalPages
		}
	}
	cp.CompletedAt = m.clock()
	cp.Error = ""
	if err := m.store.Save(ctx, cp); err != nil {
		return err
	}
	log.Info().
		Str("sync_type", syncType).
		Int("total_pages", totalPages).
		Int("items", items).
		Msg("sync completed")
	return nil
}

// FailSync records the failure and the page it happened on, preserving
// LastSuccessfulPage so the next run resumes correctly.
func (m *CheckpointManager) FailSync(ctx context.Context, syncType string, syncErr error, page int) error {
	cp, err := m.store.Get(ctx, syncType)
	if err != nil {
		return errors.Wrapf(err, "load checkpoint %s failed", syncType)
	}
	if cp == nil {
		return errors.Errorf("no checkpoint for %s, call StartSync first", syncType)
	}
	cp.Status = StatusFailed
	cp.CurrentPage = page
	cp.CompletedAt = m.clock()
	if syncErr != nil {
		cp.Error = syncErr.Error()
	}
	if err := m.store.Save(ctx, cp); err != nil {
		return err
	}
	log.Error().
		Err(syncErr).
		Str("sync_type", syncType).
		Int("page", page).
		Int("last_successful_page", cp.LastSuccessfulPage).
		Msg("sync failed")
	return nil
}

// GetResumePoint decides where the next run starts: 1 for a fresh run,
// LastSuccessfulPage+1 to resume an interrupted one, or ResumeSkip when the
// last completed run is recent enough that a full re-download would be
// wasted.
func (m *CheckpointManager) GetResumePoint(ctx context.Context, syncType string) (int, error) {
	cp, err := m.store.Get(ctx, syncType)
	if err != nil {
		return 0, errors.Wrapf(err, "load checkpoint %s failed", syncType)
	}
	if cp == nil {
		return 1, nil
	}
	switch cp.Status {
	case StatusCompleted:
		age := m.clock().Sub(cp.CompletedAt)
		switch {
		case age < freshWindow:
			log.Debug().Str("sync_type", syncType).Dur("age", age).Msg("sync skipped, completed within the hour")
			return ResumeSkip, nil
		case age < staleAfter:
			log.Debug().Str("sync_type", syncType).Dur("age", age).Msg("sync skipped, still recent")
			return ResumeSkip, nil
		default:
			log.Info().Str("sync_type", syncType).Dur("age", age).Msg("sync data stale, full resync")
			return 1, nil
		}
	case StatusInProgress, StatusFailed:
		resume := cp.LastSuccessfulPage + 1
		log.Info().
			Str("sync_type", syncType).
			Str("status", string(cp.Status)).
			Int("resume_page", resume).
			Msg("resuming interrupted sync")
		return resume, nil
	default:
		return 1, nil
	}
}

// Get returns the checkpoint for syncType, nil when absent.
func (m *CheckpointManager) Get(ctx context.Context, syncType string) (*SyncCheckpoint, error) {
	return m.store.Get(ctx, syncType)
}

// List returns all checkpoints.
func (m *CheckpointManager) List(ctx context.Context) ([]SyncCheckpoint, error) {
	return m.store.List(ctx)
}

// Reset removes the checkpoint so the next run starts from page 1. The only
// way a checkpoint is ever deleted.
func (m *CheckpointManager) Reset(ctx context.Context, syncType string) error {
	if err := m.store.Delete(ctx, syncType); err != nil {
		return errors.Wrapf(err, "reset checkpoint %s failed", syncType)
	}
	log.Info().Str("sync_type", syncType).Msg("checkpoint reset")
	return nil
}
