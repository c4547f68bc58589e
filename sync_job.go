package archibald

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// Page is one fetched slice of the remote snapshot. TotalPages comes from
// the remote pager and may grow between pages.
type Page struct {
	Number     int
	TotalPages int
	Records    []Syncable
}

// PageFetcher drives the remote UI to fetch one page for a sync-type. The
// DOM choreography behind it is out of scope; the job only needs pages.
type PageFetcher interface {
	FetchPage(ctx context.Context, handle *SessionHandle, page int) (*Page, error)
}

// Progress is the event payload pushed to the realtime layer on every phase
// transition.
type Progress struct {
	SyncType   string     `json:"sync_type"`
	Status     string     `json:"status"`
	Page       int        `json:"page,omitempty"`
	TotalPages int        `json:"total_pages,omitempty"`
	Processed  int        `json:"processed"`
	Inserted   int        `json:"inserted"`
	Updated    int        `json:"updated"`
	Skipped    int        `json:"skipped"`
	Failed     int        `json:"failed,omitempty"`
	Error      string     `json:"error,omitempty"`
	ErrorClass ErrorClass `json:"error_class,omitempty"`
}

// Notifier consumes progress events. Implementations must not block the
// sync pipeline for long.
type Notifier interface {
	Notify(ctx context.Context, event Progress)
}

type noopNotifier struct{}

func (noopNotifier) Notify(context.Context, Progress) {}

// SyncJobConfig wires one sync-type's job.
type SyncJobConfig struct {
	SyncType    string
	UserID      string
	Pool        *SessionPool
	Engine      *DeltaEngine
	Checkpoints *CheckpointManager
	Fetcher     PageFetcher
	Learner     *TimeoutLearner
	Notifier    Notifier
	Retry       RetryConfig
	// DeleteMissing hard-deletes records absent from a full snapshot instead
	// of only reporting them.
	DeleteMissing bool
}

// SyncJob runs the download -> parse -> save pipeline for one sync-type,
// checkpointing after every fully applied page. It implements Pausable so
// the priority coordinator can park it at a page boundary, and exposes
// RequestStop for cooperative cancellation.
type SyncJob struct {
	cfg SyncJobConfig

	mu       sync.Mutex
	running  bool
	stopping bool
	paused   bool
	resumeCh chan struct{} // non-nil while paused, closed on Resume
	safeCh   chan struct{} // non-nil while the session is held, closed on release
}

// NewSyncJob validates the wiring and builds a job.
func NewSyncJob(cfg SyncJobConfig) (*SyncJob, error) {
	if cfg.SyncType == "" {
		return nil, errors.New("sync type is empty")
	}
	if cfg.Pool == nil || cfg.Engine == nil || cfg.Checkpoints == nil || cfg.Fetcher == nil {
		return nil, errors.New("sync job requires pool, engine, checkpoints and fetcher")
	}
	if cfg.Notifier == nil {
		cfg.Notifier = noopNotifier{}
	}
	return &SyncJob{cfg: cfg}, nil
}

// SyncType returns the job's sync-type name.
func (j *SyncJob) SyncType() string { return j.cfg.SyncType }

// RequestStop asks the job to stop at the next pipeline stage boundary.
// In-flight remote calls are not aborted, only their wait.
func (j *SyncJob) RequestStop() {
	j.mu.Lock()
	j.stopping = true
	j.mu.Unlock()
	log.Info().Str("sync_type", j.cfg.SyncType).Msg("stop requested")
}

// Pause flips the pause flag and waits until the job has released the
// shared session (current page finishes first). Idempotent; safe to call
// when already paused. The ctx deadline bounds the wait.
func (j *SyncJob) Pause(ctx context.Context) error {
	j.mu.Lock()
	if !j.paused {
		j.paused = true
		j.resumeCh = make(chan struct{})
	}
	safe := j.safeCh
	j.mu.Unlock()

	if safe == nil {
		return nil
	}
	select {
	case <-safe:
		return nil
	case <-ctx.Done():
		return errors.Wrapf(ctx.Err(), "%s did not reach safe point", j.cfg.SyncType)
	}
}

// Resume lifts the pause.
func (j *SyncJob) Resume() {
	j.mu.Lock()
	if j.paused {
		j.paused = false
		close(j.resumeCh)
		j.resumeCh = nil
	}
	j.mu.Unlock()
}

func (j *SyncJob) waitIfPaused(ctx context.Context) error {
	j.mu.Lock()
	ch := j.resumeCh
	j.mu.Unlock()
	if ch == nil {
		return nil
	}
	log.Debug().Str("sync_type", j.cfg.SyncType).Msg("job paused, waiting for resume")
	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (j *SyncJob) stopRequested() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.stopping
}

func (j *SyncJob) markSessionHeld() {
	j.mu.Lock()
	j.safeCh = make(chan struct{})
	j.mu.Unlock()
}

func (j *SyncJob) markSessionReleased() {
	j.mu.Lock()
	if j.safeCh != nil {
		close(j.safeCh)
		j.safeCh = nil
	}
	j.mu.Unlock()
}

// Run executes one sync pass. A second concurrent Run for the same job
// returns ErrSyncInProgress. A fresh completed run within the freshness
// window is skipped entirely.
func (j *SyncJob) Run(ctx context.Context) error {
	j.mu.Lock()
	if j.running {
		j.mu.Unlock()
		return errors.Wrap(ErrSyncInProgress, j.cfg.SyncType)
	}
	j.running = true
	j.stopping = false
	j.mu.Unlock()
	defer func() {
		j.mu.Lock()
		j.running = false
		j.mu.Unlock()
	}()

	err := j.run(ctx)
	if err != nil && !errors.Is(err, ErrStopRequested) {
		return err
	}
	return nil
}

func (j *SyncJob) run(ctx context.Context) error {
	syncType := j.cfg.SyncType

	if err := j.waitIfPaused(ctx); err != nil {
		return err
	}
	if j.stopRequested() {
		return ErrStopRequested
	}

	startPage, err := j.cfg.Checkpoints.GetResumePoint(ctx, syncType)
	if err != nil {
		return err
	}
	if startPage == ResumeSkip {
		log.Info().Str("sync_type", syncType).Msg("sync skipped, data still fresh")
		return nil
	}
	if startPage == 1 {
		if err := j.cfg.Checkpoints.StartSync(ctx, syncType); err != nil {
			return err
		}
	}

	handle, err := j.cfg.Pool.Acquire(ctx, j.cfg.UserID)
	if err != nil {
		j.failCheckpoint(ctx, err, startPage)
		j.notifyError(ctx, err, DeltaResult{})
		return err
	}
	j.markSessionHeld()
	success := true
	defer func() {
		j.markSessionReleased()
		j.cfg.Pool.Release(j.cfg.UserID, handle, success)
	}()

	var (
		total      DeltaResult
		totalPages = 0
		seenIDs    []string
		page       = startPage
	)
	for {
		if j.stopRequested() {
			j.notify(ctx, Progress{SyncType: syncType, Status: "stopped", Page: page - 1, TotalPages: totalPages,
				Processed: total.Processed(), Inserted: total.Inserted, Updated: total.Updated, Skipped: total.Unchanged})
			return ErrStopRequested
		}
		j.mu.Lock()
		paused := j.paused
		j.mu.Unlock()
		if paused {
			// Give the session back before parking so the priority
			// operation can take it.
			j.markSessionReleased()
			j.cfg.Pool.Release(j.cfg.UserID, handle, true)
			if err := j.waitIfPaused(ctx); err != nil {
				success = true
				handle = nil
				return err
			}
			handle, err = j.cfg.Pool.Acquire(ctx, j.cfg.UserID)
			if err != nil {
				j.failCheckpoint(ctx, err, page)
				j.notifyError(ctx, err, total)
				return err
			}
			j.markSessionHeld()
		}

		j.notify(ctx, Progress{SyncType: syncType, Status: "downloading", Page: page, TotalPages: totalPages,
			Processed: total.Processed(), Inserted: total.Inserted, Updated: total.Updated, Skipped: total.Unchanged})

		fetched, err := j.fetchPage(ctx, handle, page)
		if err != nil {
			success = false
			j.failCheckpoint(ctx, err, page)
			j.notifyError(ctx, err, total)
			return err
		}
		if fetched == nil || len(fetched.Records) == 0 {
			break
		}
		totalPages = fetched.TotalPages

		if j.stopRequested() {
			j.notify(ctx, Progress{SyncType: syncType, Status: "stopped", Page: page - 1, TotalPages: totalPages,
				Processed: total.Processed(), Inserted: total.Inserted, Updated: total.Updated, Skipped: total.Unchanged})
			return ErrStopRequested
		}

		j.notify(ctx, Progress{SyncType: syncType, Status: "saving", Page: page, TotalPages: totalPages,
			Processed: total.Processed(), Inserted: total.Inserted, Updated: total.Updated, Skipped: total.Unchanged})

		result, err := j.cfg.Engine.Reconcile(ctx, syncType, fetched.Records)
		if err != nil {
			success = false
			j.failCheckpoint(ctx, err, page)
			j.notifyError(ctx, err, total)
			return err
		}
		total.Inserted += result.Inserted
		total.Updated += result.Updated
		total.Unchanged += result.Unchanged
		total.Failed += result.Failed
		for _, rec := range fetched.Records {
			if rec != nil {
				seenIDs = append(seenIDs, rec.Identity())
			}
		}

		if err := j.cfg.Checkpoints.UpdateProgress(ctx, syncType, page, totalPages, total.Processed()); err != nil {
			success = false
			return err
		}
		log.Debug().
			Str("sync_type", syncType).
			Int("page", page).
			Int("total_pages", totalPages).
			Int("inserted", result.Inserted).
			Int("updated", result.Updated).
			Int("unchanged", result.Unchanged).
			Msg("page reconciled")

		if totalPages > 0 && page >= totalPages {
			break
		}
		page++
	}

	// Deletion detection only makes sense against a full snapshot.
	if startPage == 1 {
		if err := j.handleDeleted(ctx, seenIDs); err != nil {
			log.Warn().Err(err).Str("sync_type", syncType).Msg("deletion detection failed")
		}
	}

	if err := j.cfg.Checkpoints.CompleteSync(ctx, syncType, totalPages, total.Processed()); err != nil {
		return err
	}
	j.notify(ctx, Progress{SyncType: syncType, Status: "completed", Page: totalPages, TotalPages: totalPages,
		Processed: total.Processed(), Inserted: total.Inserted, Updated: total.Updated, Skipped: total.Unchanged, Failed: total.Failed})
	return nil
}

// fetchPage wraps the remote fetch in the learned timeout budget and the
// bounded retry policy, feeding the outcome back into the learner.
func (j *SyncJob) fetchPage(ctx context.Context, handle *SessionHandle, page int) (*Page, error) {
	op := "fetch_" + j.cfg.SyncType
	var fetched *Page
	err := Retry(ctx, op, j.cfg.Retry, func(ctx context.Context) error {
		var budget time.Duration
		if j.cfg.Learner != nil {
			budget = j.cfg.Learner.GetTimeout(op)
		}
		start := time.Now()
		err := WithTimeout(ctx, budget, func(ctx context.Context) error {
			p, err := j.cfg.Fetcher.FetchPage(ctx, handle, page)
			if err != nil {
				return err
			}
			fetched = p
			return nil
		})
		if j.cfg.Learner != nil {
			if err != nil {
				j.cfg.Learner.RecordFailure(ctx, op)
			} else {
				j.cfg.Learner.RecordSuccess(ctx, op, time.Since(start))
			}
		}
		return err
	})
	if err != nil {
		return nil, errors.Wrapf(err, "fetch %s page %d failed", j.cfg.SyncType, page)
	}
	return fetched, nil
}

func (j *SyncJob) handleDeleted(ctx context.Context, seenIDs []string) error {
	deleted, err := j.cfg.Engine.FindDeleted(ctx, j.cfg.SyncType, seenIDs)
	if err != nil {
		return err
	}
	if len(deleted) == 0 {
		return nil
	}
	if !j.cfg.DeleteMissing {
		log.Info().
			Str("sync_type", j.cfg.SyncType).
			Int("count", len(deleted)).
			Msg("records missing from snapshot, deletion disabled")
		return nil
	}
	if err := j.cfg.Engine.DeleteRecords(ctx, j.cfg.SyncType, deleted); err != nil {
		return err
	}
	log.Info().
		Str("sync_type", j.cfg.SyncType).
		Int("count", len(deleted)).
		Msg("records removed after snapshot reconciliation")
	return nil
}

func (j *SyncJob) failCheckpoint(ctx context.Context, cause error, page int) {
	if errors.Is(cause, ErrStopRequested) {
		return
	}
	if err := j.cfg.Checkpoints.FailSync(ctx, j.cfg.SyncType, cause, page); err != nil {
		log.Error().Err(err).Str("sync_type", j.cfg.SyncType).Msg("record sync failure failed")
	}
}

func (j *SyncJob) notify(ctx context.Context, event Progress) {
	j.cfg.Notifier.Notify(ctx, event)
}

func (j *SyncJob) notifyError(ctx context.Context, cause error, total DeltaResult) {
	if errors.Is(cause, ErrStopRequested) {
		return
	}
	j.notify(ctx, Progress{
		SyncType:   j.cfg.SyncType,
		Status:     "error",
		Processed:  total.Processed(),
		Inserted:   total.Inserted,
		Updated:    total.Updated,
		Skipped:    total.Unchanged,
		Failed:     total.Failed,
		Error:      cause.Error(),
		ErrorClass: Classify(cause),
	})
}
