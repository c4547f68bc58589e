package archibald

import (
	"context"
	"testing"

	"github.com/pkg/errors"
)

func newSchedulerJob(t *testing.T, syncType string, fetcher *scriptedFetcher) *SyncJob {
	t.Helper()
	engine, err := NewDeltaEngine(newMemoryRecordStore(), nil)
	if err != nil {
		t.Fatalf("NewDeltaEngine error: %v", err)
	}
	manager, err := NewCheckpointManager(newMemoryCheckpointStore())
	if err != nil {
		t.Fatalf("NewCheckpointManager error: %v", err)
	}
	job, err := NewSyncJob(SyncJobConfig{
		SyncType:    syncType,
		UserID:      "mario",
		Pool:        newTestPool(t, &stubDriver{}),
		Engine:      engine,
		Checkpoints: manager,
		Fetcher:     fetcher,
		Retry:       fastRetry(),
	})
	if err != nil {
		t.Fatalf("NewSyncJob error: %v", err)
	}
	return job
}

func TestSchedulerRegistersJobsWithCoordinator(t *testing.T) {
	coordinator := NewPriorityCoordinator()
	jobs := []*SyncJob{
		newSchedulerJob(t, SyncTypeCustomers, &scriptedFetcher{}),
		newSchedulerJob(t, SyncTypeProducts, &scriptedFetcher{}),
	}
	if _, err := NewScheduler(SchedulerConfig{Jobs: jobs, Coordinator: coordinator}); err != nil {
		t.Fatalf("NewScheduler error: %v", err)
	}
	if got := len(coordinator.Participants()); got != 2 {
		t.Fatalf("want 2 registered participants, got %d", got)
	}
}

func TestSchedulerRunOnceContinuesPastFailure(t *testing.T) {
	broken := &scriptedFetcher{failOn: map[int]error{1: errors.New("login wall")}}
	healthy := &scriptedFetcher{pages: map[int]*Page{
		1: {Number: 1, TotalPages: 1, Records: []Syncable{
			&Product{ProductID: "P001", Name: "Formica 6mm"},
		}},
	}}
	jobs := []*SyncJob{
		newSchedulerJob(t, SyncTypeCustomers, broken),
		newSchedulerJob(t, SyncTypeProducts, healthy),
	}
	scheduler, err := NewScheduler(SchedulerConfig{Jobs: jobs})
	if err != nil {
		t.Fatalf("NewScheduler error: %v", err)
	}

	if err := scheduler.RunOnce(context.Background()); err == nil {
		t.Fatalf("RunOnce should surface the failed job's error")
	}
	if healthy.callCount() == 0 {
		t.Fatalf("a failing job must not block the rest of the cycle")
	}
}

func TestSchedulerRequiresJobs(t *testing.T) {
	if _, err := NewScheduler(SchedulerConfig{}); err == nil {
		t.Fatalf("empty scheduler must be rejected")
	}
}

func TestBuildSyncJobsSkipsMissingFetchers(t *testing.T) {
	engine, err := NewDeltaEngine(newMemoryRecordStore(), nil)
	if err != nil {
		t.Fatalf("NewDeltaEngine error: %v", err)
	}
	manager, err := NewCheckpointManager(newMemoryCheckpointStore())
	if err != nil {
		t.Fatalf("NewCheckpointManager error: %v", err)
	}
	deps := JobDeps{
		UserID:      "mario",
		Pool:        newTestPool(t, &stubDriver{}),
		Engine:      engine,
		Checkpoints: manager,
	}

	jobs, err := BuildSyncJobs(deps, FetcherSet{
		Customers: &scriptedFetcher{},
		Orders:    &scriptedFetcher{},
	})
	if err != nil {
		t.Fatalf("BuildSyncJobs error: %v", err)
	}
	if len(jobs) != 2 {
		t.Fatalf("want 2 jobs, got %d", len(jobs))
	}
	if jobs[0].SyncType() != SyncTypeCustomers || jobs[1].SyncType() != SyncTypeOrders {
		t.Fatalf("jobs out of order: %s, %s", jobs[0].SyncType(), jobs[1].SyncType())
	}

	if _, err := BuildSyncJobs(deps, FetcherSet{}); err == nil {
		t.Fatalf("no fetchers must be an error")
	}
}
