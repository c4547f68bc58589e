package archibald

import (
	"github.com/pkg/errors"
)

// StaticCredentials serves the same credentials for every user ID. The
// agent typically automates a single remote account.
type StaticCredentials struct {
	Username string
	Password string
}

func (c StaticCredentials) CredentialsFor(string) (Credentials, error) {
	if c.Username == "" {
		return Credentials{}, errors.New("username is empty")
	}
	return Credentials{Username: c.Username, Password: c.Password}, nil
}

// FetcherSet supplies the driver-backed page fetcher for each sync-type.
type FetcherSet struct {
	Customers PageFetcher
	Products  PageFetcher
	Prices    PageFetcher
	Orders    PageFetcher
}

func (f FetcherSet) byType() map[string]PageFetcher {
	return map[string]PageFetcher{
		SyncTypeCustomers: f.Customers,
		SyncTypeProducts:  f.Products,
		SyncTypePrices:    f.Prices,
		SyncTypeOrders:    f.Orders,
	}
}

// JobDeps bundles the shared services every sync job composes.
type JobDeps struct {
	UserID        string
	Pool          *SessionPool
	Engine        *DeltaEngine
	Checkpoints   *CheckpointManager
	Learner       *TimeoutLearner
	Notifier      Notifier
	Retry         RetryConfig
	DeleteMissing bool
}

// BuildSyncJobs creates one job per sync-type with a non-nil fetcher, in a
// fixed order: customers and products first since prices and orders
// reference them.
func BuildSyncJobs(deps JobDeps, fetchers FetcherSet) ([]*SyncJob, error) {
	order := []string{SyncTypeCustomers, SyncTypeProducts, SyncTypePrices, SyncTypeOrders}
	byType := fetchers.byType()

	var jobs []*SyncJob
	for _, syncType := range order {
		fetcher := byType[syncType]
		if fetcher == nil {
			continue
		}
		job, err := NewSyncJob(SyncJobConfig{
			SyncType:      syncType,
			UserID:        deps.UserID,
			Pool:          deps.Pool,
			Engine:        deps.Engine,
			Checkpoints:   deps.Checkpoints,
			Fetcher:       fetcher,
			Learner:       deps.Learner,
			Notifier:      deps.Notifier,
			Retry:         deps.Retry,
			DeleteMissing: deps.DeleteMissing,
		})
		if err != nil {
			return nil, errors.Wrapf(err, "build %s job failed", syncType)
		}
		jobs = append(jobs, job)
	}
	if len(jobs) == 0 {
		return nil, errors.New("no fetchers configured, nothing to sync")
	}
	return jobs, nil
}
