package archibald

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// Syncable is implemented by every entity the delta engine reconciles.
// HashFields returns the business field values in the entity's fixed order.
type Syncable interface {
	Identity() string
	HashFields() []string
	Payload() ([]byte, error)
}

// StoredRecord is the persisted form of a reconciled entity.
type StoredRecord struct {
	EntityType string
	Identity   string
	Hash       string
	Payload    []byte
	LastSync   time.Time
}

// RecordStore is the persistence boundary the delta engine writes through.
// UpsertBatch must apply all records in a single transaction.
type RecordStore interface {
	GetByIdentity(ctx context.Context, entityType, identity string) (*StoredRecord, error)
	UpsertBatch(ctx context.Context, records []StoredRecord) error
	ListIdentities(ctx context.Context, entityType string) ([]string, error)
	DeleteByIdentities(ctx context.Context, entityType string, identities []string) error
}

// DeltaResult counts the classification outcome of one reconciliation pass.
type DeltaResult struct {
	Inserted  int
	Updated   int
	Unchanged int
	Failed    int
}

func (r DeltaResult) Processed() int {
	return r.Inserted + r.Updated + r.Unchanged + r.Failed
}

// EnrichFunc derives extra data for a record before it is written (e.g. a
// VAT rate lookup). A failed enrichment skips that record only.
type EnrichFunc func(ctx context.Context, record Syncable) error

// DeltaEngine classifies freshly fetched snapshots against persisted state
// by content hash and applies each page as one transaction.
type DeltaEngine struct {
	store  RecordStore
	enrich EnrichFunc
	clock  func() time.Time
}

// NewDeltaEngine builds an engine over the given store. enrich may be nil.
func NewDeltaEngine(store RecordStore, enrich EnrichFunc) (*DeltaEngine, error) {
	if store == nil {
		return nil, errors.New("record store cannot be nil")
	}
	return &DeltaEngine{store: store, enrich: enrich, clock: time.Now}, nil
}

// Reconcile hashes each incoming record and classifies it as inserted,
// updated or unchanged against the persisted set. All writes for the batch
// commit in one transaction, so a half-applied page can never become a
// resume point. Per-record enrichment failures are logged and counted but do
// not abort the batch.
func (e *DeltaEngine) Reconcile(ctx context.Context, entityType string, batch []Syncable) (DeltaResult, error) {
	var result DeltaResult
	if len(batch) == 0 {
		return result, nil
	}
	now := e.clock()
	writes := make([]StoredRecord, 0, len(batch))

	for _, record := range batch {
		if record == nil {
			continue
		}
		identity := record.Identity()
		if identity == "" {
			result.Failed++
			log.Warn().Str("entity", entityType).Msg("record without identity skipped")
			continue
		}
		hash := ContentHash(record.HashFields())

		existing, err := e.store.GetByIdentity(ctx, entityType, identity)
		if err != nil {
			return result, errors.Wrapf(err, "lookup %s/%s failed", entityType, identity)
		}
		if existing != nil && existing.Hash == hash {
			result.Unchanged++
			continue
		}

		if e.enrich != nil {
			if err := e.enrich(ctx, record); err != nil {
				result.Failed++
				log.Warn().
					Err(err).
					Str("entity", entityType).
					Str("identity", identity).
					Msg("record enrichment failed, skipping record")
				continue
			}
		}

		payload, err := record.Payload()
		if err != nil {
			result.Failed++
			log.Warn().
				Err(err).
				Str("entity", entityType).
				Str("identity", identity).
				Msg("record payload encoding failed, skipping record")
			continue
		}
		writes = append(writes, StoredRecord{
			EntityType: entityType,
			Identity:   identity,
			Hash:       hash,
			Payload:    payload,
			LastSync:   now,
		})
		if existing == nil {
			result.Inserted++
		} else {
			result.Updated++
		}
	}

	if len(writes) > 0 {
		if err := e.store.UpsertBatch(ctx, writes); err != nil {
			return DeltaResult{}, errors.Wrapf(err, "upsert batch for %s failed", entityType)
		}
	}
	return result, nil
}

// FindDeleted returns persisted identities absent from currentIDs. Callers
// decide whether to hard-delete; the engine only reports candidates.
func (e *DeltaEngine) FindDeleted(ctx context.Context, entityType string, currentIDs []string) ([]string, error) {
	persisted, err := e.store.ListIdentities(ctx, entityType)
	if err != nil {
		return nil, errors.Wrapf(err, "list identities for %s failed", entityType)
	}
	current := make(map[string]struct{}, len(currentIDs))
	for _, id := range currentIDs {
		current[id] = struct{}{}
	}
	var deleted []string
	for _, id := range persisted {
		if _, ok := current[id]; !ok {
			deleted = append(deleted, id)
		}
	}
	return deleted, nil
}

// DeleteRecords removes the given identities from persisted state.
func (e *DeltaEngine) DeleteRecords(ctx context.Context, entityType string, identities []string) error {
	if len(identities) == 0 {
		return nil
	}
	return e.store.DeleteByIdentities(ctx, entityType, identities)
}
