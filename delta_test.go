package archibald

import (
	"context"
	"sync"
	"testing"

	"github.com/pkg/errors"
)

type memoryRecordStore struct {
	mu      sync.Mutex
	records map[string]StoredRecord
	batches int
}

func newMemoryRecordStore() *memoryRecordStore {
	return &memoryRecordStore{records: make(map[string]StoredRecord)}
}

func recordKey(entityType, identity string) string { return entityType + "/" + identity }

func (s *memoryRecordStore) GetByIdentity(_ context.Context, entityType, identity string) (*StoredRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[recordKey(entityType, identity)]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

func (s *memoryRecordStore) UpsertBatch(_ context.Context, records []StoredRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches++
	for _, rec := range records {
		s.records[recordKey(rec.EntityType, rec.Identity)] = rec
	}
	return nil
}

func (s *memoryRecordStore) ListIdentities(_ context.Context, entityType string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, rec := range s.records {
		if rec.EntityType == entityType {
			out = append(out, rec.Identity)
		}
	}
	return out, nil
}

func (s *memoryRecordStore) DeleteByIdentities(_ context.Context, entityType string, identities []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range identities {
		delete(s.records, recordKey(entityType, id))
	}
	return nil
}

func customerBatch() []Syncable {
	return []Syncable{
		&Customer{ProfileID: "C001", Name: "Rossi Srl", City: "Milano"},
		&Customer{ProfileID: "C002", Name: "Bianchi Spa", City: "Torino"},
		&Customer{ProfileID: "C003", Name: "Verdi Snc", City: "Roma"},
	}
}

func TestReconcileIdempotent(t *testing.T) {
	ctx := context.Background()
	store := newMemoryRecordStore()
	engine, err := NewDeltaEngine(store, nil)
	if err != nil {
		t.Fatalf("NewDeltaEngine returned error: %v", err)
	}

	first, err := engine.Reconcile(ctx, SyncTypeCustomers, customerBatch())
	if err != nil {
		t.Fatalf("first reconcile error: %v", err)
	}
	if first.Inserted != 3 || first.Updated != 0 || first.Unchanged != 0 {
		t.Fatalf("first pass: want 3/0/0, got %d/%d/%d", first.Inserted, first.Updated, first.Unchanged)
	}

	second, err := engine.Reconcile(ctx, SyncTypeCustomers, customerBatch())
	if err != nil {
		t.Fatalf("second reconcile error: %v", err)
	}
	if second.Inserted != 0 || second.Updated != 0 || second.Unchanged != 3 {
		t.Fatalf("second pass: want 0/0/3, got %d/%d/%d", second.Inserted, second.Updated, second.Unchanged)
	}
}

func TestReconcilePartialUpdate(t *testing.T) {
	ctx := context.Background()
	store := newMemoryRecordStore()
	engine, err := NewDeltaEngine(store, nil)
	if err != nil {
		t.Fatalf("NewDeltaEngine returned error: %v", err)
	}
	if _, err := engine.Reconcile(ctx, SyncTypeCustomers, customerBatch()); err != nil {
		t.Fatalf("seed reconcile error: %v", err)
	}

	changed := customerBatch()
	changed[1].(*Customer).City = "Genova"
	result, err := engine.Reconcile(ctx, SyncTypeCustomers, changed)
	if err != nil {
		t.Fatalf("reconcile error: %v", err)
	}
	if result.Updated != 1 || result.Unchanged != 2 || result.Inserted != 0 {
		t.Fatalf("want updated=1 unchanged=2, got %d/%d (inserted=%d)", result.Updated, result.Unchanged, result.Inserted)
	}
}

func TestReconcileEnrichmentFailureSkipsRecordOnly(t *testing.T) {
	ctx := context.Background()
	store := newMemoryRecordStore()
	enrich := func(_ context.Context, record Syncable) error {
		if record.Identity() == "C002" {
			return errors.New("vat rate lookup failed")
		}
		return nil
	}
	engine, err := NewDeltaEngine(store, enrich)
	if err != nil {
		t.Fatalf("NewDeltaEngine returned error: %v", err)
	}

	result, err := engine.Reconcile(ctx, SyncTypeCustomers, customerBatch())
	if err != nil {
		t.Fatalf("reconcile error: %v", err)
	}
	if result.Inserted != 2 || result.Failed != 1 {
		t.Fatalf("want inserted=2 failed=1, got inserted=%d failed=%d", result.Inserted, result.Failed)
	}
	if rec, _ := store.GetByIdentity(ctx, SyncTypeCustomers, "C002"); rec != nil {
		t.Fatalf("failed record must not be persisted")
	}
}

func TestReconcileSingleBatchWrite(t *testing.T) {
	ctx := context.Background()
	store := newMemoryRecordStore()
	engine, err := NewDeltaEngine(store, nil)
	if err != nil {
		t.Fatalf("NewDeltaEngine returned error: %v", err)
	}
	if _, err := engine.Reconcile(ctx, SyncTypeCustomers, customerBatch()); err != nil {
		t.Fatalf("reconcile error: %v", err)
	}
	if store.batches != 1 {
		t.Fatalf("expected one transactional batch, got %d", store.batches)
	}
}

func TestFindDeleted(t *testing.T) {
	ctx := context.Background()
	store := newMemoryRecordStore()
	engine, err := NewDeltaEngine(store, nil)
	if err != nil {
		t.Fatalf("NewDeltaEngine returned error: %v", err)
	}
	if _, err := engine.Reconcile(ctx, SyncTypeCustomers, customerBatch()); err != nil {
		t.Fatalf("reconcile error: %v", err)
	}

	deleted, err := engine.FindDeleted(ctx, SyncTypeCustomers, []string{"C001", "C003"})
	if err != nil {
		t.Fatalf("FindDeleted error: %v", err)
	}
	if len(deleted) != 1 || deleted[0] != "C002" {
		t.Fatalf("want [C002], got %v", deleted)
	}

	if err := engine.DeleteRecords(ctx, SyncTypeCustomers, deleted); err != nil {
		t.Fatalf("DeleteRecords error: %v", err)
	}
	if rec, _ := store.GetByIdentity(ctx, SyncTypeCustomers, "C002"); rec != nil {
		t.Fatalf("C002 should be deleted")
	}
}
