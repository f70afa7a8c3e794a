package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rl1809/inventory-scan/internal/core/domain"
)

// Mock RecordRepository, versioned like the MySQL adapter
type mockRecordRepo struct {
	mu        sync.Mutex
	records   map[string]domain.InventoryRecord
	createErr error
	updateErr error
	// updateDelay holds an update back before it is applied
	updateDelay func(rec domain.InventoryRecord) time.Duration
}

func newMockRecordRepo() *mockRecordRepo {
	return &mockRecordRepo{records: make(map[string]domain.InventoryRecord)}
}

func (m *mockRecordRepo) CreateRecord(ctx context.Context, rec domain.InventoryRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return m.createErr
	}
	m.records[rec.ID] = rec
	return nil
}

func (m *mockRecordRepo) GetRecord(ctx context.Context, id string) (*domain.InventoryRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[id]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

func (m *mockRecordRepo) UpdateRecord(ctx context.Context, rec domain.InventoryRecord) error {
	if m.updateDelay != nil {
		time.Sleep(m.updateDelay(rec))
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.updateErr != nil {
		return m.updateErr
	}
	current, ok := m.records[rec.ID]
	if !ok {
		return domain.ErrRecordNotFound
	}
	if current.Version >= rec.Version {
		return domain.ErrOptimisticLock
	}
	m.records[rec.ID] = rec
	return nil
}

type countingRollbacker struct {
	calls int
}

func (c *countingRollbacker) Rollback(ctx context.Context, job PersistJob) error {
	c.calls++
	return nil
}

func (m *mockRecordRepo) DeleteRecord(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[id]; !ok {
		return domain.ErrRecordNotFound
	}
	delete(m.records, id)
	return nil
}

func runWorker(svc *RegistrationService, repo *mockRecordRepo) *sync.WaitGroup {
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		RunPersistenceWorker(0, svc.Jobs(), repo, svc, nil)
	}()
	return &wg
}

func TestPersistenceWorker_AppliesJobs(t *testing.T) {
	store := newMockRecordStore()
	repo := newMockRecordRepo()
	svc := newTestRegistration(store)
	wg := runWorker(svc, repo)

	ctx := context.Background()
	rec, key, err := svc.Register(ctx, validRecord())
	require.NoError(t, err)

	qty := 1
	_, err = svc.Update(ctx, key, domain.RecordPatch{Quantity: &qty})
	require.NoError(t, err)

	svc.Close()
	wg.Wait()

	saved, err := repo.GetRecord(ctx, rec.ID)
	require.NoError(t, err)
	require.NotNil(t, saved)
	assert.Equal(t, 1, saved.Quantity)
	assert.Equal(t, 1, saved.Version)
	assert.Equal(t, rec.ScanCode, saved.ScanCode)
}

func TestPersistenceWorker_DeleteJob(t *testing.T) {
	store := newMockRecordStore()
	repo := newMockRecordRepo()
	svc := newTestRegistration(store)
	wg := runWorker(svc, repo)

	ctx := context.Background()
	rec, key, err := svc.Register(ctx, validRecord())
	require.NoError(t, err)
	require.NoError(t, svc.Delete(ctx, key))

	svc.Close()
	wg.Wait()

	saved, err := repo.GetRecord(ctx, rec.ID)
	require.NoError(t, err)
	assert.Nil(t, saved)
}

func TestPersistenceWorker_RollbackOnCreateFailure(t *testing.T) {
	store := newMockRecordStore()
	repo := newMockRecordRepo()
	repo.createErr = errors.New("duplicate entry")
	svc := newTestRegistration(store)
	wg := runWorker(svc, repo)

	_, key, err := svc.Register(context.Background(), validRecord())
	require.NoError(t, err)

	svc.Close()
	wg.Wait()

	// Store must no longer resolve the record
	assert.False(t, store.has(key))
	assert.Empty(t, store.matching("inventory:*"))
}

func TestPersistenceWorker_UpdateFailureKeepsStore(t *testing.T) {
	store := newMockRecordStore()
	repo := newMockRecordRepo()
	repo.updateErr = errors.New("connection reset")
	svc := newTestRegistration(store)
	wg := runWorker(svc, repo)

	ctx := context.Background()
	_, key, err := svc.Register(ctx, validRecord())
	require.NoError(t, err)
	name := "Renamed"
	_, err = svc.Update(ctx, key, domain.RecordPatch{Name: &name})
	require.NoError(t, err)

	svc.Close()
	wg.Wait()

	stored, err := domain.DecodeRecord([]byte(store.value(key)))
	require.NoError(t, err)
	assert.Equal(t, "Renamed", stored.Name)
}

func TestPersistJob_StaleUpdateIsSkipped(t *testing.T) {
	repo := newMockRecordRepo()
	rb := &countingRollbacker{}
	ctx := context.Background()

	rec := validRecord()
	rec.ID = "r1"
	rec.Version = 2
	rec.Quantity = 2
	require.NoError(t, repo.CreateRecord(ctx, rec))

	late := rec
	late.Version = 1
	late.Quantity = 1
	persistJob(ctx, PersistJob{Op: PersistUpdate, Key: "k", Record: late}, repo, rb, slog.Default())

	saved, err := repo.GetRecord(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, 2, saved.Version)
	assert.Equal(t, 2, saved.Quantity)
	assert.Zero(t, rb.calls)
}

func TestPersistencePool_KeepsPerRecordOrder(t *testing.T) {
	store := newMockRecordStore()
	repo := newMockRecordRepo()
	// Odd versions are slow, so a later even version would overtake them on
	// another worker
	repo.updateDelay = func(rec domain.InventoryRecord) time.Duration {
		if rec.Version%2 == 1 {
			return 2 * time.Millisecond
		}
		return 0
	}
	svc := NewRegistrationService(store, 5, 1000, nil)

	var pool sync.WaitGroup
	pool.Add(1)
	go func() {
		defer pool.Done()
		RunPersistencePool(4, svc.Jobs(), repo, svc, nil)
	}()

	ctx := context.Background()
	const records, updates = 12, 4
	ids := make([]string, records)
	for i := 0; i < records; i++ {
		in := validRecord()
		in.InventoryIdentifier = fmt.Sprintf("INV%06d", i)
		rec, key, err := svc.Register(ctx, in)
		require.NoError(t, err)
		ids[i] = rec.ID

		for q := 1; q <= updates; q++ {
			qty := q
			_, err := svc.Update(ctx, key, domain.RecordPatch{Quantity: &qty})
			require.NoError(t, err)
		}
		if i%3 == 0 {
			require.NoError(t, svc.Delete(ctx, key))
		}
	}

	svc.Close()
	pool.Wait()

	for i, id := range ids {
		saved, err := repo.GetRecord(ctx, id)
		require.NoError(t, err)
		if i%3 == 0 {
			assert.Nil(t, saved, "record %d should be deleted", i)
			continue
		}
		require.NotNil(t, saved, "record %d", i)
		assert.Equal(t, updates, saved.Version, "record %d", i)
		assert.Equal(t, updates, saved.Quantity, "record %d", i)
	}
}

func TestWorkerFor_StableAndInRange(t *testing.T) {
	for _, id := range []string{"", "a", "0f8c2d5e-9a7b-4c1d-8e2f-3a4b5c6d7e8f"} {
		w := workerFor(id, 7)
		assert.GreaterOrEqual(t, w, 0)
		assert.Less(t, w, 7)
		assert.Equal(t, w, workerFor(id, 7))
	}
}
