package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rl1809/inventory-scan/internal/core/domain"
)

func newTestResolver(store *mockRecordStore, cfg ResolverConfig) *ResolverService {
	return NewResolverService(store, NewNormalizer(NormalizerConfig{}), cfg, nil)
}

func storeRecord(t *testing.T, store *mockRecordStore, key string, rec domain.InventoryRecord) domain.InventoryRecord {
	t.Helper()
	_, err := GenerateLinkedCodes(&rec)
	require.NoError(t, err)
	data, err := domain.EncodeRecord(rec)
	require.NoError(t, err)
	store.put(key, string(data))
	return rec
}

func TestResolve_DirectKey(t *testing.T) {
	store := newMockRecordStore()
	rec := storeRecord(t, store, "inventory:LED ScreenPanel|INV000123", domain.InventoryRecord{
		ProductIdentifier: "PRD000001", InventoryIdentifier: "INV000123", Name: "LED ScreenPanel",
	})
	r := newTestResolver(store, ResolverConfig{})

	res, err := r.Resolve(context.Background(), "LED ScreenPanelINV000123")
	require.NoError(t, err)
	require.NotNil(t, res)

	assert.Equal(t, StrategyDirect, res.Strategy)
	assert.Equal(t, "inventory:LED ScreenPanel|INV000123", res.Key)
	assert.Equal(t, rec.ID, res.Record.ID)
	assert.True(t, res.Verified)
}

func TestResolve_DelimitedPart(t *testing.T) {
	store := newMockRecordStore()
	storeRecord(t, store, "INV000123", domain.InventoryRecord{InventoryIdentifier: "INV000123", Name: "LED ScreenPanel"})
	r := newTestResolver(store, ResolverConfig{})

	res, err := r.Resolve(context.Background(), "LED ScreenPanelINV000123")
	require.NoError(t, err)
	require.NotNil(t, res)

	assert.Equal(t, StrategyDelimited, res.Strategy)
	assert.Equal(t, "INV000123", res.Key)
}

func TestResolve_URLInput(t *testing.T) {
	store := newMockRecordStore()
	storeRecord(t, store, "inventory:SteelRod|INV003", domain.InventoryRecord{InventoryIdentifier: "INV003", Name: "SteelRod"})
	r := newTestResolver(store, ResolverConfig{})

	res, err := r.Resolve(context.Background(), "https://host/api/v1/scan/SteelRodINV003")
	require.NoError(t, err)
	require.NotNil(t, res)

	assert.Equal(t, StrategyDirect, res.Strategy)
	assert.Equal(t, "SteelRod", res.Record.Name)
}

func TestResolve_FallsBackToIdentifierIndex(t *testing.T) {
	store := newMockRecordStore()
	rec := storeRecord(t, store, "inventory:Tripod|INV000001", domain.InventoryRecord{
		ProductIdentifier: "PRD000009", InventoryIdentifier: "INV000001", Name: "Tripod",
	})
	store.put(domain.IndexKey("INV000001"), "inventory:Tripod|INV000001")
	r := newTestResolver(store, ResolverConfig{})

	res, err := r.Resolve(context.Background(), "INV000001")
	require.NoError(t, err)
	require.NotNil(t, res)

	assert.Equal(t, StrategyIndex, res.Strategy)
	assert.Equal(t, rec.ID, res.Record.ID)

	// Direct and delimited lookups ran, and missed, before the index
	assert.Equal(t, []string{
		"inventory:|INV000001",
		"inventory:",
		"INV000001",
		"inventory:id:INV000001",
		"inventory:Tripod|INV000001",
	}, store.gets)
}

func TestResolve_MalformedDirectHitIsSkipped(t *testing.T) {
	store := newMockRecordStore()
	store.put("inventory:Tripod|INV000001", `not json`)
	storeRecord(t, store, "inventory:Tripod v2|INV000001", domain.InventoryRecord{InventoryIdentifier: "INV000001", Name: "Tripod v2"})
	store.put(domain.IndexKey("INV000001"), "inventory:Tripod v2|INV000001")
	r := newTestResolver(store, ResolverConfig{})

	res, err := r.Resolve(context.Background(), "Tripod|INV000001")
	require.NoError(t, err)
	require.NotNil(t, res)

	assert.Equal(t, StrategyIndex, res.Strategy)
	assert.Equal(t, "Tripod v2", res.Record.Name)
}

func TestResolve_ShapeCheckRejectsObjectsWithoutIdentifiers(t *testing.T) {
	store := newMockRecordStore()
	store.put("inventory:|INV000001", `{"quantity": 3}`)
	r := newTestResolver(store, ResolverConfig{})

	res, err := r.Resolve(context.Background(), "INV000001")
	require.NoError(t, err)
	assert.Nil(t, res)
}

func TestResolve_WildcardScan(t *testing.T) {
	store := newMockRecordStore()
	rec := storeRecord(t, store, "legacy:Tripod-INV000777", domain.InventoryRecord{InventoryIdentifier: "INV000777", Name: "Tripod"})
	r := newTestResolver(store, ResolverConfig{ScanBatchSize: 1})

	res, err := r.Resolve(context.Background(), "INV000777")
	require.NoError(t, err)
	require.NotNil(t, res)

	assert.Equal(t, StrategyScan, res.Strategy)
	assert.Equal(t, "legacy:Tripod-INV000777", res.Key)
	assert.Equal(t, rec.ID, res.Record.ID)
}

func TestResolve_WildcardScanPicksSmallestKey(t *testing.T) {
	store := newMockRecordStore()
	storeRecord(t, store, "legacy:b-INV0001", domain.InventoryRecord{InventoryIdentifier: "INV0001", Name: "b"})
	storeRecord(t, store, "legacy:a-INV0001", domain.InventoryRecord{InventoryIdentifier: "INV0001", Name: "a"})
	r := newTestResolver(store, ResolverConfig{})

	res, err := r.Resolve(context.Background(), "INV0001")
	require.NoError(t, err)
	require.NotNil(t, res)

	assert.Equal(t, "legacy:a-INV0001", res.Key)
}

func TestResolve_WildcardScanSkipsBadCandidates(t *testing.T) {
	store := newMockRecordStore()
	store.put("legacy:a-INV0005", `{"broken":`)
	// Key matches but the record carries a different identifier
	storeRecord(t, store, "legacy:b-INV0005", domain.InventoryRecord{InventoryIdentifier: "INV9999", Name: "b"})
	store.put(domain.IndexKey("INV00055"), "legacy:c-INV00055")
	storeRecord(t, store, "legacy:d-INV0005", domain.InventoryRecord{InventoryIdentifier: "INV0005", Name: "d"})
	r := newTestResolver(store, ResolverConfig{})

	res, err := r.Resolve(context.Background(), "INV0005")
	require.NoError(t, err)
	require.NotNil(t, res)

	assert.Equal(t, "legacy:d-INV0005", res.Key)
}

func TestResolve_WildcardScanIterationCap(t *testing.T) {
	store := newMockRecordStore()
	store.put("a-INV0009", "junk")
	storeRecord(t, store, "b-INV0009", domain.InventoryRecord{InventoryIdentifier: "INV0009", Name: "b"})
	r := newTestResolver(store, ResolverConfig{ScanBatchSize: 1, ScanMaxIterations: 1})

	res, err := r.Resolve(context.Background(), "INV0009")
	require.NoError(t, err)
	assert.Nil(t, res)
}

func TestResolve_WildcardScanTimeBudgetIsAMiss(t *testing.T) {
	store := newMockRecordStore()
	storeRecord(t, store, "b-INV0009", domain.InventoryRecord{InventoryIdentifier: "INV0009", Name: "b"})
	r := newTestResolver(store, ResolverConfig{ScanTimeout: time.Nanosecond})

	res, err := r.Resolve(context.Background(), "INV0009")
	require.NoError(t, err)
	assert.Nil(t, res)
}

func TestResolve_NotFound(t *testing.T) {
	store := newMockRecordStore()
	storeRecord(t, store, "inventory:Tripod|INV000001", domain.InventoryRecord{InventoryIdentifier: "INV000001", Name: "Tripod"})
	r := newTestResolver(store, ResolverConfig{})

	for _, in := range []string{"inventory:id:INV999", "no identifiers here", "   "} {
		res, err := r.Resolve(context.Background(), in)
		require.NoError(t, err, "input %q", in)
		assert.Nil(t, res, "input %q", in)
	}
}

func TestResolve_StoreUnavailablePropagates(t *testing.T) {
	store := newMockRecordStore()
	store.failAll = true
	r := newTestResolver(store, ResolverConfig{})

	res, err := r.Resolve(context.Background(), "INV000001")
	assert.Nil(t, res)
	assert.ErrorIs(t, err, ErrStoreUnavailable)
	assert.ErrorIs(t, err, errStoreDown)
}

func TestResolve_ScanFailurePropagates(t *testing.T) {
	store := newMockRecordStore()
	store.failScan = true
	r := newTestResolver(store, ResolverConfig{})

	_, err := r.Resolve(context.Background(), "INV000001")
	assert.ErrorIs(t, err, ErrStoreUnavailable)
}

func TestResolve_TamperedRecordIsFlagged(t *testing.T) {
	store := newMockRecordStore()
	rec := domain.InventoryRecord{InventoryIdentifier: "INV000001", Name: "Tripod"}
	_, err := GenerateLinkedCodes(&rec)
	require.NoError(t, err)
	rec.ScanCode = "000000000000"
	data, err := domain.EncodeRecord(rec)
	require.NoError(t, err)
	store.put("inventory:Tripod|INV000001", string(data))
	r := newTestResolver(store, ResolverConfig{})

	res, err := r.Resolve(context.Background(), "Tripod|INV000001")
	require.NoError(t, err)
	require.NotNil(t, res)

	assert.False(t, res.Verified)
}

func TestResolve_LegacyRecordShape(t *testing.T) {
	store := newMockRecordStore()
	store.put("inventory:Tripod|INV000001", `{
		"uuid": "u1",
		"productId": "PRD1",
		"inventory_id": "INV000001",
		"name": "Tripod",
		"craeted_at": "2024-01-15T10:30:00.123456"
	}`)
	r := newTestResolver(store, ResolverConfig{})

	res, err := r.Resolve(context.Background(), "Tripod|INV000001")
	require.NoError(t, err)
	require.NotNil(t, res)

	assert.Equal(t, "u1", res.Record.ID)
	assert.Equal(t, "PRD1", res.Record.ProductIdentifier)
	assert.Equal(t, time.Date(2024, 1, 15, 10, 30, 0, 123456000, time.UTC), res.Record.CreatedAt)
	assert.False(t, res.Verified)
}

func TestLookup_ExactKeyOnly(t *testing.T) {
	store := newMockRecordStore()
	rec := storeRecord(t, store, "inventory:Tripod|INV000001", domain.InventoryRecord{InventoryIdentifier: "INV000001", Name: "Tripod"})
	r := newTestResolver(store, ResolverConfig{})
	ctx := context.Background()

	res, err := r.Lookup(ctx, "inventory:Tripod|INV000001")
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, rec.ScanCode, res.Record.ScanCode)
	assert.True(t, res.Verified)

	res, err = r.Lookup(ctx, "INV000001")
	require.NoError(t, err)
	assert.Nil(t, res)

	store.failAll = true
	_, err = r.Lookup(ctx, "inventory:Tripod|INV000001")
	assert.ErrorIs(t, err, ErrStoreUnavailable)
}

func TestResolve_ScanCodeThroughClaim(t *testing.T) {
	store := newMockRecordStore()
	rec := storeRecord(t, store, "inventory:Tripod|INV000001", domain.InventoryRecord{InventoryIdentifier: "INV000001", Name: "Tripod"})
	store.put(domain.ScanCodeKey(rec.ScanCode), "inventory:Tripod|INV000001")
	r := newTestResolver(store, ResolverConfig{})

	res, err := r.Resolve(context.Background(), " "+rec.ScanCode+"\n")
	require.NoError(t, err)
	require.NotNil(t, res)

	assert.Equal(t, StrategyScanCode, res.Strategy)
	assert.Equal(t, "inventory:Tripod|INV000001", res.Key)
	assert.Equal(t, rec.ID, res.Record.ID)
	assert.True(t, res.Verified)
}

func TestResolve_ScanCodeClaimForOtherRecordIsAMiss(t *testing.T) {
	store := newMockRecordStore()
	storeRecord(t, store, "inventory:Tripod|INV000001", domain.InventoryRecord{InventoryIdentifier: "INV000001", Name: "Tripod"})
	store.put(domain.ScanCodeKey("123456789012"), "inventory:Tripod|INV000001")
	r := newTestResolver(store, ResolverConfig{})

	res, err := r.Resolve(context.Background(), "123456789012")
	require.NoError(t, err)
	assert.Nil(t, res)
}

func TestResolve_ScanCodeStoreFailurePropagates(t *testing.T) {
	store := newMockRecordStore()
	store.failAll = true
	r := newTestResolver(store, ResolverConfig{})

	_, err := r.Resolve(context.Background(), "123456789012")
	assert.ErrorIs(t, err, ErrStoreUnavailable)
}
