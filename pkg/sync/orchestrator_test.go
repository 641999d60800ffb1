package sync

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/atlasfin/suitesync/pkg/metrics"
	"github.com/atlasfin/suitesync/pkg/models"
	"github.com/atlasfin/suitesync/pkg/netsuite"
	"github.com/atlasfin/suitesync/pkg/syncerrors"
)

// fakeAPI serves canned pages per entity table and records the queries it saw.
type fakeAPI struct {
	vendorPages      [][]map[string]interface{}
	transactionPages [][]map[string]interface{}
	vendorErr        error
	transactionErr   error

	queries []string
	limits  []int
	offsets []int

	vendorCall      int
	transactionCall int
}

func (f *fakeAPI) QuerySuiteQL(ctx context.Context, query string, limit, offset int) (*netsuite.QueryResult, error) {
	f.queries = append(f.queries, query)
	f.limits = append(f.limits, limit)
	f.offsets = append(f.offsets, offset)

	var pages [][]map[string]interface{}
	var call *int
	if strings.Contains(query, "FROM vendor") {
		if f.vendorErr != nil {
			return nil, f.vendorErr
		}
		pages, call = f.vendorPages, &f.vendorCall
	} else {
		if f.transactionErr != nil {
			return nil, f.transactionErr
		}
		pages, call = f.transactionPages, &f.transactionCall
	}

	if *call >= len(pages) {
		return &netsuite.QueryResult{}, nil
	}
	page := pages[*call]
	*call++
	if len(page) > limit {
		page = page[:limit]
	}
	return &netsuite.QueryResult{
		Items:   page,
		HasMore: *call < len(pages),
		Count:   len(page),
		Offset:  offset,
	}, nil
}

// fakeStore is an in-memory Store capturing writes.
type fakeStore struct {
	maxCreated map[models.EntityType]*time.Time
	docs       map[string]models.FieldDocument

	vendors      []*models.Vendor
	transactions []*models.Transaction
	batches      int
	cursors      map[models.EntityType]*models.SyncCursor

	upsertErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		maxCreated: map[models.EntityType]*time.Time{},
		docs:       map[string]models.FieldDocument{},
		cursors:    map[models.EntityType]*models.SyncCursor{},
	}
}

func (s *fakeStore) MaxCreatedDate(ctx context.Context, entity models.EntityType) (*time.Time, error) {
	return s.maxCreated[entity], nil
}

func (s *fakeStore) CustomFields(ctx context.Context, entity models.EntityType, id string) (models.FieldDocument, bool, error) {
	doc, ok := s.docs[string(entity)+"/"+id]
	return doc, ok, nil
}

func (s *fakeStore) UpsertVendors(ctx context.Context, vendors []*models.Vendor) error {
	if s.upsertErr != nil {
		return s.upsertErr
	}
	s.vendors = append(s.vendors, vendors...)
	s.batches++
	return nil
}

func (s *fakeStore) UpsertTransactions(ctx context.Context, records []*models.Transaction) error {
	if s.upsertErr != nil {
		return s.upsertErr
	}
	s.transactions = append(s.transactions, records...)
	s.batches++
	return nil
}

func (s *fakeStore) Cursor(ctx context.Context, entity models.EntityType) (*models.SyncCursor, error) {
	return s.cursors[entity], nil
}

func (s *fakeStore) SaveCursor(ctx context.Context, c *models.SyncCursor) error {
	s.cursors[c.RecordType] = c
	return nil
}

func newTestOrchestrator(api API, store Store, batchSize int) *Orchestrator {
	o := New(api, store, batchSize, zap.NewNop(), metrics.New(prometheus.NewRegistry()))
	o.now = func() time.Time { return time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC) }
	return o
}

func vendorRow(id, created string) map[string]interface{} {
	return map[string]interface{}{
		"id":                id,
		"entityid":          "V-" + id,
		"companyname":       "Company " + id,
		"datecreated":       created,
		"custentity_region": "EMEA",
	}
}

func billRow(id, created string) map[string]interface{} {
	return map[string]interface{}{
		"id":          id,
		"entity":      "77",
		"tranid":      "BILL-" + id,
		"createddate": created,
		"usertotal":   100.0,
	}
}

func TestSync_FullSync(t *testing.T) {
	api := &fakeAPI{
		vendorPages: [][]map[string]interface{}{
			{vendorRow("1", "2026-01-10"), vendorRow("2", "2026-02-20")},
		},
		transactionPages: [][]map[string]interface{}{
			{billRow("900", "2026-02-01")},
		},
	}
	store := newFakeStore()
	o := newTestOrchestrator(api, store, 250)

	result, err := o.Sync(context.Background(), Options{Scope: ScopeAll})
	require.NoError(t, err)

	require.Len(t, result.Entities, 2)
	assert.Equal(t, 2, result.Entities[models.EntityVendor].Synced)
	assert.Equal(t, 1, result.Entities[models.EntityTransaction].Synced)
	assert.True(t, result.Entities[models.EntityVendor].FullSync)
	assert.Equal(t, 3, result.Synced())

	require.Len(t, store.vendors, 2)
	v := store.vendors[0]
	assert.Equal(t, "1", v.ID)
	assert.Equal(t, "V-1", v.EntityID)
	assert.Equal(t, "EMEA", v.CustomFields["custentity_region"].Value)
	assert.Equal(t, o.now(), v.SyncedAt)
	assert.Equal(t, o.now().Unix(), v.SchemaVersion)

	cursor := store.cursors[models.EntityVendor]
	require.NotNil(t, cursor)
	assert.True(t, cursor.IsFullSync)
	assert.Equal(t, 2, cursor.RecordsSynced)
	assert.Equal(t, models.SyncStatusCompleted, cursor.Status)
	require.NotNil(t, cursor.ResumeWatermark)
	assert.Equal(t, time.Date(2026, 2, 20, 0, 0, 0, 0, time.UTC), *cursor.ResumeWatermark)
}

func TestSync_EmptyFetchFreezesCursor(t *testing.T) {
	api := &fakeAPI{}
	store := newFakeStore()
	existing := &models.SyncCursor{
		RecordType:        models.EntityVendor,
		LastSyncTimestamp: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		RecordsSynced:     40,
	}
	store.cursors[models.EntityVendor] = existing

	o := newTestOrchestrator(api, store, 250)

	result, err := o.Sync(context.Background(), Options{Scope: ScopeVendors})
	require.NoError(t, err)

	report := result.Entities[models.EntityVendor]
	assert.True(t, report.EmptyFetch)
	assert.Zero(t, report.Synced)
	assert.Nil(t, report.Err)

	assert.Same(t, existing, store.cursors[models.EntityVendor],
		"a zero-record run must not touch the cursor")
	assert.Empty(t, store.vendors)
}

func TestSync_IncrementalUsesHighWaterMark(t *testing.T) {
	watermark := time.Date(2026, 2, 20, 8, 30, 0, 0, time.UTC)
	store := newFakeStore()
	store.maxCreated[models.EntityVendor] = &watermark

	api := &fakeAPI{
		vendorPages: [][]map[string]interface{}{{vendorRow("3", "2026-02-25")}},
	}
	o := newTestOrchestrator(api, store, 250)

	result, err := o.Sync(context.Background(), Options{Scope: ScopeVendors})
	require.NoError(t, err)

	assert.False(t, result.Entities[models.EntityVendor].FullSync)
	require.NotEmpty(t, api.queries)
	assert.Contains(t, api.queries[0], "datecreated >= TO_DATE('2026-02-20', 'YYYY-MM-DD')")
}

func TestSync_ForceFullIgnoresWatermark(t *testing.T) {
	watermark := time.Date(2026, 2, 20, 0, 0, 0, 0, time.UTC)
	store := newFakeStore()
	store.maxCreated[models.EntityVendor] = &watermark

	api := &fakeAPI{
		vendorPages: [][]map[string]interface{}{{vendorRow("1", "2026-01-10")}},
	}
	o := newTestOrchestrator(api, store, 250)

	result, err := o.Sync(context.Background(), Options{Scope: ScopeVendors, ForceFull: true})
	require.NoError(t, err)

	assert.True(t, result.Entities[models.EntityVendor].FullSync)
	assert.NotContains(t, api.queries[0], "TO_DATE")
}

func TestSync_WatermarkNeverRegresses(t *testing.T) {
	// A capped full sync fetches the oldest records first; finishing below
	// the stored watermark must not move it backwards.
	prior := time.Date(2026, 2, 20, 0, 0, 0, 0, time.UTC)
	store := newFakeStore()
	store.cursors[models.EntityVendor] = &models.SyncCursor{
		RecordType:      models.EntityVendor,
		ResumeWatermark: &prior,
	}

	api := &fakeAPI{
		vendorPages: [][]map[string]interface{}{{vendorRow("1", "2025-01-10")}},
	}
	o := newTestOrchestrator(api, store, 250)

	_, err := o.Sync(context.Background(), Options{
		Scope: ScopeVendors, ForceFull: true, Limit: 1,
	})
	require.NoError(t, err)

	cursor := store.cursors[models.EntityVendor]
	require.NotNil(t, cursor.ResumeWatermark)
	assert.Equal(t, prior, *cursor.ResumeWatermark,
		"an older batch maximum must not pull the watermark back")
	assert.Equal(t, 1, cursor.RecordsSynced, "the rest of the cursor still updates")
	assert.Equal(t, models.SyncStatusCompleted, cursor.Status)
}

func TestSync_WatermarkAdvancesForward(t *testing.T) {
	prior := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	store := newFakeStore()
	store.cursors[models.EntityVendor] = &models.SyncCursor{
		RecordType:      models.EntityVendor,
		ResumeWatermark: &prior,
	}

	api := &fakeAPI{
		vendorPages: [][]map[string]interface{}{{vendorRow("2", "2026-02-15")}},
	}
	o := newTestOrchestrator(api, store, 250)

	_, err := o.Sync(context.Background(), Options{Scope: ScopeVendors})
	require.NoError(t, err)

	cursor := store.cursors[models.EntityVendor]
	require.NotNil(t, cursor.ResumeWatermark)
	assert.Equal(t, time.Date(2026, 2, 15, 0, 0, 0, 0, time.UTC), *cursor.ResumeWatermark)
}

func TestSync_Pagination(t *testing.T) {
	api := &fakeAPI{
		vendorPages: [][]map[string]interface{}{
			{vendorRow("1", "2026-01-01"), vendorRow("2", "2026-01-02")},
			{vendorRow("3", "2026-01-03")},
		},
	}
	store := newFakeStore()
	o := newTestOrchestrator(api, store, 2)

	result, err := o.Sync(context.Background(), Options{Scope: ScopeVendors})
	require.NoError(t, err)

	assert.Equal(t, 3, result.Entities[models.EntityVendor].Synced)
	assert.Equal(t, 2, store.batches, "each page commits separately")
	assert.Equal(t, []int{0, 2}, api.offsets)
}

func TestSync_LimitCapsFetch(t *testing.T) {
	api := &fakeAPI{
		vendorPages: [][]map[string]interface{}{
			{vendorRow("1", "2026-01-01"), vendorRow("2", "2026-01-02")},
			{vendorRow("3", "2026-01-03")},
		},
	}
	store := newFakeStore()
	o := newTestOrchestrator(api, store, 2)

	result, err := o.Sync(context.Background(), Options{Scope: ScopeVendors, Limit: 2})
	require.NoError(t, err)

	assert.Equal(t, 2, result.Entities[models.EntityVendor].Synced)
	assert.Len(t, store.vendors, 2)
}

func TestSync_DryRunWritesNothing(t *testing.T) {
	api := &fakeAPI{
		vendorPages: [][]map[string]interface{}{{vendorRow("1", "2026-01-10")}},
	}
	store := newFakeStore()
	o := newTestOrchestrator(api, store, 250)

	result, err := o.Sync(context.Background(), Options{Scope: ScopeVendors, DryRun: true})
	require.NoError(t, err)

	assert.Equal(t, 1, result.Entities[models.EntityVendor].Synced)
	assert.Empty(t, store.vendors)
	assert.Empty(t, store.cursors)
}

func TestSync_EntityFailureIsIsolated(t *testing.T) {
	api := &fakeAPI{
		vendorErr: syncerrors.New(syncerrors.ErrorTypeConnection,
			"request failed after 3 attempts"),
		transactionPages: [][]map[string]interface{}{{billRow("900", "2026-02-01")}},
	}
	store := newFakeStore()
	o := newTestOrchestrator(api, store, 250)

	result, err := o.Sync(context.Background(), Options{Scope: ScopeAll})
	require.Error(t, err)

	assert.Error(t, result.Entities[models.EntityVendor].Err)
	assert.NoError(t, result.Entities[models.EntityTransaction].Err)
	assert.Equal(t, 1, result.Entities[models.EntityTransaction].Synced,
		"a vendor failure must not block the transaction sync")
	assert.NotNil(t, store.cursors[models.EntityTransaction])
	assert.Nil(t, store.cursors[models.EntityVendor])
}

func TestSync_FailureMarksCursorStatus(t *testing.T) {
	prior := time.Date(2026, 2, 20, 0, 0, 0, 0, time.UTC)
	lastRun := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	store := newFakeStore()
	store.cursors[models.EntityVendor] = &models.SyncCursor{
		RecordType:        models.EntityVendor,
		LastSyncTimestamp: lastRun,
		Status:            models.SyncStatusCompleted,
		RecordsSynced:     40,
		ResumeWatermark:   &prior,
	}

	api := &fakeAPI{
		vendorErr: syncerrors.New(syncerrors.ErrorTypeConnection,
			"request failed after 3 attempts"),
	}
	o := newTestOrchestrator(api, store, 250)

	_, err := o.Sync(context.Background(), Options{Scope: ScopeVendors})
	require.Error(t, err)

	cursor := store.cursors[models.EntityVendor]
	assert.Equal(t, models.SyncStatusFailed, cursor.Status)
	assert.Equal(t, lastRun, cursor.LastSyncTimestamp, "only the status changes")
	assert.Equal(t, 40, cursor.RecordsSynced)
	assert.Equal(t, prior, *cursor.ResumeWatermark)
}

func TestSync_DryRunLogsPreview(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	api := &fakeAPI{
		vendorPages: [][]map[string]interface{}{{vendorRow("1", "2026-01-10")}},
	}
	store := newFakeStore()
	o := New(api, store, 250, zap.New(core), metrics.New(prometheus.NewRegistry()))
	o.now = func() time.Time { return time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC) }

	_, err := o.Sync(context.Background(), Options{Scope: ScopeVendors, DryRun: true})
	require.NoError(t, err)

	previews := logs.FilterMessage("dry run preview").All()
	require.Len(t, previews, 1)
	fields := previews[0].ContextMap()
	assert.Equal(t, "1", fields["id"])
	assert.Equal(t, map[string]interface{}{"custentity_region": "EMEA"},
		fields["custom_fields"])
}

func TestSync_StoreFailureAbortsEntity(t *testing.T) {
	api := &fakeAPI{
		vendorPages: [][]map[string]interface{}{{vendorRow("1", "2026-01-10")}},
	}
	store := newFakeStore()
	store.upsertErr = syncerrors.New(syncerrors.ErrorTypeDatabase, "constraint violation")
	o := newTestOrchestrator(api, store, 250)

	result, err := o.Sync(context.Background(), Options{Scope: ScopeVendors})
	require.Error(t, err)
	assert.True(t, syncerrors.IsType(result.Entities[models.EntityVendor].Err,
		syncerrors.ErrorTypeDatabase))
	assert.Empty(t, store.cursors)
}

func TestSync_MergesExistingCustomFields(t *testing.T) {
	firstSeen := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	store := newFakeStore()
	store.docs["vendor/1"] = models.FieldDocument{
		"custentity_region": {Value: "APAC", FirstSeen: firstSeen, LastSeen: firstSeen},
		"custentity_gone":   {Value: "x", FirstSeen: firstSeen, LastSeen: firstSeen},
	}

	api := &fakeAPI{
		vendorPages: [][]map[string]interface{}{{vendorRow("1", "2026-01-10")}},
	}
	o := newTestOrchestrator(api, store, 250)

	_, err := o.Sync(context.Background(), Options{Scope: ScopeVendors})
	require.NoError(t, err)

	require.Len(t, store.vendors, 1)
	doc := store.vendors[0].CustomFields

	region := doc["custentity_region"]
	assert.Equal(t, "EMEA", region.Value, "value refreshed from upstream")
	assert.Equal(t, firstSeen, region.FirstSeen, "history survives the refresh")
	assert.False(t, region.Deprecated)

	gone, ok := doc["custentity_gone"]
	require.True(t, ok, "fields absent upstream are retained")
	assert.True(t, gone.Deprecated, "absent past the window gets flagged")
}

func TestSync_ScopeSelection(t *testing.T) {
	tests := []struct {
		scope Scope
		want  []models.EntityType
	}{
		{ScopeAll, []models.EntityType{models.EntityVendor, models.EntityTransaction}},
		{ScopeVendors, []models.EntityType{models.EntityVendor}},
		{ScopeTransactions, []models.EntityType{models.EntityTransaction}},
		{Scope(""), []models.EntityType{models.EntityVendor, models.EntityTransaction}},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, entitiesForScope(tt.scope), string(tt.scope))
	}
}

func TestSync_RecordWithoutID(t *testing.T) {
	api := &fakeAPI{
		vendorPages: [][]map[string]interface{}{
			{{"companyname": "No ID Corp"}},
		},
	}
	store := newFakeStore()
	o := newTestOrchestrator(api, store, 250)

	result, err := o.Sync(context.Background(), Options{Scope: ScopeVendors})
	require.Error(t, err)
	assert.True(t, syncerrors.IsType(result.Entities[models.EntityVendor].Err,
		syncerrors.ErrorTypeValidation))
	assert.Empty(t, store.vendors)
}
