// Package sync drives incremental synchronization runs: cursor resolution,
// paginated bulk fetch, field classification and lifecycle merge, and
// per-batch commits to the local mirror.
package sync

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/atlasfin/suitesync/pkg/fields"
	"github.com/atlasfin/suitesync/pkg/metrics"
	"github.com/atlasfin/suitesync/pkg/models"
	"github.com/atlasfin/suitesync/pkg/netsuite"
	"github.com/atlasfin/suitesync/pkg/syncerrors"
)

// API is the slice of the upstream client the orchestrator needs.
type API interface {
	QuerySuiteQL(ctx context.Context, query string, limit, offset int) (*netsuite.QueryResult, error)
}

// Store is the slice of the persistence layer the orchestrator needs.
type Store interface {
	MaxCreatedDate(ctx context.Context, entity models.EntityType) (*time.Time, error)
	CustomFields(ctx context.Context, entity models.EntityType, id string) (models.FieldDocument, bool, error)
	UpsertVendors(ctx context.Context, vendors []*models.Vendor) error
	UpsertTransactions(ctx context.Context, records []*models.Transaction) error
	Cursor(ctx context.Context, entity models.EntityType) (*models.SyncCursor, error)
	SaveCursor(ctx context.Context, c *models.SyncCursor) error
}

// Scope selects which entity types a run covers.
type Scope string

const (
	ScopeAll          Scope = "all"
	ScopeVendors      Scope = "vendors"
	ScopeTransactions Scope = "transactions"
)

// Options control a single sync run.
type Options struct {
	Scope Scope
	// ForceFull ignores the stored high-water mark and refetches everything
	ForceFull bool
	// Limit caps the number of records fetched per entity type; 0 is unlimited
	Limit int
	// DryRun fetches and classifies but writes nothing
	DryRun bool
}

// EntityReport summarizes one entity type's portion of a run.
type EntityReport struct {
	Synced   int
	FullSync bool
	// EmptyFetch marks a run that completed without upstream errors but
	// returned zero records. The cursor is left untouched so the condition
	// stays visible and recoverable.
	EmptyFetch bool
	Err        error
}

// Result is the outcome of a sync run across all requested entity types.
type Result struct {
	Entities map[models.EntityType]*EntityReport
}

// Synced returns the total records written across entity types
func (r *Result) Synced() int {
	total := 0
	for _, rep := range r.Entities {
		total += rep.Synced
	}
	return total
}

// Orchestrator coordinates a sync run. Entity types are processed
// independently: a vendor-side failure never blocks the transaction sync.
type Orchestrator struct {
	api     API
	store   Store
	metrics *metrics.Metrics
	logger  *zap.Logger

	batchSize int
	now       func() time.Time
}

// New creates an orchestrator with the given page size
func New(api API, store Store, batchSize int, log *zap.Logger, m *metrics.Metrics) *Orchestrator {
	return &Orchestrator{
		api:       api,
		store:     store,
		metrics:   m,
		logger:    log.With(zap.String("component", "orchestrator")),
		batchSize: batchSize,
		now:       time.Now,
	}
}

func entitiesForScope(scope Scope) []models.EntityType {
	switch scope {
	case ScopeVendors:
		return []models.EntityType{models.EntityVendor}
	case ScopeTransactions:
		return []models.EntityType{models.EntityTransaction}
	default:
		return []models.EntityType{models.EntityVendor, models.EntityTransaction}
	}
}

// Sync runs one synchronization pass. It always returns a Result, even when
// some entity types failed; the error joins the per-entity failures.
func (o *Orchestrator) Sync(ctx context.Context, opts Options) (*Result, error) {
	result := &Result{Entities: make(map[models.EntityType]*EntityReport)}
	var errs []error

	for _, entity := range entitiesForScope(opts.Scope) {
		report := o.syncEntity(ctx, entity, opts)
		result.Entities[entity] = report
		if report.Err != nil {
			o.metrics.SyncFailures.WithLabelValues(string(entity)).Inc()
			o.logger.Error("entity sync failed",
				zap.String("entity", string(entity)),
				zap.Int("synced_before_failure", report.Synced),
				zap.Error(report.Err))
			o.markFailed(ctx, entity)
			errs = append(errs, report.Err)
		}
	}

	return result, errors.Join(errs...)
}

// syncEntity fetches, classifies, merges and persists one entity type.
// Batches commit as they complete, so an interrupted run keeps everything
// committed so far and the next incremental run resumes from the stored
// high-water mark.
func (o *Orchestrator) syncEntity(ctx context.Context, entity models.EntityType, opts Options) *EntityReport {
	log := o.logger.With(zap.String("entity", string(entity)))
	syncStart := o.now()
	report := &EntityReport{}

	since, err := o.resolveWatermark(ctx, entity, opts)
	if err != nil {
		report.Err = err
		return report
	}
	report.FullSync = since == nil

	if since != nil {
		log.Info("starting incremental sync", zap.Time("since", *since))
	} else {
		log.Info("starting full sync")
	}

	var (
		total      int
		maxCreated *time.Time
		offset     = 0
		schemaVer  = syncStart.Unix()
		query      = netsuite.QueryFor(entity, since)
	)

	for {
		pageLimit := o.batchSize
		if opts.Limit > 0 && opts.Limit-total < pageLimit {
			pageLimit = opts.Limit - total
		}
		if pageLimit <= 0 {
			break
		}

		page, err := o.api.QuerySuiteQL(ctx, query, pageLimit, offset)
		if err != nil {
			report.Err = err
			report.Synced = total
			return report
		}
		if len(page.Items) == 0 {
			break
		}

		batchMax, err := o.persistBatch(ctx, entity, page.Items, syncStart, schemaVer, opts.DryRun)
		if err != nil {
			report.Err = err
			report.Synced = total
			return report
		}
		if batchMax != nil && (maxCreated == nil || batchMax.After(*maxCreated)) {
			maxCreated = batchMax
		}

		total += len(page.Items)
		if !opts.DryRun {
			o.metrics.RecordsSynced.WithLabelValues(string(entity)).Add(float64(len(page.Items)))
		}
		log.Debug("batch processed",
			zap.Int("records", len(page.Items)),
			zap.Int("offset", offset),
			zap.Bool("has_more", page.HasMore))

		if !page.HasMore {
			break
		}
		offset += len(page.Items)
	}

	report.Synced = total

	if total == 0 {
		// An empty fetch never advances the cursor: it may be a quiet
		// period or a silent upstream outage, and advancing would blind
		// future runs to older data either way.
		log.Warn("sync completed with zero records, cursor unchanged",
			zap.Bool("full_sync", report.FullSync))
		report.EmptyFetch = true
		return report
	}

	if opts.DryRun {
		log.Info("dry run complete, nothing written", zap.Int("records", total))
		return report
	}

	if err := o.advanceCursor(ctx, entity, syncStart, total, report.FullSync, maxCreated); err != nil {
		report.Err = err
		return report
	}

	log.Info("sync completed",
		zap.Int("records", total),
		zap.Bool("full_sync", report.FullSync),
		zap.Duration("elapsed", o.now().Sub(syncStart)))
	return report
}

// markFailed flags the stored cursor after an aborted run. Timestamps and
// the watermark stay where they were; only the status changes, and only
// when a cursor already exists.
func (o *Orchestrator) markFailed(ctx context.Context, entity models.EntityType) {
	cursor, err := o.store.Cursor(ctx, entity)
	if err != nil || cursor == nil {
		return
	}
	cursor.Status = models.SyncStatusFailed
	if err := o.store.SaveCursor(ctx, cursor); err != nil {
		o.logger.Warn("could not record failed sync status",
			zap.String("entity", string(entity)), zap.Error(err))
	}
}

// resolveWatermark picks the incremental starting point: nil for a full
// sync, otherwise the latest creation date already in the mirror.
func (o *Orchestrator) resolveWatermark(ctx context.Context, entity models.EntityType, opts Options) (*time.Time, error) {
	if opts.ForceFull {
		return nil, nil
	}
	return o.store.MaxCreatedDate(ctx, entity)
}

// persistBatch classifies and merges one page of raw records, then commits
// them in a single store transaction. Returns the highest creation date in
// the batch.
func (o *Orchestrator) persistBatch(ctx context.Context, entity models.EntityType, items []map[string]interface{}, syncStart time.Time, schemaVer int64, dryRun bool) (*time.Time, error) {
	var (
		vendors      []*models.Vendor
		transactions []*models.Transaction
		maxCreated   *time.Time
	)

	for _, raw := range items {
		known, custom := fields.Classify(raw, entity)

		var (
			id      string
			created *time.Time
		)
		if entity == models.EntityVendor {
			v := fields.VendorFromKnown(known)
			id, created = v.ID, v.CreatedDate
			if id == "" {
				return nil, syncerrors.New(syncerrors.ErrorTypeValidation,
					"upstream vendor record without an id")
			}
			v.Raw = raw
			v.SyncedAt = syncStart
			v.SchemaVersion = schemaVer
			doc, err := o.mergeCustomFields(ctx, entity, id, custom, syncStart)
			if err != nil {
				return nil, err
			}
			v.CustomFields = doc
			vendors = append(vendors, v)
		} else {
			t := fields.TransactionFromKnown(known)
			id, created = t.ID, t.CreatedDate
			if id == "" {
				return nil, syncerrors.New(syncerrors.ErrorTypeValidation,
					"upstream transaction record without an id")
			}
			t.Raw = raw
			t.SyncedAt = syncStart
			t.SchemaVersion = schemaVer
			doc, err := o.mergeCustomFields(ctx, entity, id, custom, syncStart)
			if err != nil {
				return nil, err
			}
			t.CustomFields = doc
			transactions = append(transactions, t)
		}

		if created != nil && (maxCreated == nil || created.After(*maxCreated)) {
			maxCreated = created
		}
	}

	if dryRun {
		for _, v := range vendors {
			o.logger.Debug("dry run preview",
				zap.String("entity", string(entity)),
				zap.String("id", v.ID),
				zap.Any("custom_fields", v.CustomFields.Values()))
		}
		for _, tr := range transactions {
			o.logger.Debug("dry run preview",
				zap.String("entity", string(entity)),
				zap.String("id", tr.ID),
				zap.Any("custom_fields", tr.CustomFields.Values()))
		}
		return maxCreated, nil
	}

	if entity == models.EntityVendor {
		if err := o.store.UpsertVendors(ctx, vendors); err != nil {
			return nil, err
		}
	} else {
		if err := o.store.UpsertTransactions(ctx, transactions); err != nil {
			return nil, err
		}
	}
	return maxCreated, nil
}

// mergeCustomFields loads the stored lifecycle document for the record and
// merges the freshly fetched custom values into it.
func (o *Orchestrator) mergeCustomFields(ctx context.Context, entity models.EntityType, id string, custom map[string]interface{}, now time.Time) (models.FieldDocument, error) {
	existing, _, err := o.store.CustomFields(ctx, entity, id)
	if err != nil {
		return nil, err
	}
	return fields.Merge(existing, custom, now), nil
}

// advanceCursor records a successful run. Only called when records were
// actually synced.
func (o *Orchestrator) advanceCursor(ctx context.Context, entity models.EntityType, syncStart time.Time, total int, fullSync bool, maxCreated *time.Time) error {
	cursor, err := o.store.Cursor(ctx, entity)
	if err != nil {
		return err
	}
	if cursor == nil {
		cursor = &models.SyncCursor{RecordType: entity}
	}

	cursor.LastSyncTimestamp = syncStart
	cursor.Status = models.SyncStatusCompleted
	cursor.RecordsSynced = total
	cursor.IsFullSync = fullSync
	// The watermark is monotonic. A capped full sync fetches the oldest
	// records first and can finish below the stored mark; moving it back
	// would make later runs re-fetch ground already committed.
	if maxCreated != nil &&
		(cursor.ResumeWatermark == nil || maxCreated.After(*cursor.ResumeWatermark)) {
		cursor.ResumeWatermark = maxCreated
	}

	return o.store.SaveCursor(ctx, cursor)
}
