// Package store implements the local Postgres mirror: typed columns for the
// stable upstream schema, JSONB documents for custom fields and raw
// snapshots, and the sync cursor table.
package store

import (
	"context"
	"errors"
	"time"

	json "github.com/goccy/go-json"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/atlasfin/suitesync/pkg/fields"
	"github.com/atlasfin/suitesync/pkg/models"
	"github.com/atlasfin/suitesync/pkg/syncerrors"
)

// Store is the pgx-backed persistence layer. All failures surface as
// database errors; nothing here is retried.
type Store struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// Open connects to Postgres and verifies the connection
func Open(ctx context.Context, dsn string, log *zap.Logger) (*Store, error) {
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, syncerrors.Wrap(err, syncerrors.ErrorTypeConfig,
			"invalid database connection string")
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, syncerrors.Wrap(err, syncerrors.ErrorTypeDatabase,
			"failed to create connection pool")
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, syncerrors.Wrap(err, syncerrors.ErrorTypeDatabase,
			"failed to connect to database")
	}

	return &Store{
		pool:   pool,
		logger: log.With(zap.String("component", "store")),
	}, nil
}

// Close releases the connection pool
func (s *Store) Close() {
	s.pool.Close()
}

const schemaDDL = `
CREATE TABLE IF NOT EXISTS vendors (
	id                 TEXT PRIMARY KEY,
	entity_id          TEXT NOT NULL,
	company_name       TEXT,
	email              TEXT,
	phone              TEXT,
	is_inactive        BOOLEAN NOT NULL DEFAULT FALSE,
	currency           TEXT,
	terms              TEXT,
	balance            DOUBLE PRECISION NOT NULL DEFAULT 0,
	created_date       TIMESTAMPTZ,
	last_modified_date TIMESTAMPTZ,
	custom_fields      JSONB,
	raw_data           JSONB,
	synced_at          TIMESTAMPTZ NOT NULL,
	schema_version     BIGINT
);
CREATE INDEX IF NOT EXISTS idx_vendors_entity_id ON vendors (entity_id);
CREATE INDEX IF NOT EXISTS idx_vendors_created_date ON vendors (created_date);

CREATE TABLE IF NOT EXISTS transactions (
	id                 TEXT PRIMARY KEY,
	vendor_id          TEXT NOT NULL,
	tran_id            TEXT,
	tran_date          TIMESTAMPTZ,
	due_date           TIMESTAMPTZ,
	created_date       TIMESTAMPTZ,
	last_modified_date TIMESTAMPTZ,
	amount             DOUBLE PRECISION NOT NULL DEFAULT 0,
	currency           TEXT,
	exchange_rate      DOUBLE PRECISION NOT NULL DEFAULT 1,
	status             TEXT,
	memo               TEXT,
	custom_fields      JSONB,
	raw_data           JSONB,
	synced_at          TIMESTAMPTZ NOT NULL,
	schema_version     BIGINT
);
CREATE INDEX IF NOT EXISTS idx_transactions_vendor_id ON transactions (vendor_id);
CREATE INDEX IF NOT EXISTS idx_transactions_tran_date ON transactions (tran_date);
CREATE INDEX IF NOT EXISTS idx_transactions_created_date ON transactions (created_date);

CREATE TABLE IF NOT EXISTS sync_cursors (
	record_type         TEXT PRIMARY KEY,
	last_sync_timestamp TIMESTAMPTZ NOT NULL,
	sync_status         TEXT NOT NULL DEFAULT 'completed',
	records_synced      INTEGER NOT NULL DEFAULT 0,
	is_full_sync        BOOLEAN NOT NULL DEFAULT FALSE,
	resume_watermark    TIMESTAMPTZ,
	created_at          TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at          TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

// InitSchema creates all tables and indexes if absent
func (s *Store) InitSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaDDL); err != nil {
		return syncerrors.Wrap(err, syncerrors.ErrorTypeDatabase,
			"failed to initialize schema")
	}
	s.logger.Info("database schema initialized")
	return nil
}

func tableFor(entity models.EntityType) string {
	if entity == models.EntityVendor {
		return "vendors"
	}
	return "transactions"
}

// MaxCreatedDate returns the high-water mark: the latest upstream creation
// date already persisted for the entity type, or nil when the table holds
// no dated rows.
func (s *Store) MaxCreatedDate(ctx context.Context, entity models.EntityType) (*time.Time, error) {
	var max *time.Time
	query := "SELECT MAX(created_date) FROM " + tableFor(entity)
	if err := s.pool.QueryRow(ctx, query).Scan(&max); err != nil {
		return nil, syncerrors.Wrapf(err, syncerrors.ErrorTypeDatabase,
			"failed to read high-water mark for %s", entity)
	}
	return max, nil
}

// CustomFields loads the stored custom-field document for one record.
// The second return reports whether the row exists at all.
func (s *Store) CustomFields(ctx context.Context, entity models.EntityType, id string) (models.FieldDocument, bool, error) {
	var raw []byte
	query := "SELECT custom_fields FROM " + tableFor(entity) + " WHERE id = $1"
	err := s.pool.QueryRow(ctx, query, id).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, syncerrors.Wrapf(err, syncerrors.ErrorTypeDatabase,
			"failed to load custom fields for %s %s", entity, id)
	}

	doc, err := fields.DecodeDocument(raw)
	if err != nil {
		return nil, true, syncerrors.Wrapf(err, syncerrors.ErrorTypeDatabase,
			"corrupt custom-field document for %s %s", entity, id)
	}
	return doc, true, nil
}

const upsertVendorSQL = `
INSERT INTO vendors (
	id, entity_id, company_name, email, phone, is_inactive, currency, terms,
	balance, created_date, last_modified_date, custom_fields, raw_data,
	synced_at, schema_version
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12::jsonb, $13::jsonb, $14, $15)
ON CONFLICT (id) DO UPDATE SET
	entity_id = EXCLUDED.entity_id,
	company_name = EXCLUDED.company_name,
	email = EXCLUDED.email,
	phone = EXCLUDED.phone,
	is_inactive = EXCLUDED.is_inactive,
	currency = EXCLUDED.currency,
	terms = EXCLUDED.terms,
	balance = EXCLUDED.balance,
	created_date = EXCLUDED.created_date,
	last_modified_date = EXCLUDED.last_modified_date,
	custom_fields = EXCLUDED.custom_fields,
	raw_data = EXCLUDED.raw_data,
	synced_at = EXCLUDED.synced_at,
	schema_version = EXCLUDED.schema_version
`

// UpsertVendors writes one batch of vendors in a single transaction.
// A failure anywhere rolls the whole batch back; there is no partial
// batch commit.
func (s *Store) UpsertVendors(ctx context.Context, vendors []*models.Vendor) error {
	if len(vendors) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return syncerrors.Wrap(err, syncerrors.ErrorTypeDatabase,
			"failed to begin vendor batch transaction")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for _, v := range vendors {
		customJSON, err := fields.EncodeDocument(v.CustomFields)
		if err != nil {
			return syncerrors.Wrapf(err, syncerrors.ErrorTypeDatabase,
				"failed to encode custom fields for vendor %s", v.ID)
		}
		rawJSON, err := json.Marshal(v.Raw)
		if err != nil {
			return syncerrors.Wrapf(err, syncerrors.ErrorTypeDatabase,
				"failed to encode raw snapshot for vendor %s", v.ID)
		}

		_, err = tx.Exec(ctx, upsertVendorSQL,
			v.ID, v.EntityID, v.CompanyName, v.Email, v.Phone, v.IsInactive,
			v.Currency, v.Terms, v.Balance, v.CreatedDate, v.LastModifiedDate,
			string(customJSON), string(rawJSON), v.SyncedAt, v.SchemaVersion)
		if err != nil {
			return syncerrors.Wrapf(err, syncerrors.ErrorTypeDatabase,
				"failed to upsert vendor %s", v.ID)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return syncerrors.Wrap(err, syncerrors.ErrorTypeDatabase,
			"failed to commit vendor batch")
	}

	s.logger.Debug("vendor batch committed", zap.Int("records", len(vendors)))
	return nil
}

const upsertTransactionSQL = `
INSERT INTO transactions (
	id, vendor_id, tran_id, tran_date, due_date, created_date,
	last_modified_date, amount, currency, exchange_rate, status, memo,
	custom_fields, raw_data, synced_at, schema_version
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13::jsonb, $14::jsonb, $15, $16)
ON CONFLICT (id) DO UPDATE SET
	vendor_id = EXCLUDED.vendor_id,
	tran_id = EXCLUDED.tran_id,
	tran_date = EXCLUDED.tran_date,
	due_date = EXCLUDED.due_date,
	created_date = EXCLUDED.created_date,
	last_modified_date = EXCLUDED.last_modified_date,
	amount = EXCLUDED.amount,
	currency = EXCLUDED.currency,
	exchange_rate = EXCLUDED.exchange_rate,
	status = EXCLUDED.status,
	memo = EXCLUDED.memo,
	custom_fields = EXCLUDED.custom_fields,
	raw_data = EXCLUDED.raw_data,
	synced_at = EXCLUDED.synced_at,
	schema_version = EXCLUDED.schema_version
`

// UpsertTransactions writes one batch of transactions in a single
// transaction, all-or-nothing like UpsertVendors.
func (s *Store) UpsertTransactions(ctx context.Context, records []*models.Transaction) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return syncerrors.Wrap(err, syncerrors.ErrorTypeDatabase,
			"failed to begin transaction batch")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for _, t := range records {
		customJSON, err := fields.EncodeDocument(t.CustomFields)
		if err != nil {
			return syncerrors.Wrapf(err, syncerrors.ErrorTypeDatabase,
				"failed to encode custom fields for transaction %s", t.ID)
		}
		rawJSON, err := json.Marshal(t.Raw)
		if err != nil {
			return syncerrors.Wrapf(err, syncerrors.ErrorTypeDatabase,
				"failed to encode raw snapshot for transaction %s", t.ID)
		}

		_, err = tx.Exec(ctx, upsertTransactionSQL,
			t.ID, t.VendorID, t.TranID, t.TranDate, t.DueDate, t.CreatedDate,
			t.LastModifiedDate, t.Amount, t.Currency, t.ExchangeRate,
			t.Status, t.Memo, string(customJSON), string(rawJSON),
			t.SyncedAt, t.SchemaVersion)
		if err != nil {
			return syncerrors.Wrapf(err, syncerrors.ErrorTypeDatabase,
				"failed to upsert transaction %s", t.ID)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return syncerrors.Wrap(err, syncerrors.ErrorTypeDatabase,
			"failed to commit transaction batch")
	}

	s.logger.Debug("transaction batch committed", zap.Int("records", len(records)))
	return nil
}

// Cursor returns the sync cursor for the entity type, or nil when the
// entity has never completed a sync.
func (s *Store) Cursor(ctx context.Context, entity models.EntityType) (*models.SyncCursor, error) {
	c := &models.SyncCursor{}
	var recordType string
	err := s.pool.QueryRow(ctx, `
		SELECT record_type, last_sync_timestamp, sync_status, records_synced,
		       is_full_sync, resume_watermark, created_at, updated_at
		FROM sync_cursors WHERE record_type = $1`, string(entity)).
		Scan(&recordType, &c.LastSyncTimestamp, &c.Status, &c.RecordsSynced,
			&c.IsFullSync, &c.ResumeWatermark, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, syncerrors.Wrapf(err, syncerrors.ErrorTypeDatabase,
			"failed to load sync cursor for %s", entity)
	}
	c.RecordType = models.EntityType(recordType)
	return c, nil
}

// Cursors returns all stored sync cursors
func (s *Store) Cursors(ctx context.Context) ([]*models.SyncCursor, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT record_type, last_sync_timestamp, sync_status, records_synced,
		       is_full_sync, resume_watermark, created_at, updated_at
		FROM sync_cursors ORDER BY record_type`)
	if err != nil {
		return nil, syncerrors.Wrap(err, syncerrors.ErrorTypeDatabase,
			"failed to list sync cursors")
	}
	defer rows.Close()

	var cursors []*models.SyncCursor
	for rows.Next() {
		c := &models.SyncCursor{}
		var recordType string
		if err := rows.Scan(&recordType, &c.LastSyncTimestamp, &c.Status,
			&c.RecordsSynced, &c.IsFullSync, &c.ResumeWatermark,
			&c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, syncerrors.Wrap(err, syncerrors.ErrorTypeDatabase,
				"failed to scan sync cursor")
		}
		c.RecordType = models.EntityType(recordType)
		cursors = append(cursors, c)
	}
	if err := rows.Err(); err != nil {
		return nil, syncerrors.Wrap(err, syncerrors.ErrorTypeDatabase,
			"failed to read sync cursors")
	}
	return cursors, nil
}

// SaveCursor upserts the sync cursor for its entity type. Cursors are
// mutated in place across runs and never deleted.
func (s *Store) SaveCursor(ctx context.Context, c *models.SyncCursor) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO sync_cursors (
			record_type, last_sync_timestamp, sync_status, records_synced,
			is_full_sync, resume_watermark, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, now(), now())
		ON CONFLICT (record_type) DO UPDATE SET
			last_sync_timestamp = EXCLUDED.last_sync_timestamp,
			sync_status = EXCLUDED.sync_status,
			records_synced = EXCLUDED.records_synced,
			is_full_sync = EXCLUDED.is_full_sync,
			resume_watermark = EXCLUDED.resume_watermark,
			updated_at = now()`,
		string(c.RecordType), c.LastSyncTimestamp, c.Status, c.RecordsSynced,
		c.IsFullSync, c.ResumeWatermark)
	if err != nil {
		return syncerrors.Wrapf(err, syncerrors.ErrorTypeDatabase,
			"failed to save sync cursor for %s", c.RecordType)
	}
	return nil
}

// Counts returns mirror row counts for the status view
func (s *Store) Counts(ctx context.Context) (vendors, transactions int64, err error) {
	if err = s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM vendors").Scan(&vendors); err != nil {
		return 0, 0, syncerrors.Wrap(err, syncerrors.ErrorTypeDatabase,
			"failed to count vendors")
	}
	if err = s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM transactions").Scan(&transactions); err != nil {
		return 0, 0, syncerrors.Wrap(err, syncerrors.ErrorTypeDatabase,
			"failed to count transactions")
	}
	return vendors, transactions, nil
}
