// Package models defines the data model for the local NetSuite mirror:
// typed records, custom-field lifecycle documents, and sync cursors.
package models

import (
	"time"
)

// EntityType identifies a synced upstream record type
type EntityType string

const (
	EntityVendor      EntityType = "vendor"
	EntityTransaction EntityType = "vendorbill"
)

// FieldEntry is one custom field value with its lifecycle metadata.
// FirstSeen <= LastSeen always holds; Deprecated is set once the field has
// not appeared upstream for more than the deprecation window and is reset
// when the field reappears.
type FieldEntry struct {
	Value      interface{} `json:"value"`
	FirstSeen  time.Time   `json:"first_seen"`
	LastSeen   time.Time   `json:"last_seen"`
	Deprecated bool        `json:"deprecated"`
}

// Legacy reports whether the entry was backfilled from a pre-lifecycle flat
// value and carries no usable history.
func (e FieldEntry) Legacy() bool {
	return e.LastSeen.IsZero()
}

// FieldDocument is the flexible custom-field document stored per record
type FieldDocument map[string]FieldEntry

// Values flattens the document to plain field values, dropping lifecycle
// metadata. Useful for previews and downstream queries.
func (d FieldDocument) Values() map[string]interface{} {
	out := make(map[string]interface{}, len(d))
	for k, e := range d {
		out[k] = e.Value
	}
	return out
}

// Vendor is a vendor record mirrored from the upstream system.
// Typed columns hold the stable upstream schema; CustomFields holds the
// open-ended remainder; Raw retains the complete last-fetched payload.
type Vendor struct {
	ID          string
	EntityID    string
	CompanyName *string
	Email       *string
	Phone       *string
	IsInactive  bool
	Currency    *string
	Terms       *string
	Balance     float64

	CreatedDate      *time.Time
	LastModifiedDate *time.Time

	CustomFields FieldDocument
	Raw          map[string]interface{}

	SyncedAt      time.Time
	SchemaVersion int64
}

// Transaction is a vendor bill mirrored from the upstream system
type Transaction struct {
	ID       string
	VendorID string
	TranID   *string

	TranDate         *time.Time
	DueDate          *time.Time
	CreatedDate      *time.Time
	LastModifiedDate *time.Time

	Amount       float64
	Currency     *string
	ExchangeRate float64
	Status       *string
	Memo         *string

	CustomFields FieldDocument
	Raw          map[string]interface{}

	SyncedAt      time.Time
	SchemaVersion int64
}

// Cursor status values
const (
	SyncStatusCompleted = "completed"
	SyncStatusFailed    = "failed"
)

// SyncCursor is the per-entity-type sync high-water record. It is created on
// the first successful sync, mutated in place afterwards, and never deleted.
// It only advances when a run actually synced records: an empty fetch must
// not blind future full-sync attempts to older data.
type SyncCursor struct {
	RecordType        EntityType
	LastSyncTimestamp time.Time
	Status            string
	RecordsSynced     int
	IsFullSync        bool
	// ResumeWatermark is the highest upstream creation date committed,
	// the point an interrupted run resumes from.
	ResumeWatermark *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}
