package netsuite

import (
	"fmt"
	"time"

	"github.com/atlasfin/suitesync/pkg/models"
)

// SuiteQL builders for the sync fetch path. Results are ordered ascending by
// creation date so an interrupted run leaves a contiguous committed prefix,
// and the cursor filter is inclusive: re-fetching the boundary day is
// tolerated because upserts are idempotent.

// VendorQuery returns the bulk vendor query, optionally resuming from the
// given creation-date watermark.
func VendorQuery(since *time.Time) string {
	q := "SELECT * FROM vendor"
	if since != nil {
		q += fmt.Sprintf(" WHERE datecreated >= TO_DATE('%s', 'YYYY-MM-DD')",
			since.Format("2006-01-02"))
	}
	return q + " ORDER BY datecreated ASC"
}

// TransactionQuery returns the bulk vendor-bill query, optionally resuming
// from the given creation-date watermark.
func TransactionQuery(since *time.Time) string {
	q := "SELECT * FROM transaction WHERE type = 'VendBill'"
	if since != nil {
		q += fmt.Sprintf(" AND createddate >= TO_DATE('%s', 'YYYY-MM-DD')",
			since.Format("2006-01-02"))
	}
	return q + " ORDER BY createddate ASC"
}

// QueryFor returns the bulk query for an entity type
func QueryFor(entity models.EntityType, since *time.Time) string {
	if entity == models.EntityVendor {
		return VendorQuery(since)
	}
	return TransactionQuery(since)
}
