// Package fields implements schema-resilient field handling for upstream
// records: classification of raw payloads into known (typed) and custom
// (open-ended) fields, and lifecycle-preserving merging of custom fields
// across sync runs.
package fields

import (
	"strconv"
	"strings"
	"time"

	"github.com/atlasfin/suitesync/pkg/models"
)

// Known fields are stable upstream schema elements mapped to typed columns.
// Everything else lands in the custom-field document.
var vendorKnownFields = newFieldSet(
	// Core identification
	"id", "entityId",
	// Company information
	"companyName", "legalName", "email", "phone", "fax", "url",
	// Status
	"isInactive", "isPerson",
	// Financial
	"balance", "balancePrimary", "creditLimit", "unbilledOrders", "unbilledOrdersPrimary",
	// References
	"currency", "terms", "category", "subsidiary",
	// Dates
	"dateCreated", "lastModifiedDate",
	// Tax
	"taxIdNum", "taxRegistrationList",
	// Account
	"accountNumber",
	// Sub-resources (upstream standard, not custom fields)
	"addressBook", "contactList", "currencyList", "subscriptionsList", "rolesList",
	// Additional standard fields
	"comments", "printOnCheckAs", "altName", "defaultAddress", "billPay",
	"eligibleForCommission", "emailPreference", "emailTransactions",
	"printTransactions", "faxTransactions", "representingSubsidiary",
	"workCalendar", "giveAccess", "sendEmail", "password", "requirePwdChange",
	"inheritIPRules", "globalSubscriptionStatus",
)

var transactionKnownFields = newFieldSet(
	// Core identification
	"id", "tranId",
	// Vendor reference
	"entity",
	// Dates
	"tranDate", "dueDate", "createdDate", "lastModifiedDate",
	// Financial
	"userTotal", "total", "amountRemaining", "exchangeRate",
	// References
	"currency", "status", "approvalStatus", "subsidiary",
	// Details
	"memo", "tranStatus",
)

// Known fields coerced as booleans. Values may arrive as real booleans
// (record endpoint) or "T"/"F" flags (bulk query).
var boolFields = newFieldSet(
	"isInactive", "isPerson", "billPay", "eligibleForCommission",
	"emailTransactions", "printTransactions", "faxTransactions",
	"giveAccess", "sendEmail", "requirePwdChange", "inheritIPRules",
)

// Known fields coerced to float64, zero when absent.
var floatFields = newFieldSet(
	"balance", "balancePrimary", "creditLimit", "unbilledOrders",
	"unbilledOrdersPrimary", "userTotal", "total", "amountRemaining",
	"exchangeRate",
)

// fieldSet maps lowercase spellings to the canonical camelCase name, so the
// bulk-query interface (lowercase) and the record interface (camelCase)
// classify identically.
type fieldSet struct {
	canonical map[string]string
}

func newFieldSet(names ...string) fieldSet {
	canonical := make(map[string]string, len(names))
	for _, n := range names {
		canonical[strings.ToLower(n)] = n
	}
	return fieldSet{canonical: canonical}
}

func (s fieldSet) resolve(name string) (string, bool) {
	c, ok := s.canonical[strings.ToLower(name)]
	return c, ok
}

func knownFieldsFor(entity models.EntityType) fieldSet {
	if entity == models.EntityVendor {
		return vendorKnownFields
	}
	return transactionKnownFields
}

// Classify splits a raw upstream record into known fields (canonical
// camelCase keys, coerced values) and custom fields (original keys,
// references unwrapped). Payload metadata (links, refName) is dropped.
func Classify(raw map[string]interface{}, entity models.EntityType) (known, custom map[string]interface{}) {
	known = make(map[string]interface{})
	custom = make(map[string]interface{})
	allowList := knownFieldsFor(entity)

	for key, value := range raw {
		if key == "links" || key == "refName" {
			continue
		}

		name, ok := allowList.resolve(key)
		if !ok {
			custom[key] = unwrapCustomValue(value)
			continue
		}

		switch {
		case boolFields.contains(name):
			known[name] = coerceBool(value)
		case floatFields.contains(name):
			known[name] = coerceFloat(value)
		default:
			if ref, isRef := value.(map[string]interface{}); isRef {
				known[name] = unwrapReference(ref)
			} else {
				// Dates and plain scalars pass through opaque.
				known[name] = value
			}
		}
	}

	return known, custom
}

func (s fieldSet) contains(canonicalName string) bool {
	_, ok := s.canonical[strings.ToLower(canonicalName)]
	return ok
}

// unwrapReference extracts the display value from a structured reference
// {"id": "123", "refName": "USD"}: refName if present, else id, else nil.
func unwrapReference(ref map[string]interface{}) interface{} {
	if v, ok := ref["refName"]; ok && v != nil && v != "" {
		return v
	}
	if v, ok := ref["id"]; ok && v != nil && v != "" {
		return v
	}
	return nil
}

func unwrapCustomValue(value interface{}) interface{} {
	if ref, ok := value.(map[string]interface{}); ok {
		if _, hasRef := ref["refName"]; hasRef {
			return unwrapReference(ref)
		}
		if _, hasID := ref["id"]; hasID {
			return unwrapReference(ref)
		}
	}
	return value
}

func coerceBool(value interface{}) bool {
	switch v := value.(type) {
	case bool:
		return v
	case string:
		return strings.EqualFold(v, "T") || strings.EqualFold(v, "true")
	default:
		return false
	}
}

func coerceFloat(value interface{}) float64 {
	switch v := value.(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int:
		return float64(v)
	case int64:
		return float64(v)
	case string:
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return 0
		}
		return f
	default:
		return 0
	}
}

// Datetime layouts the upstream emits: ISO timestamps from the record
// endpoint, date-only and US-style dates from the bulk-query endpoint.
var timeLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05Z",
	"2006-01-02 15:04:05",
	"2006-01-02",
	"1/2/2006 3:04 pm",
	"1/2/2006",
}

func parseTime(value interface{}) *time.Time {
	s, ok := value.(string)
	if !ok || s == "" {
		return nil
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return &t
		}
	}
	return nil
}

func optString(known map[string]interface{}, key string) *string {
	v, ok := known[key]
	if !ok || v == nil {
		return nil
	}
	s, ok := v.(string)
	if !ok || s == "" {
		return nil
	}
	return &s
}

func reqString(known map[string]interface{}, key string) string {
	v, ok := known[key]
	if !ok || v == nil {
		return ""
	}
	switch s := v.(type) {
	case string:
		return s
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64)
	default:
		return ""
	}
}

func reqFloat(known map[string]interface{}, key string, def float64) float64 {
	v, ok := known[key]
	if !ok || v == nil {
		return def
	}
	f, ok := v.(float64)
	if !ok {
		return def
	}
	return f
}

func reqBool(known map[string]interface{}, key string) bool {
	v, ok := known[key]
	if !ok || v == nil {
		return false
	}
	b, ok := v.(bool)
	return ok && b
}

// VendorFromKnown builds a typed vendor record from classified known fields.
// The caller attaches the merged custom-field document, raw snapshot and
// sync metadata.
func VendorFromKnown(known map[string]interface{}) *models.Vendor {
	return &models.Vendor{
		ID:               reqString(known, "id"),
		EntityID:         reqString(known, "entityId"),
		CompanyName:      optString(known, "companyName"),
		Email:            optString(known, "email"),
		Phone:            optString(known, "phone"),
		IsInactive:       reqBool(known, "isInactive"),
		Currency:         optString(known, "currency"),
		Terms:            optString(known, "terms"),
		Balance:          reqFloat(known, "balance", 0),
		CreatedDate:      parseTime(known["dateCreated"]),
		LastModifiedDate: parseTime(known["lastModifiedDate"]),
	}
}

// TransactionFromKnown builds a typed transaction record from classified
// known fields.
func TransactionFromKnown(known map[string]interface{}) *models.Transaction {
	vendorID := ""
	if v, ok := known["entity"]; ok && v != nil {
		switch e := v.(type) {
		case string:
			vendorID = e
		case float64:
			vendorID = strconv.FormatFloat(e, 'f', -1, 64)
		}
	}

	return &models.Transaction{
		ID:               reqString(known, "id"),
		VendorID:         vendorID,
		TranID:           optString(known, "tranId"),
		TranDate:         parseTime(known["tranDate"]),
		DueDate:          parseTime(known["dueDate"]),
		CreatedDate:      parseTime(known["createdDate"]),
		LastModifiedDate: parseTime(known["lastModifiedDate"]),
		Amount:           reqFloat(known, "userTotal", 0),
		Currency:         optString(known, "currency"),
		ExchangeRate:     reqFloat(known, "exchangeRate", 1.0),
		Status:           optString(known, "status"),
		Memo:             optString(known, "memo"),
	}
}
