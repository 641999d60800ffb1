package fields

import (
	"time"

	json "github.com/goccy/go-json"

	"github.com/atlasfin/suitesync/pkg/models"
	"github.com/atlasfin/suitesync/pkg/syncerrors"
)

// DeprecationWindow is how long a custom field may be absent from upstream
// payloads before it is flagged deprecated. The entry is retained either way.
const DeprecationWindow = 30 * 24 * time.Hour

// Merge combines a record's stored custom-field document with the custom
// fields from the current sync, preserving history for fields that
// disappeared upstream.
//
// For every name in the union of existing and new:
//   - present in new: value and last-seen refresh, deprecated resets, and
//     first-seen carries over from the existing entry when it has one;
//   - present only in existing: the entry is retained; a legacy flat value
//     (no lifecycle metadata) is backfilled with first/last seen = now and
//     flagged deprecated; otherwise the entry is flagged deprecated once its
//     last-seen is more than DeprecationWindow in the past.
//
// Merge is idempotent: re-merging the same payload against its own result at
// the same instant is a fixpoint.
func Merge(existing models.FieldDocument, new map[string]interface{}, now time.Time) models.FieldDocument {
	merged := make(models.FieldDocument, len(existing)+len(new))

	for name, value := range new {
		entry := models.FieldEntry{
			Value:      value,
			FirstSeen:  now,
			LastSeen:   now,
			Deprecated: false,
		}
		if prev, ok := existing[name]; ok && !prev.FirstSeen.IsZero() {
			entry.FirstSeen = prev.FirstSeen
		}
		merged[name] = entry
	}

	for name, prev := range existing {
		if _, ok := new[name]; ok {
			continue
		}

		if prev.Legacy() {
			// Flat value from before lifecycle tracking: history unknown,
			// backfill best-effort and flag it.
			merged[name] = models.FieldEntry{
				Value:      prev.Value,
				FirstSeen:  now,
				LastSeen:   now,
				Deprecated: true,
			}
			continue
		}

		if now.Sub(prev.LastSeen) > DeprecationWindow {
			prev.Deprecated = true
		}
		merged[name] = prev
	}

	return merged
}

// entryJSON mirrors the stored document entry schema.
type entryJSON struct {
	Value      interface{} `json:"value"`
	FirstSeen  *time.Time  `json:"first_seen"`
	LastSeen   *time.Time  `json:"last_seen"`
	Deprecated bool        `json:"deprecated"`
}

// DecodeDocument reads a stored custom-field document. Legacy flat values
// (written before lifecycle tracking) decode as entries with zero timestamps
// and are upgraded by the next Merge.
func DecodeDocument(data []byte) (models.FieldDocument, error) {
	if len(data) == 0 {
		return nil, nil
	}

	var rawDoc map[string]json.RawMessage
	if err := json.Unmarshal(data, &rawDoc); err != nil {
		return nil, syncerrors.Wrap(err, syncerrors.ErrorTypeValidation,
			"custom-field document is not a JSON object")
	}

	doc := make(models.FieldDocument, len(rawDoc))
	for name, raw := range rawDoc {
		var probe map[string]json.RawMessage
		if err := json.Unmarshal(raw, &probe); err == nil {
			if _, hasValue := probe["value"]; hasValue {
				var e entryJSON
				if err := json.Unmarshal(raw, &e); err != nil {
					return nil, syncerrors.Wrapf(err, syncerrors.ErrorTypeValidation,
						"invalid lifecycle entry for field %q", name)
				}
				entry := models.FieldEntry{Value: e.Value, Deprecated: e.Deprecated}
				if e.FirstSeen != nil {
					entry.FirstSeen = *e.FirstSeen
				}
				if e.LastSeen != nil {
					entry.LastSeen = *e.LastSeen
				}
				doc[name] = entry
				continue
			}
		}

		// Legacy flat value.
		var v interface{}
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, syncerrors.Wrapf(err, syncerrors.ErrorTypeValidation,
				"invalid value for field %q", name)
		}
		doc[name] = models.FieldEntry{Value: v}
	}

	return doc, nil
}

// EncodeDocument serializes a custom-field document for storage
func EncodeDocument(doc models.FieldDocument) ([]byte, error) {
	if doc == nil {
		doc = models.FieldDocument{}
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return nil, syncerrors.Wrap(err, syncerrors.ErrorTypeValidation,
			"failed to encode custom-field document")
	}
	return data, nil
}
