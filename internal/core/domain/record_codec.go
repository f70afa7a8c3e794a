package domain

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// legacyKeys maps misspelled or camel-cased keys written by older clients to
// the canonical JSON key. The canonical key wins when both are present.
var legacyKeys = map[string]string{
	"uuid":                 "id",
	"craeted_at":           "created_at",
	"creted_at":            "created_at",
	"created_on":           "created_at",
	"createdAt":            "created_at",
	"updatedAt":            "updated_at",
	"productId":            "product_id",
	"product_identifier":   "product_id",
	"inventoryId":          "inventory_id",
	"inventory_identifier": "inventory_id",
	"scanCode":             "scan_code",
	"bar_code":             "scan_code",
	"verificationCode":     "verification_code",
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05.999999",
	"2006-01-02 15:04:05",
}

// DecodeRecord parses a stored value into a record. It rejects values that are
// not JSON objects or that carry none of the business identifiers or a name.
func DecodeRecord(data []byte) (InventoryRecord, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return InventoryRecord{}, fmt.Errorf("%w: %v", ErrMalformedEntry, err)
	}
	if fields == nil {
		return InventoryRecord{}, fmt.Errorf("%w: not an object", ErrMalformedEntry)
	}

	for legacy, canonical := range legacyKeys {
		v, ok := fields[legacy]
		if !ok {
			continue
		}
		if _, exists := fields[canonical]; !exists {
			fields[canonical] = v
		}
		delete(fields, legacy)
	}

	createdAt, err := popTime(fields, "created_at")
	if err != nil {
		return InventoryRecord{}, err
	}
	updatedAt, err := popTime(fields, "updated_at")
	if err != nil {
		return InventoryRecord{}, err
	}

	normalized, err := json.Marshal(fields)
	if err != nil {
		return InventoryRecord{}, fmt.Errorf("%w: %v", ErrMalformedEntry, err)
	}
	var rec InventoryRecord
	if err := json.Unmarshal(normalized, &rec); err != nil {
		return InventoryRecord{}, fmt.Errorf("%w: %v", ErrMalformedEntry, err)
	}
	rec.CreatedAt = createdAt
	rec.UpdatedAt = updatedAt

	if rec.ProductIdentifier == "" && rec.InventoryIdentifier == "" && rec.Name == "" {
		return InventoryRecord{}, fmt.Errorf("%w: no identifier or name", ErrMalformedEntry)
	}
	return rec, nil
}

// EncodeRecord renders a record in the canonical stored form.
func EncodeRecord(rec InventoryRecord) ([]byte, error) {
	return json.Marshal(rec)
}

func popTime(fields map[string]json.RawMessage, key string) (time.Time, error) {
	raw, ok := fields[key]
	if !ok {
		return time.Time{}, nil
	}
	delete(fields, key)

	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return time.Time{}, fmt.Errorf("%w: %s: %v", ErrMalformedEntry, key, err)
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: %s: unrecognized time %q", ErrMalformedEntry, key, s)
}
