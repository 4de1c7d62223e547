// Package models provides data model definitions for the CareLog sync core.
package models

import (
	"time"

	"github.com/mitchellh/copystructure"
)

// RecordType identifies the kind of health record being synced.
type RecordType string

const (
	RecordTypeDoseLog      RecordType = "dose_log"
	RecordTypeSymptomEntry RecordType = "symptom_entry"
	RecordTypeMedication   RecordType = "medication"
	RecordTypeAppointment  RecordType = "appointment"
)

// Record is an opaque, string-keyed snapshot of a synced record.
// Server payloads are JSON-shaped, so values are strings, float64 numbers,
// bools, nested maps and slices.
type Record map[string]interface{}

// Has reports whether the record defines the field with a non-nil value.
func (r Record) Has(field string) bool {
	if r == nil {
		return false
	}
	v, ok := r[field]
	return ok && v != nil
}

// Get returns the field value, or nil if absent.
func (r Record) Get(field string) interface{} {
	if r == nil {
		return nil
	}
	return r[field]
}

// Clone returns a deep copy of the record so callers can mutate the result
// without touching the snapshot it came from.
func (r Record) Clone() Record {
	if r == nil {
		return nil
	}
	copied, err := copystructure.Copy(map[string]interface{}(r))
	if err != nil {
		// Snapshots are plain JSON-shaped data; copystructure only fails on
		// unsupported kinds like channels or funcs.
		shallow := make(Record, len(r))
		for k, v := range r {
			shallow[k] = v
		}
		return shallow
	}
	return Record(copied.(map[string]interface{}))
}

// FieldNames returns the union of field names of the given records.
func FieldNames(records ...Record) []string {
	seen := make(map[string]bool)
	var names []string
	for _, r := range records {
		for k := range r {
			if !seen[k] {
				seen[k] = true
				names = append(names, k)
			}
		}
	}
	return names
}

// LastWriteMillis returns the record's last-write time in epoch milliseconds:
// the updated-at field, falling back to created-at. ok is false when neither
// field is present or parseable.
func (r Record) LastWriteMillis() (ms int64, ok bool) {
	for _, field := range []string{"updated_at", "updatedAt", "created_at", "createdAt"} {
		if v, present := r[field]; present {
			if ms, ok = TimestampMillis(v); ok {
				return ms, true
			}
		}
	}
	return 0, false
}

// TimestampMillis normalizes a timestamp value to epoch milliseconds.
// Servers send ISO-8601 strings; local snapshots carry epoch-ms numbers.
func TimestampMillis(v interface{}) (int64, bool) {
	switch t := v.(type) {
	case int64:
		return t, true
	case int:
		return int64(t), true
	case float64:
		return int64(t), true
	case string:
		if parsed, err := time.Parse(time.RFC3339, t); err == nil {
			return parsed.UnixMilli(), true
		}
		if parsed, err := time.Parse("2006-01-02T15:04:05.999999999Z0700", t); err == nil {
			return parsed.UnixMilli(), true
		}
		return 0, false
	case time.Time:
		return t.UnixMilli(), true
	default:
		return 0, false
	}
}
