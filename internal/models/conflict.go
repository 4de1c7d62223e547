package models

import (
	"fmt"
	"time"
)

// ConflictType classifies the divergence between local and server state.
type ConflictType string

const (
	ConflictTypeUpdate ConflictType = "update_conflict"
	ConflictTypeDelete ConflictType = "delete_conflict"
	ConflictTypeStale  ConflictType = "stale_data"
)

// Resolution records how a conflict was settled.
type Resolution string

const (
	ResolutionKeepLocal  Resolution = "keep_local"
	ResolutionKeepServer Resolution = "keep_server"
	ResolutionMerge      Resolution = "merge"
)

// ConflictEntry is a persisted conflict awaiting user review.
// It is immutable once created except for the resolution fields.
type ConflictEntry struct {
	ID              string       `db:"id" json:"id"`
	RecordType      RecordType   `db:"record_type" json:"record_type"`
	LocalData       Record       `db:"local_data" json:"local_data"`
	ServerData      Record       `db:"server_data" json:"server_data"` // nil means the server copy was deleted
	ConflictType    ConflictType `db:"conflict_type" json:"conflict_type"`
	LocalTimestamp  int64        `db:"local_timestamp" json:"local_timestamp"` // epoch ms of the local edit
	ServerTimestamp string       `db:"server_timestamp" json:"server_timestamp,omitempty"`
	ActionID        string       `db:"action_id" json:"action_id"` // reference into the pending-write queue
	Resolved        bool         `db:"resolved" json:"resolved"`
	Resolution      Resolution   `db:"resolution" json:"resolution,omitempty"` // set exactly when Resolved
	CreatedAt       int64        `db:"created_at" json:"created_at"`           // epoch ms
}

// TableName returns the table name for ConflictEntry.
func (ConflictEntry) TableName() string {
	return "conflicts"
}

// CreatedAtTime returns CreatedAt as time.Time.
func (c *ConflictEntry) CreatedAtTime() time.Time {
	return time.UnixMilli(c.CreatedAt)
}

// Validate enforces the entry invariants.
func (c *ConflictEntry) Validate() error {
	if c.Resolved != (c.Resolution != "") {
		return fmt.Errorf("resolved=%v but resolution=%q", c.Resolved, c.Resolution)
	}
	if c.ConflictType == ConflictTypeDelete && c.ServerData != nil {
		return fmt.Errorf("delete conflict must have no server data")
	}
	switch c.ConflictType {
	case ConflictTypeUpdate, ConflictTypeDelete, ConflictTypeStale:
	default:
		return fmt.Errorf("unknown conflict type %q", c.ConflictType)
	}
	return nil
}
