// Package conflict implements the conflict detection and resolution engine
// for offline sync: it classifies divergence between a locally queued write
// and the server's current state, attempts a loss-free automatic resolution
// using per-field merge policies, and persists conflicts that need a human.
package conflict

import (
	"time"

	"github.com/kimhsiao/carelog/backend/internal/config"
)

// MergeStrategy is the per-field policy governing which side wins.
type MergeStrategy string

const (
	// StrategyServer: the server is authoritative (identifiers, ownership
	// keys, creation timestamps).
	StrategyServer MergeStrategy = "server"
	// StrategyLocal: the user's own words win (notes, descriptions).
	StrategyLocal MergeStrategy = "local"
	// StrategyLatest: the more recently written side wins. Default for
	// unclassified fields.
	StrategyLatest MergeStrategy = "latest"
	// StrategyCombine: both string values are concatenated. Currently
	// assigned to no field; reserved for fields where dropping either side
	// would lose information.
	StrategyCombine MergeStrategy = "combine"
)

// fieldStrategies is the fixed classification table. Both snake_case and
// camelCase spellings are listed because local snapshots and server payloads
// disagree on naming.
var fieldStrategies = map[string]MergeStrategy{
	// Structural fields: never let a local edit rewrite them.
	"id":            StrategyServer,
	"user_id":       StrategyServer,
	"userId":        StrategyServer,
	"patient_id":    StrategyServer,
	"patientId":     StrategyServer,
	"medication_id": StrategyServer,
	"medicationId":  StrategyServer,
	"record_type":   StrategyServer,
	"recordType":    StrategyServer,
	"created_at":    StrategyServer,
	"createdAt":     StrategyServer,

	// Free-text user intent: the user's local words win.
	"notes":       StrategyLocal,
	"note":        StrategyLocal,
	"description": StrategyLocal,
	"comment":     StrategyLocal,
}

// StrategyFor classifies a field name into its merge strategy.
// Unclassified fields default to latest-wins.
func StrategyFor(field string) MergeStrategy {
	if s, ok := fieldStrategies[field]; ok {
		return s
	}
	return StrategyLatest
}

// bookkeepingFields are sync-internal markers excluded from conflict
// comparison. The last-write timestamps live here too: every update conflict
// has them differ by definition, so they carry no signal.
var bookkeepingFields = map[string]bool{
	"synced":         true,
	"sync_status":    true,
	"pending_sync":   true,
	"last_synced_at": true,
	"dirty":          true,
	"local_id":       true,
	"updated_at":     true,
	"updatedAt":      true,
}

// IsBookkeeping reports whether a field is excluded from conflict comparison.
func IsBookkeeping(field string) bool {
	return bookkeepingFields[field]
}

// Policy holds the tunable conflict-engine thresholds.
type Policy struct {
	// StalenessThreshold flags local edits older than this as stale_data.
	StalenessThreshold time.Duration
	// AmbiguityGuard is the minimum timestamp gap for a latest-wins decision;
	// closer writes are considered concurrent and left to the user.
	AmbiguityGuard time.Duration
	// CombineSeparator joins the two sides under the combine strategy.
	CombineSeparator string
}

// DefaultPolicy returns the policy the product shipped with.
func DefaultPolicy() Policy {
	return Policy{
		StalenessThreshold: 24 * time.Hour,
		AmbiguityGuard:     5 * time.Second,
		CombineSeparator:   "\n---\n",
	}
}

// PolicyFromConfig builds a Policy from the loaded configuration.
func PolicyFromConfig(pc config.PolicyConfig) Policy {
	p := DefaultPolicy()
	if pc.StalenessThreshold > 0 {
		p.StalenessThreshold = pc.StalenessThreshold.Std()
	}
	if pc.AmbiguityGuard > 0 {
		p.AmbiguityGuard = pc.AmbiguityGuard.Std()
	}
	if pc.CombineSeparator != "" {
		p.CombineSeparator = pc.CombineSeparator
	}
	return p
}
