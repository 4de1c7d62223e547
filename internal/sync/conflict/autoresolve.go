package conflict

import (
	"sort"

	"github.com/kimhsiao/carelog/backend/internal/errors"
	"github.com/kimhsiao/carelog/backend/internal/logging"
	"github.com/kimhsiao/carelog/backend/internal/models"
)

// DifferingField describes one field the two sides disagree on, with the
// strategy a reviewer (or the UI) would apply to it.
type DifferingField struct {
	Field       string        `json:"field"`
	Strategy    MergeStrategy `json:"strategy"`
	LocalValue  interface{}   `json:"local_value"`
	ServerValue interface{}   `json:"server_value"`
}

// AutoResolution is the outcome of CheckAutoResolution.
type AutoResolution struct {
	CanAutoResolve  bool              `json:"can_auto_resolve"`
	Resolution      models.Resolution `json:"resolution,omitempty"`
	ResolvedData    models.Record     `json:"resolved_data,omitempty"`
	Reason          string            `json:"reason"`
	DifferingFields []DifferingField  `json:"differing_fields,omitempty"`
}

// Engine decides whether a conflict can be resolved without a human.
// Stateless; safe for concurrent use.
type Engine struct {
	policy Policy
	merger *Merger
}

// NewEngine creates an auto-resolution engine with the given policy.
func NewEngine(policy Policy) *Engine {
	return &Engine{
		policy: policy,
		merger: NewMerger(policy),
	}
}

// CheckAutoResolution runs the tiered decision procedure, stopping at the
// first applicable rule. It never loses data: any ambiguity is handed to the
// user instead of guessed at.
func (e *Engine) CheckAutoResolution(c *models.ConflictEntry) AutoResolution {
	// Deletion intent is inherently ambiguous; a human confirms it.
	if c.ConflictType == models.ConflictTypeDelete || c.ServerData == nil {
		return AutoResolution{
			Reason: "delete conflicts require user confirmation",
		}
	}

	differing := e.differingFields(c.LocalData, c.ServerData)

	// The apparent conflict was spurious: both sides already agree.
	if len(differing) == 0 {
		return AutoResolution{
			CanAutoResolve: true,
			Resolution:     models.ResolutionKeepServer,
			ResolvedData:   c.ServerData.Clone(),
			Reason:         "no differing fields",
		}
	}

	serverMillis, serverTimeKnown := e.serverWriteMillis(c)

	if len(differing) == 1 {
		if res := e.resolveSingle(c, differing[0], serverMillis, serverTimeKnown); res != nil {
			return *res
		}
	} else {
		if res := e.resolveUnanimous(c, differing, serverMillis, serverTimeKnown); res != nil {
			return *res
		}
	}

	// Merge-preview fallback: accept the merge only when it provably loses
	// nothing from either side.
	if res := e.resolveByMerge(c, differing, serverTimeKnown); res != nil {
		return *res
	}

	logging.Info("Conflict requires manual resolution",
		map[string]interface{}{
			"record_type":      c.RecordType,
			"conflict_type":    c.ConflictType,
			"differing_fields": len(differing),
		})

	return AutoResolution{
		Reason:          "differing fields need user review",
		DifferingFields: differing,
	}
}

// MergePreview computes the merge a reviewer would get from choosing "merge".
// Refused for delete conflicts: there is no server side to merge with.
func (e *Engine) MergePreview(c *models.ConflictEntry) (*MergeResult, error) {
	if c.ConflictType == models.ConflictTypeDelete || c.ServerData == nil {
		return nil, errors.New(errors.ErrMergeUnsupported, "merge preview is not available for delete conflicts")
	}
	return e.merger.Merge(c.LocalData, c.ServerData, c.LocalTimestamp)
}

// differingFields returns the non-bookkeeping fields whose values are not
// structurally equal, including fields present on only one side.
func (e *Engine) differingFields(local, server models.Record) []DifferingField {
	names := models.FieldNames(local, server)
	sort.Strings(names)

	var differing []DifferingField
	for _, field := range names {
		if IsBookkeeping(field) {
			continue
		}
		lv := local.Get(field)
		sv := server.Get(field)
		if valuesEqual(lv, sv) {
			continue
		}
		differing = append(differing, DifferingField{
			Field:       field,
			Strategy:    StrategyFor(field),
			LocalValue:  lv,
			ServerValue: sv,
		})
	}
	return differing
}

// resolveSingle handles exactly one differing field. Returns nil when the
// procedure should continue to the next tier (combine strategy) or terminate
// unresolved (ambiguous latest).
func (e *Engine) resolveSingle(c *models.ConflictEntry, f DifferingField, serverMillis int64, serverTimeKnown bool) *AutoResolution {
	switch f.Strategy {
	case StrategyServer:
		return &AutoResolution{
			CanAutoResolve: true,
			Resolution:     models.ResolutionKeepServer,
			ResolvedData:   c.ServerData.Clone(),
			Reason:         "single differing field is server-authoritative",
		}
	case StrategyLocal:
		return &AutoResolution{
			CanAutoResolve: true,
			Resolution:     models.ResolutionKeepLocal,
			ResolvedData:   c.LocalData.Clone(),
			Reason:         "single differing field carries local user intent",
		}
	case StrategyLatest:
		resolution, decisive := e.latestOutcome(c.LocalTimestamp, serverMillis, serverTimeKnown)
		if !decisive {
			// Writes landed too close together to call; leave it to the user.
			return &AutoResolution{
				Reason:          "timestamps too close to pick a winner",
				DifferingFields: []DifferingField{f},
			}
		}
		return e.resolutionFor(c, resolution, "single differing field resolved by recency")
	default:
		return nil
	}
}

// resolveUnanimous handles multiple differing fields: auto-resolve only when
// every field's strategy agrees on the same outcome. Returns nil to continue
// to the merge-preview fallback.
func (e *Engine) resolveUnanimous(c *models.ConflictEntry, differing []DifferingField, serverMillis int64, serverTimeKnown bool) *AutoResolution {
	var outcome models.Resolution
	for _, f := range differing {
		var fieldOutcome models.Resolution
		switch f.Strategy {
		case StrategyServer:
			fieldOutcome = models.ResolutionKeepServer
		case StrategyLocal:
			fieldOutcome = models.ResolutionKeepLocal
		case StrategyLatest:
			latest, decisive := e.latestOutcome(c.LocalTimestamp, serverMillis, serverTimeKnown)
			if !decisive {
				return nil
			}
			fieldOutcome = latest
		default:
			return nil
		}

		if outcome == "" {
			outcome = fieldOutcome
		} else if outcome != fieldOutcome {
			return nil
		}
	}
	return e.resolutionFor(c, outcome, "all differing fields agree on the same side")
}

// resolveByMerge accepts the merge-engine output when no field needed a
// combined value and no dual-non-empty difference was decided by an
// ambiguous timestamp.
func (e *Engine) resolveByMerge(c *models.ConflictEntry, differing []DifferingField, serverTimeKnown bool) *AutoResolution {
	serverMillis, _ := e.serverWriteMillis(c)

	for _, f := range differing {
		if isEmptyValue(f.LocalValue) || isEmptyValue(f.ServerValue) {
			continue
		}
		if f.Strategy == StrategyCombine {
			// Combine produces a merged value; that is a suggestion for the
			// user, not a decision the engine may make alone.
			return nil
		}
		if f.Strategy == StrategyLatest {
			if _, decisive := e.latestOutcome(c.LocalTimestamp, serverMillis, serverTimeKnown); !decisive {
				return nil
			}
		}
	}

	result, err := e.merger.Merge(c.LocalData, c.ServerData, c.LocalTimestamp)
	if err != nil {
		return nil
	}
	for _, d := range result.Decisions {
		if d.Source == SourceMerged {
			return nil
		}
	}

	return &AutoResolution{
		CanAutoResolve: true,
		Resolution:     models.ResolutionMerge,
		ResolvedData:   result.Merged,
		Reason:         "field-level merge preserves both sides",
	}
}

// latestOutcome applies the recency rule under the ambiguity guard.
// decisive is false when the server write time is unknown or the gap is
// within the guard.
func (e *Engine) latestOutcome(localMillis, serverMillis int64, serverTimeKnown bool) (models.Resolution, bool) {
	if !serverTimeKnown {
		return "", false
	}
	gap := localMillis - serverMillis
	if gap < 0 {
		gap = -gap
	}
	if gap <= e.policy.AmbiguityGuard.Milliseconds() {
		return "", false
	}
	if localMillis > serverMillis {
		return models.ResolutionKeepLocal, true
	}
	return models.ResolutionKeepServer, true
}

// resolutionFor materializes a keep_local/keep_server outcome.
func (e *Engine) resolutionFor(c *models.ConflictEntry, resolution models.Resolution, reason string) *AutoResolution {
	data := c.ServerData
	if resolution == models.ResolutionKeepLocal {
		data = c.LocalData
	}
	return &AutoResolution{
		CanAutoResolve: true,
		Resolution:     resolution,
		ResolvedData:   data.Clone(),
		Reason:         reason,
	}
}

// serverWriteMillis extracts the server's last-write time: the entry's
// explicit server timestamp, falling back to the snapshot's own fields.
func (e *Engine) serverWriteMillis(c *models.ConflictEntry) (int64, bool) {
	if c.ServerTimestamp != "" {
		if ms, ok := models.TimestampMillis(c.ServerTimestamp); ok {
			return ms, true
		}
	}
	if c.ServerData != nil {
		return c.ServerData.LastWriteMillis()
	}
	return 0, false
}
