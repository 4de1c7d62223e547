package conflict

import (
	"sort"
	"time"

	"github.com/kimhsiao/carelog/backend/internal/errors"
	"github.com/kimhsiao/carelog/backend/internal/models"
)

// DecisionSource records which side a merged field value came from.
type DecisionSource string

const (
	SourceLocal  DecisionSource = "local"
	SourceServer DecisionSource = "server"
	SourceMerged DecisionSource = "merged"
)

// FieldDecision is one entry of the merge decision trail.
type FieldDecision struct {
	Field       string         `json:"field"`
	LocalValue  interface{}    `json:"local_value"`
	ServerValue interface{}    `json:"server_value"`
	ChosenValue interface{}    `json:"chosen_value"`
	Source      DecisionSource `json:"source"`
	Strategy    MergeStrategy  `json:"strategy"`
}

// MergeResult is the unified record plus the full decision trail.
// Ephemeral: computed on demand, never persisted.
type MergeResult struct {
	Merged     models.Record   `json:"merged"`
	Decisions  []FieldDecision `json:"decisions"`
	HasChanges bool            `json:"has_changes"` // any chosen value differs from the server's original
}

// Merger produces a unified record from local and server snapshots under the
// per-field strategy table. Inputs are never mutated.
type Merger struct {
	policy Policy
	now    func() time.Time
}

// NewMerger creates a Merger with the given policy.
func NewMerger(policy Policy) *Merger {
	return &Merger{
		policy: policy,
		now:    time.Now,
	}
}

// Merge merges the two snapshots. localTimestamp is the epoch-ms time of the
// local edit, used by latest-wins fields. Merging against a deleted server
// record is refused: there is no server side to merge with.
func (m *Merger) Merge(local, server models.Record, localTimestamp int64) (*MergeResult, error) {
	if server == nil {
		return nil, errors.New(errors.ErrMergeUnsupported, "cannot merge against a deleted server record")
	}

	local = local.Clone()
	server = server.Clone()

	merged := make(models.Record)
	serverMillis, serverTimeKnown := server.LastWriteMillis()

	names := models.FieldNames(local, server)
	sort.Strings(names)

	var decisions []FieldDecision
	hasChanges := false

	for _, field := range names {
		lv, lok := local[field]
		sv, sok := server[field]

		// Bookkeeping fields carry no domain signal: server value, local
		// fallback, no trail entry.
		if IsBookkeeping(field) {
			if sok && sv != nil {
				merged[field] = sv
			} else if lok && lv != nil {
				merged[field] = lv
			}
			continue
		}

		strategy := StrategyFor(field)
		decision := FieldDecision{
			Field:       field,
			LocalValue:  lv,
			ServerValue: sv,
			Strategy:    strategy,
		}

		switch {
		case valuesEqual(lv, sv):
			// Either side would do; record server for determinism.
			decision.ChosenValue = sv
			decision.Source = SourceServer

		case strategy == StrategyServer:
			if sok && sv != nil {
				decision.ChosenValue = sv
				decision.Source = SourceServer
			} else {
				decision.ChosenValue = lv
				decision.Source = SourceLocal
			}

		case strategy == StrategyLocal:
			if lok && lv != nil {
				decision.ChosenValue = lv
				decision.Source = SourceLocal
			} else {
				decision.ChosenValue = sv
				decision.Source = SourceServer
			}

		case strategy == StrategyCombine:
			decision.ChosenValue, decision.Source = m.combine(lv, sv)

		default: // StrategyLatest
			localWins := !serverTimeKnown || localTimestamp >= serverMillis
			if localWins {
				if lok && lv != nil {
					decision.ChosenValue = lv
					decision.Source = SourceLocal
				} else {
					decision.ChosenValue = sv
					decision.Source = SourceServer
				}
			} else {
				if sok && sv != nil {
					decision.ChosenValue = sv
					decision.Source = SourceServer
				} else {
					decision.ChosenValue = lv
					decision.Source = SourceLocal
				}
			}
		}

		if decision.ChosenValue != nil {
			merged[field] = decision.ChosenValue
		}
		if !valuesEqual(decision.ChosenValue, sv) {
			hasChanges = true
		}

		decisions = append(decisions, decision)
	}

	// The merged record is a fresh write.
	merged[lastWriteField(server, local)] = m.now().UnixMilli()

	return &MergeResult{
		Merged:     merged,
		Decisions:  decisions,
		HasChanges: hasChanges,
	}, nil
}

// combine concatenates differing non-empty string values, server first.
func (m *Merger) combine(lv, sv interface{}) (interface{}, DecisionSource) {
	switch {
	case isEmptyValue(lv):
		return sv, SourceServer
	case isEmptyValue(sv):
		return lv, SourceLocal
	default:
		return stringValue(sv) + m.policy.CombineSeparator + stringValue(lv), SourceMerged
	}
}

// lastWriteField picks the update-timestamp spelling the snapshots already
// use, preferring the server's.
func lastWriteField(server, local models.Record) string {
	for _, r := range []models.Record{server, local} {
		if _, ok := r["updatedAt"]; ok {
			return "updatedAt"
		}
		if _, ok := r["updated_at"]; ok {
			return "updated_at"
		}
	}
	return "updated_at"
}
