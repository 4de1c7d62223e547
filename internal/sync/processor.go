// Package sync orchestrates the per-record sync pass: detect divergence,
// try automatic resolution, and persist what needs a human.
package sync

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kimhsiao/carelog/backend/internal/models"
	"github.com/kimhsiao/carelog/backend/internal/sync/conflict"
	"github.com/kimhsiao/carelog/backend/internal/sync/queue"
)

// RecordInput is everything the surrounding sync layer hands over for one
// record: the local snapshot, the server snapshot (nil if deleted), the
// epoch-ms time of the local edit, and the pending action that produced it.
type RecordInput struct {
	RecordType     models.RecordType
	RecordID       string
	Local          models.Record
	Server         models.Record
	LocalTimestamp int64
	ActionID       string
}

// Outcome classifies what the caller should do with a processed record.
type Outcome string

const (
	// OutcomeNoConflict: apply the server data directly.
	OutcomeNoConflict Outcome = "no_conflict"
	// OutcomeAutoResolved: apply Result.ApplyData as the new local state.
	OutcomeAutoResolved Outcome = "auto_resolved"
	// OutcomeConflictRecorded: the conflict is persisted; wait for the user.
	OutcomeConflictRecorded Outcome = "conflict_recorded"
)

// Result is the outcome of processing one record.
type Result struct {
	RecordID   string
	Outcome    Outcome
	Resolution models.Resolution // set for auto-resolved records
	ApplyData  models.Record     // new local state, when there is one to apply
	ConflictID string            // set when a conflict was recorded
}

// Processor runs the sync pass for records. Each record is self-contained,
// so distinct records may be processed concurrently.
type Processor struct {
	detector *conflict.Detector
	store    *conflict.Store
	actions  *queue.ActionQueue // optional

	// maxConcurrent bounds ProcessBatch parallelism.
	maxConcurrent int
}

// NewProcessor creates a Processor. actions may be nil when the host manages
// its replay queue elsewhere.
func NewProcessor(policy conflict.Policy, store *conflict.Store, actions *queue.ActionQueue) *Processor {
	return &Processor{
		detector:      conflict.NewDetector(policy),
		store:         store,
		actions:       actions,
		maxConcurrent: 4,
	}
}

// ProcessRecord classifies one record and routes it through auto-resolution.
func (p *Processor) ProcessRecord(ctx context.Context, in RecordInput) (*Result, error) {
	detection := p.detector.Detect(in.Local, in.Server, in.LocalTimestamp)
	if !detection.HasConflict {
		p.completeAction(in.ActionID)
		return &Result{
			RecordID:  in.RecordID,
			Outcome:   OutcomeNoConflict,
			ApplyData: in.Server,
		}, nil
	}

	entry := &models.ConflictEntry{
		RecordType:      in.RecordType,
		LocalData:       in.Local,
		ServerData:      in.Server,
		ConflictType:    detection.ConflictType,
		LocalTimestamp:  in.LocalTimestamp,
		ServerTimestamp: serverTimestampISO(in.Server),
		ActionID:        in.ActionID,
	}

	outcome, err := p.store.Add(ctx, entry)
	if err != nil {
		return nil, err
	}

	if outcome.AutoResolved {
		p.completeAction(in.ActionID)
		return &Result{
			RecordID:   in.RecordID,
			Outcome:    OutcomeAutoResolved,
			Resolution: outcome.Resolution,
			ApplyData:  outcome.ResolvedData,
		}, nil
	}

	p.blockAction(in.ActionID, outcome.Entry.ID)
	return &Result{
		RecordID:   in.RecordID,
		Outcome:    OutcomeConflictRecorded,
		ConflictID: outcome.Entry.ID,
	}, nil
}

// ProcessBatch processes independent records concurrently. Results keep the
// input order. The first storage error cancels the remaining work.
func (p *Processor) ProcessBatch(ctx context.Context, inputs []RecordInput) ([]*Result, error) {
	results := make([]*Result, len(inputs))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(p.maxConcurrent)

	for i, in := range inputs {
		i, in := i, in
		g.Go(func() error {
			result, err := p.ProcessRecord(ctx, in)
			if err != nil {
				return err
			}
			results[i] = result
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func (p *Processor) completeAction(actionID string) {
	if p.actions == nil || actionID == "" {
		return
	}
	// Best effort: the action may live in a host-managed queue instead.
	_ = p.actions.Complete(actionID)
}

func (p *Processor) blockAction(actionID, conflictID string) {
	if p.actions == nil || actionID == "" {
		return
	}
	_ = p.actions.Block(actionID, conflictID)
}

// serverTimestampISO extracts the server's last-write time as an ISO string
// for the conflict entry, whatever shape the payload used.
func serverTimestampISO(server models.Record) string {
	if server == nil {
		return ""
	}
	for _, field := range []string{"updated_at", "updatedAt", "created_at", "createdAt"} {
		if v, ok := server[field]; ok {
			if s, isString := v.(string); isString {
				if _, valid := models.TimestampMillis(s); valid {
					return s
				}
				continue
			}
			if ms, valid := models.TimestampMillis(v); valid {
				return time.UnixMilli(ms).UTC().Format(time.RFC3339)
			}
		}
	}
	return ""
}
