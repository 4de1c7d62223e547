// Package queue manages pending record writes made while offline.
// Each queued action is a local edit waiting to be replayed against the
// server; the conflict engine references actions by ID when a replay
// collides with newer server state.
package queue

import (
	"fmt"
	"sync"
	"time"

	"github.com/kimhsiao/carelog/backend/internal/logging"
	"github.com/kimhsiao/carelog/backend/internal/models"
	"github.com/kimhsiao/carelog/backend/internal/uuid"
)

// Operation represents the kind of pending write.
type Operation string

const (
	OperationCreate Operation = "create"
	OperationUpdate Operation = "update"
	OperationDelete Operation = "delete"
)

// Status represents the state of a pending action.
type Status string

const (
	StatusPending   Status = "pending"
	StatusInFlight  Status = "in_flight"
	StatusFailed    Status = "failed"
	StatusBlocked   Status = "blocked" // waiting on a conflict resolution
	StatusCompleted Status = "completed"
)

// PendingAction is one queued local write.
type PendingAction struct {
	ID          string
	Operation   Operation
	RecordType  models.RecordType
	RecordID    string
	Data        models.Record // the local snapshot to replay
	Timestamp   int64         // epoch ms of the local edit
	RetryCount  int
	MaxRetries  int
	NextRetryAt int64
	Status      Status
	CreatedAt   int64
	UpdatedAt   int64
	LastError   string
}

// ActionQueue holds pending writes with retry bookkeeping.
type ActionQueue struct {
	items   map[string]*PendingAction
	mu      sync.RWMutex
	maxSize int
}

// NewActionQueue creates an ActionQueue bounded at maxSize items.
func NewActionQueue(maxSize int) *ActionQueue {
	return &ActionQueue{
		items:   make(map[string]*PendingAction),
		maxSize: maxSize,
	}
}

// Enqueue adds a pending write for a record.
func (q *ActionQueue) Enqueue(op Operation, recordType models.RecordType, recordID string, data models.Record) (*PendingAction, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) >= q.maxSize {
		return nil, fmt.Errorf("action queue is full (max size: %d)", q.maxSize)
	}

	now := time.Now().UnixMilli()

	action := &PendingAction{
		ID:          uuid.New(),
		Operation:   op,
		RecordType:  recordType,
		RecordID:    recordID,
		Data:        data.Clone(),
		Timestamp:   now,
		RetryCount:  0,
		MaxRetries:  3,
		NextRetryAt: now,
		Status:      StatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	q.items[action.ID] = action

	logging.Debug("Pending action enqueued",
		map[string]interface{}{
			"action_id":   action.ID,
			"operation":   action.Operation,
			"record_type": action.RecordType,
			"record_id":   action.RecordID,
		})

	return action, nil
}

// Dequeue retrieves the next ready action and marks it in flight.
// Returns nil if nothing is ready.
func (q *ActionQueue) Dequeue() *PendingAction {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := time.Now().UnixMilli()

	for _, action := range q.items {
		if action.Status == StatusPending && action.NextRetryAt <= now {
			action.Status = StatusInFlight
			action.UpdatedAt = now
			return action
		}
	}
	return nil
}

// Complete removes a successfully replayed action.
func (q *ActionQueue) Complete(id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	action, ok := q.items[id]
	if !ok {
		return fmt.Errorf("action %s not found", id)
	}

	action.Status = StatusCompleted
	delete(q.items, id)

	logging.Debug("Pending action completed",
		map[string]interface{}{"action_id": id, "operation": action.Operation})
	return nil
}

// Failed marks an action failed and schedules a retry with exponential
// backoff, up to MaxRetries.
func (q *ActionQueue) Failed(id string, err error) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	action, ok := q.items[id]
	if !ok {
		return fmt.Errorf("action %s not found", id)
	}

	now := time.Now().UnixMilli()
	action.RetryCount++
	action.LastError = err.Error()
	action.UpdatedAt = now

	if action.RetryCount >= action.MaxRetries {
		action.Status = StatusFailed
		logging.Warn("Pending action failed permanently",
			map[string]interface{}{"action_id": id, "error": err.Error()})
		return fmt.Errorf("max retries (%d) reached: %w", action.MaxRetries, err)
	}

	action.NextRetryAt = now + calculateBackoff(action.RetryCount).Milliseconds()
	action.Status = StatusPending

	logging.Info("Pending action scheduled for retry",
		map[string]interface{}{
			"action_id": id,
			"retry":     action.RetryCount,
			"max":       action.MaxRetries,
		})
	return nil
}

// Block parks an action until its conflict is resolved by the user.
// Blocked actions are not retried.
func (q *ActionQueue) Block(id, conflictID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	action, ok := q.items[id]
	if !ok {
		return fmt.Errorf("action %s not found", id)
	}

	action.Status = StatusBlocked
	action.LastError = "blocked on conflict " + conflictID
	action.UpdatedAt = time.Now().UnixMilli()
	return nil
}

// Release returns a blocked action to pending after its conflict resolved.
func (q *ActionQueue) Release(id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	action, ok := q.items[id]
	if !ok {
		return fmt.Errorf("action %s not found", id)
	}
	if action.Status != StatusBlocked {
		return fmt.Errorf("action %s is %s, not blocked", id, action.Status)
	}

	now := time.Now().UnixMilli()
	action.Status = StatusPending
	action.NextRetryAt = now
	action.LastError = ""
	action.UpdatedAt = now
	return nil
}

// calculateBackoff returns the exponential retry delay.
// Formula: 2^retry_count minutes, capped at 1 hour.
func calculateBackoff(retryCount int) time.Duration {
	backoff := time.Duration(1<<uint(retryCount)) * time.Minute
	if backoff > time.Hour {
		backoff = time.Hour
	}
	return backoff
}

// Get returns a copy of a specific action.
func (q *ActionQueue) Get(id string) (*PendingAction, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	action, ok := q.items[id]
	if !ok {
		return nil, fmt.Errorf("action %s not found", id)
	}

	copied := *action
	return &copied, nil
}

// List returns copies of all queued actions.
func (q *ActionQueue) List() []*PendingAction {
	q.mu.RLock()
	defer q.mu.RUnlock()

	actions := make([]*PendingAction, 0, len(q.items))
	for _, action := range q.items {
		copied := *action
		actions = append(actions, &copied)
	}
	return actions
}

// Size returns the number of queued actions.
func (q *ActionQueue) Size() int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return len(q.items)
}

// Remove drops an action without replaying it.
func (q *ActionQueue) Remove(id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, ok := q.items[id]; !ok {
		return fmt.Errorf("action %s not found", id)
	}
	delete(q.items, id)
	return nil
}

// Clear removes all actions.
func (q *ActionQueue) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = make(map[string]*PendingAction)
}

// Stats returns counts per status.
func (q *ActionQueue) Stats() map[string]int {
	q.mu.RLock()
	defer q.mu.RUnlock()

	stats := map[string]int{
		"total":     0,
		"pending":   0,
		"in_flight": 0,
		"failed":    0,
		"blocked":   0,
	}

	for _, action := range q.items {
		stats["total"]++
		switch action.Status {
		case StatusPending:
			stats["pending"]++
		case StatusInFlight:
			stats["in_flight"]++
		case StatusFailed:
			stats["failed"]++
		case StatusBlocked:
			stats["blocked"]++
		}
	}
	return stats
}
