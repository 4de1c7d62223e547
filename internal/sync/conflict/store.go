package conflict

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/kimhsiao/carelog/backend/internal/errors"
	"github.com/kimhsiao/carelog/backend/internal/logging"
	"github.com/kimhsiao/carelog/backend/internal/models"
	"github.com/kimhsiao/carelog/backend/internal/uuid"
)

// Notifier receives conflict alerts. Implementations must not block; the
// dispatcher in internal/sync/notify satisfies this.
type Notifier interface {
	Dispatch(n models.Notification)
}

// AddOutcome is the result of Store.Add: either the conflict resolved itself
// and nothing was persisted, or the entry now sits in the store.
type AddOutcome struct {
	AutoResolved bool
	Resolution   models.Resolution
	ResolvedData models.Record
	Entry        *models.ConflictEntry // set when persisted
}

// Store is the durable, transactional home of conflicts that could not be
// auto-resolved. All mutations run inside SQLite transactions; the store has
// no locking of its own.
type Store struct {
	db       *sql.DB
	engine   *Engine
	notifier Notifier
	now      func() int64 // epoch ms
}

// NewStore creates a Store. notifier may be nil when the host has no
// notification channel.
func NewStore(db *sql.DB, engine *Engine, notifier Notifier) *Store {
	return &Store{
		db:       db,
		engine:   engine,
		notifier: notifier,
		now:      nowMillis,
	}
}

// Add evaluates auto-resolution first. Auto-resolvable conflicts are returned
// to the caller without touching storage; everything else is persisted and a
// user notification is requested.
func (s *Store) Add(ctx context.Context, entry *models.ConflictEntry) (*AddOutcome, error) {
	if entry == nil || entry.LocalData == nil {
		return nil, errors.New(errors.ErrInvalidConflict, "conflict entry requires local data")
	}

	if auto := s.engine.CheckAutoResolution(entry); auto.CanAutoResolve {
		logging.Info("Conflict auto-resolved",
			map[string]interface{}{
				"record_type": entry.RecordType,
				"resolution":  auto.Resolution,
				"reason":      auto.Reason,
			})
		return &AddOutcome{
			AutoResolved: true,
			Resolution:   auto.Resolution,
			ResolvedData: auto.ResolvedData,
		}, nil
	}

	entry.ID = uuid.New()
	entry.CreatedAt = s.now()
	entry.Resolved = false
	entry.Resolution = ""

	if err := entry.Validate(); err != nil {
		return nil, errors.Wrap(errors.ErrInvalidConflict, "conflict entry failed validation", err)
	}

	localJSON, serverJSON, err := marshalSnapshots(entry)
	if err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, errors.Wrap(errors.ErrDatabase, "failed to begin transaction", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
	INSERT INTO conflicts (id, record_type, local_data, server_data, conflict_type,
		local_timestamp, server_timestamp, action_id, resolved, resolution, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, 0, NULL, ?)`,
		entry.ID, entry.RecordType, localJSON, serverJSON, entry.ConflictType,
		entry.LocalTimestamp, nullIfEmpty(entry.ServerTimestamp), entry.ActionID, entry.CreatedAt,
	)
	if err != nil {
		return nil, errors.Wrap(errors.ErrDatabase, "failed to persist conflict", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, errors.Wrap(errors.ErrDatabase, "failed to commit conflict", err)
	}

	logging.Warn("Conflict persisted for user review",
		map[string]interface{}{
			"conflict_id":   entry.ID,
			"record_type":   entry.RecordType,
			"conflict_type": entry.ConflictType,
			"action_id":     entry.ActionID,
		})

	// Fire-and-forget: the entry is already durable, delivery may fail freely.
	if s.notifier != nil {
		s.notifier.Dispatch(models.NewConflictNotification(entry.ID, entry.RecordType))
	}

	return &AddOutcome{Entry: entry}, nil
}

// Get returns the conflict with the given id.
func (s *Store) Get(ctx context.Context, id string) (*models.ConflictEntry, error) {
	row := s.db.QueryRowContext(ctx, selectColumns+" FROM conflicts WHERE id = ?", id)
	entry, err := scanEntry(row)
	if err == sql.ErrNoRows {
		return nil, errors.New(errors.ErrConflictNotFound, fmt.Sprintf("no conflict with id %s", id))
	}
	if err != nil {
		return nil, errors.Wrap(errors.ErrDatabase, "failed to load conflict", err)
	}
	return entry, nil
}

// GetAll returns every conflict, newest first.
func (s *Store) GetAll(ctx context.Context) ([]*models.ConflictEntry, error) {
	return s.query(ctx, selectColumns+" FROM conflicts ORDER BY created_at DESC")
}

// GetUnresolved returns conflicts still awaiting a resolution, newest first.
func (s *Store) GetUnresolved(ctx context.Context) ([]*models.ConflictEntry, error) {
	return s.query(ctx, selectColumns+" FROM conflicts WHERE resolved = 0 ORDER BY created_at DESC")
}

// GetByType returns conflicts for one record kind, newest first.
func (s *Store) GetByType(ctx context.Context, recordType models.RecordType) ([]*models.ConflictEntry, error) {
	return s.query(ctx, selectColumns+" FROM conflicts WHERE record_type = ? ORDER BY created_at DESC", recordType)
}

// Resolve marks a conflict resolved with the user's chosen resolution.
// The read-modify-write runs in one transaction so two concurrent resolution
// attempts cannot trample each other. Re-applying the same resolution is a
// no-op, not an error.
func (s *Store) Resolve(ctx context.Context, id string, resolution models.Resolution) error {
	switch resolution {
	case models.ResolutionKeepLocal, models.ResolutionKeepServer, models.ResolutionMerge:
	default:
		return errors.New(errors.ErrInvalid, fmt.Sprintf("unknown resolution %q", resolution))
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(errors.ErrDatabase, "failed to begin transaction", err)
	}
	defer tx.Rollback()

	var conflictType models.ConflictType
	var resolved bool
	err = tx.QueryRowContext(ctx,
		"SELECT conflict_type, resolved FROM conflicts WHERE id = ?", id,
	).Scan(&conflictType, &resolved)
	if err == sql.ErrNoRows {
		return errors.New(errors.ErrConflictNotFound, fmt.Sprintf("no conflict with id %s", id))
	}
	if err != nil {
		return errors.Wrap(errors.ErrDatabase, "failed to load conflict", err)
	}

	if conflictType == models.ConflictTypeDelete && resolution == models.ResolutionMerge {
		return errors.New(errors.ErrMergeUnsupported, "delete conflicts cannot be resolved by merge")
	}

	if _, err := tx.ExecContext(ctx,
		"UPDATE conflicts SET resolved = 1, resolution = ? WHERE id = ?", resolution, id,
	); err != nil {
		return errors.Wrap(errors.ErrDatabase, "failed to resolve conflict", err)
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrap(errors.ErrDatabase, "failed to commit resolution", err)
	}

	logging.Info("Conflict resolved",
		map[string]interface{}{
			"conflict_id": id,
			"resolution":  resolution,
		})
	return nil
}

// Remove deletes a conflict. Removing an absent id is a no-op so retries are
// safe.
func (s *Store) Remove(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM conflicts WHERE id = ?", id); err != nil {
		return errors.Wrap(errors.ErrDatabase, "failed to remove conflict", err)
	}
	return nil
}

// ClearResolved bulk-deletes every resolved entry and reports how many went.
func (s *Store) ClearResolved(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM conflicts WHERE resolved = 1")
	if err != nil {
		return 0, errors.Wrap(errors.ErrDatabase, "failed to clear resolved conflicts", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(errors.ErrDatabase, "failed to count cleared conflicts", err)
	}
	return n, nil
}

// Count returns the total number of conflicts and how many are unresolved.
func (s *Store) Count(ctx context.Context) (total, unresolved int, err error) {
	err = s.db.QueryRowContext(ctx,
		"SELECT COUNT(*), COALESCE(SUM(resolved = 0), 0) FROM conflicts",
	).Scan(&total, &unresolved)
	if err != nil {
		return 0, 0, errors.Wrap(errors.ErrDatabase, "failed to count conflicts", err)
	}
	return total, unresolved, nil
}

const selectColumns = `SELECT id, record_type, local_data, server_data, conflict_type,
	local_timestamp, server_timestamp, action_id, resolved, resolution, created_at`

func (s *Store) query(ctx context.Context, query string, args ...interface{}) ([]*models.ConflictEntry, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(errors.ErrDatabase, "failed to query conflicts", err)
	}
	defer rows.Close()

	var entries []*models.ConflictEntry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, errors.Wrap(errors.ErrDatabase, "failed to scan conflict", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(errors.ErrDatabase, "failed to iterate conflicts", err)
	}
	return entries, nil
}

// scanner matches both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanEntry(row scanner) (*models.ConflictEntry, error) {
	var entry models.ConflictEntry
	var localJSON string
	var serverJSON, serverTimestamp, resolution sql.NullString

	err := row.Scan(
		&entry.ID, &entry.RecordType, &localJSON, &serverJSON, &entry.ConflictType,
		&entry.LocalTimestamp, &serverTimestamp, &entry.ActionID, &entry.Resolved,
		&resolution, &entry.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(localJSON), &entry.LocalData); err != nil {
		return nil, fmt.Errorf("corrupt local snapshot for %s: %w", entry.ID, err)
	}
	if serverJSON.Valid {
		if err := json.Unmarshal([]byte(serverJSON.String), &entry.ServerData); err != nil {
			return nil, fmt.Errorf("corrupt server snapshot for %s: %w", entry.ID, err)
		}
	}
	if serverTimestamp.Valid {
		entry.ServerTimestamp = serverTimestamp.String
	}
	if resolution.Valid {
		entry.Resolution = models.Resolution(resolution.String)
	}
	return &entry, nil
}

func marshalSnapshots(entry *models.ConflictEntry) (localJSON string, serverJSON interface{}, err error) {
	local, err := json.Marshal(entry.LocalData)
	if err != nil {
		return "", nil, errors.Wrap(errors.ErrInvalidConflict, "local snapshot not serializable", err)
	}
	if entry.ServerData == nil {
		return string(local), nil, nil
	}
	server, err := json.Marshal(entry.ServerData)
	if err != nil {
		return "", nil, errors.Wrap(errors.ErrInvalidConflict, "server snapshot not serializable", err)
	}
	return string(local), string(server), nil
}

func nowMillis() int64 {
	return time.Now().UnixMilli()
}

func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
