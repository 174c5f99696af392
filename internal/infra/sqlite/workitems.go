package sqlite

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/autopress/autopress/internal/domain"
)

// ─── Work Item Operations ───────────────────────────────────────────────────

const workItemColumns = `id, owner_id, topic, payload, recurrence_enabled, frequency,
	next_run_at, status, retry_count, last_error, artifact_json, remote_id, remote_url,
	created_at, updated_at`

// InsertWorkItem persists a new work item.
func (db *DB) InsertWorkItem(item domain.WorkItem) error {
	artifact, err := marshalArtifact(item.Artifact)
	if err != nil {
		return err
	}
	_, err = db.db.Exec(`
		INSERT INTO work_items (id, owner_id, topic, payload, recurrence_enabled, frequency,
			next_run_at, status, retry_count, last_error, artifact_json, remote_id, remote_url)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, item.ID, item.OwnerID, item.Topic, item.Payload, boolInt(item.RecurrenceEnabled),
		string(item.Frequency), nullTime(item.NextRunAt), string(item.Status),
		item.RetryCount, item.LastError, artifact, item.RemoteID, item.RemoteURL)
	if err != nil {
		return fmt.Errorf("insert work item: %w", err)
	}
	return nil
}

// GetWorkItem returns one work item by id.
func (db *DB) GetWorkItem(id string) (*domain.WorkItem, error) {
	row := db.db.QueryRow(`SELECT `+workItemColumns+` FROM work_items WHERE id = ?`, id)
	item, err := scanWorkItem(row)
	if err == sql.ErrNoRows {
		return nil, domain.ErrWorkItemNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get work item: %w", err)
	}
	return item, nil
}

// ListWorkItems returns all work items, optionally filtered by owner.
func (db *DB) ListWorkItems(ownerID string) ([]domain.WorkItem, error) {
	query := `SELECT ` + workItemColumns + ` FROM work_items ORDER BY created_at, id`
	args := []any{}
	if ownerID != "" {
		query = `SELECT ` + workItemColumns + ` FROM work_items WHERE owner_id = ? ORDER BY created_at, id`
		args = append(args, ownerID)
	}

	rows, err := db.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list work items: %w", err)
	}
	defer rows.Close()

	var items []domain.WorkItem
	for rows.Next() {
		item, err := scanWorkItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *item)
	}
	return items, rows.Err()
}

// PollDue returns at most limit work items that are due at now, ordered
// earliest due first with ties broken by id for determinism. Pure read —
// claiming is a separate, explicit step.
func (db *DB) PollDue(now time.Time, limit int) ([]domain.WorkItem, error) {
	rows, err := db.db.Query(`
		SELECT `+workItemColumns+` FROM work_items
		WHERE recurrence_enabled = 1
		  AND next_run_at IS NOT NULL
		  AND next_run_at <= ?
		  AND status IN ('idea', 'queued')
		ORDER BY next_run_at ASC, id ASC
		LIMIT ?
	`, formatTime(now), limit)
	if err != nil {
		return nil, fmt.Errorf("poll due work items: %w", err)
	}
	defer rows.Close()

	var items []domain.WorkItem
	for rows.Next() {
		item, err := scanWorkItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *item)
	}
	return items, rows.Err()
}

// ClaimWorkItem atomically transitions a claimable work item to generating.
// The conditional UPDATE is the whole point: under overlapping ticks,
// exactly one caller sees a row change; everyone else gets ErrClaimConflict.
func (db *DB) ClaimWorkItem(id string) error {
	res, err := db.db.Exec(`
		UPDATE work_items
		SET status = 'generating', updated_at = ?
		WHERE id = ? AND status IN ('idea', 'queued')
	`, formatTime(time.Now()), id)
	if err != nil {
		return fmt.Errorf("claim work item: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrClaimConflict
	}
	return nil
}

// SaveArtifact persists the generated artifact and advances the item to
// publishing in the same statement, so a crash after generation resumes
// from the artifact instead of re-billing generation.
func (db *DB) SaveArtifact(id string, artifact domain.Artifact) error {
	data, err := json.Marshal(artifact)
	if err != nil {
		return fmt.Errorf("marshal artifact: %w", err)
	}
	res, err := db.db.Exec(`
		UPDATE work_items
		SET artifact_json = ?, status = 'publishing', updated_at = ?
		WHERE id = ? AND status = 'generating'
	`, string(data), formatTime(time.Now()), id)
	if err != nil {
		return fmt.Errorf("save artifact: %w", err)
	}
	return requireRow(res, domain.ErrStorageConflict)
}

// MarkPublished records the remote identifier atomically with the
// publishing → published transition.
func (db *DB) MarkPublished(id string, result domain.PublishResult) error {
	res, err := db.db.Exec(`
		UPDATE work_items
		SET status = 'published', remote_id = ?, remote_url = ?, last_error = '', updated_at = ?
		WHERE id = ? AND status = 'publishing'
	`, result.RemoteID, result.RemoteURL, formatTime(time.Now()), id)
	if err != nil {
		return fmt.Errorf("mark published: %w", err)
	}
	return requireRow(res, domain.ErrStorageConflict)
}

// AdvanceRecurrence requeues a published item for its next cycle.
func (db *DB) AdvanceRecurrence(id string, nextRunAt time.Time) error {
	res, err := db.db.Exec(`
		UPDATE work_items
		SET status = 'queued', next_run_at = ?, retry_count = 0, artifact_json = NULL, updated_at = ?
		WHERE id = ? AND status = 'published'
	`, formatTime(nextRunAt), formatTime(time.Now()), id)
	if err != nil {
		return fmt.Errorf("advance recurrence: %w", err)
	}
	return requireRow(res, domain.ErrStorageConflict)
}

// Requeue returns a non-terminal item to the queue, recording the retry
// count and last error. nextRunAt may be nil to leave the schedule alone.
func (db *DB) Requeue(id string, nextRunAt *time.Time, retryCount int, lastError string) error {
	var err error
	var res sql.Result
	if nextRunAt != nil {
		res, err = db.db.Exec(`
			UPDATE work_items
			SET status = 'queued', next_run_at = ?, retry_count = ?, last_error = ?, updated_at = ?
			WHERE id = ?
		`, formatTime(*nextRunAt), retryCount, lastError, formatTime(time.Now()), id)
	} else {
		res, err = db.db.Exec(`
			UPDATE work_items
			SET status = 'queued', retry_count = ?, last_error = ?, updated_at = ?
			WHERE id = ?
		`, retryCount, lastError, formatTime(time.Now()), id)
	}
	if err != nil {
		return fmt.Errorf("requeue work item: %w", err)
	}
	return requireRow(res, domain.ErrWorkItemNotFound)
}

// MarkFailed terminates a work item permanently. No next run is scheduled.
func (db *DB) MarkFailed(id string, retryCount int, lastError string) error {
	res, err := db.db.Exec(`
		UPDATE work_items
		SET status = 'failed', next_run_at = NULL, retry_count = ?, last_error = ?, updated_at = ?
		WHERE id = ?
	`, retryCount, lastError, formatTime(time.Now()), id)
	if err != nil {
		return fmt.Errorf("mark failed: %w", err)
	}
	return requireRow(res, domain.ErrWorkItemNotFound)
}

// CancelWorkItem resets an in-flight item back to idea. Only honored while
// the item is generating or publishing; a cancel racing a just-completed
// job is a no-op and returns false.
func (db *DB) CancelWorkItem(id string) (bool, error) {
	res, err := db.db.Exec(`
		UPDATE work_items
		SET status = 'idea', updated_at = ?
		WHERE id = ? AND status IN ('generating', 'publishing')
	`, formatTime(time.Now()), id)
	if err != nil {
		return false, fmt.Errorf("cancel work item: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// ─── Scan Helpers ───────────────────────────────────────────────────────────

type rowScanner interface {
	Scan(dest ...any) error
}

func scanWorkItem(row rowScanner) (*domain.WorkItem, error) {
	var (
		item             domain.WorkItem
		recurrence       int
		freq, status     string
		nextRunAt        sql.NullString
		artifactJSON     sql.NullString
		created, updated string
	)
	err := row.Scan(&item.ID, &item.OwnerID, &item.Topic, &item.Payload, &recurrence, &freq,
		&nextRunAt, &status, &item.RetryCount, &item.LastError, &artifactJSON,
		&item.RemoteID, &item.RemoteURL, &created, &updated)
	if err != nil {
		return nil, err
	}

	item.RecurrenceEnabled = recurrence == 1
	item.Frequency = domain.Frequency(freq)
	item.Status = domain.Status(status)
	if nextRunAt.Valid {
		t := parseTime(nextRunAt.String)
		item.NextRunAt = &t
	}
	if artifactJSON.Valid && artifactJSON.String != "" {
		var a domain.Artifact
		if err := json.Unmarshal([]byte(artifactJSON.String), &a); err != nil {
			return nil, fmt.Errorf("unmarshal artifact: %w", err)
		}
		item.Artifact = &a
	}
	item.CreatedAt = parseTime(created)
	item.UpdatedAt = parseTime(updated)
	return &item, nil
}

func marshalArtifact(a *domain.Artifact) (any, error) {
	if a == nil {
		return nil, nil
	}
	data, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("marshal artifact: %w", err)
	}
	return string(data), nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func requireRow(res sql.Result, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return notFound
	}
	return nil
}
