package sqlite

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/autopress/autopress/internal/domain"
)

// ─── Scheduled Post Operations ──────────────────────────────────────────────
// The simpler time-gated machine: scheduled → published|failed. Same
// conditional-update claim discipline as work items.

const postColumns = `id, owner_id, artifact_json, scheduled_for, status, retry_count,
	last_error, remote_id, remote_url, created_at`

// InsertScheduledPost persists a pre-generated post.
func (db *DB) InsertScheduledPost(post domain.ScheduledPost) error {
	data, err := json.Marshal(post.Artifact)
	if err != nil {
		return fmt.Errorf("marshal post artifact: %w", err)
	}
	_, err = db.db.Exec(`
		INSERT INTO scheduled_posts (id, owner_id, artifact_json, scheduled_for, status,
			retry_count, last_error, remote_id, remote_url)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, post.ID, post.OwnerID, string(data), formatTime(post.ScheduledFor), string(post.Status),
		post.RetryCount, post.LastError, post.RemoteID, post.RemoteURL)
	if err != nil {
		return fmt.Errorf("insert scheduled post: %w", err)
	}
	return nil
}

// GetScheduledPost returns one post by id.
func (db *DB) GetScheduledPost(id string) (*domain.ScheduledPost, error) {
	row := db.db.QueryRow(`SELECT `+postColumns+` FROM scheduled_posts WHERE id = ?`, id)
	post, err := scanPost(row)
	if err == sql.ErrNoRows {
		return nil, domain.ErrWorkItemNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get scheduled post: %w", err)
	}
	return post, nil
}

// DuePosts returns at most limit posts whose publish time has arrived,
// earliest first.
func (db *DB) DuePosts(now time.Time, limit int) ([]domain.ScheduledPost, error) {
	rows, err := db.db.Query(`
		SELECT `+postColumns+` FROM scheduled_posts
		WHERE status = 'scheduled' AND scheduled_for <= ?
		ORDER BY scheduled_for ASC, id ASC
		LIMIT ?
	`, formatTime(now), limit)
	if err != nil {
		return nil, fmt.Errorf("poll due posts: %w", err)
	}
	defer rows.Close()

	var posts []domain.ScheduledPost
	for rows.Next() {
		post, err := scanPost(rows)
		if err != nil {
			return nil, err
		}
		posts = append(posts, *post)
	}
	return posts, rows.Err()
}

// ClaimPost atomically transitions scheduled → publishing.
func (db *DB) ClaimPost(id string) error {
	res, err := db.db.Exec(`
		UPDATE scheduled_posts SET status = 'publishing' WHERE id = ? AND status = 'scheduled'
	`, id)
	if err != nil {
		return fmt.Errorf("claim post: %w", err)
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

// MarkPostPublished records the remote identifier with the terminal
// transition.
func (db *DB) MarkPostPublished(id string, result domain.PublishResult) error {
	res, err := db.db.Exec(`
		UPDATE scheduled_posts
		SET status = 'published', remote_id = ?, remote_url = ?, last_error = ''
		WHERE id = ? AND status = 'publishing'
	`, result.RemoteID, result.RemoteURL, id)
	if err != nil {
		return fmt.Errorf("mark post published: %w", err)
	}
	return requireRow(res, domain.ErrStorageConflict)
}

// RequeuePost returns a post to scheduled for a later retry.
func (db *DB) RequeuePost(id string, retryCount int, lastError string) error {
	res, err := db.db.Exec(`
		UPDATE scheduled_posts SET status = 'scheduled', retry_count = ?, last_error = ? WHERE id = ?
	`, retryCount, lastError, id)
	if err != nil {
		return fmt.Errorf("requeue post: %w", err)
	}
	return requireRow(res, domain.ErrWorkItemNotFound)
}

// MarkPostFailed terminates a post permanently.
func (db *DB) MarkPostFailed(id string, retryCount int, lastError string) error {
	res, err := db.db.Exec(`
		UPDATE scheduled_posts SET status = 'failed', retry_count = ?, last_error = ? WHERE id = ?
	`, retryCount, lastError, id)
	if err != nil {
		return fmt.Errorf("mark post failed: %w", err)
	}
	return requireRow(res, domain.ErrWorkItemNotFound)
}

func scanPost(row rowScanner) (*domain.ScheduledPost, error) {
	var (
		post                       domain.ScheduledPost
		artifactJSON               string
		scheduled, status, created string
	)
	err := row.Scan(&post.ID, &post.OwnerID, &artifactJSON, &scheduled, &status,
		&post.RetryCount, &post.LastError, &post.RemoteID, &post.RemoteURL, &created)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(artifactJSON), &post.Artifact); err != nil {
		return nil, fmt.Errorf("unmarshal post artifact: %w", err)
	}
	post.ScheduledFor = parseTime(scheduled)
	post.Status = domain.PostStatus(status)
	post.CreatedAt = parseTime(created)
	return &post, nil
}
