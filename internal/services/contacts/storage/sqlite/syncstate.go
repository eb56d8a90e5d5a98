package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/wirebird/contactsync/internal/services/contacts/storage"
)

// BeginSync atomically claims the per-user in-progress slot. The conflict
// clause only fires when the existing row is not in_progress, or is an
// in_progress row old enough to be considered abandoned; otherwise zero rows
// are affected and the caller gets ErrSyncInProgress.
func (s *Store) BeginSync(ctx context.Context, userID string, deviceContactsCount int, now, staleBefore time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.ready(); err != nil {
		return err
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return fmt.Errorf("user id is required")
	}
	if deviceContactsCount < 0 {
		return fmt.Errorf("device contacts count must not be negative")
	}

	result, err := s.sqlDB.ExecContext(
		ctx,
		`INSERT INTO sync_status (user_id, status, device_contacts_count, synced_contacts_count, error_message, updated_at)
		 VALUES (?, ?, ?, 0, NULL, ?)
		 ON CONFLICT(user_id) DO UPDATE SET
		   status = excluded.status,
		   device_contacts_count = excluded.device_contacts_count,
		   synced_contacts_count = 0,
		   error_message = NULL,
		   updated_at = excluded.updated_at
		 WHERE sync_status.status != ? OR sync_status.updated_at < ?`,
		userID,
		string(storage.SyncInProgress),
		deviceContactsCount,
		toMillis(now),
		string(storage.SyncInProgress),
		toMillis(staleBefore),
	)
	if err != nil {
		return fmt.Errorf("begin sync: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("begin sync: %w", err)
	}
	if affected == 0 {
		return storage.ErrSyncInProgress
	}
	return nil
}

// CompleteSync marks the user's sync as completed with the final match count.
func (s *Store) CompleteSync(ctx context.Context, userID string, syncedCount int, now time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.ready(); err != nil {
		return err
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return fmt.Errorf("user id is required")
	}
	if syncedCount < 0 {
		return fmt.Errorf("synced count must not be negative")
	}

	result, err := s.sqlDB.ExecContext(
		ctx,
		`UPDATE sync_status SET
		   status = ?,
		   synced_contacts_count = ?,
		   error_message = NULL,
		   last_sync_at = ?,
		   updated_at = ?
		 WHERE user_id = ?`,
		string(storage.SyncCompleted),
		syncedCount,
		toMillis(now),
		toMillis(now),
		userID,
	)
	if err != nil {
		return fmt.Errorf("complete sync: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("complete sync: %w", err)
	}
	if affected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// FailSync marks the user's sync as failed, preserving prior counts.
func (s *Store) FailSync(ctx context.Context, userID, message string, now time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.ready(); err != nil {
		return err
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return fmt.Errorf("user id is required")
	}

	result, err := s.sqlDB.ExecContext(
		ctx,
		`UPDATE sync_status SET status = ?, error_message = ?, updated_at = ? WHERE user_id = ?`,
		string(storage.SyncFailed),
		strings.TrimSpace(message),
		toMillis(now),
		userID,
	)
	if err != nil {
		return fmt.Errorf("fail sync: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("fail sync: %w", err)
	}
	if affected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// GetSyncStatus returns the stored row, or a zeroed pending default when the
// user has never synced. Absence of history is not an error.
func (s *Store) GetSyncStatus(ctx context.Context, userID string) (storage.SyncStatus, error) {
	if err := ctx.Err(); err != nil {
		return storage.SyncStatus{}, err
	}
	if err := s.ready(); err != nil {
		return storage.SyncStatus{}, err
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return storage.SyncStatus{}, fmt.Errorf("user id is required")
	}

	row := s.sqlDB.QueryRowContext(
		ctx,
		`SELECT status, device_contacts_count, synced_contacts_count, error_message, last_sync_at, updated_at
		 FROM sync_status WHERE user_id = ?`,
		userID,
	)
	var (
		status       storage.SyncStatus
		statusValue  string
		errorMessage sql.NullString
		lastSyncAt   sql.NullInt64
		updatedAt    int64
	)
	err := row.Scan(
		&statusValue,
		&status.DeviceContactsCount,
		&status.SyncedContactsCount,
		&errorMessage,
		&lastSyncAt,
		&updatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.SyncStatus{UserID: userID, Status: storage.SyncPending}, nil
		}
		return storage.SyncStatus{}, fmt.Errorf("get sync status: %w", err)
	}
	status.UserID = userID
	status.Status = storage.SyncState(statusValue)
	status.ErrorMessage = errorMessage.String
	status.LastSyncAt = fromMillisPtr(lastSyncAt)
	status.UpdatedAt = fromMillis(updatedAt)
	return status, nil
}

// RecordSyncAttempt records one attempt and returns the window summary in a
// single transaction. Rows outside the window are pruned on the way in, so
// the attempts table stays bounded without a background sweeper.
func (s *Store) RecordSyncAttempt(ctx context.Context, userID string, entryCount int, at, windowStart time.Time) (storage.AttemptWindow, error) {
	if err := ctx.Err(); err != nil {
		return storage.AttemptWindow{}, err
	}
	if err := s.ready(); err != nil {
		return storage.AttemptWindow{}, err
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return storage.AttemptWindow{}, fmt.Errorf("user id is required")
	}
	if entryCount < 0 {
		return storage.AttemptWindow{}, fmt.Errorf("entry count must not be negative")
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return storage.AttemptWindow{}, fmt.Errorf("record sync attempt: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(
		ctx,
		`DELETE FROM sync_attempts WHERE user_id = ? AND attempted_at < ?`,
		userID,
		toMillis(windowStart),
	); err != nil {
		return storage.AttemptWindow{}, fmt.Errorf("prune sync attempts: %w", err)
	}
	if _, err := tx.ExecContext(
		ctx,
		`INSERT INTO sync_attempts (user_id, entry_count, attempted_at) VALUES (?, ?, ?)`,
		userID,
		entryCount,
		toMillis(at),
	); err != nil {
		return storage.AttemptWindow{}, fmt.Errorf("insert sync attempt: %w", err)
	}

	var (
		total  int
		oldest int64
	)
	if err := tx.QueryRowContext(
		ctx,
		`SELECT COUNT(*), MIN(attempted_at) FROM sync_attempts WHERE user_id = ? AND attempted_at >= ?`,
		userID,
		toMillis(windowStart),
	).Scan(&total, &oldest); err != nil {
		return storage.AttemptWindow{}, fmt.Errorf("count sync attempts: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return storage.AttemptWindow{}, fmt.Errorf("record sync attempt: %w", err)
	}
	return storage.AttemptWindow{Total: total, Oldest: fromMillis(oldest)}, nil
}
