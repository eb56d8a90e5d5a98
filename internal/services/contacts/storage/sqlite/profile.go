package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/wirebird/contactsync/internal/platform/textfold"
	"github.com/wirebird/contactsync/internal/services/contacts/storage"
)

// UpsertProfile stores one user's profile projection. Folded columns are
// derived here so that search always compares against the same normalization.
func (s *Store) UpsertProfile(ctx context.Context, profile storage.Profile) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.ready(); err != nil {
		return err
	}
	userID := strings.TrimSpace(profile.UserID)
	if userID == "" {
		return fmt.Errorf("user id is required")
	}
	displayName := strings.TrimSpace(profile.DisplayName)
	email := strings.TrimSpace(profile.Email)

	_, err := s.sqlDB.ExecContext(
		ctx,
		`INSERT INTO profiles (user_id, display_name, email, display_name_folded, email_folded, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(user_id) DO UPDATE SET
		   display_name = excluded.display_name,
		   email = excluded.email,
		   display_name_folded = excluded.display_name_folded,
		   email_folded = excluded.email_folded,
		   updated_at = excluded.updated_at`,
		userID,
		displayName,
		email,
		textfold.Fold(displayName),
		textfold.Fold(email),
		toMillis(profile.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("upsert profile: %w", err)
	}
	return nil
}

// GetProfile returns one user's profile projection.
func (s *Store) GetProfile(ctx context.Context, userID string) (storage.Profile, error) {
	if err := ctx.Err(); err != nil {
		return storage.Profile{}, err
	}
	if err := s.ready(); err != nil {
		return storage.Profile{}, err
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return storage.Profile{}, fmt.Errorf("user id is required")
	}

	row := s.sqlDB.QueryRowContext(
		ctx,
		`SELECT user_id, display_name, email, updated_at FROM profiles WHERE user_id = ?`,
		userID,
	)
	var (
		profile   storage.Profile
		updatedAt int64
	)
	if err := row.Scan(&profile.UserID, &profile.DisplayName, &profile.Email, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.Profile{}, storage.ErrNotFound
		}
		return storage.Profile{}, fmt.Errorf("get profile: %w", err)
	}
	profile.UpdatedAt = fromMillis(updatedAt)
	return profile, nil
}
