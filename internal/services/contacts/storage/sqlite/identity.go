package sqlite

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/wirebird/contactsync/internal/services/contacts/storage"
)

// ClaimPhoneHash registers userID as the owner of phoneHash. The upsert only
// fires when the existing row belongs to the same user, so a conflicting
// claim leaves zero rows affected and maps to ErrAlreadyClaimed.
func (s *Store) ClaimPhoneHash(ctx context.Context, userID, phoneHash string, now time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.ready(); err != nil {
		return err
	}
	userID = strings.TrimSpace(userID)
	phoneHash = strings.TrimSpace(phoneHash)
	if userID == "" {
		return fmt.Errorf("user id is required")
	}
	if phoneHash == "" {
		return fmt.Errorf("phone hash is required")
	}

	result, err := s.sqlDB.ExecContext(
		ctx,
		`INSERT INTO phone_identities (phone_hash, user_id, created_at, updated_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(phone_hash) DO UPDATE SET
		   updated_at = excluded.updated_at
		 WHERE phone_identities.user_id = excluded.user_id`,
		phoneHash,
		userID,
		toMillis(now),
		toMillis(now),
	)
	if err != nil {
		return fmt.Errorf("claim phone hash: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("claim phone hash: %w", err)
	}
	if affected == 0 {
		return storage.ErrAlreadyClaimed
	}
	return nil
}

// LookupHashes resolves identity hashes to owning user ids. Hashes without an
// owner are absent from the result map; that is not an error.
func (s *Store) LookupHashes(ctx context.Context, hashes []string) (map[string]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := s.ready(); err != nil {
		return nil, err
	}
	if len(hashes) == 0 {
		return map[string]string{}, nil
	}

	placeholders := strings.Repeat("?,", len(hashes))
	placeholders = placeholders[:len(placeholders)-1]
	params := make([]any, 0, len(hashes))
	for _, hash := range hashes {
		params = append(params, hash)
	}

	rows, err := s.sqlDB.QueryContext(
		ctx,
		`SELECT phone_hash, user_id FROM phone_identities WHERE phone_hash IN (`+placeholders+`)`,
		params...,
	)
	if err != nil {
		return nil, fmt.Errorf("lookup hashes: %w", err)
	}
	defer rows.Close()

	matches := make(map[string]string, len(hashes))
	for rows.Next() {
		var phoneHash, userID string
		if err := rows.Scan(&phoneHash, &userID); err != nil {
			return nil, fmt.Errorf("lookup hashes: %w", err)
		}
		matches[phoneHash] = userID
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("lookup hashes: %w", err)
	}
	return matches, nil
}
