// Package sqlite provides a SQLite-backed contacts storage implementation.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/wirebird/contactsync/internal/platform/id"
	"github.com/wirebird/contactsync/internal/platform/storage/sqlitemigrate"
	"github.com/wirebird/contactsync/internal/services/contacts/storage"
	"github.com/wirebird/contactsync/internal/services/contacts/storage/sqlite/migrations"
	_ "modernc.org/sqlite"
)

// Store persists contacts service state in SQLite.
type Store struct {
	sqlDB *sql.DB
}

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

func fromMillisPtr(value sql.NullInt64) *time.Time {
	if !value.Valid {
		return nil
	}
	ts := fromMillis(value.Int64)
	return &ts
}

// Open opens a SQLite contacts store and applies embedded migrations.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	cleanPath := filepath.Clean(path)
	dsn := cleanPath + "?_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=5000&_synchronous=NORMAL"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := sqlitemigrate.ApplyMigrations(sqlDB, migrations.FS, ""); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Store{sqlDB: sqlDB}, nil
}

// Close closes the SQLite handle.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

func (s *Store) ready() error {
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	return nil
}

const contactColumns = `id, owner_user_id, phone_hash, linked_user_id, is_favorite, last_interaction_at, created_at, updated_at`

func scanContact(scanner interface{ Scan(...any) error }) (storage.Contact, error) {
	var (
		contact           storage.Contact
		linkedUserID      sql.NullString
		lastInteractionAt sql.NullInt64
		isFavorite        int
		createdAt         int64
		updatedAt         int64
	)
	err := scanner.Scan(
		&contact.ID,
		&contact.OwnerUserID,
		&contact.PhoneHash,
		&linkedUserID,
		&isFavorite,
		&lastInteractionAt,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return storage.Contact{}, err
	}
	contact.LinkedUserID = linkedUserID.String
	contact.IsFavorite = isFavorite != 0
	contact.LastInteractionAt = fromMillisPtr(lastInteractionAt)
	contact.CreatedAt = fromMillis(createdAt)
	contact.UpdatedAt = fromMillis(updatedAt)
	return contact, nil
}

// UpsertMatched records a contact for a matched identity, keyed by
// (owner, hash). Replaying a sync updates the linked user instead of
// inserting a duplicate row.
func (s *Store) UpsertMatched(ctx context.Context, ownerUserID, phoneHash, linkedUserID string, now time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.ready(); err != nil {
		return err
	}
	ownerUserID = strings.TrimSpace(ownerUserID)
	phoneHash = strings.TrimSpace(phoneHash)
	linkedUserID = strings.TrimSpace(linkedUserID)
	if ownerUserID == "" {
		return fmt.Errorf("owner user id is required")
	}
	if phoneHash == "" {
		return fmt.Errorf("phone hash is required")
	}
	if linkedUserID == ownerUserID {
		return fmt.Errorf("linked user id must differ from owner user id")
	}

	contactID, err := id.NewID()
	if err != nil {
		return fmt.Errorf("generate contact id: %w", err)
	}
	var linked any
	if linkedUserID != "" {
		linked = linkedUserID
	}
	_, err = s.sqlDB.ExecContext(
		ctx,
		`INSERT INTO contacts (id, owner_user_id, phone_hash, linked_user_id, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(owner_user_id, phone_hash) DO UPDATE SET
		   linked_user_id = COALESCE(excluded.linked_user_id, contacts.linked_user_id),
		   updated_at = excluded.updated_at`,
		contactID,
		ownerUserID,
		phoneHash,
		linked,
		toMillis(now),
		toMillis(now),
	)
	if err != nil {
		return fmt.Errorf("upsert contact: %w", err)
	}
	return nil
}

// GetContact returns one contact by id, scoped to its owner.
func (s *Store) GetContact(ctx context.Context, ownerUserID, contactID string) (storage.Contact, error) {
	if err := ctx.Err(); err != nil {
		return storage.Contact{}, err
	}
	if err := s.ready(); err != nil {
		return storage.Contact{}, err
	}
	ownerUserID = strings.TrimSpace(ownerUserID)
	contactID = strings.TrimSpace(contactID)
	if ownerUserID == "" {
		return storage.Contact{}, fmt.Errorf("owner user id is required")
	}
	if contactID == "" {
		return storage.Contact{}, fmt.Errorf("contact id is required")
	}

	row := s.sqlDB.QueryRowContext(
		ctx,
		`SELECT `+contactColumns+` FROM contacts WHERE owner_user_id = ? AND id = ?`,
		ownerUserID,
		contactID,
	)
	contact, err := scanContact(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.Contact{}, storage.ErrNotFound
		}
		return storage.Contact{}, fmt.Errorf("get contact: %w", err)
	}
	return contact, nil
}

// GetContactByHash returns one contact by phone hash, scoped to its owner.
func (s *Store) GetContactByHash(ctx context.Context, ownerUserID, phoneHash string) (storage.Contact, error) {
	if err := ctx.Err(); err != nil {
		return storage.Contact{}, err
	}
	if err := s.ready(); err != nil {
		return storage.Contact{}, err
	}
	ownerUserID = strings.TrimSpace(ownerUserID)
	phoneHash = strings.TrimSpace(phoneHash)
	if ownerUserID == "" {
		return storage.Contact{}, fmt.Errorf("owner user id is required")
	}
	if phoneHash == "" {
		return storage.Contact{}, fmt.Errorf("phone hash is required")
	}

	row := s.sqlDB.QueryRowContext(
		ctx,
		`SELECT `+contactColumns+` FROM contacts WHERE owner_user_id = ? AND phone_hash = ?`,
		ownerUserID,
		phoneHash,
	)
	contact, err := scanContact(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.Contact{}, storage.ErrNotFound
		}
		return storage.Contact{}, fmt.Errorf("get contact by hash: %w", err)
	}
	return contact, nil
}

// listOrder is the stable contact ordering: most recently interacted first,
// never-interacted contacts after, creation time as the tie breaker.
const listOrder = ` ORDER BY last_interaction_at IS NULL, last_interaction_at DESC, created_at DESC, id ASC`

// ListContacts returns one page of owner-scoped contacts.
func (s *Store) ListContacts(ctx context.Context, ownerUserID string, opts storage.ListOptions) (storage.ContactPage, error) {
	if err := ctx.Err(); err != nil {
		return storage.ContactPage{}, err
	}
	if err := s.ready(); err != nil {
		return storage.ContactPage{}, err
	}
	ownerUserID = strings.TrimSpace(ownerUserID)
	if ownerUserID == "" {
		return storage.ContactPage{}, fmt.Errorf("owner user id is required")
	}
	if opts.Limit <= 0 {
		return storage.ContactPage{}, fmt.Errorf("limit must be greater than zero")
	}
	if opts.Offset < 0 {
		return storage.ContactPage{}, fmt.Errorf("offset must not be negative")
	}

	query := `SELECT ` + contactColumns + ` FROM contacts WHERE owner_user_id = ?`
	params := []any{ownerUserID}
	if opts.FavoritesOnly {
		query += ` AND is_favorite = 1`
	}
	if strings.TrimSpace(opts.Filter.Clause) != "" {
		query += ` AND (` + opts.Filter.Clause + `)`
		params = append(params, opts.Filter.Params...)
	}
	query += listOrder + ` LIMIT ? OFFSET ?`
	params = append(params, opts.Limit, opts.Offset)

	rows, err := s.sqlDB.QueryContext(ctx, query, params...)
	if err != nil {
		return storage.ContactPage{}, fmt.Errorf("list contacts: %w", err)
	}
	defer rows.Close()

	page := storage.ContactPage{Contacts: make([]storage.Contact, 0, opts.Limit)}
	for rows.Next() {
		contact, err := scanContact(rows)
		if err != nil {
			return storage.ContactPage{}, fmt.Errorf("list contacts: %w", err)
		}
		page.Contacts = append(page.Contacts, contact)
	}
	if err := rows.Err(); err != nil {
		return storage.ContactPage{}, fmt.Errorf("list contacts: %w", err)
	}
	page.HasMore = len(page.Contacts) == opts.Limit
	return page, nil
}

// ListFavorites returns all favorite contacts for one owner. Favorites are
// expected to stay small, so the listing is unbounded.
func (s *Store) ListFavorites(ctx context.Context, ownerUserID string) ([]storage.Contact, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := s.ready(); err != nil {
		return nil, err
	}
	ownerUserID = strings.TrimSpace(ownerUserID)
	if ownerUserID == "" {
		return nil, fmt.Errorf("owner user id is required")
	}

	rows, err := s.sqlDB.QueryContext(
		ctx,
		`SELECT `+contactColumns+` FROM contacts WHERE owner_user_id = ? AND is_favorite = 1`+listOrder,
		ownerUserID,
	)
	if err != nil {
		return nil, fmt.Errorf("list favorites: %w", err)
	}
	defer rows.Close()

	var favorites []storage.Contact
	for rows.Next() {
		contact, err := scanContact(rows)
		if err != nil {
			return nil, fmt.Errorf("list favorites: %w", err)
		}
		favorites = append(favorites, contact)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list favorites: %w", err)
	}
	return favorites, nil
}

// ToggleFavorite flips the favorite flag and returns the new value.
func (s *Store) ToggleFavorite(ctx context.Context, ownerUserID, contactID string, now time.Time) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if err := s.ready(); err != nil {
		return false, err
	}
	ownerUserID = strings.TrimSpace(ownerUserID)
	contactID = strings.TrimSpace(contactID)
	if ownerUserID == "" {
		return false, fmt.Errorf("owner user id is required")
	}
	if contactID == "" {
		return false, fmt.Errorf("contact id is required")
	}

	row := s.sqlDB.QueryRowContext(
		ctx,
		`UPDATE contacts SET is_favorite = 1 - is_favorite, updated_at = ?
		 WHERE owner_user_id = ? AND id = ?
		 RETURNING is_favorite`,
		toMillis(now),
		ownerUserID,
		contactID,
	)
	var isFavorite int
	if err := row.Scan(&isFavorite); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, storage.ErrNotFound
		}
		return false, fmt.Errorf("toggle favorite: %w", err)
	}
	return isFavorite != 0, nil
}

// RecordInteraction stamps last_interaction_at on the contact with the given
// hash. Returns false when the owner has no such contact.
func (s *Store) RecordInteraction(ctx context.Context, ownerUserID, phoneHash string, now time.Time) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if err := s.ready(); err != nil {
		return false, err
	}
	ownerUserID = strings.TrimSpace(ownerUserID)
	phoneHash = strings.TrimSpace(phoneHash)
	if ownerUserID == "" {
		return false, fmt.Errorf("owner user id is required")
	}
	if phoneHash == "" {
		return false, fmt.Errorf("phone hash is required")
	}

	result, err := s.sqlDB.ExecContext(
		ctx,
		`UPDATE contacts SET last_interaction_at = ?, updated_at = ?
		 WHERE owner_user_id = ? AND phone_hash = ?`,
		toMillis(now),
		toMillis(now),
		ownerUserID,
		phoneHash,
	)
	if err != nil {
		return false, fmt.Errorf("record interaction: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("record interaction: %w", err)
	}
	return affected > 0, nil
}

// SearchByHash returns contacts whose phone hash matches exactly.
func (s *Store) SearchByHash(ctx context.Context, ownerUserID, phoneHash string, limit, offset int) (storage.ContactPage, error) {
	if err := ctx.Err(); err != nil {
		return storage.ContactPage{}, err
	}
	if err := s.ready(); err != nil {
		return storage.ContactPage{}, err
	}
	ownerUserID = strings.TrimSpace(ownerUserID)
	phoneHash = strings.TrimSpace(phoneHash)
	if ownerUserID == "" {
		return storage.ContactPage{}, fmt.Errorf("owner user id is required")
	}
	if phoneHash == "" {
		return storage.ContactPage{}, fmt.Errorf("phone hash is required")
	}
	if limit <= 0 {
		return storage.ContactPage{}, fmt.Errorf("limit must be greater than zero")
	}

	rows, err := s.sqlDB.QueryContext(
		ctx,
		`SELECT `+contactColumns+` FROM contacts
		 WHERE owner_user_id = ? AND phone_hash = ?`+listOrder+` LIMIT ? OFFSET ?`,
		ownerUserID,
		phoneHash,
		limit,
		offset,
	)
	if err != nil {
		return storage.ContactPage{}, fmt.Errorf("search by hash: %w", err)
	}
	defer rows.Close()
	return collectPage(rows, limit)
}

// SearchByName returns contacts whose linked profile matches the folded term.
func (s *Store) SearchByName(ctx context.Context, ownerUserID, foldedTerm string, limit, offset int) (storage.ContactPage, error) {
	if err := ctx.Err(); err != nil {
		return storage.ContactPage{}, err
	}
	if err := s.ready(); err != nil {
		return storage.ContactPage{}, err
	}
	ownerUserID = strings.TrimSpace(ownerUserID)
	foldedTerm = strings.TrimSpace(foldedTerm)
	if ownerUserID == "" {
		return storage.ContactPage{}, fmt.Errorf("owner user id is required")
	}
	if foldedTerm == "" {
		return storage.ContactPage{}, fmt.Errorf("search term is required")
	}
	if limit <= 0 {
		return storage.ContactPage{}, fmt.Errorf("limit must be greater than zero")
	}

	rows, err := s.sqlDB.QueryContext(
		ctx,
		`SELECT c.id, c.owner_user_id, c.phone_hash, c.linked_user_id, c.is_favorite,
		        c.last_interaction_at, c.created_at, c.updated_at
		 FROM contacts c
		 JOIN profiles p ON p.user_id = c.linked_user_id
		 WHERE c.owner_user_id = ?
		   AND (instr(p.display_name_folded, ?) > 0 OR instr(p.email_folded, ?) > 0)
		 ORDER BY c.last_interaction_at IS NULL, c.last_interaction_at DESC, c.created_at DESC, c.id ASC
		 LIMIT ? OFFSET ?`,
		ownerUserID,
		foldedTerm,
		foldedTerm,
		limit,
		offset,
	)
	if err != nil {
		return storage.ContactPage{}, fmt.Errorf("search by name: %w", err)
	}
	defer rows.Close()
	return collectPage(rows, limit)
}

func collectPage(rows *sql.Rows, limit int) (storage.ContactPage, error) {
	page := storage.ContactPage{Contacts: make([]storage.Contact, 0, limit)}
	for rows.Next() {
		contact, err := scanContact(rows)
		if err != nil {
			return storage.ContactPage{}, fmt.Errorf("scan contact: %w", err)
		}
		page.Contacts = append(page.Contacts, contact)
	}
	if err := rows.Err(); err != nil {
		return storage.ContactPage{}, fmt.Errorf("iterate contacts: %w", err)
	}
	page.HasMore = len(page.Contacts) == limit
	return page, nil
}

// GetContactStats aggregates one owner's contact counts and last sync time.
func (s *Store) GetContactStats(ctx context.Context, ownerUserID string) (storage.ContactStats, error) {
	if err := ctx.Err(); err != nil {
		return storage.ContactStats{}, err
	}
	if err := s.ready(); err != nil {
		return storage.ContactStats{}, err
	}
	ownerUserID = strings.TrimSpace(ownerUserID)
	if ownerUserID == "" {
		return storage.ContactStats{}, fmt.Errorf("owner user id is required")
	}

	row := s.sqlDB.QueryRowContext(
		ctx,
		`SELECT COUNT(*),
		        COALESCE(SUM(linked_user_id IS NOT NULL), 0),
		        COALESCE(SUM(is_favorite), 0)
		 FROM contacts WHERE owner_user_id = ?`,
		ownerUserID,
	)
	var stats storage.ContactStats
	if err := row.Scan(&stats.TotalContacts, &stats.LinkedContacts, &stats.FavoriteContacts); err != nil {
		return storage.ContactStats{}, fmt.Errorf("contact stats: %w", err)
	}
	stats.UnlinkedContacts = stats.TotalContacts - stats.LinkedContacts

	var lastSync sql.NullInt64
	err := s.sqlDB.QueryRowContext(
		ctx,
		`SELECT last_sync_at FROM sync_status WHERE user_id = ?`,
		ownerUserID,
	).Scan(&lastSync)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return storage.ContactStats{}, fmt.Errorf("contact stats: %w", err)
	}
	stats.LastSyncAt = fromMillisPtr(lastSync)
	return stats, nil
}

var _ storage.ContactStore = (*Store)(nil)
var _ storage.PhoneIdentityStore = (*Store)(nil)
var _ storage.SyncStatusStore = (*Store)(nil)
var _ storage.RateStore = (*Store)(nil)
var _ storage.ProfileStore = (*Store)(nil)
