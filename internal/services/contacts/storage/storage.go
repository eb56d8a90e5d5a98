// Package storage defines persistence contracts for contacts service state.
package storage

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound indicates a requested record is missing or not owned by the caller.
var ErrNotFound = errors.New("record not found")

// ErrAlreadyClaimed indicates a phone hash is mapped to a different user.
var ErrAlreadyClaimed = errors.New("phone hash already claimed")

// ErrSyncInProgress indicates another sync holds the per-user in-progress slot.
var ErrSyncInProgress = errors.New("sync already in progress")

// SyncState enumerates sync status values.
type SyncState string

const (
	SyncPending    SyncState = "pending"
	SyncInProgress SyncState = "in_progress"
	SyncCompleted  SyncState = "completed"
	SyncFailed     SyncState = "failed"
)

// Contact stores one owner-scoped private contact relationship. LinkedUserID
// is empty for unlinked placeholders that have no registered counterpart yet.
type Contact struct {
	ID                string
	OwnerUserID       string
	PhoneHash         string
	LinkedUserID      string
	IsFavorite        bool
	LastInteractionAt *time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// ContactPage stores one page of contacts. HasMore reports whether the page
// was filled to its limit.
type ContactPage struct {
	Contacts []Contact
	HasMore  bool
}

// Condition is a SQL WHERE fragment with positional parameters, produced by
// the list filter translator.
type Condition struct {
	Clause string
	Params []any
}

// ListOptions narrows and pages a contact listing.
type ListOptions struct {
	FavoritesOnly bool
	Filter        Condition
	Limit         int
	Offset        int
}

// PhoneIdentity maps one identity hash to the user who owns the number.
type PhoneIdentity struct {
	PhoneHash string
	UserID    string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// SyncStatus stores the most recent sync outcome for one user.
type SyncStatus struct {
	UserID              string
	Status              SyncState
	DeviceContactsCount int
	SyncedContactsCount int
	ErrorMessage        string
	LastSyncAt          *time.Time
	UpdatedAt           time.Time
}

// SyncPercentage derives completion as a percentage clamped to [0,100].
func (s SyncStatus) SyncPercentage() float64 {
	if s.DeviceContactsCount <= 0 {
		return 0
	}
	pct := float64(s.SyncedContactsCount) / float64(s.DeviceContactsCount) * 100
	if pct < 0 {
		return 0
	}
	if pct > 100 {
		return 100
	}
	return pct
}

// Profile stores a local projection of identity-provider profile data used
// for display-name and email search.
type Profile struct {
	UserID      string
	DisplayName string
	Email       string
	UpdatedAt   time.Time
}

// ContactStats aggregates one owner's contact counts.
type ContactStats struct {
	TotalContacts    int
	LinkedContacts   int
	FavoriteContacts int
	UnlinkedContacts int
	LastSyncAt       *time.Time
}

// AttemptWindow summarizes one user's sync attempts inside the rate window.
// Total includes the attempt just recorded.
type AttemptWindow struct {
	Total  int
	Oldest time.Time
}

// ContactStore persists owner-scoped private contact relationships.
type ContactStore interface {
	// UpsertMatched records a contact for a matched identity. Keyed by
	// (owner, hash): replays update the linked user instead of inserting.
	UpsertMatched(ctx context.Context, ownerUserID, phoneHash, linkedUserID string, now time.Time) error
	GetContact(ctx context.Context, ownerUserID, contactID string) (Contact, error)
	GetContactByHash(ctx context.Context, ownerUserID, phoneHash string) (Contact, error)
	ListContacts(ctx context.Context, ownerUserID string, opts ListOptions) (ContactPage, error)
	ListFavorites(ctx context.Context, ownerUserID string) ([]Contact, error)
	// ToggleFavorite flips the favorite flag and returns the new value.
	ToggleFavorite(ctx context.Context, ownerUserID, contactID string, now time.Time) (bool, error)
	// RecordInteraction stamps last_interaction_at on the contact with the
	// given hash. Returns false when no such contact exists; that is a
	// normal outcome, not an error.
	RecordInteraction(ctx context.Context, ownerUserID, phoneHash string, now time.Time) (bool, error)
	SearchByHash(ctx context.Context, ownerUserID, phoneHash string, limit, offset int) (ContactPage, error)
	// SearchByName matches case-folded profile display names and emails of
	// linked users.
	SearchByName(ctx context.Context, ownerUserID, foldedTerm string, limit, offset int) (ContactPage, error)
	GetContactStats(ctx context.Context, ownerUserID string) (ContactStats, error)
}

// PhoneIdentityStore persists the hash-to-owner discoverability index.
type PhoneIdentityStore interface {
	// ClaimPhoneHash registers userID as the owner of phoneHash. Reclaiming
	// an own hash is an idempotent success; a hash owned by another user
	// fails with ErrAlreadyClaimed.
	ClaimPhoneHash(ctx context.Context, userID, phoneHash string, now time.Time) error
	// LookupHashes resolves hashes to owning user ids. Absent hashes are
	// simply missing from the result map.
	LookupHashes(ctx context.Context, hashes []string) (map[string]string, error)
}

// SyncStatusStore persists per-user sync state.
type SyncStatusStore interface {
	// BeginSync atomically claims the per-user in-progress slot. An
	// in_progress row younger than staleBefore fails with ErrSyncInProgress;
	// older rows are treated as abandoned and taken over.
	BeginSync(ctx context.Context, userID string, deviceContactsCount int, now, staleBefore time.Time) error
	CompleteSync(ctx context.Context, userID string, syncedCount int, now time.Time) error
	FailSync(ctx context.Context, userID, message string, now time.Time) error
	// GetSyncStatus returns the stored row, or a zeroed pending default when
	// the user has never synced.
	GetSyncStatus(ctx context.Context, userID string) (SyncStatus, error)
}

// RateStore persists the sliding-window sync attempt counters. Implementations
// must be shared across service instances; an in-process counter is not
// acceptable for production.
type RateStore interface {
	// RecordSyncAttempt records one attempt and returns the window summary
	// in a single atomic step. Entries older than windowStart are pruned.
	RecordSyncAttempt(ctx context.Context, userID string, entryCount int, at, windowStart time.Time) (AttemptWindow, error)
}

// ProfileStore persists profile projections for search.
type ProfileStore interface {
	UpsertProfile(ctx context.Context, profile Profile) error
	GetProfile(ctx context.Context, userID string) (Profile, error)
}
