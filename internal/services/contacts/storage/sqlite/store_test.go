package sqlite

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/wirebird/contactsync/internal/services/contacts/storage"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(t.TempDir() + "/contacts.db")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestUpsertMatchedIsIdempotent(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	now := time.Date(2026, time.August, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		if err := store.UpsertMatched(ctx, "owner-1", "hash-a", "user-2", now); err != nil {
			t.Fatalf("upsert attempt %d: %v", i+1, err)
		}
	}

	page, err := store.ListContacts(ctx, "owner-1", storage.ListOptions{Limit: 10})
	if err != nil {
		t.Fatalf("list contacts: %v", err)
	}
	if len(page.Contacts) != 1 {
		t.Fatalf("contacts len = %d, want 1 after replayed upserts", len(page.Contacts))
	}
	if page.Contacts[0].LinkedUserID != "user-2" {
		t.Fatalf("linked user = %q, want user-2", page.Contacts[0].LinkedUserID)
	}
}

func TestUpsertMatchedLinksPlaceholderWhenMatchAppears(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	now := time.Date(2026, time.August, 1, 12, 0, 0, 0, time.UTC)

	// Unlinked placeholder first, then the number's owner registers.
	if err := store.UpsertMatched(ctx, "owner-1", "hash-a", "", now); err != nil {
		t.Fatalf("upsert placeholder: %v", err)
	}
	if err := store.UpsertMatched(ctx, "owner-1", "hash-a", "user-9", now.Add(time.Hour)); err != nil {
		t.Fatalf("upsert match: %v", err)
	}

	contact, err := store.GetContactByHash(ctx, "owner-1", "hash-a")
	if err != nil {
		t.Fatalf("get contact: %v", err)
	}
	if contact.LinkedUserID != "user-9" {
		t.Fatalf("linked user = %q, want user-9", contact.LinkedUserID)
	}
	if !contact.CreatedAt.Equal(now) {
		t.Fatalf("created at changed on upsert: %v", contact.CreatedAt)
	}
}

func TestUpsertMatchedRejectsSelfLink(t *testing.T) {
	store := openTestStore(t)
	err := store.UpsertMatched(context.Background(), "owner-1", "hash-a", "owner-1", time.Now())
	if err == nil {
		t.Fatal("expected error for self-link")
	}
}

func TestListContactsOrderingAndPagination(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, time.August, 1, 12, 0, 0, 0, time.UTC)

	hashes := []string{"hash-1", "hash-2", "hash-3", "hash-4", "hash-5"}
	for i, hash := range hashes {
		if err := store.UpsertMatched(ctx, "owner-1", hash, "", base.Add(time.Duration(i)*time.Minute)); err != nil {
			t.Fatalf("upsert %s: %v", hash, err)
		}
	}
	// hash-2 was interacted with most recently, hash-4 before that.
	if _, err := store.RecordInteraction(ctx, "owner-1", "hash-4", base.Add(time.Hour)); err != nil {
		t.Fatalf("record interaction: %v", err)
	}
	if _, err := store.RecordInteraction(ctx, "owner-1", "hash-2", base.Add(2*time.Hour)); err != nil {
		t.Fatalf("record interaction: %v", err)
	}

	page, err := store.ListContacts(ctx, "owner-1", storage.ListOptions{Limit: 2})
	if err != nil {
		t.Fatalf("list page 1: %v", err)
	}
	if len(page.Contacts) != 2 || !page.HasMore {
		t.Fatalf("page 1 len = %d hasMore = %v, want 2 true", len(page.Contacts), page.HasMore)
	}
	if page.Contacts[0].PhoneHash != "hash-2" || page.Contacts[1].PhoneHash != "hash-4" {
		t.Fatalf("unexpected order: %s, %s", page.Contacts[0].PhoneHash, page.Contacts[1].PhoneHash)
	}

	page, err = store.ListContacts(ctx, "owner-1", storage.ListOptions{Limit: 2, Offset: 4})
	if err != nil {
		t.Fatalf("list page 3: %v", err)
	}
	if len(page.Contacts) != 1 || page.HasMore {
		t.Fatalf("page 3 len = %d hasMore = %v, want 1 false", len(page.Contacts), page.HasMore)
	}
}

func TestListContactsOwnerScoping(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	if err := store.UpsertMatched(ctx, "owner-1", "hash-a", "", now); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := store.UpsertMatched(ctx, "owner-2", "hash-a", "", now); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	page, err := store.ListContacts(ctx, "owner-1", storage.ListOptions{Limit: 10})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(page.Contacts) != 1 {
		t.Fatalf("owner-1 contacts = %d, want 1", len(page.Contacts))
	}
	if page.Contacts[0].OwnerUserID != "owner-1" {
		t.Fatalf("leaked contact from another owner: %+v", page.Contacts[0])
	}
}

func TestListContactsWithFilterCondition(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	if err := store.UpsertMatched(ctx, "owner-1", "hash-a", "", now); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := store.UpsertMatched(ctx, "owner-1", "hash-b", "", now); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	contact, err := store.GetContactByHash(ctx, "owner-1", "hash-b")
	if err != nil {
		t.Fatalf("get contact: %v", err)
	}
	if _, err := store.ToggleFavorite(ctx, "owner-1", contact.ID, now); err != nil {
		t.Fatalf("toggle favorite: %v", err)
	}

	page, err := store.ListContacts(ctx, "owner-1", storage.ListOptions{
		Limit:  10,
		Filter: storage.Condition{Clause: "is_favorite = ?", Params: []any{1}},
	})
	if err != nil {
		t.Fatalf("list filtered: %v", err)
	}
	if len(page.Contacts) != 1 || page.Contacts[0].PhoneHash != "hash-b" {
		t.Fatalf("filtered page = %+v, want only hash-b", page.Contacts)
	}
}

func TestToggleFavorite(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	if err := store.UpsertMatched(ctx, "owner-1", "hash-a", "", now); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	contact, err := store.GetContactByHash(ctx, "owner-1", "hash-a")
	if err != nil {
		t.Fatalf("get contact: %v", err)
	}

	on, err := store.ToggleFavorite(ctx, "owner-1", contact.ID, now)
	if err != nil {
		t.Fatalf("toggle on: %v", err)
	}
	if !on {
		t.Fatal("expected favorite after first toggle")
	}
	off, err := store.ToggleFavorite(ctx, "owner-1", contact.ID, now)
	if err != nil {
		t.Fatalf("toggle off: %v", err)
	}
	if off {
		t.Fatal("expected not-favorite after second toggle")
	}

	if _, err := store.ToggleFavorite(ctx, "owner-2", contact.ID, now); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("cross-owner toggle err = %v, want ErrNotFound", err)
	}
	if _, err := store.ToggleFavorite(ctx, "owner-1", "missing", now); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("missing toggle err = %v, want ErrNotFound", err)
	}
}

func TestListFavorites(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	for _, hash := range []string{"hash-a", "hash-b", "hash-c"} {
		if err := store.UpsertMatched(ctx, "owner-1", hash, "", now); err != nil {
			t.Fatalf("upsert: %v", err)
		}
	}
	contact, err := store.GetContactByHash(ctx, "owner-1", "hash-b")
	if err != nil {
		t.Fatalf("get contact: %v", err)
	}
	if _, err := store.ToggleFavorite(ctx, "owner-1", contact.ID, now); err != nil {
		t.Fatalf("toggle: %v", err)
	}

	favorites, err := store.ListFavorites(ctx, "owner-1")
	if err != nil {
		t.Fatalf("list favorites: %v", err)
	}
	if len(favorites) != 1 || favorites[0].PhoneHash != "hash-b" {
		t.Fatalf("favorites = %+v, want only hash-b", favorites)
	}
}

func TestRecordInteraction(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	now := time.Date(2026, time.August, 1, 12, 0, 0, 0, time.UTC)

	if err := store.UpsertMatched(ctx, "owner-1", "hash-a", "", now); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	found, err := store.RecordInteraction(ctx, "owner-1", "hash-a", now.Add(time.Hour))
	if err != nil {
		t.Fatalf("record interaction: %v", err)
	}
	if !found {
		t.Fatal("expected interaction to find the contact")
	}
	contact, err := store.GetContactByHash(ctx, "owner-1", "hash-a")
	if err != nil {
		t.Fatalf("get contact: %v", err)
	}
	if contact.LastInteractionAt == nil || !contact.LastInteractionAt.Equal(now.Add(time.Hour)) {
		t.Fatalf("last interaction = %v, want %v", contact.LastInteractionAt, now.Add(time.Hour))
	}

	// Interaction with a stranger is a normal non-match.
	found, err = store.RecordInteraction(ctx, "owner-1", "hash-unknown", now)
	if err != nil {
		t.Fatalf("record interaction: %v", err)
	}
	if found {
		t.Fatal("expected no contact for unknown hash")
	}
}

func TestClaimPhoneHash(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	if err := store.ClaimPhoneHash(ctx, "user-1", "hash-a", now); err != nil {
		t.Fatalf("claim: %v", err)
	}
	// Re-claim by the same user is idempotent.
	if err := store.ClaimPhoneHash(ctx, "user-1", "hash-a", now.Add(time.Minute)); err != nil {
		t.Fatalf("re-claim: %v", err)
	}
	// A different user cannot take over the hash.
	if err := store.ClaimPhoneHash(ctx, "user-2", "hash-a", now); !errors.Is(err, storage.ErrAlreadyClaimed) {
		t.Fatalf("conflicting claim err = %v, want ErrAlreadyClaimed", err)
	}
}

func TestLookupHashes(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	if err := store.ClaimPhoneHash(ctx, "user-1", "hash-a", now); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if err := store.ClaimPhoneHash(ctx, "user-2", "hash-b", now); err != nil {
		t.Fatalf("claim: %v", err)
	}

	matches, err := store.LookupHashes(ctx, []string{"hash-a", "hash-b", "hash-missing"})
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if len(matches) != 2 {
		t.Fatalf("matches = %v, want 2 entries", matches)
	}
	if matches["hash-a"] != "user-1" || matches["hash-b"] != "user-2" {
		t.Fatalf("unexpected matches: %v", matches)
	}
	if _, present := matches["hash-missing"]; present {
		t.Fatal("unmatched hash must be absent, not an error")
	}

	empty, err := store.LookupHashes(ctx, nil)
	if err != nil {
		t.Fatalf("empty lookup: %v", err)
	}
	if len(empty) != 0 {
		t.Fatalf("empty lookup = %v", empty)
	}
}

func TestBeginSyncClaimsSlot(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	now := time.Date(2026, time.August, 1, 12, 0, 0, 0, time.UTC)
	staleBefore := now.Add(-10 * time.Minute)

	if err := store.BeginSync(ctx, "user-1", 100, now, staleBefore); err != nil {
		t.Fatalf("begin sync: %v", err)
	}
	if err := store.BeginSync(ctx, "user-1", 100, now.Add(time.Second), staleBefore); !errors.Is(err, storage.ErrSyncInProgress) {
		t.Fatalf("concurrent begin err = %v, want ErrSyncInProgress", err)
	}

	if err := store.CompleteSync(ctx, "user-1", 42, now.Add(time.Minute)); err != nil {
		t.Fatalf("complete sync: %v", err)
	}
	status, err := store.GetSyncStatus(ctx, "user-1")
	if err != nil {
		t.Fatalf("get status: %v", err)
	}
	if status.Status != storage.SyncCompleted || status.SyncedContactsCount != 42 {
		t.Fatalf("status = %+v", status)
	}
	if status.LastSyncAt == nil {
		t.Fatal("expected last sync timestamp")
	}

	// Completed state releases the slot.
	if err := store.BeginSync(ctx, "user-1", 50, now.Add(2*time.Minute), staleBefore); err != nil {
		t.Fatalf("begin after complete: %v", err)
	}
}

func TestBeginSyncTakesOverStaleInProgress(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	start := time.Date(2026, time.August, 1, 12, 0, 0, 0, time.UTC)

	if err := store.BeginSync(ctx, "user-1", 100, start, start.Add(-10*time.Minute)); err != nil {
		t.Fatalf("begin sync: %v", err)
	}
	// Thirty minutes later the old in_progress row is abandoned.
	later := start.Add(30 * time.Minute)
	if err := store.BeginSync(ctx, "user-1", 80, later, later.Add(-10*time.Minute)); err != nil {
		t.Fatalf("stale takeover: %v", err)
	}
	status, err := store.GetSyncStatus(ctx, "user-1")
	if err != nil {
		t.Fatalf("get status: %v", err)
	}
	if status.DeviceContactsCount != 80 {
		t.Fatalf("device count = %d, want 80 from takeover", status.DeviceContactsCount)
	}
}

func TestFailSyncPreservesCounts(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	if err := store.BeginSync(ctx, "user-1", 100, now, now.Add(-10*time.Minute)); err != nil {
		t.Fatalf("begin: %v", err)
	}
	if err := store.FailSync(ctx, "user-1", "store exploded", now.Add(time.Second)); err != nil {
		t.Fatalf("fail: %v", err)
	}
	status, err := store.GetSyncStatus(ctx, "user-1")
	if err != nil {
		t.Fatalf("get status: %v", err)
	}
	if status.Status != storage.SyncFailed || status.ErrorMessage != "store exploded" {
		t.Fatalf("status = %+v", status)
	}
	if status.DeviceContactsCount != 100 {
		t.Fatalf("device count = %d, want preserved 100", status.DeviceContactsCount)
	}
}

func TestGetSyncStatusDefaultsToPending(t *testing.T) {
	store := openTestStore(t)
	status, err := store.GetSyncStatus(context.Background(), "never-synced")
	if err != nil {
		t.Fatalf("get status: %v", err)
	}
	if status.Status != storage.SyncPending {
		t.Fatalf("status = %q, want pending", status.Status)
	}
	if status.DeviceContactsCount != 0 || status.SyncedContactsCount != 0 {
		t.Fatalf("expected zeroed counts, got %+v", status)
	}
	if status.SyncPercentage() != 0 {
		t.Fatalf("percentage = %v, want 0", status.SyncPercentage())
	}
}

func TestRecordSyncAttemptWindow(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, time.August, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		window, err := store.RecordSyncAttempt(ctx, "user-1", 10, base.Add(time.Duration(i)*time.Minute), base.Add(-time.Hour))
		if err != nil {
			t.Fatalf("record attempt %d: %v", i+1, err)
		}
		if window.Total != i+1 {
			t.Fatalf("attempt %d: total = %d, want %d", i+1, window.Total, i+1)
		}
		if !window.Oldest.Equal(base) {
			t.Fatalf("oldest = %v, want %v", window.Oldest, base)
		}
	}

	// Two hours later the old attempts fall outside the window and are pruned.
	later := base.Add(2 * time.Hour)
	window, err := store.RecordSyncAttempt(ctx, "user-1", 10, later, later.Add(-time.Hour))
	if err != nil {
		t.Fatalf("record attempt: %v", err)
	}
	if window.Total != 1 {
		t.Fatalf("total after window expiry = %d, want 1", window.Total)
	}
}

func TestSearchByName(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	if err := store.UpsertProfile(ctx, storage.Profile{UserID: "user-2", DisplayName: "Alice Martin", Email: "Alice@Example.com", UpdatedAt: now}); err != nil {
		t.Fatalf("upsert profile: %v", err)
	}
	if err := store.UpsertProfile(ctx, storage.Profile{UserID: "user-3", DisplayName: "Bob Stone", Email: "bob@example.com", UpdatedAt: now}); err != nil {
		t.Fatalf("upsert profile: %v", err)
	}
	if err := store.UpsertMatched(ctx, "owner-1", "hash-a", "user-2", now); err != nil {
		t.Fatalf("upsert contact: %v", err)
	}
	if err := store.UpsertMatched(ctx, "owner-1", "hash-b", "user-3", now); err != nil {
		t.Fatalf("upsert contact: %v", err)
	}

	page, err := store.SearchByName(ctx, "owner-1", "alice", 10, 0)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(page.Contacts) != 1 || page.Contacts[0].LinkedUserID != "user-2" {
		t.Fatalf("search result = %+v, want only user-2", page.Contacts)
	}

	// Email matching uses the folded column too.
	page, err = store.SearchByName(ctx, "owner-1", "bob@example", 10, 0)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(page.Contacts) != 1 || page.Contacts[0].LinkedUserID != "user-3" {
		t.Fatalf("search result = %+v, want only user-3", page.Contacts)
	}
}

func TestSearchByHash(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	if err := store.UpsertMatched(ctx, "owner-1", "hash-a", "", now); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	page, err := store.SearchByHash(ctx, "owner-1", "hash-a", 10, 0)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(page.Contacts) != 1 {
		t.Fatalf("search result = %+v, want 1", page.Contacts)
	}
	page, err = store.SearchByHash(ctx, "owner-1", "hash-zz", 10, 0)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(page.Contacts) != 0 {
		t.Fatalf("search result = %+v, want empty", page.Contacts)
	}
}

func TestGetContactStats(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	now := time.Date(2026, time.August, 1, 12, 0, 0, 0, time.UTC)

	if err := store.UpsertMatched(ctx, "owner-1", "hash-a", "user-2", now); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := store.UpsertMatched(ctx, "owner-1", "hash-b", "", now); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	contact, err := store.GetContactByHash(ctx, "owner-1", "hash-a")
	if err != nil {
		t.Fatalf("get contact: %v", err)
	}
	if _, err := store.ToggleFavorite(ctx, "owner-1", contact.ID, now); err != nil {
		t.Fatalf("toggle: %v", err)
	}
	if err := store.BeginSync(ctx, "owner-1", 2, now, now.Add(-10*time.Minute)); err != nil {
		t.Fatalf("begin sync: %v", err)
	}
	if err := store.CompleteSync(ctx, "owner-1", 1, now.Add(time.Minute)); err != nil {
		t.Fatalf("complete sync: %v", err)
	}

	stats, err := store.GetContactStats(ctx, "owner-1")
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.TotalContacts != 2 || stats.LinkedContacts != 1 || stats.FavoriteContacts != 1 || stats.UnlinkedContacts != 1 {
		t.Fatalf("stats = %+v", stats)
	}
	if stats.LastSyncAt == nil {
		t.Fatal("expected last sync timestamp in stats")
	}
}
