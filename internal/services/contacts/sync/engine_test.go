package sync

import (
	"context"
	"errors"
	gosync "sync"
	"testing"
	"time"

	apperrors "github.com/wirebird/contactsync/internal/platform/errors"
	"github.com/wirebird/contactsync/internal/services/contacts/phone"
	"github.com/wirebird/contactsync/internal/services/contacts/storage"
)

type fakeContacts struct {
	storage.ContactStore

	mu        gosync.Mutex
	upserts   map[string]string // phone hash -> linked user id
	upsertErr error
}

func (f *fakeContacts) UpsertMatched(_ context.Context, ownerUserID, phoneHash, linkedUserID string, _ time.Time) error {
	if f.upsertErr != nil {
		return f.upsertErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.upserts == nil {
		f.upserts = make(map[string]string)
	}
	f.upserts[phoneHash] = linkedUserID
	return nil
}

type fakeIdentities struct {
	storage.PhoneIdentityStore

	byHash    map[string]string
	lookupErr error
}

func (f *fakeIdentities) LookupHashes(_ context.Context, hashes []string) (map[string]string, error) {
	if f.lookupErr != nil {
		return nil, f.lookupErr
	}
	out := make(map[string]string)
	for _, hash := range hashes {
		if userID, ok := f.byHash[hash]; ok {
			out[hash] = userID
		}
	}
	return out, nil
}

type fakeSyncs struct {
	storage.SyncStatusStore

	mu        gosync.Mutex
	beginErr  error
	began     int
	completed int
	failed    string
}

func (f *fakeSyncs) BeginSync(_ context.Context, _ string, _ int, _, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.beginErr != nil {
		return f.beginErr
	}
	f.began++
	return nil
}

func (f *fakeSyncs) CompleteSync(_ context.Context, _ string, syncedCount int, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.completed = syncedCount
	return nil
}

func (f *fakeSyncs) FailSync(_ context.Context, _ string, message string, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failed = message
	return nil
}

func mustPlan(t *testing.T, phones []string) *Plan {
	t.Helper()
	plan, err := PlanFromPhones(phones, 0)
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	return plan
}

func TestEngineRunMatchesAndUpserts(t *testing.T) {
	registered := phone.Digest("+15551234567")
	unregistered := phone.Digest("+15557654321")

	contacts := &fakeContacts{}
	identities := &fakeIdentities{byHash: map[string]string{registered: "user-2"}}
	syncs := &fakeSyncs{}
	engine := NewEngine(contacts, identities, syncs, Options{
		Clock: func() time.Time { return time.Date(2026, time.August, 1, 12, 0, 0, 0, time.UTC) },
	})

	plan := mustPlan(t, []string{"+15551234567", "+15557654321"})
	result, err := engine.Run(context.Background(), "user-1", plan, 0)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.TotalProcessed != 2 || result.MatchedContacts != 1 {
		t.Fatalf("result = %+v", result)
	}
	if contacts.upserts[registered] != "user-2" {
		t.Fatalf("registered upsert = %q, want user-2", contacts.upserts[registered])
	}
	if linked, ok := contacts.upserts[unregistered]; !ok || linked != "" {
		t.Fatalf("unregistered upsert = %q/%v, want unlinked placeholder", linked, ok)
	}
	if syncs.completed != 1 {
		t.Fatalf("completed synced count = %d, want 1", syncs.completed)
	}
}

func TestEngineRunDropsOwnNumber(t *testing.T) {
	own := phone.Digest("+15551234567")
	contacts := &fakeContacts{}
	identities := &fakeIdentities{byHash: map[string]string{own: "user-1"}}
	syncs := &fakeSyncs{}
	engine := NewEngine(contacts, identities, syncs, Options{})

	plan := mustPlan(t, []string{"+15551234567"})
	result, err := engine.Run(context.Background(), "user-1", plan, 0)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if _, ok := contacts.upserts[own]; ok {
		t.Fatal("own number must not become a contact")
	}
	if result.MatchedContacts != 0 {
		t.Fatalf("matched = %d, want 0", result.MatchedContacts)
	}
}

func TestEngineRunReportsSyncInProgress(t *testing.T) {
	syncs := &fakeSyncs{beginErr: storage.ErrSyncInProgress}
	engine := NewEngine(&fakeContacts{}, &fakeIdentities{}, syncs, Options{})

	_, err := engine.Run(context.Background(), "user-1", mustPlan(t, []string{"+15551234567"}), 0)
	if apperrors.CodeOf(err) != apperrors.CodeSyncAlreadyInProgress {
		t.Fatalf("err = %v, want sync-in-progress code", err)
	}
}

func TestEngineRunRecordsFailure(t *testing.T) {
	boom := errors.New("index unavailable")
	identities := &fakeIdentities{lookupErr: boom}
	syncs := &fakeSyncs{}
	engine := NewEngine(&fakeContacts{}, identities, syncs, Options{})

	_, err := engine.Run(context.Background(), "user-1", mustPlan(t, []string{"+15551234567"}), 0)
	if err == nil {
		t.Fatal("expected run error")
	}
	if syncs.failed == "" {
		t.Fatal("expected failure to be recorded")
	}
}

func TestEngineRunSurvivesCallerCancellation(t *testing.T) {
	registered := phone.Digest("+15551234567")
	contacts := &fakeContacts{}
	identities := &fakeIdentities{byHash: map[string]string{registered: "user-2"}}
	syncs := &fakeSyncs{}
	engine := NewEngine(contacts, identities, syncs, Options{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := engine.Run(ctx, "user-1", mustPlan(t, []string{"+15551234567"}), 0)
	if err != nil {
		t.Fatalf("run after caller cancellation: %v", err)
	}
	if result.MatchedContacts != 1 {
		t.Fatalf("matched = %d, want 1", result.MatchedContacts)
	}
}
