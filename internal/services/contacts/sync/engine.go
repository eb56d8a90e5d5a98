package sync

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	apperrors "github.com/wirebird/contactsync/internal/platform/errors"
	"github.com/wirebird/contactsync/internal/platform/timeouts"
	"github.com/wirebird/contactsync/internal/services/contacts/storage"
)

var tracer = otel.Tracer("contactsync.sync")

const (
	// DefaultWorkers is the number of concurrent batch workers.
	DefaultWorkers = 4

	// DefaultStaleAfter is how long an in_progress sync row may sit
	// untouched before a new run takes it over.
	DefaultStaleAfter = 10 * time.Minute
)

// Options tunes an Engine. Zero values select the defaults.
type Options struct {
	Workers    int
	StaleAfter time.Duration
	Clock      func() time.Time
}

// Engine executes sync plans against the stores.
type Engine struct {
	contacts   storage.ContactStore
	identities storage.PhoneIdentityStore
	syncs      storage.SyncStatusStore
	workers    int
	staleAfter time.Duration
	clock      func() time.Time
}

// NewEngine wires an Engine to its stores.
func NewEngine(contacts storage.ContactStore, identities storage.PhoneIdentityStore, syncs storage.SyncStatusStore, opts Options) *Engine {
	if opts.Workers <= 0 {
		opts.Workers = DefaultWorkers
	}
	if opts.StaleAfter <= 0 {
		opts.StaleAfter = DefaultStaleAfter
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	return &Engine{
		contacts:   contacts,
		identities: identities,
		syncs:      syncs,
		workers:    opts.Workers,
		staleAfter: opts.StaleAfter,
		clock:      opts.Clock,
	}
}

// Result summarizes one completed sync run.
type Result struct {
	TotalProcessed  int
	MatchedContacts int
	Invalid         []InvalidEntry
	DuplicateCount  int
	CompletedAt     time.Time
}

// Run claims the caller's sync slot and executes the plan. deviceContacts is
// the client-reported phone book size backing sync progress percentages; it
// is floored to the accepted entry count. Once the slot is claimed the run is
// detached from the caller's cancellation and bounded by its own deadline, so
// a dropped client connection cannot leave a half-synced phone book behind an
// in_progress row.
func (e *Engine) Run(ctx context.Context, userID string, plan *Plan, deviceContacts int) (*Result, error) {
	if e == nil {
		return nil, errors.New("sync engine is nil")
	}
	if deviceContacts < plan.TotalAccepted {
		deviceContacts = plan.TotalAccepted
	}

	now := e.clock()
	err := e.syncs.BeginSync(ctx, userID, deviceContacts, now, now.Add(-e.staleAfter))
	if errors.Is(err, storage.ErrSyncInProgress) {
		return nil, apperrors.New(apperrors.CodeSyncAlreadyInProgress, "a sync is already running for this user")
	}
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeStoreUnavailable, "claim sync slot", err)
	}

	deadline := timeouts.SyncBase + time.Duration(len(plan.Batches))*timeouts.SyncPerBatch
	runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), deadline)
	defer cancel()

	runCtx, span := tracer.Start(runCtx, "sync.Run", trace.WithAttributes(
		attribute.Int("sync.entries", plan.TotalAccepted),
		attribute.Int("sync.batches", len(plan.Batches)),
	))
	defer span.End()

	var matched atomic.Int64
	grp, grpCtx := errgroup.WithContext(runCtx)
	grp.SetLimit(e.workers)
	for i, batch := range plan.Batches {
		grp.Go(func() error {
			return e.runBatch(grpCtx, userID, i, batch, &matched)
		})
	}
	if err := grp.Wait(); err != nil {
		span.RecordError(err)
		e.markFailed(userID, err)
		return nil, apperrors.Wrap(apperrors.CodeStoreUnavailable, "sync run", err)
	}

	completedAt := e.clock()
	if err := e.syncs.CompleteSync(runCtx, userID, int(matched.Load()), completedAt); err != nil {
		span.RecordError(err)
		return nil, apperrors.Wrap(apperrors.CodeStoreUnavailable, "record sync completion", err)
	}

	return &Result{
		TotalProcessed:  plan.TotalAccepted,
		MatchedContacts: int(matched.Load()),
		Invalid:         plan.Invalid,
		DuplicateCount:  len(plan.DuplicateRaws),
		CompletedAt:     completedAt,
	}, nil
}

// runBatch resolves one batch against the identity index and upserts the
// resulting contacts. Entries matching the caller's own identity are dropped.
func (e *Engine) runBatch(ctx context.Context, userID string, index int, batch []Entry, matched *atomic.Int64) error {
	ctx, span := tracer.Start(ctx, "sync.runBatch", trace.WithAttributes(
		attribute.Int("sync.batch_index", index),
		attribute.Int("sync.batch_size", len(batch)),
	))
	defer span.End()

	hashes := make([]string, len(batch))
	for i, entry := range batch {
		hashes[i] = entry.Hash
	}
	matches, err := e.identities.LookupHashes(ctx, hashes)
	if err != nil {
		return err
	}

	now := e.clock()
	for _, entry := range batch {
		linked := matches[entry.Hash]
		if linked == userID {
			continue
		}
		if err := e.contacts.UpsertMatched(ctx, userID, entry.Hash, linked, now); err != nil {
			return err
		}
		if linked != "" {
			matched.Add(1)
		}
	}
	return nil
}

// markFailed records a failed run on a fresh context so that the failure is
// stored even when the run context is already dead.
func (e *Engine) markFailed(userID string, cause error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = e.syncs.FailSync(ctx, userID, cause.Error(), e.clock())
}
