// Package sync plans and executes contact synchronization runs. A run takes
// a device's submitted phone book, canonicalizes and deduplicates it, matches
// the resulting digests against the phone identity index in batches, and
// upserts owner-scoped contacts for every accepted entry.
package sync

import (
	"fmt"

	apperrors "github.com/wirebird/contactsync/internal/platform/errors"
	"github.com/wirebird/contactsync/internal/services/contacts/phone"
)

const (
	// MaxEntries bounds one submission. Larger phone books must be split
	// client-side.
	MaxEntries = 10000

	// DefaultBatchSize is the index lookup batch size when the caller does
	// not specify one.
	DefaultBatchSize = 500

	// MinBatchSize and MaxBatchSize clamp caller-supplied batch sizes.
	MinBatchSize = 100
	MaxBatchSize = 1000
)

// Entry is one accepted phone book entry. Canonical is empty on the
// pre-hashed path, where the server never sees the number.
type Entry struct {
	Raw       string
	Canonical string
	Hash      string
}

// InvalidEntry is one rejected phone book entry with the rejection reason.
type InvalidEntry struct {
	Raw    string
	Reason string
}

// Plan is a validated, deduplicated submission split into lookup batches.
// Batch order and the order of entries inside each batch follow submission
// order, so replanning the same input yields the same plan.
type Plan struct {
	Batches       [][]Entry
	Invalid       []InvalidEntry
	DuplicateRaws []string
	TotalAccepted int
}

// ClampBatchSize normalizes a requested batch size. Zero selects the default.
func ClampBatchSize(size int) int {
	switch {
	case size == 0:
		return DefaultBatchSize
	case size < MinBatchSize:
		return MinBatchSize
	case size > MaxBatchSize:
		return MaxBatchSize
	default:
		return size
	}
}

// PlanFromPhones builds a plan from raw phone numbers. Entries that fail
// canonicalization land in the invalid bucket; entries whose canonical form
// repeats an earlier one land in the duplicate bucket. Neither aborts the
// plan.
func PlanFromPhones(phones []string, batchSize int) (*Plan, error) {
	if err := checkSubmissionSize(len(phones)); err != nil {
		return nil, err
	}

	plan := &Plan{}
	seen := make(map[string]struct{}, len(phones))
	var accepted []Entry
	for _, raw := range phones {
		canonical, err := phone.Canonicalize(raw)
		if err != nil {
			plan.Invalid = append(plan.Invalid, InvalidEntry{Raw: raw, Reason: err.Error()})
			continue
		}
		if _, dup := seen[canonical]; dup {
			plan.DuplicateRaws = append(plan.DuplicateRaws, raw)
			continue
		}
		seen[canonical] = struct{}{}
		accepted = append(accepted, Entry{Raw: raw, Canonical: canonical, Hash: phone.Digest(canonical)})
	}

	plan.TotalAccepted = len(accepted)
	plan.Batches = splitBatches(accepted, ClampBatchSize(batchSize))
	return plan, nil
}

// PlanFromDigests builds a plan from client-side SHA-256 digests. Malformed
// digests land in the invalid bucket; repeated digests in the duplicate
// bucket.
func PlanFromDigests(digests []string, batchSize int) (*Plan, error) {
	if err := checkSubmissionSize(len(digests)); err != nil {
		return nil, err
	}

	plan := &Plan{}
	seen := make(map[string]struct{}, len(digests))
	var accepted []Entry
	for _, digest := range digests {
		if !phone.IsWellFormedDigest(digest) {
			plan.Invalid = append(plan.Invalid, InvalidEntry{Raw: digest, Reason: "not a lowercase hex sha-256 digest"})
			continue
		}
		if _, dup := seen[digest]; dup {
			plan.DuplicateRaws = append(plan.DuplicateRaws, digest)
			continue
		}
		seen[digest] = struct{}{}
		accepted = append(accepted, Entry{Raw: digest, Hash: digest})
	}

	plan.TotalAccepted = len(accepted)
	plan.Batches = splitBatches(accepted, ClampBatchSize(batchSize))
	return plan, nil
}

func checkSubmissionSize(n int) error {
	if n == 0 {
		return apperrors.New(apperrors.CodeEmptyInput, "submission contains no entries")
	}
	if n > MaxEntries {
		return apperrors.WithMetadata(apperrors.CodeTooManyEntries,
			fmt.Sprintf("submission exceeds the %d entry limit", MaxEntries),
			map[string]string{"entries": fmt.Sprintf("%d", n)})
	}
	return nil
}

func splitBatches(entries []Entry, batchSize int) [][]Entry {
	if len(entries) == 0 {
		return nil
	}
	batches := make([][]Entry, 0, (len(entries)+batchSize-1)/batchSize)
	for start := 0; start < len(entries); start += batchSize {
		end := start + batchSize
		if end > len(entries) {
			end = len(entries)
		}
		batches = append(batches, entries[start:end])
	}
	return batches
}
