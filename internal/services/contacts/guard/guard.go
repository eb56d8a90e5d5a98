// Package guard screens contact sync submissions for abuse before any
// matching work runs. It enforces the per-user attempt window, throttles
// oversized submissions, rejects spam-shaped phone books, and guards the
// pre-hashed path against replayed payloads.
package guard

import (
	"context"
	"fmt"
	"strconv"
	"time"

	apperrors "github.com/wirebird/contactsync/internal/platform/errors"
	"github.com/wirebird/contactsync/internal/services/contacts/phone"
	"github.com/wirebird/contactsync/internal/services/contacts/storage"
)

// Config tunes the guard. Zero values select the defaults.
type Config struct {
	// MaxAttemptsPerWindow is the sync attempt ceiling inside one window.
	MaxAttemptsPerWindow int
	// Window is the rolling rate window.
	Window time.Duration
	// LargeSyncEntries is the entry count above which a submission counts
	// as large.
	LargeSyncEntries int
	// LargeSyncMaxPrior is the maximum number of earlier attempts in the
	// window that still permits a large submission.
	LargeSyncMaxPrior int
	// ReplayWindow bounds how old a pre-hashed payload timestamp may be.
	ReplayWindow time.Duration
	// ClockSkew is the tolerance for payload timestamps ahead of the
	// server clock.
	ClockSkew time.Duration

	Clock func() time.Time
}

const (
	defaultMaxAttempts      = 10
	defaultWindow           = time.Hour
	defaultLargeSyncEntries = 5000
	defaultLargeSyncPrior   = 2
	defaultReplayWindow     = 5 * time.Minute
	defaultClockSkew        = 60 * time.Second
)

// Guard screens submissions. Attempt counters live in the RateStore so the
// window holds across service instances.
type Guard struct {
	rates storage.RateStore
	cfg   Config
}

// New wires a Guard to its rate store.
func New(rates storage.RateStore, cfg Config) *Guard {
	if cfg.MaxAttemptsPerWindow <= 0 {
		cfg.MaxAttemptsPerWindow = defaultMaxAttempts
	}
	if cfg.Window <= 0 {
		cfg.Window = defaultWindow
	}
	if cfg.LargeSyncEntries <= 0 {
		cfg.LargeSyncEntries = defaultLargeSyncEntries
	}
	if cfg.LargeSyncMaxPrior <= 0 {
		cfg.LargeSyncMaxPrior = defaultLargeSyncPrior
	}
	if cfg.ReplayWindow <= 0 {
		cfg.ReplayWindow = defaultReplayWindow
	}
	if cfg.ClockSkew <= 0 {
		cfg.ClockSkew = defaultClockSkew
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	return &Guard{rates: rates, cfg: cfg}
}

// CheckSubmission screens a plaintext phone book submission. The attempt is
// recorded before any check runs, so rejected attempts still burn window
// budget.
func (g *Guard) CheckSubmission(ctx context.Context, userID string, rawEntries []string) error {
	if err := g.recordAndLimit(ctx, userID, len(rawEntries)); err != nil {
		return err
	}
	if err := screenRawDuplicates(rawEntries); err != nil {
		return err
	}
	return screenSpamPatterns(rawEntries)
}

// CheckHashedSubmission screens a pre-hashed submission. On top of the rate
// checks it verifies the hashing method, the payload timestamp against the
// replay window, and digest well-formedness.
func (g *Guard) CheckHashedSubmission(ctx context.Context, userID string, digests []string, hashingMethod string, submittedAt time.Time) error {
	if err := g.recordAndLimit(ctx, userID, len(digests)); err != nil {
		return err
	}

	if hashingMethod != phone.HashingMethod {
		return apperrors.WithMetadata(apperrors.CodeUnsupportedHashing, "unsupported hashing method", map[string]string{
			"method":    hashingMethod,
			"supported": phone.HashingMethod,
		})
	}

	now := g.cfg.Clock()
	if age := now.Sub(submittedAt); age > g.cfg.ReplayWindow {
		return apperrors.WithMetadata(apperrors.CodeReplayOrClockSkew, "payload timestamp is too old", map[string]string{
			"age": age.String(),
		})
	}
	if ahead := submittedAt.Sub(now); ahead > g.cfg.ClockSkew {
		return apperrors.WithMetadata(apperrors.CodeReplayOrClockSkew, "payload timestamp is in the future", map[string]string{
			"ahead": ahead.String(),
		})
	}

	if err := screenRawDuplicates(digests); err != nil {
		return err
	}
	for i, digest := range digests {
		if !phone.IsWellFormedDigest(digest) {
			return apperrors.WithMetadata(apperrors.CodeMalformedHash, "malformed phone hash", map[string]string{
				"index": strconv.Itoa(i),
			})
		}
	}
	return nil
}

func (g *Guard) recordAndLimit(ctx context.Context, userID string, entryCount int) error {
	now := g.cfg.Clock()
	window, err := g.rates.RecordSyncAttempt(ctx, userID, entryCount, now, now.Add(-g.cfg.Window))
	if err != nil {
		return apperrors.Wrap(apperrors.CodeStoreUnavailable, "record sync attempt", err)
	}

	retryAfter := window.Oldest.Add(g.cfg.Window).Sub(now)
	if retryAfter < time.Second {
		retryAfter = time.Second
	}
	if window.Total > g.cfg.MaxAttemptsPerWindow {
		return apperrors.RateLimited(
			fmt.Sprintf("sync attempt limit of %d per window reached", g.cfg.MaxAttemptsPerWindow),
			retryAfter)
	}
	if entryCount > g.cfg.LargeSyncEntries && window.Total-1 > g.cfg.LargeSyncMaxPrior {
		return apperrors.RateLimited("large sync requires a quieter attempt window", retryAfter)
	}
	return nil
}

// screenRawDuplicates rejects submissions repeating the exact same raw
// string. Formatting variants of one number are tolerated here and collapsed
// later by the planner.
func screenRawDuplicates(entries []string) error {
	seen := make(map[string]struct{}, len(entries))
	for i, entry := range entries {
		if _, dup := seen[entry]; dup {
			return apperrors.WithMetadata(apperrors.CodeDuplicateEntries, "submission repeats an identical entry", map[string]string{
				"index": strconv.Itoa(i),
			})
		}
		seen[entry] = struct{}{}
	}
	return nil
}

// screenSpamPatterns rejects the whole submission when any entry looks like
// generated junk rather than a real phone book.
func screenSpamPatterns(entries []string) error {
	for i, entry := range entries {
		if isSpamNumber(entry) {
			return apperrors.WithMetadata(apperrors.CodeSpamPattern, "submission contains a spam-patterned entry", map[string]string{
				"index": strconv.Itoa(i),
			})
		}
	}
	return nil
}

func isSpamNumber(raw string) bool {
	var digits []byte
	for i := 0; i < len(raw); i++ {
		if raw[i] >= '0' && raw[i] <= '9' {
			digits = append(digits, raw[i])
		}
	}
	if len(digits) == 0 {
		return false
	}

	run := 1
	for i := 1; i < len(digits); i++ {
		if digits[i] == digits[i-1] {
			run++
			if run >= 7 {
				return true
			}
		} else {
			run = 1
		}
	}

	return hasLeadingRun(digits, '0', 6) || hasLeadingRun(digits, '1', 6)
}

func hasLeadingRun(digits []byte, digit byte, n int) bool {
	if len(digits) < n {
		return false
	}
	for i := 0; i < n; i++ {
		if digits[i] != digit {
			return false
		}
	}
	return true
}
