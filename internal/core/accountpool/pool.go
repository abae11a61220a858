// Package accountpool provides the pure selection algorithm for the deploy
// account pool. This is part of the Functional Core - all functions are pure
// with no I/O; the caller supplies the clock.
package accountpool

import (
	"errors"
	"sort"
	"time"
)

// =============================================================================
// Pool Constants
// =============================================================================

const (
	// CooldownPeriod is how long an unavailable account must rest, measured
	// from its last use, before it may be reconsidered.
	CooldownPeriod = 10 * time.Minute

	// DisableThreshold is the failure count at which an account is taken out
	// of rotation.
	DisableThreshold = 5

	// healReduction is subtracted from the failure count when cooldown
	// re-enables an account.
	healReduction = 2
)

// =============================================================================
// Pool Errors
// =============================================================================

var (
	// ErrPoolExhausted is returned when no account is eligible for selection.
	ErrPoolExhausted = errors.New("no eligible deploy account in pool")

	// ErrIndexOutOfRange is returned when an entry index does not exist.
	ErrIndexOutOfRange = errors.New("pool entry index out of range")
)

// =============================================================================
// Pool Entries
// =============================================================================

// Entry is the runtime scoring state for one configured account. Entries are
// positional: Index i corresponds to the configuration's account list index i.
type Entry struct {
	Index        int        `json:"index"`
	Available    bool       `json:"available"`
	FailureCount int        `json:"failure_count"`
	LastUsedAt   *time.Time `json:"last_used_at,omitempty"`
}

// NewEntries returns a fresh pool state for n accounts, all available and
// never used.
func NewEntries(n int) []Entry {
	entries := make([]Entry, n)
	for i := range entries {
		entries[i] = Entry{Index: i, Available: true}
	}
	return entries
}

// =============================================================================
// Healing
// =============================================================================

// Heal applies the cooldown rule in place: an unavailable entry whose last use
// is more than CooldownPeriod ago becomes available again with its failure
// count reduced by 2, floored at zero.
func Heal(entries []Entry, now time.Time) {
	for i := range entries {
		e := &entries[i]
		if e.Available {
			continue
		}
		if e.LastUsedAt == nil || now.Sub(*e.LastUsedAt) > CooldownPeriod {
			e.Available = true
			e.FailureCount -= healReduction
			if e.FailureCount < 0 {
				e.FailureCount = 0
			}
		}
	}
}

// =============================================================================
// Selection
// =============================================================================

// Order heals the pool and returns the indexes of eligible accounts in
// selection order: failure count ascending, ties broken by last use ascending
// with never-used entries first. excludeIndex demotes the named entry to the
// back of the list (used on retry to avoid the previously failed account);
// pass -1 to disable.
func Order(entries []Entry, now time.Time, excludeIndex int) []int {
	Heal(entries, now)

	var eligible []Entry
	for _, e := range entries {
		if e.Available {
			eligible = append(eligible, e)
		}
	}

	sort.SliceStable(eligible, func(i, j int) bool {
		a, b := eligible[i], eligible[j]
		if a.FailureCount != b.FailureCount {
			return a.FailureCount < b.FailureCount
		}
		switch {
		case a.LastUsedAt == nil && b.LastUsedAt == nil:
			return a.Index < b.Index
		case a.LastUsedAt == nil:
			return true
		case b.LastUsedAt == nil:
			return false
		default:
			return a.LastUsedAt.Before(*b.LastUsedAt)
		}
	})

	ordered := make([]int, 0, len(eligible))
	var demoted []int
	for _, e := range eligible {
		if e.Index == excludeIndex {
			demoted = append(demoted, e.Index)
			continue
		}
		ordered = append(ordered, e.Index)
	}
	return append(ordered, demoted...)
}

// =============================================================================
// Penalty / Reward
// =============================================================================

// RecordSuccess updates the entry after a successful dispatch: failure count
// reduced by one (floored at zero) and last use stamped.
func RecordSuccess(entries []Entry, index int, now time.Time) error {
	if index < 0 || index >= len(entries) {
		return ErrIndexOutOfRange
	}
	e := &entries[index]
	if e.FailureCount > 0 {
		e.FailureCount--
	}
	t := now
	e.LastUsedAt = &t
	return nil
}

// RecordFailure updates the entry after a failed dispatch: failure count
// incremented, last use stamped, and the entry disabled once the threshold is
// reached.
func RecordFailure(entries []Entry, index int, now time.Time) error {
	if index < 0 || index >= len(entries) {
		return ErrIndexOutOfRange
	}
	e := &entries[index]
	e.FailureCount++
	t := now
	e.LastUsedAt = &t
	if e.FailureCount >= DisableThreshold {
		e.Available = false
	}
	return nil
}
