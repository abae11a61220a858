package accountpool

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var base = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func usedAt(t time.Time) *time.Time {
	return &t
}

// =============================================================================
// Entry Tests
// =============================================================================

func TestNewEntries(t *testing.T) {
	entries := NewEntries(3)
	require.Len(t, entries, 3)
	for i, e := range entries {
		assert.Equal(t, i, e.Index)
		assert.True(t, e.Available)
		assert.Equal(t, 0, e.FailureCount)
		assert.Nil(t, e.LastUsedAt)
	}
}

// =============================================================================
// Healing Tests
// =============================================================================

func TestHeal_ReenablesAfterCooldown(t *testing.T) {
	entries := []Entry{
		{Index: 0, Available: false, FailureCount: 5, LastUsedAt: usedAt(base.Add(-11 * time.Minute))},
	}

	Heal(entries, base)

	assert.True(t, entries[0].Available)
	assert.Equal(t, 3, entries[0].FailureCount)
}

func TestHeal_RespectsCooldownWindow(t *testing.T) {
	entries := []Entry{
		{Index: 0, Available: false, FailureCount: 5, LastUsedAt: usedAt(base.Add(-5 * time.Minute))},
	}

	Heal(entries, base)

	assert.False(t, entries[0].Available)
	assert.Equal(t, 5, entries[0].FailureCount)
}

func TestHeal_FailureCountFlooredAtZero(t *testing.T) {
	entries := []Entry{
		{Index: 0, Available: false, FailureCount: 1, LastUsedAt: usedAt(base.Add(-time.Hour))},
	}

	Heal(entries, base)

	assert.True(t, entries[0].Available)
	assert.Equal(t, 0, entries[0].FailureCount)
}

func TestHeal_UnavailableNeverUsed(t *testing.T) {
	// No last use means no cooldown to wait out.
	entries := []Entry{
		{Index: 0, Available: false, FailureCount: 5},
	}

	Heal(entries, base)

	assert.True(t, entries[0].Available)
	assert.Equal(t, 3, entries[0].FailureCount)
}

func TestHeal_AvailableEntriesUntouched(t *testing.T) {
	entries := []Entry{
		{Index: 0, Available: true, FailureCount: 2, LastUsedAt: usedAt(base.Add(-time.Hour))},
	}

	Heal(entries, base)

	assert.Equal(t, 2, entries[0].FailureCount)
}

// =============================================================================
// Selection Tests
// =============================================================================

func TestOrder_NeverUsedFirst(t *testing.T) {
	entries := []Entry{
		{Index: 0, Available: true, LastUsedAt: usedAt(base.Add(-time.Minute))},
		{Index: 1, Available: true},
		{Index: 2, Available: true, LastUsedAt: usedAt(base.Add(-2 * time.Minute))},
	}

	assert.Equal(t, []int{1, 2, 0}, Order(entries, base, -1))
}

func TestOrder_FailureCountDominates(t *testing.T) {
	entries := []Entry{
		{Index: 0, Available: true, FailureCount: 2},
		{Index: 1, Available: true, FailureCount: 0, LastUsedAt: usedAt(base.Add(-time.Minute))},
		{Index: 2, Available: true, FailureCount: 1},
	}

	assert.Equal(t, []int{1, 2, 0}, Order(entries, base, -1))
}

func TestOrder_RoundRobin(t *testing.T) {
	// Alternating success dispatches rotate between two healthy accounts.
	entries := NewEntries(2)
	now := base

	var picks []int
	for i := 0; i < 4; i++ {
		ordered := Order(entries, now, -1)
		require.NotEmpty(t, ordered)
		pick := ordered[0]
		picks = append(picks, pick)
		require.NoError(t, RecordSuccess(entries, pick, now))
		now = now.Add(time.Second)
	}

	assert.Equal(t, []int{0, 1, 0, 1}, picks)
}

func TestOrder_SkipsUnavailable(t *testing.T) {
	entries := []Entry{
		{Index: 0, Available: false, FailureCount: 5, LastUsedAt: usedAt(base.Add(-time.Minute))},
		{Index: 1, Available: true},
	}

	assert.Equal(t, []int{1}, Order(entries, base, -1))
}

func TestOrder_ExcludeDemotedToBack(t *testing.T) {
	entries := []Entry{
		{Index: 0, Available: true},
		{Index: 1, Available: true, LastUsedAt: usedAt(base.Add(-time.Minute))},
		{Index: 2, Available: true, LastUsedAt: usedAt(base.Add(-2 * time.Minute))},
	}

	assert.Equal(t, []int{2, 1, 0}, Order(entries, base, 0))
}

func TestOrder_ExcludedStillListedWhenAlone(t *testing.T) {
	entries := []Entry{
		{Index: 0, Available: true},
		{Index: 1, Available: false, FailureCount: 5, LastUsedAt: usedAt(base.Add(-time.Minute))},
	}

	// Demotion is a preference, not a ban.
	assert.Equal(t, []int{0}, Order(entries, base, 0))
}

func TestOrder_Empty(t *testing.T) {
	assert.Empty(t, Order(nil, base, -1))
	assert.Empty(t, Order([]Entry{{Index: 0, Available: false, LastUsedAt: usedAt(base)}}, base, -1))
}

// =============================================================================
// Penalty / Reward Tests
// =============================================================================

func TestRecordSuccess(t *testing.T) {
	entries := []Entry{{Index: 0, Available: true, FailureCount: 2}}

	require.NoError(t, RecordSuccess(entries, 0, base))
	assert.Equal(t, 1, entries[0].FailureCount)
	require.NotNil(t, entries[0].LastUsedAt)
	assert.Equal(t, base, *entries[0].LastUsedAt)

	require.NoError(t, RecordSuccess(entries, 0, base))
	require.NoError(t, RecordSuccess(entries, 0, base))
	assert.Equal(t, 0, entries[0].FailureCount)
}

func TestRecordFailure_DisablesAtThreshold(t *testing.T) {
	entries := NewEntries(1)

	for i := 1; i < DisableThreshold; i++ {
		require.NoError(t, RecordFailure(entries, 0, base))
		assert.True(t, entries[0].Available, "still available at %d failures", i)
	}

	require.NoError(t, RecordFailure(entries, 0, base))
	assert.False(t, entries[0].Available)
	assert.Equal(t, DisableThreshold, entries[0].FailureCount)
}

func TestRecord_IndexOutOfRange(t *testing.T) {
	entries := NewEntries(1)

	assert.ErrorIs(t, RecordSuccess(entries, -1, base), ErrIndexOutOfRange)
	assert.ErrorIs(t, RecordSuccess(entries, 1, base), ErrIndexOutOfRange)
	assert.ErrorIs(t, RecordFailure(entries, 5, base), ErrIndexOutOfRange)
}

func TestFailThenHealCycle(t *testing.T) {
	entries := NewEntries(1)
	now := base

	for i := 0; i < DisableThreshold; i++ {
		require.NoError(t, RecordFailure(entries, 0, now))
	}
	require.False(t, entries[0].Available)

	// Inside the cooldown window the account stays out of rotation.
	assert.Empty(t, Order(entries, now.Add(5*time.Minute), -1))

	// After cooldown it comes back with a reduced failure count.
	ordered := Order(entries, now.Add(11*time.Minute), -1)
	assert.Equal(t, []int{0}, ordered)
	assert.Equal(t, DisableThreshold-2, entries[0].FailureCount)
}
