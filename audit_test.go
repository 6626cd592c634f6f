package guildpost

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestTrail() (*AuditTrail, *fakeClock, *MemoryStore) {
	store := NewMemoryStore()
	trail := NewAuditTrail(store, "alice")
	clock := newFakeClock()
	trail.now = clock.Now
	return trail, clock, store
}

func TestAuditTrail_Bounded(t *testing.T) {
	trail, clock, _ := newTestTrail()

	for i := 0; i < MaxAuditEntries+50; i++ {
		trail.LogAttempt("g1", "alice", EventItemBorrowed, true, "", fmt.Sprintf("attempt %d", i))
		clock.Advance(time.Millisecond)
	}

	entries := trail.Entries()
	require.Len(t, entries, MaxAuditEntries)
	assert.Equal(t, "attempt 50", entries[0].Context)
	assert.Equal(t, fmt.Sprintf("attempt %d", MaxAuditEntries+49), entries[len(entries)-1].Context)
}

func TestAuditTrail_Recent(t *testing.T) {
	trail, clock, _ := newTestTrail()

	for i := 0; i < 10; i++ {
		trail.LogAttempt("g1", "alice", EventItemBorrowed, true, "", fmt.Sprintf("attempt %d", i))
		clock.Advance(time.Millisecond)
	}

	recent := trail.Recent(3)
	require.Len(t, recent, 3)
	assert.Equal(t, "attempt 7", recent[0].Context)
	assert.Equal(t, "attempt 9", recent[2].Context)

	// Asking for more than exists returns everything.
	assert.Len(t, trail.Recent(100), 10)
}

func TestAuditTrail_RestoreAcrossRestart(t *testing.T) {
	store := NewMemoryStore()
	trail := NewAuditTrail(store, "alice")
	trail.LogAttempt("g1", "alice", EventItemBorrowed, false, "rate limit exceeded", "")
	trail.LogAttempt("g1", "alice", EventItemReturned, true, "", "")

	reborn := NewAuditTrail(store, "alice")
	entries := reborn.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, "rate limit exceeded", entries[0].FailureReason)
	assert.True(t, entries[1].Success)

	// A different identity has its own trail.
	other := NewAuditTrail(store, "bob")
	assert.Empty(t, other.Entries())

	// A corrupt persisted trail starts empty instead of failing.
	store.Set(auditKey("alice"), "{{{")
	corrupt := NewAuditTrail(store, "alice")
	assert.Empty(t, corrupt.Entries())
}

func TestDetectSuspiciousActivity_FailureRate(t *testing.T) {
	trail, clock, _ := newTestTrail()

	// 8 failures of 12 attempts, spaced out so the burst rule stays quiet.
	for i := 0; i < 12; i++ {
		trail.LogAttempt("g1", "bob", EventItemBorrowed, i%3 == 0, pickReason(i), "")
		clock.Advance(time.Minute)
	}

	findings := trail.DetectSuspiciousActivity("g1", "bob")
	require.Len(t, findings, 1)
	assert.Contains(t, findings[0], "high failure rate")
	assert.Contains(t, findings[0], "8 of 12")
}

// pickReason spreads failures across reasons so no single one trips
// the repeat rule.
func pickReason(i int) string {
	if i%3 == 0 {
		return ""
	}
	return fmt.Sprintf("reason %d", i%7)
}

func TestDetectSuspiciousActivity_SmallSampleIgnored(t *testing.T) {
	trail, clock, _ := newTestTrail()

	// 10 attempts is not enough for the failure-rate rule, even at 100%.
	for i := 0; i < suspicionMinSample; i++ {
		trail.LogAttempt("g1", "bob", EventItemBorrowed, false, fmt.Sprintf("reason %d", i), "")
		clock.Advance(time.Minute)
	}

	for _, f := range trail.DetectSuspiciousActivity("g1", "bob") {
		assert.False(t, strings.Contains(f, "high failure rate"), "unexpected finding %q", f)
	}
}

func TestDetectSuspiciousActivity_Burst(t *testing.T) {
	trail, clock, _ := newTestTrail()

	// 6 successful attempts inside one minute trips the burst rule and
	// nothing else.
	for i := 0; i < suspicionBurstCount+1; i++ {
		trail.LogAttempt("g1", "bob", EventItemBorrowed, true, "", "")
		clock.Advance(time.Second)
	}

	findings := trail.DetectSuspiciousActivity("g1", "bob")
	require.Len(t, findings, 1)
	assert.Contains(t, findings[0], "burst activity: 6 attempts")
}

func TestDetectSuspiciousActivity_RepeatedReason(t *testing.T) {
	trail, clock, _ := newTestTrail()

	// 11 identical failures spread over hours: only the repeat rule fires
	// alongside the failure-rate rule.
	for i := 0; i < suspicionRepeatCount+1; i++ {
		trail.LogAttempt("g1", "bob", EventItemBorrowed, false, "duplicate event suppressed", "")
		clock.Advance(10 * time.Minute)
	}

	findings := trail.DetectSuspiciousActivity("g1", "bob")
	var repeated bool
	for _, f := range findings {
		if strings.Contains(f, `repeated failure: "duplicate event suppressed" occurred 11 times`) {
			repeated = true
		}
	}
	assert.True(t, repeated, "findings: %v", findings)
}

func TestDetectSuspiciousActivity_ScopedToGroupAndUser(t *testing.T) {
	trail, clock, _ := newTestTrail()

	for i := 0; i < 20; i++ {
		trail.LogAttempt("g1", "bob", EventItemBorrowed, false, "blocked", "")
		clock.Advance(time.Minute)
	}

	assert.NotEmpty(t, trail.DetectSuspiciousActivity("g1", "bob"))
	assert.Empty(t, trail.DetectSuspiciousActivity("g2", "bob"))
	assert.Empty(t, trail.DetectSuspiciousActivity("g1", "carol"))

	// User matching is case-insensitive like membership lookups.
	assert.NotEmpty(t, trail.DetectSuspiciousActivity("g1", "Bob"))
}
