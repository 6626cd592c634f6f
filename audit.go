package guildpost

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	// MaxAuditEntries bounds the trail; oldest entries are evicted first.
	MaxAuditEntries = 1000

	// suspicion heuristics window
	suspicionSample      = 100
	suspicionMinSample   = 10
	suspicionBurstWindow = 60 * time.Second
	suspicionBurstCount  = 5
	suspicionRepeatCount = 10
)

// AuditEntry records one attempted side effect, allowed or not.
type AuditEntry struct {
	Timestamp     int64  `json:"ts"` // Unix nanoseconds
	GroupID       string `json:"group_id"`
	User          string `json:"user"`
	EventType     string `json:"event_type"`
	Success       bool   `json:"success"`
	FailureReason string `json:"failure_reason,omitempty"`
	Context       string `json:"context,omitempty"`
}

// AuditTrail keeps the last MaxAuditEntries side-effect attempts,
// write-through persisted so the record survives a client restart. The
// trail is process-local: each peer audits only its own attempts.
type AuditTrail struct {
	store    BlobStore
	identity string
	metrics  *Metrics

	entries []AuditEntry
	mu      sync.Mutex

	now func() time.Time
}

func NewAuditTrail(store BlobStore, identity string) *AuditTrail {
	t := &AuditTrail{
		store:    store,
		identity: identity,
		now:      time.Now,
	}
	t.restore()
	return t
}

// SetMetrics wires operational counters. Optional.
func (t *AuditTrail) SetMetrics(m *Metrics) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.metrics = m
}

// restore loads any persisted trail from a previous run.
func (t *AuditTrail) restore() {
	raw, found := t.store.Get(auditKey(t.identity))
	if !found {
		return
	}
	var entries []AuditEntry
	if err := json.Unmarshal([]byte(raw), &entries); err != nil {
		logrus.Warnf("audit: persisted trail for %s is unreadable, starting empty: %v", t.identity, err)
		return
	}
	if len(entries) > MaxAuditEntries {
		entries = entries[len(entries)-MaxAuditEntries:]
	}
	t.entries = entries
	logrus.Debugf("audit: restored %d entries for %s", len(entries), t.identity)
}

// LogAttempt appends one attempt and persists the trail. Persistence
// failures are logged and swallowed; the in-memory trail is what the
// suspicion heuristics read.
func (t *AuditTrail) LogAttempt(groupID, user, eventType string, success bool, failureReason, context string) {
	t.mu.Lock()
	t.entries = append(t.entries, AuditEntry{
		Timestamp:     t.now().UnixNano(),
		GroupID:       groupID,
		User:          user,
		EventType:     eventType,
		Success:       success,
		FailureReason: failureReason,
		Context:       context,
	})
	if len(t.entries) > MaxAuditEntries {
		t.entries = t.entries[len(t.entries)-MaxAuditEntries:]
	}
	snapshot := append([]AuditEntry(nil), t.entries...)
	t.mu.Unlock()

	t.metrics.incAudit(success)

	raw, err := json.Marshal(snapshot)
	if err != nil {
		logrus.Errorf("audit: cannot marshal trail: %v", err)
		return
	}
	if err := t.store.Set(auditKey(t.identity), string(raw)); err != nil {
		logrus.Warnf("audit: write-through failed: %v", err)
	}
}

// Entries returns a snapshot of the trail, oldest first.
func (t *AuditTrail) Entries() []AuditEntry {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]AuditEntry(nil), t.entries...)
}

// Recent returns up to n of the newest entries, oldest first.
func (t *AuditTrail) Recent(n int) []AuditEntry {
	t.mu.Lock()
	defer t.mu.Unlock()
	if n > len(t.entries) {
		n = len(t.entries)
	}
	return append([]AuditEntry(nil), t.entries[len(t.entries)-n:]...)
}

// DetectSuspiciousActivity inspects the newest 100 entries for
// (group, user) and returns human-readable findings. Pure read.
func (t *AuditTrail) DetectSuspiciousActivity(groupID, user string) []string {
	t.mu.Lock()
	var sample []AuditEntry
	for i := len(t.entries) - 1; i >= 0 && len(sample) < suspicionSample; i-- {
		e := t.entries[i]
		if e.GroupID == groupID && strings.EqualFold(e.User, user) {
			sample = append(sample, e)
		}
	}
	now := t.now()
	t.mu.Unlock()

	if len(sample) == 0 {
		return nil
	}

	var findings []string

	failures := 0
	reasonCounts := make(map[string]int)
	burst := 0
	burstEdge := now.Add(-suspicionBurstWindow).UnixNano()

	for _, e := range sample {
		if !e.Success {
			failures++
			if e.FailureReason != "" {
				reasonCounts[e.FailureReason]++
			}
		}
		if e.Timestamp > burstEdge {
			burst++
		}
	}

	if len(sample) > suspicionMinSample {
		rate := float64(failures) / float64(len(sample))
		if rate > 0.5 {
			findings = append(findings, fmt.Sprintf(
				"high failure rate: %d of %d attempts failed (%.0f%%)", failures, len(sample), rate*100))
		}
	}

	if burst > suspicionBurstCount {
		findings = append(findings, fmt.Sprintf(
			"burst activity: %d attempts in the last %s", burst, suspicionBurstWindow))
	}

	for reason, count := range reasonCounts {
		if count > suspicionRepeatCount {
			findings = append(findings, fmt.Sprintf(
				"repeated failure: %q occurred %d times", reason, count))
		}
	}

	return findings
}
