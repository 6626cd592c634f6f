package guildpost

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	// MaxLogEvents caps each group's shared log. Oldest entries are
	// evicted first; a peer that polls slower than the log turns over
	// permanently misses the evicted events. That lossy-broadcast
	// behavior is accepted, don't build on top of this expecting a
	// reliable queue.
	MaxLogEvents = 100

	// DefaultPollInterval is how often the sync loop re-reads the log.
	DefaultPollInterval = 5 * time.Second
)

// DataManager is a downstream holder of group-scoped data (marketplace,
// item sets, the lending ledger, membership). Reconciliation never
// patches their state from event payloads; it tells them to reload from
// the shared store, which makes replaying an event a no-op.
type DataManager interface {
	ReloadGroupData(groupID string)
}

// EventHandler reacts to one remote event during a poll pass.
type EventHandler func(Event)

// SharedEventLog is the sync engine: a bounded, timestamp-ordered event
// log in the blob store used as an eventually-consistent broadcast
// channel between peers.
//
// Publishing is a read-modify-write against shared storage with no
// compare-and-swap, so two peers publishing in the same instant can
// lose one append. Delivery to pollers is at-least-once with no causal
// ordering across publishers.
type SharedEventLog struct {
	store    BlobStore
	identity string

	pollInterval time.Duration
	metrics      *Metrics

	handlers  map[string][]EventHandler
	watermark int64
	mu        sync.Mutex

	// poll loop lifecycle
	groupID string
	cancel  context.CancelFunc
	done    chan struct{}
	loopMu  sync.Mutex
}

func NewSharedEventLog(store BlobStore, identity string) *SharedEventLog {
	return &SharedEventLog{
		store:        store,
		identity:     identity,
		pollInterval: DefaultPollInterval,
		handlers:     make(map[string][]EventHandler),
	}
}

// SetPollInterval overrides the poll cadence (mostly for tests).
func (l *SharedEventLog) SetPollInterval(d time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.pollInterval = d
}

// SetMetrics wires operational counters. Optional.
func (l *SharedEventLog) SetMetrics(m *Metrics) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.metrics = m
}

// RegisterHandler subscribes a handler to one event type. Handlers run
// on the poll goroutine and must be idempotent: the same event can be
// delivered more than once.
func (l *SharedEventLog) RegisterHandler(eventType string, h EventHandler) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.handlers[eventType] = append(l.handlers[eventType], h)
}

// Route subscribes a data manager's reload to a set of event types.
func (l *SharedEventLog) Route(manager DataManager, types ...string) {
	for _, t := range types {
		l.RegisterHandler(t, func(e Event) {
			manager.ReloadGroupData(e.GroupID)
		})
	}
}

// Publish appends an event to the group's shared log, stamped with the
// local identity and wall-clock time, trimming to the newest
// MaxLogEvents before writing back. A storage failure is logged and
// swallowed: the caller's optimistic local mutation stands regardless.
func (l *SharedEventLog) Publish(groupID, eventType, dataID, payload string) Event {
	e := NewEvent(groupID, l.identity, eventType, dataID, payload)
	if !e.IsValid() {
		logrus.Warnf("sync: refusing to publish malformed event type=%q group=%s", eventType, groupID)
		return e
	}

	events := l.readLog(groupID)
	events = append(events, e)
	if len(events) > MaxLogEvents {
		events = events[len(events)-MaxLogEvents:]
	}

	raw, err := json.Marshal(events)
	if err != nil {
		logrus.Errorf("sync: cannot marshal event log for %s: %v", groupID, err)
		return e
	}
	if err := l.store.Set(eventsKey(groupID), string(raw)); err != nil {
		logrus.Warnf("sync: publish write for %s failed (local state unaffected): %v", groupID, err)
		return e
	}

	l.metrics.incPublished(eventType)
	logrus.Debugf("sync: published %s (%s) to %s", eventType, e.ID, groupID)
	return e
}

// readLog decodes the group's log record by record so one malformed
// entry is dropped and logged without poisoning the rest of the batch.
func (l *SharedEventLog) readLog(groupID string) []Event {
	raw, found := l.store.Get(eventsKey(groupID))
	if !found || raw == "" {
		return nil
	}

	var records []json.RawMessage
	if err := json.Unmarshal([]byte(raw), &records); err != nil {
		logrus.Warnf("sync: event log for %s is unreadable, treating as empty: %v", groupID, err)
		l.metrics.incMalformed()
		return nil
	}

	events := make([]Event, 0, len(records))
	for _, rec := range records {
		var e Event
		if err := json.Unmarshal(rec, &e); err != nil {
			logrus.Debugf("sync: dropping malformed event record in %s: %v", groupID, err)
			l.metrics.incMalformed()
			continue
		}
		if !e.IsValid() {
			logrus.Debugf("sync: dropping invalid event %q in %s", e.Type, groupID)
			l.metrics.incMalformed()
			continue
		}
		events = append(events, e)
	}
	return events
}

// Events returns the group's current log, oldest first.
func (l *SharedEventLog) Events(groupID string) []Event {
	events := l.readLog(groupID)
	sort.Slice(events, func(i, j int) bool {
		return events[i].Timestamp < events[j].Timestamp
	})
	return events
}

// Poll runs one reconciliation pass: apply every event newer than the
// watermark that someone else published, then advance the watermark to
// now. Exposed for tests; the background loop calls it on a ticker.
func (l *SharedEventLog) Poll(groupID string) int {
	l.mu.Lock()
	watermark := l.watermark
	l.mu.Unlock()

	events := l.Events(groupID)

	applied := 0
	for _, e := range events {
		if e.Timestamp <= watermark {
			continue
		}
		if e.Publisher == l.identity {
			continue
		}
		l.dispatch(e)
		applied++
	}

	l.mu.Lock()
	l.watermark = time.Now().UnixNano()
	l.mu.Unlock()

	if applied > 0 {
		logrus.Debugf("sync: applied %d remote event(s) for %s", applied, groupID)
	}
	return applied
}

func (l *SharedEventLog) dispatch(e Event) {
	l.mu.Lock()
	handlers := append([]EventHandler(nil), l.handlers[e.Type]...)
	l.mu.Unlock()

	for _, h := range handlers {
		h(e)
	}
	l.metrics.incApplied(e.Type)
}

// Start begins polling the given group's log in the background. The
// watermark resets to zero so a freshly started peer reconciles the
// whole surviving log once (handlers are idempotent, replay is cheap).
// Starting while already running stops the previous loop first; there
// is never more than one loop per engine.
func (l *SharedEventLog) Start(groupID string) {
	l.Stop()

	l.mu.Lock()
	l.watermark = 0
	l.mu.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	l.loopMu.Lock()
	l.groupID = groupID
	l.cancel = cancel
	l.done = done
	l.loopMu.Unlock()

	go l.pollLoop(ctx, groupID, done)
	logrus.Infof("📡 sync engine polling group %s as %s", groupID, l.identity)
}

// Stop halts the poll loop and waits for an in-flight pass to finish.
// In-flight event application runs to completion; nothing rolls back.
func (l *SharedEventLog) Stop() {
	l.loopMu.Lock()
	cancel, done := l.cancel, l.done
	l.cancel, l.done = nil, nil
	l.loopMu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
}

func (l *SharedEventLog) pollLoop(ctx context.Context, groupID string, done chan struct{}) {
	defer close(done)

	l.mu.Lock()
	interval := l.pollInterval
	l.mu.Unlock()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// Initial catch-up before the first tick.
	l.Poll(groupID)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.Poll(groupID)
		}
	}
}
