package guildpost

import (
	"context"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// RateLimiterCleanupInterval is how often the key-space sweep runs.
const RateLimiterCleanupInterval = 1 * time.Hour

// LocalPeer bundles everything one client needs to participate in a
// lending group: the group store, the sync engine, and the gate in
// front of outbound notifications. Each game client owns exactly one.
type LocalPeer struct {
	Identity string

	Store   BlobStore
	Groups  *GroupStore
	Sync    *SharedEventLog
	Limiter *RateLimiter
	Audit   *AuditTrail
	Elector *Elector
	Gate    *NotifyGate
	Metrics *Metrics

	cancel context.CancelFunc
}

// NewLocalPeer wires a peer around the given shared store. online is
// the ambient game-world visibility source; tests pass an OnlineSet.
func NewLocalPeer(identity string, store BlobStore, online OnlineStatus) *LocalPeer {
	identity = strings.ToLower(strings.TrimSpace(identity))

	metrics := NewMetrics()
	groups := NewGroupStore(store, identity)
	sync := NewSharedEventLog(store, identity)
	limiter := NewRateLimiter()
	audit := NewAuditTrail(store, identity)
	elector := NewElector(groups, online)
	gate := NewNotifyGate(elector, limiter, audit)

	sync.SetMetrics(metrics)
	limiter.SetMetrics(metrics)
	audit.SetMetrics(metrics)
	gate.SetMetrics(metrics)

	// Local mutations publish through the sync engine.
	groups.SetPublisher(func(groupID, eventType, dataID, payload string) {
		sync.Publish(groupID, eventType, dataID, payload)
	})

	// Membership and settings changes reconcile through the group store.
	sync.Route(groups, EventMemberJoined, EventMemberLeft, EventSettingsChanged)

	return &LocalPeer{
		Identity: identity,
		Store:    store,
		Groups:   groups,
		Sync:     sync,
		Limiter:  limiter,
		Audit:    audit,
		Elector:  elector,
		Gate:     gate,
		Metrics:  metrics,
	}
}

// AttachMarketplace routes item events to the marketplace manager.
func (p *LocalPeer) AttachMarketplace(m DataManager) {
	p.Sync.Route(m, EventItemAdded, EventItemRemoved, EventItemUpdated)
}

// AttachLendingLedger routes borrow/return events to the lending manager.
func (p *LocalPeer) AttachLendingLedger(m DataManager) {
	p.Sync.Route(m, EventItemBorrowed, EventItemReturned)
}

// AttachItemSets routes item-set events to the item-set manager.
func (p *LocalPeer) AttachItemSets(m DataManager) {
	p.Sync.Route(m, EventItemSetCreated, EventItemSetUpdated, EventItemSetDeleted)
}

// Start begins syncing the identity's active group and kicks off the
// rate-limiter sweep. No-op if no active group is recorded yet.
func (p *LocalPeer) Start() {
	groupID := p.Groups.ActiveGroup(p.Identity)
	if groupID == "" {
		logrus.Infof("peer %s has no active group, sync idle", p.Identity)
	} else {
		p.Sync.Start(groupID)
	}

	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	go p.maintenanceLoop(ctx)
}

// SwitchGroup makes groupID the active group and points sync at it.
func (p *LocalPeer) SwitchGroup(groupID string) error {
	if _, err := p.Groups.GetGroup(groupID); err != nil {
		return err
	}
	p.Groups.SetActiveGroup(p.Identity, groupID)
	p.Sync.Start(groupID)
	return nil
}

// Stop halts the sync loop and maintenance.
func (p *LocalPeer) Stop() {
	p.Sync.Stop()
	if p.cancel != nil {
		p.cancel()
		p.cancel = nil
	}
}

func (p *LocalPeer) maintenanceLoop(ctx context.Context) {
	ticker := time.NewTicker(RateLimiterCleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.Limiter.Cleanup()
			logrus.Debugf("peer %s: rate limiter sweep done, %d keys tracked", p.Identity, p.Limiter.TrackedKeys())
		}
	}
}
