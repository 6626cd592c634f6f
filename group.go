package guildpost

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// PendingInviteMaxAge is how long a direct staff invite stays
// acceptable. Expiry is checked lazily on access, there are no timers.
const PendingInviteMaxAge = 7 * 24 * time.Hour

var (
	ErrGroupNotFound   = errors.New("group not found")
	ErrGroupNameTaken  = errors.New("group name already taken")
	ErrNotAMember      = errors.New("not a member of this group")
	ErrAlreadyMember   = errors.New("already a member of this group")
	ErrNotPermitted    = errors.New("not permitted")
	ErrVoidInviteCode  = errors.New("invite code is void")
	ErrWrongInviteCode = errors.New("invite code does not match")
	ErrCodeDisabled    = errors.New("clan code is disabled")
	ErrInviteNotFound  = errors.New("invite not found")
)

// Member is one person in a group. Names are case-insensitive
// identities: "Alice" and "alice" are the same member.
type Member struct {
	Name     string `json:"name"`
	Role     Role   `json:"role"`
	JoinedAt int64  `json:"joined_at"` // Unix seconds
	Active   bool   `json:"active"`
}

// InviteCode is the single-use join token. Once redeemed it is cleared
// from the group entirely; a nil InviteCode means "void".
type InviteCode struct {
	Code     string `json:"code"`
	IssuedBy string `json:"issued_by"`
	IssuedAt int64  `json:"issued_at"`
}

// ClanCode is the multi-use join token. It survives redemptions and
// only tracks a counter; redemption is refused while Enabled is false.
type ClanCode struct {
	Code    string `json:"code"`
	Enabled bool   `json:"enabled"`
	Uses    int64  `json:"uses"`
}

// PendingInvite is a direct staff invite awaiting the recipient's answer.
type PendingInvite struct {
	ID        string `json:"id"`
	Invitee   string `json:"invitee"`
	InvitedBy string `json:"invited_by"`
	CreatedAt int64  `json:"created_at"`
}

// Group is the shared membership record for one lending circle.
// Exactly one member holds RoleOwner at any time.
type Group struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	CreatedAt   int64  `json:"created_at"`

	Members []*Member `json:"members"`

	InviteCode *InviteCode `json:"invite_code,omitempty"`
	ClanCode   *ClanCode   `json:"clan_code,omitempty"`
	// Identities that redeemed an earlier single-use code. Prevents the
	// same person from burning every regenerated code; cleared when a
	// fresh code is issued.
	InviteRedeemers []string `json:"invite_redeemers,omitempty"`

	PendingInvites []*PendingInvite `json:"pending_invites,omitempty"`

	// Per-rank kick gates, toggled by owner/co-owner. The owner can
	// always kick regardless of these.
	CoOwnerCanKick bool `json:"co_owner_can_kick"`
	AdminCanKick   bool `json:"admin_can_kick"`
	ModCanKick     bool `json:"mod_can_kick"`
}

// member finds a member by case-insensitive name, or nil.
func (g *Group) member(name string) *Member {
	for _, m := range g.Members {
		if strings.EqualFold(m.Name, name) {
			return m
		}
	}
	return nil
}

// MemberRole returns the role held by name, or RoleNone.
func (g *Group) MemberRole(name string) Role {
	if m := g.member(name); m != nil {
		return m.Role
	}
	return RoleNone
}

// Owner returns the current owner's name, or "" if the record is broken.
func (g *Group) Owner() string {
	for _, m := range g.Members {
		if m.Role == RoleOwner {
			return m.Name
		}
	}
	return ""
}

func (g *Group) clone() *Group {
	cp := *g
	cp.Members = make([]*Member, len(g.Members))
	for i, m := range g.Members {
		mc := *m
		cp.Members[i] = &mc
	}
	if g.InviteCode != nil {
		ic := *g.InviteCode
		cp.InviteCode = &ic
	}
	if g.ClanCode != nil {
		cc := *g.ClanCode
		cp.ClanCode = &cc
	}
	cp.InviteRedeemers = append([]string(nil), g.InviteRedeemers...)
	cp.PendingInvites = make([]*PendingInvite, len(g.PendingInvites))
	for i, p := range g.PendingInvites {
		pc := *p
		cp.PendingInvites[i] = &pc
	}
	return &cp
}

// EventPublisher is how the group store announces local mutations to
// other peers. Wired by LocalPeer; nil means mutations stay local.
type EventPublisher func(groupID, eventType, dataID, payload string)

// GroupStore owns all group and member state known to this peer.
//
// Locking: the outer RWMutex guards the group map, each entry carries
// its own mutex so a sync-loop reload of one group never blocks a
// foreground mutation of another. Two peers' stores never contend with
// each other directly; they only race through the blob store, where the
// last write wins.
type GroupStore struct {
	store    BlobStore
	identity string
	publish  EventPublisher

	groups map[string]*groupEntry
	mu     sync.RWMutex
}

type groupEntry struct {
	group *Group
	mu    sync.Mutex
}

func NewGroupStore(store BlobStore, identity string) *GroupStore {
	gs := &GroupStore{
		store:    store,
		identity: identity,
		groups:   make(map[string]*groupEntry),
	}
	return gs
}

// SetPublisher wires the event-log publish hook. Must be called before
// any mutation that should propagate to other peers.
func (gs *GroupStore) SetPublisher(p EventPublisher) {
	gs.mu.Lock()
	defer gs.mu.Unlock()
	gs.publish = p
}

func (gs *GroupStore) emit(groupID, eventType, dataID, payload string) {
	gs.mu.RLock()
	p := gs.publish
	gs.mu.RUnlock()
	if p != nil {
		p(groupID, eventType, dataID, payload)
	}
}

// entry returns the locked-map entry for a group, loading it from the
// blob store on first access.
func (gs *GroupStore) entry(groupID string) (*groupEntry, error) {
	gs.mu.RLock()
	e, ok := gs.groups[groupID]
	gs.mu.RUnlock()
	if ok {
		return e, nil
	}

	// Not cached; try the shared store.
	raw, found := gs.store.Get(groupKey(groupID))
	if !found {
		return nil, ErrGroupNotFound
	}
	g := &Group{}
	if err := json.Unmarshal([]byte(raw), g); err != nil {
		logrus.Warnf("group: stored record for %s is unreadable: %v", groupID, err)
		return nil, ErrGroupNotFound
	}

	gs.mu.Lock()
	defer gs.mu.Unlock()
	if e, ok := gs.groups[groupID]; ok {
		return e, nil // someone beat us to it
	}
	e = &groupEntry{group: g}
	gs.groups[groupID] = e
	return e, nil
}

// withGroup runs fn with the group's entry lock held. fn returns true
// if it mutated the group and the record should be persisted.
func (gs *GroupStore) withGroup(groupID string, fn func(g *Group) (bool, error)) error {
	e, err := gs.entry(groupID)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	dirty, err := fn(e.group)
	if dirty {
		gs.persist(e.group)
	}
	return err
}

// persist writes the group record through to the blob store. Failures
// are logged, not returned: the in-memory state stays authoritative for
// this peer even when the write-through fails.
func (gs *GroupStore) persist(g *Group) {
	raw, err := json.Marshal(g)
	if err != nil {
		logrus.Errorf("group: cannot marshal %s: %v", g.ID, err)
		return
	}
	if err := gs.store.Set(groupKey(g.ID), string(raw)); err != nil {
		logrus.Warnf("group: write-through for %s failed: %v", g.ID, err)
	}
}

// CreateGroup creates a new group with ownerName as its sole owner and
// marks it the caller's active group. Fails if the display name is
// already taken (case-insensitively) among locally known groups.
func (gs *GroupStore) CreateGroup(name, description, ownerName string) (*Group, error) {
	if strings.TrimSpace(name) == "" {
		return nil, errors.New("group name cannot be empty")
	}

	gs.mu.Lock()
	for _, e := range gs.groups {
		if strings.EqualFold(e.group.Name, name) {
			gs.mu.Unlock()
			return nil, ErrGroupNameTaken
		}
	}

	now := time.Now().Unix()
	g := &Group{
		ID:          uuid.NewString(),
		Name:        name,
		Description: description,
		CreatedAt:   now,
		Members: []*Member{{
			Name:     ownerName,
			Role:     RoleOwner,
			JoinedAt: now,
			Active:   true,
		}},
		// Default gates: staff above mod may kick, mods must be granted it.
		CoOwnerCanKick: true,
		AdminCanKick:   true,
		ModCanKick:     false,
	}
	gs.groups[g.ID] = &groupEntry{group: g}
	gs.mu.Unlock()

	gs.persist(g)
	gs.SetActiveGroup(ownerName, g.ID)
	logrus.Infof("🏰 created group %q (%s) with owner %s", name, g.ID, ownerName)
	return g.clone(), nil
}

// GetGroup returns a snapshot of the group, never live internal state.
func (gs *GroupStore) GetGroup(groupID string) (*Group, error) {
	e, err := gs.entry(groupID)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.group.clone(), nil
}

// GetMemberRole returns the role name holds in the group, RoleNone if
// the group or member is unknown.
func (gs *GroupStore) GetMemberRole(groupID, name string) Role {
	g, err := gs.GetGroup(groupID)
	if err != nil {
		return RoleNone
	}
	return g.MemberRole(name)
}

// GroupIDs returns the IDs of all locally known groups.
func (gs *GroupStore) GroupIDs() []string {
	gs.mu.RLock()
	defer gs.mu.RUnlock()
	ids := make([]string, 0, len(gs.groups))
	for id := range gs.groups {
		ids = append(ids, id)
	}
	return ids
}

// ReloadGroup discards the cached copy of a group and re-reads it from
// the blob store. Called by sync reconciliation when another peer
// published a change; repeatedly reloading the same record is harmless.
func (gs *GroupStore) ReloadGroup(groupID string) {
	raw, found := gs.store.Get(groupKey(groupID))
	if !found {
		// Group was deleted remotely; drop the local copy too.
		gs.mu.Lock()
		delete(gs.groups, groupID)
		gs.mu.Unlock()
		return
	}
	g := &Group{}
	if err := json.Unmarshal([]byte(raw), g); err != nil {
		logrus.Warnf("group: reload of %s got unreadable record, keeping local copy: %v", groupID, err)
		return
	}

	gs.mu.Lock()
	e, ok := gs.groups[groupID]
	if !ok {
		gs.groups[groupID] = &groupEntry{group: g}
		gs.mu.Unlock()
		return
	}
	gs.mu.Unlock()

	e.mu.Lock()
	e.group = g
	e.mu.Unlock()
	logrus.Debugf("group: reloaded %s from shared store", groupID)
}

// ReloadGroupData implements DataManager so the store can sit directly
// in the sync engine's reconciliation table.
func (gs *GroupStore) ReloadGroupData(groupID string) {
	gs.ReloadGroup(groupID)
}

// SetActiveGroup records which group this identity currently acts in.
func (gs *GroupStore) SetActiveGroup(identity, groupID string) {
	if err := gs.store.Set(activeGroupKey(strings.ToLower(identity)), groupID); err != nil {
		logrus.Warnf("group: could not persist active group for %s: %v", identity, err)
	}
}

// ActiveGroup returns the identity's active group ID, or "".
func (gs *GroupStore) ActiveGroup(identity string) string {
	v, _ := gs.store.Get(activeGroupKey(strings.ToLower(identity)))
	return v
}

// DeleteGroup removes a group entirely. Owner only.
func (gs *GroupStore) DeleteGroup(groupID, requester string) error {
	e, err := gs.entry(groupID)
	if err != nil {
		return err
	}
	e.mu.Lock()
	if e.group.MemberRole(requester) != RoleOwner {
		e.mu.Unlock()
		return ErrNotPermitted
	}
	name := e.group.Name
	e.mu.Unlock()

	gs.mu.Lock()
	delete(gs.groups, groupID)
	gs.mu.Unlock()

	if err := gs.store.Unset(groupKey(groupID)); err != nil {
		logrus.Warnf("group: could not unset %s: %v", groupID, err)
	}
	if err := gs.store.Unset(eventsKey(groupID)); err != nil {
		logrus.Warnf("group: could not unset event log for %s: %v", groupID, err)
	}
	logrus.Infof("💥 deleted group %q (%s)", name, groupID)
	return nil
}

// memberPayload is the opaque payload attached to membership events.
// Receivers reload from the store rather than trusting it, so it only
// needs to be descriptive.
func memberPayload(name string, role Role) string {
	b, _ := json.Marshal(map[string]string{"member": name, "role": role.String()})
	return string(b)
}

func settingsPayload(what string) string {
	b, _ := json.Marshal(map[string]string{"changed": what})
	return string(b)
}

func (gs *GroupStore) String() string {
	gs.mu.RLock()
	defer gs.mu.RUnlock()
	return fmt.Sprintf("GroupStore(%s, %d groups)", gs.identity, len(gs.groups))
}
