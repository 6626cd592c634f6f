package guildpost

import (
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// Permission predicates are pure functions of the group's current state.
// They are evaluated fresh on every call: role state can change under us
// between calls (a sync reload is always a heartbeat away), so caching a
// permission result is never safe.

// canChangeRole reports whether requester may change target's role.
// Self-changes are never allowed; only co-owner and above may change
// anyone; a co-owner may only touch targets ranked below co-owner.
func canChangeRole(g *Group, requester, target string) bool {
	if strings.EqualFold(requester, target) {
		return false
	}
	rr := g.MemberRole(requester)
	tr := g.MemberRole(target)
	if !rr.IsValid() || !tr.IsValid() {
		return false
	}
	switch {
	case rr == RoleOwner:
		return true
	case rr == RoleCoOwner:
		return tr < RoleCoOwner
	default:
		return false
	}
}

// canKick reports whether requester may remove target. The requester
// must be at least a mod and strictly outrank the target; everyone
// below owner is additionally gated by the group's per-rank kick flags.
func canKick(g *Group, requester, target string) bool {
	if strings.EqualFold(requester, target) {
		return false
	}
	rr := g.MemberRole(requester)
	tr := g.MemberRole(target)
	if !rr.IsValid() || !tr.IsValid() {
		return false
	}
	if !rr.AtLeast(RoleMod) || !rr.Outranks(tr) {
		return false
	}
	switch rr {
	case RoleOwner:
		return true
	case RoleCoOwner:
		return g.CoOwnerCanKick
	case RoleAdmin:
		return g.AdminCanKick
	case RoleMod:
		return g.ModCanKick
	}
	return false
}

// canGenerateInviteCode reports whether name may issue join codes.
func canGenerateInviteCode(g *Group, name string) bool {
	return g.MemberRole(name).AtLeast(RoleAdmin)
}

// CanChangeRole exposes the predicate against live state.
func (gs *GroupStore) CanChangeRole(groupID, requester, target string) bool {
	g, err := gs.GetGroup(groupID)
	if err != nil {
		return false
	}
	return canChangeRole(g, requester, target)
}

// CanKick exposes the predicate against live state.
func (gs *GroupStore) CanKick(groupID, requester, target string) bool {
	g, err := gs.GetGroup(groupID)
	if err != nil {
		return false
	}
	return canKick(g, requester, target)
}

// CanGenerateInviteCode exposes the predicate against live state.
func (gs *GroupStore) CanGenerateInviteCode(groupID, name string) bool {
	g, err := gs.GetGroup(groupID)
	if err != nil {
		return false
	}
	return canGenerateInviteCode(g, name)
}

// IsOwner reports whether name holds RoleOwner in the group.
func (gs *GroupStore) IsOwner(groupID, name string) bool {
	return gs.GetMemberRole(groupID, name) == RoleOwner
}

// IsAdmin reports whether name holds RoleAdmin or above.
func (gs *GroupStore) IsAdmin(groupID, name string) bool {
	return gs.GetMemberRole(groupID, name).AtLeast(RoleAdmin)
}

// SetMemberRole changes target's role. Promotion to owner is refused
// here; ownership only moves through TransferOwnership.
func (gs *GroupStore) SetMemberRole(groupID, requester, target string, newRole Role) error {
	err := gs.withGroup(groupID, func(g *Group) (bool, error) {
		if newRole == RoleOwner {
			return false, ErrNotPermitted
		}
		if !newRole.IsValid() {
			return false, ErrNotPermitted
		}
		if !canChangeRole(g, requester, target) {
			return false, ErrNotPermitted
		}
		m := g.member(target)
		if m == nil {
			return false, ErrNotAMember
		}
		old := m.Role
		m.Role = newRole
		logrus.Infof("group %s: %s changed %s from %s to %s", g.Name, requester, target, old, newRole)
		return true, nil
	})
	if err != nil {
		return err
	}
	gs.emit(groupID, EventSettingsChanged, strings.ToLower(target), settingsPayload("role:"+target))
	return nil
}

// TransferOwnership atomically demotes the current owner to co-owner
// and promotes newOwner to owner. Either both role changes land in the
// persisted record or neither does.
func (gs *GroupStore) TransferOwnership(groupID, currentOwner, newOwner string) error {
	err := gs.withGroup(groupID, func(g *Group) (bool, error) {
		if strings.EqualFold(currentOwner, newOwner) {
			return false, ErrNotPermitted
		}
		from := g.member(currentOwner)
		to := g.member(newOwner)
		if from == nil || to == nil {
			return false, ErrNotAMember
		}
		if from.Role != RoleOwner {
			return false, ErrNotPermitted
		}
		from.Role = RoleCoOwner
		to.Role = RoleOwner
		logrus.Infof("👑 group %s: ownership transferred from %s to %s", g.Name, currentOwner, newOwner)
		return true, nil
	})
	if err != nil {
		return err
	}
	gs.emit(groupID, EventSettingsChanged, strings.ToLower(newOwner), settingsPayload("ownership"))
	return nil
}

// RemoveMemberFromGroup kicks target out of the group.
func (gs *GroupStore) RemoveMemberFromGroup(groupID, requester, target string) error {
	var removedRole Role
	err := gs.withGroup(groupID, func(g *Group) (bool, error) {
		if !canKick(g, requester, target) {
			return false, ErrNotPermitted
		}
		removedRole = g.MemberRole(target)
		if !g.removeMember(target) {
			return false, ErrNotAMember
		}
		logrus.Infof("group %s: %s kicked %s", g.Name, requester, target)
		return true, nil
	})
	if err != nil {
		return err
	}
	gs.emit(groupID, EventMemberLeft, strings.ToLower(target), memberPayload(target, removedRole))
	return nil
}

// LeaveGroup is a voluntary departure. The owner must transfer
// ownership before leaving; everyone else may go at any time.
func (gs *GroupStore) LeaveGroup(groupID, name string) error {
	var leftRole Role
	err := gs.withGroup(groupID, func(g *Group) (bool, error) {
		m := g.member(name)
		if m == nil {
			return false, ErrNotAMember
		}
		if m.Role == RoleOwner {
			return false, ErrNotPermitted
		}
		leftRole = m.Role
		g.removeMember(name)
		logrus.Infof("group %s: %s left", g.Name, name)
		return true, nil
	})
	if err != nil {
		return err
	}
	gs.emit(groupID, EventMemberLeft, strings.ToLower(name), memberPayload(name, leftRole))
	return nil
}

// SetKickPermission toggles one of the per-rank kick gates. Only owner
// and co-owner may flip them, and only for mod/admin/co-owner ranks.
func (gs *GroupStore) SetKickPermission(groupID, requester string, rank Role, allowed bool) error {
	err := gs.withGroup(groupID, func(g *Group) (bool, error) {
		if !g.MemberRole(requester).AtLeast(RoleCoOwner) {
			return false, ErrNotPermitted
		}
		switch rank {
		case RoleCoOwner:
			g.CoOwnerCanKick = allowed
		case RoleAdmin:
			g.AdminCanKick = allowed
		case RoleMod:
			g.ModCanKick = allowed
		default:
			return false, ErrNotPermitted
		}
		logrus.Infof("group %s: %s set %s kick permission to %v", g.Name, requester, rank, allowed)
		return true, nil
	})
	if err != nil {
		return err
	}
	gs.emit(groupID, EventSettingsChanged, "kick-permission", settingsPayload("kick:"+rank.String()))
	return nil
}

// removeMember drops a member by name. Returns false if absent.
func (g *Group) removeMember(name string) bool {
	for i, m := range g.Members {
		if strings.EqualFold(m.Name, name) {
			g.Members = append(g.Members[:i], g.Members[i+1:]...)
			return true
		}
	}
	return false
}

// addMember appends a new active member. Callers must hold the entry lock.
func (g *Group) addMember(name string, role Role) *Member {
	m := &Member{
		Name:     name,
		Role:     role,
		JoinedAt: time.Now().Unix(),
		Active:   true,
	}
	g.Members = append(g.Members, m)
	return m
}
