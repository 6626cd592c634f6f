package guildpost

import (
	"crypto/rand"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Join codes are short enough to paste into game chat. The alphabet
// skips 0/O and 1/I to survive being read off a screenshot.
const codeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

func newJoinCode(n int) string {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand failing means something is deeply wrong; fall
		// back to a uuid-derived code rather than crash a game client.
		return strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:n])
	}
	for i, b := range buf {
		buf[i] = codeAlphabet[int(b)%len(codeAlphabet)]
	}
	return string(buf)
}

// GenerateSingleUseInviteCode issues a fresh single-use code, voiding
// any previous one and clearing the history of who redeemed earlier
// codes. Requires invite-code permission.
func (gs *GroupStore) GenerateSingleUseInviteCode(groupID, requester string) (string, error) {
	var code string
	err := gs.withGroup(groupID, func(g *Group) (bool, error) {
		if !canGenerateInviteCode(g, requester) {
			return false, ErrNotPermitted
		}
		code = newJoinCode(8)
		g.InviteCode = &InviteCode{
			Code:     code,
			IssuedBy: requester,
			IssuedAt: time.Now().Unix(),
		}
		g.InviteRedeemers = nil
		logrus.Infof("🎟️  group %s: %s issued a single-use invite code", g.Name, requester)
		return true, nil
	})
	if err != nil {
		return "", err
	}
	gs.emit(groupID, EventSettingsChanged, "invite-code", settingsPayload("invite-code"))
	return code, nil
}

// RedeemInviteCode joins identity to the group using the single-use
// code. At most one redemption ever succeeds per issued code: the first
// success voids the code, and every later attempt fails with
// ErrVoidInviteCode. An identity that redeemed an earlier code cannot
// redeem again until a fresh code is generated.
func (gs *GroupStore) RedeemInviteCode(groupID, code, identity string) error {
	err := gs.withGroup(groupID, func(g *Group) (bool, error) {
		if g.InviteCode == nil {
			return false, ErrVoidInviteCode
		}
		if g.InviteCode.Code != strings.ToUpper(strings.TrimSpace(code)) {
			return false, ErrWrongInviteCode
		}
		if g.member(identity) != nil {
			return false, ErrAlreadyMember
		}
		for _, prev := range g.InviteRedeemers {
			if strings.EqualFold(prev, identity) {
				return false, ErrNotPermitted
			}
		}

		g.addMember(identity, RoleMember)
		g.InviteCode = nil // consumed, now void
		g.InviteRedeemers = append(g.InviteRedeemers, strings.ToLower(identity))
		logrus.Infof("group %s: %s joined via single-use code", g.Name, identity)
		return true, nil
	})
	if err != nil {
		return err
	}
	gs.emit(groupID, EventMemberJoined, strings.ToLower(identity), memberPayload(identity, RoleMember))
	return nil
}

// SetClanCodeEnabled toggles the multi-use clan code, generating one on
// first enable. Requires invite-code permission.
func (gs *GroupStore) SetClanCodeEnabled(groupID, requester string, enabled bool) (string, error) {
	var code string
	err := gs.withGroup(groupID, func(g *Group) (bool, error) {
		if !canGenerateInviteCode(g, requester) {
			return false, ErrNotPermitted
		}
		if g.ClanCode == nil {
			g.ClanCode = &ClanCode{Code: newJoinCode(6)}
		}
		g.ClanCode.Enabled = enabled
		code = g.ClanCode.Code
		logrus.Infof("group %s: %s set clan code enabled=%v", g.Name, requester, enabled)
		return true, nil
	})
	if err != nil {
		return "", err
	}
	gs.emit(groupID, EventSettingsChanged, "clan-code", settingsPayload(fmt.Sprintf("clan-code:%v", enabled)))
	return code, nil
}

// RedeemClanCode joins identity via the multi-use code. No per-identity
// restriction; the code persists and only its counter moves.
func (gs *GroupStore) RedeemClanCode(groupID, code, identity string) error {
	err := gs.withGroup(groupID, func(g *Group) (bool, error) {
		if g.ClanCode == nil || !g.ClanCode.Enabled {
			return false, ErrCodeDisabled
		}
		if g.ClanCode.Code != strings.ToUpper(strings.TrimSpace(code)) {
			return false, ErrWrongInviteCode
		}
		if g.member(identity) != nil {
			return false, ErrAlreadyMember
		}
		g.addMember(identity, RoleMember)
		g.ClanCode.Uses++
		logrus.Infof("group %s: %s joined via clan code (use #%d)", g.Name, identity, g.ClanCode.Uses)
		return true, nil
	})
	if err != nil {
		return err
	}
	gs.emit(groupID, EventMemberJoined, strings.ToLower(identity), memberPayload(identity, RoleMember))
	return nil
}

// InviteMember queues a direct staff invite for invitee. Requires
// invite-code permission; duplicates for the same invitee are refused.
func (gs *GroupStore) InviteMember(groupID, requester, invitee string) (*PendingInvite, error) {
	var invite *PendingInvite
	err := gs.withGroup(groupID, func(g *Group) (bool, error) {
		if !canGenerateInviteCode(g, requester) {
			return false, ErrNotPermitted
		}
		if g.member(invitee) != nil {
			return false, ErrAlreadyMember
		}
		for _, p := range g.PendingInvites {
			if strings.EqualFold(p.Invitee, invitee) && !inviteExpired(p) {
				return false, ErrAlreadyMember
			}
		}
		invite = &PendingInvite{
			ID:        uuid.NewString(),
			Invitee:   invitee,
			InvitedBy: requester,
			CreatedAt: time.Now().Unix(),
		}
		g.PendingInvites = append(g.PendingInvites, invite)
		logrus.Infof("group %s: %s invited %s", g.Name, requester, invitee)
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	cp := *invite
	return &cp, nil
}

// AcceptInvite redeems a pending invite for identity. The invite must
// name them and must not have expired.
func (gs *GroupStore) AcceptInvite(groupID, identity string) error {
	err := gs.withGroup(groupID, func(g *Group) (bool, error) {
		idx := -1
		for i, p := range g.PendingInvites {
			if strings.EqualFold(p.Invitee, identity) {
				idx = i
				break
			}
		}
		if idx < 0 {
			return false, ErrInviteNotFound
		}
		p := g.PendingInvites[idx]
		g.PendingInvites = append(g.PendingInvites[:idx], g.PendingInvites[idx+1:]...)
		if inviteExpired(p) {
			// Expired invites are pruned on the way out but don't join.
			return true, ErrInviteNotFound
		}
		if g.member(identity) != nil {
			return true, ErrAlreadyMember
		}
		g.addMember(identity, RoleMember)
		logrus.Infof("group %s: %s accepted %s's invite", g.Name, identity, p.InvitedBy)
		return true, nil
	})
	if err != nil {
		return err
	}
	gs.emit(groupID, EventMemberJoined, strings.ToLower(identity), memberPayload(identity, RoleMember))
	return nil
}

// DeclineInvite drops a pending invite for identity.
func (gs *GroupStore) DeclineInvite(groupID, identity string) error {
	return gs.withGroup(groupID, func(g *Group) (bool, error) {
		for i, p := range g.PendingInvites {
			if strings.EqualFold(p.Invitee, identity) {
				g.PendingInvites = append(g.PendingInvites[:i], g.PendingInvites[i+1:]...)
				return true, nil
			}
		}
		return false, ErrInviteNotFound
	})
}

func inviteExpired(p *PendingInvite) bool {
	return time.Since(time.Unix(p.CreatedAt, 0)) > PendingInviteMaxAge
}
