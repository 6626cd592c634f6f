package guildpost

import (
	"strings"

	"github.com/sirupsen/logrus"
)

// OnlineStatus answers "is this member visible in the game world right
// now". It is refreshed by a collaborator outside this package and may
// lag reality; the election below inherits that staleness.
type OnlineStatus interface {
	IsOnline(name string) bool
}

// OnlineSet is a static OnlineStatus, used by tests and snapshots.
type OnlineSet map[string]bool

func (s OnlineSet) IsOnline(name string) bool {
	return s[strings.ToLower(name)]
}

// NotifyPolicy selects how peers decide which one of them fires an
// outbound side effect.
type NotifyPolicy int

const (
	// PolicyHighestRanked runs the communication-free election: the
	// highest-ranked online member acts, names break rank ties.
	PolicyHighestRanked NotifyPolicy = iota
	// PolicyAnyone lets every peer act, explicitly accepting duplicates.
	PolicyAnyone
	// PolicyMinimumRole bypasses election: act iff the local member
	// holds at least Elector.MinimumRole.
	PolicyMinimumRole
)

// Elector decides, from locally visible state only, whether this peer
// should perform an external side effect. It is a heuristic: peers
// agree exactly when their views of the role table and the online set
// agree, and both of those are themselves eventually consistent. It is
// deliberately not a coordination protocol; do not strengthen it into
// one without adding real consensus.
type Elector struct {
	groups      *GroupStore
	online      OnlineStatus
	policy      NotifyPolicy
	MinimumRole Role
}

func NewElector(groups *GroupStore, online OnlineStatus) *Elector {
	return &Elector{
		groups:      groups,
		online:      online,
		policy:      PolicyHighestRanked,
		MinimumRole: RoleAdmin,
	}
}

// SetPolicy switches the acting policy.
func (e *Elector) SetPolicy(p NotifyPolicy) { e.policy = p }

// ShouldAct reports whether the member named me should fire the side
// effect for the given group under the configured policy.
func (e *Elector) ShouldAct(groupID, me string) bool {
	switch e.policy {
	case PolicyAnyone:
		return true
	case PolicyMinimumRole:
		return e.groups.GetMemberRole(groupID, me).AtLeast(e.MinimumRole)
	default:
		g, err := e.groups.GetGroup(groupID)
		if err != nil {
			return false
		}
		win := IsHighestRankedOnline(g, me, e.online)
		if !win {
			logrus.Debugf("elector: %s deferring in %s, a better-placed peer is online", me, groupID)
		}
		return win
	}
}

// IsHighestRankedOnline is the election predicate: true iff no other
// online member either outranks me or ties my rank with a name that
// sorts earlier (case-insensitive). It is a pure function of the group
// snapshot and the online view, so every peer evaluating the same
// inputs computes the same answer.
func IsHighestRankedOnline(g *Group, me string, online OnlineStatus) bool {
	myRank := g.MemberRole(me)
	if !myRank.IsValid() {
		return false
	}
	myName := strings.ToLower(me)

	for _, m := range g.Members {
		if strings.EqualFold(m.Name, me) {
			continue
		}
		if !online.IsOnline(m.Name) {
			continue
		}
		if m.Role.Outranks(myRank) {
			return false
		}
		if m.Role == myRank && strings.ToLower(m.Name) < myName {
			return false
		}
	}
	return true
}
