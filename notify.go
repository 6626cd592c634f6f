package guildpost

import "github.com/sirupsen/logrus"

// NotifyGate is the single checkpoint in front of every outbound side
// effect (webhook, chat alert, whatever the caller dispatches): first
// the election, then the rate limiter. The gate never sends anything
// itself; callers that proceed report the outcome back through Record
// so the audit trail sees every attempt.
type NotifyGate struct {
	elector *Elector
	limiter *RateLimiter
	audit   *AuditTrail
	metrics *Metrics
}

// Decision is the gate's verdict for one prospective send.
type Decision struct {
	Allowed bool
	Reason  string // why not, empty when allowed
}

func NewNotifyGate(elector *Elector, limiter *RateLimiter, audit *AuditTrail) *NotifyGate {
	return &NotifyGate{
		elector: elector,
		limiter: limiter,
		audit:   audit,
	}
}

// SetMetrics wires operational counters. Optional.
func (g *NotifyGate) SetMetrics(m *Metrics) {
	g.metrics = m
}

// Permit decides whether user may fire the side effect identified by
// (eventType, eventData) for the group right now. An election loss is
// not audited (some other peer will send and audit); a rate-limit
// rejection is, since it means this peer tried and was refused.
func (g *NotifyGate) Permit(groupID, user, eventType, eventData string) Decision {
	if !g.elector.ShouldAct(groupID, user) {
		g.metrics.incElection(false)
		return Decision{Allowed: false, Reason: "another peer is the designated sender"}
	}
	g.metrics.incElection(true)

	rd := g.limiter.CheckLimit(groupID, user, eventType, eventData)
	if !rd.Allowed {
		logrus.Debugf("notify: %s blocked for %s in %s: %s", eventType, user, groupID, rd.Reason)
		g.audit.LogAttempt(groupID, user, eventType, false, rd.Reason, "blocked by rate limiter")
		return Decision{Allowed: false, Reason: rd.Reason}
	}

	return Decision{Allowed: true}
}

// Record logs the outcome of a permitted send attempt.
func (g *NotifyGate) Record(groupID, user, eventType string, success bool, failureReason, context string) {
	g.audit.LogAttempt(groupID, user, eventType, success, failureReason, context)
}
