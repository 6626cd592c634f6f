package guildpost

import (
	"crypto/sha256"
	"fmt"
	"time"
)

// Event types carried by the shared log.
const (
	EventItemAdded    = "item-added"
	EventItemRemoved  = "item-removed"
	EventItemUpdated  = "item-updated"
	EventItemBorrowed = "item-borrowed"
	EventItemReturned = "item-returned"

	EventMemberJoined = "member-joined"
	EventMemberLeft   = "member-left"

	EventSettingsChanged = "settings-changed"

	EventItemSetCreated = "itemset-created"
	EventItemSetUpdated = "itemset-updated"
	EventItemSetDeleted = "itemset-deleted"
)

var validEventTypes = map[string]bool{
	EventItemAdded:       true,
	EventItemRemoved:     true,
	EventItemUpdated:     true,
	EventItemBorrowed:    true,
	EventItemReturned:    true,
	EventMemberJoined:    true,
	EventMemberLeft:      true,
	EventSettingsChanged: true,
	EventItemSetCreated:  true,
	EventItemSetUpdated:  true,
	EventItemSetDeleted:  true,
}

// Event is one entry in a group's shared log. Immutable once published.
//
// Ordering is by the publisher's wall clock only. There is no logical
// clock and no defense against skew between peers: two events from
// different publishers may apply in either order, so everything a
// receiver does with an event must be idempotent and last-writer-wins
// safe. The log delivers at-least-once, never exactly-once.
type Event struct {
	ID        string `json:"id"`
	Type      string `json:"type"`
	DataID    string `json:"data_id,omitempty"` // opaque handle into the relevant manager's data
	Payload   string `json:"payload,omitempty"` // opaque, receivers reload from the store instead of trusting it
	Timestamp int64  `json:"ts"`                // Unix nanoseconds, publisher's clock
	Publisher string `json:"publisher"`
	GroupID   string `json:"group_id"`
}

// ComputeID derives a deterministic ID from the event's content. Events
// are treated as immutable once the ID is set.
func (e *Event) ComputeID() {
	hasher := sha256.New()
	hasher.Write([]byte(fmt.Sprintf("%d:%s:%s:%s:%s:", e.Timestamp, e.Type, e.GroupID, e.Publisher, e.DataID)))
	hasher.Write([]byte(e.Payload))
	hash := hasher.Sum(nil)
	e.ID = fmt.Sprintf("%x", hash[:16])
}

// IsValid checks that the event is well-formed enough to dispatch.
func (e *Event) IsValid() bool {
	if e.Timestamp == 0 || e.GroupID == "" || e.Publisher == "" {
		return false
	}
	return validEventTypes[e.Type]
}

// NewEvent stamps a fresh event with the current wall-clock time.
func NewEvent(groupID, publisher, eventType, dataID, payload string) Event {
	e := Event{
		Type:      eventType,
		DataID:    dataID,
		Payload:   payload,
		Timestamp: time.Now().UnixNano(),
		Publisher: publisher,
		GroupID:   groupID,
	}
	e.ComputeID()
	return e
}
