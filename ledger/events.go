package ledger

import (
	"context"
	"time"
)

// EventType names a committed ledger change.
type EventType string

const (
	EventGrantRequested     EventType = "grant.requested"
	EventGrantVerified      EventType = "grant.verified"
	EventGrantRejected      EventType = "grant.rejected"
	EventGrantApproved      EventType = "grant.approved"
	EventGrantDisapproved   EventType = "grant.disapproved"
	EventGrantDeleted       EventType = "grant.deleted"
	EventRedemptionRecorded EventType = "redemption.recorded"
)

var transitionEvents = map[State]EventType{
	StateVerified:    EventGrantVerified,
	StateRejected:    EventGrantRejected,
	StateApproved:    EventGrantApproved,
	StateDisapproved: EventGrantDisapproved,
}

// Event describes a change after its transaction committed.
type Event struct {
	ID           string       `json:"id"`
	Type         EventType    `json:"type"`
	Kind         KindID       `json:"kind"`
	GrantID      GrantID      `json:"grant_id,omitempty"`
	RedemptionID RedemptionID `json:"redemption_id,omitempty"`
	Person       PersonID     `json:"person"`
	Actor        PersonID     `json:"actor"`
	Value        int64        `json:"value"`
	State        State        `json:"state,omitempty"`
	At           time.Time    `json:"at"`
}

// Publisher delivers committed events to an integration feed.
// Failures are reported but never undo the committed change.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

// NopPublisher discards events.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, Event) error { return nil }

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(ctx context.Context, e Event) error

func (f PublisherFunc) Publish(ctx context.Context, e Event) error { return f(ctx, e) }
