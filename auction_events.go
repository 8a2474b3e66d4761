package vendue

import (
	"fmt"

	"github.com/optionvault/vendue/account"
	"github.com/optionvault/vendue/auction"
	"github.com/optionvault/vendue/fixedpoint"
	"github.com/optionvault/vendue/order"
)

// EventType is the type of a notification published by the auctioneer.
type EventType uint8

const (
	// EventOrderAdded is published after an order was accepted into an
	// epoch's book.
	EventOrderAdded EventType = iota

	// EventOrderRemoved is published after an order left an epoch's book,
	// either through a cancellation or a withdrawal.
	EventOrderRemoved

	// EventStatusChanged is published after an auction was created or
	// moved to a new status.
	EventStatusChanged
)

// String returns a human readable representation of the event type.
func (t EventType) String() string {
	switch t {
	case EventOrderAdded:
		return "order_added"

	case EventOrderRemoved:
		return "order_removed"

	case EventStatusChanged:
		return "status_changed"

	default:
		return fmt.Sprintf("<unknownEvent(%d)>", uint8(t))
	}
}

// AuctionEvent is the interface of all notifications the auctioneer publishes
// on its subscription server.
type AuctionEvent interface {
	// Type returns the type of the event.
	Type() EventType

	// AuctionEpoch returns the epoch the event belongs to.
	AuctionEpoch() auction.Epoch
}

// OrderAddedEvent is published once an order was accepted and its cost was
// prepaid.
type OrderAddedEvent struct {
	Epoch  auction.Epoch    `json:"epoch"`
	ID     order.ID         `json:"id"`
	Buyer  account.Address  `json:"buyer"`
	Price  fixedpoint.Fixed `json:"price"`
	Size   fixedpoint.Fixed `json:"size"`
	Origin order.Origin     `json:"origin"`
}

// Type returns the type of the event.
//
// NOTE: This is part of the AuctionEvent interface.
func (e *OrderAddedEvent) Type() EventType {
	return EventOrderAdded
}

// AuctionEpoch returns the epoch the event belongs to.
//
// NOTE: This is part of the AuctionEvent interface.
func (e *OrderAddedEvent) AuctionEpoch() auction.Epoch {
	return e.Epoch
}

// OrderRemovedEvent is published once an order was cancelled or withdrawn.
type OrderRemovedEvent struct {
	Epoch auction.Epoch   `json:"epoch"`
	ID    order.ID        `json:"id"`
	Buyer account.Address `json:"buyer"`

	// Withdrawn is true if the order left the book through a withdrawal,
	// false if it was cancelled.
	Withdrawn bool `json:"withdrawn"`
}

// Type returns the type of the event.
//
// NOTE: This is part of the AuctionEvent interface.
func (e *OrderRemovedEvent) Type() EventType {
	return EventOrderRemoved
}

// AuctionEpoch returns the epoch the event belongs to.
//
// NOTE: This is part of the AuctionEvent interface.
func (e *OrderRemovedEvent) AuctionEpoch() auction.Epoch {
	return e.Epoch
}

// StatusChangedEvent is published when an auction is initialized and every
// time it changes its status afterwards.
type StatusChangedEvent struct {
	Epoch  auction.Epoch  `json:"epoch"`
	Status auction.Status `json:"status"`
}

// Type returns the type of the event.
//
// NOTE: This is part of the AuctionEvent interface.
func (e *StatusChangedEvent) Type() EventType {
	return EventStatusChanged
}

// AuctionEpoch returns the epoch the event belongs to.
//
// NOTE: This is part of the AuctionEvent interface.
func (e *StatusChangedEvent) AuctionEpoch() auction.Epoch {
	return e.Epoch
}

// A compile-time check to make sure all events implement AuctionEvent.
var (
	_ AuctionEvent = (*OrderAddedEvent)(nil)
	_ AuctionEvent = (*OrderRemovedEvent)(nil)
	_ AuctionEvent = (*StatusChangedEvent)(nil)
)
