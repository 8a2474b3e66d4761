package order

import (
	"fmt"
	"time"

	"github.com/optionvault/vendue/account"
	"github.com/optionvault/vendue/auction"
	"github.com/optionvault/vendue/fixedpoint"
)

// ID is the identifier of an order. IDs are handed out per epoch, strictly
// increasing from 1. The zero ID is never valid.
type ID uint64

// Origin records how an order was submitted. It is informational only, both
// origins are matched the same way.
type Origin uint8

const (
	// OriginLimit is an order submitted with an explicit price.
	OriginLimit Origin = 0

	// OriginMarket is an order priced at the auction's curve price at the
	// time of submission.
	OriginMarket Origin = 1
)

// String returns a human readable representation of the origin.
func (o Origin) String() string {
	switch o {
	case OriginLimit:
		return "limit"

	case OriginMarket:
		return "market"

	default:
		return fmt.Sprintf("<unknownOrigin(%d)>", uint8(o))
	}
}

// Order is a bid for contracts of one epoch's auction.
type Order struct {
	// ID is the order's identifier within its epoch.
	ID ID

	// Epoch is the epoch the order was submitted to.
	Epoch auction.Epoch

	// Price is the maximum price per contract the buyer pays.
	Price fixedpoint.Fixed

	// Size is the number of contracts requested.
	Size fixedpoint.Fixed

	// Buyer is the owner of the order.
	Buyer account.Address

	// Origin tells whether this was a limit or a market order.
	Origin Origin

	// Cost is the collateral prepaid by the buyer when the order was
	// submitted.
	Cost fixedpoint.Fixed

	// SubmittedAt is the time the order was accepted.
	SubmittedAt time.Time
}

// New validates the given parameters and returns a new order with its prepaid
// cost computed. The cost is rounded up so the escrow always covers the
// order's full value.
func New(id ID, epoch auction.Epoch, buyer account.Address, price,
	size fixedpoint.Fixed, origin Origin, now time.Time) (*Order, error) {

	switch {
	case id == 0:
		return nil, ErrInvalidOrderID

	case !price.IsPositive():
		return nil, fmt.Errorf("%w: %v", ErrInvalidPrice, price)

	case !size.IsPositive():
		return nil, fmt.Errorf("%w: size %v", ErrOrderTooSmall, size)

	case buyer.IsZero():
		return nil, fmt.Errorf("order without buyer")
	}

	cost, err := fixedpoint.MulCeil(price, size)
	if err != nil {
		return nil, fmt.Errorf("unable to compute order cost: %w", err)
	}

	return &Order{
		ID:          id,
		Epoch:       epoch,
		Price:       price,
		Size:        size,
		Buyer:       buyer,
		Origin:      origin,
		Cost:        cost,
		SubmittedAt: now,
	}, nil
}

// Copy returns a copy of the order.
func (o *Order) Copy() *Order {
	c := *o
	return &c
}

// Before returns true if o ranks before other in the book: higher prices
// first, equal prices in submission order.
func (o *Order) Before(other *Order) bool {
	if o.Price != other.Price {
		return o.Price > other.Price
	}

	return o.ID < other.ID
}

// String returns a short human readable description of the order.
func (o *Order) String() string {
	return fmt.Sprintf("%s order %d (epoch=%d, buyer=%v, price=%v, size=%v)",
		o.Origin, o.ID, o.Epoch, o.Buyer, o.Price, o.Size)
}
