package matching

import (
	"fmt"

	"github.com/optionvault/vendue/fixedpoint"
	"github.com/optionvault/vendue/order"
)

// FulfillType is an enum-like variable that expresses the "nature" of a fill
// of an order.
type FulfillType uint8

const (
	// TotalFill indicates that the order was completely filled.
	TotalFill FulfillType = iota

	// PartialFill indicates that only part of the order's size was sold,
	// which makes it the marginal order of the auction.
	PartialFill

	// NullFill indicates that nothing of the order was sold.
	NullFill
)

// String returns a human readable string of the fulfill type.
func (f FulfillType) String() string {
	switch f {
	case TotalFill:
		return "TotalFill"

	case PartialFill:
		return "PartialFill"

	case NullFill:
		return "NullFill"

	default:
		return fmt.Sprintf("<unknownFulfillType(%d)>", uint8(f))
	}
}

// MatchedOrder is an order that was included by a clearing walk together with
// the number of contracts it bought.
type MatchedOrder struct {
	// Order is the matched order.
	Order *order.Order

	// Fill is the number of contracts sold to the order.
	Fill fixedpoint.Fixed

	// FulfillType tells whether the whole order was filled.
	FulfillType FulfillType
}

// MatchSet is the set of all orders included by a clearing walk, in priority
// order.
type MatchSet struct {
	// MatchedOrders is the set of matched orders. The last one is the
	// boundary order of the walk.
	MatchedOrders []MatchedOrder

	// Capacity is the number of contracts that were up for sale.
	Capacity fixedpoint.Fixed

	// Sold is the sum of all fills.
	Sold fixedpoint.Fixed
}

// PriceClearer is an interface that allows the auctioneer to determine a
// uniform clearing price given a match set.
type PriceClearer interface {
	// ExtractClearingPrice attempts to determine the uniform clearing
	// price given the set of matched orders.
	ExtractClearingPrice(*MatchSet) (fixedpoint.Fixed, error)
}

// Result is the outcome of clearing an epoch's book.
type Result struct {
	// ClearingPrice is the single price paid by all filled orders.
	ClearingPrice fixedpoint.Fixed

	// Sold is the number of contracts sold.
	Sold fixedpoint.Fixed

	// BoundaryOrder is the last order included by the walk.
	BoundaryOrder order.ID

	// BoundaryFill is the fill of the boundary order.
	BoundaryFill fixedpoint.Fixed

	// Utilized is true if the whole capacity was sold.
	Utilized bool

	// MatchSet is the set of matched orders the result was derived from.
	MatchSet *MatchSet
}

// Settlement is the outcome of an auction for a single order.
type Settlement struct {
	// Order is the settled order.
	Order *order.Order

	// Fill is the number of contracts the order bought.
	Fill fixedpoint.Fixed

	// PremiumCharged is the part of the order's prepaid cost kept as
	// payment for the fill.
	PremiumCharged fixedpoint.Fixed

	// Refund is the part of the order's prepaid cost returned to the
	// buyer.
	Refund fixedpoint.Fixed
}

// FulfillType returns the nature of the order's fill.
func (s *Settlement) FulfillType() FulfillType {
	switch {
	case s.Fill.IsZero():
		return NullFill

	case s.Fill < s.Order.Size:
		return PartialFill

	default:
		return TotalFill
	}
}
