package matching

import (
	"fmt"

	"github.com/optionvault/vendue/auction"
	"github.com/optionvault/vendue/fixedpoint"
	"github.com/optionvault/vendue/order"
)

// UniformPriceCallMarket is a batch auction that sells a fixed capacity of
// contracts to the highest bids and clears all of them at a single uniform
// price.
type UniformPriceCallMarket struct {
	// priceClearer is the main instance that the call market will used to
	// arrive at the uniform clearing price.
	priceClearer PriceClearer
}

// NewUniformPriceCallMarket returns a new instance of the
// UniformPriceCallMarket struct given the price clearer.
func NewUniformPriceCallMarket(
	priceClearer PriceClearer) *UniformPriceCallMarket {

	return &UniformPriceCallMarket{
		priceClearer: priceClearer,
	}
}

// MatchBook walks the book in priority order and includes orders until the
// capacity is exhausted. The order that crosses the capacity is included
// partially, every order after it is excluded.
func MatchBook(book *order.Book, capacity fixedpoint.Fixed) (*MatchSet,
	error) {

	matchSet := &MatchSet{
		Capacity: capacity,
	}

	var err error
	remaining := capacity
	book.Descend(func(o *order.Order) bool {
		if !remaining.IsPositive() {
			return false
		}

		fill := fixedpoint.MinOf(o.Size, remaining)
		fulfillType := TotalFill
		if fill < o.Size {
			fulfillType = PartialFill
		}

		matchSet.MatchedOrders = append(
			matchSet.MatchedOrders, MatchedOrder{
				Order:       o,
				Fill:        fill,
				FulfillType: fulfillType,
			},
		)

		remaining, err = remaining.Sub(fill)
		if err != nil {
			return false
		}
		matchSet.Sold, err = matchSet.Sold.Add(fill)

		return err == nil
	})
	if err != nil {
		return nil, err
	}

	return matchSet, nil
}

// MaybeClear attempts to clear the book with the given capacity. If there is
// nothing to sell or nobody to sell to, ErrNoMarketPossible is returned.
func (u *UniformPriceCallMarket) MaybeClear(book *order.Book,
	capacity fixedpoint.Fixed) (*Result, error) {

	if !capacity.IsPositive() || book.Len() == 0 {
		return nil, ErrNoMarketPossible
	}

	matchSet, err := MatchBook(book, capacity)
	if err != nil {
		return nil, fmt.Errorf("unable to match book: %w", err)
	}

	clearingPrice, err := u.priceClearer.ExtractClearingPrice(matchSet)
	if err != nil {
		return nil, err
	}

	boundary := matchSet.MatchedOrders[len(matchSet.MatchedOrders)-1]

	log.Debugf("Cleared book of epoch %d: clearing_price=%v, sold=%v of "+
		"%v, matched_orders=%d, boundary=%d", book.Epoch(),
		clearingPrice, matchSet.Sold, capacity,
		len(matchSet.MatchedOrders), boundary.Order.ID)

	return &Result{
		ClearingPrice: clearingPrice,
		Sold:          matchSet.Sold,
		BoundaryOrder: boundary.Order.ID,
		BoundaryFill:  boundary.Fill,
		Utilized:      matchSet.Sold == capacity,
		MatchSet:      matchSet,
	}, nil
}

// Settle computes the settlement of a single order from the clearing result
// recorded in the auction. Orders ranked before the boundary order are filled
// in full, the boundary order receives the boundary fill and all orders after
// it receive nothing. Since the clearing price is the boundary order's price,
// the rank can be determined without the boundary order still being in the
// book.
//
// The premium charged for a fill is rounded up and capped by the order's
// prepaid cost, so the refund never exceeds what the buyer paid in and the
// escrow always covers the premium swept to the vault.
func Settle(rec *auction.Record, o *order.Order) (*Settlement, error) {
	s := &Settlement{
		Order:  o,
		Refund: o.Cost,
	}

	if rec.Status == auction.StatusCancelled ||
		!rec.TotalContractsSold.IsPositive() || rec.BoundaryOrder == 0 {

		return s, nil
	}

	boundary := order.ID(rec.BoundaryOrder)
	switch {
	case o.ID == boundary:
		s.Fill = rec.BoundaryFill

	case o.Price > rec.ClearingPrice:
		s.Fill = o.Size

	case o.Price == rec.ClearingPrice && o.ID < boundary:
		s.Fill = o.Size

	default:
		return s, nil
	}

	if s.Fill > o.Size {
		return nil, fmt.Errorf("fill %v of order %d exceeds its size %v",
			s.Fill, o.ID, o.Size)
	}

	premium, err := fixedpoint.MulCeil(rec.ClearingPrice, s.Fill)
	if err != nil {
		return nil, err
	}
	s.PremiumCharged = fixedpoint.MinOf(premium, o.Cost)

	s.Refund, err = o.Cost.Sub(s.PremiumCharged)
	if err != nil {
		return nil, err
	}

	return s, nil
}

// SettleAll settles all the given orders.
func SettleAll(rec *auction.Record, orders []*order.Order) ([]*Settlement,
	error) {

	settlements := make([]*Settlement, 0, len(orders))
	for _, o := range orders {
		s, err := Settle(rec, o)
		if err != nil {
			return nil, err
		}

		settlements = append(settlements, s)
	}

	return settlements, nil
}
