package matching

import "github.com/optionvault/vendue/fixedpoint"

// LastAcceptedBid is a uniform clearing price algorithm that selects the
// clearing price to the lowest bid within the match set.
type LastAcceptedBid struct {
}

// ExtractClearingPrice will determine a uniform clearing price given the
// entire match set. Only a single price is to be returned. Because the match
// set is in priority order the last accepted bid is also the lowest one,
// which is the marginal order if the capacity was crossed.
//
// NOTE: This is a part of the PriceClearer interface.
func (l *LastAcceptedBid) ExtractClearingPrice(matchSet *MatchSet) (
	fixedpoint.Fixed, error) {

	numMatchedOrders := len(matchSet.MatchedOrders)
	if numMatchedOrders == 0 {
		return 0, ErrNoMarketPossible
	}

	lastAcceptedBid := matchSet.MatchedOrders[numMatchedOrders-1].Order

	return lastAcceptedBid.Price, nil
}

// A compile-time assertion to ensure that the LastAcceptedBid meets the
// PriceClearer interface.
var _ PriceClearer = (*LastAcceptedBid)(nil)
