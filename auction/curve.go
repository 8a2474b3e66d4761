package auction

import (
	"time"

	"github.com/optionvault/vendue/fixedpoint"
)

// CurvePrice returns the ask price of a descending linear curve that starts
// at maxPrice at the window start and reaches minPrice at the window end:
//
//	price(now) = max                                    if now <= start
//	           = min                                    if now >= end
//	           = max - (max-min)*(now-start)/(end-start) otherwise
//
// Time is measured in whole seconds, the subtracted term is rounded down so
// the curve never drops below its exact value.
func CurvePrice(start, end time.Time, maxPrice, minPrice fixedpoint.Fixed,
	now time.Time) (fixedpoint.Fixed, error) {

	nowUnix, startUnix, endUnix := now.Unix(), start.Unix(), end.Unix()

	switch {
	case nowUnix <= startUnix:
		return maxPrice, nil

	case nowUnix >= endUnix:
		return minPrice, nil
	}

	spread, err := maxPrice.Sub(minPrice)
	if err != nil {
		return 0, err
	}

	drop, err := fixedpoint.MulDivFloor(
		spread, nowUnix-startUnix, endUnix-startUnix,
	)
	if err != nil {
		return 0, err
	}

	return maxPrice.Sub(drop)
}
