package matching

import "fmt"

var (
	// ErrNoMarketPossible is returned by MaybeClear if it isn't possible
	// to make a market based on the current set of orders, either because
	// the book is empty or there is no capacity to sell.
	ErrNoMarketPossible = fmt.Errorf("a market cannot be made")
)
