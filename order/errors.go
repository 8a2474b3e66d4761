package order

import "errors"

var (
	// ErrOrderTooSmall is returned if an order's size is below the
	// minimum order size of the auction.
	ErrOrderTooSmall = errors.New("order size below minimum")

	// ErrInvalidOrderID is returned for the reserved order ID 0.
	ErrInvalidOrderID = errors.New("invalid order id")

	// ErrOrderNotFound is returned if an order doesn't exist in the book.
	ErrOrderNotFound = errors.New("order not found")

	// ErrNotOrderOwner is returned if the caller is not the buyer of the
	// order.
	ErrNotOrderOwner = errors.New("caller is not the order owner")

	// ErrInvalidPrice is returned if an order is priced at zero or less.
	ErrInvalidPrice = errors.New("order price must be positive")

	// ErrOrderMatched is returned on an attempt to cancel an order that
	// received a fill. Matched orders must be withdrawn instead.
	ErrOrderMatched = errors.New("order was matched, withdraw instead")

	// ErrDuplicateOrder is returned if an order with the same ID is
	// already in the book.
	ErrDuplicateOrder = errors.New("order already exists")
)
