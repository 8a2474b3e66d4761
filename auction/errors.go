package auction

import "errors"

var (
	// ErrAlreadyInitialized is returned when an auction is created for an
	// epoch that already has one.
	ErrAlreadyInitialized = errors.New("auction already initialized")

	// ErrInvalidWindow is returned if an auction's end time is not after
	// its start time.
	ErrInvalidWindow = errors.New("auction end must be after start")

	// ErrAuctionClosed is returned if an order is submitted outside of the
	// auction window or after the auction left the initialized state.
	ErrAuctionClosed = errors.New("auction not open for orders")

	// ErrPricesNotSet is returned if an auction is used before the vault
	// set its curve prices.
	ErrPricesNotSet = errors.New("auction prices not set")

	// ErrCapacityAlreadySet is returned on an attempt to overwrite the
	// capacity of an auction.
	ErrCapacityAlreadySet = errors.New("auction capacity already set")

	// ErrNotFinalized is returned by operations that require a finalized
	// auction.
	ErrNotFinalized = errors.New("auction not finalized")

	// ErrAlreadyTransferred is returned if the premium of an auction is
	// swept a second time.
	ErrAlreadyTransferred = errors.New("premium already transferred")

	// ErrPremiumsNotTransferred is returned if an auction with sold
	// contracts is processed before its premium was swept.
	ErrPremiumsNotTransferred = errors.New("premiums not transferred")

	// ErrClaimsNotDelivered is returned if an auction with sold contracts
	// is processed before the auction holds the sold position claims.
	ErrClaimsNotDelivered = errors.New("position claims not delivered")

	// ErrNotSettled is returned on a withdrawal from an auction that is
	// neither processed nor cancelled.
	ErrNotSettled = errors.New("auction not settled")

	// ErrAlreadyCashSettled is returned if the escrow's claims of an
	// auction are cash settled a second time.
	ErrAlreadyCashSettled = errors.New("auction already cash settled")

	// ErrExerciseValueUnknown is returned on a withdrawal of fills after
	// maturity while the settlement venue has not published the exercise
	// value of the option yet.
	ErrExerciseValueUnknown = errors.New("exercise value not published")
)
