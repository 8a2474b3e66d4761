package auctiondb

import (
	"errors"
	"fmt"

	"github.com/optionvault/vendue/auction"
)

var (
	errNotInitialized     = errors.New("db not initialized")
	errAlreadyInitialized = errors.New("db already initialized")
	errDbVersionMismatch  = errors.New("wrong db version")

	// ErrAuctionNotFound is the error wrapped by AuctionNotFoundError that
	// can be used with errors.Is() to avoid type assertions.
	ErrAuctionNotFound = errors.New("auction not found")
)

// AuctionNotFoundError is returned if orders are persisted for an epoch whose
// auction record is unknown to the store.
type AuctionNotFoundError struct {
	// Epoch is the epoch we didn't find in our database.
	Epoch auction.Epoch
}

// Error implements the error interface.
func (e *AuctionNotFoundError) Error() string {
	return fmt.Sprintf("auction of epoch %d not found", e.Epoch)
}

// Unwrap returns the underlying error type.
func (e *AuctionNotFoundError) Unwrap() error {
	return ErrAuctionNotFound
}
