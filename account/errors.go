package account

import (
	"errors"
	"fmt"

	"github.com/optionvault/vendue/fixedpoint"
)

var (
	// ErrInsufficientBalance is the error wrapped by
	// InsufficientBalanceError that can be used with errors.Is() to avoid
	// type assertions.
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrInvalidTransfer is returned for transfers with a negative amount
	// or an empty sender or receiver.
	ErrInvalidTransfer = errors.New("invalid transfer")
)

// InsufficientBalanceError is returned if a transfer batch would debit more
// from a holder than it owns of an asset.
type InsufficientBalanceError struct {
	// Holder is the address that lacks the funds.
	Holder Address

	// Asset is the asset the holder is short of.
	Asset AssetID

	// Balance is the holder's balance at the time of the debit.
	Balance fixedpoint.Fixed

	// Needed is the amount that would have been debited.
	Needed fixedpoint.Fixed
}

// Error implements the error interface.
func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("holder %v has %v of %v, needs %v", e.Holder,
		e.Balance, e.Asset, e.Needed)
}

// Unwrap returns the underlying error type.
func (e *InsufficientBalanceError) Unwrap() error {
	return ErrInsufficientBalance
}
