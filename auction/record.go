package auction

import (
	"fmt"
	"time"

	"github.com/optionvault/vendue/account"
	"github.com/optionvault/vendue/fixedpoint"
)

// Epoch identifies one auction and option writing cycle of the vault.
type Epoch uint64

// Record is the full state of one epoch's auction.
//
// The window, strike, claim identifier and, once set, the capacity of a record
// never change. Everything else is mutated through the transition methods
// below, which all leave the record untouched if they return an error.
type Record struct {
	// Epoch is the epoch this auction sells options for.
	Epoch Epoch

	// StartTime is the start of the order window.
	StartTime time.Time

	// EndTime is the end of the order window. Orders submitted at or after
	// this time are rejected.
	EndTime time.Time

	// Duration is the length of the order window.
	Duration time.Duration

	// MaxPrice is the curve price at the window start.
	MaxPrice fixedpoint.Fixed

	// MinPrice is the curve price at the window end.
	MinPrice fixedpoint.Fixed

	// PricesSet is true once the vault set the curve prices.
	PricesSet bool

	// ClearingPrice is the last price recorded by matching. It is
	// fixedpoint.Max for cancelled auctions, meaning nothing clears.
	ClearingPrice fixedpoint.Fixed

	// Strike is the strike of the option sold in this epoch.
	Strike fixedpoint.Fixed

	// ClaimID is the asset identifier of the position claim the vault
	// delivers for the sold contracts.
	ClaimID account.AssetID

	// TotalContracts is the capacity of the auction.
	TotalContracts fixedpoint.Fixed

	// TotalContractsSold is the amount of contracts included by the last
	// matching run.
	TotalContractsSold fixedpoint.Fixed

	// TotalPremium is the premium swept to the vault.
	TotalPremium fixedpoint.Fixed

	// PremiumTransferred is true once the premium was swept.
	PremiumTransferred bool

	// Status is the lifecycle state of the auction.
	Status Status

	// BoundaryOrder is the ID of the last order included by the last
	// matching run, zero if nothing was included. Every order that ranks
	// before it in the book is filled in full.
	BoundaryOrder uint64

	// BoundaryFill is the fill of the boundary order. It is smaller than
	// the order's size only if that order was the marginal one.
	BoundaryFill fixedpoint.Fixed

	// LastOrderID is the ID handed to the latest order of the epoch. IDs
	// are never reused, even after the order left the book.
	LastOrderID uint64

	// CashSettled is true once the escrow's position claims were converted
	// into collateral after the option matured.
	CashSettled bool

	// ExerciseValue is the collateral per contract the escrow's claims
	// were cash settled at. Every withdrawal after maturity pays fills at
	// this value, whatever the venue reports later.
	ExerciseValue fixedpoint.Fixed
}

// NewRecord validates the window and returns the record of a freshly
// initialized auction.
func NewRecord(epoch Epoch, strike fixedpoint.Fixed, claimID account.AssetID,
	start, end time.Time) (*Record, error) {

	if !end.After(start) {
		return nil, fmt.Errorf("%w: start=%v, end=%v", ErrInvalidWindow,
			start, end)
	}

	return &Record{
		Epoch:     epoch,
		StartTime: start,
		EndTime:   end,
		Duration:  end.Sub(start),
		Strike:    strike,
		ClaimID:   claimID,
		Status:    StatusInitialized,
	}, nil
}

// Copy returns a deep copy of the record.
func (r *Record) Copy() *Record {
	c := *r
	return &c
}

// CurvePrice returns the market order price of the auction at the given time.
func (r *Record) CurvePrice(now time.Time) (fixedpoint.Fixed, error) {
	if !r.PricesSet {
		return 0, ErrPricesNotSet
	}

	return CurvePrice(r.StartTime, r.EndTime, r.MaxPrice, r.MinPrice, now)
}

// CheckOpen returns nil if orders can be submitted to the auction at the given
// time.
func (r *Record) CheckOpen(now time.Time) error {
	switch {
	case r.Status != StatusInitialized:
		return fmt.Errorf("%w: status is %v", ErrAuctionClosed,
			r.Status)

	case !r.PricesSet:
		return fmt.Errorf("%w: %v", ErrAuctionClosed, ErrPricesNotSet)

	case now.Before(r.StartTime):
		return fmt.Errorf("%w: window starts at %v", ErrAuctionClosed,
			r.StartTime)

	case !now.Before(r.EndTime):
		return fmt.Errorf("%w: window ended at %v", ErrAuctionClosed,
			r.EndTime)
	}

	return nil
}

// Expired returns true if the auction window elapsed at the given time.
func (r *Record) Expired(now time.Time) bool {
	return !now.Before(r.EndTime)
}

// ValidPrices returns true if max and min form a strictly descending curve of
// positive prices.
func ValidPrices(maxPrice, minPrice fixedpoint.Fixed) bool {
	return maxPrice.IsPositive() && minPrice.IsPositive() &&
		maxPrice > minPrice
}

// SetPrices stores the curve prices of the auction. Prices that do not form a
// valid curve don't result in an error but cancel the auction instead, in
// which case true is returned.
func (r *Record) SetPrices(maxPrice, minPrice fixedpoint.Fixed) (bool, error) {
	if r.Status != StatusInitialized {
		return false, fmt.Errorf("%w: cannot set prices in status %v",
			ErrAuctionClosed, r.Status)
	}

	if !ValidPrices(maxPrice, minPrice) {
		r.Status = StatusCancelled
		r.ClearingPrice = fixedpoint.Max
		r.TotalContractsSold = 0
		r.BoundaryOrder = 0
		r.BoundaryFill = 0

		return true, nil
	}

	r.MaxPrice = maxPrice
	r.MinPrice = minPrice
	r.PricesSet = true

	return false, nil
}

// CapacitySet returns true if the capacity of the auction is known.
func (r *Record) CapacitySet() bool {
	return r.TotalContracts.IsPositive()
}

// SetCapacity sets the capacity of the auction. The capacity can only be set
// once.
func (r *Record) SetCapacity(capacity fixedpoint.Fixed) error {
	if r.CapacitySet() {
		return ErrCapacityAlreadySet
	}
	if capacity < 0 {
		return fmt.Errorf("negative capacity %v", capacity)
	}

	r.TotalContracts = capacity
	return nil
}

// RecordMatch stores the outcome of a matching run.
func (r *Record) RecordMatch(clearingPrice, sold fixedpoint.Fixed,
	boundary uint64, boundaryFill fixedpoint.Fixed) error {

	if r.Status != StatusInitialized {
		return fmt.Errorf("%w: cannot match in status %v",
			ErrAuctionClosed, r.Status)
	}
	if sold > r.TotalContracts {
		return fmt.Errorf("sold %v exceeds capacity %v", sold,
			r.TotalContracts)
	}

	r.ClearingPrice = clearingPrice
	r.TotalContractsSold = sold
	r.BoundaryOrder = boundary
	r.BoundaryFill = boundaryFill

	return nil
}

// Finalize freezes the clearing result of the auction.
func (r *Record) Finalize() error {
	if r.Status != StatusInitialized {
		return fmt.Errorf("%w: cannot finalize in status %v",
			ErrAuctionClosed, r.Status)
	}

	r.Status = StatusFinalized
	return nil
}

// Premium returns the premium owed to the vault for the sold contracts.
func (r *Record) Premium() (fixedpoint.Fixed, error) {
	if r.TotalContractsSold.IsZero() {
		return 0, nil
	}

	return fixedpoint.MulFloor(r.ClearingPrice, r.TotalContractsSold)
}

// MarkPremiumTransferred records the premium sweep of a finalized auction and
// returns the amount to sweep.
func (r *Record) MarkPremiumTransferred() (fixedpoint.Fixed, error) {
	if r.Status != StatusFinalized {
		return 0, fmt.Errorf("%w: status is %v", ErrNotFinalized,
			r.Status)
	}
	if r.PremiumTransferred {
		return 0, ErrAlreadyTransferred
	}

	premium, err := r.Premium()
	if err != nil {
		return 0, err
	}

	r.TotalPremium = premium
	r.PremiumTransferred = true

	return premium, nil
}

// Process moves a finalized auction to its final state. claimsHeld is the
// amount of position claims the auction escrow holds.
func (r *Record) Process(claimsHeld fixedpoint.Fixed) error {
	if r.Status != StatusFinalized {
		return fmt.Errorf("%w: status is %v", ErrNotFinalized,
			r.Status)
	}

	if r.TotalContractsSold.IsPositive() {
		if !r.PremiumTransferred {
			return ErrPremiumsNotTransferred
		}
		if claimsHeld < r.TotalContractsSold {
			return fmt.Errorf("%w: holding %v of %v",
				ErrClaimsNotDelivered, claimsHeld,
				r.TotalContractsSold)
		}
	}

	r.Status = StatusProcessed
	return nil
}

// MarkCashSettled records the exercise value the escrow's claims of a
// processed auction were cash settled at. It can only happen once.
func (r *Record) MarkCashSettled(value fixedpoint.Fixed) error {
	if r.Status != StatusProcessed {
		return fmt.Errorf("%w: cannot cash settle in status %v",
			ErrNotSettled, r.Status)
	}
	if r.CashSettled {
		return ErrAlreadyCashSettled
	}
	if value < 0 {
		return fmt.Errorf("negative exercise value %v", value)
	}

	r.CashSettled = true
	r.ExerciseValue = value

	return nil
}

// Utilized returns true if the last matching run sold the whole capacity.
func (r *Record) Utilized() bool {
	return r.TotalContracts.IsPositive() &&
		r.TotalContractsSold == r.TotalContracts
}
