package chain

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/optionvault/vendue/account"
	"github.com/optionvault/vendue/fixedpoint"
)

// ErrExercisePublished is returned on an attempt to change the exercise value
// of an option that was already published.
var ErrExercisePublished = errors.New("exercise value already published")

// SimVenue is an in-memory option settlement venue. Once an option matured,
// the venue knows the exercise value per contract and cash settles position
// claims against it.
type SimVenue struct {
	sync.Mutex

	ledger         *account.Ledger
	exerciseValues map[account.AssetID]fixedpoint.Fixed
}

// NewSimVenue creates a settlement venue that settles on the given ledger.
func NewSimVenue(ledger *account.Ledger) *SimVenue {
	return &SimVenue{
		ledger:         ledger,
		exerciseValues: make(map[account.AssetID]fixedpoint.Fixed),
	}
}

// SetExerciseValue publishes the in the money value per contract of a matured
// option. Out of the money options have a value of zero. A published value is
// final.
func (v *SimVenue) SetExerciseValue(claimID account.AssetID,
	value fixedpoint.Fixed) error {

	if value < 0 {
		return fmt.Errorf("negative exercise value %v", value)
	}

	v.Lock()
	defer v.Unlock()

	if prev, ok := v.exerciseValues[claimID]; ok {
		return fmt.Errorf("%w: %v is worth %v", ErrExercisePublished,
			claimID, prev)
	}

	v.exerciseValues[claimID] = value
	return nil
}

// ExerciseValue returns the exercise value per contract of the given claim.
// The flag is false while no value was published.
func (v *SimVenue) ExerciseValue(_ context.Context,
	claimID account.AssetID) (fixedpoint.Fixed, bool, error) {

	v.Lock()
	defer v.Unlock()

	value, ok := v.exerciseValues[claimID]
	return value, ok, nil
}

// CashSettle burns all claims of the given holder and credits their exercise
// value in collateral. It returns the amount of collateral paid.
func (v *SimVenue) CashSettle(ctx context.Context, holder account.Address,
	claimID account.AssetID) (fixedpoint.Fixed, error) {

	value, ok, err := v.ExerciseValue(ctx, claimID)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, fmt.Errorf("no exercise value published for %v",
			claimID)
	}

	claims := v.ledger.Balance(claimID, holder)
	payout, err := fixedpoint.MulFloor(claims, value)
	if err != nil {
		return 0, err
	}

	v.ledger.Burn(claimID, holder)
	if err := v.ledger.Mint(account.CollateralAsset, holder, payout); err != nil {
		return 0, err
	}

	log.Infof("Cash settled %v claims %v of %v for %v collateral", claims,
		claimID, holder, payout)

	return payout, nil
}
