package venue

import (
	"fmt"

	"github.com/optionvault/vendue/account"
	"github.com/optionvault/vendue/auction"
	"github.com/optionvault/vendue/fixedpoint"
	"github.com/optionvault/vendue/order"
	"github.com/optionvault/vendue/venue/matching"
)

// SettlementMode is the way the fills of a withdrawal are paid out.
type SettlementMode uint8

const (
	// ModePhysical delivers the bought position claims. It is used before
	// the epoch's option matured.
	ModePhysical SettlementMode = 0

	// ModeCash pays the exercise value of the fills in collateral. It is
	// used once the option matured and the escrow's claims were cash
	// settled by the settlement venue.
	ModeCash SettlementMode = 1
)

// String returns a human readable representation of the mode.
func (m SettlementMode) String() string {
	switch m {
	case ModePhysical:
		return "physical"

	case ModeCash:
		return "cash"

	default:
		return fmt.Sprintf("<unknownMode(%d)>", uint8(m))
	}
}

// Withdrawal is everything a buyer receives for their orders of one epoch.
type Withdrawal struct {
	// Epoch is the epoch withdrawn from.
	Epoch auction.Epoch

	// Buyer is the withdrawing buyer.
	Buyer account.Address

	// Mode is the settlement mode of the fills.
	Mode SettlementMode

	// Settlements holds the settlement of every order withdrawn.
	Settlements []*matching.Settlement

	// Fill is the total number of contracts bought.
	Fill fixedpoint.Fixed

	// Refund is the total unspent prepaid collateral.
	Refund fixedpoint.Fixed

	// ExerciseValue is the collateral paid per contract in cash mode.
	ExerciseValue fixedpoint.Fixed

	// CashValue is the exercise value paid for the fills in cash mode.
	CashValue fixedpoint.Fixed

	// ClaimUnits is the number of position claims delivered, zero in cash
	// mode.
	ClaimUnits fixedpoint.Fixed

	// Collateral is the total collateral paid out, the refund plus the
	// cash value.
	Collateral fixedpoint.Fixed

	// Transfers are the ledger transfers that pay out the withdrawal.
	Transfers []account.Transfer
}

// IsEmpty returns true if the withdrawal pays out nothing.
func (w *Withdrawal) IsEmpty() bool {
	return len(w.Settlements) == 0
}

// OrderIDs returns the IDs of all withdrawn orders.
func (w *Withdrawal) OrderIDs() []order.ID {
	ids := make([]order.ID, 0, len(w.Settlements))
	for _, s := range w.Settlements {
		ids = append(ids, s.Order.ID)
	}

	return ids
}

// WithdrawalProcessor turns the settlements of a buyer's orders into a
// withdrawal paid out of the auction escrow.
type WithdrawalProcessor struct {
	escrow account.Address
}

// NewWithdrawalProcessor creates a processor paying out of the given escrow.
func NewWithdrawalProcessor(escrow account.Address) *WithdrawalProcessor {
	return &WithdrawalProcessor{
		escrow: escrow,
	}
}

// Prepare computes the withdrawal of the given orders, which must all belong
// to buyer. If matured is set, the fills are paid in cash at exerciseValue
// per contract instead of being delivered as position claims. Prepare has no
// side effects, the returned transfers still need to be executed.
func (p *WithdrawalProcessor) Prepare(rec *auction.Record,
	buyer account.Address, orders []*order.Order, matured bool,
	exerciseValue fixedpoint.Fixed) (*Withdrawal, error) {

	if !rec.Status.Withdrawable() {
		return nil, fmt.Errorf("%w: status is %v", auction.ErrNotSettled,
			rec.Status)
	}
	if exerciseValue < 0 {
		return nil, fmt.Errorf("negative exercise value %v",
			exerciseValue)
	}

	w := &Withdrawal{
		Epoch: rec.Epoch,
		Buyer: buyer,
		Mode:  ModePhysical,
	}
	if matured {
		w.Mode = ModeCash
		w.ExerciseValue = exerciseValue
	}

	for _, o := range orders {
		if o.Buyer != buyer {
			return nil, fmt.Errorf("%w: order %d", order.ErrNotOrderOwner,
				o.ID)
		}

		s, err := matching.Settle(rec, o)
		if err != nil {
			return nil, fmt.Errorf("unable to settle order %d: %w",
				o.ID, err)
		}
		w.Settlements = append(w.Settlements, s)

		if w.Fill, err = w.Fill.Add(s.Fill); err != nil {
			return nil, err
		}
		if w.Refund, err = w.Refund.Add(s.Refund); err != nil {
			return nil, err
		}

		if w.Mode != ModeCash || s.Fill.IsZero() {
			continue
		}

		value, err := fixedpoint.MulFloor(s.Fill, exerciseValue)
		if err != nil {
			return nil, err
		}
		if w.CashValue, err = w.CashValue.Add(value); err != nil {
			return nil, err
		}
	}

	if w.Mode == ModePhysical {
		w.ClaimUnits = w.Fill
	}

	var err error
	w.Collateral, err = w.Refund.Add(w.CashValue)
	if err != nil {
		return nil, err
	}

	if w.ClaimUnits.IsPositive() {
		w.Transfers = append(w.Transfers, account.Transfer{
			Asset:  rec.ClaimID,
			From:   p.escrow,
			To:     buyer,
			Amount: w.ClaimUnits,
		})
	}
	if w.Collateral.IsPositive() {
		w.Transfers = append(w.Transfers, account.Transfer{
			Asset:  account.CollateralAsset,
			From:   p.escrow,
			To:     buyer,
			Amount: w.Collateral,
		})
	}

	log.Tracef("Prepared %v withdrawal of %d orders for %v in epoch %d: "+
		"fill=%v, refund=%v, cash=%v", w.Mode, len(w.Settlements),
		buyer, rec.Epoch, w.Fill, w.Refund, w.CashValue)

	return w, nil
}
