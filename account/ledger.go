package account

import (
	"context"
	"fmt"
	"sync"

	"github.com/optionvault/vendue/fixedpoint"
)

// holding is the key of a single balance entry.
type holding struct {
	asset  AssetID
	holder Address
}

// Ledger is an in-memory multi-asset balance sheet. It stands in for the host
// ledger's token contracts: the collateral asset and the per-epoch position
// claims. A batch of transfers is applied atomically, either every transfer
// in the batch succeeds or no balance changes.
type Ledger struct {
	balances map[holding]fixedpoint.Fixed

	sync.RWMutex
}

// NewLedger returns an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{
		balances: make(map[holding]fixedpoint.Fixed),
	}
}

// Mint credits the holder with a fresh amount of the asset.
func (l *Ledger) Mint(asset AssetID, to Address,
	amt fixedpoint.Fixed) error {

	if to.IsZero() || amt < 0 {
		return ErrInvalidTransfer
	}

	l.Lock()
	defer l.Unlock()

	key := holding{asset: asset, holder: to}
	newBalance, err := l.balances[key].Add(amt)
	if err != nil {
		return err
	}
	l.balances[key] = newBalance

	log.Debugf("Minted %v of %v to %v", amt, asset, to)

	return nil
}

// Burn debits the holder's entire balance of the asset and returns the amount
// that was removed.
func (l *Ledger) Burn(asset AssetID, from Address) fixedpoint.Fixed {
	l.Lock()
	defer l.Unlock()

	key := holding{asset: asset, holder: from}
	amt := l.balances[key]
	delete(l.balances, key)

	log.Debugf("Burned %v of %v held by %v", amt, asset, from)

	return amt
}

// Balance returns the holder's balance of the asset.
func (l *Ledger) Balance(asset AssetID, holder Address) fixedpoint.Fixed {
	l.RLock()
	defer l.RUnlock()

	return l.balances[holding{asset: asset, holder: holder}]
}

// ClaimBalance returns the holder's balance of the given asset. It is the
// context-aware variant of Balance used by the auctioneer.
func (l *Ledger) ClaimBalance(_ context.Context, holder Address,
	asset AssetID) (fixedpoint.Fixed, error) {

	return l.Balance(asset, holder), nil
}

// Execute applies all transfers atomically. Zero amount transfers are skipped.
// If any transfer is invalid or would overdraw its sender, an error is
// returned and no balance is modified.
func (l *Ledger) Execute(ctx context.Context, transfers []Transfer) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	l.Lock()
	defer l.Unlock()

	// We stage all new balances first and only write them back once the
	// whole batch has been validated.
	staged := make(map[holding]fixedpoint.Fixed)
	balance := func(key holding) fixedpoint.Fixed {
		if b, ok := staged[key]; ok {
			return b
		}
		return l.balances[key]
	}

	for i, t := range transfers {
		if t.Amount < 0 || t.From.IsZero() || t.To.IsZero() {
			return fmt.Errorf("transfer %d: %w", i,
				ErrInvalidTransfer)
		}
		if t.Amount == 0 {
			continue
		}

		from := holding{asset: t.Asset, holder: t.From}
		to := holding{asset: t.Asset, holder: t.To}

		fromBalance := balance(from)
		if fromBalance < t.Amount {
			return &InsufficientBalanceError{
				Holder:  t.From,
				Asset:   t.Asset,
				Balance: fromBalance,
				Needed:  t.Amount,
			}
		}
		staged[from] = fromBalance - t.Amount

		toBalance, err := balance(to).Add(t.Amount)
		if err != nil {
			return fmt.Errorf("transfer %d: %w", i, err)
		}
		staged[to] = toBalance
	}

	for key, b := range staged {
		if b == 0 {
			delete(l.balances, key)
			continue
		}
		l.balances[key] = b
	}

	log.Tracef("Executed %d transfers", len(transfers))

	return nil
}
