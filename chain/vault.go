package chain

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/optionvault/vendue/account"
	"github.com/optionvault/vendue/auction"
	"github.com/optionvault/vendue/fixedpoint"
)

// ErrExpiryUnknown is returned if the maturity of an epoch's option was never
// registered with the simulated vault.
var ErrExpiryUnknown = errors.New("option expiry unknown")

// SimVault is an in-memory stand-in for the vault that grants the auction its
// capacity and receives the premium.
type SimVault struct {
	sync.Mutex

	addr      account.Address
	recipient account.Address

	defaultCapacity fixedpoint.Fixed
	capacities      map[auction.Epoch]fixedpoint.Fixed
	expiries        map[auction.Epoch]time.Time
	expiryOffset    time.Duration
}

// NewSimVault creates a simulated vault with the given address.
func NewSimVault(addr account.Address, cfg *SimConfig) *SimVault {
	return &SimVault{
		addr:            addr,
		recipient:       account.Address(cfg.PremiumRecipient),
		defaultCapacity: cfg.Capacity,
		capacities:      make(map[auction.Epoch]fixedpoint.Fixed),
		expiries:        make(map[auction.Epoch]time.Time),
		expiryOffset:    cfg.ExpiryOffset,
	}
}

// Address returns the vault's address, the only caller allowed to run the
// privileged auction operations.
func (v *SimVault) Address() account.Address {
	return v.addr
}

// SetCapacity overrides the capacity of a single epoch.
func (v *SimVault) SetCapacity(epoch auction.Epoch,
	capacity fixedpoint.Fixed) {

	v.Lock()
	defer v.Unlock()

	v.capacities[epoch] = capacity
}

// AvailableCapacity returns the number of contracts the vault can write in
// the given epoch.
func (v *SimVault) AvailableCapacity(_ context.Context,
	epoch auction.Epoch) (fixedpoint.Fixed, error) {

	v.Lock()
	defer v.Unlock()

	if capacity, ok := v.capacities[epoch]; ok {
		return capacity, nil
	}

	return v.defaultCapacity, nil
}

// PremiumRecipient returns the address swept premiums are paid to.
func (v *SimVault) PremiumRecipient(_ context.Context) (account.Address,
	error) {

	return v.recipient, nil
}

// SetOptionExpiry registers the maturity of an epoch's option.
func (v *SimVault) SetOptionExpiry(epoch auction.Epoch, expiry time.Time) {
	v.Lock()
	defer v.Unlock()

	v.expiries[epoch] = expiry

	log.Debugf("Option of epoch %d matures at %v", epoch, expiry)
}

// ExpireAfter registers the maturity of an epoch's option at the configured
// offset after the given auction end.
func (v *SimVault) ExpireAfter(epoch auction.Epoch, auctionEnd time.Time) {
	v.SetOptionExpiry(epoch, auctionEnd.Add(v.expiryOffset))
}

// OptionExpiry returns the maturity of an epoch's option.
func (v *SimVault) OptionExpiry(_ context.Context,
	epoch auction.Epoch) (time.Time, error) {

	v.Lock()
	defer v.Unlock()

	expiry, ok := v.expiries[epoch]
	if !ok {
		return time.Time{}, fmt.Errorf("%w: epoch %d", ErrExpiryUnknown,
			epoch)
	}

	return expiry, nil
}
