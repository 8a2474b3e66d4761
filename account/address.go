package account

import (
	"github.com/optionvault/vendue/fixedpoint"
)

// Address identifies a holder on the host ledger: a buyer, the vault, the
// vault's premium recipient or the auction escrow itself.
type Address string

// String returns the address as a plain string.
func (a Address) String() string {
	return string(a)
}

// IsZero returns true for the empty address, which never holds any funds.
func (a Address) IsZero() bool {
	return a == ""
}

// AssetID identifies a fungible asset tracked by the ledger. The collateral
// asset has a fixed identifier, every epoch's position claim has its own.
type AssetID string

// CollateralAsset is the identifier of the collateral asset the auction is
// denominated in. Prepayments, refunds, premiums and cash settlements all
// move this asset.
const CollateralAsset AssetID = "collateral"

// IsCollateral returns true if the asset is the collateral asset.
func (a AssetID) IsCollateral() bool {
	return a == CollateralAsset
}

// Transfer describes a single movement of an asset between two holders.
type Transfer struct {
	// Asset is the asset being moved.
	Asset AssetID

	// From is the holder the amount is debited from.
	From Address

	// To is the holder the amount is credited to.
	To Address

	// Amount is the quantity moved. Zero amounts are allowed and skipped.
	Amount fixedpoint.Fixed
}
