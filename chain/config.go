package chain

import (
	"time"

	"github.com/optionvault/vendue/fixedpoint"
)

// SimConfig defines exported config options for the simulated vault and
// settlement venue the daemon runs against when no real host is attached.
type SimConfig struct {
	Capacity         fixedpoint.Fixed `long:"capacity" description:"Contracts the simulated vault makes available per epoch"`
	ExpiryOffset     time.Duration    `long:"expiryoffset" description:"Time between the end of an auction and the maturity of its option"`
	PremiumRecipient string           `long:"premiumrecipient" description:"Address that receives swept premiums"`
	Faucet           bool             `long:"faucet" description:"Allow the admin API to mint collateral and deliver claims"`
}

// DefaultSimConfig returns the default simulation settings.
func DefaultSimConfig() *SimConfig {
	return &SimConfig{
		Capacity:         fixedpoint.MustParse("1000"),
		ExpiryOffset:     7 * 24 * time.Hour,
		PremiumRecipient: "vault-premiums",
	}
}
