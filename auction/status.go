package auction

import "fmt"

// Status is the lifecycle state of an epoch's auction.
//
// The numeric values are this package's own. They are persisted, so new
// states must only ever be appended.
type Status uint8

const (
	// StatusInitialized is the state an auction is created in. Orders can
	// be submitted and cancelled while the window is open.
	//
	// The possible transitions from this state are:
	//     * StatusInitialized -> StatusFinalized (sold out or expired)
	//     * StatusInitialized -> StatusCancelled (invalid prices)
	StatusInitialized Status = 0

	// StatusFinalized is the state after the clearing price has been
	// frozen, either because the capacity was fully utilized or the
	// auction window elapsed.
	//
	// The possible transitions from this state are:
	//     * StatusFinalized -> StatusProcessed
	StatusFinalized Status = 1

	// StatusCancelled is entered if the vault sets prices that cannot form
	// a valid descending curve. Nothing clears and every order is refunded
	// in full. This state is terminal.
	StatusCancelled Status = 2

	// StatusProcessed is the final state of a successful auction. The
	// premium has been swept to the vault and the sold position claims
	// have been delivered to the auction, so buyers can withdraw.
	StatusProcessed Status = 3
)

// String returns the string representation of the target Status.
func (s Status) String() string {
	switch s {
	case StatusInitialized:
		return "Initialized"

	case StatusFinalized:
		return "Finalized"

	case StatusCancelled:
		return "Cancelled"

	case StatusProcessed:
		return "Processed"

	default:
		return fmt.Sprintf("<unknownStatus(%d)>", uint8(s))
	}
}

// Settled returns true once the clearing result of the auction can no longer
// change.
func (s Status) Settled() bool {
	return s != StatusInitialized
}

// Withdrawable returns true if buyers may collect their fills and refunds.
func (s Status) Withdrawable() bool {
	return s == StatusProcessed || s == StatusCancelled
}
