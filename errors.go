package vendue

import (
	"errors"
	"net/http"

	"github.com/optionvault/vendue/account"
	"github.com/optionvault/vendue/auction"
	"github.com/optionvault/vendue/chain"
	"github.com/optionvault/vendue/fixedpoint"
	"github.com/optionvault/vendue/order"
)

var (
	// ErrNotVault is returned if a vault only operation is called by
	// anybody else.
	ErrNotVault = errors.New("caller is not the vault")

	// ErrUnknownEpoch is returned if an operation refers to an epoch that
	// was never initialized.
	ErrUnknownEpoch = errors.New("unknown epoch")

	// ErrInvalidClaimID is returned if an auction is initialized without a
	// usable position claim identifier.
	ErrInvalidClaimID = errors.New("invalid position claim id")

	// ErrServerShuttingDown is returned by the auctioneer if an operation
	// tries to change state after it was told to stop.
	ErrServerShuttingDown = errors.New("auctioneer shutting down")
)

// errorClass is the stable reason code and HTTP status of a group of errors.
type errorClass struct {
	target error
	code   string
	status int
}

// errorClasses maps every known sentinel to its reason code. The first match
// wins, so more specific errors are listed before the ones they may wrap.
var errorClasses = []errorClass{
	// Authorization.
	{ErrNotVault, "not_vault", http.StatusForbidden},
	{order.ErrNotOrderOwner, "not_order_owner", http.StatusForbidden},

	// Validation.
	{order.ErrOrderTooSmall, "order_too_small", http.StatusBadRequest},
	{order.ErrInvalidOrderID, "invalid_order_id", http.StatusBadRequest},
	{order.ErrInvalidPrice, "invalid_price", http.StatusBadRequest},
	{auction.ErrInvalidWindow, "invalid_window", http.StatusBadRequest},
	{ErrInvalidClaimID, "invalid_claim_id", http.StatusBadRequest},
	{account.ErrInvalidTransfer, "invalid_transfer", http.StatusBadRequest},
	{order.ErrOrderNotFound, "order_not_found", http.StatusNotFound},
	{ErrUnknownEpoch, "unknown_epoch", http.StatusNotFound},

	// Lifecycle.
	{
		auction.ErrAlreadyInitialized, "already_initialized",
		http.StatusConflict,
	},
	{
		auction.ErrAlreadyTransferred, "already_transferred",
		http.StatusConflict,
	},
	{
		auction.ErrPremiumsNotTransferred, "premiums_not_transferred",
		http.StatusConflict,
	},
	{
		auction.ErrClaimsNotDelivered, "claims_not_delivered",
		http.StatusConflict,
	},
	{auction.ErrNotFinalized, "not_finalized", http.StatusConflict},
	{auction.ErrAuctionClosed, "auction_closed", http.StatusConflict},
	{auction.ErrNotSettled, "not_settled", http.StatusConflict},
	{
		auction.ErrAlreadyCashSettled, "already_cash_settled",
		http.StatusConflict,
	},
	{
		auction.ErrExerciseValueUnknown, "exercise_value_unknown",
		http.StatusConflict,
	},
	{
		chain.ErrExercisePublished, "exercise_published",
		http.StatusConflict,
	},
	{order.ErrOrderMatched, "order_matched", http.StatusConflict},
	{order.ErrDuplicateOrder, "duplicate_order", http.StatusConflict},
	{
		auction.ErrCapacityAlreadySet, "capacity_already_set",
		http.StatusConflict,
	},

	// Funds and arithmetic.
	{
		account.ErrInsufficientBalance, "insufficient_balance",
		http.StatusUnprocessableEntity,
	},
	{
		fixedpoint.ErrOverflow, "overflow",
		http.StatusUnprocessableEntity,
	},
	{
		fixedpoint.ErrPrecision, "precision",
		http.StatusBadRequest,
	},

	{ErrServerShuttingDown, "shutting_down", http.StatusServiceUnavailable},
}

// ErrorCode returns the stable reason code of the given error, "internal" for
// errors that don't belong to any known class and the empty string for nil.
func ErrorCode(err error) string {
	code, _ := classify(err)
	return code
}

// HTTPStatus returns the HTTP status code an error is reported with.
func HTTPStatus(err error) int {
	_, status := classify(err)
	return status
}

// classify looks up the class of the given error.
func classify(err error) (string, int) {
	if err == nil {
		return "", http.StatusOK
	}

	for _, class := range errorClasses {
		if errors.Is(err, class.target) {
			return class.code, class.status
		}
	}

	return "internal", http.StatusInternalServerError
}
