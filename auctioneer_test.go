package vendue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/lightningnetwork/lnd/clock"
	"github.com/optionvault/vendue/account"
	"github.com/optionvault/vendue/auction"
	"github.com/optionvault/vendue/auctiondb"
	"github.com/optionvault/vendue/chain"
	"github.com/optionvault/vendue/fixedpoint"
	"github.com/optionvault/vendue/order"
	"github.com/optionvault/vendue/venue"
	"github.com/stretchr/testify/require"
)

const (
	testVault     account.Address = "vault"
	testEscrow    account.Address = "auction-escrow"
	testRecipient account.Address = "vault-premiums"
	testClaim     account.AssetID = "claim-epoch-1"

	testEpoch auction.Epoch = 1

	buyerA account.Address = "buyer-a"
	buyerB account.Address = "buyer-b"
	buyerC account.Address = "buyer-c"
)

var (
	testStart = time.Unix(1_700_000_000, 0)
	testEnd   = testStart.Add(7 * 24 * time.Hour)

	testMaxPrice = fixedpoint.MustParse("1")
	testMinPrice = fixedpoint.MustParse("0.1")
	testCapacity = fixedpoint.MustParse("1000")
	testStrike   = fixedpoint.MustParse("2500")
)

// failingStore is a Store that can be told to fail the next persist calls.
type failingStore struct {
	*auctiondb.MemStore

	failPersist bool
}

func (s *failingStore) PersistEpoch(ctx context.Context, rec *auction.Record,
	upserts []*order.Order, removals []order.ID) error {

	if s.failPersist {
		return errors.New("store unavailable")
	}

	return s.MemStore.PersistEpoch(ctx, rec, upserts, removals)
}

// testHarness bundles an auctioneer with the simulated collaborators it runs
// against.
type testHarness struct {
	t   require.TestingT
	ctx context.Context

	clock  *clock.TestClock
	store  *failingStore
	ledger *account.Ledger
	vault  *chain.SimVault
	venue  *chain.SimVenue

	// venueOverride replaces venue as the auctioneer's settlement venue
	// if set.
	venueOverride SettlementVenue

	auctioneer *Auctioneer
}

// repricingVenue is a settlement venue that reports its own exercise value
// instead of the one the simulated venue settled at.
type repricingVenue struct {
	*chain.SimVenue

	value fixedpoint.Fixed
}

func (v *repricingVenue) ExerciseValue(_ context.Context,
	_ account.AssetID) (fixedpoint.Fixed, bool, error) {

	return v.value, true, nil
}

// newTestHarness creates and starts an auctioneer with an empty store.
func newTestHarness(t require.TestingT) *testHarness {
	ctx := context.Background()

	simCfg := chain.DefaultSimConfig()
	simCfg.Capacity = testCapacity
	simCfg.PremiumRecipient = string(testRecipient)

	ledger := account.NewLedger()
	h := &testHarness{
		t:      t,
		ctx:    ctx,
		clock:  clock.NewTestClock(testStart.Add(time.Hour)),
		store:  &failingStore{MemStore: auctiondb.NewMemStore()},
		ledger: ledger,
		vault:  chain.NewSimVault(testVault, simCfg),
		venue:  chain.NewSimVenue(ledger),
	}
	require.NoError(t, h.store.Init(ctx))

	h.auctioneer = h.newAuctioneer()
	require.NoError(t, h.auctioneer.Start(ctx))

	return h
}

func (h *testHarness) newAuctioneer() *Auctioneer {
	var settlementVenue SettlementVenue = h.venue
	if h.venueOverride != nil {
		settlementVenue = h.venueOverride
	}

	return NewAuctioneer(AuctioneerConfig{
		Store:        h.store,
		Ledger:       h.ledger,
		Vault:        h.vault,
		Venue:        settlementVenue,
		Clock:        h.clock,
		Escrow:       testEscrow,
		MinOrderSize: fixedpoint.MustParse("0.01"),
	})
}

// restart replaces the auctioneer by a new one restored from the store.
func (h *testHarness) restart() {
	require.NoError(h.t, h.auctioneer.Stop())

	h.auctioneer = h.newAuctioneer()
	require.NoError(h.t, h.auctioneer.Start(h.ctx))
}

func (h *testHarness) stop() {
	require.NoError(h.t, h.auctioneer.Stop())
}

// openAuction initializes the test epoch and sets valid prices.
func (h *testHarness) openAuction() {
	_, err := h.auctioneer.Initialize(
		h.ctx, testVault, testEpoch, testStrike, testClaim, testStart,
		testEnd,
	)
	require.NoError(h.t, err)

	cancelled, err := h.auctioneer.SetAuctionPrices(
		h.ctx, testVault, testEpoch, testMaxPrice, testMinPrice,
	)
	require.NoError(h.t, err)
	require.False(h.t, cancelled)
}

func (h *testHarness) fund(buyer account.Address, amt string) {
	err := h.ledger.Mint(
		account.CollateralAsset, buyer, fixedpoint.MustParse(amt),
	)
	require.NoError(h.t, err)
}

func (h *testHarness) collateral(holder account.Address) fixedpoint.Fixed {
	return h.ledger.Balance(account.CollateralAsset, holder)
}

func (h *testHarness) limit(buyer account.Address, price,
	size string) *order.Order {

	o, err := h.auctioneer.AddLimitOrder(
		h.ctx, testEpoch, buyer, fixedpoint.MustParse(price),
		fixedpoint.MustParse(size),
	)
	require.NoError(h.t, err)

	return o
}

func (h *testHarness) market(buyer account.Address,
	size fixedpoint.Fixed) *order.Order {

	o, err := h.auctioneer.AddMarketOrder(h.ctx, testEpoch, buyer, size)
	require.NoError(h.t, err)

	return o
}

// settle finalizes the test epoch, sweeps the premium, delivers the sold
// claims and processes the auction.
func (h *testHarness) settle() {
	h.clock.SetTime(testEnd)

	_, err := h.auctioneer.FinalizeAuction(h.ctx, testEpoch)
	require.NoError(h.t, err)

	_, err = h.auctioneer.TransferPremium(h.ctx, testEpoch)
	require.NoError(h.t, err)

	sold, err := h.auctioneer.TotalContractsSold(testEpoch)
	require.NoError(h.t, err)
	require.NoError(h.t, h.ledger.Mint(testClaim, testEscrow, sold))

	h.vault.ExpireAfter(testEpoch, testEnd)
	require.NoError(h.t, h.auctioneer.ProcessAuction(
		h.ctx, testVault, testEpoch,
	))
}

// assertWithinUnit asserts that a and b differ by at most one base unit.
func assertWithinUnit(t require.TestingT, a, b fixedpoint.Fixed) {
	diff := a - b
	if diff < 0 {
		diff = -diff
	}
	require.LessOrEqual(t, int64(diff), int64(1), "%v != %v", a, b)
}

// TestLimitOrderCostAndCancel makes sure a limit order prepays exactly its
// cost and a cancellation refunds it in full.
func TestLimitOrderCostAndCancel(t *testing.T) {
	t.Parallel()

	h := newTestHarness(t)
	defer h.stop()

	h.openAuction()
	h.fund(buyerA, "100")

	o := h.limit(buyerA, "0.1", "300")
	require.Equal(t, order.ID(1), o.ID)
	require.Equal(t, fixedpoint.MustParse("30"), o.Cost)
	require.Equal(t, fixedpoint.MustParse("70"), h.collateral(buyerA))
	require.Equal(t, fixedpoint.MustParse("30"), h.collateral(testEscrow))

	stored, err := h.auctioneer.Order(testEpoch, o.ID)
	require.NoError(t, err)
	require.Equal(t, o, stored)

	_, err = h.auctioneer.CancelLimitOrder(h.ctx, testEpoch, buyerA, o.ID)
	require.NoError(t, err)
	require.Equal(t, fixedpoint.MustParse("100"), h.collateral(buyerA))
	require.True(t, h.collateral(testEscrow).IsZero())

	gone, err := h.auctioneer.Order(testEpoch, o.ID)
	require.ErrorIs(t, err, order.ErrOrderNotFound)
	require.True(t, gone.Price.IsZero())
	require.True(t, gone.Size.IsZero())
	require.True(t, gone.Buyer.IsZero())

	// IDs are never handed out twice.
	o2 := h.limit(buyerA, "0.2", "10")
	require.Equal(t, order.ID(2), o2.ID)
}

// TestMarketOrdersUtilization sells the full capacity to three market orders
// submitted at falling curve prices.
func TestMarketOrdersUtilization(t *testing.T) {
	t.Parallel()

	h := newTestHarness(t)
	defer h.stop()

	h.openAuction()

	third, err := fixedpoint.MulDivFloor(testCapacity, 1, 3)
	require.NoError(t, err)
	size, err := third.Add(fixedpoint.One)
	require.NoError(t, err)

	buyers := []account.Address{buyerA, buyerB, buyerC}
	orders := make([]*order.Order, 0, len(buyers))
	for i, buyer := range buyers {
		h.fund(buyer, "1000")
		h.clock.SetTime(testStart.Add(time.Duration(i+1) * time.Hour))
		orders = append(orders, h.market(buyer, size))
	}

	// The first market order took the capacity snapshot.
	capacity, err := h.auctioneer.TotalContracts(testEpoch)
	require.NoError(t, err)
	require.Equal(t, testCapacity, capacity)

	require.Greater(t, int64(orders[0].Price), int64(orders[1].Price))
	require.Greater(t, int64(orders[1].Price), int64(orders[2].Price))

	utilized, err := h.auctioneer.ProcessOrders(h.ctx, testEpoch)
	require.NoError(t, err)
	require.True(t, utilized)

	clearing, err := h.auctioneer.ClearingPrice(testEpoch)
	require.NoError(t, err)
	require.Equal(t, orders[2].Price, clearing)

	// Sold out, so the auction finalizes before its window ends.
	finalized, err := h.auctioneer.FinalizeAuction(h.ctx, testEpoch)
	require.NoError(t, err)
	require.True(t, finalized)

	premium, err := h.auctioneer.TransferPremium(h.ctx, testEpoch)
	require.NoError(t, err)
	expectedPremium, err := fixedpoint.MulFloor(clearing, testCapacity)
	require.NoError(t, err)
	require.Equal(t, expectedPremium, premium)
	require.Equal(t, premium, h.collateral(testRecipient))

	require.NoError(t, h.ledger.Mint(testClaim, testEscrow, testCapacity))
	h.vault.ExpireAfter(testEpoch, testEnd)
	require.NoError(t, h.auctioneer.ProcessAuction(
		h.ctx, testVault, testEpoch,
	))

	var totalFill fixedpoint.Fixed
	for i, buyer := range buyers {
		w, err := h.auctioneer.Withdraw(h.ctx, testEpoch, buyer)
		require.NoError(t, err)
		require.Equal(t, venue.ModePhysical, w.Mode)

		o := orders[i]
		charged, err := fixedpoint.MulFloor(clearing, w.Fill)
		require.NoError(t, err)
		paidMinusCharged, err := o.Cost.Sub(charged)
		require.NoError(t, err)
		assertWithinUnit(t, paidMinusCharged, w.Refund)

		require.Equal(t, w.Fill, h.ledger.Balance(testClaim, buyer))

		totalFill, err = totalFill.Add(w.Fill)
		require.NoError(t, err)
	}
	require.Equal(t, testCapacity, totalFill)

	// The escrow keeps only rounding dust and never goes short.
	require.True(t, h.ledger.Balance(testClaim, testEscrow).IsZero())
	require.GreaterOrEqual(t, int64(h.collateral(testEscrow)), int64(0))
	require.LessOrEqual(t, int64(h.collateral(testEscrow)), int64(3))
}

// TestPartialFillAndExclusion checks the fills of a book whose marginal order
// is only partially included.
func TestPartialFillAndExclusion(t *testing.T) {
	t.Parallel()

	h := newTestHarness(t)
	defer h.stop()

	h.openAuction()
	h.vault.SetCapacity(testEpoch, fixedpoint.MustParse("100"))
	for _, buyer := range []account.Address{buyerA, buyerB, buyerC} {
		h.fund(buyer, "1000")
	}

	// The market order snapshots the capacity of 100 contracts.
	m := h.market(buyerA, fixedpoint.MustParse("60"))
	high := h.limit(buyerB, "0.5", "30")
	marginal := h.limit(buyerC, "0.3", "50")
	low := h.limit(buyerB, "0.2", "10")

	utilized, err := h.auctioneer.ProcessOrders(h.ctx, testEpoch)
	require.NoError(t, err)
	require.True(t, utilized)

	h.settle()

	settlements, err := h.auctioneer.Settlements(testEpoch)
	require.NoError(t, err)

	fills := make(map[order.ID]fixedpoint.Fixed)
	for _, s := range settlements {
		fills[s.Order.ID] = s.Fill
	}
	require.Equal(t, fixedpoint.MustParse("60"), fills[m.ID])
	require.Equal(t, fixedpoint.MustParse("30"), fills[high.ID])
	require.Equal(t, fixedpoint.MustParse("10"), fills[marginal.ID])
	require.True(t, fills[low.ID].IsZero())

	rec, err := h.auctioneer.Auction(testEpoch)
	require.NoError(t, err)
	require.Equal(t, fixedpoint.MustParse("0.3"), rec.ClearingPrice)
	require.Equal(t, uint64(marginal.ID), rec.BoundaryOrder)

	// The unfilled order can still be cancelled after settlement, the
	// filled ones must be withdrawn.
	_, err = h.auctioneer.CancelLimitOrder(h.ctx, testEpoch, buyerC,
		marginal.ID)
	require.ErrorIs(t, err, order.ErrOrderMatched)

	_, err = h.auctioneer.CancelLimitOrder(h.ctx, testEpoch, buyerB, low.ID)
	require.NoError(t, err)

	// Removing the boundary order's neighbours doesn't change the fills
	// of the remaining orders.
	w, err := h.auctioneer.Withdraw(h.ctx, testEpoch, buyerC)
	require.NoError(t, err)
	require.Equal(t, fixedpoint.MustParse("10"), w.Fill)
	require.Equal(t, fixedpoint.MustParse("12"), w.Refund)

	w, err = h.auctioneer.Withdraw(h.ctx, testEpoch, buyerB)
	require.NoError(t, err)
	require.Equal(t, fixedpoint.MustParse("30"), w.Fill)
	require.Equal(t, fixedpoint.MustParse("6"), w.Refund)
}

// TestCancelledAuction makes sure invalid prices cancel the auction and every
// order is refunded in full without fills.
func TestCancelledAuction(t *testing.T) {
	t.Parallel()

	h := newTestHarness(t)
	defer h.stop()

	h.openAuction()
	h.fund(buyerA, "500")
	h.fund(buyerB, "500")

	h.market(buyerA, fixedpoint.MustParse("200"))
	h.limit(buyerB, "0.9", "300")
	h.limit(buyerA, "0.5", "100")

	cancelled, err := h.auctioneer.SetAuctionPrices(
		h.ctx, testVault, testEpoch, testMinPrice, testMaxPrice,
	)
	require.NoError(t, err)
	require.True(t, cancelled)

	rec, err := h.auctioneer.Auction(testEpoch)
	require.NoError(t, err)
	require.Equal(t, auction.StatusCancelled, rec.Status)
	require.Equal(t, fixedpoint.Max, rec.ClearingPrice)

	// A cancelled auction is neither finalized nor processed.
	finalized, err := h.auctioneer.FinalizeAuction(h.ctx, testEpoch)
	require.NoError(t, err)
	require.False(t, finalized)

	utilized, err := h.auctioneer.ProcessOrders(h.ctx, testEpoch)
	require.NoError(t, err)
	require.False(t, utilized)

	_, err = h.auctioneer.TransferPremium(h.ctx, testEpoch)
	require.ErrorIs(t, err, auction.ErrNotFinalized)

	err = h.auctioneer.ProcessAuction(h.ctx, testVault, testEpoch)
	require.ErrorIs(t, err, auction.ErrNotFinalized)

	_, err = h.auctioneer.AddLimitOrder(
		h.ctx, testEpoch, buyerA, testMaxPrice, fixedpoint.One,
	)
	require.ErrorIs(t, err, auction.ErrAuctionClosed)

	for _, buyer := range []account.Address{buyerA, buyerB} {
		w, err := h.auctioneer.Withdraw(h.ctx, testEpoch, buyer)
		require.NoError(t, err)
		require.True(t, w.Fill.IsZero())
		require.True(t, w.ClaimUnits.IsZero())
		require.Equal(t, fixedpoint.MustParse("500"), h.collateral(buyer))
	}
	require.True(t, h.collateral(testEscrow).IsZero())

	status, err := h.auctioneer.Status(testEpoch)
	require.NoError(t, err)
	require.Equal(t, auction.StatusCancelled, status)
}

// TestVaultAuthorization makes sure only the vault can run the privileged
// operations and the window and double initialization are validated.
func TestVaultAuthorization(t *testing.T) {
	t.Parallel()

	h := newTestHarness(t)
	defer h.stop()

	_, err := h.auctioneer.Initialize(
		h.ctx, buyerA, testEpoch, testStrike, testClaim, testStart,
		testEnd,
	)
	require.ErrorIs(t, err, ErrNotVault)

	_, err = h.auctioneer.Initialize(
		h.ctx, testVault, testEpoch, testStrike, testClaim, testEnd,
		testStart,
	)
	require.ErrorIs(t, err, auction.ErrInvalidWindow)

	_, err = h.auctioneer.Initialize(
		h.ctx, testVault, testEpoch, testStrike,
		account.CollateralAsset, testStart, testEnd,
	)
	require.ErrorIs(t, err, ErrInvalidClaimID)

	h.openAuction()

	_, err = h.auctioneer.Initialize(
		h.ctx, testVault, testEpoch, testStrike, testClaim, testStart,
		testEnd,
	)
	require.ErrorIs(t, err, auction.ErrAlreadyInitialized)

	_, err = h.auctioneer.SetAuctionPrices(
		h.ctx, buyerA, testEpoch, testMaxPrice, testMinPrice,
	)
	require.ErrorIs(t, err, ErrNotVault)

	_, err = h.auctioneer.SetAuctionPrices(
		h.ctx, testVault, 7, testMaxPrice, testMinPrice,
	)
	require.ErrorIs(t, err, ErrUnknownEpoch)

	err = h.auctioneer.ProcessAuction(h.ctx, buyerA, testEpoch)
	require.ErrorIs(t, err, ErrNotVault)

	require.Equal(t, []auction.Epoch{testEpoch}, h.auctioneer.Epochs())
}

// TestOrderValidation checks the rejection of invalid orders.
func TestOrderValidation(t *testing.T) {
	t.Parallel()

	h := newTestHarness(t)
	defer h.stop()

	_, err := h.auctioneer.Initialize(
		h.ctx, testVault, testEpoch, testStrike, testClaim, testStart,
		testEnd,
	)
	require.NoError(t, err)
	h.fund(buyerA, "100")

	// No prices yet.
	_, err = h.auctioneer.AddMarketOrder(
		h.ctx, testEpoch, buyerA, fixedpoint.One,
	)
	require.ErrorIs(t, err, auction.ErrAuctionClosed)

	_, err = h.auctioneer.SetAuctionPrices(
		h.ctx, testVault, testEpoch, testMaxPrice, testMinPrice,
	)
	require.NoError(t, err)

	testCases := []struct {
		name   string
		epoch  auction.Epoch
		price  string
		size   string
		now    time.Time
		expErr error
	}{{
		name:   "unknown epoch",
		epoch:  9,
		price:  "0.5",
		size:   "1",
		now:    testStart,
		expErr: ErrUnknownEpoch,
	}, {
		name:   "below minimum size",
		epoch:  testEpoch,
		price:  "0.5",
		size:   "0.001",
		now:    testStart,
		expErr: order.ErrOrderTooSmall,
	}, {
		name:   "zero price",
		epoch:  testEpoch,
		price:  "0",
		size:   "1",
		now:    testStart,
		expErr: order.ErrInvalidPrice,
	}, {
		name:   "negative price",
		epoch:  testEpoch,
		price:  "-0.5",
		size:   "1",
		now:    testStart,
		expErr: order.ErrInvalidPrice,
	}, {
		name:   "before window",
		epoch:  testEpoch,
		price:  "0.5",
		size:   "1",
		now:    testStart.Add(-time.Second),
		expErr: auction.ErrAuctionClosed,
	}, {
		name:   "at window end",
		epoch:  testEpoch,
		price:  "0.5",
		size:   "1",
		now:    testEnd,
		expErr: auction.ErrAuctionClosed,
	}, {
		name:  "at window start",
		epoch: testEpoch,
		price: "0.5",
		size:  "1",
		now:   testStart,
	}}

	for _, tc := range testCases {
		h.clock.SetTime(tc.now)

		_, err := h.auctioneer.AddLimitOrder(
			h.ctx, tc.epoch, buyerA, fixedpoint.MustParse(tc.price),
			fixedpoint.MustParse(tc.size),
		)
		if tc.expErr == nil {
			require.NoError(t, err, tc.name)
			continue
		}
		require.ErrorIs(t, err, tc.expErr, tc.name)
	}

	orders, err := h.auctioneer.Orders(testEpoch)
	require.NoError(t, err)
	require.Len(t, orders, 1)
}

// TestCancelChecks covers the error cases of a cancellation.
func TestCancelChecks(t *testing.T) {
	t.Parallel()

	h := newTestHarness(t)
	defer h.stop()

	h.openAuction()
	h.fund(buyerA, "100")
	o := h.limit(buyerA, "0.5", "10")

	_, err := h.auctioneer.CancelLimitOrder(h.ctx, testEpoch, buyerA, 0)
	require.ErrorIs(t, err, order.ErrInvalidOrderID)

	_, err = h.auctioneer.CancelLimitOrder(h.ctx, testEpoch, buyerA, 42)
	require.ErrorIs(t, err, order.ErrOrderNotFound)

	_, err = h.auctioneer.CancelLimitOrder(h.ctx, testEpoch, buyerB, o.ID)
	require.ErrorIs(t, err, order.ErrNotOrderOwner)

	_, err = h.auctioneer.CancelLimitOrder(h.ctx, testEpoch, buyerA, o.ID)
	require.NoError(t, err)

	_, err = h.auctioneer.CancelLimitOrder(h.ctx, testEpoch, buyerA, o.ID)
	require.ErrorIs(t, err, order.ErrOrderNotFound)
}

// TestFinalizeOnTimeout makes sure an auction that doesn't sell out is only
// finalized once its window elapsed.
func TestFinalizeOnTimeout(t *testing.T) {
	t.Parallel()

	h := newTestHarness(t)
	defer h.stop()

	h.openAuction()
	h.fund(buyerA, "1000")
	m := h.market(buyerA, fixedpoint.MustParse("100"))

	finalized, err := h.auctioneer.FinalizeAuction(h.ctx, testEpoch)
	require.NoError(t, err)
	require.False(t, finalized)

	rec, err := h.auctioneer.Auction(testEpoch)
	require.NoError(t, err)
	require.Equal(t, auction.StatusInitialized, rec.Status)
	require.Equal(t, fixedpoint.MustParse("100"), rec.TotalContractsSold)

	h.clock.SetTime(testEnd)
	finalized, err = h.auctioneer.FinalizeAuction(h.ctx, testEpoch)
	require.NoError(t, err)
	require.True(t, finalized)

	// A second call is a no-op.
	finalized, err = h.auctioneer.FinalizeAuction(h.ctx, testEpoch)
	require.NoError(t, err)
	require.False(t, finalized)

	rec, err = h.auctioneer.Auction(testEpoch)
	require.NoError(t, err)
	require.Equal(t, auction.StatusFinalized, rec.Status)
	require.Equal(t, m.Price, rec.ClearingPrice)
	require.False(t, rec.Utilized())

	// Matching results are frozen once finalized.
	utilized, err := h.auctioneer.ProcessOrders(h.ctx, testEpoch)
	require.NoError(t, err)
	require.False(t, utilized)
}

// TestProcessAuctionGates checks the preconditions of sweeping the premium
// and processing the auction.
func TestProcessAuctionGates(t *testing.T) {
	t.Parallel()

	h := newTestHarness(t)
	defer h.stop()

	h.openAuction()
	h.fund(buyerA, "1000")
	h.market(buyerA, fixedpoint.MustParse("100"))

	_, err := h.auctioneer.TransferPremium(h.ctx, testEpoch)
	require.ErrorIs(t, err, auction.ErrNotFinalized)

	_, err = h.auctioneer.Withdraw(h.ctx, testEpoch, buyerA)
	require.ErrorIs(t, err, auction.ErrNotSettled)

	h.clock.SetTime(testEnd)
	_, err = h.auctioneer.FinalizeAuction(h.ctx, testEpoch)
	require.NoError(t, err)

	err = h.auctioneer.ProcessAuction(h.ctx, testVault, testEpoch)
	require.ErrorIs(t, err, auction.ErrPremiumsNotTransferred)

	_, err = h.auctioneer.TransferPremium(h.ctx, testEpoch)
	require.NoError(t, err)
	_, err = h.auctioneer.TransferPremium(h.ctx, testEpoch)
	require.ErrorIs(t, err, auction.ErrAlreadyTransferred)

	err = h.auctioneer.ProcessAuction(h.ctx, testVault, testEpoch)
	require.ErrorIs(t, err, auction.ErrClaimsNotDelivered)

	// Withdrawals still wait for the processing.
	_, err = h.auctioneer.Withdraw(h.ctx, testEpoch, buyerA)
	require.ErrorIs(t, err, auction.ErrNotSettled)

	require.NoError(t, h.ledger.Mint(
		testClaim, testEscrow, fixedpoint.MustParse("100"),
	))
	require.NoError(t, h.auctioneer.ProcessAuction(
		h.ctx, testVault, testEpoch,
	))

	status, err := h.auctioneer.Status(testEpoch)
	require.NoError(t, err)
	require.Equal(t, auction.StatusProcessed, status)
}

// TestWithdrawPreviewAndRepeat makes sure previews don't change any state and
// a second withdrawal pays nothing.
func TestWithdrawPreviewAndRepeat(t *testing.T) {
	t.Parallel()

	h := newTestHarness(t)
	defer h.stop()

	h.openAuction()
	h.fund(buyerA, "1000")
	h.market(buyerA, fixedpoint.MustParse("100"))
	h.limit(buyerA, "0.05", "10")
	h.settle()

	before := h.collateral(buyerA)
	preview, err := h.auctioneer.PreviewWithdraw(h.ctx, testEpoch, buyerA)
	require.NoError(t, err)
	again, err := h.auctioneer.PreviewWithdraw(h.ctx, testEpoch, buyerA)
	require.NoError(t, err)
	require.Equal(t, preview, again)
	require.Equal(t, before, h.collateral(buyerA))

	orders, err := h.auctioneer.OrdersOf(testEpoch, buyerA)
	require.NoError(t, err)
	require.Len(t, orders, 2)

	w, err := h.auctioneer.Withdraw(h.ctx, testEpoch, buyerA)
	require.NoError(t, err)
	require.Equal(t, preview.Fill, w.Fill)
	require.Equal(t, preview.Refund, w.Refund)
	require.Equal(t, preview.Transfers, w.Transfers)

	refunded, err := before.Add(w.Refund)
	require.NoError(t, err)
	require.Equal(t, refunded, h.collateral(buyerA))
	require.Equal(t, fixedpoint.MustParse("110"),
		h.ledger.Balance(testClaim, buyerA))

	w, err = h.auctioneer.Withdraw(h.ctx, testEpoch, buyerA)
	require.NoError(t, err)
	require.True(t, w.IsEmpty())
	require.True(t, w.Fill.IsZero())
	require.True(t, w.Refund.IsZero())

	orders, err = h.auctioneer.OrdersOf(testEpoch, buyerA)
	require.NoError(t, err)
	require.Empty(t, orders)
}

// TestWithdrawAfterMaturity makes sure fills are paid in cash once the option
// matured.
func TestWithdrawAfterMaturity(t *testing.T) {
	t.Parallel()

	h := newTestHarness(t)
	defer h.stop()

	h.openAuction()
	h.fund(buyerA, "1000")
	h.fund(buyerB, "1000")
	h.market(buyerA, fixedpoint.MustParse("100"))
	h.market(buyerB, fixedpoint.MustParse("50"))
	h.settle()

	require.NoError(t, h.venue.SetExerciseValue(
		testClaim, fixedpoint.MustParse("0.5"),
	))
	h.clock.SetTime(testEnd.Add(8 * 24 * time.Hour))

	w, err := h.auctioneer.Withdraw(h.ctx, testEpoch, buyerA)
	require.NoError(t, err)
	require.Equal(t, venue.ModeCash, w.Mode)
	require.True(t, w.ClaimUnits.IsZero())
	require.Equal(t, fixedpoint.MustParse("50"), w.CashValue)
	require.True(t, h.ledger.Balance(testClaim, buyerA).IsZero())

	// All claims of the escrow were settled by the first withdrawal.
	require.True(t, h.ledger.Balance(testClaim, testEscrow).IsZero())

	rec, err := h.auctioneer.Auction(testEpoch)
	require.NoError(t, err)
	require.True(t, rec.CashSettled)
	require.Equal(t, fixedpoint.MustParse("0.5"), rec.ExerciseValue)

	w, err = h.auctioneer.Withdraw(h.ctx, testEpoch, buyerB)
	require.NoError(t, err)
	require.Equal(t, fixedpoint.MustParse("25"), w.CashValue)
	require.GreaterOrEqual(t, int64(h.collateral(testEscrow)), int64(0))
}

// TestWithdrawBeforeExerciseValue makes sure fills can't be withdrawn after
// maturity until the venue published the exercise value, and that all later
// withdrawals are paid at the value the escrow was settled at.
func TestWithdrawBeforeExerciseValue(t *testing.T) {
	t.Parallel()

	h := newTestHarness(t)
	defer h.stop()

	h.openAuction()
	h.vault.SetCapacity(testEpoch, fixedpoint.MustParse("100"))
	h.fund(buyerA, "1000")
	h.fund(buyerB, "1000")
	h.market(buyerA, fixedpoint.MustParse("50"))
	h.limit(buyerB, "0.9", "50")
	h.settle()

	h.clock.SetTime(testEnd.Add(8 * 24 * time.Hour))

	// Without a published value nothing is settled and the orders stay.
	_, err := h.auctioneer.Withdraw(h.ctx, testEpoch, buyerA)
	require.ErrorIs(t, err, auction.ErrExerciseValueUnknown)
	require.Equal(t, "exercise_value_unknown", ErrorCode(err))

	_, err = h.auctioneer.PreviewWithdraw(h.ctx, testEpoch, buyerA)
	require.ErrorIs(t, err, auction.ErrExerciseValueUnknown)

	require.Equal(
		t, fixedpoint.MustParse("100"),
		h.ledger.Balance(testClaim, testEscrow),
	)
	orders, err := h.auctioneer.OrdersOf(testEpoch, buyerA)
	require.NoError(t, err)
	require.Len(t, orders, 1)

	rec, err := h.auctioneer.Auction(testEpoch)
	require.NoError(t, err)
	require.False(t, rec.CashSettled)

	require.NoError(t, h.venue.SetExerciseValue(
		testClaim, fixedpoint.MustParse("1"),
	))

	w, err := h.auctioneer.Withdraw(h.ctx, testEpoch, buyerA)
	require.NoError(t, err)
	require.Equal(t, venue.ModeCash, w.Mode)
	require.Equal(t, fixedpoint.MustParse("50"), w.Fill)
	require.Equal(t, fixedpoint.MustParse("50"), w.CashValue)
	require.True(t, h.ledger.Balance(testClaim, testEscrow).IsZero())

	// Even if the venue reports another value later on, the remaining
	// buyers are paid at the value the escrow was settled at, also after
	// a restart.
	h.venueOverride = &repricingVenue{
		SimVenue: h.venue,
		value:    fixedpoint.MustParse("3"),
	}
	h.restart()

	rec, err = h.auctioneer.Auction(testEpoch)
	require.NoError(t, err)
	require.True(t, rec.CashSettled)
	require.Equal(t, fixedpoint.MustParse("1"), rec.ExerciseValue)

	w, err = h.auctioneer.Withdraw(h.ctx, testEpoch, buyerB)
	require.NoError(t, err)
	require.Equal(t, fixedpoint.MustParse("1"), w.ExerciseValue)
	require.Equal(t, fixedpoint.MustParse("50"), w.CashValue)
	require.GreaterOrEqual(t, int64(h.collateral(testEscrow)), int64(0))
}

// TestWithdrawAcrossMaturity makes sure buyers withdrawing before and after
// maturity are all paid, and the escrow's collateral covers every cash
// payout.
func TestWithdrawAcrossMaturity(t *testing.T) {
	t.Parallel()

	h := newTestHarness(t)
	defer h.stop()

	h.openAuction()
	for _, buyer := range []account.Address{buyerA, buyerB, buyerC} {
		h.fund(buyer, "1000")
	}
	h.market(buyerA, fixedpoint.MustParse("100"))
	h.market(buyerB, fixedpoint.MustParse("50"))
	h.limit(buyerC, "0.5", "50")
	h.settle()

	rec, err := h.auctioneer.Auction(testEpoch)
	require.NoError(t, err)
	require.Equal(t, fixedpoint.MustParse("200"), rec.TotalContractsSold)
	require.Equal(t, fixedpoint.MustParse("0.5"), rec.ClearingPrice)

	// Before maturity the claims are delivered.
	w, err := h.auctioneer.Withdraw(h.ctx, testEpoch, buyerA)
	require.NoError(t, err)
	require.Equal(t, venue.ModePhysical, w.Mode)
	require.Equal(t, fixedpoint.MustParse("100"), w.ClaimUnits)
	require.Equal(
		t, fixedpoint.MustParse("100"), h.ledger.Balance(testClaim, buyerA),
	)
	require.Equal(
		t, fixedpoint.MustParse("100"),
		h.ledger.Balance(testClaim, testEscrow),
	)

	require.NoError(t, h.venue.SetExerciseValue(
		testClaim, fixedpoint.MustParse("0.4"),
	))
	h.clock.SetTime(testEnd.Add(8 * 24 * time.Hour))

	// After maturity the remaining claims of the escrow are settled once
	// and both remaining buyers are paid in cash.
	beforeB := h.collateral(buyerB)
	w, err = h.auctioneer.Withdraw(h.ctx, testEpoch, buyerB)
	require.NoError(t, err)
	require.Equal(t, venue.ModeCash, w.Mode)
	require.Equal(t, fixedpoint.MustParse("50"), w.Fill)
	require.Equal(t, fixedpoint.MustParse("20"), w.CashValue)
	require.True(t, w.ClaimUnits.IsZero())
	require.Equal(t, beforeB+w.Collateral, h.collateral(buyerB))
	require.True(t, h.ledger.Balance(testClaim, testEscrow).IsZero())
	require.GreaterOrEqual(t, int64(h.collateral(testEscrow)), int64(0))

	beforeC := h.collateral(buyerC)
	w, err = h.auctioneer.Withdraw(h.ctx, testEpoch, buyerC)
	require.NoError(t, err)
	require.Equal(t, fixedpoint.MustParse("20"), w.CashValue)
	require.True(t, w.Refund.IsZero())
	require.Equal(t, beforeC+w.Collateral, h.collateral(buyerC))
	require.GreaterOrEqual(t, int64(h.collateral(testEscrow)), int64(0))

	// The buyer that took delivery keeps their claims.
	require.Equal(
		t, fixedpoint.MustParse("100"), h.ledger.Balance(testClaim, buyerA),
	)

	orders, err := h.auctioneer.Orders(testEpoch)
	require.NoError(t, err)
	require.Empty(t, orders)
}

// TestStoppedAuctioneerRejectsChanges makes sure no state change is accepted
// once the auctioneer was told to stop.
func TestStoppedAuctioneerRejectsChanges(t *testing.T) {
	t.Parallel()

	h := newTestHarness(t)
	h.openAuction()
	h.fund(buyerA, "1000")
	h.stop()

	_, err := h.auctioneer.AddLimitOrder(
		h.ctx, testEpoch, buyerA, fixedpoint.MustParse("0.5"),
		fixedpoint.MustParse("10"),
	)
	require.ErrorIs(t, err, ErrServerShuttingDown)
	require.Equal(t, "shutting_down", ErrorCode(err))

	// Nothing was charged and the book is unchanged.
	require.Equal(t, fixedpoint.MustParse("1000"), h.collateral(buyerA))
	orders, err := h.auctioneer.Orders(testEpoch)
	require.NoError(t, err)
	require.Empty(t, orders)
}

// TestTransferFailureRollsBack makes sure an order whose cost can't be paid
// leaves no trace, neither in memory nor in the store.
func TestTransferFailureRollsBack(t *testing.T) {
	t.Parallel()

	h := newTestHarness(t)
	defer h.stop()

	h.openAuction()
	h.fund(buyerA, "1")

	// The first market order would take the capacity snapshot.
	_, err := h.auctioneer.AddMarketOrder(
		h.ctx, testEpoch, buyerA, fixedpoint.MustParse("10"),
	)
	require.ErrorIs(t, err, account.ErrInsufficientBalance)

	rec, err := h.auctioneer.Auction(testEpoch)
	require.NoError(t, err)
	require.True(t, rec.TotalContracts.IsZero())
	require.Zero(t, rec.LastOrderID)

	orders, err := h.auctioneer.Orders(testEpoch)
	require.NoError(t, err)
	require.Empty(t, orders)

	stored, err := h.store.Orders(h.ctx, testEpoch)
	require.NoError(t, err)
	require.Empty(t, stored)

	records, err := h.store.Auctions(h.ctx)
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Equal(t, rec, records[0])

	// A failing store leaves the memory state untouched as well.
	h.store.failPersist = true
	_, err = h.auctioneer.AddLimitOrder(
		h.ctx, testEpoch, buyerA, testMinPrice, fixedpoint.One,
	)
	require.Error(t, err)
	require.Equal(t, fixedpoint.MustParse("1"), h.collateral(buyerA))
	h.store.failPersist = false

	o := h.limit(buyerA, "0.1", "1")
	require.Equal(t, order.ID(1), o.ID)
}

// TestRestoreFromStore makes sure a restarted auctioneer continues where the
// previous one stopped.
func TestRestoreFromStore(t *testing.T) {
	t.Parallel()

	h := newTestHarness(t)
	defer h.stop()

	h.openAuction()
	h.fund(buyerA, "1000")
	h.market(buyerA, fixedpoint.MustParse("10"))
	second := h.limit(buyerA, "0.4", "20")
	h.limit(buyerA, "0.3", "20")

	_, err := h.auctioneer.CancelLimitOrder(
		h.ctx, testEpoch, buyerA, second.ID,
	)
	require.NoError(t, err)

	rec, err := h.auctioneer.Auction(testEpoch)
	require.NoError(t, err)
	orders, err := h.auctioneer.Orders(testEpoch)
	require.NoError(t, err)

	h.restart()

	restoredRec, err := h.auctioneer.Auction(testEpoch)
	require.NoError(t, err)
	require.Equal(t, rec, restoredRec)

	restoredOrders, err := h.auctioneer.Orders(testEpoch)
	require.NoError(t, err)
	require.Equal(t, orders, restoredOrders)

	o := h.limit(buyerA, "0.2", "5")
	require.Equal(t, order.ID(4), o.ID)
}

// TestNotifications makes sure subscribers receive all auction events.
func TestNotifications(t *testing.T) {
	t.Parallel()

	h := newTestHarness(t)
	defer h.stop()

	sub, err := h.auctioneer.Subscribe()
	require.NoError(t, err)
	defer sub.Cancel()

	h.openAuction()
	h.fund(buyerA, "100")
	o := h.limit(buyerA, "0.5", "10")
	_, err = h.auctioneer.CancelLimitOrder(h.ctx, testEpoch, buyerA, o.ID)
	require.NoError(t, err)

	expected := []AuctionEvent{
		&StatusChangedEvent{
			Epoch:  testEpoch,
			Status: auction.StatusInitialized,
		},
		&OrderAddedEvent{
			Epoch:  testEpoch,
			ID:     o.ID,
			Buyer:  buyerA,
			Price:  o.Price,
			Size:   o.Size,
			Origin: order.OriginLimit,
		},
		&OrderRemovedEvent{
			Epoch: testEpoch,
			ID:    o.ID,
			Buyer: buyerA,
		},
	}
	for _, exp := range expected {
		select {
		case update := <-sub.Updates():
			require.Equal(t, exp, update)

		case <-time.After(5 * time.Second):
			t.Fatalf("no %v event received", exp.Type())
		}
	}
}
