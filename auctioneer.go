package vendue

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/davecgh/go-spew/spew"
	"github.com/lightningnetwork/lnd/clock"
	"github.com/lightningnetwork/lnd/subscribe"
	"github.com/optionvault/vendue/account"
	"github.com/optionvault/vendue/auction"
	"github.com/optionvault/vendue/auctiondb"
	"github.com/optionvault/vendue/fixedpoint"
	"github.com/optionvault/vendue/order"
	"github.com/optionvault/vendue/venue"
	"github.com/optionvault/vendue/venue/matching"
)

// Ledger is the host ledger the auction escrow holds its funds on.
type Ledger interface {
	// Execute applies a batch of transfers atomically. Either every
	// transfer succeeds or none of them does.
	Execute(ctx context.Context, transfers []account.Transfer) error

	// ClaimBalance returns the amount of the given position claim the
	// holder owns.
	ClaimBalance(ctx context.Context, holder account.Address,
		claimID account.AssetID) (fixedpoint.Fixed, error)
}

// Vault is the covered-option vault the auction sells the options of.
type Vault interface {
	// Address is the identity of the vault. Only the vault may initialize,
	// price and process auctions.
	Address() account.Address

	// AvailableCapacity returns the number of contracts the vault can
	// write in the given epoch.
	AvailableCapacity(ctx context.Context,
		epoch auction.Epoch) (fixedpoint.Fixed, error)

	// PremiumRecipient returns the address premiums are swept to.
	PremiumRecipient(ctx context.Context) (account.Address, error)

	// OptionExpiry returns the maturity of the option sold in the given
	// epoch.
	OptionExpiry(ctx context.Context, epoch auction.Epoch) (time.Time,
		error)
}

// SettlementVenue settles matured options.
type SettlementVenue interface {
	// ExerciseValue returns the collateral paid per contract of the given
	// position claim once its option matured. The flag is false as long as
	// the venue has not published the value.
	ExerciseValue(ctx context.Context,
		claimID account.AssetID) (fixedpoint.Fixed, bool, error)

	// CashSettle converts all of the holder's position claims of the given
	// identifier into collateral at their published exercise value. It
	// returns the collateral credited.
	CashSettle(ctx context.Context, holder account.Address,
		claimID account.AssetID) (fixedpoint.Fixed, error)
}

// AuctioneerConfig contains all the interfaces the auctioneer needs to carry
// out its duties.
type AuctioneerConfig struct {
	// Store is the primary database of the auctioneer.
	Store auctiondb.Store

	// Ledger holds the escrow's collateral and position claims.
	Ledger Ledger

	// Vault is the vault whose options are auctioned.
	Vault Vault

	// Venue is used to cash settle matured options.
	Venue SettlementVenue

	// Clock is the source of the current time.
	Clock clock.Clock

	// Escrow is the ledger address of the auction itself. Prepaid costs
	// are pulled into it and withdrawals are paid out of it.
	Escrow account.Address

	// MinOrderSize is the smallest number of contracts an order can ask
	// for.
	MinOrderSize fixedpoint.Fixed
}

// Auctioneer runs the batch auctions of all epochs. Every operation is
// serialized by the auctioneer's mutex and either applies all its effects or
// none: state changes are made in memory and persisted first, the ledger
// transfers of the operation are executed last and a failing transfer batch
// reverts the persisted changes.
type Auctioneer struct {
	cfg AuctioneerConfig

	// callMarket clears an epoch's book at a uniform price.
	callMarket *matching.UniformPriceCallMarket

	// withdrawals turns settlements into payouts from the escrow.
	withdrawals *venue.WithdrawalProcessor

	// ntfnServer publishes AuctionEvents to all subscribers.
	ntfnServer *subscribe.Server

	// epochs is the table of all initialized epochs. Entries are never
	// removed.
	epochs map[auction.Epoch]*epochState

	startOnce sync.Once
	stopOnce  sync.Once

	// quit is closed once the auctioneer was told to stop. No state
	// change is committed after that.
	quit chan struct{}

	sync.Mutex
}

// NewAuctioneer returns a new instance of the auctioneer given a fully
// populated config struct.
func NewAuctioneer(cfg AuctioneerConfig) *Auctioneer {
	return &Auctioneer{
		cfg: cfg,
		callMarket: matching.NewUniformPriceCallMarket(
			&matching.LastAcceptedBid{},
		),
		withdrawals: venue.NewWithdrawalProcessor(cfg.Escrow),
		ntfnServer:  subscribe.NewServer(),
		epochs:      make(map[auction.Epoch]*epochState),
		quit:        make(chan struct{}),
	}
}

// Start launches the notification server and restores the state of all
// epochs from the store.
func (a *Auctioneer) Start(ctx context.Context) error {
	var startErr error

	a.startOnce.Do(func() {
		log.Infof("Starting Auctioneer")

		if err := a.ntfnServer.Start(); err != nil {
			startErr = err
			return
		}

		if err := a.restore(ctx); err != nil {
			startErr = fmt.Errorf("unable to restore auctions: %w",
				err)
			return
		}
	})

	return startErr
}

// Stop halts the notification server. All subscriptions are closed.
func (a *Auctioneer) Stop() error {
	var stopErr error

	a.stopOnce.Do(func() {
		log.Infof("Stopping Auctioneer")

		close(a.quit)
		stopErr = a.ntfnServer.Stop()
	})

	return stopErr
}

// restore rebuilds the epoch table and all books from the store.
func (a *Auctioneer) restore(ctx context.Context) error {
	a.Lock()
	defer a.Unlock()

	records, err := a.cfg.Store.Auctions(ctx)
	if err != nil {
		return err
	}

	var numOrders int
	for _, rec := range records {
		orders, err := a.cfg.Store.Orders(ctx, rec.Epoch)
		if err != nil {
			return fmt.Errorf("unable to fetch orders of epoch "+
				"%d: %w", rec.Epoch, err)
		}

		book := order.NewBook(rec.Epoch, order.ID(rec.LastOrderID))
		for _, o := range orders {
			if err := book.Insert(o); err != nil {
				return fmt.Errorf("unable to restore order %d "+
					"of epoch %d: %w", o.ID, rec.Epoch,
					err)
			}
		}

		a.epochs[rec.Epoch] = &epochState{
			rec:  rec,
			book: book,
		}
		numOrders += len(orders)

		log.Debugf("Restored auction: %v", spew.Sdump(rec))
	}

	log.Infof("Restored %d auctions with %d orders", len(records),
		numOrders)

	return nil
}

// Subscribe returns a new subscription to all AuctionEvents.
func (a *Auctioneer) Subscribe() (*subscribe.Client, error) {
	return a.ntfnServer.Subscribe()
}

// publish sends the event to all subscribers.
func (a *Auctioneer) publish(event AuctionEvent) {
	if err := a.ntfnServer.SendUpdate(event); err != nil {
		log.Errorf("Unable to send %v event of epoch %d: %v",
			event.Type(), event.AuctionEpoch(), err)
	}
}

// epoch returns the state of an initialized epoch.
//
// NOTE: The caller must hold the auctioneer's mutex.
func (a *Auctioneer) epoch(epoch auction.Epoch) (*epochState, error) {
	st, ok := a.epochs[epoch]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownEpoch, epoch)
	}

	return st, nil
}

// checkVault makes sure the caller of a vault only operation is the vault.
func (a *Auctioneer) checkVault(caller account.Address) error {
	if caller.IsZero() || caller != a.cfg.Vault.Address() {
		return fmt.Errorf("%w: %v", ErrNotVault, caller)
	}

	return nil
}

// commit persists the effects of txn. If that fails, or the auctioneer is
// shutting down, the effects are undone in memory.
func (a *Auctioneer) commit(ctx context.Context, txn *epochTxn) error {
	select {
	case <-a.quit:
		txn.revert()
		return ErrServerShuttingDown
	default:
	}

	if err := txn.commit(ctx, a.cfg.Store); err != nil {
		txn.revert()
		return fmt.Errorf("unable to store epoch %d: %w",
			txn.st.rec.Epoch, err)
	}

	return nil
}

// execute runs the transfers of an operation whose effects were already
// committed. If the transfers fail, the committed effects are rolled back.
func (a *Auctioneer) execute(ctx context.Context, txn *epochTxn,
	transfers []account.Transfer) error {

	if len(transfers) == 0 {
		return nil
	}

	err := a.cfg.Ledger.Execute(ctx, transfers)
	if err == nil {
		return nil
	}

	log.Warnf("Transfers of epoch %d failed, rolling back: %v",
		txn.st.rec.Epoch, err)

	a.rollback(ctx, txn)

	return err
}

// rollback undoes the already committed effects of txn after a later step of
// the operation failed.
func (a *Auctioneer) rollback(ctx context.Context, txn *epochTxn) {
	// The rollback must reach the store even if the step failed because
	// the caller's context was cancelled.
	err := txn.rollback(context.WithoutCancel(ctx), a.cfg.Store)
	if err != nil {
		log.Criticalf("Unable to roll back epoch %d, store and memory "+
			"diverged: %v", txn.st.rec.Epoch, err)
	}
}

// Initialize creates the auction of a new epoch. Only the vault may
// initialize auctions.
func (a *Auctioneer) Initialize(ctx context.Context, caller account.Address,
	epoch auction.Epoch, strike fixedpoint.Fixed, claimID account.AssetID,
	start, end time.Time) (*auction.Record, error) {

	a.Lock()
	defer a.Unlock()

	if err := a.checkVault(caller); err != nil {
		return nil, err
	}
	if _, ok := a.epochs[epoch]; ok {
		return nil, fmt.Errorf("%w: epoch %d",
			auction.ErrAlreadyInitialized, epoch)
	}
	if claimID == "" || claimID.IsCollateral() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidClaimID, claimID)
	}

	rec, err := auction.NewRecord(epoch, strike, claimID, start, end)
	if err != nil {
		return nil, err
	}

	if err := a.cfg.Store.PersistEpoch(ctx, rec.Copy(), nil, nil); err != nil {
		return nil, fmt.Errorf("unable to store auction: %w", err)
	}

	a.epochs[epoch] = &epochState{
		rec:  rec,
		book: order.NewBook(epoch, 0),
	}

	log.Infof("Initialized auction of epoch %d: window=[%v, %v), "+
		"strike=%v, claim=%v", epoch, start, end, strike, claimID)

	a.publish(&StatusChangedEvent{
		Epoch:  epoch,
		Status: rec.Status,
	})

	return rec.Copy(), nil
}

// SetAuctionPrices sets the price curve of an auction. Only the vault may set
// prices. Prices that don't form a valid descending curve cancel the auction,
// in which case true is returned.
func (a *Auctioneer) SetAuctionPrices(ctx context.Context,
	caller account.Address, epoch auction.Epoch,
	maxPrice, minPrice fixedpoint.Fixed) (bool, error) {

	a.Lock()
	defer a.Unlock()

	if err := a.checkVault(caller); err != nil {
		return false, err
	}
	st, err := a.epoch(epoch)
	if err != nil {
		return false, err
	}

	txn := newEpochTxn(st)
	cancelled, err := st.rec.SetPrices(maxPrice, minPrice)
	if err != nil {
		return false, err
	}
	if err := a.commit(ctx, txn); err != nil {
		return false, err
	}

	if !cancelled {
		log.Infof("Set prices of epoch %d: max=%v, min=%v", epoch,
			maxPrice, minPrice)

		return false, nil
	}

	log.Warnf("Invalid prices max=%v, min=%v cancelled auction of "+
		"epoch %d, %d orders will be refunded", maxPrice, minPrice,
		epoch, st.book.Len())

	a.publish(&StatusChangedEvent{
		Epoch:  epoch,
		Status: st.rec.Status,
	})

	return true, nil
}

// AddLimitOrder submits an order for size contracts at up to price per
// contract. The order's cost is pulled from the buyer into the escrow.
func (a *Auctioneer) AddLimitOrder(ctx context.Context, epoch auction.Epoch,
	buyer account.Address, price,
	size fixedpoint.Fixed) (*order.Order, error) {

	return a.addOrder(ctx, epoch, buyer, price, size, order.OriginLimit)
}

// AddMarketOrder submits an order for size contracts at the current price of
// the auction's price curve. The order's cost is pulled from the buyer into
// the escrow.
func (a *Auctioneer) AddMarketOrder(ctx context.Context, epoch auction.Epoch,
	buyer account.Address, size fixedpoint.Fixed) (*order.Order, error) {

	return a.addOrder(ctx, epoch, buyer, 0, size, order.OriginMarket)
}

// addOrder validates and inserts a new order into an epoch's book. Market
// orders ignore the given price and use the curve price instead.
func (a *Auctioneer) addOrder(ctx context.Context, epoch auction.Epoch,
	buyer account.Address, price, size fixedpoint.Fixed,
	origin order.Origin) (*order.Order, error) {

	a.Lock()
	defer a.Unlock()

	st, err := a.epoch(epoch)
	if err != nil {
		return nil, err
	}

	switch {
	case !size.IsPositive() || size < a.cfg.MinOrderSize:
		return nil, fmt.Errorf("%w: size %v, minimum %v",
			order.ErrOrderTooSmall, size, a.cfg.MinOrderSize)

	case origin == order.OriginLimit && !price.IsPositive():
		return nil, fmt.Errorf("%w: %v", order.ErrInvalidPrice, price)
	}

	now := a.cfg.Clock.Now()
	if err := st.rec.CheckOpen(now); err != nil {
		return nil, err
	}

	// Market orders are priced by the curve. The first one also takes the
	// capacity snapshot of the auction, so an auction that only ever sees
	// limit orders has no capacity and sells nothing.
	var capacity fixedpoint.Fixed
	if origin == order.OriginMarket {
		price, err = st.rec.CurvePrice(now)
		if err != nil {
			return nil, err
		}

		if !st.rec.CapacitySet() {
			capacity, err = a.cfg.Vault.AvailableCapacity(ctx, epoch)
			if err != nil {
				return nil, fmt.Errorf("unable to query vault "+
					"capacity: %w", err)
			}
		}
	}

	txn := newEpochTxn(st)
	if capacity.IsPositive() {
		if err := st.rec.SetCapacity(capacity); err != nil {
			return nil, err
		}
	}

	o, err := order.New(
		st.book.NextID(), epoch, buyer, price, size, origin, now,
	)
	if err != nil {
		txn.revert()
		return nil, err
	}
	if err := txn.insert(o); err != nil {
		txn.revert()
		return nil, err
	}

	if err := a.commit(ctx, txn); err != nil {
		return nil, err
	}

	err = a.execute(ctx, txn, []account.Transfer{{
		Asset:  account.CollateralAsset,
		From:   buyer,
		To:     a.cfg.Escrow,
		Amount: o.Cost,
	}})
	if err != nil {
		return nil, fmt.Errorf("unable to pull order cost: %w", err)
	}

	log.Infof("Accepted %v", o)

	a.publish(&OrderAddedEvent{
		Epoch:  epoch,
		ID:     o.ID,
		Buyer:  o.Buyer,
		Price:  o.Price,
		Size:   o.Size,
		Origin: o.Origin,
	})

	return o.Copy(), nil
}

// CancelLimitOrder removes an order of the buyer from the book and refunds its
// full cost. Once the auction is settled, only orders that didn't receive a
// fill can be cancelled.
func (a *Auctioneer) CancelLimitOrder(ctx context.Context,
	epoch auction.Epoch, buyer account.Address,
	id order.ID) (*order.Order, error) {

	if id == 0 {
		return nil, order.ErrInvalidOrderID
	}

	a.Lock()
	defer a.Unlock()

	st, err := a.epoch(epoch)
	if err != nil {
		return nil, err
	}

	o, ok := st.book.Get(id)
	if !ok {
		return nil, fmt.Errorf("%w: %d", order.ErrOrderNotFound, id)
	}
	if o.Buyer != buyer {
		return nil, fmt.Errorf("%w: order %d", order.ErrNotOrderOwner, id)
	}

	if st.rec.Status.Settled() {
		s, err := matching.Settle(st.rec, o)
		if err != nil {
			return nil, err
		}
		if s.Fill.IsPositive() {
			return nil, fmt.Errorf("%w: order %d filled %v",
				order.ErrOrderMatched, id, s.Fill)
		}
	}

	txn := newEpochTxn(st)
	if _, err := txn.remove(id); err != nil {
		return nil, err
	}
	if err := a.commit(ctx, txn); err != nil {
		return nil, err
	}

	err = a.execute(ctx, txn, []account.Transfer{{
		Asset:  account.CollateralAsset,
		From:   a.cfg.Escrow,
		To:     buyer,
		Amount: o.Cost,
	}})
	if err != nil {
		return nil, fmt.Errorf("unable to refund order: %w", err)
	}

	log.Infof("Cancelled %v, refunded %v", o, o.Cost)

	a.publish(&OrderRemovedEvent{
		Epoch: epoch,
		ID:    id,
		Buyer: buyer,
	})

	return o.Copy(), nil
}

// match clears the epoch's book against its capacity and records the result.
func (a *Auctioneer) match(st *epochState) error {
	res, err := a.callMarket.MaybeClear(st.book, st.rec.TotalContracts)
	switch {
	case errors.Is(err, matching.ErrNoMarketPossible):
		return st.rec.RecordMatch(st.rec.ClearingPrice, 0, 0, 0)

	case err != nil:
		return err
	}

	return st.rec.RecordMatch(
		res.ClearingPrice, res.Sold, uint64(res.BoundaryOrder),
		res.BoundaryFill,
	)
}

// ProcessOrders runs matching on an open auction and records the clearing
// result. It returns true if the whole capacity was sold. Once the auction is
// settled the recorded result is returned unchanged.
func (a *Auctioneer) ProcessOrders(ctx context.Context,
	epoch auction.Epoch) (bool, error) {

	a.Lock()
	defer a.Unlock()

	st, err := a.epoch(epoch)
	if err != nil {
		return false, err
	}
	if st.rec.Status.Settled() {
		return st.rec.Utilized(), nil
	}

	txn := newEpochTxn(st)
	if err := a.match(st); err != nil {
		txn.revert()
		return false, fmt.Errorf("unable to match epoch %d: %w",
			epoch, err)
	}

	if txn.changed() {
		if err := a.commit(ctx, txn); err != nil {
			return false, err
		}

		log.Debugf("Matched epoch %d: clearing_price=%v, sold=%v of %v",
			epoch, st.rec.ClearingPrice, st.rec.TotalContractsSold,
			st.rec.TotalContracts)
	}

	return st.rec.Utilized(), nil
}

// FinalizeAuction runs matching and freezes the result if the whole capacity
// is sold or the auction window elapsed. It returns true if the auction was
// finalized by this call.
func (a *Auctioneer) FinalizeAuction(ctx context.Context,
	epoch auction.Epoch) (bool, error) {

	a.Lock()
	defer a.Unlock()

	st, err := a.epoch(epoch)
	if err != nil {
		return false, err
	}
	if st.rec.Status != auction.StatusInitialized {
		return false, nil
	}

	txn := newEpochTxn(st)
	if err := a.match(st); err != nil {
		txn.revert()
		return false, fmt.Errorf("unable to match epoch %d: %w",
			epoch, err)
	}

	now := a.cfg.Clock.Now()
	if !st.rec.Utilized() && !st.rec.Expired(now) {
		if txn.changed() {
			if err := a.commit(ctx, txn); err != nil {
				return false, err
			}
		}

		return false, nil
	}

	if err := st.rec.Finalize(); err != nil {
		txn.revert()
		return false, err
	}
	if err := a.commit(ctx, txn); err != nil {
		return false, err
	}

	log.Infof("Finalized auction of epoch %d: clearing_price=%v, "+
		"sold=%v of %v, utilized=%v", epoch, st.rec.ClearingPrice,
		st.rec.TotalContractsSold, st.rec.TotalContracts,
		st.rec.Utilized())

	a.publish(&StatusChangedEvent{
		Epoch:  epoch,
		Status: st.rec.Status,
	})

	return true, nil
}

// TransferPremium sweeps the premium of a finalized auction from the escrow to
// the vault's premium recipient and returns the amount swept.
func (a *Auctioneer) TransferPremium(ctx context.Context,
	epoch auction.Epoch) (fixedpoint.Fixed, error) {

	a.Lock()
	defer a.Unlock()

	st, err := a.epoch(epoch)
	if err != nil {
		return 0, err
	}

	switch {
	case st.rec.Status != auction.StatusFinalized:
		return 0, fmt.Errorf("%w: status is %v",
			auction.ErrNotFinalized, st.rec.Status)

	case st.rec.PremiumTransferred:
		return 0, auction.ErrAlreadyTransferred
	}

	recipient, err := a.cfg.Vault.PremiumRecipient(ctx)
	if err != nil {
		return 0, fmt.Errorf("unable to query premium recipient: %w",
			err)
	}

	txn := newEpochTxn(st)
	premium, err := st.rec.MarkPremiumTransferred()
	if err != nil {
		txn.revert()
		return 0, err
	}
	if err := a.commit(ctx, txn); err != nil {
		return 0, err
	}

	err = a.execute(ctx, txn, []account.Transfer{{
		Asset:  account.CollateralAsset,
		From:   a.cfg.Escrow,
		To:     recipient,
		Amount: premium,
	}})
	if err != nil {
		return 0, fmt.Errorf("unable to sweep premium: %w", err)
	}

	log.Infof("Swept premium %v of epoch %d to %v", premium, epoch,
		recipient)

	return premium, nil
}

// ProcessAuction moves a finalized auction to its final state once the premium
// was swept and the vault delivered the sold position claims to the escrow.
// Only the vault may process auctions.
func (a *Auctioneer) ProcessAuction(ctx context.Context,
	caller account.Address, epoch auction.Epoch) error {

	a.Lock()
	defer a.Unlock()

	if err := a.checkVault(caller); err != nil {
		return err
	}
	st, err := a.epoch(epoch)
	if err != nil {
		return err
	}
	if st.rec.Status != auction.StatusFinalized {
		return fmt.Errorf("%w: status is %v", auction.ErrNotFinalized,
			st.rec.Status)
	}

	var claimsHeld fixedpoint.Fixed
	if st.rec.TotalContractsSold.IsPositive() {
		claimsHeld, err = a.cfg.Ledger.ClaimBalance(
			ctx, a.cfg.Escrow, st.rec.ClaimID,
		)
		if err != nil {
			return fmt.Errorf("unable to query escrow claims: %w",
				err)
		}
	}

	txn := newEpochTxn(st)
	if err := st.rec.Process(claimsHeld); err != nil {
		txn.revert()
		return err
	}
	if err := a.commit(ctx, txn); err != nil {
		return err
	}

	log.Infof("Processed auction of epoch %d", epoch)

	a.publish(&StatusChangedEvent{
		Epoch:  epoch,
		Status: st.rec.Status,
	})

	return nil
}

// prepareWithdrawal computes the withdrawal of all the buyer's orders of the
// epoch. The returned flag is true if the escrow's claims still need to be
// cash settled at the withdrawal's exercise value before it can be paid.
//
// NOTE: The caller must hold the auctioneer's mutex.
func (a *Auctioneer) prepareWithdrawal(ctx context.Context, st *epochState,
	buyer account.Address) (*venue.Withdrawal, bool, error) {

	rec := st.rec
	if !rec.Status.Withdrawable() {
		return nil, false, fmt.Errorf("%w: status is %v",
			auction.ErrNotSettled, rec.Status)
	}

	var (
		matured       bool
		published     bool
		exerciseValue fixedpoint.Fixed
	)
	if rec.Status == auction.StatusProcessed &&
		rec.TotalContractsSold.IsPositive() {

		expiry, err := a.cfg.Vault.OptionExpiry(ctx, rec.Epoch)
		if err != nil {
			return nil, false, fmt.Errorf("unable to query option "+
				"expiry: %w", err)
		}
		matured = !a.cfg.Clock.Now().Before(expiry)

		switch {
		// Once the escrow was settled, fills are only ever paid at
		// the value its claims were converted at.
		case matured && rec.CashSettled:
			exerciseValue, published = rec.ExerciseValue, true

		case matured:
			exerciseValue, published, err = a.cfg.Venue.ExerciseValue(
				ctx, rec.ClaimID,
			)
			if err != nil {
				return nil, false, fmt.Errorf("unable to query "+
					"exercise value: %w", err)
			}
		}
	}

	w, err := a.withdrawals.Prepare(
		rec, buyer, copyOrders(st.book.OrdersOf(buyer)), matured,
		exerciseValue,
	)
	if err != nil {
		return nil, false, err
	}

	// Refunds don't depend on the exercise value, fills do.
	if matured && !published && w.Fill.IsPositive() {
		return nil, false, fmt.Errorf("%w: claim %v of epoch %d",
			auction.ErrExerciseValueUnknown, rec.ClaimID, rec.Epoch)
	}

	settle := matured && !rec.CashSettled && w.Fill.IsPositive()

	return w, settle, nil
}

// cashSettleEscrow converts the position claims of the epoch still held by the
// escrow into collateral and records the exercise value they were converted
// at. The conversion can't be undone, so it is persisted as a step of its own
// and only rolled back if the venue refused it.
//
// NOTE: The caller must hold the auctioneer's mutex.
func (a *Auctioneer) cashSettleEscrow(ctx context.Context, st *epochState,
	value fixedpoint.Fixed) error {

	txn := newEpochTxn(st)
	if err := st.rec.MarkCashSettled(value); err != nil {
		txn.revert()
		return err
	}
	if err := a.commit(ctx, txn); err != nil {
		return err
	}

	held, err := a.cfg.Ledger.ClaimBalance(ctx, a.cfg.Escrow, st.rec.ClaimID)
	if err != nil {
		a.rollback(ctx, txn)
		return fmt.Errorf("unable to query escrow claims: %w", err)
	}
	if !held.IsPositive() {
		return nil
	}

	paid, err := a.cfg.Venue.CashSettle(ctx, a.cfg.Escrow, st.rec.ClaimID)
	if err != nil {
		a.rollback(ctx, txn)
		return err
	}

	expected, err := fixedpoint.MulFloor(held, value)
	if err == nil && paid < expected {
		log.Errorf("Venue credited %v for %v claims of epoch %d, "+
			"expected %v at %v", paid, held, st.rec.Epoch,
			expected, value)
	}

	log.Infof("Cash settled %v claims of epoch %d held by the escrow at "+
		"%v for %v", held, st.rec.Epoch, value, paid)

	return nil
}

// Withdraw pays out the fills and refunds of all the buyer's orders of a
// processed or cancelled auction and removes the orders from the book. A
// buyer without orders receives an empty withdrawal.
func (a *Auctioneer) Withdraw(ctx context.Context, epoch auction.Epoch,
	buyer account.Address) (*venue.Withdrawal, error) {

	a.Lock()
	defer a.Unlock()

	st, err := a.epoch(epoch)
	if err != nil {
		return nil, err
	}

	w, settle, err := a.prepareWithdrawal(ctx, st, buyer)
	if err != nil {
		return nil, err
	}
	if w.IsEmpty() {
		return w, nil
	}

	// The escrow's claims are converted once, on the first withdrawal of
	// fills after maturity. Later withdrawals are paid out of the settled
	// collateral at the recorded value.
	if settle {
		err := a.cashSettleEscrow(ctx, st, w.ExerciseValue)
		if err != nil {
			return nil, fmt.Errorf("unable to cash settle "+
				"escrow: %w", err)
		}
	}

	txn := newEpochTxn(st)
	for _, id := range w.OrderIDs() {
		if _, err := txn.remove(id); err != nil {
			txn.revert()
			return nil, err
		}
	}
	if err := a.commit(ctx, txn); err != nil {
		return nil, err
	}

	if err := a.execute(ctx, txn, w.Transfers); err != nil {
		return nil, fmt.Errorf("unable to pay withdrawal: %w", err)
	}

	log.Infof("Buyer %v withdrew %d orders of epoch %d: mode=%v, fill=%v, "+
		"refund=%v, cash=%v", buyer, len(w.Settlements), epoch, w.Mode,
		w.Fill, w.Refund, w.CashValue)

	for _, id := range w.OrderIDs() {
		a.publish(&OrderRemovedEvent{
			Epoch:     epoch,
			ID:        id,
			Buyer:     buyer,
			Withdrawn: true,
		})
	}

	return w, nil
}

// PreviewWithdraw computes what Withdraw would pay out right now without
// changing any state.
func (a *Auctioneer) PreviewWithdraw(ctx context.Context, epoch auction.Epoch,
	buyer account.Address) (*venue.Withdrawal, error) {

	a.Lock()
	defer a.Unlock()

	st, err := a.epoch(epoch)
	if err != nil {
		return nil, err
	}

	w, _, err := a.prepareWithdrawal(ctx, st, buyer)
	return w, err
}

// Auction returns a copy of the auction record of the epoch.
func (a *Auctioneer) Auction(epoch auction.Epoch) (*auction.Record, error) {
	a.Lock()
	defer a.Unlock()

	st, err := a.epoch(epoch)
	if err != nil {
		return nil, err
	}

	return st.rec.Copy(), nil
}

// Auctions returns copies of the auction records of all epochs, ordered by
// epoch.
func (a *Auctioneer) Auctions() []*auction.Record {
	a.Lock()
	defer a.Unlock()

	records := make([]*auction.Record, 0, len(a.epochs))
	for _, st := range a.epochs {
		records = append(records, st.rec.Copy())
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].Epoch < records[j].Epoch
	})

	return records
}

// Epochs returns all initialized epochs in ascending order.
func (a *Auctioneer) Epochs() []auction.Epoch {
	a.Lock()
	defer a.Unlock()

	epochs := make([]auction.Epoch, 0, len(a.epochs))
	for epoch := range a.epochs {
		epochs = append(epochs, epoch)
	}
	sort.Slice(epochs, func(i, j int) bool {
		return epochs[i] < epochs[j]
	})

	return epochs
}

// Order returns a copy of an order in the epoch's book. If the order doesn't
// exist, the zero order is returned together with ErrOrderNotFound.
func (a *Auctioneer) Order(epoch auction.Epoch, id order.ID) (*order.Order,
	error) {

	a.Lock()
	defer a.Unlock()

	st, err := a.epoch(epoch)
	if err != nil {
		return &order.Order{}, err
	}

	o, ok := st.book.Get(id)
	if !ok {
		return &order.Order{}, fmt.Errorf("%w: %d",
			order.ErrOrderNotFound, id)
	}

	return o.Copy(), nil
}

// Orders returns copies of all orders in the epoch's book in priority order.
func (a *Auctioneer) Orders(epoch auction.Epoch) ([]*order.Order, error) {
	a.Lock()
	defer a.Unlock()

	st, err := a.epoch(epoch)
	if err != nil {
		return nil, err
	}

	return copyOrders(st.book.Orders()), nil
}

// OrdersOf returns copies of the buyer's orders in the epoch's book in
// priority order.
func (a *Auctioneer) OrdersOf(epoch auction.Epoch,
	buyer account.Address) ([]*order.Order, error) {

	a.Lock()
	defer a.Unlock()

	st, err := a.epoch(epoch)
	if err != nil {
		return nil, err
	}

	return copyOrders(st.book.OrdersOf(buyer)), nil
}

// Settlements returns the current settlement of every order in the epoch's
// book.
func (a *Auctioneer) Settlements(
	epoch auction.Epoch) ([]*matching.Settlement, error) {

	a.Lock()
	defer a.Unlock()

	st, err := a.epoch(epoch)
	if err != nil {
		return nil, err
	}

	return matching.SettleAll(st.rec, copyOrders(st.book.Orders()))
}

// Status returns the status of the epoch's auction.
func (a *Auctioneer) Status(epoch auction.Epoch) (auction.Status, error) {
	rec, err := a.Auction(epoch)
	if err != nil {
		return 0, err
	}

	return rec.Status, nil
}

// ClearingPrice returns the clearing price last recorded for the epoch.
func (a *Auctioneer) ClearingPrice(epoch auction.Epoch) (fixedpoint.Fixed,
	error) {

	rec, err := a.Auction(epoch)
	if err != nil {
		return 0, err
	}

	return rec.ClearingPrice, nil
}

// CurrentPrice returns the price a market order submitted to the epoch's
// auction right now would be charged.
func (a *Auctioneer) CurrentPrice(epoch auction.Epoch) (fixedpoint.Fixed,
	error) {

	rec, err := a.Auction(epoch)
	if err != nil {
		return 0, err
	}

	return rec.CurvePrice(a.cfg.Clock.Now())
}

// TotalContracts returns the capacity of the epoch's auction.
func (a *Auctioneer) TotalContracts(epoch auction.Epoch) (fixedpoint.Fixed,
	error) {

	rec, err := a.Auction(epoch)
	if err != nil {
		return 0, err
	}

	return rec.TotalContracts, nil
}

// TotalContractsSold returns the number of contracts sold by the last matching
// run of the epoch.
func (a *Auctioneer) TotalContractsSold(
	epoch auction.Epoch) (fixedpoint.Fixed, error) {

	rec, err := a.Auction(epoch)
	if err != nil {
		return 0, err
	}

	return rec.TotalContractsSold, nil
}

// MinOrderSize returns the smallest size an order may have.
func (a *Auctioneer) MinOrderSize() fixedpoint.Fixed {
	return a.cfg.MinOrderSize
}

// Escrow returns the ledger address of the auction escrow.
func (a *Auctioneer) Escrow() account.Address {
	return a.cfg.Escrow
}

// OpenEpochs returns the epochs whose auctions are still initialized, in
// ascending order.
func (a *Auctioneer) OpenEpochs() []auction.Epoch {
	a.Lock()
	defer a.Unlock()

	var epochs []auction.Epoch
	for epoch, st := range a.epochs {
		if st.rec.Status == auction.StatusInitialized {
			epochs = append(epochs, epoch)
		}
	}
	sort.Slice(epochs, func(i, j int) bool {
		return epochs[i] < epochs[j]
	})

	return epochs
}
