package vendue

import (
	"context"
	"sync"
	"time"

	"github.com/lightningnetwork/lnd/subscribe"
	"github.com/optionvault/vendue/auction"
)

// keeperTimeout bounds a single maintenance run of the keeper.
const keeperTimeout = 30 * time.Second

// KeeperConfig contains everything the keeper needs to maintain the open
// auctions.
type KeeperConfig struct {
	// Auctioneer is the engine whose open auctions are maintained.
	Auctioneer *Auctioneer

	// Ticker fires each time the keeper should try to finalize all open
	// auctions. Forced ticks let the admin trigger a run at will.
	Ticker *IntervalAwareForceTicker
}

// Keeper calls the permissionless engine operations nobody else might call in
// time. On every tick it tries to finalize all open auctions, and every time
// the book of an open auction changes it refreshes the recorded matching
// result.
type Keeper struct {
	cfg KeeperConfig

	started sync.Once
	stopped sync.Once

	wg   sync.WaitGroup
	quit chan struct{}
}

// NewKeeper creates a new keeper.
func NewKeeper(cfg KeeperConfig) *Keeper {
	return &Keeper{
		cfg:  cfg,
		quit: make(chan struct{}),
	}
}

// Start subscribes to the auction events and launches the keeper goroutine.
func (k *Keeper) Start() error {
	var startErr error

	k.started.Do(func() {
		log.Infof("Starting keeper, interval=%v",
			k.cfg.Ticker.Interval())

		sub, err := k.cfg.Auctioneer.Subscribe()
		if err != nil {
			startErr = err
			return
		}

		k.cfg.Ticker.Resume()

		k.wg.Add(1)
		go k.run(sub)
	})

	return startErr
}

// Stop halts the keeper and its ticker.
func (k *Keeper) Stop() {
	k.stopped.Do(func() {
		log.Infof("Stopping keeper")

		close(k.quit)
		k.cfg.Ticker.Stop()
		k.wg.Wait()
	})
}

// run is the main loop of the keeper.
func (k *Keeper) run(sub *subscribe.Client) {
	defer k.wg.Done()
	defer sub.Cancel()

	for {
		select {
		case <-k.cfg.Ticker.Ticks():
			k.finalizeOpen()

		case update := <-sub.Updates():
			event, ok := update.(AuctionEvent)
			if !ok {
				continue
			}

			switch event.Type() {
			case EventOrderAdded, EventOrderRemoved:
				k.process(event.AuctionEpoch())
			}

		case <-sub.Quit():
			log.Warnf("Auction event subscription closed, keeper " +
				"exiting")
			return

		case <-k.quit:
			return
		}
	}
}

// finalizeOpen tries to finalize every open auction.
func (k *Keeper) finalizeOpen() {
	ctx, cancel := context.WithTimeout(context.Background(), keeperTimeout)
	defer cancel()

	for _, epoch := range k.cfg.Auctioneer.OpenEpochs() {
		finalized, err := k.cfg.Auctioneer.FinalizeAuction(ctx, epoch)
		if err != nil {
			log.Errorf("Unable to finalize auction of epoch %d: %v",
				epoch, err)
			continue
		}

		if finalized {
			log.Infof("Keeper finalized auction of epoch %d", epoch)
		}
	}
}

// process refreshes the matching result of an open auction.
func (k *Keeper) process(epoch auction.Epoch) {
	ctx, cancel := context.WithTimeout(context.Background(), keeperTimeout)
	defer cancel()

	utilized, err := k.cfg.Auctioneer.ProcessOrders(ctx, epoch)
	if err != nil {
		log.Errorf("Unable to process orders of epoch %d: %v", epoch,
			err)
		return
	}

	log.Tracef("Processed orders of epoch %d, utilized=%v", epoch,
		utilized)
}
