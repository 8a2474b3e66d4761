package auctiondb

import (
	"context"
	"fmt"

	"github.com/optionvault/vendue/auction"
	"github.com/optionvault/vendue/order"
)

// Store is the main interface for vendue. It is responsible for storing and
// retrieving the auction records and order books of all epochs.
type Store interface {
	// Init initializes the necessary versioning state if the database
	// hasn't already been created in the past.
	Init(ctx context.Context) error

	// Auctions returns the auction records of all epochs, ordered by
	// epoch.
	Auctions(ctx context.Context) ([]*auction.Record, error)

	// Orders returns all orders currently in the book of the given epoch.
	Orders(ctx context.Context, epoch auction.Epoch) ([]*order.Order,
		error)

	// PersistEpoch atomically stores the auction record of an epoch,
	// inserts or updates the given orders and removes the orders with the
	// given IDs from the epoch's book. If any single operation fails, the
	// whole set of changes is rolled back.
	PersistEpoch(ctx context.Context, rec *auction.Record,
		upserts []*order.Order, removals []order.ID) error

	// Close releases all resources held by the store.
	Close() error
}

// Compile time checks to make sure all backends implement the Store
// interface.
var (
	_ Store = (*EtcdStore)(nil)
	_ Store = (*SQLStore)(nil)
	_ Store = (*BoltStore)(nil)
	_ Store = (*MemStore)(nil)
)

// checkEpoch makes sure all upserted orders belong to the epoch of the
// record they are persisted with.
func checkEpoch(rec *auction.Record, upserts []*order.Order) error {
	for _, o := range upserts {
		if o.Epoch != rec.Epoch {
			return fmt.Errorf("order %d of epoch %d persisted with "+
				"epoch %d", o.ID, o.Epoch, rec.Epoch)
		}
	}

	return nil
}
