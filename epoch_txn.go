package vendue

import (
	"context"

	"github.com/optionvault/vendue/auction"
	"github.com/optionvault/vendue/auctiondb"
	"github.com/optionvault/vendue/order"
)

// epochState is the in-memory state of a single epoch: its auction record and
// its order book.
type epochState struct {
	rec  *auction.Record
	book *order.Book
}

// epochTxn records the effects an operation applies to one epoch so they can
// be persisted together and undone if a later step of the operation fails.
// The record may be mutated directly, the book only through insert and
// remove.
type epochTxn struct {
	st *epochState

	prevRec    *auction.Record
	prevLastID order.ID

	added   []*order.Order
	removed []*order.Order
}

// newEpochTxn starts tracking the effects on the given epoch.
func newEpochTxn(st *epochState) *epochTxn {
	return &epochTxn{
		st:         st,
		prevRec:    st.rec.Copy(),
		prevLastID: st.book.LastID(),
	}
}

// insert adds an order to the book and hands its ID out for good.
func (t *epochTxn) insert(o *order.Order) error {
	if err := t.st.book.Insert(o); err != nil {
		return err
	}

	t.st.rec.LastOrderID = uint64(t.st.book.LastID())
	t.added = append(t.added, o)

	return nil
}

// remove takes an order out of the book and its buyer's claim set.
func (t *epochTxn) remove(id order.ID) (*order.Order, error) {
	o, err := t.st.book.Remove(id)
	if err != nil {
		return nil, err
	}

	t.removed = append(t.removed, o)
	return o, nil
}

// changed returns true if any effect was applied.
func (t *epochTxn) changed() bool {
	return len(t.added) > 0 || len(t.removed) > 0 ||
		*t.st.rec != *t.prevRec
}

// commit persists the current state of the epoch.
func (t *epochTxn) commit(ctx context.Context, store auctiondb.Store) error {
	return store.PersistEpoch(
		ctx, t.st.rec.Copy(), copyOrders(t.added), orderIDs(t.removed),
	)
}

// revert undoes all in-memory effects in reverse order.
func (t *epochTxn) revert() {
	for i := len(t.added) - 1; i >= 0; i-- {
		_, _ = t.st.book.Remove(t.added[i].ID)
	}
	for i := len(t.removed) - 1; i >= 0; i-- {
		if err := t.st.book.Insert(t.removed[i]); err != nil {
			log.Errorf("Unable to restore order %d of epoch %d: %v",
				t.removed[i].ID, t.st.rec.Epoch, err)
		}
	}

	t.st.book.Rewind(t.prevLastID)
	*t.st.rec = *t.prevRec

	t.added = nil
	t.removed = nil
}

// rollback undoes all effects of an already committed transaction, both in
// memory and in the store.
func (t *epochTxn) rollback(ctx context.Context, store auctiondb.Store) error {
	restore := copyOrders(t.removed)
	drop := orderIDs(t.added)

	t.revert()

	return store.PersistEpoch(ctx, t.st.rec.Copy(), restore, drop)
}

// copyOrders returns deep copies of the given orders.
func copyOrders(orders []*order.Order) []*order.Order {
	if len(orders) == 0 {
		return nil
	}

	copies := make([]*order.Order, 0, len(orders))
	for _, o := range orders {
		copies = append(copies, o.Copy())
	}

	return copies
}

// orderIDs returns the IDs of the given orders.
func orderIDs(orders []*order.Order) []order.ID {
	if len(orders) == 0 {
		return nil
	}

	ids := make([]order.ID, 0, len(orders))
	for _, o := range orders {
		ids = append(ids, o.ID)
	}

	return ids
}
